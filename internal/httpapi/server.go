package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/ent0n29/sentio/internal/adhapi"
	"github.com/ent0n29/sentio/internal/avatar"
	"github.com/ent0n29/sentio/internal/config"
	"github.com/ent0n29/sentio/internal/conversation"
	"github.com/ent0n29/sentio/internal/memory"
	"github.com/ent0n29/sentio/internal/observability"
)

// Conversation is the turn surface the API drives.
// *conversation.Orchestrator implements it.
type Conversation interface {
	Chat(ctx context.Context, text string) (conversation.Reply, error)
	Listen(ctx context.Context, audio io.Reader, opts conversation.ASROptions) (conversation.Reply, error)
	SubmitText(text string)
	Abort()
	Agents(ctx context.Context) []string
	DefaultAgent(ctx context.Context) string
	AgentSettings(ctx context.Context, engine string) []adhapi.EngineParam
	Agent() (string, adhapi.Settings)
	SetAgent(engine string, settings adhapi.Settings)
	CurrentConversation() string
	History(ctx context.Context, conversationID string, limit int) ([]memory.Record, error)
	Muted() bool
	SetMute(mute bool)
}

type Playback interface {
	Stop()
	IsPlaying() bool
	Len() int
}

// Renderer is the avatar surface exposed over HTTP. *avatar.Hub implements it.
type Renderer interface {
	avatar.Renderer
	http.Handler
	ChangeBackground(id string) error
	Character() (character, background string)
	Clients() int
}

type Upstream interface {
	Heartbeat(ctx context.Context, wait time.Duration) error
}

type Deps struct {
	Conversation Conversation
	Playback     Playback
	Renderer     Renderer
	Upstream     Upstream
	Metrics      *observability.Metrics
	StoreMode    string
}

type Server struct {
	cfg      config.Config
	conv     Conversation
	playback Playback
	renderer Renderer
	upstream Upstream
	metrics  *observability.Metrics
	store    string
}

func New(cfg config.Config, deps Deps) *Server {
	return &Server{
		cfg:      cfg,
		conv:     deps.Conversation,
		playback: deps.Playback,
		renderer: deps.Renderer,
		upstream: deps.Upstream,
		metrics:  deps.Metrics,
		store:    deps.StoreMode,
	}
}

func (s *Server) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)

	r.Get("/healthz", s.handleHealth)
	r.Get("/readyz", s.handleReady)
	r.Get("/metrics", s.handleMetrics)

	r.Post("/v1/turn/text", s.handleTurnText)
	r.Post("/v1/turn/audio", s.handleTurnAudio)
	r.Post("/v1/turn/abort", s.handleTurnAbort)
	r.Post("/v1/playback/stop", s.handlePlaybackStop)
	r.Get("/v1/playback/status", s.handlePlaybackStatus)

	r.Get("/v1/agents", s.handleListAgents)
	r.Get("/v1/agents/default", s.handleDefaultAgent)
	r.Post("/v1/agents/settings", s.handleAgentSettings)
	r.Get("/v1/agents/current", s.handleCurrentAgent)
	r.Put("/v1/agents/current", s.handleSetAgent)

	r.Get("/v1/avatar/characters", s.handleCharacters)
	r.Get("/v1/avatar/backgrounds", s.handleBackgrounds)
	r.Post("/v1/avatar/character", s.handleChangeCharacter)
	r.Get("/v1/avatar/ws", s.handleAvatarWS)

	r.Get("/v1/chat/history", s.handleChatHistory)
	r.Get("/v1/perf/latency", s.handlePerfLatency)
	r.Delete("/v1/perf/latency", s.handlePerfReset)
	r.Get("/v1/onboarding/status", s.handleOnboardingStatus)
	r.Get("/v1/ui/settings", s.handleUISettings)
	r.Put("/v1/ui/mute", s.handleSetMute)

	return r
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	respondJSON(w, http.StatusOK, map[string]any{
		"status":     "ok",
		"store_mode": s.storeMode(),
	})
}

func (s *Server) handleReady(w http.ResponseWriter, r *http.Request) {
	if s.upstream != nil {
		if err := s.upstream.Heartbeat(r.Context(), s.cfg.HeartbeatWait); err != nil {
			respondJSON(w, http.StatusServiceUnavailable, map[string]any{
				"status": "unavailable",
				"error":  err.Error(),
			})
			return
		}
	}
	respondJSON(w, http.StatusOK, map[string]any{
		"status":     "ready",
		"store_mode": s.storeMode(),
	})
}

func (s *Server) handleMetrics(w http.ResponseWriter, r *http.Request) {
	if s.metrics == nil {
		http.NotFound(w, r)
		return
	}
	s.metrics.Handler().ServeHTTP(w, r)
}

func (s *Server) handleChatHistory(w http.ResponseWriter, r *http.Request) {
	if s.conv == nil {
		respondError(w, http.StatusNotImplemented, "unavailable", "conversation not configured")
		return
	}
	limit := 50
	if raw := strings.TrimSpace(r.URL.Query().Get("limit")); raw != "" {
		n, err := parsePositiveInt(raw)
		if err != nil {
			respondError(w, http.StatusBadRequest, "invalid_limit", err.Error())
			return
		}
		limit = min(n, 500)
	}
	records, err := s.conv.History(r.Context(), strings.TrimSpace(r.URL.Query().Get("conversation_id")), limit)
	if err != nil {
		respondError(w, http.StatusInternalServerError, "history_failed", err.Error())
		return
	}
	if records == nil {
		records = []memory.Record{}
	}
	respondJSON(w, http.StatusOK, map[string]any{
		"conversation_id": s.conv.CurrentConversation(),
		"records":         records,
	})
}

func (s *Server) storeMode() string {
	if s.store == "" {
		return "disabled"
	}
	return s.store
}

type errorResponse struct {
	Error string `json:"error"`
	Code  string `json:"code"`
}

var errEmptyBody = errors.New("empty body")

func decodeJSON(r *http.Request, out any) error {
	if r.Body == nil {
		return errEmptyBody
	}
	defer r.Body.Close()
	dec := json.NewDecoder(r.Body)
	if err := dec.Decode(out); err != nil {
		if strings.Contains(strings.ToLower(err.Error()), "eof") {
			return errEmptyBody
		}
		return err
	}
	return nil
}

func respondJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func respondError(w http.ResponseWriter, status int, code, message string) {
	respondJSON(w, status, errorResponse{Error: message, Code: code})
}
