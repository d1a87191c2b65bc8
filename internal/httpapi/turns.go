package httpapi

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"

	"github.com/ent0n29/sentio/internal/conversation"
	"github.com/ent0n29/sentio/internal/turn"
)

const maxAudioBodyBytes = 16 << 20

type textTurnRequest struct {
	Text  string `json:"text"`
	Async bool   `json:"async,omitempty"`
}

func (s *Server) handleTurnText(w http.ResponseWriter, r *http.Request) {
	if s.conv == nil {
		respondError(w, http.StatusNotImplemented, "unavailable", "conversation not configured")
		return
	}
	var req textTurnRequest
	if err := decodeJSON(r, &req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid_json", err.Error())
		return
	}
	text := strings.TrimSpace(req.Text)
	if text == "" {
		respondError(w, http.StatusBadRequest, "empty_text", "text is required")
		return
	}
	if req.Async {
		s.conv.SubmitText(text)
		respondJSON(w, http.StatusAccepted, map[string]any{"status": "accepted"})
		return
	}
	reply, err := s.conv.Chat(r.Context(), text)
	if err != nil {
		respondTurnError(w, reply, err)
		return
	}
	respondJSON(w, http.StatusOK, reply)
}

func (s *Server) handleTurnAudio(w http.ResponseWriter, r *http.Request) {
	if s.conv == nil {
		respondError(w, http.StatusNotImplemented, "unavailable", "conversation not configured")
		return
	}
	q := r.URL.Query()
	opts := conversation.ASROptions{
		Engine: strings.TrimSpace(q.Get("engine")),
		Format: strings.TrimSpace(q.Get("format")),
	}
	for key, dst := range map[string]*int{"sample_rate": &opts.SampleRate, "sample_width": &opts.SampleWidth} {
		raw := strings.TrimSpace(q.Get(key))
		if raw == "" {
			continue
		}
		n, err := parsePositiveInt(raw)
		if err != nil {
			respondError(w, http.StatusBadRequest, "invalid_"+key, err.Error())
			return
		}
		*dst = n
	}
	if r.Body == nil {
		respondError(w, http.StatusBadRequest, "invalid_audio", errEmptyBody.Error())
		return
	}
	body := http.MaxBytesReader(w, r.Body, maxAudioBodyBytes)
	defer body.Close()

	reply, err := s.conv.Listen(r.Context(), body, opts)
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			respondError(w, http.StatusRequestEntityTooLarge, "audio_too_large", err.Error())
			return
		}
		respondTurnError(w, reply, err)
		return
	}
	respondJSON(w, http.StatusOK, reply)
}

func (s *Server) handleTurnAbort(w http.ResponseWriter, _ *http.Request) {
	if s.conv == nil {
		respondError(w, http.StatusNotImplemented, "unavailable", "conversation not configured")
		return
	}
	s.conv.Abort()
	respondJSON(w, http.StatusOK, map[string]any{"status": "aborted"})
}

func (s *Server) handlePlaybackStop(w http.ResponseWriter, _ *http.Request) {
	if s.playback == nil {
		respondError(w, http.StatusNotImplemented, "unavailable", "playback not configured")
		return
	}
	s.playback.Stop()
	respondJSON(w, http.StatusOK, map[string]any{"status": "stopped"})
}

func (s *Server) handlePlaybackStatus(w http.ResponseWriter, _ *http.Request) {
	if s.playback == nil {
		respondError(w, http.StatusNotImplemented, "unavailable", "playback not configured")
		return
	}
	muted := false
	if s.conv != nil {
		muted = s.conv.Muted()
	}
	respondJSON(w, http.StatusOK, map[string]any{
		"playing": s.playback.IsPlaying(),
		"queued":  s.playback.Len(),
		"muted":   muted,
	})
}

func respondTurnError(w http.ResponseWriter, reply conversation.Reply, err error) {
	switch {
	case errors.Is(err, conversation.ErrEmptyText):
		respondError(w, http.StatusBadRequest, "empty_text", err.Error())
	case errors.Is(err, conversation.ErrNoSpeech):
		respondError(w, http.StatusUnprocessableEntity, "no_speech", err.Error())
	case errors.Is(err, turn.ErrSuperseded):
		respondJSON(w, http.StatusConflict, map[string]any{
			"error": err.Error(),
			"code":  "turn_superseded",
			"reply": reply,
		})
	case errors.Is(err, turn.ErrAborted):
		respondJSON(w, http.StatusConflict, map[string]any{
			"error": err.Error(),
			"code":  "turn_aborted",
			"reply": reply,
		})
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		respondError(w, http.StatusGatewayTimeout, "turn_cancelled", err.Error())
	default:
		respondError(w, http.StatusBadGateway, "turn_failed", err.Error())
	}
}

func parsePositiveInt(raw string) (int, error) {
	n, err := strconv.Atoi(raw)
	if err != nil {
		return 0, fmt.Errorf("%q is not an integer", raw)
	}
	if n <= 0 {
		return 0, fmt.Errorf("%q must be positive", raw)
	}
	return n, nil
}
