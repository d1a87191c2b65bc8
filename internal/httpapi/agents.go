package httpapi

import (
	"net/http"
	"strings"

	"github.com/ent0n29/sentio/internal/adhapi"
)

type agentSelection struct {
	Engine   string          `json:"engine"`
	Settings adhapi.Settings `json:"settings,omitempty"`
}

func (s *Server) handleListAgents(w http.ResponseWriter, r *http.Request) {
	if s.conv == nil {
		respondError(w, http.StatusNotImplemented, "unavailable", "conversation not configured")
		return
	}
	respondJSON(w, http.StatusOK, map[string]any{"engines": s.conv.Agents(r.Context())})
}

func (s *Server) handleDefaultAgent(w http.ResponseWriter, r *http.Request) {
	if s.conv == nil {
		respondError(w, http.StatusNotImplemented, "unavailable", "conversation not configured")
		return
	}
	engine := s.conv.DefaultAgent(r.Context())
	if engine == "" {
		respondError(w, http.StatusBadGateway, "agent_unavailable", "no default agent engine")
		return
	}
	respondJSON(w, http.StatusOK, map[string]any{"engine": engine})
}

func (s *Server) handleAgentSettings(w http.ResponseWriter, r *http.Request) {
	if s.conv == nil {
		respondError(w, http.StatusNotImplemented, "unavailable", "conversation not configured")
		return
	}
	var req agentSelection
	if err := decodeJSON(r, &req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid_json", err.Error())
		return
	}
	engine := strings.TrimSpace(req.Engine)
	if engine == "" {
		respondError(w, http.StatusBadRequest, "missing_engine", "engine is required")
		return
	}
	params := s.conv.AgentSettings(r.Context(), engine)
	if params == nil {
		params = []adhapi.EngineParam{}
	}
	respondJSON(w, http.StatusOK, map[string]any{"engine": engine, "settings": params})
}

func (s *Server) handleCurrentAgent(w http.ResponseWriter, _ *http.Request) {
	if s.conv == nil {
		respondError(w, http.StatusNotImplemented, "unavailable", "conversation not configured")
		return
	}
	engine, settings := s.conv.Agent()
	respondJSON(w, http.StatusOK, map[string]any{
		"engine":          engine,
		"settings":        settings,
		"conversation_id": s.conv.CurrentConversation(),
	})
}

// handleSetAgent switches the agent engine. Any turn in progress is aborted
// and the next turn starts a new conversation.
func (s *Server) handleSetAgent(w http.ResponseWriter, r *http.Request) {
	if s.conv == nil {
		respondError(w, http.StatusNotImplemented, "unavailable", "conversation not configured")
		return
	}
	var req agentSelection
	if err := decodeJSON(r, &req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid_json", err.Error())
		return
	}
	engine := strings.TrimSpace(req.Engine)
	if engine == "" {
		respondError(w, http.StatusBadRequest, "missing_engine", "engine is required")
		return
	}
	s.conv.SetAgent(engine, req.Settings)
	respondJSON(w, http.StatusOK, map[string]any{"engine": engine, "settings": req.Settings})
}
