package httpapi

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"
)

type onboardingCheck struct {
	ID     string `json:"id"`
	Status string `json:"status"` // ok|warn|error
	Label  string `json:"label"`
	Detail string `json:"detail,omitempty"`
	Fix    string `json:"fix,omitempty"`
}

type onboardingStatusResponse struct {
	ServerURL      string            `json:"server_url"`
	AgentEngine    string            `json:"agent_engine"`
	ConversationID string            `json:"conversation_id,omitempty"`
	StoreMode      string            `json:"store_mode"`
	Muted          bool              `json:"muted"`
	Checks         []onboardingCheck `json:"checks"`
}

func (s *Server) handleOnboardingStatus(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), s.cfg.HeartbeatWait+2*time.Second)
	defer cancel()

	checks := make([]onboardingCheck, 0, 6)
	checks = append(checks, s.upstreamCheck(ctx))
	agentEngine, agentChecks := s.agentChecks(ctx)
	checks = append(checks, agentChecks...)
	checks = append(checks, s.storeCheck(), s.rendererCheck())

	resp := onboardingStatusResponse{
		ServerURL:   s.cfg.ServerURL,
		AgentEngine: agentEngine,
		StoreMode:   s.storeMode(),
		Checks:      checks,
	}
	if s.conv != nil {
		resp.ConversationID = s.conv.CurrentConversation()
		resp.Muted = s.conv.Muted()
	}
	respondJSON(w, http.StatusOK, resp)
}

func (s *Server) upstreamCheck(ctx context.Context) onboardingCheck {
	check := onboardingCheck{ID: "adh_server", Label: "ADH server", Detail: s.cfg.ServerURL}
	if s.upstream == nil {
		check.Status = "error"
		check.Detail = "no upstream client configured"
		return check
	}
	if err := s.upstream.Heartbeat(ctx, s.cfg.HeartbeatWait); err != nil {
		check.Status = "error"
		check.Detail = err.Error()
		check.Fix = "Start the ADH server or point ADH_SERVER_URL at a running instance."
		return check
	}
	check.Status = "ok"
	return check
}

func (s *Server) agentChecks(ctx context.Context) (string, []onboardingCheck) {
	if s.conv == nil {
		return "", []onboardingCheck{{
			ID:     "agent_engine",
			Status: "error",
			Label:  "Agent engine",
			Detail: "conversation not configured",
		}}
	}
	engine, _ := s.conv.Agent()
	out := make([]onboardingCheck, 0, 2)

	engines := s.conv.Agents(ctx)
	if len(engines) == 0 {
		out = append(out, onboardingCheck{
			ID:     "agent_list",
			Status: "warn",
			Label:  "Agent engines",
			Detail: "server returned no agent engines",
			Fix:    "Check the agent section of the ADH server configuration.",
		})
		out = append(out, onboardingCheck{ID: "agent_engine", Status: "warn", Label: "Agent engine", Detail: engine})
		return engine, out
	}
	out = append(out, onboardingCheck{
		ID:     "agent_list",
		Status: "ok",
		Label:  "Agent engines",
		Detail: strings.Join(engines, ", "),
	})
	if engine == "" || engine == "default" {
		out = append(out, onboardingCheck{ID: "agent_engine", Status: "ok", Label: "Agent engine", Detail: "server default"})
		return engine, out
	}
	for _, name := range engines {
		if name == engine {
			out = append(out, onboardingCheck{ID: "agent_engine", Status: "ok", Label: "Agent engine", Detail: engine})
			return engine, out
		}
	}
	out = append(out, onboardingCheck{
		ID:     "agent_engine",
		Status: "error",
		Label:  "Agent engine",
		Detail: fmt.Sprintf("%q is not offered by the server", engine),
		Fix:    "Set SENTIO_AGENT_ENGINE to one of the listed engines.",
	})
	return engine, out
}

func (s *Server) storeCheck() onboardingCheck {
	mode := s.storeMode()
	switch mode {
	case "postgres":
		return onboardingCheck{ID: "chat_store", Status: "ok", Label: "Chat history", Detail: "postgres"}
	case "in-memory":
		return onboardingCheck{
			ID:     "chat_store",
			Status: "warn",
			Label:  "Chat history",
			Detail: "in-memory only",
			Fix:    "Set DATABASE_URL to persist chat history across restarts.",
		}
	default:
		return onboardingCheck{ID: "chat_store", Status: "warn", Label: "Chat history", Detail: mode}
	}
}

func (s *Server) rendererCheck() onboardingCheck {
	if s.renderer == nil {
		return onboardingCheck{ID: "renderer", Status: "warn", Label: "Avatar renderer", Detail: "not configured"}
	}
	n := s.renderer.Clients()
	if n == 0 {
		return onboardingCheck{
			ID:     "renderer",
			Status: "warn",
			Label:  "Avatar renderer",
			Detail: "no renderer page connected",
			Fix:    "Open a renderer page that connects to /v1/avatar/ws.",
		}
	}
	return onboardingCheck{ID: "renderer", Status: "ok", Label: "Avatar renderer", Detail: fmt.Sprintf("%d connected", n)}
}
