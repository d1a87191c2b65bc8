package httpapi

import "net/http"

type uiSettingsResponse struct {
	Character       string  `json:"character"`
	Background      string  `json:"background"`
	Muted           bool    `json:"muted"`
	RenderTickMS    int64   `json:"render_tick_ms"`
	LipFactor       float64 `json:"lip_factor"`
	SentencePunc    string  `json:"sentence_punctuation"`
	SentenceMinLen  int     `json:"sentence_min_length"`
	AllowAnyOrigin  bool    `json:"allow_any_origin"`
	ConversationID  string  `json:"conversation_id,omitempty"`
	RendererClients int     `json:"renderer_clients"`
}

type muteRequest struct {
	Mute *bool `json:"mute"`
}

func (s *Server) handleUISettings(w http.ResponseWriter, _ *http.Request) {
	resp := uiSettingsResponse{
		Character:      s.cfg.Character,
		Muted:          s.cfg.Mute,
		RenderTickMS:   s.cfg.RenderTick.Milliseconds(),
		LipFactor:      s.cfg.LipFactor,
		SentencePunc:   s.cfg.TTSPunctuation,
		SentenceMinLen: s.cfg.TTSSentenceMinLength,
		AllowAnyOrigin: s.cfg.AllowAnyOrigin,
	}
	if s.renderer != nil {
		resp.Character, resp.Background = s.renderer.Character()
		resp.RendererClients = s.renderer.Clients()
	}
	if s.conv != nil {
		resp.Muted = s.conv.Muted()
		resp.ConversationID = s.conv.CurrentConversation()
	}
	respondJSON(w, http.StatusOK, resp)
}

func (s *Server) handleSetMute(w http.ResponseWriter, r *http.Request) {
	if s.conv == nil {
		respondError(w, http.StatusNotImplemented, "unavailable", "conversation not configured")
		return
	}
	var req muteRequest
	if err := decodeJSON(r, &req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid_json", err.Error())
		return
	}
	if req.Mute == nil {
		respondError(w, http.StatusBadRequest, "missing_mute", "mute is required")
		return
	}
	s.conv.SetMute(*req.Mute)
	if *req.Mute && s.playback != nil {
		s.playback.Stop()
	}
	respondJSON(w, http.StatusOK, map[string]any{"muted": s.conv.Muted()})
}
