package httpapi

import (
	"errors"
	"net/http"
	"strings"

	"github.com/ent0n29/sentio/internal/avatar"
)

type changeCharacterRequest struct {
	CharacterID  string `json:"character_id"`
	BackgroundID string `json:"background_id,omitempty"`
}

func (s *Server) handleCharacters(w http.ResponseWriter, _ *http.Request) {
	if s.renderer == nil {
		respondError(w, http.StatusNotImplemented, "unavailable", "renderer not configured")
		return
	}
	current, _ := s.renderer.Character()
	respondJSON(w, http.StatusOK, map[string]any{
		"current":    current,
		"characters": s.renderer.CharacterCatalog(),
	})
}

func (s *Server) handleBackgrounds(w http.ResponseWriter, _ *http.Request) {
	if s.renderer == nil {
		respondError(w, http.StatusNotImplemented, "unavailable", "renderer not configured")
		return
	}
	_, current := s.renderer.Character()
	respondJSON(w, http.StatusOK, map[string]any{
		"current":     current,
		"backgrounds": s.renderer.BackgroundCatalog(),
	})
}

func (s *Server) handleChangeCharacter(w http.ResponseWriter, r *http.Request) {
	if s.renderer == nil {
		respondError(w, http.StatusNotImplemented, "unavailable", "renderer not configured")
		return
	}
	var req changeCharacterRequest
	if err := decodeJSON(r, &req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid_json", err.Error())
		return
	}
	characterID := strings.TrimSpace(req.CharacterID)
	backgroundID := strings.TrimSpace(req.BackgroundID)
	if characterID == "" && backgroundID == "" {
		respondError(w, http.StatusBadRequest, "missing_resource", "character_id or background_id is required")
		return
	}
	if backgroundID != "" {
		if err := s.renderer.ChangeBackground(backgroundID); err != nil {
			respondResourceError(w, err)
			return
		}
	}
	if characterID != "" {
		if err := s.renderer.ChangeCharacter(characterID); err != nil {
			respondResourceError(w, err)
			return
		}
	}
	character, background := s.renderer.Character()
	respondJSON(w, http.StatusOK, map[string]any{
		"character_id":  character,
		"background_id": background,
	})
}

func (s *Server) handleAvatarWS(w http.ResponseWriter, r *http.Request) {
	if s.renderer == nil {
		respondError(w, http.StatusNotImplemented, "unavailable", "renderer not configured")
		return
	}
	s.renderer.ServeHTTP(w, r)
}

func respondResourceError(w http.ResponseWriter, err error) {
	if errors.Is(err, avatar.ErrUnknownResource) {
		respondError(w, http.StatusNotFound, "unknown_resource", err.Error())
		return
	}
	respondError(w, http.StatusInternalServerError, "change_failed", err.Error())
}
