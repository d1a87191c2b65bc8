package protocol

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
)

// MessageType identifies websocket payload variants.
type MessageType string

const (
	TypeReady           MessageType = "ready"
	TypeTextInput       MessageType = "text_input"
	TypeInterrupt       MessageType = "interrupt"
	TypeChangeCharacter MessageType = "change_character"

	TypeLipSync        MessageType = "lip_sync"
	TypeCharacter      MessageType = "character"
	TypeAssistantAudio MessageType = "assistant_audio"
	TypeTurnState      MessageType = "turn_state"
	TypeChatDelta      MessageType = "chat_delta"
	TypeErrorEvent     MessageType = "error_event"
)

var ErrUnsupportedType = errors.New("unsupported message type")

type Envelope struct {
	Type MessageType `json:"type"`
}

// Ready is sent by a renderer page once its scene is loaded.
type Ready struct {
	Type     MessageType `json:"type"`
	ClientID string      `json:"client_id,omitempty"`
}

type TextInput struct {
	Type MessageType `json:"type"`
	Text string      `json:"text"`
}

type Interrupt struct {
	Type   MessageType `json:"type"`
	Reason string      `json:"reason,omitempty"`
}

type ChangeCharacter struct {
	Type        MessageType `json:"type"`
	CharacterID string      `json:"character_id"`
}

// LipSync carries the mouth-open weight in [0,1].
type LipSync struct {
	Type   MessageType `json:"type"`
	Weight float64     `json:"weight"`
}

type Character struct {
	Type         MessageType `json:"type"`
	CharacterID  string      `json:"character_id"`
	BackgroundID string      `json:"background_id,omitempty"`
}

type AssistantAudio struct {
	Type        MessageType `json:"type"`
	TurnID      string      `json:"turn_id,omitempty"`
	Format      string      `json:"format"`
	SampleRate  int         `json:"sample_rate"`
	AudioBase64 string      `json:"audio_base64"`
}

type TurnState struct {
	Type   MessageType `json:"type"`
	TurnID string      `json:"turn_id"`
	Phase  string      `json:"phase"`
}

type ChatDelta struct {
	Type   MessageType `json:"type"`
	TurnID string      `json:"turn_id"`
	Role   string      `json:"role"`
	Index  int         `json:"index"`
	Delta  string      `json:"delta"`
	Done   bool        `json:"done,omitempty"`
}

type ErrorEvent struct {
	Type      MessageType `json:"type"`
	Code      string      `json:"code"`
	Source    string      `json:"source"`
	Retryable bool        `json:"retryable"`
	Detail    string      `json:"detail"`
}

func ParseClientMessage(raw []byte) (any, error) {
	var env Envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return nil, fmt.Errorf("invalid envelope: %w", err)
	}

	switch env.Type {
	case TypeReady:
		var msg Ready
		if err := json.Unmarshal(raw, &msg); err != nil {
			return nil, err
		}
		return msg, nil
	case TypeTextInput:
		var msg TextInput
		if err := json.Unmarshal(raw, &msg); err != nil {
			return nil, err
		}
		if strings.TrimSpace(msg.Text) == "" {
			return nil, errors.New("invalid text_input")
		}
		return msg, nil
	case TypeInterrupt:
		var msg Interrupt
		if err := json.Unmarshal(raw, &msg); err != nil {
			return nil, err
		}
		return msg, nil
	case TypeChangeCharacter:
		var msg ChangeCharacter
		if err := json.Unmarshal(raw, &msg); err != nil {
			return nil, err
		}
		if msg.CharacterID == "" {
			return nil, errors.New("invalid change_character")
		}
		return msg, nil
	default:
		return nil, ErrUnsupportedType
	}
}
