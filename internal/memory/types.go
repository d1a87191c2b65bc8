package memory

import (
	"context"
	"time"
)

const (
	RoleHuman     = "human"
	RoleAssistant = "assistant"
)

// Record is one chat message of a conversation turn.
type Record struct {
	ID             string    `json:"id"`
	ConversationID string    `json:"conversation_id"`
	TurnID         string    `json:"turn_id"`
	Engine         string    `json:"engine"`
	Role           string    `json:"role"`
	Content        string    `json:"content"`
	PIIRedacted    bool      `json:"pii_redacted"`
	CreatedAt      time.Time `json:"created_at"`
}

// Store persists chat records. An empty conversationID in Recent means all
// conversations. Recent returns records oldest first.
type Store interface {
	Save(ctx context.Context, record Record) error
	Recent(ctx context.Context, conversationID string, limit int) ([]Record, error)
	Mode() string
	Close() error
}
