package harnessports

import (
	"context"
	"time"
)

// Turn represents a conversational exchange.
type Turn struct {
	Role      string    `json:"role" yaml:"role"`                             // "user" | "assistant" | "tool"
	Content   string    `json:"content" yaml:"content"`                       // text or JSON string (for tool outputs)
	Decision  string    `json:"decision,omitempty" yaml:"decision,omitempty"` // routing decision behind an assistant turn
	CreatedAt time.Time `json:"created_at" yaml:"created_at"`                 // server-side timestamp
}

// ConversationStore persists conversation context and tool artifacts.
type ConversationStore interface {
	SaveTurn(ctx context.Context, conversationID string, turn Turn) error
	LoadContext(ctx context.Context, conversationID string, k int) ([]Turn, error) // last-k turns
	AppendToolArtifact(ctx context.Context, conversationID, name string, payload []byte) error
}
