// Package domain defines cross-cutting entity types used across the system.
package domain

import (
	"time"

	"github.com/google/uuid"
)

// Message is a single chat utterance in a conversation window.
// Immutable once persisted; destroyed only by FIFO window eviction.
type Message struct {
	ChatID    int64     // Telegram chat/group ID. Identifies the conversation.
	SeqNum    int       // Monotonically increasing within a conversation. Assigned by the store.
	Username  string    // Display name of the author. The bot uses BotSenderName.
	Text      string    // UTF-8 content. Non-text messages are not stored.
	FromBot   bool      // True for replies the bot generated itself.
	CreatedAt time.Time // UTC.

	// ReplyToBot is set on incoming messages that directly reply to a
	// message the bot authored. Transient routing metadata, not persisted.
	ReplyToBot bool
}

// Conversation summarizes one chat's window for the admin API.
type Conversation struct {
	ChatID       int64
	MessageCount int
	LastActivity time.Time
}

// BotSenderName is the username recorded for bot-authored messages.
// The transcript labels these entries as the assistant speaking.
const BotSenderName = "mioo_bot"

// NewCorrelationID generates a random ID for request tracing across the
// gateway, orchestrator, and LLM call.
func NewCorrelationID() string {
	return uuid.NewString()
}
