// Package history defines the bounded per-conversation message log that
// backs contextual replies. Each conversation keeps at most WindowSize
// messages; appending beyond the bound evicts the oldest entries for that
// conversation only.
package history

import (
	"context"
	"errors"
	"time"

	"github.com/jkaninda/mioo/internal/domain"
)

// WindowSize is the number of messages retained per conversation.
const WindowSize = 100

// ErrUnavailable indicates the persistence layer is unreachable or corrupt.
// Callers must treat it as "cannot safely decide" and suppress any reply
// for the current cycle.
var ErrUnavailable = errors.New("history store unavailable")

// Store persists conversation history.
type Store interface {
	// Append persists the message for its conversation, assigns the next
	// sequence number, and trims the conversation to the most recent
	// WindowSize messages. Eviction and insertion are atomic: a concurrent
	// reader never observes more than WindowSize messages or a partially
	// evicted window.
	Append(ctx context.Context, msg *domain.Message) error

	// Recent returns a snapshot of the most recent messages for a chat,
	// up to limit (capped at WindowSize), ordered oldest-first by SeqNum.
	// Reflects every Append that completed before the call began.
	Recent(ctx context.Context, chatID int64, limit int) ([]domain.Message, error)

	// Conversations lists every known conversation with its message count
	// and last activity time. Used by the admin API and the janitor.
	Conversations(ctx context.Context) ([]domain.Conversation, error)

	// PruneIdle deletes all messages of conversations whose newest message
	// is older than the cutoff. Returns the number of conversations removed.
	PruneIdle(ctx context.Context, cutoff time.Time) (int, error)
}
