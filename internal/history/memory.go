package history

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/jkaninda/mioo/internal/domain"
)

// MemoryStore implements Store without persistence. History is lost on
// restart. Used when no database is configured, and in tests.
type MemoryStore struct {
	mu    sync.RWMutex
	chats map[int64][]domain.Message
}

// NewMemoryStore creates an ephemeral history store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{chats: make(map[int64][]domain.Message)}
}

func (s *MemoryStore) Append(_ context.Context, msg *domain.Message) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	window := s.chats[msg.ChatID]

	next := 1
	if n := len(window); n > 0 {
		next = window[n-1].SeqNum + 1
	}
	stored := *msg
	stored.SeqNum = next
	if stored.CreatedAt.IsZero() {
		stored.CreatedAt = time.Now().UTC()
	}
	msg.SeqNum = next

	window = append(window, stored)
	if len(window) > WindowSize {
		window = window[len(window)-WindowSize:]
	}
	s.chats[msg.ChatID] = window
	return nil
}

func (s *MemoryStore) Recent(_ context.Context, chatID int64, limit int) ([]domain.Message, error) {
	if limit <= 0 || limit > WindowSize {
		limit = WindowSize
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	window := s.chats[chatID]
	if len(window) > limit {
		window = window[len(window)-limit:]
	}

	cp := make([]domain.Message, len(window))
	copy(cp, window)
	return cp, nil
}

func (s *MemoryStore) Conversations(_ context.Context) ([]domain.Conversation, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	convs := make([]domain.Conversation, 0, len(s.chats))
	for chatID, window := range s.chats {
		if len(window) == 0 {
			continue
		}
		convs = append(convs, domain.Conversation{
			ChatID:       chatID,
			MessageCount: len(window),
			LastActivity: window[len(window)-1].CreatedAt,
		})
	}
	sort.Slice(convs, func(i, j int) bool { return convs[i].ChatID < convs[j].ChatID })
	return convs, nil
}

func (s *MemoryStore) PruneIdle(_ context.Context, cutoff time.Time) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	pruned := 0
	for chatID, window := range s.chats {
		if len(window) == 0 || window[len(window)-1].CreatedAt.Before(cutoff) {
			delete(s.chats, chatID)
			pruned++
		}
	}
	return pruned, nil
}

// Compile-time interface check.
var _ Store = (*MemoryStore)(nil)
