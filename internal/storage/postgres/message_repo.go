package postgres

import (
	"context"
	"fmt"
	"time"

	"gorm.io/gorm"

	"github.com/jkaninda/mioo/internal/domain"
	"github.com/jkaninda/mioo/internal/history"
)

// Compile-time interface check.
var _ history.Store = (*MessageRepository)(nil)

// MessageRepository implements history.Store with GORM. The SQLite backend
// reuses it unchanged; GORM's dialects handle the SQL differences.
type MessageRepository struct {
	db *gorm.DB
}

// NewMessageRepository creates a MessageRepository.
func NewMessageRepository(db *gorm.DB) *MessageRepository {
	return &MessageRepository{db: db}
}

// unavailable wraps a database error so callers can match history.ErrUnavailable.
func unavailable(op string, err error) error {
	return fmt.Errorf("%s: %w: %w", op, history.ErrUnavailable, err)
}

// Append inserts the message with the next sequence number and trims the
// conversation to the window bound, all in one transaction. Readers never
// observe the insert without the trim.
func (r *MessageRepository) Append(ctx context.Context, msg *domain.Message) error {
	if msg.CreatedAt.IsZero() {
		msg.CreatedAt = time.Now().UTC()
	}

	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var maxSeq int
		err := tx.Model(&MessageModel{}).
			Where("chat_id = ?", msg.ChatID).
			Select("COALESCE(MAX(seq_num), 0)").
			Scan(&maxSeq).Error
		if err != nil {
			return fmt.Errorf("getting max seq_num: %w", err)
		}

		model := MessageModel{
			ChatID:    msg.ChatID,
			SeqNum:    maxSeq + 1,
			Username:  msg.Username,
			Content:   msg.Text,
			FromBot:   msg.FromBot,
			CreatedAt: msg.CreatedAt,
		}
		if err := tx.Create(&model).Error; err != nil {
			return fmt.Errorf("inserting message: %w", err)
		}

		// Evict everything below the window cutoff for this conversation.
		if cutoff := model.SeqNum - history.WindowSize; cutoff > 0 {
			if err := tx.Where("chat_id = ? AND seq_num <= ?", msg.ChatID, cutoff).
				Delete(&MessageModel{}).Error; err != nil {
				return fmt.Errorf("trimming window: %w", err)
			}
		}

		msg.SeqNum = model.SeqNum
		return nil
	})
	if err != nil {
		return unavailable("appending message", err)
	}
	return nil
}

// Recent returns the most recent messages for a chat, ordered oldest-first.
func (r *MessageRepository) Recent(ctx context.Context, chatID int64, limit int) ([]domain.Message, error) {
	if limit <= 0 || limit > history.WindowSize {
		limit = history.WindowSize
	}

	var models []MessageModel
	err := r.db.WithContext(ctx).
		Where("chat_id = ?", chatID).
		Order("seq_num DESC").
		Limit(limit).
		Find(&models).Error
	if err != nil {
		return nil, unavailable("loading recent messages", err)
	}

	// Reverse to oldest-first order.
	for i, j := 0, len(models)-1; i < j; i, j = i+1, j-1 {
		models[i], models[j] = models[j], models[i]
	}

	msgs := make([]domain.Message, len(models))
	for i := range models {
		msgs[i] = toMessage(&models[i])
	}
	return msgs, nil
}

// Conversations lists every chat with its message count and last activity.
func (r *MessageRepository) Conversations(ctx context.Context) ([]domain.Conversation, error) {
	var counts []struct {
		ChatID       int64
		MessageCount int
	}
	err := r.db.WithContext(ctx).
		Model(&MessageModel{}).
		Select("chat_id, COUNT(*) AS message_count").
		Group("chat_id").
		Order("chat_id").
		Scan(&counts).Error
	if err != nil {
		return nil, unavailable("listing conversations", err)
	}
	if len(counts) == 0 {
		return []domain.Conversation{}, nil
	}

	// Last activity is read through the model from each chat's newest row.
	// SQLite drops the declared column type on aggregates, so a raw scan of
	// MAX(created_at) hands back a string instead of a time.Time.
	newest := r.db.Model(&MessageModel{}).
		Select("chat_id, MAX(seq_num)").
		Group("chat_id")
	var latest []MessageModel
	err = r.db.WithContext(ctx).
		Where("(chat_id, seq_num) IN (?)", newest).
		Find(&latest).Error
	if err != nil {
		return nil, unavailable("listing conversations", err)
	}
	lastActivity := make(map[int64]time.Time, len(latest))
	for _, m := range latest {
		lastActivity[m.ChatID] = m.CreatedAt
	}

	convs := make([]domain.Conversation, len(counts))
	for i, row := range counts {
		convs[i] = domain.Conversation{
			ChatID:       row.ChatID,
			MessageCount: row.MessageCount,
			LastActivity: lastActivity[row.ChatID],
		}
	}
	return convs, nil
}

// PruneIdle deletes all messages of conversations whose newest message is
// older than the cutoff. Returns the number of conversations removed.
func (r *MessageRepository) PruneIdle(ctx context.Context, cutoff time.Time) (int, error) {
	pruned := 0
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var idle []int64
		err := tx.Model(&MessageModel{}).
			Select("chat_id").
			Group("chat_id").
			Having("MAX(created_at) < ?", cutoff).
			Scan(&idle).Error
		if err != nil {
			return fmt.Errorf("finding idle conversations: %w", err)
		}
		if len(idle) == 0 {
			return nil
		}

		if err := tx.Where("chat_id IN ?", idle).Delete(&MessageModel{}).Error; err != nil {
			return fmt.Errorf("deleting idle conversations: %w", err)
		}
		pruned = len(idle)
		return nil
	})
	if err != nil {
		return 0, unavailable("pruning idle conversations", err)
	}
	return pruned, nil
}

func toMessage(m *MessageModel) domain.Message {
	return domain.Message{
		ChatID:    m.ChatID,
		SeqNum:    m.SeqNum,
		Username:  m.Username,
		Text:      m.Content,
		FromBot:   m.FromBot,
		CreatedAt: m.CreatedAt,
	}
}
