// Package bot orchestrates the contextual reply cycle: record the incoming
// message, rebuild the conversation context, run the decision engine, and
// deliver the reply. One cycle runs at a time per conversation; distinct
// conversations proceed in parallel.
package bot

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/jkaninda/mioo/internal/domain"
	"github.com/jkaninda/mioo/internal/engine"
	"github.com/jkaninda/mioo/internal/history"
	"github.com/jkaninda/mioo/internal/observability"
	"github.com/jkaninda/mioo/internal/transcript"
)

// Sender delivers a reply through the chat transport. replyTo is the message
// ID the reply targets, 0 for a plain message.
type Sender interface {
	Send(ctx context.Context, chatID int64, text string, replyTo int) error
}

// Incoming is a human chat message entering the reply cycle.
type Incoming struct {
	ChatID     int64
	MessageID  int
	Username   string
	Text       string
	ReplyToBot bool
}

// Bot runs the reply cycle.
type Bot struct {
	store   history.Store
	engine  *engine.Engine
	sender  Sender
	logger  *slog.Logger
	metrics *observability.Metrics

	mu        sync.Mutex
	chatLocks map[int64]*sync.Mutex
}

// New creates the orchestrator. metrics may be nil.
func New(store history.Store, eng *engine.Engine, sender Sender, logger *slog.Logger, metrics *observability.Metrics) *Bot {
	return &Bot{
		store:     store,
		engine:    eng,
		sender:    sender,
		logger:    logger,
		metrics:   metrics,
		chatLocks: make(map[int64]*sync.Mutex),
	}
}

// lockChat serializes reply cycles within one conversation. Locks are
// created on first use and never removed; the map grows with the number of
// distinct chats, which is small.
func (b *Bot) lockChat(chatID int64) func() {
	b.mu.Lock()
	l, ok := b.chatLocks[chatID]
	if !ok {
		l = &sync.Mutex{}
		b.chatLocks[chatID] = l
	}
	b.mu.Unlock()

	l.Lock()
	return l.Unlock
}

// OnMessage runs one full reply cycle for an incoming group message.
//
// The incoming message is recorded first so it is part of the context the
// engine sees. If recording fails the cycle aborts without generating:
// replying to a conversation whose state is unknown risks incoherent output.
// A generated reply is persisted before delivery, so the stored history
// matches what the model believed it said even if Telegram rejects the send.
func (b *Bot) OnMessage(ctx context.Context, in *Incoming) error {
	unlock := b.lockChat(in.ChatID)
	defer unlock()

	correlationID := domain.NewCorrelationID()
	log := b.logger.With(
		slog.String("correlation_id", correlationID),
		slog.Int64("chat_id", in.ChatID),
	)

	human := &domain.Message{
		ChatID:     in.ChatID,
		Username:   in.Username,
		Text:       in.Text,
		ReplyToBot: in.ReplyToBot,
	}
	if err := b.store.Append(ctx, human); err != nil {
		b.metrics.RecordStoreOp("append", false)
		log.ErrorContext(ctx, "recording incoming message failed, cycle aborted",
			slog.String("error", err.Error()),
		)
		return fmt.Errorf("recording incoming message: %w", err)
	}
	b.metrics.RecordStoreOp("append", true)

	recent, err := b.store.Recent(ctx, in.ChatID, history.WindowSize)
	if err != nil {
		b.metrics.RecordStoreOp("recent", false)
		log.ErrorContext(ctx, "loading conversation window failed, cycle aborted",
			slog.String("error", err.Error()),
		)
		return fmt.Errorf("loading conversation window: %w", err)
	}
	b.metrics.RecordStoreOp("recent", true)

	b.metrics.EvaluationStarted()
	decision := b.engine.Evaluate(ctx, human, transcript.Build(recent))
	b.metrics.EvaluationFinished()

	if !decision.Respond {
		return nil
	}

	reply := &domain.Message{
		ChatID:   in.ChatID,
		Username: domain.BotSenderName,
		Text:     decision.Text,
		FromBot:  true,
	}
	if err := b.store.Append(ctx, reply); err != nil {
		b.metrics.RecordStoreOp("append", false)
		log.ErrorContext(ctx, "persisting reply failed, reply dropped",
			slog.String("error", err.Error()),
		)
		return fmt.Errorf("persisting reply: %w", err)
	}
	b.metrics.RecordStoreOp("append", true)

	if err := b.sender.Send(ctx, in.ChatID, decision.Text, in.MessageID); err != nil {
		// The reply stays in history: the model treats it as said, and
		// rolling it back would race with newer appends.
		b.metrics.RecordTelegramSend(false)
		log.WarnContext(ctx, "reply delivery failed, kept in history",
			slog.String("error", err.Error()),
		)
		return fmt.Errorf("delivering reply: %w", err)
	}
	b.metrics.RecordTelegramSend(true)

	log.InfoContext(ctx, "reply sent",
		slog.Int("seq_num", reply.SeqNum),
		slog.Int("length", len(decision.Text)),
	)
	return nil
}
