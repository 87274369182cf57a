package bot

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/jkaninda/mioo/internal/domain"
	"github.com/jkaninda/mioo/internal/engine"
	"github.com/jkaninda/mioo/internal/history"
	"github.com/jkaninda/mioo/internal/llm"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type sentMessage struct {
	chatID  int64
	text    string
	replyTo int
}

// recordingSender captures deliveries and optionally fails them.
type recordingSender struct {
	mu   sync.Mutex
	sent []sentMessage
	err  error
}

func (s *recordingSender) Send(_ context.Context, chatID int64, text string, replyTo int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return s.err
	}
	s.sent = append(s.sent, sentMessage{chatID: chatID, text: text, replyTo: replyTo})
	return nil
}

func (s *recordingSender) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.sent)
}

// flakyStore wraps a MemoryStore and fails selected operations.
type flakyStore struct {
	*history.MemoryStore
	failAppend bool
	failRecent bool
}

func (s *flakyStore) Append(ctx context.Context, msg *domain.Message) error {
	if s.failAppend {
		return fmt.Errorf("append: %w", history.ErrUnavailable)
	}
	return s.MemoryStore.Append(ctx, msg)
}

func (s *flakyStore) Recent(ctx context.Context, chatID int64, limit int) ([]domain.Message, error) {
	if s.failRecent {
		return nil, fmt.Errorf("recent: %w", history.ErrUnavailable)
	}
	return s.MemoryStore.Recent(ctx, chatID, limit)
}

// scriptedProvider replies through a function so tests can inspect requests.
type scriptedProvider struct {
	mu    sync.Mutex
	reply func(req *llm.Request) (string, error)
	calls int
}

func (p *scriptedProvider) SendMessage(_ context.Context, req *llm.Request) (*llm.Response, error) {
	p.mu.Lock()
	p.calls++
	p.mu.Unlock()
	content, err := p.reply(req)
	if err != nil {
		return nil, err
	}
	return &llm.Response{Content: content}, nil
}

func (p *scriptedProvider) Name() string { return "scripted" }

func alwaysReply(text string) *scriptedProvider {
	return &scriptedProvider{reply: func(*llm.Request) (string, error) {
		return fmt.Sprintf(`{"should_reply":true,"reply_content":%q}`, text), nil
	}}
}

func newBot(store history.Store, p llm.Provider, sampler engine.Sampler, sender Sender) *Bot {
	eng := engine.New(p, sampler, engine.DefaultPersona(nil), time.Second, discardLogger(), nil)
	return New(store, eng, sender, discardLogger(), nil)
}

func TestReplyCycle(t *testing.T) {
	store := history.NewMemoryStore()
	sender := &recordingSender{}
	b := newBot(store, alwaysReply("nya~ hello!"), engine.FixedSampler(true), sender)

	err := b.OnMessage(context.Background(), &Incoming{
		ChatID: 7, MessageID: 42, Username: "alice", Text: "anyone here?",
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if sender.count() != 1 {
		t.Fatalf("expected 1 delivery, got %d", sender.count())
	}
	if sender.sent[0].text != "nya~ hello!" || sender.sent[0].replyTo != 42 {
		t.Errorf("unexpected delivery %+v", sender.sent[0])
	}

	// Both the human message and the reply are in history, in order.
	msgs, err := store.Recent(context.Background(), 7, history.WindowSize)
	if err != nil {
		t.Fatalf("recent: %v", err)
	}
	if len(msgs) != 2 {
		t.Fatalf("expected 2 stored messages, got %d", len(msgs))
	}
	if msgs[0].FromBot || msgs[0].Text != "anyone here?" {
		t.Errorf("unexpected first message %+v", msgs[0])
	}
	if !msgs[1].FromBot || msgs[1].Username != domain.BotSenderName || msgs[1].Text != "nya~ hello!" {
		t.Errorf("unexpected stored reply %+v", msgs[1])
	}
}

func TestSuppressedCycleStoresOnlyHuman(t *testing.T) {
	store := history.NewMemoryStore()
	sender := &recordingSender{}
	b := newBot(store, alwaysReply("never sent"), engine.FixedSampler(false), sender)

	if err := b.OnMessage(context.Background(), &Incoming{ChatID: 7, Username: "alice", Text: "hi"}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if sender.count() != 0 {
		t.Errorf("expected no delivery, got %d", sender.count())
	}
	msgs, _ := store.Recent(context.Background(), 7, history.WindowSize)
	if len(msgs) != 1 {
		t.Errorf("human message must still be recorded, got %d messages", len(msgs))
	}
}

func TestAppendFailureAbortsBeforeGeneration(t *testing.T) {
	store := &flakyStore{MemoryStore: history.NewMemoryStore(), failAppend: true}
	sender := &recordingSender{}
	p := alwaysReply("never")
	b := newBot(store, p, engine.FixedSampler(true), sender)

	err := b.OnMessage(context.Background(), &Incoming{ChatID: 7, Username: "alice", Text: "hi", ReplyToBot: true})
	if !errors.Is(err, history.ErrUnavailable) {
		t.Fatalf("expected ErrUnavailable, got %v", err)
	}
	if p.calls != 0 {
		t.Errorf("no generation may happen after a store failure, got %d calls", p.calls)
	}
	if sender.count() != 0 {
		t.Errorf("expected no delivery, got %d", sender.count())
	}
}

func TestRecentFailureAborts(t *testing.T) {
	store := &flakyStore{MemoryStore: history.NewMemoryStore(), failRecent: true}
	sender := &recordingSender{}
	p := alwaysReply("never")
	b := newBot(store, p, engine.FixedSampler(true), sender)

	err := b.OnMessage(context.Background(), &Incoming{ChatID: 7, Username: "alice", Text: "hi", ReplyToBot: true})
	if !errors.Is(err, history.ErrUnavailable) {
		t.Fatalf("expected ErrUnavailable, got %v", err)
	}
	if p.calls != 0 || sender.count() != 0 {
		t.Error("cycle must stop before generation and delivery")
	}
}

func TestDeliveryFailureKeepsStoredReply(t *testing.T) {
	store := history.NewMemoryStore()
	sender := &recordingSender{err: errors.New("telegram 502")}
	b := newBot(store, alwaysReply("kept"), engine.FixedSampler(true), sender)

	err := b.OnMessage(context.Background(), &Incoming{ChatID: 7, Username: "alice", Text: "hi", ReplyToBot: true})
	if err == nil {
		t.Fatal("expected delivery error")
	}

	msgs, _ := store.Recent(context.Background(), 7, history.WindowSize)
	if len(msgs) != 2 || !msgs[1].FromBot {
		t.Fatalf("reply must remain in history after failed delivery, got %d messages", len(msgs))
	}
}

func TestEngineSeesWindowIncludingNewMessage(t *testing.T) {
	store := history.NewMemoryStore()
	sender := &recordingSender{}

	var sawOwn bool
	p := &scriptedProvider{reply: func(req *llm.Request) (string, error) {
		if len(req.Messages) == 1 && strings.Contains(req.Messages[0].Content, "the newest one") {
			sawOwn = true
		}
		return `{"should_reply":false,"reply_content":""}`, nil
	}}
	b := newBot(store, p, engine.FixedSampler(true), sender)

	for i := 0; i < 3; i++ {
		if err := b.OnMessage(context.Background(), &Incoming{
			ChatID: 7, Username: "alice", Text: fmt.Sprintf("message %d", i),
		}); err != nil {
			t.Fatalf("cycle %d: %v", i, err)
		}
	}
	if err := b.OnMessage(context.Background(), &Incoming{
		ChatID: 7, Username: "bob", Text: "the newest one", ReplyToBot: true,
	}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !sawOwn {
		t.Error("engine did not observe the just-appended message in its context")
	}
}

func TestCrossConversationParallelism(t *testing.T) {
	store := history.NewMemoryStore()
	sender := &recordingSender{}

	// The provider blocks until both conversations have a cycle in flight,
	// proving chat 1 does not serialize behind chat 2.
	var inFlight sync.WaitGroup
	inFlight.Add(2)
	p := &scriptedProvider{reply: func(*llm.Request) (string, error) {
		inFlight.Done()
		inFlight.Wait()
		return `{"should_reply":true,"reply_content":"meow"}`, nil
	}}
	b := newBot(store, p, engine.FixedSampler(true), sender)

	var wg sync.WaitGroup
	for _, chat := range []int64{1, 2} {
		wg.Add(1)
		go func(id int64) {
			defer wg.Done()
			_ = b.OnMessage(context.Background(), &Incoming{
				ChatID: id, Username: "alice", Text: "hi", ReplyToBot: true,
			})
		}(chat)
	}

	done := make(chan struct{})
	go func() { wg.Wait(); close(done) }()
	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("conversations deadlocked against each other")
	}
	if sender.count() != 2 {
		t.Errorf("expected 2 deliveries, got %d", sender.count())
	}
}

func TestPerConversationSerialization(t *testing.T) {
	store := history.NewMemoryStore()
	sender := &recordingSender{}

	var active, maxActive int
	var mu sync.Mutex
	p := &scriptedProvider{reply: func(*llm.Request) (string, error) {
		mu.Lock()
		active++
		if active > maxActive {
			maxActive = active
		}
		mu.Unlock()
		time.Sleep(5 * time.Millisecond)
		mu.Lock()
		active--
		mu.Unlock()
		return `{"should_reply":false,"reply_content":""}`, nil
	}}
	b := newBot(store, p, engine.FixedSampler(true), sender)

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_ = b.OnMessage(context.Background(), &Incoming{
				ChatID: 1, Username: "alice", Text: fmt.Sprintf("m%d", i), ReplyToBot: true,
			})
		}(i)
	}
	wg.Wait()

	if maxActive != 1 {
		t.Errorf("cycles for one conversation overlapped: max concurrency %d", maxActive)
	}

	msgs, _ := store.Recent(context.Background(), 1, history.WindowSize)
	for i := 1; i < len(msgs); i++ {
		if msgs[i].SeqNum != msgs[i-1].SeqNum+1 {
			t.Fatalf("sequence gap between %d and %d", msgs[i-1].SeqNum, msgs[i].SeqNum)
		}
	}
}
