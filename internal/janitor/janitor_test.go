package janitor

import (
	"context"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/jkaninda/mioo/internal/domain"
	"github.com/jkaninda/mioo/internal/history"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestNewRejectsBadSchedule(t *testing.T) {
	_, err := New(history.NewMemoryStore(), "not a cron expr", time.Hour, discardLogger(), nil)
	if err == nil {
		t.Fatal("expected error for invalid schedule")
	}
}

func TestSweepPrunesIdleConversations(t *testing.T) {
	ctx := context.Background()
	store := history.NewMemoryStore()

	stale := &domain.Message{
		ChatID:    1,
		Username:  "alice",
		Text:      "old news",
		CreatedAt: time.Now().UTC().Add(-48 * time.Hour),
	}
	if err := store.Append(ctx, stale); err != nil {
		t.Fatalf("seeding stale chat: %v", err)
	}
	fresh := &domain.Message{ChatID: 2, Username: "bob", Text: "hi"}
	if err := store.Append(ctx, fresh); err != nil {
		t.Fatalf("seeding fresh chat: %v", err)
	}

	j, err := New(store, "0 4 * * *", 24*time.Hour, discardLogger(), nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	pruned, err := j.Sweep(ctx)
	if err != nil {
		t.Fatalf("sweep failed: %v", err)
	}
	if pruned != 1 {
		t.Errorf("pruned = %d, want 1", pruned)
	}

	convs, err := store.Conversations(ctx)
	if err != nil {
		t.Fatalf("listing conversations: %v", err)
	}
	if len(convs) != 1 || convs[0].ChatID != 2 {
		t.Errorf("expected only the fresh chat to remain, got %+v", convs)
	}
}

func TestScheduleFiresDaily(t *testing.T) {
	j, err := New(history.NewMemoryStore(), "0 4 * * *", time.Hour, discardLogger(), nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	from := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	next := j.schedule.Next(from)
	want := time.Date(2025, 6, 2, 4, 0, 0, 0, time.UTC)
	if !next.Equal(want) {
		t.Errorf("next run = %v, want %v", next, want)
	}
}
