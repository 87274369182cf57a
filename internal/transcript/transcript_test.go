package transcript

import (
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/jkaninda/mioo/internal/domain"
	"github.com/jkaninda/mioo/internal/history"
)

func msgAt(seq int, user, text string) domain.Message {
	return domain.Message{
		ChatID:    1,
		SeqNum:    seq,
		Username:  user,
		Text:      text,
		CreatedAt: time.Date(2025, 6, 1, 12, 0, seq, 0, time.UTC),
	}
}

func TestBuildEntryFormat(t *testing.T) {
	tr := Build([]domain.Message{msgAt(1, "alice", "hello world")})

	want := "username: alice \n content: hello world \n time: 2025-06-01 12:00:01"
	if tr.Entries[0] != want {
		t.Errorf("entry mismatch:\n got: %q\nwant: %q", tr.Entries[0], want)
	}
}

func TestBuildLabelsBotMessages(t *testing.T) {
	m := msgAt(2, "ignored", "nya~")
	m.FromBot = true

	tr := Build([]domain.Message{m})
	if !strings.HasPrefix(tr.Entries[0], "username: "+domain.BotSenderName+" ") {
		t.Errorf("bot message not labeled with bot name: %q", tr.Entries[0])
	}
}

func TestBuildPreservesOrder(t *testing.T) {
	msgs := []domain.Message{
		msgAt(1, "alice", "first"),
		msgAt(2, "bob", "second"),
		msgAt(3, "alice", "third"),
	}

	tr := Build(msgs)
	if tr.Len() != 3 {
		t.Fatalf("expected 3 entries, got %d", tr.Len())
	}
	for i, want := range []string{"first", "second", "third"} {
		if !strings.Contains(tr.Entries[i], "content: "+want+" ") {
			t.Errorf("entry %d: expected content %q in %q", i, want, tr.Entries[i])
		}
	}
}

func TestBuildTruncatesToWindow(t *testing.T) {
	msgs := make([]domain.Message, 0, history.WindowSize+20)
	for i := 1; i <= history.WindowSize+20; i++ {
		msgs = append(msgs, msgAt(i, "u", fmt.Sprintf("m%d", i)))
	}

	tr := Build(msgs)
	if tr.Len() != history.WindowSize {
		t.Fatalf("expected %d entries, got %d", history.WindowSize, tr.Len())
	}
	// The newest messages survive truncation.
	if !strings.Contains(tr.Entries[tr.Len()-1], fmt.Sprintf("content: m%d ", history.WindowSize+20)) {
		t.Errorf("newest message missing after truncation: %q", tr.Entries[tr.Len()-1])
	}
}

func TestBuildIsPure(t *testing.T) {
	msgs := []domain.Message{msgAt(1, "alice", "hi"), msgAt(2, "bob", "yo")}

	a := Build(msgs)
	b := Build(msgs)
	if a.Prompt() != b.Prompt() {
		t.Error("identical input produced different transcripts")
	}
}

func TestPrompt(t *testing.T) {
	tr := Build([]domain.Message{
		msgAt(1, "alice", "hello"),
		msgAt(2, "bob", "hi there"),
	})

	got := tr.Prompt()
	want := "User: username: alice \n content: hello \n time: 2025-06-01 12:00:01" +
		",\nUser: username: bob \n content: hi there \n time: 2025-06-01 12:00:02"
	if got != want {
		t.Errorf("prompt mismatch:\n got: %q\nwant: %q", got, want)
	}
}

func TestPromptEmpty(t *testing.T) {
	if got := Build(nil).Prompt(); got != "" {
		t.Errorf("expected empty prompt, got %q", got)
	}
}
