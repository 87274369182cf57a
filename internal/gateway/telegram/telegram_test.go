package telegram

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"unicode/utf8"

	"github.com/jkaninda/mioo/internal/bot"
	"github.com/jkaninda/mioo/internal/engine"
	"github.com/jkaninda/mioo/internal/history"
)

func TestRenderCommandRegex(t *testing.T) {
	tests := []struct {
		name string
		text string
		want string
		ok   bool
	}{
		{"plain", "/md2jpg ,,,# Title,,,", "# Title", true},
		{"addressed to bot", "/md2jpg@MioooooooooBot ,,,hello,,,", "hello", true},
		{"multiline", "/md2jpg ,,,line one\nline two,,,", "line one\nline two", true},
		{"empty body", "/md2jpg ,,,,,,", "", true},
		{"unterminated", "/md2jpg ,,,no closing", "", false},
		{"no command", "just chatting", "", false},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			m := md2jpgRe.FindStringSubmatch(tc.text)
			if (m != nil) != tc.ok {
				t.Fatalf("match = %v, want %v", m != nil, tc.ok)
			}
			if m != nil && strings.TrimSpace(m[1]) != tc.want {
				t.Errorf("captured %q, want %q", strings.TrimSpace(m[1]), tc.want)
			}
		})
	}
}

func TestIsReplyToBot(t *testing.T) {
	g := &Gateway{botUsername: "mioo_bot"}

	tests := []struct {
		name string
		msg  Message
		want bool
	}{
		{"no reply target", Message{}, false},
		{"reply to human", Message{ReplyTo: &Message{From: &User{Username: "alice"}}}, false},
		{"reply to other bot", Message{ReplyTo: &Message{From: &User{IsBot: true, Username: "weather_bot"}}}, false},
		{"reply to this bot", Message{ReplyTo: &Message{From: &User{IsBot: true, Username: "mioo_bot"}}}, true},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			if got := g.isReplyToBot(&tc.msg); got != tc.want {
				t.Errorf("isReplyToBot = %v, want %v", got, tc.want)
			}
		})
	}
}

func TestUserFullName(t *testing.T) {
	if got := (&User{FirstName: "Ada", LastName: "Lovelace"}).FullName(); got != "Ada Lovelace" {
		t.Errorf("FullName = %q", got)
	}
	if got := (&User{FirstName: "Ada"}).FullName(); got != "Ada" {
		t.Errorf("FullName without last name = %q", got)
	}
	var nobody *User
	if got := nobody.FullName(); got != "" {
		t.Errorf("nil user FullName = %q", got)
	}
}

func TestSplitMessage(t *testing.T) {
	t.Run("short text passes through", func(t *testing.T) {
		chunks := splitMessage("hello", 100)
		if len(chunks) != 1 || chunks[0] != "hello" {
			t.Errorf("unexpected chunks: %v", chunks)
		}
	})

	t.Run("splits at paragraph boundary", func(t *testing.T) {
		text := strings.Repeat("a", 60) + "\n\n" + strings.Repeat("b", 60)
		chunks := splitMessage(text, 100)
		if len(chunks) != 2 {
			t.Fatalf("expected 2 chunks, got %d", len(chunks))
		}
		for i, c := range chunks {
			if len(c) > 100 {
				t.Errorf("chunk %d exceeds limit: %d bytes", i, len(c))
			}
		}
		if !strings.HasPrefix(strings.TrimLeft(chunks[1], "\n"), "b") {
			t.Errorf("second chunk should start the next paragraph: %q", chunks[1])
		}
	})

	t.Run("reopens code fences across chunks", func(t *testing.T) {
		text := "```go\n" + strings.Repeat("x := 1\n", 30) + "```"
		chunks := splitMessage(text, 100)
		if len(chunks) < 2 {
			t.Fatalf("expected multiple chunks, got %d", len(chunks))
		}
		if !strings.HasSuffix(chunks[0], "```") {
			t.Errorf("first chunk should close its fence: %q", chunks[0])
		}
		if !strings.HasPrefix(chunks[1], "```go\n") {
			t.Errorf("second chunk should reopen the fence with its language: %q", chunks[1])
		}
	})

	t.Run("hard cut keeps runes intact", func(t *testing.T) {
		// No newlines or spaces, so only the hard cut applies. Each rune is
		// 3 bytes and 100 is not a multiple of 3.
		text := strings.Repeat("猫", 50)
		chunks := splitMessage(text, 100)
		if len(chunks) < 2 {
			t.Fatalf("expected multiple chunks, got %d", len(chunks))
		}
		for i, c := range chunks {
			if len(c) > 100 {
				t.Errorf("chunk %d exceeds limit: %d bytes", i, len(c))
			}
			if !utf8.ValidString(c) {
				t.Errorf("chunk %d splits a rune: %q", i, c)
			}
		}
		if strings.Join(chunks, "") != text {
			t.Error("chunks do not reassemble the original text")
		}
	})
}

// apiRecorder fakes the Bot API, recording every method call.
type apiRecorder struct {
	mu    sync.Mutex
	calls []apiCall
}

type apiCall struct {
	method string
	params map[string]any
}

func (a *apiRecorder) handler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		method := r.URL.Path[strings.LastIndexByte(r.URL.Path, '/')+1:]

		params := map[string]any{}
		body, _ := io.ReadAll(r.Body)
		_ = json.Unmarshal(body, &params)

		a.mu.Lock()
		a.calls = append(a.calls, apiCall{method: method, params: params})
		a.mu.Unlock()

		switch method {
		case "getMe":
			io.WriteString(w, `{"ok":true,"result":{"id":1,"is_bot":true,"first_name":"Mioo","username":"mioo_bot"}}`)
		case "sendMessage":
			io.WriteString(w, `{"ok":true,"result":{"message_id":900,"chat":{"id":1}}}`)
		default:
			io.WriteString(w, `{"ok":true,"result":{}}`)
		}
	}
}

func (a *apiRecorder) byMethod(method string) []apiCall {
	a.mu.Lock()
	defer a.mu.Unlock()
	var out []apiCall
	for _, c := range a.calls {
		if c.method == method {
			out = append(out, c)
		}
	}
	return out
}

func newTestGateway(t *testing.T, rec *apiRecorder) (*Gateway, history.Store) {
	t.Helper()

	srv := httptest.NewServer(rec.handler())
	t.Cleanup(srv.Close)

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	store := history.NewMemoryStore()

	// A sampler that never fires keeps the provider out of these tests.
	eng := engine.New(nil, engine.FixedSampler(false), engine.DefaultPersona(nil), 0, logger, nil)

	g := NewGateway(Config{BotToken: "test-token", WorkDir: t.TempDir()}, nil, nil, nil, nil, logger, nil)
	g.apiBase = srv.URL
	g.botUsername = "mioo_bot"
	g.WithBot(bot.New(store, eng, g, logger, nil))
	return g, store
}

func TestStartCommandSendsWelcome(t *testing.T) {
	rec := &apiRecorder{}
	g, _ := newTestGateway(t, rec)

	g.handleMessage(context.Background(), &Message{
		MessageID: 5,
		From:      &User{ID: 10, FirstName: "Ada"},
		Chat:      Chat{ID: 1, Type: "private"},
		Text:      "/start",
	})

	sends := rec.byMethod("sendMessage")
	if len(sends) != 1 {
		t.Fatalf("expected 1 sendMessage, got %d", len(sends))
	}
	if sends[0].params["text"] != welcomeText {
		t.Errorf("unexpected welcome text: %v", sends[0].params["text"])
	}
}

func TestGroupMessageEntersHistory(t *testing.T) {
	rec := &apiRecorder{}
	g, store := newTestGateway(t, rec)

	g.handleMessage(context.Background(), &Message{
		MessageID: 7,
		From:      &User{ID: 10, FirstName: "Ada", LastName: "Lovelace"},
		Chat:      Chat{ID: 42, Type: "group"},
		Text:      "good morning everyone",
	})

	msgs, err := store.Recent(context.Background(), 42, history.WindowSize)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(msgs) != 1 {
		t.Fatalf("expected 1 stored message, got %d", len(msgs))
	}
	if msgs[0].Username != "Ada Lovelace" || msgs[0].Text != "good morning everyone" {
		t.Errorf("unexpected stored message: %+v", msgs[0])
	}
	// Sampled out, so nothing was sent.
	if sends := rec.byMethod("sendMessage"); len(sends) != 0 {
		t.Errorf("expected no sends, got %d", len(sends))
	}
}

func TestPrivateChatterIsIgnored(t *testing.T) {
	rec := &apiRecorder{}
	g, store := newTestGateway(t, rec)

	g.handleMessage(context.Background(), &Message{
		MessageID: 7,
		From:      &User{ID: 10, FirstName: "Ada"},
		Chat:      Chat{ID: 42, Type: "private"},
		Text:      "hello there",
	})

	msgs, _ := store.Recent(context.Background(), 42, history.WindowSize)
	if len(msgs) != 0 {
		t.Errorf("private chatter should not enter history, got %d messages", len(msgs))
	}
}

func TestSendSplitsAndTargetsReply(t *testing.T) {
	rec := &apiRecorder{}
	g, _ := newTestGateway(t, rec)

	long := strings.Repeat("a", 3000) + "\n\n" + strings.Repeat("b", 3000)
	if err := g.Send(context.Background(), 1, long, 77); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	sends := rec.byMethod("sendMessage")
	if len(sends) != 2 {
		t.Fatalf("expected 2 chunks, got %d", len(sends))
	}
	if _, ok := sends[0].params["reply_to_message_id"]; !ok {
		t.Error("first chunk should target the triggering message")
	}
	if _, ok := sends[1].params["reply_to_message_id"]; ok {
		t.Error("continuation chunks should not carry a reply target")
	}
}

func TestLoadIdentity(t *testing.T) {
	rec := &apiRecorder{}
	g, _ := newTestGateway(t, rec)
	g.botUsername = ""

	if err := g.loadIdentity(context.Background()); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if g.botUsername != "mioo_bot" {
		t.Errorf("botUsername = %q", g.botUsername)
	}
}
