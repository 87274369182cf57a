// Package telegram implements the Telegram Bot gateway using long polling or
// webhook mode. It routes updates to the contextual reply cycle, the image
// rendering commands, and the video downloader.
//
// Security:
//   - Bot token from TELEGRAM_BOT_TOKEN env var, never logged
//   - Webhook path derived from bot token hash (prevents unauthorized POSTs)
//   - Per-user rate limiting
//   - All reply cycles logged with correlation IDs
package telegram

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"sync"
	"time"

	"github.com/jkaninda/mioo/internal/bot"
	"github.com/jkaninda/mioo/internal/observability"
	"github.com/jkaninda/mioo/internal/ratelimit"
	"github.com/jkaninda/mioo/internal/render"
	"github.com/jkaninda/mioo/internal/video"
)

const defaultPollTimeout = 30

// Command bodies are wrapped in triple commas so Markdown content can span
// lines and contain any punctuation. The optional @suffix handles commands
// addressed to the bot in groups, e.g. /md2jpg@MioooooooooBot.
var (
	md2jpgRe   = regexp.MustCompile(`(?s)/md2jpg(?:@\w+)?\s*,,,(.*),,,`)
	text2jpgRe = regexp.MustCompile(`(?s)/text2jpg(?:@\w+)?\s*,,,(.*),,,`)
)

const welcomeText = "Hi! I can convert Markdown to an image. Send me a message like:\n\n /md2jpg ,,,Your markdown here,,, \n\nor\n\n /text2jpg ,,,Your plain text here,,, \n\nI can also download YouTube videos if you send me a link, and I might reply to messages in this group if I find them interesting, nya~"

// Config configures the Telegram gateway.
type Config struct {
	BotToken    string // From TELEGRAM_BOT_TOKEN env var.
	WebhookURL  string // If set, use webhook mode. If empty, use long polling.
	ListenAddr  string // For webhook mode.
	PollTimeout int    // Long poll timeout in seconds. 0 = 30s default.
	WorkDir     string // Scratch space for rendered images and videos.
}

// Gateway is the Telegram gateway.
type Gateway struct {
	config       Config
	bot          *bot.Bot
	renderer     *render.Renderer
	formatter    *render.Formatter
	fetcher      *video.Fetcher
	limiter      *ratelimit.Limiter
	logger       *slog.Logger
	metrics      *observability.Metrics
	httpClient   *http.Client
	uploadClient *http.Client
	apiBase      string
	server       *http.Server // nil in polling mode
	cancel       context.CancelFunc
	wg           sync.WaitGroup

	botUsername string // learned from getMe at startup
}

// NewGateway creates a Telegram gateway. fetcher may be nil to disable video
// downloads; metrics may be nil. The reply cycle is attached afterwards via
// WithBot.
func NewGateway(cfg Config, renderer *render.Renderer, formatter *render.Formatter, fetcher *video.Fetcher, rl *ratelimit.Limiter, logger *slog.Logger, metrics *observability.Metrics) *Gateway {
	if cfg.WorkDir == "" {
		cfg.WorkDir = os.TempDir()
	}
	return &Gateway{
		config:    cfg,
		renderer:  renderer,
		formatter: formatter,
		fetcher:   fetcher,
		limiter:   rl,
		logger:    logger,
		metrics:   metrics,
		httpClient: &http.Client{
			Timeout: time.Duration(cfg.pollTimeout()+10) * time.Second,
		},
		// Document uploads can be large videos; no client timeout, the
		// request context bounds them instead.
		uploadClient: &http.Client{},
		apiBase:      defaultAPIBase,
	}
}

// WithBot attaches the reply cycle. The gateway is also the bot's Sender, so
// the two are wired in sequence: gateway first, then the bot, then this.
func (g *Gateway) WithBot(b *bot.Bot) *Gateway {
	g.bot = b
	return g
}

// Start learns the bot identity and launches the gateway in webhook or
// long-polling mode, blocking until shutdown.
func (g *Gateway) Start(ctx context.Context) error {
	ctx, g.cancel = context.WithCancel(ctx)

	if err := g.loadIdentity(ctx); err != nil {
		return err
	}

	if g.config.WebhookURL != "" {
		return g.startWebhook(ctx)
	}
	return g.startPolling(ctx)
}

// Stop gracefully shuts down the gateway.
func (g *Gateway) Stop(ctx context.Context) error {
	if g.cancel != nil {
		g.cancel()
	}
	if g.server != nil {
		g.logger.Info("telegram gateway stopping webhook server")
		return g.server.Shutdown(ctx)
	}
	g.logger.Info("telegram gateway stopping poller")
	return nil
}

// loadIdentity fetches the bot's own username, needed to recognize replies
// addressed to the bot.
func (g *Gateway) loadIdentity(ctx context.Context) error {
	var me User
	if err := g.call(ctx, "getMe", map[string]any{}, &me); err != nil {
		return fmt.Errorf("fetching bot identity: %w", err)
	}
	g.botUsername = me.Username
	g.logger.Info("telegram gateway identity",
		slog.String("username", me.Username),
	)
	return nil
}

// --- Long Polling ---

func (g *Gateway) startPolling(ctx context.Context) error {
	g.logger.Info("telegram gateway starting long polling",
		slog.Int("timeout", g.config.pollTimeout()),
	)

	var offset int64
	for {
		select {
		case <-ctx.Done():
			g.wg.Wait()
			return nil
		default:
		}

		updates, err := g.getUpdates(ctx, offset)
		if err != nil {
			if ctx.Err() != nil {
				g.wg.Wait()
				return nil
			}
			g.logger.Error("telegram getUpdates failed", slog.String("error", err.Error()))
			time.Sleep(2 * time.Second)
			continue
		}

		for _, u := range updates {
			if u.UpdateID >= offset {
				offset = u.UpdateID + 1
			}
			// Each update gets its own goroutine so one slow chat never
			// stalls the others; per-chat ordering is enforced downstream.
			update := u
			g.wg.Add(1)
			go func() {
				defer g.wg.Done()
				g.processUpdate(ctx, &update)
			}()
		}
	}
}

func (g *Gateway) getUpdates(ctx context.Context, offset int64) ([]Update, error) {
	var updates []Update
	err := g.call(ctx, "getUpdates", map[string]any{
		"offset":  offset,
		"timeout": g.config.pollTimeout(),
	}, &updates)
	if err != nil {
		return nil, err
	}
	return updates, nil
}

// --- Webhook ---

func (g *Gateway) startWebhook(ctx context.Context) error {
	// Use a hash of the bot token as the webhook path to prevent unauthorized POSTs.
	secretPath := "/" + g.webhookSecret()

	mux := http.NewServeMux()
	mux.HandleFunc("POST "+secretPath, g.handleWebhook)

	g.server = &http.Server{
		Addr:              g.config.ListenAddr,
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      10 * time.Second,
		BaseContext:       func(_ net.Listener) context.Context { return ctx },
	}

	g.logger.Info("telegram gateway starting webhook",
		slog.String("addr", g.config.ListenAddr),
	)

	err := g.server.ListenAndServe()
	if errors.Is(err, http.ErrServerClosed) {
		return nil
	}
	return err
}

func (g *Gateway) handleWebhook(w http.ResponseWriter, r *http.Request) {
	var update Update
	if err := json.NewDecoder(io.LimitReader(r.Body, maxUpdateSize)).Decode(&update); err != nil {
		http.Error(w, "bad request", http.StatusBadRequest)
		return
	}
	defer r.Body.Close()

	g.processUpdate(r.Context(), &update)
	w.WriteHeader(http.StatusOK)
}

func (g *Gateway) webhookSecret() string {
	h := sha256.Sum256([]byte(g.config.BotToken))
	return hex.EncodeToString(h[:16]) // 32-char hex path
}

// --- Update Routing ---

func (g *Gateway) processUpdate(ctx context.Context, update *Update) {
	if update.Message == nil {
		return
	}
	g.handleMessage(ctx, update.Message)
}

func (g *Gateway) handleMessage(ctx context.Context, msg *Message) {
	if msg.From == nil || msg.From.IsBot {
		return
	}

	if msg.Document != nil {
		g.handleDocument(ctx, msg)
		return
	}

	text := strings.TrimSpace(msg.Text)
	if text == "" {
		return
	}

	if strings.HasPrefix(text, "/start") {
		if _, err := g.sendText(ctx, msg.Chat.ID, welcomeText, 0); err != nil {
			g.logger.Error("sending welcome failed", slog.String("error", err.Error()))
		}
		return
	}

	if m := md2jpgRe.FindStringSubmatch(msg.Text); m != nil {
		if !g.allowHeavy(ctx, msg) {
			return
		}
		g.handleMarkdownRender(ctx, msg, strings.TrimSpace(m[1]))
		return
	}
	if m := text2jpgRe.FindStringSubmatch(msg.Text); m != nil {
		if !g.allowHeavy(ctx, msg) {
			return
		}
		g.handleTextRender(ctx, msg, strings.TrimSpace(m[1]))
		return
	}

	if url, site, ok := video.DetectLink(text); ok && g.fetcher != nil {
		if !g.allowHeavy(ctx, msg) {
			return
		}
		g.handleVideo(ctx, msg, url, site)
		return
	}

	if msg.Chat.Type == "group" || msg.Chat.Type == "supergroup" {
		g.handleGroupChat(ctx, msg)
	}
}

// allowHeavy applies the per-user rate limit to resource-heavy commands
// (rendering, video downloads) and tells the user when they are over quota.
func (g *Gateway) allowHeavy(ctx context.Context, msg *Message) bool {
	if g.limiter == nil {
		return true
	}
	if err := g.limiter.Allow(msg.From.ID); err != nil {
		g.logger.Warn("rate limited",
			slog.Int64("user_id", msg.From.ID),
		)
		_, _ = g.sendText(ctx, msg.Chat.ID, "Rate limit exceeded. Please wait before trying again.", msg.MessageID)
		return false
	}
	return true
}

// --- Group Replies ---

// handleGroupChat feeds a group message into the contextual reply cycle. The
// cycle itself decides whether a reply goes out.
func (g *Gateway) handleGroupChat(ctx context.Context, msg *Message) {
	// Over-quota chatter is dropped silently; an error message per dropped
	// group message would be worse spam than the chatter itself.
	if g.limiter != nil {
		if err := g.limiter.Allow(msg.From.ID); err != nil {
			return
		}
	}

	err := g.bot.OnMessage(ctx, &bot.Incoming{
		ChatID:     msg.Chat.ID,
		MessageID:  int(msg.MessageID),
		Username:   msg.From.FullName(),
		Text:       msg.Text,
		ReplyToBot: g.isReplyToBot(msg),
	})
	if err != nil {
		g.logger.Error("reply cycle failed",
			slog.Int64("chat_id", msg.Chat.ID),
			slog.String("error", err.Error()),
		)
	}
}

// isReplyToBot reports whether the message is a direct reply to one of this
// bot's own messages.
func (g *Gateway) isReplyToBot(msg *Message) bool {
	return msg.ReplyTo != nil &&
		msg.ReplyTo.From != nil &&
		msg.ReplyTo.From.IsBot &&
		msg.ReplyTo.From.Username == g.botUsername
}

// Send delivers a reply from the decision cycle, targeting the message that
// triggered it. Long replies are split at paragraph and line boundaries.
func (g *Gateway) Send(ctx context.Context, chatID int64, text string, replyTo int) error {
	chunks := splitMessage(text, telegramSafeMaxLen)
	for i, chunk := range chunks {
		target := int64(0)
		if i == 0 {
			target = int64(replyTo)
		}
		if _, err := g.sendText(ctx, chatID, chunk, target); err != nil {
			return err
		}
	}
	return nil
}

var _ bot.Sender = (*Gateway)(nil)

// --- Image Rendering ---

func (g *Gateway) handleMarkdownRender(ctx context.Context, msg *Message, markdown string) {
	if markdown == "" {
		_, _ = g.sendText(ctx, msg.Chat.ID, "Please provide some markdown content inside the triple quotes.", msg.MessageID)
		return
	}

	status, _ := g.sendText(ctx, msg.Chat.ID, "Generating your image, please wait a moment...", msg.MessageID)
	outPath := filepath.Join(g.config.WorkDir, fmt.Sprintf("md_%d.jpg", msg.MessageID))

	g.finishRender(ctx, msg, status, outPath, markdown)
}

func (g *Gateway) handleTextRender(ctx context.Context, msg *Message, text string) {
	if text == "" {
		_, _ = g.sendText(ctx, msg.Chat.ID, "Please provide some text content inside the triple quotes.", msg.MessageID)
		return
	}

	status, _ := g.sendText(ctx, msg.Chat.ID, "Converting your text to markdown, please wait a moment...", msg.MessageID)

	markdown, err := g.formatter.ToMarkdown(ctx, text)
	if err != nil {
		g.logger.Error("text to markdown failed", slog.String("error", err.Error()))
		g.renderFailed(ctx, msg, status)
		return
	}

	if status != nil {
		g.editText(ctx, msg.Chat.ID, status.MessageID, "Generating your image from markdown, please wait a moment...")
	}

	outPath := filepath.Join(g.config.WorkDir, fmt.Sprintf("text_%d.jpg", msg.MessageID))
	g.finishRender(ctx, msg, status, outPath, markdown)
}

// handleDocument renders an attached .md or .txt file as an image. Plain
// text files go through the Markdown formatter first.
func (g *Gateway) handleDocument(ctx context.Context, msg *Message) {
	name := msg.Document.FileName
	isMarkdown := strings.HasSuffix(name, ".md")
	if !isMarkdown && !strings.HasSuffix(name, ".txt") {
		return
	}
	if !g.allowHeavy(ctx, msg) {
		return
	}

	content, err := g.downloadFile(ctx, msg.Document.FileID)
	if err != nil {
		g.logger.Error("document download failed",
			slog.String("file", name),
			slog.String("error", err.Error()),
		)
		_, _ = g.sendText(ctx, msg.Chat.ID, "Sorry, I could not read your file.", msg.MessageID)
		return
	}

	markdown := string(content)
	var status *Message
	if !isMarkdown {
		status, _ = g.sendText(ctx, msg.Chat.ID, "Converting your file to markdown, please wait a moment...", msg.MessageID)
		markdown, err = g.formatter.ToMarkdown(ctx, string(content))
		if err != nil {
			g.logger.Error("file to markdown failed", slog.String("error", err.Error()))
			g.renderFailed(ctx, msg, status)
			return
		}
	}

	outPath := filepath.Join(g.config.WorkDir, fmt.Sprintf("file_%d.jpg", msg.MessageID))
	g.finishRender(ctx, msg, status, outPath, markdown)
}

// finishRender runs the Markdown pipeline, delivers the image as a document,
// and cleans up the status message and the output file.
func (g *Gateway) finishRender(ctx context.Context, msg *Message, status *Message, outPath, markdown string) {
	defer os.Remove(outPath)

	if err := g.renderer.RenderMarkdown(ctx, markdown, render.ThemeFormalCode, outPath); err != nil {
		g.logger.Error("markdown render failed", slog.String("error", err.Error()))
		g.renderFailed(ctx, msg, status)
		return
	}

	err := g.sendDocument(ctx, msg.Chat.ID, outPath, "", msg.MessageID)
	g.metrics.RecordTelegramSend(err == nil)
	if err != nil {
		g.logger.Error("sending rendered image failed", slog.String("error", err.Error()))
		g.renderFailed(ctx, msg, status)
		return
	}

	if status != nil {
		g.deleteMessage(ctx, msg.Chat.ID, status.MessageID)
	}
}

func (g *Gateway) renderFailed(ctx context.Context, msg *Message, status *Message) {
	_, _ = g.sendText(ctx, msg.Chat.ID, "Sorry, I encountered an error while creating your image.", msg.MessageID)
	if status != nil {
		g.deleteMessage(ctx, msg.Chat.ID, status.MessageID)
	}
}

// --- Video Downloads ---

func (g *Gateway) handleVideo(ctx context.Context, msg *Message, url, site string) {
	status, _ := g.sendText(ctx, msg.Chat.ID, "Downloading your video, please wait a moment...", msg.MessageID)

	fail := func(err error) {
		g.logger.Error("video download failed",
			slog.String("url", url),
			slog.String("error", err.Error()),
		)
		_, _ = g.sendText(ctx, msg.Chat.ID, "Sorry, I encountered an error while downloading your video.", msg.MessageID)
		if status != nil {
			g.deleteMessage(ctx, msg.Chat.ID, status.MessageID)
		}
	}

	title, err := g.fetcher.Title(ctx, url)
	if err != nil {
		fail(err)
		return
	}

	outPath := filepath.Join(g.config.WorkDir,
		fmt.Sprintf("%s_%d_%d.mp4", title, msg.MessageID, time.Now().Unix()))
	defer os.Remove(outPath)

	if err := g.fetcher.Fetch(ctx, url, site, outPath); err != nil {
		fail(err)
		return
	}

	if status != nil {
		g.editText(ctx, msg.Chat.ID, status.MessageID, "Download completed successfully. Sending the video...")
	}

	caption := fmt.Sprintf("%s\n<a href=\"%s\">original link</a>\nRequested by: %s",
		escapeHTML(title), url, escapeHTML(msg.From.FullName()))
	err = g.sendDocument(ctx, msg.Chat.ID, outPath, caption, msg.MessageID)
	g.metrics.RecordTelegramSend(err == nil)
	if err != nil {
		fail(err)
		return
	}

	if status != nil {
		g.deleteMessage(ctx, msg.Chat.ID, status.MessageID)
	}
	// The link message is gone once the video is delivered; the caption
	// keeps the original URL.
	g.deleteMessage(ctx, msg.Chat.ID, msg.MessageID)
}

// --- Helpers ---

func (c Config) pollTimeout() int {
	if c.PollTimeout > 0 {
		return c.PollTimeout
	}
	return defaultPollTimeout
}

// escapeHTML escapes characters that are special in Telegram's HTML parse mode.
func escapeHTML(s string) string {
	r := strings.NewReplacer("&", "&amp;", "<", "&lt;", ">", "&gt;")
	return r.Replace(s)
}
