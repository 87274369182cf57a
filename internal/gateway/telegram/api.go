package telegram

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"unicode/utf8"
)

const (
	defaultAPIBase = "https://api.telegram.org"
	maxUpdateSize  = 256 << 10 // 256 KB
	maxFileSize    = 20 << 20  // Bot API download cap.

	telegramSafeMaxLen = 4000 // Safe margin for unicode/encoding overhead.
)

// --- Wire types ---

// Update represents a Telegram Bot API update.
type Update struct {
	UpdateID int64    `json:"update_id"`
	Message  *Message `json:"message,omitempty"`
}

// Message represents a Telegram message.
type Message struct {
	MessageID int64     `json:"message_id"`
	From      *User     `json:"from,omitempty"`
	Chat      Chat      `json:"chat"`
	Text      string    `json:"text"`
	Document  *Document `json:"document,omitempty"`
	ReplyTo   *Message  `json:"reply_to_message,omitempty"`
}

// User represents a Telegram user.
type User struct {
	ID        int64  `json:"id"`
	IsBot     bool   `json:"is_bot"`
	FirstName string `json:"first_name"`
	LastName  string `json:"last_name"`
	Username  string `json:"username"`
}

// FullName is the display name history entries are recorded under.
func (u *User) FullName() string {
	if u == nil {
		return ""
	}
	if u.LastName == "" {
		return u.FirstName
	}
	return u.FirstName + " " + u.LastName
}

// Chat represents a Telegram chat.
type Chat struct {
	ID   int64  `json:"id"`
	Type string `json:"type"`
}

// Document represents a file attached to a message.
type Document struct {
	FileID   string `json:"file_id"`
	FileName string `json:"file_name"`
	FileSize int64  `json:"file_size"`
}

type apiEnvelope struct {
	OK          bool            `json:"ok"`
	Result      json.RawMessage `json:"result"`
	Description string          `json:"description"`
}

// --- API client ---

func (g *Gateway) apiURL(method string) string {
	return fmt.Sprintf("%s/bot%s/%s", g.apiBase, g.config.BotToken, method)
}

// call invokes a Bot API method with a JSON body and decodes the result into
// out when out is non-nil.
func (g *Gateway) call(ctx context.Context, method string, params map[string]any, out any) error {
	body, err := json.Marshal(params)
	if err != nil {
		return fmt.Errorf("encoding %s params: %w", method, err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, g.apiURL(method), bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("building %s request: %w", method, err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := g.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("calling %s: %w", method, err)
	}
	defer resp.Body.Close()

	return decodeEnvelope(resp.Body, method, out)
}

func decodeEnvelope(r io.Reader, method string, out any) error {
	var env apiEnvelope
	if err := json.NewDecoder(io.LimitReader(r, maxUpdateSize)).Decode(&env); err != nil {
		return fmt.Errorf("decoding %s response: %w", method, err)
	}
	if !env.OK {
		return fmt.Errorf("%s: telegram API error: %s", method, env.Description)
	}
	if out != nil {
		if err := json.Unmarshal(env.Result, out); err != nil {
			return fmt.Errorf("decoding %s result: %w", method, err)
		}
	}
	return nil
}

// sendText sends a plain text message, returning the sent message so status
// messages can be edited or deleted later.
func (g *Gateway) sendText(ctx context.Context, chatID int64, text string, replyTo int64) (*Message, error) {
	params := map[string]any{
		"chat_id": chatID,
		"text":    text,
	}
	if replyTo != 0 {
		params["reply_to_message_id"] = replyTo
	}
	var msg Message
	if err := g.call(ctx, "sendMessage", params, &msg); err != nil {
		return nil, err
	}
	return &msg, nil
}

func (g *Gateway) editText(ctx context.Context, chatID, messageID int64, text string) {
	err := g.call(ctx, "editMessageText", map[string]any{
		"chat_id":    chatID,
		"message_id": messageID,
		"text":       text,
	}, nil)
	if err != nil {
		g.logger.Warn("editing status message failed", "error", err)
	}
}

func (g *Gateway) deleteMessage(ctx context.Context, chatID, messageID int64) {
	err := g.call(ctx, "deleteMessage", map[string]any{
		"chat_id":    chatID,
		"message_id": messageID,
	}, nil)
	if err != nil {
		g.logger.Warn("deleting message failed", "error", err)
	}
}

// sendDocument uploads a local file as a document via multipart form data.
// caption may be empty; when set it is sent with HTML parse mode.
func (g *Gateway) sendDocument(ctx context.Context, chatID int64, path, caption string, replyTo int64) error {
	file, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("opening document: %w", err)
	}
	defer file.Close()

	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)

	_ = w.WriteField("chat_id", fmt.Sprintf("%d", chatID))
	if replyTo != 0 {
		_ = w.WriteField("reply_to_message_id", fmt.Sprintf("%d", replyTo))
	}
	if caption != "" {
		_ = w.WriteField("caption", caption)
		_ = w.WriteField("parse_mode", "HTML")
	}

	part, err := w.CreateFormFile("document", filepath.Base(path))
	if err != nil {
		return fmt.Errorf("building upload form: %w", err)
	}
	if _, err := io.Copy(part, file); err != nil {
		return fmt.Errorf("reading document: %w", err)
	}
	if err := w.Close(); err != nil {
		return fmt.Errorf("finalizing upload form: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, g.apiURL("sendDocument"), &buf)
	if err != nil {
		return fmt.Errorf("building sendDocument request: %w", err)
	}
	req.Header.Set("Content-Type", w.FormDataContentType())

	resp, err := g.uploadClient.Do(req)
	if err != nil {
		return fmt.Errorf("calling sendDocument: %w", err)
	}
	defer resp.Body.Close()

	return decodeEnvelope(resp.Body, "sendDocument", nil)
}

// downloadFile fetches an attached file's content through the Bot API file
// endpoint.
func (g *Gateway) downloadFile(ctx context.Context, fileID string) ([]byte, error) {
	var info struct {
		FilePath string `json:"file_path"`
	}
	if err := g.call(ctx, "getFile", map[string]any{"file_id": fileID}, &info); err != nil {
		return nil, err
	}
	if info.FilePath == "" {
		return nil, fmt.Errorf("getFile returned no path")
	}

	url := fmt.Sprintf("%s/file/bot%s/%s", g.apiBase, g.config.BotToken, info.FilePath)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("building file request: %w", err)
	}

	resp, err := g.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("downloading file: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("downloading file: status %d", resp.StatusCode)
	}
	return io.ReadAll(io.LimitReader(resp.Body, maxFileSize))
}

// --- Message Splitting ---

// splitMessage splits text into chunks that fit within Telegram's message limit.
// It splits at paragraph boundaries, then line boundaries, then word boundaries,
// and tracks code fences (```) so they are properly closed/reopened across chunks.
func splitMessage(text string, maxLen int) []string {
	if len(text) <= maxLen {
		return []string{text}
	}

	var chunks []string
	remaining := text
	inCodeBlock := false
	codeFenceLang := "" // language tag from opening fence, e.g. "go" from ```go

	for len(remaining) > 0 {
		if len(remaining) <= maxLen {
			chunks = append(chunks, remaining)
			break
		}

		// Find the best split point within maxLen.
		candidate := remaining[:maxLen]
		splitAt := -1

		// Priority 1: paragraph boundary (double newline).
		if idx := strings.LastIndex(candidate, "\n\n"); idx > 0 {
			splitAt = idx + 1 // Keep first newline in this chunk.
		}

		// Priority 2: line boundary (single newline).
		if splitAt < 0 {
			if idx := strings.LastIndex(candidate, "\n"); idx > 0 {
				splitAt = idx + 1
			}
		}

		// Priority 3: word boundary (space).
		if splitAt < 0 {
			if idx := strings.LastIndex(candidate, " "); idx > 0 {
				splitAt = idx + 1
			}
		}

		// Priority 4: hard cut, backed up so a multi-byte rune is never
		// split across chunks.
		if splitAt < 0 {
			splitAt = maxLen
			for splitAt > 0 && !utf8.RuneStart(remaining[splitAt]) {
				splitAt--
			}
			if splitAt == 0 {
				splitAt = maxLen
			}
		}

		chunk := remaining[:splitAt]
		remaining = remaining[splitAt:]

		// Track code fences in this chunk to determine whether we end inside
		// a code block.
		fenceCount := 0
		searchPos := 0
		for {
			idx := strings.Index(chunk[searchPos:], "```")
			if idx < 0 {
				break
			}
			absIdx := searchPos + idx
			fenceCount++
			if fenceCount%2 == 1 && !inCodeBlock {
				// Opening fence, capture the language tag on the same line.
				afterFence := chunk[absIdx+3:]
				if nlIdx := strings.Index(afterFence, "\n"); nlIdx >= 0 {
					codeFenceLang = strings.TrimSpace(afterFence[:nlIdx])
				} else {
					codeFenceLang = strings.TrimSpace(afterFence)
				}
			}
			searchPos = absIdx + 3
		}

		if fenceCount%2 == 1 {
			inCodeBlock = !inCodeBlock
		}

		// If we're inside a code block at the end of this chunk, close it
		// and re-open it at the start of the next chunk.
		if inCodeBlock {
			chunk += "\n```"
			if codeFenceLang != "" {
				remaining = "```" + codeFenceLang + "\n" + remaining
			} else {
				remaining = "```\n" + remaining
			}
		}

		chunks = append(chunks, chunk)
	}

	return chunks
}
