// Package transcript turns a conversation window into the textual form the
// language model consumes. Build is a pure function: same messages in, same
// transcript out.
package transcript

import (
	"fmt"
	"strings"

	"github.com/jkaninda/mioo/internal/domain"
	"github.com/jkaninda/mioo/internal/history"
)

// FormatVersion identifies the serialized transcript layout. The model prompt
// depends on this layout staying stable, so any change to the entry format or
// the joining rule must bump this value.
const FormatVersion = 1

const timeLayout = "2006-01-02 15:04:05"

// Transcript is an ordered rendering of a conversation window, oldest first.
type Transcript struct {
	Entries []string
}

// Build renders the given messages, oldest first, one entry per message.
// Messages beyond the window bound are dropped from the front so the newest
// survive. Bot-authored messages are labeled with the bot's own name, which
// lets the model recognize its previous turns.
func Build(msgs []domain.Message) Transcript {
	if len(msgs) > history.WindowSize {
		msgs = msgs[len(msgs)-history.WindowSize:]
	}

	entries := make([]string, 0, len(msgs))
	for _, m := range msgs {
		name := m.Username
		if m.FromBot {
			name = domain.BotSenderName
		}
		entries = append(entries, formatEntry(name, m.Text, m.CreatedAt.UTC().Format(timeLayout)))
	}
	return Transcript{Entries: entries}
}

func formatEntry(username, content, when string) string {
	return fmt.Sprintf("username: %s \n content: %s \n time: %s", username, content, when)
}

// Len reports the number of entries.
func (t Transcript) Len() int { return len(t.Entries) }

// Prompt renders the transcript as the user-turn payload sent to the model,
// one "User:" line per entry.
func (t Transcript) Prompt() string {
	if len(t.Entries) == 0 {
		return ""
	}
	var b strings.Builder
	for i, e := range t.Entries {
		if i > 0 {
			b.WriteString(",\n")
		}
		b.WriteString("User: ")
		b.WriteString(e)
	}
	return b.String()
}
