// Package engine decides whether the bot speaks, and what it says. Every
// evaluation either yields a reply or suppresses one; any failure along the
// way suppresses. Silence is always safe, an unwanted message is not.
package engine

import (
	"context"
	"encoding/json"
	"log/slog"
	"strings"
	"time"

	"github.com/jkaninda/mioo/internal/domain"
	"github.com/jkaninda/mioo/internal/llm"
	"github.com/jkaninda/mioo/internal/observability"
	"github.com/jkaninda/mioo/internal/transcript"
)

// DefaultGenerationTimeout bounds a single model call.
const DefaultGenerationTimeout = 60 * time.Second

// Decision is the outcome of one evaluation.
type Decision struct {
	Respond bool
	Text    string
}

// Suppress outcomes recorded in metrics and logs.
const (
	outcomeReply      = "reply"
	outcomeSampledOut = "sampled_out"
	outcomeDeclined   = "model_declined"
	outcomeError      = "generation_error"
)

// Engine evaluates incoming messages against the reply policy:
// direct replies to the bot always reach the model; everything else passes
// through one Bernoulli draw first. The model's own should_reply verdict
// gates the final outcome in both cases.
type Engine struct {
	provider llm.Provider
	sampler  Sampler
	persona  Persona
	timeout  time.Duration
	logger   *slog.Logger
	metrics  *observability.Metrics
}

// New creates a decision engine. A zero timeout falls back to
// DefaultGenerationTimeout. metrics may be nil.
func New(provider llm.Provider, sampler Sampler, persona Persona, timeout time.Duration, logger *slog.Logger, metrics *observability.Metrics) *Engine {
	if timeout <= 0 {
		timeout = DefaultGenerationTimeout
	}
	return &Engine{
		provider: provider,
		sampler:  sampler,
		persona:  persona,
		timeout:  timeout,
		logger:   logger,
		metrics:  metrics,
	}
}

// modelVerdict is the JSON object the model is instructed to return.
type modelVerdict struct {
	ShouldReply  bool   `json:"should_reply"`
	ReplyContent string `json:"reply_content"`
}

// Evaluate runs the reply policy for one incoming message. It makes at most
// one model call and never returns an error: every failure mode collapses to
// a suppressing Decision.
func (e *Engine) Evaluate(ctx context.Context, incoming *domain.Message, tr transcript.Transcript) Decision {
	if !incoming.ReplyToBot && !e.sampler.Sample() {
		e.metrics.RecordDecision(outcomeSampledOut)
		e.logger.DebugContext(ctx, "message sampled out",
			slog.Int64("chat_id", incoming.ChatID),
		)
		return Decision{}
	}

	ctx, cancel := context.WithTimeout(ctx, e.timeout)
	defer cancel()

	start := time.Now()
	resp, err := e.provider.SendMessage(ctx, &llm.Request{
		SystemPrompt: e.persona.SystemPrompt(incoming.ReplyToBot),
		Messages: []llm.Message{{
			Role:    llm.RoleUser,
			Content: "Here is the conversation history:\n\n" + tr.Prompt(),
		}},
		JSONResponse: true,
	})
	if err != nil {
		e.metrics.RecordDecision(outcomeError)
		e.metrics.RecordLLMRequest(e.provider.Name(), time.Since(start), 0, 0, false)
		e.logger.WarnContext(ctx, "reply generation failed, suppressing",
			slog.Int64("chat_id", incoming.ChatID),
			slog.String("error", err.Error()),
		)
		return Decision{}
	}
	e.metrics.RecordLLMRequest(e.provider.Name(), time.Since(start), resp.Usage.InputTokens, resp.Usage.OutputTokens, true)

	verdict, ok := parseVerdict(resp.Content)
	if !ok {
		e.metrics.RecordDecision(outcomeError)
		e.logger.WarnContext(ctx, "unparseable model verdict, suppressing",
			slog.Int64("chat_id", incoming.ChatID),
		)
		return Decision{}
	}

	if !verdict.ShouldReply || strings.TrimSpace(verdict.ReplyContent) == "" {
		e.metrics.RecordDecision(outcomeDeclined)
		return Decision{}
	}

	e.metrics.RecordDecision(outcomeReply)
	return Decision{Respond: true, Text: verdict.ReplyContent}
}

func parseVerdict(content string) (modelVerdict, bool) {
	var v modelVerdict
	if err := json.Unmarshal([]byte(strings.TrimSpace(content)), &v); err != nil {
		return modelVerdict{}, false
	}
	return v, true
}
