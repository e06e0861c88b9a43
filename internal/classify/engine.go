package classify

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/sony/gobreaker"

	"guest-inbox/internal/domain"
)

const (
	DefaultModelTimeout = 15 * time.Second
	minModelTimeout     = time.Second
)

// ChatClient is the model classification collaborator. It returns the raw
// assistant content, which should be a JSON payload.
type ChatClient interface {
	Chat(ctx context.Context, model string, messages []domain.ChatMessage) (string, error)
}

// Engine is the two-tier classifier. It holds no per-call state and is safe
// for concurrent use.
type Engine struct {
	llm          ChatClient
	model        string
	timeout      time.Duration
	historyTurns int
	breaker      *gobreaker.CircuitBreaker
	log          zerolog.Logger
}

type Option func(*Engine)

// WithTimeout sets the hard deadline of one model call.
func WithTimeout(d time.Duration) Option {
	return func(e *Engine) {
		if d >= minModelTimeout {
			e.timeout = d
		}
	}
}

// WithHistoryTurns bounds how many recent messages are sent to the model.
func WithHistoryTurns(n int) Option {
	return func(e *Engine) {
		if n > 0 {
			e.historyTurns = n
		}
	}
}

func WithLogger(log zerolog.Logger) Option {
	return func(e *Engine) {
		e.log = log.With().Str("component", "classify_engine").Logger()
	}
}

// WithBreakerSettings replaces the default circuit breaker settings.
func WithBreakerSettings(st gobreaker.Settings) Option {
	return func(e *Engine) {
		e.breaker = gobreaker.NewCircuitBreaker(st)
	}
}

// NewEngine creates an Engine. A nil llm or an empty model yields a
// keyword-only engine.
func NewEngine(llm ChatClient, model string, opts ...Option) *Engine {
	e := &Engine{
		llm:          llm,
		model:        strings.TrimSpace(model),
		timeout:      DefaultModelTimeout,
		historyTurns: defaultHistoryTurns,
		log:          zerolog.Nop(),
	}
	for _, opt := range opts {
		opt(e)
	}
	if e.breaker == nil {
		e.breaker = gobreaker.NewCircuitBreaker(defaultBreakerSettings(e))
	}
	return e
}

func defaultBreakerSettings(e *Engine) gobreaker.Settings {
	return gobreaker.Settings{
		Name:        "model-classifier",
		MaxRequests: 2,
		Interval:    60 * time.Second,
		Timeout:     30 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			failureRatio := float64(counts.TotalFailures) / float64(counts.Requests)
			return counts.ConsecutiveFailures >= 5 ||
				(counts.Requests >= 10 && failureRatio >= 0.6)
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			e.log.Warn().
				Str("breaker", name).
				Str("from", from.String()).
				Str("to", to.String()).
				Msg("circuit breaker state changed")
		},
	}
}

// ModelEnabled reports whether the model tier is configured.
func (e *Engine) ModelEnabled() bool {
	return e.llm != nil && e.model != ""
}

// Classify classifies the final inbound message of history. history must be
// in chronological order and end at the message being classified. The model
// tier is tried first; any failure falls back to the keyword tier. Classify
// never returns an error.
func (e *Engine) Classify(ctx context.Context, history []domain.Message, property domain.PropertyContext, customInstructions string) Result {
	last, ok := lastInbound(history)
	if !ok {
		return emptyResult()
	}

	if e.ModelEnabled() {
		res, err := e.classifyWithModel(ctx, history, property, customInstructions)
		if err == nil {
			return res
		}
		e.log.Warn().
			Err(err).
			Str("message_id", last.ID).
			Bool("breaker_open", errors.Is(err, gobreaker.ErrOpenState)).
			Msg("model classification failed, using keyword fallback")
	}
	return Fallback(last.Content)
}

func (e *Engine) classifyWithModel(ctx context.Context, history []domain.Message, property domain.PropertyContext, customInstructions string) (Result, error) {
	ctx, cancel := context.WithTimeout(ctx, e.timeout)
	defer cancel()

	prompt := buildPromptMessages(history, property, customInstructions, e.historyTurns)
	out, err := e.breaker.Execute(func() (interface{}, error) {
		raw, err := e.llm.Chat(ctx, e.model, prompt)
		if err != nil {
			return nil, err
		}
		return DecodePayload(raw)
	})
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil && !errors.Is(err, ctxErr) {
			err = fmt.Errorf("%w: %w", ctxErr, err)
		}
		return Result{}, err
	}
	payload, ok := out.(Payload)
	if !ok {
		return Result{}, fmt.Errorf("classify: unexpected breaker result %T", out)
	}
	return payload.toResult(), nil
}

func lastInbound(history []domain.Message) (domain.Message, bool) {
	for i := len(history) - 1; i >= 0; i-- {
		m := history[i]
		if m.Direction == domain.DirectionInbound && strings.TrimSpace(m.Content) != "" {
			return m, true
		}
	}
	return domain.Message{}, false
}
