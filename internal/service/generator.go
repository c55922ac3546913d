package service

import (
	"context"
	"errors"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/cloo-solutions/ragchat/internal/domain"
	"github.com/cloo-solutions/ragchat/internal/openai"
	"github.com/cloo-solutions/ragchat/internal/telemetry"
	"go.uber.org/zap"
)

const (
	defaultGenerationTimeout = 60 * time.Second
	defaultRetryDelay        = 500 * time.Millisecond
	generationRetries        = 1
)

// GeneratorConfig configures answer generation.
type GeneratorConfig struct {
	Timeout     time.Duration
	MaxTokens   int
	Temperature float32
	// RetryDelay is the initial backoff before the single transient retry.
	RetryDelay time.Duration
}

// Generator produces the answer for a prompt.
type Generator struct {
	completer ChatCompleter
	cfg       GeneratorConfig
	logger    *zap.Logger
}

func NewGenerator(completer ChatCompleter, cfg GeneratorConfig, logger *zap.Logger) *Generator {
	if cfg.Timeout <= 0 {
		cfg.Timeout = defaultGenerationTimeout
	}
	if cfg.RetryDelay <= 0 {
		cfg.RetryDelay = defaultRetryDelay
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Generator{completer: completer, cfg: cfg, logger: logger}
}

// Generate calls the chat deployment once, retrying a single time after a
// backoff delay when the failure is transient. Each attempt is bounded by the
// configured timeout. Rate limits and content filter rejections are returned
// without retry. Cancellation of ctx returns ctx.Err().
func (g *Generator) Generate(ctx context.Context, prompt domain.Prompt) (*domain.Answer, error) {
	ctx, span := telemetry.StartSpan(ctx, "generator.generate", telemetry.SpanAttributes{Operation: "generate"})
	defer span.End()

	messages := prompt.Messages()
	opts := openai.CompletionOptions{MaxTokens: g.cfg.MaxTokens, Temperature: g.cfg.Temperature}

	var answer *domain.Answer
	operation := func() error {
		attemptCtx, cancel := context.WithTimeout(ctx, g.cfg.Timeout)
		defer cancel()

		a, err := g.completer.Complete(attemptCtx, messages, opts)
		if err == nil {
			answer = a
			return nil
		}
		switch {
		case ctx.Err() != nil:
			return backoff.Permanent(ctx.Err())
		case errors.Is(attemptCtx.Err(), context.DeadlineExceeded), errors.Is(err, context.DeadlineExceeded):
			return backoff.Permanent(domain.ErrGenerationTimeout.WithCause(err))
		case domain.IsTransient(err):
			return err
		case domain.CodeOf(err) == "", domain.HasCode(err, domain.ErrCodeUnauthorized):
			return backoff.Permanent(domain.ErrServiceUnavailable.WithCause(err))
		default:
			return backoff.Permanent(err)
		}
	}

	policy := backoff.NewExponentialBackOff()
	policy.InitialInterval = g.cfg.RetryDelay
	b := backoff.WithContext(backoff.WithMaxRetries(policy, generationRetries), ctx)

	err := backoff.RetryNotify(operation, b, func(err error, wait time.Duration) {
		g.logger.Warn("chat completion failed, retrying", zap.Error(err), zap.Duration("backoff", wait))
	})
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		span.SetError(err)
		return nil, err
	}
	return answer, nil
}
