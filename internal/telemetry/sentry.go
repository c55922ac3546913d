// Package telemetry provides Sentry-based distributed tracing utilities.
package telemetry

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/cloo-solutions/ragchat/internal/domain"
	"github.com/getsentry/sentry-go"
	"go.uber.org/zap"
)

const (
	serviceName  = "ragchat"
	flushTimeout = 5 * time.Second
)

// Config holds the configuration for Sentry initialization.
type Config struct {
	DSN              string
	Environment      string
	Release          string
	TracesSampleRate float64
	Debug            bool
}

// unsampledTransactions are never traced.
var unsampledTransactions = map[string]bool{
	"GET /health": true,
}

// Init configures the global Sentry client. Without a DSN it does nothing.
// The returned function flushes buffered events and must run before exit.
func Init(cfg Config, logger *zap.Logger) (func(), error) {
	if cfg.DSN == "" {
		return func() {}, nil
	}
	if cfg.Environment == "" {
		cfg.Environment = "development"
	}
	if cfg.TracesSampleRate <= 0 {
		cfg.TracesSampleRate = 1.0
	}

	err := sentry.Init(sentry.ClientOptions{
		Dsn:              cfg.DSN,
		Environment:      cfg.Environment,
		Release:          cfg.Release,
		ServerName:       serviceName,
		Debug:            cfg.Debug,
		EnableTracing:    true,
		TracesSampleRate: cfg.TracesSampleRate,
		TracesSampler: func(ctx sentry.SamplingContext) float64 {
			if unsampledTransactions[ctx.Span.Name] {
				return 0
			}
			if ctx.Parent != nil {
				if ctx.Parent.Sampled.Bool() {
					return 1
				}
				return 0
			}
			return cfg.TracesSampleRate
		},
	})
	if err != nil {
		return nil, fmt.Errorf("sentry init: %w", err)
	}

	logger.Info("sentry initialized",
		zap.String("environment", cfg.Environment),
		zap.Float64("traces_sample_rate", cfg.TracesSampleRate))
	return func() { sentry.Flush(flushTimeout) }, nil
}

// SpanAttributes contains common attributes for service spans.
type SpanAttributes struct {
	SessionID string
	IndexName string
	Backend   string
	Operation string
}

// Span wraps sentry.Span to provide a consistent interface.
type Span struct {
	inner *sentry.Span
}

// End finishes the span.
func (s *Span) End() {
	if s.inner != nil {
		s.inner.Finish()
	}
}

// SetError records err on the span. Expected per-turn failures (timeouts,
// rate limits, filtered content) set a matching status without creating a
// Sentry issue; anything else is captured as an exception.
func (s *Span) SetError(err error) {
	if s.inner == nil || err == nil {
		return
	}
	status, expected := spanStatusFor(err)
	s.inner.Status = status
	if expected {
		return
	}
	if hub := sentry.GetHubFromContext(s.inner.Context()); hub != nil {
		hub.CaptureException(err)
	}
}

func spanStatusFor(err error) (sentry.SpanStatus, bool) {
	switch domain.CodeOf(err) {
	case domain.ErrCodeRetrievalTimeout, domain.ErrCodeGenerationTimeout:
		return sentry.SpanStatusDeadlineExceeded, true
	case domain.ErrCodeRateLimited:
		return sentry.SpanStatusResourceExhausted, true
	case domain.ErrCodeContentFiltered, domain.ErrCodeValidation:
		return sentry.SpanStatusInvalidArgument, true
	case domain.ErrCodeSessionBusy, domain.ErrCodeIndexerBusy, domain.ErrCodeProvisionInProgress:
		return sentry.SpanStatusAborted, true
	case domain.ErrCodeNotFound:
		return sentry.SpanStatusNotFound, true
	case domain.ErrCodeServiceUnavailable:
		return sentry.SpanStatusUnavailable, false
	case domain.ErrCodeUnauthorized:
		return sentry.SpanStatusUnauthenticated, false
	}
	if errors.Is(err, context.Canceled) {
		return sentry.SpanStatusCanceled, true
	}
	return sentry.SpanStatusInternalError, false
}

func setAttributes(span *sentry.Span, attrs SpanAttributes) {
	if span == nil {
		return
	}

	if attrs.SessionID != "" {
		span.SetTag("session_id", attrs.SessionID)
	}
	if attrs.IndexName != "" {
		span.SetTag("index_name", attrs.IndexName)
	}
	if attrs.Backend != "" {
		span.SetTag("search_backend", attrs.Backend)
	}
	if attrs.Operation != "" {
		span.SetData("operation", attrs.Operation)
	}
}

// StartSpan creates a child span when ctx carries one, and a new
// transaction otherwise.
func StartSpan(ctx context.Context, name string, attrs SpanAttributes) (context.Context, *Span) {
	parentSpan := sentry.SpanFromContext(ctx)

	var span *sentry.Span
	if parentSpan != nil {
		span = parentSpan.StartChild(name)
	} else {
		span = sentry.StartSpan(ctx, name, sentry.WithTransactionName(name))
	}

	setAttributes(span, attrs)

	return span.Context(), &Span{inner: span}
}

// StartTransaction creates a new transaction (root span) with the given name.
// Use this for top-level operations like a provisioning run.
func StartTransaction(ctx context.Context, name string, op string) (context.Context, *Span) {
	options := []sentry.SpanOption{
		sentry.WithTransactionName(name),
	}
	if op != "" {
		options = append(options, sentry.WithOpName(op))
	}

	span := sentry.StartSpan(ctx, op, options...)
	return span.Context(), &Span{inner: span}
}

// CaptureError captures an error to Sentry with the current context.
func CaptureError(ctx context.Context, err error) {
	if hub := sentry.GetHubFromContext(ctx); hub != nil {
		hub.CaptureException(err)
	} else {
		sentry.CaptureException(err)
	}
}

// AddBreadcrumb adds a breadcrumb to the current scope.
func AddBreadcrumb(ctx context.Context, category, message string) {
	breadcrumb := &sentry.Breadcrumb{
		Type:      "default",
		Category:  category,
		Message:   message,
		Level:     sentry.LevelInfo,
		Timestamp: time.Now(),
	}

	if hub := sentry.GetHubFromContext(ctx); hub != nil {
		hub.AddBreadcrumb(breadcrumb, nil)
	} else {
		sentry.AddBreadcrumb(breadcrumb)
	}
}
