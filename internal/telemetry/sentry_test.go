package telemetry

import (
	"context"
	"errors"
	"testing"

	"github.com/cloo-solutions/ragchat/internal/domain"
	"github.com/getsentry/sentry-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestInit_NoDSN(t *testing.T) {
	shutdown, err := Init(Config{}, zap.NewNop())
	require.NoError(t, err)
	require.NotNil(t, shutdown)
	shutdown()
}

func TestSpanStatusFor(t *testing.T) {
	tests := []struct {
		name     string
		err      error
		status   sentry.SpanStatus
		expected bool
	}{
		{"generation timeout", domain.ErrGenerationTimeout, sentry.SpanStatusDeadlineExceeded, true},
		{"rate limited", domain.ErrRateLimited, sentry.SpanStatusResourceExhausted, true},
		{"content filtered", domain.ErrContentFiltered, sentry.SpanStatusInvalidArgument, true},
		{"session busy", domain.ErrSessionBusy, sentry.SpanStatusAborted, true},
		{"unavailable", domain.ErrServiceUnavailable, sentry.SpanStatusUnavailable, false},
		{"unauthorized", domain.ErrUnauthorized, sentry.SpanStatusUnauthenticated, false},
		{"cancelled", context.Canceled, sentry.SpanStatusCanceled, true},
		{"unknown", errors.New("boom"), sentry.SpanStatusInternalError, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			status, expected := spanStatusFor(tt.err)
			assert.Equal(t, tt.status, status)
			assert.Equal(t, tt.expected, expected)
		})
	}
}

func TestStartSpan_WithoutClient(t *testing.T) {
	ctx, span := StartSpan(context.Background(), "retrieve", SpanAttributes{SessionID: "s-1", Operation: "retrieve"})
	require.NotNil(t, ctx)
	span.SetError(domain.ErrRetrievalTimeout)
	span.End()
}

func TestCaptureAndBreadcrumb_WithoutClient(t *testing.T) {
	ctx := context.Background()
	AddBreadcrumb(ctx, "provision", "apply index")
	CaptureError(ctx, errors.New("boom"))
}
