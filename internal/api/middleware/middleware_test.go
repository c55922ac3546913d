package middleware

import (
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/getsentry/sentry-go"
	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

func TestRequestID(t *testing.T) {
	var seen string
	h := RequestID(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen = GetRequestID(r.Context())
	}))

	w := httptest.NewRecorder()
	h.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/", nil))
	assert.NotEmpty(t, seen)
	assert.Equal(t, seen, w.Header().Get("X-Request-ID"))

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("X-Request-ID", "req-123")
	w = httptest.NewRecorder()
	h.ServeHTTP(w, req)
	assert.Equal(t, "req-123", seen)
	assert.Equal(t, "req-123", w.Header().Get("X-Request-ID"))

	req = httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("X-Request-ID", "bad id\n"+strings.Repeat("x", 200))
	w = httptest.NewRecorder()
	h.ServeHTTP(w, req)
	assert.NotContains(t, seen, "bad id")
	assert.Equal(t, seen, w.Header().Get("X-Request-ID"))
}

func TestMaxBodyBytes(t *testing.T) {
	h := MaxBodyBytes(8)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if _, err := io.ReadAll(r.Body); err != nil {
			w.WriteHeader(http.StatusRequestEntityTooLarge)
			return
		}
		w.WriteHeader(http.StatusOK)
	}))

	w := httptest.NewRecorder()
	h.ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/", strings.NewReader("small")))
	assert.Equal(t, http.StatusOK, w.Code)

	w = httptest.NewRecorder()
	h.ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/", strings.NewReader("far too large")))
	assert.Equal(t, http.StatusRequestEntityTooLarge, w.Code)
	assert.Contains(t, w.Body.String(), "PAYLOAD_TOO_LARGE")

	req := httptest.NewRequest(http.MethodPost, "/", io.NopCloser(strings.NewReader("far too large")))
	req.ContentLength = -1
	w = httptest.NewRecorder()
	h.ServeHTTP(w, req)
	assert.Equal(t, http.StatusRequestEntityTooLarge, w.Code)
}

func TestAccessLog(t *testing.T) {
	core, logs := observer.New(zapcore.DebugLevel)

	r := chi.NewRouter()
	r.Use(RequestID)
	r.Use(AccessLog(zap.New(core)))
	r.Get("/v1/sessions/{id}", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
		_, _ = w.Write([]byte("nope"))
	})
	r.Get("/boom", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	})

	req := httptest.NewRequest(http.MethodGet, "/v1/sessions/abc", nil)
	req.Header.Set("X-Forwarded-For", "10.0.0.1, 10.0.0.2")
	r.ServeHTTP(httptest.NewRecorder(), req)
	r.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/boom", nil))

	entries := logs.All()
	require.Len(t, entries, 2)

	first := entries[0]
	assert.Equal(t, zapcore.WarnLevel, first.Level)
	fields := first.ContextMap()
	assert.Equal(t, "GET", fields["method"])
	assert.Equal(t, "/v1/sessions/abc", fields["path"])
	assert.Equal(t, "/v1/sessions/{id}", fields["route"])
	assert.EqualValues(t, http.StatusNotFound, fields["status"])
	assert.EqualValues(t, 4, fields["bytes"])
	assert.Equal(t, "10.0.0.1", fields["remote_addr"])
	assert.NotEmpty(t, fields["request_id"])

	assert.Equal(t, zapcore.ErrorLevel, entries[1].Level)
}

func TestSpanStatus(t *testing.T) {
	assert.Equal(t, sentry.SpanStatusOK, spanStatus(http.StatusOK))
	assert.Equal(t, sentry.SpanStatusNotFound, spanStatus(http.StatusNotFound))
	assert.Equal(t, sentry.SpanStatusAborted, spanStatus(http.StatusConflict))
	assert.Equal(t, sentry.SpanStatusResourceExhausted, spanStatus(http.StatusTooManyRequests))
	assert.Equal(t, sentry.SpanStatusUnavailable, spanStatus(http.StatusServiceUnavailable))
	assert.Equal(t, sentry.SpanStatusDeadlineExceeded, spanStatus(http.StatusGatewayTimeout))
	assert.Equal(t, sentry.SpanStatusOutOfRange, spanStatus(http.StatusRequestEntityTooLarge))
	assert.Equal(t, sentry.SpanStatusCanceled, spanStatus(499))
	assert.Equal(t, sentry.SpanStatusInvalidArgument, spanStatus(http.StatusTeapot))
	assert.Equal(t, sentry.SpanStatusInternalError, spanStatus(http.StatusBadGateway))
}

func TestStatusRecorder(t *testing.T) {
	rec := &statusRecorder{ResponseWriter: httptest.NewRecorder()}
	assert.Equal(t, http.StatusOK, rec.Status())

	_, err := rec.Write([]byte("hello"))
	require.NoError(t, err)
	rec.WriteHeader(http.StatusInternalServerError)
	assert.Equal(t, http.StatusOK, rec.Status())
	assert.Equal(t, 5, rec.bytes)
}

func TestSentryMiddleware_WithoutClient(t *testing.T) {
	r := chi.NewRouter()
	r.Use(SentryMiddleware)
	r.Get("/v1/sessions/{id}", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTeapot)
	})

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/v1/sessions/abc", nil))
	assert.Equal(t, http.StatusTeapot, w.Code)
}
