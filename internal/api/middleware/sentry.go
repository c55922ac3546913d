package middleware

import (
	"fmt"
	"net/http"

	"github.com/getsentry/sentry-go"
)

// SentryMiddleware opens an http.server transaction per request, continuing
// an incoming sentry-trace when present. Once chi has matched, the
// transaction is renamed to the route pattern so every session shares one
// transaction name. Panics and 5xx responses are reported. Without an
// initialised client this only forwards the request.
func SentryMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hub := sentry.GetHubFromContext(r.Context())
		if hub == nil {
			hub = sentry.CurrentHub().Clone()
		}

		tx := startRequestTransaction(r)
		defer tx.Finish()

		r = r.WithContext(sentry.SetHubOnContext(tx.Context(), hub))
		scope := hub.Scope()
		scope.SetRequest(r)
		if id := GetRequestID(r.Context()); id != "" {
			scope.SetTag("request_id", id)
			tx.SetTag("request_id", id)
		}

		defer func() {
			if v := recover(); v != nil {
				tx.Status = sentry.SpanStatusInternalError
				hub.RecoverWithContext(r.Context(), v)
				panic(v)
			}
		}()

		rec := &statusRecorder{ResponseWriter: w}
		next.ServeHTTP(rec, r)

		status := rec.Status()
		tx.Status = spanStatus(status)
		tx.SetData("http.response.status_code", status)
		if route := routePattern(r); route != "" {
			tx.Name = r.Method + " " + route
			tx.Source = sentry.SourceRoute
		}
		if id := sessionParam(r); id != "" {
			scope.SetTag("session_id", id)
			tx.SetTag("session_id", id)
		}

		if status >= http.StatusInternalServerError {
			hub.CaptureMessage(fmt.Sprintf("%s %s returned %d", r.Method, r.URL.Path, status))
		}
	})
}

func startRequestTransaction(r *http.Request) *sentry.Span {
	opts := []sentry.SpanOption{
		sentry.WithOpName("http.server"),
		sentry.WithTransactionSource(sentry.SourceURL),
	}
	if trace := r.Header.Get("sentry-trace"); trace != "" {
		opts = append(opts, sentry.ContinueFromHeaders(trace, r.Header.Get("baggage")))
	}
	return sentry.StartTransaction(r.Context(), r.Method+" "+r.URL.Path, opts...)
}

// spanStatus maps the statuses this API emits onto Sentry span statuses.
func spanStatus(status int) sentry.SpanStatus {
	switch status {
	case http.StatusBadRequest:
		return sentry.SpanStatusInvalidArgument
	case http.StatusNotFound:
		return sentry.SpanStatusNotFound
	case http.StatusConflict:
		return sentry.SpanStatusAborted
	case http.StatusRequestEntityTooLarge:
		return sentry.SpanStatusOutOfRange
	case http.StatusTooManyRequests:
		return sentry.SpanStatusResourceExhausted
	case 499:
		return sentry.SpanStatusCanceled
	case http.StatusServiceUnavailable:
		return sentry.SpanStatusUnavailable
	case http.StatusGatewayTimeout:
		return sentry.SpanStatusDeadlineExceeded
	}
	switch {
	case status < 400:
		return sentry.SpanStatusOK
	case status < 500:
		return sentry.SpanStatusInvalidArgument
	default:
		return sentry.SpanStatusInternalError
	}
}
