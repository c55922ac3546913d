package middleware

import (
	"net/http"

	"github.com/cloo-solutions/ragchat/internal/api"
)

// MaxBodyBytes caps request bodies at limit bytes. Bodies announcing a larger
// Content-Length are rejected up front; streamed bodies fail on read, which
// handlers report as 413.
func MaxBodyBytes(limit int64) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			switch {
			case limit <= 0 || r.Body == nil || r.Body == http.NoBody:
			case r.ContentLength > limit:
				api.PayloadTooLarge(w)
				return
			default:
				r.Body = http.MaxBytesReader(w, r.Body, limit)
			}
			next.ServeHTTP(w, r)
		})
	}
}
