package jobs

import (
	"context"
	"time"

	"go.uber.org/zap"
)

// IdleSessions closes sessions that have been idle for longer than ttl.
type IdleSessions interface {
	ReapIdle(ttl time.Duration) int
}

// SessionReaper removes abandoned chat sessions.
type SessionReaper struct {
	sessions IdleSessions
	ttl      time.Duration
	logger   *zap.Logger
}

func NewSessionReaper(sessions IdleSessions, ttl time.Duration, logger *zap.Logger) *SessionReaper {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &SessionReaper{sessions: sessions, ttl: ttl, logger: logger}
}

// ProcessJobs implements the JobProcessor interface
func (r *SessionReaper) ProcessJobs(_ context.Context) error {
	if n := r.sessions.ReapIdle(r.ttl); n > 0 {
		r.logger.Info("reaped idle sessions", zap.Int("count", n))
	}
	return nil
}
