package jobs

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/cloo-solutions/ragchat/internal/telemetry"
	"go.uber.org/zap"
)

// JobProcessor is one unit of periodic background work.
type JobProcessor interface {
	ProcessJobs(ctx context.Context) error
}

// Worker drives a JobProcessor on a fixed interval. The first pass runs as
// soon as the worker starts so queued indexer runs are not held back a tick.
type Worker struct {
	name      string
	processor JobProcessor
	interval  time.Duration
	logger    *zap.Logger

	stopOnce sync.Once
	stop     chan struct{}
	done     chan struct{}
}

func NewWorker(name string, processor JobProcessor, interval time.Duration, logger *zap.Logger) *Worker {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Worker{
		name:      name,
		processor: processor,
		interval:  interval,
		logger:    logger.With(zap.String("worker", name)),
		stop:      make(chan struct{}),
		done:      make(chan struct{}),
	}
}

// Start blocks until ctx is cancelled or Stop is called.
func (w *Worker) Start(ctx context.Context) {
	defer close(w.done)

	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	w.logger.Info("worker started", zap.Duration("interval", w.interval))
	w.tick(ctx)

	for {
		select {
		case <-ctx.Done():
			w.logger.Info("worker stopped", zap.String("reason", "context cancelled"))
			return
		case <-w.stop:
			w.logger.Info("worker stopped", zap.String("reason", "stop requested"))
			return
		case <-ticker.C:
			w.tick(ctx)
		}
	}
}

func (w *Worker) tick(ctx context.Context) {
	err := w.processor.ProcessJobs(ctx)
	if err == nil || errors.Is(err, context.Canceled) {
		return
	}
	w.logger.Error("job pass failed", zap.Error(err))
	telemetry.CaptureError(ctx, err)
}

// Stop ends the loop and waits for the in-flight pass. Safe to call more than once.
func (w *Worker) Stop() {
	w.stopOnce.Do(func() { close(w.stop) })
	<-w.done
}
