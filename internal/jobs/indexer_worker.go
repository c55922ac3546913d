package jobs

import (
	"context"
	"fmt"
	"time"

	"github.com/cloo-solutions/ragchat/internal/domain"
	"go.uber.org/zap"
)

const (
	// ClaimBatchSize is the number of queued runs claimed per poll.
	ClaimBatchSize = 2

	finishTimeout = 10 * time.Second
)

// RunQueue hands out queued indexer runs and records their outcome.
type RunQueue interface {
	ClaimRuns(ctx context.Context, limit int) ([]domain.IndexerRun, error)
	LoadAssets(ctx context.Context, indexer string) (*domain.SearchAssets, error)
	FinishRun(ctx context.Context, id string, result domain.IndexerExecutionResult) error
}

// RunExecutor executes the pipeline of one indexer.
type RunExecutor interface {
	Run(ctx context.Context, assets *domain.SearchAssets) (domain.IndexerExecutionResult, error)
}

// IndexerWorker executes queued runs of self-hosted indexers.
type IndexerWorker struct {
	queue    RunQueue
	executor RunExecutor
	logger   *zap.Logger
}

// NewIndexerWorker creates a new IndexerWorker instance
func NewIndexerWorker(queue RunQueue, executor RunExecutor, logger *zap.Logger) *IndexerWorker {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &IndexerWorker{queue: queue, executor: executor, logger: logger}
}

// ProcessJobs implements the JobProcessor interface
func (w *IndexerWorker) ProcessJobs(ctx context.Context) error {
	runs, err := w.queue.ClaimRuns(ctx, ClaimBatchSize)
	if err != nil {
		return fmt.Errorf("failed to claim indexer runs: %w", err)
	}

	if len(runs) == 0 {
		return nil
	}

	w.logger.Info("processing indexer runs", zap.Int("count", len(runs)))

	for _, run := range runs {
		if err := w.processRun(ctx, run); err != nil {
			w.logger.Error("error processing indexer run",
				zap.String("run_id", run.ID),
				zap.String("indexer", run.IndexerName),
				zap.Error(err))
		}
	}

	return nil
}

func (w *IndexerWorker) processRun(ctx context.Context, run domain.IndexerRun) error {
	logger := w.logger.With(zap.String("run_id", run.ID), zap.String("indexer", run.IndexerName))
	started := time.Now()

	result, err := w.execute(ctx, run)
	if err != nil {
		result = domain.IndexerExecutionResult{
			Status:       domain.IndexerRunTransientFailure,
			ErrorMessage: err.Error(),
		}
	}

	// The outcome is recorded even when the worker is shutting down, so the
	// indexer does not stay busy forever.
	finishCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), finishTimeout)
	defer cancel()
	if err := w.queue.FinishRun(finishCtx, run.ID, result); err != nil {
		return fmt.Errorf("failed to record run outcome: %w", err)
	}

	logger.Info("indexer run finished",
		zap.String("status", result.Status),
		zap.Int("items_processed", result.ItemsProcessed),
		zap.Int("items_failed", result.ItemsFailed),
		zap.Duration("duration", time.Since(started)))
	return nil
}

func (w *IndexerWorker) execute(ctx context.Context, run domain.IndexerRun) (domain.IndexerExecutionResult, error) {
	assets, err := w.queue.LoadAssets(ctx, run.IndexerName)
	if err != nil {
		return domain.IndexerExecutionResult{}, fmt.Errorf("load assets: %w", err)
	}
	result, err := w.executor.Run(ctx, assets)
	if err != nil {
		return domain.IndexerExecutionResult{}, fmt.Errorf("run interrupted: %w", err)
	}
	return result, nil
}
