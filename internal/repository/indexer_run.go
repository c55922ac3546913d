package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/cloo-solutions/ragchat/internal/domain"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/jackc/pgx/v5/pgxpool"
)

const uniqueViolation = "23505"

// IndexerRunRepository records executions of the self-hosted indexer.
type IndexerRunRepository struct {
	db dbtx
}

func NewIndexerRunRepository(pool *pgxpool.Pool) *IndexerRunRepository {
	return &IndexerRunRepository{db: pool}
}

// CreateRun queues an in-progress run. A second active run for the same
// indexer fails with domain.ErrIndexerBusy.
func (r *IndexerRunRepository) CreateRun(ctx context.Context, indexer string) (*domain.IndexerExecutionResult, error) {
	now := time.Now().UTC()
	run := &domain.IndexerExecutionResult{
		ID:        uuid.NewString(),
		Status:    domain.IndexerRunInProgress,
		StartTime: &now,
	}
	_, err := r.db.Exec(ctx,
		`INSERT INTO indexer_runs (id, indexer_name, status, start_time) VALUES ($1, $2, $3, $4)`,
		run.ID, indexer, run.Status, now,
	)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation {
			return nil, domain.ErrIndexerBusy
		}
		return nil, err
	}
	return run, nil
}

// ResetRuns records a reset marker so the next run reprocesses every document.
func (r *IndexerRunRepository) ResetRuns(ctx context.Context, indexer string) error {
	var active bool
	err := r.db.QueryRow(ctx,
		`SELECT EXISTS (SELECT 1 FROM indexer_runs WHERE indexer_name = $1 AND status = $2)`,
		indexer, domain.IndexerRunInProgress,
	).Scan(&active)
	if err != nil {
		return err
	}
	if active {
		return domain.ErrIndexerBusy
	}

	now := time.Now().UTC()
	_, err = r.db.Exec(ctx,
		`INSERT INTO indexer_runs (id, indexer_name, status, start_time, end_time) VALUES ($1, $2, $3, $4, $4)`,
		uuid.NewString(), indexer, domain.IndexerRunReset, now,
	)
	return err
}

// History returns up to limit runs of an indexer, newest first.
func (r *IndexerRunRepository) History(ctx context.Context, indexer string, limit int) ([]domain.IndexerExecutionResult, error) {
	if limit <= 0 {
		limit = 10
	}

	rows, err := r.db.Query(ctx,
		`SELECT id, status, error_message, items_processed, items_failed, start_time, end_time
		 FROM indexer_runs
		 WHERE indexer_name = $1
		 ORDER BY start_time DESC
		 LIMIT $2`,
		indexer, limit,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var runs []domain.IndexerExecutionResult
	for rows.Next() {
		var run domain.IndexerExecutionResult
		var errMsg pgtype.Text
		var start time.Time
		var end pgtype.Timestamptz
		if err := rows.Scan(&run.ID, &run.Status, &errMsg, &run.ItemsProcessed, &run.ItemsFailed, &start, &end); err != nil {
			return nil, err
		}
		if errMsg.Valid {
			run.ErrorMessage = errMsg.String
		}
		start = start.UTC()
		run.StartTime = &start
		if end.Valid {
			t := end.Time.UTC()
			run.EndTime = &t
		}
		runs = append(runs, run)
	}
	return runs, rows.Err()
}

// ClaimRuns marks up to limit unclaimed in-progress runs as picked up and
// returns them. Concurrent workers never claim the same run.
func (r *IndexerRunRepository) ClaimRuns(ctx context.Context, limit int) ([]domain.IndexerRun, error) {
	if limit <= 0 {
		limit = 10
	}

	rows, err := r.db.Query(ctx,
		`WITH cte AS (
			 SELECT id
			 FROM indexer_runs
			 WHERE status = $1 AND claimed_at IS NULL
			 ORDER BY start_time ASC
			 FOR UPDATE SKIP LOCKED
			 LIMIT $2
		 )
		 UPDATE indexer_runs
		 SET claimed_at = now()
		 FROM cte
		 WHERE indexer_runs.id = cte.id
		 RETURNING indexer_runs.id, indexer_runs.indexer_name`,
		domain.IndexerRunInProgress, limit,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var runs []domain.IndexerRun
	for rows.Next() {
		var run domain.IndexerRun
		if err := rows.Scan(&run.ID, &run.IndexerName); err != nil {
			return nil, err
		}
		runs = append(runs, run)
	}
	return runs, rows.Err()
}

// FinishRun stores the outcome of a run.
func (r *IndexerRunRepository) FinishRun(ctx context.Context, id string, result domain.IndexerExecutionResult) error {
	var errPtr *string
	if result.ErrorMessage != "" {
		errPtr = &result.ErrorMessage
	}

	cmdTag, err := r.db.Exec(ctx,
		`UPDATE indexer_runs
		 SET status = $1, error_message = $2, items_processed = $3, items_failed = $4, end_time = now()
		 WHERE id = $5`,
		result.Status, errPtr, result.ItemsProcessed, result.ItemsFailed, id,
	)
	if err != nil {
		return err
	}
	if cmdTag.RowsAffected() == 0 {
		return domain.ErrIndexerNotFound.WithCause(fmt.Errorf("run %s", id))
	}
	return nil
}
