package redisstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/cloo-solutions/ragchat/internal/domain"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

const (
	assetPrefix      = keyPrefix + "asset:"
	runPrefix        = keyPrefix + "run:"
	runHistoryPrefix = keyPrefix + "runs:"
	activeRunPrefix  = keyPrefix + "runs:active:"
	pendingRunsKey   = keyPrefix + "runs:pending"

	maxHistory = 100
)

// Store keeps asset definitions and indexer runs.
type Store struct {
	client *redis.Client
}

func NewStore(client *redis.Client) *Store {
	return &Store{client: client}
}

func assetKey(kind domain.AssetKind, name string) string {
	return assetPrefix + string(kind) + ":" + name
}

// PutAsset creates or replaces a definition.
func (s *Store) PutAsset(ctx context.Context, kind domain.AssetKind, name string, definition []byte) error {
	if err := s.client.Set(ctx, assetKey(kind, name), definition, 0).Err(); err != nil {
		return fmt.Errorf("put asset %s/%s: %w", kind, name, err)
	}
	return nil
}

// GetAsset returns a definition or domain.ErrAssetNotFound.
func (s *Store) GetAsset(ctx context.Context, kind domain.AssetKind, name string) ([]byte, error) {
	data, err := s.client.Get(ctx, assetKey(kind, name)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, domain.ErrAssetNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get asset %s/%s: %w", kind, name, err)
	}
	return data, nil
}

func (s *Store) DeleteAsset(ctx context.Context, kind domain.AssetKind, name string) error {
	return s.client.Del(ctx, assetKey(kind, name)).Err()
}

type runRecord struct {
	ID             string     `json:"id"`
	Indexer        string     `json:"indexer"`
	Status         string     `json:"status"`
	ErrorMessage   string     `json:"errorMessage,omitempty"`
	ItemsProcessed int        `json:"itemsProcessed"`
	ItemsFailed    int        `json:"itemsFailed"`
	StartTime      time.Time  `json:"startTime"`
	EndTime        *time.Time `json:"endTime,omitempty"`
}

func (r runRecord) result() domain.IndexerExecutionResult {
	start := r.StartTime
	return domain.IndexerExecutionResult{
		ID:             r.ID,
		Status:         r.Status,
		ErrorMessage:   r.ErrorMessage,
		StartTime:      &start,
		EndTime:        r.EndTime,
		ItemsProcessed: r.ItemsProcessed,
		ItemsFailed:    r.ItemsFailed,
	}
}

func (s *Store) saveRun(ctx context.Context, pipe redis.Pipeliner, rec runRecord) error {
	data, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("marshal run: %w", err)
	}
	pipe.Set(ctx, runPrefix+rec.ID, data, 0)
	return nil
}

// CreateRun queues an in-progress run, or fails with domain.ErrIndexerBusy
// while another run of the indexer is active.
func (s *Store) CreateRun(ctx context.Context, indexer string) (*domain.IndexerExecutionResult, error) {
	rec := runRecord{
		ID:        uuid.NewString(),
		Indexer:   indexer,
		Status:    domain.IndexerRunInProgress,
		StartTime: time.Now().UTC(),
	}

	ok, err := s.client.SetNX(ctx, activeRunPrefix+indexer, rec.ID, 0).Result()
	if err != nil {
		return nil, fmt.Errorf("mark run active: %w", err)
	}
	if !ok {
		return nil, domain.ErrIndexerBusy
	}

	pipe := s.client.TxPipeline()
	if err := s.saveRun(ctx, pipe, rec); err != nil {
		return nil, err
	}
	pipe.LPush(ctx, runHistoryPrefix+indexer, rec.ID)
	pipe.LTrim(ctx, runHistoryPrefix+indexer, 0, maxHistory-1)
	pipe.RPush(ctx, pendingRunsKey, rec.ID)
	if _, err := pipe.Exec(ctx); err != nil {
		s.client.Del(ctx, activeRunPrefix+indexer)
		return nil, fmt.Errorf("create run: %w", err)
	}

	result := rec.result()
	return &result, nil
}

// ResetRuns records a reset marker.
func (s *Store) ResetRuns(ctx context.Context, indexer string) error {
	n, err := s.client.Exists(ctx, activeRunPrefix+indexer).Result()
	if err != nil {
		return err
	}
	if n > 0 {
		return domain.ErrIndexerBusy
	}

	now := time.Now().UTC()
	rec := runRecord{ID: uuid.NewString(), Indexer: indexer, Status: domain.IndexerRunReset, StartTime: now, EndTime: &now}
	pipe := s.client.TxPipeline()
	if err := s.saveRun(ctx, pipe, rec); err != nil {
		return err
	}
	pipe.LPush(ctx, runHistoryPrefix+indexer, rec.ID)
	pipe.LTrim(ctx, runHistoryPrefix+indexer, 0, maxHistory-1)
	_, err = pipe.Exec(ctx)
	return err
}

func (s *Store) loadRun(ctx context.Context, id string) (*runRecord, error) {
	data, err := s.client.Get(ctx, runPrefix+id).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	var rec runRecord
	if err := json.Unmarshal(data, &rec); err != nil {
		return nil, fmt.Errorf("decode run %s: %w", id, err)
	}
	return &rec, nil
}

// History returns up to limit runs, newest first.
func (s *Store) History(ctx context.Context, indexer string, limit int) ([]domain.IndexerExecutionResult, error) {
	if limit <= 0 {
		limit = 10
	}
	ids, err := s.client.LRange(ctx, runHistoryPrefix+indexer, 0, int64(limit-1)).Result()
	if err != nil {
		return nil, err
	}

	runs := make([]domain.IndexerExecutionResult, 0, len(ids))
	for _, id := range ids {
		rec, err := s.loadRun(ctx, id)
		if err != nil {
			return nil, err
		}
		if rec != nil {
			runs = append(runs, rec.result())
		}
	}
	return runs, nil
}

// ClaimRuns pops up to limit queued runs.
func (s *Store) ClaimRuns(ctx context.Context, limit int) ([]domain.IndexerRun, error) {
	if limit <= 0 {
		limit = 10
	}

	var runs []domain.IndexerRun
	for len(runs) < limit {
		id, err := s.client.LPop(ctx, pendingRunsKey).Result()
		if errors.Is(err, redis.Nil) {
			break
		}
		if err != nil {
			return runs, err
		}
		rec, err := s.loadRun(ctx, id)
		if err != nil {
			return runs, err
		}
		if rec == nil {
			continue
		}
		runs = append(runs, domain.IndexerRun{ID: rec.ID, IndexerName: rec.Indexer})
	}
	return runs, nil
}

// FinishRun stores the outcome of a run and clears the active marker.
func (s *Store) FinishRun(ctx context.Context, id string, result domain.IndexerExecutionResult) error {
	rec, err := s.loadRun(ctx, id)
	if err != nil {
		return err
	}
	if rec == nil {
		return domain.ErrIndexerNotFound
	}

	now := time.Now().UTC()
	rec.Status = result.Status
	rec.ErrorMessage = result.ErrorMessage
	rec.ItemsProcessed = result.ItemsProcessed
	rec.ItemsFailed = result.ItemsFailed
	rec.EndTime = &now

	pipe := s.client.TxPipeline()
	if err := s.saveRun(ctx, pipe, *rec); err != nil {
		return err
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("finish run %s: %w", id, err)
	}

	_, err = deleteIfEqual.Run(ctx, s.client, []string{activeRunPrefix + rec.Indexer}, rec.ID).Result()
	if err != nil && !errors.Is(err, redis.Nil) {
		return fmt.Errorf("clear active run %s: %w", id, err)
	}
	return nil
}
