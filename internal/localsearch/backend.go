// Package localsearch is a self-hosted stand-in for Azure AI Search. Asset
// definitions and indexer runs live in an AssetStore, entries in an
// EntryIndex (pgvector or Elasticsearch), and queued runs are executed by the
// indexer worker.
package localsearch

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/cloo-solutions/ragchat/internal/domain"
)

const statusHistory = 10

// AssetStore persists asset definitions and indexer runs.
type AssetStore interface {
	PutAsset(ctx context.Context, kind domain.AssetKind, name string, definition []byte) error
	GetAsset(ctx context.Context, kind domain.AssetKind, name string) ([]byte, error)
}

// RunStore records indexer runs.
type RunStore interface {
	CreateRun(ctx context.Context, indexer string) (*domain.IndexerExecutionResult, error)
	ResetRuns(ctx context.Context, indexer string) error
	History(ctx context.Context, indexer string, limit int) ([]domain.IndexerExecutionResult, error)
	ClaimRuns(ctx context.Context, limit int) ([]domain.IndexerRun, error)
	FinishRun(ctx context.Context, id string, result domain.IndexerExecutionResult) error
}

// EntryIndex stores and searches index entries.
type EntryIndex interface {
	EnsureIndex(ctx context.Context, def *domain.IndexDefinition) error
	ReplaceDocument(ctx context.Context, index, documentID string, entries []domain.IndexEntry) error
	PruneDocuments(ctx context.Context, index string, keep []string) (int, error)
	Search(ctx context.Context, req domain.SearchRequest) ([]domain.ScoredEntry, error)
}

// Backend exposes the same admin and query surface as the Azure client.
type Backend struct {
	assets  AssetStore
	runs    RunStore
	entries EntryIndex
}

func NewBackend(assets AssetStore, runs RunStore, entries EntryIndex) *Backend {
	return &Backend{assets: assets, runs: runs, entries: entries}
}

// Entries returns the entry index the indexer pipeline writes to.
func (b *Backend) Entries() EntryIndex {
	return b.entries
}

var notFoundByKind = map[domain.AssetKind]*domain.DomainError{
	domain.AssetKindIndex:      domain.ErrIndexNotFound,
	domain.AssetKindDataSource: domain.ErrDataSourceNotFound,
	domain.AssetKindSkillset:   domain.ErrSkillsetNotFound,
	domain.AssetKindIndexer:    domain.ErrIndexerNotFound,
}

func (b *Backend) get(ctx context.Context, kind domain.AssetKind, name string, out any) error {
	data, err := b.assets.GetAsset(ctx, kind, name)
	if err != nil {
		if errors.Is(err, domain.ErrAssetNotFound) {
			return notFoundByKind[kind].WithCause(fmt.Errorf("%s %q", kind, name))
		}
		return domain.ErrServiceUnavailable.WithCause(err)
	}
	if err := json.Unmarshal(data, out); err != nil {
		return domain.ErrInvalidResponse.WithCause(fmt.Errorf("stored %s %q: %w", kind, name, err))
	}
	return nil
}

func (b *Backend) put(ctx context.Context, kind domain.AssetKind, name string, def any) error {
	data, err := json.Marshal(def)
	if err != nil {
		return fmt.Errorf("encode %s %q: %w", kind, name, err)
	}
	if err := b.assets.PutAsset(ctx, kind, name, data); err != nil {
		return domain.ErrServiceUnavailable.WithCause(err)
	}
	return nil
}

func (b *Backend) GetIndex(ctx context.Context, name string) (*domain.IndexDefinition, error) {
	var def domain.IndexDefinition
	if err := b.get(ctx, domain.AssetKindIndex, name, &def); err != nil {
		return nil, err
	}
	return &def, nil
}

// PutIndex applies the same in-place update rules as the managed service:
// an incompatible change of an existing index fails with SCHEMA_CONFLICT.
func (b *Backend) PutIndex(ctx context.Context, def *domain.IndexDefinition) error {
	if err := def.Validate(); err != nil {
		return err
	}
	existing, err := b.GetIndex(ctx, def.Name)
	switch {
	case err == nil:
		if err := def.CheckCompatible(existing); err != nil {
			return err
		}
	case !errors.Is(err, domain.ErrIndexNotFound):
		return err
	}

	if err := b.entries.EnsureIndex(ctx, def); err != nil {
		return err
	}
	return b.put(ctx, domain.AssetKindIndex, def.Name, def)
}

func (b *Backend) GetDataSource(ctx context.Context, name string) (*domain.DataSourceDefinition, error) {
	var def domain.DataSourceDefinition
	if err := b.get(ctx, domain.AssetKindDataSource, name, &def); err != nil {
		return nil, err
	}
	return &def, nil
}

func (b *Backend) PutDataSource(ctx context.Context, def *domain.DataSourceDefinition) error {
	if err := def.Validate(); err != nil {
		return err
	}
	return b.put(ctx, domain.AssetKindDataSource, def.Name, def)
}

func (b *Backend) GetSkillset(ctx context.Context, name string) (*domain.SkillsetDefinition, error) {
	var def domain.SkillsetDefinition
	if err := b.get(ctx, domain.AssetKindSkillset, name, &def); err != nil {
		return nil, err
	}
	return &def, nil
}

func (b *Backend) PutSkillset(ctx context.Context, def *domain.SkillsetDefinition) error {
	if err := def.Validate(); err != nil {
		return err
	}
	return b.put(ctx, domain.AssetKindSkillset, def.Name, def)
}

func (b *Backend) GetIndexer(ctx context.Context, name string) (*domain.IndexerDefinition, error) {
	var def domain.IndexerDefinition
	if err := b.get(ctx, domain.AssetKindIndexer, name, &def); err != nil {
		return nil, err
	}
	return &def, nil
}

func (b *Backend) PutIndexer(ctx context.Context, def *domain.IndexerDefinition) error {
	if err := def.Validate(); err != nil {
		return err
	}
	return b.put(ctx, domain.AssetKindIndexer, def.Name, def)
}

// RunIndexer queues a run for the indexer worker. A run already in progress
// fails with INDEXER_BUSY.
func (b *Backend) RunIndexer(ctx context.Context, name string) error {
	if _, err := b.GetIndexer(ctx, name); err != nil {
		return err
	}
	if _, err := b.runs.CreateRun(ctx, name); err != nil {
		if errors.Is(err, domain.ErrIndexerBusy) {
			return err
		}
		return domain.ErrServiceUnavailable.WithCause(err)
	}
	return nil
}

func (b *Backend) ResetIndexer(ctx context.Context, name string) error {
	if _, err := b.GetIndexer(ctx, name); err != nil {
		return err
	}
	if err := b.runs.ResetRuns(ctx, name); err != nil {
		if errors.Is(err, domain.ErrIndexerBusy) {
			return err
		}
		return domain.ErrServiceUnavailable.WithCause(err)
	}
	return nil
}

func (b *Backend) IndexerStatus(ctx context.Context, name string) (*domain.IndexerStatus, error) {
	if _, err := b.GetIndexer(ctx, name); err != nil {
		return nil, err
	}
	history, err := b.runs.History(ctx, name, statusHistory)
	if err != nil {
		return nil, domain.ErrServiceUnavailable.WithCause(err)
	}

	status := &domain.IndexerStatus{Name: name, Status: "running", ExecutionHistory: history}
	if len(history) > 0 {
		last := history[0]
		status.LastResult = &last
	}
	return status, nil
}

// Search queries the entry index.
func (b *Backend) Search(ctx context.Context, req domain.SearchRequest) ([]domain.ScoredEntry, error) {
	if req.Top <= 0 {
		return nil, domain.ErrInvalidTopK
	}
	results, err := b.entries.Search(ctx, req)
	if err != nil {
		if domain.CodeOf(err) != "" || errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			return nil, err
		}
		return nil, domain.ErrServiceUnavailable.WithCause(err)
	}
	return results, nil
}

// ClaimRuns hands queued runs to the indexer worker.
func (b *Backend) ClaimRuns(ctx context.Context, limit int) ([]domain.IndexerRun, error) {
	return b.runs.ClaimRuns(ctx, limit)
}

func (b *Backend) FinishRun(ctx context.Context, id string, result domain.IndexerExecutionResult) error {
	return b.runs.FinishRun(ctx, id, result)
}

// LoadAssets resolves an indexer and the definitions it references.
func (b *Backend) LoadAssets(ctx context.Context, indexer string) (*domain.SearchAssets, error) {
	ixr, err := b.GetIndexer(ctx, indexer)
	if err != nil {
		return nil, err
	}
	idx, err := b.GetIndex(ctx, ixr.TargetIndexName)
	if err != nil {
		return nil, err
	}
	ds, err := b.GetDataSource(ctx, ixr.DataSourceName)
	if err != nil {
		return nil, err
	}
	assets := &domain.SearchAssets{Index: *idx, DataSource: *ds, Indexer: *ixr}
	if ixr.SkillsetName != "" {
		ss, err := b.GetSkillset(ctx, ixr.SkillsetName)
		if err != nil {
			return nil, err
		}
		assets.Skillset = *ss
	}
	return assets, nil
}
