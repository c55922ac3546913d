//go:build integration

package repository

import (
	"context"
	"testing"
	"time"

	"github.com/cloo-solutions/ragchat/internal/domain"
	"github.com/cloo-solutions/ragchat/internal/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func vec(dims int, hot int) []float32 {
	v := make([]float32, dims)
	v[hot] = 1
	return v
}

func TestAssetRepository_PutGet(t *testing.T) {
	ctx := context.Background()
	pc := testutil.NewPostgresContainer(ctx, t)
	defer pc.Terminate(ctx)

	pool := testutil.NewTestPool(ctx, t, pc)
	defer pool.Close()

	repo := NewAssetRepository(pool)

	_, err := repo.GetAsset(ctx, domain.AssetKindIndex, "kb")
	assert.ErrorIs(t, err, domain.ErrAssetNotFound)

	require.NoError(t, repo.PutAsset(ctx, domain.AssetKindIndex, "kb", []byte(`{"name":"kb"}`)))
	require.NoError(t, repo.PutAsset(ctx, domain.AssetKindIndex, "kb", []byte(`{"name":"kb","fields":[]}`)))

	got, err := repo.GetAsset(ctx, domain.AssetKindIndex, "kb")
	require.NoError(t, err)
	assert.JSONEq(t, `{"name":"kb","fields":[]}`, string(got))

	require.NoError(t, repo.DeleteAsset(ctx, domain.AssetKindIndex, "kb"))
	_, err = repo.GetAsset(ctx, domain.AssetKindIndex, "kb")
	assert.ErrorIs(t, err, domain.ErrAssetNotFound)
}

func TestIndexerRunRepository_Lifecycle(t *testing.T) {
	ctx := context.Background()
	pc := testutil.NewPostgresContainer(ctx, t)
	defer pc.Terminate(ctx)

	pool := testutil.NewTestPool(ctx, t, pc)
	defer pool.Close()

	repo := NewIndexerRunRepository(pool)

	run, err := repo.CreateRun(ctx, "kb-indexer")
	require.NoError(t, err)
	assert.Equal(t, domain.IndexerRunInProgress, run.Status)

	_, err = repo.CreateRun(ctx, "kb-indexer")
	assert.ErrorIs(t, err, domain.ErrIndexerBusy)
	assert.ErrorIs(t, repo.ResetRuns(ctx, "kb-indexer"), domain.ErrIndexerBusy)

	claimed, err := repo.ClaimRuns(ctx, 10)
	require.NoError(t, err)
	require.Len(t, claimed, 1)
	assert.Equal(t, run.ID, claimed[0].ID)
	assert.Equal(t, "kb-indexer", claimed[0].IndexerName)

	again, err := repo.ClaimRuns(ctx, 10)
	require.NoError(t, err)
	assert.Empty(t, again)

	require.NoError(t, repo.FinishRun(ctx, run.ID, domain.IndexerExecutionResult{
		Status:         domain.IndexerRunSuccess,
		ItemsProcessed: 3,
	}))

	history, err := repo.History(ctx, "kb-indexer", 5)
	require.NoError(t, err)
	require.Len(t, history, 1)
	assert.Equal(t, domain.IndexerRunSuccess, history[0].Status)
	assert.Equal(t, 3, history[0].ItemsProcessed)
	assert.NotNil(t, history[0].EndTime)

	time.Sleep(10 * time.Millisecond)
	require.NoError(t, repo.ResetRuns(ctx, "kb-indexer"))
	history, err = repo.History(ctx, "kb-indexer", 5)
	require.NoError(t, err)
	assert.Equal(t, domain.IndexerRunReset, history[0].Status)

	assert.ErrorIs(t, repo.FinishRun(ctx, "00000000-0000-0000-0000-000000000000", domain.IndexerExecutionResult{Status: domain.IndexerRunSuccess}), domain.ErrIndexerNotFound)
}

func TestEntryRepository_ReplacePruneSearch(t *testing.T) {
	ctx := context.Background()
	pc := testutil.NewPostgresContainer(ctx, t)
	defer pc.Terminate(ctx)

	pool := testutil.NewTestPool(ctx, t, pc)
	defer pool.Close()

	repo := NewEntryRepository(pool, 10)

	warranty := []domain.IndexEntry{
		{ID: domain.EntryIDFor("d1", 0), Title: "warranty.md", Path: "docs/warranty.md", Chunk: "The warranty covers two years of repairs", ChunkIndex: 0, Vector: vec(4, 0)},
	}
	shipping := []domain.IndexEntry{
		{ID: domain.EntryIDFor("d2", 0), Title: "shipping.md", Path: "docs/shipping.md", Chunk: "Shipping takes five business days", ChunkIndex: 0, Vector: vec(4, 1)},
	}
	require.NoError(t, repo.ReplaceDocument(ctx, "kb", "d1", warranty))
	require.NoError(t, repo.ReplaceDocument(ctx, "kb", "d2", shipping))

	got, err := repo.Search(ctx, domain.SearchRequest{Index: "kb", Text: "warranty", Vector: vec(4, 0), Top: 5})
	require.NoError(t, err)
	require.NotEmpty(t, got)
	assert.Equal(t, "warranty.md", got[0].Entry.Title)

	// replacing a document drops its previous chunks
	require.NoError(t, repo.ReplaceDocument(ctx, "kb", "d1", []domain.IndexEntry{
		{ID: domain.EntryIDFor("d1", 0), Title: "warranty.md", Path: "docs/warranty.md", Chunk: "Updated warranty terms", Vector: vec(4, 0)},
	}))

	pruned, err := repo.PruneDocuments(ctx, "kb", []string{"d1"})
	require.NoError(t, err)
	assert.Equal(t, 1, pruned)

	got, err = repo.Search(ctx, domain.SearchRequest{Index: "kb", Text: "shipping", Top: 5})
	require.NoError(t, err)
	assert.Empty(t, got)

	def := &domain.IndexDefinition{Name: "kb", Fields: []domain.IndexField{
		{Name: "id", Type: domain.FieldTypeString, Key: true},
		{Name: "vector", Type: domain.FieldTypeSingleVector, Dimensions: 8},
	}}
	assert.ErrorIs(t, repo.EnsureIndex(ctx, def), domain.ErrSchemaConflict)
	def.Fields[1].Dimensions = 4
	assert.NoError(t, repo.EnsureIndex(ctx, def))
}

func TestTruncateAll_IsolatesTests(t *testing.T) {
	ctx := context.Background()
	pc := testutil.NewPostgresContainer(ctx, t)
	defer pc.Terminate(ctx)

	pool := testutil.NewTestPool(ctx, t, pc)
	defer pool.Close()

	assets := NewAssetRepository(pool)
	runs := NewIndexerRunRepository(pool)
	entries := NewEntryRepository(pool, 10)

	require.NoError(t, assets.PutAsset(ctx, domain.AssetKindIndex, "kb", []byte(`{"name":"kb"}`)))
	_, err := runs.CreateRun(ctx, "kb-indexer")
	require.NoError(t, err)
	require.NoError(t, entries.ReplaceDocument(ctx, "kb", "d1", []domain.IndexEntry{
		{ID: domain.EntryIDFor("d1", 0), Title: "warranty.md", Path: "docs/warranty.md", Chunk: "two year warranty", Vector: vec(4, 0)},
	}))

	require.NoError(t, testutil.TruncateAll(ctx, pool))

	_, err = assets.GetAsset(ctx, domain.AssetKindIndex, "kb")
	assert.ErrorIs(t, err, domain.ErrAssetNotFound)
	history, err := runs.History(ctx, "kb-indexer", 10)
	require.NoError(t, err)
	assert.Empty(t, history)
	got, err := entries.Search(ctx, domain.SearchRequest{Index: "kb", Text: "warranty", Top: 5})
	require.NoError(t, err)
	assert.Empty(t, got)
}

func TestAdvisoryLock_Exclusive(t *testing.T) {
	ctx := context.Background()
	pc := testutil.NewPostgresContainer(ctx, t)
	defer pc.Terminate(ctx)

	pool := testutil.NewTestPool(ctx, t, pc)
	defer pool.Close()

	first := NewAdvisoryLock(pool)
	second := NewAdvisoryLock(pool)

	ok, err := first.Acquire(ctx, "provision:kb", time.Minute)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = second.Acquire(ctx, "provision:kb", time.Minute)
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, first.Release(ctx, "provision:kb"))

	ok, err = second.Acquire(ctx, "provision:kb", time.Minute)
	require.NoError(t, err)
	assert.True(t, ok)
	require.NoError(t, second.Release(ctx, "provision:kb"))
}
