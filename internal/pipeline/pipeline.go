// Package pipeline executes an indexer run for the self-hosted search
// backend: list the data source container, extract text, split pages,
// embed them and replace each document's entries.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"

	"github.com/cloo-solutions/ragchat/internal/domain"
	"github.com/cloo-solutions/ragchat/internal/storage"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

const defaultConcurrency = 4

// ObjectSource reads source documents from object storage.
type ObjectSource interface {
	Container() string
	List(ctx context.Context, prefix string) ([]domain.ObjectInfo, error)
	Open(ctx context.Context, key string) (io.ReadCloser, error)
	URL(key string) string
}

// Embedder produces the vector of one page.
type Embedder interface {
	GenerateEmbedding(ctx context.Context, text string) ([]float32, error)
}

// EntryWriter stores the entries of documents.
type EntryWriter interface {
	ReplaceDocument(ctx context.Context, index, documentID string, entries []domain.IndexEntry) error
	PruneDocuments(ctx context.Context, index string, keep []string) (int, error)
}

// Indexer runs the enrichment pipeline described by a set of search assets.
type Indexer struct {
	objects     ObjectSource
	extractor   Extractor
	embedder    Embedder
	entries     EntryWriter
	concurrency int
	logger      *zap.Logger
}

func NewIndexer(objects ObjectSource, extractor Extractor, embedder Embedder, entries EntryWriter, concurrency int, logger *zap.Logger) *Indexer {
	if concurrency <= 0 {
		concurrency = defaultConcurrency
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Indexer{
		objects:     objects,
		extractor:   extractor,
		embedder:    embedder,
		entries:     entries,
		concurrency: concurrency,
		logger:      logger,
	}
}

// Run indexes every object of the data source container and prunes entries
// of documents that are gone. Documents that fail keep their previous
// entries and turn the run into a transientFailure. A canceled context
// returns the context error.
func (x *Indexer) Run(ctx context.Context, assets *domain.SearchAssets) (domain.IndexerExecutionResult, error) {
	result := domain.IndexerExecutionResult{Status: domain.IndexerRunSuccess}
	if err := ctx.Err(); err != nil {
		return result, err
	}

	container := assets.DataSource.Container.Name
	if container != x.objects.Container() {
		result.Status = domain.IndexerRunTransientFailure
		result.ErrorMessage = fmt.Sprintf("data source container %q is not served by the configured storage (%q)", container, x.objects.Container())
		return result, nil
	}

	objects, err := x.objects.List(ctx, assets.DataSource.Container.Query)
	if err != nil {
		if ctx.Err() != nil {
			return result, ctx.Err()
		}
		result.Status = domain.IndexerRunTransientFailure
		result.ErrorMessage = fmt.Sprintf("list container %s: %v", container, err)
		return result, nil
	}

	chunkCfg := ChunkConfigFor(&assets.Skillset)
	embed := assets.Skillset.Skill(domain.SkillTypeEmbedding) != nil && assets.Index.VectorField() != nil
	index := assets.Index.Name

	var (
		mu        sync.Mutex
		processed int
		failed    int
		firstErr  error
	)
	keep := make([]string, 0, len(objects))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(x.concurrency)
	for _, obj := range objects {
		keep = append(keep, domain.DocumentIDFor(obj.Key))
		g.Go(func() error {
			err := x.indexObject(gctx, index, obj, chunkCfg, embed)
			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				if gctx.Err() != nil {
					return gctx.Err()
				}
				failed++
				if firstErr == nil {
					firstErr = fmt.Errorf("%s: %w", obj.Key, err)
				}
				x.logger.Warn("document indexing failed", zap.String("key", obj.Key), zap.Error(err))
				return nil
			}
			processed++
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return result, err
	}

	result.ItemsProcessed = processed
	result.ItemsFailed = failed

	pruned, err := x.entries.PruneDocuments(ctx, index, keep)
	if err != nil {
		if ctx.Err() != nil {
			return result, ctx.Err()
		}
		if firstErr == nil {
			firstErr = fmt.Errorf("prune stale entries: %w", err)
		}
	} else if pruned > 0 {
		x.logger.Info("pruned stale entries", zap.String("index", index), zap.Int("entries", pruned))
	}

	if firstErr != nil {
		result.Status = domain.IndexerRunTransientFailure
		result.ErrorMessage = firstErr.Error()
	}
	return result, nil
}

func (x *Indexer) indexObject(ctx context.Context, index string, obj domain.ObjectInfo, chunkCfg ChunkConfig, embed bool) error {
	contentType := obj.ContentType
	if contentType == "" || contentType == "application/octet-stream" {
		contentType = storage.ContentTypeFor(obj.Key)
	}
	doc := domain.NewDocument(obj.Key, contentType, obj.Size)

	rc, err := x.objects.Open(ctx, obj.Key)
	if err != nil {
		return err
	}
	text, err := x.extractor.Extract(rc, doc.ContentType)
	rc.Close()
	if err != nil {
		return err
	}

	pages := chunkText(text, chunkCfg)
	if len(pages) == 0 {
		return errors.New("no text extracted")
	}

	entries := make([]domain.IndexEntry, 0, len(pages))
	for i, page := range pages {
		entry := domain.IndexEntry{
			ID:         domain.EntryIDFor(doc.ID, i),
			DocumentID: doc.ID,
			Title:      doc.Title(),
			Path:       x.objects.URL(obj.Key),
			Chunk:      page,
			ChunkIndex: i,
		}
		if embed {
			vector, err := x.embedder.GenerateEmbedding(ctx, page)
			if err != nil {
				return fmt.Errorf("embed page %d: %w", i, err)
			}
			entry.Vector = vector
		}
		entries = append(entries, entry)
	}

	return x.entries.ReplaceDocument(ctx, index, doc.ID, entries)
}
