package repository

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/cloo-solutions/ragchat/internal/domain"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/pgvector/pgvector-go"
)

const (
	defaultCandidates = 50

	rrfK           = 60
	semanticWeight = 1.0
	lexicalWeight  = 0.85
)

// EntryRepository stores index entries in Postgres with pgvector embeddings
// and answers hybrid (vector + full text) queries.
type EntryRepository struct {
	pool       *pgxpool.Pool
	candidates int
}

func NewEntryRepository(pool *pgxpool.Pool, candidates int) *EntryRepository {
	if candidates <= 0 {
		candidates = defaultCandidates
	}
	return &EntryRepository{pool: pool, candidates: candidates}
}

// EnsureIndex checks stored embeddings against the dimensions declared by def.
// Entries of every index share one table, so there is nothing to create.
func (r *EntryRepository) EnsureIndex(ctx context.Context, def *domain.IndexDefinition) error {
	vf := def.VectorField()
	if vf == nil {
		return nil
	}

	var dims int
	err := r.pool.QueryRow(ctx,
		`SELECT vector_dims(embedding) FROM index_entries
		 WHERE index_name = $1 AND embedding IS NOT NULL
		 LIMIT 1`,
		def.Name,
	).Scan(&dims)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil
		}
		return err
	}
	if dims != vf.Dimensions {
		return domain.ErrSchemaConflict.WithCause(fmt.Errorf("index %s holds %d-dimensional vectors, definition declares %d", def.Name, dims, vf.Dimensions))
	}
	return nil
}

// ReplaceDocument swaps the entries of one document atomically.
func (r *EntryRepository) ReplaceDocument(ctx context.Context, index, documentID string, entries []domain.IndexEntry) error {
	return pgx.BeginFunc(ctx, r.pool, func(tx pgx.Tx) error {
		_, err := tx.Exec(ctx, `DELETE FROM index_entries WHERE index_name = $1 AND document_id = $2`, index, documentID)
		if err != nil {
			return err
		}

		for _, e := range entries {
			var embedding *pgvector.Vector
			if len(e.Vector) > 0 {
				v := pgvector.NewVector(e.Vector)
				embedding = &v
			}
			_, err := tx.Exec(ctx,
				`INSERT INTO index_entries (index_name, id, document_id, title, path, chunk, chunk_index, embedding)
				 VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
				index, e.ID, documentID, e.Title, e.Path, e.Chunk, e.ChunkIndex, embedding,
			)
			if err != nil {
				return fmt.Errorf("insert entry %s: %w", e.ID, err)
			}
		}
		return nil
	})
}

// PruneDocuments removes entries of documents not listed in keep and
// returns the number of deleted entries.
func (r *EntryRepository) PruneDocuments(ctx context.Context, index string, keep []string) (int, error) {
	if keep == nil {
		keep = []string{}
	}
	cmdTag, err := r.pool.Exec(ctx,
		`DELETE FROM index_entries WHERE index_name = $1 AND NOT (document_id = ANY($2))`,
		index, keep,
	)
	if err != nil {
		return 0, err
	}
	return int(cmdTag.RowsAffected()), nil
}

// Search runs the vector and full text legs and fuses them with reciprocal
// rank fusion. Either leg is skipped when its input is empty.
func (r *EntryRepository) Search(ctx context.Context, req domain.SearchRequest) ([]domain.ScoredEntry, error) {
	if req.Top <= 0 {
		return nil, domain.ErrInvalidTopK
	}

	var semantic, lexical []domain.IndexEntry
	var err error
	if len(req.Vector) > 0 {
		semantic, err = r.searchSemantic(ctx, req.Index, req.Vector)
		if err != nil {
			return nil, err
		}
	}
	if strings.TrimSpace(req.Text) != "" {
		lexical, err = r.searchLexical(ctx, req.Index, req.Text)
		if err != nil {
			return nil, err
		}
	}

	return fuse(req.Top, rankedList{semantic, semanticWeight}, rankedList{lexical, lexicalWeight}), nil
}

const entryColumns = `id, document_id, title, path, chunk, chunk_index`

func (r *EntryRepository) searchSemantic(ctx context.Context, index string, vector []float32) ([]domain.IndexEntry, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT `+entryColumns+`
		 FROM index_entries
		 WHERE index_name = $1 AND embedding IS NOT NULL
		 ORDER BY embedding <=> $2
		 LIMIT $3`,
		index, pgvector.NewVector(vector), r.candidates,
	)
	if err != nil {
		return nil, err
	}
	return scanEntries(rows)
}

func (r *EntryRepository) searchLexical(ctx context.Context, index, text string) ([]domain.IndexEntry, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT `+entryColumns+`
		 FROM index_entries, websearch_to_tsquery('english', $2) AS q
		 WHERE index_name = $1 AND search_vector @@ q
		 ORDER BY ts_rank_cd(search_vector, q) DESC, id
		 LIMIT $3`,
		index, text, r.candidates,
	)
	if err != nil {
		return nil, err
	}
	return scanEntries(rows)
}

func scanEntries(rows pgx.Rows) ([]domain.IndexEntry, error) {
	defer rows.Close()

	var entries []domain.IndexEntry
	for rows.Next() {
		var e domain.IndexEntry
		if err := rows.Scan(&e.ID, &e.DocumentID, &e.Title, &e.Path, &e.Chunk, &e.ChunkIndex); err != nil {
			return nil, err
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

type rankedList struct {
	entries []domain.IndexEntry
	weight  float64
}

// fuse merges ranked lists by weighted reciprocal rank. Entries keep the
// order of first appearance when their fused scores are equal.
func fuse(top int, lists ...rankedList) []domain.ScoredEntry {
	index := make(map[string]int)
	var merged []domain.ScoredEntry
	for _, list := range lists {
		for rank, e := range list.entries {
			score := list.weight / float64(rrfK+rank+1)
			if i, ok := index[e.ID]; ok {
				merged[i].Score += score
				continue
			}
			index[e.ID] = len(merged)
			merged = append(merged, domain.ScoredEntry{Entry: e, Score: score})
		}
	}

	sort.SliceStable(merged, func(i, j int) bool {
		return merged[i].Score > merged[j].Score
	})
	if len(merged) > top {
		merged = merged[:top]
	}
	return merged
}
