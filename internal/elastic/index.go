package elastic

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"

	"github.com/cloo-solutions/ragchat/internal/domain"
	"github.com/elastic/go-elasticsearch/v8"
	"github.com/elastic/go-elasticsearch/v8/esapi"
)

const (
	indexPrefix       = "ragchat-"
	defaultCandidates = 50
)

// Index keeps the entries of each knowledge index in its own Elasticsearch
// index named ragchat-<name>.
type Index struct {
	client     *elasticsearch.Client
	candidates int
}

func NewIndex(client *elasticsearch.Client, candidates int) *Index {
	if candidates <= 0 {
		candidates = defaultCandidates
	}
	return &Index{client: client, candidates: candidates}
}

func indexName(name string) string {
	return indexPrefix + strings.ToLower(name)
}

type entryDoc struct {
	ID         string    `json:"id"`
	DocumentID string    `json:"document_id"`
	Title      string    `json:"title"`
	Path       string    `json:"path"`
	Chunk      string    `json:"chunk"`
	ChunkIndex int       `json:"chunk_index"`
	Vector     []float32 `json:"vector,omitempty"`
}

func (d entryDoc) entry() domain.IndexEntry {
	return domain.IndexEntry{
		ID:         d.ID,
		DocumentID: d.DocumentID,
		Title:      d.Title,
		Path:       d.Path,
		Chunk:      d.Chunk,
		ChunkIndex: d.ChunkIndex,
	}
}

func mappingFor(def *domain.IndexDefinition) map[string]any {
	props := map[string]any{
		"id":          map[string]any{"type": "keyword"},
		"document_id": map[string]any{"type": "keyword"},
		"title":       map[string]any{"type": "text", "fields": map[string]any{"raw": map[string]any{"type": "keyword"}}},
		"path":        map[string]any{"type": "keyword"},
		"chunk":       map[string]any{"type": "text", "analyzer": "english"},
		"chunk_index": map[string]any{"type": "integer"},
	}
	if vf := def.VectorField(); vf != nil {
		props["vector"] = map[string]any{
			"type":       "dense_vector",
			"dims":       vf.Dimensions,
			"index":      true,
			"similarity": "cosine",
		}
	}
	return map[string]any{"mappings": map[string]any{"properties": props}}
}

// EnsureIndex creates the backing index, or checks an existing one still has
// the vector dimensions def declares.
func (x *Index) EnsureIndex(ctx context.Context, def *domain.IndexDefinition) error {
	name := indexName(def.Name)

	res, err := x.client.Indices.Exists([]string{name}, x.client.Indices.Exists.WithContext(ctx))
	if err != nil {
		return domain.ErrServiceUnavailable.WithCause(err)
	}
	res.Body.Close()

	switch res.StatusCode {
	case http.StatusOK:
		return x.checkMapping(ctx, def)
	case http.StatusNotFound:
	default:
		return domain.ErrServiceUnavailable.WithCause(fmt.Errorf("unexpected status %d checking index %s", res.StatusCode, name))
	}

	body, err := encode(mappingFor(def))
	if err != nil {
		return err
	}
	res, err = x.client.Indices.Create(name,
		x.client.Indices.Create.WithContext(ctx),
		x.client.Indices.Create.WithBody(body),
	)
	if err != nil {
		return domain.ErrServiceUnavailable.WithCause(err)
	}
	defer res.Body.Close()
	if res.IsError() {
		return responseError(res)
	}
	return nil
}

func (x *Index) checkMapping(ctx context.Context, def *domain.IndexDefinition) error {
	vf := def.VectorField()
	if vf == nil {
		return nil
	}

	name := indexName(def.Name)
	res, err := x.client.Indices.GetMapping(
		x.client.Indices.GetMapping.WithContext(ctx),
		x.client.Indices.GetMapping.WithIndex(name),
	)
	if err != nil {
		return domain.ErrServiceUnavailable.WithCause(err)
	}
	defer res.Body.Close()
	if res.IsError() {
		return responseError(res)
	}

	var mapping map[string]struct {
		Mappings struct {
			Properties map[string]struct {
				Type string `json:"type"`
				Dims int    `json:"dims"`
			} `json:"properties"`
		} `json:"mappings"`
	}
	if err := decode(res, &mapping); err != nil {
		return err
	}

	vector, ok := mapping[name].Mappings.Properties["vector"]
	if !ok {
		return domain.ErrSchemaConflict.WithCause(fmt.Errorf("index %s has no vector field", name))
	}
	if vector.Dims != vf.Dimensions {
		return domain.ErrSchemaConflict.WithCause(fmt.Errorf("index %s holds %d-dimensional vectors, definition declares %d", name, vector.Dims, vf.Dimensions))
	}
	return nil
}

// ReplaceDocument deletes the entries of a document and bulk indexes the new ones.
func (x *Index) ReplaceDocument(ctx context.Context, index, documentID string, entries []domain.IndexEntry) error {
	name := indexName(index)
	if _, err := x.deleteByQuery(ctx, name, map[string]any{
		"term": map[string]any{"document_id": documentID},
	}); err != nil {
		return err
	}
	if len(entries) == 0 {
		return nil
	}

	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	for _, e := range entries {
		meta := map[string]any{"index": map[string]any{"_index": name, "_id": e.ID}}
		doc := entryDoc{
			ID:         e.ID,
			DocumentID: documentID,
			Title:      e.Title,
			Path:       e.Path,
			Chunk:      e.Chunk,
			ChunkIndex: e.ChunkIndex,
			Vector:     e.Vector,
		}
		if err := enc.Encode(meta); err != nil {
			return err
		}
		if err := enc.Encode(doc); err != nil {
			return err
		}
	}

	req := esapi.BulkRequest{Body: &buf, Refresh: "true"}
	res, err := req.Do(ctx, x.client)
	if err != nil {
		return domain.ErrServiceUnavailable.WithCause(err)
	}
	defer res.Body.Close()
	if res.IsError() {
		return responseError(res)
	}

	var bulk struct {
		Errors bool `json:"errors"`
		Items  []map[string]struct {
			ID    string          `json:"_id"`
			Error json.RawMessage `json:"error"`
		} `json:"items"`
	}
	if err := decode(res, &bulk); err != nil {
		return err
	}
	if bulk.Errors {
		for _, item := range bulk.Items {
			for _, op := range item {
				if len(op.Error) > 0 {
					return domain.NewDomainErrorWithCause(domain.ErrCodeInternalError, "bulk index failed",
						fmt.Errorf("entry %s: %s", op.ID, op.Error))
				}
			}
		}
	}
	return nil
}

// PruneDocuments deletes entries whose document is not in keep.
func (x *Index) PruneDocuments(ctx context.Context, index string, keep []string) (int, error) {
	if keep == nil {
		keep = []string{}
	}
	return x.deleteByQuery(ctx, indexName(index), map[string]any{
		"bool": map[string]any{
			"must_not": map[string]any{"terms": map[string]any{"document_id": keep}},
		},
	})
}

func (x *Index) deleteByQuery(ctx context.Context, name string, query map[string]any) (int, error) {
	body, err := encode(map[string]any{"query": query})
	if err != nil {
		return 0, err
	}
	res, err := x.client.DeleteByQuery([]string{name}, body,
		x.client.DeleteByQuery.WithContext(ctx),
		x.client.DeleteByQuery.WithRefresh(true),
		x.client.DeleteByQuery.WithConflicts("proceed"),
	)
	if err != nil {
		return 0, domain.ErrServiceUnavailable.WithCause(err)
	}
	defer res.Body.Close()
	if res.IsError() {
		return 0, responseError(res)
	}

	var out struct {
		Deleted int `json:"deleted"`
	}
	if err := decode(res, &out); err != nil {
		return 0, err
	}
	return out.Deleted, nil
}

// Search runs a BM25 match on the chunk text and a kNN query on the vector
// field in one request; Elasticsearch sums the two scores.
func (x *Index) Search(ctx context.Context, req domain.SearchRequest) ([]domain.ScoredEntry, error) {
	if req.Top <= 0 {
		return nil, domain.ErrInvalidTopK
	}

	query := map[string]any{
		"size":    req.Top,
		"_source": []string{"id", "document_id", "title", "path", "chunk", "chunk_index"},
	}
	if strings.TrimSpace(req.Text) != "" {
		query["query"] = map[string]any{
			"multi_match": map[string]any{
				"query":  req.Text,
				"fields": []string{"chunk", "title^2"},
			},
		}
	}
	if len(req.Vector) > 0 {
		k := x.candidates
		if k < req.Top {
			k = req.Top
		}
		query["knn"] = map[string]any{
			"field":          "vector",
			"query_vector":   req.Vector,
			"k":              k,
			"num_candidates": k * 2,
		}
	}
	if _, hasQuery := query["query"]; !hasQuery && len(req.Vector) == 0 {
		return []domain.ScoredEntry{}, nil
	}

	body, err := encode(query)
	if err != nil {
		return nil, err
	}
	res, err := x.client.Search(
		x.client.Search.WithContext(ctx),
		x.client.Search.WithIndex(indexName(req.Index)),
		x.client.Search.WithBody(body),
	)
	if err != nil {
		return nil, domain.ErrServiceUnavailable.WithCause(err)
	}
	defer res.Body.Close()
	if res.IsError() {
		return nil, responseError(res)
	}

	var out struct {
		Hits *struct {
			Hits []struct {
				Score  *float64 `json:"_score"`
				Source entryDoc `json:"_source"`
			} `json:"hits"`
		} `json:"hits"`
	}
	if err := decode(res, &out); err != nil {
		return nil, err
	}
	if out.Hits == nil {
		return nil, domain.ErrInvalidResponse.WithCause(fmt.Errorf("search response has no hits"))
	}

	results := make([]domain.ScoredEntry, 0, len(out.Hits.Hits))
	for _, h := range out.Hits.Hits {
		if h.Score == nil || h.Source.ID == "" {
			return nil, domain.ErrInvalidResponse.WithCause(fmt.Errorf("search hit is missing id or score"))
		}
		results = append(results, domain.ScoredEntry{Entry: h.Source.entry(), Score: *h.Score})
	}
	return results, nil
}
