package azsearch

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"

	"github.com/cloo-solutions/ragchat/internal/domain"
)

const selectFields = "title,path,chunk"

type vectorQuery struct {
	Kind   string    `json:"kind"`
	K      int       `json:"k"`
	Fields string    `json:"fields"`
	Vector []float32 `json:"vector"`
}

type searchRequest struct {
	Search                string        `json:"search"`
	Select                string        `json:"select"`
	QueryType             string        `json:"queryType"`
	SemanticConfiguration string        `json:"semanticConfiguration"`
	Captions              string        `json:"captions"`
	Answers               string        `json:"answers"`
	Top                   int           `json:"top"`
	VectorQueries         []vectorQuery `json:"vectorQueries,omitempty"`
}

type searchDocument struct {
	Score         *float64 `json:"@search.score"`
	RerankerScore *float64 `json:"@search.rerankerScore"`
	Title         *string  `json:"title"`
	Path          *string  `json:"path"`
	Chunk         *string  `json:"chunk"`
}

type searchResponse struct {
	Value *[]json.RawMessage `json:"value"`
}

// SemanticConfigurationName is the semantic ranker configuration declared on an index.
func SemanticConfigurationName(index string) string {
	return index + "-semantic-configuration"
}

// Search runs a semantic query, with a vector query on the "vector" field
// when req carries an embedding. Scores are the semantic reranker score when
// present and the base search score otherwise, in service order.
func (c *Client) Search(ctx context.Context, req domain.SearchRequest) ([]domain.ScoredEntry, error) {
	if req.Top <= 0 {
		return nil, domain.ErrInvalidTopK
	}

	body := searchRequest{
		Search:                req.Text,
		Select:                selectFields,
		QueryType:             "semantic",
		SemanticConfiguration: SemanticConfigurationName(req.Index),
		Captions:              "extractive",
		Answers:               "extractive",
		Top:                   req.Top,
	}
	if len(req.Vector) > 0 {
		body.VectorQueries = []vectorQuery{{Kind: "vector", K: c.vectorK, Fields: "vector", Vector: req.Vector}}
	}

	var out searchResponse
	path := fmt.Sprintf("indexes/%s/docs/search", url.PathEscape(req.Index))
	if err := c.do(ctx, http.MethodPost, path, body, &out); err != nil {
		return nil, classify(err, domain.ErrIndexNotFound)
	}
	if out.Value == nil {
		return nil, domain.ErrInvalidResponse.WithCause(fmt.Errorf("search response has no value array"))
	}

	results := make([]domain.ScoredEntry, 0, len(*out.Value))
	for i, raw := range *out.Value {
		var doc searchDocument
		if err := json.Unmarshal(raw, &doc); err != nil {
			return nil, domain.ErrInvalidResponse.WithCause(fmt.Errorf("document %d: %w", i, err))
		}
		entry, err := doc.toScoredEntry()
		if err != nil {
			return nil, domain.ErrInvalidResponse.WithCause(fmt.Errorf("document %d: %w", i, err))
		}
		results = append(results, entry)
	}
	return results, nil
}

func (d searchDocument) toScoredEntry() (domain.ScoredEntry, error) {
	switch {
	case d.Title == nil:
		return domain.ScoredEntry{}, fmt.Errorf("missing title")
	case d.Path == nil:
		return domain.ScoredEntry{}, fmt.Errorf("missing path")
	case d.Chunk == nil:
		return domain.ScoredEntry{}, fmt.Errorf("missing chunk")
	case d.Score == nil && d.RerankerScore == nil:
		return domain.ScoredEntry{}, fmt.Errorf("missing score")
	}

	var score float64
	if d.RerankerScore != nil {
		score = *d.RerankerScore
	} else {
		score = *d.Score
	}
	return domain.ScoredEntry{
		Entry: domain.IndexEntry{Title: *d.Title, Path: *d.Path, Chunk: *d.Chunk},
		Score: score,
	}, nil
}
