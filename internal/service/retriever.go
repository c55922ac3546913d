package service

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/cloo-solutions/ragchat/internal/domain"
	"github.com/cloo-solutions/ragchat/internal/openai"
	"github.com/cloo-solutions/ragchat/internal/telemetry"
	"go.uber.org/zap"
)

const (
	defaultRetrievalTimeout = 30 * time.Second
	rewriteMaxTokens        = 100
)

// SearchBackend queries the knowledge index.
type SearchBackend interface {
	Search(ctx context.Context, req domain.SearchRequest) ([]domain.ScoredEntry, error)
}

// EmbeddingClient defines the interface for generating embeddings
type EmbeddingClient interface {
	GenerateEmbedding(ctx context.Context, text string) ([]float32, error)
}

// ChatCompleter sends one chat completion request.
type ChatCompleter interface {
	Complete(ctx context.Context, messages []domain.ChatMessage, opts openai.CompletionOptions) (*domain.Answer, error)
}

// RetrieverConfig configures retrieval.
type RetrieverConfig struct {
	Index   string
	Backend string
	Timeout time.Duration
	// RewritePrompt is the system message turning a question into a search
	// query. Empty disables the rewrite.
	RewritePrompt string
}

// Retriever fetches the entries most relevant to a query.
type Retriever struct {
	search    SearchBackend
	embedding EmbeddingClient
	completer ChatCompleter
	cfg       RetrieverConfig
	logger    *zap.Logger
}

// NewRetriever creates a Retriever. A nil embedding client disables the
// vector part of the query; a nil completer disables query rewriting.
func NewRetriever(search SearchBackend, embedding EmbeddingClient, completer ChatCompleter, cfg RetrieverConfig, logger *zap.Logger) *Retriever {
	if cfg.Timeout <= 0 {
		cfg.Timeout = defaultRetrievalTimeout
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Retriever{search: search, embedding: embedding, completer: completer, cfg: cfg, logger: logger}
}

// Retrieve returns at most k entries ordered by descending score. No match is
// an empty result, not an error. The whole call, including query rewrite and
// embedding, is bounded by the configured timeout.
func (r *Retriever) Retrieve(ctx context.Context, query string, k int) (*domain.RetrievalResult, error) {
	if k <= 0 {
		return nil, domain.ErrInvalidTopK
	}
	if strings.TrimSpace(query) == "" {
		return nil, domain.ErrEmptyQuery
	}

	ctx, span := telemetry.StartSpan(ctx, "retriever.retrieve", telemetry.SpanAttributes{
		IndexName: r.cfg.Index,
		Backend:   r.cfg.Backend,
		Operation: "retrieve",
	})
	defer span.End()

	callCtx, cancel := context.WithTimeout(ctx, r.cfg.Timeout)
	defer cancel()

	result, err := r.retrieve(callCtx, query, k)
	if err != nil {
		err = r.mapError(ctx, callCtx, err)
		span.SetError(err)
		return nil, err
	}
	return result, nil
}

func (r *Retriever) retrieve(ctx context.Context, query string, k int) (*domain.RetrievalResult, error) {
	searchQuery, err := r.rewrite(ctx, query)
	if err != nil {
		return nil, err
	}

	var vector []float32
	if r.embedding != nil {
		vector, err = r.embedding.GenerateEmbedding(ctx, searchQuery)
		if err != nil {
			return nil, err
		}
	}

	entries, err := r.search.Search(ctx, domain.SearchRequest{
		Index:  r.cfg.Index,
		Text:   searchQuery,
		Vector: vector,
		Top:    k,
	})
	if err != nil {
		return nil, err
	}

	domain.SortByScore(entries)
	if len(entries) > k {
		entries = entries[:k]
	}

	r.logger.Debug("retrieved entries",
		zap.String("search_query", searchQuery),
		zap.Int("count", len(entries)))

	return &domain.RetrievalResult{Query: query, SearchQuery: searchQuery, Entries: entries}, nil
}

func (r *Retriever) rewrite(ctx context.Context, query string) (string, error) {
	if r.completer == nil || strings.TrimSpace(r.cfg.RewritePrompt) == "" {
		return query, nil
	}
	answer, err := r.completer.Complete(ctx, []domain.ChatMessage{
		{Role: domain.RoleSystem, Content: r.cfg.RewritePrompt},
		{Role: domain.RoleUser, Content: query},
	}, openai.CompletionOptions{MaxTokens: rewriteMaxTokens})
	if err != nil {
		return "", err
	}
	rewritten := strings.Trim(strings.TrimSpace(answer.Text), `"`)
	if rewritten == "" {
		return query, nil
	}
	return rewritten, nil
}

// mapError distinguishes a caller cancellation from the retrieval deadline
// and maps unclassified failures and rejected credentials to
// SERVICE_UNAVAILABLE.
func (r *Retriever) mapError(parent, call context.Context, err error) error {
	if parent.Err() != nil {
		return parent.Err()
	}
	if errors.Is(call.Err(), context.DeadlineExceeded) || errors.Is(err, context.DeadlineExceeded) {
		return domain.ErrRetrievalTimeout.WithCause(err)
	}
	if domain.HasCode(err, domain.ErrCodeUnauthorized) {
		return domain.ErrServiceUnavailable.WithCause(err)
	}
	if domain.CodeOf(err) != "" {
		return err
	}
	return domain.ErrServiceUnavailable.WithCause(err)
}
