package service

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/cloo-solutions/ragchat/internal/domain"
	"github.com/cloo-solutions/ragchat/internal/openai"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

func TestRetriever_Retrieve_RewritesEmbedsAndSearches(t *testing.T) {
	search := new(MockSearchBackend)
	embedder := new(MockEmbeddingClient)
	completer := new(MockChatCompleter)

	completer.On("Complete", mock.Anything, mock.MatchedBy(func(msgs []domain.ChatMessage) bool {
		return len(msgs) == 2 && msgs[0].Content == "rewrite it" && msgs[1].Content == "How long is the warranty?"
	}), mock.AnythingOfType("openai.CompletionOptions")).Return(&domain.Answer{Text: ` "warranty period" `}, nil)
	embedder.On("GenerateEmbedding", mock.Anything, "warranty period").Return([]float32{0.1, 0.2}, nil)
	search.On("Search", mock.Anything, domain.SearchRequest{
		Index: "kb", Text: "warranty period", Vector: []float32{0.1, 0.2}, Top: 2,
	}).Return([]domain.ScoredEntry{
		scored("returns.md", "returns", 0.4),
		scored("warranty.md", "two years", 0.9),
	}, nil)

	r := NewRetriever(search, embedder, completer, RetrieverConfig{Index: "kb", RewritePrompt: "rewrite it", Timeout: time.Second}, nil)
	result, err := r.Retrieve(context.Background(), "How long is the warranty?", 2)
	require.NoError(t, err)

	assert.Equal(t, "How long is the warranty?", result.Query)
	assert.Equal(t, "warranty period", result.SearchQuery)
	require.Len(t, result.Entries, 2)
	assert.Equal(t, "warranty.md", result.Entries[0].Entry.Title)
	assert.Equal(t, "returns.md", result.Entries[1].Entry.Title)

	search.AssertExpectations(t)
	embedder.AssertExpectations(t)
	completer.AssertExpectations(t)
}

func TestRetriever_Retrieve_WithoutRewriteOrVector(t *testing.T) {
	search := new(MockSearchBackend)
	search.On("Search", mock.Anything, domain.SearchRequest{Index: "kb", Text: "battery", Top: 3}).
		Return([]domain.ScoredEntry{}, nil)

	r := NewRetriever(search, nil, nil, RetrieverConfig{Index: "kb"}, nil)
	result, err := r.Retrieve(context.Background(), "battery", 3)

	require.NoError(t, err)
	assert.True(t, result.Empty())
	assert.Equal(t, "battery", result.SearchQuery)
}

func TestRetriever_Retrieve_TruncatesToK(t *testing.T) {
	search := new(MockSearchBackend)
	search.On("Search", mock.Anything, mock.Anything).Return([]domain.ScoredEntry{
		scored("a.md", "a", 0.1), scored("b.md", "b", 0.3), scored("c.md", "c", 0.2),
	}, nil)

	r := NewRetriever(search, nil, nil, RetrieverConfig{Index: "kb"}, nil)
	result, err := r.Retrieve(context.Background(), "q", 2)
	require.NoError(t, err)
	require.Len(t, result.Entries, 2)
	assert.Equal(t, "b.md", result.Entries[0].Entry.Title)
	assert.Equal(t, "c.md", result.Entries[1].Entry.Title)
}

func TestRetriever_Retrieve_Validation(t *testing.T) {
	r := NewRetriever(new(MockSearchBackend), nil, nil, RetrieverConfig{Index: "kb"}, nil)

	_, err := r.Retrieve(context.Background(), "q", 0)
	assert.ErrorIs(t, err, domain.ErrInvalidTopK)

	_, err = r.Retrieve(context.Background(), "q", -1)
	assert.ErrorIs(t, err, domain.ErrInvalidTopK)

	_, err = r.Retrieve(context.Background(), "   ", 5)
	assert.ErrorIs(t, err, domain.ErrEmptyQuery)
}

func TestRetriever_Retrieve_Errors(t *testing.T) {
	tests := []struct {
		name      string
		searchErr error
		wantCode  string
	}{
		{"transport failure", errors.New("dial tcp: connection refused"), domain.ErrCodeServiceUnavailable},
		{"classified unavailable", domain.ErrServiceUnavailable, domain.ErrCodeServiceUnavailable},
		{"invalid response", domain.ErrInvalidResponse, domain.ErrCodeInvalidResponse},
		{"missing index", domain.ErrIndexNotFound, domain.ErrCodeNotFound},
		{"rejected credentials", domain.ErrUnauthorized, domain.ErrCodeServiceUnavailable},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			search := new(MockSearchBackend)
			search.On("Search", mock.Anything, mock.Anything).Return(nil, tt.searchErr)

			r := NewRetriever(search, nil, nil, RetrieverConfig{Index: "kb"}, nil)
			_, err := r.Retrieve(context.Background(), "q", 5)
			assert.Equal(t, tt.wantCode, domain.CodeOf(err))
			assert.ErrorIs(t, err, tt.searchErr)
		})
	}
}

func TestRetriever_Retrieve_Timeout(t *testing.T) {
	search := new(MockSearchBackend)
	search.On("Search", mock.Anything, mock.Anything).
		Run(func(args mock.Arguments) {
			<-args.Get(0).(context.Context).Done()
		}).
		Return(nil, context.DeadlineExceeded)

	r := NewRetriever(search, nil, nil, RetrieverConfig{Index: "kb", Timeout: 20 * time.Millisecond}, nil)
	start := time.Now()
	_, err := r.Retrieve(context.Background(), "q", 5)

	assert.ErrorIs(t, err, domain.ErrRetrievalTimeout)
	assert.Less(t, time.Since(start), time.Second)
}

func TestRetriever_Retrieve_CallerCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	search := new(MockSearchBackend)
	search.On("Search", mock.Anything, mock.Anything).
		Run(func(mock.Arguments) { cancel() }).
		Return(nil, context.Canceled)

	r := NewRetriever(search, nil, nil, RetrieverConfig{Index: "kb", Timeout: time.Second}, nil)
	_, err := r.Retrieve(ctx, "q", 5)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Empty(t, domain.CodeOf(err))
}

func TestRetriever_Retrieve_RewriteFailure(t *testing.T) {
	completer := new(MockChatCompleter)
	completer.On("Complete", mock.Anything, mock.Anything, openai.CompletionOptions{MaxTokens: rewriteMaxTokens}).
		Return(nil, domain.ErrRateLimited)

	r := NewRetriever(new(MockSearchBackend), nil, completer, RetrieverConfig{Index: "kb", RewritePrompt: "rewrite"}, nil)
	_, err := r.Retrieve(context.Background(), "q", 5)
	assert.ErrorIs(t, err, domain.ErrRateLimited)
}
