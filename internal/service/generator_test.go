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

func testPrompt() domain.Prompt {
	return domain.Prompt{System: "sys", User: "What is the warranty period?"}
}

func TestGenerator_Generate_Success(t *testing.T) {
	completer := new(MockChatCompleter)
	completer.On("Complete", mock.Anything, testPrompt().Messages(), openai.CompletionOptions{MaxTokens: 800, Temperature: 0.2}).
		Return(&domain.Answer{Text: "Two years [warranty.md]."}, nil).Once()

	g := NewGenerator(completer, GeneratorConfig{MaxTokens: 800, Temperature: 0.2}, nil)
	answer, err := g.Generate(context.Background(), testPrompt())

	require.NoError(t, err)
	assert.Equal(t, "Two years [warranty.md].", answer.Text)
	completer.AssertExpectations(t)
}

func TestGenerator_Generate_RetriesTransientOnce(t *testing.T) {
	completer := &funcCompleter{fn: func(_ context.Context, call int, _ []domain.ChatMessage) (*domain.Answer, error) {
		if call == 1 {
			return nil, domain.ErrServiceUnavailable
		}
		return &domain.Answer{Text: "ok"}, nil
	}}

	g := NewGenerator(completer, GeneratorConfig{RetryDelay: time.Millisecond}, nil)
	answer, err := g.Generate(context.Background(), testPrompt())

	require.NoError(t, err)
	assert.Equal(t, "ok", answer.Text)
	assert.Equal(t, 2, completer.Calls())
}

func TestGenerator_Generate_GivesUpAfterOneRetry(t *testing.T) {
	completer := &funcCompleter{fn: func(context.Context, int, []domain.ChatMessage) (*domain.Answer, error) {
		return nil, domain.ErrServiceUnavailable.WithCause(errors.New("502"))
	}}

	g := NewGenerator(completer, GeneratorConfig{RetryDelay: time.Millisecond}, nil)
	_, err := g.Generate(context.Background(), testPrompt())

	assert.ErrorIs(t, err, domain.ErrServiceUnavailable)
	assert.Equal(t, 2, completer.Calls())
}

func TestGenerator_Generate_NotRetried(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want error
	}{
		{"rate limited", domain.ErrRateLimited, domain.ErrRateLimited},
		{"content filtered", domain.ErrContentFiltered.WithCause(errors.New("hate: high")), domain.ErrContentFiltered},
		{"invalid response", domain.ErrInvalidResponse, domain.ErrInvalidResponse},
		{"unclassified", errors.New("boom"), domain.ErrServiceUnavailable},
		{"rejected credentials", domain.ErrUnauthorized, domain.ErrServiceUnavailable},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			completer := &funcCompleter{fn: func(context.Context, int, []domain.ChatMessage) (*domain.Answer, error) {
				return nil, tt.err
			}}
			g := NewGenerator(completer, GeneratorConfig{RetryDelay: time.Millisecond}, nil)
			_, err := g.Generate(context.Background(), testPrompt())

			assert.ErrorIs(t, err, tt.want)
			assert.Equal(t, 1, completer.Calls())
		})
	}
}

func TestGenerator_Generate_ContentFilterMessageIsKept(t *testing.T) {
	completer := &funcCompleter{fn: func(context.Context, int, []domain.ChatMessage) (*domain.Answer, error) {
		return nil, domain.ErrContentFiltered.WithCause(errors.New("the prompt triggered the violence filter"))
	}}
	_, err := NewGenerator(completer, GeneratorConfig{}, nil).Generate(context.Background(), testPrompt())

	turn := domain.NewErrorTurn("q", err)
	assert.Equal(t, domain.ErrCodeContentFiltered, turn.ErrorCode)
	assert.Equal(t, "the prompt triggered the violence filter", turn.ErrorMessage)
}

func TestGenerator_Generate_Timeout(t *testing.T) {
	completer := &funcCompleter{fn: func(ctx context.Context, _ int, _ []domain.ChatMessage) (*domain.Answer, error) {
		<-ctx.Done()
		return nil, ctx.Err()
	}}

	g := NewGenerator(completer, GeneratorConfig{Timeout: 20 * time.Millisecond, RetryDelay: time.Millisecond}, nil)
	_, err := g.Generate(context.Background(), testPrompt())

	assert.ErrorIs(t, err, domain.ErrGenerationTimeout)
	assert.Equal(t, 1, completer.Calls())
}

func TestGenerator_Generate_Cancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	completer := &funcCompleter{fn: func(ctx context.Context, _ int, _ []domain.ChatMessage) (*domain.Answer, error) {
		cancel()
		<-ctx.Done()
		return nil, ctx.Err()
	}}

	_, err := NewGenerator(completer, GeneratorConfig{Timeout: time.Second}, nil).Generate(ctx, testPrompt())
	assert.ErrorIs(t, err, context.Canceled)
	assert.Empty(t, domain.CodeOf(err))
}
