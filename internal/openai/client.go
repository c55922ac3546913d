package openai

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/Azure/azure-sdk-for-go/sdk/azcore"
	"github.com/Azure/azure-sdk-for-go/sdk/azcore/policy"
	"github.com/cloo-solutions/ragchat/internal/azure"
	"github.com/cloo-solutions/ragchat/internal/domain"
	openai "github.com/sashabaranov/go-openai"
)

const (
	// DefaultEmbeddingDimensions is the output size of text-embedding-ada-002
	DefaultEmbeddingDimensions = 1536
	// DefaultAPIVersion is the Azure OpenAI data-plane version used when none is configured
	DefaultAPIVersion = "2023-12-01-preview"
)

var (
	// ErrEmptyText is returned when text is empty
	ErrEmptyText = errors.New("text cannot be empty")
	// ErrWrongDimensions is returned when embedding has wrong dimensions
	ErrWrongDimensions = errors.New("embedding has wrong dimensions")
	// ErrNoAuth is returned when neither an API key nor a credential is configured
	ErrNoAuth = errors.New("azure openai needs an api key or a token credential")
)

// API is the subset of the OpenAI client used by the chat flow.
type API interface {
	CreateEmbeddings(ctx context.Context, deployment, text string) ([]float32, error)
	CreateChatCompletion(ctx context.Context, req openai.ChatCompletionRequest) (openai.ChatCompletionResponse, error)
}

// Client talks to one chat deployment and one embeddings deployment.
type Client struct {
	api                 API
	chatDeployment      string
	embeddingDeployment string
	dimensions          int
}

type OpenAIAdapter struct {
	client *openai.Client
}

func NewOpenAIAdapter(cfg openai.ClientConfig) *OpenAIAdapter {
	return &OpenAIAdapter{client: openai.NewClientWithConfig(cfg)}
}

// CreateEmbeddings calls the embeddings endpoint of the given deployment
func (a *OpenAIAdapter) CreateEmbeddings(ctx context.Context, deployment, text string) ([]float32, error) {
	resp, err := a.client.CreateEmbeddings(ctx, openai.EmbeddingRequest{
		Input: []string{text},
		Model: openai.EmbeddingModel(deployment),
	})
	if err != nil {
		return nil, err
	}

	if len(resp.Data) == 0 {
		return nil, domain.ErrInvalidResponse.WithCause(errors.New("no embedding data returned"))
	}

	return resp.Data[0].Embedding, nil
}

func (a *OpenAIAdapter) CreateChatCompletion(ctx context.Context, req openai.ChatCompletionRequest) (openai.ChatCompletionResponse, error) {
	return a.client.CreateChatCompletion(ctx, req)
}

type Config struct {
	Endpoint            string
	APIKey              string
	APIVersion          string
	ChatDeployment      string
	EmbeddingDeployment string
	EmbeddingDimensions int
	// Credential is used for Entra ID auth when APIKey is empty.
	Credential azcore.TokenCredential
	// HTTPTimeout bounds each request; callers still pass their own deadlines.
	HTTPTimeout time.Duration
	// Transport replaces the default HTTP sender.
	Transport policy.Transporter
}

// NewAzureClient creates a client for an Azure OpenAI resource.
func NewAzureClient(cfg Config) (*Client, error) {
	if cfg.APIKey == "" && cfg.Credential == nil {
		return nil, ErrNoAuth
	}

	occ := openai.DefaultAzureConfig(cfg.APIKey, strings.TrimRight(cfg.Endpoint, "/"))
	occ.APIVersion = cfg.APIVersion
	if occ.APIVersion == "" {
		occ.APIVersion = DefaultAPIVersion
	}
	// Requests carry deployment names as the model.
	occ.AzureModelMapperFunc = func(model string) string { return model }

	var sender policy.Transporter = &http.Client{Timeout: cfg.HTTPTimeout}
	if cfg.Transport != nil {
		sender = cfg.Transport
	}
	occ.HTTPClient = sender
	if cfg.APIKey == "" {
		// Bearer tokens come from the pipeline.
		occ.APIType = openai.APITypeAzureAD
		pl, err := azure.NewPipeline(azure.PipelineOptions{
			Credential: cfg.Credential,
			Scope:      azure.CognitiveServicesScope,
			Transport:  sender,
		})
		if err != nil {
			return nil, err
		}
		occ.HTTPClient = azure.Doer{Pipeline: pl}
	}

	return NewClientWithAPI(NewOpenAIAdapter(occ), cfg), nil
}

// NewClientWithAPI builds a Client over an existing API implementation.
func NewClientWithAPI(api API, cfg Config) *Client {
	dimensions := cfg.EmbeddingDimensions
	if dimensions <= 0 {
		dimensions = DefaultEmbeddingDimensions
	}
	return &Client{
		api:                 api,
		chatDeployment:      cfg.ChatDeployment,
		embeddingDeployment: cfg.EmbeddingDeployment,
		dimensions:          dimensions,
	}
}

// GenerateEmbedding generates an embedding for the given text
func (c *Client) GenerateEmbedding(ctx context.Context, text string) ([]float32, error) {
	if strings.TrimSpace(text) == "" {
		return nil, ErrEmptyText
	}

	embedding, err := c.api.CreateEmbeddings(ctx, c.embeddingDeployment, text)
	if err != nil {
		return nil, fmt.Errorf("failed to create embedding: %w", classifyError(err))
	}

	if len(embedding) != c.dimensions {
		return nil, fmt.Errorf("%w: expected %d, got %d", ErrWrongDimensions, c.dimensions, len(embedding))
	}

	return embedding, nil
}

// Dimensions is the expected embedding size.
func (c *Client) Dimensions() int {
	return c.dimensions
}

// CompletionOptions tunes a chat completion call.
type CompletionOptions struct {
	MaxTokens   int
	Temperature float32
}

// Complete sends messages to the chat deployment and returns the first choice.
// Upstream failures are returned as domain errors; context errors are
// returned wrapped so callers can tell a deadline from a cancellation.
func (c *Client) Complete(ctx context.Context, messages []domain.ChatMessage, opts CompletionOptions) (*domain.Answer, error) {
	req := openai.ChatCompletionRequest{
		Model:       c.chatDeployment,
		Messages:    toChatMessages(messages),
		MaxTokens:   opts.MaxTokens,
		Temperature: opts.Temperature,
	}

	resp, err := c.api.CreateChatCompletion(ctx, req)
	if err != nil {
		return nil, fmt.Errorf("chat completion: %w", classifyError(err))
	}

	if len(resp.Choices) == 0 {
		return nil, domain.ErrInvalidResponse.WithCause(errors.New("chat completion returned no choices"))
	}

	choice := resp.Choices[0]
	if choice.FinishReason == openai.FinishReasonContentFilter {
		return nil, domain.ErrContentFiltered.WithCause(errors.New("the response was filtered by the content management policy"))
	}

	text := strings.TrimSpace(choice.Message.Content)
	if text == "" {
		return nil, domain.ErrInvalidResponse.WithCause(errors.New("chat completion returned empty content"))
	}

	return &domain.Answer{
		Text:         text,
		FinishReason: string(choice.FinishReason),
		PromptTokens: resp.Usage.PromptTokens,
		OutputTokens: resp.Usage.CompletionTokens,
	}, nil
}

func toChatMessages(messages []domain.ChatMessage) []openai.ChatCompletionMessage {
	out := make([]openai.ChatCompletionMessage, 0, len(messages))
	for _, m := range messages {
		out = append(out, openai.ChatCompletionMessage{Role: m.Role, Content: m.Content})
	}
	return out
}
