// Package azsearch talks to the Azure AI Search REST API: asset management,
// indexer control and semantic + vector document search.
package azsearch

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/Azure/azure-sdk-for-go/sdk/azcore"
	"github.com/Azure/azure-sdk-for-go/sdk/azcore/runtime"
	"github.com/cloo-solutions/ragchat/internal/azure"
	"github.com/cloo-solutions/ragchat/internal/domain"
)

const (
	DefaultAPIVersion = "2023-11-01"
	defaultTimeout    = 60 * time.Second
	defaultVectorK    = 50
	maxErrorBody      = 8192
)

// Config configures a Client. APIKey wins over Credential when both are set.
type Config struct {
	Endpoint   string
	APIVersion string
	APIKey     string
	Credential azcore.TokenCredential
	Timeout    time.Duration
	VectorK    int
}

// Client is an Azure AI Search REST client.
type Client struct {
	endpoint   string
	apiVersion string
	pipeline   runtime.Pipeline
	vectorK    int
}

func NewClient(cfg Config) (*Client, error) {
	if cfg.Endpoint == "" {
		return nil, domain.NewConfigurationError("search endpoint is required", nil)
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	pl, err := azure.NewPipeline(azure.PipelineOptions{
		APIKeyHeader: "api-key",
		APIKey:       cfg.APIKey,
		Credential:   cfg.Credential,
		Scope:        azure.SearchScope,
		Timeout:      timeout,
	})
	if err != nil {
		return nil, domain.NewConfigurationError("search client needs an api key or a credential", err)
	}
	return NewClientWithPipeline(cfg.Endpoint, cfg.APIVersion, pl, cfg.VectorK), nil
}

// NewClientWithPipeline builds a client over an already authenticated pipeline.
func NewClientWithPipeline(endpoint, apiVersion string, pl runtime.Pipeline, vectorK int) *Client {
	if apiVersion == "" {
		apiVersion = DefaultAPIVersion
	}
	if vectorK <= 0 {
		vectorK = defaultVectorK
	}
	return &Client{
		endpoint:   strings.TrimRight(endpoint, "/"),
		apiVersion: apiVersion,
		pipeline:   pl,
		vectorK:    vectorK,
	}
}

func (c *Client) url(path string) string {
	return fmt.Sprintf("%s/%s?api-version=%s", c.endpoint, path, url.QueryEscape(c.apiVersion))
}

func resourcePath(kind domain.AssetKind, name string) string {
	return fmt.Sprintf("%s('%s')", kind, url.PathEscape(name))
}

// apiError is the error envelope returned by the service.
type apiError struct {
	Error struct {
		Code    string `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
}

// statusError carries a non-2xx response.
type statusError struct {
	Status  int
	Code    string
	Message string
}

func (e *statusError) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("search service returned %d %s: %s", e.Status, e.Code, e.Message)
	}
	return fmt.Sprintf("search service returned %d: %s", e.Status, e.Message)
}

func newStatusError(res *http.Response) *statusError {
	body, _ := io.ReadAll(io.LimitReader(res.Body, maxErrorBody))
	se := &statusError{Status: res.StatusCode}
	var envelope apiError
	if json.Unmarshal(body, &envelope) == nil && envelope.Error.Message != "" {
		se.Code = envelope.Error.Code
		se.Message = envelope.Error.Message
	} else {
		se.Message = strings.TrimSpace(string(body))
	}
	return se
}

// classify maps a transport error or status error to a domain error.
// notFound is returned for 404 responses.
func classify(err error, notFound *domain.DomainError) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}

	var de *domain.DomainError
	if errors.As(err, &de) {
		return err
	}

	var se *statusError
	if !errors.As(err, &se) {
		return domain.ErrServiceUnavailable.WithCause(err)
	}

	switch {
	case se.Status == http.StatusNotFound && notFound != nil:
		return notFound.WithCause(se)
	case se.Status == http.StatusConflict:
		return domain.ErrIndexerBusy.WithCause(se)
	case se.Status == http.StatusBadRequest && isSchemaConflict(se.Message):
		return domain.ErrSchemaConflict.WithCause(se)
	case se.Status == http.StatusBadRequest:
		return domain.ErrInvalidDefinition.WithCause(se)
	case se.Status == http.StatusUnauthorized, se.Status == http.StatusForbidden:
		return domain.ErrUnauthorized.WithCause(se)
	case se.Status == http.StatusTooManyRequests, se.Status >= 500:
		return domain.ErrServiceUnavailable.WithCause(se)
	}
	return domain.NewDomainErrorWithCause(domain.ErrCodeInternalError, "search service request failed", se)
}

func isSchemaConflict(message string) bool {
	m := strings.ToLower(message)
	return strings.Contains(m, "cannot be changed") ||
		strings.Contains(m, "cannot be deleted") ||
		strings.Contains(m, "cannot be removed")
}

// do sends a request and decodes a JSON response into out when out is non-nil.
func (c *Client) do(ctx context.Context, method, path string, body any, out any) error {
	req, err := runtime.NewRequest(ctx, method, c.url(path))
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Raw().Header.Set("Accept", "application/json")
	if body != nil {
		if err := runtime.MarshalAsJSON(req, body); err != nil {
			return fmt.Errorf("encode request: %w", err)
		}
	}

	res, err := c.pipeline.Do(req)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}
		return err
	}
	defer res.Body.Close()

	if !runtime.HasStatusCode(res, http.StatusOK, http.StatusCreated, http.StatusAccepted, http.StatusNoContent) {
		return newStatusError(res)
	}
	if out == nil || res.StatusCode == http.StatusNoContent {
		return nil
	}
	if err := runtime.UnmarshalAsJSON(res, out); err != nil {
		return domain.ErrInvalidResponse.WithCause(err)
	}
	return nil
}
