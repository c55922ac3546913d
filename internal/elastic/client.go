// Package elastic stores index entries in Elasticsearch and answers hybrid
// kNN + BM25 queries.
package elastic

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/cloo-solutions/ragchat/internal/domain"
	"github.com/elastic/go-elasticsearch/v8"
	"github.com/elastic/go-elasticsearch/v8/esapi"
)

type ClientConfig struct {
	URL      string
	Username string
	Password string
}

// NewClient builds an Elasticsearch client and checks the cluster answers.
func NewClient(ctx context.Context, cfg ClientConfig) (*elasticsearch.Client, error) {
	client, err := elasticsearch.NewClient(elasticsearch.Config{
		Addresses: []string{cfg.URL},
		Username:  cfg.Username,
		Password:  cfg.Password,
	})
	if err != nil {
		return nil, domain.NewConfigurationError("invalid elasticsearch configuration", err)
	}

	res, err := client.Info(client.Info.WithContext(ctx))
	if err != nil {
		return nil, domain.ErrServiceUnavailable.WithCause(err)
	}
	defer res.Body.Close()
	if res.IsError() {
		return nil, responseError(res)
	}
	return client, nil
}

// responseError maps an error response to a domain error.
func responseError(res *esapi.Response) error {
	body, _ := io.ReadAll(io.LimitReader(res.Body, 4096))
	cause := fmt.Errorf("elasticsearch returned %s: %s", res.Status(), strings.TrimSpace(string(body)))
	switch {
	case res.StatusCode == http.StatusNotFound:
		return domain.ErrIndexNotFound.WithCause(cause)
	case res.StatusCode == http.StatusTooManyRequests || res.StatusCode >= 500:
		return domain.ErrServiceUnavailable.WithCause(cause)
	case res.StatusCode == http.StatusUnauthorized || res.StatusCode == http.StatusForbidden:
		return domain.ErrUnauthorized.WithCause(cause)
	}
	return domain.NewDomainErrorWithCause(domain.ErrCodeInternalError, "elasticsearch request failed", cause)
}

func encode(v any) (io.Reader, error) {
	var buf bytes.Buffer
	if err := json.NewEncoder(&buf).Encode(v); err != nil {
		return nil, fmt.Errorf("encode request: %w", err)
	}
	return &buf, nil
}

func decode(res *esapi.Response, v any) error {
	if err := json.NewDecoder(res.Body).Decode(v); err != nil {
		return domain.ErrInvalidResponse.WithCause(err)
	}
	return nil
}
