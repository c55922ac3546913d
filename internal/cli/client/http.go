package client

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"
)

const (
	envAPIURL = "RAGCHAT_API_URL"

	defaultAPIURL  = "http://localhost:8080"
	defaultTimeout = 5 * time.Minute
)

type APIClient struct {
	baseURL    string
	httpClient *http.Client
}

// ResolveAPIURL picks the server URL from, in order, the --api-url flag,
// RAGCHAT_API_URL, the settings file and the built-in default. cmd may be nil.
func ResolveAPIURL(cmd *cobra.Command) (string, SettingSource, error) {
	if cmd != nil {
		if v, err := cmd.Flags().GetString("api-url"); err == nil && v != "" {
			return v, SourceFlag, nil
		}
	}
	if v := os.Getenv(envAPIURL); v != "" {
		return v, SourceEnv, nil
	}

	settings, err := LoadSettings()
	if err != nil {
		return "", "", err
	}
	if settings.APIURL != "" {
		return settings.APIURL, SourceSettings, nil
	}
	return defaultAPIURL, SourceDefault, nil
}

// NewAPIClientWithCmd creates an APIClient for the URL resolved from cmd,
// honouring a timeout stored in the settings file.
func NewAPIClientWithCmd(cmd *cobra.Command) (*APIClient, error) {
	baseURL, _, err := ResolveAPIURL(cmd)
	if err != nil {
		return nil, err
	}
	settings, err := LoadSettings()
	if err != nil {
		return nil, err
	}
	timeout, err := settings.RequestTimeout(defaultTimeout)
	if err != nil {
		return nil, err
	}
	return NewAPIClientWithConfig(baseURL, timeout)
}

// NewAPIClientWithConfig creates an APIClient with an explicit base URL.
func NewAPIClientWithConfig(baseURL string, timeout time.Duration) (*APIClient, error) {
	u, err := url.Parse(baseURL)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return nil, fmt.Errorf("invalid API URL %q", baseURL)
	}
	return &APIClient{
		baseURL: strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{
			Timeout: timeout,
		},
	}, nil
}

// APIResponse represents the standard API response format.
type APIResponse struct {
	Data  json.RawMessage `json:"data,omitempty"`
	Error string          `json:"error,omitempty"`
	Code  string          `json:"code,omitempty"`
}

// APIError represents an error from the API.
type APIError struct {
	StatusCode int
	Code       string
	Message    string
}

func (e *APIError) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("API error (%d %s): %s", e.StatusCode, e.Code, e.Message)
	}
	return fmt.Sprintf("API error (%d): %s", e.StatusCode, e.Message)
}

// HasCode reports whether err is an APIError with the given error code.
func HasCode(err error, code string) bool {
	var apiErr *APIError
	return errors.As(err, &apiErr) && apiErr.Code == code
}

// Get performs a GET request.
func (c *APIClient) Get(ctx context.Context, path string) (*APIResponse, error) {
	return c.do(ctx, http.MethodGet, path, nil)
}

// Post performs a POST request with JSON body.
func (c *APIClient) Post(ctx context.Context, path string, body interface{}) (*APIResponse, error) {
	return c.do(ctx, http.MethodPost, path, body)
}

// Delete performs a DELETE request.
func (c *APIClient) Delete(ctx context.Context, path string) (*APIResponse, error) {
	return c.do(ctx, http.MethodDelete, path, nil)
}

func (c *APIClient) do(ctx context.Context, method, path string, body interface{}) (*APIResponse, error) {
	var reqBody io.Reader
	if body != nil {
		jsonData, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal request body: %w", err)
		}
		reqBody = bytes.NewReader(jsonData)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reqBody)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response body: %w", err)
	}

	if resp.StatusCode == http.StatusNoContent || len(respBody) == 0 {
		if resp.StatusCode >= 400 {
			return nil, &APIError{StatusCode: resp.StatusCode, Message: http.StatusText(resp.StatusCode)}
		}
		return &APIResponse{}, nil
	}

	var apiResp APIResponse
	if err := json.Unmarshal(respBody, &apiResp); err != nil {
		if resp.StatusCode >= 400 {
			return nil, &APIError{
				StatusCode: resp.StatusCode,
				Message:    string(respBody),
			}
		}
		return nil, fmt.Errorf("failed to parse response: %w", err)
	}

	if resp.StatusCode >= 400 {
		return nil, &APIError{
			StatusCode: resp.StatusCode,
			Code:       apiResp.Code,
			Message:    apiResp.Error,
		}
	}

	return &apiResp, nil
}

// decodeData unmarshals the data envelope of resp into v.
func decodeData(resp *APIResponse, v interface{}) error {
	if len(resp.Data) == 0 {
		return errors.New("empty response data")
	}
	if err := json.Unmarshal(resp.Data, v); err != nil {
		return fmt.Errorf("failed to parse response data: %w", err)
	}
	return nil
}
