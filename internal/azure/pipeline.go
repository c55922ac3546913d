package azure

import (
	"errors"
	"net/http"
	"time"

	"github.com/Azure/azure-sdk-for-go/sdk/azcore"
	"github.com/Azure/azure-sdk-for-go/sdk/azcore/policy"
	"github.com/Azure/azure-sdk-for-go/sdk/azcore/runtime"
)

const (
	moduleName    = "ragchat"
	moduleVersion = "v1.0.0"
)

// ErrNoAuth is returned when neither an API key nor a credential is configured.
var ErrNoAuth = errors.New("either an api key or a token credential is required")

// PipelineOptions configures NewPipeline. APIKey wins over Credential.
type PipelineOptions struct {
	APIKeyHeader string
	APIKey       string
	Credential   azcore.TokenCredential
	Scope        string
	Timeout      time.Duration
	// Transport replaces the default HTTP sender.
	Transport policy.Transporter
}

// NewPipeline returns a pipeline that stamps a client request ID on every call
// and authenticates it with the configured key or bearer token. Retries are
// left to callers.
func NewPipeline(opts PipelineOptions) (runtime.Pipeline, error) {
	var auth policy.Policy
	switch {
	case opts.APIKey != "":
		auth = runtime.NewKeyCredentialPolicy(azcore.NewKeyCredential(opts.APIKey), opts.APIKeyHeader, nil)
	case opts.Credential != nil:
		auth = runtime.NewBearerTokenPolicy(opts.Credential, []string{opts.Scope}, nil)
	default:
		return runtime.Pipeline{}, ErrNoAuth
	}

	transport := opts.Transport
	if transport == nil {
		transport = &http.Client{Timeout: opts.Timeout}
	}
	return runtime.NewPipeline(moduleName, moduleVersion, runtime.PipelineOptions{
		PerCall:  []policy.Policy{runtime.NewRequestIDPolicy()},
		PerRetry: []policy.Policy{auth},
	}, &policy.ClientOptions{
		Transport: transport,
		Retry:     policy.RetryOptions{MaxRetries: -1},
	}), nil
}

// Doer sends plain *http.Request values through a pipeline. Response bodies
// are handed back unread so streamed responses keep streaming.
type Doer struct {
	Pipeline runtime.Pipeline
}

func (d Doer) Do(req *http.Request) (*http.Response, error) {
	preq, err := runtime.NewRequestFromRequest(req)
	if err != nil {
		return nil, err
	}
	runtime.SkipBodyDownload(preq)
	return d.Pipeline.Do(preq)
}
