package openai

import (
	"context"
	"errors"
	"net/http"

	"github.com/cloo-solutions/ragchat/internal/domain"
	openai "github.com/sashabaranov/go-openai"
)

const contentFilterCode = "content_filter"

// classifyError maps go-openai errors onto domain errors. Context errors and
// errors that are already domain errors pass through.
func classifyError(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}
	if domain.CodeOf(err) != "" {
		return err
	}

	var apiErr *openai.APIError
	if errors.As(err, &apiErr) {
		if code, ok := apiErr.Code.(string); ok && code == contentFilterCode {
			return domain.ErrContentFiltered.WithCause(errors.New(apiErr.Message))
		}
		return classifyStatus(apiErr.HTTPStatusCode, err)
	}

	var reqErr *openai.RequestError
	if errors.As(err, &reqErr) {
		return classifyStatus(reqErr.HTTPStatusCode, err)
	}

	return domain.ErrServiceUnavailable.WithCause(err)
}

func classifyStatus(status int, err error) error {
	switch {
	case status == http.StatusTooManyRequests:
		return domain.ErrRateLimited.WithCause(err)
	case status == http.StatusUnauthorized, status == http.StatusForbidden:
		return domain.ErrUnauthorized.WithCause(err)
	case status == http.StatusRequestTimeout, status >= 500:
		return domain.ErrServiceUnavailable.WithCause(err)
	default:
		return domain.NewDomainErrorWithCause(domain.ErrCodeInternalError, "model service rejected the request", err)
	}
}
