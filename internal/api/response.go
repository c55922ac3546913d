package api

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/cloo-solutions/ragchat/internal/domain"
)

// SuccessResponse wraps successful API responses
type SuccessResponse struct {
	Data interface{} `json:"data"`
}

// ErrorResponse represents an error API response
type ErrorResponse struct {
	Error string `json:"error"`
	Code  string `json:"code,omitempty"`
}

// JSON writes a JSON response with the given status code
func JSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if data != nil {
		json.NewEncoder(w).Encode(data)
	}
}

// Success writes a successful JSON response
func Success(w http.ResponseWriter, status int, data interface{}) {
	JSON(w, status, SuccessResponse{Data: data})
}

// Error writes an error JSON response
func Error(w http.ResponseWriter, status int, message string) {
	JSON(w, status, ErrorResponse{Error: message})
}

// PayloadTooLarge writes the 413 envelope shared by the body limit middleware and handlers.
func PayloadTooLarge(w http.ResponseWriter) {
	JSON(w, http.StatusRequestEntityTooLarge, ErrorResponse{
		Error: "request body too large",
		Code:  "PAYLOAD_TOO_LARGE",
	})
}

// DomainErrorToHTTP maps domain errors to HTTP status codes
func DomainErrorToHTTP(err error) int {
	if err == nil {
		return http.StatusOK
	}

	var domainErr *domain.DomainError
	if !errors.As(err, &domainErr) {
		return http.StatusInternalServerError
	}

	switch domainErr.Code {
	case domain.ErrCodeValidation:
		return http.StatusBadRequest
	case domain.ErrCodeNotFound:
		return http.StatusNotFound
	case domain.ErrCodeSessionBusy, domain.ErrCodeCancelled,
		domain.ErrCodeSchemaConflict, domain.ErrCodeIndexerBusy, domain.ErrCodeProvisionInProgress:
		return http.StatusConflict
	case domain.ErrCodeRateLimited:
		return http.StatusTooManyRequests
	case domain.ErrCodeServiceUnavailable:
		return http.StatusServiceUnavailable
	case domain.ErrCodeRetrievalTimeout, domain.ErrCodeGenerationTimeout:
		return http.StatusGatewayTimeout
	case domain.ErrCodeInvalidResponse, domain.ErrCodeIndexerFailed, domain.ErrCodeUnauthorized:
		return http.StatusBadGateway
	case domain.ErrCodeContentFiltered:
		return http.StatusUnprocessableEntity
	default:
		return http.StatusInternalServerError
	}
}

// HandleError writes an appropriate error response based on the error type.
// Internal failures hide their message.
func HandleError(w http.ResponseWriter, err error) {
	status := DomainErrorToHTTP(err)
	code := domain.CodeOf(err)

	message := err.Error()
	var domainErr *domain.DomainError
	if errors.As(err, &domainErr) {
		message = domainErr.Message
	}
	if status == http.StatusInternalServerError {
		message = http.StatusText(status)
		if code == "" {
			code = domain.ErrCodeInternalError
		}
	}
	JSON(w, status, ErrorResponse{Error: message, Code: code})
}
