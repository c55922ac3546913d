package domain

import (
	"errors"
	"fmt"
)

// DomainError represents a domain-specific error
type DomainError struct {
	Code    string
	Message string
	Err     error
}

// Error implements the error interface
func (e *DomainError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("[%s] %s: %v", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// Unwrap returns the underlying error
func (e *DomainError) Unwrap() error {
	return e.Err
}

// Is reports whether target is a DomainError with the same code and message.
// Sentinels declared below can therefore be matched with errors.Is even when a
// copy carrying a cause is returned.
func (e *DomainError) Is(target error) bool {
	t, ok := target.(*DomainError)
	if !ok {
		return false
	}
	return e.Code == t.Code && e.Message == t.Message
}

// NewDomainError creates a new DomainError
func NewDomainError(code, message string) *DomainError {
	return &DomainError{
		Code:    code,
		Message: message,
		Err:     nil,
	}
}

// NewDomainErrorWithCause creates a new DomainError with an underlying cause
func NewDomainErrorWithCause(code, message string, err error) *DomainError {
	return &DomainError{
		Code:    code,
		Message: message,
		Err:     err,
	}
}

// WithCause returns a copy of the error carrying err as its cause.
func (e *DomainError) WithCause(err error) *DomainError {
	return &DomainError{Code: e.Code, Message: e.Message, Err: err}
}

// CodeOf returns the code of the first DomainError in err's chain, or "" if none.
func CodeOf(err error) string {
	var de *DomainError
	if errors.As(err, &de) {
		return de.Code
	}
	return ""
}

// HasCode reports whether err carries a DomainError with the given code.
func HasCode(err error, code string) bool {
	return err != nil && CodeOf(err) == code
}

// Domain error codes
const (
	ErrCodeValidation          = "VALIDATION_ERROR"
	ErrCodeNotFound            = "NOT_FOUND"
	ErrCodeInternalError       = "INTERNAL_ERROR"
	ErrCodeConfiguration       = "CONFIGURATION_ERROR"
	ErrCodeServiceUnavailable  = "SERVICE_UNAVAILABLE"
	ErrCodeUnauthorized        = "UNAUTHORIZED"
	ErrCodeInvalidResponse     = "INVALID_RESPONSE"
	ErrCodeRetrievalTimeout    = "RETRIEVAL_TIMEOUT"
	ErrCodeGenerationTimeout   = "GENERATION_TIMEOUT"
	ErrCodeRateLimited         = "RATE_LIMITED"
	ErrCodeContentFiltered     = "CONTENT_FILTERED"
	ErrCodeSchemaConflict      = "SCHEMA_CONFLICT"
	ErrCodeIndexerFailed       = "INDEXER_FAILED"
	ErrCodeIndexerBusy         = "INDEXER_BUSY"
	ErrCodeProvisionInProgress = "PROVISION_IN_PROGRESS"
	ErrCodeSessionBusy         = "SESSION_BUSY"
	ErrCodeCancelled           = "CANCELLED"
)

// Validation errors
var (
	ErrMissingRequiredField = NewDomainError(ErrCodeValidation, "missing required field")
	ErrInvalidTopK          = NewDomainError(ErrCodeValidation, "k must be greater than zero")
	ErrEmptyQuery           = NewDomainError(ErrCodeValidation, "query must not be empty")
	ErrInvalidDefinition    = NewDomainError(ErrCodeValidation, "invalid search asset definition")
)

// Not found errors
var (
	ErrSessionNotFound    = NewDomainError(ErrCodeNotFound, "session not found")
	ErrIndexNotFound      = NewDomainError(ErrCodeNotFound, "index not found")
	ErrDataSourceNotFound = NewDomainError(ErrCodeNotFound, "data source not found")
	ErrSkillsetNotFound   = NewDomainError(ErrCodeNotFound, "skillset not found")
	ErrIndexerNotFound    = NewDomainError(ErrCodeNotFound, "indexer not found")
	ErrObjectNotFound     = NewDomainError(ErrCodeNotFound, "object not found")
	ErrAssetNotFound      = NewDomainError(ErrCodeNotFound, "search asset not found")
)

// Chat turn errors
var (
	ErrServiceUnavailable = NewDomainError(ErrCodeServiceUnavailable, "upstream service unavailable")
	ErrUnauthorized       = NewDomainError(ErrCodeUnauthorized, "upstream service rejected the credentials")
	ErrInvalidResponse    = NewDomainError(ErrCodeInvalidResponse, "upstream service returned an invalid response")
	ErrRetrievalTimeout   = NewDomainError(ErrCodeRetrievalTimeout, "retrieval timed out")
	ErrGenerationTimeout  = NewDomainError(ErrCodeGenerationTimeout, "generation timed out")
	ErrRateLimited        = NewDomainError(ErrCodeRateLimited, "rate limited by the model service, retry the question shortly")
	ErrContentFiltered    = NewDomainError(ErrCodeContentFiltered, "content filtered")
	ErrSessionBusy        = NewDomainError(ErrCodeSessionBusy, "a turn is already in progress for this session")
	ErrTurnCancelled      = NewDomainError(ErrCodeCancelled, "turn cancelled")
)

// Provisioning errors
var (
	ErrSchemaConflict      = NewDomainError(ErrCodeSchemaConflict, "index definition is incompatible with the existing index")
	ErrIndexerFailed       = NewDomainError(ErrCodeIndexerFailed, "indexer run failed")
	ErrIndexerBusy         = NewDomainError(ErrCodeIndexerBusy, "indexer run already in progress")
	ErrProvisionInProgress = NewDomainError(ErrCodeProvisionInProgress, "provisioning already running for this index")
	ErrStorageOperation    = NewDomainError(ErrCodeInternalError, "storage operation failed")
)

// NewConfigurationError reports a missing or invalid configuration value.
func NewConfigurationError(message string, err error) *DomainError {
	return NewDomainErrorWithCause(ErrCodeConfiguration, message, err)
}

// IsTransient reports whether err is worth retrying at a call boundary.
func IsTransient(err error) bool {
	return HasCode(err, ErrCodeServiceUnavailable)
}
