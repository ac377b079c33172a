package models

import "errors"

// Application-wide standard errors
var (
	// Common Resource/DB Errors
	ErrNotFound        = errors.New("resource not found")
	ErrStoryNotFound   = errors.New("story not found")
	ErrOwnerNotFound   = errors.New("owner settings not found")
	ErrFieldAlreadySet = errors.New("write-once field already set to a different value")

	// Authentication / authorization
	ErrUnauthorized = errors.New("unauthorized") // Authentication required or failed
	ErrForbidden    = errors.New("forbidden")    // Authenticated, but lacks permission

	// Token Errors
	ErrTokenInvalid   = errors.New("token is invalid")
	ErrTokenMalformed = errors.New("token is malformed")
	ErrTokenExpired   = errors.New("token has expired")
	ErrTokenNotFound  = errors.New("token not found in storage")

	// Story lifecycle
	ErrInvalidTransition    = errors.New("invalid story status transition")
	ErrConflict             = errors.New("story is not in a state that allows this action")
	ErrGenerationInProgress = errors.New("generation is already in progress for this story")
	ErrQuotaExceeded        = errors.New("quota exceeded")
	ErrNoVendorConfigured   = errors.New("no vendor configured for operation")

	// General Request/Server Errors
	ErrInternalServer = errors.New("internal server error")
	ErrBadRequest     = errors.New("bad request")
	ErrInvalidInput   = errors.New("invalid input data")
	ErrFileTooLarge   = errors.New("file too large")
)

// Коды ошибок для ErrorResponse.
const (
	ErrCodeBadRequest    = "bad_request"
	ErrCodeValidation    = "validation_error"
	ErrCodeUnauthorized  = "unauthorized"
	ErrCodeForbidden     = "forbidden"
	ErrCodeNotFound      = "not_found"
	ErrCodeConflict      = "conflict"
	ErrCodeInvalidToken  = "invalid_token"
	ErrCodeTokenExpired  = "token_expired"
	ErrCodeQuotaExceeded = "quota_exceeded"
	ErrCodeInProgress    = "generation_in_progress"
	ErrCodeInternal      = "internal_error"
	ErrCodeFileTooLarge  = "file_too_large"
	ErrCodeUnsupportedOp = "unsupported_operation"
	ErrCodeRateLimited   = "too_many_requests"
)
