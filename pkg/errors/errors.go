package errors

import (
	stderrors "errors"
	"fmt"
	"net/http"
	"runtime"
	"time"
)

// ErrorType represents the type of error
type ErrorType string

const (
	ValidationError    ErrorType = "validation_error"
	ProcessingError    ErrorType = "processing_error"
	InternalError      ErrorType = "internal_error"
	NotFoundError      ErrorType = "not_found_error"
	ConflictError      ErrorType = "conflict_error"
	RateLimitError     ErrorType = "rate_limit_error"
	AuthError          ErrorType = "auth_error"
	ForbiddenError     ErrorType = "forbidden_error"
	TimeoutError       ErrorType = "timeout_error"
	ResourceError      ErrorType = "resource_error"
	NetworkError       ErrorType = "network_error"
	UnavailableError   ErrorType = "unavailable_error"
	ConfigurationError ErrorType = "configuration_error"
)

// Error codes shared across the ingestion pipeline.
const (
	CodeInvalidConfiguration  = "INVALID_CONFIGURATION"
	CodeEmbeddingUnavailable  = "EMBEDDING_UNAVAILABLE"
	CodeNoChunksGenerated     = "NO_CHUNKS_GENERATED"
	CodeSessionNotFound       = "SESSION_NOT_FOUND"
	CodeSessionAccessDenied   = "SESSION_ACCESS_DENIED"
	CodeSessionLimitExceeded  = "SESSION_LIMIT_EXCEEDED"
	CodeSessionIDConflict     = "SESSION_ID_CONFLICT"
	CodeDocumentNotFound      = "DOCUMENT_NOT_FOUND"
	CodeInvalidUUID           = "INVALID_UUID"
	CodeUnsupportedFileType   = "UNSUPPORTED_FILE_TYPE"
	CodeFileTooLarge          = "FILE_TOO_LARGE"
	CodeExtractionFailed      = "EXTRACTION_FAILED"
	CodeVectorStoreFailure    = "VECTOR_STORE_FAILURE"
	CodeQueueFailure          = "QUEUE_ERROR"
	CodeValidationFailed      = "VALIDATION_FAILED"
	CodeInvalidSessionToken   = "INVALID_SESSION_TOKEN"
	CodeInternal              = "INTERNAL_ERROR"
	CodeJobNotFound           = "JOB_NOT_FOUND"
	CodePanicRecovered        = "PANIC_RECOVERED"
	CodeStorageFailure        = "STORAGE_FAILURE"
	CodeSessionStoreFailure   = "SESSION_STORE_FAILURE"
	CodeVectorMismatch        = "VECTOR_COUNT_MISMATCH"
	CodeMissingEmbeddingModel = "MISSING_EMBEDDING_MODEL"
)

// AppError represents a structured application error
type AppError struct {
	Type       ErrorType              `json:"type"`
	Code       string                 `json:"code"`
	Message    string                 `json:"message"`
	Details    string                 `json:"details,omitempty"`
	HTTPStatus int                    `json:"http_status"`
	Timestamp  time.Time              `json:"timestamp"`
	TraceID    string                 `json:"trace_id,omitempty"`
	File       string                 `json:"file,omitempty"`
	Line       int                    `json:"line,omitempty"`
	Function   string                 `json:"function,omitempty"`
	Context    map[string]interface{} `json:"context,omitempty"`
	InnerError error                  `json:"-"`
}

// Error implements the error interface
func (e *AppError) Error() string {
	if e.Details != "" {
		return fmt.Sprintf("%s: %s (%s)", e.Code, e.Message, e.Details)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Unwrap returns the inner error
func (e *AppError) Unwrap() error {
	return e.InnerError
}

// Is reports whether target is an *AppError with the same type and code,
// so callers can match against a template error with errors.Is.
func (e *AppError) Is(target error) bool {
	t, ok := target.(*AppError)
	if !ok {
		return false
	}
	return e.Type == t.Type && e.Code == t.Code
}

// WithContext adds context to the error
func (e *AppError) WithContext(key string, value interface{}) *AppError {
	if e.Context == nil {
		e.Context = make(map[string]interface{})
	}
	e.Context[key] = value
	return e
}

// WithTrace adds trace information to the error
func (e *AppError) WithTrace(traceID string) *AppError {
	e.TraceID = traceID
	return e
}

func newAt(skip int, errType ErrorType, code, message string) *AppError {
	err := &AppError{
		Type:       errType,
		Code:       code,
		Message:    message,
		HTTPStatus: getHTTPStatus(errType),
		Timestamp:  time.Now(),
	}

	if pc, file, line, ok := runtime.Caller(skip + 1); ok {
		err.File = file
		err.Line = line
		if fn := runtime.FuncForPC(pc); fn != nil {
			err.Function = fn.Name()
		}
	}

	return err
}

// New creates a new AppError
func New(errType ErrorType, code, message string) *AppError {
	return newAt(1, errType, code, message)
}

// Wrap wraps an existing error with additional context
func Wrap(err error, errType ErrorType, code, message string) *AppError {
	appErr := newAt(1, errType, code, message)
	appErr.InnerError = err
	if err != nil {
		appErr.Details = err.Error()
	}
	return appErr
}

// Newf creates a new AppError with formatted message
func Newf(errType ErrorType, code, format string, args ...interface{}) *AppError {
	return newAt(1, errType, code, fmt.Sprintf(format, args...))
}

// Wrapf wraps an error with formatted message
func Wrapf(err error, errType ErrorType, code, format string, args ...interface{}) *AppError {
	appErr := newAt(1, errType, code, fmt.Sprintf(format, args...))
	appErr.InnerError = err
	if err != nil {
		appErr.Details = err.Error()
	}
	return appErr
}

// Predefined error constructors

// NewValidationError creates a validation error
func NewValidationError(message string) *AppError {
	return newAt(1, ValidationError, CodeValidationFailed, message)
}

// NewInternalError creates an internal error
func NewInternalError(message string) *AppError {
	return newAt(1, InternalError, CodeInternal, message)
}

// NewNotFoundError creates a not found error
func NewNotFoundError(resource string) *AppError {
	return newAt(1, NotFoundError, "NOT_FOUND", fmt.Sprintf("%s not found", resource))
}

// NewConflictError creates a conflict error
func NewConflictError(message string) *AppError {
	return newAt(1, ConflictError, "CONFLICT", message)
}

// NewRateLimitError creates a rate limit error
func NewRateLimitError(message string) *AppError {
	return newAt(1, RateLimitError, "RATE_LIMIT_EXCEEDED", message)
}

// NewAuthError creates an authentication error
func NewAuthError(message string) *AppError {
	return newAt(1, AuthError, "AUTH_FAILED", message)
}

// NewTimeoutError creates a timeout error
func NewTimeoutError(operation string) *AppError {
	return newAt(1, TimeoutError, "TIMEOUT", fmt.Sprintf("%s operation timed out", operation))
}

// NewConfigurationError creates a configuration error
func NewConfigurationError(message string) *AppError {
	return newAt(1, ConfigurationError, CodeInvalidConfiguration, message)
}

// Ingestion specific errors

// NewInvalidUUIDError reports a malformed user, session or document id.
func NewInvalidUUIDError(field, value string) *AppError {
	return newAt(1, ValidationError, CodeInvalidUUID, fmt.Sprintf("invalid %s format: %q", field, value))
}

// NewUnsupportedFileTypeError creates an unsupported file type error
func NewUnsupportedFileTypeError(fileType string) *AppError {
	return newAt(1, ValidationError, CodeUnsupportedFileType, fmt.Sprintf("file type '%s' is not supported", fileType))
}

// NewFileSizeError creates a file size error
func NewFileSizeError(size, maxSize int64) *AppError {
	return newAt(1, ValidationError, CodeFileTooLarge, fmt.Sprintf("file size %d bytes exceeds maximum allowed size of %d bytes", size, maxSize))
}

// NewSessionNotFoundError is returned for unknown or expired sessions.
func NewSessionNotFoundError(sessionID string) *AppError {
	return newAt(1, NotFoundError, CodeSessionNotFound, "session not found or expired").
		WithContext("session_id", sessionID)
}

// NewSessionAccessDeniedError is returned when a user touches a session it does not own.
func NewSessionAccessDeniedError(sessionID string) *AppError {
	return newAt(1, ForbiddenError, CodeSessionAccessDenied, "access denied to session").
		WithContext("session_id", sessionID)
}

// NewSessionLimitError is returned when an upload would exceed the per-session file limit.
func NewSessionLimitError(current, adding, limit int) *AppError {
	return newAt(1, ValidationError, CodeSessionLimitExceeded,
		fmt.Sprintf("session file limit exceeded: %d existing + %d new > %d", current, adding, limit))
}

// NewNoChunksError is returned when a document yields no chunks.
func NewNoChunksError(documentID string) *AppError {
	return newAt(1, ProcessingError, CodeNoChunksGenerated, "no chunks generated from document").
		WithContext("document_id", documentID)
}

// NewEmbeddingError wraps a failure of the embedding backend.
func NewEmbeddingError(err error, message string) *AppError {
	appErr := newAt(1, UnavailableError, CodeEmbeddingUnavailable, message)
	appErr.InnerError = err
	if err != nil {
		appErr.Details = err.Error()
	}
	return appErr
}

// NewVectorStoreError wraps a failure of the vector store.
func NewVectorStoreError(err error, message string) *AppError {
	appErr := newAt(1, UnavailableError, CodeVectorStoreFailure, message)
	appErr.InnerError = err
	if err != nil {
		appErr.Details = err.Error()
	}
	return appErr
}

// NewQueueError creates a queue error
func NewQueueError(message string) *AppError {
	return newAt(1, ProcessingError, CodeQueueFailure, message)
}

// ErrorResponse is the JSON body returned for failed API calls.
type ErrorResponse struct {
	Error   *AppError `json:"error"`
	Success bool      `json:"success"`
}

// NewErrorResponse creates a new error response
func NewErrorResponse(err *AppError) *ErrorResponse {
	return &ErrorResponse{
		Error:   err,
		Success: false,
	}
}

// getHTTPStatus maps error types to HTTP status codes
func getHTTPStatus(errType ErrorType) int {
	switch errType {
	case ValidationError:
		return http.StatusBadRequest
	case ProcessingError:
		return http.StatusUnprocessableEntity
	case NotFoundError:
		return http.StatusNotFound
	case ConflictError:
		return http.StatusConflict
	case RateLimitError:
		return http.StatusTooManyRequests
	case AuthError:
		return http.StatusUnauthorized
	case ForbiddenError:
		return http.StatusForbidden
	case TimeoutError:
		return http.StatusRequestTimeout
	case ResourceError:
		return http.StatusInsufficientStorage
	case NetworkError:
		return http.StatusBadGateway
	case UnavailableError:
		return http.StatusServiceUnavailable
	case ConfigurationError, InternalError:
		return http.StatusInternalServerError
	default:
		return http.StatusInternalServerError
	}
}

// As returns the outermost *AppError in err's chain.
func As(err error) (*AppError, bool) {
	var appErr *AppError
	if stderrors.As(err, &appErr) {
		return appErr, true
	}
	return nil, false
}

// IsType checks if any error in the chain is of a specific type
func IsType(err error, errType ErrorType) bool {
	for err != nil {
		var appErr *AppError
		if !stderrors.As(err, &appErr) {
			return false
		}
		if appErr.Type == errType {
			return true
		}
		err = appErr.InnerError
	}
	return false
}

// IsCode checks if any error in the chain has a specific code
func IsCode(err error, code string) bool {
	for err != nil {
		var appErr *AppError
		if !stderrors.As(err, &appErr) {
			return false
		}
		if appErr.Code == code {
			return true
		}
		err = appErr.InnerError
	}
	return false
}

// GetHTTPStatus returns the HTTP status code for an error
func GetHTTPStatus(err error) int {
	if appErr, ok := As(err); ok {
		return appErr.HTTPStatus
	}
	return http.StatusInternalServerError
}

// FromPanic converts a recovered panic value into an AppError carrying the stack.
func FromPanic(r interface{}) *AppError {
	var err *AppError
	switch v := r.(type) {
	case error:
		err = Wrap(v, InternalError, CodePanicRecovered, "panic recovered")
	case string:
		err = New(InternalError, CodePanicRecovered, v)
	default:
		err = New(InternalError, CodePanicRecovered, fmt.Sprintf("panic recovered: %v", v))
	}

	buf := make([]byte, 1024)
	for {
		n := runtime.Stack(buf, false)
		if n < len(buf) {
			buf = buf[:n]
			break
		}
		buf = make([]byte, 2*len(buf))
	}
	return err.WithContext("stack_trace", string(buf))
}

// ErrorChain collects per-item failures, e.g. one per rejected upload.
type ErrorChain struct {
	errors []*AppError
}

// NewErrorChain creates a new error chain
func NewErrorChain() *ErrorChain {
	return &ErrorChain{
		errors: make([]*AppError, 0),
	}
}

// Add adds an error to the chain
func (ec *ErrorChain) Add(err *AppError) *ErrorChain {
	ec.errors = append(ec.errors, err)
	return ec
}

// HasErrors returns true if the chain has any errors
func (ec *ErrorChain) HasErrors() bool {
	return len(ec.errors) > 0
}

// Errors returns all errors in the chain
func (ec *ErrorChain) Errors() []*AppError {
	return ec.errors
}

// Error implements the error interface
func (ec *ErrorChain) Error() string {
	if len(ec.errors) == 0 {
		return ""
	}
	if len(ec.errors) == 1 {
		return ec.errors[0].Error()
	}
	return fmt.Sprintf("multiple errors occurred: %d errors", len(ec.errors))
}

// First returns the first error in the chain
func (ec *ErrorChain) First() *AppError {
	if len(ec.errors) == 0 {
		return nil
	}
	return ec.errors[0]
}
