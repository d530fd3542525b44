package errors

import (
	stderrors "errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAppError(t *testing.T) {
	t.Run("create new error", func(t *testing.T) {
		err := New(ValidationError, "TEST_ERROR", "This is a test error")

		assert.Equal(t, ValidationError, err.Type)
		assert.Equal(t, "TEST_ERROR", err.Code)
		assert.Equal(t, "This is a test error", err.Message)
		assert.Equal(t, 400, err.HTTPStatus)
		assert.NotZero(t, err.Timestamp)
		assert.Contains(t, err.File, "errors_test.go")
		assert.NotZero(t, err.Line)
	})

	t.Run("formatted constructors record the caller", func(t *testing.T) {
		err := Newf(ProcessingError, "FMT", "page %d", 3)
		assert.Equal(t, "page 3", err.Message)
		assert.Contains(t, err.File, "errors_test.go")
	})

	t.Run("wrap existing error", func(t *testing.T) {
		originalErr := fmt.Errorf("original error")
		wrappedErr := Wrap(originalErr, ProcessingError, "WRAP_ERROR", "Wrapped error")

		assert.Equal(t, ProcessingError, wrappedErr.Type)
		assert.Equal(t, "WRAP_ERROR", wrappedErr.Code)
		assert.Equal(t, "original error", wrappedErr.Details)
		assert.Equal(t, originalErr, wrappedErr.InnerError)
		assert.Equal(t, 422, wrappedErr.HTTPStatus)
		assert.True(t, stderrors.Is(wrappedErr, originalErr))
	})

	t.Run("error with context", func(t *testing.T) {
		err := New(InternalError, "CONTEXT_ERROR", "Error with context").
			WithContext("user_id", "123").
			WithContext("operation", "file_upload").
			WithTrace("trace-123")

		assert.Equal(t, "123", err.Context["user_id"])
		assert.Equal(t, "file_upload", err.Context["operation"])
		assert.Equal(t, "trace-123", err.TraceID)
	})
}

func TestErrorConstructors(t *testing.T) {
	tests := []struct {
		name               string
		err                *AppError
		expectedType       ErrorType
		expectedCode       string
		expectedHTTPStatus int
	}{
		{"validation", NewValidationError("x"), ValidationError, CodeValidationFailed, 400},
		{"internal", NewInternalError("x"), InternalError, CodeInternal, 500},
		{"configuration", NewConfigurationError("x"), ConfigurationError, CodeInvalidConfiguration, 500},
		{"invalid uuid", NewInvalidUUIDError("user_id", "nope"), ValidationError, CodeInvalidUUID, 400},
		{"session not found", NewSessionNotFoundError("s"), NotFoundError, CodeSessionNotFound, 404},
		{"session access denied", NewSessionAccessDeniedError("s"), ForbiddenError, CodeSessionAccessDenied, 403},
		{"session limit", NewSessionLimitError(4, 2, 5), ValidationError, CodeSessionLimitExceeded, 400},
		{"no chunks", NewNoChunksError("d"), ProcessingError, CodeNoChunksGenerated, 422},
		{"embedding", NewEmbeddingError(nil, "down"), UnavailableError, CodeEmbeddingUnavailable, 503},
		{"vector store", NewVectorStoreError(nil, "down"), UnavailableError, CodeVectorStoreFailure, 503},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expectedType, tt.err.Type)
			assert.Equal(t, tt.expectedCode, tt.err.Code)
			assert.Equal(t, tt.expectedHTTPStatus, tt.err.HTTPStatus)
		})
	}
}

func TestSpecificErrors(t *testing.T) {
	t.Run("unsupported file type error", func(t *testing.T) {
		err := NewUnsupportedFileTypeError(".exe")
		assert.Equal(t, ValidationError, err.Type)
		assert.Equal(t, CodeUnsupportedFileType, err.Code)
		assert.Contains(t, err.Message, ".exe")
	})

	t.Run("file size error", func(t *testing.T) {
		err := NewFileSizeError(20*1024*1024, 10*1024*1024)
		assert.Equal(t, CodeFileTooLarge, err.Code)
		assert.Contains(t, err.Message, "20971520")
		assert.Contains(t, err.Message, "10485760")
	})
}

func TestErrorHelpers(t *testing.T) {
	t.Run("is type check", func(t *testing.T) {
		err := NewValidationError("test")
		assert.True(t, IsType(err, ValidationError))
		assert.False(t, IsType(err, ProcessingError))
	})

	t.Run("is code walks wrapped chains", func(t *testing.T) {
		inner := NewEmbeddingError(fmt.Errorf("dial tcp: refused"), "embedding backend failed")
		outer := fmt.Errorf("ingest: %w", Wrap(inner, ProcessingError, "INGESTION_FAILED", "ingestion failed"))

		assert.True(t, IsCode(outer, CodeEmbeddingUnavailable))
		assert.True(t, IsCode(outer, "INGESTION_FAILED"))
		assert.True(t, IsType(outer, UnavailableError))
		assert.False(t, IsCode(outer, CodeInvalidUUID))
	})

	t.Run("errors.Is matches by type and code", func(t *testing.T) {
		err := fmt.Errorf("wrapped: %w", NewSessionNotFoundError("abc"))
		assert.True(t, stderrors.Is(err, &AppError{Type: NotFoundError, Code: CodeSessionNotFound}))
		assert.False(t, stderrors.Is(err, &AppError{Type: NotFoundError, Code: CodeDocumentNotFound}))
	})

	t.Run("get HTTP status", func(t *testing.T) {
		assert.Equal(t, 400, GetHTTPStatus(NewValidationError("test")))
		assert.Equal(t, 403, GetHTTPStatus(fmt.Errorf("x: %w", NewSessionAccessDeniedError("s"))))
		assert.Equal(t, 500, GetHTTPStatus(fmt.Errorf("regular error")))
	})

	t.Run("from panic", func(t *testing.T) {
		err := FromPanic("boom")
		assert.Equal(t, CodePanicRecovered, err.Code)
		require.Contains(t, err.Context, "stack_trace")
		assert.NotEmpty(t, err.Context["stack_trace"])
	})
}

func TestErrorChain(t *testing.T) {
	t.Run("empty chain", func(t *testing.T) {
		chain := NewErrorChain()
		assert.False(t, chain.HasErrors())
		assert.Empty(t, chain.Errors())
		assert.Nil(t, chain.First())
		assert.Empty(t, chain.Error())
	})

	t.Run("multiple errors", func(t *testing.T) {
		chain := NewErrorChain()
		err1 := NewValidationError("error 1")
		err2 := NewFileSizeError(2, 1)

		chain.Add(err1).Add(err2)

		assert.True(t, chain.HasErrors())
		assert.Len(t, chain.Errors(), 2)
		assert.Equal(t, err1, chain.First())
		assert.Contains(t, chain.Error(), "multiple errors")
	})
}

func TestErrorResponse(t *testing.T) {
	err := NewValidationError("test error")
	response := NewErrorResponse(err)

	assert.Equal(t, err, response.Error)
	assert.False(t, response.Success)
}
