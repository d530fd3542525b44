package logger

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	stdlog "log"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoggerConfig(t *testing.T) {
	tests := []struct {
		name    string
		config  *Config
		wantErr bool
	}{
		{
			name:   "valid json config",
			config: &Config{Level: "info", Format: "json", Output: "stdout", TimeFormat: time.RFC3339},
		},
		{
			name:   "valid console config",
			config: &Config{Level: "debug", Format: "console", Output: "stderr", TimeFormat: time.RFC3339},
		},
		{
			name:   "nil config uses defaults",
			config: nil,
		},
		{
			name:    "unknown level",
			config:  &Config{Level: "loud", Format: "json", Output: "stdout"},
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			logger, err := New(tt.config)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			assert.NoError(t, err)
			assert.NotNil(t, logger)
		})
	}
}

func newBufferLogger(t *testing.T) (*Logger, *bytes.Buffer) {
	t.Helper()
	var buf bytes.Buffer
	logger, err := NewWithWriter(&Config{Level: "debug", Format: "json", TimeFormat: time.RFC3339}, &buf)
	require.NoError(t, err)
	return logger, &buf
}

func lastLine(t *testing.T, buf *bytes.Buffer) map[string]interface{} {
	t.Helper()
	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	var entry map[string]interface{}
	require.NoError(t, json.Unmarshal([]byte(lines[len(lines)-1]), &entry))
	return entry
}

func TestLoggerContext(t *testing.T) {
	t.Run("correlation ID context", func(t *testing.T) {
		ctx := WithCorrelationID(context.Background())
		assert.IsType(t, "", ctx.Value(CorrelationIDKey))
	})

	t.Run("logger from context carries identifiers", func(t *testing.T) {
		logger, buf := newBufferLogger(t)
		ctx := WithRequestID(context.Background(), "req-1")
		ctx = WithUserID(ctx, "user-1")
		ctx = WithSessionID(ctx, "session-1")
		ctx = WithDocumentID(ctx, "doc-1")

		logger.FromContext(ctx).Info().Msg("hello")

		entry := lastLine(t, buf)
		assert.Equal(t, "req-1", entry["request_id"])
		assert.Equal(t, "user-1", entry["user_id"])
		assert.Equal(t, "session-1", entry["session_id"])
		assert.Equal(t, "doc-1", entry["document_id"])
	})
}

func TestCategoryHelpers(t *testing.T) {
	ctx := context.Background()
	logger, buf := newBufferLogger(t)

	tests := []struct {
		name     string
		log      func()
		category Category
		message  string
	}{
		{"upload start", func() { logger.LogUploadStart(ctx, "u", "s", 2) }, CategoryUpload, "Upload started"},
		{"upload rejected", func() { logger.LogUploadRejected(ctx, "s", "a.exe", "unsupported") }, CategoryUpload, "Upload rejected"},
		{"session created", func() { logger.LogSessionCreated(ctx, "u", "s", time.Now()) }, CategorySession, "Session created"},
		{"session expired", func() { logger.LogSessionExpired(ctx, "s", "ttl") }, CategorySession, "Session expired"},
		{"security", func() { logger.LogSecurityViolation(ctx, "u", "s", "ownership") }, CategorySecurity, "Security violation"},
		{"error", func() { logger.LogError(ctx, errors.New("boom"), "failed", map[string]interface{}{"k": "v"}) }, CategoryError, "failed"},
		{"ingestion", func() { logger.LogIngestionComplete(ctx, "s", "d", 4, time.Second) }, CategoryIngestion, "Ingestion completed"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tt.log()
			entry := lastLine(t, buf)
			assert.Equal(t, string(tt.category), entry["category"])
			assert.Equal(t, tt.message, entry["message"])
		})
	}
}

func TestGlobalLogger(t *testing.T) {
	t.Run("get returns logger", func(t *testing.T) {
		assert.NotNil(t, Get())
	})

	t.Run("init and get", func(t *testing.T) {
		require.NoError(t, Init(DefaultConfig()))
		assert.NotNil(t, Get())
	})
}

func TestRedirectStdLog(t *testing.T) {
	prevOut, prevFlags := stdlog.Writer(), stdlog.Flags()
	t.Cleanup(func() {
		stdlog.SetOutput(prevOut)
		stdlog.SetFlags(prevFlags)
	})

	logger, buf := newBufferLogger(t)
	RedirectStdLog(logger)

	stdlog.Printf("[WARN] created a chunk with size of %d, which is longer then the specified %d", 60, 50)

	entry := lastLine(t, buf)
	assert.Equal(t, "warn", entry["level"])
	assert.Equal(t, "stdlog", entry["source"])
	assert.Equal(t, "created a chunk with size of 60, which is longer then the specified 50", entry["message"])
}
