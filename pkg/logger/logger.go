package logger

import (
	"context"
	"io"
	stdlog "log"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// ContextKey is used to store request scoped identifiers in context
type ContextKey string

const (
	CorrelationIDKey ContextKey = "correlation_id"
	RequestIDKey     ContextKey = "request_id"
	UserIDKey        ContextKey = "user_id"
	SessionIDKey     ContextKey = "session_id"
	DocumentIDKey    ContextKey = "document_id"
)

// Category groups log lines by the subsystem that emitted them.
type Category string

const (
	CategorySession   Category = "SESSION"
	CategoryUpload    Category = "UPLOAD"
	CategorySecurity  Category = "SECURITY"
	CategoryError     Category = "ERROR"
	CategorySystem    Category = "SYSTEM"
	CategoryIngestion Category = "INGESTION"
)

// Logger wraps zerolog with additional functionality
type Logger struct {
	*zerolog.Logger
}

// Config holds logger configuration
type Config struct {
	Level      string `json:"level" validate:"oneof=trace debug info warn error fatal panic"`
	Format     string `json:"format" validate:"oneof=json console"`
	Output     string `json:"output" validate:"oneof=stdout stderr file"`
	Filename   string `json:"filename,omitempty"`
	TimeFormat string `json:"time_format"`
}

// DefaultConfig returns a default logger configuration
func DefaultConfig() *Config {
	return &Config{
		Level:      "info",
		Format:     "json",
		Output:     "stdout",
		TimeFormat: time.RFC3339,
	}
}

// New creates a new structured logger
func New(config *Config) (*Logger, error) {
	if config == nil {
		config = DefaultConfig()
	}

	var output io.Writer
	switch config.Output {
	case "stderr":
		output = os.Stderr
	case "file":
		if config.Filename == "" {
			config.Filename = "logs/rag-ingest.log"
		}
		if err := os.MkdirAll(filepath.Dir(config.Filename), 0o755); err != nil {
			return nil, err
		}
		file, err := os.OpenFile(config.Filename, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
		if err != nil {
			return nil, err
		}
		output = file
	default:
		output = os.Stdout
	}

	return NewWithWriter(config, output)
}

// NewWithWriter builds a logger writing to w, used by tests and the CLI.
func NewWithWriter(config *Config, w io.Writer) (*Logger, error) {
	if config == nil {
		config = DefaultConfig()
	}

	level, err := zerolog.ParseLevel(config.Level)
	if err != nil {
		return nil, err
	}
	zerolog.SetGlobalLevel(level)
	if config.TimeFormat != "" {
		zerolog.TimeFieldFormat = config.TimeFormat
	}

	if config.Format == "console" {
		w = zerolog.ConsoleWriter{Out: w, TimeFormat: time.RFC3339}
	}
	logger := zerolog.New(w).
		With().
		Timestamp().
		Caller().
		Logger()

	return &Logger{Logger: &logger}, nil
}

// Nop returns a logger that discards everything
func Nop() *Logger {
	l := zerolog.Nop()
	return &Logger{Logger: &l}
}

// WithCorrelationID adds a correlation ID to the context
func WithCorrelationID(ctx context.Context) context.Context {
	return context.WithValue(ctx, CorrelationIDKey, uuid.New().String())
}

// WithRequestID adds a request ID to the context
func WithRequestID(ctx context.Context, requestID string) context.Context {
	return context.WithValue(ctx, RequestIDKey, requestID)
}

// WithUserID adds a user ID to the context
func WithUserID(ctx context.Context, userID string) context.Context {
	return context.WithValue(ctx, UserIDKey, userID)
}

// WithSessionID adds a session ID to the context
func WithSessionID(ctx context.Context, sessionID string) context.Context {
	return context.WithValue(ctx, SessionIDKey, sessionID)
}

// WithDocumentID adds a document ID to the context
func WithDocumentID(ctx context.Context, documentID string) context.Context {
	return context.WithValue(ctx, DocumentIDKey, documentID)
}

// FromContext creates a logger with context values
func (l *Logger) FromContext(ctx context.Context) *zerolog.Logger {
	logger := l.Logger.With()

	for _, key := range []ContextKey{CorrelationIDKey, RequestIDKey, UserIDKey, SessionIDKey, DocumentIDKey} {
		if v, ok := ctx.Value(key).(string); ok && v != "" {
			logger = logger.Str(string(key), v)
		}
	}

	contextLogger := logger.Logger()
	return &contextLogger
}

func (l *Logger) category(ctx context.Context, c Category) *zerolog.Logger {
	logger := l.FromContext(ctx).With().Str("category", string(c)).Logger()
	return &logger
}

// LogRequest logs HTTP request details
func (l *Logger) LogRequest(ctx context.Context, method, path, userAgent, clientIP string, status int, duration time.Duration) {
	l.FromContext(ctx).Info().
		Str("method", method).
		Str("path", path).
		Int("status", status).
		Str("user_agent", userAgent).
		Str("client_ip", clientIP).
		Dur("duration", duration).
		Msg("HTTP request processed")
}

// LogError logs error with context
func (l *Logger) LogError(ctx context.Context, err error, msg string, fields map[string]interface{}) {
	event := l.category(ctx, CategoryError).Error().Err(err)
	for k, v := range fields {
		event = event.Interface(k, v)
	}
	event.Msg(msg)
}

// LogUploadStart logs the start of an upload request
func (l *Logger) LogUploadStart(ctx context.Context, userID, sessionID string, fileCount int) {
	l.category(ctx, CategoryUpload).Info().
		Str("user_id", userID).
		Str("session_id", sessionID).
		Int("file_count", fileCount).
		Msg("Upload started")
}

// LogUploadComplete logs a successfully stored document
func (l *Logger) LogUploadComplete(ctx context.Context, sessionID, documentID, filename string, fileSize int64) {
	l.category(ctx, CategoryUpload).Info().
		Str("session_id", sessionID).
		Str("document_id", documentID).
		Str("filename", filename).
		Int64("file_size", fileSize).
		Msg("Upload completed")
}

// LogUploadRejected logs a file that failed upload validation
func (l *Logger) LogUploadRejected(ctx context.Context, sessionID, filename, reason string) {
	l.category(ctx, CategoryUpload).Warn().
		Str("session_id", sessionID).
		Str("filename", filename).
		Str("reason", reason).
		Msg("Upload rejected")
}

// LogSessionCreated logs a new session
func (l *Logger) LogSessionCreated(ctx context.Context, userID, sessionID string, expiresAt time.Time) {
	l.category(ctx, CategorySession).Info().
		Str("user_id", userID).
		Str("session_id", sessionID).
		Time("expires_at", expiresAt).
		Msg("Session created")
}

// LogSessionExpired logs a session being torn down
func (l *Logger) LogSessionExpired(ctx context.Context, sessionID, reason string) {
	l.category(ctx, CategorySession).Info().
		Str("session_id", sessionID).
		Str("reason", reason).
		Msg("Session expired")
}

// LogSecurityViolation logs ownership and session id conflicts
func (l *Logger) LogSecurityViolation(ctx context.Context, userID, sessionID, violation string) {
	l.category(ctx, CategorySecurity).Warn().
		Str("user_id", userID).
		Str("session_id", sessionID).
		Str("violation", violation).
		Msg("Security violation")
}

// LogIngestionStart logs the start of a pipeline run for one document
func (l *Logger) LogIngestionStart(ctx context.Context, sessionID, documentID, filename, strategy string) {
	l.category(ctx, CategoryIngestion).Info().
		Str("session_id", sessionID).
		Str("document_id", documentID).
		Str("filename", filename).
		Str("strategy", strategy).
		Msg("Ingestion started")
}

// LogIngestionComplete logs a finished pipeline run
func (l *Logger) LogIngestionComplete(ctx context.Context, sessionID, documentID string, chunkCount int, duration time.Duration) {
	l.category(ctx, CategoryIngestion).Info().
		Str("session_id", sessionID).
		Str("document_id", documentID).
		Int("chunk_count", chunkCount).
		Dur("duration", duration).
		Msg("Ingestion completed")
}

// LogQueueOperation logs queue operations
func (l *Logger) LogQueueOperation(ctx context.Context, operation, queueName string, messageCount int) {
	l.category(ctx, CategorySystem).Info().
		Str("operation", operation).
		Str("queue_name", queueName).
		Int("message_count", messageCount).
		Msg("Queue operation")
}

// Global logger instance
var globalLogger *Logger

// Init initializes the global logger and routes zerolog's package logger through it
func Init(config *Config) error {
	logger, err := New(config)
	if err != nil {
		return err
	}
	globalLogger = logger
	log.Logger = *logger.Logger
	RedirectStdLog(logger)
	return nil
}

// RedirectStdLog sends output of the standard library logger, used by
// some dependencies for warnings, through l at warn level.
func RedirectStdLog(l *Logger) {
	stdlog.SetFlags(0)
	stdlog.SetOutput(stdWriter{logger: l.With().Str("source", "stdlog").Logger()})
}

type stdWriter struct {
	logger zerolog.Logger
}

func (w stdWriter) Write(p []byte) (int, error) {
	msg := strings.TrimSpace(string(p))
	msg = strings.TrimSpace(strings.TrimPrefix(msg, "[WARN]"))
	w.logger.Warn().Msg(msg)
	return len(p), nil
}

// Get returns the global logger
func Get() *Logger {
	if globalLogger == nil {
		logger, _ := New(DefaultConfig())
		globalLogger = logger
	}
	return globalLogger
}

// Info logs an info message
func Info() *zerolog.Event {
	return log.Info()
}

// Error logs an error message
func Error() *zerolog.Event {
	return log.Error()
}

// Debug logs a debug message
func Debug() *zerolog.Event {
	return log.Debug()
}

// Warn logs a warning message
func Warn() *zerolog.Event {
	return log.Warn()
}

// Fatal logs a fatal message and exits
func Fatal() *zerolog.Event {
	return log.Fatal()
}
