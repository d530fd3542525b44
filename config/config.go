package config

import (
	"fmt"
	"log"
	"os"
	"strconv"
	"strings"
	"time"

	"rag-ingest/chunking"
	"rag-ingest/embedding"
)

// Config holds all configuration for the ingestion service
type Config struct {
	Server      ServerConfig      `json:"server"`
	Redis       RedisConfig       `json:"redis"`
	Worker      WorkerConfig      `json:"worker"`
	Chunking    ChunkingConfig    `json:"chunking"`
	Embedding   EmbeddingConfig   `json:"embedding"`
	VectorStore VectorStoreConfig `json:"vector_store"`
	Session     SessionConfig     `json:"session"`
	Upload      UploadConfig      `json:"upload"`
	Logging     LoggingConfig     `json:"logging"`
	Metrics     MetricsConfig     `json:"metrics"`
	Validation  ValidationConfig  `json:"validation"`
	Security    SecurityConfig    `json:"security"`
	Health      HealthConfig      `json:"health"`
}

// ServerConfig holds HTTP server configuration
type ServerConfig struct {
	Port         string        `json:"port"`
	ReadTimeout  time.Duration `json:"read_timeout"`
	WriteTimeout time.Duration `json:"write_timeout"`
	IdleTimeout  time.Duration `json:"idle_timeout"`
	Environment  string        `json:"environment"`
}

// RedisConfig holds Redis connection configuration
type RedisConfig struct {
	Enabled  bool   `json:"enabled"`
	Host     string `json:"host"`
	Port     string `json:"port"`
	Password string `json:"password"`
	DB       int    `json:"db"`
}

// WorkerConfig holds ingestion worker configuration
type WorkerConfig struct {
	Enabled        bool          `json:"enabled"`
	MaxConcurrency int           `json:"max_concurrency"`
	QueueName      string        `json:"queue_name"`
	RetryCount     int           `json:"retry_count"`
	RetryDelay     time.Duration `json:"retry_delay"`
	JobTTL         time.Duration `json:"job_ttl"`
	PollTimeout    time.Duration `json:"poll_timeout"`
}

// ChunkingConfig holds the default chunking options applied to every ingestion
type ChunkingConfig struct {
	Strategy             string  `json:"strategy"`
	ChunkSize            int     `json:"chunk_size"`
	ChunkOverlap         int     `json:"chunk_overlap"`
	MinChunkChars        int     `json:"min_chunk_chars"`
	SimilarityThreshold  float64 `json:"similarity_threshold"`
	Window               int     `json:"window"`
	BreakpointPercentile float64 `json:"breakpoint_percentile"`
}

// EmbeddingConfig selects and configures the embedding provider
type EmbeddingConfig struct {
	Provider string `json:"provider"`
	// Model is the provider's name for the embedding model. It is also
	// recorded on every chunk.
	Model        string        `json:"model"`
	URL          string        `json:"url"`
	APIKey       string        `json:"api_key"`
	BatchSize    int           `json:"batch_size"`
	Timeout      time.Duration `json:"timeout"`
	MaxAttempts  int           `json:"max_attempts"`
	RetryBackoff time.Duration `json:"retry_backoff"`
	CacheEnabled bool          `json:"cache_enabled"`
	CacheTTL     time.Duration `json:"cache_ttl"`
}

// VectorStoreConfig selects and configures the vector store backend
type VectorStoreConfig struct {
	Backend        string `json:"backend"`
	PersistPath    string `json:"persist_path"`
	Compress       bool   `json:"compress"`
	Collection     string `json:"collection"`
	WeaviateHost   string `json:"weaviate_host"`
	WeaviateScheme string `json:"weaviate_scheme"`
	WeaviateAPIKey string `json:"weaviate_api_key"`
	WeaviateClass  string `json:"weaviate_class"`
}

// SessionConfig holds session lifetime configuration
type SessionConfig struct {
	TTL             time.Duration `json:"ttl"`
	CleanupInterval time.Duration `json:"cleanup_interval"`
	TempRoot        string        `json:"temp_root"`
}

// UploadConfig holds per-session upload limits
type UploadConfig struct {
	MaxFileSize        int64    `json:"max_file_size"`
	MaxFilesPerSession int      `json:"max_files_per_session"`
	AllowedExtensions  []string `json:"allowed_extensions"`
	AllowedMimeTypes   []string `json:"allowed_mime_types"`
	// CopyBuffers caps concurrent file writes, each holding one 64KB buffer
	CopyBuffers int `json:"copy_buffers"`
}

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	Level      string `json:"level" validate:"oneof=trace debug info warn error fatal panic"`
	Format     string `json:"format" validate:"oneof=json console"`
	Output     string `json:"output" validate:"oneof=stdout stderr file"`
	Filename   string `json:"filename,omitempty"`
	TimeFormat string `json:"time_format"`
}

// MetricsConfig holds Prometheus metrics configuration
type MetricsConfig struct {
	Enabled   bool   `json:"enabled"`
	Port      string `json:"port"`
	Path      string `json:"path"`
	Namespace string `json:"namespace"`
	Subsystem string `json:"subsystem"`
}

// ValidationConfig holds request validation limits
type ValidationConfig struct {
	MinFileSize     int64 `json:"min_file_size"`
	MaxChunkSize    int   `json:"max_chunk_size"`
	MinChunkSize    int   `json:"min_chunk_size"`
	MaxChunkOverlap int   `json:"max_chunk_overlap"`
	MaxQueryLength  int   `json:"max_query_length"`
	MaxSearchLimit  int   `json:"max_search_limit"`
}

// SecurityConfig holds security configuration
type SecurityConfig struct {
	RateLimitEnabled   bool          `json:"rate_limit_enabled"`
	RateLimitPerMinute int           `json:"rate_limit_per_minute"`
	CorsEnabled        bool          `json:"cors_enabled"`
	CorsAllowedOrigins []string      `json:"cors_allowed_origins"`
	MaxRequestBodySize int64         `json:"max_request_body_size"`
	TokensEnabled      bool          `json:"tokens_enabled"`
	JWTSecret          string        `json:"jwt_secret"`
	TokenIssuer        string        `json:"token_issuer"`
	RequireToken       bool          `json:"require_token"`
	TokenTTL           time.Duration `json:"token_ttl"`
}

// HealthConfig holds health check configuration
type HealthConfig struct {
	Enabled  bool          `json:"enabled"`
	Path     string        `json:"path"`
	CacheTTL time.Duration `json:"cache_ttl"`
	Timeout  time.Duration `json:"timeout"`
}

// Load reads configuration from environment variables and returns Config
func Load() *Config {
	provider := getEnv("EMBEDDING_PROVIDER", embedding.ProviderOllama)
	return &Config{
		Server: ServerConfig{
			Port:         getEnv("PORT", "8000"),
			ReadTimeout:  getDurationEnv("SERVER_READ_TIMEOUT", 30*time.Second),
			WriteTimeout: getDurationEnv("SERVER_WRITE_TIMEOUT", 120*time.Second),
			IdleTimeout:  getDurationEnv("SERVER_IDLE_TIMEOUT", 120*time.Second),
			Environment:  getEnv("ENVIRONMENT", "development"),
		},
		Redis: RedisConfig{
			Enabled:  getBoolEnv("REDIS_ENABLED", false),
			Host:     getEnv("REDIS_HOST", "localhost"),
			Port:     getEnv("REDIS_PORT", "6379"),
			Password: getEnv("REDIS_PASSWORD", ""),
			DB:       getIntEnv("REDIS_DB", 0),
		},
		Worker: WorkerConfig{
			Enabled:        getBoolEnv("WORKER_ENABLED", true),
			MaxConcurrency: getIntEnv("WORKER_MAX_CONCURRENCY", 2),
			QueueName:      getEnv("WORKER_QUEUE_NAME", "ingestion_queue"),
			RetryCount:     getIntEnv("WORKER_RETRY_COUNT", 3),
			RetryDelay:     getDurationEnv("WORKER_RETRY_DELAY", 5*time.Second),
			JobTTL:         getDurationEnv("WORKER_JOB_TTL", 24*time.Hour),
			PollTimeout:    getDurationEnv("WORKER_POLL_TIMEOUT", 5*time.Second),
		},
		Chunking: ChunkingConfig{
			Strategy:             getEnv("CHUNKING_STRATEGY", string(chunking.DefaultStrategy)),
			ChunkSize:            getIntEnv("CHUNK_SIZE", chunking.DefaultChunkSize),
			ChunkOverlap:         getIntEnv("CHUNK_OVERLAP", chunking.DefaultChunkOverlap),
			MinChunkChars:        getIntEnv("MIN_CHUNK_CHARS", chunking.DefaultMinChunkChars),
			SimilarityThreshold:  getFloatEnv("SIMILARITY_THRESHOLD", chunking.DefaultSimilarityThreshold),
			Window:               getIntEnv("SEMANTIC_WINDOW", chunking.DefaultWindow),
			BreakpointPercentile: getFloatEnv("BREAKPOINT_PERCENTILE", chunking.DefaultBreakpointPercentile),
		},
		Embedding: EmbeddingConfig{
			Provider:     provider,
			Model:        getEnv("EMBEDDING_MODEL", embedding.DefaultModel(provider)),
			URL:          getEnv("EMBEDDING_URL", "http://localhost:11434/api"),
			APIKey:       getEnv("EMBEDDING_API_KEY", ""),
			BatchSize:    getIntEnv("EMBEDDING_BATCH_SIZE", 32),
			Timeout:      getDurationEnv("EMBEDDING_TIMEOUT", 60*time.Second),
			MaxAttempts:  getIntEnv("EMBEDDING_MAX_ATTEMPTS", 3),
			RetryBackoff: getDurationEnv("EMBEDDING_RETRY_BACKOFF", 500*time.Millisecond),
			CacheEnabled: getBoolEnv("EMBEDDING_CACHE_ENABLED", false),
			CacheTTL:     getDurationEnv("EMBEDDING_CACHE_TTL", 7*24*time.Hour),
		},
		VectorStore: VectorStoreConfig{
			Backend:        getEnv("VECTOR_STORE_BACKEND", "chromem"),
			PersistPath:    getEnv("VECTOR_STORE_PATH", "./data/vectors"),
			Compress:       getBoolEnv("VECTOR_STORE_COMPRESS", false),
			Collection:     getEnv("VECTOR_STORE_COLLECTION", "rag_chunks"),
			WeaviateHost:   getEnv("WEAVIATE_HOST", "localhost:8080"),
			WeaviateScheme: getEnv("WEAVIATE_SCHEME", "http"),
			WeaviateAPIKey: getEnv("WEAVIATE_API_KEY", ""),
			WeaviateClass:  getEnv("WEAVIATE_CLASS", "RagChunk"),
		},
		Session: SessionConfig{
			TTL:             getDurationEnv("SESSION_TTL", 24*time.Hour),
			CleanupInterval: getDurationEnv("SESSION_CLEANUP_INTERVAL", time.Hour),
			TempRoot:        getEnv("SESSION_TEMP_ROOT", os.TempDir()),
		},
		Upload: UploadConfig{
			MaxFileSize:        getInt64Env("UPLOAD_MAX_FILE_SIZE", 10*1024*1024), // 10MB
			MaxFilesPerSession: getIntEnv("UPLOAD_MAX_FILES_PER_SESSION", 5),
			CopyBuffers:        getIntEnv("UPLOAD_COPY_BUFFERS", 32),
			AllowedExtensions: getStringSliceEnv("UPLOAD_ALLOWED_EXTENSIONS", []string{
				".pdf", ".docx", ".txt", ".md", ".html", ".htm",
			}),
			AllowedMimeTypes: getStringSliceEnv("UPLOAD_ALLOWED_MIME_TYPES", []string{
				"application/pdf",
				"application/vnd.openxmlformats-officedocument.wordprocessingml.document",
				"application/zip",
				"text/plain", "text/markdown", "text/html",
			}),
		},
		Logging: LoggingConfig{
			Level:      getEnv("LOG_LEVEL", "info"),
			Format:     getEnv("LOG_FORMAT", "json"),
			Output:     getEnv("LOG_OUTPUT", "stdout"),
			Filename:   getEnv("LOG_FILENAME", "logs/rag-ingest.log"),
			TimeFormat: getEnv("LOG_TIME_FORMAT", time.RFC3339),
		},
		Metrics: MetricsConfig{
			Enabled:   getBoolEnv("METRICS_ENABLED", true),
			Port:      getEnv("METRICS_PORT", "9090"),
			Path:      getEnv("METRICS_PATH", "/metrics"),
			Namespace: getEnv("METRICS_NAMESPACE", "rag"),
			Subsystem: getEnv("METRICS_SUBSYSTEM", "ingest"),
		},
		Validation: ValidationConfig{
			MinFileSize:     getInt64Env("VALIDATION_MIN_FILE_SIZE", 1),
			MaxChunkSize:    getIntEnv("VALIDATION_MAX_CHUNK_SIZE", 8000),
			MinChunkSize:    getIntEnv("VALIDATION_MIN_CHUNK_SIZE", 100),
			MaxChunkOverlap: getIntEnv("VALIDATION_MAX_CHUNK_OVERLAP", 1000),
			MaxQueryLength:  getIntEnv("VALIDATION_MAX_QUERY_LENGTH", 4000),
			MaxSearchLimit:  getIntEnv("VALIDATION_MAX_SEARCH_LIMIT", 50),
		},
		Security: SecurityConfig{
			RateLimitEnabled:   getBoolEnv("SECURITY_RATE_LIMIT_ENABLED", true),
			RateLimitPerMinute: getIntEnv("SECURITY_RATE_LIMIT_PER_MINUTE", 120),
			CorsEnabled:        getBoolEnv("SECURITY_CORS_ENABLED", true),
			CorsAllowedOrigins: getStringSliceEnv("SECURITY_CORS_ALLOWED_ORIGINS", []string{"*"}),
			MaxRequestBodySize: getInt64Env("SECURITY_MAX_REQUEST_BODY_SIZE", 60*1024*1024),
			TokensEnabled:      getBoolEnv("SECURITY_TOKENS_ENABLED", false),
			JWTSecret:          getEnv("JWT_SECRET", ""),
			TokenIssuer:        getEnv("JWT_ISSUER", "rag-ingest"),
			RequireToken:       getBoolEnv("SECURITY_REQUIRE_TOKEN", false),
			TokenTTL:           getDurationEnv("JWT_TTL", 24*time.Hour),
		},
		Health: HealthConfig{
			Enabled:  getBoolEnv("HEALTH_ENABLED", true),
			Path:     getEnv("HEALTH_PATH", "/health"),
			CacheTTL: getDurationEnv("HEALTH_CACHE_TTL", 10*time.Second),
			Timeout:  getDurationEnv("HEALTH_TIMEOUT", 5*time.Second),
		},
	}
}

// Helper functions for environment variable parsing

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getIntEnv(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.Atoi(value); err == nil {
			return intValue
		}
		log.Printf("Warning: Invalid integer value for %s: %s, using default: %d", key, value, defaultValue)
	}
	return defaultValue
}

func getInt64Env(key string, defaultValue int64) int64 {
	if value := os.Getenv(key); value != "" {
		if int64Value, err := strconv.ParseInt(value, 10, 64); err == nil {
			return int64Value
		}
		log.Printf("Warning: Invalid int64 value for %s: %s, using default: %d", key, value, defaultValue)
	}
	return defaultValue
}

func getFloatEnv(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if floatValue, err := strconv.ParseFloat(value, 64); err == nil {
			return floatValue
		}
		log.Printf("Warning: Invalid float value for %s: %s, using default: %v", key, value, defaultValue)
	}
	return defaultValue
}

func getBoolEnv(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if boolValue, err := strconv.ParseBool(value); err == nil {
			return boolValue
		}
		log.Printf("Warning: Invalid boolean value for %s: %s, using default: %t", key, value, defaultValue)
	}
	return defaultValue
}

func getDurationEnv(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if duration, err := time.ParseDuration(value); err == nil {
			return duration
		}
		log.Printf("Warning: Invalid duration value for %s: %s, using default: %s", key, value, defaultValue)
	}
	return defaultValue
}

func getStringSliceEnv(key string, defaultValue []string) []string {
	if value := os.Getenv(key); value != "" {
		var result []string
		for _, item := range strings.Split(value, ",") {
			if trimmed := strings.TrimSpace(item); trimmed != "" {
				result = append(result, trimmed)
			}
		}
		if len(result) > 0 {
			return result
		}
	}
	return defaultValue
}

// GetRedisAddr returns the Redis host:port address
func (c *Config) GetRedisAddr() string {
	return c.Redis.Host + ":" + c.Redis.Port
}

// IsProduction returns true if running in production environment
func (c *Config) IsProduction() bool {
	return c.Server.Environment == "production"
}

// IsDevelopment returns true if running in development environment
func (c *Config) IsDevelopment() bool {
	return c.Server.Environment == "development"
}

// ChunkingOptions converts the chunking section into chunker options. The
// embedding model comes from the embedding section so chunks name the model
// that embedded them.
func (c *Config) ChunkingOptions() chunking.Options {
	return chunking.Options{
		Strategy:             c.Chunking.Strategy,
		EmbeddingModel:       c.Embedding.Model,
		ChunkSize:            c.Chunking.ChunkSize,
		ChunkOverlap:         c.Chunking.ChunkOverlap,
		MinChunkChars:        c.Chunking.MinChunkChars,
		SimilarityThreshold:  c.Chunking.SimilarityThreshold,
		Window:               c.Chunking.Window,
		BreakpointPercentile: c.Chunking.BreakpointPercentile,
	}
}

// Validate checks cross-field rules that a single env var cannot express
func (c *Config) Validate() error {
	if _, _, err := c.ChunkingOptions().Resolve(); err != nil {
		return fmt.Errorf("chunking: %w", err)
	}

	switch c.Embedding.Provider {
	case embedding.ProviderOllama, embedding.ProviderOpenAI:
	default:
		return fmt.Errorf("embedding: unknown provider %q", c.Embedding.Provider)
	}
	if strings.TrimSpace(c.Embedding.Model) == "" {
		return fmt.Errorf("embedding: model must not be empty")
	}
	if c.Embedding.BatchSize <= 0 {
		return fmt.Errorf("embedding: batch size must be positive, got %d", c.Embedding.BatchSize)
	}

	switch c.VectorStore.Backend {
	case "chromem", "weaviate":
	default:
		return fmt.Errorf("vector store: unknown backend %q", c.VectorStore.Backend)
	}

	if c.Upload.MaxFileSize <= 0 {
		return fmt.Errorf("upload: max file size must be positive")
	}
	if c.Upload.MaxFilesPerSession <= 0 {
		return fmt.Errorf("upload: max files per session must be positive")
	}
	if c.Session.TTL <= 0 {
		return fmt.Errorf("session: ttl must be positive")
	}
	if c.Security.TokensEnabled && c.Security.JWTSecret == "" {
		return fmt.Errorf("security: JWT_SECRET is required when tokens are enabled")
	}
	if c.Worker.Enabled && !c.Redis.Enabled {
		log.Printf("Warning: worker enabled without Redis, ingestion will run synchronously")
	}

	if err := os.MkdirAll(c.Session.TempRoot, 0o755); err != nil {
		log.Printf("Warning: Failed to create session temp root %s: %v", c.Session.TempRoot, err)
	}

	return nil
}
