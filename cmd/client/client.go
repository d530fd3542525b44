package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"rag-ingest/chunking"
	"rag-ingest/health"
	"rag-ingest/internal/core/domain"
)

// Client talks to the rag-ingest HTTP API on behalf of one user
type Client struct {
	baseURL    string
	httpClient *http.Client
	userID     string
	token      string
}

// Config holds client configuration
type Config struct {
	BaseURL string
	UserID  string
	// Token is the session token sent as a bearer token, when tokens are enabled
	Token   string
	Timeout time.Duration
}

// APIError is a non-2xx response from the service
type APIError struct {
	StatusCode int
	Code       string `json:"code"`
	Type       string `json:"type"`
	Message    string `json:"message"`
}

func (e *APIError) Error() string {
	return fmt.Sprintf("API error %d %s: %s", e.StatusCode, e.Code, e.Message)
}

// UploadResponse is returned by Upload
type UploadResponse struct {
	Success   bool                 `json:"success"`
	Message   string               `json:"message"`
	Documents []*domain.Document   `json:"documents"`
	Errors    []domain.UploadError `json:"errors"`
}

// ChatResponse carries the retrieved context for a message
type ChatResponse struct {
	Success bool                  `json:"success"`
	Message string                `json:"message"`
	Answer  string                `json:"answer"`
	Context []domain.SearchResult `json:"context"`
}

// NewClient creates a new client
func NewClient(config Config) *Client {
	if config.Timeout == 0 {
		config.Timeout = 30 * time.Second
	}

	return &Client{
		baseURL: strings.TrimRight(config.BaseURL, "/"),
		userID:  config.UserID,
		token:   config.Token,
		httpClient: &http.Client{
			Timeout: config.Timeout,
		},
	}
}

// UserID returns the user the client acts for
func (c *Client) UserID() string { return c.userID }

// SetToken replaces the session token
func (c *Client) SetToken(token string) { c.token = token }

// CreateSession starts a session for the client's user. sessionID may be
// empty. A returned token is kept for later calls.
func (c *Client) CreateSession(ctx context.Context, sessionID string) (*domain.Session, error) {
	body, err := json.Marshal(map[string]string{"user_id": c.userID, "session_id": sessionID})
	if err != nil {
		return nil, err
	}

	var resp struct {
		Session *domain.Session `json:"session"`
		Token   string          `json:"token"`
	}
	if err := c.do(ctx, http.MethodPost, "/api/v1/sessions", "application/json", bytes.NewReader(body), &resp); err != nil {
		return nil, err
	}
	if resp.Token != "" {
		c.token = resp.Token
	}
	return resp.Session, nil
}

// GetSession returns one of the user's sessions
func (c *Client) GetSession(ctx context.Context, sessionID string) (*domain.Session, error) {
	var resp struct {
		Session *domain.Session `json:"session"`
	}
	if err := c.do(ctx, http.MethodGet, "/api/v1/sessions/"+sessionID, "", nil, &resp); err != nil {
		return nil, err
	}
	return resp.Session, nil
}

// DeleteSession expires the session and everything stored for it
func (c *Client) DeleteSession(ctx context.Context, sessionID string) error {
	return c.do(ctx, http.MethodDelete, "/api/v1/sessions/"+sessionID, "", nil, nil)
}

// ListDocuments lists the documents in the session
func (c *Client) ListDocuments(ctx context.Context, sessionID string) ([]*domain.Document, error) {
	var resp struct {
		Documents []*domain.Document `json:"documents"`
	}
	if err := c.do(ctx, http.MethodGet, "/api/v1/sessions/"+sessionID+"/documents", "", nil, &resp); err != nil {
		return nil, err
	}
	return resp.Documents, nil
}

// Upload sends files to the session. Files rejected by the service are
// listed in the response errors; the call fails only when every file was
// rejected.
func (c *Client) Upload(ctx context.Context, sessionID string, filePaths ...string) (*UploadResponse, error) {
	var buf bytes.Buffer
	writer := multipart.NewWriter(&buf)

	writer.WriteField("user_id", c.userID)
	writer.WriteField("session_id", sessionID)

	for _, filePath := range filePaths {
		if err := addFile(writer, filePath); err != nil {
			return nil, err
		}
	}
	if err := writer.Close(); err != nil {
		return nil, fmt.Errorf("failed to close form: %w", err)
	}

	var resp UploadResponse
	err := c.do(ctx, http.MethodPost, "/api/v1/upload", writer.FormDataContentType(), &buf, &resp)
	if err != nil && len(resp.Errors) > 0 {
		return &resp, err
	}
	if err != nil {
		return nil, err
	}
	return &resp, nil
}

func addFile(writer *multipart.Writer, filePath string) error {
	file, err := os.Open(filePath)
	if err != nil {
		return fmt.Errorf("failed to open file: %w", err)
	}
	defer file.Close()

	part, err := writer.CreateFormFile("files", filepath.Base(filePath))
	if err != nil {
		return fmt.Errorf("failed to create form file: %w", err)
	}
	if _, err := io.Copy(part, file); err != nil {
		return fmt.Errorf("failed to copy file: %w", err)
	}
	return nil
}

// Chunk runs the service's chunker on content without storing anything
func (c *Client) Chunk(ctx context.Context, sessionID, documentID string, content chunking.DocumentContent, opts *chunking.Options) ([]chunking.ChunkMetadata, error) {
	body, err := json.Marshal(map[string]interface{}{
		"session_id":  sessionID,
		"document_id": documentID,
		"text_blocks": content.TextBlocks,
		"images":      content.Images,
		"options":     opts,
	})
	if err != nil {
		return nil, err
	}

	var resp struct {
		Chunks []chunking.ChunkMetadata `json:"chunks"`
	}
	if err := c.do(ctx, http.MethodPost, "/api/v1/chunk", "application/json", bytes.NewReader(body), &resp); err != nil {
		return nil, err
	}
	return resp.Chunks, nil
}

// Chat retrieves the session chunks closest to message
func (c *Client) Chat(ctx context.Context, sessionID, systemPrompt, message string, limit int) (*ChatResponse, error) {
	body, err := json.Marshal(map[string]interface{}{
		"user_id":       c.userID,
		"session_id":    sessionID,
		"system_prompt": systemPrompt,
		"user_message":  message,
		"limit":         limit,
	})
	if err != nil {
		return nil, err
	}

	var resp ChatResponse
	if err := c.do(ctx, http.MethodPost, "/api/v1/chat", "application/json", bytes.NewReader(body), &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// GetJob returns an ingestion job's status
func (c *Client) GetJob(ctx context.Context, jobID string) (*domain.IngestionJob, error) {
	var job domain.IngestionJob
	if err := c.do(ctx, http.MethodGet, "/api/v1/jobs/"+jobID, "", nil, &job); err != nil {
		return nil, err
	}
	return &job, nil
}

// WaitForJob polls until the job completes or fails
func (c *Client) WaitForJob(ctx context.Context, jobID string, pollInterval time.Duration) (*domain.IngestionJob, error) {
	if pollInterval == 0 {
		pollInterval = 2 * time.Second
	}

	ticker := time.NewTicker(pollInterval)
	defer ticker.Stop()

	for {
		job, err := c.GetJob(ctx, jobID)
		if err != nil {
			return nil, err
		}

		switch job.Status {
		case domain.JobStatusCompleted:
			return job, nil
		case domain.JobStatusFailed:
			return job, fmt.Errorf("job failed: %s", job.Error)
		}

		select {
		case <-ctx.Done():
			return job, ctx.Err()
		case <-ticker.C:
		}
	}
}

// Health returns the service health. A degraded or unhealthy service is
// not an error.
func (c *Client) Health(ctx context.Context) (*health.HealthStatus, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/health", nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to send request: %w", err)
	}
	defer resp.Body.Close()

	var status health.HealthStatus
	if err := json.NewDecoder(resp.Body).Decode(&status); err != nil {
		return nil, fmt.Errorf("failed to decode response: %w", err)
	}
	return &status, nil
}

func (c *Client) do(ctx context.Context, method, path, contentType string, body io.Reader, out interface{}) error {
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}

	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	if c.userID != "" {
		req.Header.Set("X-User-ID", c.userID)
	}
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("failed to send request: %w", err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("failed to read response: %w", err)
	}

	if resp.StatusCode >= http.StatusBadRequest {
		apiErr := &APIError{StatusCode: resp.StatusCode}
		var envelope struct {
			Error json.RawMessage `json:"error"`
		}
		if json.Unmarshal(data, &envelope) == nil && len(envelope.Error) > 0 {
			json.Unmarshal(envelope.Error, apiErr)
		}
		if apiErr.Message == "" {
			apiErr.Message = strings.TrimSpace(string(data))
		}
		// the upload endpoint reports per-file errors in a 400 body
		if out != nil {
			json.Unmarshal(data, out)
		}
		return apiErr
	}

	if out == nil || len(data) == 0 {
		return nil
	}
	if err := json.Unmarshal(data, out); err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}
	return nil
}
