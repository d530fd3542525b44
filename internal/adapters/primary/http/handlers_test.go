package http

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"rag-ingest/chunking"
	"rag-ingest/config"
	"rag-ingest/health"
	adapters "rag-ingest/internal/adapters/secondary"
	"rag-ingest/internal/core/services"
	"rag-ingest/pkg/events"
	"rag-ingest/pkg/resilience"
	"rag-ingest/pkg/security"
	"rag-ingest/textextractor"
	"rag-ingest/vectorstore"
)

// letterEmbedder counts letters a to d, enough to rank the test texts
type letterEmbedder struct{}

func embed(text string) []float32 {
	v := []float32{1, 1, 1, 1}
	for _, r := range strings.ToLower(text) {
		if r >= 'a' && r <= 'd' {
			v[r-'a']++
		}
	}
	return v
}

func (letterEmbedder) EmbedDocuments(_ context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	for i, t := range texts {
		out[i] = embed(t)
	}
	return out, nil
}

func (letterEmbedder) EmbedQuery(_ context.Context, text string) ([]float32, error) {
	return embed(text), nil
}

type testServer struct {
	app    *fiber.App
	tokens *security.TokenManager
}

func newTestServer(t *testing.T, requireToken bool) *testServer {
	t.Helper()
	root := t.TempDir()

	vsConfig := vectorstore.DefaultConfig()
	vsConfig.PersistPath = ""
	vectors, err := vectorstore.NewChromemStore(vsConfig, zerolog.Nop())
	require.NoError(t, err)

	tokenConfig := security.DefaultTokenConfig()
	tokens, err := security.NewTokenManager(tokenConfig, zerolog.Nop())
	require.NoError(t, err)

	store := adapters.NewMemorySessionStore()
	bus := events.NewLocalBus(zerolog.Nop())
	embedder := letterEmbedder{}
	chunker := chunking.NewChunker(embedder)

	sessions := services.NewSessionService(store, vectors, bus, tokens,
		config.SessionConfig{TTL: time.Hour, TempRoot: root}, nil, nil)
	documents := services.NewDocumentService(sessions, store, config.UploadConfig{
		MaxFileSize:        1 << 20,
		MaxFilesPerSession: 5,
		AllowedExtensions:  []string{".pdf", ".docx", ".txt", ".md"},
	}, root, nil, nil)
	ingestion := services.NewIngestionService(services.IngestionDeps{
		Store:     store,
		Extractor: textextractor.NewRegistry(nil, root, zerolog.Nop()),
		Chunker:   chunker,
		Embedder:  embedder,
		Vectors:   vectors,
		Publisher: bus,
	}, chunking.DefaultOptions(), resilience.RetryPolicy{MaxAttempts: 1})
	retrieval := services.NewRetrievalService(sessions, embedder, vectors, 20, nil)

	checker := health.NewHealthChecker(config.HealthConfig{}, "test", sessions)
	checker.AddCheck("session_store", store, true)
	checker.AddCheck("vector_store", vectors, true)

	h := NewHandler(HandlerConfig{
		Sessions:     sessions,
		Documents:    documents,
		Ingestion:    ingestion,
		Retrieval:    retrieval,
		Chunker:      chunker,
		Defaults:     chunking.DefaultOptions(),
		Health:       checker,
		Tokens:       tokens,
		RequireToken: requireToken,
	})
	return &testServer{app: NewApp(h, AppConfig{}), tokens: tokens}
}

func (s *testServer) do(t *testing.T, req *http.Request) (int, map[string]interface{}) {
	t.Helper()
	resp, err := s.app.Test(req, -1)
	require.NoError(t, err)
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	var body map[string]interface{}
	if len(raw) > 0 {
		require.NoError(t, json.Unmarshal(raw, &body), string(raw))
	}
	return resp.StatusCode, body
}

func jsonRequest(method, path string, payload interface{}) *http.Request {
	data, _ := json.Marshal(payload)
	req := httptest.NewRequest(method, path, bytes.NewReader(data))
	req.Header.Set("Content-Type", "application/json")
	return req
}

func uploadRequest(t *testing.T, userID, sessionID string, files map[string]string) *http.Request {
	t.Helper()
	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)
	require.NoError(t, w.WriteField("user_id", userID))
	require.NoError(t, w.WriteField("session_id", sessionID))
	for name, content := range files {
		part, err := w.CreateFormFile("files", name)
		require.NoError(t, err)
		_, err = part.Write([]byte(content))
		require.NoError(t, err)
	}
	require.NoError(t, w.Close())

	req := httptest.NewRequest("POST", "/api/v1/upload", &buf)
	req.Header.Set("Content-Type", w.FormDataContentType())
	return req
}

func errorCode(body map[string]interface{}) string {
	errBody, _ := body["error"].(map[string]interface{})
	code, _ := errBody["code"].(string)
	return code
}

func (s *testServer) createSession(t *testing.T, userID string) (string, string) {
	t.Helper()
	status, body := s.do(t, jsonRequest("POST", "/api/v1/sessions", CreateSessionRequest{UserID: userID}))
	require.Equal(t, fiber.StatusCreated, status)
	session := body["session"].(map[string]interface{})
	return session["session_id"].(string), body["token"].(string)
}

func TestRootAndHealth(t *testing.T) {
	s := newTestServer(t, false)

	status, body := s.do(t, httptest.NewRequest("GET", "/", nil))
	assert.Equal(t, fiber.StatusOK, status)
	assert.Equal(t, "1.0.0", body["version"])
	assert.Contains(t, body["endpoints"], "upload")

	status, body = s.do(t, httptest.NewRequest("GET", "/health", nil))
	assert.Equal(t, fiber.StatusOK, status)
	assert.Equal(t, "healthy", body["status"])
	assert.EqualValues(t, 0, body["active_sessions"])

	status, _ = s.do(t, httptest.NewRequest("GET", "/missing", nil))
	assert.Equal(t, fiber.StatusNotFound, status)
}

func TestSessionEndpoints(t *testing.T) {
	s := newTestServer(t, false)
	userID := uuid.NewString()

	t.Run("create", func(t *testing.T) {
		sessionID, token := s.createSession(t, userID)
		assert.NotEmpty(t, token)

		claims, err := s.tokens.Validate(token)
		require.NoError(t, err)
		assert.Equal(t, sessionID, claims.SessionID)
	})

	t.Run("invalid user id", func(t *testing.T) {
		status, body := s.do(t, jsonRequest("POST", "/api/v1/sessions", CreateSessionRequest{UserID: "nope"}))
		assert.Equal(t, fiber.StatusBadRequest, status)
		assert.Equal(t, "INVALID_UUID", errorCode(body))
		assert.Equal(t, false, body["success"])
	})

	t.Run("missing body", func(t *testing.T) {
		status, _ := s.do(t, jsonRequest("POST", "/api/v1/sessions", map[string]string{}))
		assert.Equal(t, fiber.StatusBadRequest, status)
	})

	t.Run("conflict", func(t *testing.T) {
		sessionID, _ := s.createSession(t, userID)
		status, body := s.do(t, jsonRequest("POST", "/api/v1/sessions",
			CreateSessionRequest{UserID: uuid.NewString(), SessionID: sessionID}))
		assert.Equal(t, fiber.StatusConflict, status)
		assert.Equal(t, "SESSION_ID_CONFLICT", errorCode(body))
	})

	t.Run("get and delete", func(t *testing.T) {
		sessionID, _ := s.createSession(t, userID)

		req := httptest.NewRequest("GET", "/api/v1/sessions/"+sessionID, nil)
		req.Header.Set(UserIDHeader, userID)
		status, body := s.do(t, req)
		assert.Equal(t, fiber.StatusOK, status)
		session := body["session"].(map[string]interface{})
		assert.Equal(t, sessionID, session["session_id"])
		assert.NotContains(t, session, "token")

		req = httptest.NewRequest("GET", "/api/v1/sessions/"+sessionID, nil)
		req.Header.Set(UserIDHeader, uuid.NewString())
		status, body = s.do(t, req)
		assert.Equal(t, fiber.StatusForbidden, status)
		assert.Equal(t, "SESSION_ACCESS_DENIED", errorCode(body))

		req = httptest.NewRequest("DELETE", "/api/v1/sessions/"+sessionID, nil)
		req.Header.Set(UserIDHeader, userID)
		status, _ = s.do(t, req)
		assert.Equal(t, fiber.StatusOK, status)

		req = httptest.NewRequest("GET", "/api/v1/sessions/"+sessionID, nil)
		req.Header.Set(UserIDHeader, userID)
		status, body = s.do(t, req)
		assert.Equal(t, fiber.StatusNotFound, status)
		assert.Equal(t, "SESSION_NOT_FOUND", errorCode(body))
	})
}

func TestUploadAndChat(t *testing.T) {
	s := newTestServer(t, false)
	userID := uuid.NewString()
	sessionID, _ := s.createSession(t, userID)

	t.Run("upload ingests in place", func(t *testing.T) {
		status, body := s.do(t, uploadRequest(t, userID, sessionID, map[string]string{
			"letters.txt": "aaaa aaaa\n\nbbbb bbbb\n\ncccc cccc",
		}))
		require.Equal(t, fiber.StatusOK, status, body)
		assert.Equal(t, true, body["success"])

		docs := body["documents"].([]interface{})
		require.Len(t, docs, 1)
		doc := docs[0].(map[string]interface{})
		assert.Equal(t, "ingested", doc["status"])
		assert.EqualValues(t, 3, doc["chunk_count"])
		assert.Empty(t, body["errors"])
	})

	t.Run("rejected files", func(t *testing.T) {
		status, body := s.do(t, uploadRequest(t, userID, sessionID, map[string]string{
			"tool.exe": "MZ",
		}))
		assert.Equal(t, fiber.StatusBadRequest, status)
		assert.Equal(t, false, body["success"])
		errs := body["errors"].([]interface{})
		require.Len(t, errs, 1)
		assert.Equal(t, "UNSUPPORTED_FILE_TYPE", errs[0].(map[string]interface{})["code"])
	})

	t.Run("headers are validated before storing", func(t *testing.T) {
		status, body := s.do(t, uploadRequest(t, userID, sessionID, map[string]string{
			"empty.txt": "",
		}))
		assert.Equal(t, fiber.StatusBadRequest, status)
		errs := body["errors"].([]interface{})
		require.Len(t, errs, 1)
		rejection := errs[0].(map[string]interface{})
		assert.Equal(t, "VALIDATION_FAILED", rejection["code"])
		assert.Equal(t, "empty.txt", rejection["filename"])
		assert.Contains(t, rejection["error"], "below minimum")
	})

	t.Run("invalid session id", func(t *testing.T) {
		status, body := s.do(t, uploadRequest(t, userID, "bad", map[string]string{"a.txt": "a"}))
		assert.Equal(t, fiber.StatusBadRequest, status)
		assert.Equal(t, "INVALID_UUID", errorCode(body))
	})

	t.Run("no files", func(t *testing.T) {
		status, _ := s.do(t, uploadRequest(t, userID, sessionID, nil))
		assert.Equal(t, fiber.StatusBadRequest, status)
	})

	t.Run("list documents", func(t *testing.T) {
		req := httptest.NewRequest("GET", "/api/v1/sessions/"+sessionID+"/documents", nil)
		req.Header.Set(UserIDHeader, userID)
		status, body := s.do(t, req)
		assert.Equal(t, fiber.StatusOK, status)
		assert.EqualValues(t, 1, body["count"])
	})

	t.Run("chat returns context", func(t *testing.T) {
		status, body := s.do(t, jsonRequest("POST", "/api/v1/chat", ChatRequest{
			UserID:       userID,
			SessionID:    sessionID,
			SystemPrompt: "Be brief.",
			UserMessage:  "bbbb",
			Limit:        1,
		}))
		require.Equal(t, fiber.StatusOK, status, body)
		results := body["context"].([]interface{})
		require.Len(t, results, 1)
		chunk := results[0].(map[string]interface{})["chunk"].(map[string]interface{})
		assert.Equal(t, "bbbb bbbb", chunk["text"])
	})

	t.Run("chat rejects", func(t *testing.T) {
		status, _ := s.do(t, jsonRequest("POST", "/api/v1/chat", ChatRequest{
			UserID: userID, SessionID: sessionID, SystemPrompt: "x",
		}))
		assert.Equal(t, fiber.StatusBadRequest, status)

		status, body := s.do(t, jsonRequest("POST", "/api/v1/chat", ChatRequest{
			UserID: userID, SessionID: uuid.NewString(), SystemPrompt: "x", UserMessage: "y",
		}))
		assert.Equal(t, fiber.StatusNotFound, status)
		assert.Equal(t, "SESSION_NOT_FOUND", errorCode(body))

		status, _ = s.do(t, jsonRequest("POST", "/api/v1/chat", ChatRequest{
			UserID: uuid.NewString(), SessionID: sessionID, SystemPrompt: "x", UserMessage: "y",
		}))
		assert.Equal(t, fiber.StatusForbidden, status)
	})

	t.Run("job lookup without queue", func(t *testing.T) {
		status, body := s.do(t, httptest.NewRequest("GET", "/api/v1/jobs/"+uuid.NewString(), nil))
		assert.Equal(t, fiber.StatusNotFound, status)
		assert.Equal(t, "JOB_NOT_FOUND", errorCode(body))
	})
}

func TestChunkEndpoint(t *testing.T) {
	s := newTestServer(t, false)
	sessionID, documentID := uuid.New(), uuid.New()

	t.Run("chunks per page", func(t *testing.T) {
		status, body := s.do(t, jsonRequest("POST", "/api/v1/chunk", ChunkRequest{
			TextBlocks: []chunking.TextBlock{
				{Text: "First page.", Page: 1},
				{Text: "Second page.", Page: 2},
			},
			Images: []chunking.ImageAsset{
				{ImageID: "img-1", SessionID: sessionID, DocumentID: documentID, Page: 2, ImagePath: "/tmp/img-1.png"},
			},
			SessionID:  sessionID.String(),
			DocumentID: documentID.String(),
		}))
		require.Equal(t, fiber.StatusOK, status, body)
		assert.EqualValues(t, 2, body["count"])

		chunks := body["chunks"].([]interface{})
		second := chunks[1].(map[string]interface{})
		assert.Equal(t, chunking.MakeChunkID(sessionID, documentID, 2, 0), second["chunk_id"])
		assert.Len(t, second["image_refs"], 1)
		assert.Len(t, chunks[0].(map[string]interface{})["image_refs"], 0)
	})

	t.Run("invalid options", func(t *testing.T) {
		opts := chunking.DefaultOptions()
		opts.ChunkOverlap = opts.ChunkSize
		status, _ := s.do(t, jsonRequest("POST", "/api/v1/chunk", ChunkRequest{
			TextBlocks: []chunking.TextBlock{{Text: "x", Page: 1}},
			SessionID:  sessionID.String(),
			DocumentID: documentID.String(),
			Options:    &opts,
		}))
		assert.Equal(t, fiber.StatusBadRequest, status)

		opts = chunking.DefaultOptions()
		opts.Strategy = "fixed"
		status, body := s.do(t, jsonRequest("POST", "/api/v1/chunk", ChunkRequest{
			TextBlocks: []chunking.TextBlock{{Text: "x", Page: 1}},
			SessionID:  sessionID.String(),
			DocumentID: documentID.String(),
			Options:    &opts,
		}))
		assert.Equal(t, fiber.StatusBadRequest, status)
		assert.Equal(t, "INVALID_CONFIGURATION", errorCode(body))
	})

	t.Run("missing ids", func(t *testing.T) {
		status, body := s.do(t, jsonRequest("POST", "/api/v1/chunk", ChunkRequest{
			TextBlocks: []chunking.TextBlock{{Text: "x", Page: 1}},
		}))
		assert.Equal(t, fiber.StatusBadRequest, status)
		assert.Equal(t, "VALIDATION_FAILED", errorCode(body))
	})
}

func TestTokens(t *testing.T) {
	s := newTestServer(t, true)
	userID := uuid.NewString()
	sessionID, token := s.createSession(t, userID)

	get := func(auth string) int {
		req := httptest.NewRequest("GET", "/api/v1/sessions/"+sessionID, nil)
		req.Header.Set(UserIDHeader, userID)
		if auth != "" {
			req.Header.Set("Authorization", auth)
		}
		status, _ := s.do(t, req)
		return status
	}

	assert.Equal(t, fiber.StatusUnauthorized, get(""))
	assert.Equal(t, fiber.StatusUnauthorized, get("Bearer garbage"))
	assert.Equal(t, fiber.StatusOK, get("Bearer "+token))

	otherSession, _ := s.createSession(t, uuid.NewString())
	req := httptest.NewRequest("GET", "/api/v1/sessions/"+otherSession, nil)
	req.Header.Set(UserIDHeader, userID)
	req.Header.Set("Authorization", "Bearer "+token)
	status, _ := s.do(t, req)
	assert.Equal(t, fiber.StatusForbidden, status)
}
