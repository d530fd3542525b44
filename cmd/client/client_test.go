package client

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"rag-ingest/internal/core/domain"
)

func TestNewClient(t *testing.T) {
	t.Run("explicit config", func(t *testing.T) {
		client := NewClient(Config{
			BaseURL: "http://localhost:8000/",
			UserID:  "u",
			Token:   "t",
			Timeout: 10 * time.Second,
		})
		assert.Equal(t, "http://localhost:8000", client.baseURL)
		assert.Equal(t, "u", client.UserID())
		assert.Equal(t, "t", client.token)
		assert.Equal(t, 10*time.Second, client.httpClient.Timeout)
	})

	t.Run("defaults", func(t *testing.T) {
		client := NewClient(Config{BaseURL: "http://localhost:8000"})
		assert.Equal(t, 30*time.Second, client.httpClient.Timeout)
	})
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func TestClientRequests(t *testing.T) {
	ctx := context.Background()
	userID := uuid.NewString()
	sessionID := uuid.New()

	mux := http.NewServeMux()
	mux.HandleFunc("/api/v1/sessions", func(w http.ResponseWriter, r *http.Request) {
		var req map[string]string
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, userID, req["user_id"])
		writeJSON(w, http.StatusCreated, map[string]interface{}{
			"success": true,
			"session": domain.Session{SessionID: sessionID, UserID: uuid.MustParse(userID)},
			"token":   "issued-token",
		})
	})
	mux.HandleFunc("/api/v1/upload", func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "Bearer issued-token", r.Header.Get("Authorization"))
		assert.NoError(t, r.ParseMultipartForm(1<<20))
		assert.Equal(t, sessionID.String(), r.FormValue("session_id"))
		files := r.MultipartForm.File["files"]
		if !assert.Len(t, files, 1) {
			return
		}

		if files[0].Filename == "bad.exe" {
			writeJSON(w, http.StatusBadRequest, map[string]interface{}{
				"success":   false,
				"message":   "all uploads failed",
				"documents": []interface{}{},
				"errors":    []domain.UploadError{{Filename: "bad.exe", Code: "UNSUPPORTED_FILE_TYPE"}},
			})
			return
		}
		writeJSON(w, http.StatusOK, map[string]interface{}{
			"success":   true,
			"documents": []domain.Document{{SessionID: sessionID, DocumentName: files[0].Filename, ChunkCount: 3}},
			"errors":    []interface{}{},
		})
	})
	mux.HandleFunc("/api/v1/chat", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]interface{}{
			"success": true,
			"context": []domain.SearchResult{{Score: 0.9}},
		})
	})
	mux.HandleFunc("/api/v1/sessions/"+sessionID.String(), func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, userID, r.Header.Get("X-User-ID"))
		writeJSON(w, http.StatusNotFound, map[string]interface{}{
			"success": false,
			"error":   map[string]string{"type": "not_found", "code": "SESSION_NOT_FOUND", "message": "session not found"},
		})
	})

	var polls atomic.Int32
	mux.HandleFunc("/api/v1/jobs/job-1", func(w http.ResponseWriter, r *http.Request) {
		status := domain.JobStatusProcessing
		if polls.Add(1) > 1 {
			status = domain.JobStatusCompleted
		}
		writeJSON(w, http.StatusOK, domain.IngestionJob{ID: "job-1", Status: status})
	})

	server := httptest.NewServer(mux)
	defer server.Close()

	client := NewClient(Config{BaseURL: server.URL, UserID: userID})

	t.Run("create session keeps token", func(t *testing.T) {
		session, err := client.CreateSession(ctx, "")
		require.NoError(t, err)
		assert.Equal(t, sessionID, session.SessionID)
		assert.Equal(t, "issued-token", client.token)
	})

	dir := t.TempDir()
	good := filepath.Join(dir, "notes.txt")
	require.NoError(t, os.WriteFile(good, []byte("hello"), 0o644))
	bad := filepath.Join(dir, "bad.exe")
	require.NoError(t, os.WriteFile(bad, []byte("MZ"), 0o644))

	t.Run("upload", func(t *testing.T) {
		resp, err := client.Upload(ctx, sessionID.String(), good)
		require.NoError(t, err)
		require.Len(t, resp.Documents, 1)
		assert.Equal(t, "notes.txt", resp.Documents[0].DocumentName)
	})

	t.Run("rejected upload returns per-file errors", func(t *testing.T) {
		resp, err := client.Upload(ctx, sessionID.String(), bad)
		var apiErr *APIError
		require.ErrorAs(t, err, &apiErr)
		assert.Equal(t, http.StatusBadRequest, apiErr.StatusCode)
		require.NotNil(t, resp)
		assert.Equal(t, "UNSUPPORTED_FILE_TYPE", resp.Errors[0].Code)
	})

	t.Run("chat", func(t *testing.T) {
		resp, err := client.Chat(ctx, sessionID.String(), "system", "hi", 3)
		require.NoError(t, err)
		require.Len(t, resp.Context, 1)
		assert.Equal(t, float32(0.9), resp.Context[0].Score)
	})

	t.Run("error envelope", func(t *testing.T) {
		_, err := client.GetSession(ctx, sessionID.String())
		var apiErr *APIError
		require.ErrorAs(t, err, &apiErr)
		assert.Equal(t, http.StatusNotFound, apiErr.StatusCode)
		assert.Equal(t, "SESSION_NOT_FOUND", apiErr.Code)
		assert.Equal(t, "session not found", apiErr.Message)
	})

	t.Run("wait for job", func(t *testing.T) {
		job, err := client.WaitForJob(ctx, "job-1", 10*time.Millisecond)
		require.NoError(t, err)
		assert.Equal(t, domain.JobStatusCompleted, job.Status)
		assert.Equal(t, int32(2), polls.Load())
	})
}
