package http

import (
	"context"
	"errors"
	"fmt"

	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"

	"rag-ingest/chunking"
	"rag-ingest/health"
	"rag-ingest/internal/core/domain"
	"rag-ingest/internal/core/ports"
	apperrors "rag-ingest/pkg/errors"
	"rag-ingest/pkg/logger"
	"rag-ingest/pkg/security"
	"rag-ingest/pkg/validator"
)

// UserIDHeader carries the caller's user id on session scoped GET and
// DELETE requests.
const UserIDHeader = "X-User-ID"

// Handler serves the HTTP API
type Handler struct {
	sessions  ports.SessionService
	documents ports.DocumentService
	ingestion ports.IngestionService
	retrieval ports.RetrievalService
	chunker   *chunking.Chunker
	defaults  chunking.Options
	health    *health.HealthChecker
	tokens    *security.TokenManager
	validator *validator.Validator
	logger    *logger.Logger

	requireToken bool
	asyncIngest  bool
}

// HandlerConfig holds the handler's collaborators. Health and Tokens may be
// nil. AsyncIngest sends uploads to the queue instead of ingesting them
// during the request.
type HandlerConfig struct {
	Sessions     ports.SessionService
	Documents    ports.DocumentService
	Ingestion    ports.IngestionService
	Retrieval    ports.RetrievalService
	Chunker      *chunking.Chunker
	Defaults     chunking.Options
	Health       *health.HealthChecker
	Tokens       *security.TokenManager
	RequireToken bool
	Validator    *validator.Validator
	AsyncIngest  bool
	Logger       *logger.Logger
}

// NewHandler creates the API handler
func NewHandler(cfg HandlerConfig) *Handler {
	if cfg.Validator == nil {
		cfg.Validator = validator.Get()
	}
	if cfg.Logger == nil {
		cfg.Logger = logger.Nop()
	}
	return &Handler{
		sessions:     cfg.Sessions,
		documents:    cfg.Documents,
		ingestion:    cfg.Ingestion,
		retrieval:    cfg.Retrieval,
		chunker:      cfg.Chunker,
		defaults:     cfg.Defaults,
		health:       cfg.Health,
		tokens:       cfg.Tokens,
		requireToken: cfg.RequireToken,
		validator:    cfg.Validator,
		asyncIngest:  cfg.AsyncIngest,
		logger:       cfg.Logger,
	}
}

// CreateSessionRequest represents a session creation request
type CreateSessionRequest struct {
	UserID    string `json:"user_id" validate:"required"`
	SessionID string `json:"session_id,omitempty"`
}

// ChunkRequest represents an in-line chunking request
type ChunkRequest struct {
	TextBlocks []chunking.TextBlock  `json:"text_blocks" validate:"required,min=1"`
	Images     []chunking.ImageAsset `json:"images,omitempty"`
	SessionID  string                `json:"session_id" validate:"required,uuid_str"`
	DocumentID string                `json:"document_id" validate:"required,uuid_str"`
	Options    *chunking.Options     `json:"options,omitempty"`
}

// ChatRequest represents a chat request
type ChatRequest struct {
	UserID       string `json:"user_id" validate:"required,uuid_str"`
	SessionID    string `json:"session_id" validate:"required,uuid_str"`
	SystemPrompt string `json:"system_prompt" validate:"required,min=1"`
	UserMessage  string `json:"user_message" validate:"required,min=1"`
	Limit        int    `json:"limit,omitempty" validate:"min=0"`
}

// UploadResponse is returned by the upload endpoint
type UploadResponse struct {
	Success   bool                 `json:"success"`
	Message   string               `json:"message"`
	Documents []*domain.Document   `json:"documents"`
	Errors    []domain.UploadError `json:"errors"`
}

// SetupRoutes configures the HTTP routes
func (h *Handler) SetupRoutes(app *fiber.App) {
	app.Get("/", h.Root)

	if h.health != nil {
		app.Get("/health", h.health.HealthHandler)
		app.Get("/health/live", h.health.LivenessHandler)
		app.Get("/health/ready", h.health.ReadinessHandler)
	}

	api := app.Group("/api/v1")

	sessions := api.Group("/sessions")
	sessions.Post("/", h.CreateSession)
	sessions.Get("/:id", h.GetSession)
	sessions.Delete("/:id", h.DeleteSession)
	sessions.Get("/:id/documents", h.ListDocuments)

	api.Post("/upload", h.Upload)
	api.Post("/chunk", h.Chunk)
	api.Post("/chat", h.Chat)
	api.Get("/jobs/:id", h.GetJob)
}

// Root lists the endpoints
func (h *Handler) Root(c *fiber.Ctx) error {
	return c.JSON(fiber.Map{
		"message": "RAG ingestion service",
		"version": health.Version,
		"endpoints": fiber.Map{
			"health":    "/health",
			"sessions":  "/api/v1/sessions",
			"upload":    "/api/v1/upload",
			"documents": "/api/v1/sessions/:id/documents",
			"chunk":     "/api/v1/chunk",
			"chat":      "/api/v1/chat",
			"jobs":      "/api/v1/jobs/:id",
		},
	})
}

// CreateSession starts a session for the user, replacing any previous one
func (h *Handler) CreateSession(c *fiber.Ctx) error {
	var req CreateSessionRequest
	if err := h.parseBody(c, &req); err != nil {
		return err
	}

	session, err := h.sessions.CreateSession(c.UserContext(), req.UserID, req.SessionID)
	if err != nil {
		return err
	}

	return c.Status(fiber.StatusCreated).JSON(fiber.Map{
		"success": true,
		"session": session,
		"token":   session.Token,
	})
}

// GetSession returns the caller's session
func (h *Handler) GetSession(c *fiber.Ctx) error {
	session, err := h.access(c, c.Get(UserIDHeader), c.Params("id"))
	if err != nil {
		return err
	}

	view := *session
	view.Token = ""
	return c.JSON(fiber.Map{
		"success": true,
		"session": view,
	})
}

// DeleteSession expires the caller's session with everything stored for it
func (h *Handler) DeleteSession(c *fiber.Ctx) error {
	session, err := h.access(c, c.Get(UserIDHeader), c.Params("id"))
	if err != nil {
		return err
	}
	if err := h.sessions.ExpireSession(c.UserContext(), session.SessionID.String(), "deleted"); err != nil {
		return err
	}

	return c.JSON(fiber.Map{
		"success": true,
		"message": "session deleted",
	})
}

// ListDocuments lists the documents uploaded to the caller's session
func (h *Handler) ListDocuments(c *fiber.Ctx) error {
	userID, sessionID := c.Get(UserIDHeader), c.Params("id")
	if _, err := h.access(c, userID, sessionID); err != nil {
		return err
	}

	docs, err := h.documents.ListDocuments(c.UserContext(), userID, sessionID)
	if err != nil {
		return err
	}
	return c.JSON(fiber.Map{
		"success":   true,
		"documents": docs,
		"count":     len(docs),
	})
}

// Upload stores multipart files in a session and starts their ingestion
func (h *Handler) Upload(c *fiber.Ctx) error {
	userID := c.FormValue("user_id")
	sessionID := c.FormValue("session_id")
	if _, err := uuid.Parse(userID); err != nil {
		return apperrors.NewInvalidUUIDError("user_id", userID)
	}
	if _, err := uuid.Parse(sessionID); err != nil {
		return apperrors.NewInvalidUUIDError("session_id", sessionID)
	}
	if err := h.authorize(c, userID, sessionID); err != nil {
		return err
	}

	form, err := c.MultipartForm()
	if err != nil || len(form.File["files"]) == 0 {
		return apperrors.NewValidationError("no files provided")
	}

	var rejected []domain.UploadError
	var uploads []domain.Upload
	for _, header := range form.File["files"] {
		if suspicious, reason := h.validator.IsSuspiciousFilename(header.Filename); suspicious {
			rejected = append(rejected, domain.UploadError{
				Filename: header.Filename,
				Code:     apperrors.CodeValidationFailed,
				Error:    reason,
			})
			continue
		}
		if err := h.validator.ValidateFile(header, nil); err != nil {
			rejected = append(rejected, fileRejection(header.Filename, err))
			continue
		}
		file, err := header.Open()
		if err != nil {
			return apperrors.Wrap(err, apperrors.InternalError, apperrors.CodeStorageFailure, "failed to read upload")
		}
		defer file.Close()
		uploads = append(uploads, domain.Upload{Filename: header.Filename, Size: header.Size, Content: file})
	}

	result := &domain.UploadResult{Documents: []*domain.Document{}}
	if len(uploads) > 0 {
		result, err = h.documents.Upload(c.UserContext(), userID, sessionID, uploads)
		if err != nil {
			return err
		}
	}
	result.Errors = append(rejected, result.Errors...)
	if result.Errors == nil {
		result.Errors = []domain.UploadError{}
	}

	if len(result.Documents) == 0 {
		return c.Status(fiber.StatusBadRequest).JSON(UploadResponse{
			Success:   false,
			Message:   "all uploads failed",
			Documents: result.Documents,
			Errors:    result.Errors,
		})
	}

	for _, doc := range result.Documents {
		h.startIngestion(c.UserContext(), doc)
	}

	return c.JSON(UploadResponse{
		Success:   true,
		Message:   fmt.Sprintf("Successfully uploaded %d file(s)", len(result.Documents)),
		Documents: result.Documents,
		Errors:    result.Errors,
	})
}

// fileRejection maps a header validation failure to the per-file error
// code the document service would report for the same problem.
func fileRejection(filename string, err error) domain.UploadError {
	code := apperrors.CodeValidationFailed
	var errs validator.ValidationErrors
	if errors.As(err, &errs) && len(errs) > 0 {
		switch errs[0].Tag {
		case "allowed_extension":
			code = apperrors.CodeUnsupportedFileType
		case "max_size":
			code = apperrors.CodeFileTooLarge
		}
	}
	return domain.UploadError{Filename: filename, Code: code, Error: err.Error()}
}

// startIngestion queues the document or, without a queue, ingests it in
// place. Failures are recorded on the document, not returned.
func (h *Handler) startIngestion(ctx context.Context, doc *domain.Document) {
	req := domain.IngestionRequest{SessionID: doc.SessionID, DocumentID: doc.DocumentID}

	if h.asyncIngest {
		job, err := h.ingestion.Submit(ctx, req)
		if err != nil {
			h.logger.LogError(ctx, err, "Failed to queue ingestion", map[string]interface{}{
				"document_id": doc.DocumentID.String(),
			})
			doc.Error = err.Error()
			return
		}
		doc.JobID = job.ID
		doc.Status = domain.DocumentStatusQueued
		return
	}

	result, err := h.ingestion.Ingest(ctx, req)
	if err != nil {
		doc.Status = domain.DocumentStatusFailed
		doc.Error = err.Error()
		return
	}
	doc.Status = domain.DocumentStatusIngested
	doc.ChunkCount = result.ChunkCount
	doc.ImageCount = result.ImageCount
}

// Chunk runs the chunker on the posted content and returns the chunks
func (h *Handler) Chunk(c *fiber.Ctx) error {
	var req ChunkRequest
	if err := h.parseBody(c, &req); err != nil {
		return err
	}

	opts := h.defaults
	if req.Options != nil {
		opts = *req.Options
		if opts.Strategy == "" || opts.Strategy == string(chunking.StrategyRecursive) {
			if opts.ChunkSize > 0 {
				if err := h.validator.ValidateChunkingRequest(opts.ChunkSize, opts.ChunkOverlap); err != nil {
					return validator.ToAppError(err)
				}
			}
		}
	}

	content := chunking.DocumentContent{TextBlocks: req.TextBlocks, Images: req.Images}
	chunks, err := h.chunker.Chunk(c.UserContext(), content,
		uuid.MustParse(req.SessionID), uuid.MustParse(req.DocumentID), opts)
	if err != nil {
		return err
	}

	return c.JSON(fiber.Map{
		"success": true,
		"chunks":  chunks,
		"count":   len(chunks),
	})
}

// Chat retrieves the session's chunks closest to the user message. Answer
// generation is not part of this service.
func (h *Handler) Chat(c *fiber.Ctx) error {
	var req ChatRequest
	if err := h.parseBody(c, &req); err != nil {
		return err
	}
	if err := h.authorize(c, req.UserID, req.SessionID); err != nil {
		return err
	}

	results, err := h.retrieval.Search(c.UserContext(), req.UserID, req.SessionID, req.UserMessage, req.Limit)
	if err != nil {
		return err
	}

	return c.JSON(fiber.Map{
		"success":       true,
		"message":       "answer generation is not enabled; returning retrieved context",
		"answer":        "",
		"system_prompt": req.SystemPrompt,
		"user_message":  req.UserMessage,
		"context":       results,
	})
}

// GetJob returns an ingestion job's status
func (h *Handler) GetJob(c *fiber.Ctx) error {
	job, err := h.ingestion.GetJob(c.UserContext(), c.Params("id"))
	if err != nil {
		return err
	}
	return c.JSON(job)
}

func (h *Handler) parseBody(c *fiber.Ctx, out interface{}) error {
	if err := c.BodyParser(out); err != nil {
		return apperrors.NewValidationError("invalid request body").WithContext("details", err.Error())
	}
	if err := h.validator.ValidateStruct(out); err != nil {
		return validator.ToAppError(err)
	}
	return nil
}

// access checks the session token, when tokens are enabled, and the
// session ownership.
func (h *Handler) access(c *fiber.Ctx, userID, sessionID string) (*domain.Session, error) {
	if err := h.authorize(c, userID, sessionID); err != nil {
		return nil, err
	}
	return h.sessions.ValidateAccess(c.UserContext(), userID, sessionID)
}

// authorize validates the bearer token against the user and session.
// Requests without a token pass unless tokens are required.
func (h *Handler) authorize(c *fiber.Ctx, userID, sessionID string) error {
	if h.tokens == nil {
		return nil
	}
	token := c.Get(fiber.HeaderAuthorization)
	if token == "" {
		if h.requireToken {
			return apperrors.New(apperrors.AuthError, apperrors.CodeInvalidSessionToken, "session token required")
		}
		return nil
	}

	if _, err := h.tokens.Authorize(token, userID, sessionID); err != nil {
		if errors.Is(err, security.ErrTokenMismatch) {
			h.logger.LogSecurityViolation(c.UserContext(), userID, sessionID, "Session token mismatch")
			return apperrors.Wrap(err, apperrors.ForbiddenError, apperrors.CodeSessionAccessDenied, "session token does not match request")
		}
		return apperrors.Wrap(err, apperrors.AuthError, apperrors.CodeInvalidSessionToken, "invalid session token")
	}
	return nil
}
