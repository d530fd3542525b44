package services

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"

	"rag-ingest/config"
	"rag-ingest/internal/core/domain"
	"rag-ingest/internal/core/ports"
	apperrors "rag-ingest/pkg/errors"
	"rag-ingest/pkg/logger"
	"rag-ingest/pkg/memory"
	"rag-ingest/pkg/metrics"
	"rag-ingest/utils"
)

// DocumentServiceImpl implements the DocumentService port
type DocumentServiceImpl struct {
	sessions ports.SessionService
	store    ports.SessionStore
	config   config.UploadConfig
	tempRoot string
	buffers  *memory.Pool
	metrics  *metrics.Metrics
	logger   *logger.Logger
	now      func() time.Time
}

// NewDocumentService creates a new document service storing files under
// {tempRoot}/{session}
func NewDocumentService(
	sessions ports.SessionService,
	store ports.SessionStore,
	cfg config.UploadConfig,
	tempRoot string,
	m *metrics.Metrics,
	log *logger.Logger,
) *DocumentServiceImpl {
	if log == nil {
		log = logger.Nop()
	}
	poolConfig := memory.DefaultPoolConfig()
	if cfg.CopyBuffers > 0 {
		poolConfig.MaxBuffers = cfg.CopyBuffers
	}
	return &DocumentServiceImpl{
		sessions: sessions,
		store:    store,
		config:   cfg,
		tempRoot: tempRoot,
		buffers:  memory.NewPool(poolConfig),
		metrics:  m,
		logger:   log,
		now:      time.Now,
	}
}

var _ ports.DocumentService = (*DocumentServiceImpl)(nil)

// BufferStats reports usage of the upload copy buffers
func (s *DocumentServiceImpl) BufferStats() memory.PoolStats {
	return s.buffers.Stats()
}

// Upload stores files in the user's session. Session and limit failures
// reject the whole request; per-file failures are listed in the result.
func (s *DocumentServiceImpl) Upload(ctx context.Context, userID, sessionID string, files []domain.Upload) (*domain.UploadResult, error) {
	session, err := s.sessions.ValidateAccess(ctx, userID, sessionID)
	if err != nil {
		return nil, err
	}
	if len(files) == 0 {
		return nil, apperrors.NewValidationError("no files provided")
	}
	if limit := s.config.MaxFilesPerSession; limit > 0 && session.DocumentCount+len(files) > limit {
		if s.metrics != nil {
			s.metrics.RecordUploadRejected("session_limit")
		}
		return nil, apperrors.NewSessionLimitError(session.DocumentCount, len(files), limit)
	}

	s.logger.LogUploadStart(ctx, userID, sessionID, len(files))

	result := &domain.UploadResult{
		Documents: make([]*domain.Document, 0, len(files)),
		Errors:    make([]domain.UploadError, 0),
	}
	for _, file := range files {
		doc, err := s.storeFile(ctx, session.SessionID, file)
		if err != nil {
			code := apperrors.CodeInternal
			if appErr, ok := apperrors.As(err); ok {
				code = appErr.Code
			}
			s.logger.LogUploadRejected(ctx, sessionID, file.Filename, err.Error())
			if s.metrics != nil {
				s.metrics.RecordUploadRejected(strings.ToLower(code))
			}
			result.Errors = append(result.Errors, domain.UploadError{
				Filename: file.Filename,
				Code:     code,
				Error:    err.Error(),
			})
			continue
		}
		result.Documents = append(result.Documents, doc)
		s.logger.LogUploadComplete(ctx, sessionID, doc.DocumentID.String(), doc.DocumentName, doc.FileSize)
	}
	return result, nil
}

// storeFile validates and stores a single file
func (s *DocumentServiceImpl) storeFile(ctx context.Context, sessionID uuid.UUID, file domain.Upload) (*domain.Document, error) {
	name := filepath.Base(file.Filename)
	ext := strings.ToLower(filepath.Ext(name))
	if name == "." || name == string(filepath.Separator) || !s.extensionAllowed(ext) {
		return nil, apperrors.NewUnsupportedFileTypeError(ext)
	}
	if maxSize := s.config.MaxFileSize; maxSize > 0 && file.Size > maxSize {
		return nil, apperrors.NewFileSizeError(file.Size, maxSize)
	}

	documentID := uuid.New()
	dest := utils.DocumentPath(s.tempRoot, sessionID, documentID, ext)

	reader := file.Content
	if s.config.MaxFileSize > 0 {
		reader = io.LimitReader(file.Content, s.config.MaxFileSize+1)
	}
	buffer, err := s.buffers.Acquire(ctx)
	if err != nil {
		return nil, apperrors.Wrap(err, apperrors.InternalError, apperrors.CodeStorageFailure, "no copy buffer available")
	}
	size, hash, err := utils.SaveReaderBuffer(reader, dest, buffer.Data())
	buffer.Release()
	if err != nil {
		return nil, apperrors.Wrap(err, apperrors.InternalError, apperrors.CodeStorageFailure, "failed to store file")
	}
	if maxSize := s.config.MaxFileSize; maxSize > 0 && size > maxSize {
		os.Remove(dest)
		return nil, apperrors.NewFileSizeError(size, maxSize)
	}

	now := s.now().UTC()
	doc := &domain.Document{
		SessionID:    sessionID,
		DocumentID:   documentID,
		DocumentName: name,
		DocumentHash: hash,
		UploadedAt:   now,
		UpdatedAt:    now,
		FileSize:     size,
		Status:       domain.DocumentStatusUploaded,
		Path:         dest,
		Extension:    ext,
	}
	if err := s.store.SaveDocument(ctx, doc); err != nil {
		os.Remove(dest)
		return nil, err
	}
	if err := s.store.IncrementDocumentCount(ctx, sessionID, 1); err != nil {
		return nil, fmt.Errorf("update document count: %w", err)
	}
	return doc, nil
}

func (s *DocumentServiceImpl) extensionAllowed(ext string) bool {
	if ext == "" {
		return false
	}
	if len(s.config.AllowedExtensions) == 0 {
		return true
	}
	for _, allowed := range s.config.AllowedExtensions {
		if strings.EqualFold(allowed, ext) {
			return true
		}
	}
	return false
}

// ListDocuments returns the documents of a session the user owns
func (s *DocumentServiceImpl) ListDocuments(ctx context.Context, userID, sessionID string) ([]*domain.Document, error) {
	session, err := s.sessions.ValidateAccess(ctx, userID, sessionID)
	if err != nil {
		return nil, err
	}
	return s.store.ListDocuments(ctx, session.SessionID)
}

// DeleteDocuments drops the metadata of every document in the session
func (s *DocumentServiceImpl) DeleteDocuments(ctx context.Context, sessionID uuid.UUID) error {
	return s.store.DeleteDocuments(ctx, sessionID)
}
