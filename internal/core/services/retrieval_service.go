package services

import (
	"context"
	"strings"

	"rag-ingest/internal/core/domain"
	"rag-ingest/internal/core/ports"
	apperrors "rag-ingest/pkg/errors"
	"rag-ingest/pkg/logger"
)

const defaultSearchLimit = 5

// RetrievalServiceImpl implements the RetrievalService port
type RetrievalServiceImpl struct {
	sessions ports.SessionService
	embedder ports.Embedder
	vectors  ports.VectorStore
	maxLimit int
	logger   *logger.Logger
}

// NewRetrievalService creates a retrieval service. maxLimit caps the number
// of chunks a query may return.
func NewRetrievalService(sessions ports.SessionService, embedder ports.Embedder, vectors ports.VectorStore, maxLimit int, log *logger.Logger) *RetrievalServiceImpl {
	if log == nil {
		log = logger.Nop()
	}
	return &RetrievalServiceImpl{
		sessions: sessions,
		embedder: embedder,
		vectors:  vectors,
		maxLimit: maxLimit,
		logger:   log,
	}
}

var _ ports.RetrievalService = (*RetrievalServiceImpl)(nil)

// Search embeds the query and returns the closest chunks of the session
func (s *RetrievalServiceImpl) Search(ctx context.Context, userID, sessionID, query string, limit int) ([]domain.SearchResult, error) {
	session, err := s.sessions.ValidateAccess(ctx, userID, sessionID)
	if err != nil {
		return nil, err
	}

	query = strings.TrimSpace(query)
	if query == "" {
		return nil, apperrors.NewValidationError("query must not be empty")
	}
	if limit <= 0 {
		limit = defaultSearchLimit
	}
	if s.maxLimit > 0 && limit > s.maxLimit {
		limit = s.maxLimit
	}

	vector, err := s.embedder.EmbedQuery(ctx, query)
	if err != nil {
		return nil, err
	}

	results, err := s.vectors.Search(ctx, session.SessionID, vector, limit)
	if err != nil {
		return nil, err
	}

	s.logger.FromContext(ctx).Debug().
		Str("session_id", sessionID).
		Int("limit", limit).
		Int("results", len(results)).
		Msg("Retrieval completed")
	return results, nil
}
