package services

import (
	"context"
	"time"

	"github.com/google/uuid"

	"rag-ingest/config"
	"rag-ingest/internal/core/domain"
	"rag-ingest/internal/core/ports"
	apperrors "rag-ingest/pkg/errors"
	"rag-ingest/pkg/events"
	"rag-ingest/pkg/logger"
	"rag-ingest/pkg/metrics"
	"rag-ingest/pkg/security"
	"rag-ingest/utils"
)

const eventSource = "rag-ingest"

// SessionServiceImpl implements the SessionService port. A user has at most
// one active session; creating a new one expires the previous one.
type SessionServiceImpl struct {
	store     ports.SessionStore
	vectors   ports.VectorStore
	publisher events.Publisher
	tokens    *security.TokenManager
	config    config.SessionConfig
	metrics   *metrics.Metrics
	logger    *logger.Logger
	now       func() time.Time
}

// NewSessionService creates a new session service. vectors, publisher,
// tokens and m may be nil.
func NewSessionService(
	store ports.SessionStore,
	vectors ports.VectorStore,
	publisher events.Publisher,
	tokens *security.TokenManager,
	cfg config.SessionConfig,
	m *metrics.Metrics,
	log *logger.Logger,
) *SessionServiceImpl {
	if cfg.TTL <= 0 {
		cfg.TTL = 24 * time.Hour
	}
	if log == nil {
		log = logger.Nop()
	}
	return &SessionServiceImpl{
		store:     store,
		vectors:   vectors,
		publisher: publisher,
		tokens:    tokens,
		config:    cfg,
		metrics:   m,
		logger:    log,
		now:       time.Now,
	}
}

var _ ports.SessionService = (*SessionServiceImpl)(nil)

// CreateSession opens a session for userID. An empty sessionID generates one.
func (s *SessionServiceImpl) CreateSession(ctx context.Context, userID, sessionID string) (*domain.Session, error) {
	uid, err := uuid.Parse(userID)
	if err != nil {
		return nil, apperrors.NewInvalidUUIDError("user_id", userID)
	}

	if existing, err := s.store.GetUserSession(ctx, uid); err != nil {
		return nil, err
	} else if existing != nil {
		if err := s.expire(ctx, existing, "replaced"); err != nil {
			return nil, err
		}
	}

	sid := uuid.New()
	if sessionID != "" {
		if sid, err = uuid.Parse(sessionID); err != nil {
			return nil, apperrors.NewInvalidUUIDError("session_id", sessionID)
		}
	}

	taken, err := s.store.GetSession(ctx, sid)
	if err != nil {
		return nil, err
	}
	if taken != nil {
		s.logger.LogSecurityViolation(ctx, userID, sid.String(), "Session ID already in use")
		return nil, apperrors.New(apperrors.ConflictError, apperrors.CodeSessionIDConflict, "session ID already in use").
			WithContext("session_id", sid.String())
	}

	now := s.now().UTC()
	session := &domain.Session{
		SessionID: sid,
		UserID:    uid,
		CreatedAt: now,
		ExpiresAt: now.Add(s.config.TTL),
	}

	if s.tokens != nil {
		token, err := s.tokens.Issue(userID, sid.String(), session.ExpiresAt)
		if err != nil {
			return nil, apperrors.Wrap(err, apperrors.InternalError, apperrors.CodeInternal, "failed to issue session token")
		}
		session.Token = token
	}

	if err := s.store.SaveSession(ctx, session); err != nil {
		return nil, err
	}

	s.logger.LogSessionCreated(ctx, userID, sid.String(), session.ExpiresAt)
	s.publish(ctx, events.NewSessionEvent(events.SessionCreatedEvent, eventSource, sid.String(), "created"))
	s.refreshGauge(ctx)
	return session, nil
}

// GetSession returns a live session. Expired sessions are removed on
// access and reported as not found.
func (s *SessionServiceImpl) GetSession(ctx context.Context, sessionID string) (*domain.Session, error) {
	sid, err := uuid.Parse(sessionID)
	if err != nil {
		return nil, apperrors.NewInvalidUUIDError("session_id", sessionID)
	}

	session, err := s.store.GetSession(ctx, sid)
	if err != nil {
		return nil, err
	}
	if session == nil {
		return nil, apperrors.NewSessionNotFoundError(sessionID)
	}
	if session.IsExpired(s.now()) {
		if err := s.expire(ctx, session, "ttl"); err != nil {
			s.logger.LogError(ctx, err, "Failed to expire session", map[string]interface{}{"session_id": sessionID})
		}
		return nil, apperrors.NewSessionNotFoundError(sessionID)
	}
	return session, nil
}

// ValidateAccess returns the session when it is live and owned by userID
func (s *SessionServiceImpl) ValidateAccess(ctx context.Context, userID, sessionID string) (*domain.Session, error) {
	uid, err := uuid.Parse(userID)
	if err != nil {
		return nil, apperrors.NewInvalidUUIDError("user_id", userID)
	}

	session, err := s.GetSession(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	if session.UserID != uid {
		s.logger.LogSecurityViolation(ctx, userID, sessionID, "Session access denied")
		return nil, apperrors.NewSessionAccessDeniedError(sessionID)
	}
	return session, nil
}

// ExpireSession removes a session and everything stored for it. Unknown
// sessions are ignored.
func (s *SessionServiceImpl) ExpireSession(ctx context.Context, sessionID, reason string) error {
	sid, err := uuid.Parse(sessionID)
	if err != nil {
		return apperrors.NewInvalidUUIDError("session_id", sessionID)
	}

	session, err := s.store.GetSession(ctx, sid)
	if err != nil {
		return err
	}
	if session == nil {
		return nil
	}
	return s.expire(ctx, session, reason)
}

func (s *SessionServiceImpl) expire(ctx context.Context, session *domain.Session, reason string) error {
	sid := session.SessionID

	if err := s.store.DeleteDocuments(ctx, sid); err != nil {
		return err
	}
	if err := s.store.DeleteSession(ctx, sid); err != nil {
		return err
	}

	if err := utils.RemoveSessionDir(s.config.TempRoot, sid); err != nil {
		s.logger.LogError(ctx, err, "Error cleaning up session directory", map[string]interface{}{
			"session_id": sid.String(),
		})
	}
	if s.vectors != nil {
		if err := s.vectors.DeleteSession(ctx, sid); err != nil {
			s.logger.LogError(ctx, err, "Failed to delete session vectors", map[string]interface{}{
				"session_id": sid.String(),
			})
		}
	}

	s.logger.LogSessionExpired(ctx, sid.String(), reason)
	s.publish(ctx, events.NewSessionEvent(events.SessionExpiredEvent, eventSource, sid.String(), reason))
	s.refreshGauge(ctx)
	return nil
}

// CleanupExpired expires every session past its expiry and returns how
// many were removed
func (s *SessionServiceImpl) CleanupExpired(ctx context.Context) (int, error) {
	sessions, err := s.store.ListSessions(ctx)
	if err != nil {
		return 0, err
	}

	now := s.now()
	expired := 0
	for _, session := range sessions {
		if !session.IsExpired(now) {
			continue
		}
		if err := s.expire(ctx, session, "ttl"); err != nil {
			return expired, err
		}
		expired++
	}
	return expired, nil
}

// ActiveSessions counts sessions that have not expired
func (s *SessionServiceImpl) ActiveSessions(ctx context.Context) (int, error) {
	sessions, err := s.store.ListSessions(ctx)
	if err != nil {
		return 0, err
	}

	now := s.now()
	active := 0
	for _, session := range sessions {
		if !session.IsExpired(now) {
			active++
		}
	}
	return active, nil
}

// RunCleanup expires stale sessions every interval until ctx is done
func (s *SessionServiceImpl) RunCleanup(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		return
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			n, err := s.CleanupExpired(ctx)
			if err != nil {
				s.logger.LogError(ctx, err, "Session cleanup failed", nil)
				continue
			}
			if n > 0 {
				s.logger.Info().Int("expired", n).Msg("Expired sessions cleaned up")
			}
		}
	}
}

func (s *SessionServiceImpl) publish(ctx context.Context, event *events.Event) {
	if s.publisher == nil {
		return
	}
	if err := s.publisher.Publish(ctx, event); err != nil {
		s.logger.LogError(ctx, err, "Failed to publish event", map[string]interface{}{
			"event_type": string(event.Type),
		})
	}
}

func (s *SessionServiceImpl) refreshGauge(ctx context.Context) {
	if s.metrics == nil {
		return
	}
	if n, err := s.ActiveSessions(ctx); err == nil {
		s.metrics.SetActiveSessions(float64(n))
	}
}
