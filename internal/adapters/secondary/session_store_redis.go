package adapters

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"rag-ingest/internal/core/domain"
	"rag-ingest/internal/core/ports"
	apperrors "rag-ingest/pkg/errors"
)

// RedisSessionStore keeps the session registry in Redis so several server
// and worker processes share it.
//
// Keys, under the configured prefix:
//
//	session:{id}        session JSON
//	session:{id}:count  document count (INCRBY)
//	user:{id}           active session id of the user
//	sessions            set of session ids
//	documents:{id}      hash of document id to document JSON
type RedisSessionStore struct {
	client redis.UniversalClient
	prefix string
	logger zerolog.Logger
}

var _ ports.SessionStore = (*RedisSessionStore)(nil)

// NewRedisSessionStore creates a store over an existing client
func NewRedisSessionStore(client redis.UniversalClient, prefix string, logger zerolog.Logger) *RedisSessionStore {
	if prefix == "" {
		prefix = "rag"
	}
	return &RedisSessionStore{
		client: client,
		prefix: prefix,
		logger: logger.With().Str("component", "session_store").Logger(),
	}
}

func (s *RedisSessionStore) key(parts ...string) string {
	k := s.prefix
	for _, p := range parts {
		k += ":" + p
	}
	return k
}

func (s *RedisSessionStore) sessionKey(id uuid.UUID) string { return s.key("session", id.String()) }
func (s *RedisSessionStore) countKey(id uuid.UUID) string {
	return s.key("session", id.String(), "count")
}
func (s *RedisSessionStore) userKey(id uuid.UUID) string { return s.key("user", id.String()) }
func (s *RedisSessionStore) docsKey(id uuid.UUID) string { return s.key("documents", id.String()) }
func (s *RedisSessionStore) indexKey() string            { return s.key("sessions") }

func storeError(err error, op string) error {
	return apperrors.Wrapf(err, apperrors.UnavailableError, apperrors.CodeSessionStoreFailure, "session store %s failed", op)
}

func (s *RedisSessionStore) SaveSession(ctx context.Context, session *domain.Session) error {
	data, err := json.Marshal(session)
	if err != nil {
		return fmt.Errorf("marshal session: %w", err)
	}

	_, err = s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Set(ctx, s.sessionKey(session.SessionID), data, 0)
		pipe.Set(ctx, s.countKey(session.SessionID), session.DocumentCount, 0)
		pipe.Set(ctx, s.userKey(session.UserID), session.SessionID.String(), 0)
		pipe.SAdd(ctx, s.indexKey(), session.SessionID.String())
		return nil
	})
	if err != nil {
		return storeError(err, "save session")
	}
	return nil
}

func (s *RedisSessionStore) GetSession(ctx context.Context, sessionID uuid.UUID) (*domain.Session, error) {
	data, err := s.client.Get(ctx, s.sessionKey(sessionID)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, nil
		}
		return nil, storeError(err, "get session")
	}

	var session domain.Session
	if err := json.Unmarshal(data, &session); err != nil {
		return nil, fmt.Errorf("unmarshal session: %w", err)
	}

	count, err := s.client.Get(ctx, s.countKey(sessionID)).Result()
	switch {
	case err == nil:
		if n, convErr := strconv.Atoi(count); convErr == nil {
			session.DocumentCount = n
		}
	case !errors.Is(err, redis.Nil):
		return nil, storeError(err, "get document count")
	}
	return &session, nil
}

func (s *RedisSessionStore) GetUserSession(ctx context.Context, userID uuid.UUID) (*domain.Session, error) {
	raw, err := s.client.Get(ctx, s.userKey(userID)).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, nil
		}
		return nil, storeError(err, "get user session")
	}
	sessionID, err := uuid.Parse(raw)
	if err != nil {
		s.logger.Warn().Str("user_id", userID.String()).Str("value", raw).Msg("Corrupt user session index")
		return nil, nil
	}
	return s.GetSession(ctx, sessionID)
}

func (s *RedisSessionStore) IncrementDocumentCount(ctx context.Context, sessionID uuid.UUID, delta int) error {
	if err := s.client.IncrBy(ctx, s.countKey(sessionID), int64(delta)).Err(); err != nil {
		return storeError(err, "increment document count")
	}
	return nil
}

func (s *RedisSessionStore) DeleteSession(ctx context.Context, sessionID uuid.UUID) error {
	session, err := s.GetSession(ctx, sessionID)
	if err != nil {
		return err
	}

	_, err = s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Del(ctx, s.sessionKey(sessionID), s.countKey(sessionID))
		pipe.SRem(ctx, s.indexKey(), sessionID.String())
		return nil
	})
	if err != nil {
		return storeError(err, "delete session")
	}

	if session != nil {
		// Only clear the user index when it still points at this session.
		current, err := s.client.Get(ctx, s.userKey(session.UserID)).Result()
		if err == nil && current == sessionID.String() {
			s.client.Del(ctx, s.userKey(session.UserID))
		}
	}
	return nil
}

func (s *RedisSessionStore) ListSessions(ctx context.Context) ([]*domain.Session, error) {
	ids, err := s.client.SMembers(ctx, s.indexKey()).Result()
	if err != nil {
		return nil, storeError(err, "list sessions")
	}

	out := make([]*domain.Session, 0, len(ids))
	for _, raw := range ids {
		id, err := uuid.Parse(raw)
		if err != nil {
			continue
		}
		session, err := s.GetSession(ctx, id)
		if err != nil {
			return nil, err
		}
		if session == nil {
			s.client.SRem(ctx, s.indexKey(), raw)
			continue
		}
		out = append(out, session)
	}
	return out, nil
}

func (s *RedisSessionStore) SaveDocument(ctx context.Context, doc *domain.Document) error {
	data, err := json.Marshal(storedDocument{Document: doc, Path: doc.Path})
	if err != nil {
		return fmt.Errorf("marshal document: %w", err)
	}
	if err := s.client.HSet(ctx, s.docsKey(doc.SessionID), doc.DocumentID.String(), data).Err(); err != nil {
		return storeError(err, "save document")
	}
	return nil
}

func (s *RedisSessionStore) GetDocument(ctx context.Context, sessionID, documentID uuid.UUID) (*domain.Document, error) {
	data, err := s.client.HGet(ctx, s.docsKey(sessionID), documentID.String()).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, nil
		}
		return nil, storeError(err, "get document")
	}
	return decodeDocument(data)
}

func (s *RedisSessionStore) ListDocuments(ctx context.Context, sessionID uuid.UUID) ([]*domain.Document, error) {
	values, err := s.client.HVals(ctx, s.docsKey(sessionID)).Result()
	if err != nil {
		return nil, storeError(err, "list documents")
	}

	out := make([]*domain.Document, 0, len(values))
	for _, v := range values {
		doc, err := decodeDocument([]byte(v))
		if err != nil {
			return nil, err
		}
		out = append(out, doc)
	}
	sortDocuments(out)
	return out, nil
}

func (s *RedisSessionStore) DeleteDocuments(ctx context.Context, sessionID uuid.UUID) error {
	if err := s.client.Del(ctx, s.docsKey(sessionID)).Err(); err != nil {
		return storeError(err, "delete documents")
	}
	return nil
}

func (s *RedisSessionStore) Ping(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}

// storedDocument keeps the server-side path, which the API form omits
type storedDocument struct {
	*domain.Document
	Path string `json:"path"`
}

func decodeDocument(data []byte) (*domain.Document, error) {
	stored := storedDocument{Document: &domain.Document{}}
	if err := json.Unmarshal(data, &stored); err != nil {
		return nil, fmt.Errorf("unmarshal document: %w", err)
	}
	stored.Document.Path = stored.Path
	return stored.Document, nil
}
