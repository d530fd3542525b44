package adapters

import (
	"context"
	"sort"
	"sync"

	"github.com/google/uuid"

	"rag-ingest/internal/core/domain"
	"rag-ingest/internal/core/ports"
)

// MemorySessionStore keeps sessions and document metadata in process. It
// is used when Redis is disabled and by tests.
type MemorySessionStore struct {
	mu        sync.RWMutex
	sessions  map[uuid.UUID]domain.Session
	byUser    map[uuid.UUID]uuid.UUID
	documents map[uuid.UUID]map[uuid.UUID]domain.Document
}

var _ ports.SessionStore = (*MemorySessionStore)(nil)

// NewMemorySessionStore creates an empty store
func NewMemorySessionStore() *MemorySessionStore {
	s := &MemorySessionStore{}
	s.Reset()
	return s
}

// Reset drops every record
func (s *MemorySessionStore) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sessions = make(map[uuid.UUID]domain.Session)
	s.byUser = make(map[uuid.UUID]uuid.UUID)
	s.documents = make(map[uuid.UUID]map[uuid.UUID]domain.Document)
}

func (s *MemorySessionStore) SaveSession(_ context.Context, session *domain.Session) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sessions[session.SessionID] = *session
	s.byUser[session.UserID] = session.SessionID
	return nil
}

func (s *MemorySessionStore) GetSession(_ context.Context, sessionID uuid.UUID) (*domain.Session, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	session, ok := s.sessions[sessionID]
	if !ok {
		return nil, nil
	}
	return &session, nil
}

func (s *MemorySessionStore) GetUserSession(_ context.Context, userID uuid.UUID) (*domain.Session, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	sessionID, ok := s.byUser[userID]
	if !ok {
		return nil, nil
	}
	session, ok := s.sessions[sessionID]
	if !ok {
		return nil, nil
	}
	return &session, nil
}

func (s *MemorySessionStore) IncrementDocumentCount(_ context.Context, sessionID uuid.UUID, delta int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	session, ok := s.sessions[sessionID]
	if !ok {
		return nil
	}
	session.DocumentCount += delta
	s.sessions[sessionID] = session
	return nil
}

func (s *MemorySessionStore) DeleteSession(_ context.Context, sessionID uuid.UUID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if session, ok := s.sessions[sessionID]; ok {
		if s.byUser[session.UserID] == sessionID {
			delete(s.byUser, session.UserID)
		}
		delete(s.sessions, sessionID)
	}
	return nil
}

func (s *MemorySessionStore) ListSessions(_ context.Context) ([]*domain.Session, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*domain.Session, 0, len(s.sessions))
	for _, session := range s.sessions {
		session := session
		out = append(out, &session)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

func (s *MemorySessionStore) SaveDocument(_ context.Context, doc *domain.Document) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	docs, ok := s.documents[doc.SessionID]
	if !ok {
		docs = make(map[uuid.UUID]domain.Document)
		s.documents[doc.SessionID] = docs
	}
	docs[doc.DocumentID] = *doc
	return nil
}

func (s *MemorySessionStore) GetDocument(_ context.Context, sessionID, documentID uuid.UUID) (*domain.Document, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	doc, ok := s.documents[sessionID][documentID]
	if !ok {
		return nil, nil
	}
	return &doc, nil
}

// ListDocuments returns the session's documents in upload order
func (s *MemorySessionStore) ListDocuments(_ context.Context, sessionID uuid.UUID) ([]*domain.Document, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	docs := s.documents[sessionID]
	out := make([]*domain.Document, 0, len(docs))
	for _, doc := range docs {
		doc := doc
		out = append(out, &doc)
	}
	sortDocuments(out)
	return out, nil
}

func (s *MemorySessionStore) DeleteDocuments(_ context.Context, sessionID uuid.UUID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.documents, sessionID)
	return nil
}

func (s *MemorySessionStore) Ping(context.Context) error { return nil }

func sortDocuments(docs []*domain.Document) {
	sort.SliceStable(docs, func(i, j int) bool {
		if docs[i].UploadedAt.Equal(docs[j].UploadedAt) {
			return docs[i].DocumentName < docs[j].DocumentName
		}
		return docs[i].UploadedAt.Before(docs[j].UploadedAt)
	})
}
