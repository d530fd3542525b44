package vectorstore

import (
	"context"
	"errors"
	"runtime"
	"strconv"

	"github.com/google/uuid"
	"github.com/philippgille/chromem-go"
	"github.com/rs/zerolog"

	"rag-ingest/chunking"
	"rag-ingest/internal/core/domain"
)

var errNoEmbeddingFunc = errors.New("vectors are computed by the ingestion pipeline")

// ChromemStore keeps vectors in an embedded chromem-go collection,
// persisted to disk when a path is configured. chromem metadata is
// string valued; image refs are stored as JSON.
type ChromemStore struct {
	db         *chromem.DB
	collection *chromem.Collection
	logger     zerolog.Logger
}

// NewChromemStore opens or creates the collection
func NewChromemStore(config *Config, logger zerolog.Logger) (*ChromemStore, error) {
	var (
		db  *chromem.DB
		err error
	)
	if config.PersistPath == "" {
		db = chromem.NewDB()
	} else {
		db, err = chromem.NewPersistentDB(config.PersistPath, config.Compress)
		if err != nil {
			return nil, storeError(err, "open chromem database", BackendChromem)
		}
	}

	name := config.Collection
	if name == "" {
		name = DefaultConfig().Collection
	}
	collection, err := db.GetOrCreateCollection(name, map[string]string{"distance": "cosine"},
		func(context.Context, string) ([]float32, error) { return nil, errNoEmbeddingFunc })
	if err != nil {
		return nil, storeError(err, "open chromem collection", BackendChromem)
	}

	logger = logger.With().Str("component", "vectorstore").Str("backend", BackendChromem).Logger()
	logger.Info().
		Str("collection", name).
		Str("path", config.PersistPath).
		Int("documents", collection.Count()).
		Msg("Vector store opened")

	return &ChromemStore{db: db, collection: collection, logger: logger}, nil
}

// Name returns the backend name
func (s *ChromemStore) Name() string { return BackendChromem }

// Upsert adds or replaces chunks keyed by chunk id
func (s *ChromemStore) Upsert(ctx context.Context, chunks []chunking.ChunkMetadata, vectors [][]float32) error {
	if err := checkLengths(chunks, vectors); err != nil {
		return err
	}
	if len(chunks) == 0 {
		return nil
	}

	docs := make([]chromem.Document, len(chunks))
	for i, c := range chunks {
		refs, err := encodeImageRefs(c.ImageRefs)
		if err != nil {
			return err
		}
		docs[i] = chromem.Document{
			ID:        c.ChunkID,
			Content:   c.Text,
			Embedding: vectors[i],
			Metadata: map[string]string{
				keyChunkID:        c.ChunkID,
				keySessionID:      c.SessionID.String(),
				keyDocumentID:     c.DocumentID.String(),
				keyPage:           strconv.Itoa(c.Page),
				keyChunkIndex:     strconv.Itoa(c.ChunkIndex),
				keyImageRefs:      refs,
				keyEmbeddingModel: c.EmbeddingModel,
			},
		}
	}

	if err := s.collection.AddDocuments(ctx, docs, runtime.NumCPU()); err != nil {
		return storeError(err, "upsert", BackendChromem)
	}
	s.logger.Debug().Int("chunks", len(docs)).Msg("Chunks upserted")
	return nil
}

// Search returns the nearest chunks of one session, best first
func (s *ChromemStore) Search(ctx context.Context, sessionID uuid.UUID, vector []float32, limit int) ([]domain.SearchResult, error) {
	if limit <= 0 {
		return []domain.SearchResult{}, nil
	}
	if count := s.collection.Count(); limit > count {
		limit = count
	}
	if limit == 0 {
		return []domain.SearchResult{}, nil
	}

	results, err := s.collection.QueryEmbedding(ctx, vector, limit,
		map[string]string{keySessionID: sessionID.String()}, nil)
	if err != nil {
		return nil, storeError(err, "search", BackendChromem)
	}

	out := make([]domain.SearchResult, 0, len(results))
	for _, r := range results {
		out = append(out, domain.SearchResult{Chunk: chunkFromMetadata(r.Content, r.Metadata), Score: r.Similarity})
	}
	return out, nil
}

// DeleteSession removes every chunk of a session
func (s *ChromemStore) DeleteSession(ctx context.Context, sessionID uuid.UUID) error {
	if err := s.collection.Delete(ctx, map[string]string{keySessionID: sessionID.String()}, nil); err != nil {
		return storeError(err, "delete session", BackendChromem)
	}
	return nil
}

// DeleteDocument removes the chunks of one document
func (s *ChromemStore) DeleteDocument(ctx context.Context, sessionID, documentID uuid.UUID) error {
	where := map[string]string{
		keySessionID:  sessionID.String(),
		keyDocumentID: documentID.String(),
	}
	if err := s.collection.Delete(ctx, where, nil); err != nil {
		return storeError(err, "delete document", BackendChromem)
	}
	return nil
}

// Ping always succeeds for the embedded store
func (s *ChromemStore) Ping(context.Context) error { return nil }

// Count returns the number of stored chunks
func (s *ChromemStore) Count() int { return s.collection.Count() }

func chunkFromMetadata(text string, md map[string]string) chunking.ChunkMetadata {
	page, _ := strconv.Atoi(md[keyPage])
	index, _ := strconv.Atoi(md[keyChunkIndex])
	sessionID, _ := uuid.Parse(md[keySessionID])
	documentID, _ := uuid.Parse(md[keyDocumentID])
	return chunking.ChunkMetadata{
		ChunkID:        md[keyChunkID],
		SessionID:      sessionID,
		DocumentID:     documentID,
		Page:           page,
		ChunkIndex:     index,
		Text:           text,
		ImageRefs:      decodeImageRefs(md[keyImageRefs]),
		EmbeddingModel: md[keyEmbeddingModel],
	}
}
