package vectorstore

import (
	"context"
	"fmt"
	"strings"

	"github.com/go-openapi/strfmt"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/weaviate/weaviate-go-client/v4/weaviate"
	"github.com/weaviate/weaviate-go-client/v4/weaviate/auth"
	"github.com/weaviate/weaviate-go-client/v4/weaviate/filters"
	"github.com/weaviate/weaviate-go-client/v4/weaviate/graphql"
	"github.com/weaviate/weaviate/entities/models"

	"rag-ingest/chunking"
	"rag-ingest/internal/core/domain"
)

const weaviateBatchSize = 200

// chunkNamespace derives stable object ids from chunk ids
var chunkNamespace = uuid.MustParse("5c0c9f1e-7a56-4e0b-9a3f-6f1d2b7e8c41")

// WeaviateStore keeps vectors in a Weaviate class with a cosine HNSW index.
// Vectors are supplied by the pipeline; the class has no vectorizer.
type WeaviateStore struct {
	client    *weaviate.Client
	className string
	logger    zerolog.Logger
}

// NewWeaviateStore connects and creates the class when missing
func NewWeaviateStore(ctx context.Context, config *Config, logger zerolog.Logger) (*WeaviateStore, error) {
	scheme := config.WeaviateScheme
	if scheme == "" {
		scheme = "http"
	}
	host := config.WeaviateHost
	for _, prefix := range []string{"https://", "http://"} {
		if strings.HasPrefix(host, prefix) {
			scheme = strings.TrimSuffix(prefix, "://")
			host = strings.TrimPrefix(host, prefix)
		}
	}

	cfg := weaviate.Config{Host: host, Scheme: scheme}
	if config.WeaviateAPIKey != "" {
		cfg.AuthConfig = auth.ApiKey{Value: config.WeaviateAPIKey}
	}
	client, err := weaviate.NewClient(cfg)
	if err != nil {
		return nil, storeError(err, "create weaviate client", BackendWeaviate)
	}

	className := config.WeaviateClass
	if className == "" {
		className = DefaultConfig().WeaviateClass
	}
	s := &WeaviateStore{
		client:    client,
		className: className,
		logger:    logger.With().Str("component", "vectorstore").Str("backend", BackendWeaviate).Logger(),
	}
	if err := s.ensureClass(ctx); err != nil {
		return nil, err
	}
	return s, nil
}

func chunkClass(name string) *models.Class {
	text := func(n string) *models.Property { return &models.Property{Name: n, DataType: []string{"text"}} }
	integer := func(n string) *models.Property { return &models.Property{Name: n, DataType: []string{"int"}} }
	// ids are matched with Equal filters and must not be split into words
	id := func(n string) *models.Property {
		return &models.Property{Name: n, DataType: []string{"text"}, Tokenization: models.PropertyTokenizationField}
	}
	return &models.Class{
		Class:      name,
		Vectorizer: "none",
		Properties: []*models.Property{
			id(keyChunkID),
			id(keySessionID),
			id(keyDocumentID),
			integer(keyPage),
			integer(keyChunkIndex),
			text(keyText),
			text(keyImageRefs),
			text(keyEmbeddingModel),
		},
		VectorIndexType:   "hnsw",
		VectorIndexConfig: map[string]interface{}{"distance": "cosine"},
	}
}

func (s *WeaviateStore) ensureClass(ctx context.Context) error {
	schema, err := s.client.Schema().Getter().Do(ctx)
	if err != nil {
		return storeError(err, "get schema", BackendWeaviate)
	}
	for _, class := range schema.Classes {
		if class.Class == s.className {
			return nil
		}
	}
	if err := s.client.Schema().ClassCreator().WithClass(chunkClass(s.className)).Do(ctx); err != nil {
		return storeError(err, "create class", BackendWeaviate)
	}
	s.logger.Info().Str("class", s.className).Msg("Weaviate class created")
	return nil
}

// Name returns the backend name
func (s *WeaviateStore) Name() string { return BackendWeaviate }

// ObjectID maps a chunk id to its Weaviate object id
func ObjectID(chunkID string) strfmt.UUID {
	return strfmt.UUID(uuid.NewSHA1(chunkNamespace, []byte(chunkID)).String())
}

// Upsert writes chunks in batches. Object ids derive from chunk ids, so
// re-ingesting a document replaces its objects.
func (s *WeaviateStore) Upsert(ctx context.Context, chunks []chunking.ChunkMetadata, vectors [][]float32) error {
	if err := checkLengths(chunks, vectors); err != nil {
		return err
	}

	for start := 0; start < len(chunks); start += weaviateBatchSize {
		end := min(start+weaviateBatchSize, len(chunks))

		batcher := s.client.Batch().ObjectsBatcher()
		for i := start; i < end; i++ {
			c := chunks[i]
			refs, err := encodeImageRefs(c.ImageRefs)
			if err != nil {
				return err
			}
			batcher = batcher.WithObjects(&models.Object{
				Class: s.className,
				ID:    ObjectID(c.ChunkID),
				Properties: map[string]interface{}{
					keyChunkID:        c.ChunkID,
					keySessionID:      c.SessionID.String(),
					keyDocumentID:     c.DocumentID.String(),
					keyPage:           c.Page,
					keyChunkIndex:     c.ChunkIndex,
					keyText:           c.Text,
					keyImageRefs:      refs,
					keyEmbeddingModel: c.EmbeddingModel,
				},
				Vector: vectors[i],
			})
		}

		responses, err := batcher.Do(ctx)
		if err != nil {
			return storeError(err, "batch upsert", BackendWeaviate)
		}
		for _, r := range responses {
			if r.Result != nil && r.Result.Errors != nil && len(r.Result.Errors.Error) > 0 {
				return storeError(fmt.Errorf("%s", r.Result.Errors.Error[0].Message), "batch upsert", BackendWeaviate)
			}
		}
		s.logger.Debug().Int("from", start).Int("to", end).Msg("Chunk batch upserted")
	}
	return nil
}

func sessionFilter(sessionID uuid.UUID) *filters.WhereBuilder {
	return filters.Where().
		WithPath([]string{keySessionID}).
		WithOperator(filters.Equal).
		WithValueText(sessionID.String())
}

// Search returns the nearest chunks of one session, best first
func (s *WeaviateStore) Search(ctx context.Context, sessionID uuid.UUID, vector []float32, limit int) ([]domain.SearchResult, error) {
	if limit <= 0 {
		return []domain.SearchResult{}, nil
	}

	fields := []graphql.Field{
		{Name: keyChunkID},
		{Name: keySessionID},
		{Name: keyDocumentID},
		{Name: keyPage},
		{Name: keyChunkIndex},
		{Name: keyText},
		{Name: keyImageRefs},
		{Name: keyEmbeddingModel},
		{Name: "_additional", Fields: []graphql.Field{{Name: "distance"}}},
	}
	nearVector := s.client.GraphQL().NearVectorArgBuilder().WithVector(vector)

	result, err := s.client.GraphQL().Get().
		WithClassName(s.className).
		WithFields(fields...).
		WithNearVector(nearVector).
		WithWhere(sessionFilter(sessionID)).
		WithLimit(limit).
		Do(ctx)
	if err != nil {
		return nil, storeError(err, "search", BackendWeaviate)
	}
	if len(result.Errors) > 0 {
		return nil, storeError(fmt.Errorf("%s", result.Errors[0].Message), "search", BackendWeaviate)
	}

	get, _ := result.Data["Get"].(map[string]interface{})
	items, _ := get[s.className].([]interface{})
	out := make([]domain.SearchResult, 0, len(items))
	for _, item := range items {
		obj, ok := item.(map[string]interface{})
		if !ok {
			continue
		}
		out = append(out, parseWeaviateObject(obj))
	}
	return out, nil
}

func parseWeaviateObject(obj map[string]interface{}) domain.SearchResult {
	str := func(k string) string { v, _ := obj[k].(string); return v }
	num := func(k string) int { v, _ := obj[k].(float64); return int(v) }

	sessionID, _ := uuid.Parse(str(keySessionID))
	documentID, _ := uuid.Parse(str(keyDocumentID))
	result := domain.SearchResult{
		Chunk: chunking.ChunkMetadata{
			ChunkID:        str(keyChunkID),
			SessionID:      sessionID,
			DocumentID:     documentID,
			Page:           num(keyPage),
			ChunkIndex:     num(keyChunkIndex),
			Text:           str(keyText),
			ImageRefs:      decodeImageRefs(str(keyImageRefs)),
			EmbeddingModel: str(keyEmbeddingModel),
		},
	}
	if additional, ok := obj["_additional"].(map[string]interface{}); ok {
		if distance, ok := additional["distance"].(float64); ok {
			result.Score = float32(1 - distance)
		}
	}
	return result
}

func (s *WeaviateStore) deleteWhere(ctx context.Context, where *filters.WhereBuilder, op string) error {
	_, err := s.client.Batch().ObjectsBatchDeleter().
		WithClassName(s.className).
		WithWhere(where).
		WithOutput("minimal").
		Do(ctx)
	if err != nil {
		return storeError(err, op, BackendWeaviate)
	}
	return nil
}

// DeleteSession removes every chunk of a session
func (s *WeaviateStore) DeleteSession(ctx context.Context, sessionID uuid.UUID) error {
	return s.deleteWhere(ctx, sessionFilter(sessionID), "delete session")
}

// DeleteDocument removes the chunks of one document
func (s *WeaviateStore) DeleteDocument(ctx context.Context, sessionID, documentID uuid.UUID) error {
	where := filters.Where().
		WithOperator(filters.And).
		WithOperands([]*filters.WhereBuilder{
			sessionFilter(sessionID),
			filters.Where().
				WithPath([]string{keyDocumentID}).
				WithOperator(filters.Equal).
				WithValueText(documentID.String()),
		})
	return s.deleteWhere(ctx, where, "delete document")
}

// Ping checks that Weaviate reports ready
func (s *WeaviateStore) Ping(ctx context.Context) error {
	ready, err := s.client.Misc().ReadyChecker().Do(ctx)
	if err != nil {
		return storeError(err, "ping", BackendWeaviate)
	}
	if !ready {
		return storeError(fmt.Errorf("weaviate is not ready"), "ping", BackendWeaviate)
	}
	return nil
}
