package embedding

import (
	"context"
	"fmt"

	"github.com/philippgille/chromem-go"
)

// OllamaClient calls Ollama's embeddings endpoint through chromem-go,
// one request per text.
type OllamaClient struct {
	embed chromem.EmbeddingFunc
}

// NewOllamaClient creates a client. baseURL includes the /api suffix.
func NewOllamaClient(model, baseURL string) *OllamaClient {
	return &OllamaClient{embed: chromem.NewEmbeddingFuncOllama(model, baseURL)}
}

// CreateEmbedding implements langchaingo's embeddings.EmbedderClient
func (c *OllamaClient) CreateEmbedding(ctx context.Context, texts []string) ([][]float32, error) {
	vectors := make([][]float32, 0, len(texts))
	for i, text := range texts {
		vector, err := c.embed(ctx, text)
		if err != nil {
			return nil, fmt.Errorf("ollama embedding %d/%d: %w", i+1, len(texts), err)
		}
		vectors = append(vectors, vector)
	}
	return vectors, nil
}
