package chunking

import (
	"context"
)

// Splitter turns one page of text into an ordered list of pieces.
// Empty or whitespace-only input yields no pieces.
type Splitter interface {
	Split(ctx context.Context, text string) ([]string, error)
}

// Embedder is the embedding capability the semantic strategy needs. It has
// the same shape as langchaingo's embeddings.Embedder.
type Embedder interface {
	EmbedDocuments(ctx context.Context, texts []string) ([][]float32, error)
}

// NewSplitter builds the splitter for a resolved strategy. The embedder is
// only consulted by the semantic strategy.
func NewSplitter(strategy Strategy, embedder Embedder) (Splitter, error) {
	switch s := strategy.(type) {
	case Recursive:
		return newRecursiveSplitter(s), nil
	case Semantic:
		if embedder == nil {
			return nil, invalidConfiguration("semantic chunking requires an embedding backend")
		}
		return newSemanticSplitter(s, embedder), nil
	case nil:
		return nil, invalidConfiguration("no chunking strategy selected")
	default:
		return nil, invalidConfiguration("unsupported chunking strategy %T", strategy)
	}
}
