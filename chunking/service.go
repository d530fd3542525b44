package chunking

import (
	"context"
	"sort"
	"strings"

	"github.com/google/uuid"
)

// DocumentChunker is the chunking capability consumed by the ingestion pipeline.
type DocumentChunker interface {
	Chunk(ctx context.Context, content DocumentContent, sessionID, documentID uuid.UUID, opts Options) ([]ChunkMetadata, error)
}

// Chunker assembles page-scoped chunks. It holds no per-call state and is
// safe for concurrent use.
type Chunker struct {
	embedder Embedder
}

// NewChunker creates a chunker. embedder may be nil when only the recursive
// strategy is used.
func NewChunker(embedder Embedder) *Chunker {
	return &Chunker{embedder: embedder}
}

// Chunk splits content page by page and returns chunks ordered by page,
// then by chunk index. Options are validated before any work is done, and
// a splitter failure aborts the whole call.
func (c *Chunker) Chunk(ctx context.Context, content DocumentContent, sessionID, documentID uuid.UUID, opts Options) ([]ChunkMetadata, error) {
	strategy, model, err := opts.Resolve()
	if err != nil {
		return nil, err
	}
	splitter, err := NewSplitter(strategy, c.embedder)
	if err != nil {
		return nil, err
	}

	blocksByPage := make(map[int][]TextBlock)
	for _, block := range content.TextBlocks {
		if block.Page <= 0 {
			continue
		}
		blocksByPage[block.Page] = append(blocksByPage[block.Page], block)
	}
	imagesByPage := IndexImagesByPage(content.Images)

	pages := make([]int, 0, len(blocksByPage))
	for page := range blocksByPage {
		pages = append(pages, page)
	}
	sort.Ints(pages)

	chunks := make([]ChunkMetadata, 0)
	for _, page := range pages {
		pageText := buildPageText(blocksByPage[page])
		if pageText == "" {
			continue
		}

		pieces, err := splitter.Split(ctx, pageText)
		if err != nil {
			return nil, err
		}

		refs := imagesByPage[page]
		if refs == nil {
			refs = []ImageRef{}
		}

		index := 0
		for _, piece := range pieces {
			text := Normalize(piece)
			if text == "" {
				continue
			}
			chunks = append(chunks, ChunkMetadata{
				ChunkID:        MakeChunkID(sessionID, documentID, page, index),
				SessionID:      sessionID,
				DocumentID:     documentID,
				Page:           page,
				ChunkIndex:     index,
				Text:           text,
				ImageRefs:      copyRefs(refs),
				EmbeddingModel: model,
			})
			index++
		}
	}

	return chunks, nil
}

// buildPageText joins a page's blocks with blank lines, inserting a
// "## section" line whenever the section label changes.
func buildPageText(blocks []TextBlock) string {
	parts := make([]string, 0, len(blocks)*2)
	lastSection := ""
	for _, block := range blocks {
		text := Normalize(block.Text)
		if text == "" {
			continue
		}
		if section := Normalize(block.Section); section != "" && section != lastSection {
			parts = append(parts, "## "+section)
			lastSection = section
		}
		parts = append(parts, text)
	}
	return strings.TrimSpace(strings.Join(parts, "\n\n"))
}
