package chunking

import (
	"github.com/google/uuid"
)

// TextBlock is one unit of extracted text tied to a single page.
type TextBlock struct {
	Text    string `json:"text"`
	Page    int    `json:"page"`
	Section string `json:"section,omitempty"`
}

// ImageAsset describes an image extracted from a document page.
type ImageAsset struct {
	ImageID    string    `json:"image_id"`
	SessionID  uuid.UUID `json:"session_id"`
	DocumentID uuid.UUID `json:"document_id"`
	Page       int       `json:"page"`
	ImagePath  string    `json:"image_path"`
	Format     string    `json:"format,omitempty"`
}

// DocumentContent is everything extraction produced for one document.
type DocumentContent struct {
	TextBlocks []TextBlock  `json:"text_blocks"`
	Images     []ImageAsset `json:"images"`
}

// ImageRef is the self-contained copy of an image record stored with a chunk.
type ImageRef struct {
	ImageID    string `json:"image_id"`
	SessionID  string `json:"session_id"`
	DocumentID string `json:"document_id"`
	Page       int    `json:"page"`
	ImagePath  string `json:"image_path"`
}

// ChunkMetadata is a page-scoped chunk ready for embedding and storage.
type ChunkMetadata struct {
	ChunkID        string     `json:"chunk_id"`
	SessionID      uuid.UUID  `json:"session_id"`
	DocumentID     uuid.UUID  `json:"document_id"`
	Page           int        `json:"page"`
	ChunkIndex     int        `json:"chunk_index"`
	Text           string     `json:"text"`
	ImageRefs      []ImageRef `json:"image_refs"`
	EmbeddingModel string     `json:"embedding_model"`
}

// Texts returns the chunk texts in order, the input shape of an embedder.
func Texts(chunks []ChunkMetadata) []string {
	texts := make([]string, len(chunks))
	for i, c := range chunks {
		texts[i] = c.Text
	}
	return texts
}
