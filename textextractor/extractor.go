package textextractor

import (
	"context"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"rag-ingest/chunking"
	apperrors "rag-ingest/pkg/errors"
)

// Extractor turns one file into page-tagged text blocks
type Extractor interface {
	Extract(ctx context.Context, path string) ([]chunking.TextBlock, error)
}

// ImageExtractor writes a document's images under the session directory
type ImageExtractor interface {
	ExtractImages(ctx context.Context, path string, sessionID, documentID uuid.UUID) ([]chunking.ImageAsset, error)
}

// ExtractionResult is the extracted content plus statistics
type ExtractionResult struct {
	Document    *Document                `json:"document"`
	Content     chunking.DocumentContent `json:"content"`
	PageCount   int                      `json:"page_count"`
	WordCount   int                      `json:"word_count"`
	CharCount   int                      `json:"char_count"`
	ExtractedAt time.Time                `json:"extracted_at"`
	Duration    time.Duration            `json:"duration"`
}

// Registry selects an extractor by file extension
type Registry struct {
	loader     *Loader
	extractors map[string]Extractor
	images     map[string]ImageExtractor
	logger     zerolog.Logger
}

// NewRegistry creates a registry with the built-in extractors. Images
// are written below tempRoot.
func NewRegistry(loader *Loader, tempRoot string, logger zerolog.Logger) *Registry {
	if loader == nil {
		loader = NewLoader(nil)
	}
	logger = logger.With().Str("component", "textextractor").Logger()

	html := NewHTMLExtractor()
	r := &Registry{
		loader:     loader,
		extractors: make(map[string]Extractor),
		images:     make(map[string]ImageExtractor),
		logger:     logger,
	}
	r.Register(".pdf", NewPDFExtractor(logger))
	r.Register(".docx", NewDOCXExtractor())
	r.Register(".txt", NewTextExtractor())
	r.Register(".md", NewMarkdownExtractor())
	r.Register(".html", html)
	r.Register(".htm", html)
	r.RegisterImages(".pdf", NewPDFImageExtractor(tempRoot, logger))
	return r
}

// Register sets the extractor for an extension
func (r *Registry) Register(ext string, e Extractor) {
	r.extractors[strings.ToLower(ext)] = e
}

// RegisterImages sets the image extractor for an extension
func (r *Registry) RegisterImages(ext string, e ImageExtractor) {
	r.images[strings.ToLower(ext)] = e
}

// Supports reports whether ext has a registered extractor
func (r *Registry) Supports(ext string) bool {
	_, ok := r.extractors[strings.ToLower(ext)]
	return ok
}

// Loader returns the loader used to validate files
func (r *Registry) Loader() *Loader {
	return r.loader
}

// Extract loads path and returns its text blocks and images
func (r *Registry) Extract(ctx context.Context, path string, sessionID, documentID uuid.UUID) (chunking.DocumentContent, error) {
	result, err := r.Run(ctx, path, sessionID, documentID)
	if err != nil {
		return chunking.DocumentContent{}, err
	}
	return result.Content, nil
}

// Run is Extract with statistics. Image failures are logged and do not
// fail the document.
func (r *Registry) Run(ctx context.Context, path string, sessionID, documentID uuid.UUID) (*ExtractionResult, error) {
	startTime := time.Now()

	doc, err := r.loader.Load(path)
	if err != nil {
		return nil, err
	}

	extractor, ok := r.extractors[doc.Extension]
	if !ok {
		return nil, apperrors.NewUnsupportedFileTypeError(doc.Extension)
	}

	blocks, err := extractor.Extract(ctx, doc.Path)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, apperrors.Wrap(err, apperrors.ProcessingError, apperrors.CodeExtractionFailed, "text extraction failed").
			WithContext("document_id", documentID.String()).
			WithContext("extension", doc.Extension)
	}
	if blocks == nil {
		blocks = []chunking.TextBlock{}
	}

	images := []chunking.ImageAsset{}
	if imageExtractor, ok := r.images[doc.Extension]; ok {
		extracted, err := imageExtractor.ExtractImages(ctx, doc.Path, sessionID, documentID)
		switch {
		case err != nil && ctx.Err() != nil:
			return nil, ctx.Err()
		case err != nil:
			r.logger.Warn().Err(err).
				Str("session_id", sessionID.String()).
				Str("document_id", documentID.String()).
				Msg("Image extraction failed")
		default:
			images = extracted
		}
	}

	result := &ExtractionResult{
		Document:    doc,
		Content:     chunking.DocumentContent{TextBlocks: blocks, Images: images},
		ExtractedAt: time.Now(),
		Duration:    time.Since(startTime),
	}
	pages := make(map[int]struct{})
	for _, block := range blocks {
		pages[block.Page] = struct{}{}
		result.WordCount += countWords(block.Text)
		result.CharCount += len([]rune(block.Text))
	}
	result.PageCount = len(pages)

	r.logger.Debug().
		Str("document", doc.Name).
		Int("blocks", len(blocks)).
		Int("images", len(images)).
		Dur("duration", result.Duration).
		Msg("Document extracted")
	return result, nil
}
