package processors

import (
	"context"

	"github.com/google/uuid"

	"rag-ingest/chunking"
	"rag-ingest/internal/core/ports"
	"rag-ingest/pkg/logger"
	"rag-ingest/pkg/metrics"
	"rag-ingest/textextractor"
)

// DocumentProcessor implements the Extractor port over the extractor
// registry and reports extraction statistics.
type DocumentProcessor struct {
	registry *textextractor.Registry
	metrics  *metrics.Metrics
	logger   *logger.Logger
}

// NewDocumentProcessor creates a new document processor
func NewDocumentProcessor(registry *textextractor.Registry, m *metrics.Metrics, log *logger.Logger) ports.Extractor {
	return &DocumentProcessor{
		registry: registry,
		metrics:  m,
		logger:   log,
	}
}

// Extract loads the file and returns its text blocks and images
func (p *DocumentProcessor) Extract(ctx context.Context, path string, sessionID, documentID uuid.UUID) (chunking.DocumentContent, error) {
	result, err := p.registry.Run(ctx, path, sessionID, documentID)
	if err != nil {
		return chunking.DocumentContent{}, err
	}

	if p.metrics != nil {
		p.metrics.RecordStage("extract", result.Duration)
	}
	if p.logger != nil {
		p.logger.FromContext(ctx).Debug().
			Str("path", path).
			Str("mime_type", result.Document.MimeType).
			Int("pages", result.PageCount).
			Int("words", result.WordCount).
			Int("images", len(result.Content.Images)).
			Dur("duration", result.Duration).
			Msg("Document extracted")
	}
	return result.Content, nil
}
