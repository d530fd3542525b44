package textextractor

import (
	"context"
	"fmt"
	"os"
	"regexp"
	"strings"
	"unicode"

	"github.com/ledongthuc/pdf"
	"github.com/rs/zerolog"

	"rag-ingest/chunking"
)

var (
	numberedHeading = regexp.MustCompile(`^\d+[.)]\s+`)
	titleCaseLine   = regexp.MustCompile(`^[A-Z][a-z]+(\s+[A-Z][a-z]+)*$`)
)

const maxHeadingLength = 100

// PDFExtractor extracts one text block per page
type PDFExtractor struct {
	logger zerolog.Logger
}

// NewPDFExtractor creates a PDF text extractor
func NewPDFExtractor(logger zerolog.Logger) *PDFExtractor {
	return &PDFExtractor{logger: logger.With().Str("extractor", "pdf").Logger()}
}

// Extract reads every page. Leading heading lines on a page become the
// block's section; a page made only of headings keeps its raw text.
func (e *PDFExtractor) Extract(ctx context.Context, path string) ([]chunking.TextBlock, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open PDF: %w", err)
	}
	defer file.Close()

	info, err := file.Stat()
	if err != nil {
		return nil, fmt.Errorf("failed to stat PDF: %w", err)
	}

	reader, err := pdf.NewReader(file, info.Size())
	if err != nil {
		return nil, fmt.Errorf("failed to create PDF reader: %w", err)
	}

	var blocks []chunking.TextBlock
	for pageNum := 1; pageNum <= reader.NumPage(); pageNum++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		page := reader.Page(pageNum)
		if page.V.IsNull() {
			continue
		}

		text, err := pageText(page)
		if err != nil {
			e.logger.Warn().Err(err).Int("page", pageNum).Str("path", path).Msg("Skipping unreadable PDF page")
			continue
		}
		text = cleanExtractedText(text)
		if text == "" {
			continue
		}

		blocks = append(blocks, splitPageText(text, pageNum))
	}

	return blocks, nil
}

// pageText returns the page text row by row. The PDF library panics on
// some malformed content streams, which is reported as an error.
func pageText(page pdf.Page) (text string, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("malformed page content: %v", r)
		}
	}()

	rows, err := page.GetTextByRow()
	if err != nil || len(rows) == 0 {
		return page.GetPlainText(nil)
	}

	lines := make([]string, 0, len(rows))
	for _, row := range rows {
		var line strings.Builder
		for _, word := range row.Content {
			line.WriteString(word.S)
		}
		lines = append(lines, line.String())
	}
	return strings.Join(lines, "\n"), nil
}

func splitPageText(text string, pageNum int) chunking.TextBlock {
	var (
		section string
		body    []string
	)
	for _, line := range strings.Split(text, "\n") {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		if len(body) == 0 && isHeading(line) {
			section = line
			continue
		}
		body = append(body, line)
	}

	if len(body) == 0 {
		return chunking.TextBlock{Text: text, Page: pageNum}
	}
	return chunking.TextBlock{Text: strings.Join(body, "\n"), Page: pageNum, Section: section}
}

func isHeading(line string) bool {
	if len(line) >= maxHeadingLength {
		return false
	}
	return isUpper(line) || numberedHeading.MatchString(line) || titleCaseLine.MatchString(line)
}

// isUpper reports whether line has at least one cased letter and no
// lowercase ones.
func isUpper(line string) bool {
	cased := false
	for _, r := range line {
		if unicode.IsLower(r) {
			return false
		}
		if unicode.IsUpper(r) || unicode.IsTitle(r) {
			cased = true
		}
	}
	return cased
}
