package textextractor

import (
	"archive/zip"
	"context"
	"encoding/xml"
	"fmt"
	"io"
	"strings"

	"rag-ingest/chunking"
)

const docxBodyPart = "word/document.xml"

// DOCXExtractor reads paragraphs from word/document.xml. DOCX has no
// pages, so each heading starts a new page-equivalent.
type DOCXExtractor struct{}

// NewDOCXExtractor creates a DOCX extractor
func NewDOCXExtractor() *DOCXExtractor {
	return &DOCXExtractor{}
}

type docxParagraph struct {
	style string
	text  string
}

// Extract groups paragraphs under their preceding heading
func (e *DOCXExtractor) Extract(ctx context.Context, path string) ([]chunking.TextBlock, error) {
	archive, err := zip.OpenReader(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open DOCX archive: %w", err)
	}
	defer archive.Close()

	var part *zip.File
	for _, f := range archive.File {
		if f.Name == docxBodyPart {
			part = f
			break
		}
	}
	if part == nil {
		return nil, fmt.Errorf("DOCX archive has no %s", docxBodyPart)
	}

	rc, err := part.Open()
	if err != nil {
		return nil, fmt.Errorf("failed to open %s: %w", docxBodyPart, err)
	}
	defer rc.Close()

	paragraphs, err := readParagraphs(ctx, rc)
	if err != nil {
		return nil, err
	}
	return groupParagraphs(paragraphs), nil
}

func groupParagraphs(paragraphs []docxParagraph) []chunking.TextBlock {
	var (
		blocks  []chunking.TextBlock
		current []string
		section string
		page    = 1
	)
	flush := func() {
		if len(current) == 0 {
			return
		}
		blocks = append(blocks, chunking.TextBlock{
			Text:    strings.Join(current, "\n"),
			Page:    page,
			Section: section,
		})
		current = nil
		page++
	}

	for _, p := range paragraphs {
		text := strings.TrimSpace(p.text)
		if text == "" {
			continue
		}
		if strings.Contains(strings.ToLower(p.style), "heading") {
			flush()
			section = text
			continue
		}
		current = append(current, text)
	}
	flush()
	return blocks
}

// readParagraphs streams w:p elements, collecting w:t runs, tabs and
// breaks along with the paragraph style id.
func readParagraphs(ctx context.Context, r io.Reader) ([]docxParagraph, error) {
	decoder := xml.NewDecoder(r)

	var (
		paragraphs []docxParagraph
		current    *docxParagraph
		text       strings.Builder
		inText     bool
	)
	for {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		token, err := decoder.Token()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("failed to parse %s: %w", docxBodyPart, err)
		}

		switch t := token.(type) {
		case xml.StartElement:
			switch t.Name.Local {
			case "p":
				current = &docxParagraph{}
				text.Reset()
			case "pStyle":
				if current != nil {
					current.style = attr(t, "val")
				}
			case "t":
				inText = true
			case "tab":
				text.WriteByte('\t')
			case "br", "cr":
				text.WriteByte('\n')
			}
		case xml.EndElement:
			switch t.Name.Local {
			case "t":
				inText = false
			case "p":
				if current != nil {
					current.text = text.String()
					paragraphs = append(paragraphs, *current)
					current = nil
				}
			}
		case xml.CharData:
			if inText && current != nil {
				text.Write(t)
			}
		}
	}
	return paragraphs, nil
}

func attr(el xml.StartElement, local string) string {
	for _, a := range el.Attr {
		if a.Name.Local == local {
			return a.Value
		}
	}
	return ""
}
