package textextractor

import (
	"context"
	"fmt"
	"os"
	"strings"

	md "github.com/JohannesKaufmann/html-to-markdown"
	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/ast"
	"github.com/yuin/goldmark/text"

	"rag-ingest/chunking"
)

// TextExtractor treats each blank-line separated paragraph as a page
type TextExtractor struct{}

// NewTextExtractor creates a plain text extractor
func NewTextExtractor() *TextExtractor {
	return &TextExtractor{}
}

// Extract reads a UTF-8 text file
func (e *TextExtractor) Extract(_ context.Context, path string) ([]chunking.TextBlock, error) {
	content, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read text file: %w", err)
	}
	return paragraphBlocks(string(content)), nil
}

func paragraphBlocks(content string) []chunking.TextBlock {
	cleaned := cleanExtractedText(content)
	if cleaned == "" {
		return nil
	}

	var blocks []chunking.TextBlock
	for i, paragraph := range strings.Split(cleaned, "\n\n") {
		paragraph = strings.TrimSpace(paragraph)
		if paragraph == "" {
			continue
		}
		blocks = append(blocks, chunking.TextBlock{Text: paragraph, Page: i + 1})
	}
	if len(blocks) == 0 {
		return []chunking.TextBlock{{Text: cleaned, Page: 1}}
	}
	return blocks
}

// MarkdownExtractor walks the goldmark AST. Every heading closes the
// running block and labels the blocks that follow it.
type MarkdownExtractor struct {
	markdown goldmark.Markdown
}

// NewMarkdownExtractor creates a Markdown extractor
func NewMarkdownExtractor() *MarkdownExtractor {
	return &MarkdownExtractor{markdown: goldmark.New()}
}

// Extract reads and parses a Markdown file
func (e *MarkdownExtractor) Extract(_ context.Context, path string) ([]chunking.TextBlock, error) {
	content, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read markdown file: %w", err)
	}
	return e.blocks(content), nil
}

func (e *MarkdownExtractor) blocks(source []byte) []chunking.TextBlock {
	doc := e.markdown.Parser().Parse(text.NewReader(source))

	var (
		blocks  []chunking.TextBlock
		current []string
		section string
		page    = 1
	)
	flush := func() {
		body := cleanExtractedText(strings.Join(current, "\n\n"))
		current = nil
		if body == "" {
			return
		}
		blocks = append(blocks, chunking.TextBlock{Text: body, Page: page, Section: section})
		page++
	}

	for n := doc.FirstChild(); n != nil; n = n.NextSibling() {
		if heading, ok := n.(*ast.Heading); ok {
			flush()
			section = nodeText(heading, source)
			continue
		}
		if t := nodeText(n, source); t != "" {
			current = append(current, t)
		}
	}
	flush()

	if len(blocks) == 0 {
		if whole := cleanExtractedText(string(source)); whole != "" {
			return []chunking.TextBlock{{Text: whole, Page: 1}}
		}
	}
	return blocks
}

// nodeText returns the source lines of a block, or of its block children
// for containers such as lists and quotes.
func nodeText(n ast.Node, source []byte) string {
	if n.Type() != ast.TypeBlock {
		return ""
	}
	if lines := n.Lines(); lines != nil && lines.Len() > 0 {
		parts := make([]string, 0, lines.Len())
		for i := 0; i < lines.Len(); i++ {
			seg := lines.At(i)
			parts = append(parts, strings.TrimRight(string(seg.Value(source)), "\r\n"))
		}
		return strings.TrimSpace(strings.Join(parts, "\n"))
	}

	var parts []string
	for c := n.FirstChild(); c != nil; c = c.NextSibling() {
		if t := nodeText(c, source); t != "" {
			parts = append(parts, t)
		}
	}
	return strings.Join(parts, "\n")
}

// HTMLExtractor converts HTML to Markdown and extracts that
type HTMLExtractor struct {
	converter *md.Converter
	markdown  *MarkdownExtractor
}

// NewHTMLExtractor creates an HTML extractor
func NewHTMLExtractor() *HTMLExtractor {
	converter := md.NewConverter("", true, &md.Options{
		HorizontalRule:     "---",
		BulletListMarker:   "*",
		CodeBlockStyle:     "fenced",
		Fence:              "```",
		EmDelimiter:        "*",
		StrongDelimiter:    "**",
		LinkStyle:          "inlined",
		LinkReferenceStyle: "full",
	})
	converter.Remove("script", "style", "nav", "footer")

	return &HTMLExtractor{
		converter: converter,
		markdown:  NewMarkdownExtractor(),
	}
}

// Extract reads an HTML file
func (e *HTMLExtractor) Extract(_ context.Context, path string) ([]chunking.TextBlock, error) {
	content, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read HTML file: %w", err)
	}
	markdown, err := e.converter.ConvertString(string(content))
	if err != nil {
		return nil, fmt.Errorf("failed to convert HTML to markdown: %w", err)
	}
	return e.markdown.blocks([]byte(markdown)), nil
}
