package textextractor

import (
	"archive/zip"
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"rag-ingest/chunking"
	apperrors "rag-ingest/pkg/errors"
)

func writeFile(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func writeDOCX(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "report.docx")
	f, err := os.Create(path)
	require.NoError(t, err)
	defer f.Close()

	zw := zip.NewWriter(f)
	w, err := zw.Create("[Content_Types].xml")
	require.NoError(t, err)
	_, err = w.Write([]byte(`<?xml version="1.0" encoding="UTF-8"?><Types xmlns="http://schemas.openxmlformats.org/package/2006/content-types"></Types>`))
	require.NoError(t, err)

	w, err = zw.Create("word/document.xml")
	require.NoError(t, err)
	_, err = w.Write([]byte(`<?xml version="1.0" encoding="UTF-8"?>` +
		`<w:document xmlns:w="http://schemas.openxmlformats.org/wordprocessingml/2006/main"><w:body>` +
		body + `</w:body></w:document>`))
	require.NoError(t, err)
	require.NoError(t, zw.Close())
	return path
}

func para(style, text string) string {
	props := ""
	if style != "" {
		props = `<w:pPr><w:pStyle w:val="` + style + `"/></w:pPr>`
	}
	return `<w:p>` + props + `<w:r><w:t>` + text + `</w:t></w:r></w:p>`
}

func TestLoader(t *testing.T) {
	t.Run("accepts text", func(t *testing.T) {
		path := writeFile(t, "notes.txt", "hello world")
		doc, err := NewLoader(nil).Load(path)
		require.NoError(t, err)
		assert.Equal(t, ".txt", doc.Extension)
		assert.Equal(t, "notes.txt", doc.Name)
		assert.Equal(t, int64(11), doc.Size)
		assert.True(t, strings.HasPrefix(doc.MimeType, "text/plain"))
	})

	t.Run("rejects extension", func(t *testing.T) {
		path := writeFile(t, "tool.exe", "MZ")
		_, err := NewLoader(nil).Load(path)
		assert.True(t, apperrors.IsCode(err, apperrors.CodeUnsupportedFileType))
	})

	t.Run("rejects oversized file", func(t *testing.T) {
		config := DefaultLoaderConfig()
		config.MaxFileSize = 4
		path := writeFile(t, "big.md", "# much too long")
		_, err := NewLoader(config).Load(path)
		assert.True(t, apperrors.IsCode(err, apperrors.CodeFileTooLarge))
	})

	t.Run("rejects mismatched content", func(t *testing.T) {
		path := writeFile(t, "fake.pdf", "just text pretending")
		_, err := NewLoader(nil).Load(path)
		assert.True(t, apperrors.IsCode(err, apperrors.CodeUnsupportedFileType))
	})

	t.Run("missing file", func(t *testing.T) {
		_, err := NewLoader(nil).Load(filepath.Join(t.TempDir(), "absent.txt"))
		assert.True(t, apperrors.IsCode(err, apperrors.CodeDocumentNotFound))
	})
}

func TestCleanExtractedText(t *testing.T) {
	in := "  Title \t here  \r\n\r\n\r\n\r\nbody   text\t\n"
	assert.Equal(t, "Title here\n\nbody text", cleanExtractedText(in))
	assert.Equal(t, "", cleanExtractedText(" \n\t "))
}

func TestTextExtractor(t *testing.T) {
	ctx := context.Background()

	t.Run("paragraphs become pages", func(t *testing.T) {
		path := writeFile(t, "a.txt", "First   paragraph.\n\n\n\nSecond\nparagraph.")
		blocks, err := NewTextExtractor().Extract(ctx, path)
		require.NoError(t, err)
		assert.Equal(t, []chunking.TextBlock{
			{Text: "First paragraph.", Page: 1},
			{Text: "Second\nparagraph.", Page: 2},
		}, blocks)
	})

	t.Run("empty file", func(t *testing.T) {
		path := writeFile(t, "empty.txt", "   ")
		blocks, err := NewTextExtractor().Extract(ctx, path)
		require.NoError(t, err)
		assert.Empty(t, blocks)
	})
}

func TestMarkdownExtractor(t *testing.T) {
	source := "Intro text\n\n# Title\n\nBody one.\n\n- item a\n- item b\n\n## Empty\n## Next\n\nMore."
	path := writeFile(t, "doc.md", source)

	blocks, err := NewMarkdownExtractor().Extract(context.Background(), path)
	require.NoError(t, err)
	require.Len(t, blocks, 3)

	assert.Equal(t, chunking.TextBlock{Text: "Intro text", Page: 1}, blocks[0])

	assert.Equal(t, 2, blocks[1].Page)
	assert.Equal(t, "Title", blocks[1].Section)
	assert.True(t, strings.HasPrefix(blocks[1].Text, "Body one."))
	assert.Contains(t, blocks[1].Text, "item a")
	assert.Contains(t, blocks[1].Text, "item b")

	assert.Equal(t, chunking.TextBlock{Text: "More.", Page: 3, Section: "Next"}, blocks[2])
}

func TestHTMLExtractor(t *testing.T) {
	path := writeFile(t, "page.html",
		`<html><body><h1>Guide</h1><p>Hello <b>world</b></p><script>track()</script></body></html>`)

	blocks, err := NewHTMLExtractor().Extract(context.Background(), path)
	require.NoError(t, err)
	require.Len(t, blocks, 1)
	assert.Equal(t, "Guide", blocks[0].Section)
	assert.Contains(t, blocks[0].Text, "Hello **world**")
	assert.NotContains(t, blocks[0].Text, "track()")
}

func TestDOCXExtractor(t *testing.T) {
	path := writeDOCX(t,
		para("", "Intro")+
			para("Heading1", "Chapter")+
			para("", "A")+
			para("", "   ")+
			para("", "B")+
			para("Heading2", "Empty")+
			para("Heading2", "Last")+
			para("", "C"))

	blocks, err := NewDOCXExtractor().Extract(context.Background(), path)
	require.NoError(t, err)
	assert.Equal(t, []chunking.TextBlock{
		{Text: "Intro", Page: 1},
		{Text: "A\nB", Page: 2, Section: "Chapter"},
		{Text: "C", Page: 3, Section: "Last"},
	}, blocks)

	t.Run("not a docx", func(t *testing.T) {
		_, err := NewDOCXExtractor().Extract(context.Background(), writeFile(t, "x.docx", "plain"))
		assert.Error(t, err)
	})
}

func TestPDFPageHeuristics(t *testing.T) {
	t.Run("leading heading becomes section", func(t *testing.T) {
		block := splitPageText("INTRODUCTION\nThis is body text.\nMore Body", 4)
		assert.Equal(t, chunking.TextBlock{
			Text:    "This is body text.\nMore Body",
			Page:    4,
			Section: "INTRODUCTION",
		}, block)
	})

	t.Run("last leading heading wins", func(t *testing.T) {
		block := splitPageText("Annual Report\n2. Results\nrevenue grew", 1)
		assert.Equal(t, "2. Results", block.Section)
		assert.Equal(t, "revenue grew", block.Text)
	})

	t.Run("headings only keeps raw text", func(t *testing.T) {
		block := splitPageText("1. Scope\nSUMMARY", 2)
		assert.Equal(t, chunking.TextBlock{Text: "1. Scope\nSUMMARY", Page: 2}, block)
	})

	tests := []struct {
		line string
		want bool
	}{
		{"EXECUTIVE SUMMARY", true},
		{"3) Methods", true},
		{"Related Work", true},
		{"The results are shown below.", false},
		{"12345", false},
		{strings.Repeat("A", 100), false},
	}
	for _, tt := range tests {
		t.Run("heading "+tt.line[:min(len(tt.line), 20)], func(t *testing.T) {
			assert.Equal(t, tt.want, isHeading(tt.line))
		})
	}
}

func TestScanImageStreams(t *testing.T) {
	data := []byte("%PDF-1.4\n" +
		"1 0 obj\n<< /Type /XObject /Subtype /Image /Width 2 /Height 3 /Filter /DCTDecode /Length 6 >>\nstream\n\xFF\xD8abcd\nendstream\nendobj\n" +
		"2 0 obj\n<< /Length 5 >>\nstream\nhello\nendstream\nendobj\n" +
		"3 0 obj\n<< /Subtype /Image /Width 2 /Height 3 /Filter /FlateDecode /Length 4 >>\nstream\nzzzz\nendstream\nendobj\n" +
		"4 0 obj\n<< /Subtype/Image /Width 8 /Height 8 /Filter [/DCTDecode] /Length 9 0 R >>\nstream\r\n\xFF\xD8xyz\r\nendstream\nendobj\n")

	images := scanImageStreams(data)
	require.Len(t, images, 2)

	assert.Equal(t, int64(2), images[0].width)
	assert.Equal(t, int64(3), images[0].height)
	assert.Equal(t, "DCTDecode", images[0].filter)
	assert.Equal(t, []byte("\xFF\xD8abcd"), images[0].data)

	assert.Equal(t, int64(8), images[1].width)
	assert.Equal(t, []byte("\xFF\xD8xyz"), images[1].data)

	t.Run("placements reuse streams once exhausted", func(t *testing.T) {
		placement := rawImage{width: 2, height: 3, filter: "DCTDecode"}
		first := matchRawImage(images, placement)
		second := matchRawImage(images, placement)
		require.NotNil(t, first)
		assert.Same(t, first, second)
		assert.Nil(t, matchRawImage(images, rawImage{width: 1, height: 1, filter: "DCTDecode"}))
	})
}

func TestRegistry(t *testing.T) {
	ctx := context.Background()
	registry := NewRegistry(nil, t.TempDir(), zerolog.Nop())
	sessionID, documentID := uuid.New(), uuid.New()

	t.Run("extracts by extension", func(t *testing.T) {
		path := writeFile(t, "notes.md", "# Notes\n\nfirst point\n\nsecond point")
		content, err := registry.Extract(ctx, path, sessionID, documentID)
		require.NoError(t, err)
		require.Len(t, content.TextBlocks, 1)
		assert.Equal(t, "Notes", content.TextBlocks[0].Section)
		assert.NotNil(t, content.Images)
		assert.Empty(t, content.Images)
	})

	t.Run("statistics", func(t *testing.T) {
		path := writeFile(t, "a.txt", "one two\n\nthree")
		result, err := registry.Run(ctx, path, sessionID, documentID)
		require.NoError(t, err)
		assert.Equal(t, 2, result.PageCount)
		assert.Equal(t, 3, result.WordCount)
		assert.Equal(t, "a.txt", result.Document.Name)
	})

	t.Run("docx end to end", func(t *testing.T) {
		path := writeDOCX(t, para("Heading1", "Plan")+para("", "Ship it"))
		content, err := registry.Extract(ctx, path, sessionID, documentID)
		require.NoError(t, err)
		assert.Equal(t, []chunking.TextBlock{{Text: "Ship it", Page: 1, Section: "Plan"}}, content.TextBlocks)
	})

	t.Run("unsupported", func(t *testing.T) {
		assert.False(t, registry.Supports(".exe"))
		_, err := registry.Extract(ctx, writeFile(t, "x.csv", "a,b"), sessionID, documentID)
		assert.True(t, apperrors.IsCode(err, apperrors.CodeUnsupportedFileType))
	})

	t.Run("extracted content chunks", func(t *testing.T) {
		path := writeFile(t, "long.txt", strings.Repeat("word ", 50)+"\n\n"+strings.Repeat("more ", 50))
		content, err := registry.Extract(ctx, path, sessionID, documentID)
		require.NoError(t, err)

		chunks, err := chunking.NewChunker(nil).Chunk(ctx, content, sessionID, documentID, chunking.Options{ChunkSize: 100, ChunkOverlap: 10})
		require.NoError(t, err)
		assert.NotEmpty(t, chunks)
		for _, c := range chunks {
			assert.LessOrEqual(t, len([]rune(c.Text)), 110)
		}
	})
}
