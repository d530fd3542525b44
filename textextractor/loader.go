package textextractor

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/gabriel-vasile/mimetype"

	apperrors "rag-ingest/pkg/errors"
)

// LoaderConfig holds the limits applied before any extractor runs
type LoaderConfig struct {
	MaxFileSize       int64    `json:"max_file_size"`
	AllowedExtensions []string `json:"allowed_extensions"`
	AllowedMimeTypes  []string `json:"allowed_mime_types"`
}

// DefaultLoaderConfig returns the upload defaults
func DefaultLoaderConfig() *LoaderConfig {
	return &LoaderConfig{
		MaxFileSize:       10 * 1024 * 1024,
		AllowedExtensions: []string{".pdf", ".docx", ".txt", ".md", ".html", ".htm"},
		AllowedMimeTypes: []string{
			"application/pdf",
			"application/vnd.openxmlformats-officedocument.wordprocessingml.document",
			"application/zip",
			"text/plain",
			"text/markdown",
			"text/html",
		},
	}
}

// textExtensions may be sniffed as any text/* type
var textExtensions = map[string]bool{".txt": true, ".md": true, ".html": true, ".htm": true}

// Document is a file that passed the loader checks
type Document struct {
	Path      string `json:"path"`
	Name      string `json:"name"`
	Extension string `json:"extension"`
	MimeType  string `json:"mime_type"`
	Size      int64  `json:"size"`
}

// Loader validates files on disk before extraction
type Loader struct {
	config *LoaderConfig
}

// NewLoader creates a loader. A nil config uses the defaults.
func NewLoader(config *LoaderConfig) *Loader {
	if config == nil {
		config = DefaultLoaderConfig()
	}
	return &Loader{config: config}
}

// Load checks extension, size and sniffed content type of the file at path
func (l *Loader) Load(path string) (*Document, error) {
	ext := strings.ToLower(filepath.Ext(path))
	if !l.extensionAllowed(ext) {
		return nil, apperrors.NewUnsupportedFileTypeError(ext).WithContext("path", path)
	}

	info, err := os.Stat(path)
	if err != nil {
		return nil, apperrors.Wrap(err, apperrors.NotFoundError, apperrors.CodeDocumentNotFound, "document file not readable").
			WithContext("path", path)
	}
	if info.IsDir() {
		return nil, apperrors.NewUnsupportedFileTypeError("directory").WithContext("path", path)
	}
	if l.config.MaxFileSize > 0 && info.Size() > l.config.MaxFileSize {
		return nil, apperrors.NewFileSizeError(info.Size(), l.config.MaxFileSize)
	}

	mtype, err := mimetype.DetectFile(path)
	if err != nil {
		return nil, apperrors.Wrap(err, apperrors.ProcessingError, apperrors.CodeExtractionFailed, "failed to detect file type")
	}
	if !l.mimeAllowed(mtype, ext) {
		return nil, apperrors.NewUnsupportedFileTypeError(mtype.String()).
			WithContext("path", path).
			WithContext("extension", ext)
	}

	return &Document{
		Path:      path,
		Name:      filepath.Base(path),
		Extension: ext,
		MimeType:  mtype.String(),
		Size:      info.Size(),
	}, nil
}

func (l *Loader) extensionAllowed(ext string) bool {
	for _, allowed := range l.config.AllowedExtensions {
		if strings.EqualFold(allowed, ext) {
			return true
		}
	}
	return false
}

// mimeAllowed walks the sniffed type and its parents, so a DOCX sniffed
// as a plain zip archive is still accepted. The type must also agree
// with the extension.
func (l *Loader) mimeAllowed(mtype *mimetype.MIME, ext string) bool {
	for m := mtype; m != nil; m = m.Parent() {
		if !matchesExtension(m, ext) {
			continue
		}
		if len(l.config.AllowedMimeTypes) == 0 || textExtensions[ext] {
			return true
		}
		for _, allowed := range l.config.AllowedMimeTypes {
			if m.Is(allowed) {
				return true
			}
		}
	}
	return false
}

func matchesExtension(m *mimetype.MIME, ext string) bool {
	switch {
	case ext == ".pdf":
		return m.Is("application/pdf")
	case ext == ".docx":
		return m.Is("application/vnd.openxmlformats-officedocument.wordprocessingml.document") || m.Is("application/zip")
	case textExtensions[ext]:
		return strings.HasPrefix(m.String(), "text/")
	default:
		return true
	}
}

func (d *Document) String() string {
	return fmt.Sprintf("%s (%s, %d bytes)", d.Name, d.MimeType, d.Size)
}
