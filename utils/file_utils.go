package utils

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"mime/multipart"
	"os"
	"path/filepath"
	"strings"

	"github.com/gabriel-vasile/mimetype"
	"github.com/google/uuid"
)

// SessionDir returns {root}/{session}
func SessionDir(root string, sessionID uuid.UUID) string {
	return filepath.Join(root, sessionID.String())
}

// DocumentPath returns {root}/{session}/{document}{ext}
func DocumentPath(root string, sessionID, documentID uuid.UUID, ext string) string {
	return filepath.Join(SessionDir(root, sessionID), documentID.String()+strings.ToLower(ext))
}

// SaveUploadedFile copies an uploaded file to dest and returns the number
// of bytes written and their SHA-256. A partial file is removed on error.
func SaveUploadedFile(fileHeader *multipart.FileHeader, dest string) (int64, string, error) {
	src, err := fileHeader.Open()
	if err != nil {
		return 0, "", fmt.Errorf("failed to open upload: %w", err)
	}
	defer src.Close()

	return SaveReader(src, dest)
}

// SaveReader copies r to dest, creating parent directories
func SaveReader(r io.Reader, dest string) (int64, string, error) {
	return SaveReaderBuffer(r, dest, nil)
}

// SaveReaderBuffer is SaveReader copying through buf. A nil buf allocates.
// It returns the byte count and the sha256 hex digest of the content.
func SaveReaderBuffer(r io.Reader, dest string, buf []byte) (int64, string, error) {
	if err := os.MkdirAll(filepath.Dir(dest), 0o755); err != nil {
		return 0, "", fmt.Errorf("failed to create directory: %w", err)
	}

	out, err := os.OpenFile(dest, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o644)
	if err != nil {
		return 0, "", fmt.Errorf("failed to create file: %w", err)
	}

	hasher := sha256.New()
	n, err := io.CopyBuffer(io.MultiWriter(out, hasher), r, buf)
	if closeErr := out.Close(); err == nil {
		err = closeErr
	}
	if err != nil {
		os.Remove(dest)
		return 0, "", fmt.Errorf("failed to write file: %w", err)
	}

	return n, hex.EncodeToString(hasher.Sum(nil)), nil
}

// RemoveSessionDir deletes the session's files and images. A missing
// directory is not an error.
func RemoveSessionDir(root string, sessionID uuid.UUID) error {
	return os.RemoveAll(SessionDir(root, sessionID))
}

// DetectMimeTypeFromFile sniffs the MIME type of the file at filePath
func DetectMimeTypeFromFile(filePath string) (string, error) {
	mime, err := mimetype.DetectFile(filePath)
	if err != nil {
		return "", err
	}
	return mime.String(), nil
}

// DocumentType returns the short type label used in metrics and logs
func DocumentType(filename string) string {
	ext := strings.TrimPrefix(strings.ToLower(filepath.Ext(filename)), ".")
	switch ext {
	case "htm":
		return "html"
	case "":
		return "unknown"
	default:
		return ext
	}
}

// IsPdfDocument reports whether mimeType is a PDF
func IsPdfDocument(mimeType string) bool {
	return strings.Contains(strings.ToLower(mimeType), "pdf")
}

// IsOfficeDocument reports whether mimeType is an Office or OpenDocument type
func IsOfficeDocument(mimeType string) bool {
	mimeType = strings.ToLower(strings.TrimSpace(mimeType))
	for _, format := range []string{
		"application/vnd.openxmlformats-officedocument",
		"application/vnd.ms-",
		"application/msword",
		"application/vnd.oasis.opendocument",
	} {
		if strings.Contains(mimeType, format) {
			return true
		}
	}
	return false
}
