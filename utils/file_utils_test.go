package utils

import (
	"crypto/sha256"
	"encoding/hex"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSaveReader(t *testing.T) {
	root := t.TempDir()
	sessionID, documentID := uuid.New(), uuid.New()
	dest := DocumentPath(root, sessionID, documentID, ".PDF")

	assert.Equal(t, filepath.Join(root, sessionID.String(), documentID.String()+".pdf"), dest)

	n, hash, err := SaveReader(strings.NewReader("payload"), dest)
	require.NoError(t, err)
	assert.Equal(t, int64(7), n)

	sum := sha256.Sum256([]byte("payload"))
	assert.Equal(t, hex.EncodeToString(sum[:]), hash)

	data, err := os.ReadFile(dest)
	require.NoError(t, err)
	assert.Equal(t, "payload", string(data))

	require.NoError(t, RemoveSessionDir(root, sessionID))
	_, err = os.Stat(SessionDir(root, sessionID))
	assert.True(t, os.IsNotExist(err))
	assert.NoError(t, RemoveSessionDir(root, sessionID))
}

func TestDocumentType(t *testing.T) {
	assert.Equal(t, "pdf", DocumentType("a.PDF"))
	assert.Equal(t, "html", DocumentType("index.htm"))
	assert.Equal(t, "unknown", DocumentType("README"))
}

func TestMimeHelpers(t *testing.T) {
	assert.True(t, IsPdfDocument("application/pdf"))
	assert.True(t, IsOfficeDocument("application/vnd.openxmlformats-officedocument.wordprocessingml.document"))
	assert.False(t, IsOfficeDocument("text/plain"))

	path := filepath.Join(t.TempDir(), "x.txt")
	require.NoError(t, os.WriteFile(path, []byte("plain text"), 0o644))
	mime, err := DetectMimeTypeFromFile(path)
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(mime, "text/plain"))
}
