package chunking

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"

	"github.com/google/uuid"
)

// MakeChunkID derives the stable chunk identifier: hex SHA-256 of
// "{session}|{document}|{page}|{index}".
func MakeChunkID(sessionID, documentID uuid.UUID, page, chunkIndex int) string {
	sum := sha256.Sum256([]byte(fmt.Sprintf("%s|%s|%d|%d", sessionID, documentID, page, chunkIndex)))
	return hex.EncodeToString(sum[:])
}
