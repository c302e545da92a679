// Package fileid derives stable document IDs for files picked up from
// watched drop folders.
package fileid

import (
	"crypto/sha256"
	"encoding/hex"
	"path/filepath"
)

const prefix = "file:"

// FileDocID returns a stable document ID for the given absolute path, so a
// rewritten file re-ingests under the same document and a deleted file can
// be removed by path.
func FileDocID(absolutePath string) string {
	normalized := filepath.Clean(absolutePath)
	hash := sha256.Sum256([]byte(normalized))
	return prefix + hex.EncodeToString(hash[:])
}
