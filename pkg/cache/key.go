package cache

import (
	_ "crypto/sha256" // registers digest.SHA256

	"github.com/opencontainers/go-digest"
)

// StorageKey derives the blob file name for a schema URI.
// It is the hex SHA-256 digest of the URI, so arbitrary URI characters never
// reach the filesystem and every key has the same length.
//
// Example:
//
//	StorageKey("https://json.schemastore.org/github-workflow.json")
//	// 64 lowercase hex characters
func StorageKey(uri string) string {
	return digest.SHA256.FromString(uri).Encoded()
}
