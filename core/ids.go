package core

import (
	"encoding/hex"
	"fmt"

	"github.com/go-crypt/x/blake2b"
	"github.com/google/uuid"
)

// chunkNamespace is the fixed UUID namespace for chunk point IDs.
var chunkNamespace = uuid.MustParse("7c9e6a3b-5d14-4f82-9b01-8e3f6d2a4c5e")

// ChunkPointID derives the vector index point ID for a chunk. It is a
// deterministic function of the owning item and the chunk ordinal, which is
// what makes re-ingestion and partial-failure resume idempotent: upserting
// the same (item, ordinal) always hits the same point.
func ChunkPointID(itemID string, ordinal int) string {
	return uuid.NewSHA1(chunkNamespace, fmt.Appendf(nil, "%s:%d", itemID, ordinal)).String()
}

// HashContent returns the hex BLAKE2b-256 digest of raw content bytes.
// Used as the identity key for uploaded documents: identical files always
// produce identical keys.
func HashContent(data []byte) string {
	h, _ := blake2b.New(32, nil)
	h.Write(data)
	return hex.EncodeToString(h.Sum(nil))
}

// HashString returns a short hex BLAKE2b digest of a string. Used as the
// fallback identity key for feed entries that carry no GUID (hash of
// title + link).
func HashString(text string) string {
	h, _ := blake2b.New(20, nil)
	h.Write([]byte(text))
	return hex.EncodeToString(h.Sum(nil))
}

// NewID generates a random identifier for entities that have no
// content-derived identity (sources, jobs).
func NewID() string {
	return uuid.NewString()
}
