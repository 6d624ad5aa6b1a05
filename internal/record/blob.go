package record

import (
	"strconv"

	"github.com/cespare/xxhash/v2"
)

// Blob is a content-addressed byte payload. The hash is the stable
// attachment key: a 64-bit xxHash of the content, reinterpreted as a
// signed integer so it survives the metadata int encoding unchanged.
type Blob struct {
	Hash int64
	Data []byte
}

// NewBlob fingerprints data.
func NewBlob(data []byte) Blob {
	return Blob{Hash: int64(xxhash.Sum64(data)), Data: data}
}

// HashKey renders a blob hash the way Attachments keys it.
func HashKey(hash int64) string {
	return strconv.FormatInt(hash, 10)
}
