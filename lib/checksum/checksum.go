package checksum

import (
	"crypto/sha256"
	"encoding/hex"
)

// Size is the length of a hex encoded digest.
const Size = sha256.Size * 2

// Sum returns the hex encoded SHA-256 digest of data. The digest doubles
// as the dedup key: identical bytes always map to the same digest.
func Sum(data []byte) string {
	digest := sha256.Sum256(data)
	return hex.EncodeToString(digest[:])
}
