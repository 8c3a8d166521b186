package cache

import (
	"crypto/sha256"
	"encoding/hex"
)

// HashKey hashes a cache key. DNs contain characters that are awkward in
// Redis keys and can be long; the hex digest is neither.
func HashKey(key string) string {
	sum := sha256.Sum256([]byte(key))
	return hex.EncodeToString(sum[:])
}
