package apq

import (
	"crypto/sha256"
	"encoding/hex"
)

// Fingerprint computes the stable content hash of a query string. The
// persisted-query protocol fixes the algorithm to SHA-256, hex-encoded.
func Fingerprint(query string) string {
	sum := sha256.Sum256([]byte(query))
	return hex.EncodeToString(sum[:])
}
