package common

import (
	"crypto/sha256"
	"encoding/hex"
)

// Sha256Hex fingerprints a payload as lowercase hex, used for replay and
// idempotency keys.
func Sha256Hex(data []byte) string {
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}
