package util

import (
	"crypto/sha256"
	"encoding/hex"
)

// HashToken is the lookup key for bearer tokens; raw tokens are never stored.
func HashToken(token string) string {
	hash := sha256.Sum256([]byte(token))
	return hex.EncodeToString(hash[:])
}
