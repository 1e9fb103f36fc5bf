package auth

import (
	"crypto/sha256"
	"encoding/hex"
)

// HashKey hashes a bearer token using SHA-256. The hex digest is the lookup
// key in the credential store; the raw token is never stored or logged.
func HashKey(token string) string {
	hasher := sha256.New()
	hasher.Write([]byte(token))
	return hex.EncodeToString(hasher.Sum(nil))
}
