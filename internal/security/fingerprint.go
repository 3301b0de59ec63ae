package security

import (
	"crypto/sha256"
	"encoding/hex"
)

// Fingerprint returns a short hex SHA-256 prefix of token for logs and telemetry.
// The raw token is never logged. Empty tokens yield "".
func Fingerprint(token string) string {
	if token == "" {
		return ""
	}
	h := sha256.Sum256([]byte(token))
	return hex.EncodeToString(h[:])[:12]
}
