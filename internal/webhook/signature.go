package webhook

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
)

const signaturePrefix = "sha256="

// Sign computes the signature header value for a payload: the hex HMAC-SHA256
// of the body under the webhook's secret, prefixed with the scheme.
func Sign(secret string, payload []byte) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(payload)
	return signaturePrefix + hex.EncodeToString(mac.Sum(nil))
}

// Verify checks a received signature header in constant time. Receivers use
// this to authenticate deliveries; it is also what our test endpoint does.
func Verify(secret string, payload []byte, header string) bool {
	return hmac.Equal([]byte(Sign(secret, payload)), []byte(header))
}
