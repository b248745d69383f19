package callbacks

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"strings"
)

// signaturePrefix labels the digest algorithm in the signature header.
const signaturePrefix = "sha256="

// Sign computes the webhook body signature: "sha256=" followed by the hex
// HMAC-SHA256 of the body under the subscriber's secret.
func Sign(secret string, body []byte) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	return signaturePrefix + hex.EncodeToString(mac.Sum(nil))
}

// VerifySignature checks a received signature header against the body using
// constant-time comparison. Both the "sha256=<hex>" form and bare 64-char
// hex are accepted.
func VerifySignature(secret string, body []byte, header string) bool {
	received := strings.TrimPrefix(strings.TrimSpace(header), signaturePrefix)
	if len(received) != sha256.Size*2 {
		return false
	}
	receivedMAC, err := hex.DecodeString(received)
	if err != nil {
		return false
	}

	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	return hmac.Equal(receivedMAC, mac.Sum(nil))
}
