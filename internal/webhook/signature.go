package webhook

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"strings"
)

// GitHubSignaturePrefix is the literal tag GitHub prepends to the hex digest
// in the X-Hub-Signature-256 header.
const GitHubSignaturePrefix = "sha256="

// VerifyGitHubSignature checks an X-Hub-Signature-256 header against the raw
// request body. The digest must be computed over the exact bytes GitHub sent;
// re-serializing the parsed JSON can produce a different byte sequence and
// break verification.
//
// Verification failure is always a boolean outcome. A missing header, empty
// secret, or malformed signature string returns false, never an error.
func VerifyGitHubSignature(body []byte, signature, secret string) bool {
	if secret == "" || !strings.HasPrefix(signature, GitHubSignaturePrefix) {
		return false
	}

	expected := GitHubSignaturePrefix + computeHMAC(body, secret)
	return hmac.Equal([]byte(signature), []byte(expected))
}

// VerifyLinearSignature checks a Linear-Signature header against the raw
// request body. Linear sends the bare hex digest with no prefix.
func VerifyLinearSignature(body []byte, signature, secret string) bool {
	if secret == "" || signature == "" {
		return false
	}

	expected := computeHMAC(body, secret)
	return hmac.Equal([]byte(signature), []byte(expected))
}

// computeHMAC returns the hex-encoded HMAC-SHA256 of body keyed by secret.
// Both providers share this primitive; only the header format differs.
// Comparison goes through hmac.Equal so it is constant-time.
func computeHMAC(body []byte, secret string) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	return hex.EncodeToString(mac.Sum(nil))
}
