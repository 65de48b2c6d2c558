package webhook

import (
	"crypto/hmac"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"strings"
)

// SignatureHeader carries the HMAC-SHA256 of the body keyed with the app secret.
const SignatureHeader = "X-Hub-Signature-256"

// Verify answers the subscription handshake. It returns the challenge and true
// iff mode is "subscribe" and token equals a non-empty secret.
func Verify(mode, token, challenge, secret string) (string, bool) {
	if mode != "subscribe" || token == "" || secret == "" {
		return "", false
	}
	if subtle.ConstantTimeCompare([]byte(token), []byte(secret)) != 1 {
		return "", false
	}
	return challenge, true
}

// ValidSignature checks a "sha256=<hex>" header against body.
// An empty appSecret disables the check.
func ValidSignature(body []byte, header, appSecret string) bool {
	if appSecret == "" {
		return true
	}
	sig, ok := strings.CutPrefix(header, "sha256=")
	if !ok {
		return false
	}
	got, err := hex.DecodeString(sig)
	if err != nil {
		return false
	}
	mac := hmac.New(sha256.New, []byte(appSecret))
	mac.Write(body)
	return hmac.Equal(got, mac.Sum(nil))
}

// Sign returns the header value for body, as the platform would send it.
func Sign(body []byte, appSecret string) string {
	mac := hmac.New(sha256.New, []byte(appSecret))
	mac.Write(body)
	return "sha256=" + hex.EncodeToString(mac.Sum(nil))
}
