package push

import (
	"crypto/hmac"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"errors"
	"strings"
)

// errSignature is deliberately uninformative.
var errSignature = errors.New("push verification failed")

// verifySignature checks an HMAC-SHA256 signature of body in constant time.
// It accepts "sha256=<hex>" and plain hex.
func verifySignature(body []byte, signature, secret string) error {
	if secret == "" || signature == "" {
		return errSignature
	}

	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	expected := mac.Sum(nil)

	actual, err := hex.DecodeString(strings.TrimPrefix(signature, "sha256="))
	if err != nil {
		return errSignature
	}
	if subtle.ConstantTimeCompare(expected, actual) != 1 {
		return errSignature
	}
	return nil
}

// Sign returns the "sha256=<hex>" signature a sender attaches to body.
func Sign(body []byte, secret string) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	return "sha256=" + hex.EncodeToString(mac.Sum(nil))
}
