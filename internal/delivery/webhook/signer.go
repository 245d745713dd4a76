package webhook

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"net/http"
)

// SignatureHeader carries the payload signature on every delivery.
const SignatureHeader = "X-Signature-256"

// ErrBadSignature is returned by ReadSigned when the signature is missing or wrong.
var ErrBadSignature = errors.New("invalid signature")

// Sign returns the HMAC-SHA256 of payload as "sha256=<hex>".
//
// Example:
//
//	Sign("my-secret-key", []byte("hello world"))
//	// "sha256=734cc62f32841568f45715aeb9f4d7891324e6d948e4c6c60c0621cdac48623a"
func Sign(secret string, payload []byte) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(payload)
	return "sha256=" + hex.EncodeToString(mac.Sum(nil))
}

// Verify reports whether signature matches payload, in constant time.
func Verify(secret string, payload []byte, signature string) bool {
	return hmac.Equal([]byte(Sign(secret, payload)), []byte(signature))
}

// ReadSigned reads at most limit bytes of the request body and checks the
// SignatureHeader against secret.
func ReadSigned(r *http.Request, secret string, limit int64) ([]byte, error) {
	body, err := io.ReadAll(io.LimitReader(r.Body, limit+1))
	if err != nil {
		return nil, fmt.Errorf("failed to read body: %w", err)
	}
	if int64(len(body)) > limit {
		return nil, fmt.Errorf("body exceeds %d bytes", limit)
	}

	sig := r.Header.Get(SignatureHeader)
	if sig == "" || !Verify(secret, body, sig) {
		return nil, ErrBadSignature
	}
	return body, nil
}
