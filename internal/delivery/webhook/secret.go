package webhook

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
)

const (
	SecretLength = 32
	SecretPrefix = "qc_"
)

// GenerateSecret returns a random signing secret.
func GenerateSecret() (string, error) {
	b := make([]byte, SecretLength)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("failed to generate secret: %w", err)
	}
	return SecretPrefix + hex.EncodeToString(b), nil
}

// MaskSecret hides all but the ends of secret for logs.
func MaskSecret(secret string) string {
	if len(secret) <= 12 {
		return "****"
	}
	return secret[:7] + "..." + secret[len(secret)-4:]
}
