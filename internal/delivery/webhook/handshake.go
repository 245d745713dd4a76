package webhook

import (
	"bytes"
	"context"
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
)

type handshakeRequest struct {
	Type      string `json:"type"`
	Challenge string `json:"challenge"`
}

type handshakeResponse struct {
	Challenge string `json:"challenge"`
}

// Handshake proves that target is a quakecast receiver holding the secret:
// it POSTs a signed url_verification request and expects the challenge
// token echoed back with 200.
func (s *Sender) Handshake(ctx context.Context, target Target) error {
	token, err := challengeToken()
	if err != nil {
		return fmt.Errorf("failed to generate challenge: %w", err)
	}
	body, err := json.Marshal(handshakeRequest{Type: "url_verification", Challenge: token})
	if err != nil {
		return fmt.Errorf("failed to encode challenge: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, target.URL, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set(SignatureHeader, Sign(target.Secret, body))
	req.Header.Set("User-Agent", s.userAgent)

	resp, err := s.client.Do(req)
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("webhook returned status %d, expected 200", resp.StatusCode)
	}

	var echoed handshakeResponse
	if err := json.NewDecoder(io.LimitReader(resp.Body, 4096)).Decode(&echoed); err != nil {
		return fmt.Errorf("invalid response format: %w", err)
	}
	if echoed.Challenge != token {
		return fmt.Errorf("challenge response does not match")
	}
	return nil
}

func challengeToken() (string, error) {
	b := make([]byte, 16)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return hex.EncodeToString(b), nil
}
