package utils

import (
	"crypto/rand"
	"encoding/base64"
	"fmt"
)

const signingTokenBytes = 32

// GenerateSigningToken returns an unguessable URL-safe token used as the
// sole credential for a recipient's signing session.
func GenerateSigningToken() (string, error) {
	buf := make([]byte, signingTokenBytes)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("failed to generate signing token: %w", err)
	}
	return base64.RawURLEncoding.EncodeToString(buf), nil
}