package export

import (
	"crypto/rand"
	"fmt"
)

// tokenChars is the download token alphabet. Alphanumeric only so tokens
// survive URLs, shells, and copy-paste without escaping.
const tokenChars = "ABCDEFGHIJKLMNOPQRSTUVWXYZabcdefghijklmnopqrstuvwxyz0123456789"

// TokenLength is the fixed length of a download token.
const TokenLength = 32

// GenerateToken returns a cryptographically random download token.
func GenerateToken() (string, error) {
	buf := make([]byte, TokenLength)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("generate download token: %w", err)
	}
	for i, b := range buf {
		buf[i] = tokenChars[int(b)%len(tokenChars)]
	}
	return string(buf), nil
}
