// Package auth provides app token authentication and per-tenant rate
// limiting.
package auth

import (
	"crypto/rand"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/base64"
	"encoding/hex"
	"fmt"
	"strings"
)

const (
	// TokenLength is the number of random bytes in a generated token.
	TokenLength = 32
	// TokenPrefix marks tokens issued by this service.
	TokenPrefix = "bb_"
)

// GenerateToken creates a new random app token with the format bb_<random>.
// Returns the full token (shown to the caller once) and the hash to store.
func GenerateToken() (fullToken, hash string, err error) {
	randomBytes := make([]byte, TokenLength)
	if _, err := rand.Read(randomBytes); err != nil {
		return "", "", fmt.Errorf("generate random bytes: %w", err)
	}

	fullToken = TokenPrefix + base64.RawURLEncoding.EncodeToString(randomBytes)
	return fullToken, HashToken(fullToken), nil
}

// HashToken returns the SHA-256 hex digest of a token.
func HashToken(token string) string {
	h := sha256.Sum256([]byte(token))
	return hex.EncodeToString(h[:])
}

// VerifyToken checks a token against a stored hash in constant time.
func VerifyToken(token, hash string) bool {
	tokenHash := HashToken(token)
	return subtle.ConstantTimeCompare([]byte(tokenHash), []byte(hash)) == 1
}

// ParseAuthHeader extracts the token from an Authorization header.
// Supports "Bearer <token>" or a bare token.
func ParseAuthHeader(header string) (string, error) {
	if header == "" {
		return "", fmt.Errorf("authorization header is empty")
	}

	if strings.HasPrefix(header, "Bearer ") {
		token := strings.TrimSpace(strings.TrimPrefix(header, "Bearer "))
		if token == "" {
			return "", fmt.Errorf("bearer token is empty")
		}
		return token, nil
	}

	return strings.TrimSpace(header), nil
}

// MaskToken returns a masked version of the token for logging.
// Example: "bb_abcde...wxyz"
func MaskToken(token string) string {
	if len(token) <= 12 {
		return "***"
	}
	return token[:8] + "..." + token[len(token)-4:]
}
