package token

import (
	"crypto/rand"
	"encoding/base64"
	"fmt"
)

// DefaultValueBytes is the number of random bytes in a token value.
// 32 bytes gives 256 bits of entropy, well above the 128-bit floor.
const DefaultValueBytes = 32

// MinValueBytes enforces the 128-bit entropy floor on configured lengths.
const MinValueBytes = 16

// generateValue generates a secure random token value
func generateValue(numBytes int) (string, error) {
	if numBytes < MinValueBytes {
		numBytes = MinValueBytes
	}

	b := make([]byte, numBytes)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("failed to generate random bytes: %w", err)
	}

	// Encode as URL-safe base64 and add a prefix
	return fmt.Sprintf("tg_%s", base64.RawURLEncoding.EncodeToString(b)), nil
}
