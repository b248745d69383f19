// Package solana holds small key-handling helpers shared by the server and
// the paying client.
package solana

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/gagliardetto/solana-go"
)

// ParsePrivateKey parses a private key from either base58 or JSON array form.
// Supported formats:
//   - Base58: "5Kd7..." (solana-keygen default)
//   - JSON array: "[1,2,3,...,64]" (64 bytes, wallet export format)
func ParsePrivateKey(keyStr string) (solana.PrivateKey, error) {
	keyStr = strings.TrimSpace(keyStr)
	if keyStr == "" {
		return solana.PrivateKey{}, fmt.Errorf("private key string is empty")
	}

	if !strings.HasPrefix(keyStr, "[") {
		privateKey, err := solana.PrivateKeyFromBase58(keyStr)
		if err != nil {
			return solana.PrivateKey{}, fmt.Errorf("invalid base58 private key: %w", err)
		}
		return privateKey, nil
	}

	return parsePrivateKeyArray(keyStr)
}

func parsePrivateKeyArray(keyStr string) (solana.PrivateKey, error) {
	if !strings.HasSuffix(keyStr, "]") {
		return solana.PrivateKey{}, fmt.Errorf("private key array must be in JSON format: [1,2,3,...]")
	}

	parts := strings.Split(keyStr[1:len(keyStr)-1], ",")
	if len(parts) != 64 {
		return solana.PrivateKey{}, fmt.Errorf("private key must be a 64-byte array, got %d bytes", len(parts))
	}

	var keyBytes [64]byte
	for i, part := range parts {
		val, err := strconv.Atoi(strings.TrimSpace(part))
		if err != nil {
			return solana.PrivateKey{}, fmt.Errorf("invalid byte value at position %d: %s (%w)", i, part, err)
		}
		if val < 0 || val > 255 {
			return solana.PrivateKey{}, fmt.Errorf("byte value at position %d out of range (0-255): %d", i, val)
		}
		keyBytes[i] = byte(val)
	}

	return solana.PrivateKey(keyBytes[:]), nil
}
