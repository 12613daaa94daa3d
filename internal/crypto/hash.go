package crypto

import (
	"encoding/hex"
	"fmt"
	"strings"

	"golang.org/x/crypto/sha3"
)

type Hash [HashSize]byte

// KeccakData hashes the input data using Keccak-256
func KeccakData(data []byte) Hash {
	hash := sha3.NewLegacyKeccak256()
	hash.Write(data)
	hashed := hash.Sum(nil)

	var result Hash
	copy(result[:], hashed)
	return result
}

func (h Hash) String() string {
	return "0x" + hex.EncodeToString(h[:])
}

// ParseHash parses a 32-byte hex string, with or without the 0x prefix.
func ParseHash(s string) (Hash, error) {
	s = strings.TrimPrefix(s, "0x")
	raw, err := hex.DecodeString(s)
	if err != nil {
		return Hash{}, fmt.Errorf("decode hash hex: %w", err)
	}
	if len(raw) != HashSize {
		return Hash{}, fmt.Errorf("invalid hash length: %d", len(raw))
	}
	var h Hash
	copy(h[:], raw)
	return h, nil
}
