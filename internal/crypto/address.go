package crypto

import (
	"encoding/hex"
	"fmt"
	"strings"
)

// Address identifies a protocol participant: the last 20 bytes of the
// Keccak-256 hash of the uncompressed secp256k1 public key (x‖y). Tokens,
// service nodes, validators and governance roles are all keyed by Address.
type Address [AddressSize]byte

func (a Address) String() string {
	return "0x" + hex.EncodeToString(a[:])
}

func (a Address) IsZero() bool {
	return a == Address{}
}

// Compare orders addresses byte-wise. Validator signer lists are required to
// be strictly ascending under this order.
func (a Address) Compare(b Address) int {
	for i := 0; i < AddressSize; i++ {
		switch {
		case a[i] < b[i]:
			return -1
		case a[i] > b[i]:
			return 1
		}
	}
	return 0
}

// ParseAddress parses a 20-byte hex string, with or without the 0x prefix.
func ParseAddress(s string) (Address, error) {
	s = strings.TrimPrefix(s, "0x")
	raw, err := hex.DecodeString(s)
	if err != nil {
		return Address{}, fmt.Errorf("decode address hex: %w", err)
	}
	if len(raw) != AddressSize {
		return Address{}, fmt.Errorf("invalid address length: %d", len(raw))
	}
	var a Address
	copy(a[:], raw)
	return a, nil
}
