package crypto

import (
	"errors"
	"fmt"

	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/btcsuite/btcd/btcec/v2/ecdsa"
)

var ErrInvalidSignature = errors.New("invalid signature")

// Signature is a 65-byte compact recoverable secp256k1 signature in btcec
// layout: one recovery header byte followed by R then S.
type Signature [SignatureSize]byte

// PrivateKey wraps a secp256k1 private key used by request senders, service
// nodes and validator nodes.
type PrivateKey struct {
	key *btcec.PrivateKey
}

// GeneratePrivateKey creates a new random secp256k1 private key.
func GeneratePrivateKey() (*PrivateKey, error) {
	key, err := btcec.NewPrivateKey()
	if err != nil {
		return nil, fmt.Errorf("generate secp256k1 key: %w", err)
	}
	return &PrivateKey{key: key}, nil
}

// PrivateKeyFromBytes restores a private key from its 32-byte serialization.
func PrivateKeyFromBytes(raw []byte) (*PrivateKey, error) {
	if len(raw) != PrivateKeySize {
		return nil, fmt.Errorf("invalid private key length: %d", len(raw))
	}
	key, _ := btcec.PrivKeyFromBytes(raw)
	return &PrivateKey{key: key}, nil
}

// Serialize returns the 32-byte private key material.
func (p *PrivateKey) Serialize() []byte {
	return p.key.Serialize()
}

// Address derives the protocol address of the key holder.
func (p *PrivateKey) Address() Address {
	return PublicKeyToAddress(p.key.PubKey())
}

// Sign produces a compact recoverable signature over a 32-byte digest.
func (p *PrivateKey) Sign(digest Hash) Signature {
	compact := ecdsa.SignCompact(p.key, digest[:], false)

	var sig Signature
	copy(sig[:], compact)
	return sig
}

// RecoverAddress recovers the signer address from a compact signature over a
// digest. Verification of a signed request is exactly: recover and compare
// against the claimed signer.
func RecoverAddress(digest Hash, sig Signature) (Address, error) {
	pub, _, err := ecdsa.RecoverCompact(sig[:], digest[:])
	if err != nil {
		return Address{}, fmt.Errorf("%w: %v", ErrInvalidSignature, err)
	}
	return PublicKeyToAddress(pub), nil
}

// PublicKeyToAddress hashes the uncompressed public key point (x‖y, without
// the 0x04 format byte) with Keccak-256 and keeps the last 20 bytes.
func PublicKeyToAddress(pub *btcec.PublicKey) Address {
	uncompressed := pub.SerializeUncompressed()
	hashed := KeccakData(uncompressed[1:])

	var addr Address
	copy(addr[:], hashed[HashSize-AddressSize:])
	return addr
}
