package transfer

import (
	"github.com/eigerco/cloudberry/internal/chaintime"
	"github.com/eigerco/cloudberry/internal/crypto"
)

// CallEnvelope authenticates a governance or registry call submitted over
// the wire. The envelope nonce consumes the caller's sender-nonce space, so
// one replay domain per address covers both transfers and calls.
type CallEnvelope struct {
	Caller     crypto.Address   `cbor:"1,keyasint" json:"caller"`
	Nonce      uint64           `cbor:"2,keyasint" json:"nonce"`
	ValidUntil chaintime.Time   `cbor:"3,keyasint" json:"validUntil"`
	Method     string           `cbor:"4,keyasint" json:"method"`
	Params     []byte           `cbor:"5,keyasint" json:"params"`
	Signature  crypto.Signature `cbor:"6,keyasint" json:"signature"`
}

// SigningDigest binds the envelope to the local chain and hub instance plus
// every envelope field, Params as opaque bytes.
func (e *CallEnvelope) SigningDigest(chainID uint64, forwarder crypto.Address) crypto.Hash {
	p := newPacker(contextCall, chainID, forwarder)
	p.address(e.Caller)
	p.uint64(e.Nonce)
	p.time(e.ValidUntil)
	p.string(e.Method)
	p.bytes(e.Params)
	return p.sum()
}

// Sign signs the envelope digest with the caller's key.
func (e *CallEnvelope) Sign(key *crypto.PrivateKey, chainID uint64, forwarder crypto.Address) {
	e.Signature = key.Sign(e.SigningDigest(chainID, forwarder))
}

// Verify checks that the signature recovers to the declared caller. A
// mismatch on any signed field recovers to a different address.
func (e *CallEnvelope) Verify(chainID uint64, forwarder crypto.Address) error {
	recovered, err := crypto.RecoverAddress(e.SigningDigest(chainID, forwarder), e.Signature)
	if err != nil {
		return err
	}
	if recovered != e.Caller {
		return crypto.ErrInvalidSignature
	}
	return nil
}
