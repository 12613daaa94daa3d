package transfer

import (
	"bytes"
	"encoding/binary"
	"math/big"

	"github.com/eigerco/cloudberry/internal/chaintime"
	"github.com/eigerco/cloudberry/internal/crypto"
)

// Signing context tags. Each request kind and each commitment kind hashes
// under its own tag so a signature or hash produced for one can never be
// replayed as another.
const (
	contextTransfer      = "cb_transfer"
	contextTransferFrom  = "cb_transfer_from"
	contextTransferTo    = "cb_transfer_to"
	contextCall          = "cb_call"
	contextCommitment    = "cb_commitment"
	contextURLCommitment = "cb_url_commitment"
)

// packer builds the canonical byte string a digest is computed over.
// Variable-length fields are length-prefixed so no two field sequences can
// pack to the same bytes; fixed-width fields are written raw in big-endian.
type packer struct {
	buf bytes.Buffer
}

func newPacker(context string, chainID uint64, forwarder crypto.Address) *packer {
	p := &packer{}
	p.bytes([]byte(context))
	p.buf.WriteByte(ProtocolMajorVersion)
	p.uint64(chainID)
	p.address(forwarder)
	return p
}

func (p *packer) bytes(b []byte) {
	var length [4]byte
	binary.BigEndian.PutUint32(length[:], uint32(len(b)))
	p.buf.Write(length[:])
	p.buf.Write(b)
}

func (p *packer) string(s string) {
	p.bytes([]byte(s))
}

func (p *packer) uint64(v uint64) {
	var raw [8]byte
	binary.BigEndian.PutUint64(raw[:], v)
	p.buf.Write(raw[:])
}

func (p *packer) address(a crypto.Address) {
	p.buf.Write(a[:])
}

func (p *packer) bigInt(v *big.Int) {
	if v == nil {
		p.bytes(nil)
		return
	}
	p.bytes(v.Bytes())
}

func (p *packer) time(t chaintime.Time) {
	p.uint64(uint64(t))
}

func (p *packer) sum() crypto.Hash {
	return crypto.KeccakData(p.buf.Bytes())
}

// SigningDigest computes the digest the sender signs, bound to the local
// chain and the forwarder instance. Any single-field mismatch on
// verification yields a different digest and therefore a different recovered
// address, so a request meant for one chain or one forwarder deployment can
// never pass on another.
func (r *Request) SigningDigest(chainID uint64, forwarder crypto.Address) crypto.Hash {
	p := newPacker(contextTransfer, chainID, forwarder)
	p.address(r.Sender)
	p.address(r.Recipient)
	p.address(r.Token)
	p.bigInt(r.Amount)
	p.bigInt(r.Fee)
	p.uint64(r.Nonce)
	p.time(r.ValidFrom)
	p.time(r.ValidUntil)
	p.uint64(r.DestinationChainID)
	return p.sum()
}

// Sign signs the request digest with the sender's key.
func (r *Request) Sign(key *crypto.PrivateKey, chainID uint64, forwarder crypto.Address) {
	r.Signature = key.Sign(r.SigningDigest(chainID, forwarder))
}

// SigningDigest computes the outbound request digest. The destination chain
// ID is a signed field: the fee floor depends on it, so the sender commits
// to the destination explicitly.
func (r *FromRequest) SigningDigest(chainID uint64, forwarder crypto.Address) crypto.Hash {
	p := newPacker(contextTransferFrom, chainID, forwarder)
	p.address(r.Sender)
	p.string(r.Recipient)
	p.address(r.Token)
	p.bigInt(r.Amount)
	p.bigInt(r.Fee)
	p.uint64(r.Nonce)
	p.time(r.ValidFrom)
	p.time(r.ValidUntil)
	p.uint64(r.DestinationChainID)
	return p.sum()
}

// Sign signs the outbound request digest with the sender's key.
func (r *FromRequest) Sign(key *crypto.PrivateKey, chainID uint64, forwarder crypto.Address) {
	r.Signature = key.Sign(r.SigningDigest(chainID, forwarder))
}

// SigningDigest computes the settlement digest every quorum member signs.
// It binds the source chain ID and source transfer ID in addition to the
// usual domain fields: a settlement attested for one origin can never settle
// a transfer from another. The signer set itself is not part of the digest,
// which keeps the digest identical for every collecting party regardless of
// which validators end up in the submitted quorum.
func (r *ToRequest) SigningDigest(chainID uint64, forwarder crypto.Address) crypto.Hash {
	p := newPacker(contextTransferTo, chainID, forwarder)
	p.uint64(r.SourceChainID)
	p.string(r.SourceTransferID)
	p.string(r.SourceSender)
	p.address(r.Recipient)
	p.address(r.Token)
	p.bigInt(r.Amount)
	p.bigInt(r.Fee)
	p.uint64(r.Nonce)
	p.time(r.ValidFrom)
	p.time(r.ValidUntil)
	return p.sum()
}

// AppendSignature signs the settlement digest with a validator key and adds
// the (address, signature) pair keeping SignerAddresses strictly ascending.
func (r *ToRequest) AppendSignature(key *crypto.PrivateKey, chainID uint64, forwarder crypto.Address) {
	addr := key.Address()
	sig := key.Sign(r.SigningDigest(chainID, forwarder))

	at := len(r.SignerAddresses)
	for i, existing := range r.SignerAddresses {
		if addr.Compare(existing) < 0 {
			at = i
			break
		}
	}
	r.SignerAddresses = append(r.SignerAddresses, crypto.Address{})
	copy(r.SignerAddresses[at+1:], r.SignerAddresses[at:])
	r.SignerAddresses[at] = addr

	r.Signatures = append(r.Signatures, crypto.Signature{})
	copy(r.Signatures[at+1:], r.Signatures[at:])
	r.Signatures[at] = sig
}

// RegistrationCommitment is the hash a would-be service node operator
// commits before revealing a registration. Binding the caller prevents a
// front-runner from replaying an observed commitment as their own.
func RegistrationCommitment(chainID uint64, forwarder crypto.Address, node, withdrawal crypto.Address, url string, caller crypto.Address) crypto.Hash {
	p := newPacker(contextCommitment, chainID, forwarder)
	p.address(node)
	p.address(withdrawal)
	p.string(url)
	p.address(caller)
	return p.sum()
}

// URLCommitment is the commit-reveal hash for service node URL updates.
func URLCommitment(chainID uint64, forwarder crypto.Address, url string, caller crypto.Address) crypto.Hash {
	p := newPacker(contextURLCommitment, chainID, forwarder)
	p.string(url)
	p.address(caller)
	return p.sum()
}
