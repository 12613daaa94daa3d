package transfer

import (
	"math/big"

	"github.com/eigerco/cloudberry/internal/chaintime"
	"github.com/eigerco/cloudberry/internal/crypto"
)

// ProtocolMajorVersion is bound into every signing digest. Requests signed
// against one major version never verify on another.
const ProtocolMajorVersion byte = 1

// Request is a same-chain transfer: sender moves Amount of Token to a local
// Recipient. Immutable once signed; consumed exactly once by the forwarder.
// The Fee compensates the submitting service node and is bound into the
// digest, but the forwarder does not collect it on the same-chain path.
type Request struct {
	Sender             crypto.Address   `cbor:"1,keyasint" json:"sender"`
	Recipient          crypto.Address   `cbor:"2,keyasint" json:"recipient"`
	Token              crypto.Address   `cbor:"3,keyasint" json:"token"`
	Amount             *big.Int         `cbor:"4,keyasint" json:"amount"`
	Fee                *big.Int         `cbor:"5,keyasint" json:"fee"`
	Nonce              uint64           `cbor:"6,keyasint" json:"nonce"`
	ValidFrom          chaintime.Time   `cbor:"7,keyasint" json:"validFrom"`
	ValidUntil         chaintime.Time   `cbor:"8,keyasint" json:"validUntil"`
	DestinationChainID uint64           `cbor:"9,keyasint" json:"destinationChainId"`
	Signature          crypto.Signature `cbor:"10,keyasint" json:"signature"`
}

// FromRequest is a cross-chain outbound transfer: sender escrows Amount of
// the local Token for release on the destination chain, where Recipient is
// an address in that chain's own format. The Fee must cover the two-factor
// floor (source times destination validator fee factor) and is collected in
// addition to Amount.
type FromRequest struct {
	Sender             crypto.Address   `cbor:"1,keyasint" json:"sender"`
	Recipient          string           `cbor:"2,keyasint" json:"recipient"`
	Token              crypto.Address   `cbor:"3,keyasint" json:"token"`
	Amount             *big.Int         `cbor:"4,keyasint" json:"amount"`
	Fee                *big.Int         `cbor:"5,keyasint" json:"fee"`
	Nonce              uint64           `cbor:"6,keyasint" json:"nonce"`
	ValidFrom          chaintime.Time   `cbor:"7,keyasint" json:"validFrom"`
	ValidUntil         chaintime.Time   `cbor:"8,keyasint" json:"validUntil"`
	DestinationChainID uint64           `cbor:"9,keyasint" json:"destinationChainId"`
	Signature          crypto.Signature `cbor:"10,keyasint" json:"signature"`
}

// ToRequest is a cross-chain inbound settlement: the validator network
// attests that a transfer escrowed on the source chain should release Amount
// of the local Token to Recipient here. SourceTransferID ties the settlement
// to its originating transfer; the Nonce lives in the network-wide set, not
// any sender's. Instead of one sender signature it carries a validator
// quorum: SignerAddresses must be strictly ascending and Signatures[i] must
// recover to SignerAddresses[i] over the settlement digest.
type ToRequest struct {
	SourceChainID    uint64             `cbor:"1,keyasint" json:"sourceChainId"`
	SourceTransferID string             `cbor:"2,keyasint" json:"sourceTransferId"`
	SourceSender     string             `cbor:"3,keyasint" json:"sourceSender"`
	Recipient        crypto.Address     `cbor:"4,keyasint" json:"recipient"`
	Token            crypto.Address     `cbor:"5,keyasint" json:"token"`
	Amount           *big.Int           `cbor:"6,keyasint" json:"amount"`
	Fee              *big.Int           `cbor:"7,keyasint" json:"fee"`
	Nonce            uint64             `cbor:"8,keyasint" json:"nonce"`
	ValidFrom        chaintime.Time     `cbor:"9,keyasint" json:"validFrom"`
	ValidUntil       chaintime.Time     `cbor:"10,keyasint" json:"validUntil"`
	SignerAddresses  []crypto.Address   `cbor:"11,keyasint" json:"signerAddresses"`
	Signatures       []crypto.Signature `cbor:"12,keyasint" json:"signatures"`
}

// WindowContains reports whether now falls within [from, until], inclusive
// on both ends.
func WindowContains(from, until, now chaintime.Time) bool {
	return !now.Before(from) && !now.After(until)
}
