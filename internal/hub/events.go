package hub

import (
	"math/big"

	"github.com/eigerco/cloudberry/internal/chaintime"
	"github.com/eigerco/cloudberry/internal/crypto"
)

// Event payloads, CBOR-encoded into outbox.Event.Data. Indexers decode by
// event kind; fields use the same integer keys as the stored records.

type GenesisEvent struct {
	ChainID   uint64         `cbor:"1,keyasint" json:"chainId"`
	ChainName string         `cbor:"2,keyasint" json:"chainName"`
	Forwarder crypto.Address `cbor:"3,keyasint" json:"forwarder"`
}

type PauseEvent struct {
	Caller crypto.Address `cbor:"1,keyasint" json:"caller"`
}

type ParamUpdateEvent struct {
	Name     string         `cbor:"1,keyasint" json:"name"`
	ChainID  uint64         `cbor:"2,keyasint,omitempty" json:"chainId,omitempty"`
	Value    uint64         `cbor:"3,keyasint" json:"value"`
	UpdateAt chaintime.Time `cbor:"4,keyasint,omitempty" json:"updateAt,omitempty"`
	Caller   crypto.Address `cbor:"5,keyasint" json:"caller"`
}

type BlockchainEvent struct {
	ChainID   uint64         `cbor:"1,keyasint" json:"chainId"`
	Name      string         `cbor:"2,keyasint,omitempty" json:"name,omitempty"`
	FeeFactor uint64         `cbor:"3,keyasint,omitempty" json:"feeFactor,omitempty"`
	Caller    crypto.Address `cbor:"4,keyasint" json:"caller"`
}

type TokenEvent struct {
	Token         crypto.Address `cbor:"1,keyasint" json:"token"`
	Owner         crypto.Address `cbor:"2,keyasint,omitempty" json:"owner,omitempty"`
	ChainID       uint64         `cbor:"3,keyasint,omitempty" json:"chainId,omitempty"`
	ExternalToken string         `cbor:"4,keyasint,omitempty" json:"externalToken,omitempty"`
	Caller        crypto.Address `cbor:"5,keyasint" json:"caller"`
}

type ValidatorEvent struct {
	Validator crypto.Address `cbor:"1,keyasint" json:"validator"`
	Caller    crypto.Address `cbor:"2,keyasint" json:"caller"`
}

type RoleEvent struct {
	Address    crypto.Address `cbor:"1,keyasint" json:"address"`
	Capability string         `cbor:"2,keyasint" json:"capability"`
	Caller     crypto.Address `cbor:"3,keyasint" json:"caller"`
}

type CommitmentEvent struct {
	Committer crypto.Address `cbor:"1,keyasint" json:"committer"`
	Hash      crypto.Hash    `cbor:"2,keyasint" json:"hash"`
}

type ServiceNodeEvent struct {
	Node         crypto.Address `cbor:"1,keyasint" json:"node"`
	URL          string         `cbor:"2,keyasint,omitempty" json:"url,omitempty"`
	Deposit      uint64         `cbor:"3,keyasint,omitempty" json:"deposit,omitempty"`
	Amount       uint64         `cbor:"4,keyasint,omitempty" json:"amount,omitempty"`
	UnregisterAt chaintime.Time `cbor:"5,keyasint,omitempty" json:"unregisterAt,omitempty"`
	Caller       crypto.Address `cbor:"6,keyasint" json:"caller"`
}

type TransferEvent struct {
	Sender             crypto.Address `cbor:"1,keyasint" json:"sender"`
	Recipient          string         `cbor:"2,keyasint" json:"recipient"`
	Token              crypto.Address `cbor:"3,keyasint" json:"token"`
	Amount             *big.Int       `cbor:"4,keyasint" json:"amount"`
	Fee                *big.Int       `cbor:"5,keyasint" json:"fee"`
	Nonce              uint64         `cbor:"6,keyasint" json:"nonce"`
	DestinationChainID uint64         `cbor:"7,keyasint,omitempty" json:"destinationChainId,omitempty"`
	Reason             string         `cbor:"8,keyasint,omitempty" json:"reason,omitempty"`
}

type SettlementEvent struct {
	SourceChainID    uint64         `cbor:"1,keyasint" json:"sourceChainId"`
	SourceTransferID string         `cbor:"2,keyasint" json:"sourceTransferId"`
	Recipient        crypto.Address `cbor:"3,keyasint" json:"recipient"`
	Token            crypto.Address `cbor:"4,keyasint" json:"token"`
	Amount           *big.Int       `cbor:"5,keyasint" json:"amount"`
	Nonce            uint64         `cbor:"6,keyasint" json:"nonce"`
	Signers          int            `cbor:"7,keyasint" json:"signers"`
}
