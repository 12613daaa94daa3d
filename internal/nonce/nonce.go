package nonce

import (
	"encoding/binary"
	"errors"
	"fmt"

	"github.com/eigerco/cloudberry/internal/crypto"
	"github.com/eigerco/cloudberry/pkg/db"
	"github.com/eigerco/cloudberry/pkg/db/pebble"
)

// ErrReplayed is returned when a request reuses a consumed nonce.
var ErrReplayed = errors.New("nonce already consumed")

const (
	prefixSenderNonce    byte = 0x0a
	prefixValidatorNonce byte = 0x0b
)

// consumed marker value; consumed-ness is permanent, so the value carries no
// information beyond key existence.
var consumed = []byte{0x01}

// Ledger tracks consumed nonces: one set per sender for user-initiated
// requests and authenticated governance calls, and a single network-wide set
// for validator-signed settlements. Nonces are arbitrary, not sequential; a
// consumed nonce is never valid again. Consumption is the protocol's only
// concurrency-control primitive: of two requests racing on a nonce, whichever
// is sequenced first wins and the second fails its validity check.
type Ledger struct {
	db db.KVStore
}

func NewLedger(kv db.KVStore) *Ledger {
	return &Ledger{db: kv}
}

func senderKey(sender crypto.Address, nonce uint64) []byte {
	key := make([]byte, 1+crypto.AddressSize+8)
	key[0] = prefixSenderNonce
	copy(key[1:], sender[:])
	binary.BigEndian.PutUint64(key[1+crypto.AddressSize:], nonce)
	return key
}

func validatorKey(nonce uint64) []byte {
	key := make([]byte, 1+8)
	key[0] = prefixValidatorNonce
	binary.BigEndian.PutUint64(key[1:], nonce)
	return key
}

// IsValidSenderNonce reports whether the nonce has not been consumed for the
// sender. A side-effect-free view.
func (l *Ledger) IsValidSenderNonce(sender crypto.Address, nonce uint64) (bool, error) {
	return l.unused(senderKey(sender, nonce))
}

// IsValidValidatorNonce reports whether the nonce has not been consumed in
// the network-wide settlement set. A side-effect-free view.
func (l *Ledger) IsValidValidatorNonce(nonce uint64) (bool, error) {
	return l.unused(validatorKey(nonce))
}

// ConsumeSender stages consumption of a sender nonce on the batch. The hub
// commits it together with the state transition the nonce authorizes, so
// verification and consumption are atomic.
func (l *Ledger) ConsumeSender(batch db.Batch, sender crypto.Address, nonce uint64) error {
	return batch.Put(senderKey(sender, nonce), consumed)
}

// ConsumeValidator stages consumption of a network-wide settlement nonce.
func (l *Ledger) ConsumeValidator(batch db.Batch, nonce uint64) error {
	return batch.Put(validatorKey(nonce), consumed)
}

func (l *Ledger) unused(key []byte) (bool, error) {
	_, err := l.db.Get(key)
	if errors.Is(err, pebble.ErrNotFound) {
		return true, nil
	}
	if err != nil {
		return false, fmt.Errorf("read nonce: %w", err)
	}
	return false, nil
}
