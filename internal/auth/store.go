package auth

import (
	"errors"
	"fmt"

	"github.com/eigerco/cloudberry/internal/crypto"
	"github.com/eigerco/cloudberry/pkg/db"
	"github.com/eigerco/cloudberry/pkg/db/pebble"
)

const prefixRole byte = 0x0d

var granted = []byte{0x01}

// StoreAuthority is the store-backed Authority: one key per (capability,
// address) grant. Genesis seeds the initial grants; CriticalOps may grant
// and revoke afterwards.
type StoreAuthority struct {
	db db.KVStore
}

func NewStoreAuthority(kv db.KVStore) *StoreAuthority {
	return &StoreAuthority{db: kv}
}

func roleKey(c Capability, addr crypto.Address) []byte {
	k := make([]byte, 1+len(c)+crypto.AddressSize)
	k[0] = prefixRole
	copy(k[1:], c)
	copy(k[1+len(c):], addr[:])
	return k
}

// HasCapability reports whether addr holds the capability.
func (a *StoreAuthority) HasCapability(addr crypto.Address, c Capability) (bool, error) {
	_, err := a.db.Get(roleKey(c, addr))
	if errors.Is(err, pebble.ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("read role grant: %w", err)
	}
	return true, nil
}

// Grant stages a capability grant on the batch.
func (a *StoreAuthority) Grant(batch db.Batch, addr crypto.Address, c Capability) error {
	if !c.Valid() {
		return fmt.Errorf("grant: invalid capability %q", c)
	}
	return batch.Put(roleKey(c, addr), granted)
}

// Revoke stages removal of a capability grant on the batch.
func (a *StoreAuthority) Revoke(batch db.Batch, addr crypto.Address, c Capability) error {
	if !c.Valid() {
		return fmt.Errorf("revoke: invalid capability %q", c)
	}
	return batch.Delete(roleKey(c, addr))
}
