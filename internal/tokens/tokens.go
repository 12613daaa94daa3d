package tokens

import (
	"encoding/binary"
	"errors"
	"fmt"

	"github.com/eigerco/cloudberry/internal/crypto"
	"github.com/eigerco/cloudberry/pkg/db"
	"github.com/eigerco/cloudberry/pkg/db/pebble"
	"github.com/eigerco/cloudberry/pkg/serialization"
	"github.com/eigerco/cloudberry/pkg/serialization/codec"
)

var (
	ErrNotRegistered         = errors.New("token not registered")
	ErrExternalNotRegistered = errors.New("external token not registered for chain")
)

const (
	prefixToken         byte = 0x05
	prefixExternalToken byte = 0x06
)

var ser = serialization.NewSerializer(&codec.CBORCodec{})

// Record is a local token registration. Owner may manage the token's
// external mappings and unregister it.
type Record struct {
	Active bool           `cbor:"1,keyasint"`
	Owner  crypto.Address `cbor:"2,keyasint"`
}

// ExternalRecord maps a local token to its counterpart address on one
// external chain. The address is an opaque string in the other chain's
// format; only this side of the mapping is enforced, the far chain registers
// the mirror record by convention.
type ExternalRecord struct {
	Active        bool   `cbor:"1,keyasint"`
	ExternalToken string `cbor:"2,keyasint"`
}

// Registry tracks local token registrations and their per-chain external
// token mappings.
type Registry struct {
	db db.KVStore
}

func NewRegistry(kv db.KVStore) *Registry {
	return &Registry{db: kv}
}

func tokenKey(token crypto.Address) []byte {
	k := make([]byte, 1+crypto.AddressSize)
	k[0] = prefixToken
	copy(k[1:], token[:])
	return k
}

func externalKey(token crypto.Address, chainID uint64) []byte {
	k := make([]byte, 1+crypto.AddressSize+8)
	k[0] = prefixExternalToken
	copy(k[1:], token[:])
	binary.BigEndian.PutUint64(k[1+crypto.AddressSize:], chainID)
	return k
}

// Get returns the registration record for a local token.
func (r *Registry) Get(token crypto.Address) (Record, error) {
	raw, err := r.db.Get(tokenKey(token))
	if err != nil {
		if errors.Is(err, pebble.ErrNotFound) {
			return Record{}, ErrNotRegistered
		}
		return Record{}, fmt.Errorf("get token record: %w", err)
	}
	var rec Record
	if err := ser.Decode(raw, &rec); err != nil {
		return Record{}, fmt.Errorf("decode token record: %w", err)
	}
	return rec, nil
}

// IsActive reports whether the token is registered and active.
func (r *Registry) IsActive(token crypto.Address) (bool, error) {
	rec, err := r.Get(token)
	if errors.Is(err, ErrNotRegistered) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return rec.Active, nil
}

// Put stages a token record on the batch.
func (r *Registry) Put(batch db.Batch, token crypto.Address, rec Record) error {
	raw, err := ser.Encode(rec)
	if err != nil {
		return fmt.Errorf("encode token record: %w", err)
	}
	return batch.Put(tokenKey(token), raw)
}

// GetExternal returns the external mapping for (token, chainID).
func (r *Registry) GetExternal(token crypto.Address, chainID uint64) (ExternalRecord, error) {
	raw, err := r.db.Get(externalKey(token, chainID))
	if err != nil {
		if errors.Is(err, pebble.ErrNotFound) {
			return ExternalRecord{}, ErrExternalNotRegistered
		}
		return ExternalRecord{}, fmt.Errorf("get external token record: %w", err)
	}
	var rec ExternalRecord
	if err := ser.Decode(raw, &rec); err != nil {
		return ExternalRecord{}, fmt.Errorf("decode external token record: %w", err)
	}
	return rec, nil
}

// IsExternalActive reports whether an active external mapping exists for
// (token, chainID).
func (r *Registry) IsExternalActive(token crypto.Address, chainID uint64) (bool, error) {
	rec, err := r.GetExternal(token, chainID)
	if errors.Is(err, ErrExternalNotRegistered) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return rec.Active, nil
}

// PutExternal stages an external mapping on the batch.
func (r *Registry) PutExternal(batch db.Batch, token crypto.Address, chainID uint64, rec ExternalRecord) error {
	raw, err := ser.Encode(rec)
	if err != nil {
		return fmt.Errorf("encode external token record: %w", err)
	}
	return batch.Put(externalKey(token, chainID), raw)
}

// ListEntry pairs a token address with its record for enumeration.
type ListEntry struct {
	Token  crypto.Address `cbor:"1,keyasint" json:"token"`
	Record Record         `cbor:"2,keyasint" json:"record"`
}

// List returns every registered token ordered by address.
func (r *Registry) List() ([]ListEntry, error) {
	iter, err := r.db.NewIterator([]byte{prefixToken}, []byte{prefixToken + 1})
	if err != nil {
		return nil, fmt.Errorf("create token iterator: %w", err)
	}
	defer iter.Close()

	var entries []ListEntry
	for iter.Next() {
		k := iter.Key()
		if len(k) != 1+crypto.AddressSize {
			continue
		}
		raw, err := iter.Value()
		if err != nil {
			return nil, fmt.Errorf("read token record: %w", err)
		}
		var rec Record
		if err := ser.Decode(raw, &rec); err != nil {
			return nil, fmt.Errorf("decode token record: %w", err)
		}
		var token crypto.Address
		copy(token[:], k[1:])
		entries = append(entries, ListEntry{Token: token, Record: rec})
	}
	return entries, nil
}
