package chains

import (
	"encoding/binary"
	"errors"
	"fmt"

	"github.com/eigerco/cloudberry/pkg/db"
	"github.com/eigerco/cloudberry/pkg/db/pebble"
	"github.com/eigerco/cloudberry/pkg/serialization"
	"github.com/eigerco/cloudberry/pkg/serialization/codec"
)

var (
	ErrNotRegistered = errors.New("blockchain not registered")
)

const prefixBlockchain byte = 0x04

var ser = serialization.NewSerializer(&codec.CBORCodec{})

// Record describes a registered blockchain. Unregistering flips Active to
// false; the record itself persists for historical reads, as does the chain's
// fee-factor governance state.
type Record struct {
	Active bool   `cbor:"1,keyasint"`
	Name   string `cbor:"2,keyasint"`
}

// Registry tracks which external blockchain IDs the hub knows about, plus the
// local chain's own ID (registered at genesis and always active). A transfer
// referencing an unknown or inactive chain fails verification.
type Registry struct {
	db db.KVStore
}

func NewRegistry(kv db.KVStore) *Registry {
	return &Registry{db: kv}
}

func key(chainID uint64) []byte {
	k := make([]byte, 1+8)
	k[0] = prefixBlockchain
	binary.BigEndian.PutUint64(k[1:], chainID)
	return k
}

// Get returns the record for a chain ID, or ErrNotRegistered.
func (r *Registry) Get(chainID uint64) (Record, error) {
	raw, err := r.db.Get(key(chainID))
	if err != nil {
		if errors.Is(err, pebble.ErrNotFound) {
			return Record{}, ErrNotRegistered
		}
		return Record{}, fmt.Errorf("get blockchain record: %w", err)
	}
	var rec Record
	if err := ser.Decode(raw, &rec); err != nil {
		return Record{}, fmt.Errorf("decode blockchain record: %w", err)
	}
	return rec, nil
}

// Exists reports whether a record for the chain ID exists, active or not.
func (r *Registry) Exists(chainID uint64) (bool, error) {
	_, err := r.Get(chainID)
	if errors.Is(err, ErrNotRegistered) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

// IsActive reports whether the chain is registered and active.
func (r *Registry) IsActive(chainID uint64) (bool, error) {
	rec, err := r.Get(chainID)
	if errors.Is(err, ErrNotRegistered) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return rec.Active, nil
}

// Put stages a record on the batch.
func (r *Registry) Put(batch db.Batch, chainID uint64, rec Record) error {
	raw, err := ser.Encode(rec)
	if err != nil {
		return fmt.Errorf("encode blockchain record: %w", err)
	}
	return batch.Put(key(chainID), raw)
}

// ListEntry pairs a chain ID with its record for enumeration.
type ListEntry struct {
	ChainID uint64 `cbor:"1,keyasint" json:"chainId"`
	Record  Record `cbor:"2,keyasint" json:"record"`
}

// List returns every known blockchain record ordered by chain ID.
func (r *Registry) List() ([]ListEntry, error) {
	iter, err := r.db.NewIterator([]byte{prefixBlockchain}, []byte{prefixBlockchain + 1})
	if err != nil {
		return nil, fmt.Errorf("create blockchain iterator: %w", err)
	}
	defer iter.Close()

	var entries []ListEntry
	for iter.Next() {
		k := iter.Key()
		if len(k) != 1+8 {
			continue
		}
		raw, err := iter.Value()
		if err != nil {
			return nil, fmt.Errorf("read blockchain record: %w", err)
		}
		var rec Record
		if err := ser.Decode(raw, &rec); err != nil {
			return nil, fmt.Errorf("decode blockchain record: %w", err)
		}
		entries = append(entries, ListEntry{
			ChainID: binary.BigEndian.Uint64(k[1:]),
			Record:  rec,
		})
	}
	return entries, nil
}
