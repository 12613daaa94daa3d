package params

import (
	"encoding/binary"
	"errors"
	"fmt"

	"github.com/eigerco/cloudberry/pkg/db"
	"github.com/eigerco/cloudberry/pkg/db/pebble"
	"github.com/eigerco/cloudberry/pkg/serialization"
	"github.com/eigerco/cloudberry/pkg/serialization/codec"
)

const (
	prefixParam      byte = 0x02
	prefixChainParam byte = 0x03
)

var ser = serialization.NewSerializer(&codec.CBORCodec{})

// Store persists governed values in the shared hub store. Reads go straight
// to the store; writes are staged on the calling operation's batch.
type Store struct {
	db db.KVStore
}

func NewStore(kv db.KVStore) *Store {
	return &Store{db: kv}
}

func singleKey(name Name) []byte {
	key := make([]byte, 1+len(name))
	key[0] = prefixParam
	copy(key[1:], name)
	return key
}

func chainKey(chainID uint64, name Name) []byte {
	key := make([]byte, 1+8+len(name))
	key[0] = prefixChainParam
	binary.BigEndian.PutUint64(key[1:9], chainID)
	copy(key[9:], name)
	return key
}

// Get returns a single-value governed parameter.
func (s *Store) Get(name Name) (GovernedValue, error) {
	return s.get(singleKey(name))
}

// Put stages a single-value governed parameter on the batch.
func (s *Store) Put(batch db.Batch, name Name, v GovernedValue) error {
	return put(batch, singleKey(name), v)
}

// GetChain returns a per-blockchain governed parameter.
func (s *Store) GetChain(chainID uint64, name Name) (GovernedValue, error) {
	return s.get(chainKey(chainID, name))
}

// PutChain stages a per-blockchain governed parameter on the batch.
func (s *Store) PutChain(batch db.Batch, chainID uint64, name Name, v GovernedValue) error {
	return put(batch, chainKey(chainID, name), v)
}

// Current is a convenience read of just the current value.
func (s *Store) Current(name Name) (uint64, error) {
	v, err := s.Get(name)
	if err != nil {
		return 0, err
	}
	return v.Current, nil
}

func (s *Store) get(key []byte) (GovernedValue, error) {
	raw, err := s.db.Get(key)
	if err != nil {
		if errors.Is(err, pebble.ErrNotFound) {
			return GovernedValue{}, ErrUnknownParameter
		}
		return GovernedValue{}, fmt.Errorf("get parameter: %w", err)
	}
	var v GovernedValue
	if err := ser.Decode(raw, &v); err != nil {
		return GovernedValue{}, fmt.Errorf("decode parameter: %w", err)
	}
	return v, nil
}

func put(batch db.Batch, key []byte, v GovernedValue) error {
	raw, err := ser.Encode(v)
	if err != nil {
		return fmt.Errorf("encode parameter: %w", err)
	}
	return batch.Put(key, raw)
}
