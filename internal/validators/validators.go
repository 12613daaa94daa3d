package validators

import (
	"errors"
	"fmt"

	"github.com/eigerco/cloudberry/internal/crypto"
	"github.com/eigerco/cloudberry/pkg/db"
	"github.com/eigerco/cloudberry/pkg/db/pebble"
)

var (
	ErrAlreadyRegistered = errors.New("validator already registered")
	ErrNotRegistered     = errors.New("validator not registered")
)

const prefixValidator byte = 0x0c

var registered = []byte{0x01}

// Set is the admin-governed validator node membership. Quorum verification
// of inbound settlements consults it: every signer must be a current member.
// Membership is not elected; governance adds and removes members, and both
// operations stay available while the hub is paused so a compromised
// validator can be ejected during an incident.
type Set struct {
	db db.KVStore
}

func NewSet(kv db.KVStore) *Set {
	return &Set{db: kv}
}

func key(addr crypto.Address) []byte {
	k := make([]byte, 1+crypto.AddressSize)
	k[0] = prefixValidator
	copy(k[1:], addr[:])
	return k
}

// IsRegistered reports whether addr is a current validator node.
func (s *Set) IsRegistered(addr crypto.Address) (bool, error) {
	_, err := s.db.Get(key(addr))
	if errors.Is(err, pebble.ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("read validator record: %w", err)
	}
	return true, nil
}

// Add stages membership for addr on the batch. Fails if already a member.
func (s *Set) Add(batch db.Batch, addr crypto.Address) error {
	member, err := s.IsRegistered(addr)
	if err != nil {
		return err
	}
	if member {
		return ErrAlreadyRegistered
	}
	return batch.Put(key(addr), registered)
}

// Remove stages removal of addr on the batch. Fails if not a member.
func (s *Set) Remove(batch db.Batch, addr crypto.Address) error {
	member, err := s.IsRegistered(addr)
	if err != nil {
		return err
	}
	if !member {
		return ErrNotRegistered
	}
	return batch.Delete(key(addr))
}

// List returns all members ordered by address.
func (s *Set) List() ([]crypto.Address, error) {
	iter, err := s.db.NewIterator([]byte{prefixValidator}, []byte{prefixValidator + 1})
	if err != nil {
		return nil, fmt.Errorf("create validator iterator: %w", err)
	}
	defer iter.Close()

	var members []crypto.Address
	for iter.Next() {
		k := iter.Key()
		if len(k) != 1+crypto.AddressSize {
			continue
		}
		var addr crypto.Address
		copy(addr[:], k[1:])
		members = append(members, addr)
	}
	return members, nil
}

// Count returns the current membership size.
func (s *Set) Count() (int, error) {
	members, err := s.List()
	if err != nil {
		return 0, err
	}
	return len(members), nil
}
