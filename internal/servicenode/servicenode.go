package servicenode

import (
	"errors"
	"fmt"

	"github.com/eigerco/cloudberry/internal/chaintime"
	"github.com/eigerco/cloudberry/internal/crypto"
	"github.com/eigerco/cloudberry/pkg/db"
	"github.com/eigerco/cloudberry/pkg/db/pebble"
	"github.com/eigerco/cloudberry/pkg/serialization"
	"github.com/eigerco/cloudberry/pkg/serialization/codec"
)

var (
	ErrNotRegistered = errors.New("service node not registered")
	ErrNoCommitment  = errors.New("no commitment for caller")
	ErrURLTaken      = errors.New("url already in use by an active service node")
)

const (
	prefixServiceNode byte = 0x07
	prefixURLIndex    byte = 0x08
	prefixCommitment  byte = 0x09
)

var ser = serialization.NewSerializer(&codec.CBORCodec{})

// Record is a service node's lifecycle state. A node is active, or
// inactive-and-unbonding (UnregisterAt set, deposit locked), or fully
// withdrawn (deposit zero). URL uniqueness is enforced among active nodes
// only, through a separate index.
type Record struct {
	URL               string         `cbor:"1,keyasint"`
	Deposit           uint64         `cbor:"2,keyasint"`
	Active            bool           `cbor:"3,keyasint"`
	UnregisterAt      chaintime.Time `cbor:"4,keyasint"`
	WithdrawalAddress crypto.Address `cbor:"5,keyasint"`
}

// Unbonding reports whether the node has unregistered but still holds its
// deposit.
func (r Record) Unbonding() bool {
	return !r.Active && r.Deposit > 0
}

// Commitment proves its committer pre-declared a hash before revealing the
// preimage in a later registration or URL update.
type Commitment struct {
	Committer crypto.Address `cbor:"1,keyasint"`
	Hash      crypto.Hash    `cbor:"2,keyasint"`
	At        chaintime.Time `cbor:"3,keyasint"`
}

// Registry persists service node records, registration commitments and the
// active-URL uniqueness index.
type Registry struct {
	db db.KVStore
}

func NewRegistry(kv db.KVStore) *Registry {
	return &Registry{db: kv}
}

func nodeKey(node crypto.Address) []byte {
	k := make([]byte, 1+crypto.AddressSize)
	k[0] = prefixServiceNode
	copy(k[1:], node[:])
	return k
}

func urlKey(url string) []byte {
	hashed := crypto.KeccakData([]byte(url))
	k := make([]byte, 1+crypto.HashSize)
	k[0] = prefixURLIndex
	copy(k[1:], hashed[:])
	return k
}

func commitmentKey(committer crypto.Address) []byte {
	k := make([]byte, 1+crypto.AddressSize)
	k[0] = prefixCommitment
	copy(k[1:], committer[:])
	return k
}

// Get returns the record for a node address, or ErrNotRegistered if the node
// has never registered (or was fully cleared).
func (r *Registry) Get(node crypto.Address) (Record, error) {
	raw, err := r.db.Get(nodeKey(node))
	if err != nil {
		if errors.Is(err, pebble.ErrNotFound) {
			return Record{}, ErrNotRegistered
		}
		return Record{}, fmt.Errorf("get service node record: %w", err)
	}
	var rec Record
	if err := ser.Decode(raw, &rec); err != nil {
		return Record{}, fmt.Errorf("decode service node record: %w", err)
	}
	return rec, nil
}

// Put stages a record on the batch.
func (r *Registry) Put(batch db.Batch, node crypto.Address, rec Record) error {
	raw, err := ser.Encode(rec)
	if err != nil {
		return fmt.Errorf("encode service node record: %w", err)
	}
	return batch.Put(nodeKey(node), raw)
}

// URLOwner returns the node currently holding a URL in the active-URL index,
// if any.
func (r *Registry) URLOwner(url string) (crypto.Address, bool, error) {
	raw, err := r.db.Get(urlKey(url))
	if errors.Is(err, pebble.ErrNotFound) {
		return crypto.Address{}, false, nil
	}
	if err != nil {
		return crypto.Address{}, false, fmt.Errorf("get url index: %w", err)
	}
	var owner crypto.Address
	copy(owner[:], raw)
	return owner, true, nil
}

// CheckURLFree fails with ErrURLTaken if the URL belongs to an active node
// other than the claimant.
func (r *Registry) CheckURLFree(url string, claimant crypto.Address) error {
	owner, taken, err := r.URLOwner(url)
	if err != nil {
		return err
	}
	if taken && owner != claimant {
		return ErrURLTaken
	}
	return nil
}

// ClaimURL stages the URL index entry for a node on the batch.
func (r *Registry) ClaimURL(batch db.Batch, url string, node crypto.Address) error {
	return batch.Put(urlKey(url), node[:])
}

// ReleaseURL stages removal of the URL index entry.
func (r *Registry) ReleaseURL(batch db.Batch, url string) error {
	return batch.Delete(urlKey(url))
}

// GetCommitment returns the caller's outstanding commitment.
func (r *Registry) GetCommitment(committer crypto.Address) (Commitment, error) {
	raw, err := r.db.Get(commitmentKey(committer))
	if err != nil {
		if errors.Is(err, pebble.ErrNotFound) {
			return Commitment{}, ErrNoCommitment
		}
		return Commitment{}, fmt.Errorf("get commitment: %w", err)
	}
	var c Commitment
	if err := ser.Decode(raw, &c); err != nil {
		return Commitment{}, fmt.Errorf("decode commitment: %w", err)
	}
	return c, nil
}

// PutCommitment stages a commitment on the batch, replacing any prior
// commitment by the same committer.
func (r *Registry) PutCommitment(batch db.Batch, c Commitment) error {
	raw, err := ser.Encode(c)
	if err != nil {
		return fmt.Errorf("encode commitment: %w", err)
	}
	return batch.Put(commitmentKey(c.Committer), raw)
}

// DeleteCommitment stages removal of the committer's commitment; a revealed
// commitment is consumed and cannot authorize a second registration.
func (r *Registry) DeleteCommitment(batch db.Batch, committer crypto.Address) error {
	return batch.Delete(commitmentKey(committer))
}

// ListEntry pairs a node address with its record for enumeration.
type ListEntry struct {
	Node   crypto.Address `cbor:"1,keyasint" json:"node"`
	Record Record         `cbor:"2,keyasint" json:"record"`
}

// List returns every service node record ordered by address.
func (r *Registry) List() ([]ListEntry, error) {
	iter, err := r.db.NewIterator([]byte{prefixServiceNode}, []byte{prefixServiceNode + 1})
	if err != nil {
		return nil, fmt.Errorf("create service node iterator: %w", err)
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
			return nil, fmt.Errorf("read service node record: %w", err)
		}
		var rec Record
		if err := ser.Decode(raw, &rec); err != nil {
			return nil, fmt.Errorf("decode service node record: %w", err)
		}
		var node crypto.Address
		copy(node[:], k[1:])
		entries = append(entries, ListEntry{Node: node, Record: rec})
	}
	return entries, nil
}
