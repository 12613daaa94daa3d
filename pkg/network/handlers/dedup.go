package handlers

import (
	lru "github.com/hashicorp/golang-lru"

	"github.com/eigerco/cloudberry/internal/crypto"
)

// DedupCache remembers digests of recently accepted submissions so a request
// relayed by several service nodes at once hits the hub only once. The
// persistent nonce sets are the real replay protection; this cache just
// absorbs the burst before it reaches them. Rejected submissions are not
// remembered: a settlement that aborted on a transient ledger failure must
// stay resubmittable.
type DedupCache struct {
	cache *lru.Cache
	onHit func()
}

// NewDedupCache creates a cache of the given size. onHit, if non-nil, is
// called once per rejected duplicate.
func NewDedupCache(size int, onHit func()) (*DedupCache, error) {
	cache, err := lru.New(size)
	if err != nil {
		return nil, err
	}
	return &DedupCache{cache: cache, onHit: onHit}, nil
}

// Seen reports whether the digest was remembered.
func (d *DedupCache) Seen(digest crypto.Hash) bool {
	if d.cache.Contains(digest) {
		if d.onHit != nil {
			d.onHit()
		}
		return true
	}
	return false
}

// Remember records an accepted submission's digest.
func (d *DedupCache) Remember(digest crypto.Hash) {
	d.cache.Add(digest, struct{}{})
}
