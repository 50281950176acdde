package block

import (
	lru "github.com/hashicorp/golang-lru/v2"
)

// Pool is the buffer pool: an LRU of resident block buffers bounded by
// capacity, evicting the least-recently-used block first (§4.1, and
// SPEC_FULL.md's wiring of hashicorp/golang-lru for buffer-pool eviction).
type Pool struct {
	cache *lru.Cache[ID, []byte]
	owner *Manager
}

func newPool(capacity int, owner *Manager) *Pool {
	c, err := lru.New[ID, []byte](capacity)
	if err != nil {
		// capacity is always > 0 by construction in Open; this cannot fail.
		panic(err)
	}
	return &Pool{cache: c, owner: owner}
}

func (p *Pool) get(id ID) ([]byte, bool) {
	return p.cache.Get(id)
}

func (p *Pool) put(id ID, buf []byte) {
	p.cache.Add(id, buf)
}

func (p *Pool) evict(id ID) {
	p.cache.Remove(id)
}

// Len reports the number of blocks currently resident in the pool.
func (p *Pool) Len() int {
	return p.cache.Len()
}
