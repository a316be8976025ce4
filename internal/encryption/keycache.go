package encryption

import (
	"sync"

	"carecore/pkg/domain"
)

type cacheKey struct {
	org  domain.OrgID
	info string
}

// KeyCache memoizes derived keys per organization and purpose. Keys live only
// in process memory and are never persisted.
type KeyCache struct {
	mu   sync.RWMutex
	keys map[cacheKey][]byte
}

// NewKeyCache returns an empty cache.
func NewKeyCache() *KeyCache {
	return &KeyCache{keys: make(map[cacheKey][]byte)}
}

func (c *KeyCache) get(org domain.OrgID, info string) ([]byte, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	k, ok := c.keys[cacheKey{org: org, info: info}]
	return k, ok
}

// put stores key unless another goroutine got there first; both derived the
// same bytes so the first writer wins.
func (c *KeyCache) put(org domain.OrgID, info string, key []byte) []byte {
	c.mu.Lock()
	defer c.mu.Unlock()
	ck := cacheKey{org: org, info: info}
	if existing, ok := c.keys[ck]; ok {
		return existing
	}
	c.keys[ck] = key
	return key
}

// Len reports how many keys are cached.
func (c *KeyCache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.keys)
}

// Purge drops every cached key for org, e.g. after an org is offboarded.
func (c *KeyCache) Purge(org domain.OrgID) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for k := range c.keys {
		if k.org == org {
			delete(c.keys, k)
		}
	}
}
