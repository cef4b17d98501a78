package services

import (
	"fmt"
	"sync"
	"time"

	"acs-backend/application/queries"
	"acs-backend/domain/core/entities"
	"acs-backend/domain/core/valueobjects"

	"github.com/hashicorp/golang-lru/v2/expirable"
)

// cacheKey identifies one cached decision
type cacheKey struct {
	entityID entities.ID
	uri      string
	verb     valueobjects.Verb
}

// DecisionCache is the evaluator's bounded (entityId, uri, verb) lookup.
// Entries expire after the configured TTL; mutations invalidate the
// touched entity and everything that inherits from it. The expirable LRU
// is internally synchronized, so the cache is safe to share between the
// dispatcher goroutine and the config reloader.
type DecisionCache struct {
	// mu guards the lru pointer itself; SetTTL swaps in a fresh cache.
	mu   sync.RWMutex
	size int
	ttl  time.Duration
	lru  *expirable.LRU[cacheKey, queries.Decision]
}

// DefaultDecisionCacheSize bounds the lookup
const DefaultDecisionCacheSize = 8192

// DefaultDecisionCacheTTL is the default entry lifetime
const DefaultDecisionCacheTTL = 5 * time.Minute

// NewDecisionCache creates a bounded TTL cache
func NewDecisionCache(size int, ttl time.Duration) *DecisionCache {
	if size <= 0 {
		size = DefaultDecisionCacheSize
	}
	if ttl <= 0 {
		ttl = DefaultDecisionCacheTTL
	}
	return &DecisionCache{
		size: size,
		ttl:  ttl,
		lru:  expirable.NewLRU[cacheKey, queries.Decision](size, nil, ttl),
	}
}

func (c *DecisionCache) active() *expirable.LRU[cacheKey, queries.Decision] {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.lru
}

// Get returns the cached decision for the triple, if present
func (c *DecisionCache) Get(entityID entities.ID, uri string, verb valueobjects.Verb) (queries.Decision, bool) {
	return c.active().Get(cacheKey{entityID: entityID, uri: uri, verb: verb})
}

// Put stores a decision for the triple
func (c *DecisionCache) Put(entityID entities.ID, uri string, verb valueobjects.Verb, d queries.Decision) {
	c.active().Add(cacheKey{entityID: entityID, uri: uri, verb: verb}, d)
}

// InvalidateEntities drops every entry belonging to one of the ids.
// Callers pass the mutated entity plus its descendants.
func (c *DecisionCache) InvalidateEntities(ids []entities.ID) {
	if len(ids) == 0 {
		return
	}
	member := make(map[entities.ID]bool, len(ids))
	for _, id := range ids {
		member[id] = true
	}
	lru := c.active()
	for _, key := range lru.Keys() {
		if member[key.entityID] {
			lru.Remove(key)
		}
	}
}

// Purge drops every entry
func (c *DecisionCache) Purge() {
	c.active().Purge()
}

// Len returns the number of live entries
func (c *DecisionCache) Len() int {
	return c.active().Len()
}

// TTL returns the active entry lifetime
func (c *DecisionCache) TTL() time.Duration {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.ttl
}

// SetTTL rebuilds the cache with a new entry lifetime. The expirable
// LRU fixes its TTL at construction, so a change swaps in a fresh
// cache and drops every cached decision. Called by the config
// reloader.
func (c *DecisionCache) SetTTL(ttl time.Duration) {
	if ttl <= 0 {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if ttl == c.ttl {
		return
	}
	c.ttl = ttl
	c.lru = expirable.NewLRU[cacheKey, queries.Decision](c.size, nil, ttl)
}

// String describes the cache for debug logs
func (c *DecisionCache) String() string {
	return fmt.Sprintf("decision-cache(%d entries)", c.Len())
}
