package planner

import (
	"strings"

	"github.com/cespare/xxhash/v2"
	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/minsql/minsql/lang"
	"github.com/minsql/minsql/telemetry"
)

// PlanCache memoizes lowered intents keyed by normalized query text.
// Schema changes must Purge it, since cached intents bind to column sets
// resolved at analysis time.
type PlanCache struct {
	cache  *lru.Cache[uint64, lang.Intent]
	hits   telemetry.Counter
	misses telemetry.Counter
}

// NewPlanCache creates a cache holding up to size entries
func NewPlanCache(size int) (*PlanCache, error) {
	cache, err := lru.New[uint64, lang.Intent](size)
	if err != nil {
		return nil, err
	}
	return &PlanCache{
		cache:  cache,
		hits:   telemetry.NewCounter("plan_cache_hits", "Plan cache lookup hits"),
		misses: telemetry.NewCounter("plan_cache_misses", "Plan cache lookup misses"),
	}, nil
}

// Get returns the cached intent for a query, if present
func (c *PlanCache) Get(query string) (lang.Intent, bool) {
	intent, ok := c.cache.Get(cacheKey(query))
	if ok {
		c.hits.Inc()
	} else {
		c.misses.Inc()
	}
	return intent, ok
}

// Put stores an intent under the query's key
func (c *PlanCache) Put(query string, intent lang.Intent) {
	c.cache.Add(cacheKey(query), intent)
}

// Purge drops every entry. Called after schema changes.
func (c *PlanCache) Purge() {
	c.cache.Purge()
}

// Len returns the number of cached entries
func (c *PlanCache) Len() int {
	return c.cache.Len()
}

// cacheKey hashes the whitespace-normalized query text
func cacheKey(query string) uint64 {
	return xxhash.Sum64String(strings.Join(strings.Fields(query), " "))
}
