package fetch

import (
	"github.com/sarchlab/uarchsim/timing/cache"
)

// CacheAdapter adapts a timing/cache.Cache into the ICache interface
// the fetch coupler consults on a trace-cache miss.
type CacheAdapter struct {
	cache *cache.Cache
}

// NewCacheAdapter wraps c for use as an ICache.
func NewCacheAdapter(c *cache.Cache) *CacheAdapter {
	return &CacheAdapter{cache: c}
}

// Access reads one instruction-sized word from lineAddr, reporting
// whether it hit and the cycle the line becomes available.
func (a *CacheAdapter) Access(cycle uint64, lineAddr uint64) (hit bool, resolveCycle uint64) {
	result := a.cache.Read(lineAddr, 4)
	return result.Hit, cycle + result.Latency
}
