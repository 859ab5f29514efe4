package triedb

import (
	"github.com/VictoriaMetrics/fastcache"

	"github.com/ethnova/statecore/log"
	"github.com/ethnova/statecore/metrics"
	"github.com/ethnova/statecore/trie"
)

// CleanCache wraps a trie.NodeStore with a bounded fastcache of recently
// resolved node blobs, replacing the teacher's hand-rolled LRU with the
// allocation-free, GC-pressure-free clean-cache go-ethereum itself reaches
// for at this layer. Writes go through PutBatch/Commit to the backing store;
// PutBatch also warms the cache with every written entry, so until Commit
// runs a cache hit can return a blob the backing store has staged but not
// yet committed.
type CleanCache struct {
	backing trie.NodeStore
	cache   *fastcache.Cache
	log     *log.Logger

	hits   *metrics.Counter
	misses *metrics.Counter
}

// NewCleanCache wraps backing with an in-memory cache of maxBytes capacity.
func NewCleanCache(backing trie.NodeStore, maxBytes int) *CleanCache {
	return &CleanCache{
		backing: backing,
		cache:   fastcache.New(maxBytes),
		log:     log.Default().Module("triedb.cleancache"),
		hits:    metrics.DefaultRegistry.Counter("triedb.cleancache.hits"),
		misses:  metrics.DefaultRegistry.Counter("triedb.cleancache.misses"),
	}
}

// Get implements trie.NodeStore, consulting the cache before the backing
// store and populating the cache on a miss.
func (c *CleanCache) Get(path []byte) ([]byte, bool, error) {
	if blob := c.cache.Get(nil, path); blob != nil {
		c.hits.Inc()
		return blob, true, nil
	}
	c.misses.Inc()
	blob, found, err := c.backing.Get(path)
	if err != nil {
		return nil, false, err
	}
	if found {
		c.cache.Set(path, blob)
	}
	return blob, found, nil
}

// PutBatch implements trie.NodeStore, forwarding to the backing store and
// warming the cache with every written entry.
func (c *CleanCache) PutBatch(entries []trie.PutEntry) error {
	if err := c.backing.PutBatch(entries); err != nil {
		return err
	}
	for _, e := range entries {
		c.cache.Set(e.Path, e.Blob)
	}
	return nil
}

// Commit implements trie.NodeStore, forwarding to the backing store.
func (c *CleanCache) Commit() error {
	if err := c.backing.Commit(); err != nil {
		return err
	}
	c.log.Debug("triedb: clean cache commit", "entries", c.cache.Len())
	return nil
}

// Reset discards all cached entries without touching the backing store.
func (c *CleanCache) Reset() {
	c.cache.Reset()
}
