// Package chunkcache implements the bounded on-disk cache of encrypted
// chunk blobs described in spec.md §4.3/§4.7: get/put with LRU eviction,
// refcounted pin/unpin, graduation of bypass-fetched chunks, and startup
// reindexing by file mtime.
//
// Grounded on the teacher's layered approach to bounded state (bounded
// worker pools guarded by a mutex, eviction driven by a size accountant)
// and on hashicorp/golang-lru for recency ordering, the same library the
// wider retrieval pack reaches for when it needs an LRU structure.
package chunkcache

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/sirupsen/logrus"

	"github.com/kenneth/bae-engine/internal/errs"
	"github.com/kenneth/bae-engine/internal/ids"
)

// entry tracks accounting for one on-disk cached blob.
type entry struct {
	size    int64
	pinRefs int
}

// MetricsRecorder is the narrow slice of *metrics.Metrics the cache reports
// through. Left nil, a Cache records nothing.
type MetricsRecorder interface {
	RecordChunkCacheEviction()
	RecordChunkCacheGraduation()
}

// Cache is a bounded, disk-backed store of encrypted chunk blobs keyed by
// chunk id. It is safe for concurrent use.
type Cache struct {
	mu         sync.Mutex
	dir        string
	maxBytes   int64
	maxEntries int
	totalBytes int64

	recency *lru.Cache[ids.ID, struct{}] // pure recency ordering, eviction candidates drawn oldest-first
	entries map[ids.ID]*entry

	log     *logrus.Entry
	metrics MetricsRecorder
}

// SetMetrics attaches a metrics recorder. Optional; a nil m leaves the
// cache silently unmeasured.
func (c *Cache) SetMetrics(m MetricsRecorder) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.metrics = m
}

// Config bounds the cache (spec.md §4.3/§6).
type Config struct {
	Directory  string
	MaxBytes   int64
	MaxEntries int
}

// Open constructs a Cache rooted at cfg.Directory, creating it if absent,
// and reindexes any blobs already present (spec.md §4.3: "the cache
// survives process restarts").
func Open(cfg Config, log *logrus.Entry) (*Cache, error) {
	if err := os.MkdirAll(cfg.Directory, 0o755); err != nil {
		return nil, errs.Wrap(errs.KindCache, "chunkcache", "failed to create cache directory", err)
	}

	// Capacity must exceed maxEntries to let oversized transient pinned-only
	// states described by spec.md §4.3 still be tracked; golang-lru's own
	// eviction is never relied on, we manage ordering purely as a FIFO of
	// "most recently touched" ids via Add/Get so the true eviction decision
	// stays under our pin-aware control below.
	recency, err := lru.New[ids.ID, struct{}](cfg.MaxEntries + 1)
	if err != nil {
		return nil, errs.Wrap(errs.KindCache, "chunkcache", "failed to construct recency tracker", err)
	}

	c := &Cache{
		dir:        cfg.Directory,
		maxBytes:   cfg.MaxBytes,
		maxEntries: cfg.MaxEntries,
		recency:    recency,
		entries:    make(map[ids.ID]*entry),
		log:        log,
	}

	if err := c.reindex(); err != nil {
		return nil, err
	}
	return c, nil
}

// reindex walks the cache directory at startup and recovers the recency
// order by file mtime, best-effort (spec.md §4.3).
func (c *Cache) reindex() error {
	matches, err := filepath.Glob(filepath.Join(c.dir, "*.blob"))
	if err != nil {
		return errs.Wrap(errs.KindCache, "chunkcache", "failed to glob cache directory", err)
	}

	type found struct {
		id    ids.ID
		size  int64
		mtime time.Time
	}
	var items []found
	for _, path := range matches {
		base := filepath.Base(path)
		idStr := base[:len(base)-len(".blob")]
		id, err := ids.Parse(idStr)
		if err != nil {
			c.log.WithField("path", path).Warn("chunkcache: skipping unrecognized cache file during reindex")
			continue
		}
		fi, err := os.Stat(path)
		if err != nil {
			continue
		}
		items = append(items, found{id: id, size: fi.Size(), mtime: fi.ModTime()})
	}

	sort.Slice(items, func(i, j int) bool { return items[i].mtime.Before(items[j].mtime) })

	for _, it := range items {
		c.entries[it.id] = &entry{size: it.size}
		c.recency.Add(it.id, struct{}{})
		c.totalBytes += it.size
	}
	c.log.WithField("count", len(items)).Info("chunkcache: reindexed on-disk cache")
	return nil
}

func (c *Cache) path(id ids.ID) string {
	return filepath.Join(c.dir, id.String()+".blob")
}

// Get returns the cached blob for id, or (nil, false) on miss. A hit
// refreshes the recency ordering. Read I/O errors are treated as misses,
// per spec.md §4.3 ("cache is a hint, not authority").
func (c *Cache) Get(id ids.ID) ([]byte, bool) {
	c.mu.Lock()
	_, present := c.entries[id]
	c.mu.Unlock()
	if !present {
		return nil, false
	}

	data, err := os.ReadFile(c.path(id))
	if err != nil {
		c.log.WithError(err).WithField("chunk_id", id.String()).Warn("chunkcache: read failed, treating as miss")
		return nil, false
	}

	c.mu.Lock()
	c.recency.Add(id, struct{}{})
	c.mu.Unlock()
	return data, true
}

// Put inserts or replaces the blob for id, then evicts least-recently-used
// non-pinned entries until the cache is within bounds (spec.md §4.3).
// Write errors are logged and non-fatal.
func (c *Cache) Put(id ids.ID, data []byte) {
	if err := os.WriteFile(c.path(id), data, 0o644); err != nil {
		c.log.WithError(err).WithField("chunk_id", id.String()).Warn("chunkcache: write failed, continuing without caching")
		return
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if old, ok := c.entries[id]; ok {
		c.totalBytes -= old.size
		old.size = int64(len(data))
	} else {
		c.entries[id] = &entry{size: int64(len(data))}
	}
	c.totalBytes += int64(len(data))
	c.recency.Add(id, struct{}{})

	c.evictLocked()
}

// evictLocked removes least-recently-used non-pinned entries while bounds
// are exceeded. If only pinned entries remain, it stops and logs a
// warning instead of violating pin semantics (spec.md §4.3).
func (c *Cache) evictLocked() {
	for c.totalBytes > c.maxBytes || len(c.entries) > c.maxEntries {
		keys := c.recency.Keys()
		evicted := false
		for _, id := range keys {
			ent, ok := c.entries[id]
			if !ok || ent.pinRefs > 0 {
				continue
			}
			c.recency.Remove(id)
			delete(c.entries, id)
			c.totalBytes -= ent.size
			if err := os.Remove(c.path(id)); err != nil && !os.IsNotExist(err) {
				c.log.WithError(err).WithField("chunk_id", id.String()).Warn("chunkcache: failed to remove evicted blob")
			}
			if c.metrics != nil {
				c.metrics.RecordChunkCacheEviction()
			}
			evicted = true
			break
		}
		if !evicted {
			c.log.WithFields(logrus.Fields{
				"total_bytes": c.totalBytes,
				"max_bytes":   c.maxBytes,
				"entries":     len(c.entries),
				"max_entries": c.maxEntries,
			}).Warn("chunkcache: all remaining entries pinned, cache exceeds configured bounds")
			return
		}
	}
}

// Pin increments the pin refcount for each id, making them ineligible for
// eviction until unpinned an equal number of times.
func (c *Cache) Pin(chunkIDs []ids.ID) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, id := range chunkIDs {
		if ent, ok := c.entries[id]; ok {
			ent.pinRefs++
		}
	}
}

// Unpin decrements the pin refcount for each id. Over-unpinning an id
// that isn't present, or isn't pinned, is a no-op.
func (c *Cache) Unpin(chunkIDs []ids.ID) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, id := range chunkIDs {
		if ent, ok := c.entries[id]; ok && ent.pinRefs > 0 {
			ent.pinRefs--
		}
	}
	c.evictLocked()
}

// Contains reports whether id is currently cache-resident, without
// affecting recency order.
func (c *Cache) Contains(id ids.ID) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	_, ok := c.entries[id]
	return ok
}

// ObjectFetcher is the narrow capability Graduate needs from the object
// store: a plain encrypted-blob fetch, with no decryption performed.
type ObjectFetcher interface {
	Get(key string) ([]byte, error)
}

// Graduate re-fetches the encrypted blob for id from store under
// storageKey and stores it in the cache, iff not already present
// (spec.md §4.3). This is how a bypass-fetched, prefetched chunk becomes
// cache-resident once its track actually starts playing.
func (c *Cache) Graduate(id ids.ID, storageKey string, store ObjectFetcher) error {
	if c.Contains(id) {
		return nil
	}
	blob, err := store.Get(storageKey)
	if err != nil {
		return errs.Wrap(errs.KindCache, "chunkcache", fmt.Sprintf("graduate fetch for chunk %s", id), err)
	}
	c.Put(id, blob)

	c.mu.Lock()
	m := c.metrics
	c.mu.Unlock()
	if m != nil {
		m.RecordChunkCacheGraduation()
	}
	return nil
}

// Ping verifies the cache directory is still present and statable, for
// readiness reporting. The cache is a hint, not authority (spec.md §4.3),
// so this never blocks on disk I/O beyond a single stat call.
func (c *Cache) Ping() error {
	if _, err := os.Stat(c.dir); err != nil {
		return errs.Wrap(errs.KindCache, "chunkcache", "cache directory unavailable", err)
	}
	return nil
}

// Stats reports current cache accounting, used by health/metrics surfaces.
type Stats struct {
	Entries    int
	TotalBytes int64
}

func (c *Cache) Stats() Stats {
	c.mu.Lock()
	defer c.mu.Unlock()
	return Stats{Entries: len(c.entries), TotalBytes: c.totalBytes}
}
