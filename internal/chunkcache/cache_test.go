package chunkcache

import (
	"context"
	"errors"
	"os"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kenneth/bae-engine/internal/ids"
)

func newTestCache(t *testing.T, maxBytes int64, maxEntries int) *Cache {
	t.Helper()
	dir := t.TempDir()
	log := logrus.NewEntry(logrus.New())
	c, err := Open(Config{Directory: dir, MaxBytes: maxBytes, MaxEntries: maxEntries}, log)
	require.NoError(t, err)
	return c
}

func TestPutThenGetHits(t *testing.T) {
	c := newTestCache(t, 1<<30, 1000)
	id := ids.New()

	c.Put(id, []byte("hello chunk"))

	got, ok := c.Get(id)
	require.True(t, ok)
	assert.Equal(t, []byte("hello chunk"), got)
}

func TestGetMissOnUnknownID(t *testing.T) {
	c := newTestCache(t, 1<<30, 1000)
	_, ok := c.Get(ids.New())
	assert.False(t, ok)
}

func TestEvictsLeastRecentlyUsedWhenOverEntryBound(t *testing.T) {
	c := newTestCache(t, 1<<30, 2)
	a, b, d := ids.New(), ids.New(), ids.New()

	c.Put(a, []byte("a"))
	c.Put(b, []byte("b"))
	// touch a so it is more recent than b
	_, _ = c.Get(a)
	c.Put(d, []byte("d"))

	assert.True(t, c.Contains(a))
	assert.True(t, c.Contains(d))
	assert.False(t, c.Contains(b))
}

func TestPinPreventsEviction(t *testing.T) {
	c := newTestCache(t, 1<<30, 1)
	a, b := ids.New(), ids.New()

	c.Put(a, []byte("a"))
	c.Pin([]ids.ID{a})
	c.Put(b, []byte("b"))

	// a is pinned so it must survive even though bound is 1 entry; b is
	// the only non-pinned entry, so it is the one evicted.
	assert.True(t, c.Contains(a))
	assert.False(t, c.Contains(b))
}

func TestUnpinAllowsSubsequentEviction(t *testing.T) {
	c := newTestCache(t, 1<<30, 1)
	a, b := ids.New(), ids.New()

	c.Put(a, []byte("a"))
	c.Pin([]ids.ID{a})
	c.Put(b, []byte("b"))
	require.True(t, c.Contains(a))

	c.Unpin([]ids.ID{a})
	c.Put(ids.New(), []byte("c"))

	// Now that a is unpinned, further bound pressure may evict it.
	stats := c.Stats()
	assert.LessOrEqual(t, stats.Entries, 2)
}

func TestReindexRecoversEntriesAcrossRestart(t *testing.T) {
	dir := t.TempDir()
	log := logrus.NewEntry(logrus.New())

	c1, err := Open(Config{Directory: dir, MaxBytes: 1 << 30, MaxEntries: 1000}, log)
	require.NoError(t, err)
	id := ids.New()
	c1.Put(id, []byte("persisted"))

	c2, err := Open(Config{Directory: dir, MaxBytes: 1 << 30, MaxEntries: 1000}, log)
	require.NoError(t, err)
	got, ok := c2.Get(id)
	require.True(t, ok)
	assert.Equal(t, []byte("persisted"), got)
}

func TestGetTreatsReadErrorAsMiss(t *testing.T) {
	c := newTestCache(t, 1<<30, 1000)
	id := ids.New()
	c.Put(id, []byte("data"))

	require.NoError(t, os.Remove(c.path(id)))

	_, ok := c.Get(id)
	assert.False(t, ok)
}

type fakeFetcher struct {
	data map[string][]byte
	err  error
}

func (f fakeFetcher) Get(key string) ([]byte, error) {
	if f.err != nil {
		return nil, f.err
	}
	return f.data[key], nil
}

func TestGraduateFetchesOnlyWhenMissing(t *testing.T) {
	c := newTestCache(t, 1<<30, 1000)
	id := ids.New()

	fetcher := fakeFetcher{data: map[string][]byte{"key-1": []byte("encrypted-blob")}}
	require.NoError(t, c.Graduate(id, "key-1", fetcher))

	got, ok := c.Get(id)
	require.True(t, ok)
	assert.Equal(t, []byte("encrypted-blob"), got)
}

func TestGraduateIsNoopIfAlreadyCached(t *testing.T) {
	c := newTestCache(t, 1<<30, 1000)
	id := ids.New()
	c.Put(id, []byte("already-here"))

	fetcher := fakeFetcher{err: errors.New("should not be called")}
	require.NoError(t, c.Graduate(id, "key-1", fetcher))
}

type fakeCodec struct{ err error }

func (f fakeCodec) DecryptBlob(blob []byte) ([]byte, error) {
	if f.err != nil {
		return nil, f.err
	}
	out := make([]byte, len(blob))
	copy(out, blob)
	return out, nil
}

type fakeStore struct {
	data map[string][]byte
}

func (s fakeStore) Get(ctx context.Context, key string) ([]byte, error) {
	return s.data[key], nil
}

func TestFetchDecryptedCachesOnMissWithCachePolicy(t *testing.T) {
	c := newTestCache(t, 1<<30, 1000)
	id := ids.New()
	store := fakeStore{data: map[string][]byte{"storage-key": []byte("blob")}}

	out, err := c.FetchDecrypted(context.Background(), id, "storage-key", PolicyCache, store, fakeCodec{})
	require.NoError(t, err)
	assert.Equal(t, []byte("blob"), out)
	assert.True(t, c.Contains(id))
}

func TestFetchDecryptedBypassPolicyDoesNotCache(t *testing.T) {
	c := newTestCache(t, 1<<30, 1000)
	id := ids.New()
	store := fakeStore{data: map[string][]byte{"storage-key": []byte("blob")}}

	out, err := c.FetchDecrypted(context.Background(), id, "storage-key", PolicyBypass, store, fakeCodec{})
	require.NoError(t, err)
	assert.Equal(t, []byte("blob"), out)
	assert.False(t, c.Contains(id))
}
