package chunkbuffer

import (
	"context"
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kenneth/bae-engine/internal/chunkcache"
	"github.com/kenneth/bae-engine/internal/ids"
)

type fakeSource struct {
	mu          sync.Mutex
	fetched     []int
	graduated   []int
	fail        map[int]bool
	maxInFlight int
	inFlight    int
}

func (f *fakeSource) Locate(ctx context.Context, chunkIndex int) (ids.ID, string, error) {
	return ids.New(), fmt.Sprintf("key-%d", chunkIndex), nil
}

func (f *fakeSource) FetchDecrypted(ctx context.Context, chunkID ids.ID, storageKey string, policy chunkcache.Policy) ([]byte, error) {
	f.mu.Lock()
	f.inFlight++
	if f.inFlight > f.maxInFlight {
		f.maxInFlight = f.inFlight
	}
	f.mu.Unlock()

	defer func() {
		f.mu.Lock()
		f.inFlight--
		f.mu.Unlock()
	}()

	if f.fail[chunkIDIndex(storageKey)] {
		return nil, fmt.Errorf("fetch failed for %s", storageKey)
	}

	f.mu.Lock()
	f.fetched = append(f.fetched, chunkIDIndex(storageKey))
	f.mu.Unlock()

	return []byte(storageKey), nil
}

func (f *fakeSource) Graduate(ctx context.Context, chunkID ids.ID, storageKey string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.graduated = append(f.graduated, chunkIDIndex(storageKey))
	return nil
}

func chunkIDIndex(storageKey string) int {
	var n int
	fmt.Sscanf(storageKey, "key-%d", &n)
	return n
}

func TestEnsureLoadedFetchesOnlyMissing(t *testing.T) {
	src := &fakeSource{fail: map[int]bool{}}
	buf := New(src)

	n, err := buf.EnsureLoaded(context.Background(), 0, 4, 0, chunkcache.PolicyCache)
	require.NoError(t, err)
	assert.Equal(t, 5, n)

	data, ok := buf.Get(2)
	require.True(t, ok)
	assert.Equal(t, "key-2", string(data))

	src.mu.Lock()
	firstRoundFetches := len(src.fetched)
	src.mu.Unlock()
	assert.Equal(t, 5, firstRoundFetches)

	// A second call over a mix of already-loaded and new indices only
	// fetches the new ones.
	n, err = buf.EnsureLoaded(context.Background(), 3, 6, 0, chunkcache.PolicyCache)
	require.NoError(t, err)
	assert.Equal(t, 4, n)

	src.mu.Lock()
	defer src.mu.Unlock()
	assert.Len(t, src.fetched, 7)
}

func TestEnsureLoadedBoundsConcurrency(t *testing.T) {
	src := &fakeSource{fail: map[int]bool{}}
	buf := New(src)

	_, err := buf.EnsureLoaded(context.Background(), 0, 49, 0, chunkcache.PolicyCache)
	require.NoError(t, err)

	src.mu.Lock()
	defer src.mu.Unlock()
	assert.LessOrEqual(t, src.maxInFlight, MaxConcurrentFetches)
	assert.Len(t, buf.LoadedIndices(), 50)
}

func TestEnsureLoadedPropagatesFetchError(t *testing.T) {
	src := &fakeSource{fail: map[int]bool{3: true}}
	buf := New(src)

	_, err := buf.EnsureLoaded(context.Background(), 0, 5, 0, chunkcache.PolicyCache)
	require.Error(t, err)

	_, ok := buf.Get(3)
	assert.False(t, ok)
}

func TestPrefetchAdjacentWarmsBothSides(t *testing.T) {
	src := &fakeSource{fail: map[int]bool{}}
	buf := New(src)

	prev := &AdjacentCoords{StartChunkIndex: 0, EndChunkIndex: 9}
	next := &AdjacentCoords{StartChunkIndex: 10, EndChunkIndex: 19}
	buf.PrefetchAdjacent(context.Background(), prev, next)

	loaded := buf.LoadedIndices()
	assert.Len(t, loaded, 2*PrefetchChunks)
	for _, ci := range []int{5, 6, 7, 8, 9, 10, 11, 12, 13, 14} {
		_, ok := buf.Get(ci)
		assert.True(t, ok, "expected chunk %d to be prefetched", ci)
	}
}

func TestGraduateBypassedPromotesOnlyBypassLoadedChunks(t *testing.T) {
	src := &fakeSource{fail: map[int]bool{}}
	buf := New(src)

	_, err := buf.EnsureLoaded(context.Background(), 0, 2, 0, chunkcache.PolicyCache)
	require.NoError(t, err)
	_, err = buf.EnsureLoaded(context.Background(), 3, 4, 0, chunkcache.PolicyBypass)
	require.NoError(t, err)

	require.NoError(t, buf.GraduateBypassed(context.Background()))

	src.mu.Lock()
	graduated := append([]int{}, src.graduated...)
	src.mu.Unlock()
	assert.ElementsMatch(t, []int{3, 4}, graduated)

	// A second call graduates nothing new: the bypassed set was cleared.
	require.NoError(t, buf.GraduateBypassed(context.Background()))

	src.mu.Lock()
	defer src.mu.Unlock()
	assert.Len(t, src.graduated, len(graduated))
}
