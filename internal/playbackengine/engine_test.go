package playbackengine

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kenneth/bae-engine/internal/chunkbuffer"
	"github.com/kenneth/bae-engine/internal/chunkcache"
	"github.com/kenneth/bae-engine/internal/ids"
	"github.com/kenneth/bae-engine/internal/model"
	"github.com/kenneth/bae-engine/internal/streamingsource"
)

// fakeChunkSource satisfies chunkbuffer.ChunkSource with instant, always-
// successful fetches; these tests exercise engine state transitions, not
// the chunk fetch path itself.
type fakeChunkSource struct{}

func (fakeChunkSource) Locate(ctx context.Context, chunkIndex int) (ids.ID, string, error) {
	return ids.New(), fmt.Sprintf("key-%d", chunkIndex), nil
}

func (fakeChunkSource) FetchDecrypted(ctx context.Context, chunkID ids.ID, storageKey string, policy chunkcache.Policy) ([]byte, error) {
	return make([]byte, 4), nil
}

func (fakeChunkSource) Graduate(ctx context.Context, chunkID ids.ID, storageKey string) error {
	return nil
}

type fakeBufferFactory struct{}

func (fakeBufferFactory) NewBuffer(releaseID ids.ID) *chunkbuffer.Buffer {
	return chunkbuffer.New(fakeChunkSource{})
}

type trackFixture struct {
	track  *model.Track
	coords *model.TrackChunkCoords
	format *model.AudioFormat
}

type fakeCatalog struct {
	mu     sync.Mutex
	tracks map[ids.ID]trackFixture
}

func newFakeCatalog() *fakeCatalog {
	return &fakeCatalog{tracks: make(map[ids.ID]trackFixture)}
}

func (c *fakeCatalog) add(releaseID ids.ID, durationMs int64, chunkCount int) ids.ID {
	c.mu.Lock()
	defer c.mu.Unlock()
	trackID := ids.New()
	c.tracks[trackID] = trackFixture{
		track: &model.Track{ID: trackID, ReleaseID: releaseID, Title: "t", DurationMs: &durationMs},
		coords: &model.TrackChunkCoords{
			TrackID:         trackID,
			StartChunkIndex: 0,
			EndChunkIndex:   chunkCount - 1,
			StartByteOffset: 0,
			EndByteOffset:   3,
			StartTimeMs:     0,
			EndTimeMs:       durationMs,
		},
		format: &model.AudioFormat{TrackID: trackID, Format: "flac"},
	}
	return trackID
}

func (c *fakeCatalog) GetAudioFormat(trackID ids.ID) (*model.AudioFormat, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.tracks[trackID].format, nil
}

func (c *fakeCatalog) GetTrackChunkCoords(trackID ids.ID) (*model.TrackChunkCoords, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.tracks[trackID].coords, nil
}

func (c *fakeCatalog) GetTrack(trackID ids.ID) (*model.Track, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.tracks[trackID].track, nil
}

type fakeDecoder struct {
	mu       sync.Mutex
	openErr  error
	seekErr  error
	position int64
	finished bool
	closed   bool
	src      *streamingsource.Source
}

func (d *fakeDecoder) Open(src *streamingsource.Source) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.src = src
	return d.openErr
}

func (d *fakeDecoder) SeekTo(positionMs int64) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.seekErr != nil {
		return d.seekErr
	}
	d.position = positionMs
	return nil
}

func (d *fakeDecoder) PositionMs() int64 {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.position
}

func (d *fakeDecoder) Finished() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.finished
}

func (d *fakeDecoder) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.closed = true
	return nil
}

func (d *fakeDecoder) setFinished(v bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.finished = v
}

func (d *fakeDecoder) isClosed() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.closed
}

type fakeDecoderFactory struct {
	mu          sync.Mutex
	decoders    []*fakeDecoder
	nextOpenErr error
	nextSeekErr error
}

func (f *fakeDecoderFactory) NewDecoder() Decoder {
	f.mu.Lock()
	defer f.mu.Unlock()
	d := &fakeDecoder{openErr: f.nextOpenErr, seekErr: f.nextSeekErr}
	f.nextOpenErr = nil
	f.nextSeekErr = nil
	f.decoders = append(f.decoders, d)
	return d
}

func (f *fakeDecoderFactory) last() *fakeDecoder {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.decoders[len(f.decoders)-1]
}

func (f *fakeDecoderFactory) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.decoders)
}

func newTestEngine() (*Engine, *fakeCatalog, *fakeDecoderFactory) {
	catalog := newFakeCatalog()
	decoders := &fakeDecoderFactory{}
	e := New(Config{
		Catalog:   catalog,
		Buffers:   fakeBufferFactory{},
		Decoders:  decoders,
		ChunkSize: 4,
	})
	return e, catalog, decoders
}

// awaitEvent drains events until one matching kind arrives, failing the
// test if none shows up within the timeout.
func awaitEvent(t *testing.T, events <-chan Event, kind EventKind, timeout time.Duration) Event {
	t.Helper()
	deadline := time.After(timeout)
	for {
		select {
		case ev, ok := <-events:
			if !ok {
				t.Fatalf("events channel closed before %s observed", kind)
			}
			if ev.Kind == kind {
				return ev
			}
		case <-deadline:
			t.Fatalf("timed out waiting for event %s", kind)
		}
	}
}

func TestPlayTransitionsLoadingThenPlaying(t *testing.T) {
	e, catalog, _ := newTestEngine()
	releaseID := ids.New()
	trackID := catalog.add(releaseID, 10_000, 4)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go e.Run(ctx)

	e.Commands() <- Command{Kind: CmdPlay, TrackID: trackID}

	loadingEv := awaitEvent(t, e.Events(), EventStateChanged, time.Second)
	assert.Equal(t, StateLoading, loadingEv.State)

	playingEv := awaitEvent(t, e.Events(), EventStateChanged, time.Second)
	assert.Equal(t, StatePlaying, playingEv.State)
	assert.Equal(t, trackID, playingEv.TrackID)
}

func TestPauseThenResume(t *testing.T) {
	e, catalog, _ := newTestEngine()
	releaseID := ids.New()
	trackID := catalog.add(releaseID, 10_000, 4)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go e.Run(ctx)

	e.Commands() <- Command{Kind: CmdPlay, TrackID: trackID}
	awaitEvent(t, e.Events(), EventStateChanged, time.Second) // loading
	awaitEvent(t, e.Events(), EventStateChanged, time.Second) // playing

	e.Commands() <- Command{Kind: CmdPause}
	pausedEv := awaitEvent(t, e.Events(), EventStateChanged, time.Second)
	assert.Equal(t, StatePaused, pausedEv.State)

	e.Commands() <- Command{Kind: CmdResume}
	resumedEv := awaitEvent(t, e.Events(), EventStateChanged, time.Second)
	assert.Equal(t, StatePlaying, resumedEv.State)
}

func TestStopTearsDownDecoder(t *testing.T) {
	e, catalog, decoders := newTestEngine()
	releaseID := ids.New()
	trackID := catalog.add(releaseID, 10_000, 4)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go e.Run(ctx)

	e.Commands() <- Command{Kind: CmdPlay, TrackID: trackID}
	awaitEvent(t, e.Events(), EventStateChanged, time.Second)
	awaitEvent(t, e.Events(), EventStateChanged, time.Second)

	e.Commands() <- Command{Kind: CmdStop}
	stoppedEv := awaitEvent(t, e.Events(), EventStateChanged, time.Second)
	assert.Equal(t, StateStopped, stoppedEv.State)

	dec := decoders.last()
	require.Eventually(t, dec.isClosed, time.Second, 10*time.Millisecond)
}

func TestAdvanceWithEmptyQueueStops(t *testing.T) {
	e, catalog, _ := newTestEngine()
	releaseID := ids.New()
	trackID := catalog.add(releaseID, 10_000, 4)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go e.Run(ctx)

	e.Commands() <- Command{Kind: CmdPlay, TrackID: trackID}
	awaitEvent(t, e.Events(), EventStateChanged, time.Second)
	awaitEvent(t, e.Events(), EventStateChanged, time.Second)

	e.Commands() <- Command{Kind: CmdNext}
	stoppedEv := awaitEvent(t, e.Events(), EventStateChanged, time.Second)
	assert.Equal(t, StateStopped, stoppedEv.State)
}

func TestPreviousRestartsWhenNoEarlierTrack(t *testing.T) {
	e, catalog, decoders := newTestEngine()
	releaseID := ids.New()
	trackID := catalog.add(releaseID, 10_000, 4)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go e.Run(ctx)

	e.Commands() <- Command{Kind: CmdPlay, TrackID: trackID}
	awaitEvent(t, e.Events(), EventStateChanged, time.Second)
	awaitEvent(t, e.Events(), EventStateChanged, time.Second)

	firstDecoder := decoders.last()

	// No previousTrackID is set (this is the first track played), so
	// Previous restarts the current track regardless of elapsed time.
	e.Commands() <- Command{Kind: CmdPrevious}

	loadingEv := awaitEvent(t, e.Events(), EventStateChanged, time.Second)
	assert.Equal(t, StateLoading, loadingEv.State)
	playingEv := awaitEvent(t, e.Events(), EventStateChanged, time.Second)
	assert.Equal(t, StatePlaying, playingEv.State)
	assert.Equal(t, trackID, playingEv.TrackID)
	assert.GreaterOrEqual(t, decoders.count(), 2)
	require.Eventually(t, firstDecoder.isClosed, time.Second, 10*time.Millisecond)
}

func TestSeekSkipsNearIdenticalRequest(t *testing.T) {
	e, catalog, _ := newTestEngine()
	releaseID := ids.New()
	trackID := catalog.add(releaseID, 10_000, 4)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go e.Run(ctx)

	e.Commands() <- Command{Kind: CmdPlay, TrackID: trackID}
	awaitEvent(t, e.Events(), EventStateChanged, time.Second)
	awaitEvent(t, e.Events(), EventStateChanged, time.Second)

	e.Commands() <- Command{Kind: CmdSeek, SeekMs: 50}
	ev := awaitEvent(t, e.Events(), EventSeekSkipped, time.Second)
	assert.Equal(t, trackID, ev.TrackID)
}

func TestSeekPastEndEmitsError(t *testing.T) {
	e, catalog, _ := newTestEngine()
	releaseID := ids.New()
	trackID := catalog.add(releaseID, 10_000, 4)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go e.Run(ctx)

	e.Commands() <- Command{Kind: CmdPlay, TrackID: trackID}
	awaitEvent(t, e.Events(), EventStateChanged, time.Second)
	awaitEvent(t, e.Events(), EventStateChanged, time.Second)

	e.Commands() <- Command{Kind: CmdSeek, SeekMs: 99_999}
	ev := awaitEvent(t, e.Events(), EventSeekError, time.Second)
	assert.ErrorIs(t, ev.Err, errSeekPastEnd)
}

func TestSeekRebuildsDecoderAndEmitsSeeked(t *testing.T) {
	e, catalog, decoders := newTestEngine()
	releaseID := ids.New()
	trackID := catalog.add(releaseID, 10_000, 4)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go e.Run(ctx)

	e.Commands() <- Command{Kind: CmdPlay, TrackID: trackID}
	awaitEvent(t, e.Events(), EventStateChanged, time.Second)
	awaitEvent(t, e.Events(), EventStateChanged, time.Second)

	originalDecoder := decoders.last()

	e.Commands() <- Command{Kind: CmdSeek, SeekMs: 5000}
	seekingEv := awaitEvent(t, e.Events(), EventSeeking, time.Second)
	assert.Equal(t, int64(5000), seekingEv.PositionMs)

	seekedEv := awaitEvent(t, e.Events(), EventSeeked, time.Second)
	assert.Equal(t, int64(5000), seekedEv.PositionMs)

	require.Eventually(t, originalDecoder.isClosed, time.Second, 10*time.Millisecond)
	assert.Equal(t, 2, decoders.count())
	assert.Equal(t, int64(5000), decoders.last().PositionMs())
}

func TestGaplessAdvanceSwapsToPreloadedTrack(t *testing.T) {
	e, catalog, _ := newTestEngine()
	releaseID := ids.New()
	firstID := catalog.add(releaseID, 1_000, 2)
	secondID := catalog.add(releaseID, 1_000, 2)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go e.Run(ctx)

	e.Commands() <- Command{Kind: CmdPlayAlbum, TrackIDs: []ids.ID{firstID, secondID}}
	awaitEvent(t, e.Events(), EventStateChanged, time.Second) // loading first
	awaitEvent(t, e.Events(), EventStateChanged, time.Second) // playing first

	// CmdNext is processed on the same single-task command channel that
	// startTrack ran on, so by the time this send is handled,
	// beginGaplessPreload (called synchronously at the end of startTrack)
	// has already set e.next.
	e.Commands() <- Command{Kind: CmdNext}
	playingEv := awaitEvent(t, e.Events(), EventStateChanged, time.Second)
	assert.Equal(t, StatePlaying, playingEv.State)
	assert.Equal(t, secondID, playingEv.TrackID)
}

func TestPositionSamplerReportsUpdatesAndCompletion(t *testing.T) {
	e, catalog, decoders := newTestEngine()
	releaseID := ids.New()
	trackID := catalog.add(releaseID, 1_000, 2)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go e.Run(ctx)

	e.Commands() <- Command{Kind: CmdPlay, TrackID: trackID}
	awaitEvent(t, e.Events(), EventStateChanged, time.Second)
	awaitEvent(t, e.Events(), EventStateChanged, time.Second)

	dec := decoders.last()
	updateEv := awaitEvent(t, e.Events(), EventPositionUpdate, 2*time.Second)
	assert.Equal(t, trackID, updateEv.TrackID)

	dec.setFinished(true)
	completedEv := awaitEvent(t, e.Events(), EventTrackCompleted, 2*time.Second)
	assert.Equal(t, trackID, completedEv.TrackID)

	stoppedEv := awaitEvent(t, e.Events(), EventStateChanged, time.Second)
	assert.Equal(t, StateStopped, stoppedEv.State)
}
