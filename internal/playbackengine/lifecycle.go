package playbackengine

import (
	"context"
	"time"

	"github.com/kenneth/bae-engine/internal/chunkbuffer"
	"github.com/kenneth/bae-engine/internal/chunkcache"
	"github.com/kenneth/bae-engine/internal/ids"
	"github.com/kenneth/bae-engine/internal/streamingsource"
)

// startTrack transitions Stopped/Playing/Paused -> Loading -> Playing for
// trackID, per spec.md §4.10's state machine. The previous track's
// resources, if any, are torn down first.
func (e *Engine) startTrack(ctx context.Context, trackID ids.ID) {
	e.teardownCurrent()
	e.setState(StateLoading, trackID)

	track, err := e.catalog.GetTrack(trackID)
	if err != nil {
		e.fail(trackID, err)
		return
	}
	coords, err := e.catalog.GetTrackChunkCoords(trackID)
	if err != nil {
		e.fail(trackID, err)
		return
	}
	format, err := e.catalog.GetAudioFormat(trackID)
	if err != nil {
		e.fail(trackID, err)
		return
	}

	qt := queueTrack{trackID: trackID, releaseID: track.ReleaseID}
	buf := e.buffers.NewBuffer(qt.releaseID)

	// Warm a small prefix and suffix before constructing the source, so
	// the decoder's codec-parameter probe (which may itself seek to end)
	// never blocks on a cold chunk (spec.md §4.9 "critical detail").
	prefixEnd := coords.StartChunkIndex + WarmWindowChunks
	if prefixEnd > coords.EndChunkIndex {
		prefixEnd = coords.EndChunkIndex
	}
	_, _ = buf.EnsureLoaded(ctx, coords.StartChunkIndex, prefixEnd, 0, chunkcache.PolicyCache)
	suffixStart := coords.EndChunkIndex - EndProbeChunks + 1
	if suffixStart < coords.StartChunkIndex {
		suffixStart = coords.StartChunkIndex
	}
	_, _ = buf.EnsureLoaded(ctx, suffixStart, coords.EndChunkIndex, 0, chunkcache.PolicyCache)

	src := streamingsource.New(buf, e.chunkSize, format, coords)
	dec := e.decoders.NewDecoder()
	if err := dec.Open(src); err != nil {
		e.fail(trackID, err)
		return
	}

	durationMs := coords.EndTimeMs - coords.StartTimeMs
	if track.DurationMs != nil {
		durationMs = *track.DurationMs
	}

	e.current = &loaded{
		track:      qt,
		buf:        buf,
		src:        src,
		dec:        dec,
		coords:     coords,
		format:     format,
		chunkSize:  e.chunkSize,
		durationMs: durationMs,
	}
	e.trackStartedAt = time.Now()
	e.setState(StatePlaying, trackID)
	e.startPositionSampler()
	e.beginGaplessPreload(ctx)
}

func (e *Engine) fail(trackID ids.ID, err error) {
	e.emit(Event{Kind: EventStateChanged, State: StateStopped, TrackID: trackID, Err: err})
	e.state = StateStopped
	e.teardownCurrent()
	e.queue = nil
}

// advance implements Next: plays the head of the forward queue, if any,
// swapping to a gapless-preloaded source when one is ready (spec.md
// §4.10 "Gapless playback").
func (e *Engine) advance(ctx context.Context) {
	if e.current != nil {
		e.previousTrackID = e.current.track.trackID
	}
	if len(e.queue) == 0 {
		e.stop()
		return
	}
	nextID := e.queue[0]
	e.queue = e.queue[1:]

	if e.next != nil && e.next.track.trackID == nextID {
		e.swapToPreloaded(ctx)
		return
	}
	e.startTrack(ctx, nextID)
}

// previous implements Previous per spec.md §4.10: within
// PreviousRestartThreshold of track start, go to the previous track
// (which may cross an album boundary via previousTrackID); otherwise
// restart the current track.
func (e *Engine) previous(ctx context.Context) {
	if e.current == nil {
		return
	}
	if time.Since(e.trackStartedAt) >= PreviousRestartThreshold || e.previousTrackID.IsNil() {
		e.startTrack(ctx, e.current.track.trackID)
		return
	}
	prev := e.previousTrackID
	e.previousTrackID = ids.Nil
	e.startTrack(ctx, prev)
}

// pause/resume only toggle the Playing<->Paused transition; no resources
// change hands (spec.md §4.10).
func (e *Engine) pause() {
	if e.current == nil || e.state != StatePlaying {
		return
	}
	e.current.paused = true
	e.setState(StatePaused, e.current.track.trackID)
}

func (e *Engine) resume() {
	if e.current == nil || e.state != StatePaused {
		return
	}
	e.current.paused = false
	e.setState(StatePlaying, e.current.track.trackID)
}

// stop drops every owned resource, bounding in-flight ChunkBuffer fetch
// lifetime to the stopped track (spec.md §4.10 "Cancellation").
func (e *Engine) stop() {
	e.teardownCurrent()
	e.queue = nil
	e.setState(StateStopped, ids.Nil)
}

func (e *Engine) teardownCurrent() {
	e.stopPositionSampler()
	if e.current != nil {
		if e.current.dec != nil {
			_ = e.current.dec.Close()
		}
		e.current = nil
	}
	e.next = nil
}

// completeTrack fires when the decoder reports end of stream: emits the
// final PositionUpdate and TrackCompleted, then moves on (spec.md §4.10
// "Position reporting").
func (e *Engine) completeTrack(ctx context.Context) {
	if e.current == nil {
		return
	}
	trackID := e.current.track.trackID
	e.emit(Event{Kind: EventPositionUpdate, TrackID: trackID, PositionMs: e.current.durationMs, DurationMs: e.current.durationMs})
	e.emit(Event{Kind: EventTrackCompleted, TrackID: trackID})
	e.advance(ctx)
}

// beginGaplessPreload identifies the next queue item, if any, and begins
// warming its leading chunks in the background with cache_policy=bypass
// (spec.md §4.10 "Gapless playback").
func (e *Engine) beginGaplessPreload(ctx context.Context) {
	if len(e.queue) == 0 {
		return
	}
	nextID := e.queue[0]

	track, err := e.catalog.GetTrack(nextID)
	if err != nil {
		return
	}
	coords, err := e.catalog.GetTrackChunkCoords(nextID)
	if err != nil {
		return
	}
	format, err := e.catalog.GetAudioFormat(nextID)
	if err != nil {
		return
	}

	buf := e.buffers.NewBuffer(track.ReleaseID)
	e.next = &preloaded{
		track:  queueTrack{trackID: nextID, releaseID: track.ReleaseID},
		buf:    buf,
		coords: coords,
		format: format,
	}

	go func() {
		buf.PrefetchAdjacent(ctx, nil, &chunkbuffer.AdjacentCoords{
			StartChunkIndex: coords.StartChunkIndex,
			EndChunkIndex:   coords.EndChunkIndex,
		})
	}()
}

// swapToPreloaded swaps the current track to the already-preloaded next
// track with zero audible gap. Chunks prefetched with cache_policy=bypass
// that belong to the new current track are graduated to the normal cache
// (spec.md §4.10 "Preloaded chunks ... are graduated to cache at swap
// time").
func (e *Engine) swapToPreloaded(ctx context.Context) {
	pre := e.next
	e.next = nil
	if e.current != nil && e.current.dec != nil {
		_ = e.current.dec.Close()
	}
	e.stopPositionSampler()

	src := streamingsource.New(pre.buf, e.chunkSize, pre.format, pre.coords)
	dec := e.decoders.NewDecoder()
	if err := dec.Open(src); err != nil {
		e.fail(pre.track.trackID, err)
		return
	}

	durationMs := pre.coords.EndTimeMs - pre.coords.StartTimeMs
	if track, err := e.catalog.GetTrack(pre.track.trackID); err == nil && track.DurationMs != nil {
		durationMs = *track.DurationMs
	}

	e.current = &loaded{
		track:      pre.track,
		buf:        pre.buf,
		src:        src,
		dec:        dec,
		coords:     pre.coords,
		format:     pre.format,
		chunkSize:  e.chunkSize,
		durationMs: durationMs,
	}
	e.trackStartedAt = time.Now()
	e.setState(StatePlaying, pre.track.trackID)
	e.startPositionSampler()
	go func() {
		_ = pre.buf.GraduateBypassed(ctx)
	}()
	e.beginGaplessPreload(ctx)
}
