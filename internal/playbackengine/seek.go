package playbackengine

import (
	"context"

	"github.com/kenneth/bae-engine/internal/chunkcache"
	"github.com/kenneth/bae-engine/internal/ids"
	"github.com/kenneth/bae-engine/internal/model"
	"github.com/kenneth/bae-engine/internal/streamingsource"
)

// seek implements spec.md §4.10's seek algorithm verbatim: skip
// near-identical requests, reject out-of-range ones, estimate the target
// chunk by linear interpolation, warm a window around it plus the
// track's tail, rebuild the source and decoder fresh, and ask the
// decoder to seek. A failed backward seek retries from the beginning;
// a persistently failing seek falls back to legacy whole-track
// reassembly.
func (e *Engine) seek(ctx context.Context, seekMs int64) {
	cur := e.current
	if cur == nil {
		return
	}
	trackID := cur.track.trackID

	currentMs := cur.positionMs
	if currentMs == 0 && cur.dec != nil {
		currentMs = cur.dec.PositionMs()
	}

	if abs64(seekMs-currentMs) < SeekSkipThreshold.Milliseconds() {
		e.emit(Event{Kind: EventSeekSkipped, TrackID: trackID, PositionMs: currentMs})
		return
	}
	if seekMs > cur.durationMs {
		e.emit(Event{Kind: EventSeekError, TrackID: trackID, Err: errSeekPastEnd})
		return
	}

	e.emit(Event{Kind: EventSeeking, TrackID: trackID, PositionMs: seekMs})

	backward := seekMs < currentMs
	wasPaused := cur.paused

	if err := e.trySeek(ctx, cur, seekMs); err != nil {
		recovered := false
		if backward {
			if err2 := e.trySeek(ctx, cur, 0); err2 == nil {
				if err3 := e.trySeek(ctx, cur, seekMs); err3 == nil {
					recovered = true
				}
			}
		}
		if !recovered {
			if err := e.reassembleWholeTrackSeek(ctx, cur, seekMs); err != nil {
				e.emit(Event{Kind: EventSeekError, TrackID: trackID, Err: err})
				return
			}
		}
	}

	e.finishSeek(trackID, seekMs, wasPaused)
}

var errSeekPastEnd = seekError("seek position exceeds track duration")

type seekError string

func (s seekError) Error() string { return string(s) }

func (e *Engine) finishSeek(trackID ids.ID, seekMs int64, wasPaused bool) {
	e.current.positionMs = seekMs
	e.current.paused = wasPaused
	if wasPaused {
		e.setState(StatePaused, trackID)
	} else {
		e.setState(StatePlaying, trackID)
	}
	e.emit(Event{Kind: EventSeeked, TrackID: trackID, PositionMs: seekMs})
}

// trySeek estimates the target chunk, warms it plus the track's tail,
// constructs a fresh StreamingSource and Decoder, and asks the decoder to
// seek (spec.md §4.10 steps 3-6).
func (e *Engine) trySeek(ctx context.Context, cur *loaded, seekMs int64) error {
	estimated := estimateChunk(cur.coords, seekMs, cur.durationMs)

	lo := estimated - WarmWindowChunks
	if lo < cur.coords.StartChunkIndex {
		lo = cur.coords.StartChunkIndex
	}
	hi := estimated + WarmWindowChunks
	if hi > cur.coords.EndChunkIndex {
		hi = cur.coords.EndChunkIndex
	}
	if _, err := cur.buf.EnsureLoaded(ctx, lo, hi, 0, chunkcache.PolicyCache); err != nil {
		return err
	}

	tailStart := cur.coords.EndChunkIndex - EndProbeChunks + 1
	if tailStart < cur.coords.StartChunkIndex {
		tailStart = cur.coords.StartChunkIndex
	}
	if _, err := cur.buf.EnsureLoaded(ctx, tailStart, cur.coords.EndChunkIndex, 0, chunkcache.PolicyCache); err != nil {
		return err
	}

	return e.rebuildDecoder(cur, seekMs)
}

// reassembleWholeTrackSeek is the optional legacy fallback of spec.md
// §4.10 step 6: when even a rebuild-from-start seek fails, warm the
// entire track and try once more.
func (e *Engine) reassembleWholeTrackSeek(ctx context.Context, cur *loaded, seekMs int64) error {
	if _, err := cur.buf.EnsureLoaded(ctx, cur.coords.StartChunkIndex, cur.coords.EndChunkIndex, 0, chunkcache.PolicyCache); err != nil {
		return err
	}
	return e.rebuildDecoder(cur, seekMs)
}

// rebuildDecoder constructs a fresh StreamingSource + Decoder pair over
// cur's (possibly just-warmed) buffer and asks the new decoder to seek,
// per spec.md §4.10 step 5-6.
func (e *Engine) rebuildDecoder(cur *loaded, seekMs int64) error {
	src := streamingsource.New(cur.buf, cur.chunkSize, cur.format, cur.coords)
	dec := e.decoders.NewDecoder()
	if err := dec.Open(src); err != nil {
		return err
	}
	if err := dec.SeekTo(seekMs); err != nil {
		_ = dec.Close()
		return err
	}

	if cur.dec != nil {
		_ = cur.dec.Close()
	}
	cur.src = src
	cur.dec = dec
	return nil
}

// estimateChunk implements spec.md §4.10 step 3's linear mapping.
func estimateChunk(coords *model.TrackChunkCoords, seekMs, durationMs int64) int {
	if durationMs <= 0 {
		return coords.StartChunkIndex
	}
	span := int64(coords.EndChunkIndex - coords.StartChunkIndex + 1)
	return coords.StartChunkIndex + int(seekMs*span/durationMs)
}

func abs64(n int64) int64 {
	if n < 0 {
		return -n
	}
	return n
}
