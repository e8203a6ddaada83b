// Package playbackengine implements the single-threaded cooperative
// playback command loop of spec.md §4.10: one goroutine owns the decoder
// and audio output, total-ordering every command off a single channel and
// reporting state transitions, position, and errors on a second channel.
//
// Grounded on the teacher's internal/crypto/chunked.go select-loop style
// (named command/done channels drained by one goroutine) for the loop
// shape, and on internal/metrics.StartSystemMetricsCollector's
// ticker-driven background goroutine for position sampling.
package playbackengine

import (
	"context"
	"time"

	"github.com/kenneth/bae-engine/internal/chunkbuffer"
	"github.com/kenneth/bae-engine/internal/ids"
	"github.com/kenneth/bae-engine/internal/model"
	"github.com/kenneth/bae-engine/internal/streamingsource"
)

// PositionSampleInterval governs the ≥2Hz background position reporting
// requirement of spec.md §4.10.
const PositionSampleInterval = 400 * time.Millisecond

// SeekSkipThreshold is how close a requested seek must be to the current
// position to be treated as a no-op (spec.md §4.10 step 1).
const SeekSkipThreshold = 100 * time.Millisecond

// PreviousRestartThreshold is how far into a track Previous must be
// before it restarts the current track instead of moving back one
// (spec.md §4.10 "Queue model").
const PreviousRestartThreshold = 3 * time.Second

// WarmWindowChunks is how many chunks on either side of an estimated seek
// target are warmed before constructing a fresh Source (spec.md §4.10
// step 4: "estimated - 10 .. estimated + 10").
const WarmWindowChunks = 10

// EndProbeChunks is how many trailing chunks of a track are warmed
// alongside a seek target, for decoder end-of-stream probes (spec.md
// §4.10 step 4: "the last 5 chunks of the track").
const EndProbeChunks = 5

// State names the PlaybackEngine's state machine positions (spec.md
// §4.10).
type State string

const (
	StateStopped State = "stopped"
	StateLoading State = "loading"
	StatePlaying State = "playing"
	StatePaused  State = "paused"
)

// CommandKind tags a Command.
type CommandKind string

const (
	CmdPlay      CommandKind = "play"
	CmdPlayAlbum CommandKind = "play_album"
	CmdPause     CommandKind = "pause"
	CmdResume    CommandKind = "resume"
	CmdStop      CommandKind = "stop"
	CmdNext      CommandKind = "next"
	CmdPrevious  CommandKind = "previous"
	CmdSeek      CommandKind = "seek"
	CmdSetVolume CommandKind = "set_volume"

	// cmdSamplerTick and cmdSamplerDone are internal: the
	// position-sampling goroutine reports through the same command
	// channel so every state mutation still happens on Run's single
	// task, per spec.md §4.10's total-ordering guarantee.
	cmdSamplerTick CommandKind = "internal_sampler_tick"
	cmdSamplerDone CommandKind = "internal_sampler_done"
)

// Command is one entry on the PlaybackEngine's input channel.
type Command struct {
	Kind     CommandKind
	TrackID  ids.ID   // Play
	TrackIDs []ids.ID // PlayAlbum
	SeekMs   int64    // Seek
	Volume   float64  // SetVolume

	tickPositionMs int64 // internal: cmdSamplerTick
}

// EventKind tags a progress Event.
type EventKind string

const (
	EventStateChanged   EventKind = "state_changed"
	EventPositionUpdate EventKind = "position_update"
	EventTrackCompleted EventKind = "track_completed"
	EventSeeked         EventKind = "seeked"
	EventSeeking        EventKind = "seeking"
	EventSeekSkipped    EventKind = "seek_skipped"
	EventSeekError      EventKind = "seek_error"
)

// Event is one entry on the PlaybackEngine's progress channel.
type Event struct {
	Kind        EventKind
	State       State
	TrackID     ids.ID
	PositionMs  int64
	DurationMs  int64
	Err         error
}

// Decoder is the narrow external collaborator StreamingSource feeds
// (spec.md §1 Non-goals: "the audio codec itself" is out of scope). Per
// spec.md §5's "Audio output zone", decoding and output run on their own
// dedicated thread, outside this package and outside Run's command task;
// Decoder's read-only query methods are the only surface this package
// touches from the position-sampling goroutine, and implementations must
// make them safe to call concurrently with ongoing playback. No Decoder
// is implemented anywhere in this repo.
type Decoder interface {
	// Open primes the decoder against src and starts audio output on its
	// own thread, reading whatever header bytes it needs to probe codec
	// parameters.
	Open(src *streamingsource.Source) error
	// SeekTo asks the decoder to seek to an absolute track position.
	SeekTo(positionMs int64) error
	// PositionMs reports the decoder/output's current playback position.
	// Safe to call concurrently with playback.
	PositionMs() int64
	// Finished reports whether output has reached end of stream. Safe to
	// call concurrently with playback.
	Finished() bool
	// Close releases any resources the decoder holds.
	Close() error
}

// TrackLookup resolves a track id to everything the engine needs to play
// it: coordinates, format, and duration.
type TrackLookup interface {
	GetAudioFormat(trackID ids.ID) (*model.AudioFormat, error)
	GetTrackChunkCoords(trackID ids.ID) (*model.TrackChunkCoords, error)
	GetTrack(trackID ids.ID) (*model.Track, error)
}

// BufferFactory constructs a fresh, release-scoped ChunkBuffer for a
// track's release, so the engine can drop it wholesale on Stop/track
// switch (spec.md §4.10 "Cancellation").
type BufferFactory interface {
	NewBuffer(releaseID ids.ID) *chunkbuffer.Buffer
}

// DecoderFactory constructs a fresh Decoder per track (spec.md §4.10 step
// 5: "a fresh decoder").
type DecoderFactory interface {
	NewDecoder() Decoder
}

// queueTrack pairs a track id with the release it belongs to, resolved
// once so ChunkBuffer construction does not need a second catalog round
// trip mid-command.
type queueTrack struct {
	trackID   ids.ID
	releaseID ids.ID
}

// loaded is everything the engine holds about the currently (or
// currently loading) track.
type loaded struct {
	track      queueTrack
	buf        *chunkbuffer.Buffer
	src        *streamingsource.Source
	dec        Decoder
	coords     *model.TrackChunkCoords
	format     *model.AudioFormat
	chunkSize  int64
	durationMs int64
	positionMs int64
	paused     bool
}

// preloaded is a gapless-prepared next track, ready to swap in with zero
// audible gap (spec.md §4.10 "Gapless playback").
type preloaded struct {
	track  queueTrack
	buf    *chunkbuffer.Buffer
	coords *model.TrackChunkCoords
	format *model.AudioFormat
}

// Engine is the single-threaded cooperative playback loop. All mutable
// state below is owned exclusively by the goroutine started in Run; no
// other goroutine touches it, satisfying spec.md §4.10's total-ordering
// guarantee.
type Engine struct {
	catalog    TrackLookup
	buffers    BufferFactory
	decoders   DecoderFactory
	chunkSize  int64

	commands chan Command
	events   chan Event

	state            State
	current          *loaded
	next             *preloaded
	queue            []ids.ID // remaining forward queue, current excluded
	previousTrackID  ids.ID
	trackStartedAt   time.Time

	cancelPosSampler context.CancelFunc
}

// Config bounds and wires an Engine.
type Config struct {
	Catalog    TrackLookup
	Buffers    BufferFactory
	Decoders   DecoderFactory
	ChunkSize  int64
	ChannelBound int
}

// New constructs a stopped Engine. Call Run in its own goroutine to start
// processing commands.
func New(cfg Config) *Engine {
	bound := cfg.ChannelBound
	if bound <= 0 {
		bound = 32
	}
	return &Engine{
		catalog:   cfg.Catalog,
		buffers:   cfg.Buffers,
		decoders:  cfg.Decoders,
		chunkSize: cfg.ChunkSize,
		commands:  make(chan Command, bound),
		events:    make(chan Event, bound),
		state:     StateStopped,
	}
}

// Commands returns the channel callers send Commands on.
func (e *Engine) Commands() chan<- Command { return e.commands }

// Events returns the channel callers receive progress Events from.
func (e *Engine) Events() <-chan Event { return e.events }

// Run processes commands strictly in arrival order until ctx is
// cancelled, per spec.md §4.10 ("commands are processed strictly in
// arrival order on a single task"). It should be started in exactly one
// goroutine.
func (e *Engine) Run(ctx context.Context) {
	defer e.stopPositionSampler()
	defer close(e.events)

	for {
		select {
		case <-ctx.Done():
			e.teardownCurrent()
			return
		case cmd, ok := <-e.commands:
			if !ok {
				e.teardownCurrent()
				return
			}
			e.handle(ctx, cmd)
		}
	}
}

func (e *Engine) handle(ctx context.Context, cmd Command) {
	switch cmd.Kind {
	case CmdPlay:
		e.queue = nil
		e.startTrack(ctx, cmd.TrackID)
	case CmdPlayAlbum:
		if len(cmd.TrackIDs) == 0 {
			return
		}
		e.queue = append([]ids.ID{}, cmd.TrackIDs[1:]...)
		e.startTrack(ctx, cmd.TrackIDs[0])
	case CmdPause:
		e.pause()
	case CmdResume:
		e.resume()
	case CmdStop:
		e.stop()
	case CmdNext:
		e.advance(ctx)
	case CmdPrevious:
		e.previous(ctx)
	case CmdSeek:
		e.seek(ctx, cmd.SeekMs)
	case CmdSetVolume:
		// Volume is a pass-through to the audio device, which this repo
		// does not implement (spec.md §1 Non-goals); accepted and
		// ignored so callers don't need to special-case it.
	case cmdSamplerTick:
		e.handleSamplerTick(cmd.tickPositionMs)
	case cmdSamplerDone:
		e.completeTrack(ctx)
	}
}

// handleSamplerTick emits the ≥2Hz PositionUpdate stream of spec.md
// §4.10 "Position reporting". It is only ever invoked from Run's single
// task, in response to the sampler goroutine's internal command.
func (e *Engine) handleSamplerTick(positionMs int64) {
	if e.current == nil {
		return
	}
	e.current.positionMs = positionMs
	e.emit(Event{
		Kind:       EventPositionUpdate,
		TrackID:    e.current.track.trackID,
		PositionMs: positionMs,
		DurationMs: e.current.durationMs,
	})
}

func (e *Engine) emit(ev Event) {
	select {
	case e.events <- ev:
	default:
		// Progress channel is advisory; a slow consumer must not stall
		// playback (spec.md §4.10's single command task keeps moving).
	}
}

func (e *Engine) setState(s State, trackID ids.ID) {
	e.state = s
	e.emit(Event{Kind: EventStateChanged, State: s, TrackID: trackID})
}
