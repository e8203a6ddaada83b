// Package audit records the import and cache lifecycle event trail: chunk
// uploads, track/release completions, cache evictions and graduations.
// It is the teacher's internal/audit package (EventWriter + sink
// abstraction, in-memory ring buffer) re-targeted from S3-gateway access
// logging to this engine's own domain events.
package audit

import (
	"encoding/json"
	"sync"
	"time"
)

// EventType identifies which lifecycle event an Event records.
type EventType string

const (
	EventChunkUploaded    EventType = "chunk_uploaded"
	EventTrackCompleted   EventType = "track_completed"
	EventReleaseCompleted EventType = "release_completed"
	EventReleaseFailed    EventType = "release_failed"
	EventCacheEvicted     EventType = "cache_evicted"
	EventCacheGraduated   EventType = "cache_graduated"
	EventPlaybackError    EventType = "playback_error"
)

// Event is a single audit log entry.
type Event struct {
	Timestamp time.Time              `json:"timestamp"`
	Type      EventType              `json:"event_type"`
	ReleaseID string                 `json:"release_id,omitempty"`
	TrackID   string                 `json:"track_id,omitempty"`
	ChunkID   string                 `json:"chunk_id,omitempty"`
	Success   bool                   `json:"success"`
	Error     string                 `json:"error,omitempty"`
	Metadata  map[string]interface{} `json:"metadata,omitempty"`
}

// EventWriter is the narrow sink capability a Logger writes events
// through.
type EventWriter interface {
	WriteEvent(event *Event) error
}

// Logger buffers the most recent events in memory (for inspection/testing)
// while forwarding each one to an EventWriter.
type Logger struct {
	mu        sync.Mutex
	events    []*Event
	maxEvents int
	writer    EventWriter
}

// NewLogger constructs a Logger that forwards to writer (or a StdoutSink,
// which prints each event as a JSON line, if nil) and retains at most
// maxEvents in memory.
func NewLogger(maxEvents int, writer EventWriter) *Logger {
	if writer == nil {
		writer = &StdoutSink{}
	}
	if maxEvents <= 0 {
		maxEvents = 1000
	}
	return &Logger{events: make([]*Event, 0, maxEvents), maxEvents: maxEvents, writer: writer}
}

// Log records event: forwards it to the writer (errors are swallowed —
// audit logging is observability, never fatal to the caller per spec.md
// §7's CacheError-style absorption policy) and appends it to the
// in-memory buffer.
func (l *Logger) Log(event *Event) {
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now()
	}
	_ = l.writer.WriteEvent(event)

	l.mu.Lock()
	defer l.mu.Unlock()
	l.events = append(l.events, event)
	if len(l.events) > l.maxEvents {
		l.events = l.events[len(l.events)-l.maxEvents:]
	}
}

// ChunkUploaded logs a successful chunk upload during import.
func (l *Logger) ChunkUploaded(releaseID, chunkID string, chunkIndex int, encryptedSize int64) {
	l.Log(&Event{
		Type: EventChunkUploaded, ReleaseID: releaseID, ChunkID: chunkID, Success: true,
		Metadata: map[string]interface{}{"chunk_index": chunkIndex, "encrypted_size": encryptedSize},
	})
}

// TrackCompleted logs a track's materialization completing.
func (l *Logger) TrackCompleted(releaseID, trackID string) {
	l.Log(&Event{Type: EventTrackCompleted, ReleaseID: releaseID, TrackID: trackID, Success: true})
}

// ReleaseCompleted logs a release finishing import.
func (l *Logger) ReleaseCompleted(releaseID string) {
	l.Log(&Event{Type: EventReleaseCompleted, ReleaseID: releaseID, Success: true})
}

// ReleaseFailed logs a release's import attempt aborting.
func (l *Logger) ReleaseFailed(releaseID string, err error) {
	e := &Event{Type: EventReleaseFailed, ReleaseID: releaseID, Success: false}
	if err != nil {
		e.Error = err.Error()
	}
	l.Log(e)
}

// CacheEvicted logs a chunk cache eviction.
func (l *Logger) CacheEvicted(chunkID string) {
	l.Log(&Event{Type: EventCacheEvicted, ChunkID: chunkID, Success: true})
}

// CacheGraduated logs a prefetched chunk graduating into the on-disk
// cache.
func (l *Logger) CacheGraduated(chunkID string) {
	l.Log(&Event{Type: EventCacheGraduated, ChunkID: chunkID, Success: true})
}

// PlaybackError logs a playback error for a track.
func (l *Logger) PlaybackError(trackID string, err error) {
	e := &Event{Type: EventPlaybackError, TrackID: trackID, Success: false}
	if err != nil {
		e.Error = err.Error()
	}
	l.Log(e)
}

// Events returns a snapshot of the in-memory event buffer, for tests and
// diagnostics.
func (l *Logger) Events() []*Event {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]*Event, len(l.events))
	copy(out, l.events)
	return out
}

// Close releases the underlying writer, if it supports closing.
func (l *Logger) Close() error {
	if closer, ok := l.writer.(interface{ Close() error }); ok {
		return closer.Close()
	}
	return nil
}

// marshal is used by sinks that serialize events to bytes.
func marshal(e *Event) ([]byte, error) {
	return json.Marshal(e)
}
