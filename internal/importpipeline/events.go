package importpipeline

import "github.com/kenneth/bae-engine/internal/ids"

// EventKind tags which of spec.md §4.6's progress events an Event carries.
type EventKind string

const (
	EventStarted            EventKind = "started"
	EventChunkUploaded       EventKind = "chunk_uploaded"
	EventProcessingProgress EventKind = "processing_progress"
	EventTrackCompleted     EventKind = "track_completed"
	EventComplete           EventKind = "complete"
	EventFailed             EventKind = "failed"
)

// Event is one progress notification, always tagged with ReleaseID per
// spec.md §4.6.
type Event struct {
	Kind        EventKind
	ReleaseID   ids.ID
	TrackID     ids.ID
	ChunkIndex  int
	OriginalSize  int64
	EncryptedSize int64
	Completed   int
	Total       int
	TotalChunks int
	Err         error
}
