// Package extiface holds the interface-only contracts for the system's
// external collaborators: components spec.md §1/§6 explicitly scopes out
// of this engine's implementation (the UI, third-party catalogue/DiscID
// providers, the Subsonic-compatible HTTP API, settings and key storage,
// the BitTorrent client, and the CD DiscID computation). Nothing in this
// package has a concrete implementation; it exists so the core packages
// can depend on a narrow shape without depending on any particular host.
package extiface

import (
	"context"
	"time"
)

// ReleaseTrackInfo is one track within a CatalogueProvider's pre-parsed
// release metadata (spec.md §6, "Catalogue-provider interface").
type ReleaseTrackInfo struct {
	PositionLabel string
	Title         string
	DurationMs    *int64
}

// ReleaseInfo is the opaque, pre-parsed release metadata the import
// workflow receives from a third-party catalogue/DiscID provider before
// import begins. The core treats it as an opaque input; resolving it from
// Discogs, MusicBrainz, or a DiscID lookup is entirely the provider's
// concern.
type ReleaseInfo struct {
	Title     string
	Artists   []string
	Year      *int
	Tracklist []ReleaseTrackInfo
}

// CatalogueProvider looks up pre-parsed release metadata for a prospective
// import, e.g. by Discogs/MusicBrainz search or CD DiscID. Out of scope
// per spec.md §1; the engine only consumes its output.
type CatalogueProvider interface {
	Lookup(ctx context.Context, query string) ([]ReleaseInfo, error)
}

// DiscIDComputer computes a CD table-of-contents DiscID for provider
// lookup. Out of scope per spec.md §1 ("the CD DiscID computation").
type DiscIDComputer interface {
	ComputeDiscID(ctx context.Context, tocPath string) (string, error)
}

// TorrentSource supplies files for import from a BitTorrent swarm instead
// of a local folder, e.g. for the "later a torrent" case in spec.md §1.
// Out of scope; the engine's import pipeline only needs the discovered
// file list and readable byte ranges, which TorrentSource is responsible
// for making available locally (seeded files may also be pinned in
// ChunkCache; see internal/chunkcache.Cache.Pin).
type TorrentSource interface {
	// Files returns the ordered file list this torrent contributes, in
	// the same shape internal/layout.FileEntry expects.
	Files(ctx context.Context) ([]TorrentFile, error)
	// Open returns a reader positioned at the start of one file's bytes,
	// blocking until enough of the torrent has downloaded to satisfy the
	// read (or ctx is cancelled).
	Open(ctx context.Context, path string) (ReadAtCloser, error)
}

// TorrentFile is one file a TorrentSource makes available.
type TorrentFile struct {
	Path string
	Size int64
}

// ReadAtCloser is the narrow capability TorrentSource.Open returns.
type ReadAtCloser interface {
	ReadAt(p []byte, off int64) (int, error)
	Close() error
}

// KeySource is not declared in this package: its only definition lives in
// internal/chunkcodec (spec.md §4.1), although key storage is likewise an
// out-of-scope external collaborator per spec.md §1.

// SubsonicExposer is implemented by a host process that exposes this
// engine's catalogue and playback engine over the Subsonic-compatible
// HTTP API (spec.md §1 Non-goals: the API surface itself is out of
// scope). It is declared here purely so a host can be type-checked
// against the shape the core expects to be driven through.
type SubsonicExposer interface {
	// Serve blocks, serving the Subsonic API until ctx is cancelled.
	Serve(ctx context.Context) error
}

// SettingsStore is the out-of-scope external collaborator responsible for
// persisting user-facing settings (as opposed to catalogue metadata,
// which is internal/catalog's concern).
type SettingsStore interface {
	Get(ctx context.Context, key string) (string, bool, error)
	Set(ctx context.Context, key, value string) error
}

// UINotifier is the out-of-scope external collaborator that receives
// import/playback progress for display. The core only ever writes to
// typed Go channels (the chan<- importpipeline.Event passed to
// importpipeline.Pipeline.Run, and playbackengine.Engine.Events());
// UINotifier documents the shape a
// host adapter bridging those channels to a UI technology is expected to
// have.
type UINotifier interface {
	Notify(ctx context.Context, kind string, payload any, at time.Time)
}
