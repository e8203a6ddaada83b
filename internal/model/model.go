// Package model defines the catalogue's persisted entities, exactly the
// shape spec.md §3 describes: Artist, Album, Release, Track, artist links,
// File, Chunk, AudioFormat, and TrackChunkCoords. Struct tags drive the
// gorm/sqlite schema built by internal/catalog.
package model

import (
	"time"

	"github.com/kenneth/bae-engine/internal/ids"
)

// ImportStatus is the lifecycle state of a Release or Track row. It
// progresses monotonically except that Failed is terminal (spec §3).
type ImportStatus string

const (
	StatusQueued    ImportStatus = "queued"
	StatusImporting ImportStatus = "importing"
	StatusComplete  ImportStatus = "complete"
	StatusFailed    ImportStatus = "failed"
)

// ExternalIDs is a product of two optional provider-specific id pairs, never
// a sum type, per spec.md §9 Design Notes ("Source-pattern tagged
// variants"). Each field is a pointer so both, either, or neither may be
// set.
type ExternalIDs struct {
	DiscogsID       *string `gorm:"column:discogs_id;index" json:"discogs_id,omitempty"`
	MusicBrainzID   *string `gorm:"column:musicbrainz_id;index" json:"musicbrainz_id,omitempty"`
}

// Artist is a credited performer or contributor.
type Artist struct {
	ID        ids.ID `gorm:"primaryKey;type:text" json:"id"`
	Name      string `gorm:"not null" json:"name"`
	SortName  *string `json:"sort_name,omitempty"`
	ExternalIDs
	CreatedAt time.Time `json:"created_at"`
}

// Album is the logical work; a release belongs to exactly one album, an
// album may have multiple releases (spec §3).
type Album struct {
	ID            ids.ID  `gorm:"primaryKey;type:text" json:"id"`
	Title         string  `gorm:"not null" json:"title"`
	Year          *int    `json:"year,omitempty"`
	IsCompilation bool    `json:"is_compilation"`
	CoverURL      *string `json:"cover_url,omitempty"`
	ExternalIDs
	CreatedAt time.Time `json:"created_at"`

	Releases []Release `gorm:"foreignKey:AlbumID;constraint:OnDelete:CASCADE" json:"-"`
}

// Release is a specific pressing/version of an Album and is the unit of
// import and storage.
type Release struct {
	ID             ids.ID       `gorm:"primaryKey;type:text" json:"id"`
	AlbumID        ids.ID       `gorm:"type:text;not null;index" json:"album_id"`
	ReleaseName    *string      `json:"release_name,omitempty"`
	Year           *int         `json:"year,omitempty"`
	Format         *string      `json:"format,omitempty"`
	Label          *string      `json:"label,omitempty"`
	CatalogNumber  *string      `json:"catalog_number,omitempty"`
	Country        *string      `json:"country,omitempty"`
	Barcode        *string      `json:"barcode,omitempty"`
	ImportStatus   ImportStatus `gorm:"not null;default:queued" json:"import_status"`
	ExternalIDs
	CreatedAt time.Time `json:"created_at"`

	Tracks []Track `gorm:"foreignKey:ReleaseID;constraint:OnDelete:CASCADE" json:"-"`
	Files  []File  `gorm:"foreignKey:ReleaseID;constraint:OnDelete:CASCADE" json:"-"`
	Chunks []Chunk `gorm:"foreignKey:ReleaseID;constraint:OnDelete:CASCADE" json:"-"`
}

// Track is one playable item within a Release.
type Track struct {
	ID            ids.ID       `gorm:"primaryKey;type:text" json:"id"`
	ReleaseID     ids.ID       `gorm:"type:text;not null;index" json:"release_id"`
	Title         string       `gorm:"not null" json:"title"`
	TrackNumber   *int         `json:"track_number,omitempty"`
	DiscNumber    *int         `json:"disc_number,omitempty"`
	DurationMs    *int64       `json:"duration_ms,omitempty"`
	PositionLabel *string      `json:"position_label,omitempty"`
	ImportStatus  ImportStatus `gorm:"not null;default:importing" json:"import_status"`
	CreatedAt     time.Time    `json:"created_at"`
}

// AlbumArtistLink orders and optionally roles an Artist's credit on an
// Album.
type AlbumArtistLink struct {
	AlbumID  ids.ID  `gorm:"primaryKey;type:text" json:"album_id"`
	ArtistID ids.ID  `gorm:"primaryKey;type:text" json:"artist_id"`
	Position int     `gorm:"not null" json:"position"`
	Role     *string `json:"role,omitempty"`
}

// TrackArtistLink orders and optionally roles an Artist's credit on a
// Track.
type TrackArtistLink struct {
	TrackID  ids.ID  `gorm:"primaryKey;type:text" json:"track_id"`
	ArtistID ids.ID  `gorm:"primaryKey;type:text" json:"artist_id"`
	Position int     `gorm:"not null" json:"position"`
	Role     *string `json:"role,omitempty"`
}

// File records one source file that contributed to a Release's virtual byte
// stream. It exists for export/seed reconstruction only; playback never
// reads it (spec §3).
type File struct {
	ID               ids.ID `gorm:"primaryKey;type:text" json:"id"`
	ReleaseID        ids.ID `gorm:"type:text;not null;index" json:"release_id"`
	OriginalFilename string `gorm:"not null" json:"original_filename"`
	FileSize         int64  `gorm:"not null" json:"file_size"`
	Format           string `json:"format"`
}

// Chunk is one fixed-size, encrypted slice of a Release's virtual byte
// stream. (release_id, chunk_index) is unique (spec §3).
type Chunk struct {
	ID             ids.ID     `gorm:"primaryKey;type:text" json:"id"`
	ReleaseID      ids.ID     `gorm:"type:text;not null;uniqueIndex:idx_release_chunk_index" json:"release_id"`
	ChunkIndex     int        `gorm:"not null;uniqueIndex:idx_release_chunk_index" json:"chunk_index"`
	EncryptedSize  int64      `gorm:"not null" json:"encrypted_size"`
	StorageKey     string     `gorm:"not null" json:"storage_key"`
	LastAccessed   *time.Time `json:"last_accessed,omitempty"`
}

// AudioFormat is 1:1 with Track. HeaderBlob and SeektableBlob are present
// iff NeedsPrependedHeaders is true (disc-image tracks, spec §3).
type AudioFormat struct {
	TrackID               ids.ID `gorm:"primaryKey;type:text" json:"track_id"`
	Format                string `gorm:"not null" json:"format"`
	NeedsPrependedHeaders bool   `json:"needs_prepended_headers"`
	HeaderBlob            []byte `json:"header_blob,omitempty"`
	SeektableBlob         []byte `json:"seektable_blob,omitempty"`
}

// TrackChunkCoords is 1:1 with Track and locates it within its Release's
// chunk stream (spec §3). Offsets are measured within the respective
// start/end chunks; times are track-relative milliseconds into the
// release's logical timeline for disc-image tracks, or track-local
// otherwise.
type TrackChunkCoords struct {
	TrackID         ids.ID `gorm:"primaryKey;type:text" json:"track_id"`
	StartChunkIndex int    `gorm:"not null" json:"start_chunk_index"`
	EndChunkIndex   int    `gorm:"not null" json:"end_chunk_index"`
	StartByteOffset int    `gorm:"not null" json:"start_byte_offset"`
	EndByteOffset   int    `gorm:"not null" json:"end_byte_offset"`
	StartTimeMs     int64  `json:"start_time_ms"`
	EndTimeMs       int64  `json:"end_time_ms"`
}

// TableName overrides keep the schema's plural, snake_case convention
// explicit rather than relying on gorm's pluralization for irregular
// names.
func (AlbumArtistLink) TableName() string { return "album_artist_links" }
func (TrackArtistLink) TableName() string { return "track_artist_links" }
func (TrackChunkCoords) TableName() string { return "track_chunk_coords" }
