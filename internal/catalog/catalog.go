// Package catalog is the embedded relational store described in
// spec.md §4.4: a single-file sqlite database holding the entities of
// internal/model, exposed through CRUD plus the composite transactional
// operations the import pipeline and playback engine depend on.
//
// Grounded on gorm.io/gorm + gorm.io/driver/sqlite, the ORM stack named in
// the retrieval pack's tphakala-birdnet-go manifest (its full source was
// not retrieved, so schema and transaction conventions here follow gorm's
// own documented idioms rather than a specific file).
package catalog

import (
	"context"
	"fmt"
	"time"

	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/kenneth/bae-engine/internal/errs"
	"github.com/kenneth/bae-engine/internal/ids"
	"github.com/kenneth/bae-engine/internal/model"
)

// Catalog wraps a gorm.DB bound to the engine's single sqlite file.
type Catalog struct {
	db *gorm.DB
}

// Open creates or attaches to the sqlite database at path and applies
// migrations.
func Open(path string) (*Catalog, error) {
	db, err := gorm.Open(sqlite.Open(path), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		return nil, errs.Wrap(errs.KindDB, "catalog", "failed to open catalog database", err)
	}

	c := &Catalog{db: db}
	if err := c.migrate(); err != nil {
		return nil, err
	}
	return c, nil
}

// migrate applies the schema and the indices spec.md §4.4 requires beyond
// what AutoMigrate derives from struct tags.
func (c *Catalog) migrate() error {
	err := c.db.AutoMigrate(
		&model.Artist{},
		&model.Album{},
		&model.Release{},
		&model.Track{},
		&model.AlbumArtistLink{},
		&model.TrackArtistLink{},
		&model.File{},
		&model.Chunk{},
		&model.AudioFormat{},
		&model.TrackChunkCoords{},
	)
	if err != nil {
		return errs.Wrap(errs.KindDB, "catalog", "failed to migrate schema", err)
	}

	indices := []struct{ name, table, columns string }{
		{"idx_tracks_release_id", "tracks", "release_id"},
		{"idx_releases_album_id", "releases", "album_id"},
	}
	for _, idx := range indices {
		stmt := fmt.Sprintf("CREATE INDEX IF NOT EXISTS %s ON %s(%s)", idx.name, idx.table, idx.columns)
		if err := c.db.Exec(stmt).Error; err != nil {
			return errs.Wrap(errs.KindDB, "catalog", "failed to create index "+idx.name, err)
		}
	}
	return nil
}

// Close releases the underlying database handle.
func (c *Catalog) Close() error {
	sqlDB, err := c.db.DB()
	if err != nil {
		return errs.Wrap(errs.KindDB, "catalog", "failed to obtain raw db handle", err)
	}
	return sqlDB.Close()
}

// Ping verifies the catalog database is reachable, for readiness reporting.
func (c *Catalog) Ping(ctx context.Context) error {
	sqlDB, err := c.db.DB()
	if err != nil {
		return errs.Wrap(errs.KindDB, "catalog", "failed to obtain raw db handle", err)
	}
	if err := sqlDB.PingContext(ctx); err != nil {
		return errs.Wrap(errs.KindDB, "catalog", "database ping failed", err)
	}
	return nil
}

// --- basic CRUD -----------------------------------------------------------

func (c *Catalog) CreateArtist(a *model.Artist) error {
	if a.ID.IsNil() {
		a.ID = ids.New()
	}
	a.CreatedAt = time.Now()
	if err := c.db.Create(a).Error; err != nil {
		return errs.Wrap(errs.KindDB, "catalog", "failed to create artist", err)
	}
	return nil
}

func (c *Catalog) GetArtist(id ids.ID) (*model.Artist, error) {
	var a model.Artist
	if err := c.db.First(&a, "id = ?", id.String()).Error; err != nil {
		return nil, errs.Wrap(errs.KindDB, "catalog", "failed to get artist", err)
	}
	return &a, nil
}

func (c *Catalog) GetAlbum(id ids.ID) (*model.Album, error) {
	var a model.Album
	if err := c.db.First(&a, "id = ?", id.String()).Error; err != nil {
		return nil, errs.Wrap(errs.KindDB, "catalog", "failed to get album", err)
	}
	return &a, nil
}

func (c *Catalog) GetRelease(id ids.ID) (*model.Release, error) {
	var r model.Release
	if err := c.db.First(&r, "id = ?", id.String()).Error; err != nil {
		return nil, errs.Wrap(errs.KindDB, "catalog", "failed to get release", err)
	}
	return &r, nil
}

func (c *Catalog) GetTrack(id ids.ID) (*model.Track, error) {
	var t model.Track
	if err := c.db.First(&t, "id = ?", id.String()).Error; err != nil {
		return nil, errs.Wrap(errs.KindDB, "catalog", "failed to get track", err)
	}
	return &t, nil
}

func (c *Catalog) ListTracksByRelease(releaseID ids.ID) ([]model.Track, error) {
	var tracks []model.Track
	err := c.db.Where("release_id = ?", releaseID.String()).
		Order("disc_number, track_number").
		Find(&tracks).Error
	if err != nil {
		return nil, errs.Wrap(errs.KindDB, "catalog", "failed to list tracks", err)
	}
	return tracks, nil
}

func (c *Catalog) GetAudioFormat(trackID ids.ID) (*model.AudioFormat, error) {
	var af model.AudioFormat
	if err := c.db.First(&af, "track_id = ?", trackID.String()).Error; err != nil {
		return nil, errs.Wrap(errs.KindDB, "catalog", "failed to get audio format", err)
	}
	return &af, nil
}

func (c *Catalog) GetTrackChunkCoords(trackID ids.ID) (*model.TrackChunkCoords, error) {
	var coords model.TrackChunkCoords
	if err := c.db.First(&coords, "track_id = ?", trackID.String()).Error; err != nil {
		return nil, errs.Wrap(errs.KindDB, "catalog", "failed to get track chunk coords", err)
	}
	return &coords, nil
}
