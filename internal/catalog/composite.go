package catalog

import (
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/kenneth/bae-engine/internal/errs"
	"github.com/kenneth/bae-engine/internal/ids"
	"github.com/kenneth/bae-engine/internal/model"
)

// InsertReleaseBundle atomically inserts an album (if not already
// present), a release, and its tracks, per spec.md §4.4. External-id
// columns ride along on the Album/Release rows themselves via
// model.ExternalIDs, so no separate insert is needed for them.
func (c *Catalog) InsertReleaseBundle(album *model.Album, release *model.Release, tracks []model.Track) error {
	return c.db.Transaction(func(tx *gorm.DB) error {
		if album.ID.IsNil() {
			album.ID = ids.New()
		}
		if album.CreatedAt.IsZero() {
			album.CreatedAt = time.Now()
		}
		if err := tx.Clauses(clause.OnConflict{DoNothing: true}).Create(album).Error; err != nil {
			return errs.Wrap(errs.KindDB, "catalog", "failed to insert album", err)
		}

		if release.ID.IsNil() {
			release.ID = ids.New()
		}
		release.AlbumID = album.ID
		if release.ImportStatus == "" {
			release.ImportStatus = model.StatusQueued
		}
		if release.CreatedAt.IsZero() {
			release.CreatedAt = time.Now()
		}
		if err := tx.Create(release).Error; err != nil {
			return errs.Wrap(errs.KindDB, "catalog", "failed to insert release", err)
		}

		for i := range tracks {
			if tracks[i].ID.IsNil() {
				tracks[i].ID = ids.New()
			}
			tracks[i].ReleaseID = release.ID
			if tracks[i].ImportStatus == "" {
				tracks[i].ImportStatus = model.StatusImporting
			}
			if tracks[i].CreatedAt.IsZero() {
				tracks[i].CreatedAt = time.Now()
			}
		}
		if len(tracks) > 0 {
			if err := tx.Create(&tracks).Error; err != nil {
				return errs.Wrap(errs.KindDB, "catalog", "failed to insert tracks", err)
			}
		}
		return nil
	})
}

// UpsertChunk is idempotent on (release_id, chunk_index), per spec.md
// §4.4: a retried upload for the same chunk index must not create a
// duplicate row.
func (c *Catalog) UpsertChunk(chunk *model.Chunk) error {
	if chunk.ID.IsNil() {
		chunk.ID = ids.New()
	}
	err := c.db.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "release_id"}, {Name: "chunk_index"}},
		DoUpdates: clause.AssignmentColumns([]string{"encrypted_size", "storage_key", "last_accessed"}),
	}).Create(chunk).Error
	if err != nil {
		return errs.Wrap(errs.KindDB, "catalog", "failed to upsert chunk", err)
	}
	return nil
}

// WriteTrackMaterialization atomically writes a track's AudioFormat and
// TrackChunkCoords, per spec.md §4.4. Must be called exactly once per
// track; a second call for the same track fails on the TrackID primary
// key and its transaction writes nothing.
func (c *Catalog) WriteTrackMaterialization(trackID ids.ID, audioFormat *model.AudioFormat, coords *model.TrackChunkCoords) error {
	return c.db.Transaction(func(tx *gorm.DB) error {
		audioFormat.TrackID = trackID
		if err := tx.Create(audioFormat).Error; err != nil {
			return errs.Wrap(errs.KindDB, "catalog", "failed to write audio format", err)
		}
		coords.TrackID = trackID
		if err := tx.Create(coords).Error; err != nil {
			return errs.Wrap(errs.KindDB, "catalog", "failed to write track chunk coords", err)
		}
		return nil
	})
}

// SetTrackStatus updates a single track's lifecycle status.
func (c *Catalog) SetTrackStatus(trackID ids.ID, status model.ImportStatus) error {
	err := c.db.Model(&model.Track{}).Where("id = ?", trackID.String()).
		Update("import_status", status).Error
	if err != nil {
		return errs.Wrap(errs.KindDB, "catalog", "failed to set track status", err)
	}
	return nil
}

// SetReleaseStatus updates a release's lifecycle status.
func (c *Catalog) SetReleaseStatus(releaseID ids.ID, status model.ImportStatus) error {
	err := c.db.Model(&model.Release{}).Where("id = ?", releaseID.String()).
		Update("import_status", status).Error
	if err != nil {
		return errs.Wrap(errs.KindDB, "catalog", "failed to set release status", err)
	}
	return nil
}

// CompleteTrackAndMaybeRelease marks trackID complete and, inside the same
// transaction, flips the owning release to complete iff every one of its
// tracks is now complete. This resolves spec.md §9's open question on
// release-completion timing: the check happens transactionally inside the
// persist stage rather than via a separate sweep.
func (c *Catalog) CompleteTrackAndMaybeRelease(trackID, releaseID ids.ID) error {
	return c.db.Transaction(func(tx *gorm.DB) error {
		if err := tx.Model(&model.Track{}).Where("id = ?", trackID.String()).
			Update("import_status", model.StatusComplete).Error; err != nil {
			return errs.Wrap(errs.KindDB, "catalog", "failed to mark track complete", err)
		}

		var incomplete int64
		err := tx.Model(&model.Track{}).
			Where("release_id = ? AND import_status != ?", releaseID.String(), model.StatusComplete).
			Count(&incomplete).Error
		if err != nil {
			return errs.Wrap(errs.KindDB, "catalog", "failed to count incomplete tracks", err)
		}

		if incomplete == 0 {
			if err := tx.Model(&model.Release{}).Where("id = ?", releaseID.String()).
				Update("import_status", model.StatusComplete).Error; err != nil {
				return errs.Wrap(errs.KindDB, "catalog", "failed to mark release complete", err)
			}
		}
		return nil
	})
}

// ChunksInRange returns the chunks of release in [start, end], ordered by
// chunk_index, per spec.md §4.4.
func (c *Catalog) ChunksInRange(releaseID ids.ID, start, end int) ([]model.Chunk, error) {
	var chunks []model.Chunk
	err := c.db.Where("release_id = ? AND chunk_index BETWEEN ? AND ?", releaseID.String(), start, end).
		Order("chunk_index").
		Find(&chunks).Error
	if err != nil {
		return nil, errs.Wrap(errs.KindDB, "catalog", "failed to fetch chunks in range", err)
	}
	return chunks, nil
}

// ExternalIDQuery names the optional provider ids used for pre-import
// duplicate detection (spec.md §4.4).
type ExternalIDQuery struct {
	DiscogsID     *string
	MusicBrainzID *string
}

// FindAlbumByExternalIDs looks up an existing album by either provider id,
// for duplicate detection before import begins. Returns (nil, nil) if
// neither id is set or no match exists.
func (c *Catalog) FindAlbumByExternalIDs(q ExternalIDQuery) (*model.Album, error) {
	if q.DiscogsID == nil && q.MusicBrainzID == nil {
		return nil, nil
	}

	tx := c.db.Model(&model.Album{})
	if q.DiscogsID != nil {
		tx = tx.Or("discogs_id = ?", *q.DiscogsID)
	}
	if q.MusicBrainzID != nil {
		tx = tx.Or("musicbrainz_id = ?", *q.MusicBrainzID)
	}

	var album model.Album
	err := tx.First(&album).Error
	if err != nil {
		if err == gorm.ErrRecordNotFound {
			return nil, nil
		}
		return nil, errs.Wrap(errs.KindDB, "catalog", "failed to query album by external ids", err)
	}
	return &album, nil
}
