package catalog

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kenneth/bae-engine/internal/ids"
	"github.com/kenneth/bae-engine/internal/model"
)

func newTestCatalog(t *testing.T) *Catalog {
	t.Helper()
	path := filepath.Join(t.TempDir(), "catalog.db")
	cat, err := Open(path)
	require.NoError(t, err)
	t.Cleanup(func() { _ = cat.Close() })
	return cat
}

func TestInsertReleaseBundleIsAtomic(t *testing.T) {
	cat := newTestCatalog(t)

	album := &model.Album{Title: "Test Album"}
	release := &model.Release{}
	tracks := []model.Track{
		{Title: "Track One"},
		{Title: "Track Two"},
	}

	require.NoError(t, cat.InsertReleaseBundle(album, release, tracks))

	got, err := cat.GetRelease(release.ID)
	require.NoError(t, err)
	assert.Equal(t, album.ID, got.AlbumID)

	storedTracks, err := cat.ListTracksByRelease(release.ID)
	require.NoError(t, err)
	assert.Len(t, storedTracks, 2)
}

func TestUpsertChunkIsIdempotent(t *testing.T) {
	cat := newTestCatalog(t)
	releaseID := ids.New()

	chunk := &model.Chunk{ReleaseID: releaseID, ChunkIndex: 0, EncryptedSize: 100, StorageKey: "k1"}
	require.NoError(t, cat.UpsertChunk(chunk))

	retry := &model.Chunk{ReleaseID: releaseID, ChunkIndex: 0, EncryptedSize: 100, StorageKey: "k1"}
	require.NoError(t, cat.UpsertChunk(retry))

	chunks, err := cat.ChunksInRange(releaseID, 0, 0)
	require.NoError(t, err)
	assert.Len(t, chunks, 1)
}

func TestCompleteTrackAndMaybeReleaseFlipsReleaseOnlyWhenAllTracksDone(t *testing.T) {
	cat := newTestCatalog(t)

	album := &model.Album{Title: "Album"}
	release := &model.Release{}
	tracks := []model.Track{{Title: "T1"}, {Title: "T2"}}
	require.NoError(t, cat.InsertReleaseBundle(album, release, tracks))

	require.NoError(t, cat.CompleteTrackAndMaybeRelease(tracks[0].ID, release.ID))

	mid, err := cat.GetRelease(release.ID)
	require.NoError(t, err)
	assert.Equal(t, model.StatusQueued, mid.ImportStatus)

	require.NoError(t, cat.CompleteTrackAndMaybeRelease(tracks[1].ID, release.ID))

	done, err := cat.GetRelease(release.ID)
	require.NoError(t, err)
	assert.Equal(t, model.StatusComplete, done.ImportStatus)
}

func TestChunksInRangeOrderedByIndex(t *testing.T) {
	cat := newTestCatalog(t)
	releaseID := ids.New()

	for _, idx := range []int{2, 0, 1} {
		require.NoError(t, cat.UpsertChunk(&model.Chunk{ReleaseID: releaseID, ChunkIndex: idx, StorageKey: "k"}))
	}

	chunks, err := cat.ChunksInRange(releaseID, 0, 2)
	require.NoError(t, err)
	require.Len(t, chunks, 3)
	assert.Equal(t, 0, chunks[0].ChunkIndex)
	assert.Equal(t, 1, chunks[1].ChunkIndex)
	assert.Equal(t, 2, chunks[2].ChunkIndex)
}

func TestFindAlbumByExternalIDsReturnsNilWhenNoMatch(t *testing.T) {
	cat := newTestCatalog(t)
	discogs := "nonexistent"
	album, err := cat.FindAlbumByExternalIDs(ExternalIDQuery{DiscogsID: &discogs})
	require.NoError(t, err)
	assert.Nil(t, album)
}

func TestFindAlbumByExternalIDsReturnsNilWhenNeitherIDSet(t *testing.T) {
	cat := newTestCatalog(t)
	album, err := cat.FindAlbumByExternalIDs(ExternalIDQuery{})
	require.NoError(t, err)
	assert.Nil(t, album)
}

func TestFindAlbumByExternalIDsFindsMatch(t *testing.T) {
	cat := newTestCatalog(t)
	discogs := "12345"
	album := &model.Album{Title: "Found Me", ExternalIDs: model.ExternalIDs{DiscogsID: &discogs}}
	release := &model.Release{}
	require.NoError(t, cat.InsertReleaseBundle(album, release, nil))

	found, err := cat.FindAlbumByExternalIDs(ExternalIDQuery{DiscogsID: &discogs})
	require.NoError(t, err)
	require.NotNil(t, found)
	assert.Equal(t, album.ID, found.ID)
}

func TestWriteTrackMaterializationWritesBothRows(t *testing.T) {
	cat := newTestCatalog(t)

	album := &model.Album{Title: "Album"}
	release := &model.Release{}
	tracks := []model.Track{{Title: "T1"}}
	require.NoError(t, cat.InsertReleaseBundle(album, release, tracks))

	af := &model.AudioFormat{Format: "flac"}
	coords := &model.TrackChunkCoords{StartChunkIndex: 0, EndChunkIndex: 3}
	require.NoError(t, cat.WriteTrackMaterialization(tracks[0].ID, af, coords))

	gotAF, err := cat.GetAudioFormat(tracks[0].ID)
	require.NoError(t, err)
	assert.Equal(t, "flac", gotAF.Format)

	gotCoords, err := cat.GetTrackChunkCoords(tracks[0].ID)
	require.NoError(t, err)
	assert.Equal(t, 3, gotCoords.EndChunkIndex)
}
