package layout

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestChunkFilesAdjacentNoGaps(t *testing.T) {
	files := []FileEntry{
		{Path: "a.flac", Size: 1500},
		{Path: "b.flac", Size: 2000},
	}
	ranges, err := ChunkFiles(files, 1000)
	require.NoError(t, err)
	require.Len(t, ranges, 2)

	assert.Equal(t, 0, ranges[0].StartChunkIndex)
	assert.Equal(t, 1, ranges[0].EndChunkIndex)
	assert.Equal(t, 0, ranges[0].StartByteOffset)
	assert.Equal(t, 499, ranges[0].EndByteOffset)

	// second file starts immediately after the first (byte 1500).
	assert.Equal(t, 1, ranges[1].StartChunkIndex)
	assert.Equal(t, 500, ranges[1].StartByteOffset)
	assert.Equal(t, 3, ranges[1].EndChunkIndex)
	assert.Equal(t, 499, ranges[1].EndByteOffset)
}

func TestChunkFilesRejectsZeroSize(t *testing.T) {
	_, err := ChunkFiles([]FileEntry{{Path: "empty.flac", Size: 0}}, 1000)
	require.Error(t, err)
}

func TestChunkFilesRejectsNonPositiveChunkSize(t *testing.T) {
	_, err := ChunkFiles([]FileEntry{{Path: "a.flac", Size: 10}}, 0)
	require.Error(t, err)
}

func TestChunkToTracksExcludesNonTrackChunks(t *testing.T) {
	tracks := []TrackByteRange{
		{TrackKey: "t1", StartByte: 0, EndByte: 999},
	}
	chunkToTracks, counts := ChunkToTracksAndCounts(tracks, 1000)

	assert.Equal(t, []string{"t1"}, chunkToTracks[0])
	assert.Equal(t, 1, counts["t1"])
	// chunk 1 has no track data at all.
	_, present := chunkToTracks[1]
	assert.False(t, present)
}

func TestPlanOnePerTrackFiles(t *testing.T) {
	files := []FileEntry{
		{Path: "01.flac", Size: 1200},
		{Path: "02.flac", Size: 800},
		{Path: "cover.jpg", Size: 50},
	}
	fileToTrackKey := map[string]string{
		"01.flac": "track-1",
		"02.flac": "track-2",
	}

	plan, err := Plan(files, fileToTrackKey, 1000)
	require.NoError(t, err)

	require.Len(t, plan.FilesToChunks, 3)
	assert.Equal(t, 2, plan.TrackChunkCount["track-1"])
	assert.Equal(t, 1, plan.TrackChunkCount["track-2"])

	// cover.jpg's chunk must not list either track if it falls in a chunk
	// the tracks don't reach: the tracks end at byte 1999 (chunk 1), cover
	// lies in chunk 2.
	assert.NotContains(t, plan.ChunkToTracks, 2)
	for _, ids := range plan.ChunkToTracks {
		for _, id := range ids {
			assert.Contains(t, []string{"track-1", "track-2"}, id)
		}
	}
}
