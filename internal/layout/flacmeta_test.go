package layout

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func sampleAlbumMeta() AlbumMeta {
	info := StreamInfo{
		MinBlockSize: 4096, MaxBlockSize: 4096,
		MinFrameSize: 1000, MaxFrameSize: 5000,
		SampleRate: 44100, ChannelCount: 2, BitsPerSample: 16,
		SampleCount: 44100 * 600, // 10 minutes
	}
	points := []SeekPoint{
		{SampleNum: 0, Offset: 0, SampleCount: 4096},
		{SampleNum: 44100 * 60, Offset: 2_000_000, SampleCount: 4096},  // ~1 min in
		{SampleNum: 44100 * 240, Offset: 8_000_000, SampleCount: 4096}, // 4 min in
		{SampleNum: 44100 * 480, Offset: 16_000_000, SampleCount: 4096}, // 8 min in
	}
	header := serializeHeader(info, points)
	return AlbumMeta{Info: info, SeekPoints: points, HeaderBytes: int64(len(header))}
}

func TestSeekTableRoundTrip(t *testing.T) {
	points := []SeekPoint{
		{SampleNum: 0, Offset: 0, SampleCount: 4096},
		{SampleNum: 9999, Offset: 123456, SampleCount: 2048},
	}
	blob := serializeSeekTable(points)
	got, err := DeserializeSeekTable(blob)
	require.NoError(t, err)
	assert.Equal(t, points, got)
}

func TestDeserializeSeekTableRejectsMisalignedBlob(t *testing.T) {
	_, err := DeserializeSeekTable([]byte{1, 2, 3})
	require.Error(t, err)
}

func TestNearestSeekByteForSampleFindsFloor(t *testing.T) {
	album := sampleAlbumMeta()
	// Between the 1-minute and 4-minute marks: nearest floor is the 1-min point.
	got := NearestSeekByteForSample(album.SeekPoints, 44100*120)
	assert.Equal(t, uint64(2_000_000), got)
}

func TestNearestSeekByteForSampleBeforeFirstPointIsZero(t *testing.T) {
	album := sampleAlbumMeta()
	got := NearestSeekByteForSample(album.SeekPoints, 10)
	assert.Equal(t, uint64(0), got)
}

func TestMaterializeTrackHeaderRenumbersSamplesFromZero(t *testing.T) {
	album := sampleAlbumMeta()

	// Track spanning the 1-minute to 4-minute seek points.
	mat, err := MaterializeTrackHeader(album, 2_000_000, 8_000_000-1, 44100*60, 44100*240)
	require.NoError(t, err)

	points, err := DeserializeSeekTable(mat.SeekTableBlob)
	require.NoError(t, err)
	require.Len(t, points, 1) // only the 1-min seek point falls strictly within [start,end)

	assert.Equal(t, uint64(0), points[0].SampleNum)
	assert.Equal(t, mat.SampleCount, uint64(44100*180))
}

func TestMaterializeTrackHeaderOffsetsAreHeaderRelative(t *testing.T) {
	album := sampleAlbumMeta()
	mat, err := MaterializeTrackHeader(album, 2_000_000, 8_000_000-1, 44100*60, 44100*240)
	require.NoError(t, err)

	points, err := DeserializeSeekTable(mat.SeekTableBlob)
	require.NoError(t, err)
	require.Len(t, points, 1)

	// The sole surviving point was at the exact start of the range, so its
	// audio-relative offset is 0; after the final pass it must equal
	// exactly the header length.
	assert.Equal(t, uint64(len(mat.HeaderBlob)), points[0].Offset)
}

func TestMaterializeTrackHeaderRejectsInvertedRange(t *testing.T) {
	album := sampleAlbumMeta()
	_, err := MaterializeTrackHeader(album, 100, 50, 10, 5)
	require.Error(t, err)
}
