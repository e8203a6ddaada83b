// Package layout computes how a release's source files map onto the
// fixed-size chunk stream, and how individual tracks locate themselves
// within it, per spec.md §4.5. It covers the simple one-file-per-track
// case and the disc-image (single FLAC + CUE sheet) case, the latter
// requiring per-track header materialization so each track can be decoded
// independently of its siblings.
//
// Grounded on mewkiz/flac (+ its meta subpackage) for STREAMINFO/SEEKTABLE
// parsing, the only FLAC library in the retrieval pack, and on a
// hand-rolled text CUE sheet parser since no CUE-sheet library exists
// anywhere in the pack (see DESIGN.md).
package layout

import (
	"fmt"

	"github.com/kenneth/bae-engine/internal/errs"
)

// FileEntry is one discovered source file contributing to a release's
// virtual byte stream.
type FileEntry struct {
	Path string
	Size int64
}

// FileChunkRange is the per-file chunking result of spec.md §4.5.
type FileChunkRange struct {
	Path            string
	StartChunkIndex int
	EndChunkIndex   int
	StartByteOffset int
	EndByteOffset   int
}

// PlanResult is the full output of LayoutPlanner.Plan.
type PlanResult struct {
	FilesToChunks   []FileChunkRange
	ChunkToTracks   map[int][]string // chunk_index -> ordered track keys (opaque caller-supplied ids as strings)
	TrackChunkCount map[string]int
	CueFlac         *CueFlacLayout // nil unless this release is a disc image
}

// ChunkFiles computes files_to_chunks for an ordered list of files laid
// out back-to-back with no gaps, per spec.md §4.5's formula.
func ChunkFiles(files []FileEntry, chunkSize int64) ([]FileChunkRange, error) {
	if chunkSize <= 0 {
		return nil, errs.New(errs.KindPlanning, "layout", "chunk size must be positive")
	}

	ranges := make([]FileChunkRange, 0, len(files))
	var cursor int64
	for _, f := range files {
		if f.Size <= 0 {
			return nil, errs.New(errs.KindPlanning, "layout", fmt.Sprintf("zero-size file %s", f.Path))
		}
		a := cursor
		lastByte := a + f.Size - 1
		ranges = append(ranges, FileChunkRange{
			Path:            f.Path,
			StartChunkIndex: int(a / chunkSize),
			EndChunkIndex:   int(lastByte / chunkSize),
			StartByteOffset: int(a % chunkSize),
			EndByteOffset:   int(lastByte % chunkSize),
		})
		cursor += f.Size
	}
	return ranges, nil
}

// TrackByteRange is a track's position within the release's absolute byte
// stream, used both for simple per-track imports and (after CUE boundary
// resolution) for disc-image tracks.
type TrackByteRange struct {
	TrackKey   string
	StartByte  int64
	EndByte    int64 // inclusive
}

// ChunkToTracksAndCounts builds chunk_to_tracks and track_chunk_counts
// from a set of absolute track byte ranges, per spec.md §4.5. Chunks with
// no track overlapping them (covers, sheets) are simply absent from the
// map.
func ChunkToTracksAndCounts(tracks []TrackByteRange, chunkSize int64) (map[int][]string, map[string]int) {
	chunkToTracks := make(map[int][]string)
	trackChunkCounts := make(map[string]int)

	for _, t := range tracks {
		startChunk := int(t.StartByte / chunkSize)
		endChunk := int(t.EndByte / chunkSize)
		trackChunkCounts[t.TrackKey] = endChunk - startChunk + 1
		for ci := startChunk; ci <= endChunk; ci++ {
			chunkToTracks[ci] = append(chunkToTracks[ci], t.TrackKey)
		}
	}
	return chunkToTracks, trackChunkCounts
}

// Plan assembles the full spec.md §4.5 output for a single-file-per-track
// release (no CUE/FLAC disc image).
func Plan(files []FileEntry, fileToTrackKey map[string]string, chunkSize int64) (*PlanResult, error) {
	fileRanges, err := ChunkFiles(files, chunkSize)
	if err != nil {
		return nil, err
	}

	var cursor int64
	var trackRanges []TrackByteRange
	for i, f := range files {
		start := cursor
		end := start + f.Size - 1
		cursor += f.Size
		key, ok := fileToTrackKey[f.Path]
		if !ok {
			continue // non-track file (cover art, sheet): contributes no track range
		}
		trackRanges = append(trackRanges, TrackByteRange{TrackKey: key, StartByte: start, EndByte: end})
		_ = i
	}

	chunkToTracks, trackChunkCounts := ChunkToTracksAndCounts(trackRanges, chunkSize)

	return &PlanResult{
		FilesToChunks:   fileRanges,
		ChunkToTracks:   chunkToTracks,
		TrackChunkCount: trackChunkCounts,
	}, nil
}
