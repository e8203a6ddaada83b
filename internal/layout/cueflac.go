package layout

import (
	"github.com/kenneth/bae-engine/internal/errs"
)

// CueFlacTrack is one disc-image track's resolved position, per spec.md
// §4.5's cue_flac_layout output.
type CueFlacTrack struct {
	TrackKey        string
	StartChunkIndex int
	EndChunkIndex   int
	StartByte       int64 // absolute, within the release's virtual stream
	EndByte         int64 // inclusive
	StartSample     uint64
	EndSample       uint64
	StartTimeMs     int64
	EndTimeMs       int64
}

// CueFlacLayout is the disc-image-specific half of a Plan (spec.md §4.5).
type CueFlacLayout struct {
	Tracks   []CueFlacTrack
	AlbumMeta AlbumMeta
}

// PlanCueFlac resolves a parsed CUE sheet against a single disc-image FLAC
// file's metadata, implementing the CUE/FLAC track boundary algorithm of
// spec.md §4.5. fileStartByte is the disc image's start offset within the
// release's absolute virtual stream (0 unless preceded by other files,
// e.g. cover art).
func PlanCueFlac(sheet *CueSheet, album AlbumMeta, fileSize int64, fileStartByte int64, trackKeys []string, chunkSize int64) (*CueFlacLayout, error) {
	if len(sheet.Tracks) == 0 {
		return nil, errs.New(errs.KindPlanning, "layout", "cue sheet contains no tracks")
	}
	if len(sheet.Tracks) != len(trackKeys) {
		return nil, errs.New(errs.KindPlanning, "layout", "cue sheet track count does not match release track count")
	}

	durationMs := int64(float64(album.Info.SampleCount) / float64(album.Info.SampleRate) * 1000)
	sheet.ResolveEndTimes(durationMs)

	out := &CueFlacLayout{AlbumMeta: album}

	for i, ct := range sheet.Tracks {
		startSample := MsToSample(ct.StartTimeMs, album.Info.SampleRate)
		var endSample uint64
		if i == len(sheet.Tracks)-1 {
			endSample = album.Info.SampleCount
		} else {
			endSample = MsToSample(ct.EndTimeMs, album.Info.SampleRate)
		}

		startByteInAudio := int64(NearestSeekByteForSample(album.SeekPoints, startSample))
		var endByteInAudio int64
		if i == len(sheet.Tracks)-1 {
			endByteInAudio = fileSize - album.HeaderBytes - 1
		} else {
			endByteInAudio = int64(NearestSeekByteForSample(album.SeekPoints, endSample)) - 1
		}
		if endByteInAudio < startByteInAudio {
			return nil, errs.New(errs.KindPlanning, "layout", "resolved track byte range is empty or inverted")
		}

		absoluteStart := fileStartByte + album.HeaderBytes + startByteInAudio
		absoluteEnd := fileStartByte + album.HeaderBytes + endByteInAudio

		out.Tracks = append(out.Tracks, CueFlacTrack{
			TrackKey:        trackKeys[i],
			StartChunkIndex: int(absoluteStart / chunkSize),
			EndChunkIndex:   int(absoluteEnd / chunkSize),
			StartByte:       absoluteStart,
			EndByte:         absoluteEnd,
			StartSample:     startSample,
			EndSample:       endSample,
			StartTimeMs:     ct.StartTimeMs,
			EndTimeMs:       ct.EndTimeMs,
		})
	}

	return out, nil
}

// ToTrackByteRanges adapts a CueFlacLayout's tracks into the generic
// TrackByteRange shape ChunkToTracksAndCounts consumes.
func (l *CueFlacLayout) ToTrackByteRanges() []TrackByteRange {
	ranges := make([]TrackByteRange, len(l.Tracks))
	for i, t := range l.Tracks {
		ranges[i] = TrackByteRange{TrackKey: t.TrackKey, StartByte: t.StartByte, EndByte: t.EndByte}
	}
	return ranges
}
