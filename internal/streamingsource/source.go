// Package streamingsource presents a single track as a seekable
// random-access byte source to an external audio decoder, exactly
// spec.md §4.9: a virtual byte layout over a shared ChunkBuffer (with an
// optional prepended header for disc-image tracks), blocking
// read-on-miss up to a fixed timeout, and an io.Seeker-compatible seek
// that performs no I/O of its own.
//
// This package is intentionally stdlib-only (io, context, errors, time, fmt):
// it is pure byte-range arithmetic over an already-decrypted buffer, and
// nothing in the retrieval pack offers a library for that arithmetic
// itself — see DESIGN.md.
package streamingsource

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/kenneth/bae-engine/internal/chunkcache"
	"github.com/kenneth/bae-engine/internal/model"
)

// ReadTimeout bounds how long a Read may block on a ChunkBuffer miss
// before being surfaced as an I/O error (spec.md §4.9).
const ReadTimeout = 30 * time.Second

// ErrReadTimeout is returned, wrapped, when a chunk fails to load within
// ReadTimeout.
var ErrReadTimeout = errors.New("streamingsource: chunk fetch timed out")

// Buffer is the narrow ChunkBuffer capability Source needs: load a chunk
// range (blocking the caller, internally bounded/concurrent) and fetch
// one already-loaded chunk's bytes.
type Buffer interface {
	EnsureLoaded(ctx context.Context, start, end, minCount int, policy chunkcache.Policy) (int, error)
	Get(chunkIndex int) ([]byte, bool)
}

// Source is a seekable facade over one track's decrypted byte range. It
// is not safe for concurrent use; the PlaybackEngine's single command
// loop is its only caller, per spec.md §4.10.
type Source struct {
	buf       Buffer
	chunkSize int64

	header []byte // nil unless coords.NeedsPrependedHeaders

	absoluteStart int64 // release-stream byte coordinate of audio byte 0
	audioLen      int64 // inclusive-end length of the audio byte range
	totalLen      int64 // len(header) + audioLen

	pos int64
}

// New constructs a Source over buf for one track, given its persisted
// coordinates and format. The caller (PlaybackEngine) is expected to have
// already warmed a prefix/suffix of chunks via EnsureLoaded before
// constructing a Source used for decoder-probe or seek purposes (spec.md
// §4.9 "critical detail").
func New(buf Buffer, chunkSize int64, format *model.AudioFormat, coords *model.TrackChunkCoords) *Source {
	absoluteStart := int64(coords.StartChunkIndex)*chunkSize + int64(coords.StartByteOffset)
	absoluteEnd := int64(coords.EndChunkIndex)*chunkSize + int64(coords.EndByteOffset)
	audioLen := absoluteEnd - absoluteStart + 1

	var header []byte
	if format != nil && format.NeedsPrependedHeaders {
		header = format.HeaderBlob
	}

	return &Source{
		buf:           buf,
		chunkSize:     chunkSize,
		header:        header,
		absoluteStart: absoluteStart,
		audioLen:      audioLen,
		totalLen:      int64(len(header)) + audioLen,
	}
}

// Len reports the total virtual byte length a decoder would see,
// satisfying the "query of total length" requirement of spec.md §6.
func (s *Source) Len() int64 { return s.totalLen }

// Read implements io.Reader over the virtual byte layout of spec.md §4.9.
// A single call never crosses the header/audio boundary or a chunk
// boundary; callers relying on io.ReadFull get the full requested length
// across successive calls, same as any other partial-read io.Reader.
func (s *Source) Read(p []byte) (int, error) {
	if len(p) == 0 {
		return 0, nil
	}
	if s.pos >= s.totalLen {
		return 0, io.EOF
	}

	if s.pos < int64(len(s.header)) {
		n := copy(p, s.header[s.pos:])
		s.pos += int64(n)
		return n, nil
	}

	audioOffset := s.pos - int64(len(s.header))
	absoluteByte := s.absoluteStart + audioOffset
	chunkIndex := int(absoluteByte / s.chunkSize)
	inChunkOffset := int(absoluteByte % s.chunkSize)

	data, err := s.load(chunkIndex)
	if err != nil {
		return 0, err
	}
	if inChunkOffset >= len(data) {
		return 0, fmt.Errorf("streamingsource: chunk %d shorter than expected offset %d", chunkIndex, inChunkOffset)
	}

	remainingAudio := s.audioLen - audioOffset
	n := int64(len(data) - inChunkOffset)
	if n > remainingAudio {
		n = remainingAudio
	}
	if n > int64(len(p)) {
		n = int64(len(p))
	}

	copy(p[:n], data[inChunkOffset:int64(inChunkOffset)+n])
	s.pos += n
	return int(n), nil
}

// load blocks, cooperatively, until chunkIndex is resident in the
// ChunkBuffer or ReadTimeout elapses (spec.md §4.9: "the only place where
// playback blocks on the network").
func (s *Source) load(chunkIndex int) ([]byte, error) {
	if data, ok := s.buf.Get(chunkIndex); ok {
		return data, nil
	}

	ctx, cancel := context.WithTimeout(context.Background(), ReadTimeout)
	defer cancel()

	if _, err := s.buf.EnsureLoaded(ctx, chunkIndex, chunkIndex, 1, chunkcache.PolicyCache); err != nil {
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return nil, fmt.Errorf("%w: chunk %d", ErrReadTimeout, chunkIndex)
		}
		return nil, fmt.Errorf("streamingsource: fetch chunk %d: %w", chunkIndex, err)
	}

	data, ok := s.buf.Get(chunkIndex)
	if !ok {
		return nil, fmt.Errorf("%w: chunk %d", ErrReadTimeout, chunkIndex)
	}
	return data, nil
}

// Seek repositions the cursor per io.Seeker semantics. It performs no
// I/O; the next Read faults in whatever chunk the new position maps to
// (spec.md §4.9). Seeking past the end clamps to the end rather than
// erroring.
func (s *Source) Seek(offset int64, whence int) (int64, error) {
	var target int64
	switch whence {
	case io.SeekStart:
		target = offset
	case io.SeekCurrent:
		target = s.pos + offset
	case io.SeekEnd:
		target = s.totalLen + offset
	default:
		return 0, fmt.Errorf("streamingsource: invalid whence %d", whence)
	}

	if target < 0 {
		return 0, fmt.Errorf("streamingsource: negative resulting position %d", target)
	}
	if target > s.totalLen {
		target = s.totalLen
	}

	s.pos = target
	return s.pos, nil
}
