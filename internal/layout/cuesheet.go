package layout

import (
	"bufio"
	"fmt"
	"strconv"
	"strings"

	"github.com/kenneth/bae-engine/internal/errs"
)

// CueTrack is one parsed TRACK entry from a plain-text CUE sheet,
// resolved to an INDEX 01 start time. End time is filled in by the caller
// once the next track's start (or file_size, for the last track) is
// known.
type CueTrack struct {
	Number      int
	Title       string
	StartTimeMs int64
	EndTimeMs   int64 // 0 until resolved by ResolveEndTimes
}

// CueSheet is the result of parsing a plain-text CUE sheet naming exactly
// one audio file (the single-FLAC disc-image case spec.md §4.5 describes).
type CueSheet struct {
	FileName string
	Tracks   []CueTrack
}

// ParseCueSheet parses the plain-text CUE sheet format (FILE/TRACK/INDEX
// directives). No CUE-sheet parsing library exists anywhere in the
// retrieval pack (see DESIGN.md), so this is a direct, minimal
// implementation of the subset the engine needs: FILE, TRACK AUDIO, TITLE,
// and INDEX 01 (pregap INDEX 00 lines are recognized and ignored, per
// common ripper output).
func ParseCueSheet(text string) (*CueSheet, error) {
	sheet := &CueSheet{}
	var current *CueTrack

	scanner := bufio.NewScanner(strings.NewReader(text))
	lineNo := 0
	for scanner.Scan() {
		lineNo++
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		fields := splitCueLine(line)
		if len(fields) == 0 {
			continue
		}

		switch strings.ToUpper(fields[0]) {
		case "FILE":
			if len(fields) < 2 {
				return nil, cueErr(lineNo, "FILE directive missing filename")
			}
			sheet.FileName = fields[1]

		case "TRACK":
			if current != nil {
				sheet.Tracks = append(sheet.Tracks, *current)
			}
			if len(fields) < 2 {
				return nil, cueErr(lineNo, "TRACK directive missing number")
			}
			num, err := strconv.Atoi(fields[1])
			if err != nil {
				return nil, cueErr(lineNo, "TRACK number is not an integer")
			}
			current = &CueTrack{Number: num}

		case "TITLE":
			if current != nil && len(fields) >= 2 {
				current.Title = fields[1]
			}

		case "INDEX":
			if current == nil {
				return nil, cueErr(lineNo, "INDEX directive outside of TRACK")
			}
			if len(fields) < 3 {
				return nil, cueErr(lineNo, "INDEX directive missing number or timestamp")
			}
			indexNum, err := strconv.Atoi(fields[1])
			if err != nil {
				return nil, cueErr(lineNo, "INDEX number is not an integer")
			}
			if indexNum != 1 {
				continue // pregap (INDEX 00) is not a track boundary for this engine
			}
			ms, err := parseCueTimestamp(fields[2])
			if err != nil {
				return nil, cueErr(lineNo, err.Error())
			}
			current.StartTimeMs = ms
		}
	}
	if current != nil {
		sheet.Tracks = append(sheet.Tracks, *current)
	}

	if len(sheet.Tracks) == 0 {
		return nil, errs.New(errs.KindPlanning, "layout", "cue sheet contains no tracks")
	}
	return sheet, nil
}

// ResolveEndTimes fills in each track's EndTimeMs as the next track's
// StartTimeMs, and the last track's EndTimeMs from totalDurationMs (spec
// §4.5: "use file_size for the last track", here expressed in time terms
// since the caller resolves byte positions afterward).
func (s *CueSheet) ResolveEndTimes(totalDurationMs int64) {
	for i := range s.Tracks {
		if i+1 < len(s.Tracks) {
			s.Tracks[i].EndTimeMs = s.Tracks[i+1].StartTimeMs
		} else {
			s.Tracks[i].EndTimeMs = totalDurationMs
		}
	}
}

// splitCueLine splits a CUE directive line into its keyword and the rest,
// honoring double-quoted strings (used for filenames and titles).
func splitCueLine(line string) []string {
	var fields []string
	var cur strings.Builder
	inQuotes := false
	flush := func() {
		if cur.Len() > 0 {
			fields = append(fields, cur.String())
			cur.Reset()
		}
	}
	for _, r := range line {
		switch {
		case r == '"':
			inQuotes = !inQuotes
		case r == ' ' && !inQuotes:
			flush()
		default:
			cur.WriteRune(r)
		}
	}
	flush()

	// TRACK/INDEX carry extra trailing tokens (e.g. "AUDIO", "00:00:00")
	// that splitCueLine already separates and returns as-is. FILE keeps its
	// filename as the second field and its trailing file type (e.g. "WAVE")
	// as a third; TITLE collapses everything after the keyword into a
	// single second field.
	if len(fields) >= 3 && strings.EqualFold(fields[0], "FILE") {
		name := strings.Join(fields[1:len(fields)-1], " ")
		return []string{fields[0], name, fields[len(fields)-1]}
	}
	if len(fields) >= 2 && (strings.EqualFold(fields[0], "TITLE") || strings.EqualFold(fields[0], "FILE")) {
		rest := strings.Join(fields[1:], " ")
		return []string{fields[0], rest}
	}
	return fields
}

// parseCueTimestamp parses a CUE MM:SS:FF timestamp (frames are 1/75th of
// a second, the Red Book CD-DA frame rate) into milliseconds.
func parseCueTimestamp(ts string) (int64, error) {
	parts := strings.Split(ts, ":")
	if len(parts) != 3 {
		return 0, fmt.Errorf("invalid timestamp %q, expected MM:SS:FF", ts)
	}
	minutes, err := strconv.Atoi(parts[0])
	if err != nil {
		return 0, fmt.Errorf("invalid minutes in timestamp %q", ts)
	}
	seconds, err := strconv.Atoi(parts[1])
	if err != nil {
		return 0, fmt.Errorf("invalid seconds in timestamp %q", ts)
	}
	frames, err := strconv.Atoi(parts[2])
	if err != nil {
		return 0, fmt.Errorf("invalid frames in timestamp %q", ts)
	}
	totalMs := int64(minutes)*60_000 + int64(seconds)*1000 + (int64(frames)*1000)/75
	return totalMs, nil
}

func cueErr(lineNo int, msg string) error {
	return errs.New(errs.KindPlanning, "layout", fmt.Sprintf("cue sheet line %d: %s", lineNo, msg))
}
