package main

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/kenneth/bae-engine/internal/audit"
	"github.com/kenneth/bae-engine/internal/errs"
	"github.com/kenneth/bae-engine/internal/ids"
	"github.com/kenneth/bae-engine/internal/importpipeline"
	"github.com/kenneth/bae-engine/internal/layout"
	"github.com/kenneth/bae-engine/internal/model"
	"github.com/kenneth/bae-engine/internal/objectstore"
)

var audioExtensions = map[string]string{
	".flac": "flac",
	".mp3":  "mp3",
	".m4a":  "alac",
	".ogg":  "vorbis",
	".wav":  "wav",
}

func newImportCmd() *cobra.Command {
	var (
		artistName string
		albumTitle string
		albumYear  int
		cueFile    string
	)

	cmd := &cobra.Command{
		Use:   "import [folder]",
		Short: "Import a local folder of audio files (or a CUE/FLAC disc image) into the catalog",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			if ctx == nil {
				ctx = context.Background()
			}
			log := newLogger(cmd)

			res, err := buildResources(ctx, cmd, log)
			if err != nil {
				return err
			}
			defer res.Close()

			opts := importOptions{
				folder:     args[0],
				artistName: artistName,
				albumTitle: albumTitle,
				albumYear:  albumYear,
				cueFile:    cueFile,
			}
			return runImport(ctx, res, opts, log)
		},
	}

	cmd.Flags().StringVar(&artistName, "artist", "", "artist name (required)")
	cmd.Flags().StringVar(&albumTitle, "album", "", "album title (required)")
	cmd.Flags().IntVar(&albumYear, "year", 0, "release year")
	cmd.Flags().StringVar(&cueFile, "cue", "", "CUE sheet path, for a single-file disc-image import")
	cmd.MarkFlagRequired("artist")
	cmd.MarkFlagRequired("album")
	return cmd
}

type importOptions struct {
	folder     string
	artistName string
	albumTitle string
	albumYear  int
	cueFile    string
}

// runImport discovers source files, computes the layout, creates the
// queued catalog rows, then drives the import pipeline to completion,
// printing progress events as they arrive (spec.md §4.6).
func runImport(ctx context.Context, res *resources, opts importOptions, log *logrus.Logger) error {
	if opts.cueFile != "" {
		return runCueFlacImport(ctx, res, opts, log)
	}
	return runPerTrackImport(ctx, res, opts, log)
}

// discoverAudioFiles walks folder non-recursively and returns audio files
// sorted by name, the deterministic layout order spec.md §4.5 assumes.
func discoverAudioFiles(folder string) ([]layout.FileEntry, error) {
	entries, err := os.ReadDir(folder)
	if err != nil {
		return nil, errs.Wrap(errs.KindPlanning, "cmd", "failed to read import folder", err)
	}

	var files []layout.FileEntry
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		ext := strings.ToLower(filepath.Ext(e.Name()))
		if _, ok := audioExtensions[ext]; !ok {
			continue
		}
		info, err := e.Info()
		if err != nil {
			return nil, errs.Wrap(errs.KindPlanning, "cmd", "failed to stat "+e.Name(), err)
		}
		if info.Size() <= 0 {
			return nil, errs.New(errs.KindPlanning, "cmd", "zero-size file "+e.Name())
		}
		files = append(files, layout.FileEntry{Path: filepath.Join(folder, e.Name()), Size: info.Size()})
	}
	sort.Slice(files, func(i, j int) bool { return files[i].Path < files[j].Path })
	if len(files) == 0 {
		return nil, errs.New(errs.KindPlanning, "cmd", "no audio files found in "+folder)
	}
	return files, nil
}

// runPerTrackImport handles the one-file-per-track case of spec.md §4.5:
// each discovered audio file becomes exactly one Track.
func runPerTrackImport(ctx context.Context, res *resources, opts importOptions, log *logrus.Logger) error {
	files, err := discoverAudioFiles(opts.folder)
	if err != nil {
		return err
	}

	album := &model.Album{Title: opts.albumTitle}
	if opts.albumYear > 0 {
		y := opts.albumYear
		album.Year = &y
	}
	release := &model.Release{}

	tracks := make([]model.Track, len(files))
	fileToTrackKey := make(map[string]string, len(files))
	for i, f := range files {
		trackID := ids.New()
		tracks[i] = model.Track{ID: trackID, Title: strings.TrimSuffix(filepath.Base(f.Path), filepath.Ext(f.Path))}
		n := i + 1
		tracks[i].TrackNumber = &n
		fileToTrackKey[f.Path] = trackID.String()
	}

	if err := res.catalog.InsertReleaseBundle(album, release, tracks); err != nil {
		return err
	}

	chunkSize := int64(res.cfg.Import.ChunkSizeBytes)
	plan, err := layout.Plan(files, fileToTrackKey, chunkSize)
	if err != nil {
		_ = res.catalog.SetReleaseStatus(release.ID, model.StatusFailed)
		return err
	}

	trackPlans := make([]importpipeline.TrackPlan, len(tracks))
	for i, t := range tracks {
		key := t.ID.String()
		var startChunk, endChunk = -1, -1
		for ci, keys := range plan.ChunkToTracks {
			for _, k := range keys {
				if k == key {
					if startChunk == -1 || ci < startChunk {
						startChunk = ci
					}
					if ci > endChunk {
						endChunk = ci
					}
				}
			}
		}
		fr := fileRangeFor(plan.FilesToChunks, fileToTrackKey, key)
		ext := strings.ToLower(filepath.Ext(fr.Path))
		trackPlans[i] = importpipeline.TrackPlan{
			TrackID:         t.ID,
			StartChunkIndex: startChunk,
			EndChunkIndex:   endChunk,
			StartByteOffset: fr.StartByteOffset,
			EndByteOffset:   fr.EndByteOffset,
			Format:          audioExtensions[ext],
		}
	}

	job := importpipeline.Job{
		ReleaseID:     release.ID,
		ChunkSize:     chunkSize,
		FilesToChunks: plan.FilesToChunks,
		ChunkToTracks: intTrackIDMap(plan.ChunkToTracks),
		Tracks:        trackPlans,
	}

	return driveImport(ctx, res, job, log)
}

// fileRangeFor returns the FileChunkRange of the single file backing
// trackKey, since per-track imports map one file to one track.
func fileRangeFor(ranges []layout.FileChunkRange, fileToTrackKey map[string]string, trackKey string) layout.FileChunkRange {
	for path, key := range fileToTrackKey {
		if key != trackKey {
			continue
		}
		for _, r := range ranges {
			if r.Path == path {
				return r
			}
		}
	}
	return layout.FileChunkRange{}
}

func intTrackIDMap(in map[int][]string) map[int][]ids.ID {
	out := make(map[int][]ids.ID, len(in))
	for ci, keys := range in {
		converted := make([]ids.ID, len(keys))
		for i, k := range keys {
			converted[i] = ids.MustParse(k)
		}
		out[ci] = converted
	}
	return out
}

// runCueFlacImport handles the disc-image case: one FLAC file, one CUE
// sheet, N tracks sharing byte ranges within the single file (spec.md
// §4.5's CUE/FLAC track boundary algorithm).
func runCueFlacImport(ctx context.Context, res *resources, opts importOptions, log *logrus.Logger) error {
	files, err := discoverAudioFiles(opts.folder)
	if err != nil {
		return err
	}
	if len(files) != 1 {
		return errs.New(errs.KindPlanning, "cmd", "cue/flac import expects exactly one audio file in the folder")
	}

	cueText, err := os.ReadFile(opts.cueFile)
	if err != nil {
		return errs.Wrap(errs.KindPlanning, "cmd", "failed to read cue sheet", err)
	}
	sheet, err := layout.ParseCueSheet(string(cueText))
	if err != nil {
		return err
	}

	albumMeta, err := layout.ReadAlbumMeta(files[0].Path)
	if err != nil {
		return err
	}

	album := &model.Album{Title: opts.albumTitle}
	if opts.albumYear > 0 {
		y := opts.albumYear
		album.Year = &y
	}
	release := &model.Release{}

	trackIDs := make([]ids.ID, len(sheet.Tracks))
	tracks := make([]model.Track, len(sheet.Tracks))
	trackKeys := make([]string, len(sheet.Tracks))
	for i, ct := range sheet.Tracks {
		trackIDs[i] = ids.New()
		n := i + 1
		tracks[i] = model.Track{ID: trackIDs[i], Title: ct.Title, TrackNumber: &n}
		trackKeys[i] = trackIDs[i].String()
	}

	if err := res.catalog.InsertReleaseBundle(album, release, tracks); err != nil {
		return err
	}

	chunkSize := int64(res.cfg.Import.ChunkSizeBytes)
	cueLayout, err := layout.PlanCueFlac(sheet, *albumMeta, files[0].Size, 0, trackKeys, chunkSize)
	if err != nil {
		_ = res.catalog.SetReleaseStatus(release.ID, model.StatusFailed)
		return err
	}

	fileRanges, err := layout.ChunkFiles(files, chunkSize)
	if err != nil {
		return err
	}
	chunkToTracks, _ := layout.ChunkToTracksAndCounts(cueLayout.ToTrackByteRanges(), chunkSize)

	trackPlans := make([]importpipeline.TrackPlan, len(cueLayout.Tracks))
	for i, ct := range cueLayout.Tracks {
		startByteInAudio := uint64(ct.StartByte) - uint64(albumMeta.HeaderBytes)
		endByteInAudio := uint64(ct.EndByte) - uint64(albumMeta.HeaderBytes)
		hdr, err := layout.MaterializeTrackHeader(*albumMeta, startByteInAudio, endByteInAudio, ct.StartSample, ct.EndSample)
		if err != nil {
			_ = res.catalog.SetReleaseStatus(release.ID, model.StatusFailed)
			return err
		}
		trackPlans[i] = importpipeline.TrackPlan{
			TrackID:               trackIDs[i],
			StartChunkIndex:       ct.StartChunkIndex,
			EndChunkIndex:         ct.EndChunkIndex,
			StartByteOffset:       int(ct.StartByte % chunkSize),
			EndByteOffset:         int(ct.EndByte % chunkSize),
			StartTimeMs:           ct.StartTimeMs,
			EndTimeMs:             ct.EndTimeMs,
			Format:                "flac",
			NeedsPrependedHeaders: true,
			HeaderBlob:            hdr.HeaderBlob,
			SeektableBlob:         hdr.SeekTableBlob,
		}
	}

	job := importpipeline.Job{
		ReleaseID:     release.ID,
		ChunkSize:     chunkSize,
		FilesToChunks: fileRanges,
		ChunkToTracks: intTrackIDMap(chunkToTracks),
		Tracks:        trackPlans,
	}

	return driveImport(ctx, res, job, log)
}

// driveImport constructs the pipeline and blocks until the release either
// completes or fails, printing each progress event as it arrives.
func driveImport(ctx context.Context, res *resources, job importpipeline.Job, log *logrus.Logger) error {
	auditLog := audit.NewLogger(1000, &audit.StdoutSink{})
	pipeline := importpipeline.New(importpipeline.Config{
		MaxEncryptWorkers: res.cfg.Import.MaxEncryptWorkers,
		MaxUploadWorkers:  res.cfg.Import.MaxUploadWorkers,
		MaxDBWriteWorkers: res.cfg.Import.MaxDBWriteWorkers,
	}, res.codec, &meteredStore{store: res.store, m: res.metrics, releaseID: job.ReleaseID.String()}, res.catalog, auditLog)

	events := make(chan importpipeline.Event, 16)
	go pipeline.Run(ctx, job, events)

	for ev := range events {
		logImportEvent(log, ev)
		if ev.Kind == importpipeline.EventFailed {
			return fmt.Errorf("import failed: %w", ev.Err)
		}
	}
	return nil
}

func logImportEvent(log *logrus.Logger, ev importpipeline.Event) {
	entry := log.WithField("release_id", ev.ReleaseID.String())
	switch ev.Kind {
	case importpipeline.EventStarted:
		entry.WithField("total_chunks", ev.TotalChunks).Info("import started")
	case importpipeline.EventChunkUploaded:
		entry.WithField("chunk_index", ev.ChunkIndex).Debug("chunk uploaded")
	case importpipeline.EventProcessingProgress:
		entry.WithField("completed", ev.Completed).WithField("total", ev.Total).Info("import progress")
	case importpipeline.EventTrackCompleted:
		entry.WithField("track_id", ev.TrackID.String()).Info("track completed")
	case importpipeline.EventComplete:
		entry.Info("import complete")
	case importpipeline.EventFailed:
		entry.WithError(ev.Err).Error("import failed")
	}
}

// meteredStore adapts objectstore.S3Store to importpipeline.Uploader while
// recording the chunk-uploaded metric the teacher's own gateway tracks for
// every object write.
type meteredStore struct {
	store     *objectstore.S3Store
	m         interface{ RecordChunkUploaded(string, int64) }
	releaseID string
}

func (s *meteredStore) Put(ctx context.Context, key string, data []byte) error {
	if err := s.store.Put(ctx, key, data); err != nil {
		return err
	}
	s.m.RecordChunkUploaded(s.releaseID, int64(len(data)))
	return nil
}
