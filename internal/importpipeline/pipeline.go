// Package importpipeline executes a layout.Plan: the bounded four-stage
// read→encrypt→upload→persist pipeline of spec.md §4.6, connected by
// small buffered channels for back-pressure, emitting progress events as
// chunks and tracks complete.
//
// The feeder-goroutine-plus-bounded-worker-pool architecture is grounded
// on the teacher's internal/crypto/chunked.go (chunkedEncryptReader's
// feeder/pending-channel/workerPool shape); stage concurrency here is
// enforced with golang.org/x/sync/semaphore + errgroup instead of the
// teacher's hand-rolled chan struct{} semaphore, matching the rest of the
// retrieval pack's worker-pool code (WebFirstLanguage-beenet,
// kluzzebass-gastrolog). Upload retries use cenkalti/backoff/v4, already
// an indirect teacher dependency.
package importpipeline

import (
	"bufio"
	"context"
	"io"
	"os"
	"runtime"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/semaphore"

	"github.com/kenneth/bae-engine/internal/audit"
	"github.com/kenneth/bae-engine/internal/errs"
	"github.com/kenneth/bae-engine/internal/ids"
	"github.com/kenneth/bae-engine/internal/layout"
	"github.com/kenneth/bae-engine/internal/model"
	"github.com/kenneth/bae-engine/internal/objectstore"
)

// Config bounds stage parallelism (spec.md §4.6/§6).
type Config struct {
	MaxEncryptWorkers int
	MaxUploadWorkers  int
	MaxDBWriteWorkers int
	ChannelBound      int // inter-stage channel buffer, default 16
}

// TrackPlan is one track's resolved placement in the release's chunk
// stream plus everything Catalog.WriteTrackMaterialization needs once the
// track's chunks are all persisted (spec.md §3/§4.5).
type TrackPlan struct {
	TrackID               ids.ID
	StartChunkIndex       int
	EndChunkIndex         int
	StartByteOffset       int
	EndByteOffset         int
	StartTimeMs           int64
	EndTimeMs             int64
	Format                string
	NeedsPrependedHeaders bool
	HeaderBlob            []byte
	SeektableBlob         []byte
}

// Job is everything ImportPipeline.Run needs for one release: the
// computed layout.FileChunkRange list (with real filesystem paths),
// chunk→track fan-out, and each track's materialization payload.
type Job struct {
	ReleaseID     ids.ID
	ChunkSize     int64
	FilesToChunks []layout.FileChunkRange
	ChunkToTracks map[int][]ids.ID // chunk_index -> track ids spanning it
	Tracks        []TrackPlan
}

// Catalog is the narrow persistence capability the persist stage needs.
type Catalog interface {
	UpsertChunk(chunk *model.Chunk) error
	WriteTrackMaterialization(trackID ids.ID, audioFormat *model.AudioFormat, coords *model.TrackChunkCoords) error
	CompleteTrackAndMaybeRelease(trackID, releaseID ids.ID) error
	SetReleaseStatus(releaseID ids.ID, status model.ImportStatus) error
}

// Encryptor is the narrow chunkcodec capability the encrypt stage needs.
type Encryptor interface {
	EncryptBlob(plaintext []byte) ([]byte, error)
}

// Uploader is the narrow objectstore capability the upload stage needs.
type Uploader interface {
	Put(ctx context.Context, key string, data []byte) error
}

// Pipeline runs import jobs against a fixed set of collaborators.
type Pipeline struct {
	cfg     Config
	codec   Encryptor
	store   Uploader
	catalog Catalog
	log     *audit.Logger
}

// New constructs a Pipeline, applying spec.md §6 defaults for any zero
// config field.
func New(cfg Config, codec Encryptor, store Uploader, catalog Catalog, log *audit.Logger) *Pipeline {
	if cfg.MaxEncryptWorkers <= 0 {
		cfg.MaxEncryptWorkers = 2 * runtime.NumCPU()
	}
	if cfg.MaxUploadWorkers <= 0 {
		cfg.MaxUploadWorkers = 20
	}
	if cfg.MaxDBWriteWorkers <= 0 {
		cfg.MaxDBWriteWorkers = 10
	}
	if cfg.ChannelBound <= 0 {
		cfg.ChannelBound = 16
	}
	if log == nil {
		log = audit.NewLogger(1000, nil)
	}
	return &Pipeline{cfg: cfg, codec: codec, store: store, catalog: catalog, log: log}
}

type plainFrame struct {
	chunkIndex int
	data       []byte
}

type encryptedFrame struct {
	chunkID       ids.ID
	chunkIndex    int
	blob          []byte
	originalSize  int64
	encryptedSize int64
}

type uploadedFrame struct {
	chunkID       ids.ID
	chunkIndex    int
	storageKey    string
	originalSize  int64
	encryptedSize int64
}

// Run executes job to completion (or first fatal error), sending progress
// events to events until the pipeline finishes, then closes events.
// Run blocks until the job is done; callers typically invoke it from its
// own goroutine and read events concurrently.
func (p *Pipeline) Run(ctx context.Context, job Job, events chan<- Event) {
	defer close(events)

	totalChunks := countChunks(job)
	send(ctx, events, Event{Kind: EventStarted, ReleaseID: job.ReleaseID, TotalChunks: totalChunks})

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	plainCh := make(chan plainFrame, p.cfg.ChannelBound)
	encCh := make(chan encryptedFrame, p.cfg.ChannelBound)
	upCh := make(chan uploadedFrame, p.cfg.ChannelBound)

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error { return p.produce(gctx, job, plainCh) })
	g.Go(func() error { return p.encrypt(gctx, plainCh, encCh) })
	g.Go(func() error { return p.upload(gctx, job.ReleaseID, encCh, upCh, events) })
	g.Go(func() error { return p.persist(gctx, job, upCh, events) })

	fatal := g.Wait()

	if fatal != nil {
		_ = p.catalog.SetReleaseStatus(job.ReleaseID, model.StatusFailed)
		p.log.ReleaseFailed(job.ReleaseID.String(), fatal)
		send(ctx, events, Event{Kind: EventFailed, ReleaseID: job.ReleaseID, Err: fatal})
		return
	}

	p.log.ReleaseCompleted(job.ReleaseID.String())
	send(ctx, events, Event{Kind: EventComplete, ReleaseID: job.ReleaseID})
}

func countChunks(job Job) int {
	max := -1
	for _, f := range job.FilesToChunks {
		if f.EndChunkIndex > max {
			max = f.EndChunkIndex
		}
	}
	return max + 1
}

// produce is stage 1: walks files_to_chunks in order, opening each file
// once and reading exactly the byte span its chunks cover, emitting one
// frame per chunk index in strictly ascending order (spec.md §4.6: "the
// producer's invariant is one frame per chunk index" / "the only stage
// with that [order] guarantee").
func (p *Pipeline) produce(ctx context.Context, job Job, out chan<- plainFrame) error {
	defer close(out)

	// buf accumulates bytes for the chunk currently being filled; chunks
	// are byte-identical regardless of which file(s) contributed their
	// bytes, so the producer just walks the concatenated file stream and
	// slices it into fixed-size frames (spec.md §4.5's invariant that the
	// virtual stream is the files' ordered concatenation makes this
	// correct without consulting each file's own chunk range).
	chunkSize := int(job.ChunkSize)
	buf := make([]byte, 0, chunkSize)
	chunkIndex := 0

	flush := func() error {
		if len(buf) == 0 {
			return nil
		}
		select {
		case out <- plainFrame{chunkIndex: chunkIndex, data: buf}:
		case <-ctx.Done():
			return ctx.Err()
		}
		chunkIndex++
		buf = make([]byte, 0, chunkSize)
		return nil
	}

	for _, f := range job.FilesToChunks {
		fh, err := os.Open(f.Path)
		if err != nil {
			return errs.Wrap(errs.KindPlanning, "importpipeline", "failed to open source file "+f.Path, err)
		}

		r := bufio.NewReaderSize(fh, 256*1024)
		for {
			need := chunkSize - len(buf)
			tmp := make([]byte, need)
			n, rerr := io.ReadFull(r, tmp)
			if n > 0 {
				buf = append(buf, tmp[:n]...)
			}
			if len(buf) == chunkSize {
				if err := flush(); err != nil {
					fh.Close()
					return err
				}
			}
			if rerr == io.EOF || rerr == io.ErrUnexpectedEOF {
				break
			}
			if rerr != nil {
				fh.Close()
				return errs.Wrap(errs.KindPlanning, "importpipeline", "failed to read source file "+f.Path, rerr)
			}
		}
		fh.Close()
	}

	return flush()
}

// encrypt is stage 2: bounded by max_encrypt_workers, mints a fresh chunk
// id per frame and seals it (spec.md §4.6). Encryption is CPU-bound work,
// run off the producer/upload I/O path.
func (p *Pipeline) encrypt(ctx context.Context, in <-chan plainFrame, out chan<- encryptedFrame) error {
	defer close(out)
	sem := semaphore.NewWeighted(int64(p.cfg.MaxEncryptWorkers))
	var wg sync.WaitGroup
	var mu sync.Mutex
	var firstErr error

	for frame := range in {
		if err := sem.Acquire(ctx, 1); err != nil {
			break
		}
		wg.Add(1)
		go func(fr plainFrame) {
			defer sem.Release(1)
			defer wg.Done()

			blob, err := p.codec.EncryptBlob(fr.data)
			if err != nil {
				mu.Lock()
				if firstErr == nil {
					firstErr = errs.Wrap(errs.KindCrypto, "importpipeline", "chunk encryption failed", err)
				}
				mu.Unlock()
				return
			}

			ef := encryptedFrame{
				chunkID:       ids.New(),
				chunkIndex:    fr.chunkIndex,
				blob:          blob,
				originalSize:  int64(len(fr.data)),
				encryptedSize: int64(len(blob)),
			}
			select {
			case out <- ef:
			case <-ctx.Done():
			}
		}(frame)
	}
	wg.Wait()

	mu.Lock()
	defer mu.Unlock()
	if firstErr != nil {
		return firstErr
	}
	return ctx.Err()
}

// upload is stage 3: bounded by max_upload_workers, retries transient
// errors with exponential backoff (100ms, 400ms, 1.6s, jittered, max 5
// attempts per spec.md §4.6), fatal on the first permanent error.
func (p *Pipeline) upload(ctx context.Context, releaseID ids.ID, in <-chan encryptedFrame, out chan<- uploadedFrame, events chan<- Event) error {
	defer close(out)
	sem := semaphore.NewWeighted(int64(p.cfg.MaxUploadWorkers))
	var wg sync.WaitGroup
	var mu sync.Mutex
	var firstErr error

	for frame := range in {
		if err := sem.Acquire(ctx, 1); err != nil {
			break
		}
		wg.Add(1)
		go func(ef encryptedFrame) {
			defer sem.Release(1)
			defer wg.Done()

			key := objectstore.ChunkKey(ef.chunkID)
			if err := p.uploadWithRetry(ctx, key, ef.blob); err != nil {
				mu.Lock()
				if firstErr == nil {
					firstErr = err
				}
				mu.Unlock()
				return
			}

			p.log.ChunkUploaded(releaseID.String(), ef.chunkID.String(), ef.chunkIndex, ef.encryptedSize)
			send(ctx, events, Event{
				Kind: EventChunkUploaded, ReleaseID: releaseID, ChunkIndex: ef.chunkIndex,
				OriginalSize: ef.originalSize, EncryptedSize: ef.encryptedSize,
			})

			uf := uploadedFrame{
				chunkID: ef.chunkID, chunkIndex: ef.chunkIndex, storageKey: key,
				originalSize: ef.originalSize, encryptedSize: ef.encryptedSize,
			}
			select {
			case out <- uf:
			case <-ctx.Done():
			}
		}(frame)
	}
	wg.Wait()

	mu.Lock()
	defer mu.Unlock()
	if firstErr != nil {
		return firstErr
	}
	return ctx.Err()
}

// uploadWithRetry retries transient storage errors per spec.md §4.6's
// schedule; a StoragePermanent error is wrapped in backoff.Permanent so
// it aborts the retry loop immediately.
func (p *Pipeline) uploadWithRetry(ctx context.Context, key string, data []byte) error {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = 100 * time.Millisecond
	b.Multiplier = 4
	b.MaxInterval = 1600 * time.Millisecond
	b.RandomizationFactor = 0.2
	bo := backoff.WithContext(backoff.WithMaxRetries(b, 4), ctx)

	return backoff.Retry(func() error {
		err := p.store.Put(ctx, key, data)
		if err == nil {
			return nil
		}
		if errs.Is(err, errs.KindStorageTransient) {
			return err
		}
		return backoff.Permanent(err)
	}, bo)
}

// trackState tracks how many of a track's chunks remain un-persisted.
type trackState struct {
	plan      TrackPlan
	remaining int
}

// persist is stage 4: bounded by max_db_write_workers, idempotently
// inserts each chunk row, and upon observing that a track's full chunk
// set has persisted, performs that track's materialization transaction
// and emits TrackCompleted (spec.md §4.6). Order across chunk_index is
// not relied upon here; only the *set* of a track's chunks matters.
//
// persist runs inside the same errgroup as the other three stages (see
// Run), so returning a non-nil error here cancels gctx and unblocks the
// upstream stages' ctx.Done() sends. Until that cancellation lands, this
// stage stops itself the moment firstErr is set: it quits accepting new
// frames off in, and every already-spawned worker re-checks firstErr
// before committing a chunk row or a track materialization, so no track
// completes and no EventTrackCompleted fires after the failure point
// (spec.md §4.6: "no partial track materializations ... beyond those
// already committed").
func (p *Pipeline) persist(ctx context.Context, job Job, in <-chan uploadedFrame, events chan<- Event) error {
	sem := semaphore.NewWeighted(int64(p.cfg.MaxDBWriteWorkers))
	var wg sync.WaitGroup
	var mu sync.Mutex
	var firstErr error

	fail := func(err error) {
		mu.Lock()
		if firstErr == nil {
			firstErr = err
		}
		mu.Unlock()
	}
	failed := func() bool {
		mu.Lock()
		defer mu.Unlock()
		return firstErr != nil
	}

	states := make(map[ids.ID]*trackState, len(job.Tracks))
	for _, t := range job.Tracks {
		states[t.TrackID] = &trackState{plan: t, remaining: t.EndChunkIndex - t.StartChunkIndex + 1}
	}

	var completedChunks int
	totalChunks := countChunks(job)

	for frame := range in {
		if failed() {
			break
		}
		if err := sem.Acquire(ctx, 1); err != nil {
			break
		}
		wg.Add(1)
		go func(uf uploadedFrame) {
			defer sem.Release(1)
			defer wg.Done()

			if failed() {
				return
			}

			chunk := &model.Chunk{
				ReleaseID: job.ReleaseID, ChunkIndex: uf.chunkIndex,
				EncryptedSize: uf.encryptedSize, StorageKey: uf.storageKey,
			}
			if err := p.catalog.UpsertChunk(chunk); err != nil {
				fail(err)
				return
			}

			mu.Lock()
			completedChunks++
			progress := completedChunks
			var readyTracks []*trackState
			for _, trackID := range job.ChunkToTracks[uf.chunkIndex] {
				st, ok := states[trackID]
				if !ok {
					continue
				}
				st.remaining--
				if st.remaining == 0 {
					readyTracks = append(readyTracks, st)
				}
			}
			mu.Unlock()

			send(ctx, events, Event{Kind: EventProcessingProgress, ReleaseID: job.ReleaseID, Completed: progress, Total: totalChunks})

			for _, st := range readyTracks {
				if failed() {
					return
				}
				if err := p.materializeTrack(job.ReleaseID, st.plan); err != nil {
					fail(err)
					return
				}
				p.log.TrackCompleted(job.ReleaseID.String(), st.plan.TrackID.String())
				send(ctx, events, Event{Kind: EventTrackCompleted, ReleaseID: job.ReleaseID, TrackID: st.plan.TrackID})
			}
		}(frame)
	}
	wg.Wait()

	mu.Lock()
	defer mu.Unlock()
	if firstErr != nil {
		return firstErr
	}
	return ctx.Err()
}

// materializeTrack writes a completed track's AudioFormat + coords and
// flips its status, then the owning release's status if every sibling
// track is also complete (spec.md §4.4/§9 open question #2).
func (p *Pipeline) materializeTrack(releaseID ids.ID, plan TrackPlan) error {
	af := &model.AudioFormat{
		Format:                plan.Format,
		NeedsPrependedHeaders: plan.NeedsPrependedHeaders,
		HeaderBlob:            plan.HeaderBlob,
		SeektableBlob:         plan.SeektableBlob,
	}
	coords := &model.TrackChunkCoords{
		StartChunkIndex: plan.StartChunkIndex, EndChunkIndex: plan.EndChunkIndex,
		StartByteOffset: plan.StartByteOffset, EndByteOffset: plan.EndByteOffset,
		StartTimeMs: plan.StartTimeMs, EndTimeMs: plan.EndTimeMs,
	}
	if err := p.catalog.WriteTrackMaterialization(plan.TrackID, af, coords); err != nil {
		return err
	}
	return p.catalog.CompleteTrackAndMaybeRelease(plan.TrackID, releaseID)
}

func send(ctx context.Context, events chan<- Event, e Event) {
	select {
	case events <- e:
	case <-ctx.Done():
	}
}
