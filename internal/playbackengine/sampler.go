package playbackengine

import (
	"context"
	"time"
)

// startPositionSampler launches the background ticker that reports
// PositionUpdate events at PositionSampleInterval (≥2Hz, spec.md §4.10)
// and detects track completion. It is grounded on
// internal/metrics.StartSystemMetricsCollector's ticker-plus-goroutine
// shape, redirected at decoder position instead of runtime memory stats.
//
// The sampler only reads Decoder.PositionMs/Finished — per spec.md §5,
// decoding and output run on their own dedicated thread, so this
// goroutine never drives playback itself. It reports what it observes
// back onto the command channel rather than mutating Engine state
// directly, preserving spec.md §4.10's single-task total-ordering
// guarantee: Run's select loop is still the only place state changes.
func (e *Engine) startPositionSampler() {
	e.stopPositionSampler()

	ctx, cancel := context.WithCancel(context.Background())
	e.cancelPosSampler = cancel
	dec := e.current.dec

	go func() {
		ticker := time.NewTicker(PositionSampleInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				if dec.Finished() {
					select {
					case e.commands <- Command{Kind: cmdSamplerDone}:
					case <-ctx.Done():
					}
					return
				}
				select {
				case e.commands <- Command{Kind: cmdSamplerTick, tickPositionMs: dec.PositionMs()}:
				case <-ctx.Done():
					return
				}
			}
		}
	}()
}

func (e *Engine) stopPositionSampler() {
	if e.cancelPosSampler != nil {
		e.cancelPosSampler()
		e.cancelPosSampler = nil
	}
}
