package fallback

import (
	"context"
	"math"
	"math/rand"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/chriscow/livekit-agents-go/pkg/ai"
)

// attemptResult is what running one attempt against one backend produces.
type attemptResult struct {
	ok        bool
	reason    failureReason
	err       error
	committed bool // at least one non-empty frame was released downstream
	fatal     bool // ai.IsFatal(err): retrying the same backend is pointless
}

// backoffDelay computes the exponential-backoff-with-jitter delay before
// retry attempt n (n >= 1) against the same backend, per cfg. Mirrors
// pkg/ai/examples.RetryableSTTClient.calculateBackoffDelay's shape.
func backoffDelay(cfg ai.RetryConfig, attempt int) time.Duration {
	delay := float64(cfg.InitialDelay) * math.Pow(cfg.BackoffFactor, float64(attempt-1))
	if delay > float64(cfg.MaxDelay) {
		delay = float64(cfg.MaxDelay)
	}
	if cfg.JitterPercent > 0 {
		jitterRange := delay * float64(cfg.JitterPercent)
		delay += (rand.Float64() - 0.5) * 2 * jitterRange
	}
	if delay < 0 {
		delay = float64(cfg.InitialDelay)
	}
	return time.Duration(delay)
}

// sleepBackoff waits out backoffDelay(cfg, attempt), returning ctx.Err() if
// the context is cancelled first.
func sleepBackoff(ctx context.Context, cfg ai.RetryConfig, attempt int) error {
	timer := time.NewTimer(backoffDelay(cfg, attempt))
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// attemptEngine runs a single synthesis attempt against a single backend,
// enforcing a timeout budget and buffering frames until the first
// non-empty one arrives (the "commit" point) so a silent backend is
// detected as a soft failure before any partial output reaches the
// caller.
type attemptEngine struct {
	resamplers *resamplerGateway
	targetRate int
	channels   int
}

func newAttemptEngine(resamplers *resamplerGateway, targetRate, channels int) *attemptEngine {
	return &attemptEngine{resamplers: resamplers, targetRate: targetRate, channels: channels}
}

// run drives one-shot synthesis against backend, sending normalized
// SynthesizedAudio to out as soon as the attempt commits. out is never
// closed by run; the caller owns its lifecycle. run returns once the
// attempt has either succeeded (including its final frame) or failed.
func (e *attemptEngine) run(ctx context.Context, b Backend, text string, opts ConnOptions, out chan<- SynthesizedAudio) attemptResult {
	opts = opts.withDefaults()
	attemptCtx, cancel := context.WithTimeout(ctx, opts.Timeout)
	defer cancel()

	frames, err := b.Synthesize(attemptCtx, text, opts)
	if err != nil {
		return attemptResult{reason: classify(err, false, false), err: err, fatal: ai.IsFatal(err)}
	}

	resampler := e.resamplers.forAttempt(b)

	g, gctx := errgroup.WithContext(attemptCtx)
	result := attemptResult{}
	g.Go(func() error {
		result = e.collect(gctx, frames, resampler, out)
		return nil
	})
	_ = g.Wait()

	if attemptCtx.Err() == context.DeadlineExceeded && !result.ok {
		result.reason = reasonTimeout
		if result.err == nil {
			result.err = attemptCtx.Err()
		}
	}
	return result
}

// collect buffers frames from the backend until the first non-empty one,
// then emits everything buffered plus subsequent frames directly,
// finishing with a synthetic is_final frame.
func (e *attemptEngine) collect(ctx context.Context, frames <-chan Frame, resampler Resampler, out chan<- SynthesizedAudio) attemptResult {
	var buffered []Frame
	committed := false

	emit := func(f Frame) bool {
		select {
		case out <- SynthesizedAudio{Frame: f}:
			return true
		case <-ctx.Done():
			return false
		}
	}

	drain := func(f Frame) []Frame {
		if resampler == nil {
			return []Frame{f}
		}
		return resampler.Push(f)
	}

	for {
		select {
		case <-ctx.Done():
			return attemptResult{reason: reasonTimeout, err: ctx.Err(), committed: committed}
		case f, ok := <-frames:
			if !ok {
				return e.finish(ctx, resampler, buffered, committed, out)
			}
			resampled := drain(f)
			if !committed {
				for _, rf := range resampled {
					if !rf.IsEmpty() {
						committed = true
						break
					}
				}
				buffered = append(buffered, resampled...)
				if !committed {
					continue
				}
				// Commit point: release everything held back so far, in order.
				resampled, buffered = buffered, nil
			}
			for _, rf := range resampled {
				if !emit(rf) {
					return attemptResult{reason: reasonTimeout, err: ctx.Err(), committed: committed}
				}
			}
		}
	}
}

// finish is reached once the backend's frame channel closes. If nothing
// ever committed, this attempt is a soft (empty) failure. Otherwise any
// frames still held in buffered are sent, the resampler is drained, and a
// final marker frame closes the attempt.
func (e *attemptEngine) finish(ctx context.Context, resampler Resampler, buffered []Frame, committed bool, out chan<- SynthesizedAudio) attemptResult {
	if !committed {
		return attemptResult{reason: reasonEmpty, err: errEmptyOutput}
	}

	for _, f := range buffered {
		select {
		case out <- SynthesizedAudio{Frame: f}:
		case <-ctx.Done():
			return attemptResult{reason: reasonTimeout, err: ctx.Err(), committed: true}
		}
	}

	if resampler != nil {
		for _, f := range resampler.Flush() {
			select {
			case out <- SynthesizedAudio{Frame: f}:
			case <-ctx.Done():
				return attemptResult{reason: reasonTimeout, err: ctx.Err(), committed: true}
			}
		}
	}

	final := SynthesizedAudio{Frame: finalMarkerFrame(e.targetRate, e.channels), IsFinal: true}
	select {
	case out <- final:
	case <-ctx.Done():
		return attemptResult{reason: reasonTimeout, err: ctx.Err(), committed: true}
	}

	return attemptResult{ok: true, committed: true}
}
