package fallback

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"go.uber.org/multierr"
)

// FallbackAdapter presents a single TTS interface while multiplexing
// across an ordered list of backends, failing over on connection error,
// timeout, or silent output, and recovering unavailable backends in the
// background.
type FallbackAdapter struct {
	cfg        AdapterConfig
	backends   []Backend
	labels     map[Backend]string
	health     *healthRegistry
	events     *eventBus
	metrics    *adapterMetrics
	resamplers *resamplerGateway
	engine     *attemptEngine
	prober     *prober

	mu       sync.Mutex
	streams  map[*fallbackStream]struct{}
	closed   bool
	closeErr error
}

// New constructs a FallbackAdapter and starts its background recovery
// prober. Callers must eventually call Close.
func New(cfg AdapterConfig) (*FallbackAdapter, error) {
	if len(cfg.Backends) == 0 {
		return nil, errors.New("fallback: at least one backend is required")
	}
	cfg = cfg.withDefaults()

	labels := make(map[Backend]string, len(cfg.Backends))
	for i, b := range cfg.Backends {
		labels[b] = backendLabel(b, i)
	}

	a := &FallbackAdapter{
		cfg:      cfg,
		backends: cfg.Backends,
		labels:   labels,
		streams:  make(map[*fallbackStream]struct{}),
	}

	a.metrics = newAdapterMetrics(cfg.MetricsRegisterer, fmt.Sprintf("%p", a))
	a.events = newEventBus(cfg.Logger)
	a.health = newHealthRegistry(cfg.Backends, a.onAvailabilityChanged)
	a.resamplers = newResamplerGateway(cfg.SampleRate)
	a.engine = newAttemptEngine(a.resamplers, cfg.SampleRate, 1)
	a.prober = newProber(a)
	a.prober.start()

	return a, nil
}

func (a *FallbackAdapter) onAvailabilityChanged(b Backend, available bool) {
	label := a.labels[b]
	a.cfg.Logger.Info("tts backend availability changed",
		slog.String("backend", label), slog.Bool("available", available))
	a.metrics.observe(label, available)
	a.events.emit(AvailabilityChangedEvent{Backend: b, Available: available})
}

// On registers a listener for availability-changed events.
func (a *FallbackAdapter) On(handler func(AvailabilityChangedEvent)) Subscription {
	return a.events.On(handler)
}

// SynthesizeHandle is the result of Synthesize: an iterable of frames that
// must be drained (or the handle closed) by the caller. Once Frames() is
// closed, Err() carries the terminal error if synthesis failed (nil for a
// clean completion), mirroring BackendStream's Frames()/Err() duplex.
type SynthesizeHandle struct {
	ch     <-chan SynthesizedAudio
	errCh  <-chan error
	cancel context.CancelFunc
}

// Frames returns the channel of synthesized audio. Closed when synthesis
// completes.
func (h SynthesizeHandle) Frames() <-chan SynthesizedAudio { return h.ch }

// Err returns the channel carrying the terminal error, if any. Only valid
// to read after Frames() has closed.
func (h SynthesizeHandle) Err() <-chan error { return h.errCh }

// Close cancels the underlying attempt if still in flight. Safe to call
// after the channel has already closed.
func (h SynthesizeHandle) Close() { h.cancel() }

// Synthesize performs one-shot synthesis, iterating backends in health
// order, retrying each up to cfg.MaxRetryPerTTS times, and returning the
// first successful attempt's frames. This is component C5 of the
// fallback adapter: the one-shot orchestrator.
func (a *FallbackAdapter) Synthesize(ctx context.Context, text string, opts ...ConnOption) (SynthesizeHandle, error) {
	connOpts := resolveConnOptions(opts)
	ctx, cancel := context.WithCancel(ctx)

	out := make(chan SynthesizedAudio, 16)
	errCh := make(chan error, 1)
	go func() {
		defer close(out)
		defer cancel()
		if err := a.runOneShot(ctx, text, connOpts, out); err != nil {
			errCh <- err
		}
		close(errCh)
	}()

	return SynthesizeHandle{ch: out, errCh: errCh, cancel: cancel}, nil
}

// runOneShot implements spec's §4.5 pseudocode: iterate health.order,
// retry each backend up to MaxRetryPerTTS, mark failed backends
// unavailable, and report APIConnectionError if every backend is
// exhausted.
func (a *FallbackAdapter) runOneShot(ctx context.Context, text string, opts ConnOptions, out chan<- SynthesizedAudio) error {
	var combined error
	maxRetry := opts.effectiveMaxRetry(a.cfg.MaxRetryPerTTS)

	for _, backend := range a.health.order(a.backends) {
		var result attemptResult
		for attempt := 0; attempt <= maxRetry; attempt++ {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			if attempt > 0 {
				if err := sleepBackoff(ctx, a.cfg.RetryConfig, attempt); err != nil {
					return err
				}
			}
			result = a.engine.run(ctx, backend, text, opts, out)
			if result.ok {
				break
			}
			if result.committed {
				// Output already flowed for this backend; a later
				// failure is not recoverable by failover.
				break
			}
			if result.fatal {
				// ai.IsFatal(err): retrying this backend is pointless,
				// advance to the next one immediately.
				break
			}
		}

		if result.ok {
			if !a.health.isAvailable(backend) {
				a.health.markAvailable(backend)
			}
			return nil
		}

		if result.committed {
			return newAPIError("tts backend failed mid-synthesis", result.err)
		}

		combined = multierr.Append(combined, fmt.Errorf("%s: %s: %w", a.labels[backend], result.reason, result.err))
		a.health.markUnavailable(backend)
	}

	return newAPIConnectionError("tts fallback: all backends exhausted", combined)
}

// Stream opens a push-based synthesis session: component C6, the
// streaming fallback orchestrator.
func (a *FallbackAdapter) Stream(ctx context.Context, opts ...ConnOption) (SynthesizeStream, error) {
	connOpts := resolveConnOptions(opts)
	return a.newStream(ctx, connOpts), nil
}

// Close shuts down the prober and any live streams. Idempotent.
func (a *FallbackAdapter) Close() error {
	a.mu.Lock()
	if a.closed {
		a.mu.Unlock()
		return a.closeErr
	}
	a.closed = true

	streams := make([]*fallbackStream, 0, len(a.streams))
	for s := range a.streams {
		streams = append(streams, s)
	}
	a.mu.Unlock()

	a.prober.stop()

	var err error
	for _, s := range streams {
		err = multierr.Append(err, s.Close())
	}
	for _, b := range a.backends {
		err = multierr.Append(err, b.Close())
	}

	a.mu.Lock()
	a.closeErr = err
	a.mu.Unlock()

	return err
}

func (a *FallbackAdapter) registerStream(s *fallbackStream) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.streams[s] = struct{}{}
}

func (a *FallbackAdapter) unregisterStream(s *fallbackStream) {
	a.mu.Lock()
	defer a.mu.Unlock()
	delete(a.streams, s)
}
