package fallback

import (
	"context"
	"time"
)

// ConnOptions configures a single attempt against a backend.
type ConnOptions struct {
	// Timeout bounds a single attempt. Zero means DefaultTimeout.
	Timeout time.Duration
	// MaxRetry is an adapter-level ceiling on retries-per-backend for this
	// call, in addition to (capping) the adapter's configured
	// MaxRetryPerTTS. Nil means "use the adapter's configured default".
	MaxRetry *int
}

// DefaultTimeout is used when ConnOptions.Timeout is zero.
const DefaultTimeout = 10 * time.Second

func (o ConnOptions) withDefaults() ConnOptions {
	if o.Timeout <= 0 {
		o.Timeout = DefaultTimeout
	}
	return o
}

// effectiveMaxRetry resolves the number of retries to allow for this call
// against a backend, capping the adapter's default with any call-level
// override.
func (o ConnOptions) effectiveMaxRetry(adapterDefault int) int {
	if o.MaxRetry == nil {
		return adapterDefault
	}
	if *o.MaxRetry < adapterDefault {
		return *o.MaxRetry
	}
	return adapterDefault
}

// BackendCapabilities describes what a backend supports.
type BackendCapabilities struct {
	Streaming bool
}

// Backend is the uniform contract this package multiplexes across. A
// concrete TTS provider (cloud speech service, local model, test fake)
// implements this interface; the fallback adapter never knows which.
type Backend interface {
	// Synthesize converts text to audio frames in one shot. The returned
	// channel is closed when synthesis completes or the context is
	// cancelled.
	Synthesize(ctx context.Context, text string, opts ConnOptions) (<-chan Frame, error)

	// Stream opens a push-based duplex synthesis session.
	Stream(ctx context.Context, opts ConnOptions) (BackendStream, error)

	// SampleRate is the sample rate this backend natively produces.
	SampleRate() int

	// Capabilities describes this backend's supported feature set.
	Capabilities() BackendCapabilities

	// Close releases backend resources. Safe to call multiple times.
	Close() error
}

// BackendStream is an active streaming synthesis session: text is pushed
// incrementally, frames arrive asynchronously. Exactly one goroutine may
// call the push-side methods (PushText/Flush/EndInput/Close).
//
// Segment boundary protocol: after the backend finishes emitting the
// audio for one Flush-terminated span of pushed text, it sends exactly
// one zero-value Frame (SampleRate == 0) on Frames() before continuing
// with the next span. This lets the orchestrator tell "no more audio is
// coming for this segment" apart from "the backend is just slow" without
// needing the channel to close between segments.
type BackendStream interface {
	// PushText appends to the stream's current segment and forwards it to
	// the backend.
	PushText(text string) error

	// Flush terminates the current segment.
	Flush() error

	// EndInput signals no further input; implies a final Flush.
	EndInput() error

	// Frames yields audio frames as the backend produces them, with a
	// zero-value Frame marking each segment boundary. Closed when the
	// stream ends (cleanly or on error).
	Frames() <-chan Frame

	// Err yields at most one error, sent when the stream ends abnormally.
	// Receiving from Frames() being closed without a value on Err means a
	// clean end.
	Err() <-chan error

	// Close tears down the stream. Safe to call multiple times.
	Close() error
}
