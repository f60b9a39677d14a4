package fallback

import (
	"log/slog"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/chriscow/livekit-agents-go/pkg/ai"
)

// AdapterConfig configures a FallbackAdapter.
type AdapterConfig struct {
	// Backends is the ordered list of TTS backends to fail over across.
	// Must contain at least one.
	Backends []Backend

	// MaxRetryPerTTS is how many times to retry the same backend before
	// advancing to the next one. Default 1.
	MaxRetryPerTTS int

	// SampleRate is the adapter's target sample rate; every emitted frame
	// is resampled to this rate. Default: the maximum of the backends'
	// native sample rates.
	SampleRate int

	// ProbeInterval is how often the recovery prober retries unavailable
	// backends. Default 5s.
	ProbeInterval time.Duration

	// ProbeText is the fixed phrase the prober synthesizes against
	// unavailable backends.
	ProbeText string

	// RetryConfig governs the backoff delay between same-backend retries
	// (both the one-shot and streaming orchestrators). Independently of it,
	// a failed attempt whose error satisfies ai.IsFatal is not retried
	// against the same backend. Default ai.DefaultRetryConfig.
	RetryConfig ai.RetryConfig

	// Logger receives structured diagnostics. Default slog.Default().
	Logger *slog.Logger

	// MetricsRegisterer receives the adapter's Prometheus metrics. Default
	// prometheus.DefaultRegisterer. Pass a no-op registerer to disable.
	MetricsRegisterer prometheus.Registerer
}

const defaultProbeInterval = 5 * time.Second
const defaultProbeText = "the quick brown fox"

func (c AdapterConfig) withDefaults() AdapterConfig {
	if c.MaxRetryPerTTS <= 0 {
		c.MaxRetryPerTTS = 1
	}
	if c.SampleRate <= 0 {
		maxRate := 0
		for _, b := range c.Backends {
			if r := b.SampleRate(); r > maxRate {
				maxRate = r
			}
		}
		c.SampleRate = maxRate
	}
	if c.ProbeInterval <= 0 {
		c.ProbeInterval = defaultProbeInterval
	}
	if c.ProbeText == "" {
		c.ProbeText = defaultProbeText
	}
	if c.RetryConfig == (ai.RetryConfig{}) {
		c.RetryConfig = ai.DefaultRetryConfig
	}
	if c.Logger == nil {
		c.Logger = slog.Default()
	}
	if c.MetricsRegisterer == nil {
		c.MetricsRegisterer = prometheus.DefaultRegisterer
	}
	return c
}

// ConnOption mutates ConnOptions; functional-options convention matching
// services/tts.SynthesizeOptions' builder-style defaults.
type ConnOption func(*ConnOptions)

// WithTimeout overrides the per-attempt timeout.
func WithTimeout(d time.Duration) ConnOption {
	return func(o *ConnOptions) { o.Timeout = d }
}

// WithMaxRetry overrides the per-call retry ceiling.
func WithMaxRetry(n int) ConnOption {
	return func(o *ConnOptions) { o.MaxRetry = &n }
}

func resolveConnOptions(opts []ConnOption) ConnOptions {
	var o ConnOptions
	for _, opt := range opts {
		opt(&o)
	}
	return o.withDefaults()
}
