// Package fallback provides a resilience layer over an ordered list of TTS
// backends: one-shot synthesis and segment-aware streaming both fail over
// to the next backend on connection error, timeout, or silent output, and
// a background prober brings unavailable backends back online.
package fallback
