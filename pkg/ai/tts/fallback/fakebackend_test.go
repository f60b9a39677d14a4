package fallback

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"
)

// fakeBackend is a configurable Backend double grounded on
// pkg/ai/tts/fake.FakeTTS: instead of a sine wave it produces fixed-length
// silence, and every failure mode (immediate connection error, delayed
// error, timeout-inducing delay, empty output) is dialled in by the test.
type fakeBackend struct {
	name       string
	sampleRate int
	streaming  bool

	mu            sync.Mutex
	err           error
	immediate     bool // if true, err is returned synchronously from Synthesize/Stream
	delay         time.Duration
	audioDuration time.Duration
	closed        bool

	synthesizeCalls int
	streamCalls     int
}

func newFakeBackend(name string, sampleRate int, streaming bool) *fakeBackend {
	return &fakeBackend{name: name, sampleRate: sampleRate, streaming: streaming, audioDuration: 200 * time.Millisecond}
}

func (b *fakeBackend) String() string { return b.name }

func (b *fakeBackend) withErr(err error, immediate bool) *fakeBackend {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.err = err
	b.immediate = immediate
	return b
}

func (b *fakeBackend) withDelay(d time.Duration) *fakeBackend {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.delay = d
	return b
}

func (b *fakeBackend) withAudioDuration(d time.Duration) *fakeBackend {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.audioDuration = d
	return b
}

func (b *fakeBackend) snapshot() (err error, immediate bool, delay, audioDuration time.Duration, rate int) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.err, b.immediate, b.delay, b.audioDuration, b.sampleRate
}

func (b *fakeBackend) SampleRate() int { return b.sampleRate }

func (b *fakeBackend) Capabilities() BackendCapabilities {
	return BackendCapabilities{Streaming: b.streaming}
}

func (b *fakeBackend) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.closed = true
	return nil
}

// Synthesize simulates one-shot synthesis. An immediate error (connection
// failure) is returned synchronously; a delay longer than the caller's
// timeout is what exercises the timeout path; a zero audioDuration
// produces a channel that closes without ever sending a frame (silent
// output).
func (b *fakeBackend) Synthesize(ctx context.Context, text string, opts ConnOptions) (<-chan Frame, error) {
	b.mu.Lock()
	b.synthesizeCalls++
	b.mu.Unlock()

	err, immediate, delay, audioDuration, rate := b.snapshot()
	if immediate && err != nil {
		return nil, err
	}

	out := make(chan Frame, 16)
	go func() {
		defer close(out)
		if delay > 0 {
			select {
			case <-time.After(delay):
			case <-ctx.Done():
				return
			}
		}
		if err != nil {
			return
		}
		for _, f := range synthesizeFrames(audioDuration, rate) {
			select {
			case out <- f:
			case <-ctx.Done():
				return
			}
		}
	}()
	return out, nil
}

func (b *fakeBackend) Stream(ctx context.Context, opts ConnOptions) (BackendStream, error) {
	b.mu.Lock()
	b.streamCalls++
	b.mu.Unlock()

	err, immediate, _, _, _ := b.snapshot()
	if immediate && err != nil {
		return nil, err
	}

	s := &fakeBackendStream{
		backend: b,
		frames:  make(chan Frame, 16),
		errs:    make(chan error, 1),
		flushes: make(chan string, 16),
		done:    make(chan struct{}),
	}
	go s.run(ctx)
	return s, nil
}

// fakeBackendStream queues each Flush's accumulated text and resolves them
// one at a time, so ordering matches what a real push-based backend would
// preserve.
type fakeBackendStream struct {
	backend *fakeBackend

	frames  chan Frame
	errs    chan error
	flushes chan string
	done    chan struct{}

	mu      sync.Mutex
	pending strings.Builder
	closed  bool
}

var errFakeStreamClosed = errors.New("fake backend: stream closed")

func (s *fakeBackendStream) PushText(text string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return errFakeStreamClosed
	}
	s.pending.WriteString(text)
	return nil
}

func (s *fakeBackendStream) Flush() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return errFakeStreamClosed
	}
	text := s.pending.String()
	s.pending.Reset()
	s.mu.Unlock()

	select {
	case s.flushes <- text:
	case <-s.done:
	}
	return nil
}

func (s *fakeBackendStream) EndInput() error { return s.Flush() }

func (s *fakeBackendStream) Frames() <-chan Frame { return s.frames }
func (s *fakeBackendStream) Err() <-chan error    { return s.errs }

func (s *fakeBackendStream) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	s.mu.Unlock()
	close(s.done)
	return nil
}

func (s *fakeBackendStream) run(ctx context.Context) {
	defer close(s.frames)
	for {
		select {
		case <-s.done:
			return
		case <-ctx.Done():
			return
		case text := <-s.flushes:
			err, _, delay, audioDuration, rate := s.backend.snapshot()
			if strings.TrimSpace(text) == "" {
				audioDuration = 0
			}

			if delay > 0 {
				select {
				case <-time.After(delay):
				case <-ctx.Done():
					return
				case <-s.done:
					return
				}
			}
			if err != nil {
				select {
				case s.errs <- err:
				case <-s.done:
				}
				return
			}

			// Pace emission like a real streaming backend, and re-check for
			// an injected failure before each frame, so tests can observe a
			// commit mid-segment rather than the whole segment landing
			// atomically.
			frames := synthesizeFrames(audioDuration, rate)
			for i, f := range frames {
				if liveErr, _, _, _, _ := s.backend.snapshot(); liveErr != nil {
					select {
					case s.errs <- liveErr:
					case <-s.done:
					}
					return
				}
				select {
				case s.frames <- f:
				case <-ctx.Done():
					return
				case <-s.done:
					return
				}
				if i < len(frames)-1 {
					select {
					case <-time.After(15 * time.Millisecond):
					case <-ctx.Done():
						return
					case <-s.done:
						return
					}
				}
			}
			select {
			case s.frames <- Frame{}: // segment boundary
			case <-ctx.Done():
				return
			case <-s.done:
				return
			}
		}
	}
}

// synthesizeFrames splits audioDuration worth of silence into a handful of
// frames at rate, mirroring how a real backend would chunk output. A zero
// duration yields no frames at all (the "silent backend" case).
func synthesizeFrames(audioDuration time.Duration, rate int) []Frame {
	if audioDuration <= 0 {
		return nil
	}
	const chunks = 4
	chunkDur := audioDuration / chunks
	samples := int(chunkDur.Seconds() * float64(rate))
	if samples <= 0 {
		samples = 1
	}
	frames := make([]Frame, 0, chunks)
	for i := 0; i < chunks; i++ {
		frames = append(frames, Frame{Data: make([]byte, samples*2), SampleRate: rate, Channels: 1})
	}
	return frames
}
