package fallback

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/chriscow/livekit-agents-go/pkg/ai"
)

// errStreamClosed is returned by PushText/Flush/EndInput once the stream
// has been closed or has failed terminally.
var errStreamClosed = errors.New("tts fallback: stream closed")

// SynthesizeStream is a push-based synthesis session: text is pushed
// incrementally, and segment-final audio is delivered in order on
// Frames(). This is the public surface of component C6.
type SynthesizeStream interface {
	PushText(text string) error
	Flush() error
	EndInput() error
	Frames() <-chan SynthesizedAudio
	Err() <-chan error
	Close() error
}

// segment is one flush-delimited span of pushed text. buffer accumulates
// everything pushed for this segment so it can be replayed verbatim
// against a new backend if the active one fails before commit.
type segment struct {
	id        string
	buffer    strings.Builder
	terminal  bool // a Flush (or EndInput) has been forwarded for this segment
	committed bool
}

func newSegment() *segment {
	return &segment{id: uuid.NewString()}
}

type streamCmdKind int

const (
	cmdPushText streamCmdKind = iota
	cmdFlush
	cmdEndInput
)

type streamCmd struct {
	kind streamCmdKind
	text string
}

// fallbackStream is component C6: the streaming fallback orchestrator. A
// single backend stream is active at a time; frame delivery and backend
// switching are both owned exclusively by the run goroutine, so no mutex
// guards the segment queue or active backend state.
type fallbackStream struct {
	adapter *FallbackAdapter
	ctx     context.Context
	cancel  context.CancelFunc
	opts    ConnOptions

	order []Backend // health.order() snapshot at open time

	cmds  chan streamCmd
	out   chan SynthesizedAudio
	errCh chan error
	done  chan struct{}

	closeOnce sync.Once
}

func (a *FallbackAdapter) newStream(ctx context.Context, opts ConnOptions) *fallbackStream {
	sctx, cancel := context.WithCancel(ctx)
	s := &fallbackStream{
		adapter: a,
		ctx:     sctx,
		cancel:  cancel,
		opts:    opts,
		order:   a.health.order(a.backends),
		cmds:    make(chan streamCmd, 64),
		out:     make(chan SynthesizedAudio, 16),
		errCh:   make(chan error, 1),
		done:    make(chan struct{}),
	}
	a.registerStream(s)
	go s.run()
	return s
}

func (s *fallbackStream) PushText(text string) error {
	return s.send(streamCmd{kind: cmdPushText, text: text})
}

func (s *fallbackStream) Flush() error {
	return s.send(streamCmd{kind: cmdFlush})
}

func (s *fallbackStream) EndInput() error {
	return s.send(streamCmd{kind: cmdEndInput})
}

func (s *fallbackStream) send(cmd streamCmd) error {
	select {
	case <-s.done:
		return errStreamClosed
	default:
	}
	select {
	case s.cmds <- cmd:
		return nil
	case <-s.done:
		return errStreamClosed
	}
}

func (s *fallbackStream) Frames() <-chan SynthesizedAudio { return s.out }
func (s *fallbackStream) Err() <-chan error               { return s.errCh }

// Close tears the stream down. Safe to call multiple times and safe to
// call concurrently with run() finishing on its own.
func (s *fallbackStream) Close() error {
	s.closeOnce.Do(func() {
		s.cancel()
	})
	<-s.done
	return nil
}

// backendSession bundles one backend's open stream with the channels run
// reads from it and the resampler grounded against its declared rate.
type backendSession struct {
	backend   Backend
	stream    BackendStream
	frames    <-chan Frame
	errs      <-chan error
	resampler Resampler
}

// run is the sole owner of segment state and the active backend
// connection: every field it touches is private to this goroutine.
func (s *fallbackStream) run() {
	defer close(s.done)
	defer close(s.out)
	defer s.adapter.unregisterStream(s)

	queue := []*segment{newSegment()}
	ending := false
	orderIdx := 0
	retries := 0

	sess := s.open(orderIdx)
	for sess == nil {
		orderIdx++
		if orderIdx >= len(s.order) {
			s.finish(newAPIConnectionError("tts fallback: all backends exhausted", nil))
			return
		}
		sess = s.open(orderIdx)
	}

	timeout := s.opts.withDefaults().Timeout
	timer := time.NewTimer(timeout)
	defer timer.Stop()
	resetTimer := func() {
		if !timer.Stop() {
			select {
			case <-timer.C:
			default:
			}
		}
		timer.Reset(timeout)
	}

	// fail reopens the current backend (while its retry budget lasts) or
	// moves on to the next backend in order, replaying everything not yet
	// resolved onto the new session. If every
	// remaining backend is exhausted, or the front segment already
	// committed output, the stream ends.
	fail := func(reason failureReason, err error) bool {
		front := queue[0]
		if sess != nil {
			s.adapter.health.markUnavailable(sess.backend)
			_ = sess.stream.Close()
		}

		if front.committed {
			if reason == reasonTimeout {
				s.finish(newAPIConnectionError("tts fallback: backend stalled after commit", err))
			} else {
				s.finish(newAPIError("tts backend failed mid-stream", err))
			}
			return false
		}

		fatal := err != nil && ai.IsFatal(err)
		switch {
		case fatal:
			// Retrying this backend is pointless; advance immediately.
			retries = 0
			orderIdx++
		case retries < s.opts.effectiveMaxRetry(s.adapter.cfg.MaxRetryPerTTS):
			retries++
		default:
			retries = 0
			orderIdx++
		}

		if !fatal && retries > 0 {
			if berr := sleepBackoff(s.ctx, s.adapter.cfg.RetryConfig, retries); berr != nil {
				s.finish(newAPIConnectionError("tts fallback: all backends exhausted", err))
				return false
			}
		}

		var next *backendSession
		for next == nil {
			if orderIdx >= len(s.order) {
				s.finish(newAPIConnectionError("tts fallback: all backends exhausted", err))
				return false
			}
			next = s.open(orderIdx)
			if next == nil {
				orderIdx++
			}
		}
		sess = next
		s.replay(sess, queue, ending)
		resetTimer()
		return true
	}

	for {
		select {
		case <-s.ctx.Done():
			return

		case cmd := <-s.cmds:
			writing := queue[len(queue)-1]
			switch cmd.kind {
			case cmdPushText:
				writing.buffer.WriteString(cmd.text)
				_ = sess.stream.PushText(cmd.text)
			case cmdFlush:
				writing.terminal = true
				_ = sess.stream.Flush()
				queue = append(queue, newSegment())
			case cmdEndInput:
				writing.terminal = true
				ending = true
				_ = sess.stream.EndInput()
			}
			resetTimer()

		case f, ok := <-sess.frames:
			if !ok {
				if fail(reasonConnection, errors.New("tts fallback: backend stream closed unexpectedly")) {
					continue
				}
				return
			}
			resetTimer()
			if f.SampleRate == 0 {
				// segment boundary marker. A segment nothing was ever
				// pushed for (e.g. the trailing segment EndInput opens
				// right after a Flush) completes trivially rather than
				// counting as a silent-backend failure.
				front := queue[0]
				if !front.committed && front.buffer.Len() > 0 {
					if fail(reasonEmpty, errEmptyOutput) {
						continue
					}
					return
				}
				if sess.resampler != nil {
					for _, rf := range sess.resampler.Flush() {
						select {
						case s.out <- SynthesizedAudio{Frame: rf, SegmentID: front.id}:
						case <-s.ctx.Done():
						}
					}
				}
				s.emitFinal(front)
				queue = queue[1:]
				if len(queue) == 0 {
					if ending {
						return
					}
					queue = append(queue, newSegment())
				}
				continue
			}
			s.route(queue[0], sess, f)

		case err := <-sess.errs:
			if fail(classify(err, false, false), err) {
				continue
			}
			return

		case <-timer.C:
			if fail(reasonTimeout, context.DeadlineExceeded) {
				continue
			}
			return
		}
	}
}

// open starts a backend session at s.order[idx]. A nil result means that
// index is out of range or failed to open (already marked unavailable);
// the caller decides whether to try the next index or give up.
func (s *fallbackStream) open(idx int) *backendSession {
	if idx >= len(s.order) {
		return nil
	}
	b := s.order[idx]
	stream, err := b.Stream(s.ctx, s.opts)
	if err != nil {
		s.adapter.health.markUnavailable(b)
		return nil
	}
	return &backendSession{
		backend:   b,
		stream:    stream,
		frames:    stream.Frames(),
		errs:      stream.Err(),
		resampler: s.adapter.resamplers.forAttempt(b),
	}
}

// replay reconstructs backend-side state on a freshly opened session:
// every queued segment's buffered text is pushed again, with a Flush
// between segments (and after the last one, if it was already terminal),
// plus a trailing EndInput if the stream is ending.
func (s *fallbackStream) replay(sess *backendSession, queue []*segment, ending bool) {
	for i, seg := range queue {
		if seg.buffer.Len() > 0 {
			_ = sess.stream.PushText(seg.buffer.String())
		}
		last := i == len(queue)-1
		switch {
		case last && ending:
			_ = sess.stream.EndInput()
		case seg.terminal || !last:
			_ = sess.stream.Flush()
		}
	}
}

// route resamples and emits one real audio frame for the front segment,
// marking it committed on its first non-empty output.
func (s *fallbackStream) route(front *segment, sess *backendSession, f Frame) {
	var resampled []Frame
	if sess.resampler != nil {
		resampled = sess.resampler.Push(f)
	} else {
		resampled = []Frame{f}
	}
	for _, rf := range resampled {
		if rf.IsEmpty() {
			continue
		}
		front.committed = true
		select {
		case s.out <- SynthesizedAudio{Frame: rf, SegmentID: front.id}:
		case <-s.ctx.Done():
		}
	}
}

func (s *fallbackStream) emitFinal(front *segment) {
	rate := s.adapter.cfg.SampleRate
	final := SynthesizedAudio{Frame: finalMarkerFrame(rate, 1), IsFinal: true, SegmentID: front.id}
	select {
	case s.out <- final:
	case <-s.ctx.Done():
	}
}

func (s *fallbackStream) finish(err error) {
	if err == nil {
		return
	}
	select {
	case s.errCh <- err:
	default:
	}
}
