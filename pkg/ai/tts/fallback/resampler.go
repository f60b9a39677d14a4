package fallback

// Resampler converts a stream of frames from one sample rate to another.
// Implementations are stateful (they carry a trailing fractional sample
// position across Push calls) and must be reset between attempts. A
// hosting application may supply a higher-quality implementation (e.g. a
// libsamplerate binding); this package ships a linear-interpolation
// default since no resampling library appears anywhere in the example
// corpus this package was grounded on (see DESIGN.md).
type Resampler interface {
	// Reset clears any carried-over state, preparing for a new attempt.
	Reset()
	// Push resamples one input frame, returning zero or more output
	// frames at the target rate.
	Push(f Frame) []Frame
	// Flush drains any pending samples into a final output frame.
	Flush() []Frame
}

// resamplerGateway lazily constructs one Resampler per backend whose
// declared sample rate differs from the adapter's target, resets it at
// the start of each attempt, and flushes it at attempt end.
type resamplerGateway struct {
	targetRate int
	factory    func(from, to int) Resampler
	cache      map[Backend]Resampler
}

func newResamplerGateway(targetRate int) *resamplerGateway {
	return &resamplerGateway{
		targetRate: targetRate,
		factory:    newLinearResampler,
		cache:      make(map[Backend]Resampler),
	}
}

// forAttempt returns the Resampler to use for this backend, or nil if the
// backend's rate already matches the target and no resampling is needed.
// The returned Resampler (if any) has been Reset for this attempt.
func (g *resamplerGateway) forAttempt(b Backend) Resampler {
	rate := b.SampleRate()
	if rate == g.targetRate {
		return nil
	}

	r, ok := g.cache[b]
	if !ok {
		r = g.factory(rate, g.targetRate)
		g.cache[b] = r
	}
	r.Reset()
	return r
}

// linearResampler is a minimal, dependency-free resampler good enough to
// preserve duration and ordering guarantees; it is not a high-fidelity DSP
// implementation.
type linearResampler struct {
	fromRate, toRate int
	channels         int
	carry            []int16 // trailing input samples needed for interpolation
	pos              float64 // fractional position into the (carry + new) input stream
}

func newLinearResampler(from, to int) Resampler {
	return &linearResampler{fromRate: from, toRate: to}
}

func (r *linearResampler) Reset() {
	r.carry = nil
	r.pos = 0
}

func (r *linearResampler) Push(f Frame) []Frame {
	if f.IsEmpty() {
		return nil
	}
	r.channels = f.Channels
	in := decodePCM16(f.Data)

	full := append(r.carry, in...)
	ratio := float64(r.fromRate) / float64(r.toRate)

	var out []int16
	i := r.pos
	for {
		idx := int(i)
		if idx+1 >= len(full)/maxInt(1, r.channels) {
			break
		}
		for ch := 0; ch < r.channels; ch++ {
			a := full[idx*r.channels+ch]
			b := full[(idx+1)*r.channels+ch]
			frac := i - float64(idx)
			out = append(out, lerp(a, b, frac))
		}
		i += ratio
	}

	consumedFrames := int(i)
	r.pos = i - float64(consumedFrames)
	framesAvailable := len(full) / maxInt(1, r.channels)
	if consumedFrames > framesAvailable {
		consumedFrames = framesAvailable
	}
	r.carry = append([]int16(nil), full[consumedFrames*r.channels:]...)

	if len(out) == 0 {
		return nil
	}
	return []Frame{{Data: encodePCM16(out), SampleRate: r.toRate, Channels: r.channels}}
}

func (r *linearResampler) Flush() []Frame {
	if r.channels == 0 || len(r.carry) < 2*r.channels {
		r.carry = nil
		return nil
	}
	// Emit remaining carried samples as a final (unInterpolated) frame;
	// good enough for a trailing partial window.
	out := r.carry
	r.carry = nil
	return []Frame{{Data: encodePCM16(out), SampleRate: r.toRate, Channels: r.channels}}
}

func lerp(a, b int16, frac float64) int16 {
	return int16(float64(a) + (float64(b)-float64(a))*frac)
}

func decodePCM16(data []byte) []int16 {
	out := make([]int16, len(data)/2)
	for i := range out {
		out[i] = int16(uint16(data[i*2]) | uint16(data[i*2+1])<<8)
	}
	return out
}

func encodePCM16(samples []int16) []byte {
	out := make([]byte, len(samples)*2)
	for i, s := range samples {
		out[i*2] = byte(uint16(s))
		out[i*2+1] = byte(uint16(s) >> 8)
	}
	return out
}

func maxInt(a, b int) int {
	if a > b {
		return a
	}
	return b
}
