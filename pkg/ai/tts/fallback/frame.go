package fallback

import "time"

// finalMarkerDuration is the synthetic trailing frame every completed
// synthesis (one-shot or per segment) carries, per spec.
const finalMarkerDuration = 10 * time.Millisecond

// Frame is a chunk of 16-bit little-endian PCM audio. Unlike rtc.AudioFrame
// elsewhere in this module, a Frame is not fixed to 10ms: backends emit
// chunks of whatever size they choose, and duration is derived from the
// sample count the same way media.AudioFrame does.
type Frame struct {
	Data       []byte
	SampleRate int
	Channels   int
}

// Samples returns the number of samples per channel in this frame.
func (f Frame) Samples() int {
	if f.Channels == 0 {
		return 0
	}
	return len(f.Data) / (2 * f.Channels)
}

// Duration returns the playback duration of this frame.
func (f Frame) Duration() time.Duration {
	if f.SampleRate == 0 {
		return 0
	}
	seconds := float64(f.Samples()) / float64(f.SampleRate)
	return time.Duration(seconds * float64(time.Second))
}

// IsEmpty reports whether the frame carries no audio data.
func (f Frame) IsEmpty() bool {
	return len(f.Data) == 0
}

// finalMarkerFrame returns finalMarkerDuration worth of silence at the
// given sample rate, used as the synthetic terminator every completed
// synthesis/segment carries.
func finalMarkerFrame(sampleRate, channels int) Frame {
	if channels == 0 {
		channels = 1
	}
	samples := int(finalMarkerDuration.Seconds() * float64(sampleRate))
	return Frame{
		Data:       make([]byte, samples*channels*2),
		SampleRate: sampleRate,
		Channels:   channels,
	}
}

// SynthesizedAudio is what callers of Synthesize/Stream receive: one audio
// frame, whether it is the last for this synthesis/segment, and (for
// streaming) which segment it belongs to.
type SynthesizedAudio struct {
	Frame     Frame
	IsFinal   bool
	SegmentID string
}
