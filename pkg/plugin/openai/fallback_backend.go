package openai

import (
	"context"
	"errors"

	"github.com/chriscow/livekit-agents-go/pkg/ai/tts"
	"github.com/chriscow/livekit-agents-go/pkg/ai/tts/fallback"
)

// FallbackBackend adapts OpenAITTS to fallback.Backend so it can sit
// anywhere in a fallback.FallbackAdapter's backend list. OpenAI's
// text-to-speech API is request/response only, so Stream is unsupported;
// an OpenAI backend can only ever occupy a one-shot-only slot in the
// fallback order.
var _ fallback.Backend = (*FallbackBackend)(nil)

type FallbackBackend struct {
	tts   *OpenAITTS
	voice string
}

// NewFallbackBackend wraps an existing OpenAITTS provider. voice overrides
// the provider's configured default when non-empty.
func NewFallbackBackend(t *OpenAITTS, voice string) *FallbackBackend {
	return &FallbackBackend{tts: t, voice: voice}
}

func (b *FallbackBackend) Synthesize(ctx context.Context, text string, opts fallback.ConnOptions) (<-chan fallback.Frame, error) {
	frames, err := b.tts.Synthesize(ctx, tts.SynthesizeRequest{Text: text, Voice: b.voice})
	if err != nil {
		return nil, err
	}

	out := make(chan fallback.Frame, 16)
	go func() {
		defer close(out)
		for f := range frames {
			select {
			case out <- fallback.Frame{Data: f.Data, SampleRate: f.SampleRate, Channels: f.NumChannels}:
			case <-ctx.Done():
				return
			}
		}
	}()
	return out, nil
}

func (b *FallbackBackend) Stream(ctx context.Context, opts fallback.ConnOptions) (fallback.BackendStream, error) {
	return nil, errors.New("openai tts: streaming not supported, this backend is one-shot only")
}

// SampleRate matches OpenAITTS.Synthesize's hardcoded output rate.
func (b *FallbackBackend) SampleRate() int { return 24000 }

func (b *FallbackBackend) Capabilities() fallback.BackendCapabilities {
	return fallback.BackendCapabilities{Streaming: false}
}

func (b *FallbackBackend) Close() error { return nil }
