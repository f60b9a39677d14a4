package openai

import (
	"context"
	"testing"

	openai "github.com/sashabaranov/go-openai"

	"github.com/chriscow/livekit-agents-go/pkg/ai/tts/fallback"
)

// newTestOpenAITTS builds an OpenAITTS without touching the network or
// requiring OPENAI_API_KEY, bypassing the config-map factory used by the
// plugin registry.
func newTestOpenAITTS() *OpenAITTS {
	return &OpenAITTS{client: openai.NewClient("sk-test"), model: "tts-1", voice: "alloy"}
}

// TestFallbackBackendWiresIntoAdapter proves component C1's boundary: a
// real provider (OpenAITTS, unmodified) plugs into a live FallbackAdapter
// through FallbackBackend without the adapter needing to know it exists.
func TestFallbackBackendWiresIntoAdapter(t *testing.T) {
	backend := NewFallbackBackend(newTestOpenAITTS(), "nova")

	if backend.SampleRate() != 24000 {
		t.Fatalf("SampleRate() = %d, want 24000", backend.SampleRate())
	}
	if backend.Capabilities().Streaming {
		t.Fatal("OpenAI backend must not advertise streaming support")
	}

	a, err := fallback.New(fallback.AdapterConfig{
		Backends:   []fallback.Backend{backend},
		SampleRate: 24000,
	})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer a.Close()

	if _, err := backend.Stream(context.Background(), fallback.ConnOptions{}); err == nil {
		t.Fatal("Stream should be unsupported for the OpenAI backend")
	}

	if err := a.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if err := backend.Close(); err != nil {
		t.Fatalf("backend Close: %v", err)
	}
}

func TestFallbackBackendAdapterCloseIsIdempotent(t *testing.T) {
	backend := NewFallbackBackend(newTestOpenAITTS(), "")
	a, err := fallback.New(fallback.AdapterConfig{
		Backends:   []fallback.Backend{backend},
		SampleRate: 24000,
	})
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	if err := a.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	// Idempotent: closing the adapter again must not error or panic.
	if err := a.Close(); err != nil {
		t.Fatalf("second Close: %v", err)
	}

	if _, err := backend.Stream(context.Background(), fallback.ConnOptions{}); err == nil {
		t.Fatal("expected Stream to still report unsupported after adapter close")
	}
}
