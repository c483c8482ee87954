package feedback

import (
	"context"
	"time"

	"github.com/fitpulse/fitvoice/internal/config"
)

// mockSynthesizer emits silent PCM sized to roughly match speaking the text
// aloud. Useful for development without a TTS binary installed.
type mockSynthesizer struct {
	cfg config.FeedbackConfig
}

func newMockSynthesizer(cfg config.FeedbackConfig) *mockSynthesizer {
	return &mockSynthesizer{cfg: cfg}
}

func (m *mockSynthesizer) Name() string { return "mock" }

func (m *mockSynthesizer) Synthesize(ctx context.Context, text string) (<-chan []byte, error) {
	// Roughly 60ms of audio per character, capped at ten seconds.
	duration := time.Duration(len(text)) * 60 * time.Millisecond
	if max := 10 * time.Second; duration > max {
		duration = max
	}
	if duration <= 0 {
		duration = 200 * time.Millisecond
	}

	chunkDuration := time.Duration(m.cfg.ChunkDurationMS) * time.Millisecond
	if chunkDuration <= 0 {
		chunkDuration = 400 * time.Millisecond
	}
	bytesPerSecond := m.cfg.SampleRate * m.cfg.Channels * 2
	chunkBytes := int(float64(bytesPerSecond) * chunkDuration.Seconds())
	totalBytes := int(float64(bytesPerSecond) * duration.Seconds())

	out := make(chan []byte)
	go func() {
		defer close(out)
		for written := 0; written < totalBytes; written += chunkBytes {
			size := chunkBytes
			if remaining := totalBytes - written; remaining < size {
				size = remaining
			}
			select {
			case out <- make([]byte, size):
			case <-ctx.Done():
				return
			}
		}
	}()
	return out, nil
}
