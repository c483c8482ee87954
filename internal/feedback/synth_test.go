package feedback

import (
	"context"
	"io"
	"log/slog"
	"testing"

	"github.com/fitpulse/fitvoice/internal/config"
)

func testConfig() config.FeedbackConfig {
	return config.FeedbackConfig{
		Enabled:         true,
		Mode:            "mock",
		SampleRate:      22050,
		Channels:        1,
		ChunkDurationMS: 400,
	}
}

func newLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, &slog.HandlerOptions{Level: slog.LevelError}))
}

func TestNewSynthesizerRejectsUnknownMode(t *testing.T) {
	cfg := testConfig()
	cfg.Mode = "cloud"
	if _, err := NewSynthesizer(cfg, newLogger()); err == nil {
		t.Fatal("expected error for unknown mode")
	}
}

func TestMockSynthesizerStreamsChunks(t *testing.T) {
	synth, err := NewSynthesizer(testConfig(), newLogger())
	if err != nil {
		t.Fatalf("new synthesizer: %v", err)
	}
	if synth.Name() != "mock" {
		t.Fatalf("unexpected synthesizer %q", synth.Name())
	}

	chunks, err := synth.Synthesize(context.Background(), "Timer started")
	if err != nil {
		t.Fatalf("synthesize: %v", err)
	}
	var total int
	var count int
	for pcm := range chunks {
		total += len(pcm)
		count++
	}
	if count == 0 || total == 0 {
		t.Fatalf("expected audio chunks, got %d chunks / %d bytes", count, total)
	}
}

func TestMockSynthesizerHonorsCancel(t *testing.T) {
	synth := newMockSynthesizer(testConfig())
	ctx, cancel := context.WithCancel(context.Background())
	chunks, err := synth.Synthesize(ctx, "a fairly long feedback line that spans several chunks of audio output")
	if err != nil {
		t.Fatalf("synthesize: %v", err)
	}
	<-chunks
	cancel()
	for range chunks {
	}
}

func TestDecodeWAVRejectsGarbage(t *testing.T) {
	if _, err := decodeWAV([]byte("not a wav file")); err == nil {
		t.Fatal("expected decode error")
	}
}

func TestForEachChunkMarksLastFinal(t *testing.T) {
	chunks := make(chan []byte, 3)
	chunks <- []byte{1}
	chunks <- []byte{2}
	chunks <- []byte{3}
	close(chunks)

	var finals []bool
	forEachChunk(chunks, func(_ []byte, final bool) bool {
		finals = append(finals, final)
		return true
	})
	if len(finals) != 3 {
		t.Fatalf("expected 3 chunks, got %d", len(finals))
	}
	if finals[0] || finals[1] || !finals[2] {
		t.Fatalf("only the last chunk may be final, got %v", finals)
	}
}

func TestForEachChunkSingleChunkIsFinal(t *testing.T) {
	chunks := make(chan []byte, 1)
	chunks <- []byte{1}
	close(chunks)

	calls := 0
	forEachChunk(chunks, func(_ []byte, final bool) bool {
		calls++
		if !final {
			t.Fatal("sole chunk must be final")
		}
		return true
	})
	if calls != 1 {
		t.Fatalf("expected 1 call, got %d", calls)
	}
}

func TestForEachChunkEmptyStream(t *testing.T) {
	chunks := make(chan []byte)
	close(chunks)
	forEachChunk(chunks, func(_ []byte, _ bool) bool {
		t.Fatal("no chunks expected")
		return false
	})
}
