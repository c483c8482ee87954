package feedback

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/fitpulse/fitvoice/internal/config"
)

// Synthesizer turns a line of feedback text into PCM audio, delivered as a
// stream of chunks. The returned channel is closed when synthesis finishes.
type Synthesizer interface {
	Name() string
	Synthesize(ctx context.Context, text string) (<-chan []byte, error)
}

// NewSynthesizer builds the configured backend.
func NewSynthesizer(cfg config.FeedbackConfig, logger *slog.Logger) (Synthesizer, error) {
	switch cfg.Mode {
	case "mock":
		return newMockSynthesizer(cfg), nil
	case "exec":
		return newExecSynthesizer(cfg, logger)
	default:
		return nil, fmt.Errorf("unknown feedback mode %q", cfg.Mode)
	}
}
