//go:build !portaudio
// +build !portaudio

package capture

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/fitpulse/fitvoice/internal/bus"
	"github.com/fitpulse/fitvoice/internal/config"
)

// Microphone stub when portaudio is not compiled in.
type Microphone struct {
	logger *slog.Logger
}

func NewMicrophone(cfg config.CaptureConfig, deviceID string, busClient *bus.Client, logger *slog.Logger) *Microphone {
	return &Microphone{logger: logger}
}

func (m *Microphone) Start() error {
	return fmt.Errorf("microphone capture not available: rebuild with -tags portaudio")
}

func (m *Microphone) Close() error {
	return nil
}

func (m *Microphone) Run(_ context.Context) error {
	return fmt.Errorf("microphone capture not available")
}
