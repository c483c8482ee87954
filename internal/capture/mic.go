//go:build portaudio
// +build portaudio

package capture

import (
	"context"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/fitpulse/fitvoice/internal/bus"
	"github.com/fitpulse/fitvoice/internal/config"
	"github.com/fitpulse/fitvoice/internal/protocol"
	"github.com/google/uuid"
	"github.com/gordonklaus/portaudio"
)

// Microphone streams PCM frames from the default input device onto the bus.
// Each detected utterance becomes one recognition session; a stretch of
// silence or the utterance cap closes it with a final frame.
type Microphone struct {
	cfg      config.CaptureConfig
	deviceID string
	bus      *bus.Client
	logger   *slog.Logger
	stream   *portaudio.Stream
	buffer   []int16
}

func NewMicrophone(cfg config.CaptureConfig, deviceID string, busClient *bus.Client, logger *slog.Logger) *Microphone {
	return &Microphone{
		cfg:      cfg,
		deviceID: deviceID,
		bus:      busClient,
		logger:   logger.With(slog.String("component", "capture")),
	}
}

func (m *Microphone) Start() error {
	if err := portaudio.Initialize(); err != nil {
		return fmt.Errorf("initialize portaudio: %w", err)
	}

	framesPerBuffer := m.cfg.SampleRate * m.cfg.FrameDurationMS / 1000
	m.buffer = make([]int16, framesPerBuffer)

	stream, err := portaudio.OpenDefaultStream(1, 0, float64(m.cfg.SampleRate), framesPerBuffer, m.buffer)
	if err != nil {
		portaudio.Terminate()
		return fmt.Errorf("open input stream: %w", err)
	}
	m.stream = stream

	if err := m.stream.Start(); err != nil {
		m.stream.Close()
		portaudio.Terminate()
		return fmt.Errorf("start input stream: %w", err)
	}
	m.logger.Info("microphone capture started",
		slog.Int("sample_rate", m.cfg.SampleRate),
		slog.Int("frame_ms", m.cfg.FrameDurationMS))
	return nil
}

func (m *Microphone) Close() error {
	if m.stream != nil {
		_ = m.stream.Stop()
		_ = m.stream.Close()
	}
	portaudio.Terminate()
	return nil
}

// Run captures utterances until the context is cancelled.
func (m *Microphone) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}
		if err := m.captureUtterance(ctx); err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			m.logger.Warn("utterance capture failed", slog.String("error", err.Error()))
		}
	}
}

func (m *Microphone) captureUtterance(ctx context.Context) error {
	sessionID := uuid.NewString()
	sequence := 0
	captured := 0
	silent := 0

	frameMS := m.cfg.FrameDurationMS
	maxFrames := m.cfg.MaxUtteranceMS / frameMS
	silenceFrames := m.cfg.SilenceMS / frameMS
	started := false

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}
		if err := m.stream.Read(); err != nil {
			return fmt.Errorf("read input stream: %w", err)
		}

		loud := frameHasSpeech(m.buffer)
		if !started {
			if !loud {
				continue
			}
			started = true
			m.logger.Debug("utterance started", slog.String("session_id", sessionID))
		}

		if loud {
			silent = 0
		} else {
			silent++
		}
		captured++

		final := silent >= silenceFrames || captured >= maxFrames
		if err := m.publishFrame(sessionID, sequence, m.buffer, final); err != nil {
			return err
		}
		sequence++
		if final {
			m.logger.Debug("utterance finished",
				slog.String("session_id", sessionID), slog.Int("frames", captured))
			return nil
		}
	}
}

func (m *Microphone) publishFrame(sessionID string, sequence int, samples []int16, final bool) error {
	pcm := make([]byte, len(samples)*2)
	for i, sample := range samples {
		binary.LittleEndian.PutUint16(pcm[i*2:], uint16(sample))
	}
	frame := protocol.AudioFrame{
		SessionID:  sessionID,
		DeviceID:   m.deviceID,
		Sequence:   sequence,
		SampleRate: m.cfg.SampleRate,
		Channels:   1,
		PCM:        pcm,
		Final:      final,
	}
	data, err := json.Marshal(frame)
	if err != nil {
		return err
	}
	subject := protocol.SubjectAudioFramePrefix + "." + m.deviceID
	return m.bus.Conn().Publish(subject, data)
}

const speechThreshold = 500

func frameHasSpeech(samples []int16) bool {
	for _, sample := range samples {
		if sample > speechThreshold || sample < -speechThreshold {
			return true
		}
	}
	return false
}
