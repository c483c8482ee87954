package speech

import (
	"bytes"
	"context"
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"strings"
	"sync"

	"github.com/fitpulse/fitvoice/internal/config"
	"github.com/go-audio/audio"
	"github.com/go-audio/wav"
	"github.com/mattn/go-shellwords"
)

// EngineProvider shells out to a bundled offline transcriber (whisper-style
// CLI) that reads a WAV file and prints a JSON result on stdout.
type EngineProvider struct {
	cfg        config.EngineSpeechConfig
	sampleRate int
	channels   int
	log        *slog.Logger
}

type engineResult struct {
	Text       string  `json:"text"`
	Confidence float64 `json:"confidence"`
}

func NewEngineProvider(cfg config.SpeechConfig, log *slog.Logger) *EngineProvider {
	return &EngineProvider{
		cfg:        cfg.Engine,
		sampleRate: cfg.SampleRate,
		channels:   cfg.Channels,
		log:        log.With(slog.String("component", "speech-engine")),
	}
}

func (p *EngineProvider) Name() string { return "engine" }

func (p *EngineProvider) TryStart(_ context.Context, h Handlers) (Session, error) {
	if !p.cfg.Enabled {
		return nil, errors.New("engine provider disabled")
	}
	parser := shellwords.NewParser()
	args, err := parser.Parse(p.cfg.Command)
	if err != nil {
		return nil, fmt.Errorf("parse engine command: %w", err)
	}
	if len(args) == 0 {
		return nil, errors.New("engine command is empty")
	}
	if p.cfg.ModelPath != "" {
		if _, err := os.Stat(p.cfg.ModelPath); err != nil {
			return nil, fmt.Errorf("engine model unavailable: %w", err)
		}
	}
	return &engineSession{
		args:       args,
		cfg:        p.cfg,
		sampleRate: p.sampleRate,
		channels:   p.channels,
		handlers:   h,
	}, nil
}

type engineSession struct {
	args       []string
	cfg        config.EngineSpeechConfig
	sampleRate int
	channels   int
	handlers   Handlers

	mu     sync.Mutex
	buf    []byte
	closed bool
}

func (s *engineSession) Feed(ctx context.Context, pcm []byte, final bool) error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.buf = append(s.buf, pcm...)
	if !final {
		s.mu.Unlock()
		return nil
	}
	utterance := s.buf
	s.buf = nil
	s.mu.Unlock()

	result, err := s.transcribe(ctx, utterance)
	if err != nil {
		return err
	}
	if result.Text != "" && s.handlers.OnResult != nil {
		s.handlers.OnResult(result)
	}
	return nil
}

func (s *engineSession) transcribe(ctx context.Context, pcm []byte) (Result, error) {
	file, err := os.CreateTemp(os.TempDir(), "fitvoice_stt_*.wav")
	if err != nil {
		return Result{}, fmt.Errorf("temp file: %w", err)
	}
	defer os.Remove(file.Name())
	defer file.Close()

	if err := writePCMToWav(file, pcm, s.sampleRate, s.channels); err != nil {
		return Result{}, err
	}

	base := s.args[0]
	cmdArgs := append([]string{}, s.args[1:]...)
	cmdArgs = append(cmdArgs, "--audio", file.Name())
	if s.cfg.ModelPath != "" {
		cmdArgs = append(cmdArgs, "--model", s.cfg.ModelPath)
	}
	if s.cfg.Language != "" {
		cmdArgs = append(cmdArgs, "--language", s.cfg.Language)
	}

	command := exec.CommandContext(ctx, base, cmdArgs...)
	var stdout bytes.Buffer
	var stderr bytes.Buffer
	command.Stdout = &stdout
	command.Stderr = &stderr

	if err := command.Run(); err != nil {
		return Result{}, fmt.Errorf("engine command failed: %w: %s", err, stderr.String())
	}

	var resp engineResult
	if err := json.Unmarshal(stdout.Bytes(), &resp); err != nil {
		return Result{}, fmt.Errorf("decode engine response: %w", err)
	}
	return Result{
		Text:       strings.ToLower(strings.TrimSpace(resp.Text)),
		Confidence: resp.Confidence,
		Final:      true,
	}, nil
}

func (s *engineSession) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	s.buf = nil
}

func (s *engineSession) Abort() { s.Stop() }

func writePCMToWav(file *os.File, pcm []byte, sampleRate, channels int) error {
	if len(pcm)%2 != 0 {
		return fmt.Errorf("pcm payload not aligned")
	}
	buffer := &audio.IntBuffer{Format: &audio.Format{NumChannels: channels, SampleRate: sampleRate}}
	samples := make([]int, len(pcm)/2)
	for i := 0; i < len(samples); i++ {
		samples[i] = int(int16(binary.LittleEndian.Uint16(pcm[i*2:])))
	}
	buffer.Data = samples

	enc := wav.NewEncoder(file, sampleRate, 16, channels, 1)
	if err := enc.Write(buffer); err != nil {
		return fmt.Errorf("write wav: %w", err)
	}
	if err := enc.Close(); err != nil {
		return fmt.Errorf("close wav encoder: %w", err)
	}
	return nil
}
