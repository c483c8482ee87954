package speech

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/fitpulse/fitvoice/internal/config"
)

// RemoteProvider stands in for a platform speech API: buffered utterances are
// posted as WAV to an HTTP endpoint that answers with a JSON transcript.
type RemoteProvider struct {
	cfg        config.RemoteSpeechConfig
	sampleRate int
	channels   int
	client     *http.Client
	log        *slog.Logger
}

type remoteResponse struct {
	Text       string  `json:"text"`
	Confidence float64 `json:"confidence"`
}

func NewRemoteProvider(cfg config.SpeechConfig, log *slog.Logger) *RemoteProvider {
	timeout := time.Duration(cfg.Remote.TimeoutMS) * time.Millisecond
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &RemoteProvider{
		cfg:        cfg.Remote,
		sampleRate: cfg.SampleRate,
		channels:   cfg.Channels,
		client:     &http.Client{Timeout: timeout},
		log:        log.With(slog.String("component", "speech-remote")),
	}
}

func (p *RemoteProvider) Name() string { return "remote" }

// TryStart probes the endpoint so an unreachable recognizer fails the chain
// here rather than on the first utterance.
func (p *RemoteProvider) TryStart(ctx context.Context, h Handlers) (Session, error) {
	if !p.cfg.Enabled {
		return nil, errors.New("remote provider disabled")
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, p.cfg.Endpoint+"/healthz", nil)
	if err != nil {
		return nil, fmt.Errorf("build probe request: %w", err)
	}
	resp, err := p.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("probe remote recognizer: %w", err)
	}
	io.Copy(io.Discard, resp.Body)
	resp.Body.Close()
	if resp.StatusCode >= 400 {
		return nil, fmt.Errorf("remote recognizer unhealthy: status %d", resp.StatusCode)
	}
	return &remoteSession{provider: p, handlers: h}, nil
}

type remoteSession struct {
	provider *RemoteProvider
	handlers Handlers

	mu     sync.Mutex
	buf    []byte
	closed bool
}

func (s *remoteSession) Feed(ctx context.Context, pcm []byte, final bool) error {
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

	result, err := s.provider.transcribe(ctx, utterance)
	if err != nil {
		return err
	}
	if result.Text != "" && s.handlers.OnResult != nil {
		s.handlers.OnResult(result)
	}
	return nil
}

func (p *RemoteProvider) transcribe(ctx context.Context, pcm []byte) (Result, error) {
	file, err := os.CreateTemp(os.TempDir(), "fitvoice_remote_*.wav")
	if err != nil {
		return Result{}, fmt.Errorf("temp file: %w", err)
	}
	defer os.Remove(file.Name())

	if err := writePCMToWav(file, pcm, p.sampleRate, p.channels); err != nil {
		file.Close()
		return Result{}, err
	}
	if _, err := file.Seek(0, io.SeekStart); err != nil {
		file.Close()
		return Result{}, fmt.Errorf("rewind wav: %w", err)
	}
	body, err := io.ReadAll(file)
	file.Close()
	if err != nil {
		return Result{}, fmt.Errorf("read wav: %w", err)
	}

	url := p.cfg.Endpoint + "/v1/transcribe"
	if p.cfg.Language != "" {
		url += "?language=" + p.cfg.Language
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return Result{}, fmt.Errorf("build transcribe request: %w", err)
	}
	req.Header.Set("Content-Type", "audio/wav")

	resp, err := p.client.Do(req)
	if err != nil {
		return Result{}, fmt.Errorf("remote transcription: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 400 {
		payload, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return Result{}, fmt.Errorf("remote transcription failed: status %d: %s", resp.StatusCode, payload)
	}

	var decoded remoteResponse
	if err := json.NewDecoder(resp.Body).Decode(&decoded); err != nil {
		return Result{}, fmt.Errorf("decode remote response: %w", err)
	}
	return Result{
		Text:       strings.ToLower(strings.TrimSpace(decoded.Text)),
		Confidence: decoded.Confidence,
		Final:      true,
	}, nil
}

func (s *remoteSession) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	s.buf = nil
}

func (s *remoteSession) Abort() { s.Stop() }
