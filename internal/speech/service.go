package speech

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/fitpulse/fitvoice/internal/bus"
	"github.com/fitpulse/fitvoice/internal/config"
	"github.com/fitpulse/fitvoice/internal/protocol"
	"github.com/nats-io/nats.go"
)

// ChainFromConfig builds the fallback chain in configured order. An empty
// providers list yields the default order: engine, remote, sim.
func ChainFromConfig(cfg config.SpeechConfig, log *slog.Logger) []Provider {
	order := cfg.Providers
	if len(order) == 0 {
		order = []string{"engine", "remote", "sim"}
	}
	var chain []Provider
	for _, name := range order {
		switch name {
		case "engine":
			chain = append(chain, NewEngineProvider(cfg, log))
		case "remote":
			chain = append(chain, NewRemoteProvider(cfg, log))
		case "sim":
			chain = append(chain, NewSimProvider(cfg, log))
		}
	}
	return chain
}

// Service bridges bus audio frames to the adapter and publishes transcripts.
// Only one recognition session is live at a time; frames for other sessions
// are dropped while listening.
type Service struct {
	cfg     config.SpeechConfig
	bus     *bus.Client
	adapter *Adapter
	logger  *slog.Logger
	ctx     context.Context
	cancel  context.CancelFunc
	sub     *nats.Subscription
	wg      sync.WaitGroup
	ready   bool

	mu      sync.Mutex
	current string
}

func NewService(parent context.Context, cfg config.SpeechConfig, busClient *bus.Client, adapter *Adapter, logger *slog.Logger) *Service {
	ctx, cancel := context.WithCancel(parent)
	return &Service{
		cfg:     cfg,
		bus:     busClient,
		adapter: adapter,
		logger:  logger.With(slog.String("component", "speech-service")),
		ctx:     ctx,
		cancel:  cancel,
	}
}

func (s *Service) Start() error {
	if !s.cfg.Enabled {
		return nil
	}

	s.adapter.OnResult = s.handleResult
	s.adapter.OnError = func(err error) {
		s.logger.Warn("recognition error", slogError(err))
	}
	s.adapter.OnEnd = func() {
		s.mu.Lock()
		s.current = ""
		s.mu.Unlock()
	}

	subject := protocol.SubjectAudioFramePrefix + ".>"
	sub, err := s.bus.Conn().Subscribe(subject, s.handleFrame)
	if err != nil {
		return fmt.Errorf("subscribe audio frames: %w", err)
	}
	s.sub = sub
	s.ready = true
	return nil
}

func (s *Service) Close() {
	s.cancel()
	if s.sub != nil {
		_ = s.sub.Drain()
	}
	s.adapter.Stop()
	s.wg.Wait()
}

func (s *Service) Healthy() bool {
	return !s.cfg.Enabled || s.ready
}

func (s *Service) handleFrame(msg *nats.Msg) {
	var frame protocol.AudioFrame
	if err := json.Unmarshal(msg.Data, &frame); err != nil {
		s.logger.Warn("failed to decode audio frame", slogError(err))
		return
	}
	if frame.SessionID == "" {
		return
	}

	s.mu.Lock()
	switch s.current {
	case "":
		s.current = frame.SessionID
		s.mu.Unlock()
		if err := s.adapter.Start(s.ctx); err != nil {
			s.logger.Error("no recognition strategy available", slogError(err))
			s.mu.Lock()
			s.current = ""
			s.mu.Unlock()
			return
		}
	case frame.SessionID:
		s.mu.Unlock()
	default:
		s.mu.Unlock()
		s.logger.Debug("dropping frame for concurrent session",
			slog.String("session_id", frame.SessionID))
		return
	}

	if !frame.Final {
		if err := s.adapter.Feed(s.ctx, frame.PCM, false); err != nil && err != ErrNotListening {
			s.logger.Warn("audio feed failed", slogError(err))
		}
		return
	}

	// The final frame can trigger a full transcription pass, so it runs off
	// the delivery goroutine. The session is torn down once it completes.
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		ctx, cancel := context.WithTimeout(s.ctx, 45*time.Second)
		defer cancel()
		if err := s.adapter.Feed(ctx, frame.PCM, true); err != nil && err != ErrNotListening {
			s.logger.Warn("transcription failed", slogError(err))
		}
		s.adapter.Stop()
	}()
}

func (s *Service) handleResult(r Result) {
	s.mu.Lock()
	sessionID := s.current
	s.mu.Unlock()
	if sessionID == "" {
		return
	}
	s.publishTranscript(sessionID, r)
}

func (s *Service) publishTranscript(sessionID string, r Result) {
	text := strings.ToLower(strings.TrimSpace(r.Text))
	if text == "" {
		return
	}
	subject := protocol.SubjectTranscriptPartial
	if r.Final {
		subject = protocol.SubjectTranscriptFinal
	}
	msg := protocol.Transcript{
		SessionID:  sessionID,
		Text:       text,
		Provider:   s.adapter.ActiveProvider(),
		Partial:    !r.Final,
		Timestamp:  time.Now().UTC(),
		Confidence: r.Confidence,
	}
	data, err := json.Marshal(msg)
	if err != nil {
		s.logger.Warn("failed to marshal transcript", slogError(err))
		return
	}
	if err := s.bus.Conn().Publish(subject, data); err != nil {
		s.logger.Warn("failed to publish transcript", slogError(err))
	}
}

func slogError(err error) slog.Attr {
	return slog.String("error", err.Error())
}
