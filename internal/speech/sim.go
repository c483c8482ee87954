package speech

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/fitpulse/fitvoice/internal/config"
)

// SimProvider replays scripted utterances on a timer, ignoring audio input.
// It is the last link of the fallback chain and keeps the rest of the
// pipeline exercisable without a microphone or a transcription engine.
type SimProvider struct {
	cfg config.SimSpeechConfig
	log *slog.Logger
}

func NewSimProvider(cfg config.SpeechConfig, log *slog.Logger) *SimProvider {
	return &SimProvider{
		cfg: cfg.Sim,
		log: log.With(slog.String("component", "speech-sim")),
	}
}

func (p *SimProvider) Name() string { return "sim" }

func (p *SimProvider) TryStart(_ context.Context, h Handlers) (Session, error) {
	if !p.cfg.Enabled {
		return nil, errors.New("sim provider disabled")
	}
	if len(p.cfg.Utterances) == 0 {
		return nil, errors.New("sim provider has no utterances configured")
	}
	interval := time.Duration(p.cfg.IntervalMS) * time.Millisecond
	if interval <= 0 {
		interval = 500 * time.Millisecond
	}
	s := &simSession{
		handlers: h,
		stop:     make(chan struct{}),
	}
	go s.run(p.cfg.Utterances, interval)
	return s, nil
}

type simSession struct {
	handlers Handlers
	stop     chan struct{}
	once     sync.Once
}

func (s *simSession) run(utterances []string, interval time.Duration) {
	for _, u := range utterances {
		select {
		case <-s.stop:
			return
		case <-time.After(interval):
		}
		if s.handlers.OnResult != nil {
			s.handlers.OnResult(Result{
				Text:       strings.ToLower(strings.TrimSpace(u)),
				Confidence: 1,
				Final:      true,
			})
		}
	}
}

func (s *simSession) Feed(_ context.Context, _ []byte, _ bool) error { return nil }

func (s *simSession) Stop() {
	s.once.Do(func() { close(s.stop) })
}

func (s *simSession) Abort() { s.Stop() }
