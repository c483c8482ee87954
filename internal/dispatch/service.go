package dispatch

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/fitpulse/fitvoice/internal/bus"
	"github.com/fitpulse/fitvoice/internal/config"
	"github.com/fitpulse/fitvoice/internal/history"
	"github.com/fitpulse/fitvoice/internal/protocol"
	"github.com/hashicorp/golang-lru/v2/expirable"
	"github.com/nats-io/nats.go"
)

// Service subscribes to final transcripts, dispatches each one exactly once
// and publishes the outcome: a command event plus spoken feedback, or an
// unrecognized event plus the not-recognized feedback. Nothing is silently
// dropped.
type Service struct {
	cfg        config.DispatchConfig
	packsCfg   config.PacksConfig
	bus        *bus.Client
	store      *history.Store
	dispatcher *Dispatcher
	logger     *slog.Logger
	ctx        context.Context
	cancel     context.CancelFunc
	sub        *nats.Subscription
	wg         sync.WaitGroup
	recent     *expirable.LRU[string, struct{}]
	ready      bool
}

func NewService(parent context.Context, cfg config.DispatchConfig, packsCfg config.PacksConfig, busClient *bus.Client, store *history.Store, logger *slog.Logger) *Service {
	ctx, cancel := context.WithCancel(parent)
	s := &Service{
		cfg:        cfg,
		packsCfg:   packsCfg,
		bus:        busClient,
		store:      store,
		dispatcher: New(cfg.NotRecognizedFeedback),
		logger:     logger.With(slog.String("component", "dispatch-service")),
		ctx:        ctx,
		cancel:     cancel,
	}
	if cfg.DedupeSize > 0 {
		window := time.Duration(cfg.DedupeWindowMS) * time.Millisecond
		s.recent = expirable.NewLRU[string, struct{}](cfg.DedupeSize, nil, window)
	}
	return s
}

// Dispatcher exposes the underlying rule engine, mainly for tests and the
// pack CLI.
func (s *Service) Dispatcher() *Dispatcher {
	return s.dispatcher
}

func (s *Service) Start() error {
	if !s.cfg.Enabled {
		return nil
	}

	if s.packsCfg.Enabled {
		packs, err := DiscoverPacks(s.packsCfg.Directory, func(path string, err error) {
			s.logger.Error("failed to load command pack",
				slog.String("path", path), slogError(err))
		})
		if err != nil {
			return fmt.Errorf("discover command packs: %w", err)
		}
		s.dispatcher.SetEntries(TaskEntries(packs), SequenceEntries(packs))
		s.logger.Info("command packs loaded", slog.Int("count", len(packs)))
	}

	sub, err := s.bus.Conn().Subscribe(protocol.SubjectTranscriptFinal, s.handleTranscript)
	if err != nil {
		return fmt.Errorf("subscribe transcripts: %w", err)
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
	s.wg.Wait()
}

func (s *Service) Healthy() bool {
	return !s.cfg.Enabled || s.ready
}

func (s *Service) handleTranscript(msg *nats.Msg) {
	var transcript protocol.Transcript
	if err := json.Unmarshal(msg.Data, &transcript); err != nil {
		s.logger.Warn("failed to decode transcript", slogError(err))
		return
	}
	if transcript.Text == "" {
		return
	}

	if s.recent != nil {
		key := transcript.SessionID + "|" + transcript.Text
		if _, seen := s.recent.Get(key); seen {
			s.logger.Debug("suppressing repeated transcript",
				slog.String("session_id", transcript.SessionID))
			return
		}
		s.recent.Add(key, struct{}{})
	}

	result := s.dispatcher.Dispatch(transcript.Text)

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.publishOutcome(transcript, result)
		s.record(transcript, result)
	}()
}

func (s *Service) publishOutcome(transcript protocol.Transcript, result Result) {
	event := protocol.CommandEvent{
		SessionID:  transcript.SessionID,
		Transcript: transcript.Text,
		Source:     result.Source,
		Command:    result.Command,
		Action:     result.Action,
		Argument:   result.Argument,
		Feedback:   result.Feedback,
		Timestamp:  time.Now().UTC(),
	}
	subject := protocol.SubjectCommandDispatched
	if !result.Matched {
		subject = protocol.SubjectCommandUnrecognized
	}
	if data, err := json.Marshal(event); err == nil {
		if err := s.bus.Conn().Publish(subject, data); err != nil {
			s.logger.Warn("failed to publish command event", slogError(err))
		}
	}

	if result.Feedback == "" {
		return
	}
	say := protocol.SpeakRequest{
		SessionID: transcript.SessionID,
		Text:      result.Feedback,
	}
	if data, err := json.Marshal(say); err == nil {
		if err := s.bus.Conn().Publish(protocol.SubjectFeedbackSay, data); err != nil {
			s.logger.Warn("failed to publish feedback request", slogError(err))
		}
	}

	if result.Matched {
		s.logger.Info("command dispatched",
			slog.String("session_id", transcript.SessionID),
			slog.String("source", result.Source),
			slog.String("action", result.Action))
	} else {
		s.logger.Info("command not recognized",
			slog.String("session_id", transcript.SessionID),
			slog.String("transcript", transcript.Text))
	}
}

func (s *Service) record(transcript protocol.Transcript, result Result) {
	if s.store == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	privacy := s.packsCfg.AuditPrivacy
	if err := s.store.AppendSession(ctx, transcript.SessionID, "", privacy); err != nil {
		s.logger.Warn("failed to record session", slogError(err))
		return
	}
	if err := s.store.AppendEvent(ctx, history.Event{
		SessionID: transcript.SessionID,
		Type:      history.EventTranscript,
		Payload:   []byte(transcript.Text),
		Privacy:   privacy,
	}); err != nil {
		s.logger.Warn("failed to record transcript", slogError(err))
	}
	payload := map[string]any{
		"transcript": transcript.Text,
		"source":     result.Source,
		"command":    result.Command,
		"action":     result.Action,
		"argument":   result.Argument,
	}
	if err := s.store.RecordCommand(ctx, transcript.SessionID, result.Matched, payload, privacy); err != nil {
		s.logger.Warn("failed to record command", slogError(err))
	}
}

func slogError(err error) slog.Attr {
	return slog.String("error", err.Error())
}
