package feedback

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/fitpulse/fitvoice/internal/bus"
	"github.com/fitpulse/fitvoice/internal/config"
	"github.com/fitpulse/fitvoice/internal/protocol"
	"github.com/nats-io/nats.go"
)

// Service voices feedback lines: it listens for speak requests, streams
// synthesized audio chunks back onto the bus and signals completion.
type Service struct {
	cfg    config.FeedbackConfig
	bus    *bus.Client
	synth  Synthesizer
	logger *slog.Logger
	ctx    context.Context
	cancel context.CancelFunc
	sub    *nats.Subscription
	wg     sync.WaitGroup
	ready  bool
}

func NewService(parent context.Context, cfg config.FeedbackConfig, busClient *bus.Client, logger *slog.Logger) (*Service, error) {
	synth, err := NewSynthesizer(cfg, logger)
	if err != nil {
		return nil, err
	}
	ctx, cancel := context.WithCancel(parent)
	return &Service{
		cfg:    cfg,
		bus:    busClient,
		synth:  synth,
		logger: logger.With(slog.String("component", "feedback-service")),
		ctx:    ctx,
		cancel: cancel,
	}, nil
}

func (s *Service) Start() error {
	if !s.cfg.Enabled {
		return nil
	}
	sub, err := s.bus.Conn().Subscribe(protocol.SubjectFeedbackSay, s.handleSpeak)
	if err != nil {
		return fmt.Errorf("subscribe speak requests: %w", err)
	}
	s.sub = sub
	s.ready = true
	s.logger.Info("feedback service started", slog.String("synthesizer", s.synth.Name()))
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

func (s *Service) handleSpeak(msg *nats.Msg) {
	var req protocol.SpeakRequest
	if err := json.Unmarshal(msg.Data, &req); err != nil {
		s.logger.Warn("failed to decode speak request", slog.String("error", err.Error()))
		return
	}
	if req.Text == "" {
		return
	}

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.speak(req)
	}()
}

func (s *Service) speak(req protocol.SpeakRequest) {
	ctx, cancel := context.WithTimeout(s.ctx, 60*time.Second)
	defer cancel()

	chunks, err := s.synth.Synthesize(ctx, req.Text)
	if err != nil {
		s.logger.Error("synthesis failed",
			slog.String("session_id", req.SessionID),
			slog.String("error", err.Error()))
		s.publishDone(req, false)
		return
	}

	sequence := 0
	completed := true
	forEachChunk(chunks, func(pcm []byte, final bool) bool {
		chunk := protocol.AudioChunk{
			SessionID:  req.SessionID,
			Target:     req.Target,
			SampleRate: s.cfg.SampleRate,
			Channels:   s.cfg.Channels,
			Sequence:   sequence,
			PCM:        pcm,
			Final:      final,
		}
		sequence++
		data, err := json.Marshal(chunk)
		if err != nil {
			return true
		}
		if err := s.bus.Conn().Publish(protocol.SubjectFeedbackAudio, data); err != nil {
			s.logger.Warn("failed to publish audio chunk", slog.String("error", err.Error()))
			completed = false
			return false
		}
		return true
	})
	s.publishDone(req, completed)
}

// forEachChunk feeds fn every chunk of a stream, marking the last one final.
// fn returns false to stop consuming; the producer unblocks when the speak
// context is cancelled.
func forEachChunk(chunks <-chan []byte, fn func(pcm []byte, final bool) bool) {
	pending, ok := <-chunks
	if !ok {
		return
	}
	for next := range chunks {
		if !fn(pending, false) {
			return
		}
		pending = next
	}
	fn(pending, true)
}

func (s *Service) publishDone(req protocol.SpeakRequest, completed bool) {
	status := protocol.SpeakStatus{
		SessionID: req.SessionID,
		Target:    req.Target,
		Completed: completed,
		Timestamp: time.Now().UTC(),
	}
	if data, err := json.Marshal(status); err == nil {
		if err := s.bus.Conn().Publish(protocol.SubjectFeedbackDone, data); err != nil {
			s.logger.Warn("failed to publish speak status", slog.String("error", err.Error()))
		}
	}
}
