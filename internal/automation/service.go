package automation

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fitpulse/fitvoice/internal/bus"
	"github.com/fitpulse/fitvoice/internal/config"
	"github.com/fitpulse/fitvoice/internal/dispatch"
	"github.com/fitpulse/fitvoice/internal/history"
	"github.com/fitpulse/fitvoice/internal/protocol"
	"github.com/google/uuid"
	"github.com/nats-io/nats.go"
)

// EventAutomation is the history event type for sequence audit records.
const EventAutomation = "automation.audit"

// binding is one runnable sequence resolved from its pack.
type binding struct {
	seq  dispatch.SequenceDef
	pack string
	dir  string
}

// Service executes automation sequences when the dispatcher routes a command
// to one: ordered bus-publish steps first, then the optional WASM hook.
type Service struct {
	cfg       config.PacksConfig
	bus       *bus.Client
	store     *history.Store
	logger    *slog.Logger
	ctx       context.Context
	cancel    context.CancelFunc
	sub       *nats.Subscription
	wg        sync.WaitGroup
	sema      chan struct{}
	ready     bool
	mu        sync.RWMutex
	sequences map[string]binding
}

func NewService(parent context.Context, cfg config.PacksConfig, busClient *bus.Client, store *history.Store, logger *slog.Logger) *Service {
	ctx, cancel := context.WithCancel(parent)
	concurrency := cfg.Concurrency
	if concurrency <= 0 {
		concurrency = 1
	}
	return &Service{
		cfg:       cfg,
		bus:       busClient,
		store:     store,
		logger:    logger.With(slog.String("component", "automation-service")),
		ctx:       ctx,
		cancel:    cancel,
		sema:      make(chan struct{}, concurrency),
		sequences: make(map[string]binding),
	}
}

// SetPacks registers the sequences the service can execute, keyed by the
// action the dispatcher emits for them.
func (s *Service) SetPacks(packs []dispatch.Pack) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sequences = make(map[string]binding)
	for _, p := range packs {
		for _, seq := range p.Sequences {
			s.sequences["automation."+seq.Name] = binding{seq: seq, pack: p.Name, dir: p.Dir}
		}
	}
}

func (s *Service) Start() error {
	if !s.cfg.Enabled {
		return nil
	}
	sub, err := s.bus.Conn().Subscribe(protocol.SubjectCommandDispatched, s.handleCommand)
	if err != nil {
		return fmt.Errorf("subscribe dispatched commands: %w", err)
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

func (s *Service) handleCommand(msg *nats.Msg) {
	var event protocol.CommandEvent
	if err := json.Unmarshal(msg.Data, &event); err != nil {
		s.logger.Warn("failed to decode command event", slog.String("error", err.Error()))
		return
	}
	if event.Source != dispatch.SourceAutomation {
		return
	}

	s.mu.RLock()
	b, ok := s.sequences[event.Action]
	s.mu.RUnlock()
	if !ok {
		s.logger.Warn("no sequence registered for action", slog.String("action", event.Action))
		return
	}

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		select {
		case s.sema <- struct{}{}:
			defer func() { <-s.sema }()
		case <-s.ctx.Done():
			return
		}
		s.run(event, b)
	}()
}

func (s *Service) run(event protocol.CommandEvent, b binding) {
	invocationID := uuid.NewString()
	logger := s.logger.With(
		slog.String("sequence", b.seq.Name),
		slog.String("invocation_id", invocationID))
	logger.Info("running automation sequence", slog.String("session_id", event.SessionID))

	ctx, cancel := context.WithTimeout(s.ctx, 30*time.Second)
	defer cancel()

	s.audit(ctx, event.SessionID, map[string]any{
		"sequence":      b.seq.Name,
		"invocation_id": invocationID,
		"phase":         "start",
	})

	for i, step := range b.seq.Steps {
		if err := s.bus.Conn().Publish(step.Subject, []byte(step.Payload)); err != nil {
			logger.Error("sequence step failed",
				slog.Int("step", i), slog.String("subject", step.Subject),
				slog.String("error", err.Error()))
			s.audit(ctx, event.SessionID, map[string]any{
				"sequence":      b.seq.Name,
				"invocation_id": invocationID,
				"phase":         "error",
				"step":          i,
				"error":         err.Error(),
			})
			return
		}
	}

	if b.seq.Hook != nil {
		if err := s.runHook(ctx, event, b, invocationID, logger); err != nil {
			logger.Error("sequence hook failed", slog.String("error", err.Error()))
			s.audit(ctx, event.SessionID, map[string]any{
				"sequence":      b.seq.Name,
				"invocation_id": invocationID,
				"phase":         "error",
				"error":         err.Error(),
			})
			return
		}
	}

	s.audit(ctx, event.SessionID, map[string]any{
		"sequence":      b.seq.Name,
		"invocation_id": invocationID,
		"phase":         "complete",
	})
	logger.Info("automation sequence completed")
}

func (s *Service) runHook(ctx context.Context, event protocol.CommandEvent, b binding, invocationID string, logger *slog.Logger) error {
	hook := b.seq.Hook

	allowed := make(map[string]struct{}, len(hook.Publish))
	for _, subject := range hook.Publish {
		allowed[subject] = struct{}{}
	}
	canPublish := false
	for _, perm := range hook.Permissions {
		if perm == "bus:publish" {
			canPublish = true
		}
	}

	host := HostBindings{
		Logger: logger,
		AllowPublish: func(subject string) error {
			if !canPublish {
				return fmt.Errorf("hook lacks bus:publish permission")
			}
			if _, ok := allowed[subject]; !ok {
				return fmt.Errorf("subject %q not in hook publish list", subject)
			}
			return nil
		},
		Publish: func(subject string, payload []byte) error {
			return s.bus.Conn().Publish(subject, payload)
		},
		RecordAudit: func(evt AuditEvent) {
			data := map[string]any{
				"sequence":      b.seq.Name,
				"invocation_id": invocationID,
				"phase":         evt.Type,
			}
			for k, v := range evt.Data {
				data[k] = v
			}
			s.audit(ctx, event.SessionID, data)
		},
	}

	rt, err := New(ctx, host)
	if err != nil {
		return fmt.Errorf("hook runtime: %w", err)
	}
	defer rt.Close(ctx)

	modulePath := hook.Module
	if !filepath.IsAbs(modulePath) {
		modulePath = filepath.Join(b.dir, modulePath)
	}
	env := map[string]string{
		"FITVOICE_SESSION_ID":    event.SessionID,
		"FITVOICE_TRANSCRIPT":    event.Transcript,
		"FITVOICE_ARGUMENT":      event.Argument,
		"FITVOICE_SEQUENCE":      b.seq.Name,
		"FITVOICE_INVOCATION_ID": invocationID,
	}
	module, err := rt.Load(ctx, *hook, modulePath, env)
	if err != nil {
		return fmt.Errorf("load hook module: %w", err)
	}
	defer module.Close(ctx)

	return module.Invoke(ctx)
}

func (s *Service) audit(ctx context.Context, sessionID string, data map[string]any) {
	if s.store == nil {
		return
	}
	payload, err := json.Marshal(data)
	if err != nil {
		return
	}
	if err := s.store.AppendSession(ctx, sessionID, "", s.cfg.AuditPrivacy); err != nil {
		s.logger.Warn("failed to record automation session", slog.String("error", err.Error()))
		return
	}
	evt := history.Event{
		SessionID: sessionID,
		Type:      EventAutomation,
		Payload:   payload,
		Privacy:   s.cfg.AuditPrivacy,
	}
	if err := s.store.AppendEvent(ctx, evt); err != nil {
		s.logger.Warn("failed to record automation audit", slog.String("error", err.Error()))
	}
}

// SequenceNames lists the registered sequences, mainly for diagnostics.
func (s *Service) SequenceNames() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	names := make([]string, 0, len(s.sequences))
	for action := range s.sequences {
		names = append(names, strings.TrimPrefix(action, "automation."))
	}
	return names
}
