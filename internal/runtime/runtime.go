package runtime

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/fitpulse/fitvoice/internal/automation"
	"github.com/fitpulse/fitvoice/internal/bus"
	"github.com/fitpulse/fitvoice/internal/config"
	"github.com/fitpulse/fitvoice/internal/devices"
	"github.com/fitpulse/fitvoice/internal/dispatch"
	"github.com/fitpulse/fitvoice/internal/feedback"
	"github.com/fitpulse/fitvoice/internal/history"
	"github.com/fitpulse/fitvoice/internal/natsserver"
	"github.com/fitpulse/fitvoice/internal/speech"
)

// Runtime wires the whole pipeline into one process: embedded broker, bus
// client, history store, device registry, speech recognition, command
// dispatch, automation and spoken feedback, fronted by an HTTP surface for
// health, metrics and session history.
type Runtime struct {
	cfg         config.Config
	logger      *slog.Logger
	httpServer  *http.Server
	tracerClose func(context.Context) error
	ready       atomic.Bool
	wg          sync.WaitGroup

	store      *history.Store
	registry   *devices.Registry
	speechSvc  *speech.Service
	dispatchSv *dispatch.Service
	autoSvc    *automation.Service
	feedbackSv *feedback.Service
	busClient  *bus.Client
}

func New(cfg config.Config, logger *slog.Logger) *Runtime {
	return &Runtime{
		cfg:    cfg,
		logger: logger,
	}
}

func (r *Runtime) Start(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	shutdownTelemetry, metricHandler, err := setupTelemetry(r.cfg, r.logger)
	if err != nil {
		return fmt.Errorf("failed to setup telemetry: %w", err)
	}
	r.tracerClose = shutdownTelemetry

	embedded, err := natsserver.Start(r.cfg.Bus, r.logger)
	if err != nil {
		return fmt.Errorf("failed to start embedded bus: %w", err)
	}
	defer embedded.Shutdown()

	busCfg := r.cfg.Bus
	if embedded != nil {
		busCfg.Servers = []string{fmt.Sprintf("nats://127.0.0.1:%d", busCfg.Port)}
	}
	busClient, err := bus.Connect(busCfg, r.logger)
	if err != nil {
		return fmt.Errorf("failed to connect to bus: %w", err)
	}
	r.busClient = busClient
	defer busClient.Close()

	store, err := history.Open(ctx, r.cfg.History, r.logger)
	if err != nil {
		return fmt.Errorf("failed to open history store: %w", err)
	}
	r.store = store
	defer store.Close()

	registry, err := devices.NewRegistry(ctx, r.cfg.Device, busClient, r.logger)
	if err != nil {
		return fmt.Errorf("failed to start device registry: %w", err)
	}
	r.registry = registry
	defer registry.Close()

	adapter := speech.NewAdapter(speech.ChainFromConfig(r.cfg.Speech, r.logger), r.logger)
	speechSvc := speech.NewService(ctx, r.cfg.Speech, busClient, adapter, r.logger)
	if err := speechSvc.Start(); err != nil {
		return fmt.Errorf("failed to start speech service: %w", err)
	}
	r.speechSvc = speechSvc
	defer speechSvc.Close()

	dispatchSvc := dispatch.NewService(ctx, r.cfg.Dispatch, r.cfg.Packs, busClient, store, r.logger)
	if err := dispatchSvc.Start(); err != nil {
		return fmt.Errorf("failed to start dispatch service: %w", err)
	}
	r.dispatchSv = dispatchSvc
	defer dispatchSvc.Close()

	autoSvc := automation.NewService(ctx, r.cfg.Packs, busClient, store, r.logger)
	if r.cfg.Packs.Enabled {
		packs, err := dispatch.DiscoverPacks(r.cfg.Packs.Directory, func(path string, err error) {
			r.logger.Warn("skipping command pack",
				slog.String("path", path), slog.String("error", err.Error()))
		})
		if err != nil {
			return fmt.Errorf("failed to discover command packs: %w", err)
		}
		autoSvc.SetPacks(packs)
	}
	if err := autoSvc.Start(); err != nil {
		return fmt.Errorf("failed to start automation service: %w", err)
	}
	r.autoSvc = autoSvc
	defer autoSvc.Close()

	feedbackSvc, err := feedback.NewService(ctx, r.cfg.Feedback, busClient, r.logger)
	if err != nil {
		return fmt.Errorf("failed to create feedback service: %w", err)
	}
	if err := feedbackSvc.Start(); err != nil {
		return fmt.Errorf("failed to start feedback service: %w", err)
	}
	r.feedbackSv = feedbackSvc
	defer feedbackSvc.Close()

	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", r.handleHealth)
	mux.HandleFunc("/readyz", r.handleReady)
	mux.HandleFunc("/v1/sessions/", r.handleSessionEvents)
	mux.HandleFunc("/v1/devices", r.handleDevices)
	if metricHandler != nil {
		mux.Handle("/metrics", metricHandler)
	}

	addr := fmt.Sprintf("%s:%d", r.cfg.HTTP.Bind, r.cfg.HTTP.Port)
	r.httpServer = &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		if err := r.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			r.logger.Error("http server failed", slog.String("error", err.Error()))
		}
	}()

	r.ready.Store(true)
	r.logger.Info("runtime started", slog.String("addr", addr))

	<-ctx.Done()
	r.logger.Info("runtime stopping")
	r.ready.Store(false)
	shutdownCtx, cancelShutdown := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancelShutdown()
	if err := r.httpServer.Shutdown(shutdownCtx); err != nil {
		r.logger.Error("http shutdown error", slog.String("error", err.Error()))
	}
	r.wg.Wait()

	if r.tracerClose != nil {
		if err := r.tracerClose(shutdownCtx); err != nil {
			r.logger.Error("telemetry shutdown error", slog.String("error", err.Error()))
		}
	}

	return nil
}

func (r *Runtime) healthy() bool {
	if !r.busClient.Healthy() {
		return false
	}
	for _, svc := range []interface{ Healthy() bool }{r.speechSvc, r.dispatchSv, r.autoSvc, r.feedbackSv} {
		if svc == nil || !svc.Healthy() {
			return false
		}
	}
	return true
}

func (r *Runtime) handleHealth(w http.ResponseWriter, _ *http.Request) {
	if r.healthy() {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
		return
	}
	w.WriteHeader(http.StatusServiceUnavailable)
	_, _ = w.Write([]byte("unhealthy"))
}

func (r *Runtime) handleReady(w http.ResponseWriter, _ *http.Request) {
	if r.ready.Load() {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ready"))
		return
	}
	w.WriteHeader(http.StatusServiceUnavailable)
	_, _ = w.Write([]byte("not ready"))
}

// handleSessionEvents serves GET /v1/sessions/{id}/events from the history
// store.
func (r *Runtime) handleSessionEvents(w http.ResponseWriter, req *http.Request) {
	if req.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	rest := strings.TrimPrefix(req.URL.Path, "/v1/sessions/")
	parts := strings.Split(rest, "/")
	if len(parts) != 2 || parts[0] == "" || parts[1] != "events" {
		http.NotFound(w, req)
		return
	}
	sessionID := parts[0]

	limit := 100
	if raw := req.URL.Query().Get("limit"); raw != "" {
		if parsed, err := strconv.Atoi(raw); err == nil && parsed > 0 {
			limit = parsed
		}
	}

	events, err := r.store.ListSessionEvents(req.Context(), sessionID, limit)
	if err != nil {
		http.Error(w, "failed to list events", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]any{
		"session_id": sessionID,
		"events":     events,
	})
}

func (r *Runtime) handleDevices(w http.ResponseWriter, req *http.Request) {
	if req.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	var filter func(devices.DeviceInfo) bool
	if capName := req.URL.Query().Get("capability"); capName != "" {
		filter = devices.WithCapabilityFilter(capName)
	}
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]any{
		"devices": r.registry.Query(filter),
	})
}
