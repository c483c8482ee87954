package devices

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strconv"
	"sync"
	"time"

	"github.com/fitpulse/fitvoice/internal/bus"
	"github.com/fitpulse/fitvoice/internal/config"
	"github.com/nats-io/nats.go"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/metric"
)

// Capability names the pipeline cares about. Capture clients advertise
// mic.stream, playback targets audio.playback, the daemon voice.dispatch.
const (
	CapabilityMicStream = "mic.stream"
	CapabilityPlayback  = "audio.playback"
	CapabilityDispatch  = "voice.dispatch"
)

// Capability is one ability a device advertises, such as mic.stream or
// audio.playback.
type Capability struct {
	Name       string            `json:"name"`
	Attributes map[string]string `json:"attributes,omitempty"`
}

// SampleRate reads the advertised sample_rate attribute of a mic or playback
// capability.
func (c Capability) SampleRate() (int, bool) {
	raw, ok := c.Attributes["sample_rate"]
	if !ok {
		return 0, false
	}
	rate, err := strconv.Atoi(raw)
	if err != nil || rate <= 0 {
		return 0, false
	}
	return rate, true
}

// DeviceInfo is the registry's view of one device on the bus.
type DeviceInfo struct {
	ID           string       `json:"id"`
	Role         string       `json:"role"`
	Capabilities []Capability `json:"capabilities"`
	LastSeen     time.Time    `json:"last_seen"`
	Healthy      bool         `json:"healthy"`
}

type announceMessage struct {
	DeviceID     string       `json:"device_id"`
	Role         string       `json:"role"`
	Capabilities []Capability `json:"capabilities"`
	Timestamp    time.Time    `json:"timestamp"`
}

type heartbeatMessage struct {
	DeviceID  string    `json:"device_id"`
	Timestamp time.Time `json:"timestamp"`
}

// Registry tracks devices participating in the voice pipeline. Each device
// announces itself and heartbeats; devices that miss the heartbeat timeout
// are marked unhealthy.
type Registry struct {
	cfg         config.DeviceConfig
	log         *slog.Logger
	bus         *bus.Client
	mu          sync.RWMutex
	devices     map[string]*DeviceInfo
	heartbeat   *time.Ticker
	cancel      context.CancelFunc
	subs        []*nats.Subscription
	meter       metric.Meter
	deviceGauge metric.Int64ObservableGauge
	capGauge    metric.Int64ObservableGauge
}

func NewRegistry(ctx context.Context, cfg config.DeviceConfig, busClient *bus.Client, log *slog.Logger) (*Registry, error) {
	ctx, cancel := context.WithCancel(ctx)
	r := &Registry{
		cfg:     cfg,
		log:     log.With(slog.String("component", "device-registry")),
		bus:     busClient,
		devices: make(map[string]*DeviceInfo),
		meter:   otel.Meter("github.com/fitpulse/fitvoice/runtime"),
		cancel:  cancel,
	}

	if err := r.initMetrics(ctx); err != nil {
		r.log.Warn("failed to initialize metrics", slog.String("error", err.Error()))
	}

	if err := r.subscribe(ctx); err != nil {
		r.cancel()
		return nil, err
	}

	r.heartbeat = time.NewTicker(time.Duration(cfg.HeartbeatInterval) * time.Millisecond)
	go r.runHeartbeat(ctx)
	go r.monitorHealth(ctx)

	if err := r.announce(); err != nil {
		r.log.Warn("failed to announce device", slog.String("error", err.Error()))
	}

	return r, nil
}

func (r *Registry) Close() {
	if r.cancel != nil {
		r.cancel()
	}
	if r.heartbeat != nil {
		r.heartbeat.Stop()
	}
	for _, sub := range r.subs {
		_ = sub.Drain()
	}
}

func (r *Registry) subscribe(ctx context.Context) error {
	conn := r.bus.Conn()
	announceSub, err := conn.Subscribe("ctrl.device.announce", r.handleAnnounce)
	if err != nil {
		return fmt.Errorf("subscribe announce: %w", err)
	}
	r.subs = append(r.subs, announceSub)

	heartbeatSub, err := conn.Subscribe("ctrl.device.heartbeat.*", r.handleHeartbeat)
	if err != nil {
		return fmt.Errorf("subscribe heartbeat: %w", err)
	}
	r.subs = append(r.subs, heartbeatSub)

	return nil
}

func (r *Registry) runHeartbeat(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case <-r.heartbeat.C:
			if err := r.publishHeartbeat(); err != nil {
				r.log.Warn("failed to publish heartbeat", slog.String("error", err.Error()))
			}
		}
	}
}

func (r *Registry) monitorHealth(ctx context.Context) {
	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			r.evaluateHealth()
		}
	}
}

func (r *Registry) announce() error {
	msg := announceMessage{
		DeviceID:     r.cfg.ID,
		Role:         r.cfg.Role,
		Capabilities: convertCapabilities(r.cfg.Capabilities),
		Timestamp:    time.Now().UTC(),
	}
	payload, err := json.Marshal(msg)
	if err != nil {
		return err
	}
	if err := r.bus.Conn().Publish("ctrl.device.announce", payload); err != nil {
		return err
	}
	r.updateDevice(msg.DeviceID, msg.Role, msg.Capabilities, msg.Timestamp, true)
	return nil
}

func (r *Registry) publishHeartbeat() error {
	msg := heartbeatMessage{
		DeviceID:  r.cfg.ID,
		Timestamp: time.Now().UTC(),
	}
	payload, err := json.Marshal(msg)
	if err != nil {
		return err
	}
	subject := fmt.Sprintf("ctrl.device.heartbeat.%s", r.cfg.ID)
	return r.bus.Conn().Publish(subject, payload)
}

func (r *Registry) handleAnnounce(msg *nats.Msg) {
	var announcement announceMessage
	if err := json.Unmarshal(msg.Data, &announcement); err != nil {
		r.log.Warn("invalid announce message", slog.String("error", err.Error()))
		return
	}
	if announcement.Timestamp.IsZero() {
		announcement.Timestamp = time.Now().UTC()
	}
	r.updateDevice(announcement.DeviceID, announcement.Role, announcement.Capabilities, announcement.Timestamp, true)
}

func (r *Registry) handleHeartbeat(msg *nats.Msg) {
	var hb heartbeatMessage
	if err := json.Unmarshal(msg.Data, &hb); err != nil {
		r.log.Warn("invalid heartbeat message", slog.String("error", err.Error()))
		return
	}
	if hb.Timestamp.IsZero() {
		hb.Timestamp = time.Now().UTC()
	}
	r.updateDevice(hb.DeviceID, "", nil, hb.Timestamp, true)
}

func (r *Registry) updateDevice(deviceID, role string, capabilities []Capability, timestamp time.Time, healthy bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	device, ok := r.devices[deviceID]
	if !ok {
		device = &DeviceInfo{ID: deviceID}
		r.devices[deviceID] = device
	}
	if role != "" {
		device.Role = role
	}
	if len(capabilities) > 0 {
		device.Capabilities = capabilities
	}
	if healthy && ok && !device.Healthy {
		r.log.Info("device recovered",
			slog.String("device_id", deviceID),
			slog.Duration("silent_for", timestamp.Sub(device.LastSeen)))
	}
	device.LastSeen = timestamp
	device.Healthy = healthy
}

func (r *Registry) evaluateHealth() {
	r.mu.Lock()
	defer r.mu.Unlock()

	timeout := time.Duration(r.cfg.HeartbeatTimeout) * time.Millisecond
	now := time.Now()
	for _, device := range r.devices {
		if device.Healthy && now.Sub(device.LastSeen) > timeout {
			device.Healthy = false
			r.log.Warn("device went silent",
				slog.String("device_id", device.ID),
				slog.String("role", device.Role),
				slog.Time("last_seen", device.LastSeen))
		}
	}
}

func (r *Registry) Healthy() bool {
	r.mu.RLock()
	defer r.mu.RUnlock()

	device, ok := r.devices[r.cfg.ID]
	if !ok {
		return false
	}
	return device.Healthy
}

// Microphones lists the healthy devices currently able to stream mic audio.
// The speech pipeline has no input when this is empty.
func (r *Registry) Microphones() []DeviceInfo {
	return r.Query(func(d DeviceInfo) bool {
		return d.Healthy && hasCapability(d, CapabilityMicStream)
	})
}

// PlaybackTargets lists the healthy devices that can play synthesized
// feedback.
func (r *Registry) PlaybackTargets() []DeviceInfo {
	return r.Query(func(d DeviceInfo) bool {
		return d.Healthy && hasCapability(d, CapabilityPlayback)
	})
}

// Query returns devices matching the filter; a nil filter returns all.
func (r *Registry) Query(filter func(DeviceInfo) bool) []DeviceInfo {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var results []DeviceInfo
	for _, device := range r.devices {
		copy := *device
		if filter == nil || filter(copy) {
			results = append(results, copy)
		}
	}
	return results
}

func (r *Registry) initMetrics(ctx context.Context) error {
	if r.meter == nil {
		return nil
	}
	deviceGauge, err := r.meter.Int64ObservableGauge("fitvoice.devices.known", metric.WithDescription("Number of known devices"))
	if err != nil {
		return err
	}
	capGauge, err := r.meter.Int64ObservableGauge("fitvoice.devices.capabilities", metric.WithDescription("Total advertised capabilities"))
	if err != nil {
		return err
	}
	r.deviceGauge = deviceGauge
	r.capGauge = capGauge
	_, err = r.meter.RegisterCallback(func(ctx context.Context, obs metric.Observer) error {
		devices, caps := r.snapshotCounts()
		obs.ObserveInt64(deviceGauge, devices)
		obs.ObserveInt64(capGauge, caps)
		return nil
	}, deviceGauge, capGauge)
	return err
}

func (r *Registry) snapshotCounts() (int64, int64) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var devices int64
	var caps int64
	for _, device := range r.devices {
		devices++
		caps += int64(len(device.Capabilities))
	}
	return devices, caps
}

func (r *Registry) LocalCapabilities() []Capability {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if device, ok := r.devices[r.cfg.ID]; ok {
		return append([]Capability(nil), device.Capabilities...)
	}
	return nil
}

func convertCapabilities(source []config.DeviceCapability) []Capability {
	if len(source) == 0 {
		return nil
	}
	result := make([]Capability, 0, len(source))
	for _, cap := range source {
		result = append(result, Capability{
			Name:       cap.Name,
			Attributes: cap.Attributes,
		})
	}
	return result
}

func hasCapability(device DeviceInfo, name string) bool {
	for _, cap := range device.Capabilities {
		if cap.Name == name {
			return true
		}
	}
	return false
}

func WithCapabilityFilter(name string) func(DeviceInfo) bool {
	return func(device DeviceInfo) bool {
		return hasCapability(device, name)
	}
}

func WithRoleFilter(role string) func(DeviceInfo) bool {
	return func(device DeviceInfo) bool {
		return device.Role == role
	}
}
