package devices

import (
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/fitpulse/fitvoice/internal/config"
)

func newTestRegistry() *Registry {
	return &Registry{
		cfg: config.DeviceConfig{
			ID:                "node-1",
			Role:              "runtime",
			HeartbeatInterval: 100,
			HeartbeatTimeout:  300,
		},
		log:     slog.New(slog.NewTextHandler(io.Discard, nil)),
		devices: make(map[string]*DeviceInfo),
	}
}

func TestUpdateDeviceMergesAnnounceAndHeartbeat(t *testing.T) {
	r := newTestRegistry()
	caps := []Capability{{Name: "mic.stream", Attributes: map[string]string{"rate": "16000"}}}
	r.updateDevice("browser-1", "capture", caps, time.Now(), true)

	// Heartbeat carries no role or capabilities; earlier values must survive.
	r.updateDevice("browser-1", "", nil, time.Now(), true)

	devices := r.Query(nil)
	if len(devices) != 1 {
		t.Fatalf("expected 1 device, got %d", len(devices))
	}
	if devices[0].Role != "capture" || len(devices[0].Capabilities) != 1 {
		t.Fatalf("announce data lost on heartbeat: %+v", devices[0])
	}
}

func TestEvaluateHealthMarksStaleDevices(t *testing.T) {
	r := newTestRegistry()
	r.updateDevice("stale", "capture", nil, time.Now().Add(-time.Minute), true)
	r.updateDevice("fresh", "capture", nil, time.Now(), true)

	r.evaluateHealth()

	for _, d := range r.Query(nil) {
		switch d.ID {
		case "stale":
			if d.Healthy {
				t.Fatal("stale device must be unhealthy")
			}
		case "fresh":
			if !d.Healthy {
				t.Fatal("fresh device must stay healthy")
			}
		}
	}
}

func TestQueryFilters(t *testing.T) {
	r := newTestRegistry()
	r.updateDevice("a", "capture", []Capability{{Name: "mic.stream"}}, time.Now(), true)
	r.updateDevice("b", "playback", []Capability{{Name: "audio.playback"}}, time.Now(), true)

	mics := r.Query(WithCapabilityFilter("mic.stream"))
	if len(mics) != 1 || mics[0].ID != "a" {
		t.Fatalf("unexpected capability query result: %+v", mics)
	}
	playback := r.Query(WithRoleFilter("playback"))
	if len(playback) != 1 || playback[0].ID != "b" {
		t.Fatalf("unexpected role query result: %+v", playback)
	}
}

func TestMicrophonesListsOnlyHealthyMics(t *testing.T) {
	r := newTestRegistry()
	mic := []Capability{{Name: CapabilityMicStream, Attributes: map[string]string{"sample_rate": "16000"}}}
	r.updateDevice("live-mic", "capture", mic, time.Now(), true)
	r.updateDevice("dead-mic", "capture", mic, time.Now().Add(-time.Minute), true)
	r.updateDevice("speaker", "playback", []Capability{{Name: CapabilityPlayback}}, time.Now(), true)
	r.evaluateHealth()

	mics := r.Microphones()
	if len(mics) != 1 || mics[0].ID != "live-mic" {
		t.Fatalf("expected only the healthy mic, got %+v", mics)
	}
	targets := r.PlaybackTargets()
	if len(targets) != 1 || targets[0].ID != "speaker" {
		t.Fatalf("expected playback target, got %+v", targets)
	}
}

func TestCapabilitySampleRate(t *testing.T) {
	c := Capability{Name: CapabilityMicStream, Attributes: map[string]string{"sample_rate": "16000"}}
	rate, ok := c.SampleRate()
	if !ok || rate != 16000 {
		t.Fatalf("expected 16000, got %d (%v)", rate, ok)
	}
	for _, attrs := range []map[string]string{nil, {"sample_rate": "fast"}, {"sample_rate": "-1"}} {
		if _, ok := (Capability{Attributes: attrs}).SampleRate(); ok {
			t.Fatalf("expected no sample rate for attrs %v", attrs)
		}
	}
}

func TestHeartbeatRecoversSilentDevice(t *testing.T) {
	r := newTestRegistry()
	r.updateDevice("mic", "capture", []Capability{{Name: CapabilityMicStream}}, time.Now().Add(-time.Minute), true)
	r.evaluateHealth()
	if r.Microphones() != nil {
		t.Fatal("silent mic must be excluded")
	}

	r.updateDevice("mic", "", nil, time.Now(), true)
	if mics := r.Microphones(); len(mics) != 1 {
		t.Fatalf("expected recovered mic, got %+v", mics)
	}
}

func TestLocalCapabilities(t *testing.T) {
	r := newTestRegistry()
	if caps := r.LocalCapabilities(); caps != nil {
		t.Fatalf("expected nil before announce, got %v", caps)
	}
	r.updateDevice("node-1", "runtime", []Capability{{Name: "voice.dispatch"}}, time.Now(), true)
	caps := r.LocalCapabilities()
	if len(caps) != 1 || caps[0].Name != "voice.dispatch" {
		t.Fatalf("unexpected local capabilities: %v", caps)
	}
}
