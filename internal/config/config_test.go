package config

import "testing"

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load("")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.Bus.Servers[0] != "nats://localhost:4222" {
		t.Fatalf("expected default server, got %v", cfg.Bus.Servers)
	}
	if cfg.Dispatch.NotRecognizedFeedback == "" {
		t.Fatal("expected default not-recognized feedback text")
	}
	if !cfg.Speech.Sim.Enabled {
		t.Fatal("expected sim provider enabled by default")
	}
}

func TestEnvOverrides(t *testing.T) {
	t.Setenv("FITVOICE_BUS_SERVERS", "nats://one:4222, nats://two:4222")
	t.Setenv("FITVOICE_BUS_USERNAME", "alice")
	t.Setenv("FITVOICE_BUS_PASSWORD", "secret")
	t.Setenv("FITVOICE_BUS_TLS_INSECURE", "true")
	t.Setenv("FITVOICE_DEVICE_ID", "test-device")
	t.Setenv("FITVOICE_HISTORY_PATH", "./tmp.db")
	t.Setenv("FITVOICE_HISTORY_RETENTION_MODE", "persistent")
	t.Setenv("FITVOICE_SPEECH_PROVIDERS", "sim")
	t.Setenv("FITVOICE_SPEECH_SIM_UTTERANCES", "start timer,log exercise pushups")
	t.Setenv("FITVOICE_DISPATCH_NOT_RECOGNIZED_FEEDBACK", "no idea")

	cfg, err := Load("")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if len(cfg.Bus.Servers) != 2 {
		t.Fatalf("expected 2 servers, got %v", cfg.Bus.Servers)
	}
	if cfg.Bus.Username != "alice" || cfg.Bus.Password != "secret" {
		t.Fatalf("expected credentials override")
	}
	if !cfg.Bus.TLSInsecure {
		t.Fatal("expected tls insecure override true")
	}
	if cfg.Device.ID != "test-device" {
		t.Fatalf("expected device id override")
	}
	if cfg.History.Path != "./tmp.db" {
		t.Fatalf("expected history path override")
	}
	if cfg.History.RetentionMode != "persistent" {
		t.Fatalf("expected history retention mode override")
	}
	if len(cfg.Speech.Providers) != 1 || cfg.Speech.Providers[0] != "sim" {
		t.Fatalf("expected provider chain override, got %v", cfg.Speech.Providers)
	}
	if len(cfg.Speech.Sim.Utterances) != 2 {
		t.Fatalf("expected 2 sim utterances, got %v", cfg.Speech.Sim.Utterances)
	}
	if cfg.Dispatch.NotRecognizedFeedback != "no idea" {
		t.Fatalf("expected feedback override, got %q", cfg.Dispatch.NotRecognizedFeedback)
	}
}

func TestValidateRejectsUnknownProvider(t *testing.T) {
	t.Setenv("FITVOICE_SPEECH_PROVIDERS", "telepathy")
	if _, err := Load(""); err == nil {
		t.Fatal("expected validation error for unknown provider")
	}
}

func TestValidateRejectsSubFrameCaptureWindows(t *testing.T) {
	// A silence window shorter than one frame could never accumulate a full
	// silent frame, so every frame after speech would end the utterance.
	t.Setenv("FITVOICE_CAPTURE_FRAME_DURATION_MS", "20")
	t.Setenv("FITVOICE_CAPTURE_SILENCE_MS", "10")
	if _, err := Load(""); err == nil {
		t.Fatal("expected validation error for silence window below frame duration")
	}
}

func TestValidateRejectsShortMaxUtterance(t *testing.T) {
	t.Setenv("FITVOICE_CAPTURE_FRAME_DURATION_MS", "20")
	t.Setenv("FITVOICE_CAPTURE_MAX_UTTERANCE_MS", "10")
	if _, err := Load(""); err == nil {
		t.Fatal("expected validation error for max utterance below frame duration")
	}
}
