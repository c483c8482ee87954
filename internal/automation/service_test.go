package automation

import (
	"context"
	"io"
	"log/slog"
	"sort"
	"testing"

	"github.com/fitpulse/fitvoice/internal/config"
	"github.com/fitpulse/fitvoice/internal/dispatch"
)

func newLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, &slog.HandlerOptions{Level: slog.LevelError}))
}

func TestSetPacksRegistersSequencesByAction(t *testing.T) {
	svc := NewService(context.Background(), config.PacksConfig{Enabled: true, Concurrency: 2, AuditPrivacy: "internal"}, nil, nil, newLogger())
	t.Cleanup(svc.Close)

	svc.SetPacks([]dispatch.Pack{
		{
			Name: "p1",
			Dir:  "/tmp/p1",
			Sequences: []dispatch.SequenceDef{
				{Name: "evening stretch", Steps: []dispatch.Step{{Subject: "ui.view.show"}}},
				{Name: "morning flow", Steps: []dispatch.Step{{Subject: "ui.view.show"}}},
			},
		},
	})

	names := svc.SequenceNames()
	sort.Strings(names)
	if len(names) != 2 || names[0] != "evening stretch" || names[1] != "morning flow" {
		t.Fatalf("unexpected sequence names: %v", names)
	}

	svc.mu.RLock()
	_, ok := svc.sequences["automation.evening stretch"]
	svc.mu.RUnlock()
	if !ok {
		t.Fatal("sequence must be keyed by its dispatcher action")
	}
}

func TestRuntimeLoadMissingModule(t *testing.T) {
	rt, err := New(context.Background(), HostBindings{Logger: newLogger()})
	if err != nil {
		t.Fatalf("new runtime: %v", err)
	}
	t.Cleanup(func() { _ = rt.Close(context.Background()) })

	hook := dispatch.Hook{Module: "missing.wasm", Entrypoint: "run"}
	if _, err := rt.Load(context.Background(), hook, "/nonexistent/missing.wasm", nil); err == nil {
		t.Fatal("expected error for missing module file")
	}
}

func TestHostBindingsDefaultsDenyPublish(t *testing.T) {
	h := HostBindings{}.ensure()
	if err := h.AllowPublish("feedback.say"); err == nil {
		t.Fatal("default bindings must deny publishing")
	}
	if err := h.Publish("feedback.say", nil); err == nil {
		t.Fatal("default bindings must not publish")
	}
}
