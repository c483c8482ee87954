package history

import (
	"context"
	"io"
	"log/slog"
	"path/filepath"
	"testing"
	"time"

	"github.com/fitpulse/fitvoice/internal/config"
)

func newLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, &slog.HandlerOptions{Level: slog.LevelError}))
}

func TestOpenEphemeral(t *testing.T) {
	cfg := config.HistoryConfig{RetentionMode: "ephemeral"}
	s, err := Open(context.Background(), cfg, newLogger())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	t.Cleanup(func() { _ = s.Close() })

	if err := s.AppendEvent(context.Background(), Event{SessionID: "x", Type: EventTranscript}); err != nil {
		t.Fatalf("ephemeral append should be a no-op: %v", err)
	}
	events, err := s.ListSessionEvents(context.Background(), "x", 10)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if events != nil {
		t.Fatalf("expected no events from ephemeral store, got %d", len(events))
	}
}

func TestAppendAndQuery(t *testing.T) {
	tmp := t.TempDir()
	cfg := config.HistoryConfig{Path: filepath.Join(tmp, "history.db"), RetentionMode: "session"}
	s, err := Open(context.Background(), cfg, newLogger())
	if err != nil {
		t.Fatalf("open history store: %v", err)
	}
	t.Cleanup(func() { _ = s.Close() })

	sessionID := "session-123"
	if err := s.AppendSession(context.Background(), sessionID, "browser-1", "session"); err != nil {
		t.Fatalf("append session: %v", err)
	}
	if err := s.AppendEvent(context.Background(), Event{SessionID: sessionID, Type: EventTranscript, Payload: []byte("start timer")}); err != nil {
		t.Fatalf("append event: %v", err)
	}
	if err := s.RecordCommand(context.Background(), sessionID, true, map[string]string{"action": "timer.start"}, "session"); err != nil {
		t.Fatalf("record command: %v", err)
	}

	events, err := s.ListSessionEvents(context.Background(), sessionID, 10)
	if err != nil {
		t.Fatalf("list events: %v", err)
	}
	if len(events) != 2 {
		t.Fatalf("expected 2 events, got %d", len(events))
	}
	if events[0].Type != EventTranscript {
		t.Fatalf("unexpected first event type %q", events[0].Type)
	}
	if events[1].Type != EventCommand {
		t.Fatalf("unexpected second event type %q", events[1].Type)
	}
}

func TestRecordUnrecognized(t *testing.T) {
	tmp := t.TempDir()
	cfg := config.HistoryConfig{Path: filepath.Join(tmp, "history.db"), RetentionMode: "session"}
	s, err := Open(context.Background(), cfg, newLogger())
	if err != nil {
		t.Fatalf("open history store: %v", err)
	}
	t.Cleanup(func() { _ = s.Close() })

	if err := s.AppendSession(context.Background(), "s1", "dev", "session"); err != nil {
		t.Fatalf("append session: %v", err)
	}
	if err := s.RecordCommand(context.Background(), "s1", false, map[string]string{"transcript": "xyzzy"}, "session"); err != nil {
		t.Fatalf("record: %v", err)
	}
	events, err := s.ListSessionEvents(context.Background(), "s1", 10)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(events) != 1 || events[0].Type != EventUnrecognized {
		t.Fatalf("expected one unrecognized event, got %+v", events)
	}
}

func TestPruneByDaysAndSessions(t *testing.T) {
	tmp := t.TempDir()
	cfg := config.HistoryConfig{Path: filepath.Join(tmp, "history.db"), RetentionMode: "persistent", RetentionDays: 1, MaxSessions: 1}
	s, err := Open(context.Background(), cfg, newLogger())
	if err != nil {
		t.Fatalf("open history store: %v", err)
	}
	t.Cleanup(func() { _ = s.Close() })

	s.clock = func() time.Time { return time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC) }
	if err := s.AppendSession(context.Background(), "old-session", "dev", "session"); err != nil {
		t.Fatalf("append session: %v", err)
	}
	if err := s.AppendEvent(context.Background(), Event{SessionID: "old-session", Type: EventTranscript}); err != nil {
		t.Fatalf("append event: %v", err)
	}

	s.clock = func() time.Time { return time.Date(2026, 1, 3, 0, 0, 0, 0, time.UTC) }
	if err := s.AppendSession(context.Background(), "new-session", "dev", "session"); err != nil {
		t.Fatalf("append session: %v", err)
	}
	if err := s.Prune(context.Background()); err != nil {
		t.Fatalf("prune: %v", err)
	}

	events, err := s.ListSessionEvents(context.Background(), "old-session", 10)
	if err != nil {
		t.Fatalf("list events: %v", err)
	}
	if len(events) != 0 {
		t.Fatalf("expected old session pruned")
	}
}
