package speech

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync/atomic"
	"testing"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, &slog.HandlerOptions{Level: slog.LevelError}))
}

type fakeSession struct {
	stops   atomic.Int32
	aborts  atomic.Int32
	feedErr error
}

func (f *fakeSession) Feed(_ context.Context, _ []byte, _ bool) error { return f.feedErr }
func (f *fakeSession) Stop()                                          { f.stops.Add(1) }
func (f *fakeSession) Abort()                                         { f.aborts.Add(1) }

type fakeProvider struct {
	name    string
	err     error
	session *fakeSession
	starts  atomic.Int32
}

func (f *fakeProvider) Name() string { return f.name }

func (f *fakeProvider) TryStart(_ context.Context, _ Handlers) (Session, error) {
	f.starts.Add(1)
	if f.err != nil {
		return nil, f.err
	}
	return f.session, nil
}

func TestStartFallsBackToFirstWorkingProvider(t *testing.T) {
	broken := &fakeProvider{name: "broken", err: errors.New("model fetch failed")}
	alsoBroken := &fakeProvider{name: "also-broken", err: errors.New("not supported")}
	working := &fakeProvider{name: "working", session: &fakeSession{}}

	a := NewAdapter([]Provider{broken, alsoBroken, working}, testLogger())
	if err := a.Start(context.Background()); err != nil {
		t.Fatalf("unexpected start error: %v", err)
	}
	if !a.Listening() {
		t.Fatal("expected adapter to be listening")
	}
	if got := a.ActiveProvider(); got != "working" {
		t.Fatalf("expected working provider active, got %q", got)
	}
	if broken.starts.Load() != 1 || alsoBroken.starts.Load() != 1 {
		t.Fatal("expected failed providers to be attempted once each")
	}
}

func TestStartAllProvidersFail(t *testing.T) {
	var reported error
	a := NewAdapter([]Provider{
		&fakeProvider{name: "a", err: errors.New("boom")},
		&fakeProvider{name: "b", err: errors.New("also boom")},
	}, testLogger())
	a.OnError = func(err error) { reported = err }

	err := a.Start(context.Background())
	if !errors.Is(err, ErrNoProvider) {
		t.Fatalf("expected ErrNoProvider, got %v", err)
	}
	if reported == nil {
		t.Fatal("expected OnError to be invoked")
	}
	if a.Listening() {
		t.Fatal("expected adapter not listening after exhausted chain")
	}
}

func TestStartWhileListeningIsNoOp(t *testing.T) {
	p := &fakeProvider{name: "only", session: &fakeSession{}}
	a := NewAdapter([]Provider{p}, testLogger())

	if err := a.Start(context.Background()); err != nil {
		t.Fatalf("first start: %v", err)
	}
	if err := a.Start(context.Background()); err != nil {
		t.Fatalf("second start: %v", err)
	}
	if p.starts.Load() != 1 {
		t.Fatalf("expected a single provider start, got %d", p.starts.Load())
	}
}

func TestStopReleasesSessionAndFiresOnEnd(t *testing.T) {
	sess := &fakeSession{}
	a := NewAdapter([]Provider{&fakeProvider{name: "p", session: sess}}, testLogger())
	var ends int
	a.OnEnd = func() { ends++ }

	if err := a.Start(context.Background()); err != nil {
		t.Fatalf("start: %v", err)
	}
	a.Stop()
	if sess.stops.Load() != 1 {
		t.Fatalf("expected one session stop, got %d", sess.stops.Load())
	}
	if ends != 1 {
		t.Fatalf("expected one OnEnd, got %d", ends)
	}
	if a.Listening() {
		t.Fatal("expected adapter stopped")
	}

	// Stop is idempotent on the session even though OnEnd still fires.
	a.Stop()
	if sess.stops.Load() != 1 {
		t.Fatalf("expected session stop not repeated, got %d", sess.stops.Load())
	}
	if ends != 2 {
		t.Fatalf("expected OnEnd per stop call, got %d", ends)
	}
}

func TestRepeatedStartStopCyclesReleaseEachSession(t *testing.T) {
	sessions := []*fakeSession{{}, {}, {}}
	idx := 0
	p := &cyclingProvider{sessions: sessions, idx: &idx}
	a := NewAdapter([]Provider{p}, testLogger())

	for i := 0; i < len(sessions); i++ {
		if err := a.Start(context.Background()); err != nil {
			t.Fatalf("cycle %d start: %v", i, err)
		}
		a.Stop()
	}
	for i, sess := range sessions {
		if sess.stops.Load() != 1 {
			t.Fatalf("session %d not released exactly once: %d", i, sess.stops.Load())
		}
	}
}

type cyclingProvider struct {
	sessions []*fakeSession
	idx      *int
}

func (c *cyclingProvider) Name() string { return "cycling" }

func (c *cyclingProvider) TryStart(_ context.Context, _ Handlers) (Session, error) {
	s := c.sessions[*c.idx]
	*c.idx++
	return s, nil
}

func TestAbortUsesSessionAbort(t *testing.T) {
	sess := &fakeSession{}
	a := NewAdapter([]Provider{&fakeProvider{name: "p", session: sess}}, testLogger())
	if err := a.Start(context.Background()); err != nil {
		t.Fatalf("start: %v", err)
	}
	a.Abort()
	if sess.aborts.Load() != 1 {
		t.Fatalf("expected one abort, got %d", sess.aborts.Load())
	}
	if sess.stops.Load() != 0 {
		t.Fatal("abort should not also call stop")
	}
}

func TestFeedErrorEndsSession(t *testing.T) {
	sess := &fakeSession{feedErr: errors.New("device gone")}
	a := NewAdapter([]Provider{&fakeProvider{name: "p", session: sess}}, testLogger())
	var reported error
	var ended bool
	a.OnError = func(err error) { reported = err }
	a.OnEnd = func() { ended = true }

	if err := a.Start(context.Background()); err != nil {
		t.Fatalf("start: %v", err)
	}
	if err := a.Feed(context.Background(), []byte{0, 0}, false); err == nil {
		t.Fatal("expected feed error")
	}
	if reported == nil {
		t.Fatal("expected OnError for session failure")
	}
	if !ended {
		t.Fatal("expected session end after failure")
	}
	if a.Listening() {
		t.Fatal("expected adapter stopped after failure")
	}
}

func TestFeedWithoutSession(t *testing.T) {
	a := NewAdapter(nil, testLogger())
	if err := a.Feed(context.Background(), nil, false); !errors.Is(err, ErrNotListening) {
		t.Fatalf("expected ErrNotListening, got %v", err)
	}
}
