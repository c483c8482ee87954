package speech

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
)

// ErrNoProvider is reported when every provider in the chain failed to start.
var ErrNoProvider = errors.New("no speech provider could start")

// ErrNotListening is returned by Feed when no session is active.
var ErrNotListening = errors.New("adapter is not listening")

// Adapter presents a single recognizer surface over an ordered chain of
// providers. Start walks the chain until one provider yields a session;
// exactly one session is active at a time. Results, errors and session end
// are reported through the OnResult/OnError/OnEnd slots, mirroring the shape
// call sites already expect from a platform recognizer.
type Adapter struct {
	OnResult func(Result)
	OnError  func(error)
	OnEnd    func()

	providers []Provider
	log       *slog.Logger

	mu         sync.Mutex
	active     Session
	activeName string
	listening  bool
}

func NewAdapter(providers []Provider, log *slog.Logger) *Adapter {
	return &Adapter{
		providers: providers,
		log:       log.With(slog.String("component", "speech-adapter")),
	}
}

// Start initializes the first provider in the chain that accepts. Starting
// while already listening is a no-op. When every provider fails, OnError is
// invoked, listening stays false and ErrNoProvider is returned.
func (a *Adapter) Start(ctx context.Context) error {
	a.mu.Lock()
	if a.listening {
		a.mu.Unlock()
		return nil
	}

	handlers := Handlers{
		OnResult: a.emitResult,
		OnError:  a.sessionError,
		OnEnd:    func() {},
	}

	var lastErr error
	for _, p := range a.providers {
		sess, err := p.TryStart(ctx, handlers)
		if err != nil {
			a.log.Warn("speech provider failed to start, falling back",
				slog.String("provider", p.Name()),
				slog.String("error", err.Error()))
			lastErr = err
			continue
		}
		a.active = sess
		a.activeName = p.Name()
		a.listening = true
		a.mu.Unlock()
		a.log.Info("listening", slog.String("provider", p.Name()))
		return nil
	}
	a.listening = false
	a.mu.Unlock()

	err := ErrNoProvider
	if lastErr != nil {
		err = fmt.Errorf("%w: %v", ErrNoProvider, lastErr)
	}
	if a.OnError != nil {
		a.OnError(err)
	}
	return err
}

// Feed forwards audio to the active session. A session-level failure is
// surfaced through OnError and ends the session.
func (a *Adapter) Feed(ctx context.Context, pcm []byte, final bool) error {
	a.mu.Lock()
	sess := a.active
	a.mu.Unlock()
	if sess == nil {
		return ErrNotListening
	}
	if err := sess.Feed(ctx, pcm, final); err != nil {
		if a.OnError != nil {
			a.OnError(err)
		}
		a.release(false)
		return err
	}
	return nil
}

// Stop releases the active session's resources and always fires OnEnd, even
// when no session ever fully initialized.
func (a *Adapter) Stop() {
	a.release(false)
}

// Abort is Stop with in-flight results discarded.
func (a *Adapter) Abort() {
	a.release(true)
}

// Listening reports whether a provider session is currently active.
func (a *Adapter) Listening() bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.listening
}

// ActiveProvider names the strategy currently listening, empty when idle.
func (a *Adapter) ActiveProvider() string {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.activeName
}

func (a *Adapter) release(abort bool) {
	a.mu.Lock()
	sess := a.active
	name := a.activeName
	a.active = nil
	a.activeName = ""
	a.listening = false
	a.mu.Unlock()

	if sess != nil {
		if abort {
			sess.Abort()
		} else {
			sess.Stop()
		}
		a.log.Info("session released", slog.String("provider", name), slog.Bool("aborted", abort))
	}
	if a.OnEnd != nil {
		a.OnEnd()
	}
}

func (a *Adapter) emitResult(r Result) {
	if a.OnResult != nil {
		a.OnResult(r)
	}
}

// sessionError handles failures raised by an already-running session, such
// as a dead capture device. The session ends; the error is surfaced once.
func (a *Adapter) sessionError(err error) {
	if a.OnError != nil {
		a.OnError(err)
	}
	a.release(true)
}
