package speech

import "context"

// Result captures recognizer output for one utterance. Text is lowercase.
type Result struct {
	Text       string
	Confidence float64
	Final      bool
}

// Handlers are the callback slots a recognition session reports through.
// Any of them may be nil.
type Handlers struct {
	OnResult func(Result)
	OnError  func(error)
	OnEnd    func()
}

// Provider is one transcription strategy in the fallback chain. TryStart
// either yields a live Session or an initialization error; init errors are
// non-fatal to the chain and simply advance it to the next provider.
type Provider interface {
	Name() string
	TryStart(ctx context.Context, h Handlers) (Session, error)
}

// Session is an initialized recognition stream. Feed pushes PCM audio;
// the frame that closes an utterance sets final. Stop and Abort release
// whatever resources the session acquired; Abort additionally discards any
// result still in flight. Both must be safe to call more than once.
type Session interface {
	Feed(ctx context.Context, pcm []byte, final bool) error
	Stop()
	Abort()
}
