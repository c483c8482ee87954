package protocol

import "time"

// AudioFrame carries PCM audio streamed from a capture device for one
// recognition session. The last frame of an utterance sets Final.
type AudioFrame struct {
	SessionID  string `json:"session_id"`
	DeviceID   string `json:"device_id,omitempty"`
	Sequence   int    `json:"sequence"`
	SampleRate int    `json:"sample_rate"`
	Channels   int    `json:"channels"`
	PCM        []byte `json:"pcm"`
	Final      bool   `json:"final"`
}

// Transcript is recognized speech broadcast on the bus. Text is always
// lowercase; the dispatcher relies on that.
type Transcript struct {
	SessionID  string    `json:"session_id"`
	Text       string    `json:"text"`
	Provider   string    `json:"provider,omitempty"`
	Partial    bool      `json:"partial"`
	Timestamp  time.Time `json:"timestamp"`
	Confidence float64   `json:"confidence,omitempty"`
}

// CommandEvent records the outcome of dispatching one transcript.
type CommandEvent struct {
	SessionID  string    `json:"session_id"`
	Transcript string    `json:"transcript"`
	Source     string    `json:"source"` // builtin, task, automation
	Command    string    `json:"command"`
	Action     string    `json:"action"`
	Argument   string    `json:"argument,omitempty"`
	Feedback   string    `json:"feedback,omitempty"`
	Timestamp  time.Time `json:"timestamp"`
}

// SpeakRequest asks the feedback service to voice a line of text.
type SpeakRequest struct {
	SessionID string `json:"session_id"`
	Text      string `json:"text"`
	Voice     string `json:"voice,omitempty"`
	Target    string `json:"target,omitempty"`
}

// AudioChunk is synthesized feedback audio streamed back toward playback.
type AudioChunk struct {
	SessionID  string `json:"session_id"`
	Target     string `json:"target,omitempty"`
	SampleRate int    `json:"sample_rate"`
	Channels   int    `json:"channels"`
	Sequence   int    `json:"sequence"`
	PCM        []byte `json:"pcm"`
	Final      bool   `json:"final"`
}

// SpeakStatus marks completion of one feedback utterance.
type SpeakStatus struct {
	SessionID string    `json:"session_id"`
	Target    string    `json:"target,omitempty"`
	Completed bool      `json:"completed"`
	Timestamp time.Time `json:"timestamp"`
}

const (
	SubjectAudioFramePrefix    = "audio.frame"
	SubjectTranscriptPartial   = "voice.transcript.partial"
	SubjectTranscriptFinal     = "voice.transcript.final"
	SubjectCommandDispatched   = "voice.command.dispatched"
	SubjectCommandUnrecognized = "voice.command.unrecognized"
	SubjectFeedbackSay         = "feedback.say"
	SubjectFeedbackAudio       = "feedback.audio"
	SubjectFeedbackDone        = "feedback.done"
)
