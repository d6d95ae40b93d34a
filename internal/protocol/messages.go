package protocol

import "time"

// AudioFrame represents PCM audio data streamed from edge devices.
type AudioFrame struct {
	SessionID  string `json:"session_id"`
	Sequence   int    `json:"sequence"`
	SampleRate int    `json:"sample_rate"`
	Channels   int    `json:"channels"`
	PCM        []byte `json:"pcm"`
	Final      bool   `json:"final"`
}

// Transcript represents STT output broadcast on the bus.
type Transcript struct {
	SessionID  string    `json:"session_id"`
	Text       string    `json:"text"`
	Partial    bool      `json:"partial"`
	Timestamp  time.Time `json:"timestamp"`
	Confidence float64   `json:"confidence,omitempty"`
}

// SessionUpdate mirrors the dictation controller snapshot after every transition.
type SessionUpdate struct {
	SessionID string    `json:"session_id"`
	State     string    `json:"state"`
	Policy    string    `json:"policy"`
	Text      string    `json:"text"`
	Error     string    `json:"error,omitempty"`
	ErrorKind string    `json:"error_kind,omitempty"`
	Cycle     int       `json:"cycle"`
	Timestamp time.Time `json:"timestamp"`
}

const (
	SubjectAudioFramePrefix  = "audio.frame"
	SubjectTranscriptPartial = "stt.text.partial"
	SubjectTranscriptFinal   = "stt.text.final"
	SubjectSessionUpdate     = "dictation.session.update"
)

// AudioFrameSubject returns the subject audio frames for source are published on.
func AudioFrameSubject(source string) string {
	return SubjectAudioFramePrefix + "." + source
}
