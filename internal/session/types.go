package session

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/loqalabs/loqa-dictate/internal/capture"
	"github.com/loqalabs/loqa-dictate/internal/report"
)

// State models the recording lifecycle.
type State string

const (
	StateIdle         State = "idle"
	StateRecording    State = "recording"
	StateStopping     State = "stopping"
	StateTranscribing State = "transcribing"
)

// Policy selects how recordings are cut into transcription cycles.
type Policy string

const (
	// PolicySingleShot transcribes once per start/stop pair.
	PolicySingleShot Policy = "single-shot"
	// PolicyChunkedInterval cuts the recording at every interval boundary and keeps
	// recording until an explicit stop.
	PolicyChunkedInterval Policy = "chunked-interval"
)

func ParsePolicy(value string) (Policy, error) {
	switch Policy(strings.ToLower(strings.TrimSpace(value))) {
	case "", PolicySingleShot:
		return PolicySingleShot, nil
	case PolicyChunkedInterval:
		return PolicyChunkedInterval, nil
	default:
		return "", fmt.Errorf("unknown session policy %q", value)
	}
}

var (
	// ErrInvalidCommand is wrapped by every command rejected because of the current state.
	ErrInvalidCommand = errors.New("invalid command")
	ErrAlreadyActive  = fmt.Errorf("%w: session already active", ErrInvalidCommand)
	ErrNotRecording   = fmt.Errorf("%w: not recording", ErrInvalidCommand)

	ErrDeviceUnavailable = capture.ErrUnavailable
	ErrEngineNotReady    = errors.New("engine not ready")
	ErrClosed            = errors.New("controller closed")
)

// Snapshot is the presentation view of the controller.
type Snapshot struct {
	SessionID   string      `json:"session_id"`
	State       State       `json:"state"`
	Policy      Policy      `json:"policy"`
	Text        string      `json:"text"`
	Error       string      `json:"error"`
	ErrorKind   report.Kind `json:"error_kind,omitempty"`
	Cycle       int         `json:"cycle"`
	EngineReady bool        `json:"engine_ready"`
	At          time.Time   `json:"at"`
}

type EventKind string

const (
	EventState   EventKind = "state"
	EventSegment EventKind = "segment"
	EventError   EventKind = "error"
	EventReset   EventKind = "reset"
)

// Event is delivered to observers in the order the controller produced it.
type Event struct {
	Kind     EventKind
	Snapshot Snapshot
	// Segment and Duration are set for EventSegment.
	Segment  string
	Duration time.Duration
}

// Observer receives controller events on a dedicated goroutine. Observers may call
// back into the controller, Close included.
type Observer func(Event)
