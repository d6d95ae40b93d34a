package report

import (
	"log/slog"
	"strings"
	"sync"
	"time"
)

// Kind identifies the category of a user-visible failure.
type Kind string

const (
	KindNone                Kind = ""
	KindDeviceUnavailable   Kind = "device_unavailable"
	KindEngineNotReady      Kind = "engine_not_ready"
	KindTranscriptionFailed Kind = "transcription_failed"
	// KindInvalidCommand is logged but never becomes the current error.
	KindInvalidCommand Kind = "invalid_command"
)

var summaries = map[Kind]string{
	KindDeviceUnavailable:   "Microphone unavailable",
	KindEngineNotReady:      "Speech recognition is not ready",
	KindTranscriptionFailed: "An error occurred during transcription",
	KindInvalidCommand:      "Command not allowed in the current state",
}

// Entry is the current error as shown to the user.
type Entry struct {
	Kind    Kind      `json:"kind"`
	Message string    `json:"message"`
	Detail  string    `json:"detail,omitempty"`
	At      time.Time `json:"at"`
}

func (e Entry) IsZero() bool {
	return e.Kind == KindNone
}

// Reporter holds at most one current error. The newest report wins.
type Reporter struct {
	log *slog.Logger
	now func() time.Time

	mu      sync.RWMutex
	current Entry
}

func New(log *slog.Logger) *Reporter {
	if log == nil {
		log = slog.Default()
	}
	return &Reporter{log: log.With(slog.String("component", "report")), now: time.Now}
}

// Report records a failure. It returns false when the kind is not surfaced to the user.
func (r *Reporter) Report(kind Kind, detail string) bool {
	detail = strings.TrimSpace(detail)
	if kind == KindInvalidCommand {
		r.log.Debug("command rejected", slog.String("detail", detail))
		return false
	}
	if kind == KindNone {
		return false
	}
	entry := Entry{
		Kind:    kind,
		Message: Format(kind, detail),
		Detail:  detail,
		At:      r.now(),
	}

	r.mu.Lock()
	r.current = entry
	r.mu.Unlock()

	r.log.Warn("session error",
		slog.String("kind", string(kind)),
		slog.String("error", detail),
	)
	return true
}

func (r *Reporter) Clear() {
	r.mu.Lock()
	r.current = Entry{}
	r.mu.Unlock()
}

func (r *Reporter) Current() Entry {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.current
}

// Message returns the current user-facing message, or "" when there is no error.
func (r *Reporter) Message() string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.current.Message
}

// Format builds the normalized user-facing message for kind.
func Format(kind Kind, detail string) string {
	summary, ok := summaries[kind]
	if !ok {
		summary = "Unexpected error"
	}
	detail = strings.TrimSpace(detail)
	if detail == "" {
		return summary + "."
	}
	return summary + ": " + detail
}
