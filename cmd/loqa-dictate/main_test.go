package main

import (
	"bytes"
	"context"
	"log/slog"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/loqalabs/loqa-dictate/internal/session"
)

type scriptedRecorder struct {
	mu     sync.Mutex
	state  session.State
	text   string
	calls  []string
	resets int

	// settleIn counts State calls until a pending transcription lands as settleText.
	settleIn   int
	settleText string
}

func (r *scriptedRecorder) Start(context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls = append(r.calls, "start")
	r.state = session.StateRecording
	return nil
}

func (r *scriptedRecorder) Stop() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls = append(r.calls, "stop")
	r.state = session.StateIdle
	r.text = strings.TrimSpace(r.text + " words")
	return nil
}

func (r *scriptedRecorder) Reset() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.resets++
	r.text = ""
}

func (r *scriptedRecorder) State() session.State {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.settleIn > 0 {
		r.settleIn--
		if r.settleIn == 0 {
			r.state = session.StateIdle
			r.text = strings.TrimSpace(r.text + " " + r.settleText)
		}
	}
	if r.state == "" {
		return session.StateIdle
	}
	return r.state
}

func (r *scriptedRecorder) CurrentText() string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.text
}

func TestCommandLoopTogglesAndQuits(t *testing.T) {
	rec := &scriptedRecorder{}
	var out bytes.Buffer
	in := strings.NewReader("\n\n\n\nq\n")

	require.NoError(t, commandLoop(context.Background(), in, &out, rec))

	assert.Equal(t, []string{"start", "stop", "start", "stop"}, rec.calls)
	assert.Contains(t, out.String(), "Final transcript:\nwords words")
}

func TestQuitWaitsForPendingTranscription(t *testing.T) {
	rec := &scriptedRecorder{state: session.StateTranscribing, text: "early", settleIn: 4, settleText: "late"}
	var out bytes.Buffer

	require.NoError(t, commandLoop(context.Background(), strings.NewReader("q\n"), &out, rec))

	assert.Contains(t, out.String(), "Finishing transcription...")
	assert.Contains(t, out.String(), "Final transcript:\nearly late\n")
}

func TestQuitWhileRecordingStopsFirst(t *testing.T) {
	rec := &scriptedRecorder{state: session.StateRecording}
	var out bytes.Buffer

	require.NoError(t, commandLoop(context.Background(), strings.NewReader("q\n"), &out, rec))

	assert.Equal(t, []string{"stop"}, rec.calls)
	assert.Contains(t, out.String(), "Final transcript:\nwords\n")
}

func TestCommandLoopResetAndHelp(t *testing.T) {
	rec := &scriptedRecorder{text: "old"}
	var out bytes.Buffer
	in := strings.NewReader("r\nhelp\n")

	require.NoError(t, commandLoop(context.Background(), in, &out, rec))

	assert.Equal(t, 1, rec.resets)
	assert.Empty(t, rec.CurrentText())
	assert.Contains(t, out.String(), "Enter toggles recording")
}

func TestToggleWhileTranscribing(t *testing.T) {
	rec := &scriptedRecorder{state: session.StateTranscribing}
	var out bytes.Buffer
	toggle(context.Background(), &out, rec)
	assert.Empty(t, rec.calls)
	assert.Contains(t, out.String(), "please wait")
}

func TestPrinter(t *testing.T) {
	var out bytes.Buffer
	p := printer(&out)
	p(session.Event{Kind: session.EventState, Snapshot: session.Snapshot{State: session.StateRecording}})
	p(session.Event{Kind: session.EventSegment, Snapshot: session.Snapshot{Text: "hello world"}})
	p(session.Event{Kind: session.EventError, Snapshot: session.Snapshot{Error: "Microphone unavailable."}})
	assert.Equal(t, "[recording]\n> hello world\n! Microphone unavailable.\n", out.String())
}

func TestParseLevel(t *testing.T) {
	assert.Equal(t, slog.LevelDebug, parseLevel("DEBUG"))
	assert.Equal(t, slog.LevelWarn, parseLevel("warning"))
	assert.Equal(t, slog.LevelError, parseLevel("error"))
	assert.Equal(t, slog.LevelInfo, parseLevel(""))
}

func TestVersionCommand(t *testing.T) {
	var out bytes.Buffer
	versionCmd.SetOut(&out)
	require.NoError(t, versionCmd.RunE(versionCmd, nil))
	assert.Equal(t, version+"\n", out.String())
}
