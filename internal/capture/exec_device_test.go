package capture

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/loqalabs/loqa-dictate/internal/chunk"
	"github.com/loqalabs/loqa-dictate/internal/config"
)

func newLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, &slog.HandlerOptions{Level: slog.LevelError}))
}

func writeScript(t *testing.T, name, contents string) string {
	t.Helper()
	if runtime.GOOS == "windows" {
		t.Skip("shell scripts not supported on windows")
	}
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(contents), 0o755))
	return path
}

func newScriptDevice(t *testing.T, script string) *ExecDevice {
	t.Helper()
	dev, err := NewExecDevice(config.CaptureConfig{
		Command:    "sh " + script,
		SampleRate: 16000,
		Channels:   1,
		FragmentMS: 100,
	}, newLogger())
	require.NoError(t, err)
	return dev
}

// collect drains a stream until it closes and returns its events.
func collect(t *testing.T, s Stream) []Event {
	t.Helper()
	var events []Event
	timeout := time.After(5 * time.Second)
	for {
		select {
		case ev, ok := <-s.Events():
			if !ok {
				return events
			}
			events = append(events, ev)
		case <-timeout:
			t.Fatalf("stream did not close, got %d events", len(events))
		}
	}
}

func joined(events []Event) string {
	var b strings.Builder
	for _, ev := range events {
		if ev.Kind == EventFragment {
			b.Write(ev.Data)
		}
	}
	return b.String()
}

func TestExecDeviceStopDeliversTail(t *testing.T) {
	script := writeScript(t, "rec.sh", "printf 'abcd'\nexec sleep 5\n")
	dev := newScriptDevice(t, script)

	stream, err := dev.Acquire(context.Background())
	require.NoError(t, err)
	require.NoError(t, stream.Stop())

	events := collect(t, stream)
	require.NotEmpty(t, events)
	last := events[len(events)-1]
	assert.Equal(t, EventStopped, last.Kind)
	assert.NoError(t, last.Err)
	assert.Equal(t, "abcd", joined(events))

	stopped := 0
	for _, ev := range events {
		if ev.Kind == EventStopped {
			stopped++
		}
	}
	assert.Equal(t, 1, stopped)
	assert.NoError(t, stream.Stop())
}

func TestExecDeviceCleanEnd(t *testing.T) {
	script := writeScript(t, "rec.sh", "printf 'xy'\nsleep 0.4\nexit 0\n")
	stream, err := newScriptDevice(t, script).Acquire(context.Background())
	require.NoError(t, err)

	events := collect(t, stream)
	last := events[len(events)-1]
	assert.Equal(t, EventStopped, last.Kind)
	assert.NoError(t, last.Err)
	assert.Equal(t, "xy", joined(events))
}

func TestExecDeviceFailureMidStream(t *testing.T) {
	script := writeScript(t, "rec.sh", "printf 'xy'\nsleep 0.4\necho 'device lost' >&2\nexit 3\n")
	stream, err := newScriptDevice(t, script).Acquire(context.Background())
	require.NoError(t, err)

	events := collect(t, stream)
	last := events[len(events)-1]
	assert.Equal(t, EventStopped, last.Kind)
	require.Error(t, last.Err)
	assert.True(t, errors.Is(last.Err, ErrUnavailable))
	assert.Contains(t, last.Err.Error(), "device lost")
}

func TestExecDeviceEarlyExitIsUnavailable(t *testing.T) {
	script := writeScript(t, "fail.sh", "echo 'permission denied' >&2\nexit 1\n")
	_, err := newScriptDevice(t, script).Acquire(context.Background())
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrUnavailable)
	assert.Contains(t, err.Error(), "permission denied")
}

func TestExecDeviceMissingBinary(t *testing.T) {
	dev, err := NewExecDevice(config.CaptureConfig{Command: "/nonexistent/recorder --raw"}, newLogger())
	require.NoError(t, err)
	_, err = dev.Acquire(context.Background())
	assert.ErrorIs(t, err, ErrUnavailable)
}

func TestNewExecDeviceBuildsFFmpegArgs(t *testing.T) {
	dev, err := NewExecDevice(config.CaptureConfig{
		Command:     "ffmpeg",
		InputFormat: "alsa",
		InputDevice: "hw:0",
		SampleRate:  16000,
		Channels:    1,
		FragmentMS:  100,
	}, newLogger())
	require.NoError(t, err)
	assert.Equal(t, []string{
		"ffmpeg", "-nostdin", "-hide_banner", "-loglevel", "warning",
		"-f", "alsa", "-i", "hw:0", "-ac", "1", "-ar", "16000", "-f", "s16le", "-",
	}, dev.args)
	assert.Equal(t, 3200, dev.fragmentBytes)
}

func TestFragmentSize(t *testing.T) {
	tests := []struct {
		format chunk.Format
		ms     int
		want   int
	}{
		{chunk.Format{SampleRate: 16000, Channels: 1, BitDepth: 16}, 100, 3200},
		{chunk.Format{SampleRate: 16000, Channels: 2, BitDepth: 16}, 50, 3200},
		{chunk.Format{SampleRate: 44100, Channels: 2, BitDepth: 16}, 10, 1764},
		{chunk.Format{SampleRate: 8000, Channels: 1, BitDepth: 16}, 0, 1600},
		{chunk.Format{SampleRate: 1, Channels: 1, BitDepth: 16}, 1, 2},
	}
	for _, tc := range tests {
		assert.Equal(t, tc.want, fragmentSize(tc.format, tc.ms))
	}
}

func TestEmitterSendsNothingAfterStop(t *testing.T) {
	e := newEmitter(4)
	assert.True(t, e.fragment([]byte("a")))
	assert.True(t, e.finish(nil))
	assert.False(t, e.finish(errors.New("late")))
	assert.False(t, e.fragment([]byte("b")))

	var kinds []EventKind
	for ev := range e.events {
		kinds = append(kinds, ev.Kind)
	}
	assert.Equal(t, []EventKind{EventFragment, EventStopped}, kinds)
}
