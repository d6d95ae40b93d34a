package report

import (
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func newLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, &slog.HandlerOptions{Level: slog.LevelError}))
}

func TestReportOverwritesWithNewest(t *testing.T) {
	r := New(newLogger())
	fixed := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	r.now = func() time.Time { return fixed }

	assert.True(t, r.Report(KindDeviceUnavailable, "permission denied"))
	assert.True(t, r.Report(KindTranscriptionFailed, " decoder crashed "))

	cur := r.Current()
	assert.Equal(t, KindTranscriptionFailed, cur.Kind)
	assert.Equal(t, "decoder crashed", cur.Detail)
	assert.Equal(t, "An error occurred during transcription: decoder crashed", cur.Message)
	assert.Equal(t, fixed, cur.At)
	assert.Equal(t, cur.Message, r.Message())
}

func TestInvalidCommandIsNotSurfaced(t *testing.T) {
	r := New(newLogger())
	r.Report(KindEngineNotReady, "")

	assert.False(t, r.Report(KindInvalidCommand, "stop while idle"))
	assert.Equal(t, KindEngineNotReady, r.Current().Kind)
	assert.Equal(t, "Speech recognition is not ready.", r.Message())
}

func TestClear(t *testing.T) {
	r := New(newLogger())
	r.Report(KindDeviceUnavailable, "busy")
	r.Clear()

	assert.True(t, r.Current().IsZero())
	assert.Equal(t, "", r.Message())
}

func TestFormat(t *testing.T) {
	tests := []struct {
		kind   Kind
		detail string
		want   string
	}{
		{KindDeviceUnavailable, "no such device", "Microphone unavailable: no such device"},
		{KindEngineNotReady, "  ", "Speech recognition is not ready."},
		{Kind("other"), "x", "Unexpected error: x"},
	}
	for _, tc := range tests {
		assert.Equal(t, tc.want, Format(tc.kind, tc.detail))
	}
}
