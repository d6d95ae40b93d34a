package eventstore

import (
	"context"
	"io"
	"log/slog"
	"path/filepath"
	"testing"
	"time"

	"github.com/loqalabs/loqa-dictate/internal/config"
)

func newLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, &slog.HandlerOptions{Level: slog.LevelError}))
}

func TestOpenEphemeral(t *testing.T) {
	ctx := context.Background()
	cfg := config.EventStoreConfig{RetentionMode: ModeEphemeral}
	es, err := Open(ctx, cfg, newLogger())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	t.Cleanup(func() { _ = es.Close() })
	if es.Enabled() {
		t.Fatalf("ephemeral store should not persist")
	}
	if err := es.AppendSession(ctx, "s", "single-shot"); err != nil {
		t.Fatalf("append session: %v", err)
	}
	events, err := es.ListSessionEvents(ctx, "s", 10)
	if err != nil || events != nil {
		t.Fatalf("expected no events, got %v %v", events, err)
	}
}

func TestAppendAndQuery(t *testing.T) {
	tmp := t.TempDir()
	cfg := config.EventStoreConfig{Path: filepath.Join(tmp, "events.db"), RetentionMode: ModeSession}
	es, err := Open(context.Background(), cfg, newLogger())
	if err != nil {
		t.Fatalf("open event store: %v", err)
	}
	t.Cleanup(func() { _ = es.Close() })

	ctx := context.Background()
	sessionID := "session-123"
	if err := es.AppendSession(ctx, sessionID, "chunked-interval"); err != nil {
		t.Fatalf("append session: %v", err)
	}
	steps := []Event{
		{SessionID: sessionID, Type: "state", State: "recording"},
		{SessionID: sessionID, Type: "segment", State: "transcribing", Cycle: 1, SegmentLen: 11},
		{SessionID: sessionID, Type: "error", State: "transcribing", ErrorKind: "transcription_failed", Cycle: 2},
	}
	for _, evt := range steps {
		if err := es.AppendEvent(ctx, evt); err != nil {
			t.Fatalf("append event: %v", err)
		}
	}
	events, err := es.ListSessionEvents(ctx, sessionID, 10)
	if err != nil {
		t.Fatalf("list events: %v", err)
	}
	if len(events) != 3 {
		t.Fatalf("expected 3 events, got %d", len(events))
	}
	if events[1].Type != "segment" || events[1].SegmentLen != 11 || events[1].Cycle != 1 {
		t.Fatalf("unexpected segment event: %+v", events[1])
	}
	if events[2].ErrorKind != "transcription_failed" {
		t.Fatalf("unexpected error event: %+v", events[2])
	}
	if events[0].CreatedAt.IsZero() {
		t.Fatalf("expected created_at to be decoded")
	}

	sessions, err := es.ListSessions(ctx, 10)
	if err != nil {
		t.Fatalf("list sessions: %v", err)
	}
	if len(sessions) != 1 || sessions[0].Policy != "chunked-interval" {
		t.Fatalf("unexpected sessions: %+v", sessions)
	}
}

func TestAppendSessionRequiresID(t *testing.T) {
	cfg := config.EventStoreConfig{Path: filepath.Join(t.TempDir(), "events.db"), RetentionMode: ModeSession}
	es, err := Open(context.Background(), cfg, newLogger())
	if err != nil {
		t.Fatalf("open event store: %v", err)
	}
	t.Cleanup(func() { _ = es.Close() })
	if err := es.AppendSession(context.Background(), "", "single-shot"); err == nil {
		t.Fatalf("expected error for empty session id")
	}
}

func TestPruneByDaysAndSessions(t *testing.T) {
	tmp := t.TempDir()
	cfg := config.EventStoreConfig{Path: filepath.Join(tmp, "events.db"), RetentionMode: ModePersistent, RetentionDays: 1, MaxSessions: 1}
	es, err := Open(context.Background(), cfg, newLogger())
	if err != nil {
		t.Fatalf("open event store: %v", err)
	}
	t.Cleanup(func() { _ = es.Close() })

	es.clock = func() time.Time { return time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC) }
	if err := es.AppendSession(context.Background(), "old-session", "single-shot"); err != nil {
		t.Fatalf("append session: %v", err)
	}
	if err := es.AppendEvent(context.Background(), Event{SessionID: "old-session", Type: "state", State: "idle"}); err != nil {
		t.Fatalf("append event: %v", err)
	}

	es.clock = func() time.Time { return time.Date(2025, 1, 3, 0, 0, 0, 0, time.UTC) }
	if err := es.AppendSession(context.Background(), "new-session", "single-shot"); err != nil {
		t.Fatalf("append session: %v", err)
	}
	if err := es.Prune(context.Background()); err != nil {
		t.Fatalf("prune: %v", err)
	}

	events, err := es.ListSessionEvents(context.Background(), "old-session", 10)
	if err != nil {
		t.Fatalf("list events: %v", err)
	}
	if len(events) != 0 {
		t.Fatalf("expected old session pruned")
	}
	sessions, err := es.ListSessions(context.Background(), 10)
	if err != nil {
		t.Fatalf("list sessions: %v", err)
	}
	if len(sessions) != 1 || sessions[0].ID != "new-session" {
		t.Fatalf("unexpected sessions after prune: %+v", sessions)
	}
}
