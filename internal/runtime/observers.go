package runtime

import (
	"context"
	"log/slog"
	"time"

	"github.com/loqalabs/loqa-dictate/internal/bus"
	"github.com/loqalabs/loqa-dictate/internal/eventstore"
	"github.com/loqalabs/loqa-dictate/internal/protocol"
	"github.com/loqalabs/loqa-dictate/internal/session"
)

const storeTimeout = 2 * time.Second

// busPublisher mirrors controller events onto the bus so other loqa services can follow
// dictation without polling the HTTP API.
type busPublisher struct {
	client *bus.Client
	log    *slog.Logger
}

func newBusPublisher(client *bus.Client, log *slog.Logger) *busPublisher {
	return &busPublisher{client: client, log: log.With(slog.String("component", "publisher"))}
}

func (p *busPublisher) observe(ev session.Event) {
	snap := ev.Snapshot
	update := protocol.SessionUpdate{
		SessionID: snap.SessionID,
		State:     string(snap.State),
		Policy:    string(snap.Policy),
		Text:      snap.Text,
		Error:     snap.Error,
		ErrorKind: string(snap.ErrorKind),
		Cycle:     snap.Cycle,
		Timestamp: snap.At.UTC(),
	}
	if err := p.client.PublishJSON(protocol.SubjectSessionUpdate, update); err != nil {
		p.log.Warn("failed to publish session update", slog.String("error", err.Error()))
	}
	if ev.Kind != session.EventSegment {
		return
	}
	transcript := protocol.Transcript{
		SessionID: snap.SessionID,
		Text:      ev.Segment,
		Timestamp: snap.At.UTC(),
	}
	if err := p.client.PublishJSON(protocol.SubjectTranscriptFinal, transcript); err != nil {
		p.log.Warn("failed to publish transcript", slog.String("error", err.Error()))
	}
}

// timeline writes session lifecycle events to the event store. Observers run on one
// goroutine, so lastSession needs no locking.
type timeline struct {
	store       *eventstore.Store
	log         *slog.Logger
	lastSession string
}

func newTimeline(store *eventstore.Store, log *slog.Logger) *timeline {
	return &timeline{store: store, log: log.With(slog.String("component", "timeline"))}
}

func (t *timeline) observe(ev session.Event) {
	snap := ev.Snapshot
	if snap.SessionID == "" {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), storeTimeout)
	defer cancel()

	if snap.SessionID != t.lastSession {
		if err := t.store.AppendSession(ctx, snap.SessionID, string(snap.Policy)); err != nil {
			t.log.Warn("failed to record session", slog.String("error", err.Error()))
			return
		}
		t.lastSession = snap.SessionID
	}

	evt := eventstore.Event{
		SessionID: snap.SessionID,
		Type:      string(ev.Kind),
		State:     string(snap.State),
		ErrorKind: string(snap.ErrorKind),
		Cycle:     snap.Cycle,
	}
	if ev.Kind == session.EventSegment {
		evt.SegmentLen = len(ev.Segment)
	}
	if err := t.store.AppendEvent(ctx, evt); err != nil {
		t.log.Warn("failed to record session event", slog.String("error", err.Error()))
	}
}
