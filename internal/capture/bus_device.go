package capture

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"

	"github.com/nats-io/nats.go"

	"github.com/loqalabs/loqa-dictate/internal/bus"
	"github.com/loqalabs/loqa-dictate/internal/protocol"
)

// BusDevice receives audio frames published by a remote microphone on
// audio.frame.<source>. A frame marked final ends the stream.
type BusDevice struct {
	client *bus.Client
	source string
	log    *slog.Logger
}

func NewBusDevice(client *bus.Client, source string, log *slog.Logger) *BusDevice {
	if log == nil {
		log = slog.Default()
	}
	return &BusDevice{
		client: client,
		source: source,
		log:    log.With(slog.String("component", "capture"), slog.String("source", source)),
	}
}

func (d *BusDevice) Acquire(ctx context.Context) (Stream, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if !d.client.Healthy() {
		return nil, fmt.Errorf("%w: bus not connected", ErrUnavailable)
	}

	s := &busStream{emit: newEmitter(64), log: d.log}
	subject := protocol.AudioFrameSubject(d.source)
	sub, err := d.client.Subscribe(subject, s.handleFrame)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	if err := d.client.Flush(); err != nil {
		_ = sub.Unsubscribe()
		return nil, fmt.Errorf("%w: flush subscription: %v", ErrUnavailable, err)
	}

	s.mu.Lock()
	s.sub = sub
	s.mu.Unlock()
	if s.emit.isStopped() {
		// final frame arrived before the subscription was recorded
		_ = s.unsubscribe()
	}
	d.log.Debug("capture subscribed", slog.String("subject", subject))
	return s, nil
}

type busStream struct {
	emit *emitter
	log  *slog.Logger

	mu      sync.Mutex
	sub     *nats.Subscription
	lastSeq int
}

func (s *busStream) Events() <-chan Event {
	return s.emit.events
}

func (s *busStream) handleFrame(msg *nats.Msg) {
	var frame protocol.AudioFrame
	if err := json.Unmarshal(msg.Data, &frame); err != nil {
		s.log.Warn("failed to decode audio frame", slog.String("error", err.Error()))
		return
	}

	s.mu.Lock()
	if frame.Sequence > 0 && frame.Sequence <= s.lastSeq {
		s.mu.Unlock()
		s.log.Debug("dropping stale audio frame", slog.Int("sequence", frame.Sequence))
		return
	}
	if frame.Sequence > 0 {
		s.lastSeq = frame.Sequence
	}
	s.mu.Unlock()

	s.emit.fragment(frame.PCM)
	if frame.Final {
		s.unsubscribe()
		s.emit.finish(nil)
	}
}

func (s *busStream) Stop() error {
	err := s.unsubscribe()
	s.emit.finish(nil)
	return err
}

func (s *busStream) unsubscribe() error {
	s.mu.Lock()
	sub := s.sub
	s.sub = nil
	s.mu.Unlock()
	if sub == nil {
		return nil
	}
	if err := sub.Unsubscribe(); err != nil && err != nats.ErrConnectionClosed && err != nats.ErrBadSubscription {
		return fmt.Errorf("unsubscribe audio frames: %w", err)
	}
	return nil
}
