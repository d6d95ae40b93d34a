package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/metric"

	"github.com/loqalabs/loqa-dictate/internal/capture"
	"github.com/loqalabs/loqa-dictate/internal/chunk"
	"github.com/loqalabs/loqa-dictate/internal/engine"
	"github.com/loqalabs/loqa-dictate/internal/report"
	"github.com/loqalabs/loqa-dictate/internal/transcript"
)

// Engine is the part of engine.Handle the controller depends on.
type Engine interface {
	Ready() bool
	LastError() error
	Transcribe(ctx context.Context, payload *chunk.Payload) (engine.Result, error)
}

type Config struct {
	Policy   Policy
	Interval time.Duration
	Format   chunk.Format

	// Meter defaults to the global meter provider.
	Meter metric.MeterProvider
}

// Controller owns the recording lifecycle. All state transitions happen under mu;
// capture events, interval boundaries and engine completions are serialized through it.
// At most one transcription is in flight and it always runs to completion.
type Controller struct {
	engine   Engine
	device   capture.Device
	cfg      Config
	log      *slog.Logger
	agg      *transcript.Aggregator
	reporter *report.Reporter
	metrics  *metrics
	queue    *eventQueue

	newTicker func(time.Duration) (<-chan time.Time, func())
	newID     func() string

	mu          sync.Mutex
	state       State
	starting    bool
	closed      bool
	sessionID   string
	cycles      int
	gen         int
	stream      capture.Stream
	live        *cycle
	inflight    *cycle
	userStopped bool
	streamEnded bool
	endErr      error
	tickStop    chan struct{}

	wg sync.WaitGroup
}

// cycle is one Recording -> Transcribing pass with its own buffer.
type cycle struct {
	buffer  *chunk.Buffer
	started time.Time
}

func New(eng Engine, device capture.Device, cfg Config, log *slog.Logger) (*Controller, error) {
	if eng == nil {
		return nil, errors.New("session: engine is required")
	}
	if device == nil {
		return nil, errors.New("session: capture device is required")
	}
	policy, err := ParsePolicy(string(cfg.Policy))
	if err != nil {
		return nil, err
	}
	cfg.Policy = policy
	if cfg.Policy == PolicyChunkedInterval && cfg.Interval <= 0 {
		return nil, errors.New("session: chunked-interval policy requires a positive interval")
	}
	if cfg.Format == (chunk.Format{}) {
		cfg.Format = chunk.DefaultFormat
	}
	if log == nil {
		log = slog.Default()
	}
	log = log.With(slog.String("component", "session"))

	c := &Controller{
		engine:   eng,
		device:   device,
		cfg:      cfg,
		log:      log,
		agg:      transcript.NewAggregator(),
		reporter: report.New(log),
		queue:    newEventQueue(),
		newTicker: func(d time.Duration) (<-chan time.Time, func()) {
			t := time.NewTicker(d)
			return t.C, t.Stop
		},
		newID: uuid.NewString,
		state: StateIdle,
	}
	if err := c.initMetrics(cfg.Meter); err != nil {
		log.Warn("failed to initialize metrics", slog.String("error", err.Error()))
	}
	go c.queue.run()
	return c, nil
}

// Start begins a recording session.
func (c *Controller) Start(ctx context.Context) error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return ErrClosed
	}
	if c.state != StateIdle || c.starting {
		state := c.state
		c.mu.Unlock()
		c.reporter.Report(report.KindInvalidCommand, "start while "+string(state))
		return ErrAlreadyActive
	}
	if !c.engine.Ready() {
		detail := "model is still loading"
		if err := c.engine.LastError(); err != nil {
			detail = err.Error()
		}
		c.reporter.Report(report.KindEngineNotReady, detail)
		c.emitLocked(EventError)
		c.mu.Unlock()
		return fmt.Errorf("%w: %s", ErrEngineNotReady, detail)
	}
	c.starting = true
	c.mu.Unlock()

	stream, err := c.device.Acquire(ctx)

	c.mu.Lock()
	defer c.mu.Unlock()
	c.starting = false
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil && errors.Is(err, ctxErr) {
			return err
		}
		c.reporter.Report(report.KindDeviceUnavailable, causeOf(err, capture.ErrUnavailable))
		c.emitLocked(EventError)
		if !errors.Is(err, capture.ErrUnavailable) {
			err = fmt.Errorf("%w: %w", ErrDeviceUnavailable, err)
		}
		return err
	}
	if c.closed {
		go func() {
			go drain(stream)
			_ = stream.Stop()
		}()
		return ErrClosed
	}

	c.reporter.Clear()
	c.gen++
	c.sessionID = c.newID()
	c.state = StateRecording
	c.live = c.newCycle()
	c.stream = stream
	c.userStopped = false
	c.streamEnded = false
	c.endErr = nil

	gen := c.gen
	c.wg.Add(1)
	go c.pump(gen, stream)
	if c.cfg.Policy == PolicyChunkedInterval {
		c.startTickerLocked(gen)
	}

	c.log.Info("recording started",
		slog.String("session_id", c.sessionID),
		slog.String("policy", string(c.cfg.Policy)))
	c.emitLocked(EventState)
	return nil
}

// Stop ends the current recording. The transition to Stopping is immediate; the
// capture device's stop notification then triggers transcription.
func (c *Controller) Stop() error {
	c.mu.Lock()
	if c.state != StateRecording {
		state := c.state
		c.mu.Unlock()
		c.reporter.Report(report.KindInvalidCommand, "stop while "+string(state))
		return ErrNotRecording
	}
	c.userStopped = true
	c.state = StateStopping
	c.stopTickerLocked()
	c.emitLocked(EventState)
	if c.stream != nil {
		c.stopStreamAsyncLocked(c.stream)
	}
	c.mu.Unlock()
	return nil
}

// Reset clears the transcript and the current error.
func (c *Controller) Reset() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.agg.Reset()
	c.reporter.Clear()
	c.emitLocked(EventReset)
}

// Close stops capture and waits for background work, including an in-flight
// transcription, to finish.
func (c *Controller) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	c.gen++
	c.stopTickerLocked()
	stream := c.stream
	c.stream = nil
	if c.live != nil {
		c.discardLocked(c.live)
		c.live = nil
	}
	// an in-flight transcription still completes and ends the session
	if c.inflight == nil && c.state != StateIdle {
		c.state = StateIdle
		c.emitLocked(EventState)
	}
	c.mu.Unlock()

	var err error
	if stream != nil {
		err = stream.Stop()
	}
	c.wg.Wait()
	c.metrics.unregister(c.log)
	c.queue.close()
	return err
}

func (c *Controller) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

func (c *Controller) CurrentText() string {
	return c.agg.Text()
}

// CurrentError returns the user-facing error message, or "" when there is none.
func (c *Controller) CurrentError() string {
	return c.reporter.Message()
}

func (c *Controller) Segments() []string {
	return c.agg.Segments()
}

func (c *Controller) Policy() Policy {
	return c.cfg.Policy
}

func (c *Controller) Snapshot() Snapshot {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.snapshotLocked()
}

// Subscribe registers o for every subsequent event. The returned func unregisters it.
func (c *Controller) Subscribe(o Observer) func() {
	return c.queue.add(o)
}

func (c *Controller) snapshotLocked() Snapshot {
	current := c.reporter.Current()
	return Snapshot{
		SessionID:   c.sessionID,
		State:       c.state,
		Policy:      c.cfg.Policy,
		Text:        c.agg.Text(),
		Error:       current.Message,
		ErrorKind:   current.Kind,
		Cycle:       c.cycles,
		EngineReady: c.engine.Ready(),
		At:          time.Now(),
	}
}

func (c *Controller) emitLocked(kind EventKind) {
	c.queue.push(Event{Kind: kind, Snapshot: c.snapshotLocked()})
}

func (c *Controller) newCycle() *cycle {
	return &cycle{buffer: chunk.NewBuffer(c.cfg.Format), started: time.Now()}
}

func (c *Controller) pump(gen int, stream capture.Stream) {
	defer c.wg.Done()
	for ev := range stream.Events() {
		switch ev.Kind {
		case capture.EventFragment:
			c.onFragment(gen, ev.Data)
		case capture.EventStopped:
			c.onStreamStopped(gen, ev.Err)
		}
	}
}

func (c *Controller) onFragment(gen int, data []byte) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if gen != c.gen || c.live == nil {
		return
	}
	c.live.buffer.Append(data)
	c.metrics.captured(len(data))
}

func (c *Controller) onStreamStopped(gen int, err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if gen != c.gen {
		return
	}
	c.stream = nil
	c.stopTickerLocked()

	switch c.state {
	case StateStopping:
		if err != nil {
			c.failCaptureLocked(err)
			return
		}
		c.dispatchLocked(true)
	case StateRecording:
		if err != nil {
			c.failCaptureLocked(err)
			return
		}
		c.log.Info("capture ended, finishing recording", slog.String("session_id", c.sessionID))
		c.userStopped = true
		c.state = StateStopping
		c.emitLocked(EventState)
		c.dispatchLocked(true)
	case StateTranscribing:
		// picked up when the in-flight transcription completes
		c.streamEnded = true
		c.endErr = err
	}
}

func (c *Controller) startTickerLocked(gen int) {
	ticks, stop := c.newTicker(c.cfg.Interval)
	done := make(chan struct{})
	c.tickStop = done
	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		defer stop()
		for {
			select {
			case <-done:
				return
			case <-ticks:
				c.onBoundary(gen)
			}
		}
	}()
}

func (c *Controller) stopTickerLocked() {
	if c.tickStop != nil {
		close(c.tickStop)
		c.tickStop = nil
	}
}

// onBoundary cuts the live recording at an interval boundary. Boundaries that land
// while a transcription is in flight, or on an empty buffer, are skipped and the live
// buffer keeps growing.
func (c *Controller) onBoundary(gen int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if gen != c.gen || c.state != StateRecording || c.live == nil {
		if gen == c.gen && c.state == StateTranscribing {
			c.log.Debug("interval boundary skipped, transcription in flight")
		}
		return
	}
	if c.live.buffer.Len() == 0 {
		return
	}
	c.state = StateStopping
	c.emitLocked(EventState)
	c.dispatchLocked(false)
}

// dispatchLocked materializes the live buffer and hands it to the engine. When final
// is false a fresh buffer takes over for the next cycle.
func (c *Controller) dispatchLocked(final bool) {
	cyc := c.live
	if cyc == nil {
		c.endSessionLocked()
		return
	}
	if final {
		c.live = nil
	} else {
		c.live = c.newCycle()
	}
	payload := cyc.buffer.Materialize()
	c.cycles++
	c.inflight = cyc
	c.state = StateTranscribing
	c.emitLocked(EventState)

	if payload.Empty() {
		c.completeLocked(cyc, payload, engine.Result{}, nil, 0, true)
		return
	}
	c.log.Debug("dispatching payload",
		slog.Int("cycle", c.cycles),
		slog.Int("bytes", payload.Len()),
		slog.Duration("audio", payload.Duration()))
	c.wg.Add(1)
	go c.transcribe(cyc, payload)
}

func (c *Controller) transcribe(cyc *cycle, payload *chunk.Payload) {
	defer c.wg.Done()
	started := time.Now()
	res, err := c.engine.Transcribe(context.Background(), payload)
	elapsed := time.Since(started)

	c.mu.Lock()
	defer c.mu.Unlock()
	c.completeLocked(cyc, payload, res, err, elapsed, false)
}

func (c *Controller) completeLocked(cyc *cycle, payload *chunk.Payload, res engine.Result, err error, elapsed time.Duration, skipped bool) {
	if rerr := payload.Release(); rerr != nil {
		c.log.Warn("failed to release payload", slog.String("error", rerr.Error()))
	}
	c.discardLocked(cyc)
	if c.inflight != cyc {
		return
	}
	c.inflight = nil

	if err != nil {
		c.metrics.cycle("failed", elapsed)
		reason := err.Error()
		var terr *engine.TranscriptionError
		if errors.As(err, &terr) {
			reason = terr.Reason
		}
		c.reporter.Report(report.KindTranscriptionFailed, reason)
		c.emitLocked(EventError)
		c.endSessionLocked()
		return
	}

	outcome := "empty"
	if !skipped {
		outcome = "blank"
		c.reporter.Clear()
	}
	if c.agg.Append(res.Text) {
		outcome = "ok"
		c.queue.push(Event{
			Kind:     EventSegment,
			Snapshot: c.snapshotLocked(),
			Segment:  strings.Join(strings.Fields(res.Text), " "),
			Duration: elapsed,
		})
	}
	c.metrics.cycle(outcome, elapsed)
	c.log.Debug("transcription cycle complete",
		slog.String("outcome", outcome),
		slog.Duration("elapsed", elapsed),
		slog.Duration("cycle", time.Since(cyc.started)))

	if c.cfg.Policy == PolicyChunkedInterval && !c.closed && !c.userStopped && c.live != nil {
		if c.streamEnded {
			if c.endErr != nil {
				c.failCaptureLocked(c.endErr)
				return
			}
			c.userStopped = true
			c.state = StateStopping
			c.emitLocked(EventState)
			c.dispatchLocked(true)
			return
		}
		c.state = StateRecording
		c.emitLocked(EventState)
		return
	}
	c.endSessionLocked()
}

// failCaptureLocked handles a device that died mid-session: the live audio is
// discarded and the session returns to Idle.
func (c *Controller) failCaptureLocked(err error) {
	c.reporter.Report(report.KindDeviceUnavailable, causeOf(err, capture.ErrUnavailable))
	c.emitLocked(EventError)
	c.endSessionLocked()
}

func (c *Controller) endSessionLocked() {
	if c.live != nil {
		c.discardLocked(c.live)
		c.live = nil
	}
	c.stopTickerLocked()
	if c.stream != nil {
		c.stopStreamAsyncLocked(c.stream)
		c.stream = nil
	}
	c.gen++
	c.state = StateIdle
	c.log.Info("recording finished",
		slog.String("session_id", c.sessionID),
		slog.Int("cycles", c.cycles))
	c.emitLocked(EventState)
}

func (c *Controller) discardLocked(cyc *cycle) {
	if err := cyc.buffer.Reset(); err != nil {
		c.log.Warn("failed to release capture buffer", slog.String("error", err.Error()))
	}
}

// stopStreamAsyncLocked stops a stream without holding the lock. The stream's pump
// keeps draining it until the terminal event.
func (c *Controller) stopStreamAsyncLocked(stream capture.Stream) {
	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		if err := stream.Stop(); err != nil {
			c.log.Warn("failed to stop capture cleanly", slog.String("error", err.Error()))
		}
	}()
}

func causeOf(err, sentinel error) string {
	msg := err.Error()
	if trimmed := strings.TrimPrefix(msg, sentinel.Error()+": "); trimmed != msg {
		return trimmed
	}
	return msg
}

// drain consumes a stream nobody pumps so its producer can finish.
func drain(stream capture.Stream) {
	for range stream.Events() {
	}
}
