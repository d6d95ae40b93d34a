package engine

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/loqalabs/loqa-dictate/internal/chunk"
)

const tracerName = "github.com/loqalabs/loqa-dictate/internal/engine"

// Handle owns the single recognizer instance for the process. Once loaded it never
// returns to the not-ready state.
type Handle struct {
	loader Loader
	opts   Options
	log    *slog.Logger
	tracer trace.Tracer

	mu       sync.Mutex
	inflight *loadCall
	rec      Recognizer
	device   Device
	loads    int
	lastErr  error
	readyAt  time.Time
	readyChs []chan struct{}
}

type loadCall struct {
	done chan struct{}
	err  error
}

func NewHandle(loader Loader, opts Options, log *slog.Logger) *Handle {
	if log == nil {
		log = slog.Default()
	}
	return &Handle{
		loader: loader,
		opts:   opts,
		log:    log.With(slog.String("component", "engine")),
		tracer: otel.Tracer(tracerName),
	}
}

// Load initializes the recognizer. Concurrent callers share one initialization and
// its outcome; a loaded handle returns immediately.
func (h *Handle) Load(ctx context.Context) error {
	h.mu.Lock()
	if h.rec != nil {
		h.mu.Unlock()
		return nil
	}
	if call := h.inflight; call != nil {
		h.mu.Unlock()
		select {
		case <-call.done:
			return call.err
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	call := &loadCall{done: make(chan struct{})}
	h.inflight = call
	h.loads++
	h.mu.Unlock()

	rec, device, err := h.load(ctx)

	h.mu.Lock()
	var waiters []chan struct{}
	if err == nil {
		h.rec = rec
		h.device = device
		h.lastErr = nil
		h.readyAt = time.Now()
		waiters = h.readyChs
		h.readyChs = nil
	} else {
		h.lastErr = err
	}
	h.inflight = nil
	h.mu.Unlock()

	call.err = err
	close(call.done)
	for _, ch := range waiters {
		close(ch)
	}
	return err
}

func (h *Handle) load(ctx context.Context) (Recognizer, Device, error) {
	ctx, span := h.tracer.Start(ctx, "engine.load", trace.WithAttributes(
		attribute.String("engine.precision", string(h.opts.Precision)),
		attribute.String("engine.accelerator", string(h.opts.Accelerator)),
	))
	defer span.End()

	if h.loader == nil {
		err := fmt.Errorf("%w: no loader configured", ErrNotReady)
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, DeviceNone, err
	}

	started := time.Now()
	var failures []error
	for _, device := range h.opts.candidates() {
		rec, err := h.loader(ctx, LoadRequest{Precision: h.opts.Precision, Device: device})
		if err != nil {
			failures = append(failures, fmt.Errorf("%s: %w", device, err))
			if ctx.Err() != nil {
				break
			}
			h.log.Info("engine device unavailable, falling back",
				slog.String("device", string(device)),
				slog.String("error", err.Error()),
			)
			continue
		}
		if reporter, ok := rec.(deviceReporter); ok {
			device = reporter.Device()
		}
		span.SetAttributes(attribute.String("engine.device", string(device)))
		h.log.Info("transcriber loaded",
			slog.String("device", string(device)),
			slog.String("precision", string(h.opts.Precision)),
			slog.Duration("elapsed", time.Since(started)),
		)
		return rec, device, nil
	}

	err := fmt.Errorf("%w: %w", ErrNotReady, errors.Join(failures...))
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
	h.log.Error("engine load failed", slog.String("error", err.Error()))
	return nil, DeviceNone, err
}

func (h *Handle) Ready() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.rec != nil
}

// WaitReady returns a channel closed once the handle is loaded.
func (h *Handle) WaitReady() <-chan struct{} {
	h.mu.Lock()
	defer h.mu.Unlock()
	ch := make(chan struct{})
	if h.rec != nil {
		close(ch)
		return ch
	}
	h.readyChs = append(h.readyChs, ch)
	return ch
}

// Device reports the device chosen during load, for diagnostics only.
func (h *Handle) Device() Device {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.device
}

// Loads returns how many underlying initializations have been attempted.
func (h *Handle) Loads() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.loads
}

// LastError returns the reason of the most recent failed load, if the handle is not ready.
func (h *Handle) LastError() error {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.lastErr
}

func (h *Handle) Options() Options {
	return h.opts
}

// Transcribe runs one recognition call. It never imposes a timeout of its own.
func (h *Handle) Transcribe(ctx context.Context, payload *chunk.Payload) (Result, error) {
	h.mu.Lock()
	rec := h.rec
	device := h.device
	h.mu.Unlock()
	if rec == nil {
		return Result{}, ErrNotReady
	}
	if payload == nil {
		return Result{}, &TranscriptionError{Reason: "no audio payload"}
	}

	ctx, span := h.tracer.Start(ctx, "engine.transcribe", trace.WithAttributes(
		attribute.String("engine.device", string(device)),
		attribute.Int("audio.bytes", payload.Len()),
		attribute.Int("audio.fragments", payload.Fragments()),
	))
	defer span.End()

	res, err := rec.Transcribe(ctx, payload)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		var terr *TranscriptionError
		if errors.As(err, &terr) {
			return Result{}, terr
		}
		return Result{}, &TranscriptionError{Reason: err.Error(), Err: err}
	}
	span.SetAttributes(attribute.Int("transcript.length", len(res.Text)))
	return res, nil
}

// Close releases the recognizer when the backend holds native resources.
func (h *Handle) Close() error {
	h.mu.Lock()
	rec := h.rec
	h.mu.Unlock()
	if closer, ok := rec.(io.Closer); ok {
		return closer.Close()
	}
	return nil
}
