package runtime

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/loqalabs/loqa-dictate/internal/engine"
	"github.com/loqalabs/loqa-dictate/internal/session"
)

// sessionAPI is the controller surface the HTTP API drives.
type sessionAPI interface {
	Start(ctx context.Context) error
	Stop() error
	Reset()
	Snapshot() session.Snapshot
}

type engineAPI interface {
	Ready() bool
	Load(ctx context.Context) error
	LastError() error
	Device() engine.Device
}

type api struct {
	ctrl    sessionAPI
	engine  engineAPI
	hub     *hub
	metrics http.Handler
	log     *slog.Logger
}

type errorResponse struct {
	Error string `json:"error"`
	Kind  string `json:"kind,omitempty"`
}

type engineStatus struct {
	Ready  bool   `json:"ready"`
	Device string `json:"device,omitempty"`
	Error  string `json:"error,omitempty"`
}

func (a *api) routes() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /healthz", a.handleHealth)
	mux.HandleFunc("GET /readyz", a.handleReady)
	mux.HandleFunc("GET /v1/session", a.handleSnapshot)
	mux.HandleFunc("POST /v1/session/start", a.handleStart)
	mux.HandleFunc("POST /v1/session/stop", a.handleStop)
	mux.HandleFunc("POST /v1/session/reset", a.handleReset)
	mux.HandleFunc("GET /v1/engine", a.handleEngine)
	mux.HandleFunc("POST /v1/engine/load", a.handleEngineLoad)
	if a.hub != nil {
		mux.Handle("GET /v1/session/stream", a.hub)
	}
	if a.metrics != nil {
		mux.Handle("GET /metrics", a.metrics)
	}
	return mux
}

func (a *api) handleHealth(w http.ResponseWriter, _ *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}

func (a *api) handleReady(w http.ResponseWriter, _ *http.Request) {
	if a.engine.Ready() {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ready"))
		return
	}
	w.WriteHeader(http.StatusServiceUnavailable)
	_, _ = w.Write([]byte("not ready"))
}

func (a *api) handleSnapshot(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, a.ctrl.Snapshot())
}

func (a *api) handleStart(w http.ResponseWriter, r *http.Request) {
	a.command(w, a.ctrl.Start(r.Context()))
}

func (a *api) handleStop(w http.ResponseWriter, _ *http.Request) {
	a.command(w, a.ctrl.Stop())
}

func (a *api) handleReset(w http.ResponseWriter, _ *http.Request) {
	a.ctrl.Reset()
	a.command(w, nil)
}

func (a *api) command(w http.ResponseWriter, err error) {
	if err == nil {
		writeJSON(w, http.StatusOK, a.ctrl.Snapshot())
		return
	}
	status := statusFor(err)
	if status >= http.StatusInternalServerError && status != http.StatusServiceUnavailable {
		a.log.Error("session command failed", slog.String("error", err.Error()))
	}
	snap := a.ctrl.Snapshot()
	writeJSON(w, status, errorResponse{Error: err.Error(), Kind: string(snap.ErrorKind)})
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, session.ErrInvalidCommand):
		return http.StatusConflict
	case errors.Is(err, session.ErrDeviceUnavailable), errors.Is(err, session.ErrEngineNotReady):
		return http.StatusServiceUnavailable
	case errors.Is(err, session.ErrClosed):
		return http.StatusGone
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return http.StatusRequestTimeout
	default:
		return http.StatusInternalServerError
	}
}

func (a *api) handleEngine(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, a.engineStatus())
}

// handleEngineLoad retries a failed engine load. Loading an already loaded engine is a no-op.
func (a *api) handleEngineLoad(w http.ResponseWriter, r *http.Request) {
	if err := a.engine.Load(r.Context()); err != nil {
		writeJSON(w, http.StatusServiceUnavailable, errorResponse{Error: err.Error(), Kind: "engine_not_ready"})
		return
	}
	writeJSON(w, http.StatusOK, a.engineStatus())
}

func (a *api) engineStatus() engineStatus {
	status := engineStatus{Ready: a.engine.Ready(), Device: string(a.engine.Device())}
	if err := a.engine.LastError(); err != nil {
		status.Error = err.Error()
	}
	return status
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
