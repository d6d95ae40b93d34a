package engine

import (
	"context"
	"errors"
	"fmt"

	"github.com/loqalabs/loqa-dictate/internal/chunk"
)

// Result captures recognizer output for one payload.
type Result struct {
	Text       string
	Confidence float64
}

// Recognizer abstracts STT backends. A recognizer is created once by a Loader and is
// then used read-only for every transcription.
type Recognizer interface {
	Transcribe(ctx context.Context, payload *chunk.Payload) (Result, error)
}

// Loader creates a recognizer for the requested device and precision.
type Loader func(ctx context.Context, req LoadRequest) (Recognizer, error)

// deviceReporter is implemented by recognizers that pick their own device.
type deviceReporter interface {
	Device() Device
}

var (
	ErrNotReady               = errors.New("engine not ready")
	ErrAcceleratorUnavailable = errors.New("accelerator unavailable")
	ErrNativeUnavailable      = errors.New("native whisper backend not built; rebuild with -tags whispercpp")
)

// TranscriptionError wraps a backend failure for a single payload.
type TranscriptionError struct {
	Reason string
	Err    error
}

func (e *TranscriptionError) Error() string {
	return fmt.Sprintf("transcription failed: %s", e.Reason)
}

func (e *TranscriptionError) Unwrap() error {
	return e.Err
}
