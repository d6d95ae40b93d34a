//go:build whispercpp

package engine

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"sync"

	whisper "github.com/ggerganov/whisper.cpp/bindings/go/pkg/whisper"

	"github.com/loqalabs/loqa-dictate/internal/chunk"
	"github.com/loqalabs/loqa-dictate/internal/config"
)

const whisperSampleRate = 16000

// NativeAvailable reports whether the whisper.cpp backend is compiled in.
func NativeAvailable() bool { return true }

type whisperRecognizer struct {
	model    whisper.Model
	language string
	threads  int
	mu       sync.Mutex
}

func newWhisperLoader(cfg config.EngineConfig, logger *slog.Logger) Loader {
	if logger == nil {
		logger = slog.Default()
	}
	return func(_ context.Context, req LoadRequest) (Recognizer, error) {
		if req.Precision == PrecisionFP16 {
			logger.Debug("whisper bindings ignore precision hint", slog.String("precision", string(req.Precision)))
		}
		model, err := whisper.New(cfg.ModelPath)
		if err != nil {
			return nil, fmt.Errorf("load whisper model %q: %w", cfg.ModelPath, err)
		}
		return &whisperRecognizer{model: model, language: cfg.Language, threads: cfg.Threads}, nil
	}
}

// Device is chosen by whisper.cpp itself at build time.
func (w *whisperRecognizer) Device() Device {
	return DeviceAuto
}

func (w *whisperRecognizer) Transcribe(ctx context.Context, payload *chunk.Payload) (Result, error) {
	if err := ctx.Err(); err != nil {
		return Result{}, err
	}
	if rate := payload.Format().SampleRate; rate != whisperSampleRate {
		return Result{}, fmt.Errorf("whisper requires %d Hz audio, got %d", whisperSampleRate, rate)
	}
	samples, err := payload.Samples()
	if err != nil {
		return Result{}, err
	}

	w.mu.Lock()
	defer w.mu.Unlock()

	wctx, err := w.model.NewContext()
	if err != nil {
		return Result{}, fmt.Errorf("create whisper context: %w", err)
	}
	if w.language != "" && w.model.IsMultilingual() {
		if err := wctx.SetLanguage(w.language); err != nil {
			return Result{}, fmt.Errorf("set language: %w", err)
		}
	}
	if w.threads > 0 {
		wctx.SetThreads(uint(w.threads))
	}
	if err := wctx.Process(samples, nil, nil, nil); err != nil {
		return Result{}, fmt.Errorf("whisper process: %w", err)
	}

	var segments []string
	for {
		seg, err := wctx.NextSegment()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return Result{}, fmt.Errorf("whisper next segment: %w", err)
		}
		segments = append(segments, strings.TrimSpace(seg.Text))
	}
	return Result{Text: strings.TrimSpace(strings.Join(segments, " "))}, nil
}

func (w *whisperRecognizer) Close() error {
	return w.model.Close()
}
