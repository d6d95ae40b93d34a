//go:build !whispercpp

package engine

import (
	"context"
	"log/slog"

	"github.com/loqalabs/loqa-dictate/internal/config"
)

// NativeAvailable reports whether the whisper.cpp backend is compiled in.
func NativeAvailable() bool { return false }

func newWhisperLoader(config.EngineConfig, *slog.Logger) Loader {
	return func(context.Context, LoadRequest) (Recognizer, error) {
		return nil, ErrNativeUnavailable
	}
}
