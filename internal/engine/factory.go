package engine

import (
	"fmt"
	"log/slog"

	"github.com/loqalabs/loqa-dictate/internal/config"
)

// NewLoader returns the loader for the configured backend.
func NewLoader(cfg config.EngineConfig, logger *slog.Logger) (Loader, error) {
	switch cfg.Mode {
	case "", "mock":
		return MockLoader(cfg.MockText), nil
	case "exec":
		return NewExecLoader(cfg, logger)
	case "whisper":
		if !NativeAvailable() {
			logger.Warn("whisper backend disabled at build time", slog.String("model_path", cfg.ModelPath))
		}
		return newWhisperLoader(cfg, logger), nil
	default:
		return nil, fmt.Errorf("unsupported engine mode %q", cfg.Mode)
	}
}

// New builds an unloaded Handle for cfg.
func New(cfg config.EngineConfig, logger *slog.Logger) (*Handle, error) {
	if logger == nil {
		logger = slog.Default()
	}
	loader, err := NewLoader(cfg, logger)
	if err != nil {
		return nil, err
	}
	opts, err := ParseOptions(cfg.Precision, cfg.Accelerator)
	if err != nil {
		return nil, err
	}
	return NewHandle(loader, opts, logger), nil
}
