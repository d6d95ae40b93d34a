package capture

import (
	"errors"
	"fmt"
	"log/slog"

	"github.com/loqalabs/loqa-dictate/internal/bus"
	"github.com/loqalabs/loqa-dictate/internal/config"
)

// New returns the device selected by cfg.Mode. The bus client is only needed in bus mode.
func New(cfg config.CaptureConfig, client *bus.Client, log *slog.Logger) (Device, error) {
	switch cfg.Mode {
	case "", "exec":
		return NewExecDevice(cfg, log)
	case "bus":
		if client == nil {
			return nil, errors.New("capture mode bus requires a bus connection")
		}
		return NewBusDevice(client, cfg.Source, log), nil
	default:
		return nil, fmt.Errorf("unsupported capture mode %q", cfg.Mode)
	}
}
