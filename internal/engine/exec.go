package engine

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os/exec"
	"strings"
	"sync"

	"github.com/mattn/go-shellwords"

	"github.com/loqalabs/loqa-dictate/internal/chunk"
	"github.com/loqalabs/loqa-dictate/internal/config"
)

type execRecognizer struct {
	cmd    []string
	cfg    config.EngineConfig
	req    LoadRequest
	mu     sync.Mutex
	logger *slog.Logger
}

type execResult struct {
	Text       string  `json:"text"`
	Confidence float64 `json:"confidence"`
}

// NewExecLoader returns a loader backed by an external recognizer command. With
// probe_on_load the command is asked whether the requested device works before the
// recognizer is handed out.
func NewExecLoader(cfg config.EngineConfig, logger *slog.Logger) (Loader, error) {
	parser := shellwords.NewParser()
	args, err := parser.Parse(cfg.Command)
	if err != nil {
		return nil, fmt.Errorf("parse engine command: %w", err)
	}
	if len(args) == 0 {
		return nil, fmt.Errorf("engine command is empty")
	}
	if logger == nil {
		logger = slog.Default()
	}
	return func(ctx context.Context, req LoadRequest) (Recognizer, error) {
		if cfg.ProbeOnLoad {
			if err := probe(ctx, args, req); err != nil {
				if req.Device == DeviceGPU {
					return nil, fmt.Errorf("%w: %w", ErrAcceleratorUnavailable, err)
				}
				return nil, err
			}
		}
		return &execRecognizer{cmd: args, cfg: cfg, req: req, logger: logger}, nil
	}, nil
}

func probe(ctx context.Context, args []string, req LoadRequest) error {
	cmdArgs := append([]string{}, args[1:]...)
	cmdArgs = append(cmdArgs, "--probe", "--device", string(req.Device), "--precision", string(req.Precision))
	command := exec.CommandContext(ctx, args[0], cmdArgs...)
	var stderr bytes.Buffer
	command.Stderr = &stderr
	if err := command.Run(); err != nil {
		return fmt.Errorf("engine probe failed: %w: %s", err, strings.TrimSpace(stderr.String()))
	}
	return nil
}

func (r *execRecognizer) Device() Device {
	return r.req.Device
}

func (r *execRecognizer) Transcribe(ctx context.Context, payload *chunk.Payload) (Result, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	path, err := payload.WAVFile()
	if err != nil {
		return Result{}, err
	}

	base := r.cmd[0]
	cmdArgs := append([]string{}, r.cmd[1:]...)
	cmdArgs = append(cmdArgs, "--audio", path)
	if r.cfg.ModelPath != "" {
		cmdArgs = append(cmdArgs, "--model", r.cfg.ModelPath)
	}
	if r.cfg.Language != "" {
		cmdArgs = append(cmdArgs, "--language", r.cfg.Language)
	}
	cmdArgs = append(cmdArgs, "--precision", string(r.req.Precision), "--device", string(r.req.Device))

	command := exec.CommandContext(ctx, base, cmdArgs...)
	var stdout bytes.Buffer
	var stderr bytes.Buffer
	command.Stdout = &stdout
	command.Stderr = &stderr

	if err := command.Run(); err != nil {
		return Result{}, fmt.Errorf("engine command failed: %w: %s", err, strings.TrimSpace(stderr.String()))
	}

	var resp execResult
	if err := json.Unmarshal(stdout.Bytes(), &resp); err != nil {
		return Result{}, fmt.Errorf("decode engine response: %w", err)
	}
	r.logger.Debug("engine command finished",
		slog.Int("audio_bytes", payload.Len()),
		slog.Int("text_length", len(resp.Text)),
	)
	return Result{Text: resp.Text, Confidence: resp.Confidence}, nil
}
