package capture

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/exec"
	"strconv"
	"sync"
	"time"

	"github.com/mattn/go-shellwords"

	"github.com/loqalabs/loqa-dictate/internal/chunk"
	"github.com/loqalabs/loqa-dictate/internal/config"
)

const (
	startupGrace = 250 * time.Millisecond
	stopGrace    = 1200 * time.Millisecond
)

// ExecDevice streams PCM from a recorder subprocess's stdout. A bare command name is
// treated as ffmpeg and given the capture arguments; a command with arguments is run
// as-is and must write raw PCM16 to stdout.
type ExecDevice struct {
	args          []string
	format        chunk.Format
	fragmentBytes int
	log           *slog.Logger
}

func NewExecDevice(cfg config.CaptureConfig, log *slog.Logger) (*ExecDevice, error) {
	parser := shellwords.NewParser()
	args, err := parser.Parse(cfg.Command)
	if err != nil {
		return nil, fmt.Errorf("parse capture command: %w", err)
	}
	if len(args) == 0 {
		return nil, errors.New("capture command is empty")
	}
	format := chunk.Format{SampleRate: cfg.SampleRate, Channels: cfg.Channels, BitDepth: 16}
	if format.SampleRate <= 0 {
		format.SampleRate = chunk.DefaultFormat.SampleRate
	}
	if format.Channels <= 0 {
		format.Channels = chunk.DefaultFormat.Channels
	}
	if len(args) == 1 {
		inputFormat := cfg.InputFormat
		if inputFormat == "" {
			inputFormat = "pulse"
		}
		inputDevice := cfg.InputDevice
		if inputDevice == "" {
			inputDevice = "default"
		}
		args = append(args,
			"-nostdin",
			"-hide_banner",
			"-loglevel", "warning",
			"-f", inputFormat,
			"-i", inputDevice,
			"-ac", strconv.Itoa(format.Channels),
			"-ar", strconv.Itoa(format.SampleRate),
			"-f", "s16le",
			"-",
		)
	}
	if log == nil {
		log = slog.Default()
	}
	return &ExecDevice{
		args:          args,
		format:        format,
		fragmentBytes: fragmentSize(format, cfg.FragmentMS),
		log:           log.With(slog.String("component", "capture")),
	}, nil
}

// fragmentSize returns the byte length of fragmentMS of audio, aligned to whole frames.
func fragmentSize(format chunk.Format, fragmentMS int) int {
	if fragmentMS <= 0 {
		fragmentMS = 100
	}
	frame := format.Channels * format.BitDepth / 8
	if frame <= 0 {
		frame = 2
	}
	size := format.BytesPerSecond() * fragmentMS / 1000
	size -= size % frame
	if size < frame {
		size = frame
	}
	return size
}

func (d *ExecDevice) Format() chunk.Format {
	return d.format
}

func (d *ExecDevice) Acquire(ctx context.Context) (Stream, error) {
	cmd := exec.Command(d.args[0], d.args[1:]...)
	stderr := &lockedBuffer{}
	cmd.Stderr = stderr
	// Grandchildren can keep the pipes open after the recorder exits.
	cmd.WaitDelay = stopGrace

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, fmt.Errorf("%w: create recorder stdout pipe: %v", ErrUnavailable, err)
	}
	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("%w: start recorder: %v", ErrUnavailable, err)
	}

	s := &execStream{
		cmd:     cmd,
		stdout:  stdout,
		stderr:  stderr,
		emit:    newEmitter(16),
		exited:  make(chan struct{}),
		size:    d.fragmentBytes,
		log:     d.log,
		started: time.Now(),
	}
	go s.run()

	select {
	case <-s.exited:
		s.emit.discard()
		if s.waitErr != nil {
			return nil, fmt.Errorf("%w: recorder exited before capture started: %v: %s", ErrUnavailable, s.waitErr, stderr.trimmed())
		}
		return nil, fmt.Errorf("%w: recorder exited before capture started", ErrUnavailable)
	case <-ctx.Done():
		s.emit.discard()
		_ = s.Stop()
		return nil, ctx.Err()
	case <-time.After(startupGrace):
	}

	d.log.Debug("capture started", slog.Int("pid", cmd.Process.Pid), slog.Int("fragment_bytes", d.fragmentBytes))
	return s, nil
}

type execStream struct {
	cmd     *exec.Cmd
	stdout  io.ReadCloser
	stderr  *lockedBuffer
	emit    *emitter
	size    int
	log     *slog.Logger
	started time.Time

	exited  chan struct{}
	waitErr error

	mu        sync.Mutex
	requested bool

	stopOnce sync.Once
	stopErr  error
}

func (s *execStream) Events() <-chan Event {
	return s.emit.events
}

func (s *execStream) run() {
	var readErr error
	for {
		buf := make([]byte, s.size)
		n, err := io.ReadFull(s.stdout, buf)
		if n > 0 {
			s.emit.fragment(buf[:n])
		}
		if err != nil {
			if !errors.Is(err, io.EOF) && !errors.Is(err, io.ErrUnexpectedEOF) && !errors.Is(err, os.ErrClosed) {
				readErr = err
			}
			break
		}
	}
	s.waitErr = s.cmd.Wait()
	close(s.exited)

	s.mu.Lock()
	requested := s.requested
	s.mu.Unlock()

	var final error
	switch {
	case requested:
	case readErr != nil:
		final = fmt.Errorf("%w: read audio: %v", ErrUnavailable, readErr)
	case s.waitErr != nil:
		final = fmt.Errorf("%w: recorder exited: %v: %s", ErrUnavailable, s.waitErr, s.stderr.trimmed())
	}
	s.emit.finish(final)
	s.log.Debug("capture stopped", slog.Duration("elapsed", time.Since(s.started)), slog.Bool("requested", requested))
}

// Stop interrupts the recorder, escalating to kill after a grace period.
func (s *execStream) Stop() error {
	s.stopOnce.Do(func() {
		s.mu.Lock()
		s.requested = true
		s.mu.Unlock()

		if s.cmd.Process != nil {
			_ = s.cmd.Process.Signal(os.Interrupt)
		}
		select {
		case <-s.exited:
		case <-time.After(stopGrace):
			if s.cmd.Process != nil {
				_ = s.cmd.Process.Kill()
			}
			_ = s.stdout.Close()
			<-s.exited
		}
		s.stopErr = normalizeStopErr(s.waitErr)
		if s.stopErr != nil {
			s.stopErr = fmt.Errorf("%w: %s", s.stopErr, s.stderr.trimmed())
		}
	})
	return s.stopErr
}

func normalizeStopErr(err error) error {
	if err == nil {
		return nil
	}
	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		return nil
	}
	return err
}

// lockedBuffer guards stderr, which the exec package writes from its own goroutine.
type lockedBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *lockedBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *lockedBuffer) trimmed() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return string(bytes.TrimSpace(b.buf.Bytes()))
}
