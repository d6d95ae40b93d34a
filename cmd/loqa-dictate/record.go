package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/loqalabs/loqa-dictate/internal/bus"
	"github.com/loqalabs/loqa-dictate/internal/capture"
	"github.com/loqalabs/loqa-dictate/internal/engine"
	"github.com/loqalabs/loqa-dictate/internal/natsserver"
	"github.com/loqalabs/loqa-dictate/internal/runtime"
	"github.com/loqalabs/loqa-dictate/internal/session"
)

var recordPolicy string

var recordCmd = &cobra.Command{
	Use:   "record",
	Short: "Dictate in the terminal: Enter toggles recording, r resets, q quits",
	RunE:  runRecord,
}

func init() {
	recordCmd.Flags().StringVar(&recordPolicy, "policy", "", "override session.policy (single-shot or chunked-interval)")
}

func runRecord(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	if recordPolicy != "" {
		cfg.Session.Policy = recordPolicy
	}
	logger := newLogger(cmd.ErrOrStderr(), cfg.Telemetry.LogLevel, false)
	out := cmd.OutOrStdout()

	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	var client *bus.Client
	if cfg.Bus.Enabled {
		busCfg := cfg.Bus
		if busCfg.Embedded {
			srv, err := natsserver.Start(busCfg, logger)
			if err != nil {
				return err
			}
			defer srv.Shutdown()
			busCfg.Servers = []string{srv.ClientURL()}
		}
		client, err = bus.Connect(ctx, busCfg, logger)
		if err != nil {
			return err
		}
		defer client.Close()
	}

	handle, err := engine.New(cfg.Engine, logger)
	if err != nil {
		return err
	}
	defer handle.Close()

	device, err := capture.New(cfg.Capture, client, logger)
	if err != nil {
		return err
	}
	ctrl, err := session.New(handle, device, runtime.SessionConfig(cfg), logger)
	if err != nil {
		return err
	}
	defer ctrl.Close()
	ctrl.Subscribe(printer(out))

	fmt.Fprintln(out, "Loading transcriber...")
	if err := handle.Load(ctx); err != nil {
		fmt.Fprintf(out, "Transcriber failed to load: %v\n", err)
	} else {
		fmt.Fprintf(out, "Transcriber loaded (%s). Press Enter to start recording.\n", handle.Device())
	}

	return commandLoop(ctx, os.Stdin, out, ctrl)
}

type recorder interface {
	Start(ctx context.Context) error
	Stop() error
	Reset()
	State() session.State
	CurrentText() string
}

// commandLoop reads one command per line until q, EOF or cancellation.
func commandLoop(ctx context.Context, in io.Reader, out io.Writer, rec recorder) error {
	lines := make(chan string)
	go func() {
		defer close(lines)
		scanner := bufio.NewScanner(in)
		for scanner.Scan() {
			select {
			case lines <- scanner.Text():
			case <-ctx.Done():
				return
			}
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return nil
		case line, ok := <-lines:
			if !ok {
				return nil
			}
			switch strings.ToLower(strings.TrimSpace(line)) {
			case "q", "quit":
				finish(ctx, out, rec)
				if text := rec.CurrentText(); text != "" {
					fmt.Fprintf(out, "\nFinal transcript:\n%s\n", text)
				}
				return nil
			case "r", "reset":
				rec.Reset()
			case "":
				toggle(ctx, out, rec)
			default:
				fmt.Fprintln(out, "Commands: Enter toggles recording, r resets, q quits")
			}
		}
	}
}

func toggle(ctx context.Context, out io.Writer, rec recorder) {
	var err error
	switch rec.State() {
	case session.StateIdle:
		err = rec.Start(ctx)
	case session.StateRecording:
		err = rec.Stop()
	default:
		fmt.Fprintln(out, "Transcription in progress, please wait.")
		return
	}
	if err != nil && errors.Is(err, session.ErrInvalidCommand) {
		fmt.Fprintln(out, "Transcription in progress, please wait.")
	}
}

// finish stops an active recording and waits until the last transcription has landed.
func finish(ctx context.Context, out io.Writer, rec recorder) {
	if rec.State() == session.StateRecording {
		_ = rec.Stop()
	}
	if rec.State() == session.StateIdle {
		return
	}
	fmt.Fprintln(out, "Finishing transcription...")
	ticker := time.NewTicker(50 * time.Millisecond)
	defer ticker.Stop()
	for rec.State() != session.StateIdle {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

func printer(out io.Writer) session.Observer {
	return func(ev session.Event) {
		switch ev.Kind {
		case session.EventState:
			fmt.Fprintf(out, "[%s]\n", ev.Snapshot.State)
		case session.EventSegment:
			fmt.Fprintf(out, "> %s\n", ev.Snapshot.Text)
		case session.EventError:
			fmt.Fprintf(out, "! %s\n", ev.Snapshot.Error)
		case session.EventReset:
			fmt.Fprintln(out, "Transcript cleared.")
		}
	}
}
