package main

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/loqalabs/loqa-dictate/internal/config"
)

var version = "0.1.0-dev"

const defaultConfigPath = "loqa-dictate.yaml"

var (
	configPath string
	envFile    string
)

var rootCmd = &cobra.Command{
	Use:   "loqa-dictate",
	Short: "Local streaming dictation for the loqa runtime",
	Long: `loqa-dictate records from a microphone (or bus audio frames), transcribes each
recording with a local speech engine and keeps a running transcript.

Run "serve" for the HTTP/websocket daemon or "record" for terminal dictation.`,
	SilenceUsage: true,
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", defaultConfigPath, "path to configuration file")
	rootCmd.PersistentFlags().StringVar(&envFile, "env-file", "", "optional .env file to load before reading configuration")

	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(recordCmd)
	rootCmd.AddCommand(versionCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print the loqa-dictate version",
	RunE: func(cmd *cobra.Command, args []string) error {
		fmt.Fprintln(cmd.OutOrStdout(), version)
		return nil
	},
}

// loadConfig reads the configuration. The default config file is optional; an explicitly
// passed one must exist.
func loadConfig(cmd *cobra.Command) (config.Config, error) {
	var envPaths []string
	if envFile != "" {
		envPaths = []string{envFile}
	}
	if _, err := config.LoadDotEnv(envPaths...); err != nil {
		return config.Config{}, err
	}

	path := configPath
	if !cmd.Flags().Changed("config") {
		if _, err := os.Stat(path); err != nil {
			path = ""
		}
	}
	return config.Load(path)
}

func newLogger(w io.Writer, level string, json bool) *slog.Logger {
	opts := &slog.HandlerOptions{Level: parseLevel(level)}
	if json {
		return slog.New(slog.NewJSONHandler(w, opts))
	}
	return slog.New(slog.NewTextHandler(w, opts))
}

func parseLevel(level string) slog.Level {
	switch strings.ToLower(strings.TrimSpace(level)) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
