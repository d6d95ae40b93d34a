package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

type TelemetryConfig struct {
	LogLevel     string `yaml:"log_level"`
	OTLPEndpoint string `yaml:"otlp_endpoint"`
	OTLPInsecure bool   `yaml:"otlp_insecure"`
	Traces       bool   `yaml:"traces"`
}

type HTTPConfig struct {
	Bind string `yaml:"bind"`
	Port int    `yaml:"port"`
}

type Config struct {
	RuntimeName string           `yaml:"runtime_name"`
	Environment string           `yaml:"environment"`
	HTTP        HTTPConfig       `yaml:"http"`
	Telemetry   TelemetryConfig  `yaml:"telemetry"`
	Bus         BusConfig        `yaml:"bus"`
	EventStore  EventStoreConfig `yaml:"event_store"`
	Engine      EngineConfig     `yaml:"engine"`
	Capture     CaptureConfig    `yaml:"capture"`
	Session     SessionConfig    `yaml:"session"`
}

type BusConfig struct {
	Enabled        bool     `yaml:"enabled"`
	Embedded       bool     `yaml:"embedded"`
	Port           int      `yaml:"port"`
	StoreDir       string   `yaml:"store_dir"`
	Servers        []string `yaml:"servers"`
	Username       string   `yaml:"username"`
	Password       string   `yaml:"password"`
	Token          string   `yaml:"token"`
	TLSInsecure    bool     `yaml:"tls_insecure"`
	ConnectTimeout int      `yaml:"connect_timeout_ms"`
}

type EventStoreConfig struct {
	Path          string `yaml:"path"`
	RetentionMode string `yaml:"retention_mode"`
	RetentionDays int    `yaml:"retention_days"`
	MaxSessions   int    `yaml:"max_sessions"`
	VacuumOnStart bool   `yaml:"vacuum_on_start"`
}

// EngineConfig selects and tunes the recognition backend.
type EngineConfig struct {
	Mode        string `yaml:"mode"` // mock, exec, whisper
	Command     string `yaml:"command"`
	ModelPath   string `yaml:"model_path"`
	Language    string `yaml:"language"`
	Precision   string `yaml:"precision"`   // fp32, fp16
	Accelerator string `yaml:"accelerator"` // preferred, cpu-only
	ProbeOnLoad bool   `yaml:"probe_on_load"`
	Threads     int    `yaml:"threads"`
	MockText    string `yaml:"mock_text"`
}

// CaptureConfig describes the microphone source.
type CaptureConfig struct {
	Mode        string `yaml:"mode"` // exec, bus
	Command     string `yaml:"command"`
	InputFormat string `yaml:"input_format"`
	InputDevice string `yaml:"input_device"`
	Source      string `yaml:"source"`
	SampleRate  int    `yaml:"sample_rate"`
	Channels    int    `yaml:"channels"`
	FragmentMS  int    `yaml:"fragment_ms"`
}

type SessionConfig struct {
	Policy     string `yaml:"policy"` // single-shot, chunked-interval
	IntervalMS int    `yaml:"interval_ms"`
}

func Default() Config {
	return Config{
		RuntimeName: "loqa-dictate",
		Environment: "development",
		HTTP: HTTPConfig{
			Bind: "127.0.0.1",
			Port: 8085,
		},
		Telemetry: TelemetryConfig{
			LogLevel:     "info",
			OTLPEndpoint: "",
			OTLPInsecure: true,
			Traces:       false,
		},
		Bus: BusConfig{
			Enabled:        false,
			Embedded:       true,
			Port:           4222,
			StoreDir:       "./data/nats",
			Servers:        []string{"nats://localhost:4222"},
			ConnectTimeout: 2000,
		},
		EventStore: EventStoreConfig{
			Path:          "./data/loqa-dictate.db",
			RetentionMode: "session",
			RetentionDays: 30,
			MaxSessions:   10000,
		},
		Engine: EngineConfig{
			Mode:        "mock",
			Language:    "en",
			Precision:   "fp32",
			Accelerator: "preferred",
		},
		Capture: CaptureConfig{
			Mode:        "exec",
			Command:     "ffmpeg",
			InputFormat: "pulse",
			InputDevice: "default",
			Source:      "default",
			SampleRate:  16000,
			Channels:    1,
			FragmentMS:  100,
		},
		Session: SessionConfig{
			Policy:     "single-shot",
			IntervalMS: 5000,
		},
	}
}

// LoadDotEnv loads the first .env file found in the given paths. Missing files are not errors.
func LoadDotEnv(paths ...string) (string, error) {
	if len(paths) == 0 {
		paths = []string{".env", ".env.local"}
	}
	for _, path := range paths {
		if _, err := os.Stat(path); err != nil {
			continue
		}
		if err := godotenv.Load(path); err != nil {
			return "", fmt.Errorf("load %s: %w", path, err)
		}
		return path, nil
	}
	return "", nil
}

func Load(path string) (Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			if os.IsNotExist(err) {
				return cfg, fmt.Errorf("config file not found: %w", err)
			}
			return cfg, fmt.Errorf("failed to read config file: %w", err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return cfg, fmt.Errorf("failed to parse config file: %w", err)
		}
	}

	applyEnvOverrides(&cfg)
	if err := validate(cfg); err != nil {
		return cfg, err
	}
	return cfg, nil
}

func applyEnvOverrides(cfg *Config) {
	overrideString(&cfg.RuntimeName, "LOQA_RUNTIME_NAME")
	overrideString(&cfg.Environment, "LOQA_RUNTIME_ENVIRONMENT")
	overrideString(&cfg.HTTP.Bind, "LOQA_HTTP_BIND")
	overrideInt(&cfg.HTTP.Port, "LOQA_HTTP_PORT")
	overrideString(&cfg.Telemetry.LogLevel, "LOQA_TELEMETRY_LOG_LEVEL")
	overrideString(&cfg.Telemetry.OTLPEndpoint, "LOQA_TELEMETRY_OTLP_ENDPOINT")
	overrideBool(&cfg.Telemetry.OTLPInsecure, "LOQA_TELEMETRY_OTLP_INSECURE")
	overrideBool(&cfg.Telemetry.Traces, "LOQA_TELEMETRY_TRACES")
	overrideBool(&cfg.Bus.Enabled, "LOQA_BUS_ENABLED")
	overrideBool(&cfg.Bus.Embedded, "LOQA_BUS_EMBEDDED")
	overrideInt(&cfg.Bus.Port, "LOQA_BUS_PORT")
	overrideString(&cfg.Bus.StoreDir, "LOQA_BUS_STORE_DIR")
	overrideStringSlice(&cfg.Bus.Servers, "LOQA_BUS_SERVERS")
	overrideString(&cfg.Bus.Username, "LOQA_BUS_USERNAME")
	overrideString(&cfg.Bus.Password, "LOQA_BUS_PASSWORD")
	overrideString(&cfg.Bus.Token, "LOQA_BUS_TOKEN")
	overrideBool(&cfg.Bus.TLSInsecure, "LOQA_BUS_TLS_INSECURE")
	overrideInt(&cfg.Bus.ConnectTimeout, "LOQA_BUS_CONNECT_TIMEOUT_MS")
	overrideString(&cfg.EventStore.Path, "LOQA_EVENT_STORE_PATH")
	overrideString(&cfg.EventStore.RetentionMode, "LOQA_EVENT_STORE_RETENTION_MODE")
	overrideInt(&cfg.EventStore.RetentionDays, "LOQA_EVENT_STORE_RETENTION_DAYS")
	overrideInt(&cfg.EventStore.MaxSessions, "LOQA_EVENT_STORE_MAX_SESSIONS")
	overrideBool(&cfg.EventStore.VacuumOnStart, "LOQA_EVENT_STORE_VACUUM_ON_START")
	overrideString(&cfg.Engine.Mode, "LOQA_ENGINE_MODE")
	overrideString(&cfg.Engine.Command, "LOQA_ENGINE_COMMAND")
	overrideString(&cfg.Engine.ModelPath, "LOQA_ENGINE_MODEL_PATH")
	overrideString(&cfg.Engine.Language, "LOQA_ENGINE_LANGUAGE")
	overrideString(&cfg.Engine.Precision, "LOQA_ENGINE_PRECISION")
	overrideString(&cfg.Engine.Accelerator, "LOQA_ENGINE_ACCELERATOR")
	overrideBool(&cfg.Engine.ProbeOnLoad, "LOQA_ENGINE_PROBE_ON_LOAD")
	overrideInt(&cfg.Engine.Threads, "LOQA_ENGINE_THREADS")
	overrideString(&cfg.Engine.MockText, "LOQA_ENGINE_MOCK_TEXT")
	overrideString(&cfg.Capture.Mode, "LOQA_CAPTURE_MODE")
	overrideString(&cfg.Capture.Command, "LOQA_CAPTURE_COMMAND")
	overrideString(&cfg.Capture.InputFormat, "LOQA_CAPTURE_INPUT_FORMAT")
	overrideString(&cfg.Capture.InputDevice, "LOQA_CAPTURE_INPUT_DEVICE")
	overrideString(&cfg.Capture.Source, "LOQA_CAPTURE_SOURCE")
	overrideInt(&cfg.Capture.SampleRate, "LOQA_CAPTURE_SAMPLE_RATE")
	overrideInt(&cfg.Capture.Channels, "LOQA_CAPTURE_CHANNELS")
	overrideInt(&cfg.Capture.FragmentMS, "LOQA_CAPTURE_FRAGMENT_MS")
	overrideString(&cfg.Session.Policy, "LOQA_SESSION_POLICY")
	overrideInt(&cfg.Session.IntervalMS, "LOQA_SESSION_INTERVAL_MS")
}

func overrideString(target *string, envKey string) {
	if value, ok := os.LookupEnv(envKey); ok && strings.TrimSpace(value) != "" {
		*target = value
	}
}

func overrideInt(target *int, envKey string) {
	if value, ok := os.LookupEnv(envKey); ok {
		if parsed, err := strconv.Atoi(value); err == nil {
			*target = parsed
		}
	}
}

func overrideBool(target *bool, envKey string) {
	if value, ok := os.LookupEnv(envKey); ok {
		if parsed, err := strconv.ParseBool(value); err == nil {
			*target = parsed
		}
	}
}

func overrideStringSlice(target *[]string, envKey string) {
	if value, ok := os.LookupEnv(envKey); ok {
		parts := strings.Split(value, ",")
		var trimmed []string
		for _, p := range parts {
			if s := strings.TrimSpace(p); s != "" {
				trimmed = append(trimmed, s)
			}
		}
		if len(trimmed) > 0 {
			*target = trimmed
		}
	}
}

func validate(cfg Config) error {
	if cfg.RuntimeName == "" {
		return errors.New("runtime_name must not be empty")
	}
	if cfg.HTTP.Port <= 0 || cfg.HTTP.Port > 65535 {
		return errors.New("http.port must be between 1 and 65535")
	}
	switch strings.ToLower(cfg.Telemetry.LogLevel) {
	case "debug", "info", "warn", "error":
	default:
		return errors.New("telemetry.log_level must be one of debug|info|warn|error")
	}
	if cfg.Bus.Enabled {
		if cfg.Bus.Embedded {
			if cfg.Bus.Port <= 0 || cfg.Bus.Port > 65535 {
				return errors.New("bus.port must be between 1 and 65535 when embedded mode is enabled")
			}
		} else if len(cfg.Bus.Servers) == 0 {
			return errors.New("bus.servers must not be empty when embedded mode is disabled")
		}
	}
	if cfg.EventStore.Path == "" {
		return errors.New("event_store.path must not be empty")
	}
	switch cfg.EventStore.RetentionMode {
	case "ephemeral", "session", "persistent":
		// ok
	default:
		return errors.New("event_store.retention_mode must be one of ephemeral|session|persistent")
	}
	if cfg.EventStore.RetentionDays < 0 {
		return errors.New("event_store.retention_days must be >= 0")
	}
	switch cfg.Engine.Mode {
	case "mock", "exec", "whisper":
	default:
		return errors.New("engine.mode must be one of mock|exec|whisper")
	}
	if cfg.Engine.Mode == "exec" && cfg.Engine.Command == "" {
		return errors.New("engine.command must be set when mode=exec")
	}
	if cfg.Engine.Mode == "whisper" && cfg.Engine.ModelPath == "" {
		return errors.New("engine.model_path must be set when mode=whisper")
	}
	switch cfg.Engine.Precision {
	case "fp32", "fp16":
	default:
		return errors.New("engine.precision must be one of fp32|fp16")
	}
	switch cfg.Engine.Accelerator {
	case "preferred", "cpu-only":
	default:
		return errors.New("engine.accelerator must be one of preferred|cpu-only")
	}
	if cfg.Engine.Threads < 0 {
		return errors.New("engine.threads must be >= 0")
	}
	switch cfg.Capture.Mode {
	case "exec":
		if cfg.Capture.Command == "" {
			return errors.New("capture.command must be set when mode=exec")
		}
	case "bus":
		if !cfg.Bus.Enabled {
			return errors.New("capture.mode=bus requires bus.enabled")
		}
		if cfg.Capture.Source == "" {
			return errors.New("capture.source must be set when mode=bus")
		}
	default:
		return errors.New("capture.mode must be one of exec|bus")
	}
	if cfg.Capture.SampleRate <= 0 {
		return errors.New("capture.sample_rate must be positive")
	}
	if cfg.Capture.Channels <= 0 {
		return errors.New("capture.channels must be positive")
	}
	if cfg.Capture.FragmentMS <= 0 {
		return errors.New("capture.fragment_ms must be positive")
	}
	switch cfg.Session.Policy {
	case "single-shot":
	case "chunked-interval":
		if cfg.Session.IntervalMS <= 0 {
			return errors.New("session.interval_ms must be positive when policy=chunked-interval")
		}
	default:
		return errors.New("session.policy must be one of single-shot|chunked-interval")
	}
	return nil
}
