package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"
)

// ModelSizes lists the Whisper model sizes the tool accepts.
var ModelSizes = []string{"tiny", "base", "small", "medium", "large"}

type VaultConfig struct {
	Path      string `yaml:"path"`
	Subfolder string `yaml:"subfolder"`
}

type AudioConfig struct {
	SampleRate      int `yaml:"sample_rate"`
	Channels        int `yaml:"channels"`
	FramesPerBuffer int `yaml:"frames_per_buffer"`
}

type GateConfig struct {
	Threshold float64 `yaml:"threshold"`
}

type STTConfig struct {
	Mode          string `yaml:"mode"` // exec, mock
	Command       string `yaml:"command"`
	ModelSize     string `yaml:"model_size"`
	ModelDir      string `yaml:"model_dir"`
	ModelChecksum string `yaml:"model_checksum"`
	Language      string `yaml:"language"`
	TimeoutMS     int    `yaml:"timeout_ms"`
}

type SessionConfig struct {
	ChunkDuration int `yaml:"chunk_duration_s"`
}

type JournalConfig struct {
	Path          string `yaml:"path"`
	RetentionMode string `yaml:"retention_mode"`
	RetentionDays int    `yaml:"retention_days"`
	MaxSessions   int    `yaml:"max_sessions"`
	VacuumOnStart bool   `yaml:"vacuum_on_start"`
}

type TelemetryConfig struct {
	LogLevel     string `yaml:"log_level"`
	LogFormat    string `yaml:"log_format"`
	OTLPEndpoint string `yaml:"otlp_endpoint"`
	OTLPInsecure bool   `yaml:"otlp_insecure"`
	DebugBind    string `yaml:"debug_bind"`
}

type Config struct {
	Vault     VaultConfig     `yaml:"vault"`
	Audio     AudioConfig     `yaml:"audio"`
	Gate      GateConfig      `yaml:"gate"`
	STT       STTConfig       `yaml:"stt"`
	Session   SessionConfig   `yaml:"session"`
	Journal   JournalConfig   `yaml:"journal"`
	Telemetry TelemetryConfig `yaml:"telemetry"`
}

func Default() Config {
	return Config{
		Audio: AudioConfig{
			SampleRate:      16000,
			Channels:        1,
			FramesPerBuffer: 1024,
		},
		Gate: GateConfig{
			Threshold: 0.005,
		},
		STT: STTConfig{
			Mode:      "exec",
			Command:   "whisper-cli --output-json",
			ModelSize: "base",
			Language:  "en",
			TimeoutMS: 45000,
		},
		Session: SessionConfig{
			ChunkDuration: 20,
		},
		Journal: JournalConfig{
			Path:          "./data/dictwhisperer-journal.db",
			RetentionMode: "ephemeral",
			RetentionDays: 30,
			MaxSessions:   1000,
		},
		Telemetry: TelemetryConfig{
			LogLevel:  "info",
			LogFormat: "text",
		},
	}
}

// Load builds the configuration from defaults, an optional YAML file, and
// DICTWHISPERER_* environment variables, in that order of precedence.
// Flag values are applied by the caller on top of the result.
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
	return cfg, nil
}

func applyEnvOverrides(cfg *Config) {
	overrideString(&cfg.Vault.Path, "DICTWHISPERER_VAULT_PATH")
	overrideString(&cfg.Vault.Subfolder, "DICTWHISPERER_SUBFOLDER")
	overrideInt(&cfg.Audio.SampleRate, "DICTWHISPERER_SAMPLE_RATE")
	overrideInt(&cfg.Audio.Channels, "DICTWHISPERER_CHANNELS")
	overrideFloat(&cfg.Gate.Threshold, "DICTWHISPERER_GATE_THRESHOLD")
	overrideString(&cfg.STT.Mode, "DICTWHISPERER_STT_MODE")
	overrideString(&cfg.STT.Command, "DICTWHISPERER_STT_COMMAND")
	overrideString(&cfg.STT.ModelSize, "DICTWHISPERER_MODEL_SIZE")
	overrideString(&cfg.STT.ModelDir, "DICTWHISPERER_MODEL_DIR")
	overrideString(&cfg.STT.ModelChecksum, "DICTWHISPERER_MODEL_CHECKSUM")
	overrideString(&cfg.STT.Language, "DICTWHISPERER_LANGUAGE")
	overrideInt(&cfg.STT.TimeoutMS, "DICTWHISPERER_STT_TIMEOUT_MS")
	overrideInt(&cfg.Session.ChunkDuration, "DICTWHISPERER_CHUNK_DURATION")
	overrideString(&cfg.Journal.Path, "DICTWHISPERER_JOURNAL_PATH")
	overrideString(&cfg.Journal.RetentionMode, "DICTWHISPERER_JOURNAL_RETENTION_MODE")
	overrideInt(&cfg.Journal.RetentionDays, "DICTWHISPERER_JOURNAL_RETENTION_DAYS")
	overrideInt(&cfg.Journal.MaxSessions, "DICTWHISPERER_JOURNAL_MAX_SESSIONS")
	overrideBool(&cfg.Journal.VacuumOnStart, "DICTWHISPERER_JOURNAL_VACUUM_ON_START")
	overrideString(&cfg.Telemetry.LogLevel, "DICTWHISPERER_LOG_LEVEL")
	overrideString(&cfg.Telemetry.LogFormat, "DICTWHISPERER_LOG_FORMAT")
	overrideString(&cfg.Telemetry.OTLPEndpoint, "DICTWHISPERER_OTLP_ENDPOINT")
	overrideBool(&cfg.Telemetry.OTLPInsecure, "DICTWHISPERER_OTLP_INSECURE")
	overrideString(&cfg.Telemetry.DebugBind, "DICTWHISPERER_DEBUG_BIND")
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

func overrideFloat(target *float64, envKey string) {
	if value, ok := os.LookupEnv(envKey); ok {
		if parsed, err := strconv.ParseFloat(value, 64); err == nil {
			*target = parsed
		}
	}
}

// Validate checks the configuration. Any error here is startup-fatal:
// nothing is recorded and no note file is created.
func (c Config) Validate() error {
	if c.Vault.Path == "" {
		return errors.New("vault.path must be set (flag --vault-path or DICTWHISPERER_VAULT_PATH)")
	}
	if c.Audio.SampleRate <= 0 {
		return errors.New("audio.sample_rate must be positive")
	}
	if c.Audio.Channels != 1 {
		return errors.New("audio.channels must be 1 (the model expects mono input)")
	}
	if c.Audio.FramesPerBuffer <= 0 {
		return errors.New("audio.frames_per_buffer must be positive")
	}
	if c.Gate.Threshold < 0 || c.Gate.Threshold >= 1 {
		return errors.New("gate.threshold must be in [0, 1)")
	}
	if !validModelSize(c.STT.ModelSize) {
		return fmt.Errorf("stt.model_size must be one of %s, got %q",
			strings.Join(ModelSizes, "|"), c.STT.ModelSize)
	}
	switch c.STT.Mode {
	case "exec":
		if c.STT.Command == "" {
			return errors.New("stt.command must be set when mode=exec")
		}
	case "mock":
	default:
		return errors.New("stt.mode must be one of exec|mock")
	}
	if c.STT.TimeoutMS <= 0 {
		return errors.New("stt.timeout_ms must be positive")
	}
	if c.Session.ChunkDuration <= 0 {
		return errors.New("session.chunk_duration_s must be a positive integer")
	}
	switch c.Journal.RetentionMode {
	case "ephemeral", "session", "persistent":
	default:
		return errors.New("journal.retention_mode must be one of ephemeral|session|persistent")
	}
	if c.Journal.RetentionMode != "ephemeral" && c.Journal.Path == "" {
		return errors.New("journal.path must not be empty when the journal is enabled")
	}
	if c.Journal.RetentionDays < 0 {
		return errors.New("journal.retention_days must be >= 0")
	}
	switch c.Telemetry.LogFormat {
	case "json", "text":
	default:
		return errors.New("telemetry.log_format must be json or text")
	}
	return nil
}

func validModelSize(size string) bool {
	for _, s := range ModelSizes {
		if s == size {
			return true
		}
	}
	return false
}
