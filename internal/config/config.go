package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"
)

type TelemetryConfig struct {
	LogLevel       string `yaml:"log_level"`
	OTLPEndpoint   string `yaml:"otlp_endpoint"`
	OTLPInsecure   bool   `yaml:"otlp_insecure"`
	PrometheusBind string `yaml:"prometheus_bind"`
}

type HTTPConfig struct {
	Bind string `yaml:"bind"`
	Port int    `yaml:"port"`
}

type Config struct {
	ServiceName string          `yaml:"service_name"`
	Environment string          `yaml:"environment"`
	HTTP        HTTPConfig      `yaml:"http"`
	Telemetry   TelemetryConfig `yaml:"telemetry"`
	Bus         BusConfig       `yaml:"bus"`
	Device      DeviceConfig    `yaml:"device"`
	History     HistoryConfig   `yaml:"history"`
	Speech      SpeechConfig    `yaml:"speech"`
	Dispatch    DispatchConfig  `yaml:"dispatch"`
	Packs       PacksConfig     `yaml:"packs"`
	Feedback    FeedbackConfig  `yaml:"feedback"`
	Capture     CaptureConfig   `yaml:"capture"`
}

type BusConfig struct {
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

type DeviceConfig struct {
	ID                string             `yaml:"id"`
	Role              string             `yaml:"role"`
	HeartbeatInterval int                `yaml:"heartbeat_interval_ms"`
	HeartbeatTimeout  int                `yaml:"heartbeat_timeout_ms"`
	Capabilities      []DeviceCapability `yaml:"capabilities"`
}

type DeviceCapability struct {
	Name       string            `yaml:"name"`
	Attributes map[string]string `yaml:"attributes"`
}

type HistoryConfig struct {
	Path          string `yaml:"path"`
	RetentionMode string `yaml:"retention_mode"`
	RetentionDays int    `yaml:"retention_days"`
	MaxSessions   int    `yaml:"max_sessions"`
	VacuumOnStart bool   `yaml:"vacuum_on_start"`
}

// SpeechConfig parameterizes the recognition fallback chain. Providers are
// tried in the order listed; an empty list means engine, remote, sim,
// filtered by each provider's own enabled flag.
type SpeechConfig struct {
	Enabled    bool               `yaml:"enabled"`
	Providers  []string           `yaml:"providers"`
	SampleRate int                `yaml:"sample_rate"`
	Channels   int                `yaml:"channels"`
	Engine     EngineSpeechConfig `yaml:"engine"`
	Remote     RemoteSpeechConfig `yaml:"remote"`
	Sim        SimSpeechConfig    `yaml:"sim"`
}

type EngineSpeechConfig struct {
	Enabled   bool   `yaml:"enabled"`
	Command   string `yaml:"command"`
	ModelPath string `yaml:"model_path"`
	Language  string `yaml:"language"`
}

type RemoteSpeechConfig struct {
	Enabled   bool   `yaml:"enabled"`
	Endpoint  string `yaml:"endpoint"`
	Language  string `yaml:"language"`
	TimeoutMS int    `yaml:"timeout_ms"`
}

type SimSpeechConfig struct {
	Enabled    bool     `yaml:"enabled"`
	Utterances []string `yaml:"utterances"`
	IntervalMS int      `yaml:"interval_ms"`
}

type DispatchConfig struct {
	Enabled               bool   `yaml:"enabled"`
	NotRecognizedFeedback string `yaml:"not_recognized_feedback"`
	DedupeWindowMS        int    `yaml:"dedupe_window_ms"`
	DedupeSize            int    `yaml:"dedupe_size"`
}

type PacksConfig struct {
	Enabled      bool   `yaml:"enabled"`
	Directory    string `yaml:"directory"`
	Concurrency  int    `yaml:"max_concurrency"`
	AuditPrivacy string `yaml:"audit_privacy_scope"`
}

type FeedbackConfig struct {
	Enabled         bool   `yaml:"enabled"`
	Mode            string `yaml:"mode"`
	Command         string `yaml:"command"`
	Voice           string `yaml:"voice"`
	SampleRate      int    `yaml:"sample_rate"`
	Channels        int    `yaml:"channels"`
	ChunkDurationMS int    `yaml:"chunk_duration_ms"`
}

type CaptureConfig struct {
	SampleRate      int `yaml:"sample_rate"`
	FrameDurationMS int `yaml:"frame_duration_ms"`
	MaxUtteranceMS  int `yaml:"max_utterance_ms"`
	SilenceMS       int `yaml:"silence_ms"`
}

func Default() Config {
	return Config{
		ServiceName: "fitvoice",
		Environment: "development",
		HTTP: HTTPConfig{
			Bind: "0.0.0.0",
			Port: 8080,
		},
		Telemetry: TelemetryConfig{
			LogLevel:       "info",
			OTLPEndpoint:   "",
			OTLPInsecure:   true,
			PrometheusBind: ":9091",
		},
		Bus: BusConfig{
			Embedded:       true,
			Port:           4222,
			StoreDir:       "./data/nats",
			Servers:        []string{"nats://localhost:4222"},
			ConnectTimeout: 2000,
		},
		Device: DeviceConfig{
			ID:                "fitvoice-node-1",
			Role:              "runtime",
			HeartbeatInterval: 2000,
			HeartbeatTimeout:  6000,
			Capabilities: []DeviceCapability{
				{Name: "voice.dispatch"},
			},
		},
		History: HistoryConfig{
			Path:          "./data/fitvoice-history.db",
			RetentionMode: "session",
			RetentionDays: 30,
			MaxSessions:   10000,
		},
		Speech: SpeechConfig{
			Enabled:    true,
			SampleRate: 16000,
			Channels:   1,
			Engine: EngineSpeechConfig{
				Enabled: false,
			},
			Remote: RemoteSpeechConfig{
				Enabled:   false,
				TimeoutMS: 30000,
			},
			Sim: SimSpeechConfig{
				Enabled:    true,
				IntervalMS: 500,
			},
		},
		Dispatch: DispatchConfig{
			Enabled:               true,
			NotRecognizedFeedback: "Sorry, I didn't recognize that command.",
			DedupeWindowMS:        1500,
			DedupeSize:            64,
		},
		Packs: PacksConfig{
			Enabled:      true,
			Directory:    "./packs",
			Concurrency:  4,
			AuditPrivacy: "internal",
		},
		Feedback: FeedbackConfig{
			Enabled:         true,
			Mode:            "mock",
			Voice:           "en-US",
			SampleRate:      22050,
			Channels:        1,
			ChunkDurationMS: 400,
		},
		Capture: CaptureConfig{
			SampleRate:      16000,
			FrameDurationMS: 20,
			MaxUtteranceMS:  10000,
			SilenceMS:       1000,
		},
	}
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
	overrideString(&cfg.ServiceName, "FITVOICE_SERVICE_NAME")
	overrideString(&cfg.Environment, "FITVOICE_ENVIRONMENT")
	overrideString(&cfg.HTTP.Bind, "FITVOICE_HTTP_BIND")
	overrideInt(&cfg.HTTP.Port, "FITVOICE_HTTP_PORT")
	overrideString(&cfg.Telemetry.LogLevel, "FITVOICE_TELEMETRY_LOG_LEVEL")
	overrideString(&cfg.Telemetry.OTLPEndpoint, "FITVOICE_TELEMETRY_OTLP_ENDPOINT")
	overrideBool(&cfg.Telemetry.OTLPInsecure, "FITVOICE_TELEMETRY_OTLP_INSECURE")
	overrideString(&cfg.Telemetry.PrometheusBind, "FITVOICE_TELEMETRY_PROMETHEUS_BIND")
	overrideBool(&cfg.Bus.Embedded, "FITVOICE_BUS_EMBEDDED")
	overrideInt(&cfg.Bus.Port, "FITVOICE_BUS_PORT")
	overrideString(&cfg.Bus.StoreDir, "FITVOICE_BUS_STORE_DIR")
	overrideStringSlice(&cfg.Bus.Servers, "FITVOICE_BUS_SERVERS")
	overrideString(&cfg.Bus.Username, "FITVOICE_BUS_USERNAME")
	overrideString(&cfg.Bus.Password, "FITVOICE_BUS_PASSWORD")
	overrideString(&cfg.Bus.Token, "FITVOICE_BUS_TOKEN")
	overrideBool(&cfg.Bus.TLSInsecure, "FITVOICE_BUS_TLS_INSECURE")
	overrideInt(&cfg.Bus.ConnectTimeout, "FITVOICE_BUS_CONNECT_TIMEOUT_MS")
	overrideString(&cfg.Device.ID, "FITVOICE_DEVICE_ID")
	overrideString(&cfg.Device.Role, "FITVOICE_DEVICE_ROLE")
	overrideInt(&cfg.Device.HeartbeatInterval, "FITVOICE_DEVICE_HEARTBEAT_INTERVAL_MS")
	overrideInt(&cfg.Device.HeartbeatTimeout, "FITVOICE_DEVICE_HEARTBEAT_TIMEOUT_MS")
	overrideString(&cfg.History.Path, "FITVOICE_HISTORY_PATH")
	overrideString(&cfg.History.RetentionMode, "FITVOICE_HISTORY_RETENTION_MODE")
	overrideInt(&cfg.History.RetentionDays, "FITVOICE_HISTORY_RETENTION_DAYS")
	overrideInt(&cfg.History.MaxSessions, "FITVOICE_HISTORY_MAX_SESSIONS")
	overrideBool(&cfg.History.VacuumOnStart, "FITVOICE_HISTORY_VACUUM_ON_START")
	overrideBool(&cfg.Speech.Enabled, "FITVOICE_SPEECH_ENABLED")
	overrideStringSlice(&cfg.Speech.Providers, "FITVOICE_SPEECH_PROVIDERS")
	overrideInt(&cfg.Speech.SampleRate, "FITVOICE_SPEECH_SAMPLE_RATE")
	overrideInt(&cfg.Speech.Channels, "FITVOICE_SPEECH_CHANNELS")
	overrideBool(&cfg.Speech.Engine.Enabled, "FITVOICE_SPEECH_ENGINE_ENABLED")
	overrideString(&cfg.Speech.Engine.Command, "FITVOICE_SPEECH_ENGINE_COMMAND")
	overrideString(&cfg.Speech.Engine.ModelPath, "FITVOICE_SPEECH_ENGINE_MODEL_PATH")
	overrideString(&cfg.Speech.Engine.Language, "FITVOICE_SPEECH_ENGINE_LANGUAGE")
	overrideBool(&cfg.Speech.Remote.Enabled, "FITVOICE_SPEECH_REMOTE_ENABLED")
	overrideString(&cfg.Speech.Remote.Endpoint, "FITVOICE_SPEECH_REMOTE_ENDPOINT")
	overrideString(&cfg.Speech.Remote.Language, "FITVOICE_SPEECH_REMOTE_LANGUAGE")
	overrideInt(&cfg.Speech.Remote.TimeoutMS, "FITVOICE_SPEECH_REMOTE_TIMEOUT_MS")
	overrideBool(&cfg.Speech.Sim.Enabled, "FITVOICE_SPEECH_SIM_ENABLED")
	overrideStringSlice(&cfg.Speech.Sim.Utterances, "FITVOICE_SPEECH_SIM_UTTERANCES")
	overrideInt(&cfg.Speech.Sim.IntervalMS, "FITVOICE_SPEECH_SIM_INTERVAL_MS")
	overrideBool(&cfg.Dispatch.Enabled, "FITVOICE_DISPATCH_ENABLED")
	overrideString(&cfg.Dispatch.NotRecognizedFeedback, "FITVOICE_DISPATCH_NOT_RECOGNIZED_FEEDBACK")
	overrideInt(&cfg.Dispatch.DedupeWindowMS, "FITVOICE_DISPATCH_DEDUPE_WINDOW_MS")
	overrideInt(&cfg.Dispatch.DedupeSize, "FITVOICE_DISPATCH_DEDUPE_SIZE")
	overrideBool(&cfg.Packs.Enabled, "FITVOICE_PACKS_ENABLED")
	overrideString(&cfg.Packs.Directory, "FITVOICE_PACKS_DIRECTORY")
	overrideInt(&cfg.Packs.Concurrency, "FITVOICE_PACKS_MAX_CONCURRENCY")
	overrideString(&cfg.Packs.AuditPrivacy, "FITVOICE_PACKS_AUDIT_PRIVACY_SCOPE")
	overrideBool(&cfg.Feedback.Enabled, "FITVOICE_FEEDBACK_ENABLED")
	overrideString(&cfg.Feedback.Mode, "FITVOICE_FEEDBACK_MODE")
	overrideString(&cfg.Feedback.Command, "FITVOICE_FEEDBACK_COMMAND")
	overrideString(&cfg.Feedback.Voice, "FITVOICE_FEEDBACK_VOICE")
	overrideInt(&cfg.Feedback.SampleRate, "FITVOICE_FEEDBACK_SAMPLE_RATE")
	overrideInt(&cfg.Feedback.Channels, "FITVOICE_FEEDBACK_CHANNELS")
	overrideInt(&cfg.Feedback.ChunkDurationMS, "FITVOICE_FEEDBACK_CHUNK_DURATION_MS")
	overrideInt(&cfg.Capture.SampleRate, "FITVOICE_CAPTURE_SAMPLE_RATE")
	overrideInt(&cfg.Capture.FrameDurationMS, "FITVOICE_CAPTURE_FRAME_DURATION_MS")
	overrideInt(&cfg.Capture.MaxUtteranceMS, "FITVOICE_CAPTURE_MAX_UTTERANCE_MS")
	overrideInt(&cfg.Capture.SilenceMS, "FITVOICE_CAPTURE_SILENCE_MS")
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
	if cfg.ServiceName == "" {
		return errors.New("service_name must not be empty")
	}
	if cfg.HTTP.Port <= 0 || cfg.HTTP.Port > 65535 {
		return errors.New("http.port must be between 1 and 65535")
	}
	if cfg.Bus.Embedded {
		if cfg.Bus.Port <= 0 || cfg.Bus.Port > 65535 {
			return errors.New("bus.port must be between 1 and 65535 when embedded mode is enabled")
		}
	} else {
		if len(cfg.Bus.Servers) == 0 {
			return errors.New("bus.servers must not be empty when embedded mode is disabled")
		}
	}
	if cfg.Device.ID == "" {
		return errors.New("device.id must not be empty")
	}
	if cfg.Device.HeartbeatInterval <= 0 {
		return errors.New("device.heartbeat_interval_ms must be positive")
	}
	if cfg.Device.HeartbeatTimeout <= cfg.Device.HeartbeatInterval {
		return errors.New("device.heartbeat_timeout_ms must be greater than heartbeat interval")
	}
	if cfg.History.Path == "" {
		return errors.New("history.path must not be empty")
	}
	switch cfg.History.RetentionMode {
	case "ephemeral", "session", "persistent":
		// ok
	default:
		return errors.New("history.retention_mode must be one of ephemeral|session|persistent")
	}
	if cfg.History.RetentionDays < 0 {
		return errors.New("history.retention_days must be >= 0")
	}
	if cfg.Telemetry.PrometheusBind == "" {
		return errors.New("telemetry.prometheus_bind must not be empty")
	}
	if cfg.Speech.Enabled {
		if cfg.Speech.SampleRate <= 0 {
			return errors.New("speech.sample_rate must be positive")
		}
		if cfg.Speech.Channels <= 0 {
			return errors.New("speech.channels must be positive")
		}
		for _, name := range cfg.Speech.Providers {
			switch name {
			case "engine", "remote", "sim":
			default:
				return fmt.Errorf("speech.providers entry %q must be one of engine|remote|sim", name)
			}
		}
		if cfg.Speech.Engine.Enabled && cfg.Speech.Engine.Command == "" {
			return errors.New("speech.engine.command must be set when engine provider is enabled")
		}
		if cfg.Speech.Remote.Enabled && cfg.Speech.Remote.Endpoint == "" {
			return errors.New("speech.remote.endpoint must be set when remote provider is enabled")
		}
	}
	if cfg.Dispatch.Enabled {
		if cfg.Dispatch.NotRecognizedFeedback == "" {
			return errors.New("dispatch.not_recognized_feedback must not be empty")
		}
		if cfg.Dispatch.DedupeSize < 0 {
			return errors.New("dispatch.dedupe_size must be >= 0")
		}
	}
	if cfg.Packs.Enabled {
		if cfg.Packs.Directory == "" {
			return errors.New("packs.directory must not be empty when packs are enabled")
		}
		if cfg.Packs.Concurrency <= 0 {
			return errors.New("packs.max_concurrency must be >= 1")
		}
	}
	if cfg.Packs.AuditPrivacy == "" {
		return errors.New("packs.audit_privacy_scope must not be empty")
	}
	if cfg.Feedback.Enabled {
		switch cfg.Feedback.Mode {
		case "mock", "exec":
		default:
			return errors.New("feedback.mode must be one of mock|exec")
		}
		if cfg.Feedback.Mode == "exec" && cfg.Feedback.Command == "" {
			return errors.New("feedback.command must be set when mode=exec")
		}
		if cfg.Feedback.SampleRate <= 0 {
			return errors.New("feedback.sample_rate must be positive")
		}
		if cfg.Feedback.Channels <= 0 {
			return errors.New("feedback.channels must be positive")
		}
	}
	if cfg.Capture.SampleRate <= 0 {
		return errors.New("capture.sample_rate must be positive")
	}
	if cfg.Capture.FrameDurationMS <= 0 {
		return errors.New("capture.frame_duration_ms must be positive")
	}
	if cfg.Capture.MaxUtteranceMS < cfg.Capture.FrameDurationMS {
		return errors.New("capture.max_utterance_ms must be at least capture.frame_duration_ms")
	}
	if cfg.Capture.SilenceMS < cfg.Capture.FrameDurationMS {
		return errors.New("capture.silence_ms must be at least capture.frame_duration_ms")
	}
	return nil
}
