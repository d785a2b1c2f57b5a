package config

import (
	"errors"
	"fmt"
	"log/slog"
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

// Level maps the configured log level onto slog's scale. Unknown values fall
// back to info.
func (t TelemetryConfig) Level() slog.Level {
	switch strings.ToLower(strings.TrimSpace(t.LogLevel)) {
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

type HTTPConfig struct {
	Bind string `yaml:"bind"`
	Port int    `yaml:"port"`
}

type Config struct {
	RuntimeName string          `yaml:"runtime_name"`
	Environment string          `yaml:"environment"`
	HTTP        HTTPConfig      `yaml:"http"`
	Telemetry   TelemetryConfig `yaml:"telemetry"`
	Bus         BusConfig       `yaml:"bus"`
	History     HistoryConfig   `yaml:"history"`
	Speech      SpeechConfig    `yaml:"speech"`
}

type BusConfig struct {
	Embedded       bool     `yaml:"embedded"`
	Port           int      `yaml:"port"`
	Servers        []string `yaml:"servers"`
	Username       string   `yaml:"username"`
	Password       string   `yaml:"password"`
	Token          string   `yaml:"token"`
	TLSInsecure    bool     `yaml:"tls_insecure"`
	ConnectTimeout int      `yaml:"connect_timeout_ms"`
}

type HistoryConfig struct {
	Path          string `yaml:"path"`
	RetentionMode string `yaml:"retention_mode"`
	RetentionDays int    `yaml:"retention_days"`
	MaxAttempts   int    `yaml:"max_attempts"`
	VacuumOnStart bool   `yaml:"vacuum_on_start"`
}

// SpeechConfig selects and parameterizes the synthesis backend.
type SpeechConfig struct {
	Backend          string             `yaml:"backend"` // mock, cloud, local
	AutoTrigger      bool               `yaml:"auto_trigger"`
	RequestTimeoutMS int                `yaml:"request_timeout_ms"` // 0 waits indefinitely
	ProbeIntervalMS  int                `yaml:"probe_interval_ms"`
	Cloud            CloudBackendConfig `yaml:"cloud"`
	Local            LocalBackendConfig `yaml:"local"`
}

type CloudBackendConfig struct {
	BaseURL  string `yaml:"base_url"`
	APIKey   string `yaml:"api_key"`
	VoiceID  string `yaml:"voice_id"`
	Language string `yaml:"language"`
}

type LocalBackendConfig struct {
	BaseURL      string  `yaml:"base_url"`
	RefAudio     string  `yaml:"ref_audio"`
	Temperature  float64 `yaml:"temperature"`
	TopP         float64 `yaml:"top_p"`
	TopK         int     `yaml:"top_k"`
	MaxNewTokens int     `yaml:"max_new_tokens"`
}

func Default() Config {
	return Config{
		RuntimeName: "narvox-runtime",
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
			Servers:        []string{"nats://localhost:4222"},
			ConnectTimeout: 2000,
		},
		History: HistoryConfig{
			Path:          "./data/narvox-history.db",
			RetentionMode: "session",
			RetentionDays: 30,
			MaxAttempts:   10000,
		},
		Speech: SpeechConfig{
			Backend:         "mock",
			AutoTrigger:     true,
			ProbeIntervalMS: 5000,
			Cloud: CloudBackendConfig{
				Language: "en",
			},
			Local: LocalBackendConfig{
				BaseURL:      "http://localhost:8000",
				Temperature:  0.3,
				TopP:         0.95,
				TopK:         50,
				MaxNewTokens: 1024,
			},
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
	overrideString(&cfg.RuntimeName, "NARVOX_RUNTIME_NAME")
	overrideString(&cfg.Environment, "NARVOX_RUNTIME_ENVIRONMENT")
	overrideString(&cfg.HTTP.Bind, "NARVOX_HTTP_BIND")
	overrideInt(&cfg.HTTP.Port, "NARVOX_HTTP_PORT")
	overrideString(&cfg.Telemetry.LogLevel, "NARVOX_TELEMETRY_LOG_LEVEL")
	overrideString(&cfg.Telemetry.OTLPEndpoint, "NARVOX_TELEMETRY_OTLP_ENDPOINT")
	overrideBool(&cfg.Telemetry.OTLPInsecure, "NARVOX_TELEMETRY_OTLP_INSECURE")
	overrideString(&cfg.Telemetry.PrometheusBind, "NARVOX_TELEMETRY_PROMETHEUS_BIND")
	overrideBool(&cfg.Bus.Embedded, "NARVOX_BUS_EMBEDDED")
	overrideInt(&cfg.Bus.Port, "NARVOX_BUS_PORT")
	overrideStringSlice(&cfg.Bus.Servers, "NARVOX_BUS_SERVERS")
	overrideString(&cfg.Bus.Username, "NARVOX_BUS_USERNAME")
	overrideString(&cfg.Bus.Password, "NARVOX_BUS_PASSWORD")
	overrideString(&cfg.Bus.Token, "NARVOX_BUS_TOKEN")
	overrideBool(&cfg.Bus.TLSInsecure, "NARVOX_BUS_TLS_INSECURE")
	overrideInt(&cfg.Bus.ConnectTimeout, "NARVOX_BUS_CONNECT_TIMEOUT_MS")
	overrideString(&cfg.History.Path, "NARVOX_HISTORY_PATH")
	overrideString(&cfg.History.RetentionMode, "NARVOX_HISTORY_RETENTION_MODE")
	overrideInt(&cfg.History.RetentionDays, "NARVOX_HISTORY_RETENTION_DAYS")
	overrideInt(&cfg.History.MaxAttempts, "NARVOX_HISTORY_MAX_ATTEMPTS")
	overrideBool(&cfg.History.VacuumOnStart, "NARVOX_HISTORY_VACUUM_ON_START")
	overrideString(&cfg.Speech.Backend, "NARVOX_SPEECH_BACKEND")
	overrideBool(&cfg.Speech.AutoTrigger, "NARVOX_SPEECH_AUTO_TRIGGER")
	overrideInt(&cfg.Speech.RequestTimeoutMS, "NARVOX_SPEECH_REQUEST_TIMEOUT_MS")
	overrideInt(&cfg.Speech.ProbeIntervalMS, "NARVOX_SPEECH_PROBE_INTERVAL_MS")
	overrideString(&cfg.Speech.Cloud.BaseURL, "NARVOX_SPEECH_CLOUD_BASE_URL")
	overrideString(&cfg.Speech.Cloud.APIKey, "NARVOX_SPEECH_CLOUD_API_KEY")
	overrideString(&cfg.Speech.Cloud.VoiceID, "NARVOX_SPEECH_CLOUD_VOICE_ID")
	overrideString(&cfg.Speech.Cloud.Language, "NARVOX_SPEECH_CLOUD_LANGUAGE")
	overrideString(&cfg.Speech.Local.BaseURL, "NARVOX_SPEECH_LOCAL_BASE_URL")
	overrideString(&cfg.Speech.Local.RefAudio, "NARVOX_SPEECH_LOCAL_REF_AUDIO")
	overrideFloat(&cfg.Speech.Local.Temperature, "NARVOX_SPEECH_LOCAL_TEMPERATURE")
	overrideFloat(&cfg.Speech.Local.TopP, "NARVOX_SPEECH_LOCAL_TOP_P")
	overrideInt(&cfg.Speech.Local.TopK, "NARVOX_SPEECH_LOCAL_TOP_K")
	overrideInt(&cfg.Speech.Local.MaxNewTokens, "NARVOX_SPEECH_LOCAL_MAX_NEW_TOKENS")
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

func overrideFloat(target *float64, envKey string) {
	if value, ok := os.LookupEnv(envKey); ok {
		if parsed, err := strconv.ParseFloat(value, 64); err == nil {
			*target = parsed
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
	if cfg.Bus.Embedded {
		if cfg.Bus.Port <= 0 || cfg.Bus.Port > 65535 {
			return errors.New("bus.port must be between 1 and 65535 when embedded mode is enabled")
		}
	} else {
		if len(cfg.Bus.Servers) == 0 {
			return errors.New("bus.servers must not be empty when embedded mode is disabled")
		}
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
	switch cfg.Speech.Backend {
	case "mock", "cloud", "local":
	default:
		return errors.New("speech.backend must be one of mock|cloud|local")
	}
	if cfg.Speech.RequestTimeoutMS < 0 {
		return errors.New("speech.request_timeout_ms must be >= 0")
	}
	if cfg.Speech.ProbeIntervalMS <= 0 {
		return errors.New("speech.probe_interval_ms must be positive")
	}
	if cfg.Speech.Backend == "cloud" {
		if cfg.Speech.Cloud.BaseURL == "" {
			return errors.New("speech.cloud.base_url must be set when backend=cloud")
		}
		// The credential is checked before any network call is attempted.
		if cfg.Speech.Cloud.APIKey == "" {
			return errors.New("speech.cloud.api_key must be set when backend=cloud")
		}
	}
	if cfg.Speech.Backend == "local" {
		if cfg.Speech.Local.BaseURL == "" {
			return errors.New("speech.local.base_url must be set when backend=local")
		}
		if cfg.Speech.Local.Temperature < 0 {
			return errors.New("speech.local.temperature must be >= 0")
		}
		if cfg.Speech.Local.TopP <= 0 || cfg.Speech.Local.TopP > 1 {
			return errors.New("speech.local.top_p must be in (0, 1]")
		}
		if cfg.Speech.Local.TopK <= 0 {
			return errors.New("speech.local.top_k must be positive")
		}
		if cfg.Speech.Local.MaxNewTokens <= 0 {
			return errors.New("speech.local.max_new_tokens must be positive")
		}
	}
	return nil
}
