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

type CatalogConfig struct {
	Path   string `yaml:"path"`
	Strict bool   `yaml:"strict"`
}

type AudioConfig struct {
	Driver             string `yaml:"driver"` // stub, portaudio
	CaptureSampleRate  int    `yaml:"capture_sample_rate"`
	PlaybackSampleRate int    `yaml:"playback_sample_rate"`
	Channels           int    `yaml:"channels"`
	FrameDurationMS    int    `yaml:"frame_duration_ms"`
	SwitchSettleMS     int    `yaml:"switch_settle_ms"`
}

type STTConfig struct {
	Mode           string `yaml:"mode"` // mock, exec
	Command        string `yaml:"command"`
	ModelPath      string `yaml:"model_path"`
	Language       string `yaml:"language"`
	PartialEveryMS int    `yaml:"partial_every_ms"`
	MaxSessionMS   int    `yaml:"max_session_ms"`
}

type TTSConfig struct {
	Mode     string  `yaml:"mode"` // mock, exec
	Command  string  `yaml:"command"`
	Voice    string  `yaml:"voice"`
	Language string  `yaml:"language"`
	Rate     float64 `yaml:"rate"`
	Pitch    float64 `yaml:"pitch"`
	Volume   float64 `yaml:"volume"`
}

type DialogConfig struct {
	CameraDistanceM  float64 `yaml:"camera_distance_m"`
	CooldownMS       int     `yaml:"cooldown_ms"`
	NotFoundPhrase   string  `yaml:"not_found_phrase"`
	ListeningStatus  string  `yaml:"listening_status"`
	IdleStatus       string  `yaml:"idle_status"`
	CancelledStatus  string  `yaml:"cancelled_status"`
	TravellingPrefix string  `yaml:"travelling_prefix"`
}

type PermissionsConfig struct {
	Enabled            bool `yaml:"enabled"`
	RequestTimeoutMS   int  `yaml:"request_timeout_ms"`
	SnapshotIntervalMS int  `yaml:"snapshot_interval_ms"`
}

type Config struct {
	RuntimeName string            `yaml:"runtime_name"`
	Environment string            `yaml:"environment"`
	HTTP        HTTPConfig        `yaml:"http"`
	Telemetry   TelemetryConfig   `yaml:"telemetry"`
	Bus         BusConfig         `yaml:"bus"`
	Catalog     CatalogConfig     `yaml:"catalog"`
	Audio       AudioConfig       `yaml:"audio"`
	STT         STTConfig         `yaml:"stt"`
	TTS         TTSConfig         `yaml:"tts"`
	Dialog      DialogConfig      `yaml:"dialog"`
	Permissions PermissionsConfig `yaml:"permissions"`
}

func Default() Config {
	return Config{
		RuntimeName: "geovoz-runtime",
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
		Catalog: CatalogConfig{
			Path:   "./data/paises.json",
			Strict: false,
		},
		Audio: AudioConfig{
			Driver:             "stub",
			CaptureSampleRate:  16000,
			PlaybackSampleRate: 22050,
			Channels:           1,
			FrameDurationMS:    20,
			SwitchSettleMS:     50,
		},
		STT: STTConfig{
			Mode:           "mock",
			Language:       "es-MX",
			PartialEveryMS: 800,
			MaxSessionMS:   15000,
		},
		TTS: TTSConfig{
			Mode:     "mock",
			Language: "es-MX",
			Rate:     0.5,
			Pitch:    1.0,
			Volume:   1.0,
		},
		Dialog: DialogConfig{
			CameraDistanceM:  2_000_000,
			CooldownMS:       0,
			NotFoundPhrase:   "No encontré ese país.",
			ListeningStatus:  "Te escucho...",
			IdleStatus:       "Toca el micro...",
			CancelledStatus:  "Pausa.",
			TravellingPrefix: "Viajando a: ",
		},
		Permissions: PermissionsConfig{
			Enabled:            true,
			RequestTimeoutMS:   5000,
			SnapshotIntervalMS: 10000,
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
	overrideString(&cfg.RuntimeName, "GEOVOZ_RUNTIME_NAME")
	overrideString(&cfg.Environment, "GEOVOZ_RUNTIME_ENVIRONMENT")
	overrideString(&cfg.HTTP.Bind, "GEOVOZ_HTTP_BIND")
	overrideInt(&cfg.HTTP.Port, "GEOVOZ_HTTP_PORT")
	overrideString(&cfg.Telemetry.LogLevel, "GEOVOZ_TELEMETRY_LOG_LEVEL")
	overrideString(&cfg.Telemetry.OTLPEndpoint, "GEOVOZ_TELEMETRY_OTLP_ENDPOINT")
	overrideBool(&cfg.Telemetry.OTLPInsecure, "GEOVOZ_TELEMETRY_OTLP_INSECURE")
	overrideString(&cfg.Telemetry.PrometheusBind, "GEOVOZ_TELEMETRY_PROMETHEUS_BIND")
	overrideBool(&cfg.Bus.Embedded, "GEOVOZ_BUS_EMBEDDED")
	overrideInt(&cfg.Bus.Port, "GEOVOZ_BUS_PORT")
	overrideStringSlice(&cfg.Bus.Servers, "GEOVOZ_BUS_SERVERS")
	overrideString(&cfg.Bus.Username, "GEOVOZ_BUS_USERNAME")
	overrideString(&cfg.Bus.Password, "GEOVOZ_BUS_PASSWORD")
	overrideString(&cfg.Bus.Token, "GEOVOZ_BUS_TOKEN")
	overrideBool(&cfg.Bus.TLSInsecure, "GEOVOZ_BUS_TLS_INSECURE")
	overrideInt(&cfg.Bus.ConnectTimeout, "GEOVOZ_BUS_CONNECT_TIMEOUT_MS")
	overrideString(&cfg.Catalog.Path, "GEOVOZ_CATALOG_PATH")
	overrideBool(&cfg.Catalog.Strict, "GEOVOZ_CATALOG_STRICT")
	overrideString(&cfg.Audio.Driver, "GEOVOZ_AUDIO_DRIVER")
	overrideInt(&cfg.Audio.CaptureSampleRate, "GEOVOZ_AUDIO_CAPTURE_SAMPLE_RATE")
	overrideInt(&cfg.Audio.PlaybackSampleRate, "GEOVOZ_AUDIO_PLAYBACK_SAMPLE_RATE")
	overrideInt(&cfg.Audio.Channels, "GEOVOZ_AUDIO_CHANNELS")
	overrideInt(&cfg.Audio.FrameDurationMS, "GEOVOZ_AUDIO_FRAME_DURATION_MS")
	overrideInt(&cfg.Audio.SwitchSettleMS, "GEOVOZ_AUDIO_SWITCH_SETTLE_MS")
	overrideString(&cfg.STT.Mode, "GEOVOZ_STT_MODE")
	overrideString(&cfg.STT.Command, "GEOVOZ_STT_COMMAND")
	overrideString(&cfg.STT.ModelPath, "GEOVOZ_STT_MODEL_PATH")
	overrideString(&cfg.STT.Language, "GEOVOZ_STT_LANGUAGE")
	overrideInt(&cfg.STT.PartialEveryMS, "GEOVOZ_STT_PARTIAL_EVERY_MS")
	overrideInt(&cfg.STT.MaxSessionMS, "GEOVOZ_STT_MAX_SESSION_MS")
	overrideString(&cfg.TTS.Mode, "GEOVOZ_TTS_MODE")
	overrideString(&cfg.TTS.Command, "GEOVOZ_TTS_COMMAND")
	overrideString(&cfg.TTS.Voice, "GEOVOZ_TTS_VOICE")
	overrideString(&cfg.TTS.Language, "GEOVOZ_TTS_LANGUAGE")
	overrideFloat(&cfg.TTS.Rate, "GEOVOZ_TTS_RATE")
	overrideFloat(&cfg.TTS.Pitch, "GEOVOZ_TTS_PITCH")
	overrideFloat(&cfg.TTS.Volume, "GEOVOZ_TTS_VOLUME")
	overrideFloat(&cfg.Dialog.CameraDistanceM, "GEOVOZ_DIALOG_CAMERA_DISTANCE_M")
	overrideInt(&cfg.Dialog.CooldownMS, "GEOVOZ_DIALOG_COOLDOWN_MS")
	overrideBool(&cfg.Permissions.Enabled, "GEOVOZ_PERMISSIONS_ENABLED")
	overrideInt(&cfg.Permissions.RequestTimeoutMS, "GEOVOZ_PERMISSIONS_REQUEST_TIMEOUT_MS")
	overrideInt(&cfg.Permissions.SnapshotIntervalMS, "GEOVOZ_PERMISSIONS_SNAPSHOT_INTERVAL_MS")
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
	if cfg.Bus.Embedded {
		if cfg.Bus.Port <= 0 || cfg.Bus.Port > 65535 {
			return errors.New("bus.port must be between 1 and 65535 when embedded mode is enabled")
		}
	} else {
		if len(cfg.Bus.Servers) == 0 {
			return errors.New("bus.servers must not be empty when embedded mode is disabled")
		}
	}
	if cfg.Catalog.Path == "" {
		return errors.New("catalog.path must not be empty")
	}
	switch cfg.Audio.Driver {
	case "stub", "portaudio":
	default:
		return errors.New("audio.driver must be one of stub|portaudio")
	}
	if cfg.Audio.CaptureSampleRate <= 0 || cfg.Audio.PlaybackSampleRate <= 0 {
		return errors.New("audio sample rates must be positive")
	}
	if cfg.Audio.Channels <= 0 {
		return errors.New("audio.channels must be positive")
	}
	if cfg.Audio.FrameDurationMS <= 0 {
		return errors.New("audio.frame_duration_ms must be positive")
	}
	if cfg.Audio.SwitchSettleMS < 0 {
		return errors.New("audio.switch_settle_ms must be >= 0")
	}
	switch cfg.STT.Mode {
	case "mock", "exec":
	default:
		return errors.New("stt.mode must be one of mock|exec")
	}
	if cfg.STT.Mode == "exec" && cfg.STT.Command == "" {
		return errors.New("stt.command must be set when mode=exec")
	}
	if cfg.STT.PartialEveryMS <= 0 {
		return errors.New("stt.partial_every_ms must be positive")
	}
	if cfg.STT.MaxSessionMS <= 0 {
		return errors.New("stt.max_session_ms must be positive")
	}
	switch cfg.TTS.Mode {
	case "mock", "exec":
	default:
		return errors.New("tts.mode must be one of mock|exec")
	}
	if cfg.TTS.Mode == "exec" && cfg.TTS.Command == "" {
		return errors.New("tts.command must be set when mode=exec")
	}
	if cfg.TTS.Rate <= 0 || cfg.TTS.Rate > 1 {
		return errors.New("tts.rate must be in (0, 1]")
	}
	if cfg.TTS.Volume < 0 || cfg.TTS.Volume > 1 {
		return errors.New("tts.volume must be in [0, 1]")
	}
	// The recognizer and the synthesizer must agree on the language;
	// a mismatch is a configuration error, not a runtime condition.
	if !strings.EqualFold(cfg.STT.Language, cfg.TTS.Language) {
		return fmt.Errorf("stt.language %q and tts.language %q must match", cfg.STT.Language, cfg.TTS.Language)
	}
	if cfg.Dialog.CameraDistanceM <= 0 {
		return errors.New("dialog.camera_distance_m must be positive")
	}
	if cfg.Dialog.CooldownMS < 0 {
		return errors.New("dialog.cooldown_ms must be >= 0")
	}
	if cfg.Permissions.Enabled {
		if cfg.Permissions.RequestTimeoutMS <= 0 {
			return errors.New("permissions.request_timeout_ms must be positive")
		}
		if cfg.Permissions.SnapshotIntervalMS <= 0 {
			return errors.New("permissions.snapshot_interval_ms must be positive")
		}
	}
	return nil
}
