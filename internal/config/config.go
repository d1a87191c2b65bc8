package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/goccy/go-yaml"
)

// Config contains all runtime settings for the conversation host.
type Config struct {
	BindAddr         string
	ShutdownTimeout  time.Duration
	MetricsNamespace string
	PerfWindowSize   int
	AllowAnyOrigin   bool

	LogLevel  string
	LogFormat string

	ServerURL      string
	ServerBasePath string
	ServerVersion  string
	UserID         string
	HTTPTimeout    time.Duration
	MaxRetries     int
	HeartbeatWait  time.Duration

	ASREngine      string
	ASRFormat      string
	ASRSampleRate  int
	ASRSampleWidth int
	ASRSettings    map[string]any

	TTSEngine            string
	TTSPunctuation       string
	TTSSentenceMinLength int
	TTSConcurrency       int
	TTSSettings          map[string]any

	AgentEngine   string
	AgentSettings map[string]any

	Mute          bool
	RenderTick    time.Duration
	LipFactor     float64
	DecodeTimeout time.Duration

	Character string

	DatabaseURL string
}

// fileConfig mirrors the optional YAML config file. Durations are strings
// in time.ParseDuration syntax.
type fileConfig struct {
	Server struct {
		BindAddr         string `yaml:"bind_addr"`
		ShutdownTimeout  string `yaml:"shutdown_timeout"`
		MetricsNamespace string `yaml:"metrics_namespace"`
		PerfWindowSize   int    `yaml:"perf_window_size"`
		AllowAnyOrigin   *bool  `yaml:"allow_any_origin"`
	} `yaml:"server"`
	Log struct {
		Level  string `yaml:"level"`
		Format string `yaml:"format"`
	} `yaml:"log"`
	ADH struct {
		URL           string `yaml:"url"`
		BasePath      string `yaml:"base_path"`
		Version       string `yaml:"version"`
		UserID        string `yaml:"user_id"`
		Timeout       string `yaml:"timeout"`
		MaxRetries    *int   `yaml:"max_retries"`
		HeartbeatWait string `yaml:"heartbeat_wait"`
	} `yaml:"adh"`
	ASR struct {
		Engine      string         `yaml:"engine"`
		Format      string         `yaml:"format"`
		SampleRate  int            `yaml:"sample_rate"`
		SampleWidth int            `yaml:"sample_width"`
		Settings    map[string]any `yaml:"settings"`
	} `yaml:"asr"`
	TTS struct {
		Engine            string         `yaml:"engine"`
		Punctuation       string         `yaml:"punctuation"`
		SentenceMinLength *int           `yaml:"sentence_min_length"`
		Concurrency       int            `yaml:"concurrency"`
		Settings          map[string]any `yaml:"settings"`
	} `yaml:"tts"`
	Agent struct {
		Engine   string         `yaml:"engine"`
		Settings map[string]any `yaml:"settings"`
	} `yaml:"agent"`
	Playback struct {
		Mute          *bool   `yaml:"mute"`
		RenderTick    string  `yaml:"render_tick"`
		LipFactor     float64 `yaml:"lip_factor"`
		DecodeTimeout string  `yaml:"decode_timeout"`
	} `yaml:"playback"`
	Avatar struct {
		Character string `yaml:"character"`
	} `yaml:"avatar"`
	Memory struct {
		DatabaseURL string `yaml:"database_url"`
	} `yaml:"memory"`
}

func defaults() Config {
	return Config{
		BindAddr:             ":8080",
		ShutdownTimeout:      15 * time.Second,
		MetricsNamespace:     "sentio",
		PerfWindowSize:       200,
		LogLevel:             "info",
		LogFormat:            "text",
		ServerURL:            "http://localhost:8000",
		ServerBasePath:       "/adh",
		ServerVersion:        "v0",
		MaxRetries:           2,
		HeartbeatWait:        3 * time.Second,
		ASREngine:            "default",
		ASRFormat:            "wav",
		ASRSampleRate:        16000,
		ASRSampleWidth:       2,
		TTSEngine:            "default",
		TTSPunctuation:       "；！？。?!.;",
		TTSSentenceMinLength: 6,
		TTSConcurrency:       2,
		AgentEngine:          "default",
		RenderTick:           16 * time.Millisecond,
		LipFactor:            5.0,
		DecodeTimeout:        5 * time.Second,
		Character:            "HaruGreeter",
	}
}

// Load reads the YAML file named by SENTIO_CONFIG, if any, then environment
// variables, and applies safe defaults.
func Load() (Config, error) {
	return LoadFile(stringsTrimSpace("SENTIO_CONFIG"))
}

// LoadFile is Load with an explicit config file path. Environment variables
// override values from the file.
func LoadFile(path string) (Config, error) {
	cfg := defaults()
	if path != "" {
		if err := applyFile(&cfg, path); err != nil {
			return Config{}, err
		}
	}
	if err := applyEnv(&cfg); err != nil {
		return Config{}, err
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func applyFile(cfg *Config, path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read config %s: %w", path, err)
	}
	var fc fileConfig
	if err := yaml.Unmarshal(data, &fc); err != nil {
		return fmt.Errorf("parse config %s: %w", path, err)
	}

	setString(&cfg.BindAddr, fc.Server.BindAddr)
	setString(&cfg.MetricsNamespace, fc.Server.MetricsNamespace)
	setInt(&cfg.PerfWindowSize, fc.Server.PerfWindowSize)
	if fc.Server.AllowAnyOrigin != nil {
		cfg.AllowAnyOrigin = *fc.Server.AllowAnyOrigin
	}
	setString(&cfg.LogLevel, fc.Log.Level)
	setString(&cfg.LogFormat, fc.Log.Format)

	setString(&cfg.ServerURL, fc.ADH.URL)
	setString(&cfg.ServerBasePath, fc.ADH.BasePath)
	setString(&cfg.ServerVersion, fc.ADH.Version)
	setString(&cfg.UserID, fc.ADH.UserID)
	if fc.ADH.MaxRetries != nil {
		cfg.MaxRetries = *fc.ADH.MaxRetries
	}

	setString(&cfg.ASREngine, fc.ASR.Engine)
	setString(&cfg.ASRFormat, fc.ASR.Format)
	setInt(&cfg.ASRSampleRate, fc.ASR.SampleRate)
	setInt(&cfg.ASRSampleWidth, fc.ASR.SampleWidth)
	cfg.ASRSettings = fc.ASR.Settings

	setString(&cfg.TTSEngine, fc.TTS.Engine)
	setString(&cfg.TTSPunctuation, fc.TTS.Punctuation)
	if fc.TTS.SentenceMinLength != nil {
		cfg.TTSSentenceMinLength = *fc.TTS.SentenceMinLength
	}
	setInt(&cfg.TTSConcurrency, fc.TTS.Concurrency)
	cfg.TTSSettings = fc.TTS.Settings

	setString(&cfg.AgentEngine, fc.Agent.Engine)
	cfg.AgentSettings = fc.Agent.Settings

	if fc.Playback.Mute != nil {
		cfg.Mute = *fc.Playback.Mute
	}
	if fc.Playback.LipFactor != 0 {
		cfg.LipFactor = fc.Playback.LipFactor
	}
	setString(&cfg.Character, fc.Avatar.Character)
	setString(&cfg.DatabaseURL, fc.Memory.DatabaseURL)

	durations := []struct {
		key string
		raw string
		dst *time.Duration
	}{
		{"server.shutdown_timeout", fc.Server.ShutdownTimeout, &cfg.ShutdownTimeout},
		{"adh.timeout", fc.ADH.Timeout, &cfg.HTTPTimeout},
		{"adh.heartbeat_wait", fc.ADH.HeartbeatWait, &cfg.HeartbeatWait},
		{"playback.render_tick", fc.Playback.RenderTick, &cfg.RenderTick},
		{"playback.decode_timeout", fc.Playback.DecodeTimeout, &cfg.DecodeTimeout},
	}
	for _, d := range durations {
		v := trimSpace(d.raw)
		if v == "" {
			continue
		}
		parsed, err := time.ParseDuration(v)
		if err != nil {
			return fmt.Errorf("%s: %s parse error: %w", path, d.key, err)
		}
		*d.dst = parsed
	}
	return nil
}

func applyEnv(cfg *Config) error {
	cfg.BindAddr = envOrDefault("APP_BIND_ADDR", cfg.BindAddr)
	cfg.MetricsNamespace = envOrDefault("APP_METRICS_NAMESPACE", cfg.MetricsNamespace)
	cfg.LogLevel = strings.ToLower(envOrDefault("APP_LOG_LEVEL", cfg.LogLevel))
	cfg.LogFormat = strings.ToLower(envOrDefault("APP_LOG_FORMAT", cfg.LogFormat))
	cfg.ServerURL = envOrDefault("ADH_SERVER_URL", cfg.ServerURL)
	cfg.ServerBasePath = envOrDefault("ADH_BASE_PATH", cfg.ServerBasePath)
	cfg.ServerVersion = envOrDefault("ADH_VERSION", cfg.ServerVersion)
	cfg.UserID = envOrDefault("ADH_USER_ID", cfg.UserID)
	cfg.ASREngine = envOrDefault("SENTIO_ASR_ENGINE", cfg.ASREngine)
	cfg.ASRFormat = envOrDefault("SENTIO_ASR_FORMAT", cfg.ASRFormat)
	cfg.TTSEngine = envOrDefault("SENTIO_TTS_ENGINE", cfg.TTSEngine)
	cfg.TTSPunctuation = envOrDefault("SENTIO_TTS_PUNC", cfg.TTSPunctuation)
	cfg.AgentEngine = envOrDefault("SENTIO_AGENT_ENGINE", cfg.AgentEngine)
	cfg.Character = envOrDefault("SENTIO_CHARACTER", cfg.Character)
	if v := stringsTrimSpace("DATABASE_URL"); v != "" {
		cfg.DatabaseURL = v
	}

	var err error
	durations := []struct {
		key string
		dst *time.Duration
	}{
		{"APP_SHUTDOWN_TIMEOUT", &cfg.ShutdownTimeout},
		{"ADH_HTTP_TIMEOUT", &cfg.HTTPTimeout},
		{"ADH_HEARTBEAT_WAIT", &cfg.HeartbeatWait},
		{"SENTIO_RENDER_TICK", &cfg.RenderTick},
		{"SENTIO_DECODE_TIMEOUT", &cfg.DecodeTimeout},
	}
	for _, d := range durations {
		if *d.dst, err = durationFromEnv(d.key, *d.dst); err != nil {
			return err
		}
	}

	ints := []struct {
		key string
		dst *int
	}{
		{"APP_PERF_WINDOW_SIZE", &cfg.PerfWindowSize},
		{"ADH_MAX_RETRIES", &cfg.MaxRetries},
		{"SENTIO_ASR_SAMPLE_RATE", &cfg.ASRSampleRate},
		{"SENTIO_ASR_SAMPLE_WIDTH", &cfg.ASRSampleWidth},
		{"SENTIO_TTS_SENTENCE_LENGTH_MIN", &cfg.TTSSentenceMinLength},
		{"SENTIO_TTS_CONCURRENCY", &cfg.TTSConcurrency},
	}
	for _, n := range ints {
		if *n.dst, err = intFromEnv(n.key, *n.dst); err != nil {
			return err
		}
	}

	if cfg.AllowAnyOrigin, err = boolFromEnv("APP_ALLOW_ANY_ORIGIN", cfg.AllowAnyOrigin); err != nil {
		return err
	}
	if cfg.Mute, err = boolFromEnv("SENTIO_MUTE", cfg.Mute); err != nil {
		return err
	}
	if cfg.LipFactor, err = floatFromEnv("SENTIO_LIP_FACTOR", cfg.LipFactor); err != nil {
		return err
	}
	return nil
}

// Validate rejects settings the host cannot run with.
func (c Config) Validate() error {
	if c.ShutdownTimeout <= 0 {
		return fmt.Errorf("APP_SHUTDOWN_TIMEOUT must be positive")
	}
	if c.PerfWindowSize <= 0 {
		return fmt.Errorf("APP_PERF_WINDOW_SIZE must be positive")
	}
	switch c.LogLevel {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("APP_LOG_LEVEL must be one of debug, info, warn, error")
	}
	switch c.LogFormat {
	case "text", "json":
	default:
		return fmt.Errorf("APP_LOG_FORMAT must be text or json")
	}
	if c.HTTPTimeout < 0 {
		return fmt.Errorf("ADH_HTTP_TIMEOUT must be >= 0")
	}
	if c.MaxRetries < 0 {
		return fmt.Errorf("ADH_MAX_RETRIES must be >= 0")
	}
	if c.ASRSampleRate <= 0 {
		return fmt.Errorf("SENTIO_ASR_SAMPLE_RATE must be positive")
	}
	if c.ASRSampleWidth <= 0 {
		return fmt.Errorf("SENTIO_ASR_SAMPLE_WIDTH must be positive")
	}
	if c.TTSPunctuation == "" {
		return fmt.Errorf("SENTIO_TTS_PUNC must not be empty")
	}
	if c.TTSSentenceMinLength < 0 {
		return fmt.Errorf("SENTIO_TTS_SENTENCE_LENGTH_MIN must be >= 0")
	}
	if c.TTSConcurrency <= 0 {
		return fmt.Errorf("SENTIO_TTS_CONCURRENCY must be positive")
	}
	if c.RenderTick < time.Millisecond {
		return fmt.Errorf("SENTIO_RENDER_TICK must be at least 1ms")
	}
	if c.LipFactor <= 0 {
		return fmt.Errorf("SENTIO_LIP_FACTOR must be positive")
	}
	if c.DecodeTimeout <= 0 {
		return fmt.Errorf("SENTIO_DECODE_TIMEOUT must be positive")
	}
	return nil
}

func setString(dst *string, v string) {
	if v = trimSpace(v); v != "" {
		*dst = v
	}
}

func setInt(dst *int, v int) {
	if v != 0 {
		*dst = v
	}
}

func envOrDefault(key, fallback string) string {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	return v
}

func stringsTrimSpace(key string) string {
	return trimSpace(os.Getenv(key))
}

func trimSpace(v string) string {
	for len(v) > 0 && (v[0] == ' ' || v[0] == '\n' || v[0] == '\t' || v[0] == '\r') {
		v = v[1:]
	}
	for len(v) > 0 {
		c := v[len(v)-1]
		if c == ' ' || c == '\n' || c == '\t' || c == '\r' {
			v = v[:len(v)-1]
			continue
		}
		break
	}
	return v
}

func durationFromEnv(key string, fallback time.Duration) (time.Duration, error) {
	v := stringsTrimSpace(key)
	if v == "" {
		return fallback, nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return 0, fmt.Errorf("%s parse error: %w", key, err)
	}
	return d, nil
}

func intFromEnv(key string, fallback int) (int, error) {
	v := stringsTrimSpace(key)
	if v == "" {
		return fallback, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("%s parse error: %w", key, err)
	}
	return n, nil
}

func floatFromEnv(key string, fallback float64) (float64, error) {
	v := stringsTrimSpace(key)
	if v == "" {
		return fallback, nil
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return 0, fmt.Errorf("%s parse error: %w", key, err)
	}
	return f, nil
}

func boolFromEnv(key string, fallback bool) (bool, error) {
	v := strings.ToLower(stringsTrimSpace(key))
	if v == "" {
		return fallback, nil
	}
	switch v {
	case "1", "true", "t", "yes", "y", "on":
		return true, nil
	case "0", "false", "f", "no", "n", "off":
		return false, nil
	default:
		return false, fmt.Errorf("%s parse error: expected bool", key)
	}
}
