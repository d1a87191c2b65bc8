package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestLoadDefaults(t *testing.T) {
	setCoreEnvEmpty(t)

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.ServerURL != "http://localhost:8000" || cfg.ServerBasePath != "/adh" || cfg.ServerVersion != "v0" {
		t.Fatalf("server = %q %q %q, want ADH defaults", cfg.ServerURL, cfg.ServerBasePath, cfg.ServerVersion)
	}
	if cfg.TTSSentenceMinLength != 6 {
		t.Fatalf("TTSSentenceMinLength = %d, want 6", cfg.TTSSentenceMinLength)
	}
	if cfg.RenderTick != 16*time.Millisecond {
		t.Fatalf("RenderTick = %v, want 16ms", cfg.RenderTick)
	}
	if cfg.DatabaseURL != "" {
		t.Fatalf("DatabaseURL = %q, want empty default", cfg.DatabaseURL)
	}
}

func TestLoadFileThenEnvOverrides(t *testing.T) {
	setCoreEnvEmpty(t)
	path := filepath.Join(t.TempDir(), "sentio.yaml")
	data := strings.Join([]string{
		"server:",
		"  bind_addr: \":9191\"",
		"  shutdown_timeout: 3s",
		"adh:",
		"  url: http://adh.local:9000",
		"  max_retries: 0",
		"agent:",
		"  engine: dify",
		"  settings:",
		"    api_key: secret",
		"tts:",
		"  sentence_min_length: 0",
		"playback:",
		"  mute: true",
		"",
	}, "\n")
	if err := os.WriteFile(path, []byte(data), 0o600); err != nil {
		t.Fatalf("WriteFile() error = %v", err)
	}
	t.Setenv("SENTIO_CONFIG", path)
	t.Setenv("APP_BIND_ADDR", ":7070")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.BindAddr != ":7070" {
		t.Fatalf("BindAddr = %q, want env override :7070", cfg.BindAddr)
	}
	if cfg.ShutdownTimeout != 3*time.Second {
		t.Fatalf("ShutdownTimeout = %v, want 3s", cfg.ShutdownTimeout)
	}
	if cfg.ServerURL != "http://adh.local:9000" || cfg.MaxRetries != 0 {
		t.Fatalf("ServerURL, MaxRetries = %q, %d", cfg.ServerURL, cfg.MaxRetries)
	}
	if cfg.AgentEngine != "dify" || cfg.AgentSettings["api_key"] != "secret" {
		t.Fatalf("agent = %q %v", cfg.AgentEngine, cfg.AgentSettings)
	}
	if cfg.TTSSentenceMinLength != 0 || !cfg.Mute {
		t.Fatalf("TTSSentenceMinLength, Mute = %d, %v, want 0, true", cfg.TTSSentenceMinLength, cfg.Mute)
	}
}

func TestLoadRejectsInvalidValues(t *testing.T) {
	cases := []struct {
		key, value, want string
	}{
		{"APP_SHUTDOWN_TIMEOUT", "soon", "APP_SHUTDOWN_TIMEOUT parse error"},
		{"SENTIO_TTS_CONCURRENCY", "0", "SENTIO_TTS_CONCURRENCY must be positive"},
		{"APP_LOG_FORMAT", "xml", "APP_LOG_FORMAT must be text or json"},
		{"SENTIO_MUTE", "maybe", "SENTIO_MUTE parse error"},
		{"SENTIO_LIP_FACTOR", "-1", "SENTIO_LIP_FACTOR must be positive"},
	}
	for _, tc := range cases {
		t.Run(tc.key, func(t *testing.T) {
			setCoreEnvEmpty(t)
			t.Setenv(tc.key, tc.value)
			_, err := Load()
			if err == nil || !strings.Contains(err.Error(), tc.want) {
				t.Fatalf("Load() error = %v, want %q", err, tc.want)
			}
		})
	}
}

func TestLoadFileMissing(t *testing.T) {
	setCoreEnvEmpty(t)
	if _, err := LoadFile(filepath.Join(t.TempDir(), "nope.yaml")); err == nil {
		t.Fatalf("LoadFile(missing) error = nil")
	}
}

func setCoreEnvEmpty(t *testing.T) {
	t.Helper()
	keys := []string{
		"SENTIO_CONFIG",
		"APP_BIND_ADDR",
		"APP_SHUTDOWN_TIMEOUT",
		"APP_METRICS_NAMESPACE",
		"APP_PERF_WINDOW_SIZE",
		"APP_ALLOW_ANY_ORIGIN",
		"APP_LOG_LEVEL",
		"APP_LOG_FORMAT",
		"ADH_SERVER_URL",
		"ADH_BASE_PATH",
		"ADH_VERSION",
		"ADH_USER_ID",
		"ADH_HTTP_TIMEOUT",
		"ADH_MAX_RETRIES",
		"ADH_HEARTBEAT_WAIT",
		"SENTIO_ASR_ENGINE",
		"SENTIO_ASR_FORMAT",
		"SENTIO_ASR_SAMPLE_RATE",
		"SENTIO_ASR_SAMPLE_WIDTH",
		"SENTIO_TTS_ENGINE",
		"SENTIO_TTS_PUNC",
		"SENTIO_TTS_SENTENCE_LENGTH_MIN",
		"SENTIO_TTS_CONCURRENCY",
		"SENTIO_AGENT_ENGINE",
		"SENTIO_MUTE",
		"SENTIO_RENDER_TICK",
		"SENTIO_LIP_FACTOR",
		"SENTIO_DECODE_TIMEOUT",
		"SENTIO_CHARACTER",
		"DATABASE_URL",
	}
	for _, key := range keys {
		t.Setenv(key, "")
	}
}
