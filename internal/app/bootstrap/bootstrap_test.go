package bootstrap

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

func TestLoadConfigLayersFileAndEnv(t *testing.T) {
	path := writeConfig(t, `
service:
  id: clinic-test
  http_port: 8181
  log_level: debug
store:
  driver: memory
dependencies:
  kafka_brokers: [" broker-1:9092 ", ""]
  kafka_max_wait_ms: 900
workers:
  recall_schedule: "0 6 * * *"
rate_limit:
  per_minute: 120
`)
	t.Setenv("HTTP_PORT", "9191")
	t.Setenv("KAFKA_INBOUND_TOPICS", "clinic.scheduling, ,clinic.billing")
	t.Setenv("DB_AUTO_MIGRATE", "no")
	t.Setenv("KAFKA_READ_TIMEOUT_MS", "1500")
	t.Setenv("KAFKA_START_OFFSET", "LATEST")

	cfg, err := LoadConfig(path)
	if err != nil {
		t.Fatalf("load config: %v", err)
	}
	if cfg.ServiceID != "clinic-test" || cfg.HTTPPort != 9191 || cfg.GRPCPort != 9090 {
		t.Fatalf("unexpected service settings %+v", cfg)
	}
	if cfg.StoreDriver != StoreDriverMemory || cfg.AutoMigrate {
		t.Fatalf("unexpected store settings driver=%s migrate=%v", cfg.StoreDriver, cfg.AutoMigrate)
	}
	if cfg.LogLevel != slog.LevelDebug {
		t.Fatalf("log level = %v", cfg.LogLevel)
	}
	if len(cfg.KafkaBrokers) != 1 || cfg.KafkaBrokers[0] != "broker-1:9092" {
		t.Fatalf("brokers = %v", cfg.KafkaBrokers)
	}
	if strings.Join(cfg.KafkaInboundTopics, ",") != "clinic.scheduling,clinic.billing" {
		t.Fatalf("inbound topics = %v", cfg.KafkaInboundTopics)
	}
	if cfg.KafkaMaxWait != 900*time.Millisecond || cfg.KafkaReadTimeout != 1500*time.Millisecond {
		t.Fatalf("kafka timings wait=%v read=%v", cfg.KafkaMaxWait, cfg.KafkaReadTimeout)
	}
	if cfg.KafkaStartOffset != "latest" || cfg.KafkaMinBytes != 1 {
		t.Fatalf("kafka start=%q min bytes=%d", cfg.KafkaStartOffset, cfg.KafkaMinBytes)
	}
	if cfg.RecallSchedule != "0 6 * * *" || cfg.RateLimitPerMinute != 120 || cfg.RateLimitBurst != 60 {
		t.Fatalf("unexpected worker settings %+v", cfg)
	}
}

func TestLoadConfigRequiresDatabaseForPostgres(t *testing.T) {
	t.Setenv("DB_URL", "")
	t.Setenv("POSTGRES_URL", "")
	t.Setenv("STORE_DRIVER", "postgres")
	if _, err := LoadConfig(filepath.Join(t.TempDir(), "missing.yaml")); err == nil {
		t.Fatalf("expected missing DB_URL to fail")
	}

	t.Setenv("STORE_DRIVER", "sqlite")
	if _, err := LoadConfig(filepath.Join(t.TempDir(), "missing.yaml")); err == nil {
		t.Fatalf("expected unknown driver to fail")
	}

	t.Setenv("STORE_DRIVER", "memory")
	t.Setenv("ENCRYPTION_SECRET", "short")
	if _, err := LoadConfig(filepath.Join(t.TempDir(), "missing.yaml")); err == nil {
		t.Fatalf("expected short encryption secret to fail")
	}
}

func TestBuildMemoryRuntimeServesHTTP(t *testing.T) {
	t.Parallel()
	cfg := Config{
		ServiceID:            "clinic-test",
		StoreDriver:          StoreDriverMemory,
		FileStorageRoot:      t.TempDir(),
		MaxUploadBytes:       1 << 20,
		RecallSchedule:       "@daily",
		OutboxPollInterval:   time.Second,
		OutboxBatchSize:      10,
		ConsumerPollInterval: time.Second,
		RateLimitPerMinute:   600,
		RateLimitBurst:       10,
		EncryptionSecret:     "0123456789abcdef-test",
	}
	rt, err := Build(context.Background(), cfg, slog.New(slog.NewTextHandler(io.Discard, nil)))
	if err != nil {
		t.Fatalf("build runtime: %v", err)
	}
	t.Cleanup(rt.Close)

	for _, path := range []string{"/healthz", "/readyz", "/metrics"} {
		rec := httptest.NewRecorder()
		rt.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, path, nil))
		if rec.Code != http.StatusOK {
			t.Fatalf("%s returned %d", path, rec.Code)
		}
	}

	req := httptest.NewRequest(http.MethodGet, "/v1/services", nil)
	req.Header.Set("X-Actor-Id", "dr-1")
	req.Header.Set("X-Actor-Role", "clinician")
	rec := httptest.NewRecorder()
	rt.Handler().ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("list services returned %d: %s", rec.Code, rec.Body.String())
	}
	if rt.Service().Machine() == nil {
		t.Fatalf("service machine not wired")
	}
}
