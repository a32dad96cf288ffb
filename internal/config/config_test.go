package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestLoadDefaults(t *testing.T) {
	t.Setenv(FileEnv, "")
	t.Setenv("REDIS_ADDR", "")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load returned error: %v", err)
	}
	if cfg.API.Addr != ":8080" {
		t.Fatalf("expected default addr :8080, got %q", cfg.API.Addr)
	}
	if cfg.Convert.MaxSourceBytes != 100<<20 {
		t.Fatalf("expected 100 MiB source limit, got %d", cfg.Convert.MaxSourceBytes)
	}
	if cfg.Database.Driver != "memory" {
		t.Fatalf("expected memory job store, got %q", cfg.Database.Driver)
	}
	if cfg.Worker.MaxActiveJobs < 1 {
		t.Fatalf("expected at least one active job slot, got %d", cfg.Worker.MaxActiveJobs)
	}
}

func TestLoadFileThenEnv(t *testing.T) {
	path := filepath.Join(t.TempDir(), "imageconv.yaml")
	body := []byte(`
api:
  addr: ":9000"
  presign_ttl: 5m
queue:
  redis_addr: "redis:6379"
  max_retry: 7
convert:
  output_dir: /srv/out
  max_source_bytes: 1048576
database:
  driver: postgres
`)
	if err := os.WriteFile(path, body, 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	t.Setenv(FileEnv, path)
	t.Setenv("REDIS_ADDR", "override:6380")
	t.Setenv("IMAGECONV_MAX_SOURCE_BYTES", "not-a-number")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load returned error: %v", err)
	}
	if cfg.API.Addr != ":9000" {
		t.Fatalf("expected file addr :9000, got %q", cfg.API.Addr)
	}
	if cfg.API.PresignTTL != 5*time.Minute {
		t.Fatalf("expected presign ttl 5m, got %s", cfg.API.PresignTTL)
	}
	if cfg.Queue.RedisAddr != "override:6380" {
		t.Fatalf("expected env to override redis addr, got %q", cfg.Queue.RedisAddr)
	}
	if cfg.Convert.OutputDir != "/srv/out" {
		t.Fatalf("expected output dir from file, got %q", cfg.Convert.OutputDir)
	}
	if cfg.Convert.MaxSourceBytes != 1<<20 {
		t.Fatalf("expected invalid env value to fall back to file value, got %d", cfg.Convert.MaxSourceBytes)
	}
	if cfg.Database.Driver != "postgres" {
		t.Fatalf("expected postgres driver, got %q", cfg.Database.Driver)
	}
	if opts := cfg.Queue.EnqueueOptions(); opts.MaxRetry != 7 || opts.TaskTimeout != 5*time.Minute || opts.Name != "default" {
		t.Fatalf("unexpected enqueue options %+v", opts)
	}
	if cfg.Webhook.MaxAttempts != 3 {
		t.Fatalf("expected untouched default webhook attempts, got %d", cfg.Webhook.MaxAttempts)
	}
}

func TestLoadMissingFile(t *testing.T) {
	t.Setenv(FileEnv, filepath.Join(t.TempDir(), "missing.yaml"))
	if _, err := Load(); err == nil {
		t.Fatal("expected error for missing config file")
	}
}

func TestEnvHelpersFallBack(t *testing.T) {
	t.Setenv("IMAGECONV_TEST_BOOL", "maybe")
	t.Setenv("IMAGECONV_TEST_DURATION", "90s")

	if got := envBool("IMAGECONV_TEST_BOOL", true); !got {
		t.Fatal("expected invalid bool to fall back to true")
	}
	if got := envDuration("IMAGECONV_TEST_DURATION", time.Second); got != 90*time.Second {
		t.Fatalf("expected 90s, got %s", got)
	}
	if got := envInt("IMAGECONV_TEST_UNSET", 7); got != 7 {
		t.Fatalf("expected fallback 7, got %d", got)
	}

	t.Setenv("IMAGECONV_TEST_RATIO", "0.25")
	if got := envFloat("IMAGECONV_TEST_RATIO", 1); got != 0.25 {
		t.Fatalf("expected 0.25, got %v", got)
	}
	t.Setenv("IMAGECONV_TEST_RATIO", "quarter")
	if got := envFloat("IMAGECONV_TEST_RATIO", 1); got != 1 {
		t.Fatalf("expected fallback 1, got %v", got)
	}
}
