package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func validDefault() *Config {
	cfg := Default()
	cfg.Auth.JWT.Secret = "0123456789abcdef0123456789abcdef"
	return cfg
}

func TestDefault(t *testing.T) {
	cfg := Default()

	if cfg.Server.Port != DefaultPort {
		t.Errorf("expected port %d, got %d", DefaultPort, cfg.Server.Port)
	}

	if cfg.Database.Path != DefaultDBPath {
		t.Errorf("expected db path %s, got %s", DefaultDBPath, cfg.Database.Path)
	}

	if cfg.Notify.UserCheckURL() != "http://localhost:8080/internal/user/check" {
		t.Errorf("unexpected user check url %s", cfg.Notify.UserCheckURL())
	}

	if cfg.Notify.SMSSendURL() != "http://localhost:8080/internal/sms/send" {
		t.Errorf("unexpected sms url %s", cfg.Notify.SMSSendURL())
	}

	if cfg.Notify.Timeout != DefaultNotifyTimeout {
		t.Errorf("expected notify timeout %v, got %v", DefaultNotifyTimeout, cfg.Notify.Timeout)
	}
}

func TestValidate_ValidConfig(t *testing.T) {
	if err := Validate(validDefault()); err != nil {
		t.Errorf("expected valid config, got error: %v", err)
	}
}

func TestValidate_MissingSecret(t *testing.T) {
	cfg := Default()

	err := Validate(cfg)
	if err == nil {
		t.Fatal("expected validation error for missing secret")
	}
	assertField(t, err, "auth.jwt.secret")

	cfg.Auth.AllowAnonymous = true
	if err := Validate(cfg); err != nil {
		t.Errorf("anonymous mode should not require a secret, got %v", err)
	}
}

func TestValidate_InvalidPort(t *testing.T) {
	cfg := validDefault()
	cfg.Server.Port = 0

	assertField(t, Validate(cfg), "server.port")
}

func TestValidate_NotifyTimeout(t *testing.T) {
	cfg := validDefault()
	cfg.Notify.Timeout = 0
	assertField(t, Validate(cfg), "notify.timeout")

	cfg.Notify.Timeout = time.Minute
	assertField(t, Validate(cfg), "notify.timeout")
}

func TestValidate_NotifyBaseURL(t *testing.T) {
	cfg := validDefault()
	cfg.Notify.BaseURL = "not a url"

	assertField(t, Validate(cfg), "notify.base_url")
}

func TestValidate_SchedulerDisabledSkipsChecks(t *testing.T) {
	cfg := validDefault()
	cfg.Scheduler.Enabled = false
	cfg.Scheduler.Workers = 0

	if err := Validate(cfg); err != nil {
		t.Errorf("expected valid config, got %v", err)
	}

	cfg.Scheduler.Enabled = true
	assertField(t, Validate(cfg), "scheduler.workers")
}

func TestValidate_SchedulerTimezone(t *testing.T) {
	cfg := validDefault()
	cfg.Scheduler.Timezone = "Asia/Shanghai"
	if err := Validate(cfg); err != nil {
		t.Errorf("expected valid config, got %v", err)
	}

	cfg.Scheduler.Timezone = "Mars/Olympus"
	assertField(t, Validate(cfg), "scheduler.timezone")
}

func TestValidate_RateLimit(t *testing.T) {
	cfg := validDefault()
	cfg.Server.RateLimit.Burst = 0
	assertField(t, Validate(cfg), "server.rate_limit")

	cfg.Server.RateLimit.Enabled = false
	if err := Validate(cfg); err != nil {
		t.Errorf("expected disabled rate limit to skip checks, got %v", err)
	}
}

func TestLoadFromFile(t *testing.T) {
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "nudge.yaml")

	content := `
server:
  port: 9000
auth:
  jwt:
    secret: "0123456789abcdef0123456789abcdef"
notify:
  base_url: "http://sms.internal:9090"
  token: "${NUDGE_TEST_TOKEN}"
  timeout: 2s
scheduler:
  workers: 3
`
	if err := os.WriteFile(configPath, []byte(content), 0o644); err != nil {
		t.Fatalf("failed to write config: %v", err)
	}
	t.Setenv("NUDGE_TEST_TOKEN", "from-env")

	cfg, err := LoadFromFile(configPath)
	if err != nil {
		t.Fatalf("failed to load config: %v", err)
	}

	if cfg.Server.Port != 9000 {
		t.Errorf("expected port 9000, got %d", cfg.Server.Port)
	}
	if cfg.Notify.BaseURL != "http://sms.internal:9090" {
		t.Errorf("unexpected base url %s", cfg.Notify.BaseURL)
	}
	if cfg.Notify.Token != "from-env" {
		t.Errorf("expected token expanded from env, got %q", cfg.Notify.Token)
	}
	if cfg.Notify.Timeout != 2*time.Second {
		t.Errorf("expected timeout 2s, got %v", cfg.Notify.Timeout)
	}
	if cfg.Scheduler.Workers != 3 {
		t.Errorf("expected 3 workers, got %d", cfg.Scheduler.Workers)
	}
	if cfg.Notify.SMSSendPath != DefaultSMSSendPath {
		t.Errorf("expected default sms path, got %s", cfg.Notify.SMSSendPath)
	}
}

func assertField(t *testing.T, err error, field string) {
	t.Helper()

	if err == nil {
		t.Fatalf("expected validation error for %s", field)
	}

	errs, ok := err.(ValidationErrors)
	if !ok {
		t.Fatalf("expected ValidationErrors, got %T", err)
	}

	for _, e := range errs {
		if e.Field == field {
			return
		}
	}
	t.Errorf("expected error for %s field, got %v", field, errs)
}
