package config

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

// mockSecrets is a test double for the secrets store.
type mockSecrets map[string]string

func (m mockSecrets) Get(account string) (string, error) {
	v, ok := m[account]
	if !ok {
		return "", errors.New("not found")
	}
	return v, nil
}

func clearEnv(t *testing.T) {
	t.Helper()
	for _, s := range specs {
		t.Setenv(s.env, "")
	}
}

func writeTempConfig(t *testing.T, content string) *fileBackend {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.json")
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
	return newFileBackend(path)
}

// TestDefaults verifies all default values are applied when loading an empty config file.
func TestDefaults(t *testing.T) {
	clearEnv(t)
	t.Setenv("MISSIONCTL_WEBHOOK_API_KEY", "test-key")

	cfg, err := loadWith(writeTempConfig(t, `{}`), mockSecrets{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if cfg.Server.Host != "127.0.0.1" || cfg.Server.Port != 4100 {
		t.Errorf("Server = %+v, want 127.0.0.1:4100", cfg.Server)
	}
	if cfg.Server.Addr() != "127.0.0.1:4100" {
		t.Errorf("Addr() = %q", cfg.Server.Addr())
	}
	if cfg.Storage.Driver != "sqlite" {
		t.Errorf("Storage.Driver = %q, want sqlite", cfg.Storage.Driver)
	}
	if !strings.HasSuffix(cfg.Storage.DataDir, "missionctl") {
		t.Errorf("Storage.DataDir = %q", cfg.Storage.DataDir)
	}
	if cfg.Gateway.SessionKey != "agent:main:main" {
		t.Errorf("Gateway.SessionKey = %q", cfg.Gateway.SessionKey)
	}
	if cfg.Notify.PollInterval != 500*time.Millisecond {
		t.Errorf("Notify.PollInterval = %v", cfg.Notify.PollInterval)
	}
	if cfg.Log.Level != "info" {
		t.Errorf("Log.Level = %q", cfg.Log.Level)
	}
}

// TestFileParsing verifies that non-secret fields are read from the JSON file.
func TestFileParsing(t *testing.T) {
	clearEnv(t)
	b := writeTempConfig(t, `{
  "server.host": "0.0.0.0",
  "server.port": 5100,
  "storage.data_dir": "/tmp/missionctl-test",
  "gateway.url": "http://gateway:18789",
  "gateway.session_key": "agent:ops:main",
  "notify.poll_interval": "2s",
  "log.level": "debug",
  "webhook.api_key": "ignored-in-file"
}`)

	cfg, err := loadWith(b, mockSecrets{"webhook.api_key": "from-secrets"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if cfg.Server.Addr() != "0.0.0.0:5100" {
		t.Errorf("Addr() = %q", cfg.Server.Addr())
	}
	if cfg.Storage.DataDir != "/tmp/missionctl-test" {
		t.Errorf("Storage.DataDir = %q", cfg.Storage.DataDir)
	}
	if cfg.Gateway.URL != "http://gateway:18789" || cfg.Gateway.SessionKey != "agent:ops:main" {
		t.Errorf("Gateway = %+v", cfg.Gateway)
	}
	if cfg.Notify.PollInterval != 2*time.Second {
		t.Errorf("Notify.PollInterval = %v", cfg.Notify.PollInterval)
	}
	if cfg.Log.Level != "debug" {
		t.Errorf("Log.Level = %q", cfg.Log.Level)
	}
	if cfg.Webhook.APIKey != "from-secrets" {
		t.Errorf("secret read from config file: APIKey = %q", cfg.Webhook.APIKey)
	}
}

// TestEnvOverride verifies that environment variables override file and secrets.
func TestEnvOverride(t *testing.T) {
	clearEnv(t)
	t.Setenv("MISSIONCTL_WEBHOOK_API_KEY", "env-key")
	t.Setenv("MISSIONCTL_SERVER_PORT", "4200")
	t.Setenv("MISSIONCTL_NOTIFY_POLL_INTERVAL", "not-a-duration")

	cfg, err := loadWith(writeTempConfig(t, `{"server.port": 5100}`), mockSecrets{"webhook.api_key": "secret-key"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if cfg.Webhook.APIKey != "env-key" {
		t.Errorf("APIKey = %q, want env-key", cfg.Webhook.APIKey)
	}
	if cfg.Server.Port != 4200 {
		t.Errorf("Server.Port = %d, want 4200", cfg.Server.Port)
	}
	if cfg.Notify.PollInterval != 500*time.Millisecond {
		t.Errorf("bad duration should keep default, got %v", cfg.Notify.PollInterval)
	}
}

// TestMissingRequiredField verifies a clear error when the API key is missing everywhere.
func TestMissingRequiredField(t *testing.T) {
	clearEnv(t)

	_, err := loadWith(writeTempConfig(t, `{}`), mockSecrets{})
	if err == nil {
		t.Fatal("expected error for missing API key, got nil")
	}
	if !strings.Contains(err.Error(), "missing required config") {
		t.Errorf("error = %q", err)
	}
}

func TestStorageDriverValidation(t *testing.T) {
	clearEnv(t)
	t.Setenv("MISSIONCTL_WEBHOOK_API_KEY", "k")

	t.Setenv("MISSIONCTL_STORAGE_DRIVER", "postgres")
	if _, err := loadWith(writeTempConfig(t, `{}`), mockSecrets{}); err == nil {
		t.Error("postgres without URL should fail")
	}

	cfg, err := loadWith(writeTempConfig(t, `{}`), mockSecrets{"storage.postgres_url": "postgres://localhost/board"})
	if err != nil {
		t.Fatalf("postgres with URL from secrets: %v", err)
	}
	if cfg.Storage.PostgresURL != "postgres://localhost/board" {
		t.Errorf("PostgresURL = %q", cfg.Storage.PostgresURL)
	}

	t.Setenv("MISSIONCTL_STORAGE_DRIVER", "mysql")
	if _, err := loadWith(writeTempConfig(t, `{}`), mockSecrets{}); err == nil {
		t.Error("unknown driver should fail")
	}
}

func TestSetKey(t *testing.T) {
	b := writeTempConfig(t, `{}`)

	if err := setKeyIn(b, "server.port", "4300"); err != nil {
		t.Fatalf("setKeyIn(server.port): %v", err)
	}
	if err := setKeyIn(b, "notify.poll_interval", "1s"); err != nil {
		t.Fatalf("setKeyIn(notify.poll_interval): %v", err)
	}

	reloaded := newFileBackend(b.path)
	if port, ok, err := reloaded.GetInt("server.port"); err != nil || !ok || port != 4300 {
		t.Errorf("server.port = %d, %v, %v", port, ok, err)
	}

	if err := setKeyIn(b, "server.port", "abc"); err == nil {
		t.Error("expected error for non-integer port")
	}
	if err := setKeyIn(b, "notify.poll_interval", "soon"); err == nil {
		t.Error("expected error for bad duration")
	}
	if err := setKeyIn(b, "webhook.api_key", "x"); err == nil {
		t.Error("expected error for secret key")
	}
	if err := setKeyIn(b, "nope", "x"); err == nil {
		t.Error("expected error for unknown key")
	}
}

func TestSetSecret(t *testing.T) {
	f := secretsFile{path: filepath.Join(t.TempDir(), "secrets.json")}

	if err := setSecretIn(f, "webhook.api_key", "s3cret"); err != nil {
		t.Fatalf("setSecretIn: %v", err)
	}
	if err := setSecretIn(f, "gateway.token", "tok"); err != nil {
		t.Fatalf("setSecretIn: %v", err)
	}
	if v, err := f.Get("webhook.api_key"); err != nil || v != "s3cret" {
		t.Errorf("Get = %q, %v", v, err)
	}
	if err := setSecretIn(f, "server.port", "1"); err == nil {
		t.Error("expected error for non-secret key")
	}

	info, err := os.Stat(f.path)
	if err != nil {
		t.Fatal(err)
	}
	if info.Mode().Perm() != 0o600 {
		t.Errorf("secrets file mode = %v, want 0600", info.Mode().Perm())
	}
}

func TestShowAllMasksSecrets(t *testing.T) {
	cfg := defaults()
	cfg.Webhook.APIKey = "visible?"

	for _, ki := range ShowAll(cfg) {
		switch ki.Key {
		case "webhook.api_key":
			if ki.Value != "********" {
				t.Errorf("api key shown as %q", ki.Value)
			}
		case "gateway.token":
			if ki.Value != "(unset)" {
				t.Errorf("unset token shown as %q", ki.Value)
			}
		case "notify.poll_interval":
			if ki.Value != "500ms" {
				t.Errorf("poll interval shown as %q", ki.Value)
			}
		}
	}

	for _, k := range ValidKeys() {
		if s, _ := lookupSpec(k); s.secret {
			t.Errorf("ValidKeys includes secret %q", k)
		}
	}
}
