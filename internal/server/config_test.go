package server

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"filippo.io/age"
	"github.com/rs/zerolog"

	"github.com/sekia-ai/gleanrelay/internal/secrets"
	"github.com/sekia-ai/gleanrelay/pkg/protocol"
)

func writeFile(t *testing.T, dir, content string) string {
	t.Helper()
	path := filepath.Join(dir, "gleanrelay.toml")
	if err := os.WriteFile(path, []byte(content), 0600); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestLoadConfigFromFile(t *testing.T) {
	path := writeFile(t, t.TempDir(), `
[glean]
application_id = "ff-app"
app_display_version = "1.2.3"
channel = "prod"

[nats]
embedded = false
url = "nats://bus:4222"

[metrics]
listen = "127.0.0.1:9464"
`)

	cfg, err := LoadConfig(path)
	if err != nil {
		t.Fatalf("LoadConfig: %v", err)
	}
	if cfg.Glean.ApplicationID != "ff-app" || cfg.Glean.AppDisplayVersion != "1.2.3" || cfg.Glean.Channel != "prod" {
		t.Errorf("glean identity = %+v", cfg.Glean)
	}
	if cfg.NATS.Embedded || cfg.NATS.URL != "nats://bus:4222" {
		t.Errorf("nats = %+v", cfg.NATS)
	}
	if cfg.NATS.Subject != protocol.SubjectAllEvents {
		t.Errorf("nats.subject default = %q", cfg.NATS.Subject)
	}
	if cfg.Metrics.Listen != "127.0.0.1:9464" {
		t.Errorf("metrics.listen = %q", cfg.Metrics.Listen)
	}
	if !cfg.Reload.Watch {
		t.Error("config.watch should default to true")
	}
	if cfg.File != path {
		t.Errorf("File = %q, want %q", cfg.File, path)
	}
}

func TestLoadConfigEnvOverride(t *testing.T) {
	path := writeFile(t, t.TempDir(), "[glean]\napplication_id = \"ff-app\"\nchannel = \"prod\"\n")
	t.Setenv("GLEANRELAY_CHANNEL", "stage")
	t.Setenv("GLEANRELAY_EVENT_SECRET", "from-env")

	cfg, err := LoadConfig(path)
	if err != nil {
		t.Fatalf("LoadConfig: %v", err)
	}
	if cfg.Glean.Channel != "stage" {
		t.Errorf("channel = %q, want stage", cfg.Glean.Channel)
	}
	if cfg.Security.EventSecret != "from-env" {
		t.Errorf("event_secret = %q", cfg.Security.EventSecret)
	}
}

func TestLoadConfigRequiresApplicationID(t *testing.T) {
	path := writeFile(t, t.TempDir(), "[glean]\nchannel = \"prod\"\n")
	_, err := LoadConfig(path)
	if err == nil || !strings.Contains(err.Error(), "glean.application_id") {
		t.Fatalf("expected application_id error, got %v", err)
	}
}

func TestLoadConfigMissingExplicitFile(t *testing.T) {
	if _, err := LoadConfig(filepath.Join(t.TempDir(), "absent.toml")); err == nil {
		t.Fatal("expected error for missing explicit config file")
	}
}

func TestLoadConfigDecryptsSecrets(t *testing.T) {
	identity, err := age.GenerateX25519Identity()
	if err != nil {
		t.Fatal(err)
	}
	t.Setenv(secrets.EnvAgeKey, identity.String())

	enc, err := secrets.Encrypt("hmac-key", identity.Recipient())
	if err != nil {
		t.Fatal(err)
	}
	path := writeFile(t, t.TempDir(), "[glean]\napplication_id = \"ff-app\"\n\n[security]\nevent_secret = \""+enc+"\"\n")

	cfg, err := LoadConfig(path)
	if err != nil {
		t.Fatalf("LoadConfig: %v", err)
	}
	if cfg.Security.EventSecret != "hmac-key" {
		t.Errorf("event_secret = %q, want decrypted value", cfg.Security.EventSecret)
	}
}

func TestNewLogger(t *testing.T) {
	var buf bytes.Buffer
	logger := NewLogger(LogConfig{Level: "warn", Format: "json"}, &buf)
	logger.Info().Msg("hidden")
	logger.Warn().Msg("shown")

	out := buf.String()
	if strings.Contains(out, "hidden") {
		t.Errorf("info message written at warn level: %s", out)
	}
	if !strings.Contains(out, `"message":"shown"`) {
		t.Errorf("warn message missing: %s", out)
	}

	if got := NewLogger(LogConfig{Level: "bogus"}, &buf).GetLevel(); got != zerolog.InfoLevel {
		t.Errorf("unknown level = %v, want info", got)
	}
}

func TestConfigWatcherDebounces(t *testing.T) {
	dir := t.TempDir()
	path := writeFile(t, dir, "[glean]\napplication_id = \"ff-app\"\n")

	calls := make(chan struct{}, 10)
	w, err := watchConfig(path, func() { calls <- struct{}{} }, zerolog.Nop())
	if err != nil {
		t.Fatalf("watchConfig: %v", err)
	}
	defer w.Close()

	// Unrelated files in the same directory are ignored.
	os.WriteFile(filepath.Join(dir, "other.toml"), []byte("x"), 0600)

	for i := 0; i < 3; i++ {
		writeFile(t, dir, "[glean]\napplication_id = \"ff-app\"\napp_display_version = \"1\"\n")
		time.Sleep(50 * time.Millisecond)
	}

	select {
	case <-calls:
	case <-time.After(3 * time.Second):
		t.Fatal("onChange not called after config write")
	}
	select {
	case <-calls:
		t.Fatal("burst of writes triggered more than one reload")
	case <-time.After(2 * reloadDebounce):
	}
}
