package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestLoadMissingFileUsesDefaults(t *testing.T) {
	settings, err := Load(filepath.Join(t.TempDir(), "absent.yaml"))
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if settings.Server.Addr != defaultAddr {
		t.Errorf("Addr = %q", settings.Server.Addr)
	}
	if settings.State.Root != defaultStateRoot {
		t.Errorf("Root = %q", settings.State.Root)
	}
	if settings.Sessions.WatchDebounce() != 500*time.Millisecond {
		t.Errorf("WatchDebounce = %v", settings.Sessions.WatchDebounce())
	}
}

func TestLoadFileAndNormalize(t *testing.T) {
	path := filepath.Join(t.TempDir(), "hive.yaml")
	payload := `
server:
  addr: "0.0.0.0:9000"
logging:
  level: debug
sessions:
  watch_debounce_ms: 250
clis:
  claude:
    model: opus
    extra_flags: ["--verbose"]
`
	if err := os.WriteFile(path, []byte(payload), 0o644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}
	settings, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if settings.Server.Addr != "0.0.0.0:9000" {
		t.Errorf("Addr = %q", settings.Server.Addr)
	}
	if settings.Logging.Level != "debug" {
		t.Errorf("Level = %q", settings.Logging.Level)
	}
	if settings.Sessions.WatchDebounceMS != 250 {
		t.Errorf("WatchDebounceMS = %d", settings.Sessions.WatchDebounceMS)
	}
	// Unset sections still normalize.
	if settings.State.Root != defaultStateRoot {
		t.Errorf("Root = %q", settings.State.Root)
	}
	cli, ok := settings.CLIs["claude"]
	if !ok || cli.Model != "opus" || len(cli.ExtraFlags) != 1 {
		t.Errorf("CLI override = %+v, ok %v", cli, ok)
	}
}

func TestLoadMalformedFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "hive.yaml")
	if err := os.WriteFile(path, []byte(":\n  - not yaml"), 0o644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}
	if _, err := Load(path); err == nil {
		t.Fatal("expected parse error")
	}
}

func TestEnvOverrides(t *testing.T) {
	t.Setenv("HIVE_MANAGER_ADDR", "127.0.0.1:8111")
	t.Setenv("HIVE_MANAGER_LOG_LEVEL", "error")
	t.Setenv("HIVE_MANAGER_WATCH_DEBOUNCE_MS", "100")

	settings, err := Load("")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if settings.Server.Addr != "127.0.0.1:8111" {
		t.Errorf("Addr = %q", settings.Server.Addr)
	}
	if settings.Logging.Level != "error" {
		t.Errorf("Level = %q", settings.Logging.Level)
	}
	if settings.Sessions.WatchDebounceMS != 100 {
		t.Errorf("WatchDebounceMS = %d", settings.Sessions.WatchDebounceMS)
	}
}
