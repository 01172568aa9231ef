// Package config loads engine settings from a YAML file with
// environment overrides.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Settings is the engine configuration. Zero values fall back to
// defaults during normalization so a partial file stays valid.
type Settings struct {
	Server   ServerSettings  `yaml:"server"`
	State    StateSettings   `yaml:"state"`
	Logging  LoggingSettings `yaml:"logging"`
	Sessions SessionSettings `yaml:"sessions"`
	CLIs     map[string]CLI  `yaml:"clis"`
}

type ServerSettings struct {
	Addr      string `yaml:"addr"`
	AuthToken string `yaml:"auth_token"`
}

type StateSettings struct {
	// Root is the directory sessions persist under, relative to the
	// project path unless absolute.
	Root string `yaml:"root"`
}

type LoggingSettings struct {
	Level string `yaml:"level"`
}

type SessionSettings struct {
	WatchDebounceMS int `yaml:"watch_debounce_ms"`
	OutputTailLines int `yaml:"output_tail_lines"`
	EventHistory    int `yaml:"event_history"`
}

// CLI overrides one registry profile from configuration.
type CLI struct {
	Model      string   `yaml:"model"`
	ExtraFlags []string `yaml:"extra_flags"`
}

const (
	defaultAddr            = "127.0.0.1:7420"
	defaultStateRoot       = ".hive-manager"
	defaultLogLevel        = "info"
	defaultWatchDebounceMS = 500
	defaultTailLines       = 200
	defaultEventHistory    = 256
)

// Load reads settings from path, falling back to defaults when the
// file is absent. HIVE_MANAGER_* environment variables override the
// file.
func Load(path string) (Settings, error) {
	settings := Settings{}
	if strings.TrimSpace(path) != "" {
		payload, err := os.ReadFile(path)
		if err != nil {
			if !os.IsNotExist(err) {
				return Settings{}, err
			}
		} else if err := yaml.Unmarshal(payload, &settings); err != nil {
			return Settings{}, fmt.Errorf("parse %s: %w", path, err)
		}
	}
	applyEnv(&settings)
	return normalize(settings), nil
}

func applyEnv(settings *Settings) {
	if v := os.Getenv("HIVE_MANAGER_ADDR"); v != "" {
		settings.Server.Addr = v
	}
	if v := os.Getenv("HIVE_MANAGER_AUTH_TOKEN"); v != "" {
		settings.Server.AuthToken = v
	}
	if v := os.Getenv("HIVE_MANAGER_STATE_ROOT"); v != "" {
		settings.State.Root = v
	}
	if v := os.Getenv("HIVE_MANAGER_LOG_LEVEL"); v != "" {
		settings.Logging.Level = v
	}
	if v := os.Getenv("HIVE_MANAGER_WATCH_DEBOUNCE_MS"); v != "" {
		if parsed, err := strconv.Atoi(v); err == nil {
			settings.Sessions.WatchDebounceMS = parsed
		}
	}
}

func normalize(settings Settings) Settings {
	if settings.Server.Addr == "" {
		settings.Server.Addr = defaultAddr
	}
	if settings.State.Root == "" {
		settings.State.Root = defaultStateRoot
	}
	if settings.Logging.Level == "" {
		settings.Logging.Level = defaultLogLevel
	}
	if settings.Sessions.WatchDebounceMS <= 0 {
		settings.Sessions.WatchDebounceMS = defaultWatchDebounceMS
	}
	if settings.Sessions.OutputTailLines <= 0 {
		settings.Sessions.OutputTailLines = defaultTailLines
	}
	if settings.Sessions.EventHistory <= 0 {
		settings.Sessions.EventHistory = defaultEventHistory
	}
	return settings
}

// WatchDebounce returns the watcher debounce as a duration.
func (s SessionSettings) WatchDebounce() time.Duration {
	return time.Duration(s.WatchDebounceMS) * time.Millisecond
}
