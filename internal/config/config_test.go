package config

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestLoad_Defaults(t *testing.T) {
	cfg := Default()

	if cfg.Processing.Workers != 1 {
		t.Errorf("Workers = %d, want 1", cfg.Processing.Workers)
	}
	if cfg.Processing.MinBytes != 1_000_000 {
		t.Errorf("MinBytes = %d, want 1000000", cfg.Processing.MinBytes)
	}
	if cfg.Processing.InputExt != ".dem" || cfg.Processing.OutputExt != ".json" {
		t.Errorf("extensions = %q/%q, want .dem/.json", cfg.Processing.InputExt, cfg.Processing.OutputExt)
	}
	if cfg.Processing.PollInterval.Std() != 50*time.Millisecond {
		t.Errorf("PollInterval = %v, want 50ms", cfg.Processing.PollInterval.Std())
	}
	if cfg.Processing.Reprocess {
		t.Error("Reprocess should default to false")
	}
	if err := cfg.Validate(); err != nil {
		t.Errorf("default config should validate: %v", err)
	}
}

func TestLoad_MissingFile(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "nope.toml"))
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Web.Port != 8080 {
		t.Errorf("Web.Port = %d, want 8080", cfg.Web.Port)
	}
}

func TestLoad_FromFile(t *testing.T) {
	dir := t.TempDir()
	configPath := filepath.Join(dir, "config.toml")

	content := `
[paths]
replays = "/games/replays"
output = "/data/json"

[processing]
reprocess = true
workers = 2
poll_interval = "20ms"

[[schedule]]
name = "nightly"
cron = "0 3 * * *"
`
	if err := os.WriteFile(configPath, []byte(content), 0644); err != nil {
		t.Fatal(err)
	}

	cfg, err := Load(configPath)
	if err != nil {
		t.Fatal(err)
	}

	if cfg.Paths.Replays != "/games/replays" {
		t.Errorf("Replays = %q, want /games/replays", cfg.Paths.Replays)
	}
	if !cfg.Processing.Reprocess {
		t.Error("Reprocess = false, want true")
	}
	if cfg.Processing.Workers != 2 {
		t.Errorf("Workers = %d, want 2", cfg.Processing.Workers)
	}
	if cfg.Processing.PollInterval.Std() != 20*time.Millisecond {
		t.Errorf("PollInterval = %v, want 20ms", cfg.Processing.PollInterval.Std())
	}
	// Untouched sections keep their defaults
	if cfg.Processing.MinBytes != 1_000_000 {
		t.Errorf("MinBytes = %d, want default", cfg.Processing.MinBytes)
	}
	if len(cfg.Schedules) != 1 || cfg.Schedules[0].Name != "nightly" {
		t.Errorf("Schedules = %+v, want one nightly schedule", cfg.Schedules)
	}
}

func TestLoad_Invalid(t *testing.T) {
	tests := []struct {
		name    string
		content string
	}{
		{"zero workers", "[processing]\nworkers = 0\n"},
		{"bad duration", "[processing]\npoll_interval = \"soon\"\n"},
		{"extension without dot", "[processing]\ninput_ext = \"dem\"\n"},
		{"schedule without cron", "[[schedule]]\nname = \"x\"\n"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			path := filepath.Join(t.TempDir(), "config.toml")
			if err := os.WriteFile(path, []byte(tt.content), 0644); err != nil {
				t.Fatal(err)
			}
			if _, err := Load(path); err == nil {
				t.Error("expected error")
			}
		})
	}
}

func TestSave_RoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "config.toml")

	cfg := Default()
	cfg.Paths.Replays = "/games/replays"
	cfg.Processing.Reprocess = true
	if err := cfg.Save(path); err != nil {
		t.Fatal(err)
	}

	got, err := Load(path)
	if err != nil {
		t.Fatal(err)
	}
	if got.Paths.Replays != "/games/replays" || !got.Processing.Reprocess {
		t.Errorf("reloaded = %+v, want saved values", got.Paths)
	}
	if got.Processing.PollInterval != cfg.Processing.PollInterval {
		t.Errorf("PollInterval = %v, want %v", got.Processing.PollInterval, cfg.Processing.PollInterval)
	}
}

func TestInit(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.toml")

	if _, err := Init(path); err != nil {
		t.Fatal(err)
	}
	if _, err := os.Stat(path); err != nil {
		t.Fatalf("config not written: %v", err)
	}
	if _, err := Init(path); !errors.Is(err, ErrConfigExists) {
		t.Errorf("second Init error = %v, want ErrConfigExists", err)
	}
}

func TestExpandPath(t *testing.T) {
	home, _ := os.UserHomeDir()

	tests := []struct {
		input string
		want  string
	}{
		{"~/test", filepath.Join(home, "test")},
		{"/absolute/path", "/absolute/path"},
		{"relative", "relative"},
	}

	for _, tt := range tests {
		got := ExpandPath(tt.input)
		if got != tt.want {
			t.Errorf("ExpandPath(%q) = %q, want %q", tt.input, got, tt.want)
		}
	}
}
