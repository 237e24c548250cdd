package config

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/spf13/pflag"

	"github.com/ritzau/blockgraph/pkg/model"
)

func flags() *pflag.FlagSet {
	f := pflag.NewFlagSet("test", pflag.ContinueOnError)
	f.Int("port", 8080, "")
	f.Bool("watch", false, "")
	f.StringSlice("catalog", nil, "")
	f.Bool("json-logs", false, "")
	f.CountP("verbose", "v", "")
	return f
}

func writeFile(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "blockgraph.toml")
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestDefaults(t *testing.T) {
	t.Chdir(t.TempDir())

	cfg, err := Load(nil, "")
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if cfg.Port != 8080 || cfg.Watch || cfg.Store != "" {
		t.Errorf("unexpected defaults: %+v", cfg)
	}
	if got := cfg.EngineOptions(); got != model.DefaultOptions() {
		t.Errorf("engine options = %+v, want %+v", got, model.DefaultOptions())
	}
}

func TestPrecedence(t *testing.T) {
	path := writeFile(t, `
port = 9000
store = "file:docs"

[engine]
snap_radius = 40.0
bump_delta = 10.0
`)
	t.Setenv("BLOCKGRAPH_PORT", "9100")
	t.Setenv("BLOCKGRAPH_ENGINE__BUMP_DELTA", "12")

	f := flags()
	if err := f.Parse([]string{"--port", "9200", "--json-logs", "-vv"}); err != nil {
		t.Fatal(err)
	}
	cfg, err := Load(f, path)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	tests := []struct {
		name      string
		got, want any
	}{
		{"flag beats env", cfg.Port, 9200},
		{"file value", cfg.Store, "file:docs"},
		{"file nested value", cfg.Engine.SnapRadius, 40.0},
		{"env beats file", cfg.Engine.BumpDelta, 12.0},
		{"untouched default", cfg.Engine.ConnectingSnapRadius, 28.0},
		{"dashed flag", cfg.JSONLogs, true},
		{"count flag", cfg.VerboseCnt, 2},
	}
	for _, tt := range tests {
		if tt.got != tt.want {
			t.Errorf("%s: got %v, want %v", tt.name, tt.got, tt.want)
		}
	}
}

func TestUnchangedFlagsKeepLowerLayers(t *testing.T) {
	path := writeFile(t, "port = 9000\n")
	f := flags()
	if err := f.Parse(nil); err != nil {
		t.Fatal(err)
	}

	cfg, err := Load(f, path)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if cfg.Port != 9000 {
		t.Errorf("flag default should not override the file, got %d", cfg.Port)
	}
}

func TestExplicitFileMustExist(t *testing.T) {
	if _, err := Load(nil, filepath.Join(t.TempDir(), "missing.toml")); err == nil {
		t.Error("expected an error for a missing config file")
	}
}

func TestMalformedFile(t *testing.T) {
	if _, err := Load(nil, writeFile(t, "port = = 1")); err == nil {
		t.Error("expected a parse error")
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"port", func(c *Config) { c.Port = 70000 }},
		{"snap radius", func(c *Config) { c.Engine.SnapRadius = 0 }},
		{"connecting radius above snap radius", func(c *Config) { c.Engine.ConnectingSnapRadius = 100 }},
		{"negative preference", func(c *Config) { c.Engine.CurrentConnectionPreference = -1 }},
		{"negative bump", func(c *Config) { c.Engine.BumpDelta = -1 }},
	}
	t.Chdir(t.TempDir())
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg, err := Load(nil, "")
			if err != nil {
				t.Fatal(err)
			}
			tt.mutate(cfg)
			if err := cfg.Validate(); !errors.Is(err, ErrInvalid) {
				t.Errorf("expected ErrInvalid, got %v", err)
			}
		})
	}
}

func TestApplyLoggingRejectsUnknownVerbosity(t *testing.T) {
	cfg := &Config{Verbosity: "shouty"}
	if err := cfg.ApplyLogging(); !errors.Is(err, ErrInvalid) {
		t.Errorf("expected ErrInvalid, got %v", err)
	}
}
