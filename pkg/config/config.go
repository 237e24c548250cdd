package config

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"

	"github.com/knadh/koanf/parsers/toml/v2"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/providers/posflag"
	"github.com/knadh/koanf/v2"
	"github.com/spf13/pflag"

	"github.com/ritzau/blockgraph/pkg/logging"
	"github.com/ritzau/blockgraph/pkg/model"
)

// DefaultFile is read from the working directory when present.
const DefaultFile = "blockgraph.toml"

// EnvPrefix marks environment overrides. A double underscore separates
// nested keys: BLOCKGRAPH_ENGINE__SNAP_RADIUS=40.
const EnvPrefix = "BLOCKGRAPH_"

var ErrInvalid = errors.New("invalid configuration")

// Config holds all configuration for the application
type Config struct {
	Catalogs   []string `koanf:"catalog"`
	Document   string   `koanf:"document"`
	Port       int      `koanf:"port"`
	Watch      bool     `koanf:"watch"`
	Store      string   `koanf:"store"`
	Verbosity  string   `koanf:"verbosity"`
	VerboseCnt int      `koanf:"verbose"`
	JSONLogs   bool     `koanf:"json_logs"`
	Engine     Engine   `koanf:"engine"`
}

// Engine holds the workspace constants.
type Engine struct {
	SnapRadius                  float64 `koanf:"snap_radius"`
	ConnectingSnapRadius        float64 `koanf:"connecting_snap_radius"`
	CurrentConnectionPreference float64 `koanf:"current_connection_preference"`
	BumpDelta                   float64 `koanf:"bump_delta"`
	MaxUndo                     int     `koanf:"max_undo"`
}

func defaults() map[string]interface{} {
	o := model.DefaultOptions()
	return map[string]interface{}{
		"catalog":   []string{},
		"document":  "",
		"port":      8080,
		"watch":     false,
		"store":     "",
		"verbosity": "",
		"verbose":   0,
		"json_logs": false,
		"engine": map[string]interface{}{
			"snap_radius":                   o.SnapRadius,
			"connecting_snap_radius":        o.ConnectingSnapRadius,
			"current_connection_preference": o.CurrentConnectionPreference,
			"bump_delta":                    o.BumpDelta,
			"max_undo":                      o.MaxUndo,
		},
	}
}

// Load loads configuration from defaults, config file, environment variables, and flags.
// Priority: Flags > Env > Config File > Defaults
//
// path names the config file; empty means DefaultFile, which may be
// missing. An explicitly named file must exist.
func Load(f *pflag.FlagSet, path string) (*Config, error) {
	k := koanf.New(".")

	// 1. Defaults
	if err := k.Load(makeMapProvider(defaults()), nil); err != nil {
		return nil, fmt.Errorf("failed to load defaults: %w", err)
	}

	// 2. Config File
	explicit := path != ""
	if !explicit {
		path = DefaultFile
	}
	if _, err := os.Stat(path); err == nil {
		if err := k.Load(file.Provider(path), toml.Parser()); err != nil {
			return nil, fmt.Errorf("failed to load %s: %w", path, err)
		}
		logging.Debug("config file loaded", "path", path)
	} else if explicit {
		return nil, fmt.Errorf("config file: %w", err)
	}

	// 3. Environment Variables
	if err := k.Load(env.Provider(EnvPrefix, ".", func(s string) string {
		return strings.ReplaceAll(strings.ToLower(
			strings.TrimPrefix(s, EnvPrefix)), "__", ".")
	}), nil); err != nil {
		return nil, fmt.Errorf("failed to load env vars: %w", err)
	}

	// 4. Flags; dashes in flag names stand for underscores in keys
	if f != nil {
		if err := k.Load(posflag.ProviderWithFlag(f, ".", k, func(fl *pflag.Flag) (string, interface{}) {
			return strings.ReplaceAll(fl.Name, "-", "_"), posflag.FlagVal(f, fl)
		}), nil); err != nil {
			return nil, fmt.Errorf("failed to load flags: %w", err)
		}
	}

	// Unmarshal into struct
	var cfg Config
	if err := k.Unmarshal("", &cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate rejects settings the engine cannot work with.
func (c *Config) Validate() error {
	e := c.Engine
	switch {
	case c.Port < 0 || c.Port > 65535:
		return fmt.Errorf("%w: port %d", ErrInvalid, c.Port)
	case e.SnapRadius <= 0:
		return fmt.Errorf("%w: engine.snap_radius must be positive", ErrInvalid)
	case e.ConnectingSnapRadius <= 0 || e.ConnectingSnapRadius > e.SnapRadius:
		return fmt.Errorf("%w: engine.connecting_snap_radius must be in (0, snap_radius]", ErrInvalid)
	case e.CurrentConnectionPreference < 0:
		return fmt.Errorf("%w: engine.current_connection_preference is negative", ErrInvalid)
	case e.BumpDelta < 0:
		return fmt.Errorf("%w: engine.bump_delta is negative", ErrInvalid)
	}
	return nil
}

// EngineOptions returns the workspace constants.
func (c *Config) EngineOptions() model.Options {
	return model.Options{
		SnapRadius:                  c.Engine.SnapRadius,
		ConnectingSnapRadius:        c.Engine.ConnectingSnapRadius,
		CurrentConnectionPreference: c.Engine.CurrentConnectionPreference,
		BumpDelta:                   c.Engine.BumpDelta,
		MaxUndo:                     c.Engine.MaxUndo,
	}
}

// LogLevel resolves the verbosity settings.
func (c *Config) LogLevel() (slog.Level, error) {
	return logging.ParseLevel(c.Verbosity, c.VerboseCnt)
}

// ApplyLogging configures the global logger.
func (c *Config) ApplyLogging() error {
	level, err := c.LogLevel()
	if err != nil {
		return fmt.Errorf("%w: %v", ErrInvalid, err)
	}
	if c.JSONLogs {
		logging.SetJSONOutput(level)
	} else {
		logging.SetLevel(level)
	}
	return nil
}

// Helper to use map as a provider
type mapProvider struct {
	m map[string]interface{}
}

func makeMapProvider(m map[string]interface{}) *mapProvider {
	return &mapProvider{m: m}
}

func (p *mapProvider) Read() (map[string]interface{}, error) {
	return p.m, nil
}

func (p *mapProvider) ReadBytes() ([]byte, error) {
	return nil, fmt.Errorf("not implemented")
}
