package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Source types accepted in modres.yaml.
const (
	SourceDirectory = "directory"
	SourceSnapshot  = "snapshot"
)

// DefaultListen is the address `modres serve` binds when none is configured.
const DefaultListen = "127.0.0.1:7325"

// Source represents a single source entry in modres.yaml.
type Source struct {
	Name string `yaml:"name"`
	Type string `yaml:"type"`
	Path string `yaml:"path"`
}

// Config is the in-memory representation of ~/.modres/modres.yaml.
type Config struct {
	ManifestDir string   `yaml:"manifest_dir"`
	Listen      string   `yaml:"listen,omitempty"`
	GateOnIdle  bool     `yaml:"gate_on_idle,omitempty"`
	Debounce    string   `yaml:"debounce,omitempty"`
	LogLevel    string   `yaml:"log_level,omitempty"`
	Excludes    []string `yaml:"excludes,omitempty"`
	Sources     []Source `yaml:"sources,omitempty"`
}

// ModresDir returns the absolute path to ~/.modres/.
func ModresDir() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("cannot determine home directory: %w", err)
	}
	return filepath.Join(home, ".modres"), nil
}

// ConfigPath returns the absolute path to ~/.modres/modres.yaml.
func ConfigPath() (string, error) {
	dir, err := ModresDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, "modres.yaml"), nil
}

// ExpandPath expands a leading ~ to the user's home directory.
func ExpandPath(p string) (string, error) {
	if !strings.HasPrefix(p, "~") {
		return p, nil
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("cannot expand ~: %w", err)
	}
	return filepath.Join(home, p[1:]), nil
}

// DefaultConfig returns the default Config written on first modres init.
func DefaultConfig() (*Config, error) {
	dir, err := ModresDir()
	if err != nil {
		return nil, err
	}
	manifests := filepath.Join(dir, "manifests")

	return &Config{
		ManifestDir: manifests,
		Listen:      DefaultListen,
		Debounce:    "100ms",
		LogLevel:    "info",
		Excludes: []string{
			".DS_Store",
			"Thumbs.db",
			"*.tmp",
			"*.bak",
			"*~",
			"*.conflict-*",
		},
		Sources: []Source{
			{Name: "local", Type: SourceDirectory, Path: manifests},
		},
	}, nil
}

// Load reads and parses ~/.modres/modres.yaml.
func Load() (*Config, error) {
	path, err := ConfigPath()
	if err != nil {
		return nil, err
	}
	return LoadFile(path)
}

// LoadFile reads and parses the config at path, applies environment
// overrides and validates the result.
func LoadFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("cannot read config %s: %w", path, err)
	}
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("invalid YAML in %s: %w", path, err)
	}
	if err := cfg.applyOverrides(); err != nil {
		return nil, err
	}
	if err := cfg.expandPaths(); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config %s: %w", path, err)
	}
	return &cfg, nil
}

// Save marshals cfg and writes it to ~/.modres/modres.yaml.
func Save(cfg *Config) error {
	path, err := ConfigPath()
	if err != nil {
		return err
	}
	return SaveFile(path, cfg)
}

// SaveFile marshals cfg and writes it to path.
func SaveFile(path string, cfg *Config) error {
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("cannot marshal config: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("cannot create config dir: %w", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("cannot write config %s: %w", path, err)
	}
	return nil
}

// Validate checks source names, types and paths, and the debounce duration.
func (c *Config) Validate() error {
	var errs []error
	if _, err := c.DebounceDuration(); err != nil {
		errs = append(errs, err)
	}
	seen := make(map[string]bool, len(c.Sources))
	for i, s := range c.Sources {
		switch {
		case strings.TrimSpace(s.Name) == "":
			errs = append(errs, fmt.Errorf("sources[%d]: name is required", i))
		case seen[s.Name]:
			errs = append(errs, fmt.Errorf("sources[%d]: duplicate name %q", i, s.Name))
		}
		seen[s.Name] = true
		if s.Type != SourceDirectory && s.Type != SourceSnapshot {
			errs = append(errs, fmt.Errorf("sources[%d]: unknown type %q (want %s or %s)", i, s.Type, SourceDirectory, SourceSnapshot))
		}
		if strings.TrimSpace(s.Path) == "" {
			errs = append(errs, fmt.Errorf("sources[%d]: path is required", i))
		}
	}
	return errors.Join(errs...)
}

// DebounceDuration parses Debounce. An empty value means zero, which lets
// the directory source use its default.
func (c *Config) DebounceDuration() (time.Duration, error) {
	if c.Debounce == "" {
		return 0, nil
	}
	d, err := time.ParseDuration(c.Debounce)
	if err != nil {
		return 0, fmt.Errorf("invalid debounce %q: %w", c.Debounce, err)
	}
	if d < 0 {
		return 0, fmt.Errorf("invalid debounce %q: must not be negative", c.Debounce)
	}
	return d, nil
}

// ListenAddr returns Listen, or DefaultListen when unset.
func (c *Config) ListenAddr() string {
	if c.Listen == "" {
		return DefaultListen
	}
	return c.Listen
}

func (c *Config) applyOverrides() error {
	if v, err := GetConfigValue(EnvListen); err != nil {
		return err
	} else if v != "" {
		c.Listen = v
	}
	if v, err := GetConfigValue(EnvLogLevel); err != nil {
		return err
	} else if v != "" {
		c.LogLevel = v
	}
	if v, err := GetConfigValue(EnvGateOnIdle); err != nil {
		return err
	} else if v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return fmt.Errorf("invalid %s %q: %w", EnvGateOnIdle, v, err)
		}
		c.GateOnIdle = b
	}
	return nil
}

func (c *Config) expandPaths() error {
	var err error
	if c.ManifestDir, err = ExpandPath(c.ManifestDir); err != nil {
		return err
	}
	for i := range c.Sources {
		if c.Sources[i].Path, err = ExpandPath(c.Sources[i].Path); err != nil {
			return err
		}
	}
	return nil
}
