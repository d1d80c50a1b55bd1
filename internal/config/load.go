package config

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/BurntSushi/toml"
)

// ConfigFileName is the name of the Loopdeck configuration file.
const ConfigFileName = "loopdeck.toml"

// FindConfigFile walks up from the given directory to find loopdeck.toml.
// Returns the absolute path to the config file, or an empty string if not
// found. Stops at the filesystem root.
func FindConfigFile(startDir string) (string, error) {
	dir, err := filepath.Abs(startDir)
	if err != nil {
		return "", fmt.Errorf("resolving path: %w", err)
	}
	for {
		candidate := filepath.Join(dir, ConfigFileName)
		if _, err := os.Stat(candidate); err == nil {
			return candidate, nil
		}
		parent := filepath.Dir(dir)
		if parent == dir {
			// Reached filesystem root.
			return "", nil
		}
		dir = parent
	}
}

// LoadFromFile parses the TOML file at the given path, applies defaults for
// unset fields, and returns the configuration together with TOML metadata.
// The metadata can be used to detect unknown keys via MetaData.Undecoded().
func LoadFromFile(path string) (*Config, toml.MetaData, error) {
	cfg := NewDefaults()
	md, err := toml.DecodeFile(path, cfg)
	if err != nil {
		return nil, md, fmt.Errorf("loading config %s: %w", path, err)
	}
	return cfg, md, nil
}

// Load locates loopdeck.toml starting from startDir and loads it. When no
// config file exists, the defaults are returned (not an error): a fresh
// checkout should work without any configuration.
func Load(startDir string) (*Config, error) {
	path, err := FindConfigFile(startDir)
	if err != nil {
		return nil, err
	}
	if path == "" {
		return NewDefaults(), nil
	}
	cfg, _, err := LoadFromFile(path)
	if err != nil {
		return nil, err
	}
	return cfg, nil
}
