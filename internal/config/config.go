package config

import (
	"os"
	"path/filepath"

	"github.com/BurntSushi/toml"
)

// Config represents the global ~/.sigil/config.toml.
type Config struct {
	DefaultSession string `toml:"default_session"`
	// Identity is the messenger identity used when a session does not
	// carry its own override.
	Identity string `toml:"identity"`

	Sessions map[string]SessionConfig `toml:"sessions"`
}

// SessionConfig carries per-session overrides.
type SessionConfig struct {
	Identity string `toml:"identity"`
}

// IdentityFor returns the identity for the named session, falling back
// to the global identity.
func (c *Config) IdentityFor(session string) string {
	if sc, ok := c.Sessions[session]; ok && sc.Identity != "" {
		return sc.Identity
	}
	return c.Identity
}

// Load reads config from the given path. Returns zero config and error if file missing.
func Load(path string) (*Config, error) {
	var cfg Config
	_, err := toml.DecodeFile(path, &cfg)
	if err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Save writes config to the given path, creating parent dirs as needed.
func Save(path string, cfg *Config) error {
	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return err
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0600)
	if err != nil {
		return err
	}
	encErr := toml.NewEncoder(f).Encode(cfg)
	if closeErr := f.Close(); closeErr != nil && encErr == nil {
		return closeErr
	}
	return encErr
}
