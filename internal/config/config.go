// Package config provides configuration loading and validation for the host
// service.
package config

import (
	"encoding/base64"
	"encoding/hex"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// Config represents the host service configuration.
type Config struct {
	Network NetworkSettings `yaml:"network"`
	Access  AccessSettings  `yaml:"access"`
	Users   []UserEntry     `yaml:"users"`
	Logging LoggingSettings `yaml:"logging"`
}

// NetworkSettings contains the listener configuration.
type NetworkSettings struct {
	Address string `yaml:"address"`
	Port    int    `yaml:"port"`
}

// AccessSettings contains the authentication policy.
type AccessSettings struct {
	// PrivateKey is the hex-encoded X25519 private scalar used for the
	// ephemeral key exchange. Optional unless anonymous access is enabled.
	PrivateKey string `yaml:"private_key"`

	// AnonymousAccess enables peers without a user identity.
	AnonymousAccess bool `yaml:"anonymous_access"`

	// AnonymousSessionTypes is the session bitmask permitted for anonymous
	// peers. Must be zero when anonymous access is disabled and non-zero
	// when enabled.
	AnonymousSessionTypes uint32 `yaml:"anonymous_session_types"`
}

// UserEntry is one stored account. Salt and verifier are base64; group is
// the SRP modulus bit size.
type UserEntry struct {
	Name     string `yaml:"name"`
	Group    int    `yaml:"group"`
	Salt     string `yaml:"salt"`
	Verifier string `yaml:"verifier"`
	Sessions uint32 `yaml:"sessions"`
	Disabled bool   `yaml:"disabled,omitempty"`
}

// LoggingSettings contains logging configuration.
type LoggingSettings struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// Load reads and parses the configuration file.
//
//nolint:gosec // G304: Config path is from command-line argument
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return &cfg, nil
}

// validate enforces the configuration invariants before anything starts.
func (c *Config) validate() error {
	if c.Network.Port <= 0 || c.Network.Port > 65535 {
		return fmt.Errorf("network.port must be between 1 and 65535")
	}

	if c.Access.PrivateKey != "" {
		key, err := hex.DecodeString(c.Access.PrivateKey)
		if err != nil {
			return fmt.Errorf("access.private_key must be valid hex: %w", err)
		}
		if len(key) != 32 {
			return fmt.Errorf("access.private_key must be 32 bytes, got %d", len(key))
		}
	}

	if c.Access.AnonymousAccess {
		if c.Access.PrivateKey == "" {
			return fmt.Errorf("access.private_key is required when anonymous access is enabled")
		}
		if c.Access.AnonymousSessionTypes == 0 {
			return fmt.Errorf("access.anonymous_session_types must be non-zero when anonymous access is enabled")
		}
	} else if c.Access.AnonymousSessionTypes != 0 {
		return fmt.Errorf("access.anonymous_session_types must be zero when anonymous access is disabled")
	}

	for i, u := range c.Users {
		if u.Name == "" {
			return fmt.Errorf("users[%d].name is required", i)
		}
		if _, err := base64.StdEncoding.DecodeString(u.Salt); err != nil {
			return fmt.Errorf("users[%d].salt must be valid base64: %w", i, err)
		}
		if _, err := base64.StdEncoding.DecodeString(u.Verifier); err != nil {
			return fmt.Errorf("users[%d].verifier must be valid base64: %w", i, err)
		}
	}

	return nil
}

// PrivateKeyBytes returns the decoded private key, or nil when unset.
func (c *Config) PrivateKeyBytes() []byte {
	if c.Access.PrivateKey == "" {
		return nil
	}
	key, err := hex.DecodeString(c.Access.PrivateKey)
	if err != nil {
		return nil
	}
	return key
}
