package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"

	"github.com/benaskins/lockbox/internal/vault"
)

// Defaults applied when the config file leaves a field empty.
const (
	DefaultVault  = "default"
	DefaultPolicy = "when-unlocked"
)

// Config holds CLI configuration loaded from ~/.lockbox/config.yaml.
type Config struct {
	Vault       string `yaml:"vault"`
	Policy      string `yaml:"policy"`
	SharedGroup string `yaml:"shared_group"`
	Kind        string `yaml:"kind"`
	AuditLog    string `yaml:"audit_log"`
	LogLevel    string `yaml:"log_level"`
}

// Home returns the lockbox home directory (~/.lockbox).
func Home() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ""
	}
	return filepath.Join(home, ".lockbox")
}

// DefaultPath returns the default config file path: ~/.lockbox/config.yaml.
func DefaultPath() string {
	home := Home()
	if home == "" {
		return ""
	}
	return filepath.Join(home, "config.yaml")
}

// Load reads a YAML config file from path. If the file does not exist,
// it returns an empty Config and no error. An empty or all-comment file
// also returns an empty Config with no error.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return &Config{}, nil
		}
		return nil, err
	}

	cfg := &Config{}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing %s: %w", path, err)
	}
	return cfg, nil
}

// Identity resolves the configured vault, filling in defaults.
func (c *Config) Identity() (vault.Identity, error) {
	name := c.Vault
	if name == "" {
		name = DefaultVault
	}
	policyName := c.Policy
	if policyName == "" {
		policyName = DefaultPolicy
	}
	policy, err := vault.ParsePolicy(policyName)
	if err != nil {
		return vault.Identity{}, err
	}
	kind, err := vault.ParseKind(c.Kind)
	if err != nil {
		return vault.Identity{}, err
	}
	return vault.Identity{
		Name:        name,
		Policy:      policy,
		SharedGroup: c.SharedGroup,
		Kind:        kind,
	}, nil
}

// AuditPath returns the audit log location, defaulting to ~/.lockbox/audit.log.
func (c *Config) AuditPath() string {
	if c.AuditLog != "" {
		return c.AuditLog
	}
	home := Home()
	if home == "" {
		return ""
	}
	return filepath.Join(home, "audit.log")
}
