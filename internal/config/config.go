// Package config loads, validates and provisions the node configuration:
// the node's identity PEM material, listen addresses, trusted-peer file
// and logging settings.
package config

import (
	"fmt"
	"os"
	"time"

	ma "github.com/multiformats/go-multiaddr"
	"gopkg.in/yaml.v3"

	"github.com/isheff/het-paxos-ref/internal/logger"
	"github.com/isheff/het-paxos-ref/pkg/identity"
)

// Config represents the complete node configuration.
type Config struct {
	Node    NodeConfig    `yaml:"node"`
	Network NetworkConfig `yaml:"network"`
	Peers   PeersConfig   `yaml:"peers"`
	Logging logger.Config `yaml:"logging"`
}

// NodeConfig carries the node's identity material. The certificate and
// key are inline PEM text; when either is empty a fresh identity is
// generated for the configured host names and written back.
type NodeConfig struct {
	Hostnames      []string `yaml:"hostnames"`
	CertificatePEM string   `yaml:"certificate"`
	PrivateKeyPEM  string   `yaml:"private_key"`
}

// NetworkConfig contains the transport listen addresses.
type NetworkConfig struct {
	Addresses []string `yaml:"addresses"`
}

// PeersConfig locates the trusted-participant registry.
type PeersConfig struct {
	File              string   `yaml:"file"`
	ConnectionTimeout Duration `yaml:"connection_timeout"`
}

// Duration wraps time.Duration so configs can say "10s" or "2m" instead
// of raw nanosecond counts. Plain integers still parse as nanoseconds.
type Duration time.Duration

// UnmarshalYAML parses either a duration string or an integer.
func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	var raw string
	if err := value.Decode(&raw); err == nil {
		parsed, err := time.ParseDuration(raw)
		if err != nil {
			return fmt.Errorf("invalid duration %q: %w", raw, err)
		}
		*d = Duration(parsed)
		return nil
	}
	var nanos int64
	if err := value.Decode(&nanos); err != nil {
		return fmt.Errorf("duration must be a string like \"10s\" or integer nanoseconds")
	}
	*d = Duration(nanos)
	return nil
}

// MarshalYAML renders the duration in its string form.
func (d Duration) MarshalYAML() (interface{}, error) {
	return time.Duration(d).String(), nil
}

// AsDuration converts back to a time.Duration.
func (d Duration) AsDuration() time.Duration {
	return time.Duration(d)
}

// DefaultConfig returns a configuration with sensible defaults. Identity
// material is left empty so first load provisions a fresh keypair.
func DefaultConfig() *Config {
	return &Config{
		Node: NodeConfig{
			Hostnames: []string{"localhost"},
		},
		Network: NetworkConfig{
			Addresses: []string{
				"/ip4/0.0.0.0/tcp/9000",
				"/ip6/::/tcp/9000",
			},
		},
		Peers: PeersConfig{
			File:              "peers.yaml",
			ConnectionTimeout: Duration(10 * time.Second),
		},
		Logging: logger.Config{
			Level:         "info",
			ConsoleOutput: true,
		},
	}
}

// Manager handles configuration loading, validation and identity
// provisioning. After a successful LoadConfig it retains the parsed
// identity pair for Identity().
type Manager struct {
	pub  *identity.PublicKey
	priv *identity.PrivateKey
}

// NewManager creates a new configuration manager.
func NewManager() *Manager {
	return &Manager{}
}

// LoadConfig loads configuration from the specified file path. A missing
// file is created with defaults, and empty identity material is replaced
// by a freshly generated keypair that is saved back, so a node's identity
// survives restarts. The loaded configuration is fully validated;
// identity problems surface as identity.ConfigError and are fatal for
// the startup path.
func (m *Manager) LoadConfig(filePath string) (*Config, error) {
	if _, err := os.Stat(filePath); os.IsNotExist(err) {
		if err := m.CreateConfigFile(filePath, DefaultConfig()); err != nil {
			return nil, fmt.Errorf("failed to create default config file: %w", err)
		}
	}

	data, err := os.ReadFile(filePath)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file %s: %w", filePath, err)
	}
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse YAML config: %w", err)
	}

	if cfg.Node.CertificatePEM == "" || cfg.Node.PrivateKeyPEM == "" {
		pub, priv, err := identity.GenerateKeyPair(cfg.Node.Hostnames)
		if err != nil {
			return nil, fmt.Errorf("failed to generate node identity: %w", err)
		}
		cfg.Node.CertificatePEM = pub.PEM()
		cfg.Node.PrivateKeyPEM = priv.PEM()
		if err := m.SaveConfig(filePath, &cfg); err != nil {
			return nil, fmt.Errorf("failed to save config with generated identity: %w", err)
		}
	}

	if err := m.ValidateConfig(&cfg); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}
	return &cfg, nil
}

// Identity returns the identity pair parsed during the last successful
// LoadConfig or ValidateConfig.
func (m *Manager) Identity() (*identity.PublicKey, *identity.PrivateKey) {
	return m.pub, m.priv
}

// CreateConfigFile writes cfg to filePath. The file embeds the node's
// private key, so it is created owner-readable only.
func (m *Manager) CreateConfigFile(filePath string, cfg *Config) error {
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("failed to marshal config to YAML: %w", err)
	}
	if err := os.WriteFile(filePath, data, 0600); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}
	return nil
}

// SaveConfig saves the configuration to the specified file.
func (m *Manager) SaveConfig(filePath string, cfg *Config) error {
	return m.CreateConfigFile(filePath, cfg)
}

// ValidateConfig validates the configuration structure and values.
func (m *Manager) ValidateConfig(cfg *Config) error {
	if cfg == nil {
		return fmt.Errorf("configuration is nil")
	}
	if err := m.validateNodeConfig(&cfg.Node); err != nil {
		return fmt.Errorf("node config validation failed: %w", err)
	}
	if err := validateNetworkConfig(&cfg.Network); err != nil {
		return fmt.Errorf("network config validation failed: %w", err)
	}
	if err := validatePeersConfig(&cfg.Peers); err != nil {
		return fmt.Errorf("peers config validation failed: %w", err)
	}
	if err := validateLoggingConfig(&cfg.Logging); err != nil {
		return fmt.Errorf("logging config validation failed: %w", err)
	}
	return nil
}

// validateNodeConfig parses the identity material and retains the pair.
// Both halves must parse and agree on a signature scheme.
func (m *Manager) validateNodeConfig(cfg *NodeConfig) error {
	pub, priv, err := identity.KeyPairFromPEM(cfg.CertificatePEM, cfg.PrivateKeyPEM)
	if err != nil {
		return err
	}
	m.pub, m.priv = pub, priv
	return nil
}

func validateNetworkConfig(cfg *NetworkConfig) error {
	if len(cfg.Addresses) == 0 {
		return fmt.Errorf("network.addresses cannot be empty")
	}
	for i, addr := range cfg.Addresses {
		if err := validateMultiaddr(addr); err != nil {
			return fmt.Errorf("invalid address at index %d: %w", i, err)
		}
	}
	return nil
}

func validatePeersConfig(cfg *PeersConfig) error {
	if cfg.File == "" {
		return fmt.Errorf("peers.file cannot be empty")
	}
	if cfg.ConnectionTimeout.AsDuration() < time.Second {
		return fmt.Errorf("peers.connection_timeout must be at least 1 second")
	}
	return nil
}

func validateLoggingConfig(cfg *logger.Config) error {
	validLevels := map[string]bool{
		"": true, "debug": true, "info": true, "warn": true, "error": true,
	}
	if !validLevels[cfg.Level] {
		return fmt.Errorf("logging.level must be one of: debug, info, warn, error")
	}
	if cfg.FileOutput && cfg.FileName == "" {
		return fmt.Errorf("logging.file_name is required when file_output is enabled")
	}
	return nil
}

// validateMultiaddr parses the address with the real multiaddr grammar.
func validateMultiaddr(addr string) error {
	if addr == "" {
		return fmt.Errorf("address cannot be empty")
	}
	if _, err := ma.NewMultiaddr(addr); err != nil {
		return fmt.Errorf("unsupported multiaddr format %q: %w", addr, err)
	}
	return nil
}

// LoadConfig is a convenience function that creates a manager and loads
// config; callers that need the parsed identity use a Manager directly.
func LoadConfig(filePath string) (*Config, error) {
	return NewManager().LoadConfig(filePath)
}
