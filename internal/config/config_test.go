package config

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/isheff/het-paxos-ref/pkg/identity"
)

func TestManager_LoadConfig(t *testing.T) {
	t.Run("creates default config and provisions identity", func(t *testing.T) {
		configPath := filepath.Join(t.TempDir(), "node.yaml")
		manager := NewManager()

		cfg, err := manager.LoadConfig(configPath)
		if err != nil {
			t.Fatalf("Expected no error, got %v", err)
		}
		if cfg == nil {
			t.Fatal("Expected config to be loaded")
		}
		if _, err := os.Stat(configPath); os.IsNotExist(err) {
			t.Fatal("Expected config file to be created")
		}
		if cfg.Node.CertificatePEM == "" || cfg.Node.PrivateKeyPEM == "" {
			t.Fatal("Expected identity material to be generated")
		}

		pub, priv := manager.Identity()
		if pub == nil || priv == nil {
			t.Fatal("Expected parsed identity to be retained")
		}
		if pub.Scheme() != identity.DefaultScheme {
			t.Errorf("Expected default scheme, got %v", pub.Scheme())
		}
	})

	t.Run("identity survives restarts", func(t *testing.T) {
		configPath := filepath.Join(t.TempDir(), "node.yaml")

		first := NewManager()
		if _, err := first.LoadConfig(configPath); err != nil {
			t.Fatalf("First load failed: %v", err)
		}
		second := NewManager()
		if _, err := second.LoadConfig(configPath); err != nil {
			t.Fatalf("Second load failed: %v", err)
		}

		firstPub, _ := first.Identity()
		secondPub, _ := second.Identity()
		if !firstPub.Equal(secondPub) {
			t.Error("Expected the same identity to be loaded on restart")
		}
	})

	t.Run("loads existing valid config", func(t *testing.T) {
		configPath := filepath.Join(t.TempDir(), "node.yaml")
		pub, priv, err := identity.GenerateKeyPair([]string{"node1"})
		if err != nil {
			t.Fatalf("Failed to generate test identity: %v", err)
		}

		cfg := DefaultConfig()
		cfg.Node.CertificatePEM = pub.PEM()
		cfg.Node.PrivateKeyPEM = priv.PEM()
		if err := NewManager().SaveConfig(configPath, cfg); err != nil {
			t.Fatalf("Failed to write test config: %v", err)
		}

		manager := NewManager()
		loaded, err := manager.LoadConfig(configPath)
		if err != nil {
			t.Fatalf("Expected no error, got %v", err)
		}
		loadedPub, _ := manager.Identity()
		if !loadedPub.Equal(pub) {
			t.Error("Expected configured identity to be loaded")
		}
		if len(loaded.Network.Addresses) == 0 {
			t.Error("Expected network addresses to be loaded")
		}
	})

	t.Run("fails on invalid YAML", func(t *testing.T) {
		configPath := filepath.Join(t.TempDir(), "node.yaml")
		invalidYAML := "node:\n  certificate: [\n"
		if err := os.WriteFile(configPath, []byte(invalidYAML), 0600); err != nil {
			t.Fatalf("Failed to create test config file: %v", err)
		}

		if _, err := NewManager().LoadConfig(configPath); err == nil {
			t.Fatal("Expected error for invalid YAML")
		}
	})

	t.Run("fails on corrupt identity material", func(t *testing.T) {
		configPath := filepath.Join(t.TempDir(), "node.yaml")
		cfg := DefaultConfig()
		cfg.Node.CertificatePEM = "not a certificate"
		cfg.Node.PrivateKeyPEM = "not a key"
		if err := NewManager().SaveConfig(configPath, cfg); err != nil {
			t.Fatalf("Failed to write test config: %v", err)
		}

		_, err := NewManager().LoadConfig(configPath)
		if err == nil {
			t.Fatal("Expected error for corrupt identity material")
		}
		var configErr *identity.ConfigError
		if !errors.As(err, &configErr) {
			t.Errorf("Expected identity.ConfigError, got %v", err)
		}
	})

	t.Run("fails on invalid multiaddr", func(t *testing.T) {
		configPath := filepath.Join(t.TempDir(), "node.yaml")
		cfg := validTestConfig(t)
		cfg.Network.Addresses = []string{"tcp://127.0.0.1:9000"}
		if err := NewManager().SaveConfig(configPath, cfg); err != nil {
			t.Fatalf("Failed to write test config: %v", err)
		}

		if _, err := NewManager().LoadConfig(configPath); err == nil {
			t.Fatal("Expected error for invalid multiaddr")
		}
	})

	t.Run("fails on short connection timeout", func(t *testing.T) {
		configPath := filepath.Join(t.TempDir(), "node.yaml")
		cfg := validTestConfig(t)
		cfg.Peers.ConnectionTimeout = Duration(100 * time.Millisecond)
		if err := NewManager().SaveConfig(configPath, cfg); err != nil {
			t.Fatalf("Failed to write test config: %v", err)
		}

		if _, err := NewManager().LoadConfig(configPath); err == nil {
			t.Fatal("Expected error for sub-second connection timeout")
		}
	})
}

func validTestConfig(t *testing.T) *Config {
	t.Helper()
	pub, priv, err := identity.GenerateKeyPair([]string{"node1"})
	if err != nil {
		t.Fatalf("Failed to generate test identity: %v", err)
	}
	cfg := DefaultConfig()
	cfg.Node.CertificatePEM = pub.PEM()
	cfg.Node.PrivateKeyPEM = priv.PEM()
	return cfg
}

func TestDuration_UnmarshalYAML(t *testing.T) {
	t.Run("duration string", func(t *testing.T) {
		var out struct {
			Timeout Duration `yaml:"timeout"`
		}
		if err := yaml.Unmarshal([]byte(`timeout: "10s"`), &out); err != nil {
			t.Fatalf("Expected no error, got %v", err)
		}
		if out.Timeout.AsDuration() != 10*time.Second {
			t.Errorf("Expected 10s, got %v", out.Timeout.AsDuration())
		}
	})

	t.Run("integer nanoseconds", func(t *testing.T) {
		var out struct {
			Timeout Duration `yaml:"timeout"`
		}
		if err := yaml.Unmarshal([]byte(`timeout: 5000000000`), &out); err != nil {
			t.Fatalf("Expected no error, got %v", err)
		}
		if out.Timeout.AsDuration() != 5*time.Second {
			t.Errorf("Expected 5s, got %v", out.Timeout.AsDuration())
		}
	})

	t.Run("invalid string", func(t *testing.T) {
		var out struct {
			Timeout Duration `yaml:"timeout"`
		}
		if err := yaml.Unmarshal([]byte(`timeout: "soon"`), &out); err == nil {
			t.Fatal("Expected error for unparseable duration")
		}
	})

	t.Run("round trips through marshal", func(t *testing.T) {
		data, err := yaml.Marshal(struct {
			Timeout Duration `yaml:"timeout"`
		}{Timeout: Duration(90 * time.Second)})
		if err != nil {
			t.Fatalf("Expected no error, got %v", err)
		}
		var out struct {
			Timeout Duration `yaml:"timeout"`
		}
		if err := yaml.Unmarshal(data, &out); err != nil {
			t.Fatalf("Expected no error, got %v", err)
		}
		if out.Timeout.AsDuration() != 90*time.Second {
			t.Errorf("Expected 90s, got %v", out.Timeout.AsDuration())
		}
	})
}

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()

	if len(cfg.Network.Addresses) == 0 {
		t.Error("Expected default listen addresses")
	}
	if cfg.Peers.File == "" {
		t.Error("Expected default peers file")
	}
	if cfg.Peers.ConnectionTimeout.AsDuration() != 10*time.Second {
		t.Errorf("Expected 10s default timeout, got %v", cfg.Peers.ConnectionTimeout.AsDuration())
	}
	if cfg.Logging.Level != "info" {
		t.Errorf("Expected info default level, got %s", cfg.Logging.Level)
	}
}

func TestManager_ValidateConfig_Nil(t *testing.T) {
	if err := NewManager().ValidateConfig(nil); err == nil {
		t.Fatal("Expected error for nil config")
	}
}
