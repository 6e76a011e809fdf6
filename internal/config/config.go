// Package config loads the press3 project file and its environment overrides.
//
// Values come from press3.config.yml (written by "press3 init"), then the
// environment: PRESS3_OBJECT_ID, PRESS3_NODE, WALRUS_NETWORK,
// WALRUS_EPOCHS and WALRUS_PUBLISH_SECRET.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"

	"gopkg.in/yaml.v3"

	"Press3/internal/health"
	"Press3/internal/ledger"
	"Press3/internal/publish"
	"Press3/internal/registry"
)

// DefaultFile is the project config file name.
const DefaultFile = "press3.config.yml"

// SupportedNetworks lists the accepted network names.
var SupportedNetworks = []string{"devnet", "testnet", "mainnet"}

// Config is the press3 project configuration.
type Config struct {
	// PackageID is the deployed registry program id.
	PackageID string `yaml:"package_id"`

	// Press3ObjectID is the shared registry object id.
	Press3ObjectID string `yaml:"press3_object_id"`

	// Network names the target network.
	Network string `yaml:"network"`

	// Node is the devnet node address.
	Node string `yaml:"node"`

	// Epochs is the storage retention requested for new blobs.
	Epochs uint64 `yaml:"epochs"`

	// KeyPath is a raw Ed25519 key file, created when missing.
	KeyPath string `yaml:"key_path"`

	// Concurrency bounds parallel uploads in a batch publish.
	Concurrency int `yaml:"concurrency"`

	// ExpiringThreshold is the remaining-epoch count at or below which a blob is expiring.
	ExpiringThreshold int64 `yaml:"expiring_threshold"`

	// Budget scales the batch transaction budget.
	Budget ledger.BudgetParams `yaml:"budget"`

	// Secret is the publisher key from WALRUS_PUBLISH_SECRET. Never written to disk.
	Secret string `yaml:"-"`
}

// Default returns the configuration used before the file and environment apply.
func Default() *Config {
	return &Config{
		Network:           "devnet",
		Node:              "127.0.0.1:8080",
		Epochs:            1,
		KeyPath:           "press3.key",
		Concurrency:       publish.DefaultConcurrency,
		ExpiringThreshold: health.DefaultThreshold,
		Budget:            ledger.DefaultBudgetParams(),
	}
}

// Load reads path over the defaults, then applies the process environment.
// A missing file is not an error; the defaults and environment still apply.
func Load(path string) (*Config, error) {
	cfg := Default()

	if err := cfg.loadFile(path); err != nil {
		return nil, err
	}

	if err := cfg.ApplyEnv(os.Getenv); err != nil {
		return nil, err
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config %s:\n%w", path, err)
	}

	return cfg, nil
}

// loadFile merges a YAML file into c.
func (c *Config) loadFile(path string) error {
	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return nil
	}

	if err != nil {
		return fmt.Errorf("read config:\n%w", err)
	}

	if err := yaml.Unmarshal(data, c); err != nil {
		return fmt.Errorf("parse config %s:\n%w", path, err)
	}

	return nil
}

// ApplyEnv applies environment overrides read through getenv.
func (c *Config) ApplyEnv(getenv func(string) string) error {
	if v := getenv("PRESS3_OBJECT_ID"); v != "" {
		c.Press3ObjectID = v
	}

	if v := getenv("PRESS3_NODE"); v != "" {
		c.Node = v
	}

	if v := getenv("WALRUS_NETWORK"); v != "" {
		c.Network = v
	}

	if v := getenv("WALRUS_EPOCHS"); v != "" {
		epochs, err := strconv.ParseUint(v, 10, 64)
		if err != nil || epochs < 1 {
			return fmt.Errorf("invalid WALRUS_EPOCHS %q: must be a positive integer", v)
		}

		c.Epochs = epochs
	}

	if v := getenv("WALRUS_PUBLISH_SECRET"); v != "" {
		c.Secret = v
	}

	return nil
}

// Validate checks value ranges. Object ids are checked when they are used.
func (c *Config) Validate() error {
	supported := false
	for _, n := range SupportedNetworks {
		if c.Network == n {
			supported = true
		}
	}

	if !supported {
		return fmt.Errorf("unsupported network %q, want one of %v", c.Network, SupportedNetworks)
	}

	if c.Epochs == 0 {
		return fmt.Errorf("epochs must be positive")
	}

	if c.Concurrency <= 0 {
		return fmt.Errorf("concurrency must be positive, got %d", c.Concurrency)
	}

	if c.ExpiringThreshold < 0 {
		return fmt.Errorf("expiring_threshold must not be negative, got %d", c.ExpiringThreshold)
	}

	return nil
}

// Save writes c to path. The secret is never written.
func (c *Config) Save(path string) error {
	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("encode config:\n%w", err)
	}

	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("write config %s:\n%w", path, err)
	}

	return nil
}

// Program parses the registry program id.
func (c *Config) Program() (registry.ObjectID, error) {
	if c.PackageID == "" {
		return registry.ObjectID{}, fmt.Errorf("package_id is not set; run press3 init first")
	}

	return registry.ParseObjectID(c.PackageID)
}

// Object parses the registry object id.
func (c *Config) Object() (registry.ObjectID, error) {
	if c.Press3ObjectID == "" {
		return registry.ObjectID{}, fmt.Errorf("press3_object_id is not set; run press3 init or set PRESS3_OBJECT_ID")
	}

	return registry.ParseObjectID(c.Press3ObjectID)
}

// Signer returns the publisher signer: the secret when set, otherwise the key file.
func (c *Config) Signer() (*ledger.Ed25519Signer, error) {
	if c.Secret != "" {
		priv, err := ledger.ParsePrivateKey(c.Secret)
		if err != nil {
			return nil, fmt.Errorf("WALRUS_PUBLISH_SECRET:\n%w", err)
		}

		return ledger.NewEd25519Signer(priv), nil
	}

	if c.KeyPath == "" {
		return nil, fmt.Errorf("no publisher key: set WALRUS_PUBLISH_SECRET or key_path")
	}

	priv, err := ledger.LoadOrGenerateKey(c.KeyPath)
	if err != nil {
		return nil, fmt.Errorf("load key %s:\n%w", c.KeyPath, err)
	}

	return ledger.NewEd25519Signer(priv), nil
}
