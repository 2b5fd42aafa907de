package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Mode is the clustering mode of a cache.
type Mode string

const (
	ModeLocal    Mode = "LOCAL"
	ModeDistSync Mode = "DIST_SYNC"
	ModeReplSync Mode = "REPL_SYNC"
)

// TransactionMode selects whether explicit transactions are available.
type TransactionMode string

const (
	Transactional    TransactionMode = "TRANSACTIONAL"
	NonTransactional TransactionMode = "NON_TRANSACTIONAL"
)

type Config struct {
	Clustering  ClusteringConfig  `yaml:"clustering"`
	Transaction TransactionConfig `yaml:"transaction"`
	Expiration  ExpirationConfig  `yaml:"expiration"`
	Storage     StorageConfig     `yaml:"storage"`
}

type ClusteringConfig struct {
	Mode         Mode `yaml:"mode"`
	NumOwners    int  `yaml:"num_owners"`
	VirtualNodes int  `yaml:"virtual_nodes"`
}

type TransactionConfig struct {
	Mode TransactionMode `yaml:"mode"`

	// AutoCommit wraps writes outside a transaction in a single-operation transaction.
	// Unset means true.
	AutoCommit *bool `yaml:"auto_commit"`

	PrepareTimeout time.Duration `yaml:"prepare_timeout"`
	CommitTimeout  time.Duration `yaml:"commit_timeout"`
	LockTimeout    time.Duration `yaml:"lock_timeout"`
}

type ExpirationConfig struct {
	Reaper ReaperConfig `yaml:"reaper"`

	// Lifespan and MaxIdle apply to writes that do not set their own. Zero or negative means none.
	Lifespan time.Duration `yaml:"lifespan"`
	MaxIdle  time.Duration `yaml:"max_idle"`
}

type ReaperConfig struct {
	// Enabled unset means true.
	Enabled        *bool         `yaml:"enabled"`
	WakeUpInterval time.Duration `yaml:"wake_up_interval"`
}

type StorageConfig struct {
	Buckets int `yaml:"buckets"`
}

// Bool returns a pointer to v, for the optional boolean fields.
func Bool(v bool) *bool {
	return &v
}

// AutoCommitEnabled reports whether writes outside a transaction are committed on their own.
func (c *TransactionConfig) AutoCommitEnabled() bool {
	return c.AutoCommit == nil || *c.AutoCommit
}

// IsEnabled reports whether the background reaper runs.
func (c *ReaperConfig) IsEnabled() bool {
	return c.Enabled == nil || *c.Enabled
}

// Transactional reports whether explicit transactions are available.
func (c *Config) Transactional() bool {
	return c.Transaction.Mode == Transactional
}

// Read loads a configuration file, fills in defaults and validates it.
func Read(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return Parse(data)
}

// Parse decodes a YAML configuration, fills in defaults and validates it.
// Durations are written as Go duration strings such as "200ms".
func Parse(data []byte) (*Config, error) {
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}

	cfg.PopulateDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}
