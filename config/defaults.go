package config

import "time"

var defaultClustering = ClusteringConfig{
	Mode:         ModeLocal,
	NumOwners:    2,
	VirtualNodes: 64,
}

var defaultTransaction = TransactionConfig{
	Mode:           NonTransactional,
	PrepareTimeout: 15 * time.Second,
	CommitTimeout:  15 * time.Second,
	LockTimeout:    10 * time.Second,
}

var defaultReaper = ReaperConfig{
	WakeUpInterval: time.Minute,
}

var defaultStorage = StorageConfig{
	Buckets: 256,
}

func Default() *Config {
	cfg := &Config{
		Clustering:  defaultClustering,
		Transaction: defaultTransaction,
		Expiration:  ExpirationConfig{Reaper: defaultReaper},
		Storage:     defaultStorage,
	}
	cfg.PopulateDefaults()
	return cfg
}

func (c *ClusteringConfig) PopulateDefaults() {
	if c.Mode == "" {
		c.Mode = defaultClustering.Mode
	}

	if c.NumOwners == 0 {
		c.NumOwners = defaultClustering.NumOwners
	}

	if c.VirtualNodes == 0 {
		c.VirtualNodes = defaultClustering.VirtualNodes
	}
}

func (c *TransactionConfig) PopulateDefaults() {
	if c.Mode == "" {
		c.Mode = defaultTransaction.Mode
	}

	if c.AutoCommit == nil {
		c.AutoCommit = Bool(true)
	}

	if c.PrepareTimeout == 0 {
		c.PrepareTimeout = defaultTransaction.PrepareTimeout
	}

	if c.CommitTimeout == 0 {
		c.CommitTimeout = defaultTransaction.CommitTimeout
	}

	if c.LockTimeout == 0 {
		c.LockTimeout = defaultTransaction.LockTimeout
	}
}

func (c *ReaperConfig) PopulateDefaults() {
	if c.Enabled == nil {
		c.Enabled = Bool(true)
	}

	if c.WakeUpInterval == 0 {
		c.WakeUpInterval = defaultReaper.WakeUpInterval
	}
}

func (c *ExpirationConfig) PopulateDefaults() {
	c.Reaper.PopulateDefaults()
}

func (c *StorageConfig) PopulateDefaults() {
	if c.Buckets == 0 {
		c.Buckets = defaultStorage.Buckets
	}
}

func (c *Config) PopulateDefaults() {
	c.Clustering.PopulateDefaults()
	c.Transaction.PopulateDefaults()
	c.Expiration.PopulateDefaults()
	c.Storage.PopulateDefaults()
}
