package config

import "fmt"

func (c *Config) Validate() error {
	if c == nil {
		return ErrConfigIsNil
	}
	if err := c.Clustering.Validate(); err != nil {
		return err
	}
	if err := c.Transaction.Validate(); err != nil {
		return err
	}
	if err := c.Expiration.Validate(); err != nil {
		return err
	}
	if err := c.Storage.Validate(); err != nil {
		return err
	}
	return nil
}

func (c *ClusteringConfig) Validate() error {
	switch c.Mode {
	case ModeLocal, ModeDistSync, ModeReplSync:
	default:
		return fmt.Errorf("%w: %q", ErrUnknownMode, c.Mode)
	}

	if c.NumOwners < 1 {
		return ErrInvalidNumOwners
	}

	if c.VirtualNodes < 1 {
		return ErrInvalidVirtualNodes
	}
	return nil
}

func (c *TransactionConfig) Validate() error {
	switch c.Mode {
	case Transactional, NonTransactional:
	default:
		return fmt.Errorf("%w: %q", ErrUnknownTransactionMode, c.Mode)
	}

	if c.PrepareTimeout <= 0 || c.CommitTimeout <= 0 || c.LockTimeout <= 0 {
		return ErrInvalidTimeout
	}
	return nil
}

func (c *ExpirationConfig) Validate() error {
	if c.Reaper.WakeUpInterval <= 0 {
		return ErrInvalidWakeUpInterval
	}
	return nil
}

func (c *StorageConfig) Validate() error {
	if c.Buckets < 1 {
		return ErrInvalidBuckets
	}
	return nil
}
