package config

import "errors"

var ErrConfigIsNil = errors.New("config is nil")
var ErrUnknownMode = errors.New("unknown clustering mode")
var ErrUnknownTransactionMode = errors.New("unknown transaction mode")
var ErrInvalidNumOwners = errors.New("num_owners must be at least 1")
var ErrInvalidVirtualNodes = errors.New("virtual_nodes must be at least 1")
var ErrInvalidTimeout = errors.New("timeouts must be positive")
var ErrInvalidWakeUpInterval = errors.New("reaper wake_up_interval must be positive")
var ErrInvalidBuckets = errors.New("storage buckets must be at least 1")
