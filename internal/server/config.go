package server

import (
	"errors"
	"time"

	"github.com/malbeclabs/connectivity-metrics/internal/ipconnectivity"
)

const (
	defaultShutdownTimeout   = 10 * time.Second
	defaultReadHeaderTimeout = 5 * time.Second
	defaultMaxBodySize       = 1 << 20 // 1 MiB
	defaultMaxBatchSize      = 1000
)

type Config struct {
	Service *ipconnectivity.Service

	// Optional configuration.
	ShutdownTimeout   time.Duration
	ReadHeaderTimeout time.Duration
	MaxBodySize       int64
	MaxBatchSize      int
}

func (c *Config) Validate() error {
	if c.Service == nil {
		return errors.New("service is required")
	}

	// Optional configuration.
	if c.ShutdownTimeout <= 0 {
		c.ShutdownTimeout = defaultShutdownTimeout
	}
	if c.ReadHeaderTimeout <= 0 {
		c.ReadHeaderTimeout = defaultReadHeaderTimeout
	}
	if c.MaxBodySize <= 0 {
		c.MaxBodySize = defaultMaxBodySize
	}
	if c.MaxBatchSize <= 0 {
		c.MaxBatchSize = defaultMaxBatchSize
	}
	return nil
}
