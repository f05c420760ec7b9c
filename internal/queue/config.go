package queue

import (
	"time"

	"github.com/ternarybob/gleaner/internal/common"
)

// Config holds the resolved orchestrator settings
type Config struct {
	// PollInterval is how often idle workers try to claim a job
	PollInterval time.Duration

	// Concurrency is the number of concurrent workers
	Concurrency int

	// MaxRetries is the transient failure count at which a job fails terminally
	MaxRetries int

	// BaseBackoff, BackoffMultiplier and MaxBackoff shape the retry delay
	BaseBackoff       time.Duration
	BackoffMultiplier float64
	MaxBackoff        time.Duration

	// HeartbeatInterval is how often a running job refreshes its heartbeat
	HeartbeatInterval time.Duration

	// StaleTimeout is the heartbeat age after which a running job is reclaimed
	StaleTimeout time.Duration
}

// NewDefaultConfig creates a queue configuration with sensible defaults
func NewDefaultConfig() Config {
	return Config{
		PollInterval:      1 * time.Second,
		Concurrency:       4,
		MaxRetries:        5,
		BaseBackoff:       30 * time.Second,
		BackoffMultiplier: 2,
		MaxBackoff:        time.Hour,
		HeartbeatInterval: 15 * time.Second,
		StaleTimeout:      5 * time.Minute,
	}
}

// NewConfig resolves the [queue] section, falling back to defaults for
// empty or unparsable durations
func NewConfig(c common.QueueConfig) Config {
	def := NewDefaultConfig()
	config := Config{
		PollInterval:      common.ParseDurationOr(c.PollInterval, def.PollInterval),
		Concurrency:       c.Concurrency,
		MaxRetries:        c.MaxRetries,
		BaseBackoff:       common.ParseDurationOr(c.BaseBackoff, def.BaseBackoff),
		BackoffMultiplier: c.BackoffMultiplier,
		MaxBackoff:        common.ParseDurationOr(c.MaxBackoff, def.MaxBackoff),
		HeartbeatInterval: common.ParseDurationOr(c.HeartbeatInterval, def.HeartbeatInterval),
		StaleTimeout:      common.ParseDurationOr(c.StaleTimeout, def.StaleTimeout),
	}
	if config.Concurrency < 1 {
		config.Concurrency = def.Concurrency
	}
	if config.BackoffMultiplier < 1 {
		config.BackoffMultiplier = def.BackoffMultiplier
	}
	return config
}

// Backoff returns the delay before retry number retry (1-based):
// base * multiplier^(retry-1), capped at MaxBackoff
func (c Config) Backoff(retry int) time.Duration {
	if retry < 1 {
		retry = 1
	}
	delay := float64(c.BaseBackoff)
	for i := 1; i < retry; i++ {
		delay *= c.BackoffMultiplier
		if c.MaxBackoff > 0 && delay >= float64(c.MaxBackoff) {
			return c.MaxBackoff
		}
	}
	if c.MaxBackoff > 0 && delay > float64(c.MaxBackoff) {
		return c.MaxBackoff
	}
	return time.Duration(delay)
}
