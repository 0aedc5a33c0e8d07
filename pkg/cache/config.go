package cache

import "time"

// Config holds the configuration for the schema cache
type Config struct {
	// MaxEntries is the number of aliases kept before LRU eviction
	MaxEntries int
	// TTL is the time-to-live for cache entries
	TTL time.Duration
	// LoadTimeout bounds one schema computation, independent of any caller
	LoadTimeout time.Duration
	// EnableStats enables cache statistics collection
	EnableStats bool
}

// DefaultConfig returns a default cache configuration
func DefaultConfig() *Config {
	return &Config{
		MaxEntries:  64,
		TTL:         10 * time.Minute,
		LoadTimeout: 60 * time.Second,
		EnableStats: true,
	}
}

// WithMaxEntries sets the maximum number of entries
func (c *Config) WithMaxEntries(n int) *Config {
	c.MaxEntries = n
	return c
}

// WithTTL sets the time-to-live for cache entries
func (c *Config) WithTTL(ttl time.Duration) *Config {
	c.TTL = ttl
	return c
}

// WithLoadTimeout sets the timeout of a single schema computation
func (c *Config) WithLoadTimeout(d time.Duration) *Config {
	c.LoadTimeout = d
	return c
}

// WithStats enables or disables cache statistics
func (c *Config) WithStats(enable bool) *Config {
	c.EnableStats = enable
	return c
}

func (c *Config) withDefaults() *Config {
	out := *c
	def := DefaultConfig()
	if out.MaxEntries <= 0 {
		out.MaxEntries = def.MaxEntries
	}
	if out.TTL <= 0 {
		out.TTL = def.TTL
	}
	if out.LoadTimeout <= 0 {
		out.LoadTimeout = def.LoadTimeout
	}
	return &out
}
