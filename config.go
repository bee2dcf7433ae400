package dbpool

import (
	"fmt"
	"time"

	"github.com/spf13/cast"
	"go.uber.org/zap"
)

// PoolConfig is an immutable description of how a Pool should be built.
// A PoolConfig is validated once, at construction time, and never mutated
// by the pool afterwards.
type PoolConfig struct {
	// DriverName is the database/sql driver identifier, e.g. "postgres",
	// "pgx" or "mysql".
	DriverName string
	// URL is the driver-specific connection string or host:port/database
	// address. Username and Password are merged into it by the
	// ConnectionFactory.
	URL      string
	Username string
	Password string

	InitSize  int
	MinSize   int
	MaxSize   int
	Increment int

	Retries       int
	RetryInterval time.Duration

	AcquireTimeout time.Duration
	IdleTimeout    time.Duration
	MaxLifetime    time.Duration

	TestConnection bool
	TestSQL        string
	TestTimeout    time.Duration

	// JanitorPeriod is the cadence of the background eviction/refill
	// sweep. Zero selects the default of 30s.
	JanitorPeriod time.Duration

	// ProbeOnAcquire re-validates a connection with the HealthProbe on
	// every checkout rather than only at admission. Safer, slower.
	ProbeOnAcquire bool
}

func (c *PoolConfig) setDefaults() {
	if c.JanitorPeriod == 0 {
		c.JanitorPeriod = 30 * time.Second
	}
	if c.Retries <= 0 {
		c.Retries = 1
	}
}

// Validate checks the invariants required of a PoolConfig before it can be
// used to build a Pool. Binding is explicit and enumerated (see BindConfig);
// Validate never uses reflection.
func (c PoolConfig) Validate() error {
	if c.DriverName == "" {
		return fmt.Errorf("%w: driverClassName", ErrConfigMissing)
	}
	if c.URL == "" {
		return fmt.Errorf("%w: url", ErrConfigMissing)
	}
	if c.Username == "" {
		return fmt.Errorf("%w: username", ErrConfigMissing)
	}
	if c.InitSize < 0 {
		return fmt.Errorf("%w: initSize must be >= 0, got %d", ErrConfigInvalid, c.InitSize)
	}
	if c.MinSize < c.InitSize {
		return fmt.Errorf("%w: minSize (%d) must be >= initSize (%d)", ErrConfigInvalid, c.MinSize, c.InitSize)
	}
	if c.MaxSize < c.MinSize || c.MaxSize <= 0 {
		return fmt.Errorf("%w: maxSize (%d) must be >= minSize (%d) and > 0", ErrConfigInvalid, c.MaxSize, c.MinSize)
	}
	if c.Increment < 1 {
		return fmt.Errorf("%w: increment must be >= 1, got %d", ErrConfigInvalid, c.Increment)
	}
	for name, d := range map[string]time.Duration{
		"retryInterval":  c.RetryInterval,
		"acquireTimeout": c.AcquireTimeout,
		"idleTimeout":    c.IdleTimeout,
		"maxLifetime":    c.MaxLifetime,
		"testTimeout":    c.TestTimeout,
		"janitorPeriod":  c.JanitorPeriod,
	} {
		if d < 0 {
			return fmt.Errorf("%w: %s must be >= 0", ErrConfigInvalid, name)
		}
	}
	return nil
}

// BindConfig builds a PoolConfig from a bag of string properties, using an
// explicit enumerated mapping of recognised keys (see spec §6) to typed
// setters. Durations expressed in the source properties are milliseconds,
// matching the original property bag's "int ms" fields. Unknown keys are
// logged and ignored, never an error.
func BindConfig(props map[string]string, logger *zap.Logger) (PoolConfig, error) {
	if logger == nil {
		logger = zap.NewNop()
	}

	var cfg PoolConfig
	for key, value := range props {
		var err error
		switch key {
		case "driverClassName":
			cfg.DriverName = value
		case "url":
			cfg.URL = value
		case "username":
			cfg.Username = value
		case "password":
			cfg.Password = value
		case "initSize":
			cfg.InitSize, err = cast.ToIntE(value)
		case "minSize":
			cfg.MinSize, err = cast.ToIntE(value)
		case "maxSize":
			cfg.MaxSize, err = cast.ToIntE(value)
		case "increment":
			cfg.Increment, err = cast.ToIntE(value)
		case "retries":
			cfg.Retries, err = cast.ToIntE(value)
		case "retryInterval":
			cfg.RetryInterval, err = millisDuration(value)
		case "getConnectionTimeout":
			cfg.AcquireTimeout, err = millisDuration(value)
		case "inactiveTimeout":
			cfg.IdleTimeout, err = millisDuration(value)
		case "maxLifetime":
			cfg.MaxLifetime, err = millisDuration(value)
		case "testConnection":
			cfg.TestConnection, err = cast.ToBoolE(value)
		case "testSql":
			cfg.TestSQL = value
		case "testTimeout":
			cfg.TestTimeout, err = millisDuration(value)
		default:
			logger.Warn("ignoring unsupported configuration property", zap.String("key", key), zap.String("value", value))
			continue
		}
		if err != nil {
			return PoolConfig{}, fmt.Errorf("%w: property %q: %v", ErrConfigInvalid, key, err)
		}
	}
	return cfg, nil
}

func millisDuration(value string) (time.Duration, error) {
	ms, err := cast.ToInt64E(value)
	if err != nil {
		return 0, err
	}
	return time.Duration(ms) * time.Millisecond, nil
}
