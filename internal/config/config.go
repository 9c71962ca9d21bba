// Package config provides configuration management for the lock server.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/docker/go-units"
	"github.com/joho/godotenv"
	"github.com/spf13/viper"

	"github.com/kneutral-org/davlock/internal/locking"
)

// EnvPrefix is accepted in front of every environment variable.
const EnvPrefix = "DAVLOCK"

// Configuration keys. Each maps to the upper-case environment variable with
// dashes replaced by underscores, e.g. lock-max-timeout -> LOCK_MAX_TIMEOUT.
const (
	KeyPort                      = "port"
	KeyLogLevel                  = "log-level"
	KeyLogPretty                 = "log-pretty"
	KeyReadOnly                  = "read-only"
	KeyLockDefaultTimeout        = "lock-default-timeout"
	KeyLockMaxTimeout            = "lock-max-timeout"
	KeyLockTempTimeout           = "lock-temp-timeout"
	KeyLockSweepInterval         = "lock-sweep-interval"
	KeyMaxPayloadSize            = "max-payload-size"
	KeyStoreBackend              = "store-backend"
	KeyDatabaseURL               = "database-url"
	KeyLegacyClientSignatures    = "legacy-client-signatures"
	KeyNoContentClientSignatures = "no-content-client-signatures"
)

// Store backends.
const (
	StoreMemory   = "memory"
	StorePostgres = "postgres"
)

const (
	// DefaultMaxPayloadSize is the default max LOCK body size.
	DefaultMaxPayloadSize = "64KiB"

	// DefaultSweepInterval is how often idle expired locks are reclaimed.
	DefaultSweepInterval = time.Minute
)

// Config holds the application configuration.
type Config struct {
	// Port is the HTTP server port.
	Port string

	LogLevel  string
	LogPretty bool

	// ReadOnly rejects every LOCK and UNLOCK with 403.
	ReadOnly bool

	// Lock leases, in seconds.
	LockDefaultTimeout int
	LockMaxTimeout     int
	LockTempTimeout    int

	// LockSweepInterval is the period of the background expiry sweep.
	LockSweepInterval time.Duration

	// MaxPayloadSize is the maximum LOCK body size in bytes.
	MaxPayloadSize int64

	StoreBackend string
	DatabaseURL  string

	// LegacyClientSignatures are User-Agent substrings of clients that send
	// LOCK without a body.
	LegacyClientSignatures []string

	// NoContentClientSignatures are User-Agent substrings of clients that
	// expect 204 on null-resource lock creation.
	NoContentClientSignatures []string
}

// SetDefaults registers every key's default on v.
func SetDefaults(v *viper.Viper) {
	v.SetDefault(KeyPort, "8080")
	v.SetDefault(KeyLogLevel, "info")
	v.SetDefault(KeyLogPretty, false)
	v.SetDefault(KeyReadOnly, false)
	v.SetDefault(KeyLockDefaultTimeout, locking.DefaultTimeoutSeconds)
	v.SetDefault(KeyLockMaxTimeout, locking.MaxTimeoutSeconds)
	v.SetDefault(KeyLockTempTimeout, locking.TemporaryTimeoutSeconds)
	v.SetDefault(KeyLockSweepInterval, DefaultSweepInterval)
	v.SetDefault(KeyMaxPayloadSize, DefaultMaxPayloadSize)
	v.SetDefault(KeyStoreBackend, StoreMemory)
	v.SetDefault(KeyDatabaseURL, "")
	v.SetDefault(KeyLegacyClientSignatures, "Darwin")
	v.SetDefault(KeyNoContentClientSignatures, "Transmit")
}

// BindEnv binds every key to its plain and prefixed environment variable.
// The prefixed variable wins when both are set.
func BindEnv(v *viper.Viper) error {
	for _, key := range []string{
		KeyPort, KeyLogLevel, KeyLogPretty, KeyReadOnly,
		KeyLockDefaultTimeout, KeyLockMaxTimeout, KeyLockTempTimeout, KeyLockSweepInterval,
		KeyMaxPayloadSize, KeyStoreBackend, KeyDatabaseURL,
		KeyLegacyClientSignatures, KeyNoContentClientSignatures,
	} {
		env := strings.ToUpper(strings.ReplaceAll(key, "-", "_"))
		if err := v.BindEnv(key, EnvPrefix+"_"+env, env); err != nil {
			return fmt.Errorf("bind env %s: %w", env, err)
		}
	}
	return nil
}

// LoadEnvFiles loads .env and .env.local from the working directory if
// present. Variables already set in the environment are kept.
func LoadEnvFiles() {
	_ = godotenv.Load(".env")
	_ = godotenv.Load(".env.local")
}

// LoadFrom builds and validates a Config from v.
func LoadFrom(v *viper.Viper) (*Config, error) {
	payload, err := units.RAMInBytes(v.GetString(KeyMaxPayloadSize))
	if err != nil {
		return nil, fmt.Errorf("invalid %s %q: %w", KeyMaxPayloadSize, v.GetString(KeyMaxPayloadSize), err)
	}

	cfg := &Config{
		Port:                      v.GetString(KeyPort),
		LogLevel:                  v.GetString(KeyLogLevel),
		LogPretty:                 v.GetBool(KeyLogPretty),
		ReadOnly:                  v.GetBool(KeyReadOnly),
		LockDefaultTimeout:        v.GetInt(KeyLockDefaultTimeout),
		LockMaxTimeout:            v.GetInt(KeyLockMaxTimeout),
		LockTempTimeout:           v.GetInt(KeyLockTempTimeout),
		LockSweepInterval:         v.GetDuration(KeyLockSweepInterval),
		MaxPayloadSize:            payload,
		StoreBackend:              strings.ToLower(strings.TrimSpace(v.GetString(KeyStoreBackend))),
		DatabaseURL:               v.GetString(KeyDatabaseURL),
		LegacyClientSignatures:    splitList(v.GetString(KeyLegacyClientSignatures)),
		NoContentClientSignatures: splitList(v.GetString(KeyNoContentClientSignatures)),
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks the configuration for values the server cannot run with.
func (c *Config) Validate() error {
	switch {
	case c.LockDefaultTimeout <= 0:
		return fmt.Errorf("%s must be positive, got %d", KeyLockDefaultTimeout, c.LockDefaultTimeout)
	case c.LockMaxTimeout < c.LockDefaultTimeout:
		return fmt.Errorf("%s (%d) must not be below %s (%d)", KeyLockMaxTimeout, c.LockMaxTimeout, KeyLockDefaultTimeout, c.LockDefaultTimeout)
	case c.LockTempTimeout <= 0:
		return fmt.Errorf("%s must be positive, got %d", KeyLockTempTimeout, c.LockTempTimeout)
	case c.LockSweepInterval <= 0:
		return fmt.Errorf("%s must be positive, got %s", KeyLockSweepInterval, c.LockSweepInterval)
	case c.MaxPayloadSize < 0:
		return fmt.Errorf("%s must not be negative", KeyMaxPayloadSize)
	}

	switch c.StoreBackend {
	case StoreMemory:
	case StorePostgres:
		if c.DatabaseURL == "" {
			return fmt.Errorf("%s is required for the %s store", KeyDatabaseURL, StorePostgres)
		}
	default:
		return fmt.Errorf("invalid %s %q (expected %s or %s)", KeyStoreBackend, c.StoreBackend, StoreMemory, StorePostgres)
	}
	return nil
}

// TimeoutPolicy returns the lease policy described by the configuration.
func (c *Config) TimeoutPolicy() locking.TimeoutPolicy {
	return locking.TimeoutPolicy{Default: c.LockDefaultTimeout, Maximum: c.LockMaxTimeout}
}

// String returns a formatted string representation of the configuration.
func (c *Config) String() string {
	var sb strings.Builder

	addSection := func(title string) {
		sb.WriteString("\n")
		sb.WriteString(fmt.Sprintf("%s\n", strings.ToUpper(title)))
	}

	addField := func(name, value string) {
		sb.WriteString(fmt.Sprintf("  %-22s: %s\n", name, value))
	}

	seconds := func(s int) string {
		return fmt.Sprintf("%d sec (%s)", s, units.HumanDuration(time.Duration(s)*time.Second))
	}

	addSection("HTTP Server")
	addField("Port", c.Port)
	addField("Max Payload Size", units.BytesSize(float64(c.MaxPayloadSize)))
	addField("Read Only", fmt.Sprintf("%t", c.ReadOnly))

	addSection("Logging")
	addField("Log Level", c.LogLevel)
	addField("Pretty", fmt.Sprintf("%t", c.LogPretty))

	addSection("Locks")
	addField("Default Timeout", seconds(c.LockDefaultTimeout))
	addField("Max Timeout", seconds(c.LockMaxTimeout))
	addField("Temporary Timeout", seconds(c.LockTempTimeout))
	addField("Sweep Interval", units.HumanDuration(c.LockSweepInterval))

	addSection("Store")
	addField("Backend", c.StoreBackend)
	if c.StoreBackend == StorePostgres {
		addField("Database", redactURL(c.DatabaseURL))
	}

	addSection("Client Quirks")
	addField("Empty Lock Body", strings.Join(c.LegacyClientSignatures, ", "))
	addField("No Content On Create", strings.Join(c.NoContentClientSignatures, ", "))

	return sb.String()
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

// redactURL hides the password of a connection URL.
func redactURL(raw string) string {
	at := strings.LastIndex(raw, "@")
	scheme := strings.Index(raw, "://")
	if at < 0 || scheme < 0 || at < scheme {
		return raw
	}
	userinfo := raw[scheme+3 : at]
	if colon := strings.Index(userinfo, ":"); colon >= 0 {
		return raw[:scheme+3] + userinfo[:colon] + ":***" + raw[at:]
	}
	return raw
}
