// Package env loads the core's configuration from its BUILDER_* environment
// variables: action cache sizing, remote cache endpoint and transport
// tuning. Grounded on the teacher's own internal/env/env.go (a single
// findDistriRoot() reading one env var with one fallback default), expanded
// here to the full ambient configuration surface the core requires, but
// keeping the same shape: a package-level Load() that never panics and
// reports malformed values as typed errors instead.
package env

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/GriffinCanCode/Builder-sub007/internal/errs"
)

// ActionCache holds the BUILDER_ACTION_CACHE_* limits, mirroring
// cache.Limits but expressed in the wire-friendly units environment
// variables use (bytes, a plain count, a day count) rather than
// time.Duration.
type ActionCache struct {
	MaxSizeBytes int64
	MaxEntries   int
	MaxAgeDays   int
}

// RemoteCache holds the BUILDER_REMOTE_CACHE_* settings. URL empty means no
// remote cache tier is configured; callers should treat that as "local
// cache only" rather than an error.
type RemoteCache struct {
	URL          string
	Token        string
	Timeout      time.Duration
	Retries      int
	Connections  int
	MaxSizeBytes int64
	Compress     bool
}

// Config is the core's full environment-derived configuration.
type Config struct {
	ActionCache ActionCache
	RemoteCache RemoteCache
}

// Defaults returns the configuration used in the absence of any BUILDER_*
// variable: 1 GiB / 10,000 entries / 30 days for the action cache (the
// same values as cache.DefaultLimits()), and 3 retries over 8 connections
// with a 30s timeout for the remote cache tier. remotecache.NewClient
// does not read the RemoteCache values.
func Defaults() Config {
	return Config{
		ActionCache: ActionCache{
			MaxSizeBytes: 1 << 30,
			MaxEntries:   10_000,
			MaxAgeDays:   30,
		},
		RemoteCache: RemoteCache{
			Timeout:     30 * time.Second,
			Retries:     3,
			Connections: 8,
			Compress:    true,
		},
	}
}

// Load reads BUILDER_* environment variables into a Config, starting from
// Defaults() and overriding only the variables actually set. A malformed
// value (non-numeric size, negative count, unparseable duration) is
// reported as a KindConfig error naming the offending variable rather than
// silently falling back to the default, since a typo in a build farm's
// environment should fail loudly rather than quietly run unthrottled.
func Load() (Config, error) {
	cfg := Defaults()

	if err := loadInt64(&cfg.ActionCache.MaxSizeBytes, "BUILDER_ACTION_CACHE_MAX_SIZE"); err != nil {
		return Config{}, err
	}
	if err := loadInt(&cfg.ActionCache.MaxEntries, "BUILDER_ACTION_CACHE_MAX_ENTRIES"); err != nil {
		return Config{}, err
	}
	if err := loadInt(&cfg.ActionCache.MaxAgeDays, "BUILDER_ACTION_CACHE_MAX_AGE_DAYS"); err != nil {
		return Config{}, err
	}

	if v, ok := os.LookupEnv("BUILDER_REMOTE_CACHE_URL"); ok {
		cfg.RemoteCache.URL = v
	}
	if v, ok := os.LookupEnv("BUILDER_REMOTE_CACHE_TOKEN"); ok {
		cfg.RemoteCache.Token = v
	}
	if err := loadDuration(&cfg.RemoteCache.Timeout, "BUILDER_REMOTE_CACHE_TIMEOUT"); err != nil {
		return Config{}, err
	}
	if err := loadInt(&cfg.RemoteCache.Retries, "BUILDER_REMOTE_CACHE_RETRIES"); err != nil {
		return Config{}, err
	}
	if err := loadInt(&cfg.RemoteCache.Connections, "BUILDER_REMOTE_CACHE_CONNECTIONS"); err != nil {
		return Config{}, err
	}
	if err := loadInt64(&cfg.RemoteCache.MaxSizeBytes, "BUILDER_REMOTE_CACHE_MAX_SIZE"); err != nil {
		return Config{}, err
	}
	if err := loadBool(&cfg.RemoteCache.Compress, "BUILDER_REMOTE_CACHE_COMPRESS"); err != nil {
		return Config{}, err
	}

	return cfg, nil
}

func loadInt64(dst *int64, name string) error {
	v, ok := os.LookupEnv(name)
	if !ok || v == "" {
		return nil
	}
	n, err := strconv.ParseInt(v, 10, 64)
	if err != nil || n < 0 {
		return configErr(name, v)
	}
	*dst = n
	return nil
}

func loadInt(dst *int, name string) error {
	v, ok := os.LookupEnv(name)
	if !ok || v == "" {
		return nil
	}
	n, err := strconv.Atoi(v)
	if err != nil || n < 0 {
		return configErr(name, v)
	}
	*dst = n
	return nil
}

func loadBool(dst *bool, name string) error {
	v, ok := os.LookupEnv(name)
	if !ok || v == "" {
		return nil
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return configErr(name, v)
	}
	*dst = b
	return nil
}

func loadDuration(dst *time.Duration, name string) error {
	v, ok := os.LookupEnv(name)
	if !ok || v == "" {
		return nil
	}
	// Bare BUILDER_REMOTE_CACHE_TIMEOUT values are seconds; a suffixed
	// value ("500ms", "2s") parses as a time.Duration directly.
	if n, err := strconv.Atoi(v); err == nil {
		if n < 0 {
			return configErr(name, v)
		}
		*dst = time.Duration(n) * time.Second
		return nil
	}
	d, err := time.ParseDuration(v)
	if err != nil || d < 0 {
		return configErr(name, v)
	}
	*dst = d
	return nil
}

func configErr(name, value string) error {
	return errs.New(errs.KindConfig, "InvalidEnv", "",
		fmt.Errorf("%s: invalid value %q", name, value))
}
