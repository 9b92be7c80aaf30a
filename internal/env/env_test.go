package env

import (
	"os"
	"testing"
	"time"

	"github.com/GriffinCanCode/Builder-sub007/internal/errs"
)

func clearBuilderEnv(t *testing.T) {
	t.Helper()
	names := []string{
		"BUILDER_ACTION_CACHE_MAX_SIZE",
		"BUILDER_ACTION_CACHE_MAX_ENTRIES",
		"BUILDER_ACTION_CACHE_MAX_AGE_DAYS",
		"BUILDER_REMOTE_CACHE_URL",
		"BUILDER_REMOTE_CACHE_TOKEN",
		"BUILDER_REMOTE_CACHE_TIMEOUT",
		"BUILDER_REMOTE_CACHE_RETRIES",
		"BUILDER_REMOTE_CACHE_CONNECTIONS",
		"BUILDER_REMOTE_CACHE_MAX_SIZE",
		"BUILDER_REMOTE_CACHE_COMPRESS",
	}
	for _, n := range names {
		old, had := os.LookupEnv(n)
		os.Unsetenv(n)
		t.Cleanup(func(n string, old string, had bool) func() {
			return func() {
				if had {
					os.Setenv(n, old)
				} else {
					os.Unsetenv(n)
				}
			}
		}(n, old, had))
	}
}

func TestLoadReturnsDefaultsWhenUnset(t *testing.T) {
	clearBuilderEnv(t)
	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	want := Defaults()
	if cfg != want {
		t.Errorf("Load() = %+v, want defaults %+v", cfg, want)
	}
}

func TestLoadOverridesActionCacheLimits(t *testing.T) {
	clearBuilderEnv(t)
	os.Setenv("BUILDER_ACTION_CACHE_MAX_SIZE", "2048")
	os.Setenv("BUILDER_ACTION_CACHE_MAX_ENTRIES", "5")
	os.Setenv("BUILDER_ACTION_CACHE_MAX_AGE_DAYS", "7")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.ActionCache.MaxSizeBytes != 2048 || cfg.ActionCache.MaxEntries != 5 || cfg.ActionCache.MaxAgeDays != 7 {
		t.Errorf("ActionCache = %+v, want {2048 5 7}", cfg.ActionCache)
	}
}

func TestLoadParsesRemoteCacheSettings(t *testing.T) {
	clearBuilderEnv(t)
	os.Setenv("BUILDER_REMOTE_CACHE_URL", "http://cache.internal:7070")
	os.Setenv("BUILDER_REMOTE_CACHE_TOKEN", "secret-token")
	os.Setenv("BUILDER_REMOTE_CACHE_TIMEOUT", "5s")
	os.Setenv("BUILDER_REMOTE_CACHE_RETRIES", "10")
	os.Setenv("BUILDER_REMOTE_CACHE_CONNECTIONS", "32")
	os.Setenv("BUILDER_REMOTE_CACHE_COMPRESS", "false")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	rc := cfg.RemoteCache
	if rc.URL != "http://cache.internal:7070" || rc.Token != "secret-token" {
		t.Errorf("RemoteCache URL/Token = %q/%q", rc.URL, rc.Token)
	}
	if rc.Timeout != 5*time.Second {
		t.Errorf("RemoteCache.Timeout = %v, want 5s", rc.Timeout)
	}
	if rc.Retries != 10 || rc.Connections != 32 {
		t.Errorf("Retries/Connections = %d/%d, want 10/32", rc.Retries, rc.Connections)
	}
	if rc.Compress {
		t.Error("Compress = true, want false")
	}
}

func TestLoadAcceptsBareSecondsForTimeout(t *testing.T) {
	clearBuilderEnv(t)
	os.Setenv("BUILDER_REMOTE_CACHE_TIMEOUT", "15")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.RemoteCache.Timeout != 15*time.Second {
		t.Errorf("Timeout = %v, want 15s", cfg.RemoteCache.Timeout)
	}
}

func TestLoadRejectsMalformedSize(t *testing.T) {
	clearBuilderEnv(t)
	os.Setenv("BUILDER_ACTION_CACHE_MAX_SIZE", "not-a-number")

	_, err := Load()
	if err == nil {
		t.Fatal("expected error for malformed size")
	}
	e, ok := err.(*errs.Error)
	if !ok {
		t.Fatalf("expected *errs.Error, got %T", err)
	}
	if e.Kind != errs.KindConfig {
		t.Errorf("Kind = %v, want KindConfig", e.Kind)
	}
}

func TestLoadRejectsNegativeValues(t *testing.T) {
	clearBuilderEnv(t)
	os.Setenv("BUILDER_REMOTE_CACHE_RETRIES", "-1")

	_, err := Load()
	if err == nil {
		t.Fatal("expected error for negative retry count")
	}
}

func TestLoadRejectsUnparseableBool(t *testing.T) {
	clearBuilderEnv(t)
	os.Setenv("BUILDER_REMOTE_CACHE_COMPRESS", "maybe")

	_, err := Load()
	if err == nil {
		t.Fatal("expected error for unparseable bool")
	}
}
