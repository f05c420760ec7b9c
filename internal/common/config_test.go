package common

import (
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeFile(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestNewDefaultConfig_Validates(t *testing.T) {
	config := NewDefaultConfig()
	require.NoError(t, config.Validate())
	assert.Equal(t, 0.85, config.Dedup.CrossRunThreshold)
	assert.Equal(t, "gemini", config.Search.Mode)
}

func TestLoadFromFiles_LaterFilesOverride(t *testing.T) {
	base := writeFile(t, "base.toml", `
[queue]
concurrency = 2
max_retries = 7

[dedup]
cross_run_threshold = 0.9
`)
	override := writeFile(t, "override.toml", `
[queue]
concurrency = 6

[search]
mode = "disabled"
`)

	config, err := LoadFromFiles(base, "", override)
	require.NoError(t, err)
	assert.Equal(t, 6, config.Queue.Concurrency)
	assert.Equal(t, 7, config.Queue.MaxRetries)
	assert.Equal(t, 0.9, config.Dedup.CrossRunThreshold)
	assert.Equal(t, "disabled", config.Search.Mode)
	assert.Equal(t, "30s", config.Queue.BaseBackoff, "untouched defaults survive")
	require.NoError(t, config.Validate())
}

func TestLoadFromFiles_EnvOverrides(t *testing.T) {
	t.Setenv("GLEANER_QUEUE_CONCURRENCY", "9")
	t.Setenv("GLEANER_SEARCH_MODE", "disabled")
	t.Setenv("GLEANER_GEMINI_API_KEY", "key-from-env")

	config, err := LoadFromFiles()
	require.NoError(t, err)
	assert.Equal(t, 9, config.Queue.Concurrency)
	assert.Equal(t, "disabled", config.Search.Mode)
	assert.Equal(t, "key-from-env", config.Gemini.APIKey)
}

func TestLoadFromFiles_QueriesFile(t *testing.T) {
	queries := writeFile(t, "queries.yaml", "queries:\n  - food bank springfield\n  - \"  \"\n  - youth sports shelbyville\n")
	config := writeFile(t, "config.toml", "[discovery]\nqueries = [\"free clinic\"]\nqueries_file = \""+filepath.ToSlash(queries)+"\"\n")

	loaded, err := LoadFromFiles(config)
	require.NoError(t, err)
	assert.Equal(t, []string{"free clinic", "food bank springfield", "youth sports shelbyville"}, loaded.Discovery.Queries)
}

func TestLoadFromFiles_Errors(t *testing.T) {
	_, err := LoadFromFiles(filepath.Join(t.TempDir(), "missing.toml"))
	assert.Error(t, err)

	bad := writeFile(t, "bad.toml", "[queue\nconcurrency = 1")
	_, err = LoadFromFiles(bad)
	assert.Error(t, err)
}

func TestValidate_RejectsBadValues(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(c *Config)
	}{
		{"duration", func(c *Config) { c.Queue.BaseBackoff = "soon" }},
		{"stale below heartbeat", func(c *Config) { c.Queue.StaleTimeout = "10s" }},
		{"cleanup above cross run", func(c *Config) { c.Dedup.CleanupThreshold = 0.95 }},
		{"schedule", func(c *Config) { c.Schedules.StaleSweep = "* * * * *" }},
		{"search mode", func(c *Config) { c.Search.Mode = "bing" }},
		{"threshold range", func(c *Config) { c.Dedup.IntraRunThreshold = 1.5 }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			config := NewDefaultConfig()
			tt.mutate(config)
			assert.Error(t, config.Validate())
		})
	}
}

func TestValidateJobSchedule(t *testing.T) {
	assert.NoError(t, ValidateJobSchedule("*/5 * * * *"))
	assert.NoError(t, ValidateJobSchedule("0 3 * * *"))
	assert.Error(t, ValidateJobSchedule("* * * * *"))
	assert.Error(t, ValidateJobSchedule("*/2 * * * *"))
	assert.Error(t, ValidateJobSchedule("daily"))
}

func TestParseDurationOr(t *testing.T) {
	assert.Equal(t, 2*time.Second, ParseDurationOr("2s", time.Minute))
	assert.Equal(t, time.Minute, ParseDurationOr("", time.Minute))
	assert.Equal(t, time.Minute, ParseDurationOr("two", time.Minute))
}

func TestKeyedLock_SerializesPerKey(t *testing.T) {
	locks := NewKeyedLock()
	var inside, maxInside int32
	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			unlock := locks.Lock("post_1")
			defer unlock()
			n := atomic.AddInt32(&inside, 1)
			if n > atomic.LoadInt32(&maxInside) {
				atomic.StoreInt32(&maxInside, n)
			}
			time.Sleep(time.Millisecond)
			atomic.AddInt32(&inside, -1)
		}()
	}
	wg.Wait()
	assert.Equal(t, int32(1), maxInside)
	assert.Empty(t, locks.locks)
}
