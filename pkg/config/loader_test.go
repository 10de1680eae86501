package config_test

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dmitrymomot/tierkit/pkg/config"
)

type defaultsConfig struct {
	Addr    string        `env:"CFG_TEST_ADDR" envDefault:":8080"`
	Grace   time.Duration `env:"CFG_TEST_GRACE" envDefault:"72h"`
	Enabled bool          `env:"CFG_TEST_ENABLED" envDefault:"true"`
}

type requiredConfig struct {
	Secret string `env:"CFG_TEST_REQUIRED_SECRET,required"`
}

type cachedConfig struct {
	Value string `env:"CFG_TEST_CACHED" envDefault:"first"`
}

type fileConfig struct {
	Value string `env:"CFG_TEST_FROM_FILE"`
}

// These tests mutate the process environment, so they do not run in parallel.

func TestLoad_Defaults(t *testing.T) {
	var cfg defaultsConfig
	require.NoError(t, config.Load(&cfg))

	assert.Equal(t, ":8080", cfg.Addr)
	assert.Equal(t, 72*time.Hour, cfg.Grace)
	assert.True(t, cfg.Enabled)
}

func TestLoad_RequiredMissing(t *testing.T) {
	var cfg requiredConfig
	err := config.Load(&cfg)
	require.Error(t, err)
	assert.ErrorIs(t, err, config.ErrParsingConfig)
}

func TestLoad_NilPointer(t *testing.T) {
	var cfg *defaultsConfig
	assert.ErrorIs(t, config.Load(cfg), config.ErrNilPointer)
}

func TestLoad_CachesPerType(t *testing.T) {
	config.Reset()
	t.Cleanup(config.Reset)

	t.Setenv("CFG_TEST_CACHED", "first")
	var a cachedConfig
	require.NoError(t, config.Load(&a))

	t.Setenv("CFG_TEST_CACHED", "second")
	var b cachedConfig
	require.NoError(t, config.Load(&b))
	assert.Equal(t, "first", b.Value)

	config.Reset()
	var c cachedConfig
	require.NoError(t, config.Load(&c))
	assert.Equal(t, "second", c.Value)
}

func TestLoadEnvFiles(t *testing.T) {
	config.Reset()
	t.Cleanup(config.Reset)

	path := filepath.Join(t.TempDir(), "test.env")
	require.NoError(t, os.WriteFile(path, []byte("CFG_TEST_FROM_FILE=from-file\n"), 0o600))
	t.Cleanup(func() { _ = os.Unsetenv("CFG_TEST_FROM_FILE") })

	require.NoError(t, config.LoadEnvFiles(path))

	var cfg fileConfig
	require.NoError(t, config.Load(&cfg))
	assert.Equal(t, "from-file", cfg.Value)

	assert.ErrorIs(t, config.LoadEnvFiles(filepath.Join(t.TempDir(), "missing.env")), config.ErrLoadingEnvFile)
}
