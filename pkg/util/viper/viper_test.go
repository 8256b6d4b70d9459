package viper

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type serverSection struct {
	Port int    `mapstructure:"port"`
	Host string `mapstructure:"host"`
}

func TestLoadFileAndOverrides(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("server:\n  port: 6000\n  host: 10.0.0.1\n"), 0o600))

	c := New()
	c.SetDefault("server.port", 5000)
	c.SetDefault("server.host", "")
	require.NoError(t, c.LoadFile(path))

	var s serverSection
	require.NoError(t, c.UnmarshalKey("server", &s))
	assert.Equal(t, 6000, s.Port)
	assert.Equal(t, "10.0.0.1", s.Host)

	c.Set("server.port", 7000)
	assert.Equal(t, 7000, c.GetInt("server.port"))
	assert.True(t, c.IsSet("server.host"))
}

func TestBindEnv(t *testing.T) {
	t.Setenv("VIPERTEST_SERVER_PORT", "5100")

	c := New()
	c.SetDefault("server.port", 5000)
	c.BindEnv("VIPERTEST")
	assert.Equal(t, 5100, c.GetInt("server.port"))
}

func TestLoadFileMissing(t *testing.T) {
	c := New()
	assert.Error(t, c.LoadFile(filepath.Join(t.TempDir(), "absent.yaml")))
}
