package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_MissingFileIsNotAnError(t *testing.T) {
	v, err := Load(t.TempDir(), "absent")
	require.NoError(t, err)
	assert.NotNil(t, v)
}

func TestLoad_ReadsYAMLAndEnv(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "app.yaml"), []byte("server:\n  port: 9000\n"), 0o600))
	t.Setenv("SERVER_HOST", "127.0.0.1")

	v, err := Load(dir, "app")
	require.NoError(t, err)
	assert.Equal(t, 9000, v.GetInt("server.port"))
	assert.Equal(t, "127.0.0.1", v.GetString("server.host"))
}

func TestDuration(t *testing.T) {
	v := viper.New()
	v.Set("ok", "250ms")
	v.Set("bad", "soon")

	assert.Equal(t, 250*time.Millisecond, Duration(v, "ok", time.Second))
	assert.Equal(t, time.Second, Duration(v, "bad", time.Second))
	assert.Equal(t, time.Second, Duration(v, "missing", time.Second))
}
