package bridge

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestOptions_Defaults(t *testing.T) {
	options, err := NewOptions(context.Background(), nil)
	require.NoError(t, err)

	assert.Equal(t, "0.0.0.0:8000", options.Addr())
	assert.Equal(t, defaultBackendCommand, options.BackendCommand)
	assert.Equal(t, defaultLocalBackend, options.BackendLocalPath)
}

func TestOptions_Flags(t *testing.T) {
	options, err := NewOptions(context.Background(), []string{
		"--host", "127.0.0.1",
		"--port", "9000",
		"--backend-command", "my-backend",
		"--backend-arg", "--debug",
		"--request-timeout", "5s",
		"-v",
	})
	require.NoError(t, err)

	assert.Equal(t, "127.0.0.1:9000", options.Addr())
	assert.Equal(t, "my-backend", options.BackendCommand)
	assert.Equal(t, []string{"--debug"}, options.BackendArgs)
	assert.Equal(t, "5s", options.RequestTimeout)
	assert.True(t, options.Verbose)
}

func TestOptions_Environment(t *testing.T) {
	t.Setenv(hostEnvKey, "10.0.0.5")
	t.Setenv(portEnvKey, "8080")

	options, err := NewOptions(context.Background(), nil)
	require.NoError(t, err)
	assert.Equal(t, "10.0.0.5:8080", options.Addr())

	// Flags beat environment.
	options, err = NewOptions(context.Background(), []string{"--host", "127.0.0.1"})
	require.NoError(t, err)
	assert.Equal(t, "127.0.0.1:8080", options.Addr())
}

func TestOptions_InvalidPortEnv(t *testing.T) {
	t.Setenv(portEnvKey, "not-a-port")
	_, err := NewOptions(context.Background(), nil)
	assert.Error(t, err)
}

func TestOptions_ConfigFile(t *testing.T) {
	location := filepath.Join(t.TempDir(), "bridge.toml")
	require.NoError(t, os.WriteFile(location, []byte(`
host = "192.168.1.1"
port = 9090
backend_command = "file-backend"
idle_threshold = "10m"

[cors]
allow_origins = ["http://localhost:3000"]
`), 0o644))

	options, err := NewOptions(context.Background(), []string{"-f", location, "--port", "7000"})
	require.NoError(t, err)

	// Flags beat the file, the file beats defaults.
	assert.Equal(t, "192.168.1.1:7000", options.Addr())
	assert.Equal(t, "file-backend", options.BackendCommand)
	assert.Equal(t, "10m", options.IdleThreshold)
	require.NotNil(t, options.Cors)
	assert.Equal(t, []string{"http://localhost:3000"}, options.Cors.AllowOrigins)
}

func TestOptions_ConfigFileMissing(t *testing.T) {
	_, err := NewOptions(context.Background(), []string{"-f", "/nonexistent/bridge.toml"})
	assert.Error(t, err)
}

func TestOptions_Duration(t *testing.T) {
	options := &Options{}

	value, err := options.duration("", 30*time.Second)
	require.NoError(t, err)
	assert.Equal(t, 30*time.Second, value)

	value, err = options.duration("2m", 30*time.Second)
	require.NoError(t, err)
	assert.Equal(t, 2*time.Minute, value)

	_, err = options.duration("bogus", 0)
	assert.Error(t, err)
}
