package backend

import (
	"bufio"
	"os"
	"path/filepath"
	"runtime"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func skipWithoutUnix(t *testing.T) {
	t.Helper()
	if runtime.GOOS == "windows" {
		t.Skip("backend tests rely on unix signals")
	}
}

func TestStartAndRoundTrip(t *testing.T) {
	skipWithoutUnix(t)
	process, err := Start(Config{Command: "cat"}, zerolog.Nop())
	require.NoError(t, err)
	defer process.Terminate()

	require.NoError(t, process.WriteLine([]byte(`{"id":1}`)))
	reader := bufio.NewReader(process.Stdout())
	line, err := reader.ReadString('\n')
	require.NoError(t, err)
	assert.Equal(t, "{\"id\":1}\n", line)
}

func TestStartFailure(t *testing.T) {
	_, err := Start(Config{Command: "definitely-not-a-real-binary-4981"}, zerolog.Nop())
	assert.NotNil(t, err)

	_, err = Start(Config{}, zerolog.Nop())
	assert.NotNil(t, err)
}

func TestTerminateIsIdempotent(t *testing.T) {
	skipWithoutUnix(t)
	process, err := Start(Config{Command: "cat"}, zerolog.Nop())
	require.NoError(t, err)

	process.Terminate()
	process.Terminate()

	select {
	case <-process.Done():
	case <-time.After(5 * time.Second):
		t.Fatal("process did not exit after terminate")
	}
	// A third signal against the exited process must remain a no-op.
	process.Terminate()
	assert.True(t, process.Exited())
}

func TestUnsolicitedExit(t *testing.T) {
	skipWithoutUnix(t)
	process, err := Start(Config{Command: "true"}, zerolog.Nop())
	require.NoError(t, err)

	select {
	case <-process.Done():
	case <-time.After(5 * time.Second):
		t.Fatal("expected process to exit on its own")
	}
	assert.True(t, process.Exited())
	assert.Equal(t, ErrNotRunning, process.WriteLine([]byte("{}")))
}

func TestConfigResolve(t *testing.T) {
	dir := t.TempDir()
	local := filepath.Join(dir, "analytics-mcp")
	require.NoError(t, os.WriteFile(local, []byte("#!/bin/sh\n"), 0o755))

	cfg := Config{Command: "analytics-mcp", LocalPath: local}
	assert.Equal(t, local, cfg.Resolve())

	cfg.LocalPath = filepath.Join(dir, "missing")
	assert.Equal(t, "analytics-mcp", cfg.Resolve())

	cfg.LocalPath = dir
	assert.Equal(t, "analytics-mcp", cfg.Resolve())
}
