package main

import (
	"bytes"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"hal-rpc/client"
	"hal-rpc/message"
	"hal-rpc/server"
)

func startDaemon(t *testing.T, backend server.Backend) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "hal.sock")
	svr := server.NewServer(backend)
	served := make(chan error, 1)
	go func() { served <- svr.Serve("unix", path) }()
	<-svr.Ready()
	t.Cleanup(func() {
		require.NoError(t, svr.Shutdown(time.Second))
		require.NoError(t, <-served)
	})
	return path
}

func halctl(t *testing.T, args ...string) (string, error) {
	t.Helper()
	var out bytes.Buffer
	root := newRootCmd()
	root.SetOut(&out)
	root.SetErr(&out)
	// never pick up the user's own config
	root.SetArgs(append([]string{"--config", filepath.Join(t.TempDir(), "none.yaml")}, args...))
	err := root.Execute()
	return out.String(), err
}

func TestBrightness(t *testing.T) {
	path := startDaemon(t, server.NewMemoryBackend(77))

	out, err := halctl(t, "--socket", path, "brightness", "get")
	require.NoError(t, err)
	require.Equal(t, "77", strings.TrimSpace(out))

	_, err = halctl(t, "--socket", path, "brightness", "set", "50")
	require.NoError(t, err)

	out, err = halctl(t, "--socket", path, "--lockstep", "brightness", "get")
	require.NoError(t, err)
	require.Equal(t, "50", strings.TrimSpace(out))

	_, err = halctl(t, "--socket", path, "brightness", "set", "256")
	require.ErrorContains(t, err, "0-255")
}

func TestScreenAndPower(t *testing.T) {
	backend := server.NewMemoryBackend(0)
	path := startDaemon(t, backend)

	_, err := halctl(t, "--socket", path, "screen", "enable", "3")
	require.NoError(t, err)
	require.True(t, backend.ScreenEnabled(3))

	_, err = halctl(t, "--socket", path, "screen", "disable", "3")
	require.NoError(t, err)
	require.False(t, backend.ScreenEnabled(3))

	_, err = halctl(t, "--socket", path, "reboot")
	require.NoError(t, err)
	_, err = halctl(t, "--socket", path, "poweroff")
	require.NoError(t, err)
	reboots, powerOffs := backend.Counts()
	require.Equal(t, 1, reboots)
	require.Equal(t, 1, powerOffs)

	backend.Fail(message.PowerOff)
	_, err = halctl(t, "--socket", path, "poweroff")
	require.ErrorIs(t, err, client.ErrRejected)
}

func TestConnectErrors(t *testing.T) {
	missing := filepath.Join(t.TempDir(), "missing.sock")

	_, err := halctl(t, "--socket", missing, "reboot")
	require.ErrorContains(t, err, "connect")

	_, err = halctl(t, "--socket", missing, "--wait", "50ms", "reboot")
	require.ErrorContains(t, err, "did not appear")

	_, err = halctl(t, "--socket", missing, "--byte-order", "middle", "reboot")
	require.ErrorContains(t, err, "byte order")

	_, err = halctl(t, "--discover", "reboot")
	require.ErrorContains(t, err, "registry.endpoints")
}
