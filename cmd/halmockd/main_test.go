package main

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"hal-rpc/client"
	"hal-rpc/config"
	"hal-rpc/server"
)

func TestRun(t *testing.T) {
	cfg := config.Default()
	cfg.SocketPath = filepath.Join(t.TempDir(), "hal.sock")
	cfg.MetricsAddr = "127.0.0.1:0"
	cfg.Daemon.Brightness = 42
	cfg.Daemon.RateLimit = 0.001
	cfg.Daemon.Burst = 2

	ctx, cancel := context.WithCancel(context.Background())
	ready := make(chan *server.Server, 1)
	done := make(chan error, 1)
	go func() { done <- run(ctx, cfg, zaptest.NewLogger(t), ready) }()

	select {
	case <-ready:
	case err := <-done:
		t.Fatalf("run: %v", err)
	case <-time.After(5 * time.Second):
		t.Fatal("daemon did not start")
	}

	c, err := client.Dial(context.Background(), cfg.SocketPath)
	require.NoError(t, err)

	v, err := c.GetScreenBrightness(context.Background())
	require.NoError(t, err)
	require.Equal(t, uint8(42), v)
	require.NoError(t, c.Reboot(context.Background()))

	// burst spent, the limiter answers with the error variant
	require.ErrorIs(t, c.PowerOff(context.Background()), client.ErrRejected)
	require.NoError(t, c.Close())

	cancel()
	require.NoError(t, <-done)
}

func TestRunBadSocket(t *testing.T) {
	cfg := config.Default()
	cfg.SocketPath = filepath.Join(t.TempDir(), "missing-dir", "hal.sock")

	err := run(context.Background(), cfg, zaptest.NewLogger(t), nil)
	require.Error(t, err)
}
