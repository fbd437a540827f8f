// Command halmockd runs the reference hal daemon on top of fake in-memory
// hardware, for development and integration tests.
package main

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"hal-rpc/config"
	"hal-rpc/metrics"
	"hal-rpc/middleware"
	"hal-rpc/registry"
	"hal-rpc/server"
)

const shutdownTimeout = 5 * time.Second

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	var cfgFile, socket, metricsAddr string

	cmd := &cobra.Command{
		Use:           "halmockd",
		Short:         "Serve the hal protocol on a unix socket with fake hardware",
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			path := cfgFile
			if path == "" {
				path = config.DefaultPath()
			}
			cfg, err := config.Load(path)
			if err != nil {
				return fmt.Errorf("failed to load config: %w", err)
			}
			if socket != "" {
				cfg.SocketPath = socket
			}
			if metricsAddr != "" {
				cfg.MetricsAddr = metricsAddr
			}
			if err := cfg.Validate(); err != nil {
				return err
			}

			zcfg := zap.NewProductionConfig()
			zcfg.Level = zap.NewAtomicLevelAt(cfg.Level())
			log, err := zcfg.Build()
			if err != nil {
				return err
			}
			defer log.Sync()

			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()
			return run(ctx, cfg, log, nil)
		},
	}

	cmd.Flags().StringVar(&cfgFile, "config", "", "config file (default is "+config.DefaultPath()+")")
	cmd.Flags().StringVar(&socket, "socket", "", "socket path to listen on")
	cmd.Flags().StringVar(&metricsAddr, "metrics-addr", "", "serve Prometheus metrics on this address")
	return cmd
}

// run serves until ctx ends. ready, if not nil, receives the server once it
// accepts connections.
func run(ctx context.Context, cfg *config.Config, log *zap.Logger, ready chan<- *server.Server) error {
	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	opts := []server.Option{
		server.WithLogger(log),
		server.WithByteOrder(cfg.Order()),
		server.WithMetrics(metrics.NewDaemon(reg)),
	}
	if cfg.Daemon.Concurrent {
		opts = append(opts, server.WithConcurrentDispatch())
	}
	if len(cfg.Registry.Endpoints) > 0 {
		etcd, err := registry.NewEtcdRegistry(cfg.Registry.Endpoints, log)
		if err != nil {
			return err
		}
		defer etcd.Close()
		opts = append(opts, server.WithRegistry(etcd, cfg.Registry.Service, cfg.Registry.TTL))
	}

	svr := server.NewServer(server.NewMemoryBackend(cfg.Daemon.Brightness), opts...)
	svr.Use(middleware.LoggingMiddleware(log))
	if cfg.Daemon.RateLimit > 0 {
		svr.Use(middleware.RateLimitMiddleware(cfg.Daemon.RateLimit, cfg.Daemon.Burst))
	}
	if cfg.Daemon.HandlerTimeout > 0 {
		svr.Use(middleware.TimeOutMiddleware(cfg.Daemon.HandlerTimeout))
	}

	var metricsLn net.Listener
	if cfg.MetricsAddr != "" {
		ln, err := net.Listen("tcp", cfg.MetricsAddr)
		if err != nil {
			return fmt.Errorf("metrics listener: %w", err)
		}
		metricsLn = ln
	}

	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		return svr.Serve("unix", cfg.SocketPath)
	})
	g.Go(func() error {
		select {
		case <-svr.Ready():
			if ready != nil {
				ready <- svr
			}
		case <-ctx.Done():
		}
		<-ctx.Done()
		log.Info("shutting down")
		return svr.Shutdown(shutdownTimeout)
	})

	if metricsLn != nil {
		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
		hs := &http.Server{Handler: mux, ReadHeaderTimeout: 5 * time.Second}

		log.Info("metrics listening", zap.String("addr", metricsLn.Addr().String()))
		g.Go(func() error {
			if err := hs.Serve(metricsLn); !errors.Is(err, http.ErrServerClosed) {
				return err
			}
			return nil
		})
		g.Go(func() error {
			<-ctx.Done()
			sctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
			defer cancel()
			return hs.Shutdown(sctx)
		})
	}

	return g.Wait()
}
