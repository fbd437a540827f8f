package main

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"hal-rpc/client"
	"hal-rpc/config"
	"hal-rpc/registry"
)

// cli is the state shared by every subcommand, filled in PersistentPreRunE.
type cli struct {
	cfgFile   string
	socket    string
	byteOrder string
	wait      time.Duration
	discover  bool
	lockstep  bool

	cfg *config.Config
	log *zap.Logger
}

func newRootCmd() *cobra.Command {
	c := &cli{}

	root := &cobra.Command{
		Use:   "halctl",
		Short: "Drive the hardware-abstraction daemon",
		Long: `halctl sends one action to the hardware-abstraction daemon over its unix
socket and prints the reply.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return c.setup(cmd)
		},
		PersistentPostRun: func(cmd *cobra.Command, args []string) {
			if c.log != nil {
				_ = c.log.Sync()
			}
		},
	}

	flags := root.PersistentFlags()
	flags.StringVar(&c.cfgFile, "config", "", "config file (default is "+config.DefaultPath()+")")
	flags.StringVar(&c.socket, "socket", "", "daemon socket path (default \""+config.DefaultSocketPath+"\")")
	flags.StringVar(&c.byteOrder, "byte-order", "", "wire byte order: native, little, big")
	flags.DurationVar(&c.wait, "wait", 0, "wait this long for the socket to appear, e.g. 5s")
	flags.BoolVar(&c.discover, "discover", false, "resolve the socket through the etcd registry")
	flags.BoolVar(&c.lockstep, "lockstep", false, "send, read one reply, wait; no background reader")

	root.AddCommand(
		newBrightnessCmd(c),
		newScreenCmd(c),
		newRebootCmd(c),
		newPowerOffCmd(c),
	)
	return root
}

func (c *cli) setup(cmd *cobra.Command) error {
	path := c.cfgFile
	if path == "" {
		path = config.DefaultPath()
	}
	cfg, err := config.Load(path)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	// flags override the file
	if c.socket != "" {
		cfg.SocketPath = c.socket
	}
	if c.byteOrder != "" {
		cfg.ByteOrder = c.byteOrder
	}
	if cmd.Flags().Changed("wait") {
		cfg.WaitForSocket = c.wait
	}
	if err := cfg.Validate(); err != nil {
		return err
	}
	c.cfg = cfg

	zcfg := zap.NewProductionConfig()
	zcfg.Level = zap.NewAtomicLevelAt(cfg.Level())
	zcfg.Encoding = "console"
	c.log, err = zcfg.Build()
	return err
}

// connect opens the connection a subcommand talks through.
func (c *cli) connect(ctx context.Context) (client.HAL, error) {
	opts := []client.Option{
		client.WithLogger(c.log),
		client.WithCallTimeout(c.cfg.CallTimeout),
		client.WithByteOrder(c.cfg.Order()),
	}

	if c.discover {
		if c.lockstep {
			return nil, errors.New("--discover and --lockstep cannot be combined")
		}
		if len(c.cfg.Registry.Endpoints) == 0 {
			return nil, errors.New("--discover needs registry.endpoints in the config")
		}
		reg, err := registry.NewEtcdRegistry(c.cfg.Registry.Endpoints, c.log)
		if err != nil {
			return nil, err
		}
		defer reg.Close()
		return client.DialRegistry(ctx, reg, c.cfg.Registry.Service, opts...)
	}

	if c.cfg.WaitForSocket > 0 {
		wctx, cancel := context.WithTimeout(ctx, c.cfg.WaitForSocket)
		err := client.WaitForSocket(wctx, c.cfg.SocketPath)
		cancel()
		if err != nil {
			return nil, fmt.Errorf("socket %s did not appear: %w", c.cfg.SocketPath, err)
		}
	}

	if c.lockstep {
		return client.DialLockstep(ctx, c.cfg.SocketPath, opts...)
	}
	return client.Dial(ctx, c.cfg.SocketPath, opts...)
}

// run connects, runs fn and closes the connection.
func (c *cli) run(cmd *cobra.Command, fn func(ctx context.Context, hal client.HAL) error) error {
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	hal, err := c.connect(ctx)
	if err != nil {
		return err
	}
	defer hal.Close()
	return fn(ctx, hal)
}
