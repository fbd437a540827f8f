package main

import (
	"context"
	"fmt"
	"strconv"

	"github.com/spf13/cobra"

	"hal-rpc/client"
)

func parseByte(what, s string) (uint8, error) {
	v, err := strconv.ParseUint(s, 10, 8)
	if err != nil {
		return 0, fmt.Errorf("invalid %s %q: must be 0-255", what, s)
	}
	return uint8(v), nil
}

func newBrightnessCmd(c *cli) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "brightness",
		Short: "Read or set the screen brightness",
	}

	get := &cobra.Command{
		Use:   "get",
		Short: "Print the current screen brightness",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return c.run(cmd, func(ctx context.Context, hal client.HAL) error {
				v, err := hal.GetScreenBrightness(ctx)
				if err != nil {
					return fmt.Errorf("failed to get brightness: %w", err)
				}
				fmt.Fprintln(cmd.OutOrStdout(), v)
				return nil
			})
		},
	}

	set := &cobra.Command{
		Use:   "set <0-255>",
		Short: "Set the screen brightness",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			v, err := parseByte("brightness", args[0])
			if err != nil {
				return err
			}
			return c.run(cmd, func(ctx context.Context, hal client.HAL) error {
				if err := hal.SetScreenBrightness(ctx, v); err != nil {
					return fmt.Errorf("failed to set brightness: %w", err)
				}
				return nil
			})
		},
	}

	cmd.AddCommand(get, set)
	return cmd
}

func newScreenCmd(c *cli) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "screen",
		Short: "Switch a screen on or off",
	}

	toggle := func(use, short string, action func(context.Context, client.HAL, uint8) error) *cobra.Command {
		return &cobra.Command{
			Use:   use + " <screen-id>",
			Short: short,
			Args:  cobra.ExactArgs(1),
			RunE: func(cmd *cobra.Command, args []string) error {
				screen, err := parseByte("screen id", args[0])
				if err != nil {
					return err
				}
				return c.run(cmd, func(ctx context.Context, hal client.HAL) error {
					if err := action(ctx, hal, screen); err != nil {
						return fmt.Errorf("failed to %s screen %d: %w", use, screen, err)
					}
					return nil
				})
			},
		}
	}

	cmd.AddCommand(
		toggle("enable", "Turn a screen on", func(ctx context.Context, hal client.HAL, s uint8) error {
			return hal.EnableScreen(ctx, s)
		}),
		toggle("disable", "Turn a screen off", func(ctx context.Context, hal client.HAL, s uint8) error {
			return hal.DisableScreen(ctx, s)
		}),
	)
	return cmd
}

func newRebootCmd(c *cli) *cobra.Command {
	return &cobra.Command{
		Use:   "reboot",
		Short: "Reboot the device",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return c.run(cmd, func(ctx context.Context, hal client.HAL) error {
				if err := hal.Reboot(ctx); err != nil {
					return fmt.Errorf("failed to reboot: %w", err)
				}
				return nil
			})
		},
	}
}

func newPowerOffCmd(c *cli) *cobra.Command {
	return &cobra.Command{
		Use:   "poweroff",
		Short: "Power the device off",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return c.run(cmd, func(ctx context.Context, hal client.HAL) error {
				if err := hal.PowerOff(ctx); err != nil {
					return fmt.Errorf("failed to power off: %w", err)
				}
				return nil
			})
		},
	}
}
