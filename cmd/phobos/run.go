package main

import (
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/dshills/phobos/internal/app"
	"github.com/dshills/phobos/internal/config"
	"github.com/dshills/phobos/internal/hotkey"
)

func runCmd(g *globalFlags) *cobra.Command {
	var terminal bool

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Load plugins, run the boot sequence and serve hotkeys",
		Long: `Run starts every plugin, binds the configured hotkeys, runs the
boot items in priority order and then watches the plugin directories
until interrupted.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()
			cfg, err := g.loadConfig()
			if err != nil {
				return err
			}
			if terminal {
				cfg.Hotkeys.Terminal = true
			}

			pump, err := selectPump(cfg)
			if err != nil {
				return err
			}

			a, err := app.New(ctx, app.Options{Config: cfg, Pump: pump})
			if err != nil {
				return err
			}
			return a.Run(ctx)
		},
	}

	cmd.Flags().BoolVarP(&terminal, "terminal", "t", false, "read hotkeys from the terminal")
	return cmd
}

// selectPump picks the hotkey source. Without bindings no pump is used.
func selectPump(cfg *config.Config) (app.Pump, error) {
	if len(cfg.Hotkeys.Bindings) == 0 {
		return nil, nil
	}
	if cfg.Hotkeys.Terminal {
		p, err := app.TerminalPump()
		if err != nil {
			return nil, fmt.Errorf("terminal hotkeys: %w", err)
		}
		return p, nil
	}
	p, err := app.SystemPump()
	if errors.Is(err, hotkey.ErrUnsupported) {
		fmt.Fprintln(os.Stderr, "Warning: global hotkeys are not supported here; use --terminal")
		return nil, nil
	}
	return p, err
}
