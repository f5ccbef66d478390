package main

import (
	"fmt"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/dshills/phobos/internal/app"
	"github.com/dshills/phobos/internal/plugin"
)

func pluginsCmd(g *globalFlags) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "plugins",
		Short: "Inspect and manage plugins",
	}
	cmd.AddCommand(pluginsListCmd(g), pluginsUninstallCmd(g))
	return cmd
}

func pluginsListCmd(g *globalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List discovered plugins and their state",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return g.withApp(cmd.Context(), app.Options{}, func(a *app.Application) error {
				valid, invalid, err := a.Loader().Discover()
				if err != nil {
					return err
				}

				states := make(map[string]plugin.Status)
				for _, s := range a.Manager().List() {
					states[s.PackageID] = s
				}

				w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
				fmt.Fprintln(w, "PACKAGE\tNAME\tVERSION\tSTATE\tTRUSTED\tDIR")
				for _, info := range valid {
					m := info.Manifest
					s, ok := states[m.PackageID]
					state := "not loaded"
					if ok {
						state = s.State.String()
					}
					fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%t\t%s\n", m.PackageID, m.Name, m.Version, state, s.Trusted, info.Dir)
				}
				for _, info := range invalid {
					fmt.Fprintf(w, "-\t-\t-\tinvalid: %v\t-\t%s\n", info.Error, info.Dir)
				}
				return w.Flush()
			})
		},
	}
}

func pluginsUninstallCmd(g *globalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "uninstall <package-id>",
		Short: "Run a plugin's uninstall hook and remove everything it registered",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return g.withApp(cmd.Context(), app.Options{}, func(a *app.Application) error {
				if err := a.Manager().Uninstall(cmd.Context(), args[0]); err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "uninstalled %s\n", args[0])
				return nil
			})
		},
	}
}
