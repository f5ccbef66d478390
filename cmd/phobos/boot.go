package main

import (
	"fmt"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/dshills/phobos/internal/app"
	"github.com/dshills/phobos/internal/boot"
)

func bootCmd(g *globalFlags) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "boot",
		Short: "Inspect and run the boot sequence",
	}
	cmd.AddCommand(bootListCmd(g), bootRunCmd(g))
	return cmd
}

func bootListCmd(g *globalFlags) *cobra.Command {
	var packageID string

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List boot items in run order",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return g.withStore(cmd.Context(), func(a *app.Application) error {
				var (
					items []boot.Item
					err   error
				)
				if packageID == "" {
					items, err = a.Boots().All(cmd.Context())
				} else {
					items, err = a.Boots().Items(cmd.Context(), packageID)
				}
				if err != nil {
					return err
				}

				w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
				fmt.Fprintln(w, "PRIORITY\tPACKAGE\tCOMMAND\tARGS\tID")
				for _, item := range items {
					fmt.Fprintf(w, "%d\t%s\t%s\t%s\t%s\n", item.Priority, item.PackageID, item.Command, item.Args, item.ID)
				}
				return w.Flush()
			})
		},
	}

	cmd.Flags().StringVarP(&packageID, "package", "p", "", "only items registered by this package")
	return cmd
}

func bootRunCmd(g *globalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "run",
		Short: "Load plugins and run every boot item once",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return g.withApp(cmd.Context(), app.Options{}, func(a *app.Application) error {
				rep, err := a.Boot(cmd.Context())
				out := cmd.OutOrStdout()
				for _, item := range rep.Ran {
					fmt.Fprintf(out, "ok      %s %s\n", item.PackageID, item.Command)
				}
				for _, f := range rep.Failed {
					fmt.Fprintf(out, "failed  %s %s: %v\n", f.Item.PackageID, f.Item.Command, f.Err)
				}
				if err != nil {
					return err
				}
				if !rep.OK() {
					return fmt.Errorf("%d boot items failed, %d skipped", len(rep.Failed), rep.Skipped)
				}
				return nil
			})
		},
	}
}
