package main

import (
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"github.com/dshills/phobos/internal/app"
	"github.com/dshills/phobos/internal/settings"
)

func configCmd(g *globalFlags) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Read and write the shared config store",
		Long: `Config reads and writes stored values. Package values are addressed
by package id and key; pass --system to address the system scope, where
the key is used as is.`,
	}
	cmd.AddCommand(
		configGetCmd(g),
		configSetCmd(g),
		configRevertCmd(g),
		configExportCmd(g),
		configImportCmd(g),
		configShowCmd(g),
	)
	return cmd
}

// scopeArgs splits positional arguments into scope, stored key and the rest.
func scopeArgs(system bool, args []string) (settings.Scope, string, []string) {
	if system {
		return settings.ScopeSystem, args[0], args[1:]
	}
	return settings.ScopePackage, settings.NamespacedKey(args[0], args[1]), args[2:]
}

func keyArgs(system bool, extra int) cobra.PositionalArgs {
	return func(cmd *cobra.Command, args []string) error {
		n := 2 + extra
		if system {
			n = 1 + extra
		}
		return cobra.ExactArgs(n)(cmd, args)
	}
}

func configGetCmd(g *globalFlags) *cobra.Command {
	var system, verbose bool

	cmd := &cobra.Command{
		Use:   "get <package-id> <key>",
		Short: "Print a stored value",
		Args: func(cmd *cobra.Command, args []string) error {
			return keyArgs(system, 0)(cmd, args)
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			scope, key, _ := scopeArgs(system, args)
			return g.withStore(cmd.Context(), func(a *app.Application) error {
				e, err := a.Settings().Entry(cmd.Context(), scope, key)
				if err != nil {
					return err
				}
				out := cmd.OutOrStdout()
				fmt.Fprintln(out, e.Value)
				if verbose {
					fmt.Fprintf(out, "updated by %s at %s\n", e.UpdatedBy, e.UpdatedAt.Format("2006-01-02 15:04:05"))
					if e.HasPrevious {
						fmt.Fprintf(out, "previous: %s\n", e.Previous)
					}
				}
				return nil
			})
		},
	}

	cmd.Flags().BoolVar(&system, "system", false, "address the system scope")
	cmd.Flags().BoolVarP(&verbose, "verbose", "v", false, "show the writer and the previous value")
	return cmd
}

func configSetCmd(g *globalFlags) *cobra.Command {
	var system bool

	cmd := &cobra.Command{
		Use:   "set <package-id> <key> <value>",
		Short: "Store a value",
		Args: func(cmd *cobra.Command, args []string) error {
			return keyArgs(system, 1)(cmd, args)
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			scope, key, rest := scopeArgs(system, args)
			return g.withStore(cmd.Context(), func(a *app.Application) error {
				if scope == settings.ScopeSystem {
					return a.Settings().WriteSystem(cmd.Context(), key, rest[0], app.HostID)
				}
				return a.Settings().Write(cmd.Context(), args[0], args[1], rest[0], app.HostID)
			})
		},
	}

	cmd.Flags().BoolVar(&system, "system", false, "address the system scope")
	return cmd
}

func configRevertCmd(g *globalFlags) *cobra.Command {
	var system bool

	cmd := &cobra.Command{
		Use:   "revert <package-id> <key>",
		Short: "Restore the value a key held before its last write",
		Args: func(cmd *cobra.Command, args []string) error {
			return keyArgs(system, 0)(cmd, args)
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			scope, key, _ := scopeArgs(system, args)
			return g.withStore(cmd.Context(), func(a *app.Application) error {
				return a.Settings().Revert(cmd.Context(), scope, key, app.HostID)
			})
		},
	}

	cmd.Flags().BoolVar(&system, "system", false, "address the system scope")
	return cmd
}

func configExportCmd(g *globalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "export [package-id]",
		Short: "Write a package's values, or the system scope, as JSON",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			packageID := ""
			if len(args) == 1 {
				packageID = args[0]
			}
			return g.withStore(cmd.Context(), func(a *app.Application) error {
				doc, err := a.Settings().Export(cmd.Context(), packageID)
				if err != nil {
					return err
				}
				_, err = fmt.Fprintln(cmd.OutOrStdout(), string(doc))
				return err
			})
		},
	}
}

func configImportCmd(g *globalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "import [file]",
		Short: "Load values from an exported JSON document (stdin when no file is given)",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var r io.Reader = cmd.InOrStdin()
			if len(args) == 1 {
				f, err := os.Open(args[0])
				if err != nil {
					return err
				}
				defer f.Close()
				r = f
			}
			doc, err := io.ReadAll(r)
			if err != nil {
				return err
			}
			return g.withStore(cmd.Context(), func(a *app.Application) error {
				n, err := a.Settings().Import(cmd.Context(), doc, app.HostID)
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "imported %d values\n", n)
				return nil
			})
		},
	}
}

func configShowCmd(g *globalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "show",
		Short: "Print the effective host configuration as TOML",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := g.loadConfig()
			if err != nil {
				return err
			}
			data, err := cfg.Marshal()
			if err != nil {
				return err
			}
			_, err = cmd.OutOrStdout().Write(data)
			return err
		},
	}
}
