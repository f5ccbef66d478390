package main

import (
	"fmt"
	"runtime"

	"github.com/spf13/cobra"

	"github.com/dshills/phobos/internal/version"
)

func versionCmd() *cobra.Command {
	var short bool

	cmd := &cobra.Command{
		Use:   "version",
		Short: "Print version information, or compare plugin versions",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, _ []string) {
			out := cmd.OutOrStdout()
			if short {
				fmt.Fprintln(out, buildVersion)
				return
			}
			fmt.Fprintf(out, "Phobos %s\n", buildVersion)
			fmt.Fprintf(out, "Commit: %s\n", commit)
			fmt.Fprintf(out, "Built: %s\n", date)
			fmt.Fprintf(out, "Go: %s %s/%s\n", runtime.Version(), runtime.GOOS, runtime.GOARCH)
		},
	}

	cmd.Flags().BoolVarP(&short, "short", "s", false, "print only the version number")
	cmd.AddCommand(versionCompareCmd(), versionCanInstallCmd())
	return cmd
}

func versionCompareCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "compare <a> <b>",
		Short: "Print how version a relates to version b",
		Args:  cobra.ExactArgs(2),
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintln(cmd.OutOrStdout(), version.Compare(args[0], args[1]))
		},
	}
}

func versionCanInstallCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "can-install <next> <existing>",
		Short: "Exit non-zero unless next may be installed over existing",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			if !version.CanInstallOver(args[0], args[1]) {
				return fmt.Errorf("%s cannot be installed over %s (%s)",
					args[0], args[1], version.Compare(args[0], args[1]))
			}
			fmt.Fprintln(cmd.OutOrStdout(), "ok")
			return nil
		},
	}
}
