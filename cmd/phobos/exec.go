package main

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"

	"github.com/spf13/cobra"

	"github.com/dshills/phobos/internal/app"
	"github.com/dshills/phobos/internal/plugin/capability"
)

func execCmd(g *globalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "exec <command> [args]",
		Short: "Run a host command, a plugin command or a plugin's run hook",
		Args:  cobra.RangeArgs(1, 2),
		RunE: func(cmd *cobra.Command, args []string) error {
			payload := ""
			if len(args) == 2 {
				payload = args[1]
			}
			return g.withApp(cmd.Context(), app.Options{}, func(a *app.Application) error {
				res, err := a.Execute(cmd.Context(), args[0], payload)
				if err != nil {
					return err
				}
				printResult(cmd.OutOrStdout(), res)
				return res.Err()
			})
		},
	}
}

func printResult(w io.Writer, res capability.Result) {
	if res.Message != "" {
		fmt.Fprintln(w, res.Message)
	}
	if res.Data == nil {
		return
	}
	data, err := json.MarshalIndent(res.Data, "", "  ")
	if err != nil {
		fmt.Fprintln(w, res.Data)
		return
	}
	if s := strings.TrimSpace(string(data)); s != "null" && s != `""` {
		fmt.Fprintln(w, s)
	}
}
