package main

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"github.com/dshills/phobos/internal/app"
	"github.com/dshills/phobos/internal/protocol"
)

func openCmd(g *globalFlags) *cobra.Command {
	var noPrompt bool

	cmd := &cobra.Command{
		Use:   "open <url>",
		Short: "Dispatch a URL to the plugin that handles its scheme",
		Long: `Open resolves the URL's scheme to a handler. When several plugins
claim the scheme and none is the default, you are asked to choose one.
Answering with a trailing "!" (for example "2!") remembers the choice.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			opts := app.Options{}
			if !noPrompt {
				opts.Chooser = promptChooser(os.Stdin, cmd.ErrOrStderr())
			}
			return g.withApp(cmd.Context(), opts, func(a *app.Application) error {
				res, err := a.Open(cmd.Context(), args[0])
				if err != nil {
					return err
				}
				printResult(cmd.OutOrStdout(), res)
				return res.Err()
			})
		},
	}

	cmd.Flags().BoolVar(&noPrompt, "no-prompt", false, "fail instead of asking when the handler is ambiguous")
	return cmd
}

// promptChooser asks on out and reads the answer from in.
func promptChooser(in io.Reader, out io.Writer) protocol.Chooser {
	reader := bufio.NewReader(in)
	return protocol.ChooserFunc(func(_ context.Context, rawURL string, candidates []protocol.Handler) (protocol.Handler, bool, error) {
		fmt.Fprintf(out, "Open %s with:\n", rawURL)
		for i, h := range candidates {
			fmt.Fprintf(out, "  %d) %s (%s)\n", i+1, h.Name, h.PackageID)
		}
		fmt.Fprint(out, "Choice: ")

		line, err := reader.ReadString('\n')
		if err != nil && line == "" {
			return protocol.Handler{}, false, protocol.ErrSelectionCanceled
		}
		return parseChoice(line, candidates)
	})
}

func parseChoice(line string, candidates []protocol.Handler) (protocol.Handler, bool, error) {
	line = strings.TrimSpace(line)
	remember := strings.HasSuffix(line, "!")
	line = strings.TrimSuffix(line, "!")
	if line == "" {
		return protocol.Handler{}, false, protocol.ErrSelectionCanceled
	}
	n, err := strconv.Atoi(line)
	if err != nil || n < 1 || n > len(candidates) {
		return protocol.Handler{}, false, fmt.Errorf("%w: invalid choice %q", protocol.ErrSelectionCanceled, line)
	}
	return candidates[n-1], remember, nil
}
