// Package main is the entry point for the Phobos plugin host.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/dshills/phobos/internal/app"
	"github.com/dshills/phobos/internal/config"
	"github.com/dshills/phobos/internal/logging"
)

// Version information (set via ldflags during build).
var (
	buildVersion = "dev"
	commit       = "unknown"
	date         = "unknown"
)

// globalFlags are shared by every subcommand.
type globalFlags struct {
	configPath string
	logLevel   string
	pluginDirs []string
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := newRootCmd().ExecuteContext(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		stop()
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	var g globalFlags

	root := &cobra.Command{
		Use:   "phobos",
		Short: "Plugin host with URL dispatch, hotkeys and a shared config store",
		Long: `Phobos hosts sandboxed Lua plugins. Plugins store namespaced
configuration, claim URL schemes, register boot commands and expose
commands to each other through the capability router.`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	pf := root.PersistentFlags()
	pf.StringVarP(&g.configPath, "config", "c", "", "path to configuration file")
	pf.StringVar(&g.logLevel, "log-level", "", "log level (debug, info, warn, error)")
	pf.StringSliceVar(&g.pluginDirs, "plugins", nil, "plugin search directories")

	root.AddCommand(
		runCmd(&g),
		openCmd(&g),
		execCmd(&g),
		pluginsCmd(&g),
		bootCmd(&g),
		configCmd(&g),
		versionCmd(),
	)
	return root
}

// loadConfig reads the configuration file and applies flag overrides.
func (g *globalFlags) loadConfig() (*config.Config, error) {
	path := g.configPath
	required := path != ""
	if path == "" {
		path = config.DefaultPath()
	}
	cfg, err := config.Load(path, required)
	if err != nil {
		return nil, err
	}
	if g.logLevel != "" {
		cfg.Log.Level = g.logLevel
	}
	if len(g.pluginDirs) > 0 {
		cfg.Plugins.Paths = g.pluginDirs
	}
	return cfg, cfg.Validate()
}

// newApp builds an application from the global flags. The caller must
// shut it down.
func (g *globalFlags) newApp(ctx context.Context, opts app.Options) (*app.Application, error) {
	cfg, err := g.loadConfig()
	if err != nil {
		return nil, err
	}
	opts.Config = cfg
	if opts.Logger == nil {
		opts.Logger = logging.New(cfg.Logging())
	}
	return app.New(ctx, opts)
}

// withApp runs fn against a fresh application with plugins loaded.
func (g *globalFlags) withApp(ctx context.Context, opts app.Options, fn func(*app.Application) error) error {
	return g.withHost(ctx, opts, true, fn)
}

// withStore runs fn against an application whose plugins stay unloaded.
func (g *globalFlags) withStore(ctx context.Context, fn func(*app.Application) error) error {
	return g.withHost(ctx, app.Options{Logger: logging.Nop()}, false, fn)
}

func (g *globalFlags) withHost(ctx context.Context, opts app.Options, load bool, fn func(*app.Application) error) (err error) {
	a, err := g.newApp(ctx, opts)
	if err != nil {
		return err
	}
	defer func() {
		if cerr := a.Shutdown(context.WithoutCancel(ctx)); err == nil {
			err = cerr
		}
	}()
	if load {
		if err := a.LoadPlugins(ctx); err != nil {
			fmt.Fprintf(os.Stderr, "Warning: %v\n", err)
		}
	}
	return fn(a)
}
