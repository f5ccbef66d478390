// Package app wires the Phobos host together: storage, the registries,
// the capability router, the plugin manager, hotkeys and the boot
// sequence.
package app

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/dshills/phobos/internal/boot"
	"github.com/dshills/phobos/internal/config"
	"github.com/dshills/phobos/internal/event"
	"github.com/dshills/phobos/internal/hotkey"
	"github.com/dshills/phobos/internal/logging"
	"github.com/dshills/phobos/internal/plugin"
	"github.com/dshills/phobos/internal/plugin/capability"
	"github.com/dshills/phobos/internal/plugin/lua"
	"github.com/dshills/phobos/internal/plugin/manifest"
	"github.com/dshills/phobos/internal/plugin/security"
	"github.com/dshills/phobos/internal/protocol"
	"github.com/dshills/phobos/internal/settings"
	"github.com/dshills/phobos/internal/store"
)

// HostID is the caller identity used for commands the host runs itself.
const HostID = "phobos.host"

// Options configures the application.
type Options struct {
	// Config is the host configuration. Nil means config.Default().
	Config *config.Config

	// Logger overrides the logger built from Config.
	Logger *logging.Logger

	// Chooser asks the user to pick a URL handler. Nil makes ambiguous
	// dispatches fail with a *protocol.SelectionError.
	Chooser protocol.Chooser

	// Factory instantiates plugins. Nil means Lua plugins.
	Factory plugin.Factory

	// Pump carries global hotkeys. Nil disables them.
	Pump Pump

	// Clock overrides time.Now.
	Clock func() time.Time
}

// Application is the composition root.
type Application struct {
	cfg    *config.Config
	opts   Options
	logger *logging.Logger
	now    func() time.Time

	db        *store.SQLite
	settings  *settings.Store
	protocols *protocol.Registry
	boots     *boot.Registry
	router    *capability.Router
	bus       *event.Bus
	manager   *plugin.Manager
	loader    *plugin.Loader
	resolver  *protocol.Resolver
	hotkeys   *hotkey.Registry

	mu      sync.Mutex
	baseCtx context.Context

	running atomic.Bool
	closed  atomic.Bool
}

// New opens storage and builds every component. Plugins are not loaded
// until LoadPlugins or Run.
func New(ctx context.Context, opts Options) (*Application, error) {
	cfg := opts.Config
	if cfg == nil {
		cfg = config.Default()
	}
	logger := opts.Logger
	if logger == nil {
		logger = logging.New(cfg.Logging())
	}
	now := opts.Clock
	if now == nil {
		now = time.Now
	}

	app := &Application{
		cfg:     cfg,
		opts:    opts,
		logger:  logger.WithComponent("app"),
		now:     now,
		baseCtx: context.Background(),
	}

	b := newBootstrapper(app, logger)
	if err := b.bootstrap(ctx); err != nil {
		return nil, err
	}
	return app, nil
}

// Config returns the configuration in effect.
func (app *Application) Config() *config.Config { return app.cfg }

// Settings returns the config store.
func (app *Application) Settings() *settings.Store { return app.settings }

// Protocols returns the protocol association registry.
func (app *Application) Protocols() *protocol.Registry { return app.protocols }

// Boots returns the boot item registry.
func (app *Application) Boots() *boot.Registry { return app.boots }

// Router returns the capability router.
func (app *Application) Router() *capability.Router { return app.router }

// Bus returns the host event bus.
func (app *Application) Bus() *event.Bus { return app.bus }

// Manager returns the plugin manager.
func (app *Application) Manager() *plugin.Manager { return app.manager }

// Loader returns the plugin loader.
func (app *Application) Loader() *plugin.Loader { return app.loader }

// Hotkeys returns the hotkey registry, or nil without a pump.
func (app *Application) Hotkeys() *hotkey.Registry { return app.hotkeys }

// LoadPlugins discovers and starts every plugin on the search paths.
// Individual failures are logged and returned joined; the rest still load.
func (app *Application) LoadPlugins(ctx context.Context) error {
	if app.closed.Load() {
		return ErrClosed
	}
	err := app.manager.LoadAll(ctx, app.loader)
	app.logger.Info("plugins loaded", "count", app.manager.Count())
	return err
}

// Run loads plugins, binds hotkeys, runs the boot sequence and then
// serves hotkeys and plugin directory changes until ctx is done. The
// application is shut down on return.
func (app *Application) Run(ctx context.Context) error {
	if !app.running.CompareAndSwap(false, true) {
		return ErrAlreadyRunning
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	app.setBaseContext(ctx)

	var wg sync.WaitGroup
	errc := make(chan error, 2)

	// The pump outlives ctx so Shutdown can still release hotkeys on it.
	pumpCtx, stopPump := context.WithCancel(context.Background())
	if app.opts.Pump != nil {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := app.opts.Pump.Run(pumpCtx); err != nil && !errors.Is(err, context.Canceled) {
				errc <- fmt.Errorf("hotkey pump: %w", err)
				cancel()
			}
		}()
	}

	if err := app.LoadPlugins(ctx); err != nil {
		app.logger.Warn("some plugins failed to load", "error", err)
	}
	app.BindHotkeys()
	if _, err := app.Boot(ctx); err != nil {
		app.logger.Warn("boot sequence interrupted", "error", err)
	}

	// Rescans may start plugins, so the watcher is drained before Shutdown.
	var watchers sync.WaitGroup
	if app.cfg.Plugins.Watch {
		w, err := plugin.NewWatcher(app.loader, app.onPluginsChanged(ctx),
			plugin.WithWatcherLogger(app.logger))
		if err != nil {
			app.logger.Warn("plugin watcher unavailable", "error", err)
		} else {
			watchers.Add(1)
			go func() {
				defer watchers.Done()
				if err := w.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
					errc <- fmt.Errorf("plugin watcher: %w", err)
				}
			}()
		}
	}

	<-ctx.Done()
	watchers.Wait()

	shutdownCtx, done := context.WithTimeout(context.Background(), 5*time.Second)
	defer done()
	err := app.Shutdown(shutdownCtx)

	stopPump()
	wg.Wait()
	close(errc)

	errs := []error{err}
	for e := range errc {
		errs = append(errs, e)
	}
	return errors.Join(errs...)
}

func (app *Application) setBaseContext(ctx context.Context) {
	app.mu.Lock()
	app.baseCtx = ctx
	app.mu.Unlock()
}

func (app *Application) runContext() context.Context {
	app.mu.Lock()
	defer app.mu.Unlock()
	return app.baseCtx
}

// onPluginsChanged starts new plugins and updates changed ones after the
// plugin directories change.
func (app *Application) onPluginsChanged(ctx context.Context) plugin.ChangeFunc {
	return func(valid, invalid []*plugin.Info) {
		if err := app.manager.Sync(ctx, valid, invalid); err != nil {
			app.logger.Warn("plugin rescan incomplete", "error", err)
		}
	}
}

// Shutdown releases hotkeys, closes plugins and the database. It is safe
// to call more than once.
func (app *Application) Shutdown(ctx context.Context) error {
	if !app.closed.CompareAndSwap(false, true) {
		return nil
	}

	var errs []error
	if app.hotkeys != nil {
		app.hotkeys.Dispose()
	}
	if s, ok := app.opts.Pump.(interface{ Shutdown() }); ok {
		s.Shutdown()
	}
	if err := app.manager.CloseAll(ctx); err != nil {
		errs = append(errs, err)
	}
	if err := app.db.Close(); err != nil {
		errs = append(errs, err)
	}
	app.logger.Info("phobos stopped")
	_ = app.logger.Sync()
	return errors.Join(errs...)
}

// defaultFactory loads Lua plugins, sizing each one by its trust.
func defaultFactory(cfg *config.Config, router *capability.Router, logger *logging.Logger) plugin.Factory {
	return lua.Factory(
		lua.WithLimitsFor(func(meta *manifest.Metadata) security.Limits {
			return cfg.PluginLimits(router.Trusted(meta))
		}),
		lua.WithLogger(logger),
	)
}
