package app

import (
	"context"

	"github.com/dshills/phobos/internal/boot"
	"github.com/dshills/phobos/internal/event"
	"github.com/dshills/phobos/internal/hotkey"
	"github.com/dshills/phobos/internal/logging"
	"github.com/dshills/phobos/internal/plugin"
	"github.com/dshills/phobos/internal/plugin/capability"
	"github.com/dshills/phobos/internal/protocol"
	"github.com/dshills/phobos/internal/settings"
	"github.com/dshills/phobos/internal/store"
)

// bootstrapper handles component initialization with proper cleanup on failure.
type bootstrapper struct {
	app       *Application
	logger    *logging.Logger
	initOrder []string
}

// newBootstrapper creates a new bootstrapper for the application.
func newBootstrapper(app *Application, logger *logging.Logger) *bootstrapper {
	return &bootstrapper{
		app:       app,
		logger:    logger,
		initOrder: make([]string, 0, 6),
	}
}

// bootstrap initializes all components in dependency order.
// On failure, it cleans up already-initialized components.
func (b *bootstrapper) bootstrap(ctx context.Context) error {
	steps := []func(context.Context) error{
		b.initStore,
		b.initRegistries,
		b.initEventBus,
		b.initRouter,
		b.initPlugins,
		b.initHotkeys,
	}
	for _, step := range steps {
		if err := step(ctx); err != nil {
			b.cleanup()
			return err
		}
	}
	return nil
}

// initStore opens the database.
func (b *bootstrapper) initStore(ctx context.Context) error {
	db, err := store.OpenSQLite(ctx, b.app.cfg.Store.Path)
	if err != nil {
		return &InitError{Component: "store", Err: err}
	}
	b.app.db = db
	b.initOrder = append(b.initOrder, "store")
	return nil
}

// initRegistries creates the config store and both registries.
func (b *bootstrapper) initRegistries(ctx context.Context) error {
	var err error
	if b.app.settings, err = settings.New(ctx, b.app.db,
		settings.WithLogger(b.logger), settings.WithClock(b.app.now)); err != nil {
		return &InitError{Component: "settings", Err: err}
	}
	if b.app.protocols, err = protocol.New(ctx, b.app.db,
		protocol.WithLogger(b.logger), protocol.WithClock(b.app.now)); err != nil {
		return &InitError{Component: "protocols", Err: err}
	}
	if b.app.boots, err = boot.New(ctx, b.app.db,
		boot.WithLogger(b.logger), boot.WithClock(b.app.now)); err != nil {
		return &InitError{Component: "boot", Err: err}
	}
	b.app.resolver = protocol.NewResolver(b.app.protocols, b.app.opts.Chooser)
	return nil
}

// initEventBus initializes the event bus.
func (b *bootstrapper) initEventBus(context.Context) error {
	b.app.bus = event.NewBus(event.WithLogger(b.logger), event.WithClock(b.app.now))
	return nil
}

// initRouter builds the capability router and the host commands.
func (b *bootstrapper) initRouter(context.Context) error {
	cfg := b.app.cfg
	policy := capability.Policy{
		Tokens:       cfg.Trust.Tokens,
		SystemGrants: cfg.SystemGrants(),
	}
	b.app.router = capability.NewRouter(b.app.settings, b.app.protocols, b.app.boots,
		capability.WithLogger(b.logger),
		capability.WithClock(b.app.now),
		capability.WithPolicy(policy),
		capability.WithHostVersion(cfg.Host.Version),
		capability.WithRateLimit(cfg.Plugins.RequestRate),
	)
	b.app.registerHostCommands()
	return nil
}

// initPlugins creates the loader and the manager.
func (b *bootstrapper) initPlugins(ctx context.Context) error {
	paths := b.app.cfg.Plugins.Paths
	if len(paths) == 0 {
		paths = plugin.DefaultPluginPaths()
	}
	b.app.loader = plugin.NewLoader(plugin.WithPaths(paths...))

	factory := b.app.opts.Factory
	if factory == nil {
		factory = defaultFactory(b.app.cfg, b.app.router, b.logger)
	}

	m, err := plugin.NewManager(ctx, b.app.db, b.app.router,
		plugin.WithLogger(b.logger),
		plugin.WithBus(b.app.bus),
		plugin.WithFactory(factory),
		plugin.WithClock(b.app.now),
	)
	if err != nil {
		return &InitError{Component: "plugins", Err: err}
	}
	b.app.manager = m
	return nil
}

// initHotkeys binds the hotkey registry to the pump, if there is one.
func (b *bootstrapper) initHotkeys(context.Context) error {
	pump := b.app.opts.Pump
	if pump == nil {
		return nil
	}
	reg := hotkey.NewRegistry(pump, hotkey.WithLogger(b.logger))
	if err := reg.Initialize(pump); err != nil {
		return &InitError{Component: "hotkeys", Err: err}
	}
	b.app.hotkeys = reg
	b.initOrder = append(b.initOrder, "hotkeys")
	return nil
}

// cleanup performs cleanup in reverse initialization order.
// Called when bootstrap fails partway through.
func (b *bootstrapper) cleanup() {
	for i := len(b.initOrder) - 1; i >= 0; i-- {
		b.cleanupComponent(b.initOrder[i])
	}
}

// cleanupComponent cleans up a single component.
func (b *bootstrapper) cleanupComponent(component string) {
	switch component {
	case "store":
		if b.app.db != nil {
			if err := b.app.db.Close(); err != nil {
				b.logger.Warn("closing store failed", "error", err)
			}
			b.app.db = nil
		}
	case "hotkeys":
		if b.app.hotkeys != nil {
			b.app.hotkeys.Dispose()
			b.app.hotkeys = nil
		}
	}
}
