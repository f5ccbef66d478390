package plugin

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sort"
	"sync"
	"time"

	"github.com/dshills/phobos/internal/event"
	"github.com/dshills/phobos/internal/logging"
	"github.com/dshills/phobos/internal/plugin/capability"
	"github.com/dshills/phobos/internal/plugin/manifest"
	"github.com/dshills/phobos/internal/store"
	"github.com/dshills/phobos/internal/version"
)

// Manager manages the lifecycle of all plugins.
type Manager struct {
	mu sync.Mutex

	router   *capability.Router
	installs *Installs
	bus      *event.Bus
	factory  Factory

	// Loaded plugins by package id
	plugins map[string]*entry

	// Plugin load order (for deterministic iteration)
	loadOrder []string

	logger *logging.Logger
	now    func() time.Time
}

type entry struct {
	// op serializes lifecycle calls for one plugin.
	op sync.Mutex

	plugin  Plugin
	state   State
	trusted bool
}

// Status describes a loaded plugin.
type Status struct {
	PackageID string
	Name      string
	Version   string
	State     State
	Trusted   bool
}

// ManagerEvent is the payload published on the plugin topics.
type ManagerEvent struct {
	PackageID  string
	Version    string
	OldVersion string
	State      State
}

// ManagerOption configures a Manager.
type ManagerOption func(*Manager)

// WithLogger sets the manager logger.
func WithLogger(l *logging.Logger) ManagerOption {
	return func(m *Manager) {
		if l != nil {
			m.logger = l.WithComponent("plugin")
		}
	}
}

// WithBus publishes lifecycle events on b.
func WithBus(b *event.Bus) ManagerOption {
	return func(m *Manager) {
		m.bus = b
	}
}

// WithFactory sets the factory used by LoadAll.
func WithFactory(f Factory) ManagerOption {
	return func(m *Manager) {
		m.factory = f
	}
}

// WithClock overrides the time source for install records.
func WithClock(now func() time.Time) ManagerOption {
	return func(m *Manager) {
		m.now = now
	}
}

// NewManager creates a plugin manager persisting installs in db.
func NewManager(ctx context.Context, db store.Store, router *capability.Router, opts ...ManagerOption) (*Manager, error) {
	m := &Manager{
		router:  router,
		plugins: make(map[string]*entry),
		logger:  logging.Nop().WithComponent("plugin"),
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(m)
	}

	installs, err := NewInstalls(ctx, db, m.now)
	if err != nil {
		return nil, err
	}
	m.installs = installs
	return m, nil
}

// Installs returns the persisted install registry.
func (m *Manager) Installs() *Installs {
	return m.installs
}

// Start binds, installs if needed, and launches p. A plugin whose
// persisted version differs is run through Update first. If the
// dependency check or launch fails the plugin stays loaded as Installed.
func (m *Manager) Start(ctx context.Context, p Plugin) error {
	if p == nil || p.Metadata() == nil {
		return ErrNilPlugin
	}
	meta := p.Metadata()
	if err := meta.Validate(); err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidPlugin, err)
	}
	id := meta.PackageID

	e := &entry{plugin: p, state: StateUninstalled, trusted: m.router.Trusted(meta)}
	e.op.Lock()
	defer e.op.Unlock()

	// Reserve the package id (brief lock)
	m.mu.Lock()
	if _, exists := m.plugins[id]; exists {
		m.mu.Unlock()
		return fmt.Errorf("plugin %q: %w", id, ErrAlreadyLoaded)
	}
	if owner := m.namespaceOwner(meta.Namespace(), id); owner != "" {
		m.mu.Unlock()
		return fmt.Errorf("plugin %q database key %q held by %q: %w", id, meta.Namespace(), owner, ErrNamespaceInUse)
	}
	m.plugins[id] = e
	m.loadOrder = append(m.loadOrder, id)
	m.mu.Unlock()

	p.Bind(m.router.Bind(meta))

	if err := m.ensureInstalled(ctx, e); err != nil {
		m.drop(id)
		return err
	}

	if err := m.checkDependencies(meta); err != nil {
		return err
	}
	return m.launch(ctx, e)
}

func (m *Manager) ensureInstalled(ctx context.Context, e *entry) error {
	meta := e.plugin.Metadata()
	id := meta.PackageID

	rec, found, err := m.installs.Get(ctx, id)
	if err != nil {
		return err
	}

	switch {
	case !found:
		res := m.call(id, "install", func() capability.Result { return e.plugin.Install(ctx) })
		if !res.Success {
			return lifecycleError(id, "install", res)
		}
		if err := m.installs.Put(ctx, id, meta.Version); err != nil {
			return err
		}
		m.setState(e, StateInstalled)
		m.logger.Info("plugin installed", "package", id, "version", meta.Version)
		m.publish(ctx, event.TopicPluginInstalled, ManagerEvent{PackageID: id, Version: meta.Version, State: StateInstalled})

	case rec.Version != meta.Version:
		if !version.CanInstallOver(meta.Version, rec.Version) {
			return fmt.Errorf("plugin %q %s over %s: %w", id, meta.Version, rec.Version, ErrUpdateDenied)
		}
		res := m.call(id, "update", func() capability.Result { return e.plugin.Update(ctx, rec.Version, meta.Version) })
		if !res.Success {
			return lifecycleError(id, "update", res)
		}
		if err := m.installs.Put(ctx, id, meta.Version); err != nil {
			return err
		}
		m.setState(e, StateInstalled)
		m.logger.Info("plugin updated", "package", id, "from", rec.Version, "to", meta.Version)
		m.publish(ctx, event.TopicPluginUpdated, ManagerEvent{PackageID: id, Version: meta.Version, OldVersion: rec.Version, State: StateInstalled})

	default:
		m.setState(e, StateInstalled)
	}
	return nil
}

// Launch launches an installed plugin.
func (m *Manager) Launch(ctx context.Context, packageID string) error {
	e, err := m.entry(packageID)
	if err != nil {
		return err
	}
	e.op.Lock()
	defer e.op.Unlock()

	if err := m.checkDependencies(e.plugin.Metadata()); err != nil {
		return err
	}
	return m.launch(ctx, e)
}

func (m *Manager) launch(ctx context.Context, e *entry) error {
	id := e.plugin.Metadata().PackageID
	if err := m.transition(e, StateRunning); err != nil {
		return err
	}

	res := m.call(id, "launch", func() capability.Result { return e.plugin.Launch(ctx) })
	if !res.Success {
		return lifecycleError(id, "launch", res)
	}

	m.setState(e, StateRunning)
	m.logger.Info("plugin launched", "package", id)
	m.publish(ctx, event.TopicPluginLaunched, ManagerEvent{PackageID: id, Version: e.plugin.Metadata().Version, State: StateRunning})
	return nil
}

// Close moves a running plugin back to Installed. The plugin ends up
// Installed even when its Closing call fails.
func (m *Manager) Close(ctx context.Context, packageID string) error {
	e, err := m.entry(packageID)
	if err != nil {
		return err
	}
	e.op.Lock()
	defer e.op.Unlock()
	return m.close(ctx, e)
}

func (m *Manager) close(ctx context.Context, e *entry) error {
	id := e.plugin.Metadata().PackageID
	if err := m.transition(e, StateClosing); err != nil {
		return err
	}
	m.setState(e, StateClosing)

	res := m.call(id, "closing", func() capability.Result { return e.plugin.Closing(ctx) })
	m.setState(e, StateInstalled)
	m.logger.Info("plugin closed", "package", id)
	m.publish(ctx, event.TopicPluginClosed, ManagerEvent{PackageID: id, Version: e.plugin.Metadata().Version, State: StateInstalled})

	if !res.Success {
		return lifecycleError(id, "closing", res)
	}
	return nil
}

// Uninstall runs the plugin's uninstall step, removes everything it stored
// through its capability table and forgets the install record.
func (m *Manager) Uninstall(ctx context.Context, packageID string) error {
	e, err := m.entry(packageID)
	if err != nil {
		return err
	}
	e.op.Lock()
	defer e.op.Unlock()

	if err := m.transition(e, StateUninstalled); err != nil {
		return err
	}

	res := m.call(packageID, "uninstall", func() capability.Result { return e.plugin.Uninstall(ctx) })
	if !res.Success {
		return lifecycleError(packageID, "uninstall", res)
	}

	var errs []error
	if err := m.router.Purge(ctx, packageID); err != nil {
		errs = append(errs, err)
	}
	if err := m.installs.Delete(ctx, packageID); err != nil {
		errs = append(errs, err)
	}

	m.setState(e, StateUninstalled)
	m.drop(packageID)
	m.logger.Info("plugin uninstalled", "package", packageID)
	m.publish(ctx, event.TopicPluginUninstalled, ManagerEvent{PackageID: packageID, Version: e.plugin.Metadata().Version, State: StateUninstalled})

	return errors.Join(errs...)
}

// Update replaces a loaded plugin with next, a newer build of the same
// package. The version gate must allow next over the loaded version. A
// running plugin is closed and next is launched in its place.
func (m *Manager) Update(ctx context.Context, next Plugin) error {
	if next == nil || next.Metadata() == nil {
		return ErrNilPlugin
	}
	meta := next.Metadata()
	if err := meta.Validate(); err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidPlugin, err)
	}
	id := meta.PackageID

	e, err := m.entry(id)
	if err != nil {
		return err
	}
	e.op.Lock()
	defer e.op.Unlock()

	state := m.stateOf(e)
	if !state.CanUpdate() {
		return fmt.Errorf("plugin %q update from %s: %w", id, state, ErrInvalidTransition)
	}

	oldVersion := e.plugin.Metadata().Version
	if !version.CanInstallOver(meta.Version, oldVersion) {
		return fmt.Errorf("plugin %q %s over %s: %w", id, meta.Version, oldVersion, ErrUpdateDenied)
	}

	m.mu.Lock()
	owner := m.namespaceOwner(meta.Namespace(), id)
	m.mu.Unlock()
	if owner != "" {
		return fmt.Errorf("plugin %q database key %q held by %q: %w", id, meta.Namespace(), owner, ErrNamespaceInUse)
	}

	next.Bind(m.router.Bind(meta))
	res := m.call(id, "update", func() capability.Result { return next.Update(ctx, oldVersion, meta.Version) })
	if !res.Success {
		// The loaded build keeps its own table; only its namespace needs restoring.
		m.router.Bind(e.plugin.Metadata())
		return lifecycleError(id, "update", res)
	}
	if err := m.installs.Put(ctx, id, meta.Version); err != nil {
		m.router.Bind(e.plugin.Metadata())
		return err
	}

	wasRunning := state == StateRunning
	if wasRunning {
		if err := m.close(ctx, e); err != nil {
			m.logger.Warn("closing replaced plugin failed", "package", id, "error", err)
		}
	}

	m.mu.Lock()
	replaced := e.plugin
	e.plugin = next
	e.trusted = m.router.Trusted(meta)
	m.mu.Unlock()
	m.release(id, replaced)

	m.logger.Info("plugin updated", "package", id, "from", oldVersion, "to", meta.Version)
	m.publish(ctx, event.TopicPluginUpdated, ManagerEvent{PackageID: id, Version: meta.Version, OldVersion: oldVersion, State: StateInstalled})

	if wasRunning {
		return m.launch(ctx, e)
	}
	return nil
}

// Run passes args to a running plugin.
func (m *Manager) Run(ctx context.Context, packageID, args string) (capability.Result, error) {
	e, err := m.entry(packageID)
	if err != nil {
		return capability.Result{}, err
	}
	if s := m.stateOf(e); s != StateRunning {
		return capability.Result{}, fmt.Errorf("plugin %q is %s: %w", packageID, s, ErrNotRunning)
	}

	m.mu.Lock()
	p := e.plugin
	m.mu.Unlock()
	return m.call(packageID, "run", func() capability.Result { return p.Run(ctx, args) }), nil
}

// LoadAll discovers plugins with loader, instantiates them with the
// factory and starts them with dependencies first. It keeps going past
// individual failures.
func (m *Manager) LoadAll(ctx context.Context, loader *Loader) error {
	valid, invalid, err := loader.Discover()
	if err != nil {
		return err
	}
	return m.Sync(ctx, valid, invalid)
}

// Sync brings the loaded set in line with a discovery result. Plugins not
// yet loaded are started; loaded plugins whose manifest version changed
// are updated in place. Plugins that disappeared stay loaded.
func (m *Manager) Sync(ctx context.Context, valid, invalid []*Info) error {
	if m.factory == nil {
		return ErrNoFactory
	}

	var errs []error
	for _, info := range invalid {
		m.logger.Warn("skipping invalid plugin", "dir", info.Dir, "error", info.Error)
		errs = append(errs, info.Error)
	}

	metas := make([]*manifest.Metadata, 0, len(valid))
	for _, info := range valid {
		loaded, ok := m.Get(info.PackageID())
		if !ok {
			metas = append(metas, info.Manifest)
			continue
		}
		if loaded.Metadata().Version == info.Manifest.Version {
			continue
		}
		if err := m.replace(ctx, info.Manifest); err != nil {
			m.logger.Warn("plugin failed to update", "package", info.PackageID(), "error", err)
			errs = append(errs, err)
		}
	}

	ordered, cyclic := Order(metas)
	for _, meta := range cyclic {
		errs = append(errs, fmt.Errorf("plugin %q: %w", meta.PackageID, ErrCyclicDependency))
	}

	for _, meta := range ordered {
		p, err := m.factory(ctx, meta)
		if err != nil {
			errs = append(errs, fmt.Errorf("plugin %q: %w", meta.PackageID, err))
			continue
		}
		if err := m.Start(ctx, p); err != nil {
			m.logger.Warn("plugin failed to start", "package", meta.PackageID, "error", err)
			errs = append(errs, err)
		}
	}

	if len(errs) > 0 {
		return fmt.Errorf("failed to load %d plugins: %w", len(errs), errors.Join(errs...))
	}
	return nil
}

// replace instantiates meta and hands it to Update.
func (m *Manager) replace(ctx context.Context, meta *manifest.Metadata) error {
	next, err := m.factory(ctx, meta)
	if err != nil {
		return fmt.Errorf("plugin %q: %w", meta.PackageID, err)
	}
	if err := m.Update(ctx, next); err != nil {
		m.release(meta.PackageID, next)
		return err
	}
	return nil
}

// CloseAll closes running plugins in reverse load order.
func (m *Manager) CloseAll(ctx context.Context) error {
	m.mu.Lock()
	names := make([]string, len(m.loadOrder))
	for i, name := range m.loadOrder {
		names[len(m.loadOrder)-1-i] = name
	}
	m.mu.Unlock()

	var errs []error
	for _, name := range names {
		e, err := m.entry(name)
		if err != nil || m.stateOf(e) != StateRunning {
			continue
		}
		if err := m.Close(ctx, name); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Get returns a loaded plugin.
func (m *Manager) Get(packageID string) (Plugin, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.plugins[packageID]
	if !ok {
		return nil, false
	}
	return e.plugin, true
}

// State returns a loaded plugin's state.
func (m *Manager) State(packageID string) (State, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.plugins[packageID]
	if !ok {
		return StateUninstalled, false
	}
	return e.state, true
}

// List returns the loaded plugins in load order.
func (m *Manager) List() []Status {
	m.mu.Lock()
	defer m.mu.Unlock()

	out := make([]Status, 0, len(m.loadOrder))
	for _, id := range m.loadOrder {
		e, ok := m.plugins[id]
		if !ok {
			continue
		}
		meta := e.plugin.Metadata()
		out = append(out, Status{
			PackageID: id,
			Name:      meta.Name,
			Version:   meta.Version,
			State:     e.state,
			Trusted:   e.trusted,
		})
	}
	return out
}

// Count returns the number of loaded plugins.
func (m *Manager) Count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.plugins)
}

func (m *Manager) entry(packageID string) (*entry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.plugins[packageID]
	if !ok {
		return nil, fmt.Errorf("plugin %q: %w", packageID, ErrPluginNotFound)
	}
	return e, nil
}

// namespaceOwner returns the loaded package other than self whose data
// lives under ns. Callers hold m.mu.
func (m *Manager) namespaceOwner(ns, self string) string {
	for id, e := range m.plugins {
		if id != self && e.plugin.Metadata().Namespace() == ns {
			return id
		}
	}
	return ""
}

func (m *Manager) stateOf(e *entry) State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return e.state
}

func (m *Manager) setState(e *entry, s State) {
	m.mu.Lock()
	e.state = s
	m.mu.Unlock()
}

func (m *Manager) transition(e *entry, to State) error {
	from := m.stateOf(e)
	if !CanTransition(from, to) {
		return fmt.Errorf("plugin %q %s -> %s: %w", e.plugin.Metadata().PackageID, from, to, ErrInvalidTransition)
	}
	return nil
}

func (m *Manager) drop(packageID string) {
	m.mu.Lock()
	e := m.plugins[packageID]
	delete(m.plugins, packageID)
	for i, n := range m.loadOrder {
		if n == packageID {
			m.loadOrder = append(m.loadOrder[:i], m.loadOrder[i+1:]...)
			break
		}
	}
	m.mu.Unlock()

	if e != nil {
		m.release(packageID, e.plugin)
	}
}

// release frees resources held by a plugin that is no longer loaded.
func (m *Manager) release(packageID string, p Plugin) {
	c, ok := p.(io.Closer)
	if !ok {
		return
	}
	if err := c.Close(); err != nil {
		m.logger.Warn("releasing plugin failed", "package", packageID, "error", err)
	}
}

// checkDependencies verifies every required dependency is loaded at a
// sufficient version.
func (m *Manager) checkDependencies(meta *manifest.Metadata) error {
	for _, dep := range meta.Dependencies {
		p, ok := m.Get(dep.PackageID)
		var err error
		switch {
		case !ok:
			err = fmt.Errorf("plugin %q requires %q: %w", meta.PackageID, dep.PackageID, ErrDependencyNotFound)
		case dep.MinVersion != "" && !version.Satisfies(p.Metadata().Version, dep.MinVersion):
			err = fmt.Errorf("plugin %q requires %q >= %s, have %s: %w",
				meta.PackageID, dep.PackageID, dep.MinVersion, p.Metadata().Version, ErrDependencyVersion)
		}
		if err == nil {
			continue
		}
		if dep.Optional {
			m.logger.Warn("optional dependency unmet", "package", meta.PackageID, "error", err)
			continue
		}
		return err
	}
	return nil
}

// call runs a lifecycle function, converting panics into failures.
func (m *Manager) call(packageID, op string, fn func() capability.Result) (res capability.Result) {
	defer func() {
		if r := recover(); r != nil {
			m.logger.Error("plugin panic recovered", "package", packageID, "op", op, "panic", fmt.Sprint(r))
			res = capability.Failf(capability.KindInternal, "%s panicked: %v", op, r)
		}
	}()
	return fn()
}

func (m *Manager) publish(ctx context.Context, t event.Topic, payload ManagerEvent) {
	if m.bus == nil {
		return
	}
	if err := m.bus.Publish(ctx, t, payload); err != nil {
		m.logger.Warn("event subscriber failed", "topic", t.String(), "error", err)
	}
}

func lifecycleError(packageID, op string, res capability.Result) error {
	return fmt.Errorf("plugin %q %s: %w: %w", packageID, op, ErrLifecycle, res.Err())
}

// Order sorts metas so that each plugin follows the plugins it depends on.
// Plugins on a dependency cycle are returned separately. Dependencies on
// packages outside metas are ignored.
func Order(metas []*manifest.Metadata) (ordered, cyclic []*manifest.Metadata) {
	byID := make(map[string]*manifest.Metadata, len(metas))
	for _, meta := range metas {
		byID[meta.PackageID] = meta
	}
	ids := make([]string, 0, len(byID))
	for id := range byID {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	const (
		unvisited = iota
		visiting
		done
	)
	mark := make(map[string]int, len(ids))
	onCycle := make(map[string]bool)

	var visit func(id string, stack []string)
	visit = func(id string, stack []string) {
		switch mark[id] {
		case done:
			return
		case visiting:
			for i := len(stack) - 1; i >= 0; i-- {
				onCycle[stack[i]] = true
				if stack[i] == id {
					break
				}
			}
			return
		}
		mark[id] = visiting
		stack = append(stack, id)
		for _, dep := range byID[id].Dependencies {
			if _, ok := byID[dep.PackageID]; ok {
				visit(dep.PackageID, stack)
			}
		}
		mark[id] = done
		ordered = append(ordered, byID[id])
	}

	for _, id := range ids {
		visit(id, nil)
	}

	if len(onCycle) == 0 {
		return ordered, nil
	}
	kept := ordered[:0]
	for _, meta := range ordered {
		if onCycle[meta.PackageID] {
			cyclic = append(cyclic, meta)
			continue
		}
		kept = append(kept, meta)
	}
	return kept, cyclic
}
