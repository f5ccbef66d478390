package plugin

import (
	"context"
	"fmt"
	"sync"

	"github.com/dshills/phobos/internal/plugin/capability"
	"github.com/dshills/phobos/internal/plugin/manifest"
	"github.com/dshills/phobos/internal/protocol"
)

// Plugin is the contract between the host and a plugin. A Plugin that
// also implements io.Closer is closed once the Manager lets go of it.
type Plugin interface {
	// Metadata returns the plugin's immutable description.
	Metadata() *manifest.Metadata

	// Bind installs the capability table. A later call replaces the
	// earlier table.
	Bind(t *capability.Table)

	Install(ctx context.Context) capability.Result
	Launch(ctx context.Context) capability.Result
	Closing(ctx context.Context) capability.Result
	Uninstall(ctx context.Context) capability.Result
	Update(ctx context.Context, oldVersion, newVersion string) capability.Result
	Run(ctx context.Context, args string) capability.Result
}

// Factory instantiates a discovered plugin.
type Factory func(ctx context.Context, meta *manifest.Metadata) (Plugin, error)

// Base is an embeddable Plugin implementation. Lifecycle methods succeed
// with a message; capability methods forward to the bound table and fail
// with capability.KindNotBound before Bind is called.
type Base struct {
	meta *manifest.Metadata

	mu    sync.Mutex
	table *capability.Table
}

// SetMetadata sets the metadata. Call once, before the plugin is handed
// to a Manager.
func (b *Base) SetMetadata(meta *manifest.Metadata) {
	b.meta = meta
}

// Metadata returns the plugin metadata.
func (b *Base) Metadata() *manifest.Metadata {
	return b.meta
}

// Bind installs t, replacing any earlier table.
func (b *Base) Bind(t *capability.Table) {
	b.mu.Lock()
	b.table = t
	b.mu.Unlock()
}

// Table returns the bound table, or nil.
func (b *Base) Table() *capability.Table {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.table
}

func (b *Base) name() string {
	if b.meta == nil {
		return "plugin"
	}
	return b.meta.Name
}

// Install succeeds.
func (b *Base) Install(context.Context) capability.Result {
	return capability.OK(b.name()+" installed", nil)
}

// Launch succeeds.
func (b *Base) Launch(context.Context) capability.Result {
	return capability.OK(b.name()+" launched", nil)
}

// Closing succeeds.
func (b *Base) Closing(context.Context) capability.Result {
	return capability.OK(b.name()+" closed", nil)
}

// Uninstall succeeds.
func (b *Base) Uninstall(context.Context) capability.Result {
	return capability.OK(b.name()+" uninstalled", nil)
}

// Update succeeds.
func (b *Base) Update(_ context.Context, oldVersion, newVersion string) capability.Result {
	return capability.OK(fmt.Sprintf("%s updated from %s to %s", b.name(), oldVersion, newVersion), nil)
}

// Run succeeds.
func (b *Base) Run(_ context.Context, args string) capability.Result {
	return capability.OK(b.name()+" ran", args)
}

func notBound() capability.Result {
	return capability.Fail(capability.KindNotBound, "handler not set")
}

// RequestPhobos asks the host for ambient data.
func (b *Base) RequestPhobos(ctx context.Context, request, args string) capability.Result {
	t := b.Table()
	if t == nil {
		return notBound()
	}
	return t.RequestPhobos(ctx, request, args)
}

// Link registers a URL-scheme association.
func (b *Base) Link(ctx context.Context, a protocol.Association) capability.Result {
	t := b.Table()
	if t == nil {
		return notBound()
	}
	return t.Link(ctx, a)
}

// Request dispatches a host command.
func (b *Base) Request(ctx context.Context, command, args string, callback func(capability.Result)) capability.Result {
	t := b.Table()
	if t == nil {
		return notBound()
	}
	return t.Request(ctx, command, args, callback)
}

// LinkDefault claims the default handler for scheme.
func (b *Base) LinkDefault(ctx context.Context, scheme string) capability.Result {
	t := b.Table()
	if t == nil {
		return notBound()
	}
	return t.LinkDefault(ctx, scheme)
}

// ReadConfig reads a config key. An empty target means this plugin.
func (b *Base) ReadConfig(ctx context.Context, key, target string) capability.Result {
	t := b.Table()
	if t == nil {
		return notBound()
	}
	return t.ReadConfig(ctx, key, target)
}

// WriteConfig writes a config key. An empty target means this plugin.
func (b *Base) WriteConfig(ctx context.Context, key, value, target string) capability.Result {
	t := b.Table()
	if t == nil {
		return notBound()
	}
	return t.WriteConfig(ctx, key, value, target)
}

// ReadSysConfig reads a system key.
func (b *Base) ReadSysConfig(ctx context.Context, key string) capability.Result {
	t := b.Table()
	if t == nil {
		return notBound()
	}
	return t.ReadSysConfig(ctx, key)
}

// WriteSysConfig writes a system key.
func (b *Base) WriteSysConfig(ctx context.Context, key, value string) capability.Result {
	t := b.Table()
	if t == nil {
		return notBound()
	}
	return t.WriteSysConfig(ctx, key, value)
}

// BootWithPhobos registers a startup command.
func (b *Base) BootWithPhobos(ctx context.Context, command string, priority int, args string) capability.Result {
	t := b.Table()
	if t == nil {
		return notBound()
	}
	return t.Boot(ctx, command, priority, args)
}

// RemoveBootWithPhobos removes one startup command, or all when id is empty.
func (b *Base) RemoveBootWithPhobos(ctx context.Context, id string) capability.Result {
	t := b.Table()
	if t == nil {
		return notBound()
	}
	return t.RemoveBoot(ctx, id)
}

// GetBootItems lists this plugin's startup commands.
func (b *Base) GetBootItems(ctx context.Context) capability.Result {
	t := b.Table()
	if t == nil {
		return notBound()
	}
	return t.BootItems(ctx)
}
