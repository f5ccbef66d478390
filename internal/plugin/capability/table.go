package capability

import (
	"context"

	"github.com/dshills/phobos/internal/protocol"
)

// Funcs are the host operations behind a Table.
type Funcs struct {
	RequestPhobos  func(ctx context.Context, request, args string) Result
	Link           func(ctx context.Context, a protocol.Association) Result
	Request        func(ctx context.Context, command, args string, callback func(Result)) Result
	LinkDefault    func(ctx context.Context, scheme string) Result
	ReadConfig     func(ctx context.Context, key, target string) Result
	WriteConfig    func(ctx context.Context, key, value, target string) Result
	ReadSysConfig  func(ctx context.Context, key string) Result
	WriteSysConfig func(ctx context.Context, key, value string) Result
	Boot           func(ctx context.Context, command string, priority int, args string) Result
	RemoveBoot     func(ctx context.Context, id string) Result
	BootItems      func(ctx context.Context) Result
}

// Table is the bound set of host operations for one plugin. Its bindings
// are fixed at construction.
type Table struct {
	owner string
	fns   Funcs
}

// NewTable binds fns for the plugin with package id owner.
func NewTable(owner string, fns Funcs) *Table {
	return &Table{owner: owner, fns: fns}
}

// Owner returns the package id the table was bound for.
func (t *Table) Owner() string {
	return t.owner
}

func unsupported(op Operation) Result {
	return Failf(KindPolicy, "%s is not available to this plugin", op)
}

// RequestPhobos asks the host for ambient data.
func (t *Table) RequestPhobos(ctx context.Context, request, args string) Result {
	if t.fns.RequestPhobos == nil {
		return unsupported(OpRequestPhobos)
	}
	return t.fns.RequestPhobos(ctx, request, args)
}

// Link registers a URL-scheme association.
func (t *Table) Link(ctx context.Context, a protocol.Association) Result {
	if t.fns.Link == nil {
		return unsupported(OpLink)
	}
	return t.fns.Link(ctx, a)
}

// Request dispatches a host command. callback, if set, receives the result.
func (t *Table) Request(ctx context.Context, command, args string, callback func(Result)) Result {
	if t.fns.Request == nil {
		return unsupported(OpRequest)
	}
	return t.fns.Request(ctx, command, args, callback)
}

// LinkDefault claims the default handler for scheme.
func (t *Table) LinkDefault(ctx context.Context, scheme string) Result {
	if t.fns.LinkDefault == nil {
		return unsupported(OpLinkDefault)
	}
	return t.fns.LinkDefault(ctx, scheme)
}

// ReadConfig reads a package-scoped key. An empty target means the caller.
func (t *Table) ReadConfig(ctx context.Context, key, target string) Result {
	if t.fns.ReadConfig == nil {
		return unsupported(OpReadConfig)
	}
	return t.fns.ReadConfig(ctx, key, target)
}

// WriteConfig writes a package-scoped key. An empty target means the caller.
func (t *Table) WriteConfig(ctx context.Context, key, value, target string) Result {
	if t.fns.WriteConfig == nil {
		return unsupported(OpWriteConfig)
	}
	return t.fns.WriteConfig(ctx, key, value, target)
}

// ReadSysConfig reads a system key.
func (t *Table) ReadSysConfig(ctx context.Context, key string) Result {
	if t.fns.ReadSysConfig == nil {
		return unsupported(OpReadSysConfig)
	}
	return t.fns.ReadSysConfig(ctx, key)
}

// WriteSysConfig writes a system key.
func (t *Table) WriteSysConfig(ctx context.Context, key, value string) Result {
	if t.fns.WriteSysConfig == nil {
		return unsupported(OpWriteSysConfig)
	}
	return t.fns.WriteSysConfig(ctx, key, value)
}

// Boot registers a startup command.
func (t *Table) Boot(ctx context.Context, command string, priority int, args string) Result {
	if t.fns.Boot == nil {
		return unsupported(OpBoot)
	}
	return t.fns.Boot(ctx, command, priority, args)
}

// RemoveBoot removes one startup command, or all of the caller's when id
// is empty.
func (t *Table) RemoveBoot(ctx context.Context, id string) Result {
	if t.fns.RemoveBoot == nil {
		return unsupported(OpRemoveBoot)
	}
	return t.fns.RemoveBoot(ctx, id)
}

// BootItems lists the caller's startup commands.
func (t *Table) BootItems(ctx context.Context) Result {
	if t.fns.BootItems == nil {
		return unsupported(OpBootItems)
	}
	return t.fns.BootItems(ctx)
}
