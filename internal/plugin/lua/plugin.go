package lua

import (
	"context"
	"fmt"
	"time"

	lua "github.com/yuin/gopher-lua"

	"github.com/dshills/phobos/internal/logging"
	"github.com/dshills/phobos/internal/plugin"
	"github.com/dshills/phobos/internal/plugin/capability"
	"github.com/dshills/phobos/internal/plugin/manifest"
	"github.com/dshills/phobos/internal/plugin/security"
)

// Global function names a script may define for each lifecycle event.
const (
	HookInstall   = "install"
	HookLaunch    = "launch"
	HookClosing   = "closing"
	HookUninstall = "uninstall"
	HookUpdate    = "update"
	HookRun       = "run"
)

// Plugin runs a plugin's entry script in its own sandboxed state.
// Lifecycle events call the matching global function when the script
// defines one and fall back to plugin.Base otherwise.
type Plugin struct {
	plugin.Base

	state  *State
	logger *logging.Logger
}

// Option configures a Lua plugin.
type Option func(*options)

type options struct {
	limits    security.Limits
	limitsFor func(*manifest.Metadata) security.Limits
	timeout   *time.Duration
	logger    *logging.Logger
}

// WithTimeout sets the per-call execution deadline, overriding the
// timeout carried by the limits.
func WithTimeout(d time.Duration) Option {
	return func(o *options) {
		o.timeout = &d
	}
}

// WithLimits sets the resource limits for every plugin.
func WithLimits(l security.Limits) Option {
	return func(o *options) {
		o.limits = l
	}
}

// WithLimitsFor picks resource limits per plugin.
func WithLimitsFor(fn func(*manifest.Metadata) security.Limits) Option {
	return func(o *options) {
		o.limitsFor = fn
	}
}

func (o *options) limitsOf(meta *manifest.Metadata) security.Limits {
	l := o.limits
	if o.limitsFor != nil {
		l = o.limitsFor(meta)
	}
	if o.timeout != nil {
		l = l.WithTimeout(*o.timeout)
	}
	return l
}

// WithLogger sets the logger handed to scripts through phobos.log.
func WithLogger(l *logging.Logger) Option {
	return func(o *options) {
		if l != nil {
			o.logger = l
		}
	}
}

// New loads meta's entry script into a fresh state.
func New(ctx context.Context, meta *manifest.Metadata, opts ...Option) (*Plugin, error) {
	o := options{
		limits: security.DefaultLimits(),
		logger: logging.Nop(),
	}
	for _, opt := range opts {
		opt(&o)
	}
	limits := o.limitsOf(meta)
	if err := limits.Validate(); err != nil {
		return nil, err
	}

	state := NewState(
		WithExecutionTimeout(limits.ExecutionTimeout),
		WithStackLimits(limits.CallStackSize, limits.RegistryMaxSize),
	)
	p := &Plugin{
		state:  state,
		logger: o.logger.WithComponent("lua").WithField("package", meta.PackageID),
	}
	p.SetMetadata(meta)
	p.state.RegisterModule(ModuleName, newHostModule(p, p.logger).Funcs())

	if err := p.state.DoFile(ctx, meta.MainPath()); err != nil {
		_ = p.state.Close()
		return nil, fmt.Errorf("load %s: %w", meta.MainPath(), err)
	}
	return p, nil
}

// Factory returns a plugin.Factory that loads Lua plugins.
func Factory(opts ...Option) plugin.Factory {
	return func(ctx context.Context, meta *manifest.Metadata) (plugin.Plugin, error) {
		return New(ctx, meta, opts...)
	}
}

// Install calls the script's install hook.
func (p *Plugin) Install(ctx context.Context) capability.Result {
	return p.hook(ctx, HookInstall, func() capability.Result { return p.Base.Install(ctx) })
}

// Launch calls the script's launch hook.
func (p *Plugin) Launch(ctx context.Context) capability.Result {
	return p.hook(ctx, HookLaunch, func() capability.Result { return p.Base.Launch(ctx) })
}

// Closing calls the script's closing hook.
func (p *Plugin) Closing(ctx context.Context) capability.Result {
	return p.hook(ctx, HookClosing, func() capability.Result { return p.Base.Closing(ctx) })
}

// Uninstall calls the script's uninstall hook.
func (p *Plugin) Uninstall(ctx context.Context) capability.Result {
	return p.hook(ctx, HookUninstall, func() capability.Result { return p.Base.Uninstall(ctx) })
}

// Update calls the script's update hook with the old and new versions.
func (p *Plugin) Update(ctx context.Context, oldVersion, newVersion string) capability.Result {
	return p.hook(ctx, HookUpdate,
		func() capability.Result { return p.Base.Update(ctx, oldVersion, newVersion) },
		lua.LString(oldVersion), lua.LString(newVersion))
}

// Run calls the script's run hook with args.
func (p *Plugin) Run(ctx context.Context, args string) capability.Result {
	return p.hook(ctx, HookRun, func() capability.Result { return p.Base.Run(ctx, args) }, lua.LString(args))
}

// Close releases the Lua state.
func (p *Plugin) Close() error {
	return p.state.Close()
}

func (p *Plugin) hook(ctx context.Context, name string, fallback func() capability.Result, args ...lua.LValue) capability.Result {
	if !p.state.HasFunction(name) {
		return fallback()
	}

	rets, err := p.state.Call(ctx, name, args...)
	if err != nil {
		p.logger.Warn("lua hook failed", "hook", name, "error", err)
		return capability.Failf(capability.KindInternal, "%s: %v", name, err)
	}
	return p.toResult(rets)
}

// toResult interprets a hook's return values:
//
//	nil or nothing         success
//	bool [, message]       success as given
//	string                 success with that message
//	{success, message, data}
func (p *Plugin) toResult(rets []lua.LValue) capability.Result {
	if len(rets) == 0 {
		return capability.OK("", nil)
	}

	b := NewBridge(p.state.L)
	switch v := rets[0].(type) {
	case lua.LBool:
		msg := ""
		if len(rets) > 1 && rets[1] != lua.LNil {
			msg = lua.LVAsString(rets[1])
		}
		if bool(v) {
			return capability.OK(msg, nil)
		}
		return capability.Fail(capability.KindValidation, msg)
	case lua.LString:
		return capability.OK(string(v), nil)
	case *lua.LTable:
		success := true
		if s, ok := b.GetTableBool(v, "success"); ok {
			success = s
		}
		msg, _ := b.GetTableString(v, "message")
		data := b.ToGoValue(v.RawGetString("data"))
		if success {
			return capability.OK(msg, data)
		}
		res := capability.Fail(capability.KindValidation, msg)
		res.Data = data
		return res
	default:
		if v == lua.LNil {
			return capability.OK("", nil)
		}
		return capability.OK(lua.LVAsString(v), nil)
	}
}
