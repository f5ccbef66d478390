package capability

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/dshills/phobos/internal/boot"
	"github.com/dshills/phobos/internal/logging"
	"github.com/dshills/phobos/internal/plugin/manifest"
	"github.com/dshills/phobos/internal/plugin/security"
	"github.com/dshills/phobos/internal/protocol"
	"github.com/dshills/phobos/internal/settings"
)

// CommandHandler implements a host command reachable through Request or
// RequestPhobos.
type CommandHandler func(ctx context.Context, caller CallerContext, args string) Result

// Ambient requests answered by every router.
const (
	AmbientVersion = "version"
	AmbientCaller  = "caller"
	AmbientTime    = "time"
	AmbientSchemes = "schemes"
)

// Router builds capability tables and delegates their calls to the host
// services.
type Router struct {
	settings  *settings.Store
	protocols *protocol.Registry
	boots     *boot.Registry
	policy    Policy
	rateLimit int
	limiters  *security.Limiters

	mu       sync.Mutex
	commands map[string]CommandHandler
	ambient  map[string]CommandHandler
	keys     map[string]string // package id -> database key

	hostVersion string
	logger      *logging.Logger
	now         func() time.Time
}

// RouterOption configures a Router.
type RouterOption func(*Router)

// WithLogger sets the router logger.
func WithLogger(l *logging.Logger) RouterOption {
	return func(r *Router) {
		if l != nil {
			r.logger = l.WithComponent("capability")
		}
	}
}

// WithClock overrides the time source for caller contexts.
func WithClock(now func() time.Time) RouterOption {
	return func(r *Router) {
		r.now = now
	}
}

// WithPolicy sets the trust policy.
func WithPolicy(p Policy) RouterOption {
	return func(r *Router) {
		r.policy = p
	}
}

// WithRateLimit caps the capability calls each untrusted plugin may make
// per second. Zero or less disables the cap.
func WithRateLimit(perSecond int) RouterOption {
	return func(r *Router) {
		r.rateLimit = perSecond
	}
}

// WithHostVersion sets the version reported to plugins.
func WithHostVersion(v string) RouterOption {
	return func(r *Router) {
		r.hostVersion = v
	}
}

// NewRouter creates a router over the host services.
func NewRouter(s *settings.Store, p *protocol.Registry, b *boot.Registry, opts ...RouterOption) *Router {
	r := &Router{
		settings:    s,
		protocols:   p,
		boots:       b,
		commands:    make(map[string]CommandHandler),
		ambient:     make(map[string]CommandHandler),
		keys:        make(map[string]string),
		hostVersion: "0.0.0",
		logger:      logging.Nop().WithComponent("capability"),
		now:         time.Now,
	}
	for _, opt := range opts {
		opt(r)
	}
	r.limiters = security.NewLimitersWithClock(r.rateLimit, r.now)
	return r
}

// Handle registers a command for Request. A later registration replaces
// an earlier one.
func (r *Router) Handle(command string, h CommandHandler) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if h == nil {
		delete(r.commands, command)
		return
	}
	r.commands[command] = h
}

// HandleAmbient registers an answer for RequestPhobos.
func (r *Router) HandleAmbient(request string, h CommandHandler) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if h == nil {
		delete(r.ambient, request)
		return
	}
	r.ambient[request] = h
}

// Commands returns the registered command names, sorted.
func (r *Router) Commands() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	names := make([]string, 0, len(r.commands))
	for name := range r.commands {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// HasCommand reports whether command is registered.
func (r *Router) HasCommand(command string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, ok := r.commands[command]
	return ok
}

// Invoke runs a registered command on the host's behalf. The caller is
// packageID with trust, so boot items and hotkeys reach the same handlers
// plugins do.
func (r *Router) Invoke(ctx context.Context, packageID, command, args string) Result {
	r.mu.Lock()
	dbKey, ok := r.keys[packageID]
	r.mu.Unlock()
	if !ok {
		dbKey = packageID
	}
	c := CallerContext{PackageID: packageID, DatabaseKey: dbKey, Trusted: true, Time: r.now()}
	return r.guard(ctx, c, OpRequest, func(ctx context.Context) Result {
		return r.request(ctx, c, command, args)
	})
}

// Trusted reports whether meta would be bound as trusted.
func (r *Router) Trusted(meta *manifest.Metadata) bool {
	return r.policy.Trusted(meta)
}

// Bind builds the capability table for meta. Trust and system access are
// decided here and never change for the table's lifetime. Config is kept
// under meta.Namespace, so a database key outside the package is ignored.
func (r *Router) Bind(meta *manifest.Metadata) *Table {
	packageID := meta.PackageID
	dbKey := meta.Namespace()
	trusted := r.policy.Trusted(meta)
	system := r.policy.SystemAccess(meta, trusted)

	r.mu.Lock()
	r.keys[packageID] = dbKey
	r.mu.Unlock()

	r.logger.Debug("capability table bound", "package", packageID, "trusted", trusted, "system", system)

	caller := func() CallerContext {
		return CallerContext{
			PackageID:   packageID,
			DatabaseKey: dbKey,
			Trusted:     trusted,
			Time:        r.now(),
		}
	}

	return NewTable(packageID, Funcs{
		RequestPhobos: func(ctx context.Context, request, args string) Result {
			c := caller()
			return r.guard(ctx, c, OpRequestPhobos, func(ctx context.Context) Result {
				return r.requestPhobos(ctx, c, request, args)
			})
		},
		Link: func(ctx context.Context, a protocol.Association) Result {
			c := caller()
			return r.guard(ctx, c, OpLink, func(ctx context.Context) Result {
				return r.link(ctx, c, a)
			})
		},
		Request: func(ctx context.Context, command, args string, callback func(Result)) Result {
			c := caller()
			res := r.guard(ctx, c, OpRequest, func(ctx context.Context) Result {
				return r.request(ctx, c, command, args)
			})
			r.notify(c, callback, res)
			return res
		},
		LinkDefault: func(ctx context.Context, scheme string) Result {
			c := caller()
			return r.guard(ctx, c, OpLinkDefault, func(ctx context.Context) Result {
				return r.linkDefault(ctx, c, scheme)
			})
		},
		ReadConfig: func(ctx context.Context, key, target string) Result {
			c := caller()
			return r.guard(ctx, c, OpReadConfig, func(ctx context.Context) Result {
				return r.readConfig(ctx, c, key, target)
			})
		},
		WriteConfig: func(ctx context.Context, key, value, target string) Result {
			c := caller()
			return r.guard(ctx, c, OpWriteConfig, func(ctx context.Context) Result {
				return r.writeConfig(ctx, c, key, value, target)
			})
		},
		ReadSysConfig: func(ctx context.Context, key string) Result {
			c := caller()
			return r.guard(ctx, c, OpReadSysConfig, func(ctx context.Context) Result {
				if !system {
					return denySystem(c)
				}
				return r.readSysConfig(ctx, key)
			})
		},
		WriteSysConfig: func(ctx context.Context, key, value string) Result {
			c := caller()
			return r.guard(ctx, c, OpWriteSysConfig, func(ctx context.Context) Result {
				if !system {
					return denySystem(c)
				}
				return r.writeSysConfig(ctx, c, key, value)
			})
		},
		Boot: func(ctx context.Context, command string, priority int, args string) Result {
			c := caller()
			return r.guard(ctx, c, OpBoot, func(ctx context.Context) Result {
				return r.boot(ctx, c, command, priority, args)
			})
		},
		RemoveBoot: func(ctx context.Context, id string) Result {
			c := caller()
			return r.guard(ctx, c, OpRemoveBoot, func(ctx context.Context) Result {
				return r.removeBoot(ctx, c, id)
			})
		},
		BootItems: func(ctx context.Context) Result {
			c := caller()
			return r.guard(ctx, c, OpBootItems, func(ctx context.Context) Result {
				return r.bootItems(ctx, c)
			})
		},
	})
}

// Purge removes everything a package stored through its table: config
// keys, protocol associations and boot items.
func (r *Router) Purge(ctx context.Context, packageID string) error {
	r.mu.Lock()
	dbKey, ok := r.keys[packageID]
	delete(r.keys, packageID)
	r.mu.Unlock()
	r.limiters.Forget(packageID)
	if !ok {
		dbKey = packageID
	}

	var errs []error
	if _, err := r.settings.DeletePackage(ctx, dbKey); err != nil {
		errs = append(errs, err)
	}
	if _, err := r.protocols.Unlink(ctx, packageID); err != nil {
		errs = append(errs, err)
	}
	if _, err := r.boots.RemoveAll(ctx, packageID); err != nil {
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}

// guard runs fn with the caller attached to ctx, converting panics to
// KindInternal failures.
func (r *Router) guard(ctx context.Context, c CallerContext, op Operation, fn func(context.Context) Result) (res Result) {
	if ctx == nil {
		ctx = context.Background()
	}
	if !c.Trusted && !r.limiters.Allow(c.PackageID) {
		r.logger.Warn("capability call rate limited", "package", c.PackageID, "op", string(op))
		return Failf(KindPolicy, "%s: rate limit exceeded", op)
	}
	defer func() {
		if p := recover(); p != nil {
			r.logger.Error("capability panic recovered", "package", c.PackageID, "op", string(op), "panic", fmt.Sprint(p))
			res = Failf(KindInternal, "%s: internal error: %v", op, p)
		}
		if !res.Success {
			r.logger.Debug("capability call failed", "package", c.PackageID, "op", string(op), "kind", res.Kind.String(), "message", res.Message)
		}
	}()
	return fn(WithCaller(ctx, c))
}

func (r *Router) notify(c CallerContext, callback func(Result), res Result) {
	if callback == nil {
		return
	}
	defer func() {
		if p := recover(); p != nil {
			r.logger.Error("request callback panicked", "package", c.PackageID, "panic", fmt.Sprint(p))
		}
	}()
	callback(res)
}

func (r *Router) requestPhobos(ctx context.Context, c CallerContext, request, args string) Result {
	r.mu.Lock()
	h := r.ambient[request]
	r.mu.Unlock()
	if h != nil {
		return h(ctx, c, args)
	}

	switch request {
	case AmbientVersion:
		return OK(r.hostVersion, r.hostVersion)
	case AmbientCaller:
		return OK(c.PackageID, c.PackageID)
	case AmbientTime:
		ts := c.Time.UTC().Format(time.RFC3339)
		return OK(ts, ts)
	case AmbientSchemes:
		schemes, err := r.protocols.Schemes(ctx)
		if err != nil {
			return fail(OpRequestPhobos, err)
		}
		return OK(fmt.Sprintf("%d schemes", len(schemes)), schemes)
	default:
		return OK("", nil)
	}
}

func (r *Router) request(ctx context.Context, c CallerContext, command, args string) Result {
	r.mu.Lock()
	h := r.commands[command]
	r.mu.Unlock()
	if h == nil {
		return OK("", nil)
	}
	return h(ctx, c, args)
}

func (r *Router) link(ctx context.Context, c CallerContext, a protocol.Association) Result {
	a.PackageID = c.PackageID
	h, err := r.protocols.Link(ctx, a)
	if err != nil {
		return fail(OpLink, err)
	}
	return OK("linked "+h.Protocol, h)
}

func (r *Router) linkDefault(ctx context.Context, c CallerContext, scheme string) Result {
	if err := r.protocols.LinkDefault(ctx, scheme, c.PackageID); err != nil {
		return fail(OpLinkDefault, err)
	}
	return OK("default set for "+protocol.NormalizeScheme(scheme), nil)
}

// namespace resolves the config namespace for target. Callers may always
// address their own package; other packages require trust.
func (r *Router) namespace(c CallerContext, target string) (string, bool) {
	if target == "" || target == c.PackageID {
		return c.DatabaseKey, true
	}
	if !c.Trusted {
		return "", false
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if key, ok := r.keys[target]; ok {
		return key, true
	}
	return target, true
}

func (r *Router) readConfig(ctx context.Context, c CallerContext, key, target string) Result {
	ns, ok := r.namespace(c, target)
	if !ok {
		return denyTarget(c, target)
	}
	v, found, err := r.settings.Read(ctx, ns, key)
	if err != nil {
		return fail(OpReadConfig, err)
	}
	if !found {
		return OK("not set", nil)
	}
	return OK("", v)
}

func (r *Router) writeConfig(ctx context.Context, c CallerContext, key, value, target string) Result {
	ns, ok := r.namespace(c, target)
	if !ok {
		return denyTarget(c, target)
	}
	if err := r.settings.Write(ctx, ns, key, value, c.PackageID); err != nil {
		return fail(OpWriteConfig, err)
	}
	return OK("saved", nil)
}

func (r *Router) readSysConfig(ctx context.Context, key string) Result {
	v, found, err := r.settings.ReadSystem(ctx, key)
	if err != nil {
		return fail(OpReadSysConfig, err)
	}
	if !found {
		return OK("not set", nil)
	}
	return OK("", v)
}

func (r *Router) writeSysConfig(ctx context.Context, c CallerContext, key, value string) Result {
	if err := r.settings.WriteSystem(ctx, key, value, c.PackageID); err != nil {
		return fail(OpWriteSysConfig, err)
	}
	return OK("saved", nil)
}

func (r *Router) boot(ctx context.Context, c CallerContext, command string, priority int, args string) Result {
	item, err := r.boots.Add(ctx, c.PackageID, command, priority, args)
	if err != nil {
		return fail(OpBoot, err)
	}
	return OK(item.ID, item)
}

func (r *Router) removeBoot(ctx context.Context, c CallerContext, id string) Result {
	n, err := r.boots.Remove(ctx, c.PackageID, id)
	if err != nil {
		return fail(OpRemoveBoot, err)
	}
	return OK(fmt.Sprintf("removed %d boot items", n), n)
}

func (r *Router) bootItems(ctx context.Context, c CallerContext) Result {
	items, err := r.boots.Items(ctx, c.PackageID)
	if err != nil {
		return fail(OpBootItems, err)
	}
	return OK(fmt.Sprintf("%d boot items", len(items)), items)
}

func denyTarget(c CallerContext, target string) Result {
	return Failf(KindPolicy, "%s may not access configuration of %s", c.PackageID, target)
}

func denySystem(c CallerContext) Result {
	return Failf(KindPolicy, "%s is not granted system configuration access", c.PackageID)
}

var validationErrors = []error{
	settings.ErrEmptyKey,
	settings.ErrEmptyPackage,
	protocol.ErrEmptyScheme,
	protocol.ErrEmptyPackage,
	protocol.ErrNotLinked,
	boot.ErrEmptyPackage,
	boot.ErrEmptyCommand,
}

// classify maps a service error to a failure kind.
func classify(err error) Kind {
	for _, target := range validationErrors {
		if errors.Is(err, target) {
			return KindValidation
		}
	}
	var ce *Error
	if errors.As(err, &ce) {
		return ce.Kind
	}
	return KindPersistence
}

func fail(op Operation, err error) Result {
	e := NewError(classify(err), op, err)
	return Fail(e.Kind, e.Error())
}

type callerKey struct{}

// WithCaller attaches c to ctx.
func WithCaller(ctx context.Context, c CallerContext) context.Context {
	return context.WithValue(ctx, callerKey{}, c)
}

// CallerFrom returns the caller attached to ctx by the router.
func CallerFrom(ctx context.Context) (CallerContext, bool) {
	c, ok := ctx.Value(callerKey{}).(CallerContext)
	return c, ok
}
