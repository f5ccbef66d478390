package app

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tidwall/gjson"

	"github.com/dshills/phobos/internal/config"
	"github.com/dshills/phobos/internal/event"
	"github.com/dshills/phobos/internal/hotkey"
	"github.com/dshills/phobos/internal/logging"
	"github.com/dshills/phobos/internal/plugin"
	"github.com/dshills/phobos/internal/plugin/capability"
	"github.com/dshills/phobos/internal/protocol"
	"github.com/dshills/phobos/internal/store"
)

type fakePump struct {
	mu    sync.Mutex
	hook  hotkey.MessageHook
	bound map[int]bool
}

func newFakePump() *fakePump {
	return &fakePump{bound: make(map[int]bool)}
}

func (p *fakePump) Handle() uintptr { return 0 }

func (p *fakePump) SetHook(h hotkey.MessageHook) {
	p.mu.Lock()
	p.hook = h
	p.mu.Unlock()
}

func (p *fakePump) Bind(_ uintptr, id int, _, _ uint32) error {
	p.mu.Lock()
	p.bound[id] = true
	p.mu.Unlock()
	return nil
}

func (p *fakePump) Unbind(_ uintptr, id int) error {
	p.mu.Lock()
	delete(p.bound, id)
	p.mu.Unlock()
	return nil
}

func (p *fakePump) Run(ctx context.Context) error {
	<-ctx.Done()
	return ctx.Err()
}

func (p *fakePump) fire(id int) bool {
	p.mu.Lock()
	h := p.hook
	p.mu.Unlock()
	if h == nil {
		return false
	}
	return h(hotkey.WMHotkey, uintptr(id), 0)
}

func (p *fakePump) boundCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.bound)
}

type recorder struct {
	mu     sync.Mutex
	events []event.Event
}

func record(t *testing.T, bus *event.Bus, pattern event.Topic) *recorder {
	t.Helper()
	r := &recorder{}
	_, err := bus.Subscribe(pattern, func(_ context.Context, ev event.Event) error {
		r.mu.Lock()
		r.events = append(r.events, ev)
		r.mu.Unlock()
		return nil
	})
	require.NoError(t, err)
	return r
}

func (r *recorder) all() []event.Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]event.Event(nil), r.events...)
}

func writeLuaPlugin(t *testing.T, root, name, packageID, script string) {
	t.Helper()
	dir := filepath.Join(root, name)
	require.NoError(t, os.MkdirAll(dir, 0o755))
	manifest := `{"name": "` + name + `", "packageId": "` + packageID + `", "version": "1.0.0"}`
	require.NoError(t, os.WriteFile(filepath.Join(dir, "plugin.json"), []byte(manifest), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "init.lua"), []byte(script), 0o644))
}

func testConfig(pluginDir string) *config.Config {
	cfg := config.Default()
	cfg.Store.Path = store.MemoryPath
	cfg.Plugins.Paths = []string{pluginDir}
	cfg.Plugins.Watch = false
	cfg.Host.Version = "1.2.3"
	return cfg
}

func newTestApp(t *testing.T, cfg *config.Config, opts Options) *Application {
	t.Helper()
	opts.Config = cfg
	opts.Logger = logging.Nop()
	app, err := New(context.Background(), opts)
	require.NoError(t, err)
	t.Cleanup(func() { _ = app.Shutdown(context.Background()) })
	return app
}

const mailer = `
function install()
	phobos.link({protocol = "mail", name = "Mailer", command = "compose"})
	phobos.link_default("mail")
end

function run(args)
	return {success = true, message = args}
end
`

func TestOpenDispatchesToDefault(t *testing.T) {
	ctx := context.Background()
	root := t.TempDir()
	writeLuaPlugin(t, root, "mailer", "com.example.mailer", mailer)

	app := newTestApp(t, testConfig(root), Options{})
	events := record(t, app.Bus(), "protocol.*")
	require.NoError(t, app.LoadPlugins(ctx))

	res, err := app.Open(ctx, "MAIL:bob@example.com")
	require.NoError(t, err)
	require.True(t, res.Success)
	assert.Equal(t, "MAIL:bob@example.com", gjson.Get(res.Message, "url").String())
	assert.Equal(t, "mail", gjson.Get(res.Message, "scheme").String())
	assert.Equal(t, "compose", gjson.Get(res.Message, "command").String())

	got := events.all()
	require.Len(t, got, 1)
	ev := got[0].Payload.(DispatchEvent)
	assert.Equal(t, "com.example.mailer", ev.PackageID)
	assert.True(t, ev.Success)
	assert.False(t, ev.Prompted)
}

func TestOpenNeedsSelection(t *testing.T) {
	ctx := context.Background()
	root := t.TempDir()
	linker := `function install() phobos.link({protocol = "web", name = "B"}) end
function run(args) return args end`
	writeLuaPlugin(t, root, "a", "com.example.a", linker)
	writeLuaPlugin(t, root, "b", "com.example.b", linker)

	app := newTestApp(t, testConfig(root), Options{})
	require.NoError(t, app.LoadPlugins(ctx))

	_, err := app.Open(ctx, "web://example.com")
	var sel *protocol.SelectionError
	require.ErrorAs(t, err, &sel)
	assert.Len(t, sel.Candidates, 2)

	_, err = app.Open(ctx, "nothing://here")
	assert.ErrorIs(t, err, protocol.ErrNoHandler)
}

func TestOpenWithChooserRemembers(t *testing.T) {
	ctx := context.Background()
	root := t.TempDir()
	linker := `function install() phobos.link({protocol = "web", name = "B"}) end
function run(args) return "handled" end`
	writeLuaPlugin(t, root, "a", "com.example.a", linker)
	writeLuaPlugin(t, root, "b", "com.example.b", linker)

	asked := 0
	chooser := protocol.ChooserFunc(func(_ context.Context, _ string, candidates []protocol.Handler) (protocol.Handler, bool, error) {
		asked++
		for _, c := range candidates {
			if c.PackageID == "com.example.b" {
				return c, true, nil
			}
		}
		return protocol.Handler{}, false, nil
	})

	app := newTestApp(t, testConfig(root), Options{Chooser: chooser})
	require.NoError(t, app.LoadPlugins(ctx))

	res, err := app.Open(ctx, "web://one")
	require.NoError(t, err)
	assert.Equal(t, "handled", res.Message)

	// The remembered choice is now the default.
	_, err = app.Open(ctx, "web://two")
	require.NoError(t, err)
	assert.Equal(t, 1, asked)

	h, ok, err := app.Protocols().Default(ctx, "web")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "com.example.b", h.PackageID)
}

func TestOpenFromPluginAvoidsSelfDispatch(t *testing.T) {
	ctx := context.Background()
	root := t.TempDir()
	writeLuaPlugin(t, root, "mailer", "com.example.mailer", `
function install()
	phobos.link({protocol = "mail", name = "Mailer"})
	phobos.link_default("mail")
end
function run(args)
	if args == "loop" then
		local r = phobos.request("open", "mail:self")
		return {success = true, message = r.kind}
	end
	return "mailed"
end
`)
	writeLuaPlugin(t, root, "caller", "com.example.caller", `
function run(args)
	local r = phobos.request("open", "mail:someone")
	return {success = r.success, message = r.message}
end
`)

	app := newTestApp(t, testConfig(root), Options{})
	require.NoError(t, app.LoadPlugins(ctx))

	res, err := app.Manager().Run(ctx, "com.example.caller", "")
	require.NoError(t, err)
	assert.True(t, res.Success)
	assert.Equal(t, "mailed", res.Message)

	res, err = app.Manager().Run(ctx, "com.example.mailer", "loop")
	require.NoError(t, err)
	assert.Equal(t, "conflict", res.Message)
}

func TestBootSequence(t *testing.T) {
	ctx := context.Background()
	root := t.TempDir()
	writeLuaPlugin(t, root, "booter", "com.example.booter", `
function install()
	phobos.boot("warm", 10, {level = 2})
	phobos.boot("fail", 20)
	phobos.boot("plugins", 30)
end

function run(args)
	if string.find(args, '"command":"fail"', 1, true) then
		return false, "refused"
	end
	phobos.write_config("last_boot", args)
	return true
end
`)

	app := newTestApp(t, testConfig(root), Options{})
	events := record(t, app.Bus(), event.TopicBootCompleted)
	require.NoError(t, app.LoadPlugins(ctx))

	rep, err := app.Boot(ctx)
	require.NoError(t, err)
	require.Len(t, rep.Ran, 2)
	assert.Equal(t, "warm", rep.Ran[0].Command)
	assert.Equal(t, "plugins", rep.Ran[1].Command)
	require.Len(t, rep.Failed, 1)
	assert.Equal(t, "fail", rep.Failed[0].Item.Command)
	assert.Contains(t, rep.Failed[0].Err.Error(), "refused")

	last, found, err := app.Settings().Read(ctx, "com.example.booter", "last_boot")
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, "warm", gjson.Get(last, "command").String())
	assert.Equal(t, int64(2), gjson.Get(last, "args.level").Int())

	assert.Len(t, events.all(), 1)
}

func TestHotkeysRunCommands(t *testing.T) {
	root := t.TempDir()
	cfg := testConfig(root)
	cfg.Hotkeys.Bindings = []config.HotkeyBinding{
		{ID: "list", Combo: "ctrl+alt+p", Command: CommandPlugins},
		{ID: "ghost", Combo: "ctrl+alt+g", Command: "does.not.exist"},
	}

	pump := newFakePump()
	app := newTestApp(t, cfg, Options{Pump: pump})
	events := record(t, app.Bus(), event.TopicHotkeyFired)

	assert.Equal(t, 2, app.BindHotkeys())
	assert.Equal(t, 2, pump.boundCount())

	info, ok := app.Hotkeys().Lookup("list")
	require.True(t, ok)
	assert.True(t, pump.fire(info.OSID()))

	info, ok = app.Hotkeys().Lookup("ghost")
	require.True(t, ok)
	assert.True(t, pump.fire(info.OSID()))

	got := events.all()
	require.Len(t, got, 2)
	assert.Equal(t, HotkeyEvent{ID: "list", Command: CommandPlugins, Success: true}, got[0].Payload)
	assert.Equal(t, HotkeyEvent{ID: "ghost", Command: "does.not.exist", Success: false}, got[1].Payload)

	require.NoError(t, app.Shutdown(context.Background()))
	assert.Equal(t, 0, pump.boundCount())
}

func TestExecute(t *testing.T) {
	ctx := context.Background()
	root := t.TempDir()
	writeLuaPlugin(t, root, "echo", "com.example.echo", `function run(args) return "echo " .. args end`)

	app := newTestApp(t, testConfig(root), Options{})
	require.NoError(t, app.LoadPlugins(ctx))

	res, err := app.Execute(ctx, "com.example.echo", "hi")
	require.NoError(t, err)
	assert.Equal(t, "echo hi", res.Message)

	res, err = app.Execute(ctx, CommandPlugins, "")
	require.NoError(t, err)
	statuses, ok := res.Data.([]plugin.Status)
	require.True(t, ok)
	require.Len(t, statuses, 1)
	assert.Equal(t, plugin.StateRunning, statuses[0].State)

	_, err = app.Execute(ctx, "nope", "")
	assert.ErrorIs(t, err, ErrUnknownCommand)
}

func TestHostVersionAndTrust(t *testing.T) {
	ctx := context.Background()
	root := t.TempDir()
	dir := filepath.Join(root, "admin")
	require.NoError(t, os.MkdirAll(dir, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "plugin.json"), []byte(`{
		"name": "admin", "packageId": "com.example.admin", "version": "1.0.0", "secret": "s3cret"
	}`), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "init.lua"), []byte(`
function run()
	local v = phobos.request_phobos("version")
	local w = phobos.write_sys_config("locale", "fr")
	return {success = w.success, message = v.data}
end
`), 0o644))

	cfg := testConfig(root)
	cfg.Trust.Tokens = map[string]string{"com.example.admin": "s3cret"}
	app := newTestApp(t, cfg, Options{})
	require.NoError(t, app.LoadPlugins(ctx))

	res, err := app.Execute(ctx, "com.example.admin", "")
	require.NoError(t, err)
	assert.True(t, res.Success)
	assert.Equal(t, "1.2.3", res.Message)

	v, found, err := app.Settings().ReadSystem(ctx, "locale")
	require.NoError(t, err)
	assert.True(t, found)
	assert.Equal(t, "fr", v)
}

func TestRunUntilCanceled(t *testing.T) {
	root := t.TempDir()
	writeLuaPlugin(t, root, "mailer", "com.example.mailer", mailer)

	pump := newFakePump()
	app := newTestApp(t, testConfig(root), Options{Pump: pump})
	launched := record(t, app.Bus(), event.TopicPluginLaunched)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- app.Run(ctx) }()

	require.Eventually(t, func() bool { return len(launched.all()) == 1 }, 3*time.Second, 10*time.Millisecond)
	assert.ErrorIs(t, app.Run(ctx), ErrAlreadyRunning)

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("Run did not return after cancel")
	}

	assert.ErrorIs(t, app.LoadPlugins(context.Background()), ErrClosed)
	assert.NoError(t, app.Shutdown(context.Background()))
}

func TestRunHotReloadStopsBeforeShutdown(t *testing.T) {
	root := t.TempDir()
	writeLuaPlugin(t, root, "mailer", "com.example.mailer", mailer)

	cfg := testConfig(root)
	cfg.Plugins.Watch = true
	app := newTestApp(t, cfg, Options{})
	launched := record(t, app.Bus(), event.TopicPluginLaunched)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- app.Run(ctx) }()

	require.Eventually(t, func() bool { return len(launched.all()) == 1 }, 3*time.Second, 10*time.Millisecond)
	// Give the watcher a moment to register the root.
	time.Sleep(100 * time.Millisecond)
	writeLuaPlugin(t, root, "notes", "com.example.notes", "")
	require.Eventually(t, func() bool { return len(launched.all()) == 2 }, 5*time.Second, 20*time.Millisecond)

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("Run did not return after cancel")
	}

	for _, id := range []string{"com.example.mailer", "com.example.notes"} {
		state, ok := app.Manager().State(id)
		require.True(t, ok, id)
		assert.Equal(t, plugin.StateInstalled, state, id)
	}
}

func TestNewFailsOnBadStore(t *testing.T) {
	file := filepath.Join(t.TempDir(), "file")
	require.NoError(t, os.WriteFile(file, nil, 0o644))

	cfg := testConfig(t.TempDir())
	cfg.Store.Path = filepath.Join(file, "sub", "phobos.db")

	_, err := New(context.Background(), Options{Config: cfg, Logger: logging.Nop()})
	var ie *InitError
	require.ErrorAs(t, err, &ie)
	assert.Equal(t, "store", ie.Component)
}

func TestDispatchKind(t *testing.T) {
	assert.Equal(t, capability.KindValidation, dispatchKind(&DispatchError{Err: protocol.ErrNoHandler}))
	assert.Equal(t, capability.KindConflict, dispatchKind(&DispatchError{Err: ErrReentrant}))
	assert.Equal(t, capability.KindConflict, dispatchKind(plugin.ErrNotRunning))
}
