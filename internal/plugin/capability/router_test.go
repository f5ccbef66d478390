package capability

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dshills/phobos/internal/boot"
	"github.com/dshills/phobos/internal/plugin/manifest"
	"github.com/dshills/phobos/internal/protocol"
	"github.com/dshills/phobos/internal/settings"
	"github.com/dshills/phobos/internal/store"
)

type fixture struct {
	router    *Router
	settings  *settings.Store
	protocols *protocol.Registry
	boots     *boot.Registry
}

func newFixture(t *testing.T, policy Policy) *fixture {
	t.Helper()
	ctx := context.Background()
	db, err := store.OpenSQLite(ctx, store.MemoryPath)
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	s, err := settings.New(ctx, db)
	require.NoError(t, err)
	p, err := protocol.New(ctx, db)
	require.NoError(t, err)
	b, err := boot.New(ctx, db)
	require.NoError(t, err)

	clock := func() time.Time { return time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC) }
	r := NewRouter(s, p, b, WithPolicy(policy), WithClock(clock), WithHostVersion("2.1.0"))
	return &fixture{router: r, settings: s, protocols: p, boots: b}
}

func meta(id string) *manifest.Metadata {
	return &manifest.Metadata{Name: id, PackageID: id, Version: "1.0.0", DatabaseKey: id}
}

func TestConfigIsNamespacedByCaller(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, Policy{})

	a := f.router.Bind(meta("com.example.a"))
	b := f.router.Bind(meta("com.example.b"))

	require.True(t, a.WriteConfig(ctx, "theme", "dark", "").Success)
	require.True(t, b.WriteConfig(ctx, "theme", "light", "").Success)

	res := a.ReadConfig(ctx, "theme", "")
	require.True(t, res.Success)
	assert.Equal(t, "dark", res.Data)

	v, found, err := f.settings.Read(ctx, "com.example.b", "theme")
	require.NoError(t, err)
	assert.True(t, found)
	assert.Equal(t, "light", v)

	res = a.ReadConfig(ctx, "missing", "")
	assert.True(t, res.Success)
	assert.Nil(t, res.Data)
}

func TestConfigUsesDatabaseKey(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, Policy{})

	m := meta("com.example.a")
	m.DatabaseKey = "com.example.a.legacy"
	tbl := f.router.Bind(m)
	require.True(t, tbl.WriteConfig(ctx, "k", "v", "").Success)

	v, found, err := f.settings.Read(ctx, "com.example.a.legacy", "k")
	require.NoError(t, err)
	assert.True(t, found)
	assert.Equal(t, "v", v)

	e, err := f.settings.Entry(ctx, settings.ScopePackage, "com.example.a.legacy_k")
	require.NoError(t, err)
	assert.Equal(t, "com.example.a", e.UpdatedBy)
}

func TestForeignDatabaseKeyIsIgnored(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, Policy{})

	victim := f.router.Bind(meta("com.victim.app"))
	require.True(t, victim.WriteConfig(ctx, "token", "s3cret", "").Success)

	m := meta("com.evil.app")
	m.DatabaseKey = "com.victim.app"
	evil := f.router.Bind(m)

	res := evil.ReadConfig(ctx, "token", "")
	require.True(t, res.Success)
	assert.Nil(t, res.Data)

	require.True(t, evil.WriteConfig(ctx, "token", "stolen", "").Success)
	v, _, err := f.settings.Read(ctx, "com.evil.app", "token")
	require.NoError(t, err)
	assert.Equal(t, "stolen", v)

	require.NoError(t, f.router.Purge(ctx, "com.evil.app"))
	v, found, err := f.settings.Read(ctx, "com.victim.app", "token")
	require.NoError(t, err)
	assert.True(t, found)
	assert.Equal(t, "s3cret", v)
}

func TestCrossPackageConfigRequiresTrust(t *testing.T) {
	ctx := context.Background()
	trusted := meta("com.example.admin")
	trusted.Secret = "s3cret"
	f := newFixture(t, Policy{Tokens: map[string]string{"com.example.admin": "s3cret"}})

	untrusted := f.router.Bind(meta("com.example.a"))
	admin := f.router.Bind(trusted)
	f.router.Bind(meta("com.example.b"))

	res := untrusted.WriteConfig(ctx, "theme", "x", "com.example.b")
	assert.False(t, res.Success)
	assert.Equal(t, KindPolicy, res.Kind)

	res = untrusted.ReadConfig(ctx, "theme", "com.example.b")
	assert.False(t, res.Success)
	assert.Equal(t, KindPolicy, res.Kind)

	// Naming oneself explicitly is allowed.
	assert.True(t, untrusted.WriteConfig(ctx, "theme", "mine", "com.example.a").Success)

	require.True(t, admin.WriteConfig(ctx, "theme", "forced", "com.example.b").Success)
	v, _, err := f.settings.Read(ctx, "com.example.b", "theme")
	require.NoError(t, err)
	assert.Equal(t, "forced", v)
}

func TestWrongSecretIsUntrusted(t *testing.T) {
	f := newFixture(t, Policy{Tokens: map[string]string{"com.example.a": "right"}})
	m := meta("com.example.a")
	m.Secret = "wrong"
	assert.False(t, f.router.Trusted(m))
	m.Secret = "right"
	assert.True(t, f.router.Trusted(m))
}

func TestSystemConfigAccess(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, Policy{SystemGrants: map[string]bool{"com.example.granted": true}})

	denied := f.router.Bind(meta("com.example.a"))
	res := denied.WriteSysConfig(ctx, "locale", "fr")
	assert.False(t, res.Success)
	assert.Equal(t, KindPolicy, res.Kind)
	assert.Equal(t, KindPolicy, denied.ReadSysConfig(ctx, "locale").Kind)

	granted := f.router.Bind(meta("com.example.granted"))
	require.True(t, granted.WriteSysConfig(ctx, "locale", "fr").Success)
	res = granted.ReadSysConfig(ctx, "locale")
	require.True(t, res.Success)
	assert.Equal(t, "fr", res.Data)

	e, err := f.settings.Entry(ctx, settings.ScopeSystem, "locale")
	require.NoError(t, err)
	assert.Equal(t, "com.example.granted", e.UpdatedBy)
}

func TestValidationFailures(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, Policy{})
	tbl := f.router.Bind(meta("com.example.a"))

	res := tbl.WriteConfig(ctx, "", "v", "")
	assert.False(t, res.Success)
	assert.Equal(t, KindValidation, res.Kind)

	res = tbl.Link(ctx, protocol.Association{Protocol: ""})
	assert.Equal(t, KindValidation, res.Kind)

	res = tbl.LinkDefault(ctx, "never-linked")
	assert.Equal(t, KindValidation, res.Kind)

	res = tbl.Boot(ctx, "", 1, "")
	assert.Equal(t, KindValidation, res.Kind)
}

func TestLinkStampsCaller(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, Policy{})
	a := f.router.Bind(meta("com.example.a"))
	b := f.router.Bind(meta("com.example.b"))

	// A plugin cannot link on behalf of another package.
	res := a.Link(ctx, protocol.Association{Protocol: "MyApp", PackageID: "com.example.b", Name: "A"})
	require.True(t, res.Success)
	require.True(t, b.Link(ctx, protocol.Association{Protocol: "myapp", Name: "B"}).Success)

	handlers, err := f.protocols.Handlers(ctx, "myapp")
	require.NoError(t, err)
	require.Len(t, handlers, 2)
	assert.ElementsMatch(t,
		[]string{"com.example.a", "com.example.b"},
		[]string{handlers[0].PackageID, handlers[1].PackageID})

	require.True(t, b.LinkDefault(ctx, "MYAPP").Success)
	def, ok, err := f.protocols.Default(ctx, "myapp")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "com.example.b", def.PackageID)
}

func TestBootScopedToCaller(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, Policy{})
	a := f.router.Bind(meta("com.example.a"))
	b := f.router.Bind(meta("com.example.b"))

	res := a.Boot(ctx, "sync", 10, `{"full":true}`)
	require.True(t, res.Success)
	first := res.Data.(boot.Item)
	require.True(t, a.Boot(ctx, "warm", 5, "").Success)
	require.True(t, b.Boot(ctx, "other", 1, "").Success)

	res = a.BootItems(ctx)
	require.True(t, res.Success)
	items := res.Data.([]boot.Item)
	require.Len(t, items, 2)
	assert.Equal(t, "warm", items[0].Command)

	// b cannot remove a's item.
	res = b.RemoveBoot(ctx, first.ID)
	require.True(t, res.Success)
	assert.Equal(t, int64(0), res.Data)

	res = a.RemoveBoot(ctx, "")
	require.True(t, res.Success)
	assert.Equal(t, int64(2), res.Data)

	all, err := f.boots.All(ctx)
	require.NoError(t, err)
	require.Len(t, all, 1)
	assert.Equal(t, "com.example.b", all[0].PackageID)
}

func TestRequestDispatch(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, Policy{})
	tbl := f.router.Bind(meta("com.example.a"))

	var got []Result
	res := tbl.Request(ctx, "unknown", "", func(r Result) { got = append(got, r) })
	assert.True(t, res.Success)
	require.Len(t, got, 1)

	f.router.Handle("echo", func(ctx context.Context, c CallerContext, args string) Result {
		fromCtx, ok := CallerFrom(ctx)
		require.True(t, ok)
		assert.Equal(t, c, fromCtx)
		return OK(c.PackageID+":"+args, nil)
	})
	res = tbl.Request(ctx, "echo", "hi", nil)
	assert.True(t, res.Success)
	assert.Equal(t, "com.example.a:hi", res.Message)
	assert.Equal(t, []string{"echo"}, f.router.Commands())
}

func TestPanicsBecomeResults(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, Policy{})
	tbl := f.router.Bind(meta("com.example.a"))

	f.router.Handle("boom", func(context.Context, CallerContext, string) Result {
		panic("kaboom")
	})
	res := tbl.Request(ctx, "boom", "", nil)
	assert.False(t, res.Success)
	assert.Equal(t, KindInternal, res.Kind)

	// A panicking callback does not escape either.
	assert.NotPanics(t, func() {
		tbl.Request(ctx, "unknown", "", func(Result) { panic("callback") })
	})
}

func TestRequestPhobos(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, Policy{})
	tbl := f.router.Bind(meta("com.example.a"))

	assert.Equal(t, "2.1.0", tbl.RequestPhobos(ctx, AmbientVersion, "").Data)
	assert.Equal(t, "com.example.a", tbl.RequestPhobos(ctx, AmbientCaller, "").Data)
	assert.Equal(t, "2024-05-01T12:00:00Z", tbl.RequestPhobos(ctx, AmbientTime, "").Data)

	require.True(t, tbl.Link(ctx, protocol.Association{Protocol: "zed"}).Success)
	assert.Equal(t, []string{"zed"}, tbl.RequestPhobos(ctx, AmbientSchemes, "").Data)

	res := tbl.RequestPhobos(ctx, "nothing", "")
	assert.True(t, res.Success)
	assert.Nil(t, res.Data)

	f.router.HandleAmbient("theme", func(context.Context, CallerContext, string) Result {
		return OK("dark", "dark")
	})
	assert.Equal(t, "dark", tbl.RequestPhobos(ctx, "theme", "").Data)
}

func TestPurge(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, Policy{})
	tbl := f.router.Bind(meta("com.example.a"))

	require.True(t, tbl.WriteConfig(ctx, "k", "v", "").Success)
	require.True(t, tbl.Link(ctx, protocol.Association{Protocol: "a"}).Success)
	require.True(t, tbl.Boot(ctx, "x", 1, "").Success)

	require.NoError(t, f.router.Purge(ctx, "com.example.a"))

	keys, err := f.settings.Keys(ctx, "com.example.a")
	require.NoError(t, err)
	assert.Empty(t, keys)
	handlers, err := f.protocols.Handlers(ctx, "a")
	require.NoError(t, err)
	assert.Empty(t, handlers)
	items, err := f.boots.All(ctx)
	require.NoError(t, err)
	assert.Empty(t, items)
}

func TestInvokeAsHost(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, Policy{})

	var got CallerContext
	f.router.Handle("sync", func(_ context.Context, c CallerContext, args string) Result {
		got = c
		return OK("synced", args)
	})
	assert.True(t, f.router.HasCommand("sync"))
	assert.False(t, f.router.HasCommand("nope"))

	res := f.router.Invoke(ctx, "com.example.a", "sync", "payload")
	require.True(t, res.Success)
	assert.Equal(t, "payload", res.Data)
	assert.Equal(t, "com.example.a", got.PackageID)
	assert.True(t, got.Trusted)

	f.router.Handle("boom", func(context.Context, CallerContext, string) Result { panic("bad") })
	res = f.router.Invoke(ctx, "com.example.a", "boom", "")
	assert.False(t, res.Success)
	assert.Equal(t, KindInternal, res.Kind)
}

func TestRateLimitUntrusted(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, Policy{})

	clock := func() time.Time { return time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC) }
	r := NewRouter(f.settings, f.protocols, f.boots,
		WithClock(clock),
		WithRateLimit(2),
		WithPolicy(Policy{Tokens: map[string]string{"com.example.admin": "tok"}}),
	)

	plain := r.Bind(meta("com.example.plain"))
	require.True(t, plain.WriteConfig(ctx, "a", "1", "").Success)
	require.True(t, plain.ReadConfig(ctx, "a", "").Success)

	res := plain.ReadConfig(ctx, "a", "")
	assert.False(t, res.Success)
	assert.Equal(t, KindPolicy, res.Kind)

	admin := meta("com.example.admin")
	admin.Secret = "tok"
	trusted := r.Bind(admin)
	for i := 0; i < 5; i++ {
		require.True(t, trusted.ReadConfig(ctx, "a", "").Success)
	}

	require.NoError(t, r.Purge(ctx, "com.example.plain"))
	assert.True(t, plain.ReadConfig(ctx, "a", "").Success)
}
