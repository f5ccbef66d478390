package settings

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tidwall/gjson"
	"pgregory.net/rapid"

	"github.com/dshills/phobos/internal/store"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	ctx := context.Background()
	db, err := store.OpenSQLite(ctx, store.MemoryPath)
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	s, err := New(ctx, db, WithClock(func() time.Time { return time.UnixMilli(1_700_000_000_000) }))
	require.NoError(t, err)
	return s
}

func TestEscape(t *testing.T) {
	tests := []struct {
		in, want string
	}{
		{"plain", "plain"},
		{"a\\b", `a\\b`},
		{"line\nbreak", `line\nbreak`},
		{"cr\rtab\t", `cr\rtab\t`},
		{`say "hi"`, `say \"hi\"`},
		{"it's", `it\'s`},
		{"nul\x00end", `nul\0end`},
	}

	for _, tt := range tests {
		assert.Equal(t, tt.want, Escape(tt.in))
		assert.Equal(t, tt.in, Unescape(tt.want))
	}
}

func TestUnescapeLeavesUnknownSequences(t *testing.T) {
	assert.Equal(t, `C:\path\x`, Unescape(`C:\path\x`))
	assert.Equal(t, `trailing\`, Unescape(`trailing\`))
	assert.Equal(t, "untouched text", Unescape("untouched text"))
}

func TestEscapeRoundTrip(t *testing.T) {
	special := rapid.SampledFrom([]rune{'\\', '\n', '\r', '\t', '"', '\'', 0, 'a', 'Z', ' ', 'é', 'n', '0'})
	rapid.Check(t, func(t *rapid.T) {
		runes := rapid.SliceOf(rapid.OneOf(special, rapid.Rune())).Draw(t, "runes")
		s := string(runes)
		if got := Unescape(Escape(s)); got != s {
			t.Fatalf("Unescape(Escape(%q)) = %q", s, got)
		}
	})
}

func TestPackageReadWrite(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	_, found, err := s.Read(ctx, "com.example.app", "theme")
	require.NoError(t, err)
	assert.False(t, found)

	require.NoError(t, s.Write(ctx, "com.example.app", "theme", "dark\n\"mode\"", "com.example.app"))

	v, found, err := s.Read(ctx, "com.example.app", "theme")
	require.NoError(t, err)
	assert.True(t, found)
	assert.Equal(t, "dark\n\"mode\"", v)

	// The same key in another package is independent.
	_, found, err = s.Read(ctx, "com.example.other", "theme")
	require.NoError(t, err)
	assert.False(t, found)

	// Stored under the namespaced key.
	e, err := s.Entry(ctx, ScopePackage, "com.example.app_theme")
	require.NoError(t, err)
	assert.Equal(t, "com.example.app", e.UpdatedBy)
	assert.False(t, e.HasPrevious)
}

func TestSystemScopeIsSeparate(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	require.NoError(t, s.WriteSystem(ctx, "com.example.app_theme", "system", "host"))
	require.NoError(t, s.Write(ctx, "com.example.app", "theme", "package", "host"))

	v, _, err := s.ReadSystem(ctx, "com.example.app_theme")
	require.NoError(t, err)
	assert.Equal(t, "system", v)

	v, _, err = s.Read(ctx, "com.example.app", "theme")
	require.NoError(t, err)
	assert.Equal(t, "package", v)
}

func TestValidation(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	assert.ErrorIs(t, s.Write(ctx, "", "k", "v", "x"), ErrEmptyPackage)
	assert.ErrorIs(t, s.Write(ctx, "com.a.b", "", "v", "x"), ErrEmptyKey)
	assert.ErrorIs(t, s.WriteSystem(ctx, "", "v", "x"), ErrEmptyKey)
	_, _, err := s.ReadSystem(ctx, "")
	assert.ErrorIs(t, err, ErrEmptyKey)
}

func TestPreviousValueAndRevert(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	require.NoError(t, s.WriteSystem(ctx, "locale", "en", "host"))
	assert.ErrorIs(t, s.Revert(ctx, ScopeSystem, "locale", "host"), ErrNoPrevious)

	require.NoError(t, s.WriteSystem(ctx, "locale", "fr", "com.example.app"))

	e, err := s.Entry(ctx, ScopeSystem, "locale")
	require.NoError(t, err)
	assert.Equal(t, "fr", e.Value)
	assert.Equal(t, "en", e.Previous)
	assert.True(t, e.HasPrevious)
	assert.Equal(t, "com.example.app", e.UpdatedBy)

	require.NoError(t, s.Revert(ctx, ScopeSystem, "locale", "host"))
	v, _, err := s.ReadSystem(ctx, "locale")
	require.NoError(t, err)
	assert.Equal(t, "en", v)

	assert.ErrorIs(t, s.Revert(ctx, ScopeSystem, "missing", "host"), ErrNotFound)
}

func TestDeletePackage(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	require.NoError(t, s.Write(ctx, "com.a.b", "one", "1", "com.a.b"))
	require.NoError(t, s.Write(ctx, "com.a.b", "two", "2", "com.a.b"))
	require.NoError(t, s.Write(ctx, "com.a.bc", "one", "keep", "com.a.bc"))

	n, err := s.DeletePackage(ctx, "com.a.b")
	require.NoError(t, err)
	assert.Equal(t, int64(2), n)

	keys, err := s.Keys(ctx, "com.a.bc")
	require.NoError(t, err)
	assert.Equal(t, []string{"one"}, keys)
}

func TestExportImport(t *testing.T) {
	ctx := context.Background()
	src := newTestStore(t)

	require.NoError(t, src.Write(ctx, "com.example.app", "greeting", "hello\tworld", "com.example.app"))
	require.NoError(t, src.Write(ctx, "com.example.app", "dotted.key", "v", "com.example.app"))

	doc, err := src.Export(ctx, "com.example.app")
	require.NoError(t, err)
	assert.Equal(t, "package", gjson.GetBytes(doc, "scope").String())
	assert.Equal(t, "hello\tworld", gjson.GetBytes(doc, "values.greeting").String())

	dst := newTestStore(t)
	n, err := dst.Import(ctx, doc, "host")
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	v, found, err := dst.Read(ctx, "com.example.app", "dotted.key")
	require.NoError(t, err)
	assert.True(t, found)
	assert.Equal(t, "v", v)
}

func TestImportRejectsMalformed(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	_, err := s.Import(ctx, []byte(`not json`), "host")
	assert.ErrorIs(t, err, ErrInvalidSnapshot)

	_, err = s.Import(ctx, []byte(`{"scope":"package","values":{}}`), "host")
	assert.ErrorIs(t, err, ErrInvalidSnapshot)

	_, err = s.Import(ctx, []byte(`{"scope":"system","values":[]}`), "host")
	assert.ErrorIs(t, err, ErrInvalidSnapshot)
}
