package namespace

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestSanitize(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"alice", "alice"},
		{"Alice-b_2", "Alice-b_2"},
		{"a.b@c", "a_b_c"},
		{"../../etc", "______etc"},
		{"搜索", ""},
		{"", ""},
		{"!!!", ""},
	}
	for _, tt := range tests {
		require.Equal(t, tt.want, Sanitize(tt.in), "input %q", tt.in)
	}
}

func TestDerive(t *testing.T) {
	ns, err := Derive("base", WithThread("alice", 7))
	require.NoError(t, err)
	require.Equal(t, filepath.Join("base", "alice", "chroma_thread_7"), ns.Dir)
	require.Equal(t, "teacher_agent_alice_thread_7", ns.Collection)

	ns, err = Derive("base", ForUser("alice"))
	require.NoError(t, err)
	require.Equal(t, filepath.Join("base", "alice", "chroma_user"), ns.Dir)
	require.Equal(t, "teacher_agent_alice", ns.Collection)
}

func TestDeriveInvalidIdentifier(t *testing.T) {
	_, err := Derive("base", ForUser("@@@"))
	require.ErrorIs(t, err, ErrInvalidIdentifier)

	_, err = Derive("base", ForUser(""))
	require.ErrorIs(t, err, ErrInvalidIdentifier)
}

func TestDeriveDistinctKeysNeverCollide(t *testing.T) {
	keys := []Key{
		ForUser("alice"),
		WithThread("alice", 1),
		WithThread("alice", 2),
		ForUser("bob"),
		WithThread("bob", 1),
	}
	dirs := map[string]Key{}
	collections := map[string]Key{}
	for _, k := range keys {
		ns, err := Derive("base", k)
		require.NoError(t, err)
		if prev, dup := dirs[ns.Dir]; dup {
			t.Fatalf("keys %v and %v derived the same dir %q", prev, k, ns.Dir)
		}
		if prev, dup := collections[ns.Collection]; dup {
			t.Fatalf("keys %v and %v derived the same collection %q", prev, k, ns.Collection)
		}
		dirs[ns.Dir] = k
		collections[ns.Collection] = k
	}
}

func TestDeriveIsDeterministic(t *testing.T) {
	a, err := Derive("base", WithThread("carol", 42))
	require.NoError(t, err)
	b, err := Derive("base", WithThread("carol", 42))
	require.NoError(t, err)
	require.Equal(t, a, b)
}

func TestParseLegacyIdentifier(t *testing.T) {
	k := ParseLegacyIdentifier("alice__thread_12")
	require.Equal(t, "alice", k.Username)
	require.NotNil(t, k.ThreadID)
	require.Equal(t, int64(12), *k.ThreadID)

	k = ParseLegacyIdentifier("alice")
	require.Equal(t, "alice", k.Username)
	require.Nil(t, k.ThreadID)

	// Non-numeric suffix falls back to a plain username.
	k = ParseLegacyIdentifier("alice__thread_x")
	require.Equal(t, "alice__thread_x", k.Username)
	require.Nil(t, k.ThreadID)
}
