// ABOUTME: Tests for the in-memory session store
// ABOUTME: Covers creation, lookup, scope containment, and aliasing safety

package session

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCreateAndGet(t *testing.T) {
	store := NewStore()

	sess := store.Create("2025-06-18", []string{"pulls:read"})
	require.NotEmpty(t, sess.ID)
	assert.Equal(t, "2025-06-18", sess.ProtocolVersion)
	assert.False(t, sess.CreatedAt.IsZero())

	got, ok := store.Get(sess.ID)
	require.True(t, ok)
	assert.Same(t, sess, got)
	assert.Equal(t, 1, store.Count())
}

func TestGet_UnknownID(t *testing.T) {
	store := NewStore()

	_, ok := store.Get("never-issued")
	assert.False(t, ok)
}

func TestCreate_UniqueIDs(t *testing.T) {
	store := NewStore()

	a := store.Create("2025-06-18", nil)
	b := store.Create("2025-06-18", nil)
	assert.NotEqual(t, a.ID, b.ID)
	assert.Equal(t, 2, store.Count())
}

func TestCreate_CopiesScopes(t *testing.T) {
	store := NewStore()

	scopes := []string{"pulls:read"}
	sess := store.Create("2025-06-18", scopes)
	scopes[0] = "mutated"

	assert.Equal(t, []string{"pulls:read"}, sess.Scopes)
}

func TestHasScopes(t *testing.T) {
	sess := &Session{Scopes: []string{"pulls:read", "pulls:write"}}

	assert.True(t, sess.HasScopes(nil))
	assert.True(t, sess.HasScopes([]string{"pulls:read"}))
	assert.True(t, sess.HasScopes([]string{"pulls:read", "pulls:write"}))
	assert.False(t, sess.HasScopes([]string{"actions:write"}))
	assert.False(t, sess.HasScopes([]string{"pulls:read", "actions:write"}))

	empty := &Session{}
	assert.True(t, empty.HasScopes(nil))
	assert.False(t, empty.HasScopes([]string{"pulls:read"}))
}
