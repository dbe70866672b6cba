package session

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/analytics-mcp/bridge/backend"
)

func TestRegistry_CreateAssignsUniqueIds(t *testing.T) {
	registry := newTestRegistry(t)

	first := createSession(t, registry)
	second := createSession(t, registry)

	assert.NotEqual(t, first.ID, second.ID)
	require.NoError(t, uuid.Validate(first.ID))
	assert.Equal(t, 2, registry.Size())

	got, ok := registry.Get(first.ID)
	require.True(t, ok)
	assert.Same(t, first, got)
	assert.Equal(t, StateActive, got.State())
}

func TestRegistry_GetUnknown(t *testing.T) {
	registry := newTestRegistry(t)
	_, ok := registry.Get(uuid.NewString())
	assert.False(t, ok)
	assert.False(t, registry.Touch(uuid.NewString()))
}

func TestRegistry_CreateSpawnFailure(t *testing.T) {
	registry := New(backend.Config{Command: "/nonexistent/backend-binary"}, WithSweepInterval(time.Hour))
	t.Cleanup(registry.Close)

	_, err := registry.Create(context.Background())
	require.Error(t, err)
	assert.Zero(t, registry.Size())
}

func TestRegistry_DestroyIsIdempotent(t *testing.T) {
	registry := newTestRegistry(t)
	sess := createSession(t, registry)

	registry.Destroy(sess.ID)
	registry.Destroy(sess.ID)

	_, ok := registry.Get(sess.ID)
	assert.False(t, ok)
	assert.Equal(t, StateClosed, sess.State())

	select {
	case <-sess.Done():
	case <-time.After(5 * time.Second):
		t.Fatal("destroyed session did not close")
	}
	assert.True(t, sess.Backend().Exited() || waitExit(sess))
}

func waitExit(s *Session) bool {
	select {
	case <-s.Backend().Done():
		return true
	case <-time.After(5 * time.Second):
		return false
	}
}

func TestRegistry_SweepDestroysIdleOnly(t *testing.T) {
	registry := newTestRegistry(t, WithIdleThreshold(time.Minute))
	idle := createSession(t, registry)
	busy := createSession(t, registry)

	// Simulate the busy session seeing traffic just now by touching it
	// against a sweep clock one threshold in the future.
	future := time.Now().Add(time.Minute + time.Second)
	busy.mu.Lock()
	busy.lastActivity = future
	busy.mu.Unlock()

	registry.sweep(future)

	_, ok := registry.Get(idle.ID)
	assert.False(t, ok, "idle session should be reaped")
	_, ok = registry.Get(busy.ID)
	assert.True(t, ok, "active session should survive the sweep")
}

func TestRegistry_SweepKeepsFreshSessions(t *testing.T) {
	registry := newTestRegistry(t, WithIdleThreshold(time.Minute))
	sess := createSession(t, registry)

	registry.sweep(time.Now())

	_, ok := registry.Get(sess.ID)
	assert.True(t, ok)
}

func TestRegistry_CloseDestroysAll(t *testing.T) {
	registry := newTestRegistry(t)
	first := createSession(t, registry)
	second := createSession(t, registry)

	registry.Close()

	assert.Zero(t, registry.Size())
	assert.Equal(t, StateClosed, first.State())
	assert.Equal(t, StateClosed, second.State())

	// Closing again is a no-op.
	registry.Close()
}
