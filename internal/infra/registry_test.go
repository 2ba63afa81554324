package infra

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/eliteGoblin/focusd/patmon/internal/domain"
)

func TestFileInstanceRegistry_AcquireAndGet(t *testing.T) {
	path := filepath.Join(t.TempDir(), "data", "instance.json")
	pm := newMockProcessManager()
	registry := NewFileInstanceRegistry(path, pm)

	err := registry.Acquire(domain.InstanceState{
		PID:        12345,
		SourceMode: "native",
		Roots:      []string{"/src"},
		AppVersion: "1.0.0",
	})
	require.NoError(t, err)
	defer registry.Release()

	state, err := registry.Get()
	require.NoError(t, err)
	require.NotNil(t, state)
	assert.Equal(t, 12345, state.PID)
	assert.Equal(t, "native", state.SourceMode)
	assert.Equal(t, []string{"/src"}, state.Roots)
	assert.NotZero(t, state.LastHeartbeat)
	assert.False(t, state.StartedAt.IsZero())
}

func TestFileInstanceRegistry_SecondAcquireFails(t *testing.T) {
	path := filepath.Join(t.TempDir(), "instance.json")
	pm := newMockProcessManager()

	first := NewFileInstanceRegistry(path, pm)
	require.NoError(t, first.Acquire(domain.InstanceState{PID: 100}))
	defer first.Release()

	second := NewFileInstanceRegistry(path, pm)
	err := second.Acquire(domain.InstanceState{PID: 200})
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrInstanceRunning))
	assert.Contains(t, err.Error(), "pid 100")
}

func TestFileInstanceRegistry_ReleaseAllowsReacquire(t *testing.T) {
	path := filepath.Join(t.TempDir(), "instance.json")
	pm := newMockProcessManager()

	first := NewFileInstanceRegistry(path, pm)
	require.NoError(t, first.Acquire(domain.InstanceState{PID: 100}))
	require.NoError(t, first.Release())

	state, err := first.Get()
	require.NoError(t, err)
	assert.Nil(t, state, "state file removed on release")

	second := NewFileInstanceRegistry(path, pm)
	require.NoError(t, second.Acquire(domain.InstanceState{PID: 200}))
	require.NoError(t, second.Release())
}

func TestFileInstanceRegistry_UpdateHeartbeat(t *testing.T) {
	path := filepath.Join(t.TempDir(), "instance.json")
	registry := NewFileInstanceRegistry(path, newMockProcessManager())

	clock := time.Unix(1000, 0)
	registry.now = func() time.Time { return clock }
	require.NoError(t, registry.Acquire(domain.InstanceState{PID: 1}))
	defer registry.Release()

	clock = time.Unix(2000, 0)
	require.NoError(t, registry.UpdateHeartbeat())

	state, err := registry.Get()
	require.NoError(t, err)
	assert.Equal(t, int64(2000), state.LastHeartbeat)
}

func TestFileInstanceRegistry_UpdateHeartbeatWithoutState(t *testing.T) {
	registry := NewFileInstanceRegistry(filepath.Join(t.TempDir(), "instance.json"), newMockProcessManager())
	assert.Error(t, registry.UpdateHeartbeat())
}

func TestFileInstanceRegistry_IsAlive(t *testing.T) {
	path := filepath.Join(t.TempDir(), "instance.json")
	pm := newMockProcessManager()
	registry := NewFileInstanceRegistry(path, pm)

	alive, err := registry.IsAlive()
	require.NoError(t, err)
	assert.False(t, alive, "no state means not alive")

	require.NoError(t, registry.Acquire(domain.InstanceState{PID: 4242}))
	defer registry.Release()

	alive, _ = registry.IsAlive()
	assert.False(t, alive)

	pm.SetRunning(4242, true)
	alive, _ = registry.IsAlive()
	assert.True(t, alive)
}

func TestFileInstanceRegistry_CorruptedFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "instance.json")
	require.NoError(t, os.WriteFile(path, []byte("not json"), 0600))

	registry := NewFileInstanceRegistry(path, newMockProcessManager())
	_, err := registry.Get()
	assert.Error(t, err)
}
