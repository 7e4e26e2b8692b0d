package apps

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/p2p-industries/hyveos/internal/herr"
	"github.com/p2p-industries/hyveos/internal/store"
)

func newTestStore(t *testing.T) *store.Store {
	t.Helper()
	st, err := store.Open(t.TempDir())
	require.NoError(t, err)
	t.Cleanup(func() { _ = st.Close() })
	return st
}

func newTestManager(t *testing.T, managementAllowed bool) *Manager {
	t.Helper()
	return NewManager(nil, newTestStore(t), nil, nil, nil, t.TempDir(), "", nil, time.Second, managementAllowed)
}

func TestDeployLocalDeniedByManagementPolicy(t *testing.T) {
	m := newTestManager(t, false)
	_, err := m.DeployLocal(context.Background(), "some-image", nil, false)
	require.Error(t, err)
	assert.Equal(t, herr.CodeInvalidArgument, herr.CodeOf(err))
}

func TestHeartbeatUnknownApp(t *testing.T) {
	m := newTestManager(t, true)
	err := m.Heartbeat("does-not-exist")
	require.Error(t, err)
	assert.Equal(t, herr.CodeNotFound, herr.CodeOf(err))
}

func TestStopUnknownApp(t *testing.T) {
	m := newTestManager(t, true)
	err := m.Stop("does-not-exist", false)
	require.Error(t, err)
	assert.Equal(t, herr.CodeNotFound, herr.CodeOf(err))
}

// insertRunning registers a runningApp directly into m's running set with a
// stub supervisor that tears it down on the first stop signal: these tests
// exercise Heartbeat, Stop, and ListRunning in isolation from Docker and the
// swarm actor. The returned channel reports the kill flag the stub received.
func insertRunning(m *Manager, id, image, name string) (*runningApp, <-chan bool) {
	ra := &runningApp{
		app:           Application{ID: id, ImageRef: image, AppName: name},
		stopCh:        make(chan bool, 1),
		heartbeat:     make(chan struct{}, 1),
		containerDone: make(chan struct{}),
		done:          make(chan struct{}),
	}
	m.mu.Lock()
	m.running[id] = ra
	m.mu.Unlock()

	killc := make(chan bool, 1)
	go func() {
		kill := <-ra.stopCh
		killc <- kill
		m.mu.Lock()
		delete(m.running, ra.app.ID)
		m.mu.Unlock()
		close(ra.done)
	}()
	return ra, killc
}

func TestHeartbeatSignalsKnownApp(t *testing.T) {
	m := newTestManager(t, true)
	ra, _ := insertRunning(m, "app-1", "image:latest", "app-one")

	require.NoError(t, m.Heartbeat("app-1"))

	select {
	case <-ra.heartbeat:
	default:
		t.Fatal("expected heartbeat channel to receive a signal")
	}
}

func TestStopSignalsKnownApp(t *testing.T) {
	m := newTestManager(t, true)
	_, killc := insertRunning(m, "app-1", "image:latest", "app-one")

	require.NoError(t, m.Stop("app-1", true))

	select {
	case kill := <-killc:
		assert.True(t, kill)
	default:
		t.Fatal("expected stop channel to receive a signal")
	}
	assert.Empty(t, m.ListRunning())
}

func TestStopPersistentAppRemovesStartupEntry(t *testing.T) {
	m := newTestManager(t, true)
	ra, _ := insertRunning(m, "app-1", "image:latest", "app-one")
	ra.app.Persistent = true

	require.NoError(t, m.persistStartup("image:latest", []uint16{8080}))
	_, ok, err := m.store.Get(startupKey("image:latest"))
	require.NoError(t, err)
	require.True(t, ok, "startup entry should exist before Stop")

	require.NoError(t, m.Stop("app-1", false))

	_, ok, err = m.store.Get(startupKey("image:latest"))
	require.NoError(t, err)
	assert.False(t, ok, "Stop on a persistent app must remove its startup entry")
}

func TestListRunning(t *testing.T) {
	m := newTestManager(t, true)
	insertRunning(m, "app-1", "image-a:latest", "app-one")
	insertRunning(m, "app-2", "image-b:latest", "app-two")

	got := m.ListRunning()
	require.Len(t, got, 2)

	byID := make(map[string]RunningInfo, len(got))
	for _, info := range got {
		byID[info.ID] = info
	}
	assert.Equal(t, "image-a:latest", byID["app-1"].Image)
	assert.Equal(t, "app-two", byID["app-2"].Name)
}

func TestStopAllSignalsEveryRunningApp(t *testing.T) {
	m := newTestManager(t, true)
	_, kill1 := insertRunning(m, "app-1", "image-a:latest", "")
	_, kill2 := insertRunning(m, "app-2", "image-b:latest", "")

	m.StopAll()

	for id, killc := range map[string]<-chan bool{"app-1": kill1, "app-2": kill2} {
		select {
		case <-killc:
		default:
			t.Fatalf("expected %s to receive a stop signal", id)
		}
	}
	assert.Empty(t, m.ListRunning())
}

func TestPersistAndRemoveStartup(t *testing.T) {
	m := newTestManager(t, true)

	require.NoError(t, m.persistStartup("my-image:latest", []uint16{1234}))
	value, ok, err := m.store.Get(startupKey("my-image:latest"))
	require.NoError(t, err)
	require.True(t, ok)
	assert.NotEmpty(t, value)

	require.NoError(t, m.removeStartup("my-image:latest"))
	_, ok, err = m.store.Get(startupKey("my-image:latest"))
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestLoadStartupAppsWithEmptyStoreIsNoop(t *testing.T) {
	m := newTestManager(t, true)
	require.NoError(t, m.LoadStartupApps(context.Background()))
	assert.Empty(t, m.ListRunning())
}
