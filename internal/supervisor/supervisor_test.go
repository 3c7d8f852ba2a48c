package supervisor

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"airpodsd/internal/devicestore"
	"airpodsd/internal/eventbus"
)

func newTestStore(t *testing.T, records []devicestore.Record) *devicestore.Store {
	t.Helper()
	dir := t.TempDir()
	devicesPath := filepath.Join(dir, "devices.json")
	raw, err := json.Marshal(records)
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(devicesPath, raw, 0o644))

	store, err := devicestore.Load(devicesPath, filepath.Join(dir, "preferences.json"))
	require.NoError(t, err)
	return store
}

func TestLinkUpUnknownDeviceIDReturnsError(t *testing.T) {
	store := newTestStore(t, nil)
	sup := New(store, eventbus.New(nil), nil)

	err := sup.LinkUp(context.Background(), "missing-device", "aa:bb:cc:dd:ee:ff")
	assert.Error(t, err)
}

func TestLinkUpUnknownKindReturnsError(t *testing.T) {
	store := newTestStore(t, []devicestore.Record{
		{ID: "dev-1", Kind: devicestore.DeviceKind("Unknown")},
	})
	sup := New(store, eventbus.New(nil), nil)

	err := sup.LinkUp(context.Background(), "dev-1", "aa:bb:cc:dd:ee:ff")
	assert.Error(t, err)

	_, ok := sup.Get("dev-1")
	assert.False(t, ok)
}

func TestLinkUpKeepsExistingSession(t *testing.T) {
	store := newTestStore(t, []devicestore.Record{
		{ID: "dev-1", Kind: devicestore.KindAppleAACP},
	})
	sup := New(store, eventbus.New(nil), nil)

	existing := &Entry{DeviceID: "dev-1", Kind: devicestore.KindAppleAACP}
	sup.mu.Lock()
	sup.sessions["dev-1"] = existing
	sup.mu.Unlock()

	// A repeated link-up must not dial a new session for a device that
	// already has one; it returns without touching the registry.
	require.NoError(t, sup.LinkUp(context.Background(), "dev-1", "aa:bb:cc:dd:ee:ff"))

	entry, ok := sup.Get("dev-1")
	require.True(t, ok)
	assert.Same(t, existing, entry)
}

func TestLinkDownOnUnknownDeviceIsNoop(t *testing.T) {
	store := newTestStore(t, nil)
	sup := New(store, eventbus.New(nil), nil)

	assert.NotPanics(t, func() { sup.LinkDown("never-linked") })
}

func TestAllReflectsRegistryContents(t *testing.T) {
	store := newTestStore(t, nil)
	sup := New(store, eventbus.New(nil), nil)

	assert.Empty(t, sup.All())

	sup.mu.Lock()
	sup.sessions["dev-1"] = &Entry{DeviceID: "dev-1", Kind: devicestore.KindAppleAACP}
	sup.mu.Unlock()

	all := sup.All()
	require.Len(t, all, 1)
	assert.Equal(t, "dev-1", all[0].DeviceID)

	entry, ok := sup.Get("dev-1")
	require.True(t, ok)
	assert.Equal(t, devicestore.KindAppleAACP, entry.Kind)
}

func TestLinkDownRemovesEntryAndPurgesBus(t *testing.T) {
	store := newTestStore(t, nil)
	bus := eventbus.New(nil)
	sup := New(store, bus, nil)

	bus.DeviceConnected("dev-1", string(devicestore.KindAppleAACP))
	sup.mu.Lock()
	sup.sessions["dev-1"] = &Entry{DeviceID: "dev-1", Kind: devicestore.KindAppleAACP}
	sup.mu.Unlock()

	sup.LinkDown("dev-1")

	_, ok := sup.Get("dev-1")
	assert.False(t, ok)
	_, stillThere := bus.Snapshot()["dev-1"]
	assert.False(t, stillThere)
}
