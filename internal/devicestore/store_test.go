package devicestore

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeDevices(t *testing.T, dir string, body string) string {
	t.Helper()
	path := filepath.Join(dir, "devices.json")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
	return path
}

func TestLoadParsesDevicesAndKeys(t *testing.T) {
	dir := t.TempDir()
	devicesPath := writeDevices(t, dir, `[
		{"id": "aa:bb:cc:dd:ee:ff", "kind": "AppleAACP", "display_name": "AirPods Pro",
		 "keys": {"irk": [1,2,3,4,5,6,7,8,9,10,11,12,13,14,15,16],
		          "enc_key": [16,15,14,13,12,11,10,9,8,7,6,5,4,3,2,1]}}
	]`)
	preferencesPath := filepath.Join(dir, "preferences.json")

	store, err := Load(devicesPath, preferencesPath)
	require.NoError(t, err)

	record, ok := store.Get("aa:bb:cc:dd:ee:ff")
	require.True(t, ok)
	assert.Equal(t, "AirPods Pro", record.DisplayName)
	assert.True(t, store.AutoConnect("aa:bb:cc:dd:ee:ff"))

	keys := store.KnownKeys()
	require.Contains(t, keys, "aa:bb:cc:dd:ee:ff")
	assert.Equal(t, byte(1), keys["aa:bb:cc:dd:ee:ff"][0][0])
}

func TestLoadAcceptsHexEncodedKeys(t *testing.T) {
	dir := t.TempDir()
	devicesPath := writeDevices(t, dir, `[
		{"id": "aa:bb:cc:dd:ee:ff", "kind": "AppleAACP", "display_name": "AirPods",
		 "keys": {"irk": "9efb13f889124c836b1a3f9102ad6e5d",
		          "enc_key": "000102030405060708090a0b0c0d0e0f"}}
	]`)

	store, err := Load(devicesPath, filepath.Join(dir, "prefs.json"))
	require.NoError(t, err)

	keys := store.KnownKeys()
	require.Contains(t, keys, "aa:bb:cc:dd:ee:ff")
	assert.Equal(t, byte(0x9e), keys["aa:bb:cc:dd:ee:ff"][0][0])
	assert.Equal(t, byte(0x0f), keys["aa:bb:cc:dd:ee:ff"][1][15])
}

func TestLoadSkipsWrongLengthKeysWithoutFailing(t *testing.T) {
	dir := t.TempDir()
	devicesPath := writeDevices(t, dir, `[
		{"id": "aa:bb:cc:dd:ee:ff", "kind": "AppleAACP", "display_name": "Bad Keys",
		 "keys": {"irk": [1,2,3], "enc_key": [1,2,3]}}
	]`)

	store, err := Load(devicesPath, filepath.Join(dir, "prefs.json"))
	require.NoError(t, err)

	// The record survives; only its unusable keys are dropped.
	record, ok := store.Get("aa:bb:cc:dd:ee:ff")
	require.True(t, ok)
	assert.Nil(t, record.Keys)
	assert.Empty(t, store.KnownKeys())
}

func TestLoadMissingPreferencesIsNotAnError(t *testing.T) {
	dir := t.TempDir()
	devicesPath := writeDevices(t, dir, `[]`)
	store, err := Load(devicesPath, filepath.Join(dir, "missing.json"))
	require.NoError(t, err)
	assert.Empty(t, store.All())
}

func TestLoadMissingDevicesIsAnError(t *testing.T) {
	dir := t.TempDir()
	_, err := Load(filepath.Join(dir, "missing.json"), filepath.Join(dir, "prefs.json"))
	assert.Error(t, err)
}

func TestUpdateDeviceInfoPersistsAndIgnoresUnknownDevice(t *testing.T) {
	dir := t.TempDir()
	devicesPath := writeDevices(t, dir, `[{"id": "aa:bb:cc:dd:ee:ff", "kind": "AppleAACP", "display_name": "AirPods Pro"}]`)
	store, err := Load(devicesPath, filepath.Join(dir, "prefs.json"))
	require.NoError(t, err)

	require.NoError(t, store.UpdateDeviceInfo("aa:bb:cc:dd:ee:ff", "", "SERIAL1", "1.0", "2.0", "HW1"))
	record, _ := store.Get("aa:bb:cc:dd:ee:ff")
	assert.Equal(t, "SERIAL1", record.SerialNumber)
	assert.Equal(t, "AirPods Pro", record.DisplayName)

	require.NoError(t, store.UpdateDeviceInfo("unknown", "x", "y", "z", "w", "v"))

	reloaded, err := Load(devicesPath, filepath.Join(dir, "prefs.json"))
	require.NoError(t, err)
	record, _ = reloaded.Get("aa:bb:cc:dd:ee:ff")
	assert.Equal(t, "SERIAL1", record.SerialNumber)
	_, ok := reloaded.Get("unknown")
	assert.False(t, ok)
}
