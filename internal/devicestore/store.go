// Package devicestore reads the externally-owned device and preference
// catalogs this daemon treats as read-only configuration: devices.json
// (which devices exist, and their proximity-pairing keys) and
// preferences.json (per-device auto-connect opt-in). Both files are written
// by the pairing/setup tooling this daemon never runs itself.
//
// The one write this package performs is caching newly-learned DeviceInfo
// fields (name, serial number, firmware versions) back into devices.json,
// the same "the daemon enriches what it's told, but never invents devices"
// contract the original implementation's device store keeps.
package devicestore

import (
	"encoding/hex"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
)

// DeviceKind distinguishes which session layer a record needs.
type DeviceKind string

const (
	KindAppleAACP  DeviceKind = "AppleAACP"
	KindNothingATT DeviceKind = "NothingATT"
)

// Keys is a device's proximity-pairing identity, when known.
type Keys struct {
	IRK    Key `json:"irk"`
	EncKey Key `json:"enc_key"`
}

// Key is a 16-byte proximity-pairing key. It unmarshals from either the
// hex-string or byte-array form pairing tools have written over time;
// anything that is not exactly 16 bytes is an error the loader turns into
// "this record has no usable keys" rather than a failed load.
type Key [16]byte

func (k *Key) UnmarshalJSON(raw []byte) error {
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		b, err := hex.DecodeString(s)
		if err != nil {
			return fmt.Errorf("key is not hex: %w", err)
		}
		if len(b) != len(k) {
			return fmt.Errorf("key is %d bytes, want %d", len(b), len(k))
		}
		copy(k[:], b)
		return nil
	}

	var nums []int
	if err := json.Unmarshal(raw, &nums); err != nil {
		return fmt.Errorf("unsupported key encoding")
	}
	if len(nums) != len(k) {
		return fmt.Errorf("key is %d bytes, want %d", len(nums), len(k))
	}
	for i, n := range nums {
		if n < 0 || n > 255 {
			return fmt.Errorf("key byte %d out of range", i)
		}
		k[i] = byte(n)
	}
	return nil
}

// Record is one entry of devices.json.
type Record struct {
	ID             string     `json:"id"`
	Kind           DeviceKind `json:"kind"`
	DisplayName    string     `json:"display_name"`
	Keys           *Keys      `json:"keys,omitempty"`
	ModelProductID *uint16    `json:"model_product_id,omitempty"`

	// Cached telemetry this daemon fills in itself; absent from the file
	// written by pairing tooling until this daemon has connected once.
	SerialNumber string `json:"serial_number,omitempty"`
	Version1     string `json:"version1,omitempty"`
	Version2     string `json:"version2,omitempty"`
	HardwareRev  string `json:"hardware_rev,omitempty"`
}

// Preferences is the per-device subset of preferences.json this daemon
// consults.
type Preferences struct {
	AutoConnect bool `json:"auto_connect"`
}

// Store loads and caches devices.json/preferences.json, and writes back
// learned device-info fields.
type Store struct {
	devicesPath     string
	preferencesPath string

	mu          sync.RWMutex
	devices     map[string]Record
	preferences map[string]Preferences
}

// Paths returns the default devices.json/preferences.json locations under
// XDG_DATA_HOME and XDG_CONFIG_HOME, falling back to their defaults when
// those environment variables are unset.
func Paths() (devices, preferences string) {
	dataHome := os.Getenv("XDG_DATA_HOME")
	if dataHome == "" {
		dataHome = filepath.Join(os.Getenv("HOME"), ".local", "share")
	}
	configHome := os.Getenv("XDG_CONFIG_HOME")
	if configHome == "" {
		configHome = filepath.Join(os.Getenv("HOME"), ".config")
	}
	return filepath.Join(dataHome, "librepods", "devices.json"),
		filepath.Join(configHome, "librepods", "preferences.json")
}

// Load reads both files. A missing preferences.json is treated as "no
// preferences recorded," not an error, since auto-connect opt-in is
// optional; a missing devices.json is an error since there is nothing to
// serve without it.
func Load(devicesPath, preferencesPath string) (*Store, error) {
	devices, err := loadDevices(devicesPath)
	if err != nil {
		return nil, fmt.Errorf("devicestore: load devices: %w", err)
	}

	preferences, err := loadPreferences(preferencesPath)
	if err != nil {
		return nil, fmt.Errorf("devicestore: load preferences: %w", err)
	}

	return &Store{
		devicesPath:     devicesPath,
		preferencesPath: preferencesPath,
		devices:         devices,
		preferences:     preferences,
	}, nil
}

func loadDevices(path string) (map[string]Record, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	// Keys are decoded separately so a record with a malformed or
	// wrong-length key is kept without keys instead of failing the load.
	type diskRecord struct {
		Record
		Keys json.RawMessage `json:"keys,omitempty"`
	}

	var records []diskRecord
	if err := json.Unmarshal(raw, &records); err != nil {
		return nil, fmt.Errorf("parse %s: %w", path, err)
	}
	out := make(map[string]Record, len(records))
	for _, dr := range records {
		r := dr.Record
		r.Keys = nil
		if len(dr.Keys) > 0 {
			var k Keys
			if err := json.Unmarshal(dr.Keys, &k); err == nil {
				r.Keys = &k
			}
		}
		out[r.ID] = r
	}
	return out, nil
}

func loadPreferences(path string) (map[string]Preferences, error) {
	raw, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return map[string]Preferences{}, nil
	}
	if err != nil {
		return nil, err
	}
	var prefs map[string]Preferences
	if err := json.Unmarshal(raw, &prefs); err != nil {
		return nil, fmt.Errorf("parse %s: %w", path, err)
	}
	return prefs, nil
}

// All returns every known device record.
func (s *Store) All() []Record {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]Record, 0, len(s.devices))
	for _, r := range s.devices {
		out = append(out, r)
	}
	return out
}

// Get returns the record for id, if any.
func (s *Store) Get(id string) (Record, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	r, ok := s.devices[id]
	return r, ok
}

// AutoConnect reports whether id has opted into auto-connect. Devices with
// no preferences entry default to true, matching the original behavior of
// auto-connecting anything previously paired unless told otherwise.
func (s *Store) AutoConnect(id string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	pref, ok := s.preferences[id]
	if !ok {
		return true
	}
	return pref.AutoConnect
}

// KnownKeys implements ble.KeyProvider: deviceID -> [irk, enc_key] for every
// record that carries proximity-pairing keys.
func (s *Store) KnownKeys() map[string][2][16]byte {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make(map[string][2][16]byte)
	for id, r := range s.devices {
		if r.Keys != nil {
			out[id] = [2][16]byte{[16]byte(r.Keys.IRK), [16]byte(r.Keys.EncKey)}
		}
	}
	return out
}

// UpdateDeviceInfo caches newly learned identity fields for id and persists
// devices.json. A device not already present is ignored: this daemon never
// invents device records, only enriches ones the external store created.
func (s *Store) UpdateDeviceInfo(id, name, serial, version1, version2, hwRev string) error {
	s.mu.Lock()
	record, ok := s.devices[id]
	if !ok {
		s.mu.Unlock()
		return nil
	}
	if name != "" {
		record.DisplayName = name
	}
	record.SerialNumber = serial
	record.Version1 = version1
	record.Version2 = version2
	record.HardwareRev = hwRev
	s.devices[id] = record

	records := make([]Record, 0, len(s.devices))
	for _, r := range s.devices {
		records = append(records, r)
	}
	s.mu.Unlock()

	return s.persist(records)
}

func (s *Store) persist(records []Record) error {
	raw, err := json.MarshalIndent(records, "", "  ")
	if err != nil {
		return fmt.Errorf("devicestore: marshal: %w", err)
	}
	tmp := s.devicesPath + ".tmp"
	if err := os.WriteFile(tmp, raw, 0o644); err != nil {
		return fmt.Errorf("devicestore: write: %w", err)
	}
	return os.Rename(tmp, s.devicesPath)
}
