// Package ble provides Bluetooth Low Energy scanning for Apple Continuity
// advertisements, resolvable-private-address matching against known AirPods
// identity keys, and decryption of the proximity-pairing payload once a
// device's ENC_KEY is known.
//
// BLE advertisements provide APPROXIMATE battery levels that may be 5-10%
// off from the AACP session's own readings, and update slowly. They matter
// because they are available even while the AirPods are connected to a
// different host: the daemon uses them to detect "disconnected from
// everything" and drive auto-connect, not as its primary telemetry source.
//
// The implementation uses the BlueZ D-Bus API to start LE discovery and
// watch ManufacturerData property changes, the same approach this
// package's original AAP-only incarnation used.
package ble

import (
	"fmt"
	"sync"

	"github.com/godbus/dbus/v5"
	"github.com/sirupsen/logrus"
)

const (
	bluezService   = "org.bluez"
	adapterPath    = "/org/bluez/hci0"
	appleCompanyID = 0x004C
)

// KeyProvider supplies the IRK/ENC_KEY pairs known devices were paired with.
// internal/devicestore implements this; ble depends only on the interface to
// avoid importing persistence into the scan path.
type KeyProvider interface {
	// KnownKeys returns deviceID -> (irk, encKey) for every stored AirPods
	// record that carries proximity-pairing keys.
	KnownKeys() map[string][2][16]byte
}

// Advertisement is a decoded, RPA-resolved proximity-pairing advertisement.
type Advertisement struct {
	DeviceID string
	MAC      string
	Data     *ProximityData
}

// Scanner watches BLE advertisements and resolves them against known
// devices, maintaining the verified/failed MAC sets so repeat
// advertisements from the same address skip RPA recomputation.
type Scanner struct {
	conn   *dbus.Conn
	signal chan *dbus.Signal
	keys   KeyProvider
	log    *logrus.Entry

	mu           sync.Mutex
	verifiedMACs map[string]string // mac -> deviceID
	failedMACs   map[string]bool
}

// NewScanner creates a new BLE scanner backed by the system D-Bus connection.
func NewScanner(keys KeyProvider, log *logrus.Entry) (*Scanner, error) {
	conn, err := dbus.ConnectSystemBus()
	if err != nil {
		return nil, fmt.Errorf("failed to connect to system bus: %w", err)
	}
	if log == nil {
		log = logrus.NewEntry(logrus.StandardLogger())
	}

	return &Scanner{
		conn:         conn,
		signal:       make(chan *dbus.Signal, 32),
		keys:         keys,
		log:          log.WithField("component", "ble"),
		verifiedMACs: make(map[string]string),
		failedMACs:   make(map[string]bool),
	}, nil
}

// StartDiscovery begins BLE scanning.
func (s *Scanner) StartDiscovery() error {
	obj := s.conn.Object(bluezService, adapterPath)

	filter := map[string]interface{}{
		"Transport": "le",
	}
	if err := obj.Call("org.bluez.Adapter1.SetDiscoveryFilter", 0, filter).Err; err != nil {
		return fmt.Errorf("failed to set discovery filter: %w", err)
	}
	if err := obj.Call("org.bluez.Adapter1.StartDiscovery", 0).Err; err != nil {
		return fmt.Errorf("failed to start discovery: %w", err)
	}

	rule := "type='signal',interface='org.freedesktop.DBus.Properties',member='PropertiesChanged'"
	if err := s.conn.BusObject().Call("org.freedesktop.DBus.AddMatch", 0, rule).Err; err != nil {
		return fmt.Errorf("failed to add match rule: %w", err)
	}
	s.conn.Signal(s.signal)
	return nil
}

// StopDiscovery stops BLE scanning.
func (s *Scanner) StopDiscovery() error {
	obj := s.conn.Object(bluezService, adapterPath)
	return obj.Call("org.bluez.Adapter1.StopDiscovery", 0).Err
}

// Close closes the scanner.
func (s *Scanner) Close() error {
	s.StopDiscovery()
	return s.conn.Close()
}

// Run watches the signal stream until stop is closed, publishing every
// resolved advertisement on out. Advertisements that fail RPA resolution
// against every known IRK are dropped silently.
func (s *Scanner) Run(stop <-chan struct{}, out chan<- Advertisement) {
	for {
		select {
		case <-stop:
			return
		case signal, ok := <-s.signal:
			if !ok {
				s.log.Warn("dbus signal channel closed")
				return
			}
			s.handleSignal(signal, out)
		}
	}
}

func (s *Scanner) handleSignal(signal *dbus.Signal, out chan<- Advertisement) {
	if signal.Name != "org.freedesktop.DBus.Properties.PropertiesChanged" || len(signal.Body) < 2 {
		return
	}
	iface, ok := signal.Body[0].(string)
	if !ok || iface != "org.bluez.Device1" {
		return
	}
	changes, ok := signal.Body[1].(map[string]dbus.Variant)
	if !ok {
		return
	}
	mfgDataVar, ok := changes["ManufacturerData"]
	if !ok {
		return
	}
	mfgData, ok := mfgDataVar.Value().(map[uint16]dbus.Variant)
	if !ok {
		return
	}
	appleDataVar, ok := mfgData[appleCompanyID]
	if !ok {
		return
	}
	appleData, ok := appleDataVar.Value().([]byte)
	if !ok {
		return
	}

	mac := devicePathToMAC(string(signal.Path))
	deviceID, resolved := s.resolve(mac)
	if !resolved {
		return
	}

	data, err := ParseProximityData(appleData)
	if err != nil {
		s.log.WithError(err).Debug("malformed proximity advertisement")
		return
	}

	if len(appleData) >= 21 {
		encrypted := appleData[len(appleData)-16:]
		if pair, ok := s.keys.KnownKeys()[deviceID]; ok {
			if err := DecryptAndMerge(data, encrypted, pair[1]); err != nil {
				s.log.WithError(err).Debug("advertisement decrypt failed, keeping approximate battery")
			}
		}
	}

	select {
	case out <- Advertisement{DeviceID: deviceID, MAC: mac, Data: data}:
	default:
		s.log.Warn("advertisement channel full, dropping")
	}
}

// resolve implements the verified/failed/unseen MAC classification: a
// single lock guards all three states so a MAC is never concurrently
// classified twice.
func (s *Scanner) resolve(mac string) (string, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if id, ok := s.verifiedMACs[mac]; ok {
		return id, true
	}
	if s.failedMACs[mac] {
		return "", false
	}

	for deviceID, pair := range s.keys.KnownKeys() {
		irk := pair[0]
		ok, err := ResolvesTo(mac, irk)
		if err != nil {
			continue
		}
		if ok {
			s.verifiedMACs[mac] = deviceID
			return deviceID, true
		}
	}
	s.failedMACs[mac] = true
	return "", false
}

// DecryptAndMerge decrypts an advertisement's trailing encrypted block with
// encKey and merges the result into data, raising accuracy from ~10% to ~1%.
func DecryptAndMerge(data *ProximityData, encrypted []byte, encKey [16]byte) error {
	decrypted, err := DecryptProximityPayload(encrypted, encKey[:])
	if err != nil {
		return err
	}
	return data.AddDecryptedData(decrypted)
}

// devicePathToMAC converts a BlueZ device object path
// (/org/bluez/hci0/dev_AA_BB_CC_DD_EE_FF) into colon-separated form.
func devicePathToMAC(path string) string {
	const prefix = "dev_"
	idx := -1
	for i := len(path) - 1; i >= 0; i-- {
		if path[i] == '/' {
			idx = i
			break
		}
	}
	if idx == -1 || idx+1+len(prefix) > len(path) {
		return ""
	}
	segment := path[idx+1:]
	if len(segment) < len(prefix) || segment[:len(prefix)] != prefix {
		return ""
	}
	raw := segment[len(prefix):]
	out := make([]byte, 0, len(raw))
	for _, c := range raw {
		if c == '_' {
			out = append(out, ':')
		} else {
			out = append(out, byte(c))
		}
	}
	return string(out)
}
