// Package supervisor holds the registry of live per-device sessions and
// reacts to link-up/link-down signals from internal/linkwatch, building an
// AACP or ATT session depending on the device's recorded kind.
//
// Grounded on the teacher's internal/podstate/coordinator.go RegisterCallback
// registry shape (map[string]*PodState guarded by a lock), generalized from
// "one fixed AAP client" into "build the right session type per
// DeviceRecord.Kind and drop it cleanly on link-down."
package supervisor

import (
	"context"
	"fmt"
	"sync"

	"github.com/sirupsen/logrus"

	"airpodsd/internal/aacp"
	"airpodsd/internal/att"
	"airpodsd/internal/devicestore"
	"airpodsd/internal/eventbus"
)

// Entry is one live device's session handle, tagged by kind so callers can
// type-switch without the registry exposing two separate maps.
type Entry struct {
	DeviceID  string
	Kind      devicestore.DeviceKind
	AACP      *aacp.Session // non-nil iff Kind == KindAppleAACP
	ATTClient *att.Client   // non-nil iff Kind == KindNothingATT
}

// Supervisor owns the DeviceID -> Entry registry.
type Supervisor struct {
	store *devicestore.Store
	bus   *eventbus.Bus
	log   *logrus.Entry

	mu       sync.RWMutex
	sessions map[string]*Entry
}

// New creates a supervisor backed by store for device lookups and bus for
// publishing session events.
func New(store *devicestore.Store, bus *eventbus.Bus, log *logrus.Entry) *Supervisor {
	if log == nil {
		log = logrus.NewEntry(logrus.StandardLogger())
	}
	return &Supervisor{
		store:    store,
		bus:      bus,
		log:      log.WithField("component", "supervisor"),
		sessions: make(map[string]*Entry),
	}
}

// Get returns the live entry for deviceID, if any, with a short
// read-lock critical section per the registry's reader/writer lock policy.
func (s *Supervisor) Get(deviceID string) (*Entry, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	e, ok := s.sessions[deviceID]
	return e, ok
}

// All returns every live entry.
func (s *Supervisor) All() []*Entry {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*Entry, 0, len(s.sessions))
	for _, e := range s.sessions {
		out = append(out, e)
	}
	return out
}

// LinkUp builds and registers a session for deviceID's MAC, dispatching on
// the record's kind.
func (s *Supervisor) LinkUp(ctx context.Context, deviceID, mac string) error {
	record, ok := s.store.Get(deviceID)
	if !ok {
		return fmt.Errorf("supervisor: no device record for %s", deviceID)
	}

	// A repeated link-up for a device that already has a live session keeps
	// that session; only the stored display name may change underneath it.
	s.mu.RLock()
	_, exists := s.sessions[deviceID]
	s.mu.RUnlock()
	if exists {
		return nil
	}

	var entry *Entry
	switch record.Kind {
	case devicestore.KindAppleAACP:
		var productID uint16
		if record.ModelProductID != nil {
			productID = *record.ModelProductID
		}
		session, err := aacp.Connect(mac, productID, s.log)
		if err != nil {
			return fmt.Errorf("supervisor: aacp connect: %w", err)
		}
		if err := session.Handshake(ctx); err != nil {
			session.Close()
			return fmt.Errorf("supervisor: aacp handshake: %w", err)
		}
		entry = &Entry{DeviceID: deviceID, Kind: record.Kind, AACP: session}
		go s.forwardEvents(deviceID, session)

	case devicestore.KindNothingATT:
		client, err := att.Dial(mac)
		if err != nil {
			return fmt.Errorf("supervisor: att dial: %w", err)
		}
		info, err := att.DiscoverNothing(ctx, client)
		if err != nil {
			client.Close()
			return fmt.Errorf("supervisor: nothing discovery: %w", err)
		}
		_ = s.store.UpdateDeviceInfo(deviceID, record.DisplayName, info.SerialNumber, info.FirmwareVersion, "", "")
		entry = &Entry{DeviceID: deviceID, Kind: record.Kind, ATTClient: client}

	default:
		return fmt.Errorf("supervisor: unknown device kind %q", record.Kind)
	}

	s.mu.Lock()
	s.sessions[deviceID] = entry
	s.mu.Unlock()

	s.bus.DeviceConnected(deviceID, string(record.Kind))
	return nil
}

// forwardEvents relays every AACP session event onto the shared bus and
// caches DeviceInfo back into the device store, until the session's event
// channel closes.
func (s *Supervisor) forwardEvents(deviceID string, session *aacp.Session) {
	for ev := range session.Events() {
		s.bus.Publish(deviceID, ev)
		if info, ok := ev.(aacp.DeviceInfoEvent); ok {
			_ = s.store.UpdateDeviceInfo(deviceID, info.Name, info.SerialNumber, info.Version1, info.Version2, info.HardwareRev)
		}
	}
}

// LinkDown tears a session down in the documented order: event bus, then
// send/receive paths via Close, then the link itself (Close covers both
// since the session owns exactly one fd).
func (s *Supervisor) LinkDown(deviceID string) {
	s.mu.Lock()
	entry, ok := s.sessions[deviceID]
	delete(s.sessions, deviceID)
	s.mu.Unlock()
	if !ok {
		return
	}

	s.bus.DeviceDisconnected(deviceID)

	switch entry.Kind {
	case devicestore.KindAppleAACP:
		if entry.AACP != nil {
			entry.AACP.Close()
		}
	case devicestore.KindNothingATT:
		if entry.ATTClient != nil {
			entry.ATTClient.Close()
		}
	}
}
