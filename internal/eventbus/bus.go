// Package eventbus implements the per-device latest-wins projection the IPC
// server replays to newly-connected clients, plus the broadcast channel it
// streams live updates on afterward.
//
// Grounded on the snapshot discipline described for the original
// implementation's ipc.rs: DeviceConnected/DeviceInfo/Battery/per-identifier
// ControlCommand values are each "latest wins," and DeviceDisconnected
// purges everything recorded for that device rather than leaving stale
// data behind.
package eventbus

import (
	"sync"

	"github.com/sirupsen/logrus"

	"airpodsd/internal/aacp"
)

// DeviceSnapshot is the latest-wins projection for one device.
type DeviceSnapshot struct {
	Connected        bool
	Kind             string
	Battery          []aacp.BatteryReading
	DeviceInfo       *aacp.DeviceInfoEvent
	ControlValues    map[aacp.ControlCommandID][]byte
	AudioUnavailable bool
}

func newDeviceSnapshot(kind string) DeviceSnapshot {
	return DeviceSnapshot{
		Connected:     true,
		Kind:          kind,
		ControlValues: make(map[aacp.ControlCommandID][]byte),
	}
}

// Update is one item on the broadcast stream.
type Update struct {
	DeviceID string
	Snapshot DeviceSnapshot
}

// Bus holds the live per-device snapshot and fans updates out to
// subscribers over bounded channels. A slow subscriber never blocks a
// publisher: overruns are counted and logged, never propagated.
type Bus struct {
	log *logrus.Entry

	mu        sync.RWMutex
	snapshots map[string]DeviceSnapshot

	subMu   sync.Mutex
	subs    map[chan Update]struct{}
	overrun uint64
}

// New creates an empty bus.
func New(log *logrus.Entry) *Bus {
	if log == nil {
		log = logrus.NewEntry(logrus.StandardLogger())
	}
	return &Bus{
		log:       log.WithField("component", "eventbus"),
		snapshots: make(map[string]DeviceSnapshot),
		subs:      make(map[chan Update]struct{}),
	}
}

// Subscribe returns a channel fed with every update from this point on. The
// channel has a bounded buffer; Unsubscribe must be called when the
// consumer is done.
func (b *Bus) Subscribe() chan Update {
	ch := make(chan Update, 64)
	b.subMu.Lock()
	b.subs[ch] = struct{}{}
	b.subMu.Unlock()
	return ch
}

// Unsubscribe removes and closes ch.
func (b *Bus) Unsubscribe(ch chan Update) {
	b.subMu.Lock()
	if _, ok := b.subs[ch]; ok {
		delete(b.subs, ch)
		close(ch)
	}
	b.subMu.Unlock()
}

// Snapshot returns a copy of the full device universe, for IPC accept-time
// replay.
func (b *Bus) Snapshot() map[string]DeviceSnapshot {
	b.mu.RLock()
	defer b.mu.RUnlock()
	out := make(map[string]DeviceSnapshot, len(b.snapshots))
	for id, snap := range b.snapshots {
		out[id] = snap
	}
	return out
}

// DeviceConnected records a device entering the universe.
func (b *Bus) DeviceConnected(deviceID, kind string) {
	b.mu.Lock()
	b.snapshots[deviceID] = newDeviceSnapshot(kind)
	snap := b.snapshots[deviceID]
	b.mu.Unlock()
	b.broadcast(deviceID, snap)
}

// DeviceDisconnected purges every prior event recorded for deviceID.
func (b *Bus) DeviceDisconnected(deviceID string) {
	b.mu.Lock()
	delete(b.snapshots, deviceID)
	b.mu.Unlock()
	b.broadcast(deviceID, DeviceSnapshot{Connected: false})
}

// SetAudioUnavailable latches the AudioUnavailable flag for deviceID.
func (b *Bus) SetAudioUnavailable(deviceID string) {
	b.mu.Lock()
	snap, ok := b.snapshots[deviceID]
	if !ok {
		b.mu.Unlock()
		return
	}
	snap.AudioUnavailable = true
	b.snapshots[deviceID] = snap
	b.mu.Unlock()
	b.broadcast(deviceID, snap)
}

// Publish folds an AACP event into deviceID's snapshot (for the variants
// where "latest" is meaningful) and broadcasts the result.
func (b *Bus) Publish(deviceID string, ev aacp.Event) {
	b.mu.Lock()
	snap, ok := b.snapshots[deviceID]
	if !ok {
		b.mu.Unlock()
		return
	}

	switch e := ev.(type) {
	case aacp.BatteryInfoEvent:
		snap.Battery = e.Readings
	case aacp.DeviceInfoEvent:
		info := e
		snap.DeviceInfo = &info
	case aacp.ControlCommandEvent:
		snap.ControlValues[e.Identifier] = e.Value
	default:
		b.mu.Unlock()
		return
	}
	b.snapshots[deviceID] = snap
	b.mu.Unlock()
	b.broadcast(deviceID, snap)
}

func (b *Bus) broadcast(deviceID string, snap DeviceSnapshot) {
	update := Update{DeviceID: deviceID, Snapshot: snap}

	b.subMu.Lock()
	defer b.subMu.Unlock()
	for ch := range b.subs {
		select {
		case ch <- update:
		default:
			b.overrun++
			b.log.WithField("overruns", b.overrun).Warn("subscriber buffer full, dropping update")
		}
	}
}
