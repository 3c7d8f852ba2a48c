// Package dispatch implements the single-consumer, multi-producer command
// queue that turns external "set this value" requests into AACP send
// primitives on the right device's session, without ever blocking a
// producer or terminating on a send failure.
//
// Grounded on the teacher's internal/podstate command-channel idiom (one
// goroutine owning a session, fed by a channel, never torn down by a
// single failed write), generalized to a registry of sessions keyed by
// DeviceID instead of a single hardcoded device.
package dispatch

import (
	"fmt"

	"github.com/sirupsen/logrus"

	"airpodsd/internal/aacp"
	"airpodsd/internal/devicestore"
	"airpodsd/internal/supervisor"
)

// Command is a unit of work addressed to one device's session.
type Command interface{ isCommand() }

// ControlCommand sets a control-command value on the device.
type ControlCommand struct {
	ID    aacp.ControlCommandID
	Value []byte
}

func (ControlCommand) isCommand() {}

// Rename requests the device adopt a new display name.
type Rename struct {
	Name string
}

func (Rename) isCommand() {}

// request is one (DeviceID, Command) tuple enqueued by a producer.
type request struct {
	DeviceID string
	Command  Command
}

// SessionLookup resolves a DeviceID to its live session entry; satisfied
// by *supervisor.Supervisor.
type SessionLookup interface {
	Get(deviceID string) (*supervisor.Entry, bool)
}

// Dispatcher drains (DeviceID, Command) requests onto the matching
// session, single-consumer, multi-producer, per spec.md's description: one
// goroutine owns the loop, any number of callers call Send concurrently.
type Dispatcher struct {
	lookup   SessionLookup
	log      *logrus.Entry
	requests chan request
}

// New creates a dispatcher backed by lookup for session resolution.
func New(lookup SessionLookup, log *logrus.Entry) *Dispatcher {
	if log == nil {
		log = logrus.NewEntry(logrus.StandardLogger())
	}
	return &Dispatcher{
		lookup:   lookup,
		log:      log.WithField("component", "dispatch"),
		requests: make(chan request, 64),
	}
}

// Send enqueues cmd for deviceID. Non-blocking: if the queue is full the
// request is dropped and logged, rather than stalling the producer.
func (d *Dispatcher) Send(deviceID string, cmd Command) {
	select {
	case d.requests <- request{DeviceID: deviceID, Command: cmd}:
	default:
		d.log.WithField("device", deviceID).Warn("dispatch queue full, dropping command")
	}
}

// Run is the single consumer loop; it exits when stop is closed.
func (d *Dispatcher) Run(stop <-chan struct{}) {
	for {
		select {
		case <-stop:
			return
		case req := <-d.requests:
			d.deliver(req)
		}
	}
}

func (d *Dispatcher) deliver(req request) {
	entry, ok := d.lookup.Get(req.DeviceID)
	if !ok {
		d.log.WithField("device", req.DeviceID).Warn("dispatch: no live session for device")
		return
	}

	if err := sendTo(entry, req.Command); err != nil {
		d.log.WithError(err).WithField("device", req.DeviceID).Warn("dispatch: send failed")
	}
}

func sendTo(entry *supervisor.Entry, cmd Command) error {
	if entry.Kind != devicestore.KindAppleAACP || entry.AACP == nil {
		return fmt.Errorf("dispatch: device kind %q does not support application commands", entry.Kind)
	}

	switch c := cmd.(type) {
	case ControlCommand:
		return entry.AACP.SendControlCommand(c.ID, c.Value)
	case Rename:
		return entry.AACP.SendRename(c.Name)
	default:
		return fmt.Errorf("dispatch: unknown command type %T", cmd)
	}
}
