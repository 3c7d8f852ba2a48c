// Package linkwatch watches BlueZ's D-Bus device objects for Connected
// property transitions and turns them into session supervisor link-up/
// link-down calls, for every Bluetooth address the device store already
// knows about.
//
// Grounded on the teacher's internal/bluez.WatchForAirPods, which adds a
// PropertiesChanged match rule on path_namespace='/org/bluez' and reacts to
// a Connected transition on org.bluez.Device1 for one hardcoded device
// name. This generalizes that same signal-watching shape to every known
// DeviceID (the public Bluetooth address, per the device store), instead
// of a single name-matched device.
package linkwatch

import (
	"context"
	"strings"

	"github.com/godbus/dbus/v5"
	"github.com/sirupsen/logrus"
)

const (
	bluezService  = "org.bluez"
	device1Iface  = "org.bluez.Device1"
	propsIface    = "org.freedesktop.DBus.Properties"
	objectManager = "org.freedesktop.DBus.ObjectManager"
	matchRule     = "type='signal',interface='" + propsIface + "',member='PropertiesChanged',path_namespace='/org/bluez'"
)

// Supervisor is the subset of *supervisor.Supervisor this package depends
// on, narrowed to an interface so it can be driven by a fake in tests.
type Supervisor interface {
	LinkUp(ctx context.Context, deviceID, mac string) error
	LinkDown(deviceID string)
}

// Watcher reacts to BlueZ Connected transitions for known devices.
type Watcher struct {
	conn *dbus.Conn
	sup  Supervisor
	// isKnown reports whether mac is a recognized DeviceID; kept as a plain
	// func rather than an interface since the supervisor's own store lookup
	// is all callers ever need.
	isKnown func(mac string) bool
	log     *logrus.Entry
}

// New connects to the system bus and prepares a watcher. isKnown should
// report whether a given address is a recorded device (e.g.
// devicestore.Store.Get's ok return).
func New(sup Supervisor, isKnown func(mac string) bool, log *logrus.Entry) (*Watcher, error) {
	conn, err := dbus.ConnectSystemBus()
	if err != nil {
		return nil, err
	}
	if log == nil {
		log = logrus.NewEntry(logrus.StandardLogger())
	}
	return &Watcher{
		conn:    conn,
		sup:     sup,
		isKnown: isKnown,
		log:     log.WithField("component", "linkwatch"),
	}, nil
}

// Run adds the PropertiesChanged match rule, reconciles devices already
// connected at startup, then processes signals until stop is closed.
func (w *Watcher) Run(stop <-chan struct{}) error {
	if err := w.conn.BusObject().Call("org.freedesktop.DBus.AddMatch", 0, matchRule).Err; err != nil {
		return err
	}

	w.reconcileExisting()

	signalChan := make(chan *dbus.Signal, 16)
	w.conn.Signal(signalChan)

	for {
		select {
		case <-stop:
			return nil
		case signal, ok := <-signalChan:
			if !ok {
				return nil
			}
			w.handleSignal(signal)
		}
	}
}

// reconcileExisting links up any device that is already connected when the
// watcher starts, since PropertiesChanged only fires on future transitions.
func (w *Watcher) reconcileExisting() {
	obj := w.conn.Object(bluezService, dbus.ObjectPath("/"))
	var objects map[dbus.ObjectPath]map[string]map[string]dbus.Variant
	if err := obj.Call(objectManager+".GetManagedObjects", 0).Store(&objects); err != nil {
		w.log.WithError(err).Warn("get managed objects failed")
		return
	}

	for path, interfaces := range objects {
		deviceProps, ok := interfaces[device1Iface]
		if !ok {
			continue
		}
		connected, _ := deviceProps["Connected"].Value().(bool)
		if !connected {
			continue
		}
		mac := devicePathToMAC(string(path))
		w.linkUpIfKnown(mac)
	}
}

func (w *Watcher) handleSignal(signal *dbus.Signal) {
	if signal.Name != propsIface+".PropertiesChanged" || len(signal.Body) < 2 {
		return
	}
	iface, ok := signal.Body[0].(string)
	if !ok || iface != device1Iface {
		return
	}
	changes, ok := signal.Body[1].(map[string]dbus.Variant)
	if !ok {
		return
	}
	connectedVar, ok := changes["Connected"]
	if !ok {
		return
	}
	connected, _ := connectedVar.Value().(bool)
	mac := devicePathToMAC(string(signal.Path))
	if mac == "" {
		return
	}

	if connected {
		w.linkUpIfKnown(mac)
	} else {
		w.sup.LinkDown(mac)
	}
}

func (w *Watcher) linkUpIfKnown(mac string) {
	if mac == "" || !w.isKnown(mac) {
		return
	}
	if err := w.sup.LinkUp(context.Background(), mac, mac); err != nil {
		w.log.WithError(err).WithField("mac", mac).Warn("link up failed")
	}
}

// Close releases the watcher's D-Bus connection.
func (w *Watcher) Close() error {
	return w.conn.Close()
}

// devicePathToMAC converts a BlueZ device object path
// (/org/bluez/hci0/dev_AA_BB_CC_DD_EE_FF) into colon-separated form.
func devicePathToMAC(path string) string {
	const marker = "/dev_"
	idx := strings.LastIndex(path, marker)
	if idx == -1 {
		return ""
	}
	segment := path[idx+len(marker):]
	return strings.ReplaceAll(segment, "_", ":")
}
