package linkwatch

import (
	"context"
	"testing"

	"github.com/godbus/dbus/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDevicePathToMAC(t *testing.T) {
	assert.Equal(t, "AA:BB:CC:DD:EE:FF", devicePathToMAC("/org/bluez/hci0/dev_AA_BB_CC_DD_EE_FF"))
	assert.Equal(t, "", devicePathToMAC("/org/bluez/hci0"))
}

type fakeSupervisor struct {
	linkedUp   []string
	linkedDown []string
}

func (f *fakeSupervisor) LinkUp(ctx context.Context, deviceID, mac string) error {
	f.linkedUp = append(f.linkedUp, deviceID)
	return nil
}

func (f *fakeSupervisor) LinkDown(deviceID string) {
	f.linkedDown = append(f.linkedDown, deviceID)
}

func TestHandleSignalConnectedTrueLinksUpKnownDevice(t *testing.T) {
	sup := &fakeSupervisor{}
	w := &Watcher{sup: sup, isKnown: func(mac string) bool { return mac == "AA:BB:CC:DD:EE:FF" }}

	w.handleSignal(&dbus.Signal{
		Path: dbus.ObjectPath("/org/bluez/hci0/dev_AA_BB_CC_DD_EE_FF"),
		Name: propsIface + ".PropertiesChanged",
		Body: []interface{}{
			device1Iface,
			map[string]dbus.Variant{"Connected": dbus.MakeVariant(true)},
		},
	})

	require.Len(t, sup.linkedUp, 1)
	assert.Equal(t, "AA:BB:CC:DD:EE:FF", sup.linkedUp[0])
	assert.Empty(t, sup.linkedDown)
}

func TestHandleSignalConnectedFalseLinksDown(t *testing.T) {
	sup := &fakeSupervisor{}
	w := &Watcher{sup: sup, isKnown: func(mac string) bool { return true }}

	w.handleSignal(&dbus.Signal{
		Path: dbus.ObjectPath("/org/bluez/hci0/dev_AA_BB_CC_DD_EE_FF"),
		Name: propsIface + ".PropertiesChanged",
		Body: []interface{}{
			device1Iface,
			map[string]dbus.Variant{"Connected": dbus.MakeVariant(false)},
		},
	})

	require.Len(t, sup.linkedDown, 1)
	assert.Equal(t, "AA:BB:CC:DD:EE:FF", sup.linkedDown[0])
}

func TestHandleSignalUnknownDeviceIsIgnored(t *testing.T) {
	sup := &fakeSupervisor{}
	w := &Watcher{sup: sup, isKnown: func(mac string) bool { return false }}

	w.handleSignal(&dbus.Signal{
		Path: dbus.ObjectPath("/org/bluez/hci0/dev_AA_BB_CC_DD_EE_FF"),
		Name: propsIface + ".PropertiesChanged",
		Body: []interface{}{
			device1Iface,
			map[string]dbus.Variant{"Connected": dbus.MakeVariant(true)},
		},
	})

	assert.Empty(t, sup.linkedUp)
}

func TestHandleSignalWrongInterfaceIsIgnored(t *testing.T) {
	sup := &fakeSupervisor{}
	w := &Watcher{sup: sup, isKnown: func(mac string) bool { return true }}

	w.handleSignal(&dbus.Signal{
		Path: dbus.ObjectPath("/org/bluez/hci0/dev_AA_BB_CC_DD_EE_FF"),
		Name: propsIface + ".PropertiesChanged",
		Body: []interface{}{
			"org.bluez.Battery1",
			map[string]dbus.Variant{"Connected": dbus.MakeVariant(true)},
		},
	})

	assert.Empty(t, sup.linkedUp)
	assert.Empty(t, sup.linkedDown)
}
