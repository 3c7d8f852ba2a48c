// Command airpodsd is the background daemon: it watches BlueZ for known
// devices connecting, speaks AACP/ATT to them, runs each device's
// media/ownership coordinator, resolves BLE proximity advertisements for
// auto-connect, and serves the IPC socket external tools talk to.
//
// Grounded on the teacher's cmd/gui/main.go wiring shape (create the
// coordinator, create the BlueZ battery provider, create the tray, wire
// callbacks between them, run) with the GTK4 window dropped: this is a
// headless daemon, not a windowed app, so ui.Activate has no counterpart
// here and the tray is the only desktop-facing surface.
package main

import (
	"context"
	"os"
	"os/signal"
	"sync"
	"syscall"

	"github.com/sirupsen/logrus"

	"airpodsd/internal/aacp"
	"airpodsd/internal/audio"
	"airpodsd/internal/autoconnect"
	"airpodsd/internal/ble"
	"airpodsd/internal/bluez"
	"airpodsd/internal/config"
	"airpodsd/internal/coordinator"
	"airpodsd/internal/devicestore"
	"airpodsd/internal/dispatch"
	"airpodsd/internal/eventbus"
	"airpodsd/internal/indicator"
	"airpodsd/internal/ipc"
	"airpodsd/internal/linkwatch"
	"airpodsd/internal/mpris"
	"airpodsd/internal/supervisor"
)

func main() {
	log := logrus.NewEntry(logrus.StandardLogger())

	cfg, err := config.Load(config.Path())
	if err != nil {
		log.WithError(err).Fatal("load config")
	}

	devicesPath, preferencesPath := devicestore.Paths()
	store, err := devicestore.Load(devicesPath, preferencesPath)
	if err != nil {
		log.WithError(err).Fatal("load device store")
	}

	bus := eventbus.New(log)
	sup := supervisor.New(store, bus, log)
	mprisCli, err := mpris.Connect()
	if err != nil {
		log.WithError(err).Warn("mpris connect failed, media control disabled")
		mprisCli = nil
	}
	audioCtl := audio.New(cfg.Audio.RestartCommand, log)

	mgr := &deviceManager{
		store:      store,
		sup:        sup,
		bus:        bus,
		audioCtl:   audioCtl,
		mprisCli:   mprisCli,
		cfg:        cfg.Coordinator,
		log:        log,
		coordStops: make(map[string]chan struct{}),
	}

	stop := make(chan struct{})

	watcher, err := linkwatch.New(mgr, mgr.isKnown, log)
	if err != nil {
		log.WithError(err).Fatal("create link watcher")
	}
	go func() {
		if err := watcher.Run(stop); err != nil {
			log.WithError(err).Error("link watcher stopped")
		}
	}()

	arbiter := autoconnect.New(func(ctx context.Context, mac string) error {
		return mgr.LinkUp(ctx, mac, mac)
	}, log)
	go arbiter.Run(stop)

	scanner, err := ble.NewScanner(store, log)
	if err != nil {
		log.WithError(err).Warn("ble scanner unavailable, auto-connect by proximity disabled")
	} else {
		if err := scanner.StartDiscovery(); err != nil {
			log.WithError(err).Warn("ble discovery failed to start")
		}
		defer scanner.Close()

		advertisements := make(chan ble.Advertisement, 16)
		go scanner.Run(stop, advertisements)
		go func() {
			for adv := range advertisements {
				if adv.Data.ConnectionState != 0x00 {
					continue
				}
				if _, connected := sup.Get(adv.DeviceID); connected {
					continue
				}
				if !store.AutoConnect(adv.DeviceID) {
					continue
				}
				arbiter.RequestConnect(adv.MAC)
			}
		}()
	}

	dispatcher := dispatch.New(sup, log)
	go dispatcher.Run(stop)

	ipcServer := ipc.New(bus, dispatcher, cfg.IPC.SocketPath, log)
	go func() {
		if err := ipcServer.Run(stop); err != nil {
			log.WithError(err).Error("ipc server stopped")
		}
	}()

	batteryProvider, err := bluez.NewBluezBatteryProvider()
	if err != nil {
		log.WithError(err).Warn("battery provider unavailable, GNOME Settings won't show battery")
	} else {
		defer batteryProvider.Close()
	}

	tray := indicator.New(func() {}, func() {
		close(stop)
	}, func(mode aacp.NoiseControlMode) {
		for _, entry := range sup.All() {
			if entry.AACP == nil {
				continue
			}
			dispatcher.Send(entry.DeviceID, dispatch.ControlCommand{ID: aacp.CmdListeningMode, Value: []byte{byte(mode)}})
		}
	})
	tray.Start()
	defer tray.Stop()

	sub := bus.Subscribe()
	defer bus.Unsubscribe(sub)
	go runTrayAndBatteryBridge(sub, tray, batteryProvider, log)

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	select {
	case <-sig:
	case <-stop:
	}

	select {
	case <-stop:
	default:
		close(stop)
	}
}

// runTrayAndBatteryBridge forwards bus updates into the tray menu and the
// BlueZ battery provider, the same callback-on-state-change shape the
// teacher's podstate coordinator drives both from.
func runTrayAndBatteryBridge(sub chan eventbus.Update, tray *indicator.Indicator, battery *bluez.BluezBatteryProvider, log *logrus.Entry) {
	for update := range sub {
		snap := update.Snapshot
		if !snap.Connected {
			continue
		}

		var left, right, caseLevel *int
		for _, reading := range snap.Battery {
			level := int(reading.Level)
			switch reading.Component {
			case aacp.ComponentLeft:
				left = &level
			case aacp.ComponentRight:
				right = &level
			case aacp.ComponentCase:
				caseLevel = &level
			}
		}
		tray.UpdateBatteryLevels(left, right, caseLevel, false, false, false)

		if battery != nil && left != nil {
			if err := battery.UpdateBatteryPercentage("airpods_battery", uint8(*left)); err != nil {
				// No battery object exists until one is added for a connected device.
				if device, derr := battery.DiscoverAirPodsDevice(); derr == nil {
					err = battery.AddBattery("airpods_battery", uint8(*left), device)
				}
				if err != nil {
					log.WithError(err).Debug("update battery provider failed")
				}
			}
		}
	}
}

// deviceManager adapts supervisor.Supervisor into linkwatch.Supervisor and
// starts/stops a per-device coordinator alongside each AACP session, since
// the supervisor itself only owns protocol sessions, not the higher-level
// media/ownership state machine.
type deviceManager struct {
	store    *devicestore.Store
	sup      *supervisor.Supervisor
	bus      *eventbus.Bus
	audioCtl *audio.Controller
	mprisCli *mpris.Client
	cfg      config.CoordinatorConfig
	log      *logrus.Entry

	mu         sync.Mutex
	coordStops map[string]chan struct{}
}

func (m *deviceManager) isKnown(mac string) bool {
	_, ok := m.store.Get(mac)
	return ok
}

func (m *deviceManager) LinkUp(ctx context.Context, deviceID, mac string) error {
	if err := m.sup.LinkUp(ctx, deviceID, mac); err != nil {
		return err
	}

	entry, ok := m.sup.Get(deviceID)
	if !ok || entry.AACP == nil {
		return nil
	}

	m.mu.Lock()
	if _, running := m.coordStops[deviceID]; running {
		m.mu.Unlock()
		return nil
	}
	coordStop := make(chan struct{})
	m.coordStops[deviceID] = coordStop
	m.mu.Unlock()

	coord := coordinator.New(entry.AACP, m.mprisCli, m.audioCtl, m.cfg, mac, m.log)
	coord.OnAudioUnavailable(func() {
		m.bus.SetAudioUnavailable(deviceID)
	})
	go coord.Run(coordStop)
	return nil
}

func (m *deviceManager) LinkDown(deviceID string) {
	m.mu.Lock()
	coordStop, ok := m.coordStops[deviceID]
	delete(m.coordStops, deviceID)
	m.mu.Unlock()
	if ok {
		close(coordStop)
	}
	m.sup.LinkDown(deviceID)
}
