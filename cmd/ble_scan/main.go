// Command ble_scan passively watches BlueZ for proximity-pairing
// advertisements from known devices and prints each decoded reading as it
// arrives. Useful for checking BLE-sourced battery/in-ear data without
// standing up the full daemon.
package main

import (
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/sirupsen/logrus"

	"airpodsd/internal/ble"
	"airpodsd/internal/devicestore"
)

func main() {
	log.Println("=== BLE proximity scanner ===")
	log.Println("Watching for advertisements from known devices (passive, no connection required)")

	devicesPath, preferencesPath := devicestore.Paths()
	store, err := devicestore.Load(devicesPath, preferencesPath)
	if err != nil {
		log.Fatalf("load device store: %v", err)
	}

	scanner, err := ble.NewScanner(store, logrus.NewEntry(logrus.StandardLogger()))
	if err != nil {
		log.Fatalf("create scanner: %v", err)
	}
	defer scanner.Close()

	if err := scanner.StartDiscovery(); err != nil {
		log.Fatalf("start discovery: %v", err)
	}
	defer scanner.StopDiscovery()

	log.Println("scanning, press Ctrl+C to stop")

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, os.Interrupt, syscall.SIGTERM)

	stop := make(chan struct{})
	advertisements := make(chan ble.Advertisement, 16)
	go scanner.Run(stop, advertisements)

	for {
		select {
		case <-sig:
			log.Println("stopping")
			close(stop)
			return
		case adv := <-advertisements:
			fmt.Println("------------------------------------")
			fmt.Printf("device:  %s (%s)\n", adv.DeviceID, adv.MAC)
			fmt.Println(adv.Data.String())
			fmt.Println("------------------------------------")
		}
	}
}
