// Package autoconnect implements the single-flight re-connect arbiter: when
// the BLE scanner sees a known device advertising "disconnected from
// everything," this issues at most one concurrent OS-level connect attempt
// per address.
//
// Grounded on spec's auto-connect arbiter description and the teacher's
// general "external command via context with timeout" pattern used for
// invoking bluetoothctl-style operations.
package autoconnect

import (
	"context"
	"time"

	"github.com/sirupsen/logrus"
)

// DefaultTimeout bounds how long a single connect attempt may run before
// the arbiter gives up and frees the address for a future attempt.
const DefaultTimeout = 10 * time.Second

// ConnectFunc issues the OS-level "connect by MAC" operation.
type ConnectFunc func(ctx context.Context, mac string) error

// Arbiter maintains the connecting-MAC set, owned by the single goroutine
// running Run.
type Arbiter struct {
	connect ConnectFunc
	timeout time.Duration
	log     *logrus.Entry

	requests chan string
}

// New creates an arbiter that issues connects through connect.
func New(connect ConnectFunc, log *logrus.Entry) *Arbiter {
	if log == nil {
		log = logrus.NewEntry(logrus.StandardLogger())
	}
	return &Arbiter{
		connect:  connect,
		timeout:  DefaultTimeout,
		log:      log.WithField("component", "autoconnect"),
		requests: make(chan string, 64),
	}
}

// Run processes connect requests until stop is closed. A single goroutine
// owns the connecting-MAC set, so no additional lock is required: membership
// is exactly "has a worker goroutine been spawned for this MAC that hasn't
// reported back yet."
func (a *Arbiter) Run(stop <-chan struct{}) {
	connecting := make(map[string]bool)
	done := make(chan string)

	for {
		select {
		case <-stop:
			return
		case mac := <-a.requests:
			if connecting[mac] {
				continue // single-flight: drop
			}
			connecting[mac] = true
			go a.attempt(mac, done)
		case mac := <-done:
			delete(connecting, mac)
		}
	}
}

// RequestConnect enqueues a connect attempt for mac. Non-blocking: a full
// queue drops the request, since another advertisement will arrive shortly
// if the device is still trying to reach a host.
func (a *Arbiter) RequestConnect(mac string) {
	select {
	case a.requests <- mac:
	default:
		a.log.WithField("mac", mac).Warn("autoconnect request queue full, dropping")
	}
}

func (a *Arbiter) attempt(mac string, done chan<- string) {
	defer func() { done <- mac }()

	ctx, cancel := context.WithTimeout(context.Background(), a.timeout)
	defer cancel()

	if err := a.connect(ctx, mac); err != nil {
		a.log.WithError(err).WithField("mac", mac).Info("auto-connect attempt failed")
		return
	}
	a.log.WithField("mac", mac).Info("auto-connect attempt succeeded")
}
