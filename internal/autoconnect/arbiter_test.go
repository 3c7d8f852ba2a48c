package autoconnect

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestSingleFlightDropsConcurrentRequests(t *testing.T) {
	var calls int32
	release := make(chan struct{})
	a := New(func(ctx context.Context, mac string) error {
		atomic.AddInt32(&calls, 1)
		<-release
		return nil
	}, nil)

	stop := make(chan struct{})
	go a.Run(stop)
	defer close(stop)

	a.RequestConnect("aa:bb:cc:dd:ee:ff")
	time.Sleep(20 * time.Millisecond)
	a.RequestConnect("aa:bb:cc:dd:ee:ff")
	a.RequestConnect("aa:bb:cc:dd:ee:ff")
	time.Sleep(20 * time.Millisecond)

	close(release)
	time.Sleep(20 * time.Millisecond)
	assert.Equal(t, int32(1), atomic.LoadInt32(&calls))
}

func TestFailedAttemptFreesAddressForRetry(t *testing.T) {
	var calls int32
	var mu sync.Mutex
	a := New(func(ctx context.Context, mac string) error {
		mu.Lock()
		defer mu.Unlock()
		atomic.AddInt32(&calls, 1)
		return assert.AnError
	}, nil)

	stop := make(chan struct{})
	go a.Run(stop)
	defer close(stop)

	a.RequestConnect("aa:bb:cc:dd:ee:ff")
	time.Sleep(30 * time.Millisecond)
	a.RequestConnect("aa:bb:cc:dd:ee:ff")
	time.Sleep(30 * time.Millisecond)

	assert.Equal(t, int32(2), atomic.LoadInt32(&calls))
}
