package dispatch

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"airpodsd/internal/aacp"
	"airpodsd/internal/devicestore"
	"airpodsd/internal/supervisor"
)

type fakeLookup struct {
	entries map[string]*supervisor.Entry
}

func (f *fakeLookup) Get(deviceID string) (*supervisor.Entry, bool) {
	e, ok := f.entries[deviceID]
	return e, ok
}

type unknownCommand struct{}

func (unknownCommand) isCommand() {}

func TestDeliverLogsAndContinuesWhenDeviceUnknown(t *testing.T) {
	d := New(&fakeLookup{entries: map[string]*supervisor.Entry{}}, nil)
	assert.NotPanics(t, func() {
		d.deliver(request{DeviceID: "missing", Command: ControlCommand{ID: aacp.CmdListeningMode, Value: []byte{0x01}}})
	})
}

func TestSendToRejectsNonAACPKind(t *testing.T) {
	entry := &supervisor.Entry{Kind: devicestore.KindNothingATT}
	err := sendTo(entry, ControlCommand{ID: aacp.CmdListeningMode, Value: []byte{0x01}})
	assert.Error(t, err)
}

func TestSendToRejectsUnknownCommandType(t *testing.T) {
	entry := &supervisor.Entry{Kind: devicestore.KindAppleAACP, AACP: &aacp.Session{}}
	err := sendTo(entry, unknownCommand{})
	assert.Error(t, err)
}

func TestSendDropsWhenQueueFull(t *testing.T) {
	d := New(&fakeLookup{entries: map[string]*supervisor.Entry{}}, nil)
	for i := 0; i < 64; i++ {
		d.Send("dev", Rename{Name: "x"})
	}
	// One more over capacity must not block.
	done := make(chan struct{})
	go func() {
		d.Send("dev", Rename{Name: "overflow"})
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Send blocked when queue was full")
	}
}
