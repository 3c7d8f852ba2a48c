package aacp

import (
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestSession() *Session {
	return &Session{
		log:      logrus.NewEntry(logrus.StandardLogger()),
		notifier: newNotifier(),
		events:   make(chan Event, 32),
		subs:     make(map[ControlCommandID][]chan []byte),
		closed:   make(chan struct{}),
		state: PeerState{
			ControlValues: make(map[ControlCommandID][]byte),
		},
	}
}

func TestNotifierWaitReturnsEarlyOnNotify(t *testing.T) {
	n := newNotifier()
	done := make(chan time.Duration, 1)
	go func() {
		start := time.Now()
		n.wait(5 * time.Second)
		done <- time.Since(start)
	}()
	time.Sleep(10 * time.Millisecond)
	n.notify()
	elapsed := <-done
	assert.Less(t, elapsed, time.Second)
}

func TestNotifierWaitTimesOut(t *testing.T) {
	n := newNotifier()
	start := time.Now()
	n.wait(20 * time.Millisecond)
	assert.GreaterOrEqual(t, time.Since(start), 20*time.Millisecond)
}

func TestHandleEarDetectionUpdatesSnapshot(t *testing.T) {
	s := newTestSession()
	s.handleEarDetection([]byte{byte(EarOutOfEar), byte(EarOutOfEar), byte(EarInEar), byte(EarOutOfEar)})

	snap := s.Snapshot()
	assert.Equal(t, [2]EarStatus{EarInEar, EarOutOfEar}, snap.EarStatus)

	ev := <-s.events
	detection, ok := ev.(EarDetectionEvent)
	require.True(t, ok)
	assert.Equal(t, EarInEar, detection.New[0])
}

func TestHandleControlCommandUpdatesListeningMode(t *testing.T) {
	s := newTestSession()
	s.handleControlCommand([]byte{byte(CmdListeningMode), byte(NoiseTransparency)})

	snap := s.Snapshot()
	assert.Equal(t, NoiseTransparency, snap.ListeningMode)
	assert.Equal(t, []byte{byte(NoiseTransparency)}, snap.ControlValues[CmdListeningMode])
}

func TestSubscribeControlCommandReplaysLastValue(t *testing.T) {
	s := newTestSession()
	s.handleControlCommand([]byte{byte(CmdListeningMode), byte(NoiseAdaptive)})

	ch := s.SubscribeControlCommand(CmdListeningMode)
	select {
	case v := <-ch:
		assert.Equal(t, []byte{byte(NoiseAdaptive)}, v)
	case <-time.After(time.Second):
		t.Fatal("expected replayed value")
	}
}

func TestSubscribeControlCommandReceivesLiveUpdates(t *testing.T) {
	s := newTestSession()
	ch := s.SubscribeControlCommand(CmdOwnsConnection)

	s.handleControlCommand([]byte{byte(CmdOwnsConnection), 0x01})

	select {
	case v := <-ch:
		assert.Equal(t, []byte{0x01}, v)
	case <-time.After(time.Second):
		t.Fatal("expected live update")
	}
	assert.True(t, s.Snapshot().OwnsConnection)
}

func TestHandleConnectedDevicesDecodesBothLists(t *testing.T) {
	s := newTestSession()
	oldMAC := []byte{0x01, 0x02, 0x03, 0x04, 0x05, 0x06}
	newMAC := []byte{0x0A, 0x0B, 0x0C, 0x0D, 0x0E, 0x0F}

	body := []byte{0x01}
	body = append(body, oldMAC...)
	body = append(body, 0xAA, 0xBB)
	body = append(body, 0x01)
	body = append(body, newMAC...)
	body = append(body, 0xCC, 0xDD)

	s.handleConnectedDevices(body)

	ev := (<-s.events).(ConnectedDevicesEvent)
	require.Len(t, ev.New, 1)
	assert.Equal(t, "0f:0e:0d:0c:0b:0a", ev.New[0].MAC)
	assert.Equal(t, byte(0xCC), ev.New[0].Info1)
}

func TestHandleDeviceInfoSplitsFields(t *testing.T) {
	s := newTestSession()
	s.handleDeviceInfo([]byte("AirPods Pro\x00SERIAL123\x001.0\x002.0\x00HWREV1"))

	ev := (<-s.events).(DeviceInfoEvent)
	assert.Equal(t, "AirPods Pro", ev.Name)
	assert.Equal(t, "SERIAL123", ev.SerialNumber)
	assert.Equal(t, "HWREV1", ev.HardwareRev)
}

func TestSendControlCommandRoundTripsThroughHandleControlCommand(t *testing.T) {
	packet := encode(MsgControlCommand, []byte{byte(CmdChimeVolume), 0x05})
	typ, ok := frameType(packet)
	require.True(t, ok)
	assert.Equal(t, MsgControlCommand, typ)
	assert.Equal(t, []byte{byte(CmdChimeVolume), 0x05}, payload(packet))

	s := newTestSession()
	s.handleControlCommand(payload(packet))
	assert.Equal(t, []byte{0x05}, s.Snapshot().ControlValues[CmdChimeVolume])
}
