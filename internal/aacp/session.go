package aacp

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
	"golang.org/x/sys/unix"

	"airpodsd/internal/aacpproto"
)

// productIDs that unlock Adaptive ANC and therefore require the INIT_EXT
// handshake step.
var needsInitExtProductIDs = map[uint16]bool{
	0x201b: true,
	0x2014: true,
	0x2027: true,
	0x2024: true,
}

const handshakeStepTimeout = 500 * time.Millisecond

// PeerState is the session's live snapshot of what the device last reported.
type PeerState struct {
	EarStatus      [2]EarStatus
	Battery        []BatteryReading
	ListeningMode  NoiseControlMode
	OwnsConnection bool
	ConnectedPeers []ConnectedDevice
	ControlValues  map[ControlCommandID][]byte
	ConvAwareness  uint8
	IRK            []byte
	EncKey         []byte
}

// Session is a long-lived AACP connection: a framer plus a typed event bus,
// the handshake sequence, and the peer state snapshot subscribers replay
// from.
type Session struct {
	fd        int
	mac       string
	productID uint16
	log       *logrus.Entry

	notifier *notifier

	sendMu sync.Mutex

	stateMu sync.RWMutex
	state   PeerState

	events chan Event

	subsMu sync.RWMutex
	subs   map[ControlCommandID][]chan []byte

	closeOnce sync.Once
	closed    chan struct{}
}

// notifier re-arms a broadcast wakeup on every inbound frame, used to pace
// the handshake without fixed sleeps: each send waits for either the next
// notify() or its own timeout, whichever comes first.
type notifier struct {
	mu sync.Mutex
	ch chan struct{}
}

func newNotifier() *notifier {
	return &notifier{ch: make(chan struct{})}
}

func (n *notifier) wait(timeout time.Duration) {
	n.mu.Lock()
	ch := n.ch
	n.mu.Unlock()
	select {
	case <-ch:
	case <-time.After(timeout):
	}
}

func (n *notifier) notify() {
	n.mu.Lock()
	close(n.ch)
	n.ch = make(chan struct{})
	n.mu.Unlock()
}

// Connect opens the L2CAP socket and starts the receive loop. Run the
// handshake separately with Handshake() so the supervisor can observe
// connect failures before committing to the full sequence.
func Connect(mac string, productID uint16, log *logrus.Entry) (*Session, error) {
	fd, err := dialL2CAP(mac)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", aacpproto.ErrLinkUnavailable, err)
	}

	if log == nil {
		log = logrus.NewEntry(logrus.StandardLogger())
	}

	s := &Session{
		fd:        fd,
		mac:       mac,
		productID: productID,
		log:       log.WithField("mac", mac),
		notifier:  newNotifier(),
		events:    make(chan Event, 32),
		subs:      make(map[ControlCommandID][]chan []byte),
		closed:    make(chan struct{}),
		state: PeerState{
			ControlValues: make(map[ControlCommandID][]byte),
		},
	}
	go s.recvLoop()
	return s, nil
}

// Events returns the channel every decoded Event is published on.
func (s *Session) Events() <-chan Event { return s.events }

// Snapshot returns a copy of the current peer state.
func (s *Session) Snapshot() PeerState {
	s.stateMu.RLock()
	defer s.stateMu.RUnlock()
	cp := s.state
	cp.Battery = append([]BatteryReading(nil), s.state.Battery...)
	cp.ConnectedPeers = append([]ConnectedDevice(nil), s.state.ConnectedPeers...)
	cp.ControlValues = make(map[ControlCommandID][]byte, len(s.state.ControlValues))
	for k, v := range s.state.ControlValues {
		cp.ControlValues[k] = append([]byte(nil), v...)
	}
	return cp
}

// Handshake runs the fixed connect-time sequence: HANDSHAKE,
// SET_FEATURE_FLAGS, REQUEST_NOTIFICATIONS, an opaque required packet,
// INIT_EXT (only for the product IDs that need it), then a proximity-key
// request for both IRK and ENC_KEY. Each step after the first waits for
// either an inbound frame or 500ms, never longer — handshake pacing is a
// deliberate upper bound, not a correctness requirement. The opaque packet
// is the one exception: it follows REQUEST_NOTIFICATIONS with no wait.
func (s *Session) Handshake(ctx context.Context) error {
	s.log.Info("sending handshake")
	if err := s.sendRaw(handshakePacket); err != nil {
		return fmt.Errorf("aacp: handshake: %w", err)
	}
	s.notifier.wait(handshakeStepTimeout)

	s.log.Info("setting feature flags")
	if err := s.sendRaw(featureFlagsPacket()); err != nil {
		s.log.WithError(err).Warn("set feature flags failed")
	}
	s.notifier.wait(handshakeStepTimeout)

	s.log.Info("requesting notifications")
	if err := s.sendRaw(requestNotificationsPacket()); err != nil {
		s.log.WithError(err).Warn("request notifications failed")
	}

	if err := s.sendRaw(someOpaquePacket); err != nil {
		s.log.WithError(err).Warn("opaque handshake packet failed")
	}

	if needsInitExtProductIDs[s.productID] {
		s.log.Infof("sending init-ext for product 0x%04x", s.productID)
		s.notifier.wait(handshakeStepTimeout)
		if err := s.sendRaw(initExtPacket()); err != nil {
			s.log.WithError(err).Warn("init-ext failed")
		}
	}

	s.notifier.wait(handshakeStepTimeout)
	s.log.Info("requesting proximity keys")
	if err := s.sendRaw(keyRequestPacket([]ProximityKeyType{KeyTypeIRK, KeyTypeEncKey})); err != nil {
		return fmt.Errorf("aacp: proximity key request: %w", err)
	}

	return nil
}

// SubscribeControlCommand returns a channel fed with every value received
// for id. The subscriber is immediately replayed the last known value, if
// any, mirroring the session's "keep the last value so newly-attached sinks
// may be re-played" contract.
func (s *Session) SubscribeControlCommand(id ControlCommandID) <-chan []byte {
	ch := make(chan []byte, 8)

	s.subsMu.Lock()
	s.subs[id] = append(s.subs[id], ch)
	s.subsMu.Unlock()

	s.stateMu.RLock()
	last, ok := s.state.ControlValues[id]
	s.stateMu.RUnlock()
	if ok {
		ch <- append([]byte(nil), last...)
	}
	return ch
}

// SendControlCommand sets a control command's value on the device.
func (s *Session) SendControlCommand(id ControlCommandID, value []byte) error {
	payload := make([]byte, 0, 1+len(value))
	payload = append(payload, byte(id))
	payload = append(payload, value...)
	return s.sendRaw(encode(MsgControlCommand, payload))
}

// SendRename requests the device rename itself.
func (s *Session) SendRename(name string) error {
	return s.sendRaw(encode(MsgRename, []byte(name)))
}

func macPayload(local, remote string) ([]byte, error) {
	localAddr, err := parseMAC(local)
	if err != nil {
		return nil, err
	}
	remoteAddr, err := parseMAC(remote)
	if err != nil {
		return nil, err
	}
	out := make([]byte, 0, 12)
	out = append(out, localAddr[:]...)
	out = append(out, remoteAddr[:]...)
	return out, nil
}

// SendMediaInformation tells the device which host currently owns playback.
func (s *Session) SendMediaInformation(local, remote string, isPlaying bool) error {
	mac, err := macPayload(local, remote)
	if err != nil {
		return fmt.Errorf("aacp: media information: %w", err)
	}
	playing := byte(0)
	if isPlaying {
		playing = 1
	}
	return s.sendRaw(encode(MsgMediaInformation, append(mac, playing)))
}

// SendSmartRoutingShowUI asks the device to surface smart-routing UI on peer.
func (s *Session) SendSmartRoutingShowUI(mac string) error {
	addr, err := parseMAC(mac)
	if err != nil {
		return err
	}
	return s.sendRaw(encode(MsgSmartRoutingShowUI, addr[:]))
}

// SendHijackRequest asks the device to hand audio routing to peer.
func (s *Session) SendHijackRequest(mac string) error {
	addr, err := parseMAC(mac)
	if err != nil {
		return err
	}
	return s.sendRaw(encode(MsgHijackRequest, addr[:]))
}

// SendMediaInformationNewDevice announces a newly connected peer's media state.
func (s *Session) SendMediaInformationNewDevice(local, newDevice string) error {
	return s.SendMediaInformation(local, newDevice, true)
}

// SendAddTipiDevice registers a newly connected peer with the device.
func (s *Session) SendAddTipiDevice(local, newDevice string) error {
	mac, err := macPayload(local, newDevice)
	if err != nil {
		return fmt.Errorf("aacp: add tipi device: %w", err)
	}
	return s.sendRaw(encode(MsgAddTipiDevice, mac))
}

func (s *Session) sendRaw(packet []byte) error {
	select {
	case <-s.closed:
		return aacpproto.ErrDisposed
	default:
	}

	s.sendMu.Lock()
	defer s.sendMu.Unlock()

	n, err := unix.Write(s.fd, packet)
	if err != nil {
		return fmt.Errorf("%w: %v", aacpproto.ErrLinkUnavailable, err)
	}
	if n != len(packet) {
		return fmt.Errorf("%w: short write %d/%d", aacpproto.ErrLinkUnavailable, n, len(packet))
	}
	return nil
}

// recvLoop reads packets until EOF/error, re-arms the handshake notifier on
// every frame, and dispatches each to its parser. It is the only goroutine
// that publishes events, so closing the events channel here cannot race a
// concurrent send.
func (s *Session) recvLoop() {
	defer close(s.events)
	defer s.teardown()

	buf := make([]byte, 2048)
	for {
		n, err := unix.Read(s.fd, buf)
		if err != nil || n == 0 {
			s.log.WithError(err).Info("aacp link closed")
			return
		}
		packet := append([]byte(nil), buf[:n]...)
		s.notifier.notify()
		s.handleInbound(packet)
	}
}

func (s *Session) handleInbound(packet []byte) {
	if isKeyPacket(packet) {
		s.handleProximityKeys(packet)
		return
	}
	if isBatteryPacket(packet) {
		s.handleBattery(packet)
		return
	}

	typ, ok := frameType(packet)
	if !ok {
		s.log.Debug("dropping malformed aacp frame")
		return
	}

	body := payload(packet)
	switch typ {
	case MsgEarDetection:
		s.handleEarDetection(body)
	case MsgConvAwareness:
		s.handleConvAwareness(body)
	case MsgConnectedDevices:
		s.handleConnectedDevices(body)
	case MsgOwnershipToFalse:
		s.publish(OwnershipToFalseRequestEvent{})
	case MsgStemPress:
		s.handleStemPress(body)
	case MsgControlCommand:
		s.handleControlCommand(body)
	case MsgDeviceInfo:
		s.handleDeviceInfo(body)
	default:
		s.log.WithField("type", fmt.Sprintf("0x%04x", uint16(typ))).Debug("unknown aacp message type")
	}
}

func (s *Session) handleBattery(packet []byte) {
	readings, err := parseBatteryPacket(packet)
	if err != nil {
		s.log.WithError(err).Debug("battery parse failed")
		return
	}
	s.stateMu.Lock()
	s.state.Battery = readings
	s.stateMu.Unlock()
	s.publish(BatteryInfoEvent{Readings: readings})
}

func (s *Session) handleProximityKeys(packet []byte) {
	keys, err := parseProximityKeys(packet)
	if err != nil {
		s.log.WithError(err).Debug("proximity key parse failed")
		return
	}
	irk := findKey(keys, KeyTypeIRK)
	enc := findKey(keys, KeyTypeEncKey)

	s.stateMu.Lock()
	if irk != nil {
		s.state.IRK = irk
	}
	if enc != nil {
		s.state.EncKey = enc
	}
	s.stateMu.Unlock()

	s.publish(ProximityKeysEvent{IRK: irk, EncKey: enc})
}

func (s *Session) publish(ev Event) {
	select {
	case s.events <- ev:
	default:
		s.log.Warn("event bus full, dropping event")
	}
}

func (s *Session) teardown() {
	s.closeOnce.Do(func() {
		close(s.closed)
	})
}

// Close tears down the link; closing the fd unblocks the receive loop,
// which closes the event channel on its way out.
func (s *Session) Close() error {
	s.teardown()
	return unix.Close(s.fd)
}
