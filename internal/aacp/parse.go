package aacp

import (
	"strings"

	"airpodsd/internal/aacpproto"
)

var errShortConnectedDevices = aacpproto.ErrProtocolMalformed

// handleEarDetection decodes a 4-byte [oldL, oldR, newL, newR] transition and
// updates the snapshot.
func (s *Session) handleEarDetection(body []byte) {
	if len(body) < 4 {
		s.log.Debug("short ear detection payload")
		return
	}
	ev := EarDetectionEvent{
		Old: [2]EarStatus{EarStatus(body[0]), EarStatus(body[1])},
		New: [2]EarStatus{EarStatus(body[2]), EarStatus(body[3])},
	}
	s.stateMu.Lock()
	s.state.EarStatus = ev.New
	s.stateMu.Unlock()
	s.publish(ev)
}

// handleConvAwareness decodes a single ducking-state status byte.
func (s *Session) handleConvAwareness(body []byte) {
	if len(body) < 1 {
		s.log.Debug("short conversational awareness payload")
		return
	}
	s.stateMu.Lock()
	s.state.ConvAwareness = body[0]
	s.stateMu.Unlock()
	s.publish(ConversationalAwarenessEvent{Status: body[0]})
}

// handleConnectedDevices decodes two length-prefixed lists of
// [mac(6), info1, info2] records: the peer's previous and current view of
// which hosts are connected.
func (s *Session) handleConnectedDevices(body []byte) {
	old, rest, err := decodeDeviceList(body)
	if err != nil {
		s.log.WithError(err).Debug("connected devices: old list")
		return
	}
	cur, _, err := decodeDeviceList(rest)
	if err != nil {
		s.log.WithError(err).Debug("connected devices: new list")
		return
	}

	s.stateMu.Lock()
	s.state.ConnectedPeers = cur
	s.stateMu.Unlock()
	s.publish(ConnectedDevicesEvent{Old: old, New: cur})
}

func decodeDeviceList(body []byte) ([]ConnectedDevice, []byte, error) {
	if len(body) < 1 {
		return nil, nil, errShortConnectedDevices
	}
	count := int(body[0])
	offset := 1
	out := make([]ConnectedDevice, 0, count)
	for i := 0; i < count; i++ {
		if offset+8 > len(body) {
			return nil, nil, errShortConnectedDevices
		}
		mac := body[offset : offset+6]
		out = append(out, ConnectedDevice{
			MAC:   formatMAC(mac),
			Info1: body[offset+6],
			Info2: body[offset+7],
		})
		offset += 8
	}
	return out, body[offset:], nil
}

func formatMAC(b []byte) string {
	var sb strings.Builder
	for i := 5; i >= 0; i-- {
		if i != 5 {
			sb.WriteByte(':')
		}
		const hexDigits = "0123456789abcdef"
		sb.WriteByte(hexDigits[b[i]>>4])
		sb.WriteByte(hexDigits[b[i]&0xF])
	}
	return sb.String()
}

// handleStemPress decodes [kind, bud].
func (s *Session) handleStemPress(body []byte) {
	if len(body) < 2 {
		s.log.Debug("short stem press payload")
		return
	}
	s.publish(StemPressEvent{Kind: StemPressKind(body[0]), Bud: Bud(body[1])})
}

// handleControlCommand decodes [identifier, value...], updates the snapshot
// and control-command subscription registry, and mirrors well-known
// identifiers into their typed PeerState fields.
func (s *Session) handleControlCommand(body []byte) {
	if len(body) < 1 {
		s.log.Debug("short control command payload")
		return
	}
	id := ControlCommandID(body[0])
	value := append([]byte(nil), body[1:]...)

	s.stateMu.Lock()
	s.state.ControlValues[id] = value
	switch id {
	case CmdListeningMode:
		if len(value) > 0 {
			s.state.ListeningMode = NoiseControlMode(value[0])
		}
	case CmdOwnsConnection:
		s.state.OwnsConnection = len(value) > 0 && value[0] != 0
	}
	s.stateMu.Unlock()

	s.subsMu.RLock()
	for _, ch := range s.subs[id] {
		select {
		case ch <- append([]byte(nil), value...):
		default:
		}
	}
	s.subsMu.RUnlock()

	s.publish(ControlCommandEvent{Identifier: id, Value: value})
}

// handleDeviceInfo decodes NUL-delimited Name/Serial/Version1/Version2/HWRev
// fields.
func (s *Session) handleDeviceInfo(body []byte) {
	fields := strings.Split(string(body), "\x00")
	get := func(i int) string {
		if i < len(fields) {
			return fields[i]
		}
		return ""
	}
	s.publish(DeviceInfoEvent{
		Name:         get(0),
		SerialNumber: get(1),
		Version1:     get(2),
		Version2:     get(3),
		HardwareRev:  get(4),
	})
}
