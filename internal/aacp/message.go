// Package aacp implements Apple's Accessory Control Protocol: a framed
// command/notification channel carried over an L2CAP socket on PSM 0x1001,
// used for the AirPods feature surface that plain A2DP/HFP never exposes
// (per-bud battery, ear detection, conversational awareness, stem presses,
// noise-control mode, and multi-host ownership handoff).
//
// This is a generalization of this repository's original AAP client: the
// same four-byte framing header and packet layouts, widened from "battery +
// key requests only" into the full session/event-bus model the coordinator
// needs.
package aacp

import "encoding/binary"

// header is the fixed 4-byte prefix of every framed AACP packet except the
// handshake, which uses its own header (see handshakePacket).
var header = [4]byte{0x04, 0x00, 0x04, 0x00}

// MessageType is the little-endian u16 immediately following header.
type MessageType uint16

const (
	MsgFeatureFlags         MessageType = 0x004D
	MsgRequestNotifications MessageType = 0x000F
	MsgProximityKeyRequest  MessageType = 0x0030
	MsgBattery              MessageType = 0x0004
	MsgSomePacket           MessageType = 0x0050
	MsgInitExt              MessageType = 0x0047
	MsgRename               MessageType = 0x0010
	MsgControlCommand       MessageType = 0x0009
	MsgMediaInformation     MessageType = 0x0017
	MsgSmartRoutingShowUI   MessageType = 0x0019
	MsgHijackRequest        MessageType = 0x001A
	MsgAddTipiDevice        MessageType = 0x001D
	MsgEarDetection         MessageType = 0x0006
	MsgConvAwareness        MessageType = 0x0025
	MsgConnectedDevices     MessageType = 0x004C
	MsgOwnershipToFalse     MessageType = 0x004E
	MsgStemPress            MessageType = 0x0008
	MsgDeviceInfo           MessageType = 0x004B
)

// keyMarkerByte is the byte at offset 4 that distinguishes an inbound
// proximity-key response from a generic MessageType-tagged frame: the
// device replies to a MsgProximityKeyRequest with 0x31 in the position a
// MessageType's low byte would otherwise occupy.
const keyMarkerByte = 0x31

// encode builds [header][msgType LE][payload].
func encode(msgType MessageType, payload []byte) []byte {
	packet := make([]byte, 0, 6+len(payload))
	packet = append(packet, header[:]...)
	var typeBytes [2]byte
	binary.LittleEndian.PutUint16(typeBytes[:], uint16(msgType))
	packet = append(packet, typeBytes[:]...)
	packet = append(packet, payload...)
	return packet
}

// frameType reports the MessageType of an inbound packet that carries the
// standard header, or false if the packet is too short or a proximity-key
// response (which uses the keyMarkerByte convention instead).
func frameType(packet []byte) (MessageType, bool) {
	if len(packet) < 6 {
		return 0, false
	}
	if packet[4] == keyMarkerByte {
		return 0, false
	}
	return MessageType(binary.LittleEndian.Uint16(packet[4:6])), true
}

// payload returns the bytes after the 6-byte header+type prefix.
func payload(packet []byte) []byte {
	if len(packet) <= 6 {
		return nil
	}
	return packet[6:]
}

// handshakePacket is the fixed initial packet sent once per link, before any
// MessageType-framed packet. It carries a distinct 00 00 04 00 header, not
// the 04 00 04 00 header every other outbound packet uses.
var handshakePacket = []byte{0x00, 0x00, 0x04, 0x00, 0x01, 0x00, 0x02, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00}

// someOpaquePacket is sent immediately after REQUEST_NOTIFICATIONS, with no
// pacing wait. Its purpose is undocumented upstream; it is carried through
// unchanged as an opaque blob the protocol apparently requires.
var someOpaquePacket = encode(MsgSomePacket, []byte{0x00})

func featureFlagsPacket() []byte {
	return encode(MsgFeatureFlags, []byte{0xFF, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00})
}

func requestNotificationsPacket() []byte {
	return encode(MsgRequestNotifications, []byte{0xFF, 0xFF, 0xFF, 0xFF})
}

func initExtPacket() []byte {
	return encode(MsgInitExt, nil)
}

// keyRequestPacket requests the given key types, OR-ing each
// ProximityKeyType value into the request bitmask.
func keyRequestPacket(types []ProximityKeyType) []byte {
	var mask byte
	for _, t := range types {
		mask |= byte(t)
	}
	return encode(MsgProximityKeyRequest, []byte{mask, 0x00})
}
