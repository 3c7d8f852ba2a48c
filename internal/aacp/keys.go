package aacp

import "fmt"

// ProximityKeyType identifies a proximity-pairing encryption key.
type ProximityKeyType uint8

const (
	KeyTypeIRK    ProximityKeyType = 0x01
	KeyTypeEncKey ProximityKeyType = 0x04
)

// ProximityKey is a single key extracted from a key-response packet.
type ProximityKey struct {
	Type ProximityKeyType
	Data []byte
}

// isKeyPacket reports whether packet is a response to MsgProximityKeyRequest.
func isKeyPacket(packet []byte) bool {
	return len(packet) >= 7 && packet[4] == keyMarkerByte
}

// parseProximityKeys decodes a key-response packet.
//
// Layout: offset 4 = marker (0x31), offset 5 = unknown, offset 6 = key
// count, then per key: [type, unknown, length, unknown, data[length]...].
func parseProximityKeys(packet []byte) ([]ProximityKey, error) {
	if !isKeyPacket(packet) {
		return nil, fmt.Errorf("aacp: not a key packet")
	}

	count := int(packet[6])
	if count == 0 || count > 10 {
		return nil, fmt.Errorf("aacp: suspicious key count %d", count)
	}

	keys := make([]ProximityKey, 0, count)
	offset := 7
	for i := 0; i < count; i++ {
		if offset+3 >= len(packet) {
			return nil, fmt.Errorf("aacp: truncated key %d header", i+1)
		}
		keyType := ProximityKeyType(packet[offset])
		length := int(packet[offset+2])
		offset += 4

		if offset+length > len(packet) {
			return nil, fmt.Errorf("aacp: truncated key %d data", i+1)
		}
		data := append([]byte(nil), packet[offset:offset+length]...)
		keys = append(keys, ProximityKey{Type: keyType, Data: data})
		offset += length
	}
	return keys, nil
}

func findKey(keys []ProximityKey, typ ProximityKeyType) []byte {
	for _, k := range keys {
		if k.Type == typ {
			return k.Data
		}
	}
	return nil
}
