package aacp

import "fmt"

// BatteryComponent identifies which physical component a battery reading
// belongs to.
type BatteryComponent uint8

const (
	ComponentUnknown   BatteryComponent = 0
	ComponentRight     BatteryComponent = 2
	ComponentLeft      BatteryComponent = 4
	ComponentCase      BatteryComponent = 8
	ComponentHeadphone BatteryComponent = 1
)

func (c BatteryComponent) String() string {
	switch c {
	case ComponentRight:
		return "Right"
	case ComponentLeft:
		return "Left"
	case ComponentCase:
		return "Case"
	case ComponentHeadphone:
		return "Headphone"
	default:
		return "Unknown"
	}
}

// BatteryStatus is the charging state reported alongside a level.
type BatteryStatus uint8

const (
	StatusUnknown      BatteryStatus = 0
	StatusCharging     BatteryStatus = 1
	StatusDischarging  BatteryStatus = 2
	StatusDisconnected BatteryStatus = 4
)

func (s BatteryStatus) String() string {
	switch s {
	case StatusCharging:
		return "Charging"
	case StatusDischarging:
		return "Discharging"
	case StatusDisconnected:
		return "Disconnected"
	default:
		return "Unknown"
	}
}

// BatteryReading is a single component's battery level and status.
type BatteryReading struct {
	Component BatteryComponent
	Level     uint8
	Status    BatteryStatus
}

// isBatteryPacket reports whether packet carries battery telemetry: the
// MsgBattery type tag followed by a component count.
func isBatteryPacket(packet []byte) bool {
	typ, ok := frameType(packet)
	return ok && typ == MsgBattery && len(packet) >= 7
}

// parseBatteryPacket decodes a sequence of [component, 01, level, status, 01]
// records following the 7-byte header+count prefix.
func parseBatteryPacket(packet []byte) ([]BatteryReading, error) {
	if !isBatteryPacket(packet) {
		return nil, fmt.Errorf("aacp: not a battery packet")
	}

	count := packet[6]
	readings := make([]BatteryReading, 0, count)
	offset := 7
	for i := 0; i < int(count); i++ {
		if offset+5 > len(packet) {
			return nil, fmt.Errorf("aacp: truncated battery record at offset %d", offset)
		}
		readings = append(readings, BatteryReading{
			Component: BatteryComponent(packet[offset]),
			Level:     packet[offset+2],
			Status:    BatteryStatus(packet[offset+3]),
		})
		offset += 5
	}
	return readings, nil
}
