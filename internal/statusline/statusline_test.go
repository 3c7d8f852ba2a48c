package statusline

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"airpodsd/internal/aacp"
	"airpodsd/internal/eventbus"
)

func TestRenderNoDevicesIsDisconnected(t *testing.T) {
	line := Render(map[string]eventbus.DeviceSnapshot{})
	assert.Equal(t, "disconnected", line.Class)
	assert.Equal(t, 0, line.Percentage)
}

func TestRenderPicksMinimumBatteryAcrossComponents(t *testing.T) {
	snapshots := map[string]eventbus.DeviceSnapshot{
		"dev-1": {
			Connected: true,
			Kind:      "AppleAACP",
			Battery: []aacp.BatteryReading{
				{Component: aacp.ComponentLeft, Level: 80},
				{Component: aacp.ComponentRight, Level: 42},
				{Component: aacp.ComponentCase, Level: 90},
			},
		},
	}
	line := Render(snapshots)
	assert.Equal(t, "connected", line.Class)
	assert.Equal(t, 42, line.Percentage)
	assert.Equal(t, "42%", line.Text)
	assert.Equal(t, "AppleAACP\nL: 80%\nR: 42%\nC: 90%\n", line.Tooltip)
}

func TestRenderUsesDeviceNameInTooltip(t *testing.T) {
	snapshots := map[string]eventbus.DeviceSnapshot{
		"dev-1": {
			Connected:  true,
			Kind:       "AppleAACP",
			DeviceInfo: &aacp.DeviceInfoEvent{Name: "AirPods Pro"},
			Battery:    []aacp.BatteryReading{{Component: aacp.ComponentLeft, Level: 50}},
		},
	}
	line := Render(snapshots)
	assert.Equal(t, "AirPods Pro\nL: 50%\n", line.Tooltip)
}

func TestRenderIgnoresDisconnectedDevices(t *testing.T) {
	snapshots := map[string]eventbus.DeviceSnapshot{
		"dev-1": {Connected: false, Battery: []aacp.BatteryReading{{Component: aacp.ComponentLeft, Level: 10}}},
	}
	line := Render(snapshots)
	assert.Equal(t, "disconnected", line.Class)
}

func TestWriteBatteryEnvWritesOnlyPresentComponents(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "airpods-battery.env")

	snapshots := map[string]eventbus.DeviceSnapshot{
		"dev-1": {
			Connected: true,
			Battery: []aacp.BatteryReading{
				{Component: aacp.ComponentLeft, Level: 55},
				{Component: aacp.ComponentCase, Level: 99},
			},
		},
	}
	require.NoError(t, WriteBatteryEnv(path, snapshots))

	raw, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "LEFT=55\nCASE=99\n", string(raw))
}

func TestHasBatteryFalseWhenNoReadings(t *testing.T) {
	assert.False(t, hasBattery(map[string]eventbus.DeviceSnapshot{
		"dev-1": {Connected: true},
	}))
}
