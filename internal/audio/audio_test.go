package audio

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseVolumePercent(t *testing.T) {
	pct, err := parseVolumePercent("Volume: front-left: 45000 /  69% / -15.00 dB,   front-right: 45000 /  69% / -15.00 dB")
	require.NoError(t, err)
	assert.Equal(t, 69, pct)
}

func TestParseVolumePercentRejectsGarbage(t *testing.T) {
	_, err := parseVolumePercent("no percent here")
	assert.Error(t, err)
}

const pactlCardsTwoDevices = `Card #7
	Name: bluez_card.AA_BB_CC_DD_EE_FF
	Properties:
		device.string = "AA:BB:CC:DD:EE:FF"
	Profiles:
		a2dp-sink-sbc_xq: High Fidelity Playback (sink: SBC-XQ)
		a2dp-sink: High Fidelity Playback (sink)
		off: Off
Card #9
	Name: alsa_card.pci-0000_00_1f.3
	Properties:
		device.string = "hw:0"
	Profiles:
		output:analog-stereo: Analog Stereo Output
`

func TestFindCardMatchesNonLastCard(t *testing.T) {
	card, profiles, err := findCard(pactlCardsTwoDevices, "aa:bb:cc:dd:ee:ff")
	require.NoError(t, err)
	assert.Equal(t, "7", card)
	assert.True(t, profiles["a2dp-sink-sbc_xq"])
	assert.True(t, profiles["a2dp-sink"])
	assert.False(t, profiles["a2dp-sink-sbc"])
}

func TestFindCardNoMatch(t *testing.T) {
	_, _, err := findCard(pactlCardsTwoDevices, "11:22:33:44:55:66")
	assert.Error(t, err)
}
