package att

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func Test_extractSerialNumber(t *testing.T) {
	value := append([]byte{0x55, 0x20, 0x01, 0x06, 0x40, 0, 0, 0}, []byte("SH1234567\n")...)
	assert.Equal(t, "SH1234567", extractSerialNumber(value))
}

func Test_extractSerialNumber_noMatch(t *testing.T) {
	assert.Equal(t, "", extractSerialNumber([]byte{0x01, 0x02, 0x03}))
}

func Test_applyNothingResponse_version(t *testing.T) {
	info := &NothingInfo{}
	value := append(append([]byte{}, versionResponsePrefix...), []byte{0, 0, 0}...)
	value = append(value, []byte("1.2.3")...)
	applyNothingResponse(info, value)
	assert.Equal(t, "1.2.3", info.FirmwareVersion)
}

func Test_applyNothingResponse_serial(t *testing.T) {
	info := &NothingInfo{}
	value := append(append([]byte{}, serialResponsePrefix...), []byte("SH9999\n")...)
	applyNothingResponse(info, value)
	assert.Equal(t, "SH9999", info.SerialNumber)
}
