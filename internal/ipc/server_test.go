package ipc

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"airpodsd/internal/aacp"
	"airpodsd/internal/dispatch"
)

func TestWriteReadMessageRoundTrips(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, writeMessage(&buf, []byte(`{"hello":"world"}`)))

	got, err := readMessage(&buf)
	require.NoError(t, err)
	assert.Equal(t, `{"hello":"world"}`, string(got))
}

func TestReadMessageRejectsOversizedLength(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, writeMessage(&buf, make([]byte, 0)))
	// Overwrite the length header with something past the 16MiB cap.
	oversized := buf.Bytes()
	oversized[0], oversized[1], oversized[2], oversized[3] = 0xFF, 0xFF, 0xFF, 0xFF

	_, err := readMessage(bytes.NewReader(oversized))
	assert.Error(t, err)
}

func TestWireCommandControlCommand(t *testing.T) {
	wc := wireCommand{Type: "control_command", ID: uint16(aacp.CmdListeningMode), Value: []byte{0x02}}
	cmd, err := wc.toDispatchCommand()
	require.NoError(t, err)
	assert.Equal(t, dispatch.ControlCommand{ID: aacp.CmdListeningMode, Value: []byte{0x02}}, cmd)
}

func TestWireCommandRename(t *testing.T) {
	wc := wireCommand{Type: "rename", Name: "Studio Buds"}
	cmd, err := wc.toDispatchCommand()
	require.NoError(t, err)
	assert.Equal(t, dispatch.Rename{Name: "Studio Buds"}, cmd)
}

func TestWireCommandUnknownTypeErrors(t *testing.T) {
	wc := wireCommand{Type: "nonsense"}
	_, err := wc.toDispatchCommand()
	assert.Error(t, err)
}
