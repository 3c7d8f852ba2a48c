package att

import (
	"bytes"
	"context"
	"fmt"
	"time"
)

// Nothing Ear devices expose a single catch-all characteristic handle that
// multiplexes several request/response kinds by a leading byte sequence,
// rather than the handle-per-field layout ATT usually implies. The byte
// sequences below are the device's own framing, not ours.
const (
	// handleNothingEverything is the write target for every Nothing Ear
	// request used here (version, serial number).
	handleNothingEverything = 0x0012
)

var (
	versionRequest = []byte{0x55, 0x20, 0x01, 0x42, 0xC0, 0x00, 0x00, 0x00, 0x00, 0x00}
	serialRequest  = []byte{0x55, 0x20, 0x01, 0x06, 0xC0, 0x00, 0x00, 0x13, 0x00, 0x00}

	versionResponsePrefix = []byte{0x55, 0x20, 0x01, 0x42, 0x40}
	serialResponsePrefix  = []byte{0x55, 0x20, 0x01, 0x06, 0x40}
)

// NothingInfo holds the device information recovered from the two-write
// discovery sequence below.
type NothingInfo struct {
	FirmwareVersion string
	SerialNumber    string
}

// DiscoverNothing performs the Nothing Ear version/serial-number discovery:
// enable notifications on the catch-all handle, write the version request,
// wait briefly, then write the serial-number request. Responses are
// collected from the registered listener and matched by their prefix.
func DiscoverNothing(ctx context.Context, c *Client) (*NothingInfo, error) {
	info := &NothingInfo{}
	responses := make(chan []byte, 4)

	c.RegisterListener(handleNothingEverything, func(value []byte) {
		responses <- value
	})

	if err := c.EnableNotifications(ctx, handleNothingEverything); err != nil {
		return nil, fmt.Errorf("att: enable nothing notifications: %w", err)
	}

	if err := c.Write(ctx, handleNothingEverything, versionRequest); err != nil {
		return nil, fmt.Errorf("att: version request: %w", err)
	}

	select {
	case <-time.After(100 * time.Millisecond):
	case <-ctx.Done():
		return nil, ctx.Err()
	}

	if err := c.Write(ctx, handleNothingEverything, serialRequest); err != nil {
		return nil, fmt.Errorf("att: serial request: %w", err)
	}

	deadline := time.After(2 * time.Second)
	for info.FirmwareVersion == "" || info.SerialNumber == "" {
		select {
		case value := <-responses:
			applyNothingResponse(info, value)
		case <-deadline:
			return info, nil
		case <-ctx.Done():
			return info, ctx.Err()
		}
	}
	return info, nil
}

func applyNothingResponse(info *NothingInfo, value []byte) {
	switch {
	case bytes.HasPrefix(value, versionResponsePrefix) && len(value) > 8:
		info.FirmwareVersion = string(bytes.TrimRight(value[8:], "\x00"))
	case bytes.HasPrefix(value, serialResponsePrefix):
		info.SerialNumber = extractSerialNumber(value)
	}
}

// extractSerialNumber scans for the ASCII 'S' that opens the serial number
// field and reads up to a 0x0A terminator, validating that the byte
// immediately after 'S' is 'H' (the "SH..." serial prefix Nothing Ear uses).
func extractSerialNumber(value []byte) string {
	for i := 0; i < len(value)-1; i++ {
		if value[i] != 'S' || value[i+1] != 'H' {
			continue
		}
		end := i
		for end < len(value) && value[end] != 0x0A {
			end++
		}
		return string(value[i:end])
	}
	return ""
}
