// Package mpris talks to every MPRIS2-compliant media player over the
// session D-Bus: enumerating players, reading PlaybackStatus, and issuing
// Play/Pause/Next/Previous/PlayPause. Grounded on the teacher/pack's use of
// github.com/godbus/dbus/v5 for D-Bus work (internal/bluez, internal/ble),
// generalized from "talk to BlueZ on the system bus" to "talk to media
// players on the session bus."
package mpris

import (
	"fmt"
	"strings"

	"github.com/godbus/dbus/v5"
)

const (
	namePrefix  = "org.mpris.MediaPlayer2."
	objectPath  = "/org/mpris/MediaPlayer2"
	playerIface = "org.mpris.MediaPlayer2.Player"
	propsIface  = "org.freedesktop.DBus.Properties"

	// kdeconnectPrefix names are excluded from polling: they proxy a phone's
	// own media session and produce a storm of misleading "Playing" events
	// unrelated to local playback.
	kdeconnectPrefix = namePrefix + "kdeconnect.mpris_"
)

// Client queries and controls MPRIS2 players over the session bus.
type Client struct {
	conn *dbus.Conn
}

// Connect opens the session bus connection.
func Connect() (*Client, error) {
	conn, err := dbus.ConnectSessionBus()
	if err != nil {
		return nil, fmt.Errorf("mpris: connect session bus: %w", err)
	}
	return &Client{conn: conn}, nil
}

// Close closes the underlying connection.
func (c *Client) Close() error { return c.conn.Close() }

// PlayerStatus is one player's identity and playback state.
type PlayerStatus struct {
	ServiceName string
	Playing     bool
}

// ListPlayers returns every MPRIS2 service name on the bus, excluding the
// kdeconnect proxy players.
func (c *Client) ListPlayers() ([]string, error) {
	var names []string
	obj := c.conn.BusObject()
	if err := obj.Call("org.freedesktop.DBus.ListNames", 0).Store(&names); err != nil {
		return nil, fmt.Errorf("mpris: list names: %w", err)
	}

	out := make([]string, 0, len(names))
	for _, n := range names {
		if !strings.HasPrefix(n, namePrefix) {
			continue
		}
		if strings.HasPrefix(n, kdeconnectPrefix) {
			continue
		}
		out = append(out, n)
	}
	return out, nil
}

// PlaybackStatus reports whether service is currently Playing.
func (c *Client) PlaybackStatus(service string) (bool, error) {
	obj := c.conn.Object(service, objectPath)
	variant, err := obj.GetProperty(playerIface + ".PlaybackStatus")
	if err != nil {
		return false, fmt.Errorf("mpris: get playback status: %w", err)
	}
	status, ok := variant.Value().(string)
	if !ok {
		return false, fmt.Errorf("mpris: unexpected PlaybackStatus type")
	}
	return status == "Playing", nil
}

// Statuses polls every non-excluded player's playback status.
func (c *Client) Statuses() ([]PlayerStatus, error) {
	names, err := c.ListPlayers()
	if err != nil {
		return nil, err
	}
	out := make([]PlayerStatus, 0, len(names))
	for _, n := range names {
		playing, err := c.PlaybackStatus(n)
		if err != nil {
			continue
		}
		out = append(out, PlayerStatus{ServiceName: n, Playing: playing})
	}
	return out, nil
}

func (c *Client) call(service, method string) error {
	obj := c.conn.Object(service, objectPath)
	return obj.Call(playerIface+"."+method, 0).Err
}

// Pause pauses service.
func (c *Client) Pause(service string) error { return c.call(service, "Pause") }

// PlayPause toggles service's play/pause state.
func (c *Client) PlayPause(service string) error { return c.call(service, "PlayPause") }

// Next skips to the next track on service.
func (c *Client) Next(service string) error { return c.call(service, "Next") }

// Previous returns to the previous track on service.
func (c *Client) Previous(service string) error { return c.call(service, "Previous") }
