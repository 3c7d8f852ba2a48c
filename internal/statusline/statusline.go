// Package statusline renders the connected device universe into the
// compact JSON line status-bar tools (Waybar, polybar) expect, and writes
// the plain KEY=value battery snapshot other scripts source from the
// environment.
//
// Grounded on internal/ipc's client-facing framing (this package is just
// another IPC client, the same shape the terminal UI uses) and the
// teacher's cmd/debug tools' "dial once, print, exit" idiom for one-shot
// CLI output.
package statusline

import (
	"bufio"
	"fmt"
	"net"
	"os"
	"path/filepath"
	"sort"
	"time"

	"airpodsd/internal/aacp"
	"airpodsd/internal/eventbus"
	"airpodsd/internal/ipc"
)

// Line is the JSON status-bar projection described for the IPC socket.
type Line struct {
	Text       string `json:"text"`
	Tooltip    string `json:"tooltip"`
	Class      string `json:"class"`
	Percentage int    `json:"percentage"`
}

// singleShotTimeout bounds how long single-shot mode waits for a
// battery-bearing update before giving up and reporting disconnected.
const singleShotTimeout = 5 * time.Second

// Render folds a device-universe snapshot into the status line, picking
// the lowest battery percentage across all connected devices' components as
// the headline number, per spec.
func Render(snapshots map[string]eventbus.DeviceSnapshot) Line {
	var (
		minLevel   = -1
		tooltip    string
		anyConnect bool
	)

	ids := make([]string, 0, len(snapshots))
	for id := range snapshots {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	for _, id := range ids {
		snap := snapshots[id]
		if !snap.Connected {
			continue
		}
		anyConnect = true
		model := snap.Kind
		if snap.DeviceInfo != nil && snap.DeviceInfo.Name != "" {
			model = snap.DeviceInfo.Name
		}
		tooltip += model + "\n"
		for _, reading := range snap.Battery {
			tooltip += fmt.Sprintf("%s: %d%%\n", componentLabel(reading.Component), reading.Level)
			if minLevel == -1 || int(reading.Level) < minLevel {
				minLevel = int(reading.Level)
			}
		}
	}

	if !anyConnect {
		return Line{Text: "", Tooltip: "No device connected", Class: "disconnected", Percentage: 0}
	}
	if minLevel == -1 {
		return Line{Text: "?%", Tooltip: tooltip, Class: "connected", Percentage: 0}
	}
	return Line{
		Text:       fmt.Sprintf("%d%%", minLevel),
		Tooltip:    tooltip,
		Class:      "connected",
		Percentage: minLevel,
	}
}

// componentLabel maps a battery component to the single-letter label the
// tooltip uses (L/R/C), falling back to the component's full name.
func componentLabel(c aacp.BatteryComponent) string {
	switch c {
	case aacp.ComponentLeft:
		return "L"
	case aacp.ComponentRight:
		return "R"
	case aacp.ComponentCase:
		return "C"
	default:
		return c.String()
	}
}

// hasBattery reports whether any connected device in the snapshot carries
// at least one battery reading, the condition single-shot mode waits for.
func hasBattery(snapshots map[string]eventbus.DeviceSnapshot) bool {
	for _, snap := range snapshots {
		if snap.Connected && len(snap.Battery) > 0 {
			return true
		}
	}
	return false
}

// BatteryEnvPath returns $XDG_RUNTIME_DIR/airpods-battery.env, falling
// back to /tmp like the IPC socket does when XDG_RUNTIME_DIR is unset.
func BatteryEnvPath() string {
	if dir := os.Getenv("XDG_RUNTIME_DIR"); dir != "" {
		return filepath.Join(dir, "airpods-battery.env")
	}
	return "/tmp/airpods-battery.env"
}

// WriteBatteryEnv writes LEFT/RIGHT/CASE battery percentages (only for
// components present in the snapshot) to path as KEY=value lines.
func WriteBatteryEnv(path string, snapshots map[string]eventbus.DeviceSnapshot) error {
	values := map[string]uint8{}
	for _, snap := range snapshots {
		for _, reading := range snap.Battery {
			switch reading.Component {
			case aacp.ComponentLeft:
				values["LEFT"] = reading.Level
			case aacp.ComponentRight:
				values["RIGHT"] = reading.Level
			case aacp.ComponentCase:
				values["CASE"] = reading.Level
			}
		}
	}

	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("statusline: create %s: %w", path, err)
	}
	defer f.Close()

	for _, key := range []string{"LEFT", "RIGHT", "CASE"} {
		if level, ok := values[key]; ok {
			if _, err := fmt.Fprintf(f, "%s=%d\n", key, level); err != nil {
				return err
			}
		}
	}
	return nil
}

// RunSingleShot dials the IPC socket, folds the replayed snapshot, and
// returns the rendered line as soon as any device reports a battery
// reading or singleShotTimeout elapses, whichever is first.
func RunSingleShot(socketPath string) (Line, error) {
	conn, err := net.Dial("unix", socketPath)
	if err != nil {
		return Line{}, fmt.Errorf("statusline: dial %s: %w", socketPath, err)
	}
	defer conn.Close()

	reader := bufio.NewReader(conn)
	snapshots := map[string]eventbus.DeviceSnapshot{}
	deadline := time.Now().Add(singleShotTimeout)

	for time.Now().Before(deadline) {
		conn.SetReadDeadline(time.Now().Add(time.Until(deadline)))
		update, err := ipc.ReadUpdate(reader)
		if err != nil {
			break
		}
		snapshots[update.DeviceID] = update.Snapshot
		if hasBattery(snapshots) {
			break
		}
	}

	return Render(snapshots), nil
}

// RunWatch dials the IPC socket and invokes emit with the rendered line
// once for the replayed snapshot and again after every subsequent update,
// until the connection closes. If batteryEnvPath is non-empty, the battery
// .env file is refreshed alongside every emit.
func RunWatch(socketPath, batteryEnvPath string, emit func(Line)) error {
	conn, err := net.Dial("unix", socketPath)
	if err != nil {
		return fmt.Errorf("statusline: dial %s: %w", socketPath, err)
	}
	defer conn.Close()

	reader := bufio.NewReader(conn)
	snapshots := map[string]eventbus.DeviceSnapshot{}

	for {
		update, err := ipc.ReadUpdate(reader)
		if err != nil {
			return nil
		}
		snapshots[update.DeviceID] = update.Snapshot
		if batteryEnvPath != "" {
			if err := WriteBatteryEnv(batteryEnvPath, snapshots); err != nil {
				return err
			}
		}
		emit(Render(snapshots))
	}
}
