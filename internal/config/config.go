// Package config loads the daemon's TOML configuration file, the one
// on-disk format this repository actually owns the schema for (devices.json
// and preferences.json are owned by external tooling; see
// internal/devicestore). Grounded on the teacher's and wider pack's use of
// github.com/BurntSushi/toml for exactly this kind of small, flat
// configuration struct.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/BurntSushi/toml"
)

// Config is the daemon's full runtime configuration.
type Config struct {
	Coordinator CoordinatorConfig `toml:"coordinator"`
	Audio       AudioConfig       `toml:"audio"`
	IPC         IPCConfig         `toml:"ipc"`
}

// CoordinatorConfig tunes the media/ownership coordinator's behavior.
type CoordinatorConfig struct {
	EarDetectEnabled     bool `toml:"ear_detect_enabled"`
	DisconnectWhenNoWear bool `toml:"disconnect_when_no_wear"`
}

// AudioConfig configures A2DP activation and the restart-on-failure path.
type AudioConfig struct {
	RestartCommand string `toml:"restart_command"`
}

// IPCConfig configures the Unix-domain control socket.
type IPCConfig struct {
	SocketPath string `toml:"socket_path"`
}

// Default returns the configuration used when no file is present: ear
// detection on, auto-disconnect-on-removal off, no restart command
// configured, and the socket path left empty so the caller derives it from
// XDG at runtime (see internal/ipc.SocketPath).
func Default() Config {
	return Config{
		Coordinator: CoordinatorConfig{
			EarDetectEnabled:     true,
			DisconnectWhenNoWear: false,
		},
	}
}

// Path returns the default config.toml location under XDG_CONFIG_HOME.
func Path() string {
	configHome := os.Getenv("XDG_CONFIG_HOME")
	if configHome == "" {
		configHome = filepath.Join(os.Getenv("HOME"), ".config")
	}
	return filepath.Join(configHome, "airpods-tui", "config.toml")
}

// Load reads path, falling back to Default() if the file does not exist.
func Load(path string) (Config, error) {
	cfg := Default()
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return cfg, nil
	}
	if _, err := toml.DecodeFile(path, &cfg); err != nil {
		return Config{}, fmt.Errorf("config: decode %s: %w", path, err)
	}
	return cfg, nil
}

// pollInterval is the fixed 500ms cadence of the coordinator's playback poll
// loop; not user-configurable,
// since spec behavior depends on this exact period.
const pollInterval = 500 * time.Millisecond

// PollInterval returns the fixed coordinator poll period.
func PollInterval() time.Duration { return pollInterval }
