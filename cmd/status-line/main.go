// Command status-line prints the compact status-bar JSON line a
// Waybar/polybar module expects, and refreshes the battery .env file other
// scripts source. Single-shot by default (exits on the first
// battery-bearing update or a timeout); -watch keeps streaming updates.
package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"os"

	"airpodsd/internal/ipc"
	"airpodsd/internal/statusline"
)

func main() {
	watch := flag.Bool("watch", false, "stream updates instead of exiting after the first reading")
	flag.Parse()

	socketPath := ipc.SocketPath()

	if *watch {
		err := statusline.RunWatch(socketPath, statusline.BatteryEnvPath(), printLine)
		if err != nil {
			fmt.Fprintln(os.Stderr, err)
			os.Exit(1)
		}
		return
	}

	line, err := statusline.RunSingleShot(socketPath)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	printLine(line)
}

func printLine(line statusline.Line) {
	enc := json.NewEncoder(os.Stdout)
	_ = enc.Encode(line)
}
