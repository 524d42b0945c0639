// discover_wsl.go adds WSL relay-bridge socket paths on Linux.
//
// Discord on WSL runs on the Windows host; its IPC pipe is not directly
// reachable as a Unix socket from WSL2. Users bridge it with
//
//	socat UNIX-LISTEN:/tmp/discord-ipc-0,fork EXEC:"npiperelay.exe -ep -s //./pipe/discord-ipc-0"
//
// This file adds the Unix paths such a relay creates so discovery finds
// them automatically; if no relay is running the paths simply don't
// exist and dialing falls through to ErrNotFound.

//go:build linux

package transport

import (
	"fmt"
	"os"
	"strings"
)

func isWSL() bool {
	data, err := os.ReadFile("/proc/version")
	if err != nil {
		return false
	}
	return strings.Contains(strings.ToLower(string(data)), "microsoft")
}

func wslSocketPaths(pipeIndex int) []string {
	if !isWSL() {
		return nil
	}

	paths := []string{fmt.Sprintf("/tmp/discord-ipc-%d", pipeIndex)}

	if dir := os.Getenv("XDG_RUNTIME_DIR"); dir != "" {
		paths = append(paths, fmt.Sprintf("%s/discord-ipc-%d", dir, pipeIndex))
	}

	return paths
}
