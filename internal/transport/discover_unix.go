// discover_unix.go locates Discord's IPC socket on Unix-like systems
// (Linux, macOS, FreeBSD). It probes XDG_RUNTIME_DIR, then TMPDIR, TMP,
// TEMP and /tmp in order, then Snap and Flatpak socket paths, plus WSL
// relay paths on Linux.

//go:build !windows

package transport

import (
	"fmt"
	"net"
	"os"
	"strconv"
	"strings"

	"richpresence/internal/wire"
)

// candidatePaths enumerates, in probe order, every Unix socket path this
// client will try for the given pipe index across all known Discord
// packaging variants.
func candidatePaths(pipeIndex int) []string {
	var paths []string

	variants := []string{"discord-ipc", "discordcanary-ipc", "discordptb-ipc"}

	if dir := os.Getenv("XDG_RUNTIME_DIR"); dir != "" {
		for _, v := range variants {
			paths = append(paths, fmt.Sprintf("%s/%s-%d", dir, v, pipeIndex))
		}
	}

	// Fall back through TMPDIR, TMP, TEMP before the hardcoded /tmp,
	// in that order.
	for _, envVar := range []string{"TMPDIR", "TMP", "TEMP"} {
		dir := os.Getenv(envVar)
		if dir == "" {
			continue
		}
		for _, v := range variants {
			paths = append(paths, fmt.Sprintf("%s/%s-%d", strings.TrimSuffix(dir, "/"), v, pipeIndex))
		}
	}

	for _, v := range variants {
		paths = append(paths, fmt.Sprintf("/tmp/%s-%d", v, pipeIndex))
	}

	uid := strconv.Itoa(os.Getuid())
	snapDirs := []string{"snap.discord", "snap.discord-canary", "snap.discord-ptb"}
	for _, sd := range snapDirs {
		paths = append(paths, fmt.Sprintf("/run/user/%s/%s/discord-ipc-%d", uid, sd, pipeIndex))
	}

	flatpakApps := []string{
		"com.discordapp.Discord",
		"com.discordapp.DiscordCanary",
		"com.discordapp.DiscordPTB",
	}
	for _, app := range flatpakApps {
		paths = append(paths, fmt.Sprintf("/run/user/%s/app/%s/discord-ipc-%d", uid, app, pipeIndex))
	}

	paths = append(paths, wslSocketPaths(pipeIndex)...)

	return paths
}

// dialPipe tries every known socket path for pipeIndex and returns the
// first successful connection.
func dialPipe(pipeIndex int) (net.Conn, error) {
	if pipeIndex < 0 || pipeIndex >= wire.MaxPipeSlots {
		return nil, fmt.Errorf("transport: pipe index %d out of range [0,%d)", pipeIndex, wire.MaxPipeSlots)
	}

	var lastErr error
	for _, path := range candidatePaths(pipeIndex) {
		conn, err := net.Dial("unix", path)
		if err == nil {
			return conn, nil
		}
		lastErr = err
	}

	if isWSL() {
		return nil, fmt.Errorf("%w: running under WSL, a relay (socat + npiperelay.exe) may be required", ErrNotFound)
	}
	_ = lastErr
	return nil, ErrNotFound
}
