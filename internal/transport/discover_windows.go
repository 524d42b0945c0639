// discover_windows.go locates Discord's IPC named pipe on Windows.

//go:build windows

package transport

import (
	"fmt"
	"net"

	"github.com/Microsoft/go-winio"

	"richpresence/internal/wire"
)

func dialPipe(pipeIndex int) (net.Conn, error) {
	if pipeIndex < 0 || pipeIndex >= wire.MaxPipeSlots {
		return nil, fmt.Errorf("transport: pipe index %d out of range [0,%d)", pipeIndex, wire.MaxPipeSlots)
	}
	conn, err := winio.DialPipe(fmt.Sprintf(`\\.\pipe\discord-ipc-%d`, pipeIndex), nil)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrNotFound, err)
	}
	return conn, nil
}

func isWSL() bool { return false }
