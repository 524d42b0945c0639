// discover_wsl_stub.go is a no-op stand-in for platforms where WSL
// detection does not apply.

//go:build !linux && !windows

package transport

func isWSL() bool                           { return false }
func wslSocketPaths(pipeIndex int) []string { return nil }
