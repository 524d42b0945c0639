package main

import "path/filepath"

// DataPaths locates the small set of files the demo daemon keeps on
// disk: its PID/lock file and its rotating log. Presence itself is
// never persisted — it lives only in the richpresence.Client and on
// Discord's side of the pipe.
type DataPaths struct {
	Root string
}

func (p DataPaths) PID() string {
	return filepath.Join(p.Root, "richpresence-demo.pid")
}

func (p DataPaths) Log() string {
	return filepath.Join(p.Root, "richpresence-demo.log")
}
