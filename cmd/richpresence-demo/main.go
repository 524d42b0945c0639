// Package main implements richpresence-demo, a small daemon that
// exercises the richpresence client library end to end: it connects to
// a local Discord client, publishes a presence, subscribes to join
// events, runs an event loop, and shuts down cleanly on signal. It is
// not part of the library's public contract — it exists so the
// library's ambient stack (logging, process lifecycle) has a concrete
// home to be driven from.
package main

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"flag"
	"fmt"
	"os"
	"path/filepath"
	"runtime/debug"
	"strconv"
	"strings"
	"time"

	richpresence "richpresence"
	"richpresence/internal/avatar"
	"richpresence/internal/config"
	"richpresence/internal/rplog"
)

// ///////////////////////////////////////////////
// Version
// ///////////////////////////////////////////////

// version is set at build time via ldflags:
//   - goreleaser: -X main.version={{.Version}}  -> "0.1.0"
//   - make build: -X main.version=$(VERSION)    -> "0.0.0-dev+05ffee5"
//
// When ldflags are not set (bare go build), resolveVersion reads the VCS info
// that Go embeds automatically, so dev builds get a useful version string
// without needing git at runtime.
var version = "dev"

func resolveVersion() string {
	if version != "dev" {
		return version
	}
	info, ok := debug.ReadBuildInfo()
	if !ok {
		return version
	}
	var revision string
	var dirty bool
	for _, s := range info.Settings {
		switch s.Key {
		case "vcs.revision":
			revision = s.Value
		case "vcs.modified":
			dirty = s.Value == "true"
		}
	}
	if revision == "" {
		return version
	}
	hash := revision[:min(7, len(revision))]
	if dirty {
		return "dev+" + hash + ".dirty"
	}
	return "dev+" + hash
}

// ///////////////////////////////////////////////
// PID Management
// ///////////////////////////////////////////////

// pidToken generates a random 16-character hex token used to prove ownership
// of the PID file, so [removePID] only deletes the file if this instance wrote it.
func pidToken() string {
	b := make([]byte, 8)
	_, _ = rand.Read(b)
	return hex.EncodeToString(b)
}

// writePID creates or opens the PID file at [DataPaths.PID], acquires an
// advisory file lock, and writes "PID:TOKEN" content. The returned file handle
// must be kept open for the lifetime of the daemon to hold the lock; pass it to
// [removePID] on shutdown.
func writePID(paths DataPaths, token string) (*os.File, error) {
	f, err := os.OpenFile(paths.PID(), os.O_CREATE|os.O_RDWR, 0o600)
	if err != nil {
		return nil, fmt.Errorf("open PID file: %w", err)
	}
	if err := lockFile(f); err != nil {
		f.Close()
		return nil, fmt.Errorf("lock PID file: %w", err)
	}
	if err := f.Truncate(0); err != nil {
		_ = unlockFile(f)
		f.Close()
		return nil, fmt.Errorf("truncate PID file: %w", err)
	}
	content := fmt.Sprintf("%d:%s", os.Getpid(), token)
	if _, err := f.WriteString(content); err != nil {
		_ = unlockFile(f)
		f.Close()
		return nil, fmt.Errorf("write PID file: %w", err)
	}
	return f, nil
}

// removePID releases the advisory lock, closes the file handle, and removes the
// PID file only if the stored token matches, preventing accidental removal of a
// file owned by a different daemon instance.
func removePID(paths DataPaths, token string, f *os.File) {
	if f != nil {
		_ = unlockFile(f)
		f.Close()
	}
	data, err := os.ReadFile(paths.PID())
	if err != nil {
		return
	}
	parts := strings.SplitN(string(data), ":", 2)
	if len(parts) == 2 && parts[1] == token {
		os.Remove(paths.PID())
	}
}

// checkStalePID checks whether another daemon instance is running. It attempts
// to acquire the advisory lock on the PID file; if the lock fails, another
// instance holds it. If the lock succeeds, any previous instance is dead and
// the stale file is cleaned up.
func checkStalePID(paths DataPaths) (alive bool, pid int) {
	f, err := os.OpenFile(paths.PID(), os.O_RDWR, 0o600)
	if err != nil {
		return false, 0
	}

	if lockErr := lockFile(f); lockErr != nil {
		data, _ := os.ReadFile(paths.PID())
		f.Close()
		parts := strings.SplitN(string(data), ":", 2)
		if len(parts) >= 1 {
			if p, convErr := strconv.Atoi(parts[0]); convErr == nil {
				return true, p
			}
		}
		return true, 0
	}

	// Lock acquired -- previous instance is dead. Clean up stale file.
	_ = unlockFile(f)
	f.Close()
	os.Remove(paths.PID())
	return false, 0
}

// ///////////////////////////////////////////////
// Default Data Directory
// ///////////////////////////////////////////////

func defaultDataDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return "." + string(os.PathSeparator) + ".richpresence-demo"
	}
	return home + string(os.PathSeparator) + ".richpresence-demo"
}

// ///////////////////////////////////////////////
// Main
// ///////////////////////////////////////////////

func main() {
	appID := flag.String("app-id", "", "Discord application ID (required)")
	dataDir := flag.String("data-dir", defaultDataDir(), "Data directory for the PID file, log and config.toml")
	details := flag.String("details", "Building something", "Presence details line")
	state := flag.String("state", "", "Presence state line")
	pipeIndex := flag.Int("pipe-index", -1, "Fixed IPC pipe slot, or -1 to scan slots 0-9")
	subscribeJoin := flag.Bool("subscribe-join", false, "Subscribe to ACTIVITY_JOIN_REQUEST events (requires a registered URI scheme)")
	autoEvents := flag.Bool("auto-events", true, "Dispatch events on the connection goroutine instead of via Invoke()")
	flag.Parse()

	explicit := map[string]bool{}
	flag.Visit(func(f *flag.Flag) { explicit[f.Name] = true })

	paths := DataPaths{Root: *dataDir}
	if err := os.MkdirAll(paths.Root, 0o755); err != nil {
		fmt.Fprintf(os.Stderr, "fatal: create data dir: %v\n", err)
		os.Exit(1)
	}

	cfg, err := config.Load(filepath.Join(paths.Root, "config.toml"))
	if err != nil {
		fmt.Fprintf(os.Stderr, "fatal: load config: %v\n", err)
		os.Exit(1)
	}
	// Flags explicitly passed on the command line win over config.toml;
	// an unset flag falls back to whatever the file (or its defaults)
	// already holds.
	if !explicit["details"] && cfg.Display.Details != "" {
		*details = cfg.Display.Details
	}
	if !explicit["state"] && cfg.Display.State != "" {
		*state = cfg.Display.State
	}
	if !explicit["pipe-index"] {
		*pipeIndex = cfg.Discord.PipeIndex
	}
	if !explicit["subscribe-join"] {
		*subscribeJoin = cfg.Discord.SubscribeJoin
	}
	if !explicit["auto-events"] {
		*autoEvents = cfg.Discord.AutoEvents
	}
	if !explicit["app-id"] && cfg.Discord.AppID != "" {
		*appID = cfg.Discord.AppID
	}

	if *appID == "" {
		fmt.Fprintln(os.Stderr, "fatal: -app-id is required (flag or discord.app_id in config.toml)")
		os.Exit(1)
	}

	if alive, pid := checkStalePID(paths); alive {
		fmt.Fprintf(os.Stderr, "demo already running (pid %d)\n", pid)
		os.Exit(1)
	}

	log, logCloser, err := rplog.NewRotatingLogger(paths.Log(), rplog.ParseLevel(cfg.Log.Level), cfg.Log.MaxSizeMB)
	if err != nil {
		fmt.Fprintf(os.Stderr, "fatal: init logger: %v\n", err)
		os.Exit(1)
	}
	defer logCloser.Close()
	adapter := rplog.SlogAdapter{Logger: log}

	ver := resolveVersion()
	adapter.Info("richpresence-demo starting", "version", ver, "data_dir", paths.Root)

	token := pidToken()
	pidFile, err := writePID(paths, token)
	if err != nil {
		adapter.Error("failed to write PID file", "error", err)
		os.Exit(1)
	}
	defer removePID(paths, token, pidFile)

	sigCh := signalChannel()

	opts := []richpresence.Option{
		richpresence.WithLogger(adapter),
		richpresence.WithPipeIndex(*pipeIndex),
		richpresence.WithAutoEvents(*autoEvents),
	}
	if *autoEvents {
		opts = append(opts, richpresence.WithEventHandler(func(m richpresence.Message) {
			logMessage(adapter, m)
			maybeCheckAvatar(m, cfg.Avatar, adapter)
		}))
	}

	client, err := richpresence.New(*appID, opts...)
	if err != nil {
		adapter.Error("failed to build client", "error", err)
		os.Exit(1)
	}

	if err := client.Initialize(); err != nil {
		adapter.Error("failed to initialize", "error", err)
		os.Exit(1)
	}
	defer client.Dispose()

	presence, err := richpresence.NewPresence().WithDetails(*details)
	if err != nil {
		adapter.Error("invalid details", "error", err)
		os.Exit(1)
	}
	if *state != "" {
		presence, err = presence.WithState(*state)
		if err != nil {
			adapter.Error("invalid state", "error", err)
			os.Exit(1)
		}
	}
	presence, err = presence.WithStartTime(time.Now())
	if err != nil {
		adapter.Error("invalid start time", "error", err)
		os.Exit(1)
	}
	if err := client.SetPresence(presence); err != nil {
		adapter.Warning("failed to queue initial presence", "error", err)
	}

	if *subscribeJoin {
		if err := client.Subscribe(richpresence.EventJoinRequest); err != nil {
			adapter.Warning("failed to subscribe to join requests", "error", err)
		}
	}

	run(client, sigCh, *autoEvents, adapter, cfg.Avatar)
	adapter.Info("richpresence-demo exiting")
}

// ///////////////////////////////////////////////
// Event Loop
// ///////////////////////////////////////////////

// run blocks until a shutdown signal arrives. When autoEvents is false
// the caller is responsible for draining the client's event queue, so
// run polls Invoke() on a short ticker; under auto-events the
// WithEventHandler callback already does the work and run just waits.
func run(client *richpresence.Client, sigCh <-chan os.Signal, autoEvents bool, log richpresence.Logger, avatarCfg config.AvatarConfig) {
	if autoEvents {
		<-sigCh
		return
	}

	ticker := time.NewTicker(100 * time.Millisecond)
	defer ticker.Stop()
	for {
		select {
		case <-sigCh:
			return
		case <-ticker.C:
			msgs, err := client.Invoke()
			if err != nil {
				log.Warning("invoke failed", "error", err)
				continue
			}
			for _, m := range msgs {
				logMessage(log, m)
				maybeCheckAvatar(m, avatarCfg, log)
			}
		}
	}
}

// maybeCheckAvatar fires an asynchronous CDN reachability probe for the
// avatar reported in a Ready message, when avatarCfg.CheckReachable is
// set. It never blocks the caller: the probe (and its retries) run on
// their own goroutine, and the result is only ever logged.
func maybeCheckAvatar(m richpresence.Message, avatarCfg config.AvatarConfig, log richpresence.Logger) {
	if !avatarCfg.CheckReachable || m.Kind != richpresence.MessageReady {
		return
	}
	url := avatar.FormatURL(m.User.ID, m.User.AvatarHash, 128)
	timeout := time.Duration(avatarCfg.TimeoutSeconds) * time.Second
	go func() {
		ok, err := avatar.CheckReachable(context.Background(), url, timeout)
		if err != nil {
			log.Warning("avatar reachability check failed", "url", url, "error", err)
			return
		}
		log.Trace("avatar reachability checked", "url", url, "reachable", ok)
	}()
}

// logMessage renders one dispatched richpresence.Message at an
// appropriate level: connection/ready/error/close events are notable,
// everything else is routine chatter.
func logMessage(log richpresence.Logger, m richpresence.Message) {
	switch m.Kind {
	case richpresence.MessageReady:
		log.Info("ready", "user", m.User.Username, "pipe", m.Pipe)
	case richpresence.MessageConnectionEstablished:
		log.Info("connection established", "pipe", m.Pipe)
	case richpresence.MessageConnectionFailed:
		log.Warning("connection failed", "error", m.Err)
	case richpresence.MessageError:
		log.Warning("protocol error", "code", m.Code, "message", m.Text)
	case richpresence.MessageClose:
		log.Info("connection closed", "code", m.Code, "reason", m.Reason)
	case richpresence.MessageJoinRequest:
		log.Info("join request", "user", m.Joiner.Username)
	default:
		log.Trace("event", "kind", m.Kind.String())
	}
}
