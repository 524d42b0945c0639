// Package richpresence is a client for Discord's Rich Presence IPC
// protocol: it connects to a local running Discord desktop client over a
// platform-specific named pipe, publishes a Rich Presence record
// describing what the user is doing, and optionally subscribes to join
// and spectate events.
//
// A Client owns a single background connection worker. Construct one
// with New, call Initialize to start the worker, publish state with
// SetPresence and the Update* helpers, and either let the client
// dispatch events automatically (the default) or drain them cooperatively
// with Invoke. Call Deinitialize or Dispose to stop.
package richpresence
