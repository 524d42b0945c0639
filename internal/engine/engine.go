// Package engine implements the Connection Engine: the single worker
// that owns the pipe, drives the handshake/reconnect state machine,
// pumps the outbound command queue, and decodes inbound frames into
// engine-level events.
package engine

import (
	"encoding/json"
	"fmt"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"richpresence/internal/wire"
)

// Transport is the subset of *transport.Transport the engine depends on.
// Declaring it locally (rather than importing the concrete type) lets
// tests substitute an in-memory fake.
type Transport interface {
	Connect(pipeIndex int) error
	IsConnected() bool
	PipeIndex() int
	WriteFrame(opcode wire.Opcode, payload []byte) error
	ReadFrame() (wire.Frame, bool, error)
	Close() error
}

const (
	tickInterval       = 50 * time.Millisecond
	maxDrainPerTick    = 10
	idleTimeout        = 15 * time.Second
	pongTimeout        = 10 * time.Second
	nonceTTL           = 30 * time.Second
	defaultOutboundCap = 128
	defaultInboundCap  = 128
)

// Options configures a new Engine.
type Options struct {
	ClientID  string
	PID       int
	PipeIndex int // -1 scans slots 0..9

	OutboundQueueSize int
	InboundQueueSize  int

	AutoEvents bool
	Dispatch   func(Event) // required when AutoEvents is true

	Logger Logger
}

type pendingNonce struct {
	kind    CommandKind
	event   string
	expires time.Time
}

// Engine owns the pipe transport exclusively and runs the single
// cooperative loop described by the Connection Engine design: connect,
// handshake, pump commands, pump events, keep-alive, backoff.
type Engine struct {
	transport Transport
	clientID  string
	pid       int
	pipeIndex int

	logger Logger

	outbound *OutboundQueue
	inbound  *InboundQueue

	autoEvents bool
	dispatch   func(Event)

	backoff Backoff
	fails   int

	state       atomic.Int32
	connectedAt time.Time
	nextAttempt time.Time

	lastActivity time.Time
	pingSentAt   time.Time
	awaitingPong bool
	pingSeq      uint32

	mu       sync.Mutex
	nonces   map[string]pendingNonce
	lastSubs map[string]bool // event -> desired subscribed state, re-issued on Ready

	stopCh chan struct{}
	doneCh chan struct{}
}

// New constructs an Engine bound to transport t. Call Start to begin the
// worker loop.
func New(t Transport, opts Options) *Engine {
	outCap := opts.OutboundQueueSize
	if outCap == 0 && !opts.AutoEvents {
		outCap = defaultOutboundCap
	}
	inCap := opts.InboundQueueSize
	if inCap == 0 && !opts.AutoEvents {
		inCap = defaultInboundCap
	}

	logger := opts.Logger
	if logger == nil {
		logger = nopLogger{}
	}

	e := &Engine{
		transport:  t,
		clientID:   opts.ClientID,
		pid:        opts.PID,
		pipeIndex:  opts.PipeIndex,
		logger:     logger,
		outbound:   NewOutboundQueue(outCap),
		inbound:    NewInboundQueue(inCap),
		autoEvents: opts.AutoEvents,
		dispatch:   opts.Dispatch,
		backoff:    DefaultBackoff(),
		nonces:     make(map[string]pendingNonce),
		lastSubs:   make(map[string]bool),
		stopCh:     make(chan struct{}),
		doneCh:     make(chan struct{}),
	}
	e.state.Store(int32(Disconnected))
	return e
}

// State returns the engine's current connection state.
func (e *Engine) State() State {
	return State(e.state.Load())
}

// Submit enqueues an outbound command. If the outbound queue is full,
// the oldest command is dropped and an Error event is emitted in its
// place.
func (e *Engine) Submit(cmd Command) {
	dropped, ok := e.outbound.Push(cmd)
	if ok {
		e.logger.Warning("outbound queue full, dropped oldest command", "kind", dropped.Kind.String())
		e.emit(Event{
			Kind:    EventError,
			At:      time.Now(),
			Message: fmt.Sprintf("outbound queue full: dropped %s command", dropped.Kind),
		})
	}
}

// Drain returns every event queued for pull-mode delivery. Only
// meaningful when AutoEvents was false at construction.
func (e *Engine) Drain() []Event {
	return e.inbound.Drain()
}

// Start begins the engine's worker goroutine. Calling Start twice is a
// programmer error; the caller (Client façade) is responsible for
// lifecycle gating.
func (e *Engine) Start() {
	go e.run()
}

// Stop signals the engine to shut down. If shutdownOnly, the engine
// sends a Close frame before dropping the pipe; either way it always
// emits a Close event. Stop blocks until the worker has exited.
func (e *Engine) Stop(shutdownOnly bool, reason string) {
	e.Submit(Command{Kind: CmdClose, ShutdownOnly: shutdownOnly, Reason: reason})
	close(e.stopCh)
	<-e.doneCh
}

func (e *Engine) setState(s State) {
	e.state.Store(int32(s))
}

func (e *Engine) emit(ev Event) {
	if ev.At.IsZero() {
		ev.At = time.Now()
	}
	if e.autoEvents && e.dispatch != nil {
		e.dispatch(ev)
		return
	}
	e.inbound.Push(ev)
}

func (e *Engine) run() {
	defer close(e.doneCh)

	ticker := time.NewTicker(tickInterval)
	defer ticker.Stop()

	for {
		select {
		case <-e.stopCh:
			e.shutdown()
			return
		case <-ticker.C:
			e.tick()
		case <-e.outbound.NotifyChan():
			e.tick()
		}
	}
}

func (e *Engine) shutdown() {
	cmds := e.outbound.PopN(e.outbound.Len())
	var closeCmd *Command
	for i := range cmds {
		if cmds[i].Kind == CmdClose {
			c := cmds[i]
			closeCmd = &c
		}
	}

	shutdownOnly := false
	reason := "client disposed"
	if closeCmd != nil {
		shutdownOnly = closeCmd.ShutdownOnly
		if closeCmd.Reason != "" {
			reason = closeCmd.Reason
		}
	}

	e.setState(Disconnecting)
	if shutdownOnly && e.transport.IsConnected() {
		payload, _ := json.Marshal(map[string]any{"reason": reason})
		_ = e.transport.WriteFrame(wire.OpClose, payload)
	}
	_ = e.transport.Close()
	e.setState(Disconnected)
	e.emit(Event{Kind: EventClose, Message: reason})
}

func (e *Engine) tick() {
	switch e.State() {
	case Disconnected:
		e.maybeConnect()
	case Handshaking:
		e.pumpHandshake()
	case Connected:
		e.pumpOutbound()
		e.pumpInbound()
		e.keepAlive()
	}
	e.expireNonces()
}

func (e *Engine) maybeConnect() {
	if time.Now().Before(e.nextAttempt) {
		return
	}
	e.setState(Connecting)

	pipe, err := e.connect()
	if err != nil {
		e.fails++
		e.nextAttempt = time.Now().Add(e.backoff.Next(e.fails))
		e.setState(Disconnected)
		e.logger.Warning("connect failed", "fails", e.fails, "error", err)
		e.emit(Event{Kind: EventConnectionFailed, Pipe: -1, Err: err})
		return
	}

	e.pipeIndex = pipe
	payload, err := json.Marshal(map[string]any{"v": 1, "client_id": e.clientID})
	if err != nil {
		e.logger.Error("marshal handshake", "error", err)
		e.setState(Disconnected)
		return
	}
	if err := e.transport.WriteFrame(wire.OpHandshake, payload); err != nil {
		e.logger.Warning("handshake write failed", "error", err)
		e.fails++
		e.nextAttempt = time.Now().Add(e.backoff.Next(e.fails))
		e.setState(Disconnected)
		return
	}
	e.setState(Handshaking)
	e.lastActivity = time.Now()
}

func (e *Engine) connect() (int, error) {
	if e.pipeIndex >= 0 {
		if err := e.transport.Connect(e.pipeIndex); err != nil {
			return -1, err
		}
		return e.pipeIndex, nil
	}
	var lastErr error
	for i := 0; i < wire.MaxPipeSlots; i++ {
		if err := e.transport.Connect(i); err == nil {
			return i, nil
		} else {
			lastErr = err
		}
	}
	return -1, lastErr
}

func (e *Engine) pumpHandshake() {
	frame, ok, err := e.transport.ReadFrame()
	if err != nil {
		e.handleTransportFailure(err)
		return
	}
	if !ok {
		return
	}

	env, err := wire.DecodeEnvelope(frame.Payload)
	if err != nil {
		e.logger.Warning("malformed handshake frame", "error", err)
		return
	}

	if env.Evt == string(wire.EvtError) {
		e.logger.Warning("handshake rejected", "message", env.ErrorMessage())
		e.handleTransportFailure(fmt.Errorf("handshake rejected: %s", env.ErrorMessage()))
		return
	}
	if env.Evt != string(wire.EvtReady) {
		return
	}

	e.fails = 0
	e.setState(Connected)
	e.lastActivity = time.Now()
	e.emit(Event{Kind: EventConnectionEstablished, Pipe: e.pipeIndex})
	e.emit(Event{Kind: EventReady, Data: env.Data})
	e.resubscribeAll()
}

func (e *Engine) resubscribeAll() {
	e.mu.Lock()
	subs := make(map[string]bool, len(e.lastSubs))
	for k, v := range e.lastSubs {
		subs[k] = v
	}
	e.mu.Unlock()

	for ev, wanted := range subs {
		if wanted {
			e.Submit(Command{Kind: CmdSubscribe, Event: ev})
		}
	}
}

// pumpOutbound drains and writes queued commands. CmdClose entries are
// left untouched here: Stop()'s shutdown path is solely responsible for
// the final Close handshake, so a CmdClose seen mid-tick (a race between
// Submit and the stop signal) is simply requeued for shutdown to consume.
func (e *Engine) pumpOutbound() {
	cmds := e.outbound.PopN(maxDrainPerTick)
	for i, cmd := range cmds {
		if cmd.Kind == CmdClose {
			for _, rest := range cmds[i:] {
				e.outbound.Push(rest)
			}
			return
		}
		if !e.writeCommand(cmd) {
			for _, rest := range cmds[i+1:] {
				e.outbound.Push(rest)
			}
			return
		}
	}
}

func (e *Engine) writeCommand(cmd Command) bool {
	nonce := wire.NextNonce()

	var ap wire.ArgumentPayload
	switch cmd.Kind {
	case CmdPresence:
		ap = wire.ArgumentPayload{
			Cmd:   wire.CmdSetActivity,
			Nonce: nonce,
			Args:  map[string]any{"pid": cmd.PID, "activity": cmd.Activity},
		}
		e.trackNonce(nonce, cmd.Kind, "")
	case CmdSubscribe:
		ap = wire.ArgumentPayload{Cmd: wire.CmdSubscribe, Nonce: nonce, Evt: wire.Event(cmd.Event)}
		e.trackNonce(nonce, cmd.Kind, cmd.Event)
		e.setSubscribed(cmd.Event, true)
	case CmdUnsubscribe:
		ap = wire.ArgumentPayload{Cmd: wire.CmdUnsubscribe, Nonce: nonce, Evt: wire.Event(cmd.Event)}
		e.trackNonce(nonce, cmd.Kind, cmd.Event)
		e.setSubscribed(cmd.Event, false)
	case CmdRespond:
		if cmd.Accept {
			ap = wire.ArgumentPayload{Cmd: wire.CmdSendActivityJoinInvite, Nonce: nonce, Args: map[string]any{"user_id": cmd.UserID}}
		} else {
			ap = wire.ArgumentPayload{Cmd: wire.CmdCloseActivityJoinRequest, Nonce: nonce, Args: map[string]any{"user_id": cmd.UserID}}
		}
		e.trackNonce(nonce, cmd.Kind, "")
	default:
		return true
	}

	payload, err := ap.Marshal()
	if err != nil {
		e.logger.Error("marshal command", "error", err)
		return true
	}
	if err := e.transport.WriteFrame(wire.OpFrame, payload); err != nil {
		e.logger.Warning("write failed, reconnecting", "error", err)
		e.handleTransportFailure(err)
		return false
	}
	e.lastActivity = time.Now()
	return true
}

func (e *Engine) setSubscribed(event string, wanted bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.lastSubs[event] = wanted
}

func (e *Engine) trackNonce(nonce string, kind CommandKind, event string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.nonces[nonce] = pendingNonce{kind: kind, event: event, expires: time.Now().Add(nonceTTL)}
}

func (e *Engine) takeNonce(nonce string) (pendingNonce, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	p, ok := e.nonces[nonce]
	if ok {
		delete(e.nonces, nonce)
	}
	return p, ok
}

func (e *Engine) expireNonces() {
	e.mu.Lock()
	defer e.mu.Unlock()
	now := time.Now()
	for k, v := range e.nonces {
		if now.After(v.expires) {
			delete(e.nonces, k)
		}
	}
}

func (e *Engine) pumpInbound() {
	for i := 0; i < maxDrainPerTick; i++ {
		frame, ok, err := e.transport.ReadFrame()
		if err != nil {
			e.handleTransportFailure(err)
			return
		}
		if !ok {
			return
		}
		e.lastActivity = time.Now()
		e.handleFrame(frame)
	}
}

func (e *Engine) handleFrame(frame wire.Frame) {
	switch frame.Opcode {
	case wire.OpPing:
		_ = e.transport.WriteFrame(wire.OpPong, frame.Payload)
	case wire.OpPong:
		e.awaitingPong = false
	case wire.OpClose:
		e.handleServerClose(frame.Payload)
	case wire.OpFrame:
		e.handleEnvelope(frame.Payload)
	}
}

func (e *Engine) handleServerClose(payload []byte) {
	var body struct {
		Code   int    `json:"code"`
		Reason string `json:"reason"`
	}
	_ = json.Unmarshal(payload, &body)
	e.emit(Event{Kind: EventClose, Code: body.Code, Message: body.Reason})
	_ = e.transport.Close()
	e.nextAttempt = time.Now()
	e.setState(Disconnected)
}

func (e *Engine) handleEnvelope(payload []byte) {
	env, err := wire.DecodeEnvelope(payload)
	if err != nil {
		e.logger.Warning("malformed frame payload, skipping", "error", err)
		return
	}

	if env.IsDispatch() {
		e.handleDispatch(env)
		return
	}

	if env.Nonce == "" {
		return
	}
	pending, ok := e.takeNonce(env.Nonce)
	if !ok {
		return
	}

	if env.Evt == string(wire.EvtError) {
		e.emit(Event{Kind: EventError, Code: env.ErrorCode(), Message: env.ErrorMessage(), FromServer: true})
		return
	}

	switch pending.kind {
	case CmdPresence:
		e.emit(Event{Kind: EventPresenceUpdate, Data: env.Data})
	case CmdSubscribe:
		e.emit(Event{Kind: EventSubscribed, Event: pending.event})
	case CmdUnsubscribe:
		e.emit(Event{Kind: EventUnsubscribed, Event: pending.event})
	}
}

func (e *Engine) handleDispatch(env wire.Envelope) {
	switch wire.Event(env.Evt) {
	case wire.EvtReady:
		e.emit(Event{Kind: EventReady, Data: env.Data})
	case wire.EvtError:
		e.emit(Event{Kind: EventError, Code: env.ErrorCode(), Message: env.ErrorMessage(), FromServer: true})
	case wire.EvtActivityJoin:
		e.emit(Event{Kind: EventJoin, Secret: stringField(env.Data, "secret")})
	case wire.EvtActivitySpectate:
		e.emit(Event{Kind: EventSpectate, Secret: stringField(env.Data, "secret")})
	case wire.EvtActivityJoinRequest:
		e.emit(Event{Kind: EventJoinRequest, UserID: userIDField(env.Data), Data: env.Data})
	}
}

func stringField(data map[string]any, key string) string {
	if data == nil {
		return ""
	}
	if v, ok := data[key].(string); ok {
		return v
	}
	return ""
}

func userIDField(data map[string]any) string {
	if data == nil {
		return ""
	}
	user, ok := data["user"].(map[string]any)
	if !ok {
		return ""
	}
	if id, ok := user["id"].(string); ok {
		if _, err := strconv.ParseUint(id, 10, 64); err == nil {
			return id
		}
	}
	return ""
}

func (e *Engine) keepAlive() {
	now := time.Now()
	if e.awaitingPong {
		if now.Sub(e.pingSentAt) > pongTimeout {
			e.logger.Warning("no pong within timeout, recycling connection")
			e.handleTransportFailure(fmt.Errorf("engine: pong timeout"))
		}
		return
	}
	if now.Sub(e.lastActivity) < idleTimeout {
		return
	}
	e.pingSeq++
	payload := []byte(strconv.FormatUint(uint64(e.pingSeq), 10))
	if err := e.transport.WriteFrame(wire.OpPing, payload); err != nil {
		e.handleTransportFailure(err)
		return
	}
	e.awaitingPong = true
	e.pingSentAt = now
}

func (e *Engine) handleTransportFailure(err error) {
	e.logger.Warning("transport failure, reconnecting", "error", err)
	_ = e.transport.Close()
	e.awaitingPong = false
	e.fails++
	e.nextAttempt = time.Now()
	e.setState(Disconnected)
	e.emit(Event{Kind: EventError, Message: err.Error(), Err: err})
}
