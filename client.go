package richpresence

import (
	"os"
	"strconv"
	"sync"
	"time"

	"richpresence/internal/engine"
	"richpresence/internal/transport"
)

type lifecycle int

const (
	lifecycleUninitialized lifecycle = iota
	lifecycleInitialized
	lifecycleDisposed
)

// Option configures a Client constructed with New.
type Option func(*Client)

// WithLogger supplies the Logger collaborator. Defaults to NopLogger.
func WithLogger(l Logger) Option { return func(c *Client) { c.logger = l } }

// WithPipeIndex pins the client to a single pipe slot instead of
// scanning 0..9. Pass -1 (the default) to scan.
func WithPipeIndex(i int) Option { return func(c *Client) { c.pipeIndex = i } }

// WithAutoEvents controls whether events dispatch synchronously on the
// engine's own goroutine (true, the default) or must be drained with
// Invoke (false).
func WithAutoEvents(b bool) Option { return func(c *Client) { c.autoEvents = b } }

// WithTransport overrides the pipe transport, primarily for testing.
func WithTransport(t engine.Transport) Option { return func(c *Client) { c.transport = t } }

// WithOutboundQueueSize bounds the outbound command queue (default 128;
// 0 means unbounded when auto-events is on, and selects the default of
// 128 in pull mode).
func WithOutboundQueueSize(n int) Option { return func(c *Client) { c.outboundQueueSize = n } }

// WithInboundQueueSize bounds the inbound message queue used in pull
// mode (default 128; 0 also selects 128). Ignored when auto-events is on.
func WithInboundQueueSize(n int) Option { return func(c *Client) { c.inboundQueueSize = n } }

// WithURISchemeRegistered supplies the platform-specific URI-scheme
// registrar consulted by Subscribe/Unsubscribe/SetSubscription and
// secrets. Defaults to a function returning false.
func WithURISchemeRegistered(f func() bool) Option {
	return func(c *Client) { c.uriSchemeRegistered = f }
}

// WithEventHandler registers the callback invoked for every delivered
// Message. In auto-events mode it runs on the engine goroutine; in pull
// mode it runs on whichever goroutine calls Invoke.
func WithEventHandler(h func(Message)) Option { return func(c *Client) { c.handler = h } }

// Client is the public Rich Presence IPC client: one per application
// identity, owning at most one background engine worker at a time.
type Client struct {
	applicationID string
	pid           int

	pipeIndex           int
	autoEvents          bool
	logger              Logger
	transport           engine.Transport
	outboundQueueSize   int
	inboundQueueSize    int
	uriSchemeRegistered func() bool
	handler             func(Message)

	mu           sync.Mutex
	state        lifecycle
	eng          *engine.Engine
	presence     *Presence
	user         User
	config       Configuration
	subscription Subscription
}

// New constructs a Client for applicationID, which must be non-empty.
func New(applicationID string, opts ...Option) (*Client, error) {
	if applicationID == "" {
		return nil, newError(ErrKindBadPresence, "application id must not be empty")
	}

	c := &Client{
		applicationID:       applicationID,
		pid:                 os.Getpid(),
		pipeIndex:           -1,
		autoEvents:          true,
		logger:              NopLogger{},
		outboundQueueSize:   128,
		inboundQueueSize:    128,
		uriSchemeRegistered: func() bool { return false },
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// Initialize starts the engine's background worker. It fails with
// ErrKindAlreadyInitialized if already running, or ErrKindDisposed if
// Dispose was already called.
func (c *Client) Initialize() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.state == lifecycleDisposed {
		return newError(ErrKindDisposed, "client has been disposed")
	}
	if c.state == lifecycleInitialized {
		return newError(ErrKindAlreadyInitialized, "client is already initialized")
	}

	t := c.transport
	if t == nil {
		t = transport.New()
	}

	var dispatch func(engine.Event)
	if c.autoEvents {
		dispatch = c.handleEngineEvent
	}

	c.eng = engine.New(t, engine.Options{
		ClientID:          c.applicationID,
		PID:               c.pid,
		PipeIndex:         c.pipeIndex,
		OutboundQueueSize: c.outboundQueueSize,
		InboundQueueSize:  c.inboundQueueSize,
		AutoEvents:        c.autoEvents,
		Dispatch:          dispatch,
		Logger:            c.logger,
	})
	c.eng.Start()
	c.state = lifecycleInitialized

	if c.presence != nil {
		c.eng.Submit(engine.Command{Kind: engine.CmdPresence, PID: c.pid, Activity: c.presence.toArgs()})
	}
	return nil
}

// Deinitialize gracefully stops the engine worker. The client may be
// Initialized again afterward.
func (c *Client) Deinitialize() error {
	c.mu.Lock()
	eng := c.eng
	if c.state != lifecycleInitialized {
		c.mu.Unlock()
		return newError(ErrKindUninitialized, "client is not initialized")
	}
	c.eng = nil
	c.state = lifecycleUninitialized
	c.mu.Unlock()

	eng.Stop(true, "client deinitialized")
	return nil
}

// Dispose idempotently stops the engine worker for good; the client
// cannot be Initialized again afterward.
func (c *Client) Dispose() error {
	c.mu.Lock()
	if c.state == lifecycleDisposed {
		c.mu.Unlock()
		return nil
	}
	eng := c.eng
	c.eng = nil
	c.state = lifecycleDisposed
	c.mu.Unlock()

	if eng != nil {
		eng.Stop(false, "client disposed")
	}
	return nil
}

// SetPresence validates and publishes p (nil clears Rich Presence). It
// stores a clone regardless of initialization state; if called before
// Initialize it only logs and stores, to be synchronized later.
// Validation errors are returned synchronously and leave the stored
// presence untouched.
func (c *Client) SetPresence(p *Presence) error {
	var clone *Presence
	if p != nil {
		clone = p.Clone()
		if err := clone.Validate(); err != nil {
			return err
		}
		if clone.Secrets != nil && clone.Party == nil {
			c.logger.Warning("presence has secrets but no party; Discord may ignore them")
		}
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	c.presence = clone

	if c.state != lifecycleInitialized {
		c.logger.Info("set_presence called before initialize; stored for later synchronize")
		return nil
	}
	c.eng.Submit(engine.Command{Kind: engine.CmdPresence, PID: c.pid, Activity: clone.toArgs()})
	return nil
}

// mutatePresence applies fn to a clone of the current presence (or a
// fresh one), stores the result, and re-issues SetPresence. Requires
// initialization, per the Update* helper contract.
func (c *Client) mutatePresence(fn func(*Presence) (*Presence, error)) error {
	c.mu.Lock()
	if c.state != lifecycleInitialized {
		c.mu.Unlock()
		return newError(ErrKindUninitialized, "client is not initialized")
	}
	base := c.presence
	c.mu.Unlock()

	if base == nil {
		base = NewPresence()
	} else {
		base = base.Clone()
	}
	updated, err := fn(base)
	if err != nil {
		return err
	}
	return c.SetPresence(updated)
}

func (c *Client) UpdateDetails(s string) error {
	return c.mutatePresence(func(p *Presence) (*Presence, error) { return p.WithDetails(s) })
}

func (c *Client) UpdateState(s string) error {
	return c.mutatePresence(func(p *Presence) (*Presence, error) { return p.WithState(s) })
}

func (c *Client) UpdateParty(id string, size, max int) error {
	return c.mutatePresence(func(p *Presence) (*Presence, error) { return p.WithParty(id, size, max) })
}

func (c *Client) UpdatePartySize(size, max int) error {
	return c.mutatePresence(func(p *Presence) (*Presence, error) { return p.WithPartySize(size, max) })
}

func (c *Client) UpdateLargeAsset(key, text string) error {
	return c.mutatePresence(func(p *Presence) (*Presence, error) { return p.WithLargeAsset(key, text) })
}

func (c *Client) UpdateSmallAsset(key, text string) error {
	return c.mutatePresence(func(p *Presence) (*Presence, error) { return p.WithSmallAsset(key, text) })
}

func (c *Client) UpdateSecrets(join, spectate, match string) error {
	return c.mutatePresence(func(p *Presence) (*Presence, error) { return p.WithSecrets(join, spectate, match) })
}

func (c *Client) UpdateStartTime(t time.Time) error {
	return c.mutatePresence(func(p *Presence) (*Presence, error) { return p.WithStartTime(t) })
}

func (c *Client) UpdateEndTime(t time.Time) error {
	return c.mutatePresence(func(p *Presence) (*Presence, error) { return p.WithEndTime(t) })
}

func (c *Client) ClearTime() error {
	return c.mutatePresence(func(p *Presence) (*Presence, error) { return p.ClearTime(), nil })
}

// SynchronizeState re-sends the stored presence and re-issues every
// currently subscribed event, used to force a resync after the caller
// suspects the two sides have drifted (e.g. a long disconnect the
// engine's own Ready-triggered resubscribe hasn't caught up with yet).
func (c *Client) SynchronizeState() error {
	c.mu.Lock()
	p := c.presence
	c.mu.Unlock()

	if err := c.SetPresence(p); err != nil {
		return err
	}
	return c.resendSubscription()
}

// resendSubscription re-issues a Subscribe command for every bit in the
// current subscription mask, bypassing setSubscription's diff
// short-circuit since here every bit is unchanged and still needs
// resending.
func (c *Client) resendSubscription() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.state != lifecycleInitialized {
		return newError(ErrKindUninitialized, "client is not initialized")
	}

	for _, bit := range allSubscriptionEvents {
		if Subscription(bit)&c.subscription == 0 {
			continue
		}
		c.eng.Submit(engine.Command{Kind: engine.CmdSubscribe, Event: bit.wireName()})
	}
	return nil
}

// Subscribe adds event to the subscription set, requiring the
// URI-scheme registrar to report true.
func (c *Client) Subscribe(event SubscriptionEvent) error {
	return c.setSubscription(func(current Subscription) Subscription {
		return current | Subscription(event)
	})
}

// Unsubscribe removes event from the subscription set.
func (c *Client) Unsubscribe(event SubscriptionEvent) error {
	return c.setSubscription(func(current Subscription) Subscription {
		return current &^ Subscription(event)
	})
}

// setSubscription computes the wanted mask from the current one via
// mutate and issues exactly one Subscribe/Unsubscribe per changed bit.
// The whole read-compute-diff-write sequence runs under c.mu so
// concurrent callers (Subscribe, Unsubscribe, SetSubscription,
// resendSubscription) can't race each other into losing a bit; eng.Submit
// only enqueues onto the engine's own queue and never blocks, so holding
// c.mu across it is safe. A no-op diff short-circuits without wire traffic.
func (c *Client) setSubscription(mutate func(current Subscription) Subscription) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.state != lifecycleInitialized {
		return newError(ErrKindUninitialized, "client is not initialized")
	}
	if !c.uriSchemeRegistered() {
		return newError(ErrKindInvalidConfiguration, "URI scheme is not registered")
	}

	current := c.subscription
	want := mutate(current)
	diff := current ^ want
	if diff == 0 {
		return nil
	}

	for _, bit := range allSubscriptionEvents {
		if Subscription(bit)&diff == 0 {
			continue
		}
		if Subscription(bit)&want != 0 {
			c.eng.Submit(engine.Command{Kind: engine.CmdSubscribe, Event: bit.wireName()})
		} else {
			c.eng.Submit(engine.Command{Kind: engine.CmdUnsubscribe, Event: bit.wireName()})
		}
	}

	c.subscription = want
	return nil
}

// SetSubscription replaces the whole subscription bitset in one call.
func (c *Client) SetSubscription(mask Subscription) error {
	return c.setSubscription(func(Subscription) Subscription { return mask })
}

// Respond accepts or rejects a pending join request from userID.
func (c *Client) Respond(userID string, accept bool) error {
	c.mu.Lock()
	if c.state != lifecycleInitialized {
		c.mu.Unlock()
		return newError(ErrKindUninitialized, "client is not initialized")
	}
	eng := c.eng
	c.mu.Unlock()

	eng.Submit(engine.Command{Kind: engine.CmdRespond, UserID: userID, Accept: accept})
	return nil
}

// Invoke drains the inbound queue, applies internal state updates, calls
// the registered event handler for each message in FIFO order, and
// returns them. It is forbidden (and logs) when auto-events is on.
func (c *Client) Invoke() ([]Message, error) {
	c.mu.Lock()
	if c.autoEvents {
		c.mu.Unlock()
		c.logger.Warning("Invoke called while auto-events is enabled; no-op")
		return nil, nil
	}
	eng := c.eng
	c.mu.Unlock()

	if eng == nil {
		return nil, newError(ErrKindUninitialized, "client is not initialized")
	}

	events := eng.Drain()
	out := make([]Message, 0, len(events))
	for _, ev := range events {
		msg := c.applyEvent(ev)
		if c.handler != nil {
			c.handler(msg)
		}
		out = append(out, msg)
	}
	return out, nil
}

// handleEngineEvent is the engine's Dispatch callback in auto-events
// mode; it runs on the engine goroutine.
func (c *Client) handleEngineEvent(ev engine.Event) {
	msg := c.applyEvent(ev)
	if c.handler != nil {
		c.handler(msg)
	}
}

// applyEvent converts an engine.Event into a Message, folding any
// resulting state change into the client's guarded fields.
func (c *Client) applyEvent(ev engine.Event) Message {
	msg := Message{At: ev.At, Pipe: ev.Pipe, Code: ev.Code}

	switch ev.Kind {
	case engine.EventConnectionEstablished:
		msg.Kind = MessageConnectionEstablished
	case engine.EventConnectionFailed:
		msg.Kind = MessageConnectionFailed
		if ev.Err != nil {
			msg.Err = wrapError(ErrKindTransport, "failed to connect to discord IPC socket", ev.Err)
		}
	case engine.EventReady:
		msg.Kind = MessageReady
		msg.Config, msg.User = readyFromData(ev.Data)
		c.mu.Lock()
		c.config = msg.Config
		c.user = msg.User
		c.mu.Unlock()
	case engine.EventClose:
		msg.Kind = MessageClose
		msg.Reason = ev.Message
	case engine.EventError:
		msg.Kind = MessageError
		msg.Text = ev.Message
		switch {
		case ev.FromServer:
			msg.Err = newError(ErrKindServer, ev.Message)
		case ev.Err != nil:
			msg.Err = wrapError(ErrKindProtocol, ev.Message, ev.Err)
		}
	case engine.EventPresenceUpdate:
		msg.Kind = MessagePresenceUpdate
		incoming := presenceFromData(ev.Data)
		c.mu.Lock()
		if c.presence == nil {
			c.presence = NewPresence()
		}
		c.presence.Merge(incoming)
		msg.Presence = c.presence.Clone()
		c.mu.Unlock()
	case engine.EventSubscribed:
		msg.Kind = MessageSubscribed
		msg.Event = eventFromWireName(ev.Event)
		c.mu.Lock()
		c.subscription |= Subscription(msg.Event)
		c.mu.Unlock()
	case engine.EventUnsubscribed:
		msg.Kind = MessageUnsubscribed
		msg.Event = eventFromWireName(ev.Event)
		c.mu.Lock()
		c.subscription &^= Subscription(msg.Event)
		c.mu.Unlock()
	case engine.EventJoin:
		msg.Kind = MessageJoin
		msg.Secret = ev.Secret
	case engine.EventSpectate:
		msg.Kind = MessageSpectate
		msg.Secret = ev.Secret
	case engine.EventJoinRequest:
		msg.Kind = MessageJoinRequest
		if u, ok := ev.Data["user"].(map[string]any); ok {
			msg.Joiner = userFromData(u)
		}
	}
	return msg
}

// userFromData decodes a Discord user object. IDs arrive as JSON strings
// since they exceed float64 precision; an unparsable id is kept as 0
// with the rest of the record still populated.
func userFromData(u map[string]any) User {
	var user User
	if v, ok := u["id"].(string); ok {
		if id, err := strconv.ParseUint(v, 10, 64); err == nil {
			user.ID = id
		}
	}
	if v, ok := u["username"].(string); ok {
		user.Username = v
	}
	if v, ok := u["discriminator"].(string); ok {
		if d, err := strconv.ParseUint(v, 10, 16); err == nil {
			user.Discriminator = uint16(d)
		}
	}
	if v, ok := u["avatar"].(string); ok {
		user.AvatarHash = v
	}
	return user
}

func eventFromWireName(name string) SubscriptionEvent {
	switch name {
	case "ACTIVITY_JOIN":
		return EventJoin
	case "ACTIVITY_SPECTATE":
		return EventSpectate
	case "ACTIVITY_JOIN_REQUEST":
		return EventJoinRequest
	default:
		return 0
	}
}

func readyFromData(data map[string]any) (Configuration, User) {
	var cfg Configuration
	var user User
	if data == nil {
		return cfg, user
	}
	if c, ok := data["config"].(map[string]any); ok {
		if v, ok := c["cdn_host"].(string); ok {
			cfg.CDNHost = v
		}
		if v, ok := c["api_endpoint"].(string); ok {
			cfg.APIEndpoint = v
		}
		if v, ok := c["environment"].(string); ok {
			cfg.Environment = v
		}
	}
	if u, ok := data["user"].(map[string]any); ok {
		user = userFromData(u)
	}
	return cfg, user
}

// CurrentPresence returns a clone of the presence currently held,
// or nil if none has been set.
func (c *Client) CurrentPresence() *Presence {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.presence.Clone()
}

// CurrentUser returns the user captured from the last Ready dispatch.
func (c *Client) CurrentUser() User {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.user
}

// CurrentConfiguration returns the configuration captured from the last
// Ready dispatch.
func (c *Client) CurrentConfiguration() Configuration {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.config
}

// CurrentSubscription returns the client's current subscription bitset.
func (c *Client) CurrentSubscription() Subscription {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.subscription
}
