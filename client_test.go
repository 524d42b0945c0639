package richpresence

import (
	"encoding/json"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"richpresence/internal/wire"
)

// fakeTransport is a minimal in-memory stand-in for *transport.Transport
// satisfying engine.Transport, used to drive a Client end to end without
// a real Discord process.
type fakeTransport struct {
	mu        sync.Mutex
	connected bool
	pipeIndex int
	written   []wire.Frame
	toRead    []wire.Frame
}

func newFakeTransport() *fakeTransport { return &fakeTransport{pipeIndex: -1} }

func (f *fakeTransport) Connect(idx int) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.connected = true
	f.pipeIndex = idx
	return nil
}

func (f *fakeTransport) IsConnected() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.connected
}

func (f *fakeTransport) PipeIndex() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.pipeIndex
}

func (f *fakeTransport) WriteFrame(opcode wire.Opcode, payload []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	cp := make([]byte, len(payload))
	copy(cp, payload)
	f.written = append(f.written, wire.Frame{Opcode: opcode, Payload: cp})
	return nil
}

func (f *fakeTransport) ReadFrame() (wire.Frame, bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.toRead) == 0 {
		return wire.Frame{}, false, nil
	}
	fr := f.toRead[0]
	f.toRead = f.toRead[1:]
	return fr, true, nil
}

func (f *fakeTransport) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.connected = false
	return nil
}

func (f *fakeTransport) queueFrame(fr wire.Frame) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.toRead = append(f.toRead, fr)
}

func (f *fakeTransport) written_() []wire.Frame {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]wire.Frame, len(f.written))
	copy(out, f.written)
	return out
}

func readyFrame() wire.Frame {
	payload, _ := json.Marshal(map[string]any{
		"cmd": "DISPATCH",
		"evt": "READY",
		"data": map[string]any{
			"v":    1,
			"user": map[string]any{"id": "81", "username": "tester"},
		},
	})
	return wire.Frame{Opcode: wire.OpFrame, Payload: payload}
}

func waitFor(t *testing.T, timeout time.Duration, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(time.Millisecond)
	}
	t.Fatal("condition not met within timeout")
}

func TestNew_RejectsEmptyApplicationID(t *testing.T) {
	if _, err := New(""); err == nil {
		t.Fatal("expected error for empty application id")
	}
}

func TestClient_InitializeLifecycle(t *testing.T) {
	ft := newFakeTransport()
	c, err := New("123", WithTransport(ft), WithAutoEvents(false))
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	if err := c.Initialize(); err != nil {
		t.Fatalf("Initialize: %v", err)
	}

	if err := c.Initialize(); err == nil {
		t.Fatal("expected AlreadyInitialized on second Initialize")
	} else if rpErr, ok := err.(*Error); !ok || rpErr.Kind != ErrKindAlreadyInitialized {
		t.Fatalf("expected ErrKindAlreadyInitialized, got %v", err)
	}

	if err := c.Dispose(); err != nil {
		t.Fatalf("Dispose: %v", err)
	}
	if err := c.Dispose(); err != nil {
		t.Fatalf("second Dispose should be a no-op, got: %v", err)
	}
	if err := c.Initialize(); err == nil {
		t.Fatal("expected Disposed error after Dispose")
	} else if rpErr, ok := err.(*Error); !ok || rpErr.Kind != ErrKindDisposed {
		t.Fatalf("expected ErrKindDisposed, got %v", err)
	}
}

func TestClient_UpdateBeforeInitializeFails(t *testing.T) {
	ft := newFakeTransport()
	c, _ := New("123", WithTransport(ft), WithAutoEvents(false))

	if err := c.UpdateDetails("hello"); err == nil {
		t.Fatal("expected Uninitialized error before Initialize")
	} else if rpErr, ok := err.(*Error); !ok || rpErr.Kind != ErrKindUninitialized {
		t.Fatalf("expected ErrKindUninitialized, got %v", err)
	}
}

func TestClient_SetPresenceBeforeInitializeIsStored(t *testing.T) {
	ft := newFakeTransport()
	c, _ := New("123", WithTransport(ft), WithAutoEvents(false))

	p, _ := NewPresence().WithDetails("queued")
	if err := c.SetPresence(p); err != nil {
		t.Fatalf("SetPresence before initialize should not error, got: %v", err)
	}
	if got := c.CurrentPresence(); got == nil || got.Details != "queued" {
		t.Fatalf("expected stored presence with details=queued, got %+v", got)
	}
}

func TestClient_SetPresenceRejectsInvalidLiteral(t *testing.T) {
	ft := newFakeTransport()
	c, _ := New("123", WithTransport(ft), WithAutoEvents(false))

	bad := &Presence{Details: strings.Repeat("a", maxDetailsLen+1)}
	err := c.SetPresence(bad)
	if err == nil {
		t.Fatal("expected validation error for oversized details")
	}
	rpErr, ok := err.(*Error)
	if !ok || rpErr.Kind != ErrKindStringOutOfRange {
		t.Fatalf("expected ErrKindStringOutOfRange, got %v", err)
	}
	if c.CurrentPresence() != nil {
		t.Fatal("rejected presence must not be stored")
	}
}

func TestClient_SetPresenceCoercesLiteralParty(t *testing.T) {
	ft := newFakeTransport()
	c, _ := New("123", WithTransport(ft), WithAutoEvents(false))

	if err := c.SetPresence(&Presence{Party: &Party{ID: "p", Size: 3, Max: 2}}); err != nil {
		t.Fatalf("SetPresence: %v", err)
	}
	stored := c.CurrentPresence()
	if stored == nil || stored.Party == nil {
		t.Fatal("expected coerced presence stored")
	}
	if stored.Party.Size != 3 || stored.Party.Max != 3 {
		t.Fatalf("expected coerced party [3,3], got [%d,%d]", stored.Party.Size, stored.Party.Max)
	}
}

func TestClient_ServerErrorClassified(t *testing.T) {
	ft := newFakeTransport()
	c, _ := New("123", WithTransport(ft), WithAutoEvents(false))
	if err := c.Initialize(); err != nil {
		t.Fatalf("Initialize: %v", err)
	}
	defer c.Dispose()

	ft.queueFrame(readyFrame())
	errPayload, _ := json.Marshal(map[string]any{
		"cmd":  "DISPATCH",
		"evt":  "ERROR",
		"data": map[string]any{"code": 4000, "message": "invalid activity"},
	})
	ft.queueFrame(wire.Frame{Opcode: wire.OpFrame, Payload: errPayload})

	var got Message
	waitFor(t, 2*time.Second, func() bool {
		msgs, _ := c.Invoke()
		for _, m := range msgs {
			if m.Kind == MessageError {
				got = m
				return true
			}
		}
		return false
	})

	if got.Code != 4000 || got.Text != "invalid activity" {
		t.Fatalf("expected code 4000 with server text, got %+v", got)
	}
	var rpErr *Error
	if !errors.As(got.Err, &rpErr) || rpErr.Kind != ErrKindServer {
		t.Fatalf("expected ErrKindServer on a Discord ERROR envelope, got %v", got.Err)
	}
}

func TestClient_SubscribeWithoutURISchemeFails(t *testing.T) {
	ft := newFakeTransport()
	c, _ := New("123", WithTransport(ft), WithAutoEvents(false))
	if err := c.Initialize(); err != nil {
		t.Fatalf("Initialize: %v", err)
	}
	defer c.Dispose()

	err := c.Subscribe(EventJoin)
	if err == nil {
		t.Fatal("expected InvalidConfiguration without URI scheme registered")
	}
	rpErr, ok := err.(*Error)
	if !ok || rpErr.Kind != ErrKindInvalidConfiguration {
		t.Fatalf("expected ErrKindInvalidConfiguration, got %v", err)
	}
	if len(ft.written_()) != 0 {
		t.Fatal("expected no wire traffic for a rejected subscribe")
	}
}

func TestClient_InvokeForbiddenUnderAutoEvents(t *testing.T) {
	ft := newFakeTransport()
	c, _ := New("123", WithTransport(ft), WithAutoEvents(true))
	if err := c.Initialize(); err != nil {
		t.Fatalf("Initialize: %v", err)
	}
	defer c.Dispose()

	msgs, err := c.Invoke()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if msgs != nil {
		t.Fatalf("expected nil messages under auto-events, got %v", msgs)
	}
}

func TestClient_ReadyThenInvokePullMode(t *testing.T) {
	ft := newFakeTransport()
	c, _ := New("123", WithTransport(ft), WithAutoEvents(false))
	if err := c.Initialize(); err != nil {
		t.Fatalf("Initialize: %v", err)
	}
	defer c.Dispose()

	ft.queueFrame(readyFrame())

	waitFor(t, 2*time.Second, func() bool {
		msgs, _ := c.Invoke()
		for _, m := range msgs {
			if m.Kind == MessageReady {
				return true
			}
		}
		return false
	})

	user := c.CurrentUser()
	if user.Username != "tester" {
		t.Fatalf("expected username tester, got %q", user.Username)
	}
}

func TestClient_SynchronizeStateResendsSubscription(t *testing.T) {
	ft := newFakeTransport()
	c, _ := New("123", WithTransport(ft), WithAutoEvents(false),
		WithURISchemeRegistered(func() bool { return true }))
	if err := c.Initialize(); err != nil {
		t.Fatalf("Initialize: %v", err)
	}
	defer c.Dispose()

	ft.queueFrame(readyFrame())
	waitFor(t, 2*time.Second, func() bool {
		msgs, _ := c.Invoke()
		for _, m := range msgs {
			if m.Kind == MessageReady {
				return true
			}
		}
		return false
	})

	if err := c.Subscribe(EventJoin); err != nil {
		t.Fatalf("Subscribe: %v", err)
	}

	subscribeFrames := func() int {
		n := 0
		for _, f := range ft.written_() {
			env, err := wire.DecodeEnvelope(f.Payload)
			if err == nil && env.Cmd == "SUBSCRIBE" {
				n++
			}
		}
		return n
	}

	waitFor(t, 2*time.Second, func() bool { return subscribeFrames() == 1 })

	if err := c.SynchronizeState(); err != nil {
		t.Fatalf("SynchronizeState: %v", err)
	}

	waitFor(t, 2*time.Second, func() bool { return subscribeFrames() == 2 })
}

func TestClient_AutoEventsDispatchesReady(t *testing.T) {
	ft := newFakeTransport()
	var got Message
	var mu sync.Mutex
	done := make(chan struct{}, 1)

	c, _ := New("123", WithTransport(ft), WithAutoEvents(true), WithEventHandler(func(m Message) {
		if m.Kind == MessageReady {
			mu.Lock()
			got = m
			mu.Unlock()
			select {
			case done <- struct{}{}:
			default:
			}
		}
	}))
	if err := c.Initialize(); err != nil {
		t.Fatalf("Initialize: %v", err)
	}
	defer c.Dispose()

	ft.queueFrame(readyFrame())

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for Ready dispatch")
	}

	mu.Lock()
	defer mu.Unlock()
	if got.Kind != MessageReady {
		t.Fatalf("expected Ready message, got %v", got.Kind)
	}
}
