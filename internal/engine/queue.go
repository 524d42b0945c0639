package engine

import "sync"

// OutboundQueue is the bounded FIFO of pending [Command] values the
// engine drains on each tick. A limit of 0 means unbounded. When full,
// Push drops the oldest entry and returns it so the caller can surface
// an Error message — the engine must never block the submitting thread.
type OutboundQueue struct {
	mu     sync.Mutex
	items  []Command
	limit  int
	notify chan struct{}
}

// NewOutboundQueue returns an OutboundQueue bounded at limit (0 = unbounded).
func NewOutboundQueue(limit int) *OutboundQueue {
	return &OutboundQueue{
		limit:  limit,
		notify: make(chan struct{}, 1),
	}
}

// Push appends cmd to the queue. If the queue was at its limit, the
// oldest command is dropped and returned via dropped (ok=true).
func (q *OutboundQueue) Push(cmd Command) (dropped Command, ok bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.limit > 0 && len(q.items) >= q.limit {
		dropped = q.items[0]
		q.items = q.items[1:]
		ok = true
	}
	q.items = append(q.items, cmd)

	select {
	case q.notify <- struct{}{}:
	default:
	}
	return dropped, ok
}

// PopN removes and returns up to n commands from the front of the queue.
func (q *OutboundQueue) PopN(n int) []Command {
	q.mu.Lock()
	defer q.mu.Unlock()

	if n > len(q.items) {
		n = len(q.items)
	}
	if n == 0 {
		return nil
	}
	out := make([]Command, n)
	copy(out, q.items[:n])
	q.items = q.items[n:]
	return out
}

// Len reports the number of commands currently queued.
func (q *OutboundQueue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}

// NotifyChan is signaled (non-blocking, coalesced) whenever Push adds an
// item, letting the engine's tick loop wake early instead of waiting out
// the full tick interval.
func (q *OutboundQueue) NotifyChan() <-chan struct{} {
	return q.notify
}

// Clear discards all pending commands.
func (q *OutboundQueue) Clear() {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.items = nil
}

// InboundQueue is the FIFO of [Event] values awaiting delivery in pull
// (cooperative) mode. A limit of 0 means unbounded.
type InboundQueue struct {
	mu    sync.Mutex
	items []Event
	limit int
}

// NewInboundQueue returns an InboundQueue bounded at limit (0 = unbounded).
func NewInboundQueue(limit int) *InboundQueue {
	return &InboundQueue{limit: limit}
}

// Push appends e to the queue, dropping the oldest entry if the queue is
// at its limit.
func (q *InboundQueue) Push(e Event) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.limit > 0 && len(q.items) >= q.limit {
		q.items = q.items[1:]
	}
	q.items = append(q.items, e)
}

// Drain removes and returns every queued event, in FIFO order.
func (q *InboundQueue) Drain() []Event {
	q.mu.Lock()
	defer q.mu.Unlock()

	if len(q.items) == 0 {
		return nil
	}
	out := q.items
	q.items = nil
	return out
}

// Len reports the number of events currently queued.
func (q *InboundQueue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}
