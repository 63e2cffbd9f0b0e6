package engine

import (
	"sync"

	"github.com/google/uuid"
)

// ChangeKind tells a subscriber what happened to a node.
type ChangeKind string

const (
	ChangeCreated  ChangeKind = "created"
	ChangeRenamed  ChangeKind = "renamed"
	ChangeMoved    ChangeKind = "moved"
	ChangeContent  ChangeKind = "content"
	ChangeTrashed  ChangeKind = "trashed"
	ChangeRestored ChangeKind = "restored"
	ChangePurged   ChangeKind = "purged"
)

// NodeEvent is an advisory change notification for caching and UI layers.
// Events carry no payload beyond identity; subscribers re-read state they
// care about. Delivery is best-effort: a subscriber that falls behind loses
// events rather than blocking writers.
type NodeEvent struct {
	NodeID uuid.UUID
	Kind   ChangeKind
}

type eventBus struct {
	mu     sync.Mutex
	subs   map[chan NodeEvent]struct{}
	closed bool
}

func newEventBus() *eventBus {
	return &eventBus{subs: make(map[chan NodeEvent]struct{})}
}

// Subscribe registers a listener for node change events. The returned
// channel is buffered; events overflowing the buffer are dropped for that
// subscriber. Call the returned cancel function when done.
func (e *Engine) Subscribe(buffer int) (<-chan NodeEvent, func()) {
	if buffer <= 0 {
		buffer = 64
	}
	ch := make(chan NodeEvent, buffer)

	e.events.mu.Lock()
	defer e.events.mu.Unlock()
	if e.events.closed {
		close(ch)
		return ch, func() {}
	}
	e.events.subs[ch] = struct{}{}

	return ch, func() {
		e.events.mu.Lock()
		defer e.events.mu.Unlock()
		if _, ok := e.events.subs[ch]; ok {
			delete(e.events.subs, ch)
			close(ch)
		}
	}
}

func (b *eventBus) publish(ev NodeEvent) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for ch := range b.subs {
		select {
		case ch <- ev:
		default:
		}
	}
}

func (b *eventBus) close() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return
	}
	b.closed = true
	for ch := range b.subs {
		close(ch)
	}
	b.subs = make(map[chan NodeEvent]struct{})
}

func (e *Engine) notify(id uuid.UUID, kind ChangeKind) {
	e.events.publish(NodeEvent{NodeID: id, Kind: kind})
}
