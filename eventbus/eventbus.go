// Package eventbus broadcasts recording lifecycle events.
//
// Publishers never block: events are queued on a bounded inbox and fanned
// out to subscribers by Run.  An event that does not fit, either in the
// inbox or in a slow subscriber's queue, is dropped and counted.  This lets
// the real-time tick loop publish without risking a stall.
package eventbus

import (
	"context"
	"sync"
	"sync/atomic"
	"time"
)

// Kind names an event
type Kind string

const (
	// RecordingStarted is published when a ramp starts with recording requested
	RecordingStarted Kind = "recording-started"

	// RecordingStopped is published when a recording session concludes
	RecordingStopped Kind = "recording-stopped"

	// RecordingRefused is published when a recording could not start for
	// lack of a free buffer
	RecordingRefused Kind = "recording-refused"

	// SinkFailure is published when a completed recording could not be persisted
	SinkFailure Kind = "sink-failure"
)

// RemoteSource is the Source stamped on events that arrive over the websocket bridge
const RemoteSource = "remote"

// Event is a single notification on the bus
type Event struct {
	Kind Kind `json:"kind"`

	Time time.Time `json:"time"`

	// Source names the publisher, so subscribers can ignore their own events
	Source string `json:"source,omitempty"`

	Cell int `json:"cell,omitempty"`

	// Session is the recording ID, once one has been assigned
	Session string `json:"session,omitempty"`

	Samples int `json:"samples,omitempty"`

	Err string `json:"error,omitempty"`
}

// Publisher is anything events can be posted to
type Publisher interface {
	Publish(Event) bool
}

// Subscriber is anything that hands out event streams
type Subscriber interface {
	Subscribe(depth int) (<-chan Event, func())
}

// Bus is a broadcast bus.  The zero value is not usable, see New.
type Bus struct {
	inbox chan Event

	mu     sync.Mutex
	subs   map[int]chan Event
	nextID int
	closed bool

	dropped atomic.Uint64
}

// New returns a bus whose inbox holds depth events
func New(depth int) *Bus {
	if depth < 1 {
		depth = 1
	}
	return &Bus{
		inbox: make(chan Event, depth),
		subs:  make(map[int]chan Event)}
}

// Publish enqueues ev without blocking.  It returns false if the event was dropped.
func (b *Bus) Publish(ev Event) bool {
	select {
	case b.inbox <- ev:
		return true
	default:
		b.dropped.Add(1)
		return false
	}
}

// Dropped returns the number of events discarded because a queue was full
func (b *Bus) Dropped() uint64 {
	return b.dropped.Load()
}

// Subscribe registers a new subscriber with a queue of the given depth.
// The returned func unsubscribes and closes the channel; it is safe to call
// more than once.
func (b *Bus) Subscribe(depth int) (<-chan Event, func()) {
	if depth < 1 {
		depth = 1
	}
	ch := make(chan Event, depth)
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		close(ch)
		return ch, func() {}
	}
	id := b.nextID
	b.nextID++
	b.subs[id] = ch
	var once sync.Once
	cancel := func() {
		once.Do(func() {
			b.mu.Lock()
			defer b.mu.Unlock()
			if c, ok := b.subs[id]; ok {
				delete(b.subs, id)
				close(c)
			}
		})
	}
	return ch, cancel
}

// Run fans events out to subscribers until ctx is done, then closes every
// subscriber channel.
func (b *Bus) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			b.mu.Lock()
			b.closed = true
			for id, c := range b.subs {
				delete(b.subs, id)
				close(c)
			}
			b.mu.Unlock()
			return
		case ev := <-b.inbox:
			b.broadcast(ev)
		}
	}
}

func (b *Bus) broadcast(ev Event) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for _, c := range b.subs {
		select {
		case c <- ev:
		default:
			b.dropped.Add(1)
		}
	}
}
