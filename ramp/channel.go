package ramp

import (
	"errors"
	"sync"
	"sync/atomic"
)

var (
	// ErrChannelSaturated is returned by Post when the channel already holds
	// as many pending commands as it has room for.  The policy is
	// reject-new: commands already queued are never displaced.
	ErrChannelSaturated = errors.New("command channel saturated, command rejected")
)

// Channel is a bounded FIFO carrying Commands into the tick loop.
//
// Any number of goroutines may Post; producers are serialized by a mutex,
// which only ever contends among control-context callers.  Exactly one
// goroutine, the tick loop, may Poll.  Poll is lock-free and does not
// allocate.
type Channel struct {
	mu   sync.Mutex
	buf  []Command
	mask uint64

	// head is the next slot to read, written only by the consumer.
	// tail is the next slot to write, written only by producers.
	head atomic.Uint64
	tail atomic.Uint64
}

// NewChannel returns a channel holding at least depth commands.  The
// capacity is rounded up to a power of two.
func NewChannel(depth int) *Channel {
	size := 1
	for size < depth {
		size <<= 1
	}
	return &Channel{
		buf:  make([]Command, size),
		mask: uint64(size - 1)}
}

// Post enqueues cmd, or returns ErrChannelSaturated if the channel is full
func (c *Channel) Post(cmd Command) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	tail := c.tail.Load()
	if tail-c.head.Load() == uint64(len(c.buf)) {
		return ErrChannelSaturated
	}
	c.buf[tail&c.mask] = cmd
	c.tail.Store(tail + 1)
	return nil
}

// PostAll enqueues every command in order, or none of them if they do not
// all fit
func (c *Channel) PostAll(cmds ...Command) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	tail := c.tail.Load()
	if tail-c.head.Load()+uint64(len(cmds)) > uint64(len(c.buf)) {
		return ErrChannelSaturated
	}
	for _, cmd := range cmds {
		c.buf[tail&c.mask] = cmd
		tail++
	}
	c.tail.Store(tail)
	return nil
}

// Poll dequeues the oldest pending command.  It must only be called from
// the consuming goroutine.
func (c *Channel) Poll() (Command, bool) {
	head := c.head.Load()
	if head == c.tail.Load() {
		return Command{}, false
	}
	slot := &c.buf[head&c.mask]
	cmd := *slot
	*slot = Command{}
	c.head.Store(head + 1)
	return cmd, true
}

// Len returns the number of pending commands
func (c *Channel) Len() int {
	return int(c.tail.Load() - c.head.Load())
}

// Cap returns the number of commands the channel can hold
func (c *Channel) Cap() int {
	return len(c.buf)
}
