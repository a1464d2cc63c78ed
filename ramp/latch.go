package ramp

import (
	"context"
	"sync"
	"time"
)

// Completer reports when ramps settle
type Completer interface {
	Done() bool
	Completions() uint64
}

// Latch models the checkable ramp button.  It is latched when a ramp is
// requested and released by Poll once the engine reports that a ramp has
// settled since then.  Comparing completion counts, rather than looking at
// Done alone, keeps a poll that lands before the engine has consumed the
// start command from releasing the button early.
type Latch struct {
	src Completer

	mu      sync.Mutex
	checked bool
	mark    uint64
}

// NewLatch returns a released latch observing src
func NewLatch(src Completer) *Latch {
	return &Latch{src: src}
}

// Set latches (true) or releases (false) the button
func (l *Latch) Set(checked bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.set(checked)
}

// Hold is Set for a request that may still be refused.  undo puts back the
// state Hold replaced, including the completion count a latched button
// was waiting to see exceeded.
func (l *Latch) Hold(checked bool) (undo func()) {
	l.mu.Lock()
	defer l.mu.Unlock()
	prev, mark := l.checked, l.mark
	l.set(checked)
	return func() {
		l.mu.Lock()
		defer l.mu.Unlock()
		l.checked, l.mark = prev, mark
	}
}

func (l *Latch) set(checked bool) {
	l.checked = checked
	if checked {
		l.mark = l.src.Completions()
	}
}

// Checked returns the button state
func (l *Latch) Checked() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.checked
}

// Check releases the latch if a ramp has settled since it was set.  It
// returns true if the latch was released by this call.
func (l *Latch) Check() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.checked && l.src.Done() && l.src.Completions() > l.mark {
		l.checked = false
		return true
	}
	return false
}

// Poll calls Check every interval until ctx is done
func (l *Latch) Poll(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			l.Check()
		}
	}
}
