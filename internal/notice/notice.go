// Package notice holds a transient inline message that disappears on its
// own after a fixed delay.
package notice

import (
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
)

// DefaultDismiss is how long a message stays visible
const DefaultDismiss = 2500 * time.Millisecond

// Notice shows at most one message at a time. Visibility is derived from the
// clock; the timer only exists to tell the owner the message went away.
type Notice struct {
	clock    clockwork.Clock
	delay    time.Duration
	onChange func()

	mu       sync.Mutex
	message  string
	deadline time.Time
	stop     chan struct{}
	gen      uint64
	closed   bool
}

// New creates a notice. onChange may be nil; it runs on a timer goroutine
// without the notice's lock held.
func New(clock clockwork.Clock, delay time.Duration, onChange func()) *Notice {
	if delay <= 0 {
		delay = DefaultDismiss
	}
	return &Notice{clock: clock, delay: delay, onChange: onChange}
}

// Show replaces the current message and restarts the dismiss delay
func (n *Notice) Show(message string) {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.closed {
		return
	}

	n.stopLocked()
	n.gen++
	gen := n.gen
	n.message = message
	n.deadline = n.clock.Now().Add(n.delay)

	stop := make(chan struct{})
	n.stop = stop
	go n.wait(n.clock.NewTimer(n.delay), stop, gen)
}

// Message returns the visible message, empty once dismissed
func (n *Notice) Message() string {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.message == "" || !n.clock.Now().Before(n.deadline) {
		return ""
	}
	return n.message
}

// Dismiss hides the message immediately
func (n *Notice) Dismiss() {
	n.mu.Lock()
	n.stopLocked()
	n.gen++
	n.message = ""
	n.mu.Unlock()
}

// Close stops the dismiss timer; later calls to Show are ignored
func (n *Notice) Close() {
	n.mu.Lock()
	n.stopLocked()
	n.closed = true
	n.message = ""
	n.mu.Unlock()
}

func (n *Notice) stopLocked() {
	if n.stop != nil {
		close(n.stop)
		n.stop = nil
	}
}

func (n *Notice) wait(timer clockwork.Timer, stop <-chan struct{}, gen uint64) {
	defer timer.Stop()
	select {
	case <-stop:
	case <-timer.Chan():
		n.expire(gen)
	}
}

func (n *Notice) expire(gen uint64) {
	n.mu.Lock()
	if gen != n.gen || n.closed {
		n.mu.Unlock()
		return
	}
	n.message = ""
	n.stop = nil
	n.mu.Unlock()

	if n.onChange != nil {
		n.onChange()
	}
}
