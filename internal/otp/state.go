package otp

import (
	"strings"
	"unicode"
)

// Phase is where the screen is in the verification flow
type Phase int

const (
	// PhaseIdle is before any digit is entered, and again after a resend
	PhaseIdle Phase = iota
	PhaseFilling
	PhaseSubmitting
	PhaseVerified
)

func (p Phase) String() string {
	switch p {
	case PhaseIdle:
		return "idle"
	case PhaseFilling:
		return "filling"
	case PhaseSubmitting:
		return "submitting"
	case PhaseVerified:
		return "verified"
	default:
		return "unknown"
	}
}

// Snapshot is an immutable view of the screen
type Snapshot struct {
	Cells             [Length]string
	Focus             int
	Phase             Phase
	Resending         bool
	CooldownRemaining int
	// Error is the visible error message, empty when none
	Error string
}

// Code joins the cells
func (s Snapshot) Code() string {
	return strings.Join(s.Cells[:], "")
}

// Complete reports whether every cell holds a digit
func (s Snapshot) Complete() bool {
	for _, d := range s.Cells {
		if d == "" {
			return false
		}
	}
	return true
}

// CanResend reports whether the resend action is enabled
func (s Snapshot) CanResend() bool {
	return s.CooldownRemaining == 0 && !s.Resending && s.Phase != PhaseSubmitting && s.Phase != PhaseVerified
}

// Snapshot returns the current view
func (c *Controller) Snapshot() Snapshot {
	c.mu.Lock()
	defer c.mu.Unlock()
	return Snapshot{
		Cells:             c.cells,
		Focus:             c.focus,
		Phase:             c.phase,
		Resending:         c.resending,
		CooldownRemaining: c.remainingLocked(),
		Error:             c.notice.Message(),
	}
}

// Subscribe registers fn for every change, including cooldown ticks and
// error dismissal. It returns a function that removes fn.
func (c *Controller) Subscribe(fn func(Snapshot)) func() {
	c.mu.Lock()
	id := c.nextID
	c.nextID++
	c.subscribers[id] = fn
	c.mu.Unlock()

	return func() {
		c.mu.Lock()
		delete(c.subscribers, id)
		c.mu.Unlock()
	}
}

func (c *Controller) notify() {
	snap := c.Snapshot()

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	subs := make([]func(Snapshot), 0, len(c.subscribers))
	for _, fn := range c.subscribers {
		subs = append(subs, fn)
	}
	c.mu.Unlock()

	for _, fn := range subs {
		fn(snap)
	}
}

func onlyDigits(s string) string {
	return strings.Map(func(r rune) rune {
		if r > unicode.MaxASCII || !unicode.IsDigit(r) {
			return -1
		}
		return r
	}, s)
}
