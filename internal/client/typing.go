package client

import "time"

// Timer is the part of *time.Timer the debouncer needs.
type Timer interface {
	Stop() bool
}

// AfterFunc schedules f after d. Session routes f back onto its event loop.
type AfterFunc func(d time.Duration, f func()) Timer

// Typing debounces keystrokes into start and stop signals: the first keystroke
// emits true, and false follows once no keystroke arrived for the quiet period.
// Not safe for concurrent use.
type Typing struct {
	quiet     time.Duration
	afterFunc AfterFunc
	emit      func(isTyping bool)

	active bool
	timer  Timer
	// generation invalidates callbacks of timers that lost the Stop race
	generation int
}

// NewTyping builds a debouncer. A nil afterFunc uses time.AfterFunc.
func NewTyping(quiet time.Duration, afterFunc AfterFunc, emit func(isTyping bool)) *Typing {
	if quiet <= 0 {
		quiet = time.Second
	}
	if afterFunc == nil {
		afterFunc = func(d time.Duration, f func()) Timer { return time.AfterFunc(d, f) }
	}
	return &Typing{quiet: quiet, afterFunc: afterFunc, emit: emit}
}

// Keystroke records input activity.
func (t *Typing) Keystroke() {
	if !t.active {
		t.active = true
		t.emit(true)
	}
	t.arm()
}

// Stop ends the typing state immediately, as after a send.
func (t *Typing) Stop() {
	if !t.active {
		return
	}
	t.disarm()
	t.active = false
	t.emit(false)
}

// Active reports whether a start was emitted without its stop.
func (t *Typing) Active() bool { return t.active }

func (t *Typing) arm() {
	t.disarm()
	gen := t.generation
	t.timer = t.afterFunc(t.quiet, func() { t.expire(gen) })
}

func (t *Typing) disarm() {
	t.generation++
	if t.timer != nil {
		t.timer.Stop()
		t.timer = nil
	}
}

func (t *Typing) expire(gen int) {
	if gen != t.generation || !t.active {
		return
	}
	t.timer = nil
	t.active = false
	t.emit(false)
}
