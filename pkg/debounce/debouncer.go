package debounce

import (
	"time"

	"github.com/0xmhha/dose/pkg/watcher"
)

// Debouncer coalesces accepted events into triggers. Timer fires are
// handed to post so that emit always runs on the owner's goroutine.
type Debouncer struct {
	window time.Duration
	post   func(func())
	emit   func(Trigger)

	leading  bool
	lastPush time.Time

	pending []watcher.Event
	timer   *time.Timer
	seq     uint64
	stopped bool
}

// NewDebouncer creates a debouncer. post schedules a function on the
// owner's goroutine and must not block; emit receives the triggers.
// A negative window is treated as zero, which emits on the next turn of
// the owner's loop.
func NewDebouncer(window time.Duration, post func(func()), emit func(Trigger)) *Debouncer {
	if window < 0 {
		window = 0
	}
	return &Debouncer{
		window: window,
		post:   post,
		emit:   emit,
	}
}

// Window returns the quiet window.
func (d *Debouncer) Window() time.Duration {
	return d.window
}

// SetLeadingEdge makes the first event after a quiet window emit at once.
// Events following it within the window coalesce into a trailing trigger
// as usual. It has no effect with a zero window.
func (d *Debouncer) SetLeadingEdge(on bool) {
	d.leading = on
}

// Startup emits the synthetic startup trigger immediately.
func (d *Debouncer) Startup() {
	if d.stopped {
		return
	}
	d.emit(Trigger{Synthetic: true, At: time.Now()})
}

// Push queues ev and restarts the quiet window.
func (d *Debouncer) Push(ev watcher.Event) {
	if d.stopped {
		return
	}

	now := time.Now()
	quiet := d.lastPush.IsZero() || now.Sub(d.lastPush) >= d.window
	d.lastPush = now

	if d.leading && d.window > 0 && quiet && len(d.pending) == 0 {
		d.seq++
		d.emit(Trigger{Events: []watcher.Event{ev}, At: now})
		return
	}

	d.pending = append(d.pending, ev)
	d.seq++
	seq := d.seq

	if d.timer != nil {
		d.timer.Stop()
		d.timer = nil
	}

	fire := func() { d.fire(seq) }
	if d.window == 0 {
		d.post(fire)
		return
	}
	d.timer = time.AfterFunc(d.window, func() { d.post(fire) })
}

// Pending returns the number of queued events.
func (d *Debouncer) Pending() int {
	return len(d.pending)
}

// Stop cancels the timer and drops queued events. Fires already posted
// are discarded.
func (d *Debouncer) Stop() {
	d.stopped = true
	d.seq++
	d.pending = nil
	if d.timer != nil {
		d.timer.Stop()
		d.timer = nil
	}
}

func (d *Debouncer) fire(seq uint64) {
	// A later Push or Stop superseded this fire.
	if d.stopped || seq != d.seq || len(d.pending) == 0 {
		return
	}

	events := d.pending
	d.pending = nil
	d.timer = nil
	d.emit(Trigger{Events: events, At: time.Now()})
}
