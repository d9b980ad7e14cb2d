// Package notify turns unread ledger increases into a single, non-overlapping
// visible alert.
package notify

import (
	"sync"
	"time"

	"coach-messaging/internal/ledger"
	"coach-messaging/internal/models"
	"coach-messaging/internal/observability"
)

// Dispatcher maintains at most one visible NotificationEvent. A new ledger
// increase while an alert is visible updates it in place rather than stacking
// a second one, and resets the auto-dismiss timer.
type Dispatcher struct {
	ttl   time.Duration
	muted func() bool

	mu       sync.Mutex
	current  *models.NotificationEvent
	timer    *time.Timer
	seq      uint64
	onChange func(*models.NotificationEvent)
}

// New builds a Dispatcher. muted is a read-only user preference; a nil func
// means never muted. ttl is the auto-dismiss duration.
func New(ttl time.Duration, muted func() bool) *Dispatcher {
	if ttl <= 0 {
		ttl = 5 * time.Second
	}
	if muted == nil {
		muted = func() bool { return false }
	}
	return &Dispatcher{ttl: ttl, muted: muted}
}

// SetOnChange registers the visibility hook; it receives the current event, or
// nil when the alert is dismissed. Must be set before the dispatcher is shared.
func (d *Dispatcher) SetOnChange(fn func(*models.NotificationEvent)) {
	d.onChange = fn
}

// HandleLedgerChange raises or refreshes the alert when the total increased.
// Decreases (the user reading messages) never spawn notifications.
func (d *Dispatcher) HandleLedgerChange(change ledger.Change) {
	if change.NewTotal <= change.PreviousTotal {
		return
	}
	if d.muted() {
		observability.IncNotification("muted")
		return
	}

	d.mu.Lock()
	replaced := d.current != nil
	d.current = &models.NotificationEvent{
		ConversationID: change.ConversationID,
		PreviousTotal:  change.PreviousTotal,
		NewTotal:       change.NewTotal,
		OccurredAt:     time.Now(),
	}
	d.seq++
	seq := d.seq
	// Cancel the pending auto-dismiss so it cannot close the refreshed
	// alert prematurely.
	if d.timer != nil {
		d.timer.Stop()
	}
	d.timer = time.AfterFunc(d.ttl, func() { d.expire(seq) })
	current := *d.current
	d.mu.Unlock()

	if replaced {
		observability.IncNotification("replaced")
	} else {
		observability.IncNotification("shown")
	}
	d.notify(&current)
}

// Dismiss closes the visible alert and cancels its timer. Idempotent.
func (d *Dispatcher) Dismiss() {
	d.mu.Lock()
	if d.current == nil {
		d.mu.Unlock()
		return
	}
	d.current = nil
	d.seq++
	if d.timer != nil {
		d.timer.Stop()
		d.timer = nil
	}
	d.mu.Unlock()

	observability.IncNotification("dismissed")
	d.notify(nil)
}

// Current returns the visible alert, or nil.
func (d *Dispatcher) Current() *models.NotificationEvent {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.current == nil {
		return nil
	}
	current := *d.current
	return &current
}

// expire is the auto-dismiss path. The sequence check drops timers that were
// logically cancelled by a replace or an explicit dismiss racing the firing.
func (d *Dispatcher) expire(seq uint64) {
	d.mu.Lock()
	if seq != d.seq || d.current == nil {
		d.mu.Unlock()
		return
	}
	d.current = nil
	d.timer = nil
	d.mu.Unlock()

	observability.IncNotification("expired")
	d.notify(nil)
}

func (d *Dispatcher) notify(ev *models.NotificationEvent) {
	if d.onChange != nil {
		d.onChange(ev)
	}
}
