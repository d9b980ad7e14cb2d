// Package ledger is the authoritative in-memory view of unread counts,
// reconciled from server snapshots and local mutations.
package ledger

import "sync"

// Change describes one discrete ledger update. The notification dispatcher
// keys off total increases; decreases never raise alerts.
type Change struct {
	ConversationID string
	PreviousTotal  int
	NewTotal       int
}

// Ledger holds one unread count per conversation. The aggregate total is
// always derived from the per-conversation entries, never stored, so it cannot
// drift from its parts. Entries are created lazily and never go negative.
type Ledger struct {
	mu       sync.RWMutex
	counts   map[string]int
	onChange func(Change)
}

// New builds an empty Ledger.
func New() *Ledger {
	return &Ledger{counts: make(map[string]int)}
}

// SetOnChange registers the change hook. The hook runs outside the ledger lock
// and must be set before the ledger is shared.
func (l *Ledger) SetOnChange(fn func(Change)) {
	l.onChange = fn
}

// ApplyServerSnapshot replaces the counts for every conversation id present in
// the snapshot. Ids absent from the snapshot keep their current value, since
// servers may return partial views. The change hook fires once per modified
// entry: unread moving between conversations must update both badges even when
// the total offsets to equal.
func (l *Ledger) ApplyServerSnapshot(perConversation map[string]int) {
	l.mu.Lock()
	total := l.totalLocked()
	var changes []Change
	for id, n := range perConversation {
		if n < 0 {
			n = 0
		}
		prev := l.counts[id]
		if n == prev {
			continue
		}
		l.counts[id] = n
		next := total - prev + n
		changes = append(changes, Change{ConversationID: id, PreviousTotal: total, NewTotal: next})
		total = next
	}
	l.mu.Unlock()

	for _, change := range changes {
		l.notify(change.ConversationID, change.PreviousTotal, change.NewTotal)
	}
}

// ApplyDelta adjusts one conversation's count by a signed delta, clamped at
// zero.
func (l *Ledger) ApplyDelta(conversationID string, delta int) {
	l.mu.Lock()
	prev := l.totalLocked()
	next := l.counts[conversationID] + delta
	if next < 0 {
		next = 0
	}
	l.counts[conversationID] = next
	total := l.totalLocked()
	l.mu.Unlock()

	l.notify(conversationID, prev, total)
}

// MarkConversationRead zeroes the conversation's count immediately, without
// waiting for server confirmation. Idempotent.
func (l *Ledger) MarkConversationRead(conversationID string) {
	l.mu.Lock()
	prev := l.totalLocked()
	l.counts[conversationID] = 0
	next := l.totalLocked()
	l.mu.Unlock()

	l.notify(conversationID, prev, next)
}

// Total returns the aggregate unread count.
func (l *Ledger) Total() int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.totalLocked()
}

// For returns the unread count for one conversation.
func (l *Ledger) For(conversationID string) int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.counts[conversationID]
}

// Snapshot returns a copy of all known per-conversation counts.
func (l *Ledger) Snapshot() map[string]int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	out := make(map[string]int, len(l.counts))
	for id, n := range l.counts {
		out[id] = n
	}
	return out
}

func (l *Ledger) totalLocked() int {
	total := 0
	for _, n := range l.counts {
		total += n
	}
	return total
}

func (l *Ledger) notify(conversationID string, prev, next int) {
	if l.onChange == nil || prev == next {
		return
	}
	l.onChange(Change{ConversationID: conversationID, PreviousTotal: prev, NewTotal: next})
}
