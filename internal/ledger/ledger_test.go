package ledger

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func sumOf(l *Ledger) int {
	total := 0
	for _, n := range l.Snapshot() {
		total += n
	}
	return total
}

func TestTotalAlwaysEqualsSumOfParts(t *testing.T) {
	l := New()

	l.ApplyServerSnapshot(map[string]int{"c1": 2, "c2": 3})
	require.Equal(t, 5, l.Total())
	require.Equal(t, sumOf(l), l.Total())

	l.ApplyDelta("c1", 4)
	require.Equal(t, sumOf(l), l.Total())

	l.MarkConversationRead("c2")
	require.Equal(t, sumOf(l), l.Total())

	l.ApplyDelta("c3", 1)
	require.Equal(t, sumOf(l), l.Total())
	require.Equal(t, 7, l.Total())
}

func TestDeltaClampsAtZero(t *testing.T) {
	l := New()
	l.ApplyServerSnapshot(map[string]int{"c1": 2})

	l.ApplyDelta("c1", -5)
	assert.Equal(t, 0, l.For("c1"))
	assert.Equal(t, 0, l.Total())

	l.ApplyDelta("never-seen", -1)
	assert.Equal(t, 0, l.For("never-seen"))
}

func TestMarkReadIsIdempotent(t *testing.T) {
	l := New()
	l.ApplyServerSnapshot(map[string]int{"c1": 4, "c2": 1})

	l.MarkConversationRead("c1")
	first := l.Snapshot()

	l.MarkConversationRead("c1")
	assert.Equal(t, first, l.Snapshot())
	assert.Equal(t, 1, l.Total())
}

func TestPartialSnapshotLeavesOtherEntriesUntouched(t *testing.T) {
	l := New()
	l.ApplyServerSnapshot(map[string]int{"c1": 2, "c2": 3})

	l.ApplyServerSnapshot(map[string]int{"c1": 7})
	assert.Equal(t, 7, l.For("c1"))
	assert.Equal(t, 3, l.For("c2"))
	assert.Equal(t, 10, l.Total())
}

func TestChangeHookSeesTotals(t *testing.T) {
	l := New()
	var changes []Change
	l.SetOnChange(func(c Change) { changes = append(changes, c) })

	l.ApplyDelta("c1", 2)
	l.ApplyDelta("c1", 1)
	l.MarkConversationRead("c1")

	require.Len(t, changes, 3)
	assert.Equal(t, Change{ConversationID: "c1", PreviousTotal: 0, NewTotal: 2}, changes[0])
	assert.Equal(t, Change{ConversationID: "c1", PreviousTotal: 2, NewTotal: 3}, changes[1])
	assert.Equal(t, Change{ConversationID: "c1", PreviousTotal: 3, NewTotal: 0}, changes[2])
}

func TestSnapshotFiresHookPerChangedEntry(t *testing.T) {
	l := New()
	l.ApplyServerSnapshot(map[string]int{"c1": 2})

	var changes []Change
	l.SetOnChange(func(c Change) { changes = append(changes, c) })

	// Unread moves from c1 to c2: the total stays 2, both entries changed.
	l.ApplyServerSnapshot(map[string]int{"c1": 0, "c2": 2})

	require.Len(t, changes, 2)
	ids := map[string]bool{}
	for _, c := range changes {
		ids[c.ConversationID] = true
		assert.NotEqual(t, c.PreviousTotal, c.NewTotal)
	}
	assert.True(t, ids["c1"])
	assert.True(t, ids["c2"])

	// Running totals chain: the last change lands on the snapshot total.
	assert.Equal(t, 2, changes[1].NewTotal)
	assert.Equal(t, changes[0].NewTotal, changes[1].PreviousTotal)

	assert.Equal(t, 0, l.For("c1"))
	assert.Equal(t, 2, l.For("c2"))
	assert.Equal(t, 2, l.Total())
}

func TestUnchangedSnapshotEntriesFireNoHook(t *testing.T) {
	l := New()
	l.ApplyServerSnapshot(map[string]int{"c1": 2, "c2": 3})

	calls := 0
	l.SetOnChange(func(Change) { calls++ })

	l.ApplyServerSnapshot(map[string]int{"c1": 2, "c2": 3})
	assert.Equal(t, 0, calls)
}

func TestNoHookFiredWhenNothingChanges(t *testing.T) {
	l := New()
	calls := 0
	l.SetOnChange(func(Change) { calls++ })

	l.MarkConversationRead("c1")
	l.ApplyDelta("c1", 0)
	assert.Equal(t, 0, calls)
}
