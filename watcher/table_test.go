package watcher

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTableDispatchFansOutToAllRegistrationsForSameName(t *testing.T) {
	tbl := newTable()
	var calls []int

	tbl.register("a.png", func(filename string, overflow bool) error {
		calls = append(calls, 1)
		return nil
	})
	tbl.register("a.png", func(filename string, overflow bool) error {
		calls = append(calls, 2)
		return nil
	})
	tbl.register("b.png", func(filename string, overflow bool) error {
		calls = append(calls, 3)
		return nil
	})

	n := tbl.dispatch("a.png", false)
	assert.Equal(t, 2, n)
	assert.ElementsMatch(t, []int{1, 2}, calls)
}

func TestTableDispatchRemovesFailingEntry(t *testing.T) {
	tbl := newTable()
	attempts := 0
	tbl.register("a.png", func(filename string, overflow bool) error {
		attempts++
		return assertErr
	})

	n := tbl.dispatch("a.png", false)
	require.Equal(t, 1, n)
	require.Equal(t, 1, attempts)

	// The failing entry was removed: a second dispatch finds nobody home.
	n = tbl.dispatch("a.png", false)
	assert.Equal(t, 0, n)
	assert.Equal(t, 1, attempts)
}

func TestTableUnregisterOnlyRemovesMatchingID(t *testing.T) {
	tbl := newTable()
	id1 := tbl.register("a.png", func(filename string, overflow bool) error { return nil })
	id2 := tbl.register("a.png", func(filename string, overflow bool) error { return nil })

	require.True(t, tbl.unregister("a.png", id1))
	assert.Len(t, tbl.byName["a.png"], 1)
	assert.Equal(t, id2, tbl.byName["a.png"][0].id)

	require.True(t, tbl.unregister("a.png", id2))
	_, exists := tbl.byName["a.png"]
	assert.False(t, exists)
}

func TestTableDispatchPassesOverflowFlag(t *testing.T) {
	tbl := newTable()
	var seen bool
	tbl.register("a.png", func(filename string, overflow bool) error {
		seen = overflow
		return nil
	})

	tbl.dispatch("a.png", true)
	assert.True(t, seen)
}

var assertErr = &dispatchError{"boom"}

type dispatchError struct{ msg string }

func (e *dispatchError) Error() string { return e.msg }
