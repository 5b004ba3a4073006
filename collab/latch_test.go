package collab

import (
	"testing"

	"github.com/go-playground/assert/v2"
)

func TestWarningLatchTransitions(t *testing.T) {
	latch := NewWarningLatch()

	states := []WarningState{}
	remove := latch.AddWarningCallback(func(state WarningState) {
		states = append(states, state)
	})
	defer remove()

	assert.Equal(t, latch.State().Latched, false)
	_, latched := latch.Message()
	assert.Equal(t, latched, false)

	// clear -> latched
	latch.Latch("offline", WarningLevelNotice)
	assert.Equal(t, latch.State(), WarningState{
		Latched: true,
		Message: "offline",
		Level:   WarningLevelNotice,
	})

	// escalation in place, same latch
	latch.Latch("still offline", WarningLevelSevere)
	assert.Equal(t, latch.State(), WarningState{
		Latched: true,
		Message: "still offline",
		Level:   WarningLevelSevere,
	})

	// latching below the current level is ignored
	latch.Latch("offline", WarningLevelNotice)
	assert.Equal(t, latch.State().Level, WarningLevelSevere)

	// latched -> clear
	latch.Clear()
	assert.Equal(t, latch.State().Latched, false)
	// clearing an already clear latch emits nothing
	latch.Clear()

	assert.Equal(t, len(states), 3)
	assert.Equal(t, states[0].Level, WarningLevelNotice)
	assert.Equal(t, states[1].Level, WarningLevelSevere)
	assert.Equal(t, states[2].Latched, false)
}

func TestWarningLatchRepeatedLatchDedup(t *testing.T) {
	latch := NewWarningLatch()

	notifyCount := 0
	remove := latch.AddWarningCallback(func(state WarningState) {
		notifyCount += 1
	})
	defer remove()

	latch.Latch("offline", WarningLevelNotice)
	latch.Latch("offline", WarningLevelNotice)
	latch.Latch("offline", WarningLevelNotice)
	assert.Equal(t, notifyCount, 1)
}

func TestWarningLatchCallbackDispose(t *testing.T) {
	latch := NewWarningLatch()

	notifyCount := 0
	remove := latch.AddWarningCallback(func(state WarningState) {
		notifyCount += 1
	})

	latch.Latch("offline", WarningLevelNotice)
	assert.Equal(t, notifyCount, 1)

	remove()
	latch.Clear()
	assert.Equal(t, notifyCount, 1)
}
