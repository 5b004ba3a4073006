package collab

import (
	"testing"

	"github.com/go-playground/assert/v2"
)

func TestCallbackListAddRemove(t *testing.T) {
	callbacks := NewCallbackList[func()]()

	aId := callbacks.Add(func() {})
	bId := callbacks.Add(func() {})
	assert.Equal(t, callbacks.Len(), 2)
	assert.Equal(t, aId == bId, false)

	callbacks.Remove(aId)
	assert.Equal(t, callbacks.Len(), 1)

	// removing twice is safe
	callbacks.Remove(aId)
	assert.Equal(t, callbacks.Len(), 1)

	callbacks.Remove(bId)
	assert.Equal(t, callbacks.Len(), 0)
}

func TestCallbackListGetIsStable(t *testing.T) {
	callbacks := NewCallbackList[func()]()

	callbacks.Add(func() {})
	snapshot := callbacks.Get()
	assert.Equal(t, len(snapshot), 1)

	// a later add never changes a snapshot a notifier is iterating
	callbacks.Add(func() {})
	assert.Equal(t, len(snapshot), 1)
	assert.Equal(t, len(callbacks.Get()), 2)
}

func TestHandleError(t *testing.T) {
	handled := false
	var handledErr error
	HandleError(
		func() {
			panic("fault")
		},
		func() {
			handled = true
		},
		func(err error) {
			handledErr = err
		},
	)
	assert.Equal(t, handled, true)
	assert.Equal(t, handledErr.Error(), "fault")

	// no panic, no handler calls
	handled = false
	HandleError(
		func() {},
		func() {
			handled = true
		},
	)
	assert.Equal(t, handled, false)
}
