package collab

import (
	"testing"
	"time"

	"github.com/go-playground/assert/v2"
)

func init() {
	InitLogging(0)
}

func TestWarningBackoffSequence(t *testing.T) {
	backoff := NewWarningBackoff([]time.Duration{
		8 * time.Second,
		20 * time.Second,
	})

	// non-decreasing within one episode, clamps at the last entry
	assert.Equal(t, backoff.NextDelay(), 8*time.Second)
	assert.Equal(t, backoff.NextDelay(), 20*time.Second)
	assert.Equal(t, backoff.NextDelay(), 20*time.Second)
	assert.Equal(t, backoff.NextDelay(), 20*time.Second)
	assert.Equal(t, backoff.AttemptIndex(), 4)

	// returns to the first value immediately after reset
	backoff.Reset()
	assert.Equal(t, backoff.AttemptIndex(), 0)
	assert.Equal(t, backoff.NextDelay(), 8*time.Second)
}

func TestWarningBackoffDefaults(t *testing.T) {
	backoff := NewWarningBackoffWithDefaults()

	previousDelay := time.Duration(0)
	for i := 0; i < 16; i++ {
		delay := backoff.NextDelay()
		assert.Equal(t, previousDelay <= delay, true)
		previousDelay = delay
	}
	assert.Equal(t, previousDelay, 60*time.Second)
}
