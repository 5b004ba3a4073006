package collab

import (
	"fmt"
	"time"
)

func DefaultWarningDelayTable() []time.Duration {
	return []time.Duration{
		8 * time.Second,
		20 * time.Second,
		40 * time.Second,
		60 * time.Second,
	}
}

// pure delay-sequence calculator for the offline warning.
// a short first delay keeps transient blips invisible,
// the clamp at the last entry keeps sustained outages from spamming escalations.
// owned by the heartbeat monitor goroutine, so no lock
type WarningBackoff struct {
	delayTable   []time.Duration
	attemptIndex int
}

func NewWarningBackoffWithDefaults() *WarningBackoff {
	return NewWarningBackoff(DefaultWarningDelayTable())
}

func NewWarningBackoff(delayTable []time.Duration) *WarningBackoff {
	if len(delayTable) == 0 {
		panic(fmt.Errorf("Delay table must be non-empty."))
	}
	return &WarningBackoff{
		delayTable:   delayTable,
		attemptIndex: 0,
	}
}

func (self *WarningBackoff) NextDelay() time.Duration {
	i := self.attemptIndex
	if len(self.delayTable)-1 < i {
		i = len(self.delayTable) - 1
	}
	self.attemptIndex += 1
	return self.delayTable[i]
}

// only an explicit reset returns the sequence to its first value
func (self *WarningBackoff) Reset() {
	self.attemptIndex = 0
}

func (self *WarningBackoff) AttemptIndex() int {
	return self.attemptIndex
}
