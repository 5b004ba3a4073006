package collab

import (
	"sync"
)

// warning state machine is:
// Clear
//
//	-> Latched(Notice)
//	  -> Latched(Severe) (escalation in place)
//	  -> Clear (confirmed online only)
type WarningLevel string

const (
	WarningLevelNotice WarningLevel = "Notice"
	WarningLevelSevere WarningLevel = "Severe"
)

func (self WarningLevel) atLeast(level WarningLevel) bool {
	if self == WarningLevelSevere {
		return true
	}
	return level == WarningLevelNotice
}

type WarningState struct {
	Latched bool
	Message string
	Level   WarningLevel
}

type WarningFunction = func(state WarningState)

// set only by the heartbeat monitor's armed timer,
// cleared only by the heartbeat monitor confirming online.
// the ui reads it and never mutates it
type WarningLatch struct {
	stateLock sync.Mutex
	state     WarningState

	warningCallbacks *CallbackList[WarningFunction]
}

func NewWarningLatch() *WarningLatch {
	return &WarningLatch{
		warningCallbacks: NewCallbackList[WarningFunction](),
	}
}

func (self *WarningLatch) AddWarningCallback(warningCallback WarningFunction) func() {
	callbackId := self.warningCallbacks.Add(warningCallback)
	return func() {
		self.warningCallbacks.Remove(callbackId)
	}
}

// monotonic within one offline episode.
// latching at a level below the current one is ignored
func (self *WarningLatch) Latch(message string, level WarningLevel) {
	var state WarningState
	changed := false
	func() {
		self.stateLock.Lock()
		defer self.stateLock.Unlock()

		if self.state.Latched && self.state.Level.atLeast(level) && self.state.Message == message {
			return
		}
		if self.state.Latched && !level.atLeast(self.state.Level) {
			// would lower the level
			return
		}

		self.state = WarningState{
			Latched: true,
			Message: message,
			Level:   level,
		}
		state = self.state
		changed = true
	}()

	if changed {
		self.notify(state)
	}
}

func (self *WarningLatch) Clear() {
	var state WarningState
	changed := false
	func() {
		self.stateLock.Lock()
		defer self.stateLock.Unlock()

		if !self.state.Latched {
			return
		}
		self.state = WarningState{}
		state = self.state
		changed = true
	}()

	if changed {
		self.notify(state)
	}
}

func (self *WarningLatch) notify(state WarningState) {
	for _, callback := range self.warningCallbacks.Get() {
		HandleError(func() {
			callback(state)
		})
	}
}

func (self *WarningLatch) State() WarningState {
	self.stateLock.Lock()
	defer self.stateLock.Unlock()
	return self.state
}

func (self *WarningLatch) Message() (string, bool) {
	self.stateLock.Lock()
	defer self.stateLock.Unlock()
	return self.state.Message, self.state.Latched
}
