package collab

import (
	"sync"
	"time"

	"github.com/golang/glog"
)

type ConnectionStatus string

const (
	ConnectionStatusDisconnected ConnectionStatus = "Disconnected"
	ConnectionStatusConnecting   ConnectionStatus = "Connecting"
	ConnectionStatusConnected    ConnectionStatus = "Connected"
)

type StatusFunction = func(previousStatus ConnectionStatus, status ConnectionStatus)

// maps raw channel status events onto the tri-state,
// one downstream emission per genuine transition, not per event.
// measures the handshake once per session:
// the timer starts at construction and stops the first time status reaches Connected
type ConnectionStatusTracker struct {
	documentId Id
	telemetry  *TelemetrySink

	// test hook
	now func() time.Time

	stateLock         sync.Mutex
	status            ConnectionStatus
	openTime          time.Time
	everConnected     bool
	handshakeMeasured bool

	statusCallbacks *CallbackList[StatusFunction]
}

func NewConnectionStatusTracker(documentId Id, telemetry *TelemetrySink) *ConnectionStatusTracker {
	now := time.Now
	return &ConnectionStatusTracker{
		documentId:      documentId,
		telemetry:       telemetry,
		now:             now,
		status:          ConnectionStatusDisconnected,
		openTime:        now(),
		statusCallbacks: NewCallbackList[StatusFunction](),
	}
}

func (self *ConnectionStatusTracker) AddStatusCallback(statusCallback StatusFunction) func() {
	callbackId := self.statusCallbacks.Add(statusCallback)
	return func() {
		self.statusCallbacks.Remove(callbackId)
	}
}

func (self *ConnectionStatusTracker) Status() ConnectionStatus {
	self.stateLock.Lock()
	defer self.stateLock.Unlock()
	return self.status
}

type statusTransition struct {
	previousStatus ConnectionStatus
	status         ConnectionStatus
	handshake      time.Duration
	measured       bool
}

func (self *ConnectionStatusTracker) Update(raw ConnectionStatus) {
	transitions := []statusTransition{}

	func() {
		self.stateLock.Lock()
		defer self.stateLock.Unlock()

		if raw == self.status {
			// repeated event, suppress
			return
		}

		if raw == ConnectionStatusConnected && self.status == ConnectionStatusDisconnected && !self.everConnected {
			// a fresh session reaches Connected only via Connecting
			transitions = append(transitions, statusTransition{
				previousStatus: self.status,
				status:         ConnectionStatusConnecting,
			})
			self.status = ConnectionStatusConnecting
		}

		transition := statusTransition{
			previousStatus: self.status,
			status:         raw,
		}
		if raw == ConnectionStatusConnected {
			self.everConnected = true
			if !self.handshakeMeasured {
				// one measurement per session even if status later flaps
				self.handshakeMeasured = true
				transition.handshake = self.now().Sub(self.openTime)
				transition.measured = true
			}
		}
		self.status = raw
		transitions = append(transitions, transition)
	}()

	for _, transition := range transitions {
		glog.V(2).Infof("[st]%s %s->%s\n", self.documentId, transition.previousStatus, transition.status)
		self.telemetry.event(self.documentId, TelemetryEventStatusChanged, &StatusChangedPayload{
			PreviousStatus: transition.previousStatus,
			Status:         transition.status,
		})
		if transition.measured {
			self.telemetry.event(self.documentId, TelemetryEventHandshakeMeasured, &HandshakeMeasuredPayload{
				HandshakeMillis: transition.handshake.Milliseconds(),
			})
		}
		for _, callback := range self.statusCallbacks.Get() {
			HandleError(func() {
				callback(transition.previousStatus, transition.status)
			})
		}
	}
}
