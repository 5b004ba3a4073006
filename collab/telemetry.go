package collab

import (
	"time"

	"github.com/golang/glog"
)

// discrete events surfaced to the telemetry collaborator

type TelemetryEventType string

const (
	TelemetryEventStatusChanged       TelemetryEventType = "status-changed"
	TelemetryEventHandshakeMeasured   TelemetryEventType = "handshake-measured"
	TelemetryEventHeartbeatTransition TelemetryEventType = "heartbeat-transition"
	TelemetryEventWarningLatched      TelemetryEventType = "warning-latched"
	TelemetryEventWarningCleared      TelemetryEventType = "warning-cleared"
	TelemetryEventSessionOpened       TelemetryEventType = "session-opened"
	TelemetryEventSessionClosed       TelemetryEventType = "session-closed"
)

type TelemetryEvent struct {
	DocumentId Id                 `json:"document_id"`
	EventTime  time.Time          `json:"event_time"`
	Type       TelemetryEventType `json:"type"`
	Payload    any                `json:"payload,omitempty"`
}

type StatusChangedPayload struct {
	PreviousStatus ConnectionStatus `json:"previous_status"`
	Status         ConnectionStatus `json:"status"`
}

type HandshakeMeasuredPayload struct {
	HandshakeMillis int64 `json:"handshake_millis"`
}

type HeartbeatTransitionPayload struct {
	Online bool `json:"online"`
}

type WarningPayload struct {
	Message string       `json:"message"`
	Level   WarningLevel `json:"level"`
}

type TelemetryFunction = func(event *TelemetryEvent)

type TelemetrySink struct {
	telemetryCallbacks *CallbackList[TelemetryFunction]
}

func NewTelemetrySink() *TelemetrySink {
	return &TelemetrySink{
		telemetryCallbacks: NewCallbackList[TelemetryFunction](),
	}
}

func (self *TelemetrySink) AddTelemetryCallback(telemetryCallback TelemetryFunction) func() {
	callbackId := self.telemetryCallbacks.Add(telemetryCallback)
	return func() {
		self.telemetryCallbacks.Remove(callbackId)
	}
}

func (self *TelemetrySink) event(documentId Id, eventType TelemetryEventType, payload any) {
	event := &TelemetryEvent{
		DocumentId: documentId,
		EventTime:  time.Now(),
		Type:       eventType,
		Payload:    payload,
	}

	callbacks := self.telemetryCallbacks.Get()
	if len(callbacks) == 0 {
		glog.V(2).Infof("[tm]drop %s %s\n", documentId, eventType)
		return
	}
	for _, callback := range callbacks {
		HandleError(func() {
			callback(event)
		})
	}
}
