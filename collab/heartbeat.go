package collab

import (
	"context"
	"sync"
	"time"

	"github.com/golang/glog"
)

type HeartbeatMonitorSettings struct {
	HeartbeatInterval      time.Duration
	WarningDelayTable      []time.Duration
	WarningMessage         string
	SevereMessage          string
	WarningEscalateTimeout time.Duration
	// an offline sample within this window of coming back online
	// continues the previous episode without resetting the backoff
	BackoffSettleTimeout time.Duration
}

func DefaultHeartbeatMonitorSettings() *HeartbeatMonitorSettings {
	heartbeatInterval := 5 * time.Second
	return &HeartbeatMonitorSettings{
		HeartbeatInterval:      heartbeatInterval,
		WarningDelayTable:      DefaultWarningDelayTable(),
		WarningMessage:         "You appear to be offline. Changes are saved locally and will sync when the connection recovers.",
		SevereMessage:          "Still offline. Edits from other people will not appear until the connection recovers.",
		WarningEscalateTimeout: 60 * time.Second,
		BackoffSettleTimeout:   2 * heartbeatInterval,
	}
}

type LivenessFunction = func() bool

// polls a liveness signal at a fixed interval and drives the warning latch.
// identical consecutive samples are no-ops.
// on online->offline the next backoff delay arms a one-shot timer
// that latches the warning unless an online sample arrives first
type HeartbeatMonitor struct {
	ctx    context.Context
	cancel context.CancelFunc

	documentId Id
	liveness   LivenessFunction
	latch      *WarningLatch
	telemetry  *TelemetrySink

	settings *HeartbeatMonitorSettings

	stateLock        sync.Mutex
	backoff          *WarningBackoff
	closed           bool
	haveSample       bool
	online           bool
	offlineStartTime time.Time
	// guards timers armed for a previous episode
	episodeId     int
	warningTimer  *time.Timer
	escalateTimer *time.Timer
	settleTimer   *time.Timer
}

func NewHeartbeatMonitorWithDefaults(
	ctx context.Context,
	documentId Id,
	liveness LivenessFunction,
	latch *WarningLatch,
	telemetry *TelemetrySink,
) *HeartbeatMonitor {
	return NewHeartbeatMonitor(ctx, documentId, liveness, latch, telemetry, DefaultHeartbeatMonitorSettings())
}

func NewHeartbeatMonitor(
	ctx context.Context,
	documentId Id,
	liveness LivenessFunction,
	latch *WarningLatch,
	telemetry *TelemetrySink,
	settings *HeartbeatMonitorSettings,
) *HeartbeatMonitor {
	cancelCtx, cancel := context.WithCancel(ctx)
	heartbeat := &HeartbeatMonitor{
		ctx:        cancelCtx,
		cancel:     cancel,
		documentId: documentId,
		liveness:   liveness,
		latch:      latch,
		backoff:    NewWarningBackoff(settings.WarningDelayTable),
		telemetry:  telemetry,
		settings:   settings,
	}
	go heartbeat.run()
	return heartbeat
}

func (self *HeartbeatMonitor) run() {
	defer self.cancel()

	ticker := time.NewTicker(self.settings.HeartbeatInterval)
	defer ticker.Stop()

	for {
		select {
		case <-self.ctx.Done():
			return
		case <-ticker.C:
			self.Sample()
		}
	}
}

// compares one liveness sample to the last known value
func (self *HeartbeatMonitor) Sample() {
	online := self.liveness()

	transitioned := false
	wasLatched := false
	func() {
		self.stateLock.Lock()
		defer self.stateLock.Unlock()

		if self.closed {
			return
		}
		if self.haveSample && online == self.online {
			return
		}
		self.haveSample = true
		self.online = online
		self.episodeId += 1
		transitioned = true

		if online {
			self.offlineStartTime = time.Time{}
			self.stopWarningTimers()
			settleEpisodeId := self.episodeId
			self.settleTimer = time.AfterFunc(self.settings.BackoffSettleTimeout, func() {
				self.settleFired(settleEpisodeId)
			})
			wasLatched = self.latch.State().Latched
		} else {
			self.offlineStartTime = time.Now()
			// an offline sample inside the settle window continues the previous episode
			if self.settleTimer != nil {
				self.settleTimer.Stop()
				self.settleTimer = nil
			}
			delay := self.backoff.NextDelay()
			episodeId := self.episodeId
			self.warningTimer = time.AfterFunc(delay, func() {
				self.warningFired(episodeId)
			})
		}
	}()

	if !transitioned {
		return
	}

	glog.V(2).Infof("[hb]%s online=%t\n", self.documentId, online)
	self.telemetry.event(self.documentId, TelemetryEventHeartbeatTransition, &HeartbeatTransitionPayload{
		Online: online,
	})
	if online && wasLatched {
		self.latch.Clear()
		self.telemetry.event(self.documentId, TelemetryEventWarningCleared, nil)
	}
}

// must be called with `stateLock`
func (self *HeartbeatMonitor) stopWarningTimers() {
	if self.warningTimer != nil {
		self.warningTimer.Stop()
		self.warningTimer = nil
	}
	if self.escalateTimer != nil {
		self.escalateTimer.Stop()
		self.escalateTimer = nil
	}
}

func (self *HeartbeatMonitor) warningFired(episodeId int) {
	fired := false
	func() {
		self.stateLock.Lock()
		defer self.stateLock.Unlock()

		if self.closed || episodeId != self.episodeId || self.online {
			// an online sample won the race
			return
		}
		fired = true
		self.warningTimer = nil
		// a single escalation of the same latch if the episode persists
		self.escalateTimer = time.AfterFunc(self.settings.WarningEscalateTimeout, func() {
			self.escalateFired(episodeId)
		})
	}()

	if fired {
		self.latchWarning(episodeId, self.settings.WarningMessage, WarningLevelNotice)
	}
}

func (self *HeartbeatMonitor) escalateFired(episodeId int) {
	fired := false
	func() {
		self.stateLock.Lock()
		defer self.stateLock.Unlock()

		if self.closed || episodeId != self.episodeId || self.online {
			return
		}
		fired = true
		self.escalateTimer = nil
	}()

	if fired {
		self.latchWarning(episodeId, self.settings.SevereMessage, WarningLevelSevere)
	}
}

// sets the latch outside `stateLock`, then confirms the episode is still current.
// an online sample can land between the timer guard and the latch,
// in which case its clear ran against an unset latch. undo here
func (self *HeartbeatMonitor) latchWarning(episodeId int, message string, level WarningLevel) {
	self.latch.Latch(message, level)
	self.telemetry.event(self.documentId, TelemetryEventWarningLatched, &WarningPayload{
		Message: message,
		Level:   level,
	})

	stale := false
	func() {
		self.stateLock.Lock()
		defer self.stateLock.Unlock()
		stale = self.closed || episodeId != self.episodeId || self.online
	}()
	if stale {
		self.latch.Clear()
		self.telemetry.event(self.documentId, TelemetryEventWarningCleared, nil)
	}
}

func (self *HeartbeatMonitor) settleFired(episodeId int) {
	self.stateLock.Lock()
	defer self.stateLock.Unlock()

	if self.closed || episodeId != self.episodeId {
		return
	}

	// the connection stayed online for the full settle window, genuine recovery
	self.backoff.Reset()
	self.settleTimer = nil
}

func (self *HeartbeatMonitor) AttemptIndex() int {
	self.stateLock.Lock()
	defer self.stateLock.Unlock()
	return self.backoff.AttemptIndex()
}

func (self *HeartbeatMonitor) OfflineStartTime() (time.Time, bool) {
	self.stateLock.Lock()
	defer self.stateLock.Unlock()
	return self.offlineStartTime, !self.offlineStartTime.IsZero()
}

// no timer fires into the latch after close
func (self *HeartbeatMonitor) Close() {
	self.cancel()

	self.stateLock.Lock()
	defer self.stateLock.Unlock()

	self.closed = true
	self.episodeId += 1
	self.stopWarningTimers()
	if self.settleTimer != nil {
		self.settleTimer.Stop()
		self.settleTimer = nil
	}
}
