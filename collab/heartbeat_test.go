package collab

import (
	"context"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/go-playground/assert/v2"
)

// samples are driven manually in tests, so the ticker never fires
func testHeartbeatSettings() *HeartbeatMonitorSettings {
	settings := DefaultHeartbeatMonitorSettings()
	settings.HeartbeatInterval = 1 * time.Hour
	settings.WarningDelayTable = []time.Duration{
		100 * time.Millisecond,
		300 * time.Millisecond,
	}
	settings.WarningEscalateTimeout = 200 * time.Millisecond
	settings.BackoffSettleTimeout = 150 * time.Millisecond
	return settings
}

func newTestHeartbeat(settings *HeartbeatMonitorSettings) (*HeartbeatMonitor, *atomic.Bool, *WarningLatch, *TelemetrySink) {
	online := &atomic.Bool{}
	online.Store(true)
	latch := NewWarningLatch()
	telemetry := NewTelemetrySink()
	heartbeat := NewHeartbeatMonitor(
		context.Background(),
		NewId(),
		online.Load,
		latch,
		telemetry,
		settings,
	)
	return heartbeat, online, latch, telemetry
}

func TestHeartbeatWarningLatchesAndEscalates(t *testing.T) {
	heartbeat, online, latch, _ := newTestHeartbeat(testHeartbeatSettings())
	defer heartbeat.Close()

	online.Store(false)
	heartbeat.Sample()

	// the latch fires only after the first backoff delay
	assert.Equal(t, latch.State().Latched, false)
	time.Sleep(150 * time.Millisecond)
	state := latch.State()
	assert.Equal(t, state.Latched, true)
	assert.Equal(t, state.Level, WarningLevelNotice)
	assert.Equal(t, strings.Contains(state.Message, "offline"), true)

	// a persisting episode escalates the same latch in place, once
	time.Sleep(250 * time.Millisecond)
	state = latch.State()
	assert.Equal(t, state.Latched, true)
	assert.Equal(t, state.Level, WarningLevelSevere)
}

func TestHeartbeatOnlineBeforeDelayNeverLatches(t *testing.T) {
	heartbeat, online, latch, _ := newTestHeartbeat(testHeartbeatSettings())
	defer heartbeat.Close()

	online.Store(false)
	heartbeat.Sample()
	assert.Equal(t, heartbeat.AttemptIndex(), 1)

	time.Sleep(30 * time.Millisecond)
	online.Store(true)
	heartbeat.Sample()

	time.Sleep(250 * time.Millisecond)
	assert.Equal(t, latch.State().Latched, false)

	// reset happens after the settle window, returning the sequence to its start
	assert.Equal(t, heartbeat.AttemptIndex(), 0)
}

func TestHeartbeatBlipDoesNotResetBackoff(t *testing.T) {
	heartbeat, online, latch, _ := newTestHeartbeat(testHeartbeatSettings())
	defer heartbeat.Close()

	online.Store(false)
	heartbeat.Sample()
	assert.Equal(t, heartbeat.AttemptIndex(), 1)

	// brief online blip, well inside the settle window
	online.Store(true)
	heartbeat.Sample()
	time.Sleep(20 * time.Millisecond)
	online.Store(false)
	heartbeat.Sample()

	// the episode continues: second delay from the table, no reset
	assert.Equal(t, heartbeat.AttemptIndex(), 2)

	// the second delay is 300ms, so nothing latches at 150ms
	time.Sleep(150 * time.Millisecond)
	assert.Equal(t, latch.State().Latched, false)
	time.Sleep(250 * time.Millisecond)
	assert.Equal(t, latch.State().Latched, true)
}

func TestHeartbeatOnlineClearsLatch(t *testing.T) {
	heartbeat, online, latch, telemetry := newTestHeartbeat(testHeartbeatSettings())
	defer heartbeat.Close()

	recorder, removeTelemetry := recordTelemetry(telemetry)
	defer removeTelemetry()

	online.Store(false)
	heartbeat.Sample()
	time.Sleep(150 * time.Millisecond)
	assert.Equal(t, latch.State().Latched, true)

	online.Store(true)
	heartbeat.Sample()
	assert.Equal(t, latch.State().Latched, false)

	assert.Equal(t, recorder.count(TelemetryEventWarningLatched), 1)
	assert.Equal(t, recorder.count(TelemetryEventWarningCleared), 1)
}

func TestHeartbeatIdenticalSamplesAreNoOps(t *testing.T) {
	heartbeat, online, _, telemetry := newTestHeartbeat(testHeartbeatSettings())
	defer heartbeat.Close()

	recorder, removeTelemetry := recordTelemetry(telemetry)
	defer removeTelemetry()

	online.Store(false)
	heartbeat.Sample()
	heartbeat.Sample()
	heartbeat.Sample()

	assert.Equal(t, recorder.count(TelemetryEventHeartbeatTransition), 1)
	// a repeated offline sample must not consume another backoff delay
	assert.Equal(t, heartbeat.AttemptIndex(), 1)
}

func TestHeartbeatStaleWarningTimerNeverLatchesWhileOnline(t *testing.T) {
	heartbeat, online, latch, _ := newTestHeartbeat(testHeartbeatSettings())
	defer heartbeat.Close()

	online.Store(false)
	heartbeat.Sample()
	staleEpisodeId := func() int {
		heartbeat.stateLock.Lock()
		defer heartbeat.stateLock.Unlock()
		return heartbeat.episodeId
	}()

	online.Store(true)
	heartbeat.Sample()
	assert.Equal(t, latch.State().Latched, false)

	// a warning timer that passed its episode guard just before the online
	// sample landed must not leave the latch set while online
	heartbeat.latchWarning(staleEpisodeId, heartbeat.settings.WarningMessage, WarningLevelNotice)
	assert.Equal(t, latch.State().Latched, false)
}

func TestHeartbeatCloseCancelsTimers(t *testing.T) {
	heartbeat, online, latch, _ := newTestHeartbeat(testHeartbeatSettings())

	online.Store(false)
	heartbeat.Sample()
	heartbeat.Close()

	// no timer fires into the latch after close
	time.Sleep(200 * time.Millisecond)
	assert.Equal(t, latch.State().Latched, false)
}

func TestHeartbeatOfflineStartTime(t *testing.T) {
	heartbeat, online, _, _ := newTestHeartbeat(testHeartbeatSettings())
	defer heartbeat.Close()

	_, offline := heartbeat.OfflineStartTime()
	assert.Equal(t, offline, false)

	online.Store(false)
	heartbeat.Sample()
	startTime, offline := heartbeat.OfflineStartTime()
	assert.Equal(t, offline, true)
	assert.Equal(t, startTime.IsZero(), false)

	online.Store(true)
	heartbeat.Sample()
	_, offline = heartbeat.OfflineStartTime()
	assert.Equal(t, offline, false)
}
