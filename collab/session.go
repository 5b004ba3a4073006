package collab

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/golang/glog"
)

// the replicated document handle is opaque to this subsystem.
// convergence of document content is delegated entirely to the
// external replicated-document collaborator
type ReplicatedDoc interface {
	// applies a remote update received on the channel
	ApplyRemote(payload []byte)
	Close()
}

type ReplicatedDocFactory = func(documentId Id) (ReplicatedDoc, error)

type SessionControllerSettings struct {
	ChannelSettings   *RealtimeChannelSettings
	HeartbeatSettings *HeartbeatMonitorSettings
	PresenceTimeout   time.Duration
}

func DefaultSessionControllerSettings() *SessionControllerSettings {
	return &SessionControllerSettings{
		ChannelSettings:   DefaultRealtimeChannelSettings(),
		HeartbeatSettings: DefaultHeartbeatMonitorSettings(),
		PresenceTimeout:   30 * time.Second,
	}
}

// one live session per controller. replaced wholesale, never mutated in place
type Session struct {
	DocumentId Id

	doc       ReplicatedDoc
	channel   *RealtimeChannel
	tracker   *ConnectionStatusTracker
	heartbeat *HeartbeatMonitor
	latch     *WarningLatch
	presence  *PresenceSet
	blocks    *BlockRegistry

	// disposers for every listener registration, invoked before teardown
	removeCallbacks []func()
}

func (self *Session) Doc() ReplicatedDoc {
	return self.doc
}

func (self *Session) Blocks() *BlockRegistry {
	return self.blocks
}

func (self *Session) Latch() *WarningLatch {
	return self.latch
}

func (self *Session) Tracker() *ConnectionStatusTracker {
	return self.tracker
}

func (self *Session) Presence() *PresenceSet {
	return self.presence
}

func (self *Session) SendSync(payload []byte) error {
	return self.channel.SendSync(payload)
}

// immutable state read by the ui
type SessionState struct {
	Status         ConnectionStatus
	WarningMessage string
	ActiveUsers    []*ActiveUser
}

// top-level owner of the {replicated-doc, realtime-channel} pair.
// open and close are serialized on `opLock`:
// an open for a new document id while a previous session is mid-teardown
// waits for teardown completion, so there are never two live sessions
type SessionController struct {
	ctx    context.Context
	cancel context.CancelFunc

	url        string
	docFactory ReplicatedDocFactory
	telemetry  *TelemetrySink

	settings *SessionControllerSettings

	opLock  sync.Mutex
	session *Session
}

func NewSessionControllerWithDefaults(
	ctx context.Context,
	url string,
	docFactory ReplicatedDocFactory,
) *SessionController {
	return NewSessionController(ctx, url, docFactory, DefaultSessionControllerSettings())
}

func NewSessionController(
	ctx context.Context,
	url string,
	docFactory ReplicatedDocFactory,
	settings *SessionControllerSettings,
) *SessionController {
	cancelCtx, cancel := context.WithCancel(ctx)
	return &SessionController{
		ctx:        cancelCtx,
		cancel:     cancel,
		url:        url,
		docFactory: docFactory,
		telemetry:  NewTelemetrySink(),
		settings:   settings,
	}
}

func (self *SessionController) Telemetry() *TelemetrySink {
	return self.telemetry
}

// constructs one session for the document.
// a previous session is fully torn down before the new one is constructed.
// a channel construction failure retains no partial session and is not fatal:
// the editor continues in local-only mode with status Disconnected
func (self *SessionController) Open(documentId Id, auth *ChannelAuth) (*Session, error) {
	self.opLock.Lock()
	defer self.opLock.Unlock()

	if self.session != nil {
		self.closeSession(self.session)
		self.session = nil
	}

	select {
	case <-self.ctx.Done():
		return nil, fmt.Errorf("Controller closed.")
	default:
	}

	tracker := NewConnectionStatusTracker(documentId, self.telemetry)
	latch := NewWarningLatch()
	presence := NewPresenceSet(documentId, self.settings.PresenceTimeout)
	blocks := NewBlockRegistry()

	doc, err := self.docFactory(documentId)
	if err != nil {
		tracker.Update(ConnectionStatusDisconnected)
		return nil, err
	}

	channel, err := NewRealtimeChannel(
		self.ctx,
		self.url,
		ChannelName(documentId),
		auth,
		tracker.Update,
		doc.ApplyRemote,
		presence.Update,
		self.settings.ChannelSettings,
	)
	if err != nil {
		doc.Close()
		glog.Infof("[s]%s open error = %s\n", documentId, err)
		return nil, err
	}

	heartbeat := NewHeartbeatMonitor(
		self.ctx,
		documentId,
		channel.Liveness,
		latch,
		self.telemetry,
		self.settings.HeartbeatSettings,
	)

	session := &Session{
		DocumentId: documentId,
		doc:        doc,
		channel:    channel,
		tracker:    tracker,
		heartbeat:  heartbeat,
		latch:      latch,
		presence:   presence,
		blocks:     blocks,
	}
	self.session = session

	self.telemetry.event(documentId, TelemetryEventSessionOpened, nil)
	glog.V(2).Infof("[s]%s open\n", documentId)

	return session, nil
}

// adds a ui status listener scoped to the current session.
// the disposer is unwound automatically on teardown
func (self *SessionController) AddStatusCallback(statusCallback StatusFunction) func() {
	self.opLock.Lock()
	defer self.opLock.Unlock()

	if self.session == nil {
		return func() {}
	}
	remove := self.session.tracker.AddStatusCallback(statusCallback)
	self.session.removeCallbacks = append(self.session.removeCallbacks, remove)
	return remove
}

func (self *SessionController) AddWarningCallback(warningCallback WarningFunction) func() {
	self.opLock.Lock()
	defer self.opLock.Unlock()

	if self.session == nil {
		return func() {}
	}
	remove := self.session.latch.AddWarningCallback(warningCallback)
	self.session.removeCallbacks = append(self.session.removeCallbacks, remove)
	return remove
}

func (self *SessionController) AddPresenceCallback(presenceCallback PresenceFunction) func() {
	self.opLock.Lock()
	defer self.opLock.Unlock()

	if self.session == nil {
		return func() {}
	}
	remove := self.session.presence.AddPresenceCallback(presenceCallback)
	self.session.removeCallbacks = append(self.session.removeCallbacks, remove)
	return remove
}

func (self *SessionController) Session() *Session {
	self.opLock.Lock()
	defer self.opLock.Unlock()
	return self.session
}

func (self *SessionController) State() SessionState {
	self.opLock.Lock()
	session := self.session
	self.opLock.Unlock()

	if session == nil {
		return SessionState{
			Status: ConnectionStatusDisconnected,
		}
	}
	warningMessage, _ := session.latch.Message()
	return SessionState{
		Status:         session.tracker.Status(),
		WarningMessage: warningMessage,
		ActiveUsers:    session.presence.ActiveUsers(),
	}
}

func (self *SessionController) Close(session *Session) {
	self.opLock.Lock()
	defer self.opLock.Unlock()

	if self.session != session || session == nil {
		return
	}
	self.closeSession(session)
	self.session = nil
}

// must be called with `opLock`.
// listeners are unregistered before the channel and doc are disposed,
// so no callback fires into disposed state
func (self *SessionController) closeSession(session *Session) {
	for _, removeCallback := range session.removeCallbacks {
		removeCallback()
	}
	session.removeCallbacks = nil

	session.heartbeat.Close()
	session.channel.Close()
	<-session.channel.Done()
	session.doc.Close()
	session.blocks.Clear()
	session.presence.Clear()

	self.telemetry.event(session.DocumentId, TelemetryEventSessionClosed, nil)
	glog.V(2).Infof("[s]%s close\n", session.DocumentId)
}

// tears down any live session and stops the controller
func (self *SessionController) Shutdown() {
	self.cancel()

	self.opLock.Lock()
	defer self.opLock.Unlock()

	if self.session != nil {
		self.closeSession(self.session)
		self.session = nil
	}
}
