package collab

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/golang/glog"
	"github.com/gorilla/websocket"
)

const ChannelSendBufferSize = 32

type RealtimeChannelSettings struct {
	WsHandshakeTimeout time.Duration
	JoinTimeout        time.Duration
	ReconnectTimeout   time.Duration
	PingTimeout        time.Duration
	WriteTimeout       time.Duration
	ReadTimeout        time.Duration
	LivenessTimeout    time.Duration
}

func DefaultRealtimeChannelSettings() *RealtimeChannelSettings {
	pingTimeout := 1 * time.Second
	return &RealtimeChannelSettings{
		WsHandshakeTimeout: 2 * time.Second,
		JoinTimeout:        2 * time.Second,
		ReconnectTimeout:   5 * time.Second,
		PingTimeout:        pingTimeout,
		WriteTimeout:       5 * time.Second,
		ReadTimeout:        15 * time.Second,
		LivenessTimeout:    15 * time.Second,
	}
}

type ChannelAuth struct {
	ByJwt      string
	AppVersion string
}

const (
	frameTypeJoin     = "join"
	frameTypeJoined   = "joined"
	frameTypeSync     = "sync"
	frameTypePresence = "presence"
)

type channelFrame struct {
	Type        string         `json:"type"`
	ChannelName string         `json:"channel_name,omitempty"`
	ByJwt       string         `json:"by_jwt,omitempty"`
	AppVersion  string         `json:"app_version,omitempty"`
	Presence    *PresenceFrame `json:"presence,omitempty"`
	Payload     []byte         `json:"payload,omitempty"`
}

type ChannelStatusFunction = func(status ConnectionStatus)
type SyncFunction = func(payload []byte)
type PresenceReceiveFunction = func(frame *PresenceFrame)

type Reconnect struct {
	timeout   time.Duration
	startTime time.Time
}

func NewReconnect(timeout time.Duration) *Reconnect {
	return &Reconnect{
		timeout:   timeout,
		startTime: time.Now(),
	}
}

func (self *Reconnect) After() <-chan time.Time {
	remaining := self.timeout - time.Now().Sub(self.startTime)
	return time.After(remaining)
}

// one realtime channel per open document.
// the initial dial and join happen in the constructor so a construction failure
// surfaces as an error and leaves nothing behind.
// after the first successful join the channel reconnects on its own;
// status transitions are deduplicated downstream by the status tracker
type RealtimeChannel struct {
	ctx    context.Context
	cancel context.CancelFunc

	url         string
	channelName string
	auth        *ChannelAuth
	claims      *WorkspaceJwt

	statusCallback   ChannelStatusFunction
	syncCallback     SyncFunction
	presenceCallback PresenceReceiveFunction

	settings *RealtimeChannelSettings

	send chan []byte
	done chan struct{}

	stateLock       sync.Mutex
	ws              *websocket.Conn
	lastReceiveTime time.Time
}

func NewRealtimeChannelWithDefaults(
	ctx context.Context,
	url string,
	channelName string,
	auth *ChannelAuth,
	statusCallback ChannelStatusFunction,
	syncCallback SyncFunction,
	presenceCallback PresenceReceiveFunction,
) (*RealtimeChannel, error) {
	return NewRealtimeChannel(
		ctx,
		url,
		channelName,
		auth,
		statusCallback,
		syncCallback,
		presenceCallback,
		DefaultRealtimeChannelSettings(),
	)
}

func NewRealtimeChannel(
	ctx context.Context,
	url string,
	channelName string,
	auth *ChannelAuth,
	statusCallback ChannelStatusFunction,
	syncCallback SyncFunction,
	presenceCallback PresenceReceiveFunction,
	settings *RealtimeChannelSettings,
) (*RealtimeChannel, error) {
	cancelCtx, cancel := context.WithCancel(ctx)
	claims, _ := ParseWorkspaceJwtUnverified(auth.ByJwt)
	channel := &RealtimeChannel{
		ctx:              cancelCtx,
		cancel:           cancel,
		url:              url,
		channelName:      channelName,
		auth:             auth,
		claims:           claims,
		statusCallback:   statusCallback,
		syncCallback:     syncCallback,
		presenceCallback: presenceCallback,
		settings:         settings,
		send:             make(chan []byte, ChannelSendBufferSize),
		done:             make(chan struct{}),
	}

	channel.statusCallback(ConnectionStatusConnecting)
	ws, err := channel.connect()
	if err != nil {
		cancel()
		close(channel.done)
		channel.statusCallback(ConnectionStatusDisconnected)
		return nil, err
	}
	channel.statusCallback(ConnectionStatusConnected)

	go channel.run(ws)
	return channel, nil
}

func (self *RealtimeChannel) connect() (*websocket.Conn, error) {
	dialer := &websocket.Dialer{
		HandshakeTimeout: self.settings.WsHandshakeTimeout,
	}
	ws, _, err := dialer.DialContext(self.ctx, self.url, nil)
	if err != nil {
		return nil, err
	}

	success := false
	defer func() {
		if !success {
			ws.Close()
		}
	}()

	joinBytes, err := json.Marshal(&channelFrame{
		Type:        frameTypeJoin,
		ChannelName: self.channelName,
		ByJwt:       self.auth.ByJwt,
		AppVersion:  self.auth.AppVersion,
	})
	if err != nil {
		return nil, err
	}

	ws.SetWriteDeadline(time.Now().Add(self.settings.JoinTimeout))
	if err := ws.WriteMessage(websocket.BinaryMessage, joinBytes); err != nil {
		return nil, err
	}
	ws.SetReadDeadline(time.Now().Add(self.settings.JoinTimeout))
	if _, message, err := ws.ReadMessage(); err != nil {
		return nil, err
	} else {
		// verify the join echo
		var frame channelFrame
		if err := json.Unmarshal(message, &frame); err != nil {
			return nil, err
		}
		if frame.Type != frameTypeJoined || frame.ChannelName != self.channelName {
			return nil, fmt.Errorf("Join response error.")
		}
	}

	success = true

	func() {
		self.stateLock.Lock()
		defer self.stateLock.Unlock()
		self.ws = ws
		self.lastReceiveTime = time.Now()
	}()

	// announce ourselves on every successful join so presence survives reconnects
	if self.claims != nil {
		self.SendPresence(PresenceActionJoin)
	}

	return ws, nil
}

func (self *RealtimeChannel) run(ws *websocket.Conn) {
	defer func() {
		self.cancel()
		close(self.done)
	}()

	for {
		self.pump(ws)

		func() {
			self.stateLock.Lock()
			defer self.stateLock.Unlock()
			self.ws = nil
		}()
		self.statusCallback(ConnectionStatusDisconnected)

		select {
		case <-self.ctx.Done():
			return
		default:
		}

		reconnect := NewReconnect(self.settings.ReconnectTimeout)
		for {
			select {
			case <-self.ctx.Done():
				return
			case <-reconnect.After():
			}

			self.statusCallback(ConnectionStatusConnecting)
			nextWs, err := self.connect()
			if err != nil {
				glog.Infof("[ch]%s reconnect error = %s\n", self.channelName, err)
				self.statusCallback(ConnectionStatusDisconnected)
				reconnect = NewReconnect(self.settings.ReconnectTimeout)
				continue
			}
			self.statusCallback(ConnectionStatusConnected)
			ws = nextWs
			break
		}
	}
}

func (self *RealtimeChannel) pump(ws *websocket.Conn) {
	defer ws.Close()

	handleCtx, handleCancel := context.WithCancel(self.ctx)
	defer handleCancel()

	go func() {
		defer handleCancel()

		for {
			select {
			case <-handleCtx.Done():
				return
			case message, ok := <-self.send:
				if !ok {
					return
				}

				ws.SetWriteDeadline(time.Now().Add(self.settings.WriteTimeout))
				if err := ws.WriteMessage(websocket.BinaryMessage, message); err != nil {
					// a websocket deadline timeout cannot be recovered
					glog.Infof("[ch]%s-> error = %s\n", self.channelName, err)
					return
				}
				glog.V(2).Infof("[ch]%s->\n", self.channelName)
			case <-time.After(self.settings.PingTimeout):
				ws.SetWriteDeadline(time.Now().Add(self.settings.WriteTimeout))
				if err := ws.WriteMessage(websocket.BinaryMessage, make([]byte, 0)); err != nil {
					return
				}
			}
		}
	}()

	for {
		select {
		case <-handleCtx.Done():
			return
		default:
		}

		ws.SetReadDeadline(time.Now().Add(self.settings.ReadTimeout))
		_, message, err := ws.ReadMessage()
		if err != nil {
			glog.Infof("[ch]%s<- error = %s\n", self.channelName, err)
			return
		}

		self.markReceive()

		if 0 == len(message) {
			// ping
			glog.V(2).Infof("[ch]ping %s<-\n", self.channelName)
			continue
		}

		var frame channelFrame
		if err := json.Unmarshal(message, &frame); err != nil {
			glog.Infof("[ch]%s<- frame error = %s\n", self.channelName, err)
			continue
		}

		switch frame.Type {
		case frameTypeSync:
			if self.syncCallback != nil {
				payload := frame.Payload
				HandleError(func() {
					self.syncCallback(payload)
				})
			}
		case frameTypePresence:
			if self.presenceCallback != nil && frame.Presence != nil {
				presence := frame.Presence
				HandleError(func() {
					self.presenceCallback(presence)
				})
			}
		default:
			glog.V(2).Infof("[ch]other=%s %s<-\n", frame.Type, self.channelName)
		}
	}
}

func (self *RealtimeChannel) markReceive() {
	self.stateLock.Lock()
	defer self.stateLock.Unlock()
	self.lastReceiveTime = time.Now()
}

// true when the channel is present and actively exchanging sync traffic
func (self *RealtimeChannel) Liveness() bool {
	self.stateLock.Lock()
	defer self.stateLock.Unlock()

	if self.ws == nil {
		return false
	}
	return time.Now().Sub(self.lastReceiveTime) <= self.settings.LivenessTimeout
}

func (self *RealtimeChannel) SendSync(payload []byte) error {
	return self.sendFrame(&channelFrame{
		Type:    frameTypeSync,
		Payload: payload,
	})
}

func (self *RealtimeChannel) SendPresence(action string) error {
	if self.claims == nil {
		return fmt.Errorf("Channel auth has no workspace claims.")
	}
	return self.sendFrame(&channelFrame{
		Type: frameTypePresence,
		Presence: &PresenceFrame{
			UserId:   self.claims.UserId,
			UserName: self.claims.UserName,
			Action:   action,
		},
	})
}

func (self *RealtimeChannel) sendFrame(frame *channelFrame) error {
	frameBytes, err := json.Marshal(frame)
	if err != nil {
		return err
	}
	select {
	case <-self.ctx.Done():
		return fmt.Errorf("Channel closed.")
	case self.send <- frameBytes:
		return nil
	}
}

func (self *RealtimeChannel) Done() <-chan struct{} {
	return self.done
}

// idempotent. releases the socket even mid-handshake
func (self *RealtimeChannel) Close() {
	self.cancel()

	self.stateLock.Lock()
	ws := self.ws
	self.stateLock.Unlock()
	if ws != nil {
		// best effort leave
		if self.claims != nil {
			if leaveBytes, err := json.Marshal(&channelFrame{
				Type: frameTypePresence,
				Presence: &PresenceFrame{
					UserId:   self.claims.UserId,
					UserName: self.claims.UserName,
					Action:   PresenceActionLeave,
				},
			}); err == nil {
				ws.SetWriteDeadline(time.Now().Add(self.settings.WriteTimeout))
				ws.WriteMessage(websocket.BinaryMessage, leaveBytes)
			}
		}
		ws.Close()
	}
}
