package collab

import (
	"sync"
	"time"

	"github.com/golang/glog"

	"golang.org/x/exp/slices"
)

const (
	PresenceActionJoin  = "join"
	PresenceActionLeave = "leave"
	PresenceActionHere  = "here"
)

type PresenceFrame struct {
	UserId   Id     `json:"user_id"`
	UserName string `json:"user_name"`
	Action   string `json:"action"`
}

type ActiveUser struct {
	UserId       Id        `json:"user_id"`
	UserName     string    `json:"user_name"`
	LastSeenTime time.Time `json:"last_seen_time"`
}

type PresenceFunction = func(activeUsers []*ActiveUser)

// ephemeral user state for one session, separate from document content
type PresenceSet struct {
	documentId      Id
	presenceTimeout time.Duration

	// test hook
	now func() time.Time

	stateLock sync.Mutex
	users     map[Id]*ActiveUser

	presenceCallbacks *CallbackList[PresenceFunction]
}

func NewPresenceSet(documentId Id, presenceTimeout time.Duration) *PresenceSet {
	return &PresenceSet{
		documentId:        documentId,
		presenceTimeout:   presenceTimeout,
		now:               time.Now,
		users:             map[Id]*ActiveUser{},
		presenceCallbacks: NewCallbackList[PresenceFunction](),
	}
}

func (self *PresenceSet) AddPresenceCallback(presenceCallback PresenceFunction) func() {
	callbackId := self.presenceCallbacks.Add(presenceCallback)
	return func() {
		self.presenceCallbacks.Remove(callbackId)
	}
}

func (self *PresenceSet) Update(frame *PresenceFrame) {
	glog.V(2).Infof("[s]%s presence %s %s\n", self.documentId, frame.Action, frame.UserId)

	var activeUsers []*ActiveUser
	func() {
		self.stateLock.Lock()
		defer self.stateLock.Unlock()

		switch frame.Action {
		case PresenceActionLeave:
			delete(self.users, frame.UserId)
		default:
			self.users[frame.UserId] = &ActiveUser{
				UserId:       frame.UserId,
				UserName:     frame.UserName,
				LastSeenTime: self.now(),
			}
		}

		activeUsers = self.activeUsers()
	}()

	for _, callback := range self.presenceCallbacks.Get() {
		HandleError(func() {
			callback(activeUsers)
		})
	}
}

// must be called with `stateLock`
func (self *PresenceSet) activeUsers() []*ActiveUser {
	staleTime := self.now().Add(-self.presenceTimeout)
	activeUsers := []*ActiveUser{}
	for userId, user := range self.users {
		if user.LastSeenTime.Before(staleTime) {
			delete(self.users, userId)
			continue
		}
		userCopy := *user
		activeUsers = append(activeUsers, &userCopy)
	}
	slices.SortFunc(activeUsers, func(a *ActiveUser, b *ActiveUser) int {
		if a.UserName != b.UserName {
			if a.UserName < b.UserName {
				return -1
			}
			return 1
		}
		if a.UserId.LessThan(b.UserId) {
			return -1
		}
		if b.UserId.LessThan(a.UserId) {
			return 1
		}
		return 0
	})
	return activeUsers
}

func (self *PresenceSet) ActiveUsers() []*ActiveUser {
	self.stateLock.Lock()
	defer self.stateLock.Unlock()
	return self.activeUsers()
}

func (self *PresenceSet) Clear() {
	self.stateLock.Lock()
	defer self.stateLock.Unlock()
	self.users = map[Id]*ActiveUser{}
}
