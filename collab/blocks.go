package collab

import (
	"sync"
	"time"

	"github.com/golang/glog"

	"golang.org/x/exp/maps"
	"golang.org/x/exp/slices"
)

type BlockKind string

const (
	BlockKindTextBox   BlockKind = "textbox"
	BlockKindSignature BlockKind = "signature"
	BlockKindImage     BlockKind = "image"
)

type BlockPosition struct {
	X      float64 `json:"x"`
	Y      float64 `json:"y"`
	ZIndex int     `json:"z_index"`
}

type BlockSize struct {
	W float64 `json:"w"`
	H float64 `json:"h"`
}

// the persisted attribute record for a free-floating visual element.
// the document body references it by id only,
// so document content and block attributes evolve independently
type BlockDescriptor struct {
	Id         Id             `json:"id"`
	Kind       BlockKind      `json:"kind"`
	Position   BlockPosition  `json:"position"`
	Size       BlockSize      `json:"size"`
	Rotation   float64        `json:"rotation"`
	Data       map[string]any `json:"data,omitempty"`
	CreateTime time.Time      `json:"create_time"`
	UpdateTime time.Time      `json:"update_time"`
}

func (self *BlockDescriptor) clone() *BlockDescriptor {
	descriptor := *self
	descriptor.Data = maps.Clone(self.Data)
	return &descriptor
}

// a nil descriptor is the absent signal for a removed block
type BlockFunction = func(descriptor *BlockDescriptor)

type blockSubscriber struct {
	subscriberId int
	callback     BlockFunction
}

// keyed store plus fan-out for block attributes.
// mutations occur on a single logical thread,
// but callbacks may subscribe/unsubscribe re-entrantly during a notification
type BlockRegistry struct {
	// test hook
	now func() time.Time

	stateLock        sync.Mutex
	descriptors      map[Id]*BlockDescriptor
	subscribers      map[Id][]*blockSubscriber
	nextSubscriberId int
}

func NewBlockRegistry() *BlockRegistry {
	return &BlockRegistry{
		now:         time.Now,
		descriptors: map[Id]*BlockDescriptor{},
		subscribers: map[Id][]*blockSubscriber{},
	}
}

// stores or overwrites by id,
// then synchronously notifies every subscriber for that id in registration order
func (self *BlockRegistry) Upsert(descriptor *BlockDescriptor) {
	stored := descriptor.clone()

	var callbacks []BlockFunction
	func() {
		self.stateLock.Lock()
		defer self.stateLock.Unlock()

		now := self.now()
		if previous, ok := self.descriptors[stored.Id]; ok {
			stored.CreateTime = previous.CreateTime
		} else if stored.CreateTime.IsZero() {
			stored.CreateTime = now
		}
		stored.UpdateTime = now
		self.descriptors[stored.Id] = stored

		callbacks = self.callbacksForId(stored.Id)
	}()

	glog.V(2).Infof("[blk]upsert %s %s\n", stored.Id, stored.Kind)
	if 0 < len(callbacks) {
		// one copy shared by the fan-out keeps callback mutations out of the store
		notified := stored.clone()
		for _, callback := range callbacks {
			self.notify(callback, notified)
		}
	}
}

func (self *BlockRegistry) Remove(blockId Id) {
	removed := false
	var callbacks []BlockFunction
	func() {
		self.stateLock.Lock()
		defer self.stateLock.Unlock()

		if _, ok := self.descriptors[blockId]; !ok {
			return
		}
		delete(self.descriptors, blockId)
		removed = true

		callbacks = self.callbacksForId(blockId)
	}()

	if !removed {
		return
	}

	glog.V(2).Infof("[blk]remove %s\n", blockId)
	for _, callback := range callbacks {
		self.notify(callback, nil)
	}
}

// registers a callback for one block id.
// if a descriptor already exists it is replayed synchronously to the new subscriber.
// the returned disposer removes only this callback,
// pruning the id entry once its last subscriber is gone
func (self *BlockRegistry) Subscribe(blockId Id, callback BlockFunction) func() {
	var replay *BlockDescriptor
	var subscriberId int
	func() {
		self.stateLock.Lock()
		defer self.stateLock.Unlock()

		subscriberId = self.nextSubscriberId
		self.nextSubscriberId += 1
		self.subscribers[blockId] = append(
			slices.Clone(self.subscribers[blockId]),
			&blockSubscriber{
				subscriberId: subscriberId,
				callback:     callback,
			},
		)

		if descriptor, ok := self.descriptors[blockId]; ok {
			replay = descriptor.clone()
		}
	}()

	if replay != nil {
		self.notify(callback, replay)
	}

	return func() {
		self.stateLock.Lock()
		defer self.stateLock.Unlock()

		subscribers := self.subscribers[blockId]
		i := slices.IndexFunc(subscribers, func(subscriber *blockSubscriber) bool {
			return subscriber.subscriberId == subscriberId
		})
		if i < 0 {
			// already disposed
			return
		}
		subscribers = slices.Delete(slices.Clone(subscribers), i, i+1)
		if len(subscribers) == 0 {
			delete(self.subscribers, blockId)
		} else {
			self.subscribers[blockId] = subscribers
		}
	}
}

// must be called with `stateLock`.
// the returned slice is a stable snapshot,
// re-entrant subscribe/unsubscribe cannot corrupt an active notification
func (self *BlockRegistry) callbacksForId(blockId Id) []BlockFunction {
	subscribers := self.subscribers[blockId]
	callbacks := make([]BlockFunction, 0, len(subscribers))
	for _, subscriber := range subscribers {
		callbacks = append(callbacks, subscriber.callback)
	}
	return callbacks
}

// a panicking subscriber never prevents the remaining subscribers from being notified
func (self *BlockRegistry) notify(callback BlockFunction, descriptor *BlockDescriptor) {
	HandleError(func() {
		callback(descriptor)
	})
}

// a read-only copy of all current descriptors,
// consumed by the persistence collaborator as part of a save payload
func (self *BlockRegistry) Snapshot() map[Id]*BlockDescriptor {
	self.stateLock.Lock()
	defer self.stateLock.Unlock()

	snapshot := make(map[Id]*BlockDescriptor, len(self.descriptors))
	for blockId, descriptor := range self.descriptors {
		snapshot[blockId] = descriptor.clone()
	}
	return snapshot
}

// upserts every stored descriptor, called on load before document content renders
func (self *BlockRegistry) Load(descriptors []*BlockDescriptor) {
	for _, descriptor := range descriptors {
		self.Upsert(descriptor)
	}
}

func (self *BlockRegistry) Get(blockId Id) (*BlockDescriptor, bool) {
	self.stateLock.Lock()
	defer self.stateLock.Unlock()

	descriptor, ok := self.descriptors[blockId]
	if !ok {
		return nil, false
	}
	return descriptor.clone(), true
}

func (self *BlockRegistry) Len() int {
	self.stateLock.Lock()
	defer self.stateLock.Unlock()
	return len(self.descriptors)
}

// clears all descriptors and subscribers on session teardown
func (self *BlockRegistry) Clear() {
	self.stateLock.Lock()
	defer self.stateLock.Unlock()

	self.descriptors = map[Id]*BlockDescriptor{}
	self.subscribers = map[Id][]*blockSubscriber{}
}
