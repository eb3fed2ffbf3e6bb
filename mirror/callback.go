package mirror

import (
	"sync"

	"golang.org/x/exp/maps"
	"golang.org/x/exp/slices"
)

// makes a copy of the list on update, so `Get` can be iterated without the lock
type CallbackList[T any] struct {
	mutex          sync.Mutex
	nextCallbackId int
	callbacks      map[int]T
	orderedIds     []int
	snapshot       []T
}

func NewCallbackList[T any]() *CallbackList[T] {
	return &CallbackList[T]{
		callbacks:  map[int]T{},
		orderedIds: []int{},
		snapshot:   []T{},
	}
}

// returns an id for `Remove`
func (self *CallbackList[T]) Add(callback T) int {
	self.mutex.Lock()
	defer self.mutex.Unlock()

	callbackId := self.nextCallbackId
	self.nextCallbackId += 1
	self.callbacks[callbackId] = callback
	self.orderedIds = append(slices.Clone(self.orderedIds), callbackId)
	self.updateSnapshot()
	return callbackId
}

// removing an unknown id is a no-op
func (self *CallbackList[T]) Remove(callbackId int) {
	self.mutex.Lock()
	defer self.mutex.Unlock()

	if _, ok := self.callbacks[callbackId]; !ok {
		return
	}
	callbacks := maps.Clone(self.callbacks)
	delete(callbacks, callbackId)
	self.callbacks = callbacks
	i := slices.Index(self.orderedIds, callbackId)
	self.orderedIds = slices.Delete(slices.Clone(self.orderedIds), i, i+1)
	self.updateSnapshot()
}

func (self *CallbackList[T]) Get() []T {
	self.mutex.Lock()
	defer self.mutex.Unlock()
	return self.snapshot
}

func (self *CallbackList[T]) Len() int {
	self.mutex.Lock()
	defer self.mutex.Unlock()
	return len(self.snapshot)
}

// must be called with `mutex`
func (self *CallbackList[T]) updateSnapshot() {
	snapshot := make([]T, 0, len(self.orderedIds))
	for _, callbackId := range self.orderedIds {
		snapshot = append(snapshot, self.callbacks[callbackId])
	}
	self.snapshot = snapshot
}
