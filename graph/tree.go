package graph

import (
	"sync"

	"github.com/golang/glog"

	"github.com/bringyour/mirror/mirror"
)

// Tree is an in-memory element tree that can be published and mirrored.
//
// One lock guards every element in the tree. Change callbacks are invoked
// after the lock is released, so a subscriber may call back into the tree.
// Only changes to elements attached under the root are emitted. Detached
// elements are materialized by snapshot when they are attached.
type Tree struct {
	stateLock sync.Mutex
	root      *Element
	elements  map[string]*Element

	changeCallbacks *mirror.CallbackList[mirror.ChangeFunction]
}

func NewTree(rootTagName string) *Tree {
	tree := &Tree{
		elements:        map[string]*Element{},
		changeCallbacks: mirror.NewCallbackList[mirror.ChangeFunction](),
	}
	tree.root = tree.NewElement(rootTagName)
	return tree
}

func (self *Tree) Root() *Element {
	return self.root
}

// a detached element owned by this tree
func (self *Tree) NewElement(tagName string) *Element {
	element := newElement(self, tagName)

	self.stateLock.Lock()
	defer self.stateLock.Unlock()
	self.elements[element.id] = element
	return element
}

// mirror.Graph implementation

func (self *Tree) Id() string {
	return self.root.Id()
}

func (self *Tree) Snapshot() []*mirror.Message {
	return self.root.Snapshot()
}

func (self *Tree) Subscribe(onChange mirror.ChangeFunction) func() {
	callbackId := self.changeCallbacks.Add(onChange)
	return func() {
		self.changeCallbacks.Remove(callbackId)
	}
}

func (self *Tree) Lookup(id string) (mirror.Node, bool) {
	self.stateLock.Lock()
	defer self.stateLock.Unlock()

	element, ok := self.elements[id]
	if !ok {
		return nil, false
	}
	return element, true
}

func (self *Tree) Receive(message *mirror.Message) {
	var element *Element
	func() {
		self.stateLock.Lock()
		defer self.stateLock.Unlock()
		element = self.elements[message.TargetId()]
	}()
	if element == nil {
		glog.V(1).Infof("[g]receive unknown target %s\n", message.TargetId())
		return
	}

	switch message.Operation() {
	case mirror.OperationEvent:
		element.dispatchEvent(message.Key(), message.Value())
	case mirror.OperationSet:
		// the client already has this value, e.g. the value of an input
		element.setPropertyQuiet(message.Key(), message.Value())
	default:
		glog.V(1).Infof("[g]receive unsupported %s\n", message)
	}
}

// Forget removes a detached element from lookup. Attached elements cannot be forgotten
func (self *Tree) Forget(element *Element) bool {
	self.stateLock.Lock()
	defer self.stateLock.Unlock()

	if element.attached() {
		return false
	}
	delete(self.elements, element.id)
	return true
}

func (self *Tree) SubscriberCount() int {
	return self.changeCallbacks.Len()
}

// must be called without `stateLock`
func (self *Tree) emit(message *mirror.Message) {
	for _, changeCallback := range self.changeCallbacks.Get() {
		mirror.HandleError(func() {
			changeCallback(message)
		})
	}
}
