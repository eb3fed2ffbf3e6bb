package mirror

import (
	"sort"
	"sync"

	"github.com/golang/glog"
)

// what to do with a message that depends on an id the graph can no longer find
type MissingDependencyPolicy int

const (
	// skip materialization and still queue the dependent message.
	// the client may receive a reference to an id it never created
	MissingDependencySkip MissingDependencyPolicy = iota
	// drop the dependent message
	MissingDependencyDrop
)

type LookupFunction = func(id string) (Node, bool)

// Turns raw change notifications into a causally ordered stream.
// Every id referenced by a queued message is either built in, or
// materialized (create + state) earlier in the same stream.
//
// Ids are marked known before recursing, so expansion terminates on cycles
// and each id is materialized at most once per queue.
type DependencyQueue struct {
	lookup        LookupFunction
	missingPolicy MissingDependencyPolicy
	onEnqueue     func()

	// held across one full expansion so that concurrent enqueues cannot interleave
	// a dependent message ahead of its dependency. never held across channel io
	stateLock sync.Mutex
	knownIds  map[string]bool
	messages  []*Message
	closed    bool
}

func NewDependencyQueue(
	lookup LookupFunction,
	missingPolicy MissingDependencyPolicy,
	onEnqueue func(),
) *DependencyQueue {
	knownIds := map[string]bool{}
	for _, id := range BuiltinIds {
		knownIds[id] = true
	}
	return &DependencyQueue{
		lookup:        lookup,
		missingPolicy: missingPolicy,
		onEnqueue:     onEnqueue,
		knownIds:      knownIds,
		messages:      []*Message{},
	}
}

// never blocks on io. cost is proportional to the not yet known subtree reachable from `message`
func (self *DependencyQueue) Enqueue(message *Message) {
	queued := false
	func() {
		self.stateLock.Lock()
		defer self.stateLock.Unlock()

		if self.closed {
			return
		}
		queued = self.enqueue(message)
	}()
	if queued && self.onEnqueue != nil {
		self.onEnqueue()
	}
}

// must be called with `stateLock`
func (self *DependencyQueue) enqueue(message *Message) bool {
	if message.Operation() == OperationCreate {
		self.knownIds[message.TargetId()] = true
	} else {
		if !self.resolve(message.TargetId(), nil) {
			return false
		}
		if !self.resolveValue(message.Value()) {
			return false
		}
	}
	self.messages = append(self.messages, message)
	return true
}

// materializes `id` if not known. `node` may be nil, in which case the graph is asked.
// returns false if the dependent message should be dropped
// must be called with `stateLock`
func (self *DependencyQueue) resolve(id string, node Node) bool {
	if self.knownIds[id] {
		return true
	}
	if node == nil {
		var ok bool
		node, ok = self.lookup(id)
		if !ok || node == nil {
			glog.V(1).Infof("[q]missing dependency %s\n", id)
			switch self.missingPolicy {
			case MissingDependencyDrop:
				// not marked. a node added later under this id is still materialized
				return false
			default:
				self.knownIds[id] = true
				return true
			}
		}
	}
	// marked before recursing so that cycles terminate
	self.knownIds[id] = true
	for _, stateMessage := range node.Snapshot() {
		// a dropped state message does not drop its dependent
		self.enqueue(stateMessage)
	}
	return true
}

// must be called with `stateLock`
func (self *DependencyQueue) resolveValue(value Value) bool {
	switch value.Kind() {
	case ValueKindRef:
		return self.resolve(value.RefId(), value.RefNode())
	case ValueKindList:
		resolved := true
		for _, item := range value.List() {
			if !self.resolveValue(item) {
				resolved = false
			}
		}
		return resolved
	case ValueKindObject:
		// sorted so materialization order does not depend on map order
		fields := value.Object()
		keys := make([]string, 0, len(fields))
		for k := range fields {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		resolved := true
		for _, k := range keys {
			if !self.resolveValue(fields[k]) {
				resolved = false
			}
		}
		return resolved
	case ValueKindNone, ValueKindNull, ValueKindBool, ValueKindNumber, ValueKindString:
		return true
	default:
		return true
	}
}

// atomically takes the full contents of the queue, in enqueue order
func (self *DependencyQueue) Drain() []*Message {
	self.stateLock.Lock()
	defer self.stateLock.Unlock()

	if len(self.messages) == 0 {
		return nil
	}
	messages := self.messages
	self.messages = []*Message{}
	return messages
}

// after close, enqueue is a no-op and drain returns nothing
func (self *DependencyQueue) Close() {
	self.stateLock.Lock()
	defer self.stateLock.Unlock()

	self.closed = true
	self.messages = []*Message{}
}

func (self *DependencyQueue) Known(id string) bool {
	self.stateLock.Lock()
	defer self.stateLock.Unlock()

	return self.knownIds[id]
}

func (self *DependencyQueue) QueueSize() int {
	self.stateLock.Lock()
	defer self.stateLock.Unlock()

	return len(self.messages)
}
