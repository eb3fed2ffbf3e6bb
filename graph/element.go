package graph

import (
	"errors"

	"golang.org/x/exp/slices"

	"github.com/bringyour/mirror/mirror"
)

const TextProperty = "textContent"

var ErrCycle = errors.New("Cannot append an ancestor")
var ErrOtherTree = errors.New("Element belongs to another tree")
var ErrNotChild = errors.New("Not a child")

type Event struct {
	Target *Element
	Type   string
	Value  mirror.Value
}

type EventHandler func(event *Event)

// all fields are guarded by the tree `stateLock`
type Element struct {
	tree    *Tree
	id      string
	tagName string

	// insertion ordered
	propertyNames []string
	properties    map[string]mirror.Value

	parent   *Element
	children []*Element

	// insertion ordered
	eventTypes []string
	handlers   map[string][]EventHandler
}

func newElement(tree *Tree, tagName string) *Element {
	return &Element{
		tree:          tree,
		id:            mirror.NewId().String(),
		tagName:       tagName,
		propertyNames: []string{},
		properties:    map[string]mirror.Value{},
		children:      []*Element{},
		eventTypes:    []string{},
		handlers:      map[string][]EventHandler{},
	}
}

func (self *Element) Id() string {
	return self.id
}

func (self *Element) TagName() string {
	return self.tagName
}

// create, properties, listeners, then one append per child.
// children are referenced and materialized by the session on demand
func (self *Element) Snapshot() []*mirror.Message {
	self.tree.stateLock.Lock()
	defer self.tree.stateLock.Unlock()

	messages := []*mirror.Message{
		mirror.Create(self.id, self.tagName),
	}
	for _, name := range self.propertyNames {
		messages = append(messages, mirror.Set(self.id, name, self.properties[name]))
	}
	for _, eventType := range self.eventTypes {
		messages = append(messages, mirror.Listen(self.id, eventType))
	}
	for _, child := range self.children {
		messages = append(messages, mirror.Call(self.id, "appendChild", mirror.Ref(child)))
	}
	return messages
}

func (self *Element) Property(name string) (mirror.Value, bool) {
	self.tree.stateLock.Lock()
	defer self.tree.stateLock.Unlock()

	value, ok := self.properties[name]
	return value, ok
}

func (self *Element) SetProperty(name string, value mirror.Value) {
	var attached bool
	func() {
		self.tree.stateLock.Lock()
		defer self.tree.stateLock.Unlock()

		self.setProperty(name, value)
		attached = self.attached()
	}()
	if attached {
		self.tree.emit(mirror.Set(self.id, name, value))
	}
}

func (self *Element) SetText(text string) {
	self.SetProperty(TextProperty, mirror.String(text))
}

func (self *Element) Text() string {
	value, _ := self.Property(TextProperty)
	return value.Str()
}

// must be called with the tree `stateLock`
func (self *Element) setProperty(name string, value mirror.Value) {
	if _, ok := self.properties[name]; !ok {
		self.propertyNames = append(self.propertyNames, name)
	}
	self.properties[name] = value
}

func (self *Element) setPropertyQuiet(name string, value mirror.Value) {
	self.tree.stateLock.Lock()
	defer self.tree.stateLock.Unlock()
	self.setProperty(name, value)
}

// moves `child` from its current parent, if any
func (self *Element) AppendChild(child *Element) error {
	if child.tree != self.tree {
		return ErrOtherTree
	}
	var attached bool
	var removeMessage *mirror.Message
	err := func() error {
		self.tree.stateLock.Lock()
		defer self.tree.stateLock.Unlock()

		for e := self; e != nil; e = e.parent {
			if e == child {
				return ErrCycle
			}
		}
		if previous := child.parent; previous != nil {
			if previous.attached() && !self.attached() {
				// the client would keep the child under the old parent
				removeMessage = mirror.Call(previous.id, "removeChild", mirror.Ref(child))
			}
			previous.removeChildLocked(child)
		}
		child.parent = self
		self.children = append(self.children, child)
		attached = self.attached()
		return nil
	}()
	if err != nil {
		return err
	}
	if removeMessage != nil {
		self.tree.emit(removeMessage)
	}
	if attached {
		self.tree.emit(mirror.Call(self.id, "appendChild", mirror.Ref(child)))
	}
	return nil
}

func (self *Element) RemoveChild(child *Element) error {
	var attached bool
	err := func() error {
		self.tree.stateLock.Lock()
		defer self.tree.stateLock.Unlock()

		if child.parent != self {
			return ErrNotChild
		}
		attached = self.attached()
		self.removeChildLocked(child)
		return nil
	}()
	if err != nil {
		return err
	}
	if attached {
		self.tree.emit(mirror.Call(self.id, "removeChild", mirror.Ref(child)))
	}
	return nil
}

// must be called with the tree `stateLock`
func (self *Element) removeChildLocked(child *Element) {
	if i := slices.Index(self.children, child); 0 <= i {
		self.children = slices.Delete(slices.Clone(self.children), i, i+1)
	}
	child.parent = nil
}

func (self *Element) Children() []*Element {
	self.tree.stateLock.Lock()
	defer self.tree.stateLock.Unlock()
	return slices.Clone(self.children)
}

func (self *Element) Parent() *Element {
	self.tree.stateLock.Lock()
	defer self.tree.stateLock.Unlock()
	return self.parent
}

// registers a handler. The first handler for a type tells the client to listen
func (self *Element) On(eventType string, handler EventHandler) {
	var listen bool
	var attached bool
	func() {
		self.tree.stateLock.Lock()
		defer self.tree.stateLock.Unlock()

		if _, ok := self.handlers[eventType]; !ok {
			self.eventTypes = append(self.eventTypes, eventType)
			listen = true
		}
		self.handlers[eventType] = append(slices.Clone(self.handlers[eventType]), handler)
		attached = self.attached()
	}()
	if listen && attached {
		self.tree.emit(mirror.Listen(self.id, eventType))
	}
}

func (self *Element) dispatchEvent(eventType string, value mirror.Value) {
	var handlers []EventHandler
	func() {
		self.tree.stateLock.Lock()
		defer self.tree.stateLock.Unlock()
		handlers = self.handlers[eventType]
	}()
	event := &Event{
		Target: self,
		Type:   eventType,
		Value:  value,
	}
	for _, handler := range handlers {
		handler(event)
	}
}

// must be called with the tree `stateLock`
func (self *Element) attached() bool {
	e := self
	for e.parent != nil {
		e = e.parent
	}
	return e == self.tree.root
}
