package main

import (
	"fmt"
	"sync"

	"github.com/bringyour/mirror/graph"
	"github.com/bringyour/mirror/mirror"
)

const CounterPath = "/counter"
const SharedCounterPath = "/shared"

// `/counter` builds a new graph per connection.
// `/shared` mirrors one graph to every connection
func PublishDemo(registry *mirror.Registry) {
	registry.Publish(CounterPath, func() (mirror.Graph, error) {
		return NewCounter().Tree, nil
	})
	registry.PublishGraph(SharedCounterPath, NewCounter().Tree)
}

type Counter struct {
	Tree   *graph.Tree
	Label  *graph.Element
	Button *graph.Element
	Input  *graph.Element

	stateLock sync.Mutex
	count     int
}

func NewCounter() *Counter {
	tree := graph.NewTree("div")

	heading := tree.NewElement("h1")
	heading.SetText("Mirror")

	label := tree.NewElement("p")
	button := tree.NewElement("button")
	button.SetText("Click me")
	input := tree.NewElement("input")
	input.SetProperty("placeholder", mirror.String("Type here"))

	counter := &Counter{
		Tree:   tree,
		Label:  label,
		Button: button,
		Input:  input,
	}
	counter.render()

	button.On("click", func(event *graph.Event) {
		counter.increment()
	})
	input.On("change", func(event *graph.Event) {
		label.SetProperty("title", event.Value)
	})

	root := tree.Root()
	for _, child := range []*graph.Element{heading, label, button, input} {
		if err := root.AppendChild(child); err != nil {
			panic(err)
		}
	}
	return counter
}

func (self *Counter) Count() int {
	self.stateLock.Lock()
	defer self.stateLock.Unlock()
	return self.count
}

func (self *Counter) increment() {
	func() {
		self.stateLock.Lock()
		defer self.stateLock.Unlock()
		self.count += 1
	}()
	self.render()
}

func (self *Counter) render() {
	self.Label.SetText(fmt.Sprintf("Clicked %d times", self.Count()))
}
