package mirror

import (
	"sync"
	"testing"

	"github.com/go-playground/assert/v2"
)

func TestDependencyQueueOrder(t *testing.T) {
	graph := newTestGraph("r")
	a := graph.newNode("a", "p")
	a.props = []*Message{Set("a", "textContent", String("hi"))}
	b := graph.newNode("b", "button")
	graph.children = []*testNode{a, b}

	enqueueCount := 0
	queue := NewDependencyQueue(graph.Lookup, MissingDependencySkip, func() {
		enqueueCount += 1
	})

	queue.Enqueue(Call(BodyId, "appendChild", Ref(graph)))

	assert.Equal(t, enqueueCount, 1)
	assert.Equal(t, messageStrings(queue.Drain()), []string{
		`create(r = "div")`,
		`create(a = "p")`,
		`set(a.textContent = "hi")`,
		`call(r.appendChild = [ref(a)])`,
		`create(b = "button")`,
		`call(r.appendChild = [ref(b)])`,
		`call(document.body.appendChild = [ref(r)])`,
	})
	assert.Equal(t, queue.QueueSize(), 0)
	assert.Equal(t, queue.Drain(), nil)

	// already known. no materialization
	queue.Enqueue(Set("a", "textContent", String("bye")))
	assert.Equal(t, messageStrings(queue.Drain()), []string{
		`set(a.textContent = "bye")`,
	})

	for _, id := range []string{"r", "a", "b", WindowId, DocumentId, BodyId} {
		assert.Equal(t, queue.Known(id), true)
	}
	assert.Equal(t, queue.Known("c"), false)
}

func TestDependencyQueueBuiltins(t *testing.T) {
	graph := newTestGraph("r")
	queue := NewDependencyQueue(graph.Lookup, MissingDependencySkip, nil)

	queue.Enqueue(Call(WindowId, "scrollTo", Int(0), Int(0)))
	queue.Enqueue(Set(DocumentId, "title", String("t")))

	// builtins are never created
	assert.Equal(t, messageStrings(queue.Drain()), []string{
		`call(window.scrollTo = [0,0])`,
		`set(document.title = "t")`,
	})
}

func TestDependencyQueueMaterializeOnce(t *testing.T) {
	graph := newTestGraph("r")
	a := graph.newNode("a", "p")
	graph.children = []*testNode{a}

	queue := NewDependencyQueue(graph.Lookup, MissingDependencySkip, nil)

	queue.Enqueue(Call(BodyId, "appendChild", Ref(graph)))
	queue.Enqueue(Call(BodyId, "appendChild", Ref(a)))
	// nested refs inside values are found too
	queue.Enqueue(Set(BodyId, "data", Object(map[string]Value{
		"x": List(Ref(a), RefId("r")),
	})))

	assert.Equal(t, graph.snapshotCount("r"), 1)
	assert.Equal(t, graph.snapshotCount("a"), 1)
	assert.Equal(t, len(queue.Drain()), 6)
}

func TestDependencyQueueCycle(t *testing.T) {
	graph := newTestGraph("r")
	a := graph.newNode("a", "div")
	b := graph.newNode("b", "div")
	a.props = []*Message{Set("a", "peer", Ref(b))}
	b.props = []*Message{Set("b", "peer", Ref(a))}

	queue := NewDependencyQueue(graph.Lookup, MissingDependencySkip, nil)
	queue.Enqueue(Call(BodyId, "appendChild", RefId("a")))

	// terminates, and each id is created exactly once before it is used as a target
	assert.Equal(t, messageStrings(queue.Drain()), []string{
		`create(a = "div")`,
		`create(b = "div")`,
		`set(b.peer = ref(a))`,
		`set(a.peer = ref(b))`,
		`call(document.body.appendChild = [ref(a)])`,
	})
	assert.Equal(t, graph.snapshotCount("a"), 1)
	assert.Equal(t, graph.snapshotCount("b"), 1)
}

func TestDependencyQueueMissingSkip(t *testing.T) {
	graph := newTestGraph("r")
	queue := NewDependencyQueue(graph.Lookup, MissingDependencySkip, nil)

	queue.Enqueue(Call(BodyId, "appendChild", RefId("gone")))
	queue.Enqueue(Set("gone", "hidden", Bool(true)))

	assert.Equal(t, messageStrings(queue.Drain()), []string{
		`call(document.body.appendChild = [ref(gone)])`,
		`set(gone.hidden = true)`,
	})
	// the skipped id counts as known for the rest of the session
	assert.Equal(t, queue.Known("gone"), true)
}

func TestDependencyQueueMissingDrop(t *testing.T) {
	graph := newTestGraph("r")
	graph.props = []*Message{Call("r", "appendChild", RefId("gone"))}

	enqueueCount := 0
	queue := NewDependencyQueue(graph.Lookup, MissingDependencyDrop, func() {
		enqueueCount += 1
	})

	queue.Enqueue(Call(BodyId, "appendChild", RefId("gone")))
	assert.Equal(t, enqueueCount, 0)
	assert.Equal(t, queue.QueueSize(), 0)

	// the dropped child append does not drop the root append
	queue.Enqueue(Call(BodyId, "appendChild", Ref(graph)))
	assert.Equal(t, enqueueCount, 1)
	assert.Equal(t, messageStrings(queue.Drain()), []string{
		`create(r = "div")`,
		`call(document.body.appendChild = [ref(r)])`,
	})
	assert.Equal(t, queue.Known("gone"), false)

	// a node that appears later is materialized
	graph.newNode("gone", "p")
	queue.Enqueue(Call("r", "appendChild", RefId("gone")))
	assert.Equal(t, messageStrings(queue.Drain()), []string{
		`create(gone = "p")`,
		`call(r.appendChild = [ref(gone)])`,
	})
}

func TestDependencyQueueClose(t *testing.T) {
	graph := newTestGraph("r")

	enqueueCount := 0
	queue := NewDependencyQueue(graph.Lookup, MissingDependencySkip, func() {
		enqueueCount += 1
	})
	queue.Enqueue(Call(BodyId, "appendChild", Ref(graph)))
	assert.Equal(t, queue.QueueSize(), 2)

	queue.Close()
	assert.Equal(t, queue.QueueSize(), 0)

	queue.Enqueue(Set("r", "hidden", Bool(true)))
	assert.Equal(t, enqueueCount, 1)
	assert.Equal(t, queue.Drain(), nil)
}

func TestDependencyQueueConcurrent(t *testing.T) {
	graph := newTestGraph("r")
	n := 64
	nodes := []*testNode{}
	for i := 0; i < n; i += 1 {
		node := graph.newNode(NewId().String(), "span")
		nodes = append(nodes, node)
	}

	queue := NewDependencyQueue(graph.Lookup, MissingDependencySkip, nil)

	var wg sync.WaitGroup
	for i := 0; i < 8; i += 1 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for _, node := range nodes {
				queue.Enqueue(Call(BodyId, "appendChild", RefId(node.id)))
			}
		}()
	}
	wg.Wait()

	// every target is created before it is referenced, and created once
	created := map[string]bool{}
	for _, message := range queue.Drain() {
		switch message.Operation() {
		case OperationCreate:
			assert.Equal(t, created[message.TargetId()], false)
			created[message.TargetId()] = true
		default:
			refId := message.Value().List()[0].RefId()
			assert.Equal(t, created[refId], true)
		}
	}
	assert.Equal(t, len(created), n)
}
