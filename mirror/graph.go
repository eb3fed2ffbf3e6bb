package mirror

// the session consumes the object graph only through these interfaces.
// the graph owns node lifecycle; a session never creates or destroys nodes.

// ids every client is assumed to know before the first message
const (
	WindowId   = "window"
	DocumentId = "document"
	BodyId     = "document.body"
)

var BuiltinIds = []string{
	WindowId,
	DocumentId,
	BodyId,
}

type Node interface {
	Id() string
	// the ordered messages that reconstruct the current state of the node
	// for a client with no prior knowledge of it.
	// child nodes are referenced, not inlined
	Snapshot() []*Message
}

type ChangeFunction = func(message *Message)

// Graph is the root node of a published object graph.
//
// Implementations must not hold their own locks while invoking change callbacks.
// The session expands dependencies (`Lookup`, `Snapshot`) from inside the callback.
type Graph interface {
	Node

	// registers `onChange` for every observable state change in the graph.
	// the returned func removes the registration
	Subscribe(onChange ChangeFunction) (unsubscribe func())

	Lookup(id string) (Node, bool)

	// applies one client message, e.g. a property set or an event.
	// failures are the graph's concern
	Receive(message *Message)
}

// produces a new root for each connection, or returns a shared one
type GraphFactory func() (Graph, error)
