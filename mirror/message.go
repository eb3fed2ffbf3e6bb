package mirror

import (
	"encoding/json"
	"fmt"
	"strings"
)

// the wire envelope for one change to one node
// ```
// {"m": "call", "id": "document.body", "k": "appendChild", "v": [{"$ref": "01j..."}]}
// ```
// `k` and `v` are omitted when absent

type Operation int

const (
	OperationCreate Operation = iota
	OperationInvoke
	OperationSet
	OperationListen
	OperationEvent
)

func (self Operation) String() string {
	switch self {
	case OperationCreate:
		return "create"
	case OperationInvoke:
		return "call"
	case OperationSet:
		return "set"
	case OperationListen:
		return "listen"
	case OperationEvent:
		return "event"
	default:
		return fmt.Sprintf("operation(%d)", int(self))
	}
}

func ParseOperation(s string) (Operation, error) {
	switch s {
	case "create":
		return OperationCreate, nil
	case "call":
		return OperationInvoke, nil
	case "set":
		return OperationSet, nil
	case "listen":
		return OperationListen, nil
	case "event":
		return OperationEvent, nil
	default:
		return 0, fmt.Errorf("%w: %q", ErrUnknownOperation, s)
	}
}

// Message is immutable once constructed. Use the constructors below.
type Message struct {
	targetId  string
	operation Operation
	key       string
	value     Value
}

func NewMessage(targetId string, operation Operation, key string, value Value) *Message {
	return &Message{
		targetId:  targetId,
		operation: operation,
		key:       key,
		value:     value,
	}
}

// the value of a create is the tag (or type) name of the node
func Create(targetId string, tagName string) *Message {
	return NewMessage(targetId, OperationCreate, "", String(tagName))
}

// invoke `method` on the target with ordered arguments
func Call(targetId string, method string, args ...Value) *Message {
	if args == nil {
		args = []Value{}
	}
	return NewMessage(targetId, OperationInvoke, method, List(args...))
}

func Set(targetId string, property string, value Value) *Message {
	return NewMessage(targetId, OperationSet, property, value)
}

func Listen(targetId string, eventType string) *Message {
	return NewMessage(targetId, OperationListen, eventType, None())
}

func Event(targetId string, eventType string, value Value) *Message {
	return NewMessage(targetId, OperationEvent, eventType, value)
}

func (self *Message) TargetId() string {
	return self.targetId
}

func (self *Message) Operation() Operation {
	return self.operation
}

func (self *Message) Key() string {
	return self.key
}

func (self *Message) Value() Value {
	return self.value
}

func (self *Message) String() string {
	var b strings.Builder
	fmt.Fprintf(&b, "%s(%s", self.operation, self.targetId)
	if self.key != "" {
		fmt.Fprintf(&b, ".%s", self.key)
	}
	if self.value.Kind() != ValueKindNone {
		fmt.Fprintf(&b, " = %s", self.value)
	}
	b.WriteString(")")
	return b.String()
}

type messageJson struct {
	Operation string          `json:"m"`
	TargetId  string          `json:"id"`
	Key       string          `json:"k,omitempty"`
	Value     json.RawMessage `json:"v,omitempty"`
}

func (self *Message) MarshalJSON() ([]byte, error) {
	m := messageJson{
		Operation: self.operation.String(),
		TargetId:  self.targetId,
		Key:       self.key,
	}
	if self.value.Kind() != ValueKindNone {
		valueJson, err := json.Marshal(self.value)
		if err != nil {
			return nil, err
		}
		m.Value = valueJson
	}
	return json.Marshal(m)
}

func (self *Message) UnmarshalJSON(src []byte) error {
	var m messageJson
	if err := json.Unmarshal(src, &m); err != nil {
		return err
	}
	if m.TargetId == "" {
		return fmt.Errorf("Message missing target id.")
	}
	operation, err := ParseOperation(m.Operation)
	if err != nil {
		return err
	}
	value := None()
	if string(m.Value) == "null" {
		value = Null()
	} else if 0 < len(m.Value) {
		if err := json.Unmarshal(m.Value, &value); err != nil {
			return err
		}
	}
	*self = Message{
		targetId:  m.TargetId,
		operation: operation,
		key:       m.Key,
		value:     value,
	}
	return nil
}

// decodes exactly one envelope
func DecodeMessage(messageBytes []byte) (*Message, error) {
	message := &Message{}
	if err := json.Unmarshal(messageBytes, message); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrDecode, err)
	}
	return message, nil
}

// encodes one batch as a json list, in order
func EncodeBatch(messages []*Message) ([]byte, error) {
	return json.Marshal(messages)
}

// drops the messages that cannot be encoded, reporting each to `onDrop`.
// the remaining messages keep their order
func EncodableMessages(messages []*Message, onDrop func(*Message, error)) []*Message {
	encodable := make([]*Message, 0, len(messages))
	for _, message := range messages {
		if _, err := message.MarshalJSON(); err != nil {
			if onDrop != nil {
				onDrop(message, err)
			}
			continue
		}
		encodable = append(encodable, message)
	}
	return encodable
}

func DecodeBatch(batchBytes []byte) ([]*Message, error) {
	var messages []*Message
	if err := json.Unmarshal(batchBytes, &messages); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrDecode, err)
	}
	return messages, nil
}
