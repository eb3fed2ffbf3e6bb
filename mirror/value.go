package mirror

import (
	"bytes"
	"encoding/json"
	"fmt"
	"math"
	"sort"
	"strconv"
	"strings"
)

// tagged union of the values a message can carry
// dependency scanning switches on `Kind` and never inspects dynamic types

type ValueKind int

const (
	// absent, e.g. a listen message
	ValueKindNone ValueKind = iota
	ValueKindNull
	ValueKindBool
	ValueKindNumber
	ValueKindString
	ValueKindList
	ValueKindObject
	ValueKindRef
)

func (self ValueKind) String() string {
	switch self {
	case ValueKindNone:
		return "none"
	case ValueKindNull:
		return "null"
	case ValueKindBool:
		return "bool"
	case ValueKindNumber:
		return "number"
	case ValueKindString:
		return "string"
	case ValueKindList:
		return "list"
	case ValueKindObject:
		return "object"
	case ValueKindRef:
		return "ref"
	default:
		return fmt.Sprintf("kind(%d)", int(self))
	}
}

// json key of an encoded node reference, `{"$ref": "<id>"}`
const RefKey = "$ref"

type Value struct {
	kind   ValueKind
	b      bool
	n      float64
	s      string
	list   []Value
	object map[string]Value
	// set for refs built on the server. refs decoded from the wire carry only the id in `s`
	node Node
}

func None() Value {
	return Value{kind: ValueKindNone}
}

func Null() Value {
	return Value{kind: ValueKindNull}
}

func Bool(b bool) Value {
	return Value{kind: ValueKindBool, b: b}
}

func Number(n float64) Value {
	return Value{kind: ValueKindNumber, n: n}
}

func Int(n int) Value {
	return Number(float64(n))
}

func String(s string) Value {
	return Value{kind: ValueKindString, s: s}
}

func List(values ...Value) Value {
	if values == nil {
		values = []Value{}
	}
	return Value{kind: ValueKindList, list: values}
}

func Object(fields map[string]Value) Value {
	if fields == nil {
		fields = map[string]Value{}
	}
	return Value{kind: ValueKindObject, object: fields}
}

func Ref(node Node) Value {
	return Value{kind: ValueKindRef, s: node.Id(), node: node}
}

// a reference known only by id
func RefId(id string) Value {
	return Value{kind: ValueKindRef, s: id}
}

func (self Value) Kind() ValueKind {
	return self.kind
}

func (self Value) Bool() bool {
	return self.b
}

func (self Value) Number() float64 {
	return self.n
}

func (self Value) Str() string {
	if self.kind == ValueKindString {
		return self.s
	}
	return ""
}

func (self Value) List() []Value {
	return self.list
}

func (self Value) Object() map[string]Value {
	return self.object
}

func (self Value) RefId() string {
	if self.kind == ValueKindRef {
		return self.s
	}
	return ""
}

// nil unless the ref was built from a live node
func (self Value) RefNode() Node {
	return self.node
}

// structural equality. refs compare by id
func (self Value) Equal(other Value) bool {
	if self.kind != other.kind {
		return false
	}
	switch self.kind {
	case ValueKindNone, ValueKindNull:
		return true
	case ValueKindBool:
		return self.b == other.b
	case ValueKindNumber:
		return self.n == other.n
	case ValueKindString, ValueKindRef:
		return self.s == other.s
	case ValueKindList:
		if len(self.list) != len(other.list) {
			return false
		}
		for i := range self.list {
			if !self.list[i].Equal(other.list[i]) {
				return false
			}
		}
		return true
	case ValueKindObject:
		if len(self.object) != len(other.object) {
			return false
		}
		for k, v := range self.object {
			otherV, ok := other.object[k]
			if !ok || !v.Equal(otherV) {
				return false
			}
		}
		return true
	default:
		return false
	}
}

func (self Value) String() string {
	switch self.kind {
	case ValueKindNone:
		return "none"
	case ValueKindNull:
		return "null"
	case ValueKindBool:
		return strconv.FormatBool(self.b)
	case ValueKindNumber:
		return strconv.FormatFloat(self.n, 'g', -1, 64)
	case ValueKindString:
		return strconv.Quote(self.s)
	case ValueKindRef:
		return fmt.Sprintf("ref(%s)", self.s)
	case ValueKindList:
		parts := make([]string, len(self.list))
		for i, v := range self.list {
			parts[i] = v.String()
		}
		return fmt.Sprintf("[%s]", strings.Join(parts, ","))
	case ValueKindObject:
		keys := make([]string, 0, len(self.object))
		for k := range self.object {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		parts := make([]string, len(keys))
		for i, k := range keys {
			parts[i] = fmt.Sprintf("%s:%s", k, self.object[k])
		}
		return fmt.Sprintf("{%s}", strings.Join(parts, ","))
	default:
		return self.kind.String()
	}
}

func (self Value) MarshalJSON() ([]byte, error) {
	switch self.kind {
	case ValueKindNone, ValueKindNull:
		return []byte("null"), nil
	case ValueKindBool:
		return json.Marshal(self.b)
	case ValueKindNumber:
		// json has no NaN or infinity. the client sees null
		if math.IsNaN(self.n) || math.IsInf(self.n, 0) {
			return []byte("null"), nil
		}
		return json.Marshal(self.n)
	case ValueKindString:
		return json.Marshal(self.s)
	case ValueKindRef:
		return json.Marshal(map[string]string{RefKey: self.s})
	case ValueKindList:
		return json.Marshal(self.list)
	case ValueKindObject:
		// map keys are sorted by encoding/json
		return json.Marshal(self.object)
	default:
		return nil, fmt.Errorf("Cannot encode value kind %s.", self.kind)
	}
}

func (self *Value) UnmarshalJSON(src []byte) error {
	decoder := json.NewDecoder(bytes.NewReader(src))
	decoder.UseNumber()
	var raw any
	if err := decoder.Decode(&raw); err != nil {
		return err
	}
	value, err := valueFromJson(raw)
	if err != nil {
		return err
	}
	*self = value
	return nil
}

func valueFromJson(raw any) (Value, error) {
	switch v := raw.(type) {
	case nil:
		return Null(), nil
	case bool:
		return Bool(v), nil
	case json.Number:
		n, err := v.Float64()
		if err != nil {
			return Value{}, err
		}
		return Number(n), nil
	case string:
		return String(v), nil
	case []any:
		values := make([]Value, len(v))
		for i, item := range v {
			value, err := valueFromJson(item)
			if err != nil {
				return Value{}, err
			}
			values[i] = value
		}
		return List(values...), nil
	case map[string]any:
		if len(v) == 1 {
			if id, ok := v[RefKey].(string); ok {
				return RefId(id), nil
			}
		}
		fields := make(map[string]Value, len(v))
		for k, item := range v {
			value, err := valueFromJson(item)
			if err != nil {
				return Value{}, err
			}
			fields[k] = value
		}
		return Object(fields), nil
	default:
		return Value{}, fmt.Errorf("Unexpected json value %T.", raw)
	}
}
