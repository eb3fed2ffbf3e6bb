package mirror

import (
	"testing"

	"github.com/go-playground/assert/v2"
)

func TestCallbackList(t *testing.T) {
	callbacks := NewCallbackList[func() int]()
	assert.Equal(t, callbacks.Len(), 0)

	a := callbacks.Add(func() int { return 1 })
	b := callbacks.Add(func() int { return 2 })
	c := callbacks.Add(func() int { return 3 })
	assert.Equal(t, callbacks.Len(), 3)

	values := func() []int {
		out := []int{}
		for _, callback := range callbacks.Get() {
			out = append(out, callback())
		}
		return out
	}
	assert.Equal(t, values(), []int{1, 2, 3})

	// a snapshot taken before a remove is not changed by it
	snapshot := callbacks.Get()
	callbacks.Remove(b)
	assert.Equal(t, len(snapshot), 3)
	assert.Equal(t, values(), []int{1, 3})

	// unknown ids are ignored
	callbacks.Remove(b)
	callbacks.Remove(100)
	assert.Equal(t, callbacks.Len(), 2)

	callbacks.Remove(a)
	callbacks.Remove(c)
	assert.Equal(t, callbacks.Len(), 0)
	assert.Equal(t, values(), []int{})
}
