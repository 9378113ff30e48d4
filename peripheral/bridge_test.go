package peripheral

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestEventBridgeEmit(t *testing.T) {
	var b EventBridge
	assert.False(t, b.Emit("dropped"))

	var got []string
	b.SetListener(func(s string) { got = append(got, s) })
	assert.True(t, b.Emit("x"))
	assert.Equal(t, []string{"x"}, got)

	b.SetListener(nil)
	assert.False(t, b.Emit("y"))
	assert.Equal(t, []string{"x"}, got)
}
