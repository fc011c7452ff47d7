package rpc

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestAsInt(t *testing.T) {
	n, ok := AsInt(float64(8080))
	assert.True(t, ok)
	assert.Equal(t, 8080, n)

	n, ok = AsInt(int64(-1))
	assert.True(t, ok)
	assert.Equal(t, -1, n)

	_, ok = AsInt(1.5)
	assert.False(t, ok)

	_, ok = AsInt("1")
	assert.False(t, ok)
}

func TestAsUint64(t *testing.T) {
	n, ok := AsUint64(float64(1 << 40))
	assert.True(t, ok)
	assert.Equal(t, uint64(1<<40), n)

	n, ok = AsUint64(uint64(7))
	assert.True(t, ok)
	assert.Equal(t, uint64(7), n)

	n, ok = AsUint64(3)
	assert.True(t, ok)
	assert.Equal(t, uint64(3), n)

	_, ok = AsUint64(-1)
	assert.False(t, ok)
	_, ok = AsUint64(float64(-2))
	assert.False(t, ok)
}

func TestAsStringList(t *testing.T) {
	l, ok := AsStringList([]any{"a", "b"})
	assert.True(t, ok)
	assert.Equal(t, []string{"a", "b"}, l)

	_, ok = AsStringList([]any{"a", 1.0})
	assert.False(t, ok)

	_, ok = AsStringList("a")
	assert.False(t, ok)
}

func TestStringArg(t *testing.T) {
	args := []any{"/node", 3.0}

	s, err := StringArg(args, 0)
	assert.NoError(t, err)
	assert.Equal(t, "/node", s)

	_, err = StringArg(args, 1)
	assert.Error(t, err)

	_, err = StringArg(args, 2)
	assert.Error(t, err)
}

func TestResponseHelpers(t *testing.T) {
	assert.True(t, Success("", nil).OK())
	assert.False(t, Failure("nope").OK())
	assert.Equal(t, StatusFailure, Failure("nope").Code)
}
