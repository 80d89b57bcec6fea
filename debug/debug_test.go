package debug

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAssert(t *testing.T) {
	assert.NotPanics(t, func() { Assert(true, "ok") })

	defer func() {
		r := recover()
		require.NotNil(t, r)
		p, ok := r.(*Panic)
		require.True(t, ok, "expected *Panic, got %T", r)
		assert.Contains(t, p.Msg, "x > 0")
		assert.Contains(t, p.Caller, "debug/debug_test.go")
		assert.Contains(t, p.Error(), "Kernel PANIC at")
	}()
	Assert(false, "x > 0")
}

func TestAsError(t *testing.T) {
	tests := []struct {
		name string
		in   any
		want string
	}{
		{"nil", nil, ""},
		{"panic value", &Panic{Msg: "boom"}, "Kernel PANIC: boom"},
		{"plain error", errors.New("bad"), "Kernel PANIC: bad"},
		{"string", "oops", "Kernel PANIC: oops"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := AsError(tt.in)
			if tt.want == "" {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.Equal(t, tt.want, err.Error())
			assert.True(t, IsPanic(err))
		})
	}
}

func TestNotReached(t *testing.T) {
	defer func() {
		err := AsError(recover())
		require.Error(t, err)
		assert.Contains(t, err.Error(), "unreachable")
	}()
	NotReached()
}
