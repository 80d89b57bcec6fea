package pit

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recorder struct {
	mu     sync.Mutex
	raised []int
}

func (r *recorder) Raise(irq int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.raised = append(r.raised, irq)
}

func (r *recorder) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.raised)
}

type waker chan struct{}

func (w waker) Notify() {
	select {
	case w <- struct{}{}:
	default:
	}
}

func TestInitValidatesFrequency(t *testing.T) {
	tests := []struct {
		freq    int
		wantErr bool
		count   uint32
	}{
		{18, true, 0},
		{19, false, 62799},
		{100, false, 11932},
		{1000, false, 1193},
		{1001, true, 0},
	}
	for _, tt := range tests {
		p := New(&recorder{})
		err := p.Init(tt.freq)
		if tt.wantErr {
			assert.ErrorIs(t, err, ErrFrequency, "freq %d", tt.freq)
			continue
		}
		require.NoError(t, err, "freq %d", tt.freq)
		assert.Equal(t, tt.count, p.Count(), "freq %d", tt.freq)
		assert.Equal(t, tt.freq, p.Freq())
	}
}

func TestVirtualTicks(t *testing.T) {
	r := &recorder{}
	p := New(r)
	require.NoError(t, p.Init(1000))

	next, ok := p.Next()
	require.True(t, ok)
	assert.Equal(t, uint64(1193), next)

	for now := uint64(1); now < 1193; now++ {
		p.Step(now)
	}
	assert.Equal(t, 0, r.count())
	p.Step(1193)
	assert.Equal(t, []int{IRQ}, r.raised)

	next, _ = p.Next()
	assert.Equal(t, uint64(2*1193), next)

	// a skipped stretch still raises once per wrap
	p.Step(5 * 1193)
	assert.Equal(t, 5, r.count())
}

func TestUnprogrammedIsSilent(t *testing.T) {
	r := &recorder{}
	p := New(r)
	_, ok := p.Next()
	assert.False(t, ok)
	p.Step(1 << 20)
	assert.Equal(t, 0, r.count())
}

func TestRealtime(t *testing.T) {
	r := &recorder{}
	p := New(r)
	require.NoError(t, p.Init(1000))
	assert.Equal(t, 999_849*time.Nanosecond, p.Period())
	assert.Equal(t, time.Duration(Divisor(1000))*time.Second/Hz, p.Period())

	w := make(waker, 1)
	p.Start(w)
	_, ok := p.Next()
	assert.False(t, ok, "virtual events stop in realtime mode")

	select {
	case <-w:
	case <-time.After(2 * time.Second):
		t.Fatal("no realtime tick")
	}
	p.Stop()
	assert.GreaterOrEqual(t, r.count(), 1)

	_, ok = p.Next()
	assert.True(t, ok)
}
