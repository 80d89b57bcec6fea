package palloc

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewPool(t *testing.T) {
	_, err := NewPool(0)
	require.Error(t, err)

	p, err := NewPool(3)
	require.NoError(t, err)
	assert.Equal(t, 3, p.Size())
	assert.Equal(t, 3, p.Free())
}

func TestGetPageExhaustion(t *testing.T) {
	p, err := NewPool(2)
	require.NoError(t, err)

	a, err := p.GetPage(Zero)
	require.NoError(t, err)
	b, err := p.GetPage(0)
	require.NoError(t, err)
	assert.Equal(t, Base, a.Addr)
	assert.Equal(t, Base+PageSize, b.Addr)

	_, err = p.GetPage(Zero)
	assert.ErrorIs(t, err, ErrExhausted)
	assert.Panics(t, func() { _, _ = p.GetPage(Assert) })

	p.FreePage(a)
	assert.Equal(t, 1, p.Free())
	c, err := p.GetPage(Zero)
	require.NoError(t, err)
	assert.Same(t, a, c)
}

func TestZeroAndPoison(t *testing.T) {
	p, err := NewPool(1)
	require.NoError(t, err)

	pg, err := p.GetPage(0)
	require.NoError(t, err)
	pg.Data[17] = 42
	p.FreePage(pg)
	assert.Equal(t, byte(0xcc), pg.Data[17])

	pg, err = p.GetPage(Zero)
	require.NoError(t, err)
	for i, b := range pg.Data {
		if b != 0 {
			t.Fatalf("byte %d = %#x after zeroed allocation", i, b)
		}
	}
}

func TestDoubleFreePanics(t *testing.T) {
	p, err := NewPool(1)
	require.NoError(t, err)
	pg, err := p.GetPage(Zero)
	require.NoError(t, err)
	p.FreePage(pg)
	assert.Panics(t, func() { p.FreePage(pg) })
}
