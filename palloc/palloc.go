// Package palloc hands out fixed-size pages from a bounded pool. Each page
// has a simulated physical address so that stack pointers and page
// directories look like the real thing in register dumps.
package palloc

import (
	"errors"
	"fmt"
	"sync"

	"tkernel/debug"
)

// PageSize is the size of one page in bytes.
const PageSize = 4096

// Base is the simulated physical address of the first page.
const Base uintptr = 0x8004_0000_00

// Flags select allocation behaviour.
type Flags int

const (
	// Zero fills the page with zeroes.
	Zero Flags = 1 << iota
	// Assert panics instead of failing when the pool is exhausted.
	Assert
)

// ErrExhausted is returned when no free page is left.
var ErrExhausted = errors.New("palloc: out of pages")

// Page is one allocated block.
type Page struct {
	Addr uintptr
	Data []byte
	idx  int
	used bool
}

// Pool is a bounded set of pages.
type Pool struct {
	mu    sync.Mutex
	pages []Page
	free  []int
}

// NewPool returns a pool of n pages.
func NewPool(n int) (*Pool, error) {
	if n <= 0 {
		return nil, fmt.Errorf("palloc: pool needs at least one page, got %d", n)
	}
	p := &Pool{
		pages: make([]Page, n),
		free:  make([]int, 0, n),
	}
	for i := range p.pages {
		p.pages[i] = Page{
			Addr: Base + uintptr(i)*PageSize,
			Data: make([]byte, PageSize),
			idx:  i,
		}
	}
	// hand out low addresses first
	for i := n - 1; i >= 0; i-- {
		p.free = append(p.free, i)
	}
	return p, nil
}

// GetPage allocates one page.
func (p *Pool) GetPage(flags Flags) (*Page, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if len(p.free) == 0 {
		if flags&Assert != 0 {
			debug.Panicf("palloc_get: out of pages")
		}
		return nil, ErrExhausted
	}
	idx := p.free[len(p.free)-1]
	p.free = p.free[:len(p.free)-1]

	pg := &p.pages[idx]
	pg.used = true
	if flags&Zero != 0 {
		clear(pg.Data)
	}
	return pg, nil
}

// FreePage returns pg to the pool. Freeing a page twice is a kernel panic.
func (p *Pool) FreePage(pg *Page) {
	if pg == nil {
		return
	}
	p.mu.Lock()
	defer p.mu.Unlock()

	debug.Assert(pg.idx < len(p.pages) && &p.pages[pg.idx] == pg, "page belongs to pool")
	debug.Assert(pg.used, "page is allocated")
	pg.used = false
	// poison so a use after free is visible in dumps
	for i := range pg.Data {
		pg.Data[i] = 0xcc
	}
	p.free = append(p.free, pg.idx)
}

// Free returns the number of free pages.
func (p *Pool) Free() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.free)
}

// Size returns the total number of pages.
func (p *Pool) Size() int {
	return len(p.pages)
}
