package mmu

import (
	"fmt"
	"sync/atomic"

	"tkernel/cpu"
	"tkernel/palloc"
)

// Each user address space is described by a page directory occupying one
// page. The kernel keeps its own directory, which is loaded into CR3
// whenever a thread without a process of its own runs.
//
// Only activation is modelled: directories carry no mappings, the point is
// that every context switch reloads CR3 and that the scheduler can tell
// user threads from kernel threads.

// PageDir is one address space.
type PageDir struct {
	page *palloc.Page
}

// Addr returns the physical address loaded into CR3.
func (pd *PageDir) Addr() uint64 {
	return uint64(pd.page.Addr)
}

func (pd *PageDir) String() string {
	if pd == nil {
		return "<kernel>"
	}
	return fmt.Sprintf("pd@%#x", pd.Addr())
}

// MMU switches the active address space of a CPU.
type MMU struct {
	cpu    *cpu.CPU
	pool   *palloc.Pool
	kernel *PageDir

	// number of CR3 loads, observability only
	loads atomic.Uint64
}

// New allocates the kernel page directory and makes it active.
func New(c *cpu.CPU, pool *palloc.Pool) (*MMU, error) {
	pg, err := pool.GetPage(palloc.Zero)
	if err != nil {
		return nil, fmt.Errorf("mmu: kernel page directory: %w", err)
	}
	m := &MMU{cpu: c, pool: pool, kernel: &PageDir{page: pg}}
	m.Activate(nil)
	return m, nil
}

// Create allocates a fresh user page directory.
func (m *MMU) Create() (*PageDir, error) {
	pg, err := m.pool.GetPage(palloc.Zero)
	if err != nil {
		return nil, fmt.Errorf("mmu: page directory: %w", err)
	}
	return &PageDir{page: pg}, nil
}

// Destroy frees pd. If pd is active the kernel directory is loaded first.
func (m *MMU) Destroy(pd *PageDir) {
	if pd == nil || pd == m.kernel {
		return
	}
	if m.cpu.CR3 == pd.Addr() {
		m.Activate(nil)
	}
	m.pool.FreePage(pd.page)
	pd.page = nil
}

// Activate loads pd into CR3; nil selects the kernel directory.
func (m *MMU) Activate(pd *PageDir) {
	if pd == nil {
		pd = m.kernel
	}
	m.cpu.CR3 = pd.Addr()
	m.loads.Add(1)
}

// Kernel returns the kernel page directory.
func (m *MMU) Kernel() *PageDir {
	return m.kernel
}

// Loads returns the number of CR3 loads so far.
func (m *MMU) Loads() uint64 {
	return m.loads.Load()
}
