// Package thread implements kernel threads and the scheduler that
// multiplexes them on the single CPU.
//
// Every thread runs on a goroutine of its own, but only the goroutine that
// holds the CPU executes; a context switch saves the processor registers
// into the outgoing thread, loads the incoming thread's registers and hands
// the CPU to its goroutine. All scheduler state is changed by the running
// thread with interrupts off.
package thread

import (
	"fmt"
	"sync/atomic"

	"tkernel/cpu"
	"tkernel/list"
	"tkernel/mmu"
	"tkernel/palloc"
)

// ID identifies a thread.
type ID int

// IDError is returned by Create on failure.
const IDError ID = -1

// thread priorities
const (
	PriMin     = 0
	PriDefault = 31
	PriMax     = 63
)

// Magic marks a live thread record; a mismatch means the record was freed
// or overwritten.
const Magic = 0xcd6abf4b

// nameMax is the longest name kept; longer names are truncated.
const nameMax = 15

// Status is the life cycle state of a thread.
type Status int32

const (
	// Running : holds the CPU
	Running Status = iota
	// Ready : waiting in the ready queue
	Ready
	// Blocked : waiting for Unblock
	Blocked
	// Dying : about to be destroyed
	Dying
)

var statusNames = [...]string{"RUNNING", "READY", "BLOCKED", "DYING"}

func (s Status) String() string {
	if s < 0 || int(s) >= len(statusNames) {
		return fmt.Sprintf("Status(%d)", int32(s))
	}
	return statusNames[s]
}

// Func is the body of a thread.
type Func func(aux any)

// SleepEntry is the bookkeeping of a timed sleep. It is filled by the
// timer when the thread goes to sleep and is meaningful only while the
// thread is queued on the sleep queue.
type SleepEntry struct {
	WakeTick int64
	Priority int
}

// context is the saved execution context of a thread that is not running.
// resume carries the CPU: a parked goroutine waits on it.
type context struct {
	regs   cpu.Regs
	resume chan struct{}
}

// Thread is a kernel thread.
type Thread struct {
	id       ID
	name     string
	status   atomic.Int32
	priority atomic.Int32
	magic    uint32

	// stack page; nil for the initial thread, whose stack predates the
	// allocator
	page *palloc.Page
	ctx  context

	// ready queue or a wait queue, never both
	elem  list.Elem[*Thread]
	sleep SleepEntry

	// address space of the process this thread runs, nil for kernel threads
	pageDir atomic.Pointer[mmu.PageDir]

	fn  Func
	aux any
}

// IsThread reports whether t points at a live thread.
func IsThread(t *Thread) bool {
	return t != nil && t.magic == Magic
}

// ID returns the thread identifier.
func (t *Thread) ID() ID {
	return t.id
}

// Name returns the thread name.
func (t *Thread) Name() string {
	return t.name
}

// Status returns the life cycle state.
func (t *Thread) Status() Status {
	return Status(t.status.Load())
}

func (t *Thread) setStatus(s Status) {
	t.status.Store(int32(s))
}

// Priority returns the thread priority.
func (t *Thread) Priority() int {
	return int(t.priority.Load())
}

// Elem returns the queue link of t.
func (t *Thread) Elem() *list.Elem[*Thread] {
	return &t.elem
}

// SleepEntry returns the sleep bookkeeping of t.
func (t *Thread) SleepEntry() *SleepEntry {
	return &t.sleep
}

// PageDir returns the address space of t, nil for kernel threads.
func (t *Thread) PageDir() *mmu.PageDir {
	return t.pageDir.Load()
}

// SetPageDir attaches an address space; t then counts as a user thread.
func (t *Thread) SetPageDir(pd *mmu.PageDir) {
	t.pageDir.Store(pd)
}

// Stack returns the stack page of t.
func (t *Thread) Stack() *palloc.Page {
	return t.page
}

// Regs returns the registers saved at the last switch away from t.
func (t *Thread) Regs() cpu.Regs {
	return t.ctx.regs
}

func (t *Thread) String() string {
	return fmt.Sprintf("%s(%d)", t.name, t.id)
}

// Info is a snapshot of one thread for display.
type Info struct {
	ID       ID
	Name     string
	Status   Status
	Priority int
	User     bool
}

// byPriority orders threads by descending priority.
func byPriority(a, b *Thread, _ any) bool {
	return a.Priority() > b.Priority()
}
