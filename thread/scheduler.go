package thread

import (
	"fmt"
	"io"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/rs/zerolog"

	"tkernel/cpu"
	"tkernel/debug"
	"tkernel/flags"
	"tkernel/interrupts"
	"tkernel/intr"
	"tkernel/list"
	"tkernel/palloc"
)

// TimeSlice is the default number of ticks a thread runs before it is
// preempted.
const TimeSlice = 4

// entryRIP is the address new threads start at in register dumps.
const entryRIP = 0x8004_2000_00

// Policy selects how the ready queue is ordered.
type Policy int

const (
	// RoundRobin serves ready threads first come first served.
	RoundRobin Policy = iota
	// PriorityOrder serves the highest priority ready thread first,
	// first come first served among equals.
	PriorityOrder
)

func (p Policy) String() string {
	if p == PriorityOrder {
		return "priority"
	}
	return "rr"
}

// ParsePolicy accepts "rr" and "priority".
func ParsePolicy(s string) (Policy, error) {
	switch strings.ToLower(s) {
	case "", "rr", "round-robin":
		return RoundRobin, nil
	case "priority":
		return PriorityOrder, nil
	}
	return RoundRobin, fmt.Errorf("thread: unknown scheduling policy %q", s)
}

// Options configure a Scheduler.
type Options struct {
	// TimeSlice in ticks, TimeSlice if zero
	TimeSlice int
	Policy    Policy
	// Out receives statistics and the panic message
	Out io.Writer
	Log zerolog.Logger
}

// Stats counts timer ticks by what the CPU was doing.
type Stats struct {
	IdleTicks   int64
	KernelTicks int64
	UserTicks   int64
}

// Scheduler owns all threads of one CPU.
type Scheduler struct {
	cpu  *cpu.CPU
	intr *intr.Dispatcher
	pool *palloc.Pool
	out  io.Writer
	log  zerolog.Logger

	timeSlice int
	policy    Policy

	// changed only by the running thread with interrupts off
	ready       list.List[*Thread]
	destruction list.List[*Thread]
	current     *Thread
	idle        *Thread
	initial     *Thread
	sliceTicks  int

	idMu   sync.Mutex
	nextID ID

	// thread table for Threads and Lookup
	tableMu sync.Mutex
	table   []*Thread

	idleTicks   atomic.Int64
	kernelTicks atomic.Int64
	userTicks   atomic.Int64

	activate func(*Thread)
	exitHook func(*Thread)

	stopOnce sync.Once
	err      error
	done     chan struct{}
}

// New returns a scheduler for c. Init must run before anything else.
func New(c *cpu.CPU, d *intr.Dispatcher, pool *palloc.Pool, opts Options) *Scheduler {
	if opts.TimeSlice <= 0 {
		opts.TimeSlice = TimeSlice
	}
	if opts.Out == nil {
		opts.Out = io.Discard
	}
	return &Scheduler{
		cpu:       c,
		intr:      d,
		pool:      pool,
		out:       opts.Out,
		log:       opts.Log.With().Str("component", "thread").Logger(),
		timeSlice: opts.TimeSlice,
		policy:    opts.Policy,
		nextID:    1,
		done:      make(chan struct{}),
	}
}

// Init turns the code that is running into the initial thread, "main".
// Interrupts must be off.
func (s *Scheduler) Init() {
	debug.Assert(s.intr.GetLevel() == interrupts.Off, "intr_get_level () == INTR_OFF")

	s.ready.Init()
	s.destruction.Init()

	t := &Thread{}
	s.initThread(t, "main", PriDefault)
	t.setStatus(Running)
	t.id = s.allocateID()
	t.ctx.resume = make(chan struct{})
	s.initial = t
	s.current = t
	s.addToTable(t)

	s.intr.SetYield(s.Yield)
	s.log.Debug().Int("tid", int(t.id)).Msg("initial thread")
}

// Start creates the idle thread and enables interrupts, which starts
// preemptive scheduling.
func (s *Scheduler) Start() error {
	t, err := s.newThread("idle", PriMin, s.idleLoop, nil)
	if err != nil {
		return fmt.Errorf("thread: idle: %w", err)
	}
	s.idle = t
	s.log.Debug().Int("tid", int(t.id)).Msg("idle thread created")
	s.intr.Enable()
	return nil
}

// Create starts a new thread running fn(aux) and puts it on the ready
// queue. It returns IDError and an error wrapping palloc.ErrExhausted if
// no stack page is left. The new thread may run, and even exit, before
// Create returns.
func (s *Scheduler) Create(name string, priority int, fn Func, aux any) (ID, error) {
	debug.Assert(fn != nil, "function != NULL")

	t, err := s.newThread(name, priority, fn, aux)
	if err != nil {
		return IDError, err
	}
	id := t.id
	s.log.Debug().Int("tid", int(id)).Str("name", t.name).Int("priority", priority).Msg("thread created")
	s.Unblock(t)
	return id, nil
}

func (s *Scheduler) newThread(name string, priority int, fn Func, aux any) (*Thread, error) {
	pg, err := s.pool.GetPage(palloc.Zero)
	if err != nil {
		return nil, fmt.Errorf("thread %q: %w", name, err)
	}
	t := &Thread{}
	s.initThread(t, name, priority)
	t.page = pg
	t.id = s.allocateID()
	t.fn = fn
	t.aux = aux

	// first switch to t enters the trampoline with interrupts on
	t.ctx.regs = cpu.Regs{
		RIP: entryRIP,
		RSP: uint64(pg.Addr) + palloc.PageSize - 8,
		CS:  cpu.SelKCSeg,
		SS:  cpu.SelKDSeg,
		DS:  cpu.SelKDSeg,
		ES:  cpu.SelKDSeg,
	}
	t.ctx.regs.RFlags.Set(flags.IF)
	t.ctx.resume = make(chan struct{})

	s.addToTable(t)
	s.spawn(t)
	return t, nil
}

func (s *Scheduler) initThread(t *Thread, name string, priority int) {
	debug.Assert(t != nil, "t != NULL")
	debug.Assert(PriMin <= priority && priority <= PriMax, "PRI_MIN <= priority && priority <= PRI_MAX")

	if len(name) > nameMax {
		name = name[:nameMax]
	}
	t.name = name
	t.elem.Value = t
	t.setStatus(Blocked)
	t.priority.Store(int32(priority))
	t.magic = Magic
}

func (s *Scheduler) allocateID() ID {
	s.idMu.Lock()
	defer s.idMu.Unlock()
	id := s.nextID
	s.nextID++
	return id
}

// Block puts the running thread to sleep until Unblock. Interrupts must be
// off and it may not be called from an interrupt handler.
func (s *Scheduler) Block() {
	debug.Assert(!s.intr.Context(), "!intr_context ()")
	debug.Assert(s.intr.GetLevel() == interrupts.Off, "intr_get_level () == INTR_OFF")
	s.doSchedule(Blocked)
}

// Unblock moves a blocked thread to the ready queue. It never preempts the
// running thread and may be called from interrupt handlers.
func (s *Scheduler) Unblock(t *Thread) {
	debug.Assert(IsThread(t), "is_thread (t)")

	old := s.intr.Disable()
	debug.Assert(t.Status() == Blocked, "t->status == THREAD_BLOCKED")
	s.enqueue(t)
	t.setStatus(Ready)
	s.intr.SetLevel(old)
}

func (s *Scheduler) enqueue(t *Thread) {
	debug.Assert(t != s.idle, "idle thread is never queued")
	if s.policy == PriorityOrder {
		s.ready.InsertOrdered(&t.elem, byPriority, nil)
		return
	}
	s.ready.PushBack(&t.elem)
}

// Current returns the running thread.
func (s *Scheduler) Current() *Thread {
	t := s.current
	// a failure here means the record was freed or overwritten
	debug.Assert(IsThread(t), "is_thread (t)")
	debug.Assert(t.Status() == Running, "t->status == THREAD_RUNNING")
	return t
}

// Name returns the name of the running thread.
func (s *Scheduler) Name() string {
	return s.Current().name
}

// TID returns the id of the running thread.
func (s *Scheduler) TID() ID {
	return s.Current().id
}

// Exit destroys the running thread. It never returns.
func (s *Scheduler) Exit() {
	debug.Assert(!s.intr.Context(), "!intr_context ()")

	curr := s.Current()
	if s.exitHook != nil {
		s.exitHook(curr)
	}
	s.log.Debug().Int("tid", int(curr.id)).Str("name", curr.name).Msg("thread exit")

	// the page is freed by the next thread that schedules
	s.intr.Disable()
	s.doSchedule(Dying)
	debug.NotReached()
}

// Yield gives up the CPU; the running thread stays ready and may be chosen
// again at once. The idle thread is never ready: it yields blocked.
func (s *Scheduler) Yield() {
	curr := s.Current()
	debug.Assert(!s.intr.Context(), "!intr_context ()")

	old := s.intr.Disable()
	status := Blocked
	if curr != s.idle {
		s.enqueue(curr)
		status = Ready
	}
	s.doSchedule(status)
	s.intr.SetLevel(old)
}

// SetPriority changes the priority of the running thread. It takes effect
// at the next scheduling decision.
func (s *Scheduler) SetPriority(priority int) {
	debug.Assert(PriMin <= priority && priority <= PriMax, "PRI_MIN <= priority && priority <= PRI_MAX")
	s.Current().priority.Store(int32(priority))
}

// Priority returns the priority of the running thread.
func (s *Scheduler) Priority() int {
	return s.Current().Priority()
}

// Policy returns the ready queue policy.
func (s *Scheduler) Policy() Policy {
	return s.policy
}

// Preempts reports whether making t ready should preempt the running
// thread: only under PriorityOrder, and only if t outranks it.
func (s *Scheduler) Preempts(t *Thread) bool {
	return s.policy == PriorityOrder && t.Priority() > s.Current().Priority()
}

// Tick accounts one timer tick to the running thread and requests
// preemption once its time slice is used up. Called by the timer interrupt.
func (s *Scheduler) Tick() {
	t := s.Current()
	switch {
	case t == s.idle:
		s.idleTicks.Add(1)
	case t.PageDir() != nil:
		s.userTicks.Add(1)
	default:
		s.kernelTicks.Add(1)
	}

	s.sliceTicks++
	if s.sliceTicks >= s.timeSlice {
		s.intr.YieldOnReturn()
	}
}

// Stats returns the tick statistics.
func (s *Scheduler) Stats() Stats {
	return Stats{
		IdleTicks:   s.idleTicks.Load(),
		KernelTicks: s.kernelTicks.Load(),
		UserTicks:   s.userTicks.Load(),
	}
}

// PrintStats writes the tick statistics.
func (s *Scheduler) PrintStats() {
	st := s.Stats()
	fmt.Fprintf(s.out, "Thread: %d idle ticks, %d kernel ticks, %d user ticks\n",
		st.IdleTicks, st.KernelTicks, st.UserTicks)
}

// Idle returns the idle thread.
func (s *Scheduler) Idle() *Thread {
	return s.idle
}

// Initial returns the thread Init was called from.
func (s *Scheduler) Initial() *Thread {
	return s.initial
}

// ReadyLen returns the length of the ready queue.
func (s *Scheduler) ReadyLen() int {
	return s.ready.Len()
}

// InReady reports whether t is on the ready queue.
func (s *Scheduler) InReady(t *Thread) bool {
	found := false
	s.ready.Each(func(r *Thread) bool {
		found = r == t
		return !found
	})
	return found
}

// SetActivator installs the function that switches address spaces; it is
// called with the incoming thread on every scheduling decision.
func (s *Scheduler) SetActivator(fn func(*Thread)) {
	s.activate = fn
}

// SetExitHook installs the function Exit calls before a thread dies.
func (s *Scheduler) SetExitHook(fn func(*Thread)) {
	s.exitHook = fn
}

// Threads returns a snapshot of all live threads. Safe from any goroutine.
func (s *Scheduler) Threads() []Info {
	s.tableMu.Lock()
	defer s.tableMu.Unlock()

	res := make([]Info, 0, len(s.table))
	for _, t := range s.table {
		res = append(res, Info{
			ID:       t.id,
			Name:     t.name,
			Status:   t.Status(),
			Priority: t.Priority(),
			User:     t.PageDir() != nil,
		})
	}
	return res
}

// Lookup returns the live thread with id, or nil.
func (s *Scheduler) Lookup(id ID) *Thread {
	s.tableMu.Lock()
	defer s.tableMu.Unlock()
	for _, t := range s.table {
		if t.id == id {
			return t
		}
	}
	return nil
}

func (s *Scheduler) addToTable(t *Thread) {
	s.tableMu.Lock()
	defer s.tableMu.Unlock()
	s.table = append(s.table, t)
}

func (s *Scheduler) removeFromTable(t *Thread) {
	s.tableMu.Lock()
	defer s.tableMu.Unlock()
	for i, r := range s.table {
		if r == t {
			s.table = append(s.table[:i], s.table[i+1:]...)
			return
		}
	}
}

// idleLoop runs when no other thread is ready. It is never on the ready
// queue: the scheduler picks it when the queue is empty.
func (s *Scheduler) idleLoop(any) {
	for {
		s.intr.Disable()
		s.Block()

		// sti; hlt: an interrupt between the two would waste a tick
		s.cpu.Halt()
	}
}
