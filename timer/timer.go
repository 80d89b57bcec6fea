// Package timer counts timer interrupts and puts threads to sleep for a
// number of them.
//
// Sleeping threads wait on a queue ordered by wake-up tick, higher priority
// first among equal ticks. Every timer interrupt wakes the due prefix of
// that queue. Delays shorter than one tick cannot be slept and are busy
// waited instead, using the loop rate measured by Calibrate.
package timer

import (
	"fmt"
	"io"
	"sync/atomic"

	"github.com/rs/zerolog"

	"tkernel/cpu"
	"tkernel/debug"
	"tkernel/interrupts"
	"tkernel/intr"
	"tkernel/list"
	"tkernel/pit"
	"tkernel/thread"
)

// Timer is the system timer service.
type Timer struct {
	cpu   *cpu.CPU
	intr  *intr.Dispatcher
	sched *thread.Scheduler
	pit   *pit.PIT
	out   io.Writer
	log   zerolog.Logger

	freq         int
	ticks        atomic.Int64
	sleeping     list.List[*thread.Thread]
	loopsPerTick uint64
}

// New returns a timer service driving p.
func New(c *cpu.CPU, d *intr.Dispatcher, s *thread.Scheduler, p *pit.PIT, out io.Writer, log zerolog.Logger) *Timer {
	if out == nil {
		out = io.Discard
	}
	return &Timer{
		cpu:   c,
		intr:  d,
		sched: s,
		pit:   p,
		out:   out,
		log:   log.With().Str("component", "timer").Logger(),
	}
}

// Init programs the interval timer to interrupt freq times per second and
// registers the interrupt handler.
func (t *Timer) Init(freq int) error {
	if err := t.pit.Init(freq); err != nil {
		return err
	}
	t.freq = freq
	t.sleeping.Init()
	t.intr.RegisterExt(interrupts.Timer, t.interrupt, "8254 Timer")
	t.log.Debug().Int("freq", freq).Uint32("count", t.pit.Count()).Msg("timer programmed")
	return nil
}

// Freq returns the number of timer interrupts per second.
func (t *Timer) Freq() int {
	return t.freq
}

// Ticks returns the number of timer ticks since boot.
func (t *Timer) Ticks() int64 {
	old := t.intr.Disable()
	v := t.ticks.Load()
	t.intr.SetLevel(old)
	return v
}

// Uptime returns the tick count without touching the interrupt level.
// Safe from any goroutine.
func (t *Timer) Uptime() int64 {
	return t.ticks.Load()
}

// Elapsed returns the number of ticks since then, a value once returned
// by Ticks.
func (t *Timer) Elapsed(then int64) int64 {
	return t.Ticks() - then
}

// byWakeTick orders sleepers by wake-up tick, then by descending priority.
func byWakeTick(a, b *thread.Thread, _ any) bool {
	ea, eb := a.SleepEntry(), b.SleepEntry()
	if ea.WakeTick != eb.WakeTick {
		return ea.WakeTick < eb.WakeTick
	}
	return ea.Priority > eb.Priority
}

// Sleep suspends the running thread for about n ticks. Interrupts must be
// on. n <= 0 returns at once.
func (t *Timer) Sleep(n int64) {
	start := t.Ticks()
	debug.Assert(t.intr.GetLevel() == interrupts.On, "intr_get_level () == INTR_ON")
	if n <= 0 {
		return
	}

	curr := t.sched.Current()
	old := t.intr.Disable()
	e := curr.SleepEntry()
	e.WakeTick = start + n
	e.Priority = curr.Priority()
	t.sleeping.InsertOrdered(curr.Elem(), byWakeTick, nil)
	t.sched.Block()
	t.intr.SetLevel(old)
}

// Sleepers returns the number of threads on the sleep queue.
func (t *Timer) Sleepers() int {
	old := t.intr.Disable()
	n := t.sleeping.Len()
	t.intr.SetLevel(old)
	return n
}

// interrupt runs on every timer tick. It must not block or allocate.
func (t *Timer) interrupt(*cpu.Frame) {
	now := t.ticks.Add(1)
	t.sched.Tick()

	for !t.sleeping.Empty() {
		th := t.sleeping.Front().Value
		if th.SleepEntry().WakeTick > now {
			break
		}
		t.sleeping.PopFront()
		t.sched.Unblock(th)
		if t.sched.Preempts(th) {
			t.intr.YieldOnReturn()
		}
	}
}

// Calibrate measures how many busy-wait iterations fit in one tick.
// Interrupts must be on.
func (t *Timer) Calibrate() {
	debug.Assert(t.intr.GetLevel() == interrupts.On, "intr_get_level () == INTR_ON")
	t.log.Info().Msg("calibrating timer")

	// largest power of two that still fits in one tick
	lpt := uint64(1) << 10
	for !t.tooManyLoops(lpt << 1) {
		lpt <<= 1
		debug.Assert(lpt != 0, "loops_per_tick != 0")
	}

	// refine the next bits
	high := lpt
	for bit := high >> 1; bit != high>>10; bit >>= 1 {
		if !t.tooManyLoops(lpt | bit) {
			lpt |= bit
		}
	}
	t.loopsPerTick = lpt

	fmt.Fprintf(t.out, "Calibrating timer...  %d loops/s.\n", lpt*uint64(t.freq))
	t.log.Info().Uint64("loops_per_tick", lpt).Msg("timer calibrated")
}

// LoopsPerTick returns the value measured by Calibrate.
func (t *Timer) LoopsPerTick() uint64 {
	return t.loopsPerTick
}

// tooManyLoops reports whether loops iterations take longer than one tick.
func (t *Timer) tooManyLoops(loops uint64) bool {
	// wait for a tick edge
	start := t.ticks.Load()
	for t.ticks.Load() == start {
		t.cpu.Step()
	}

	start = t.ticks.Load()
	t.busyWait(int64(loops))
	return start != t.ticks.Load()
}

// busyWait spins for loops iterations, one instruction each.
func (t *Timer) busyWait(loops int64) {
	for ; loops > 0; loops-- {
		t.cpu.Step()
	}
}

// MSleep suspends the running thread for about ms milliseconds.
func (t *Timer) MSleep(ms int64) {
	t.realTimeSleep(ms, 1000)
}

// USleep suspends the running thread for about us microseconds.
func (t *Timer) USleep(us int64) {
	t.realTimeSleep(us, 1000*1000)
}

// NSleep suspends the running thread for about ns nanoseconds.
func (t *Timer) NSleep(ns int64) {
	t.realTimeSleep(ns, 1000*1000*1000)
}

// realTimeSleep sleeps num/denom seconds: whole ticks are slept, anything
// shorter is busy waited.
func (t *Timer) realTimeSleep(num int64, denom int64) {
	ticks := num * int64(t.freq) / denom
	debug.Assert(t.intr.GetLevel() == interrupts.On, "intr_get_level () == INTR_ON")
	if ticks > 0 {
		t.Sleep(ticks)
		return
	}
	// scale both by 1000 to avoid overflow
	debug.Assert(denom%1000 == 0, "denom % 1000 == 0")
	t.busyWait(int64(t.loopsPerTick) * num / 1000 * int64(t.freq) / (denom / 1000))
}

// PrintStats writes the tick count.
func (t *Timer) PrintStats() {
	fmt.Fprintf(t.out, "Timer: %d ticks\n", t.Ticks())
}
