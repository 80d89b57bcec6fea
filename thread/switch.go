package thread

import (
	"fmt"
	"runtime"

	"tkernel/debug"
	"tkernel/interrupts"
)

// doSchedule frees the threads that died since the last switch, gives the
// running thread status and switches to the next thread. Interrupts must
// be off.
func (s *Scheduler) doSchedule(status Status) {
	debug.Assert(s.intr.GetLevel() == interrupts.Off, "intr_get_level () == INTR_OFF")
	debug.Assert(s.current.Status() == Running, "thread_current()->status == THREAD_RUNNING")

	for !s.destruction.Empty() {
		victim := s.destruction.PopFront().Value
		s.destroy(victim)
	}
	s.current.setStatus(status)
	s.schedule()
}

func (s *Scheduler) destroy(t *Thread) {
	s.removeFromTable(t)
	s.pool.FreePage(t.page)
	t.page = nil
	t.magic = 0
}

// nextToRun pops the head of the ready queue, or returns the idle thread
// if the queue is empty.
func (s *Scheduler) nextToRun() *Thread {
	if s.ready.Empty() {
		return s.idle
	}
	return s.ready.PopFront().Value
}

func (s *Scheduler) schedule() {
	curr := s.current
	next := s.nextToRun()

	debug.Assert(s.intr.GetLevel() == interrupts.Off, "intr_get_level () == INTR_OFF")
	debug.Assert(curr.Status() != Running, "curr->status != THREAD_RUNNING")
	debug.Assert(IsThread(next), "is_thread (next)")

	next.setStatus(Running)
	s.sliceTicks = 0
	if s.activate != nil {
		s.activate(next)
	}

	if curr != next {
		// the dying thread is still running on its stack; the page is
		// freed by the next doSchedule
		if curr.Status() == Dying && curr != s.initial {
			debug.Assert(curr != next, "curr != next")
			s.destruction.PushBack(&curr.elem)
		}
		s.launch(curr, next)
	}
}

// launch saves the CPU registers into curr, loads next's and hands the CPU
// to next's goroutine. It returns when curr is switched back in. A dying
// thread's goroutine exits here.
func (s *Scheduler) launch(curr, next *Thread) {
	// curr may be freed as soon as next runs
	dying := curr.Status() == Dying

	curr.ctx.regs = s.cpu.Save()
	s.cpu.Load(next.ctx.regs)
	s.current = next

	off := s.cpu.Off()
	select {
	case next.ctx.resume <- struct{}{}:
	case <-off:
		runtime.Goexit()
	}
	if dying {
		runtime.Goexit()
	}
	park(curr.ctx.resume, off)
}

// park waits for the CPU. If the machine is powered off instead, the
// goroutine exits.
func park(resume, off <-chan struct{}) {
	select {
	case <-resume:
	case <-off:
		runtime.Goexit()
	}
}

// spawn starts the goroutine of t, parked until t is first scheduled.
func (s *Scheduler) spawn(t *Thread) {
	resume, off := t.ctx.resume, s.cpu.Off()
	go func() {
		park(resume, off)
		s.trampoline(t)
	}()
}

// trampoline is where every new thread starts: the scheduler runs with
// interrupts off, so they are enabled first.
func (s *Scheduler) trampoline(t *Thread) {
	defer func() {
		if r := recover(); r != nil {
			s.fail(r)
		}
	}()
	s.intr.Enable()
	t.fn(t.aux)
	s.Exit()
}

// Run boots on a fresh goroutine, which becomes the initial thread, and
// runs main on it. The machine powers off when main returns, when
// PowerOff is called, or when any thread panics. Run returns the
// *debug.Panic that stopped the machine, or nil.
//
// If main calls Exit instead of returning, the machine keeps running until
// PowerOff.
func (s *Scheduler) Run(main func()) error {
	go func() {
		returned := false
		defer func() {
			if r := recover(); r != nil {
				s.fail(r)
				return
			}
			if returned {
				s.stop(nil)
			}
		}()
		main()
		returned = true
	}()
	<-s.done
	return s.err
}

// PowerOff stops the machine. Safe from any goroutine.
func (s *Scheduler) PowerOff() {
	s.stop(nil)
}

// Done is closed when the machine has stopped.
func (s *Scheduler) Done() <-chan struct{} {
	return s.done
}

// Err returns the panic that stopped the machine, once Done is closed.
func (s *Scheduler) Err() error {
	<-s.done
	return s.err
}

func (s *Scheduler) fail(r any) {
	err := debug.AsError(r)
	s.log.Error().Err(err).Msg("kernel panic")
	fmt.Fprintln(s.out, err)
	s.stop(err)
}

func (s *Scheduler) stop(err error) {
	s.stopOnce.Do(func() {
		s.err = err
		s.cpu.PowerOff()
		close(s.done)
	})
}
