// Package kernel assembles the machine and boots it.
//
// The boot order is the one of a small teaching kernel: the running code
// becomes the initial thread, the interrupt controller is remapped, the
// timer and keyboard register their handlers, the idle thread is started,
// interrupts go on and the busy-wait loop is calibrated. Only then does the
// caller's main run.
package kernel

import (
	"fmt"
	"io"

	"github.com/fatih/color"
	"github.com/rs/zerolog"

	"tkernel/config"
	"tkernel/console"
	"tkernel/cpu"
	"tkernel/debug"
	"tkernel/intr"
	"tkernel/kbd"
	"tkernel/mmu"
	"tkernel/palloc"
	"tkernel/pic"
	"tkernel/pit"
	"tkernel/thread"
	"tkernel/timer"
)

// Kernel is one simulated machine with its kernel.
type Kernel struct {
	CPU   *cpu.CPU
	PIC   *pic.Pair
	PIT   *pit.PIT
	Pool  *palloc.Pool
	MMU   *mmu.MMU
	Intr  *intr.Dispatcher
	Sched *thread.Scheduler
	Timer *timer.Timer
	// Kbd is nil unless the keyboard is configured
	Kbd *kbd.Keyboard

	cfg     config.Config
	console console.Console
	log     zerolog.Logger
	input   io.Reader
}

var haltBanner = color.New(color.FgRed, color.Bold)

// New builds a machine for cfg writing to c. Nothing runs until Run.
func New(cfg config.Config, c console.Console, log zerolog.Logger) (*Kernel, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	policy, err := thread.ParsePolicy(cfg.Policy)
	if err != nil {
		return nil, err
	}
	pool, err := palloc.NewPool(cfg.Pages)
	if err != nil {
		return nil, fmt.Errorf("kernel: %w", err)
	}

	k := &Kernel{
		CPU:     cpu.New(),
		PIC:     pic.New(),
		Pool:    pool,
		cfg:     cfg,
		console: c,
		log:     log.With().Str("component", "kernel").Logger(),
	}
	if k.MMU, err = mmu.New(k.CPU, pool); err != nil {
		return nil, fmt.Errorf("kernel: %w", err)
	}
	k.PIT = pit.New(k.PIC)
	if cfg.Clock == config.ClockVirtual {
		k.CPU.Attach(k.PIT)
	}
	k.Intr = intr.New(k.CPU, k.PIC, c, log)
	k.Sched = thread.New(k.CPU, k.Intr, pool, thread.Options{
		TimeSlice: cfg.TimeSlice,
		Policy:    policy,
		Out:       c,
		Log:       log,
	})
	k.Timer = timer.New(k.CPU, k.Intr, k.Sched, k.PIT, c, log)
	if cfg.Keyboard {
		k.Kbd = kbd.New(k.PIC, k.CPU, log)
	}
	return k, nil
}

// AttachKeyboard makes r the keyboard input. It must be called before Run
// and only has an effect if the keyboard is configured.
func (k *Kernel) AttachKeyboard(r io.Reader) {
	k.input = r
}

// Console returns where kernel output goes.
func (k *Kernel) Console() console.Console {
	return k.console
}

// Config returns the configuration the machine was built from.
func (k *Kernel) Config() config.Config {
	return k.cfg
}

// Run boots the machine and runs main on the initial thread. It returns
// when main returns, when PowerOff is called or when the kernel panics;
// in the last case the error is the *debug.Panic.
func (k *Kernel) Run(main func(k *Kernel)) error {
	err := k.Sched.Run(func() {
		k.boot()
		if main != nil {
			main(k)
		}
	})
	k.PIT.Stop()

	if err != nil {
		_ = k.console.WriteConsole(haltBanner.Sprint("Kernel halted."))
		k.log.Error().Err(err).Msg("machine halted")
		return err
	}
	k.log.Info().Int64("ticks", k.Timer.Uptime()).Msg("powering off")
	return nil
}

func (k *Kernel) boot() {
	k.Intr.Disable()
	k.Sched.Init()

	k.Intr.Init()
	k.Sched.SetActivator(func(t *thread.Thread) {
		k.MMU.Activate(t.PageDir())
	})
	k.Sched.SetExitHook(k.processExit)

	if err := k.Timer.Init(k.cfg.TimerFreq); err != nil {
		debug.Panicf("%v", err)
	}
	if k.Kbd != nil {
		k.Kbd.Init(k.Intr, k.Sched)
		if k.input != nil {
			k.Kbd.Attach(k.input)
		}
	}

	if err := k.Sched.Start(); err != nil {
		debug.Panicf("%v", err)
	}
	if k.cfg.Clock == config.ClockRealtime {
		k.PIT.Start(k.CPU)
	}
	k.Timer.Calibrate()

	k.log.Info().
		Int("freq", k.cfg.TimerFreq).
		Str("policy", k.Sched.Policy().String()).
		Str("clock", k.cfg.Clock).
		Int("free_pages", k.Pool.Free()).
		Msg("boot complete")
}

// CreateProcess starts a thread that runs fn in an address space of its
// own. The address space is released when the thread exits.
func (k *Kernel) CreateProcess(name string, priority int, fn thread.Func, aux any) (thread.ID, error) {
	pd, err := k.MMU.Create()
	if err != nil {
		return thread.IDError, err
	}
	id, err := k.Sched.Create(name, priority, func(aux any) {
		old := k.Intr.Disable()
		k.Sched.Current().SetPageDir(pd)
		k.MMU.Activate(pd)
		k.Intr.SetLevel(old)
		fn(aux)
	}, aux)
	if err != nil {
		k.MMU.Destroy(pd)
		return thread.IDError, err
	}
	return id, nil
}

// processExit releases the address space of a dying process.
func (k *Kernel) processExit(t *thread.Thread) {
	pd := t.PageDir()
	if pd == nil {
		return
	}
	old := k.Intr.Disable()
	t.SetPageDir(nil)
	k.MMU.Destroy(pd)
	k.Intr.SetLevel(old)
	k.log.Debug().Int("tid", int(t.ID())).Msg("address space released")
}

// PowerOff stops the machine. Safe from any goroutine.
func (k *Kernel) PowerOff() {
	k.Sched.PowerOff()
}

// PrintStats writes the statistics of every subsystem to the console.
func (k *Kernel) PrintStats() {
	k.Timer.PrintStats()
	k.Sched.PrintStats()
	if k.Kbd != nil {
		_ = k.console.WriteConsole(fmt.Sprintf("Keyboard: %d keys pressed", k.Kbd.Pressed()))
	}
}
