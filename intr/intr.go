// Package intr dispatches every interrupt, fault and exception taken by the
// CPU to the handler registered for its vector.
//
// External interrupts (vectors 0x20..0x2f, raised through the PIC) are
// special: they run with interrupts off, never nest, may not sleep, and are
// acknowledged to the controller before the handler returns. A handler that
// wants the running thread preempted calls YieldOnReturn; the yield happens
// after the EOI, just before the interrupt returns.
package intr

import (
	"fmt"
	"io"
	"sync/atomic"

	"github.com/fatih/color"
	"github.com/rs/zerolog"

	"tkernel/cpu"
	"tkernel/debug"
	"tkernel/interrupts"
	"tkernel/pic"
)

// Handler services one interrupt. It may modify the frame; the CPU
// resumes from the frame on return.
type Handler func(f *cpu.Frame)

// Dispatcher owns the interrupt descriptor table.
type Dispatcher struct {
	cpu *cpu.CPU
	pic *pic.Pair
	out io.Writer
	log zerolog.Logger

	handlers [interrupts.Count]Handler
	names    [interrupts.Count]string

	inExternal    bool
	yieldOnReturn bool
	yield         func()
	stack         ServiceStack

	counts [interrupts.Count]atomic.Uint64
}

// New returns a dispatcher for c and p. Frame dumps go to out.
func New(c *cpu.CPU, p *pic.Pair, out io.Writer, log zerolog.Logger) *Dispatcher {
	return &Dispatcher{
		cpu: c,
		pic: p,
		out: out,
		log: log.With().Str("component", "intr").Logger(),
	}
}

// Init programs the interrupt controllers, points every gate at the common
// entry and loads the default vector names. Interrupts stay off.
func (d *Dispatcher) Init() {
	d.initPIC()

	for i := range d.cpu.IDT {
		d.cpu.IDT[i] = cpu.Gate{Present: true, Type: cpu.InterruptGate, DPL: 0}
		d.handlers[i] = nil
	}
	d.names = interrupts.Names()
	d.cpu.SetController(d.pic)
	d.cpu.SetEntry(d.handle)
	d.log.Debug().Msg("descriptor table loaded")
}

// initPIC remaps IRQ 0..15 to vectors 0x20..0x2f, away from the exceptions.
func (d *Dispatcher) initPIC() {
	// mask everything on both chips
	d.pic.Out(pic.MasterData, 0xff)
	d.pic.Out(pic.SlaveData, 0xff)

	// master: edge triggered, cascade, ICW4; IR0..7 -> 0x20..0x27; slave on IR2; 8086 mode
	d.pic.Out(pic.MasterCmd, 0x11)
	d.pic.Out(pic.MasterData, interrupts.ExtFirst)
	d.pic.Out(pic.MasterData, 0x04)
	d.pic.Out(pic.MasterData, 0x01)

	// slave: IR0..7 -> 0x28..0x2f; slave id 2
	d.pic.Out(pic.SlaveCmd, 0x11)
	d.pic.Out(pic.SlaveData, interrupts.SlaveFirst)
	d.pic.Out(pic.SlaveData, 0x02)
	d.pic.Out(pic.SlaveData, 0x01)

	// unmask all
	d.pic.Out(pic.MasterData, 0x00)
	d.pic.Out(pic.SlaveData, 0x00)
}

// GetLevel returns the current interrupt level.
func (d *Dispatcher) GetLevel() interrupts.Level {
	if d.cpu.IF() {
		return interrupts.On
	}
	return interrupts.Off
}

// SetLevel enables or disables interrupts and returns the previous level.
func (d *Dispatcher) SetLevel(level interrupts.Level) interrupts.Level {
	if level == interrupts.On {
		return d.Enable()
	}
	return d.Disable()
}

// Enable turns interrupts on and returns the previous level. Requests
// already pending are taken before Enable returns.
func (d *Dispatcher) Enable() interrupts.Level {
	old := d.GetLevel()
	debug.Assert(!d.Context(), "!intr_context ()")
	d.cpu.Sti()
	return old
}

// Disable turns interrupts off and returns the previous level.
func (d *Dispatcher) Disable() interrupts.Level {
	old := d.GetLevel()
	d.cpu.Cli()
	return old
}

// RegisterExt installs h for external vector vec. The handler runs with
// interrupts off.
func (d *Dispatcher) RegisterExt(vec uint8, h Handler, name string) {
	debug.Assert(interrupts.IsExternal(vec), "vec_no >= 0x20 && vec_no <= 0x2f")
	d.register(vec, 0, interrupts.Off, h, name)
}

// RegisterInt installs h for internal vector vec. The handler runs at
// level; dpl 3 lets user code reach it with a software interrupt, dpl 0
// does not. Faults raised in user mode still reach dpl 0 handlers.
func (d *Dispatcher) RegisterInt(vec uint8, dpl int, level interrupts.Level, h Handler, name string) {
	debug.Assert(!interrupts.IsExternal(vec), "vec_no < 0x20 || vec_no > 0x2f")
	d.register(vec, dpl, level, h, name)
}

func (d *Dispatcher) register(vec uint8, dpl int, level interrupts.Level, h Handler, name string) {
	debug.Assert(h != nil, "handler != NULL")
	debug.Assert(dpl >= 0 && dpl <= 3, "dpl >= 0 && dpl <= 3")
	debug.Assert(d.handlers[vec] == nil, "intr_handlers[vec_no] == NULL")

	gate := cpu.Gate{Present: true, Type: cpu.InterruptGate, DPL: dpl}
	if level == interrupts.On {
		gate.Type = cpu.TrapGate
	}
	d.cpu.IDT[vec] = gate
	d.handlers[vec] = h
	d.names[vec] = name
	d.log.Debug().Uint8("vec", vec).Str("name", name).Int("dpl", dpl).
		Stringer("level", level).Msg("handler registered")
}

// Context reports whether an external interrupt is being serviced.
func (d *Dispatcher) Context() bool {
	return d.inExternal
}

// YieldOnReturn asks for the running thread to be preempted once the
// current external interrupt is done. Only valid inside one.
func (d *Dispatcher) YieldOnReturn() {
	debug.Assert(d.Context(), "intr_context ()")
	d.yieldOnReturn = true
}

// SetYield installs the function that preempts the running thread.
func (d *Dispatcher) SetYield(fn func()) {
	d.yield = fn
}

// Name returns the description of vec.
func (d *Dispatcher) Name(vec uint8) string {
	return d.names[vec]
}

// Count returns how many times vec has been dispatched.
func (d *Dispatcher) Count(vec uint8) uint64 {
	return d.counts[vec].Load()
}

// Counts returns per-vector dispatch counts.
func (d *Dispatcher) Counts() [interrupts.Count]uint64 {
	var res [interrupts.Count]uint64
	for i := range d.counts {
		res[i] = d.counts[i].Load()
	}
	return res
}

// handle is the common entry for every vector.
func (d *Dispatcher) handle(f *cpu.Frame) {
	vec := uint8(f.VecNo)
	external := interrupts.IsExternal(vec)
	if external {
		debug.Assert(d.GetLevel() == interrupts.Off, "intr_get_level () == INTR_OFF")
		debug.Assert(!d.Context(), "!intr_context ()")
		d.inExternal = true
		d.yieldOnReturn = false
	}
	d.counts[vec].Add(1)

	d.stack.Push(vec)
	if h := d.handlers[vec]; h != nil {
		h(f)
	} else if !interrupts.IsSpurious(vec) {
		d.DumpFrame(f)
		debug.Panicf("Unexpected interrupt")
	}
	// a spurious vector without a handler is ignored
	d.stack.Pop()

	if external {
		debug.Assert(d.GetLevel() == interrupts.Off, "intr_get_level () == INTR_OFF")
		debug.Assert(d.Context(), "intr_context ()")
		d.inExternal = false
		d.endOfInterrupt(vec)

		if d.yieldOnReturn {
			debug.Assert(d.yield != nil, "yield installed")
			d.yield()
		}
	}
}

// endOfInterrupt acknowledges vec to the controllers; without it the line
// is never delivered again.
func (d *Dispatcher) endOfInterrupt(vec uint8) {
	debug.Assert(interrupts.IsExternal(vec), "irq >= 0x20 && irq < 0x30")
	d.pic.Out(pic.MasterCmd, pic.EOI)
	if vec >= interrupts.SlaveFirst {
		d.pic.Out(pic.SlaveCmd, pic.EOI)
	}
}

var (
	dumpHeader = color.New(color.FgRed, color.Bold)
	dumpStack  = color.New(color.FgYellow)
)

// DumpFrame writes f to the console.
func (d *Dispatcher) DumpFrame(f *cpu.Frame) {
	dumpHeader.Fprintf(d.out, "Interrupt 0x%02x (%s) at rip=%x\n",
		f.VecNo, d.names[uint8(f.VecNo)], f.RIP)
	fmt.Fprintf(d.out, " cr2=%016x error=%16x\n", d.cpu.CR2, f.ErrorCode)
	fmt.Fprintln(d.out, f.DumpRegisters())
	dumpStack.Fprintf(d.out, "in service: %s\n", &d.stack)
}
