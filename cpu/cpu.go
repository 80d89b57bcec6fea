package cpu

import (
	"runtime"
	"sync"

	"tkernel/debug"
	"tkernel/flags"
	"tkernel/interrupts"
)

// GateType selects what happens to IF on entry.
type GateType int

const (
	// InterruptGate clears IF on entry
	InterruptGate GateType = 14
	// TrapGate leaves IF as it was
	TrapGate GateType = 15
)

// Gate is one descriptor table entry.
type Gate struct {
	Present bool
	Type    GateType
	DPL     int
}

// Controller is the interrupt controller as seen from the INTR/INTA pins.
type Controller interface {
	// Intr reports whether an unmasked request is waiting
	Intr() bool
	// Acknowledge runs the INTA cycle and returns the vector to take
	Acknowledge() uint8
}

// Device is stepped by the CPU on every cycle.
type Device interface {
	// Step lets the device observe the cycle counter
	Step(now uint64)
	// Next returns the cycle of the next event the device will raise on
	// its own, if it knows one; a halted CPU skips ahead to it.
	Next() (uint64, bool)
}

// CPU is a single simulated processor. All methods except Notify,
// PowerOff and Off must be called by the goroutine currently holding the
// processor.
type CPU struct {
	Regs Regs
	IDT  [interrupts.Count]Gate

	// CR2 keeps the last faulting address, CR3 the active page directory
	CR2, CR3 uint64

	cycles  uint64
	pic     Controller
	devices []Device
	entry   func(*Frame)

	wake    chan struct{}
	off     chan struct{}
	offOnce sync.Once
}

// New returns a CPU in its reset state: kernel mode, interrupts off.
func New() *CPU {
	c := &CPU{
		wake: make(chan struct{}, 1),
		off:  make(chan struct{}),
	}
	c.Reset()
	return c
}

// Reset clears registers and the descriptor table.
func (c *CPU) Reset() {
	c.Regs = Regs{
		CS: SelKCSeg,
		SS: SelKDSeg,
		DS: SelKDSeg,
		ES: SelKDSeg,
	}
	c.Regs.RFlags.Set(0)
	c.IDT = [interrupts.Count]Gate{}
	c.CR2, c.CR3 = 0, 0
	c.cycles = 0
}

// SetController wires the INTR line.
func (c *CPU) SetController(p Controller) {
	c.pic = p
}

// Attach adds a device stepped on every cycle.
func (c *CPU) Attach(d Device) {
	c.devices = append(c.devices, d)
}

// SetEntry installs the common interrupt entry; every gate points at it.
func (c *CPU) SetEntry(fn func(*Frame)) {
	c.entry = fn
}

// Cycles returns the number of cycles since reset.
func (c *CPU) Cycles() uint64 {
	return c.cycles
}

// IF reports the interrupt flag.
func (c *CPU) IF() bool {
	return c.Regs.RFlags.IF()
}

// Cli clears the interrupt flag.
func (c *CPU) Cli() {
	c.Regs.RFlags.SetIF(false)
}

// Sti sets the interrupt flag and takes any request already waiting.
func (c *CPU) Sti() {
	c.Regs.RFlags.SetIF(true)
	c.poll()
}

// Step executes one instruction and then looks for interrupts. A goroutine
// stepping a powered off CPU exits.
func (c *CPU) Step() {
	select {
	case <-c.off:
		runtime.Goexit()
	default:
	}
	c.Regs.RIP++
	c.tick()
	c.poll()
}

// Spin executes n instructions.
func (c *CPU) Spin(n int) {
	for i := 0; i < n; i++ {
		c.Step()
	}
}

// Halt is `sti; hlt`: it enables interrupts atomically with halting and
// returns after one interrupt has been serviced. A halted CPU skips
// ahead to the next device event; with none known it sleeps until
// Notify. If the machine is powered off while halted the calling
// goroutine exits.
func (c *CPU) Halt() {
	c.Regs.RFlags.SetIF(true)
	for {
		select {
		case <-c.off:
			runtime.Goexit()
		default:
		}
		if c.pic != nil && c.pic.Intr() {
			c.poll()
			return
		}
		if next, ok := c.nextEvent(); ok {
			if next > c.cycles+1 {
				c.cycles = next - 1
			}
			c.tick()
			continue
		}
		select {
		case <-c.wake:
		case <-c.off:
			runtime.Goexit()
		}
	}
}

// Int executes a software interrupt, `int $vec`.
func (c *CPU) Int(vec uint8) {
	c.deliver(vec, 0, true)
}

// Fault raises an exception with an error code.
func (c *CPU) Fault(vec uint8, errorCode uint64) {
	c.deliver(vec, errorCode, false)
}

// PageFault records addr in CR2 and raises #PF.
func (c *CPU) PageFault(addr uint64, errorCode uint64) {
	c.CR2 = addr
	c.Fault(interrupts.PageFault, errorCode)
}

// Notify wakes a halted CPU; hardware goroutines call it after raising
// a line. Safe from any goroutine.
func (c *CPU) Notify() {
	select {
	case c.wake <- struct{}{}:
	default:
	}
}

// PowerOff stops the machine. Safe from any goroutine, idempotent.
func (c *CPU) PowerOff() {
	c.offOnce.Do(func() { close(c.off) })
}

// Off is closed once the machine is powered off.
func (c *CPU) Off() <-chan struct{} {
	return c.off
}

// Save returns a copy of the live registers.
func (c *CPU) Save() Regs {
	return c.Regs
}

// Load replaces the live registers.
func (c *CPU) Load(r Regs) {
	c.Regs = r
}

func (c *CPU) tick() {
	c.cycles++
	for _, d := range c.devices {
		d.Step(c.cycles)
	}
}

func (c *CPU) nextEvent() (uint64, bool) {
	var next uint64
	found := false
	for _, d := range c.devices {
		if n, ok := d.Next(); ok && (!found || n < next) {
			next, found = n, true
		}
	}
	return next, found
}

func (c *CPU) poll() {
	for c.pic != nil && c.Regs.RFlags.IF() && c.pic.Intr() {
		c.deliver(c.pic.Acknowledge(), 0, false)
	}
}

// deliver pushes a frame and enters the handler through the gate for vec,
// then performs the iret.
func (c *CPU) deliver(vec uint8, errorCode uint64, soft bool) {
	g := c.IDT[vec]
	if soft && g.Present && c.Regs.CPL() > g.DPL {
		// a user program may not invoke a kernel-only gate
		errorCode = uint64(vec)<<3 | 2
		vec = interrupts.GeneralProtection
		g = c.IDT[vec]
	}
	if !g.Present || c.entry == nil {
		debug.Panicf("triple fault: no gate for vector 0x%02x", vec)
	}

	f := &Frame{Regs: c.Regs, VecNo: uint64(vec), ErrorCode: errorCode}
	if c.Regs.CPL() != 0 {
		c.Regs.CS = SelKCSeg
		c.Regs.SS = SelKDSeg
	}
	if g.Type == InterruptGate {
		c.Regs.RFlags.SetIF(false)
	}
	c.Regs.RFlags.SetTF(false)

	c.entry(f)

	// iret
	c.Regs = f.Regs
	c.Regs.RFlags.Set(f.RFlags.Get() | flags.MBS)
}
