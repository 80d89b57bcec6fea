package pic

import (
	"sync"
	"sync/atomic"
)

/*
Two cascaded 8259A controllers. The master answers on ports 0x20/0x21,
the slave on 0xa0/0xa1 and is wired to master line 2. Lines are edge
triggered and served in fully nested mode: line 0 has the highest priority,
and a line in service blocks every line of equal or lower priority until an
EOI command clears it.

The pair is a separate chip: devices on other goroutines may raise lines
while the CPU polls, so all state is behind a mutex.
*/

// I/O ports
const (
	MasterCmd  = 0x20
	MasterData = 0x21
	SlaveCmd   = 0xa0
	SlaveData  = 0xa1
)

// EOI is the non-specific end of interrupt command
const EOI = 0x20

// CascadeLine is the master input the slave is wired to
const CascadeLine = 2

const (
	icw1Init   = 0x10
	icw1ICW4   = 0x01
	icw1Single = 0x02
	ocw3Select = 0x08
	ocw2EOI    = 0x20
	ocw2SL     = 0x40
)

// initialisation sequence progress
const (
	ready = iota
	wantICW2
	wantICW3
	wantICW4
)

type chip struct {
	base   uint8
	imr    uint8
	irr    uint8
	isr    uint8
	step   int
	icw4   bool
	single bool
	icw3   uint8
	eois   atomic.Uint64
}

func (c *chip) command(v uint8) {
	switch {
	case v&icw1Init != 0:
		c.imr, c.irr, c.isr = 0, 0, 0
		c.icw4 = v&icw1ICW4 != 0
		c.single = v&icw1Single != 0
		c.step = wantICW2
	case v&ocw3Select != 0:
		// OCW3: read register select and poll mode are not modelled
	case v&ocw2EOI != 0:
		if v&ocw2SL != 0 {
			c.isr &^= 1 << (v & 7)
		} else {
			c.isr &^= lowestBit(c.isr)
		}
		c.eois.Add(1)
	}
}

func (c *chip) data(v uint8) {
	switch c.step {
	case wantICW2:
		c.base = v &^ 7
		switch {
		case !c.single:
			c.step = wantICW3
		case c.icw4:
			c.step = wantICW4
		default:
			c.step = ready
		}
	case wantICW3:
		c.icw3 = v
		if c.icw4 {
			c.step = wantICW4
		} else {
			c.step = ready
		}
	case wantICW4:
		c.step = ready
	default:
		c.imr = v
	}
}

// pending returns the line to serve next given request bits irr, or -1.
func (c *chip) pending(irr uint8) int {
	for i := 0; i < 8; i++ {
		bit := uint8(1) << i
		if c.isr&bit != 0 {
			return -1
		}
		if irr&^c.imr&bit != 0 {
			return i
		}
	}
	return -1
}

func lowestBit(v uint8) uint8 {
	return v & -v
}

// Pair is the master and slave controller.
type Pair struct {
	mu            sync.Mutex
	master, slave chip
	spurious      atomic.Uint64
}

// New returns a pair in the state the firmware leaves it: IRQ 0..7 on
// vectors 0x08..0x0f, IRQ 8..15 on 0x70..0x77, nothing masked.
func New() *Pair {
	p := &Pair{}
	p.master.base = 0x08
	p.slave.base = 0x70
	return p
}

// Out writes v to port.
func (p *Pair) Out(port uint16, v uint8) {
	p.mu.Lock()
	defer p.mu.Unlock()

	switch port {
	case MasterCmd:
		p.master.command(v)
	case MasterData:
		p.master.data(v)
	case SlaveCmd:
		p.slave.command(v)
	case SlaveData:
		p.slave.data(v)
	}
}

// In reads port; data ports return the mask register, command ports the
// request register.
func (p *Pair) In(port uint16) uint8 {
	p.mu.Lock()
	defer p.mu.Unlock()

	switch port {
	case MasterCmd:
		return p.master.irr
	case MasterData:
		return p.master.imr
	case SlaveCmd:
		return p.slave.irr
	case SlaveData:
		return p.slave.imr
	}
	return 0xff
}

// Raise signals an edge on irq 0..15.
func (p *Pair) Raise(irq int) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if irq < 8 {
		p.master.irr |= 1 << irq
	} else {
		p.slave.irr |= 1 << (irq - 8)
	}
}

func (p *Pair) masterIRR() uint8 {
	irr := p.master.irr
	if p.slave.pending(p.slave.irr) >= 0 {
		irr |= 1 << CascadeLine
	}
	return irr
}

// Intr reports the state of the INTR pin.
func (p *Pair) Intr() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.master.pending(p.masterIRR()) >= 0
}

// Acknowledge performs the INTA cycle and returns the vector. With no
// request left the chip answers with its lowest priority vector, a
// spurious interrupt.
func (p *Pair) Acknowledge() uint8 {
	p.mu.Lock()
	defer p.mu.Unlock()

	line := p.master.pending(p.masterIRR())
	if line < 0 {
		p.spurious.Add(1)
		return p.master.base + 7
	}
	p.master.isr |= 1 << line
	if line != CascadeLine {
		p.master.irr &^= 1 << line
		return p.master.base + uint8(line)
	}

	sl := p.slave.pending(p.slave.irr)
	if sl < 0 {
		p.spurious.Add(1)
		return p.slave.base + 7
	}
	p.slave.irr &^= 1 << sl
	p.slave.isr |= 1 << sl
	return p.slave.base + uint8(sl)
}

// Base returns the vector offsets of master and slave.
func (p *Pair) Base() (master, slave uint8) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.master.base, p.slave.base
}

// InService returns the in-service bits, slave in the high byte.
func (p *Pair) InService() uint16 {
	p.mu.Lock()
	defer p.mu.Unlock()
	return uint16(p.slave.isr)<<8 | uint16(p.master.isr)
}

// Masked returns the mask bits, slave in the high byte.
func (p *Pair) Masked() uint16 {
	p.mu.Lock()
	defer p.mu.Unlock()
	return uint16(p.slave.imr)<<8 | uint16(p.master.imr)
}

// EOIs returns the number of EOI commands each chip has received.
func (p *Pair) EOIs() (master, slave uint64) {
	return p.master.eois.Load(), p.slave.eois.Load()
}

// Spurious returns the number of spurious acknowledges.
func (p *Pair) Spurious() uint64 {
	return p.spurious.Load()
}
