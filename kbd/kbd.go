// Package kbd is a keyboard controller on IRQ 1.
//
// Bytes arrive from a host reader on a goroutine of its own: the controller
// latches them and raises the line. The interrupt handler drains the data
// port into an input buffer, from which kernel threads read with Getc.
package kbd

import (
	"bufio"
	"io"
	"sync"
	"sync/atomic"

	"github.com/rs/zerolog"

	"tkernel/cpu"
	"tkernel/debug"
	"tkernel/interrupts"
	"tkernel/intr"
	"tkernel/thread"
)

// I/O ports
const (
	DataPort   = 0x60
	StatusPort = 0x64
)

// status register: output buffer full
const statusOBF = 0x01

// IRQ of the keyboard
const IRQ = 1

// BufSize is the capacity of the input buffer.
const BufSize = 64

// Line is the interrupt controller input.
type Line interface {
	Raise(irq int)
}

// Waker wakes a halted CPU.
type Waker interface {
	Notify()
}

// Keyboard is the controller plus the kernel input buffer.
type Keyboard struct {
	line  Line
	waker Waker
	log   zerolog.Logger

	// controller side, shared with the reader goroutine
	mu    sync.Mutex
	latch []byte

	// kernel side, interrupts off
	intr    *intr.Dispatcher
	sched   *thread.Scheduler
	buf     [BufSize]byte
	head, n int
	waiter  *thread.Thread

	pressed atomic.Uint64
	dropped atomic.Uint64
}

// New returns a keyboard raising line and waking w.
func New(line Line, w Waker, log zerolog.Logger) *Keyboard {
	return &Keyboard{
		line:  line,
		waker: w,
		log:   log.With().Str("component", "kbd").Logger(),
	}
}

// Init registers the interrupt handler.
func (k *Keyboard) Init(d *intr.Dispatcher, s *thread.Scheduler) {
	k.intr = d
	k.sched = s
	d.RegisterExt(interrupts.Keyboard, k.interrupt, "8042 Keyboard")
}

// Attach feeds every byte read from r to the controller until r fails.
func (k *Keyboard) Attach(r io.Reader) {
	go func() {
		br := bufio.NewReader(r)
		for {
			b, err := br.ReadByte()
			if err != nil {
				if err != io.EOF {
					k.log.Warn().Err(err).Msg("keyboard reader stopped")
				}
				return
			}
			k.Feed(b)
		}
	}()
}

// Feed latches one received byte and raises the line. Safe from any
// goroutine.
func (k *Keyboard) Feed(b byte) {
	k.mu.Lock()
	k.latch = append(k.latch, b)
	k.mu.Unlock()
	k.pressed.Add(1)

	k.line.Raise(IRQ)
	if k.waker != nil {
		k.waker.Notify()
	}
}

// In reads a controller port.
func (k *Keyboard) In(port uint16) uint8 {
	k.mu.Lock()
	defer k.mu.Unlock()

	switch port {
	case StatusPort:
		if len(k.latch) > 0 {
			return statusOBF
		}
		return 0
	case DataPort:
		if len(k.latch) == 0 {
			return 0
		}
		b := k.latch[0]
		k.latch = k.latch[1:]
		return b
	}
	return 0xff
}

// interrupt moves everything latched into the input buffer. A full buffer
// drops input.
func (k *Keyboard) interrupt(*cpu.Frame) {
	for k.In(StatusPort)&statusOBF != 0 {
		b := k.In(DataPort)
		if k.n == BufSize {
			k.dropped.Add(1)
			continue
		}
		k.buf[(k.head+k.n)%BufSize] = b
		k.n++
	}
	if k.waiter != nil && k.n > 0 {
		k.sched.Unblock(k.waiter)
		k.waiter = nil
	}
}

// Getc returns the next input byte, blocking the running thread until
// one arrives. Only one thread may wait at a time.
func (k *Keyboard) Getc() byte {
	old := k.intr.Disable()
	for k.n == 0 {
		debug.Assert(k.waiter == nil, "one keyboard reader at a time")
		k.waiter = k.sched.Current()
		k.sched.Block()
	}
	b := k.pop()
	k.intr.SetLevel(old)
	return b
}

// TryGetc returns the next input byte if there is one.
func (k *Keyboard) TryGetc() (byte, bool) {
	old := k.intr.Disable()
	defer k.intr.SetLevel(old)
	if k.n == 0 {
		return 0, false
	}
	return k.pop(), true
}

func (k *Keyboard) pop() byte {
	b := k.buf[k.head]
	k.head = (k.head + 1) % BufSize
	k.n--
	return b
}

// Pressed returns the number of bytes received.
func (k *Keyboard) Pressed() uint64 {
	return k.pressed.Load()
}

// Dropped returns the number of bytes lost to a full buffer.
func (k *Keyboard) Dropped() uint64 {
	return k.dropped.Load()
}
