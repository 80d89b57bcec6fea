// Package pit models channel 0 of the 8254 programmable interval timer,
// wired to IRQ 0.
//
// In virtual mode the input clock is the CPU cycle counter: the counter
// reloads every Count cycles and raises the line each time it wraps. In
// realtime mode a ticker goroutine raises the line at the programmed rate
// of wall-clock time instead.
package pit

import (
	"errors"
	"fmt"
	"sync"
	"time"
)

// Hz is the input clock of the 8254.
const Hz = 1193180

// frequency limits; below 19 Hz the divisor no longer fits in 16 bits
const (
	MinFreq = 19
	MaxFreq = 1000
)

// I/O ports
const (
	Channel0 = 0x40
	Control  = 0x43
)

// IRQ is the controller line of channel 0.
const IRQ = 0

// ErrFrequency rejects frequencies outside MinFreq..MaxFreq.
var ErrFrequency = errors.New("pit: frequency out of range")

// Line is the interrupt controller input the timer drives.
type Line interface {
	Raise(irq int)
}

// Waker wakes a halted CPU.
type Waker interface {
	Notify()
}

// PIT is channel 0.
type PIT struct {
	line Line

	control uint8
	lsb     uint8
	wantMSB bool
	count   uint32
	freq    int

	now   uint64
	next  uint64
	armed bool

	realtime bool
	stop     chan struct{}
	wg       sync.WaitGroup
}

// New returns an unprogrammed timer driving line.
func New(line Line) *PIT {
	return &PIT{line: line}
}

// Divisor returns the counter reload value for freq, rounded to nearest.
func Divisor(freq int) uint32 {
	return uint32((Hz + freq/2) / freq)
}

// Init programs channel 0 to interrupt freq times per second.
func (p *PIT) Init(freq int) error {
	if freq < MinFreq || freq > MaxFreq {
		return fmt.Errorf("%w: %d Hz, want %d..%d", ErrFrequency, freq, MinFreq, MaxFreq)
	}
	count := Divisor(freq)

	// counter 0, LSB then MSB, mode 2, binary
	p.Out(Control, 0x34)
	p.Out(Channel0, uint8(count&0xff))
	p.Out(Channel0, uint8(count>>8))
	p.freq = freq
	return nil
}

// Out writes v to port.
func (p *PIT) Out(port uint16, v uint8) {
	switch port {
	case Control:
		if v>>6 != 0 {
			// only channel 0 is wired
			return
		}
		p.control = v
		p.wantMSB = false
		p.armed = false
	case Channel0:
		if !p.wantMSB {
			p.lsb = v
			p.wantMSB = true
			return
		}
		p.wantMSB = false
		count := uint32(v)<<8 | uint32(p.lsb)
		if count == 0 {
			count = 1 << 16
		}
		p.count = count
		p.next = p.now + uint64(count)
		p.armed = true
	}
}

// Count returns the programmed reload value.
func (p *PIT) Count() uint32 {
	return p.count
}

// Freq returns the frequency set by Init.
func (p *PIT) Freq() int {
	return p.freq
}

// Period returns the wall-clock time between two interrupts.
func (p *PIT) Period() time.Duration {
	return time.Duration(uint64(p.count) * uint64(time.Second) / Hz)
}

// Step advances the counter to cycle now.
func (p *PIT) Step(now uint64) {
	p.now = now
	if !p.armed || p.realtime {
		return
	}
	for now >= p.next {
		p.line.Raise(IRQ)
		p.next += uint64(p.count)
	}
}

// Next returns the cycle at which the counter next wraps.
func (p *PIT) Next() (uint64, bool) {
	return p.next, p.armed && !p.realtime
}

// Start switches to realtime mode: a goroutine raises the line every
// Period and wakes w.
func (p *PIT) Start(w Waker) {
	if p.realtime || p.count == 0 {
		return
	}
	p.realtime = true
	p.stop = make(chan struct{})
	ticker := time.NewTicker(p.Period())

	p.wg.Add(1)
	go func() {
		defer p.wg.Done()
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				p.line.Raise(IRQ)
				w.Notify()
			case <-p.stop:
				return
			}
		}
	}()
}

// Stop ends realtime mode and waits for the ticker goroutine.
func (p *PIT) Stop() {
	if !p.realtime {
		return
	}
	close(p.stop)
	p.wg.Wait()
	p.realtime = false
	p.next = p.now + uint64(p.count)
}
