package cpu

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"tkernel/interrupts"
)

type fakePIC struct {
	pending []uint8
}

func (p *fakePIC) Intr() bool {
	return len(p.pending) > 0
}

func (p *fakePIC) Acknowledge() uint8 {
	v := p.pending[0]
	p.pending = p.pending[1:]
	return v
}

// alarm raises vec once at cycle at
type alarm struct {
	at    uint64
	vec   uint8
	pic   *fakePIC
	fired bool
}

func (a *alarm) Step(now uint64) {
	if !a.fired && now >= a.at {
		a.fired = true
		a.pic.pending = append(a.pic.pending, a.vec)
	}
}

func (a *alarm) Next() (uint64, bool) {
	return a.at, !a.fired
}

func newTestCPU(t *testing.T) (*CPU, *fakePIC, *[]Frame) {
	t.Helper()
	c := New()
	p := &fakePIC{}
	c.SetController(p)
	var taken []Frame
	c.SetEntry(func(f *Frame) {
		taken = append(taken, *f)
	})
	for v := range c.IDT {
		c.IDT[v] = Gate{Present: true, Type: InterruptGate}
	}
	return c, p, &taken
}

func TestResetState(t *testing.T) {
	c := New()
	assert.False(t, c.IF())
	assert.Equal(t, 0, c.Regs.CPL())
	assert.Equal(t, uint16(SelKCSeg), c.Regs.CS)
	assert.Equal(t, uint64(0), c.Cycles())
}

func TestStepDeliversOnlyWithIF(t *testing.T) {
	c, p, taken := newTestCPU(t)
	p.pending = []uint8{0x20}

	c.Step()
	assert.Empty(t, *taken, "interrupt taken with IF clear")
	assert.Equal(t, uint64(1), c.Cycles())
	assert.Equal(t, uint64(1), c.Regs.RIP)

	c.Sti()
	if assert.Len(t, *taken, 1) {
		assert.Equal(t, uint64(0x20), (*taken)[0].VecNo)
		assert.True(t, (*taken)[0].RFlags.IF(), "frame keeps the interrupted IF")
	}
	assert.True(t, c.IF(), "iret restores IF")
}

func TestGateTypes(t *testing.T) {
	tests := []struct {
		name   string
		gate   GateType
		wantIF bool
	}{
		{"interrupt gate clears IF", InterruptGate, false},
		{"trap gate keeps IF", TrapGate, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := New()
			c.IDT[0x30] = Gate{Present: true, Type: tt.gate, DPL: 3}
			var inside bool
			c.SetEntry(func(f *Frame) { inside = c.IF() })
			c.Regs.RFlags.SetIF(true)
			c.Int(0x30)
			assert.Equal(t, tt.wantIF, inside)
			assert.True(t, c.IF())
		})
	}
}

func TestIretRestoresContext(t *testing.T) {
	c, _, _ := newTestCPU(t)
	c.Regs.R.RAX = 7
	c.Regs.RIP = 0x1000
	c.SetEntry(func(f *Frame) {
		c.Regs.R.RAX = 99
		c.Regs.RIP = 0xdead
		f.R.RBX = 5
	})
	c.Int(interrupts.Breakpoint)
	assert.Equal(t, uint64(7), c.Regs.R.RAX)
	assert.Equal(t, uint64(0x1000), c.Regs.RIP)
	assert.Equal(t, uint64(5), c.Regs.R.RBX, "handler edits to the frame survive iret")
}

func TestPrivilegeCheck(t *testing.T) {
	tests := []struct {
		name    string
		dpl     int
		cs      uint16
		wantVec uint64
		wantErr uint64
	}{
		{"kernel may call DPL 0", 0, SelKCSeg, 0x30, 0},
		{"user may call DPL 3", 3, SelUCSeg, 0x30, 0},
		{"user may not call DPL 0", 0, SelUCSeg, interrupts.GeneralProtection, 0x30<<3 | 2},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c, _, taken := newTestCPU(t)
			c.IDT[0x30].DPL = tt.dpl
			c.Regs.CS = tt.cs
			var cplInside int
			c.SetEntry(func(f *Frame) {
				cplInside = c.Regs.CPL()
				*taken = append(*taken, *f)
			})
			c.Int(0x30)
			if assert.Len(t, *taken, 1) {
				assert.Equal(t, tt.wantVec, (*taken)[0].VecNo)
				assert.Equal(t, tt.wantErr, (*taken)[0].ErrorCode)
				assert.Equal(t, int(tt.cs&3), (*taken)[0].CPL())
			}
			assert.Equal(t, 0, cplInside, "handlers run in kernel mode")
			assert.Equal(t, tt.cs, c.Regs.CS)
		})
	}
}

func TestPageFaultSetsCR2(t *testing.T) {
	c, _, taken := newTestCPU(t)
	c.PageFault(0xc0ffee, 4)
	assert.Equal(t, uint64(0xc0ffee), c.CR2)
	if assert.Len(t, *taken, 1) {
		assert.Equal(t, uint64(interrupts.PageFault), (*taken)[0].VecNo)
		assert.Equal(t, uint64(4), (*taken)[0].ErrorCode)
	}
}

func TestMissingGatePanics(t *testing.T) {
	c := New()
	c.SetEntry(func(*Frame) {})
	assert.Panics(t, func() { c.Int(0x80) })
}

func TestHaltFastForwards(t *testing.T) {
	c, p, taken := newTestCPU(t)
	c.Attach(&alarm{at: 1000, vec: 0x21, pic: p})
	c.Halt()
	assert.Equal(t, uint64(1000), c.Cycles())
	assert.True(t, c.IF(), "halt leaves interrupts enabled")
	if assert.Len(t, *taken, 1) {
		assert.Equal(t, uint64(0x21), (*taken)[0].VecNo)
	}
}

func TestHaltWakesOnNotify(t *testing.T) {
	c, p, taken := newTestCPU(t)
	c.SetController(&notifiedPIC{fakePIC: p})
	c.Notify()
	c.Halt()
	assert.Len(t, *taken, 1)
}

// notifiedPIC raises a line the second time it is polled, which is after
// the halted CPU has been woken
type notifiedPIC struct {
	*fakePIC
	polls int
}

func (n *notifiedPIC) Intr() bool {
	n.polls++
	if n.polls == 2 {
		n.pending = append(n.pending, 0x20)
	}
	return n.fakePIC.Intr()
}

func TestPowerOffReleasesHalt(t *testing.T) {
	c, _, _ := newTestCPU(t)
	exited := make(chan struct{})
	go func() {
		defer close(exited)
		c.Halt()
		t.Error("halt returned after power off")
	}()
	c.PowerOff()
	c.PowerOff()
	<-exited
	select {
	case <-c.Off():
	default:
		t.Fatal("power channel still open")
	}
}
