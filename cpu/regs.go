package cpu

import (
	"fmt"
	"strings"

	"tkernel/flags"
)

// segment selectors
const (
	SelKCSeg = 0x08 // kernel code
	SelKDSeg = 0x10 // kernel data
	SelUDSeg = 0x1b // user data, RPL 3
	SelUCSeg = 0x23 // user code, RPL 3
)

// GPRegs are the general purpose registers, in the order the interrupt
// stubs push them.
type GPRegs struct {
	R15, R14, R13, R12, R11, R10, R9, R8 uint64
	RSI, RDI, RBP, RDX, RCX, RBX, RAX    uint64
}

// Regs is a full execution context snapshot.
type Regs struct {
	R      GPRegs
	ES, DS uint16
	RIP    uint64
	CS     uint16
	RFlags flags.RFlags
	RSP    uint64
	SS     uint16
}

// CPL is the current privilege level taken from the code selector.
func (r *Regs) CPL() int {
	return int(r.CS & 3)
}

// Frame is what the interrupt entry hands to the dispatcher: the
// interrupted context plus the vector and error code.
type Frame struct {
	Regs
	VecNo     uint64
	ErrorCode uint64
}

// DumpRegisters renders r in four register rows, the way fault dumps
// print them.
func (r *Regs) DumpRegisters() string {
	var res strings.Builder
	fmt.Fprintf(&res, "rax %016x rbx %016x rcx %016x rdx %016x\n",
		r.R.RAX, r.R.RBX, r.R.RCX, r.R.RDX)
	fmt.Fprintf(&res, "rsp %016x rbp %016x rsi %016x rdi %016x\n",
		r.RSP, r.R.RBP, r.R.RSI, r.R.RDI)
	fmt.Fprintf(&res, "rip %016x r8 %016x  r9 %016x r10 %016x\n",
		r.RIP, r.R.R8, r.R.R9, r.R.R10)
	fmt.Fprintf(&res, "r11 %016x r12 %016x r13 %016x r14 %016x\n",
		r.R.R11, r.R.R12, r.R.R13, r.R.R14)
	fmt.Fprintf(&res, "r15 %016x rflags %08x %s\n", r.R.R15, r.RFlags.Get(), r.RFlags)
	fmt.Fprintf(&res, "es: %04x ds: %04x cs: %04x ss: %04x", r.ES, r.DS, r.CS, r.SS)
	return res.String()
}
