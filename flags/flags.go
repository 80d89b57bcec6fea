package flags

/**
RFLAGS register package
*/

// bit positions, not masks
const cfFlag = 0
const zfFlag = 6
const sfFlag = 7
const tfFlag = 8
const ifFlag = 9
const dfFlag = 10
const ofFlag = 11

// MBS is the reserved bit 1, always read as one
const MBS = 1 << 1

// IF is the interrupt enable mask
const IF = 1 << ifFlag

// RFlags keeps the processor flags register
type RFlags uint64

// Get returns the raw register value
func (f *RFlags) Get() uint64 {
	return uint64(*f)
}

// Set loads the register; the reserved bit is always kept set
func (f *RFlags) Set(v uint64) {
	*f = RFlags(v | MBS)
}

// IF reports whether maskable interrupts are enabled
func (f *RFlags) IF() bool {
	return f.getFlag(ifFlag)
}

// SetIF sets or clears the interrupt flag
func (f *RFlags) SetIF(status bool) {
	f.setFlag(ifFlag, status)
}

// CF returns the carry flag
func (f *RFlags) CF() bool {
	return f.getFlag(cfFlag)
}

// SetCF sets the carry flag
func (f *RFlags) SetCF(status bool) {
	f.setFlag(cfFlag, status)
}

// ZF returns the zero flag
func (f *RFlags) ZF() bool {
	return f.getFlag(zfFlag)
}

// SetZF sets the zero flag
func (f *RFlags) SetZF(status bool) {
	f.setFlag(zfFlag, status)
}

// SF returns the sign flag
func (f *RFlags) SF() bool {
	return f.getFlag(sfFlag)
}

// SetSF sets the sign flag
func (f *RFlags) SetSF(status bool) {
	f.setFlag(sfFlag, status)
}

// TF returns the trap flag
func (f *RFlags) TF() bool {
	return f.getFlag(tfFlag)
}

// SetTF sets the trap flag
func (f *RFlags) SetTF(status bool) {
	f.setFlag(tfFlag, status)
}

// DF returns the direction flag
func (f *RFlags) DF() bool {
	return f.getFlag(dfFlag)
}

// OF returns the overflow flag
func (f *RFlags) OF() bool {
	return f.getFlag(ofFlag)
}

// SetOF sets the overflow flag
func (f *RFlags) SetOF(status bool) {
	f.setFlag(ofFlag, status)
}

func (f *RFlags) getFlag(flag uint) bool {
	return (*f & (1 << flag)) > 0
}

func (f *RFlags) setFlag(flag uint, status bool) {
	if status {
		*f |= 1 << flag
	} else {
		*f &^= 1 << flag
	}
}

// String renders the flags in dump order, "[ITOSZC]", with a blank for
// each clear flag
func (f RFlags) String() string {
	flags := ""
	add := func(set bool, c string) {
		if set {
			flags += c
		} else {
			flags += " "
		}
	}
	add(f.IF(), "I")
	add(f.TF(), "T")
	add(f.OF(), "O")
	add(f.SF(), "S")
	add(f.ZF(), "Z")
	add(f.CF(), "C")
	return "[" + flags + "]"
}
