package interrupts

/**
 * Separate package exists mainly in order to avoid cyclic imports:
 * cpu, pic, intr and thread all need vector numbers and interrupt levels.
 */

// Count is the number of vectors in the descriptor table
const Count = 256

// Level - interrupt enable state
type Level int

const (
	// Off : maskable interrupts disabled
	Off Level = iota
	// On : maskable interrupts enabled
	On
)

func (l Level) String() string {
	if l == On {
		return "on"
	}
	return "off"
}

/********************************
 * external interrupt window:
 * both 8259A chips are remapped so that
 * IRQ 0..15 land on 0x20..0x2f
 ********************************/

// ExtFirst is the first vector of the external window
const ExtFirst = 0x20

// ExtLast is the last vector of the external window
const ExtLast = 0x2f

// SlaveFirst is the first vector served by the slave controller
const SlaveFirst = 0x28

// Timer : 8254 channel 0, IRQ 0
const Timer = 0x20

// Keyboard : IRQ 1
const Keyboard = 0x21

// Cascade : slave controller wired to master IRQ 2
const Cascade = 0x22

// SpuriousMaster : IRQ 7 reported without a request
const SpuriousMaster = 0x27

// SpuriousSlave : IRQ 15 reported without a request
const SpuriousSlave = 0x2f

// Syscall is the software interrupt used by user programs
const Syscall = 0x30

/********************************
 * exception vectors:
 ********************************/

// DivideError #DE
const DivideError = 0x00

// Breakpoint #BP
const Breakpoint = 0x03

// InvalidOpcode #UD
const InvalidOpcode = 0x06

// DoubleFault #DF
const DoubleFault = 0x08

// GeneralProtection #GP
const GeneralProtection = 0x0d

// PageFault #PF
const PageFault = 0x0e

// IsExternal reports whether vec belongs to the hardware IRQ window
func IsExternal(vec uint8) bool {
	return vec >= ExtFirst && vec <= ExtLast
}

// IsSpurious reports whether vec is one of the benign spurious vectors
func IsSpurious(vec uint8) bool {
	return vec == SpuriousMaster || vec == SpuriousSlave
}

// IRQ converts an external vector to its controller line
func IRQ(vec uint8) int {
	return int(vec) - ExtFirst
}

// Names returns the default descriptions of all vectors; unnamed vectors
// are "unknown".
func Names() [Count]string {
	var names [Count]string
	for i := range names {
		names[i] = "unknown"
	}
	names[0] = "#DE Divide Error"
	names[1] = "#DB Debug Exception"
	names[2] = "NMI Interrupt"
	names[3] = "#BP Breakpoint Exception"
	names[4] = "#OF Overflow Exception"
	names[5] = "#BR BOUND Range Exceeded Exception"
	names[6] = "#UD Invalid Opcode Exception"
	names[7] = "#NM Device Not Available Exception"
	names[8] = "#DF Double Fault Exception"
	names[9] = "Coprocessor Segment Overrun"
	names[10] = "#TS Invalid TSS Exception"
	names[11] = "#NP Segment Not Present"
	names[12] = "#SS Stack Fault Exception"
	names[13] = "#GP General Protection Exception"
	names[14] = "#PF Page-Fault Exception"
	names[16] = "#MF x87 FPU Floating-Point Error"
	names[17] = "#AC Alignment Check Exception"
	names[18] = "#MC Machine-Check Exception"
	names[19] = "#XF SIMD Floating-Point Exception"
	return names
}
