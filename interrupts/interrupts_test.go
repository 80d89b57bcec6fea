package interrupts

import (
	"testing"
)

func TestIsExternal(t *testing.T) {
	tests := []struct {
		name string
		vec  uint8
		want bool
	}{
		{"divide error", DivideError, false},
		{"last exception", 0x1f, false},
		{"timer", Timer, true},
		{"slave first", SlaveFirst, true},
		{"last irq", ExtLast, true},
		{"syscall", Syscall, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := IsExternal(tt.vec); got != tt.want {
				t.Errorf("IsExternal(%#x) = %v, want %v", tt.vec, got, tt.want)
			}
		})
	}
}

func TestIsSpurious(t *testing.T) {
	for vec := 0; vec < Count; vec++ {
		want := vec == 0x27 || vec == 0x2f
		if got := IsSpurious(uint8(vec)); got != want {
			t.Errorf("IsSpurious(%#x) = %v, want %v", vec, got, want)
		}
	}
}

func TestNames(t *testing.T) {
	names := Names()
	if names[PageFault] != "#PF Page-Fault Exception" {
		t.Errorf("names[PageFault] = %q", names[PageFault])
	}
	if names[15] != "unknown" || names[Timer] != "unknown" {
		t.Errorf("unregistered vectors should be unknown, got %q and %q", names[15], names[Timer])
	}
}

func TestIRQ(t *testing.T) {
	if got := IRQ(Keyboard); got != 1 {
		t.Errorf("IRQ(Keyboard) = %d, want 1", got)
	}
	if got := IRQ(SpuriousSlave); got != 15 {
		t.Errorf("IRQ(SpuriousSlave) = %d, want 15", got)
	}
}
