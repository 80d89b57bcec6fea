package flags

import (
	"testing"
)

func TestGet(t *testing.T) {
	var f RFlags
	f.Set(IF)

	if f.Get() != IF|MBS {
		t.Errorf("Expected RFLAGS value of %#x, got %#x", IF|MBS, f.Get())
	}
}

func TestRFlags_IF(t *testing.T) {
	tests := []struct {
		name string
		f    RFlags
		want bool
	}{
		{"IF set, all else 0", IF, true},
		{"IF set, other flags too", IF | 0x41, true},
		{"IF clear, all 0", 0, false},
		{"IF clear, other flags set", 0x8c1, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := tt.f
			if f.IF() != tt.want {
				t.Errorf("RFlags.IF() (%v) failed. F: %v, wanted %v, got %v",
					tt.name, f, tt.want, f.IF())
			}
		})
	}
}

func TestRFlags_SetIF(t *testing.T) {
	tests := []struct {
		name     string
		f        RFlags
		args     bool
		modified RFlags
	}{
		{"set IF F=0", 0, true, IF},
		{"set IF F=IF", IF, true, IF},
		{"clear IF F=0", 0, false, 0},
		{"clear IF F=IF", IF, false, 0},
		{"clear IF F=IF|CF", IF | 1, false, 1},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tt.f.SetIF(tt.args)
			if tt.f.IF() != tt.args {
				t.Errorf("RFlags.SetIF() (%s) failed. F: %v, expected: %v, got %v",
					tt.name, tt.f, tt.args, tt.f.IF())
			}
			if tt.f != tt.modified {
				t.Errorf("RFlags.SetIF() (%s) failed. F = %v, expected F = %v",
					tt.name, tt.f, tt.modified)
			}
		})
	}
}

func TestRFlags_String(t *testing.T) {
	tests := []struct {
		name string
		f    RFlags
		want string
	}{
		{"nothing set", 0, "[      ]"},
		{"interrupts on", IF, "[I     ]"},
		{"zero and carry", 1<<zfFlag | 1<<cfFlag, "[    ZC]"},
		{"everything", IF | 1<<tfFlag | 1<<ofFlag | 1<<sfFlag | 1<<zfFlag | 1, "[ITOSZC]"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.f.String(); got != tt.want {
				t.Errorf("RFlags.String() = %q, want %q", got, tt.want)
			}
		})
	}
}
