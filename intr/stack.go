package intr

import (
	"fmt"
	"strings"

	"tkernel/debug"
)

/*
 debug only:
 - push the vector once its handler is entered
 - pop when the handler returns

 A fault taken while another handler runs shows up as a second entry, so a
 dump tells which interrupt the fault interrupted. The stack has a fixed
 size; deeper nesting is counted but not recorded.
*/

const stackDepth = 16

// ServiceStack is the list of vectors whose handlers are active, oldest
// first.
type ServiceStack struct {
	vec [stackDepth]uint8
	n   int
}

// Push records vec as entered.
func (s *ServiceStack) Push(vec uint8) {
	if s.n < stackDepth {
		s.vec[s.n] = vec
	}
	s.n++
}

// Pop removes the newest entry. Popping an empty stack is a kernel panic.
func (s *ServiceStack) Pop() uint8 {
	debug.Assert(s.n > 0, "interrupt stack is not empty")
	s.n--
	if s.n < stackDepth {
		return s.vec[s.n]
	}
	return 0
}

// Depth returns the current nesting depth.
func (s *ServiceStack) Depth() int {
	return s.n
}

func (s *ServiceStack) String() string {
	if s.n == 0 {
		return "[]"
	}
	var b strings.Builder
	b.WriteByte('[')
	for i := 0; i < s.n && i < stackDepth; i++ {
		if i > 0 {
			b.WriteByte(' ')
		}
		fmt.Fprintf(&b, "0x%02x", s.vec[i])
	}
	if s.n > stackDepth {
		fmt.Fprintf(&b, " +%d", s.n-stackDepth)
	}
	b.WriteByte(']')
	return b.String()
}
