package console

import (
	"io"
)

/*
Kernel console output.

Everything the kernel prints (statistics, frame dumps, the panic message)
goes through a Console. Two variants exist:
	- Simple writes to any io.Writer, synchronously
	- Gui appends to a gocui view, from a goroutine of its own

other parts of the system write through the io.Writer side, so they do not
care which variant is in use.
*/

// Console is where kernel output goes.
type Console interface {
	io.Writer

	// WriteConsole displays msg line by line, dropping empty lines
	WriteConsole(msg string) error
}

// splitLines returns the non-empty lines of msg, newline terminated.
func splitLines(msg string) []string {
	var lines []string
	start := 0
	for i := 0; i <= len(msg); i++ {
		if i == len(msg) || msg[i] == '\n' {
			if i > start {
				lines = append(lines, msg[start:i]+"\n")
			}
			start = i + 1
		}
	}
	return lines
}
