package console

import (
	"io"
	"sync"
)

// Simple console, writing straight to an io.Writer
type Simple struct {
	mu sync.Mutex
	w  io.Writer
}

// NewSimple returns a console writing to w.
func NewSimple(w io.Writer) *Simple {
	return &Simple{w: w}
}

// Write implements io.Writer.
func (c *Simple) Write(p []byte) (int, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.w.Write(p)
}

// WriteConsole displays a string on the console
func (c *Simple) WriteConsole(msg string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, line := range splitLines(msg) {
		if _, err := io.WriteString(c.w, line); err != nil {
			return err
		}
	}
	return nil
}
