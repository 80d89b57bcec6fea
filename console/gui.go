package console

import (
	"fmt"

	"github.com/jroimartin/gocui"
)

// Gui console, appending to a gocui view. Writes are handed to a goroutine
// that applies them with g.Update, so kernel threads never touch the view.
type Gui struct {
	consoleOut chan string // text waiting for the view
	done       chan struct{}
	g          *gocui.Gui
	view       string
}

// NewGui returns a console writing to the named view of g.
func NewGui(g *gocui.Gui, view string) *Gui {
	c := &Gui{
		consoleOut: make(chan string, 64),
		done:       make(chan struct{}),
		g:          g,
		view:       view,
	}
	go c.run()
	return c
}

func (c *Gui) run() {
	for {
		select {
		case s := <-c.consoleOut:
			c.g.Update(func(g *gocui.Gui) error {
				v, err := g.View(c.view)
				if err != nil {
					return err
				}
				fmt.Fprint(v, s)
				return nil
			})
		case <-c.done:
			return
		}
	}
}

// Write implements io.Writer.
func (c *Gui) Write(p []byte) (int, error) {
	select {
	case c.consoleOut <- string(p):
		return len(p), nil
	case <-c.done:
		return 0, fmt.Errorf("console: closed")
	}
}

// WriteConsole displays a string on the console
func (c *Gui) WriteConsole(msg string) error {
	for _, line := range splitLines(msg) {
		if _, err := c.Write([]byte(line)); err != nil {
			return err
		}
	}
	return nil
}

// Close stops the writer goroutine.
func (c *Gui) Close() {
	close(c.done)
}
