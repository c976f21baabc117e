package node

import (
	"fmt"
	"io"
	"sync"
)

// Console is the node's human-readable progress output, the equivalent
// of a microcontroller's serial monitor. It is observational only; the
// structured log carries the machine-readable record. A nil *Console
// discards everything.
type Console struct {
	mu sync.Mutex
	w  io.Writer
}

// NewConsole returns a console writing to w.
func NewConsole(w io.Writer) *Console {
	return &Console{w: w}
}

// Print writes s without a trailing newline.
func (c *Console) Print(s string) {
	if c == nil {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	fmt.Fprint(c.w, s)
}

// Println writes s followed by a newline.
func (c *Console) Println(s string) {
	if c == nil {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	fmt.Fprintln(c.w, s)
}
