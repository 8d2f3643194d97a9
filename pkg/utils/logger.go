package utils

import (
	"bytes"
	"io"
	"sync"

	"github.com/fatih/color"
)

var colors = []color.Attribute{color.FgYellow, color.FgGreen, color.FgCyan, color.FgWhite, color.FgMagenta}
var index = -1

var l sync.Mutex

const MaxNameLength = 20

// ColorLogger provides an io.Writer that prefixes every line written to it
// with a name, optionally in color. Partial lines are held until the newline
// arrives or Flush is called.
type ColorLogger struct {
	mu     sync.Mutex
	name   string
	writer io.Writer
	c      *color.Color
	buf    bytes.Buffer
}

// NewColorLogger returns a ColorLogger for name. When newColor is true the
// next color in the rotation is picked, otherwise the current one is reused.
func NewColorLogger(name string, writer io.Writer, newColor bool) *ColorLogger {
	l.Lock()
	if newColor || index < 0 {
		index = (index + 1) % len(colors)
	}
	attr := colors[index]
	l.Unlock()

	if r := []rune(name); len(r) > MaxNameLength {
		name = string(r[:MaxNameLength-3]) + "..."
	}

	return &ColorLogger{
		name:   name,
		writer: writer,
		c:      color.New(attr),
	}
}

func (c *ColorLogger) Write(p []byte) (int, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.buf.Write(p)

	for {
		i := bytes.IndexByte(c.buf.Bytes(), '\n')
		if i < 0 {
			break
		}
		line := c.buf.Next(i + 1)
		if err := c.writeLine(line); err != nil {
			return len(p), err
		}
	}
	return len(p), nil
}

// Flush writes out any buffered partial line.
func (c *ColorLogger) Flush() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.buf.Len() == 0 {
		return nil
	}
	line := append(c.buf.Bytes(), '\n')
	c.buf.Reset()
	return c.writeLine(line)
}

func (c *ColorLogger) writeLine(line []byte) error {
	if _, err := c.c.Fprint(c.writer, c.name, " | "); err != nil {
		return err
	}
	_, err := c.writer.Write(line)
	return err
}
