// Package console implements the thread-aware, buffered, colored output
// substrate of spec.md §4.B, grounded on original_source's
// lib/fbuild/console.py (Log.log/check/passed/failed/log_from_thread) and
// on the teacher's own status-line mutex discipline in
// internal/batch/batch.go.
package console

import (
	"fmt"
	"io"
	"os"
	"strings"
	"sync"

	"github.com/mattn/go-isatty"
)

// Color names understood by Log/Check, matching the hand-rolled table
// original_source/lib/fbuild/console.py uses (black/red/green/yellow/
// blue/magenta/cyan/white), translated into the same ANSI SGR codes.
type Color string

const (
	Black   Color = "black"
	Red     Color = "red"
	Green   Color = "green"
	Yellow  Color = "yellow"
	Blue    Color = "blue"
	Magenta Color = "magenta"
	Cyan    Color = "cyan"
	White   Color = "white"
)

var ansiCode = map[Color]int{
	Black: 30, Red: 31, Green: 32, Yellow: 33,
	Blue: 34, Magenta: 35, Cyan: 36, White: 37,
}

func colorize(s string, c Color, enabled bool) string {
	if !enabled || c == "" {
		return s
	}
	code, ok := ansiCode[c]
	if !ok {
		return s
	}
	return fmt.Sprintf("\x1b[01;%02dm%s\x1b[0m", code, s)
}

type bufferedLine struct {
	msg   string
	color Color
}

// Console is a thread-aware logger: when more than one worker is active,
// writes inside LogFromThread accumulate per-goroutine and flush as one
// contiguous block on scope exit (spec.md §4.B). When Workers is 1,
// writes are immediate, matching spec.md's "only one worker active ...
// writes are immediate (no buffering), for responsiveness."
type Console struct {
	// Workers is the scheduler's configured worker count. Set once before
	// use; the console does not need to know about individual tasks.
	Workers int

	logFile io.Writer
	color   bool

	mu     sync.Mutex
	maxLen int
}

// New creates a Console writing the uncolored stream to logFile (spec.md
// §6 "Log file") and the colorized stream to stdout, suppressing color
// when the platform/terminal does not accept ANSI (spec.md §4.B).
func New(logFile io.Writer, workers int) *Console {
	return &Console{
		Workers: workers,
		logFile: logFile,
		color:   isatty.IsTerminal(os.Stdout.Fd()) || isatty.IsCygwinTerminal(os.Stdout.Fd()),
		maxLen:  25,
	}
}

// LogFromThread buffers every Log/Check/Passed/Failed call made by fn
// (directly, not by further nested goroutines) and flushes them as one
// contiguous, lock-protected block when fn returns, so no other task's
// output can interleave with fn's (spec.md §4.B, §8 "Log contiguity").
func (c *Console) LogFromThread(fn func(buf *Buffer)) {
	if c.Workers <= 1 {
		// Single-worker builds run synchronously; immediate writes already
		// cannot interleave, so skip buffering for responsiveness.
		fn(&Buffer{c: c, direct: true})
		return
	}
	buf := &Buffer{c: c}
	fn(buf)
	c.mu.Lock()
	for _, row := range buf.rows {
		c.write(row.msg, row.color)
	}
	c.mu.Unlock()
}

// Buffer is the scope handle passed to a LogFromThread callback.
type Buffer struct {
	c      *Console
	direct bool
	rows   []bufferedLine
}

func (b *Buffer) emit(msg string, color Color) {
	if b.direct {
		b.c.mu.Lock()
		b.c.write(msg, color)
		b.c.mu.Unlock()
		return
	}
	b.rows = append(b.rows, bufferedLine{msg: msg, color: color})
}

// Log writes msg as given, with an optional color; no newline is added,
// so callers include one when they want it.
func (b *Buffer) Log(msg string, color Color) { b.emit(msg, color) }

// Check pads label to the running maximum column (clipped at 40) so
// aligned colons form a visual column, then writes result in color
// (spec.md §4.B).
func (b *Buffer) Check(label string, result string, color Color) {
	b.c.mu.Lock()
	if n := len(label); n >= b.c.maxLen {
		if n+1 < 40 {
			b.c.maxLen = n + 1
		} else {
			b.c.maxLen = 40
		}
	}
	padded := label
	if pad := b.c.maxLen - len(label); pad > 0 {
		padded = label + strings.Repeat(" ", pad)
	}
	b.c.mu.Unlock()

	b.emit(padded+": ", "")
	if result != "" {
		b.emit(result, color)
	}
	b.emit("\n", "")
}

// Passed logs msg (default "ok") in green.
func (b *Buffer) Passed(msg string) {
	if msg == "" {
		msg = "ok"
	}
	b.Log(msg+"\n", Green)
}

// Failed logs msg (default "failed") in yellow.
func (b *Buffer) Failed(msg string) {
	if msg == "" {
		msg = "failed"
	}
	b.Log(msg+"\n", Yellow)
}

// Log is the top-level, non-scoped entry point (spec.md §4.B `log`). It
// behaves like a single-line LogFromThread.
func (c *Console) Log(msg string, color Color) {
	c.LogFromThread(func(b *Buffer) { b.Log(msg, color) })
}

// Check is the top-level, non-scoped entry point (spec.md §4.B `check`).
func (c *Console) Check(label, result string, color Color) {
	c.LogFromThread(func(b *Buffer) { b.Check(label, result, color) })
}

// Passed is the top-level, non-scoped entry point.
func (c *Console) Passed(msg string) {
	c.LogFromThread(func(b *Buffer) { b.Passed(msg) })
}

// Failed is the top-level, non-scoped entry point.
func (c *Console) Failed(msg string) {
	c.LogFromThread(func(b *Buffer) { b.Failed(msg) })
}

// write appends msg verbatim (no color) to the log file and the colorized
// form to stdout. Caller must hold c.mu.
func (c *Console) write(msg string, color Color) {
	io.WriteString(c.logFile, msg)
	io.WriteString(os.Stdout, colorize(msg, color, c.color))
}
