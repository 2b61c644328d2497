// Package buildtrace is an optional Chrome trace-event-format sink for
// scheduler diagnostics (spec.md §5 "Diagnostics and Observability"):
// each task run by sched.Map or sched.MapWithDependencies emits a
// PendingEvent so a build's parallelism is inspectable in
// chrome://tracing or the Perfetto UI.
//
// Grounded on distri's internal/trace/trace.go, trimmed of its
// distro-specific /proc/stat and /proc/meminfo counter goroutines
// (CPUEvents/MemEvents): this system's scheduler has no notion of host
// CPU/memory pressure, so only the generic Sink/Enable/Event/Done
// primitives survive, renamed to this package's own domain.
package buildtrace

import (
	"encoding/json"
	"fmt"
	"io"
	"log"
	"os"
	"path/filepath"
	"sync"
	"time"
)

var start = time.Now()

var (
	sinkMu sync.Mutex
	sink   io.Writer = io.Discard
)

// Sink writes all following Event()s as a Chrome trace event file into w.
// The caller owns w and must close it once the build completes; the
// trailing ']' of the JSON Array Format is optional and is not written.
func Sink(w io.Writer) {
	sinkMu.Lock()
	defer sinkMu.Unlock()
	sink = w
	w.Write([]byte{'['})
}

// Enable is a convenience function for creating a trace file under
// $TMPDIR/fbuild.traces/prefix.$PID. The filename assumes the OS does
// not frequently re-use the same pid.
func Enable(prefix string) error {
	fn := filepath.Join(os.TempDir(), "fbuild.traces", fmt.Sprintf("%s.%d", prefix, os.Getpid()))
	if err := os.MkdirAll(filepath.Dir(fn), 0755); err != nil {
		return err
	}
	f, err := os.Create(fn)
	if err != nil {
		return err
	}
	Sink(f)
	return nil
}

// PendingEvent is a started-but-not-yet-finished trace event; call Done
// once the work it represents (a cached call, a worker slot) completes.
type PendingEvent struct {
	Name           string      `json:"name"` // name of the event, as displayed in Trace Viewer
	Categories     string      `json:"cat"`  // event categories (comma-separated)
	Type           string      `json:"ph"`   // event type (single character)
	ClockTimestamp uint64      `json:"ts"`   // tracing clock timestamp (microsecond granularity)
	Duration       uint64      `json:"dur"`
	Pid            uint64      `json:"pid"` // which build (for multi-build log merges)
	Tid            uint64      `json:"tid"` // which worker slot
	Args           interface{} `json:"args"`

	start time.Time
}

// Done finalizes pe's duration and writes it to the current Sink.
func (pe *PendingEvent) Done() {
	pe.Duration = uint64(time.Since(pe.start) / time.Microsecond)
	b, err := json.Marshal(pe)
	if err != nil {
		panic(err)
	}
	sinkMu.Lock()
	defer sinkMu.Unlock()
	if _, err := sink.Write(append(b, ',')); err != nil {
		log.Printf("[buildtrace] %v", err)
	}
}

// Event starts a new "complete" (ph=X) trace event named name on worker
// slot tid. Call Done on the result once the work finishes.
func Event(name string, tid int) *PendingEvent {
	return &PendingEvent{
		Name:           name,
		Type:           "X",
		ClockTimestamp: uint64(time.Since(start) / time.Microsecond),
		Tid:            uint64(tid),
		start:          time.Now(),
	}
}
