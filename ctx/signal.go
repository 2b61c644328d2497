package ctx

import (
	"context"
	"os"
	"os/signal"
	"syscall"
)

// InterruptibleContext returns a context canceled on SIGINT/SIGTERM,
// carried near-verbatim from distri's context.go. The scheduler has no
// cooperative cancellation mid-task (spec.md §5): canceling this context
// only stops new task dispatch in sched.Map/MapWithDependencies, letting
// in-flight tasks finish so RunAtExit can still flush the store.
func InterruptibleContext() (context.Context, context.CancelFunc) {
	c, cancel := context.WithCancel(context.Background())
	sig := make(chan os.Signal, 1)
	signal.Notify(sig, os.Interrupt, syscall.SIGTERM)
	go func() {
		<-sig
		// A second signal terminates immediately, in case cleanup hangs.
		signal.Stop(sig)
		cancel()
	}()
	return c, cancel
}
