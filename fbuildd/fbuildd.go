// Package fbuildd is the top-level driver of spec.md §6: it loads the
// on-disk store, assembles the BuildContext a build script's build(ctx)
// procedure expects, runs that procedure, flushes the store, and maps
// the outcome to the three exit codes §6 defines.
//
// Grounded on distri's cmd/distri/distri.go funcmain()/main() split:
// funcmain does the real work and returns an error, main formats it and
// calls os.Exit once. A distri binary dispatches to one of many verbs
// looked up in a map; this system has exactly one verb (run the
// build script), so the map collapses to a single BuildFunc parameter.
package fbuildd

import (
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/fbuildgo/fbuild/buildtrace"
	"github.com/fbuildgo/fbuild/ctx"
	"github.com/fbuildgo/fbuild/fbdb"
	"github.com/fbuildgo/fbuild/ferr"
)

// Exit codes, per spec.md §6.
const (
	ExitSuccess = 0
	ExitBuild   = 1
	ExitConfig  = 2
)

// BuildFunc is a build script's build(ctx) entry point.
type BuildFunc func(*ctx.BuildContext) error

// Config configures a single driver invocation.
type Config struct {
	DBPath    string // e.g. <buildroot>/fbuild.db
	LogPath   string // e.g. fbuild.log; "" disables the log file
	TraceFile string // e.g. fbuild.trace; "" disables buildtrace
	Workers   int
	Debug     bool // format errors with %+v instead of %v
}

// Run loads the store at cfg.DBPath, builds a BuildContext, invokes
// build, flushes the store (on both success and failure, per spec.md §5
// "the store is still flushed on abort"), and returns the process exit
// code spec.md §6 defines. Run never calls os.Exit itself; the caller's
// main does, after Run returns, so that deferred cleanup in the calling
// goroutine still executes.
func Run(cfg Config, build BuildFunc) int {
	if cfg.Workers <= 0 {
		cfg.Workers = 1
	}

	if cfg.TraceFile != "" {
		f, err := os.Create(cfg.TraceFile)
		if err != nil {
			fmt.Fprintf(os.Stderr, "fbuildd: opening trace file: %v\n", err)
			return ExitConfig
		}
		buildtrace.Sink(f)
		defer f.Close()
	}

	var logFile io.Writer = io.Discard
	if cfg.LogPath != "" {
		f, err := os.OpenFile(cfg.LogPath, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
		if err != nil {
			fmt.Fprintf(os.Stderr, "fbuildd: opening log file: %v\n", err)
			return ExitConfig
		}
		defer f.Close()
		logFile = f
	}

	store, err := fbdb.Load(cfg.DBPath)
	if err != nil {
		// Cache corruption is recoverable (spec.md §7: "Recovery: delete
		// and start fresh; log a warning"); Load already returns a usable
		// store (recovered from the .old sibling, or empty) alongside the
		// error in this case, so the build
		// continues rather than aborting. Any other load error (e.g. a
		// permission failure) is a genuine configuration failure.
		var corruptErr *ferr.CorruptionError
		if errors.As(err, &corruptErr) {
			fmt.Fprintf(os.Stderr, "fbuildd: warning: %v\n", err)
		} else {
			fmt.Fprintln(os.Stderr, formatErr(err, cfg.Debug))
			return ExitConfig
		}
	}

	root := ctx.BuildRootFromEnv()
	bctx := ctx.New(root, cfg.Workers, store, logFile)

	ctx.RegisterAtExit(func() error {
		return store.Save(cfg.DBPath)
	})

	buildErr := build(bctx)

	if flushErr := ctx.RunAtExit(); flushErr != nil {
		fmt.Fprintf(os.Stderr, "fbuildd: flushing store: %v\n", flushErr)
		if buildErr == nil {
			return ExitConfig
		}
	}

	if buildErr != nil {
		fmt.Fprintln(os.Stderr, formatErr(buildErr, cfg.Debug))
		var cfgErr *ferr.ConfigError
		if errors.As(buildErr, &cfgErr) {
			return ExitConfig
		}
		return ExitBuild
	}

	return ExitSuccess
}

func formatErr(err error, debug bool) string {
	if debug {
		return fmt.Sprintf("%+v", err)
	}
	return fmt.Sprintf("%v", err)
}
