// Package ctx defines the build-script entry point of spec.md §6: the
// context a build script's build(ctx) procedure receives, exposing the
// scheduler, the store-backed cached-call engine, the logger, the build
// root path, and registered builder adapters.
package ctx

import (
	"io"

	"github.com/fbuildgo/fbuild/cached"
	"github.com/fbuildgo/fbuild/console"
	"github.com/fbuildgo/fbuild/fbdb"
	"github.com/fbuildgo/fbuild/sched"
)

// BuildContext is passed to the user's build(ctx) procedure.
type BuildContext struct {
	Scheduler *sched.Scheduler
	Engine    *cached.Engine
	Console   *console.Console
	BuildRoot string

	// Adapters holds builder-protocol adapters (spec.md §4.F) registered
	// by name, e.g. "c", "ocaml". The core does not know their types;
	// adapters are plugins (spec.md §1 "treated here as plugins").
	Adapters map[string]interface{}
}

// New assembles a BuildContext around an already-loaded store.
func New(root string, workers int, store *fbdb.Store, logFile io.Writer) *BuildContext {
	return &BuildContext{
		Scheduler: sched.New(workers),
		Engine:    cached.New(store),
		Console:   console.New(logFile, workers),
		BuildRoot: root,
		Adapters:  map[string]interface{}{},
	}
}
