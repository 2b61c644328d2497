// Command fbuildd is a minimal, runnable host for the toycc example
// adapter (package examples/toycc): it wires a store, a scheduler, and
// the cached-call engine together and drives a fixed two-compile-one-
// link build, exercising the same path a real build script's build(ctx)
// procedure would.
//
// Grounded on distri's cmd/distri/distri.go main()/funcmain() split:
// funcmain parses flags and does the real work (fbuildd.Run formats any
// error and returns the exit code), and main calls os.Exit exactly once.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"path/filepath"
	"sort"

	"github.com/fbuildgo/fbuild/ctx"
	"github.com/fbuildgo/fbuild/depext"
	"github.com/fbuildgo/fbuild/examples/toycc"
	"github.com/fbuildgo/fbuild/fbuildd"
	"github.com/fbuildgo/fbuild/sched"
)

var (
	dbPath    = flag.String("db", "fbuild.db", "path to the memoization database")
	logPath   = flag.String("log", "fbuild.log", "path to the build log")
	traceFile = flag.String("ctrace", "", "path to write a chrome://tracing event file to")
	workers   = flag.Int("workers", 0, "number of parallel build workers (0: GOMAXPROCS-ish default of 1)")
	debug     = flag.Bool("debug", false, "format errors with additional detail")
	srcDir    = flag.String("srcdir", ".", "directory containing a.toy and b.toy")
	outDir    = flag.String("outdir", ".", "directory to write compiled objects and the linked binary to")
)

func funcmain() int {
	flag.Parse()

	cfg := fbuildd.Config{
		DBPath:    *dbPath,
		LogPath:   *logPath,
		TraceFile: *traceFile,
		Workers:   *workers,
		Debug:     *debug,
	}

	return fbuildd.Run(cfg, func(bctx *ctx.BuildContext) error {
		return build(bctx, *srcDir, *outDir)
	})
}

// build is the build(ctx) procedure of this fixed example: compile
// a.toy and b.toy (plus whatever further .toy modules they #include, via
// the dependency extractor driving the scheduler as spec.md §4.G
// describes), and link every resulting object into main.out.
func build(bctx *ctx.BuildContext, srcDir, outDir string) error {
	compiler := &toycc.Compiler{
		Engine:        bctx.Engine,
		CompileDigest: "toycc.compile/v1",
		LinkDigest:    "toycc.link/v1",
	}

	sources := []string{
		filepath.Join(srcDir, "a.toy"),
		filepath.Join(srcDir, "b.toy"),
	}
	includes := []string{srcDir}

	objOf := func(src string) string {
		return filepath.Join(outDir, fmt.Sprintf("%s.obj", filepath.Base(src)))
	}

	facade := depext.NewFacade(bctx.Engine, "toycc.listincludes", "toycc.listincludes/v1", toycc.ListIncludes)
	results, err := sched.MapWithDependencies(context.Background(), bctx.Scheduler, sources, facade.Depfn(includes), func(ctx context.Context, src string) (string, error) {
		return compiler.Compile(ctx, src, includes, objOf(src))
	})
	if err != nil {
		return err
	}

	// sources plus every transitively-discovered .toy dependency now has
	// an object file; link them in a stable order so main.out's content
	// does not depend on map iteration order.
	objs := make([]string, 0, len(results))
	for src := range results {
		objs = append(objs, src)
	}
	sort.Strings(objs)
	for i, src := range objs {
		objs[i] = objOf(src)
	}

	dst := filepath.Join(outDir, "main.out")
	if _, err := compiler.Link(context.Background(), objs, dst); err != nil {
		return err
	}
	return nil
}

func main() {
	os.Exit(funcmain())
}
