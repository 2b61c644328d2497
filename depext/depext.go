// Package depext implements the dependency extractor façade of spec.md
// §4.G: a thin wrapper turning a language's "list my dependencies" tool
// into a cacheable procedure whose result is a set of path strings,
// suitable as the depfn argument to sched.MapWithDependencies.
//
// Grounded on original_source/lib/fbuild/packages/ocaml.py's _Linker.run,
// which feeds fbuild.scheduler.map_with_dependencies a partial
// application of conf['ocaml']['ocamldep'] as depfn: the extractor itself
// participates in the cache (spec.md §4.G "if its inputs and the source
// file are unchanged, its answer is reused").
package depext

import (
	"context"

	"github.com/fbuildgo/fbuild/builder"
	"github.com/fbuildgo/fbuild/cached"
	"github.com/fbuildgo/fbuild/value"
)

// Tool lists the dependency paths of a source file, e.g. by invoking an
// external "list dependencies" program (procutil.Run) and parsing its
// output.
type Tool func(ctx context.Context, rec *cached.Recorder, src string, includes []string) ([]string, error)

// Facade turns a Tool into a cached procedure returning a set of path
// strings, descriptor-compatible with cached.Engine.Call.
type Facade struct {
	Engine     *cached.Engine
	Descriptor builder.Descriptor // must declare "src" Source and "includes" Plain
	FuncDigest string
	Tool       Tool
}

// NewFacade builds a Facade around tool, with the canonical descriptor
// fbuild's ocamldep wrapper implies: one Source parameter (the file whose
// dependencies are being listed) and one Plain parameter (the include
// search path, which affects where dependencies resolve to without being
// a file itself).
func NewFacade(engine *cached.Engine, funcName, funcDigest string, tool Tool) *Facade {
	return &Facade{
		Engine: engine,
		Descriptor: builder.Descriptor{
			FuncName: funcName,
			Params: []builder.Param{
				{Name: "src", Kind: builder.Source},
				{Name: "includes", Kind: builder.Plain},
			},
		},
		FuncDigest: funcDigest,
		Tool:       tool,
	}
}

// Depfn is suitable as the depfn argument to sched.MapWithDependencies:
// given a source path, it returns the paths the source depends on,
// running the underlying Tool through the cached-call engine so unchanged
// sources do not re-invoke the external dependency-listing program.
func (f *Facade) Depfn(includes []string) func(context.Context, string) ([]string, error) {
	return func(ctx context.Context, src string) ([]string, error) {
		args := map[string]value.V{
			"src":      value.Path(src),
			"includes": value.StringList(includes),
		}
		result, err := f.Engine.Call(ctx, f.Descriptor, f.FuncDigest, args, func(ctx context.Context, rec *cached.Recorder, bound map[string]value.V) (value.V, error) {
			deps, err := f.Tool(ctx, rec, value.Strings(bound["src"])[0], value.Strings(bound["includes"]))
			if err != nil {
				return nil, err
			}
			return value.StringList(deps), nil
		})
		if err != nil {
			return nil, err
		}
		return value.Strings(result), nil
	}
}
