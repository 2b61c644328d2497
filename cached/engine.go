// Package cached implements the cached-call engine of spec.md §4.E: the
// bind → classify → digest → lookup → hit/miss protocol that is the
// heart of the build system. No single teacher file implements this (it
// is the spec's central novel algorithm); it is grounded on the call
// shape original_source/lib/fbuild/db/pickle_backend.py persists
// ((bound, result) pairs addressed by call id) and on
// original_source/lib/fbuild/packages/__init__.py's build/Package
// duality for how a procedure's output composes with further procedures.
package cached

import (
	"context"
	"os"
	"sort"

	"golang.org/x/xerrors"

	"github.com/fbuildgo/fbuild/builder"
	"github.com/fbuildgo/fbuild/digest"
	"github.com/fbuildgo/fbuild/fbdb"
	"github.com/fbuildgo/fbuild/ferr"
	"github.com/fbuildgo/fbuild/value"
)

// Recorder is the explicit side channel a procedure uses to report files
// it read or wrote that were not among its declared parameters (spec.md
// §4.E step 7c, §4.F "any additional files read ... must be reported
// through add_external_src"). Design Note §9 replaces fbuild's implicit
// thread-local current-build-context with an explicit value passed to
// every cached procedure; Recorder is that value for the file-tracking
// side channel specifically.
type Recorder struct {
	srcs []string
	dsts []string
}

// AddExternalSrc records that the running procedure read path, even
// though path was not one of its declared Source parameters.
func (r *Recorder) AddExternalSrc(path string) { r.srcs = append(r.srcs, path) }

// AddExternalDst records that the running procedure wrote path, even
// though path was not one of its declared Destination parameters.
func (r *Recorder) AddExternalDst(path string) { r.dsts = append(r.dsts, path) }

// Impl is a cacheable procedure's body: given the explicit build context
// (via ctx), a Recorder for external file reporting, and its bound
// arguments, it produces a result or an error.
type Impl func(ctx context.Context, rec *Recorder, bound map[string]value.V) (value.V, error)

// Engine is the cached-call engine of spec.md §4.E, holding a borrowed
// handle to the store (spec.md §3 Ownership: "the store owns the
// persistent relations; cached-call engine holds a borrowed handle").
type Engine struct {
	Store *fbdb.Store
}

// New creates an Engine backed by store.
func New(store *fbdb.Store) *Engine {
	return &Engine{Store: store}
}

// Call runs the full cached-procedure protocol for one invocation of the
// procedure described by d, whose current identity digest is funcDigest
// (spec.md §4.E step 4: "Compute F's digest from its source
// representation plus the digests of any other cached functions it
// statically references" — computing that digest is the caller's
// responsibility, since it requires knowledge of F's source and its
// static call graph that only the builder adapter has).
func (e *Engine) Call(ctx context.Context, d builder.Descriptor, funcDigest string, args map[string]value.V, impl Impl) (value.V, error) {
	bound, err := bindArgs(d, args)
	if err != nil {
		return nil, &ferr.UserError{Procedure: d.FuncName, Err: err}
	}

	// Step 4: function identity check. A changed digest invalidates every
	// prior call to F regardless of argument values (spec.md §3 Function
	// record invariant).
	if stored, ok := e.Store.FindFunction(d.FuncName); !ok || stored != funcDigest {
		e.Store.SaveFunction(d.FuncName, funcDigest)
		return e.miss(ctx, d, bound, -1, impl)
	}

	// Step 5: lookup.
	callID, prior, ok := e.Store.FindCall(d.FuncName, bound)
	if !ok {
		return e.miss(ctx, d, bound, -1, impl)
	}

	if e.callFilesUnchanged(d, callID, bound) {
		return prior, nil // Step 6: hit path, no side effects.
	}
	return e.miss(ctx, d, bound, callID, impl)
}

// bindArgs resolves args against d's declared parameters, filling
// defaults, and excludes Ignored parameters from the result so that they
// never affect the fingerprint (spec.md §4.E steps 1-2).
func bindArgs(d builder.Descriptor, args map[string]value.V) (map[string]value.V, error) {
	bound := make(map[string]value.V, len(d.Params))
	for _, p := range d.Params {
		if p.Kind == builder.Ignored {
			continue
		}
		v, ok := args[p.Name]
		if !ok {
			if p.Default == nil {
				return nil, xerrors.Errorf("missing required parameter %q", p.Name)
			}
			v = p.Default
		}
		bound[p.Name] = v
	}
	return bound, nil
}

// callFilesUnchanged checks every file associated with (F, callID) —
// declared sources first, then declared destinations, then external
// sources/destinations — against its current digest. Declared-source
// mismatches are checked before destination mismatches for early exit in
// the common case (spec.md §4.E "Ordering and tie-breaks"). A
// destination that no longer exists on disk is always a mismatch, even
// if its recorded digest is present.
func (e *Engine) callFilesUnchanged(d builder.Descriptor, callID int, bound map[string]value.V) bool {
	for _, name := range d.SourceParams() {
		if !pathsUnchanged(e.Store, d.FuncName, callID, value.Strings(bound[name]), false) {
			return false
		}
	}
	for _, name := range d.DestinationParams() {
		if !pathsUnchanged(e.Store, d.FuncName, callID, value.Strings(bound[name]), true) {
			return false
		}
	}
	if !pathsUnchanged(e.Store, d.FuncName, callID, e.Store.FindExternalSrcs(callID, d.FuncName), false) {
		return false
	}
	if !pathsUnchanged(e.Store, d.FuncName, callID, e.Store.FindExternalDsts(callID, d.FuncName), true) {
		return false
	}
	return true
}

func pathsUnchanged(store *fbdb.Store, name string, callID int, paths []string, isDestination bool) bool {
	for _, path := range paths {
		if isDestination {
			if _, err := os.Stat(path); err != nil {
				return false // missing destination is always a miss
			}
		}
		stored, ok := store.FindCallFile(callID, name, path)
		if !ok {
			return false
		}
		cur, err := fileDigest(store, path)
		if err != nil || cur != stored {
			return false
		}
	}
	return true
}

// miss runs impl, digests every source/destination file it touched
// (declared and external), and records the new call (spec.md §4.E step
// 7). callID is -1 to append a new call, or the id of the stale call to
// overwrite.
func (e *Engine) miss(ctx context.Context, d builder.Descriptor, bound map[string]value.V, callID int, impl Impl) (value.V, error) {
	rec := &Recorder{}
	result, err := impl(ctx, rec, bound)
	if err != nil {
		return nil, err
	}

	digests := map[string]string{}
	var declaredSrcs, declaredDsts []string

	for _, name := range d.SourceParams() {
		declaredSrcs = append(declaredSrcs, value.Strings(bound[name])...)
	}
	for _, name := range d.DestinationParams() {
		declaredDsts = append(declaredDsts, value.Strings(bound[name])...)
	}
	if d.ResultIsPath {
		declaredDsts = append(declaredDsts, value.Strings(result)...)
	}

	for _, path := range declaredSrcs {
		dg, err := fileDigest(e.Store, path)
		if err != nil {
			return nil, &ferr.UserError{Procedure: d.FuncName, Err: xerrors.Errorf("declared source %s: %w", path, err)}
		}
		digests[path] = dg
	}
	allDsts := append(append([]string(nil), declaredDsts...), rec.dsts...)
	for _, path := range allDsts {
		dg, err := fileDigest(e.Store, path)
		if err != nil {
			return nil, &ferr.UserError{Procedure: d.FuncName, Err: xerrors.Errorf("destination %s was not produced: %w", path, err)}
		}
		digests[path] = dg
	}
	for _, path := range rec.srcs {
		dg, err := fileDigest(e.Store, path)
		if err != nil {
			return nil, &ferr.UserError{Procedure: d.FuncName, Err: xerrors.Errorf("external source %s: %w", path, err)}
		}
		digests[path] = dg
	}

	id := e.Store.SaveCall(d.FuncName, callID, bound, result)

	for _, path := range declaredSrcs {
		e.Store.SaveCallFile(id, d.FuncName, path, digests[path])
	}
	for _, path := range declaredDsts {
		e.Store.SaveCallFile(id, d.FuncName, path, digests[path])
	}

	sort.Strings(rec.srcs)
	sort.Strings(rec.dsts)
	e.Store.SaveExternalFiles(d.FuncName, id, rec.srcs, rec.dsts, digests)

	return result, nil
}

// fileDigest returns path's content digest, reusing the store's cached
// (mtime, digest) pair when the file's mtime has not changed (spec.md
// §4.E step 3, §4.D "Used as a cache to avoid recomputing digests when
// mtime is unchanged"). mtime is compared as a floating-point value for
// exact equality (spec.md §4.E "Numeric semantics").
func fileDigest(store *fbdb.Store, path string) (string, error) {
	info, err := os.Stat(path)
	if err != nil {
		return "", err
	}
	mtime := float64(info.ModTime().UnixNano()) / 1e9

	if cachedMTime, cachedDigest, ok := store.FindFile(path); ok && cachedMTime == mtime {
		return cachedDigest, nil
	}

	d, err := digest.File(path)
	if err != nil {
		return "", err
	}
	store.SaveFile(path, mtime, d)
	return d, nil
}
