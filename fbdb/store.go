// Package fbdb implements the persistent memoization database of spec.md
// §3/§4.D: the four persistent relations (functions, function calls,
// call-files, files) plus the two external-file maps, backed by a single
// serialized document with atomic commit.
//
// The in-memory shape and invalidation semantics are grounded directly on
// original_source/lib/fbuild/db/pickle_backend.py's PickleBackend; the
// on-disk commit sequence is grounded on the same file's save() method,
// composed with github.com/google/renameio (already a teacher
// dependency) for the atomic temp-file write step.
package fbdb

import (
	"sync"

	"github.com/fbuildgo/fbuild/value"
)

// call is one (bound_arguments, result) pair, indexed by its position
// (the call id) within a function's call list.
type call struct {
	Bound  map[string]value.V
	Result value.V
}

type fileRecord struct {
	MTime  float64
	Digest string
}

// Store holds the five relations of spec.md §3 behind one mutex; all
// operations are short map lookups, so contention is acceptable (spec.md
// §5).
type Store struct {
	mu sync.Mutex

	functions map[string]string       // name -> function digest
	calls     map[string][]call       // name -> ordered calls
	callFiles map[string]map[string]map[int]string // path -> name -> callID -> digest
	files     map[string]fileRecord   // path -> (mtime, digest)

	externalSrcs map[string]map[int][]string // name -> callID -> srcs
	externalDsts map[string]map[int][]string // name -> callID -> dsts
}

// New returns an empty store, as used when no database file exists yet or
// when recovery from corruption discards the prior state (spec.md §7
// "Cache corruption ... Recovery: delete and start fresh").
func New() *Store {
	return &Store{
		functions:    map[string]string{},
		calls:        map[string][]call{},
		callFiles:    map[string]map[string]map[int]string{},
		files:        map[string]fileRecord{},
		externalSrcs: map[string]map[int][]string{},
		externalDsts: map[string]map[int][]string{},
	}
}

// FindFunction returns the function's stored digest, or ok=false if this
// is the first time the function has been seen.
func (s *Store) FindFunction(name string) (digest string, ok bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	digest, ok = s.functions[name]
	return digest, ok
}

// SaveFunction replaces name's stored digest and purges every call,
// external-file set, and call-file entry associated with it, since a
// changed function invalidates all memoized calls (spec.md §3 Function
// record invariant; pickle_backend.py save_function/delete_function).
func (s *Store) SaveFunction(name, digest string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.deleteFunctionLocked(name)
	s.functions[name] = digest
}

func (s *Store) deleteFunctionLocked(name string) {
	delete(s.functions, name)
	delete(s.calls, name)
	delete(s.externalSrcs, name)
	delete(s.externalDsts, name)

	// call_files is indexed by path, so every path's entry must be swept
	// for references to name (pickle_backend.py does the same "more
	// expensive" sweep, on the assumption files change far less often than
	// functions).
	var emptyPaths []string
	for path, byFunc := range s.callFiles {
		delete(byFunc, name)
		if len(byFunc) == 0 {
			emptyPaths = append(emptyPaths, path)
		}
	}
	for _, path := range emptyPaths {
		delete(s.callFiles, path)
	}
}

// FindCall performs a linear scan over name's call list for a bound-args
// match (spec.md §4.D find_call: "Equality is structural"). It returns
// ok=false if no such call has been recorded.
func (s *Store) FindCall(name string, bound map[string]value.V) (callID int, result value.V, ok bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i, c := range s.calls[name] {
		if value.EqualBound(c.Bound, bound) {
			return i, c.Result, true
		}
	}
	return 0, nil, false
}

// SaveCall appends a new call (callID < 0) or overwrites the call at
// callID, returning the effective id.
func (s *Store) SaveCall(name string, callID int, bound map[string]value.V, result value.V) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	calls, ok := s.calls[name]
	if !ok || callID < 0 {
		if !ok {
			s.calls[name] = []call{{Bound: bound, Result: result}}
			return 0
		}
		s.calls[name] = append(calls, call{Bound: bound, Result: result})
		return len(s.calls[name]) - 1
	}
	calls[callID] = call{Bound: bound, Result: result}
	return callID
}

// FindCallFile returns the digest recorded the last time (name, callID)
// ran against path, or ok=false if there is no such record.
func (s *Store) FindCallFile(callID int, name, path string) (digest string, ok bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	byFunc, ok := s.callFiles[path]
	if !ok {
		return "", false
	}
	byCall, ok := byFunc[name]
	if !ok {
		return "", false
	}
	digest, ok = byCall[callID]
	return digest, ok
}

// SaveCallFile records that (name, callID) observed path with digest.
func (s *Store) SaveCallFile(callID int, name, path, digest string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	byFunc, ok := s.callFiles[path]
	if !ok {
		byFunc = map[string]map[int]string{}
		s.callFiles[path] = byFunc
	}
	byCall, ok := byFunc[name]
	if !ok {
		byCall = map[int]string{}
		byFunc[name] = byCall
	}
	byCall[callID] = digest
}

// FindExternalSrcs returns the externally declared source paths for
// (name, callID).
func (s *Store) FindExternalSrcs(callID int, name string) []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.externalSrcs[name][callID]...)
}

// FindExternalDsts returns the externally declared destination paths for
// (name, callID).
func (s *Store) FindExternalDsts(callID int, name string) []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.externalDsts[name][callID]...)
}

// SaveExternalFiles stores the external source/destination sets for
// (name, callID) and all of their digests atomically together (spec.md
// §4.D save_external_files), then records each path's call-file digest.
func (s *Store) SaveExternalFiles(name string, callID int, srcs, dsts []string, digests map[string]string) {
	s.mu.Lock()
	if _, ok := s.externalSrcs[name]; !ok {
		s.externalSrcs[name] = map[int][]string{}
	}
	s.externalSrcs[name][callID] = append([]string(nil), srcs...)

	if _, ok := s.externalDsts[name]; !ok {
		s.externalDsts[name] = map[int][]string{}
	}
	s.externalDsts[name][callID] = append([]string(nil), dsts...)

	for path, digest := range digests {
		byFunc, ok := s.callFiles[path]
		if !ok {
			byFunc = map[string]map[int]string{}
			s.callFiles[path] = byFunc
		}
		byCall, ok := byFunc[name]
		if !ok {
			byCall = map[int]string{}
			byFunc[name] = byCall
		}
		byCall[callID] = digest
	}
	s.mu.Unlock()
}

// FindFile returns the cached (mtime, digest) pair for path, or ok=false
// if path has never been recorded.
func (s *Store) FindFile(path string) (mtime float64, digest string, ok bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.files[path]
	if !ok {
		return 0, "", false
	}
	return rec.MTime, rec.Digest, true
}

// SaveFile records path's current (mtime, digest).
func (s *Store) SaveFile(path string, mtime float64, digest string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.files[path] = fileRecord{MTime: mtime, Digest: digest}
}

// DeleteFile removes path's file record and every call-file entry that
// referenced it.
func (s *Store) DeleteFile(path string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.files, path)
	delete(s.callFiles, path)
}
