package fbdb

import (
	"os"
	"strconv"

	"github.com/google/renameio"
	"google.golang.org/protobuf/proto"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/fbuildgo/fbuild/ferr"
	"github.com/fbuildgo/fbuild/value"
)

// toDoc serializes the store's six relations into one structpb.Struct
// (spec.md §6: "a self-describing serialization of a 6-tuple").
func (s *Store) toDoc() *structpb.Struct {
	s.mu.Lock()
	defer s.mu.Unlock()

	functions := map[string]value.V{}
	for name, digest := range s.functions {
		functions[name] = value.String(digest)
	}

	functionCalls := map[string]value.V{}
	for name, calls := range s.calls {
		entries := make([]value.V, len(calls))
		for i, c := range calls {
			entries[i] = value.Map(map[string]value.V{
				"bound":  value.Map(c.Bound),
				"result": c.Result,
			})
		}
		functionCalls[name] = value.List(entries)
	}

	files := map[string]value.V{}
	for path, rec := range s.files {
		files[path] = value.Map(map[string]value.V{
			"mtime":  value.Number(rec.MTime),
			"digest": value.String(rec.Digest),
		})
	}

	callFiles := map[string]value.V{}
	for path, byFunc := range s.callFiles {
		funcMap := map[string]value.V{}
		for name, byCall := range byFunc {
			callMap := map[string]value.V{}
			for id, digest := range byCall {
				callMap[strconv.Itoa(id)] = value.String(digest)
			}
			funcMap[name] = value.Map(callMap)
		}
		callFiles[path] = value.Map(funcMap)
	}

	externalSrcs := encodeExternal(s.externalSrcs)
	externalDsts := encodeExternal(s.externalDsts)

	doc, _ := structpb.NewStruct(nil)
	doc.Fields = map[string]*structpb.Value{
		"functions":      value.Map(functions),
		"function_calls": value.Map(functionCalls),
		"files":          value.Map(files),
		"call_files":     value.Map(callFiles),
		"external_srcs":  value.Map(externalSrcs),
		"external_dsts":  value.Map(externalDsts),
	}
	return doc
}

func encodeExternal(m map[string]map[int][]string) map[string]value.V {
	out := map[string]value.V{}
	for name, byCall := range m {
		callMap := map[string]value.V{}
		for id, paths := range byCall {
			callMap[strconv.Itoa(id)] = value.StringList(paths)
		}
		out[name] = value.Map(callMap)
	}
	return out
}

// fromDoc reconstructs a Store from a structpb.Struct previously produced
// by toDoc.
func fromDoc(doc *structpb.Struct) *Store {
	s := New()

	if f := doc.GetFields()["functions"].GetStructValue(); f != nil {
		for name, v := range f.GetFields() {
			s.functions[name] = v.GetStringValue()
		}
	}

	if f := doc.GetFields()["function_calls"].GetStructValue(); f != nil {
		for name, v := range f.GetFields() {
			entries := v.GetListValue().GetValues()
			calls := make([]call, len(entries))
			for i, e := range entries {
				fields := e.GetStructValue().GetFields()
				calls[i] = call{
					Bound:  fields["bound"].GetStructValue().GetFields(),
					Result: fields["result"],
				}
			}
			s.calls[name] = calls
		}
	}

	if f := doc.GetFields()["files"].GetStructValue(); f != nil {
		for path, v := range f.GetFields() {
			fields := v.GetStructValue().GetFields()
			s.files[path] = fileRecord{
				MTime:  fields["mtime"].GetNumberValue(),
				Digest: fields["digest"].GetStringValue(),
			}
		}
	}

	if f := doc.GetFields()["call_files"].GetStructValue(); f != nil {
		for path, v := range f.GetFields() {
			byFunc := map[string]map[int]string{}
			for name, fv := range v.GetStructValue().GetFields() {
				byCall := map[int]string{}
				for idStr, dv := range fv.GetStructValue().GetFields() {
					id, _ := strconv.Atoi(idStr)
					byCall[id] = dv.GetStringValue()
				}
				byFunc[name] = byCall
			}
			s.callFiles[path] = byFunc
		}
	}

	s.externalSrcs = decodeExternal(doc.GetFields()["external_srcs"].GetStructValue())
	s.externalDsts = decodeExternal(doc.GetFields()["external_dsts"].GetStructValue())

	return s
}

func decodeExternal(st *structpb.Struct) map[string]map[int][]string {
	out := map[string]map[int][]string{}
	if st == nil {
		return out
	}
	for name, v := range st.GetFields() {
		byCall := map[int][]string{}
		for idStr, pv := range v.GetStructValue().GetFields() {
			id, _ := strconv.Atoi(idStr)
			byCall[id] = value.Strings(pv)
		}
		out[name] = byCall
	}
	return out
}

// Save atomically persists the store to path, following spec.md §4.D's
// five-step commit: write bytes to <path>.tmp (itself written atomically
// via github.com/google/renameio, a teacher dependency), rename any
// existing <path> to <path>.old, rename <path>.tmp into place, then
// remove <path>.old. A crash at any point leaves either the pre-commit
// or post-commit state recoverable (spec.md §8 "Atomic persistence").
func (s *Store) Save(path string) error {
	doc := s.toDoc()
	data, err := proto.Marshal(doc)
	if err != nil {
		return &ferr.UserError{Procedure: "fbdb.Store.Save", Err: err}
	}

	tmp := path + ".tmp"
	old := path + ".old"

	if err := renameio.WriteFile(tmp, data, 0644); err != nil {
		return err
	}

	if _, err := os.Stat(path); err == nil {
		if err := os.Rename(path, old); err != nil {
			return err
		}
	} else if !os.IsNotExist(err) {
		return err
	}

	if err := os.Rename(tmp, path); err != nil {
		return err
	}

	os.Remove(old) // best effort; absence of .old is not an error

	return nil
}

// Load reads path into a new Store. If path does not exist, Load returns
// an empty store (first run). If path exists but cannot be deserialized,
// Load consults the <path>.old sibling first: it returns the store decoded
// from <path>.old if that succeeds, or an empty store otherwise, and in
// both cases a *ferr.CorruptionError so the caller can log a warning
// (spec.md §7: "Recovery: delete and start fresh; log a warning. The .old
// sibling is consulted first.").
func Load(path string) (*Store, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			// A .old sibling with no current file means the process died
			// between the two renames of a prior commit; the old state is
			// the last known-good state (spec.md §8 scenario 5).
			if oldData, oldErr := os.ReadFile(path + ".old"); oldErr == nil {
				if doc, perr := decode(oldData); perr == nil {
					return fromDoc(doc), nil
				}
			}
			return New(), nil
		}
		return nil, err
	}

	doc, err := decode(data)
	if err != nil {
		if oldData, oldErr := os.ReadFile(path + ".old"); oldErr == nil {
			if oldDoc, operr := decode(oldData); operr == nil {
				return fromDoc(oldDoc), &ferr.CorruptionError{Path: path, Err: err}
			}
		}
		return New(), &ferr.CorruptionError{Path: path, Err: err}
	}

	// A leftover .tmp sibling means a previous commit was interrupted
	// before its rename into place; path itself is still the valid
	// pre-commit state, so just clear the stale temp file.
	os.Remove(path + ".tmp")

	return fromDoc(doc), nil
}

func decode(data []byte) (*structpb.Struct, error) {
	var doc structpb.Struct
	if err := proto.Unmarshal(data, &doc); err != nil {
		return nil, err
	}
	return &doc, nil
}
