// Package digest provides the two primitive operations of spec.md §4.A:
// digesting a file's content, and digesting a structurally comparable
// value. Both produce stable, lowercase-hex strings.
package digest

import (
	"crypto/sha256"
	"encoding/hex"
	"io"

	"golang.org/x/exp/mmap"
	"golang.org/x/xerrors"

	"github.com/fbuildgo/fbuild/value"
)

// File returns the content digest of the file at path as a lowercase hex
// string (spec.md §4.A: "return the content hash as a lowercase hex
// string"). It errors if the file does not exist.
func File(path string) (string, error) {
	r, err := mmap.Open(path)
	if err != nil {
		return "", xerrors.Errorf("digest.File(%s): %w", path, err)
	}
	defer r.Close()

	sr := io.NewSectionReader(r, 0, int64(r.Len()))
	h := sha256.New()
	if _, err := io.Copy(h, sr); err != nil {
		return "", xerrors.Errorf("digest.File(%s): %w", path, err)
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}

// Value returns a stable digest of v, derived from its canonical encoding
// (value.Canonical): mappings sort by key, sequences preserve order.
func Value(v value.V) string {
	sum := sha256.Sum256(value.Canonical(v))
	return hex.EncodeToString(sum[:])
}

// Bytes returns a stable lowercase-hex digest of raw bytes.
func Bytes(b []byte) string {
	sum := sha256.Sum256(b)
	return hex.EncodeToString(sum[:])
}
