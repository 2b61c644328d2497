// Package ferr defines the error kinds of spec.md §7: configuration
// failure, execution failure, cache corruption, cycle detection, and user
// error. Every wrap site in the teacher repository uses
// golang.org/x/xerrors.Errorf("...: %w", err); these types compose with
// that convention via Unwrap.
package ferr

import "golang.org/x/xerrors"

// ConfigError reports that a required external tool, header, or platform
// feature could not be located or did not behave as expected. It aborts
// the build immediately (spec.md §7).
type ConfigError struct {
	What string
	Err  error
}

func (e *ConfigError) Error() string {
	if e.Err == nil {
		return "configuration failure: " + e.What
	}
	return xerrors.Errorf("configuration failure: %s: %w", e.What, e.Err).Error()
}

func (e *ConfigError) Unwrap() error { return e.Err }

// ExecError reports that a subprocess returned non-zero or could not be
// launched. It carries the command line, exit code, and captured output
// (spec.md §6, §7).
type ExecError struct {
	Argv     []string
	ExitCode int
	Output   string
	Err      error
}

func (e *ExecError) Error() string {
	return xerrors.Errorf("exec %v (exit %d): %s: %w", e.Argv, e.ExitCode, e.Output, e.Err).Error()
}

func (e *ExecError) Unwrap() error { return e.Err }

// CorruptionError reports that the on-disk store could not be
// deserialized. Recovery is to delete and start fresh, consulting the
// .old sibling first (spec.md §7).
type CorruptionError struct {
	Path string
	Err  error
}

func (e *CorruptionError) Error() string {
	return xerrors.Errorf("cache corruption in %s: %w", e.Path, e.Err).Error()
}

func (e *CorruptionError) Unwrap() error { return e.Err }

// CycleError reports a dependency cycle found by the scheduler's
// map_with_dependencies. It names the offending inputs (spec.md §4.C,
// §7, §8 scenario 4).
type CycleError struct {
	Nodes []string
}

func (e *CycleError) Error() string {
	return xerrors.Errorf("dependency cycle detected among: %v", e.Nodes).Error()
}

// UserError reports that a cached procedure misdeclared its parameters:
// a non-serializable result, a declared source that does not exist, and
// similar misuse (spec.md §7).
type UserError struct {
	Procedure string
	Err       error
}

func (e *UserError) Error() string {
	return xerrors.Errorf("procedure %s misused the cache: %w", e.Procedure, e.Err).Error()
}

func (e *UserError) Unwrap() error { return e.Err }
