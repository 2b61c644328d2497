// Package procutil is the process-execution helper of spec.md §6: it
// shells out to external tools (compilers, dependency printers) via an
// argv vector and optional stdin, capturing combined stdout+stderr.
// Grounded on internal/batch/batch.go's scheduler.build, which runs
// exec.CommandContext and wraps a non-zero exit with
// golang.org/x/xerrors.
package procutil

import (
	"bytes"
	"context"
	"os/exec"

	"github.com/fbuildgo/fbuild/ferr"
)

// Run executes argv[0] with argv[1:] as arguments, optionally feeding
// stdin, and returns the combined stdout+stderr. Exit code 0 is success;
// any other outcome (including a launch failure) returns a
// *ferr.ExecError carrying the command line, exit code, and captured
// output (spec.md §6).
func Run(ctx context.Context, argv []string, stdin []byte) ([]byte, error) {
	cmd := exec.CommandContext(ctx, argv[0], argv[1:]...)
	if stdin != nil {
		cmd.Stdin = bytes.NewReader(stdin)
	}
	var out bytes.Buffer
	cmd.Stdout = &out
	cmd.Stderr = &out

	err := cmd.Run()
	if err == nil {
		return out.Bytes(), nil
	}

	exitCode := -1
	if exitErr, ok := err.(*exec.ExitError); ok {
		exitCode = exitErr.ExitCode()
	}
	return out.Bytes(), &ferr.ExecError{
		Argv:     argv,
		ExitCode: exitCode,
		Output:   out.String(),
		Err:      err,
	}
}
