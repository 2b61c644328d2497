package ctx

import "os"

// BuildRootFromEnv resolves the build root the way distri's
// internal/env/env.go resolves DISTRIROOT: an environment variable with
// a fallback, generalized to this system's own variable name.
func BuildRootFromEnv() string {
	if root := os.Getenv("FBUILD_ROOT"); root != "" {
		return root
	}
	wd, err := os.Getwd()
	if err != nil {
		return "."
	}
	return wd
}
