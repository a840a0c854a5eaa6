//go:build !release

// Package assert holds engine invariant checks. A failed check means the storage engine itself is
// corrupt, so it panics instead of returning an error. Build with -tags release to compile them out.
package assert

import "fmt"

func That(cond bool, format string, args ...any) { //nolint:goprintffuncname // it's ok
	if !cond {
		panic(fmt.Sprintf("invariant violated: "+format, args...))
	}
}
