// Package check reports mismatches between the state a scenario expects and
// the state the system under test reports.
package check

import (
	"errors"
	"fmt"

	"github.com/google/go-cmp/cmp"
)

// Failure is a failed assertion.
type Failure struct {
	What     string
	Expected interface{}
	Actual   interface{}
}

func (f *Failure) Error() string {
	if f.Expected == nil && f.Actual == nil {
		return f.What
	}
	return fmt.Sprintf("%s: expected %v, got %v", f.What, f.Expected, f.Actual)
}

// Equal returns a *Failure when expected and actual differ. Both must be
// comparable.
func Equal(what string, expected, actual interface{}) error {
	if expected != actual {
		return &Failure{What: what, Expected: expected, Actual: actual}
	}
	return nil
}

// Diff returns a *Failure describing how actual differs from expected.
// Unlike Equal it accepts slices, maps and structs.
func Diff(what string, expected, actual interface{}) error {
	if d := cmp.Diff(expected, actual); d != "" {
		return &Failure{What: fmt.Sprintf("%s mismatch (-expected +got):\n%s", what, d)}
	}
	return nil
}

// Failf returns a *Failure carrying only a description.
func Failf(format string, args ...interface{}) error {
	return &Failure{What: fmt.Sprintf(format, args...)}
}

// IsFailure reports whether err's chain contains a *Failure.
func IsFailure(err error) bool {
	var f *Failure
	return errors.As(err, &f)
}
