package supervisor

import "fmt"

// StartupError is returned when a process cannot be started, or exits
// within the startup grace window.
type StartupError struct {
	Name string
	Exec string
	Err  error
}

func (e *StartupError) Error() string {
	return fmt.Sprintf("starting %s (%s): %v", e.Name, e.Exec, e.Err)
}

func (e *StartupError) Unwrap() error { return e.Err }
