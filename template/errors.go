package template

import (
	"fmt"
	"strings"
)

// Diagnostic is one (location, message) pair from validation.
type Diagnostic struct {
	Location string
	Message  string
}

func (d Diagnostic) String() string {
	if d.Location == "" {
		return d.Message
	}
	return fmt.Sprintf("%s: %s", d.Location, d.Message)
}

// ValidationError is the ordered list of diagnostics for a rejected template.
type ValidationError struct {
	Diagnostics []Diagnostic
}

func (e *ValidationError) Error() string {
	msgs := make([]string, len(e.Diagnostics))
	for i, d := range e.Diagnostics {
		msgs[i] = d.String()
	}
	return fmt.Sprintf("template validation failed: %s", strings.Join(msgs, "; "))
}

// CyclicDependencyError reports a cycle in the step dependency graph. Cycle
// holds the step names along the cycle, ending where it began.
type CyclicDependencyError struct {
	Cycle []string
}

func (e *CyclicDependencyError) Error() string {
	return fmt.Sprintf("cyclic step dependency: %s", strings.Join(e.Cycle, " -> "))
}

// BindingError reports a job parameter value that violates its declared
// constraints, or a missing required value.
type BindingError struct {
	Parameter string
	Message   string
}

func (e *BindingError) Error() string {
	return fmt.Sprintf("parameter %q: %s", e.Parameter, e.Message)
}
