// Package expand evaluates range expressions and combination algebra into
// the ordered list of TaskRuns for a step. Expansion is deterministic:
// the same template always yields TaskRuns in the identical order, which
// downstream numbering and scheduling depend on.
package expand

import "strings"

// Binding is one parameter-name to resolved-value pair.
type Binding struct {
	Name  string
	Value string
}

// TaskRun is one concrete instantiation of a step's parameter space: an
// ordered mapping from parameter name to a single value.
type TaskRun struct {
	bindings []Binding
}

// NewTaskRun builds a TaskRun from bindings in the given order.
func NewTaskRun(bindings ...Binding) TaskRun {
	return TaskRun{bindings: bindings}
}

// Bindings returns the run's bindings in stable order.
func (r TaskRun) Bindings() []Binding {
	return r.bindings
}

// Lookup returns the value bound to name.
func (r TaskRun) Lookup(name string) (string, bool) {
	for _, b := range r.bindings {
		if b.Name == name {
			return b.Value, true
		}
	}
	return "", false
}

// String renders the run as "name=value name=value" in binding order. Two
// expansions of the same template render byte-identically.
func (r TaskRun) String() string {
	parts := make([]string, len(r.bindings))
	for i, b := range r.bindings {
		parts[i] = b.Name + "=" + b.Value
	}
	return strings.Join(parts, " ")
}

func merge(a, b TaskRun) TaskRun {
	out := make([]Binding, 0, len(a.bindings)+len(b.bindings))
	out = append(out, a.bindings...)
	out = append(out, b.bindings...)
	return TaskRun{bindings: out}
}
