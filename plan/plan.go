// Package plan tracks step readiness over a validated template's dependency
// DAG. It decides which steps may be assigned to sessions and propagates
// dependency failure, but does not itself schedule anything: the consumer is
// free to run ready steps in any interleaving, concurrently or not.
package plan

import (
	"fmt"

	log "github.com/sirupsen/logrus"

	"github.com/jobforge/jobforge/template"
)

type StepState int

const (
	// Waiting on one or more dependencies.
	Pending StepState = iota
	// All dependencies succeeded; may be assigned to a session.
	Ready
	Running
	Succeeded
	Failed
	// A dependency failed; this step will never run.
	NotRunnable
)

func (s StepState) IsTerminal() bool {
	return s == Succeeded || s == Failed || s == NotRunnable
}

func (s StepState) String() string {
	switch s {
	case Pending:
		return "Pending"
	case Ready:
		return "Ready"
	case Running:
		return "Running"
	case Succeeded:
		return "Succeeded"
	case Failed:
		return "Failed"
	case NotRunnable:
		return "NotRunnable"
	default:
		panic(fmt.Sprintf("unexpected StepState %v", int(s)))
	}
}

// Planner gates step assignment on the dependency DAG. It is not safe for
// concurrent use; callers serialize access the way a scheduler loop does.
type Planner struct {
	tmpl   *template.Template
	states []StepState
}

func New(tmpl *template.Template) *Planner {
	p := &Planner{
		tmpl:   tmpl,
		states: make([]StepState, len(tmpl.Steps())),
	}
	p.refresh()
	return p
}

// Ready returns the names of all steps currently ready for assignment, in
// template declaration order. Enumeration is deterministic: the same
// template in the same state always yields the same order.
func (p *Planner) Ready() []string {
	var ready []string
	for i, st := range p.states {
		if st == Ready {
			ready = append(ready, p.tmpl.Step(i).Name)
		}
	}
	return ready
}

// State returns the current state of a step.
func (p *Planner) State(step string) (StepState, error) {
	h, ok := p.tmpl.StepHandle(step)
	if !ok {
		return Pending, fmt.Errorf("step %q is not declared by the template", step)
	}
	return p.states[h], nil
}

// MarkStarted transitions a ready step to Running.
func (p *Planner) MarkStarted(step string) error {
	h, ok := p.tmpl.StepHandle(step)
	if !ok {
		return fmt.Errorf("step %q is not declared by the template", step)
	}
	if p.states[h] != Ready {
		return fmt.Errorf("step %q is %v, not Ready", step, p.states[h])
	}
	p.states[h] = Running
	return nil
}

// MarkCompleted records a step's terminal result. Failure marks every
// transitive dependent NotRunnable rather than silently proceeding.
func (p *Planner) MarkCompleted(step string, success bool) error {
	h, ok := p.tmpl.StepHandle(step)
	if !ok {
		return fmt.Errorf("step %q is not declared by the template", step)
	}
	if p.states[h].IsTerminal() {
		return fmt.Errorf("step %q already completed", step)
	}
	if success {
		p.states[h] = Succeeded
	} else {
		p.states[h] = Failed
		log.WithFields(log.Fields{"step": step}).Info("Step failed, marking dependents not runnable")
	}
	p.refresh()
	return nil
}

// Done reports whether every step has reached a terminal state.
func (p *Planner) Done() bool {
	for _, st := range p.states {
		if !st.IsTerminal() {
			return false
		}
	}
	return true
}

// Failed reports whether any step failed or became not runnable.
func (p *Planner) Failed() bool {
	for _, st := range p.states {
		if st == Failed || st == NotRunnable {
			return true
		}
	}
	return false
}

// refresh recomputes Pending/Ready/NotRunnable from dependency states.
// Iterating in declaration order until a fixed point handles transitive
// NotRunnable propagation; the DAG is acyclic so this terminates.
func (p *Planner) refresh() {
	for changed := true; changed; {
		changed = false
		for i, st := range p.states {
			if st != Pending && st != Ready {
				continue
			}
			next := Ready
			for _, dep := range p.tmpl.StepDependencies(i) {
				switch p.states[dep] {
				case Failed, NotRunnable:
					next = NotRunnable
				case Succeeded:
				default:
					if next == Ready {
						next = Pending
					}
				}
			}
			if next != st {
				p.states[i] = next
				changed = true
			}
		}
	}
}
