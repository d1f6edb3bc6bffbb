package session

import (
	"github.com/jobforge/jobforge/expand"
	"github.com/jobforge/jobforge/format"
	"github.com/jobforge/jobforge/pathmap"
	"github.com/jobforge/jobforge/template"
)

// JobScope resolves the job-submission parameter bindings into the job-level
// reference scope. PATH-typed values are passed through the path mapping
// translator for the execution host before entering the scope, so every
// later resolution sees execution-host paths only.
func JobScope(tmpl *template.Template, values map[string]string, rules *pathmap.RuleSet, host pathmap.PathFormat) (*format.Scope, error) {
	bound, err := template.BindParameters(tmpl, values)
	if err != nil {
		return nil, err
	}
	scope := format.NewScope("job")
	for _, b := range bound {
		v := b.Value
		if b.Def.Type == template.PathType {
			v = rules.Translate(v, host)
		}
		scope.Bind("Param."+b.Def.Name, v)
	}
	return scope, nil
}

// JobName resolves the template's name format string against the job scope.
func JobName(tmpl *template.Template, jobScope *format.Scope) (string, error) {
	return format.Resolve(tmpl.Definition().Name, jobScope)
}

// taskScope extends the session scope with the current task run's bindings.
func (s *Session) taskScope(run expand.TaskRun) *format.Scope {
	scope := s.scope.Extend("task")
	for _, b := range run.Bindings() {
		scope.Bind("Task.Param."+b.Name, b.Value)
	}
	return scope
}
