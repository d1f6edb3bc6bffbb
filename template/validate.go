package template

import (
	"fmt"
	"strconv"
	"strings"

	log "github.com/sirupsen/logrus"

	"github.com/jobforge/jobforge/format"
)

// Template is a validated, immutable, cross-referenced template. Names have
// been resolved into integer handles at validation time, so execution-time
// lookups never search by string and can't dangle.
type Template struct {
	def        *JobTemplate
	paramIndex map[string]int
	stepIndex  map[string]int
	stepDeps   [][]int
}

func (t *Template) Definition() *JobTemplate { return t.def }

func (t *Template) Params() []ParameterDefinition { return t.def.ParameterDefinitions }

func (t *Template) Param(name string) (*ParameterDefinition, bool) {
	i, ok := t.paramIndex[name]
	if !ok {
		return nil, false
	}
	return &t.def.ParameterDefinitions[i], true
}

func (t *Template) Steps() []Step { return t.def.Steps }

func (t *Template) StepHandle(name string) (int, bool) {
	i, ok := t.stepIndex[name]
	return i, ok
}

func (t *Template) Step(handle int) *Step { return &t.def.Steps[handle] }

// StepDependencies returns the handles of the steps that the given step
// depends on, in declared order.
func (t *Template) StepDependencies(handle int) []int {
	return t.stepDeps[handle]
}

type validator struct {
	t     *JobTemplate
	diags []Diagnostic
}

func (v *validator) addf(location, msg string, args ...interface{}) {
	v.diags = append(v.diags, Diagnostic{Location: location, Message: fmt.Sprintf(msg, args...)})
}

// Validate checks t against the schema and referential-integrity rules and
// returns the resolved Template. On failure it returns either a
// *ValidationError with ordered diagnostics or a *CyclicDependencyError.
// Validate is a pure function over its input.
func Validate(t *JobTemplate) (*Template, error) {
	v := &validator{t: t}

	v.checkVersion()
	paramIndex := v.checkParameters()
	stepIndex := v.checkStepNames()
	v.checkEnvironments("environments", t.Environments, paramIndex)

	stepDeps := make([][]int, len(t.Steps))
	for i := range t.Steps {
		stepDeps[i] = v.checkStep(i, &t.Steps[i], paramIndex, stepIndex)
	}

	if cycle := findCycle(t.Steps, stepIndex); cycle != nil {
		return nil, &CyclicDependencyError{Cycle: cycle}
	}

	if len(v.diags) > 0 {
		log.WithFields(log.Fields{
			"name":        t.Name,
			"diagnostics": len(v.diags),
		}).Debug("Template rejected")
		return nil, &ValidationError{Diagnostics: v.diags}
	}

	return &Template{
		def:        t,
		paramIndex: paramIndex,
		stepIndex:  stepIndex,
		stepDeps:   stepDeps,
	}, nil
}

func (v *validator) checkVersion() {
	if v.t.SpecificationVersion != SpecVersion {
		v.addf("specificationVersion", "unrecognized schema version %q, expected %q",
			v.t.SpecificationVersion, SpecVersion)
	}
	if v.t.Name == "" {
		v.addf("name", "job name is required")
	}
	if len(v.t.Steps) == 0 {
		v.addf("steps", "a template must declare at least one step")
	}

	// The job name is itself a format string, resolvable from job scope only.
	for _, ref := range format.References(v.t.Name) {
		if !strings.HasPrefix(ref, "Param.") {
			v.addf("name", "reference {{%s}} is not visible in job scope (only Param.* is)", ref)
		}
	}
}

func (v *validator) checkParameters() map[string]int {
	index := map[string]int{}
	for i := range v.t.ParameterDefinitions {
		p := &v.t.ParameterDefinitions[i]
		loc := fmt.Sprintf("parameterDefinitions[%d]", i)
		if p.Name == "" {
			v.addf(loc, "parameter name is required")
			continue
		}
		if _, dup := index[p.Name]; dup {
			v.addf(loc, "duplicate parameter name %q", p.Name)
			continue
		}
		index[p.Name] = i
		v.checkParameterDef(loc, p)
	}

	// Job-name references are checked in checkVersion for scope; existence
	// is checked here once the parameter namespace is known.
	for _, ref := range format.References(v.t.Name) {
		if name, ok := strings.CutPrefix(ref, "Param."); ok {
			if _, exists := index[name]; !exists {
				v.addf("name", "reference {{%s}} names an undeclared parameter", ref)
			}
		}
	}
	return index
}

var paramConstraintChecks = map[ParamType]func(v *validator, loc string, p *ParameterDefinition){
	StringType: checkTextParam,
	PathType:   checkPathParam,
	IntType:    checkNumericParam,
	FloatType:  checkNumericParam,
}

func (v *validator) checkParameterDef(loc string, p *ParameterDefinition) {
	check, ok := paramConstraintChecks[p.Type]
	if !ok {
		v.addf(loc, "unknown parameter type %q", p.Type)
		return
	}
	if p.Type != PathType && (p.DataFlow != "" || p.ObjectType != "") {
		v.addf(loc, "dataFlow/objectType are only valid for PATH parameters")
	}
	if len(p.AllowedValues) > 0 && p.Default != nil {
		found := false
		for _, av := range p.AllowedValues {
			if av.Raw == p.Default.Raw {
				found = true
				break
			}
		}
		if !found {
			v.addf(loc, "default %q is not in allowedValues", p.Default.Raw)
		}
	}
	check(v, loc, p)
}

func checkTextParam(v *validator, loc string, p *ParameterDefinition) {
	if p.MinValue != nil || p.MaxValue != nil {
		v.addf(loc, "minValue/maxValue are only valid for INT and FLOAT parameters")
	}
	if p.MinLength != nil && p.MaxLength != nil && *p.MinLength > *p.MaxLength {
		v.addf(loc, "minLength %d exceeds maxLength %d", *p.MinLength, *p.MaxLength)
	}
	if p.Default != nil {
		n := len(p.Default.Raw)
		if p.MinLength != nil && n < *p.MinLength {
			v.addf(loc, "default is shorter than minLength %d", *p.MinLength)
		}
		if p.MaxLength != nil && n > *p.MaxLength {
			v.addf(loc, "default is longer than maxLength %d", *p.MaxLength)
		}
	}
}

func checkPathParam(v *validator, loc string, p *ParameterDefinition) {
	switch p.DataFlow {
	case "", DataFlowIn, DataFlowOut, DataFlowNone:
	default:
		v.addf(loc, "unknown dataFlow %q", p.DataFlow)
	}
	switch p.ObjectType {
	case "", FileObject, DirectoryObject:
	default:
		v.addf(loc, "unknown objectType %q", p.ObjectType)
	}
	checkTextParam(v, loc, p)
}

func checkNumericParam(v *validator, loc string, p *ParameterDefinition) {
	if p.MinLength != nil || p.MaxLength != nil {
		v.addf(loc, "minLength/maxLength are only valid for STRING and PATH parameters")
	}
	parse := func(raw, what string) (float64, bool) {
		if p.Type == IntType {
			n, err := strconv.ParseInt(raw, 10, 64)
			if err != nil {
				v.addf(loc, "%s %q is not a valid integer", what, raw)
				return 0, false
			}
			return float64(n), true
		}
		f, err := strconv.ParseFloat(raw, 64)
		if err != nil {
			v.addf(loc, "%s %q is not a valid number", what, raw)
			return 0, false
		}
		return f, true
	}

	if p.MinValue != nil && p.MaxValue != nil && *p.MinValue > *p.MaxValue {
		v.addf(loc, "minValue %v exceeds maxValue %v", *p.MinValue, *p.MaxValue)
	}
	for _, av := range p.AllowedValues {
		parse(av.Raw, "allowed value")
	}
	if p.Default != nil {
		d, ok := parse(p.Default.Raw, "default")
		if !ok {
			return
		}
		if p.MinValue != nil && d < *p.MinValue {
			v.addf(loc, "default %v is below minValue %v", d, *p.MinValue)
		}
		if p.MaxValue != nil && d > *p.MaxValue {
			v.addf(loc, "default %v is above maxValue %v", d, *p.MaxValue)
		}
	}
}

func (v *validator) checkStepNames() map[string]int {
	index := map[string]int{}
	for i := range v.t.Steps {
		s := &v.t.Steps[i]
		loc := fmt.Sprintf("steps[%d]", i)
		if s.Name == "" {
			v.addf(loc, "step name is required")
			continue
		}
		if _, dup := index[s.Name]; dup {
			v.addf(loc, "duplicate step name %q", s.Name)
			continue
		}
		index[s.Name] = i
	}
	return index
}

func (v *validator) checkStep(i int, s *Step, paramIndex, stepIndex map[string]int) []int {
	loc := fmt.Sprintf("steps[%d]", i)

	var deps []int
	seen := map[string]bool{}
	for _, dep := range s.Dependencies {
		if dep == s.Name {
			v.addf(loc+".dependencies", "step %q depends on itself", s.Name)
			continue
		}
		if seen[dep] {
			v.addf(loc+".dependencies", "duplicate dependency %q", dep)
			continue
		}
		seen[dep] = true
		h, ok := stepIndex[dep]
		if !ok {
			v.addf(loc+".dependencies", "dependency %q names an undeclared step", dep)
			continue
		}
		deps = append(deps, h)
	}

	taskParams := map[string]bool{}
	if s.ParameterSpace != nil {
		pl := loc + ".parameterSpace"
		if len(s.ParameterSpace.TaskParameterDefinitions) == 0 {
			v.addf(pl, "a parameter space must declare at least one task parameter")
		}
		for j, tp := range s.ParameterSpace.TaskParameterDefinitions {
			tl := fmt.Sprintf("%s.taskParameterDefinitions[%d]", pl, j)
			if tp.Name == "" {
				v.addf(tl, "task parameter name is required")
				continue
			}
			if taskParams[tp.Name] {
				v.addf(tl, "duplicate task parameter name %q", tp.Name)
				continue
			}
			taskParams[tp.Name] = true
			switch tp.Type {
			case StringType, PathType, IntType, FloatType:
			default:
				v.addf(tl, "unknown task parameter type %q", tp.Type)
			}
			if tp.Range.IsExpression() {
				if tp.Range.Expression == "" {
					v.addf(tl, "range is required")
				} else if tp.Type != IntType {
					v.addf(tl, "range expressions are only valid for INT task parameters")
				}
			}
		}
	}

	files := v.checkEmbeddedFiles(loc+".script", s.Script.EmbeddedFiles)

	stepScope := func(al string, a *Action) {
		v.checkAction(al, a)
		v.checkStepRefs(al, a, paramIndex, taskParams, files)
	}
	if len(s.Script.Actions.OnRun) == 0 {
		v.addf(loc+".script.actions.onRun", "a step must declare at least one run action")
	}
	for j := range s.Script.Actions.OnRun {
		stepScope(fmt.Sprintf("%s.script.actions.onRun[%d]", loc, j), &s.Script.Actions.OnRun[j])
	}
	if s.Script.Actions.OnCleanup != nil {
		stepScope(loc+".script.actions.onCleanup", s.Script.Actions.OnCleanup)
	}

	v.checkEnvironments(loc+".stepEnvironments", s.StepEnvironments, paramIndex)

	// Step environments stack on top of the job-level ones inside a session,
	// so names must be unique across the combined stack.
	names := map[string]bool{}
	for _, e := range v.t.Environments {
		names[e.Name] = true
	}
	for _, e := range s.StepEnvironments {
		if names[e.Name] {
			v.addf(loc+".stepEnvironments", "environment %q shadows another environment in the session stack", e.Name)
		}
		names[e.Name] = true
	}

	return deps
}

func (v *validator) checkEmbeddedFiles(loc string, files []EmbeddedFile) map[string]bool {
	names := map[string]bool{}
	for j, f := range files {
		fl := fmt.Sprintf("%s.embeddedFiles[%d]", loc, j)
		if f.Name == "" {
			v.addf(fl, "embedded file name is required")
			continue
		}
		if names[f.Name] {
			v.addf(fl, "duplicate embedded file name %q", f.Name)
			continue
		}
		names[f.Name] = true
		if f.Type != "TEXT" {
			v.addf(fl, "unsupported embedded file type %q (only TEXT)", f.Type)
		}
		filename := f.Filename
		if filename == "" {
			filename = f.Name
		}
		if strings.ContainsAny(filename, `/\`) {
			v.addf(fl, "filename %q must not contain path separators", filename)
		}
	}
	return names
}

func (v *validator) checkAction(loc string, a *Action) {
	if a.Command == "" {
		v.addf(loc+".command", "action command is required")
	}
	if a.Timeout < 0 {
		v.addf(loc+".timeout", "timeout must be a positive number of seconds")
	}
	switch a.CancelationMethod {
	case "", CancelTerminate, CancelKill:
	default:
		v.addf(loc+".cancelationMethod", "unknown cancelation method %q", a.CancelationMethod)
	}
}

// checkStepRefs validates references in step/task scope: Param.*,
// Task.Param.*, Task.File.* and session metadata are visible; Env.File.* is
// not (it is environment-scoped).
func (v *validator) checkStepRefs(loc string, a *Action, paramIndex map[string]int, taskParams, files map[string]bool) {
	check := func(fl, s string) {
		for _, ref := range format.References(s) {
			switch {
			case ref == "Session.WorkingDirectory":
			case strings.HasPrefix(ref, "Param."):
				if _, ok := paramIndex[strings.TrimPrefix(ref, "Param.")]; !ok {
					v.addf(fl, "reference {{%s}} names an undeclared parameter", ref)
				}
			case strings.HasPrefix(ref, "Task.Param."):
				if !taskParams[strings.TrimPrefix(ref, "Task.Param.")] {
					v.addf(fl, "reference {{%s}} names an undeclared task parameter", ref)
				}
			case strings.HasPrefix(ref, "Task.File."):
				if !files[strings.TrimPrefix(ref, "Task.File.")] {
					v.addf(fl, "reference {{%s}} names an undeclared embedded file", ref)
				}
			default:
				v.addf(fl, "reference {{%s}} is not visible in step scope", ref)
			}
		}
	}
	check(loc+".command", a.Command)
	for k, arg := range a.Args {
		check(fmt.Sprintf("%s.args[%d]", loc, k), arg)
	}
}

func (v *validator) checkEnvironments(loc string, envs []Environment, paramIndex map[string]int) {
	names := map[string]bool{}
	for i := range envs {
		e := &envs[i]
		el := fmt.Sprintf("%s[%d]", loc, i)
		if e.Name == "" {
			v.addf(el, "environment name is required")
			continue
		}
		if names[e.Name] {
			v.addf(el, "duplicate environment name %q", e.Name)
			continue
		}
		names[e.Name] = true

		var files map[string]bool
		if e.Script != nil {
			files = v.checkEmbeddedFiles(el+".script", e.Script.EmbeddedFiles)
		}

		check := func(fl, s string) {
			for _, ref := range format.References(s) {
				switch {
				case ref == "Session.WorkingDirectory":
				case strings.HasPrefix(ref, "Param."):
					if _, ok := paramIndex[strings.TrimPrefix(ref, "Param.")]; !ok {
						v.addf(fl, "reference {{%s}} names an undeclared parameter", ref)
					}
				case strings.HasPrefix(ref, "Env.File."):
					if !files[strings.TrimPrefix(ref, "Env.File.")] {
						v.addf(fl, "reference {{%s}} names an undeclared embedded file", ref)
					}
				default:
					v.addf(fl, "reference {{%s}} is not visible in environment scope", ref)
				}
			}
		}
		for name, val := range e.Variables {
			check(fmt.Sprintf("%s.variables.%s", el, name), val)
		}
		if e.Script != nil {
			if a := e.Script.Actions.OnEnter; a != nil {
				v.checkAction(el+".script.actions.onEnter", a)
				check(el+".script.actions.onEnter.command", a.Command)
				for k, arg := range a.Args {
					check(fmt.Sprintf("%s.script.actions.onEnter.args[%d]", el, k), arg)
				}
			}
			if a := e.Script.Actions.OnExit; a != nil {
				v.checkAction(el+".script.actions.onExit", a)
				check(el+".script.actions.onExit.command", a.Command)
				for k, arg := range a.Args {
					check(fmt.Sprintf("%s.script.actions.onExit.args[%d]", el, k), arg)
				}
			}
		}
	}
}

// findCycle runs a colored DFS over the declared dependency edges and
// returns the names along the first cycle found, closed at both ends.
func findCycle(steps []Step, stepIndex map[string]int) []string {
	const (
		white = iota
		gray
		black
	)
	color := make([]int, len(steps))
	var stack []string
	var cycle []string

	var visit func(i int) bool
	visit = func(i int) bool {
		color[i] = gray
		stack = append(stack, steps[i].Name)
		for _, dep := range steps[i].Dependencies {
			j, ok := stepIndex[dep]
			if !ok {
				continue
			}
			if color[j] == gray {
				// Close the loop: slice the stack from the repeated name.
				start := 0
				for k, name := range stack {
					if name == dep {
						start = k
						break
					}
				}
				cycle = append(append([]string{}, stack[start:]...), dep)
				return true
			}
			if color[j] == white && visit(j) {
				return true
			}
		}
		stack = stack[:len(stack)-1]
		color[i] = black
		return false
	}

	for i := range steps {
		if color[i] == white && visit(i) {
			return cycle
		}
	}
	return nil
}
