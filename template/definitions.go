// Package template defines the job template object graph, parses template
// documents, and validates them into immutable cross-referenced Templates
// ready for expansion and execution.
package template

import (
	"fmt"

	"gopkg.in/yaml.v3"
)

// SpecVersion is the template schema identifier this engine accepts.
const SpecVersion = "jobtemplate-1.0"

type ParamType string

const (
	StringType ParamType = "STRING"
	PathType   ParamType = "PATH"
	IntType    ParamType = "INT"
	FloatType  ParamType = "FLOAT"
)

type DataFlow string

const (
	DataFlowIn   DataFlow = "IN"
	DataFlowOut  DataFlow = "OUT"
	DataFlowNone DataFlow = "NONE"
)

type ObjectType string

const (
	FileObject      ObjectType = "FILE"
	DirectoryObject ObjectType = "DIRECTORY"
)

type CancelationMethod string

const (
	// CancelTerminate sends SIGTERM to the process tree, then SIGKILL after
	// the configured grace period. This is the default.
	CancelTerminate CancelationMethod = "terminate"
	// CancelKill kills the process tree immediately.
	CancelKill CancelationMethod = "kill"
)

// Value is a scalar from a template document kept in its literal string form.
// All substitution is textual, so the engine never needs the decoded type.
type Value struct {
	Raw string
}

func (v *Value) UnmarshalYAML(node *yaml.Node) error {
	if node.Kind != yaml.ScalarNode {
		return fmt.Errorf("expected a scalar value, got %v", node.Tag)
	}
	v.Raw = node.Value
	return nil
}

func (v Value) String() string { return v.Raw }

// JobTemplate is the top level of a parsed template document.
type JobTemplate struct {
	SpecificationVersion string                `yaml:"specificationVersion"`
	Name                 string                `yaml:"name"`
	Description          string                `yaml:"description,omitempty"`
	ParameterDefinitions []ParameterDefinition `yaml:"parameterDefinitions,omitempty"`
	Steps                []Step                `yaml:"steps"`
	Environments         []Environment         `yaml:"environments,omitempty"`
}

// ParameterDefinition declares a job parameter. It is bound to a concrete
// value once per job submission, or falls back to Default.
type ParameterDefinition struct {
	Name          string    `yaml:"name"`
	Type          ParamType `yaml:"type"`
	Description   string    `yaml:"description,omitempty"`
	Default       *Value    `yaml:"default,omitempty"`
	MinValue      *float64  `yaml:"minValue,omitempty"`
	MaxValue      *float64  `yaml:"maxValue,omitempty"`
	MinLength     *int      `yaml:"minLength,omitempty"`
	MaxLength     *int      `yaml:"maxLength,omitempty"`
	AllowedValues []Value   `yaml:"allowedValues,omitempty"`

	// PATH type only.
	DataFlow   DataFlow   `yaml:"dataFlow,omitempty"`
	ObjectType ObjectType `yaml:"objectType,omitempty"`
}

// Step is a named unit of work with its own parameter space and dependencies.
type Step struct {
	Name             string          `yaml:"name"`
	Description      string          `yaml:"description,omitempty"`
	Dependencies     []string        `yaml:"dependencies,omitempty"`
	ParameterSpace   *ParameterSpace `yaml:"parameterSpace,omitempty"`
	Script           StepScript      `yaml:"script"`
	StepEnvironments []Environment   `yaml:"stepEnvironments,omitempty"`
}

type ParameterSpace struct {
	TaskParameterDefinitions []TaskParameterDefinition `yaml:"taskParameterDefinitions"`
	// Combination is the product/association expression over parameter
	// names. Empty means the product of all definitions in declared order.
	Combination string `yaml:"combination,omitempty"`
}

// TaskParameterDefinition declares one axis of a step's parameter space.
// Range holds either an explicit ordered value list or an INT range
// expression of the form "start-end[:step[,extra]]".
type TaskParameterDefinition struct {
	Name  string    `yaml:"name"`
	Type  ParamType `yaml:"type"`
	Range RangeSpec `yaml:"range"`
}

// RangeSpec is a union: a scalar is a range expression, a sequence is an
// explicit value list.
type RangeSpec struct {
	Expression string
	Values     []Value
}

func (r *RangeSpec) UnmarshalYAML(node *yaml.Node) error {
	switch node.Kind {
	case yaml.ScalarNode:
		r.Expression = node.Value
		return nil
	case yaml.SequenceNode:
		return node.Decode(&r.Values)
	default:
		return fmt.Errorf("range must be an expression string or a value list")
	}
}

// IsExpression reports whether the range is given as an expression rather
// than an explicit list.
func (r RangeSpec) IsExpression() bool { return len(r.Values) == 0 }

type StepScript struct {
	Actions       StepActions    `yaml:"actions"`
	EmbeddedFiles []EmbeddedFile `yaml:"embeddedFiles,omitempty"`
}

type StepActions struct {
	OnRun []Action `yaml:"onRun"`
	// OnCleanup runs best-effort after the run actions, even if one of them
	// failed or was canceled.
	OnCleanup *Action `yaml:"onCleanup,omitempty"`
}

// Action is one external command invocation. Command and Args are format
// strings resolved at job or session/task time.
type Action struct {
	Command           string            `yaml:"command"`
	Args              []string          `yaml:"args,omitempty"`
	Timeout           int               `yaml:"timeout,omitempty"` // seconds
	CancelationMethod CancelationMethod `yaml:"cancelationMethod,omitempty"`
}

// EmbeddedFile is literal file content materialized into the session working
// directory at setup and deleted at teardown.
type EmbeddedFile struct {
	Name     string `yaml:"name"`
	Type     string `yaml:"type"` // TEXT
	Filename string `yaml:"filename,omitempty"`
	Runnable bool   `yaml:"runnable,omitempty"`
	Data     string `yaml:"data"`
}

// Environment is a stackable setup/teardown unit shared by the tasks run
// within it.
type Environment struct {
	Name        string             `yaml:"name"`
	Description string             `yaml:"description,omitempty"`
	Variables   map[string]string  `yaml:"variables,omitempty"`
	Script      *EnvironmentScript `yaml:"script,omitempty"`
}

type EnvironmentScript struct {
	Actions       EnvironmentActions `yaml:"actions"`
	EmbeddedFiles []EmbeddedFile     `yaml:"embeddedFiles,omitempty"`
}

type EnvironmentActions struct {
	OnEnter *Action `yaml:"onEnter,omitempty"`
	OnExit  *Action `yaml:"onExit,omitempty"`
}
