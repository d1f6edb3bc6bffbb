// Package testhelpers holds helpers shared by tests across packages:
// seeded randomness and builders for small valid template documents.
package testhelpers

import (
	"fmt"
	"math/rand"
	"time"

	"github.com/jobforge/jobforge/template"
)

// NewRand returns a rand seeded from the clock. Tests that need
// reproducibility pass their own source instead.
func NewRand() *rand.Rand {
	return rand.New(rand.NewSource(time.Now().UnixNano()))
}

// GenRandomAlphaNumericString generates a string of random length (0, 21].
func GenRandomAlphaNumericString(rng *rand.Rand) string {
	const chars = "abcdefghijklmnopqrstuvwxyz0123456789"
	length := rng.Intn(20) + 1
	result := make([]byte, length)
	for i := 0; i < length; i++ {
		result[i] = chars[rng.Intn(len(chars))]
	}
	return string(result)
}

// GenSimStep builds a step whose run actions are simulation execer opcodes
// ("complete 0", "pause", "stdout hi", ...), one action per opcode.
func GenSimStep(name string, opcodes ...string) template.Step {
	actions := make([]template.Action, len(opcodes))
	for i, op := range opcodes {
		actions[i] = template.Action{Command: op}
	}
	return template.Step{
		Name: name,
		Script: template.StepScript{
			Actions: template.StepActions{OnRun: actions},
		},
	}
}

// GenSimTemplate builds a minimal valid single-step template driving the
// simulation execer.
func GenSimTemplate(stepName string, opcodes ...string) *template.JobTemplate {
	return &template.JobTemplate{
		SpecificationVersion: template.SpecVersion,
		Name:                 "sim-job",
		Steps:                []template.Step{GenSimStep(stepName, opcodes...)},
	}
}

// GenIntRangeSpace builds a one-parameter INT space over the given range
// expression.
func GenIntRangeSpace(param, expr string) *template.ParameterSpace {
	return &template.ParameterSpace{
		TaskParameterDefinitions: []template.TaskParameterDefinition{
			{Name: param, Type: template.IntType, Range: template.RangeSpec{Expression: expr}},
		},
	}
}

// GenValueList builds an explicit value-list range from literal values.
func GenValueList(values ...string) template.RangeSpec {
	vs := make([]template.Value, len(values))
	for i, v := range values {
		vs[i] = template.Value{Raw: v}
	}
	return template.RangeSpec{Values: vs}
}

// GenTaskID renders the canonical task id for the i'th run of a step.
func GenTaskID(step string, i int) string {
	return fmt.Sprintf("%s/%d", step, i)
}
