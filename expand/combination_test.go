package expand

import (
	"testing"

	"github.com/davecgh/go-spew/spew"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jobforge/jobforge/template"
	"github.com/jobforge/jobforge/tests/testhelpers"
)

func space(combination string, defs ...template.TaskParameterDefinition) *template.ParameterSpace {
	return &template.ParameterSpace{TaskParameterDefinitions: defs, Combination: combination}
}

func intDef(name, expr string) template.TaskParameterDefinition {
	return template.TaskParameterDefinition{Name: name, Type: template.IntType, Range: template.RangeSpec{Expression: expr}}
}

func listDef(name string, values ...string) template.TaskParameterDefinition {
	return template.TaskParameterDefinition{Name: name, Type: template.StringType, Range: testhelpers.GenValueList(values...)}
}

func runStrings(runs []TaskRun) []string {
	out := make([]string, len(runs))
	for i, r := range runs {
		out[i] = r.String()
	}
	return out
}

func TestExpandNoParameterSpace(t *testing.T) {
	step := &template.Step{Name: "solo"}
	runs, err := Expand(step)
	require.NoError(t, err)
	require.Len(t, runs, 1)
	assert.Empty(t, runs[0].Bindings())
}

func TestExpandDefaultProduct(t *testing.T) {
	// No combination expression: cross product in declared order, first
	// declared parameter varying slowest.
	runs, err := ExpandCombination(space("", intDef("A", "1-2"), listDef("B", "x", "y")))
	require.NoError(t, err)
	want := []string{
		"A=1 B=x",
		"A=1 B=y",
		"A=2 B=x",
		"A=2 B=y",
	}
	assert.Equal(t, want, runStrings(runs), spew.Sdump(runs))
}

func TestExpandExplicitProduct(t *testing.T) {
	runs, err := ExpandCombination(space("A * B", intDef("A", "1-2"), listDef("B", "x", "y")))
	require.NoError(t, err)
	assert.Equal(t, []string{"A=1 B=x", "A=1 B=y", "A=2 B=x", "A=2 B=y"}, runStrings(runs))
}

func TestExpandProductOrderFollowsExpression(t *testing.T) {
	// The expression order wins over declaration order: B varies slowest.
	runs, err := ExpandCombination(space("B * A", intDef("A", "1-2"), listDef("B", "x", "y")))
	require.NoError(t, err)
	assert.Equal(t, []string{"B=x A=1", "B=x A=2", "B=y A=1", "B=y A=2"}, runStrings(runs))
}

func TestExpandProductThreeByThree(t *testing.T) {
	runs, err := ExpandCombination(space("A * B", intDef("A", "1-3"), listDef("B", "x", "y", "z")))
	require.NoError(t, err)
	want := []string{
		"A=1 B=x",
		"A=1 B=y",
		"A=1 B=z",
		"A=2 B=x",
		"A=2 B=y",
		"A=2 B=z",
		"A=3 B=x",
		"A=3 B=y",
		"A=3 B=z",
	}
	assert.Equal(t, want, runStrings(runs))
}

func TestExpandAssociation(t *testing.T) {
	runs, err := ExpandCombination(space("(A,B)", intDef("A", "1-3"), listDef("B", "x", "y", "z")))
	require.NoError(t, err)
	assert.Equal(t, []string{"A=1 B=x", "A=2 B=y", "A=3 B=z"}, runStrings(runs))
}

func TestExpandAssociationFrameChunks(t *testing.T) {
	// Chunked frame ranges: S is the first frame of each chunk, E the last,
	// with the extra value absorbing the remainder chunk. Paired up they
	// produce one task run per chunk.
	runs, err := ExpandCombination(space("(S,E)",
		intDef("S", "1-380:11"), intDef("E", "11-380:11,380")))
	require.NoError(t, err)
	require.Len(t, runs, 35, spew.Sdump(runs))
	got := runStrings(runs)
	assert.Equal(t, "S=1 E=11", got[0])
	assert.Equal(t, "S=12 E=22", got[1])
	assert.Equal(t, "S=364 E=374", got[33])
	assert.Equal(t, "S=375 E=380", got[34])
}

func TestExpandAssociationCardinalityMismatch(t *testing.T) {
	_, err := ExpandCombination(space("(A,B)", intDef("A", "1-3"), listDef("B", "x", "y")))
	var ce *AssociationCardinalityError
	require.ErrorAs(t, err, &ce)
	assert.Equal(t, []string{"A", "B"}, ce.Parameters)
	assert.Equal(t, []int{3, 2}, ce.Cardinalities)
}

func TestExpandProductOfAssociation(t *testing.T) {
	runs, err := ExpandCombination(space("(A,B) * C",
		intDef("A", "1-2"), listDef("B", "x", "y"), intDef("C", "10-11")))
	require.NoError(t, err)
	want := []string{
		"A=1 B=x C=10",
		"A=1 B=x C=11",
		"A=2 B=y C=10",
		"A=2 B=y C=11",
	}
	assert.Equal(t, want, runStrings(runs))
}

func TestExpandCoverageErrors(t *testing.T) {
	for _, tc := range []struct {
		combination string
		reason      string
	}{
		{"A", "not referenced"},
		{"A * A * B", "more than once"},
		{"A * B * C", "unknown task parameter"},
	} {
		_, err := ExpandCombination(space(tc.combination, intDef("A", "1-2"), listDef("B", "x")))
		var ce *CombinationSyntaxError
		require.ErrorAs(t, err, &ce, "combination %q", tc.combination)
		assert.Contains(t, ce.Reason, tc.reason, "combination %q", tc.combination)
	}
}

func TestExpandCombinationSyntaxErrors(t *testing.T) {
	for _, combination := range []string{
		"*",
		"A *",
		"(A)",
		"(A,B",
		"A B",
		"A , B",
	} {
		_, err := ExpandCombination(space(combination, intDef("A", "1-2"), listDef("B", "x", "y")))
		var ce *CombinationSyntaxError
		require.ErrorAs(t, err, &ce, "combination %q", combination)
	}
}

func TestExpandRangeErrorPropagates(t *testing.T) {
	_, err := ExpandCombination(space("", intDef("A", "5-1")))
	var re *RangeExpansionError
	require.ErrorAs(t, err, &re)
	assert.Equal(t, "A", re.Parameter)
}

func TestExpandDeterministic(t *testing.T) {
	s := space("(A,B) * C", intDef("A", "1-4"), listDef("B", "w", "x", "y", "z"), intDef("C", "0-9:3"))
	first, err := ExpandCombination(s)
	require.NoError(t, err)
	for i := 0; i < 5; i++ {
		again, err := ExpandCombination(s)
		require.NoError(t, err)
		assert.Equal(t, runStrings(first), runStrings(again))
	}
}

func TestOverride(t *testing.T) {
	step := &template.Step{
		Name:           "render",
		ParameterSpace: space("", intDef("A", "1-10"), listDef("B", "x", "y")),
	}
	runs, err := Override(step, []map[string]string{
		{"A": "7", "B": "y"},
		{"B": "x", "A": "2"},
	})
	require.NoError(t, err)
	// Bindings take declared definition order regardless of tuple key order.
	assert.Equal(t, []string{"A=7 B=y", "A=2 B=x"}, runStrings(runs))
}

func TestOverrideRejectsPartialTuples(t *testing.T) {
	step := &template.Step{
		Name:           "render",
		ParameterSpace: space("", intDef("A", "1-10"), listDef("B", "x", "y")),
	}
	_, err := Override(step, []map[string]string{{"A": "7"}})
	var ce *CombinationSyntaxError
	require.ErrorAs(t, err, &ce)

	_, err = Override(step, []map[string]string{{"A": "7", "C": "1"}})
	require.ErrorAs(t, err, &ce)
}

func TestTaskRunLookup(t *testing.T) {
	run := NewTaskRun(Binding{Name: "A", Value: "1"}, Binding{Name: "B", Value: "x"})
	v, ok := run.Lookup("B")
	require.True(t, ok)
	assert.Equal(t, "x", v)
	_, ok = run.Lookup("C")
	assert.False(t, ok)
}
