package expand

import (
	"regexp"
	"strconv"

	"github.com/jobforge/jobforge/template"
)

// rangeExprRe matches "start-end[:step[,extra]]" with signed bounds.
var rangeExprRe = regexp.MustCompile(`^\s*(-?\d+)\s*-\s*(-?\d+)\s*(?::\s*(-?\d+)\s*)?(?:,\s*(-?\d+)\s*)?$`)

// ExpandRange expands a task parameter definition into its ordered value
// sequence. Explicit lists are returned verbatim. A range expression
// produces start, start+step, ... stopping at or before end, with a
// trailing extra value appended verbatim when present. Extra is how a
// non-uniform final group (e.g. a remainder of frames) is expressed.
func ExpandRange(def *template.TaskParameterDefinition) ([]string, error) {
	if !def.Range.IsExpression() {
		out := make([]string, len(def.Range.Values))
		for i, v := range def.Range.Values {
			out[i] = v.Raw
		}
		if len(out) == 0 {
			return nil, &RangeExpansionError{Parameter: def.Name, Reason: "empty value list"}
		}
		return out, nil
	}

	expr := def.Range.Expression
	fail := func(reason string) error {
		return &RangeExpansionError{Parameter: def.Name, Expression: expr, Reason: reason}
	}

	m := rangeExprRe.FindStringSubmatch(expr)
	if m == nil {
		return nil, fail("not of the form start-end[:step[,extra]]")
	}
	start, err := strconv.ParseInt(m[1], 10, 64)
	if err != nil {
		return nil, fail("invalid start bound")
	}
	end, err := strconv.ParseInt(m[2], 10, 64)
	if err != nil {
		return nil, fail("invalid end bound")
	}
	step := int64(1)
	if m[3] != "" {
		step, err = strconv.ParseInt(m[3], 10, 64)
		if err != nil {
			return nil, fail("invalid step")
		}
	}

	if step <= 0 {
		return nil, fail("step must be positive")
	}
	if end < start {
		return nil, fail("bounds must be increasing")
	}

	var out []string
	last := start
	for v := start; v <= end; {
		out = append(out, strconv.FormatInt(v, 10))
		last = v
		next := v + step
		if next < v {
			// int64 wraparound: step is positive, so the sequence is past end.
			break
		}
		v = next
	}

	if m[4] != "" {
		extra, err := strconv.ParseInt(m[4], 10, 64)
		if err != nil {
			return nil, fail("invalid extra value")
		}
		if extra <= last {
			return nil, fail("extra value is out of declared order")
		}
		out = append(out, strconv.FormatInt(extra, 10))
	}
	return out, nil
}
