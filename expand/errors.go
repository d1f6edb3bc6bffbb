package expand

import "fmt"

// RangeExpansionError reports an invalid range expression or value list for
// the named task parameter.
type RangeExpansionError struct {
	Parameter  string
	Expression string
	Reason     string
}

func (e *RangeExpansionError) Error() string {
	return fmt.Sprintf("range %q of task parameter %q: %s", e.Expression, e.Parameter, e.Reason)
}

// AssociationCardinalityError reports grouped definitions whose expanded
// sequences do not share one cardinality.
type AssociationCardinalityError struct {
	Parameters    []string
	Cardinalities []int
}

func (e *AssociationCardinalityError) Error() string {
	return fmt.Sprintf("association %v requires equal cardinalities, got %v", e.Parameters, e.Cardinalities)
}

// CombinationSyntaxError reports a combination expression that does not
// parse or does not cover the declared task parameters exactly once each.
type CombinationSyntaxError struct {
	Expression string
	Reason     string
}

func (e *CombinationSyntaxError) Error() string {
	return fmt.Sprintf("combination %q: %s", e.Expression, e.Reason)
}
