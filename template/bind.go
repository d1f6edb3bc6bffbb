package template

import (
	"strconv"
)

// BoundParameter is a job parameter with its submission value resolved
// (supplied or defaulted) and checked against the declared constraints.
type BoundParameter struct {
	Def   *ParameterDefinition
	Value string
}

// BindParameters resolves the supplied submission values against t's
// parameter definitions. Every definition must end up with a value; values
// for undeclared parameters are rejected. Constraint checking dispatches on
// the parameter's type tag.
func BindParameters(t *Template, values map[string]string) ([]BoundParameter, error) {
	for name := range values {
		if _, ok := t.Param(name); !ok {
			return nil, &BindingError{Parameter: name, Message: "not declared by the template"}
		}
	}

	params := t.Params()
	bound := make([]BoundParameter, 0, len(params))
	for i := range params {
		p := &params[i]
		val, supplied := values[p.Name]
		if !supplied {
			if p.Default == nil {
				return nil, &BindingError{Parameter: p.Name, Message: "no value supplied and no default declared"}
			}
			val = p.Default.Raw
		}
		if err := checkBoundValue(p, val); err != nil {
			return nil, err
		}
		bound = append(bound, BoundParameter{Def: p, Value: val})
	}
	return bound, nil
}

var boundValueChecks = map[ParamType]func(p *ParameterDefinition, val string) *BindingError{
	StringType: checkBoundText,
	PathType:   checkBoundText,
	IntType:    checkBoundNumeric,
	FloatType:  checkBoundNumeric,
}

func checkBoundValue(p *ParameterDefinition, val string) error {
	if len(p.AllowedValues) > 0 {
		found := false
		for _, av := range p.AllowedValues {
			if av.Raw == val {
				found = true
				break
			}
		}
		if !found {
			return &BindingError{Parameter: p.Name, Message: "value " + strconv.Quote(val) + " is not in allowedValues"}
		}
	}
	if check, ok := boundValueChecks[p.Type]; ok {
		if err := check(p, val); err != nil {
			return err
		}
	}
	return nil
}

func checkBoundText(p *ParameterDefinition, val string) *BindingError {
	if p.MinLength != nil && len(val) < *p.MinLength {
		return &BindingError{Parameter: p.Name, Message: "value is shorter than minLength"}
	}
	if p.MaxLength != nil && len(val) > *p.MaxLength {
		return &BindingError{Parameter: p.Name, Message: "value is longer than maxLength"}
	}
	return nil
}

func checkBoundNumeric(p *ParameterDefinition, val string) *BindingError {
	var n float64
	if p.Type == IntType {
		i, err := strconv.ParseInt(val, 10, 64)
		if err != nil {
			return &BindingError{Parameter: p.Name, Message: "value " + strconv.Quote(val) + " is not a valid integer"}
		}
		n = float64(i)
	} else {
		f, err := strconv.ParseFloat(val, 64)
		if err != nil {
			return &BindingError{Parameter: p.Name, Message: "value " + strconv.Quote(val) + " is not a valid number"}
		}
		n = f
	}
	if p.MinValue != nil && n < *p.MinValue {
		return &BindingError{Parameter: p.Name, Message: "value is below minValue"}
	}
	if p.MaxValue != nil && n > *p.MaxValue {
		return &BindingError{Parameter: p.Name, Message: "value is above maxValue"}
	}
	return nil
}
