package expand

import (
	"strings"
	"unicode"

	log "github.com/sirupsen/logrus"

	"github.com/jobforge/jobforge/template"
)

// Expand produces the ordered TaskRuns for a step. A step with no parameter
// space has exactly one implicit task with empty parameter bindings.
func Expand(step *template.Step) ([]TaskRun, error) {
	if step.ParameterSpace == nil {
		return []TaskRun{NewTaskRun()}, nil
	}
	runs, err := ExpandCombination(step.ParameterSpace)
	if err != nil {
		return nil, err
	}
	log.WithFields(log.Fields{
		"step":  step.Name,
		"tasks": len(runs),
	}).Debug("Expanded step parameter space")
	return runs, nil
}

// ExpandCombination parses the space's combination expression into a tree of
// product and association nodes over the task parameter names, expands each
// leaf, and evaluates the tree. The default expression (when omitted) is the
// cross product of all sibling definitions in declared order.
func ExpandCombination(space *template.ParameterSpace) ([]TaskRun, error) {
	defs := map[string]*template.TaskParameterDefinition{}
	var order []string
	for i := range space.TaskParameterDefinitions {
		d := &space.TaskParameterDefinitions[i]
		defs[d.Name] = d
		order = append(order, d.Name)
	}

	expr := space.Combination
	var node combNode
	var err error
	if strings.TrimSpace(expr) == "" {
		operands := make([]combNode, len(order))
		for i, name := range order {
			operands[i] = &leafNode{name: name}
		}
		node = &productNode{operands: operands}
	} else {
		node, err = parseCombination(expr)
		if err != nil {
			return nil, err
		}
		if err := checkCoverage(expr, node, order); err != nil {
			return nil, err
		}
	}

	return node.eval(defs)
}

// Override builds TaskRuns from a literal list of parameter-value tuples in
// place of full expansion, for testing and task selection. Each tuple must
// bind exactly the declared task parameters; bindings take the declared
// definition order.
func Override(step *template.Step, tuples []map[string]string) ([]TaskRun, error) {
	if step.ParameterSpace == nil {
		if len(tuples) != 0 {
			return nil, &CombinationSyntaxError{Reason: "step has no parameter space to override"}
		}
		return []TaskRun{NewTaskRun()}, nil
	}
	defs := step.ParameterSpace.TaskParameterDefinitions
	runs := make([]TaskRun, 0, len(tuples))
	for _, tuple := range tuples {
		if len(tuple) != len(defs) {
			return nil, &CombinationSyntaxError{Reason: "override tuple does not bind every task parameter"}
		}
		bindings := make([]Binding, len(defs))
		for i := range defs {
			v, ok := tuple[defs[i].Name]
			if !ok {
				return nil, &CombinationSyntaxError{Reason: "override tuple is missing task parameter " + defs[i].Name}
			}
			bindings[i] = Binding{Name: defs[i].Name, Value: v}
		}
		runs = append(runs, NewTaskRun(bindings...))
	}
	return runs, nil
}

type combNode interface {
	eval(defs map[string]*template.TaskParameterDefinition) ([]TaskRun, error)
	names(into []string) []string
}

type leafNode struct {
	name string
}

func (n *leafNode) names(into []string) []string { return append(into, n.name) }

func (n *leafNode) eval(defs map[string]*template.TaskParameterDefinition) ([]TaskRun, error) {
	def, ok := defs[n.name]
	if !ok {
		return nil, &CombinationSyntaxError{Reason: "unknown task parameter " + n.name}
	}
	values, err := ExpandRange(def)
	if err != nil {
		return nil, err
	}
	runs := make([]TaskRun, len(values))
	for i, v := range values {
		runs[i] = NewTaskRun(Binding{Name: n.name, Value: v})
	}
	return runs, nil
}

// associationNode zips equal-cardinality sequences positionally.
type associationNode struct {
	members []string
}

func (n *associationNode) names(into []string) []string { return append(into, n.members...) }

func (n *associationNode) eval(defs map[string]*template.TaskParameterDefinition) ([]TaskRun, error) {
	var sequences [][]string
	var cardinalities []int
	for _, name := range n.members {
		def, ok := defs[name]
		if !ok {
			return nil, &CombinationSyntaxError{Reason: "unknown task parameter " + name}
		}
		values, err := ExpandRange(def)
		if err != nil {
			return nil, err
		}
		sequences = append(sequences, values)
		cardinalities = append(cardinalities, len(values))
	}
	for _, c := range cardinalities[1:] {
		if c != cardinalities[0] {
			return nil, &AssociationCardinalityError{Parameters: n.members, Cardinalities: cardinalities}
		}
	}

	runs := make([]TaskRun, cardinalities[0])
	for i := range runs {
		bindings := make([]Binding, len(n.members))
		for j, name := range n.members {
			bindings[j] = Binding{Name: name, Value: sequences[j][i]}
		}
		runs[i] = NewTaskRun(bindings...)
	}
	return runs, nil
}

// productNode is the Cartesian product of its operands, left operand varying
// slowest.
type productNode struct {
	operands []combNode
}

func (n *productNode) names(into []string) []string {
	for _, op := range n.operands {
		into = op.names(into)
	}
	return into
}

func (n *productNode) eval(defs map[string]*template.TaskParameterDefinition) ([]TaskRun, error) {
	acc := []TaskRun{NewTaskRun()}
	for _, op := range n.operands {
		rhs, err := op.eval(defs)
		if err != nil {
			return nil, err
		}
		next := make([]TaskRun, 0, len(acc)*len(rhs))
		for _, a := range acc {
			for _, b := range rhs {
				next = append(next, merge(a, b))
			}
		}
		acc = next
	}
	return acc, nil
}

// parseCombination parses "a * (b,c) * d" style expressions:
//
//	expr    := operand { '*' operand }
//	operand := NAME | '(' NAME ',' NAME {',' NAME} ')'
func parseCombination(expr string) (combNode, error) {
	p := &combParser{expr: expr, rest: expr}
	node, err := p.parseExpr()
	if err != nil {
		return nil, err
	}
	p.skipSpace()
	if p.rest != "" {
		return nil, &CombinationSyntaxError{Expression: expr, Reason: "unexpected trailing input " + strconvQuoteShort(p.rest)}
	}
	return node, nil
}

func checkCoverage(expr string, node combNode, declared []string) error {
	used := node.names(nil)
	counts := map[string]int{}
	for _, name := range used {
		counts[name]++
	}
	for _, name := range declared {
		switch counts[name] {
		case 1:
		case 0:
			return &CombinationSyntaxError{Expression: expr, Reason: "task parameter " + name + " is not referenced"}
		default:
			return &CombinationSyntaxError{Expression: expr, Reason: "task parameter " + name + " is referenced more than once"}
		}
	}
	for name := range counts {
		found := false
		for _, d := range declared {
			if d == name {
				found = true
				break
			}
		}
		if !found {
			return &CombinationSyntaxError{Expression: expr, Reason: "unknown task parameter " + name}
		}
	}
	return nil
}

type combParser struct {
	expr string
	rest string
}

func (p *combParser) fail(reason string) error {
	return &CombinationSyntaxError{Expression: p.expr, Reason: reason}
}

func (p *combParser) skipSpace() {
	p.rest = strings.TrimLeftFunc(p.rest, unicode.IsSpace)
}

func (p *combParser) parseExpr() (combNode, error) {
	first, err := p.parseOperand()
	if err != nil {
		return nil, err
	}
	operands := []combNode{first}
	for {
		p.skipSpace()
		if !strings.HasPrefix(p.rest, "*") {
			break
		}
		p.rest = p.rest[1:]
		next, err := p.parseOperand()
		if err != nil {
			return nil, err
		}
		operands = append(operands, next)
	}
	if len(operands) == 1 {
		return operands[0], nil
	}
	return &productNode{operands: operands}, nil
}

func (p *combParser) parseOperand() (combNode, error) {
	p.skipSpace()
	if strings.HasPrefix(p.rest, "(") {
		p.rest = p.rest[1:]
		var members []string
		for {
			name, err := p.parseName()
			if err != nil {
				return nil, err
			}
			members = append(members, name)
			p.skipSpace()
			if strings.HasPrefix(p.rest, ",") {
				p.rest = p.rest[1:]
				continue
			}
			if strings.HasPrefix(p.rest, ")") {
				p.rest = p.rest[1:]
				break
			}
			return nil, p.fail("expected ',' or ')' in association")
		}
		if len(members) < 2 {
			return nil, p.fail("an association requires at least two parameters")
		}
		return &associationNode{members: members}, nil
	}
	name, err := p.parseName()
	if err != nil {
		return nil, err
	}
	return &leafNode{name: name}, nil
}

func (p *combParser) parseName() (string, error) {
	p.skipSpace()
	i := 0
	for i < len(p.rest) {
		c := rune(p.rest[i])
		if unicode.IsLetter(c) || unicode.IsDigit(c) || c == '_' {
			i++
			continue
		}
		break
	}
	if i == 0 {
		return "", p.fail("expected a task parameter name")
	}
	name := p.rest[:i]
	p.rest = p.rest[i:]
	return name, nil
}

func strconvQuoteShort(s string) string {
	if len(s) > 12 {
		s = s[:12] + "..."
	}
	return "\"" + s + "\""
}
