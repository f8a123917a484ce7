package segment

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Plan is a compiled, injection-safe representation of a rule tree. The
// predicate references column aliases on `contacts c` and every literal is a
// bound parameter; nothing user-authored appears in the expression text.
type Plan struct {
	Predicate     string
	Args          []interface{}
	EstimatedCost int
}

// Compiler lowers a validated rule tree into a Plan. A Compiler is single-use
// per Compile call; state is reset on entry.
type Compiler struct {
	fields     map[string]FieldSpec
	args       []interface{}
	argCounter int
}

// NewCompiler creates a compiler over the standard field whitelist.
func NewCompiler() *Compiler {
	return &Compiler{fields: fieldRegistry}
}

// nextArg binds a value and returns its placeholder.
func (c *Compiler) nextArg(value interface{}) string {
	c.args = append(c.args, value)
	placeholder := fmt.Sprintf("$%d", c.argCounter)
	c.argCounter++
	return placeholder
}

// Compile builds a tenant-scoped plan from a rule tree. The tenant equality
// predicate is always first and cannot be removed or bypassed by rule
// content, so no compiled plan can match another tenant's contacts.
func (c *Compiler) Compile(tenantID uuid.UUID, root RuleNode) (*Plan, error) {
	c.args = make([]interface{}, 0, 8)
	c.argCounter = 1

	parts := []string{fmt.Sprintf("c.tenant_id = %s", c.nextArg(tenantID.String()))}

	expr, cost, err := c.lower(root)
	if err != nil {
		return nil, err
	}
	if expr != "" {
		parts = append(parts, "("+expr+")")
	}

	return &Plan{
		Predicate:     strings.Join(parts, " AND "),
		Args:          c.args,
		EstimatedCost: cost,
	}, nil
}

// lower recursively translates a node into a predicate fragment.
func (c *Compiler) lower(node RuleNode) (string, int, error) {
	if !node.IsGroup() {
		expr, cost, err := c.lowerCondition(node)
		return expr, cost, err
	}

	parts := make([]string, 0, len(node.Children))
	cost := 1
	for _, child := range node.Children {
		expr, childCost, err := c.lower(child)
		if err != nil {
			return "", 0, err
		}
		if expr != "" {
			parts = append(parts, expr)
			cost += childCost
		}
	}
	if len(parts) == 0 {
		return "", cost, nil
	}

	joiner := " AND "
	if node.Combinator == CombinatorOr {
		joiner = " OR "
	}
	return "(" + strings.Join(parts, joiner) + ")", cost, nil
}

func (c *Compiler) lowerCondition(node RuleNode) (string, int, error) {
	spec, ok := c.fields[node.Field]
	if !ok {
		return "", 0, fmt.Errorf("field %q is not filterable", node.Field)
	}

	switch spec.Type {
	case FieldString:
		return c.lowerString(spec.Column, node)
	case FieldNumber:
		return c.lowerOrdered(spec.Column, node, parseNumber)
	case FieldDate:
		return c.lowerOrdered(spec.Column, node, parseDate)
	case FieldEnum:
		return c.lowerEnum(spec.Column, node)
	case FieldTags:
		return c.lowerTags(spec.Column, node)
	default:
		return "", 0, fmt.Errorf("field %q has unhandled type %s", node.Field, spec.Type)
	}
}

func (c *Compiler) lowerString(column string, node RuleNode) (string, int, error) {
	switch node.Operator {
	case OpEquals:
		return fmt.Sprintf("LOWER(%s) = LOWER(%s)", column, c.nextArg(node.Value)), 1, nil
	case OpContains:
		return fmt.Sprintf("%s ILIKE %s", column, c.nextArg("%"+node.Value+"%")), 2, nil
	case OpStartsWith:
		return fmt.Sprintf("%s ILIKE %s", column, c.nextArg(node.Value+"%")), 1, nil
	default:
		return "", 0, fmt.Errorf("operator %q is not valid for string field %q", node.Operator, node.Field)
	}
}

// literalParser converts a raw literal into a bindable typed value.
type literalParser func(raw string) (interface{}, error)

func parseNumber(raw string) (interface{}, error) {
	f, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		return nil, err
	}
	return f, nil
}

func parseDate(raw string) (interface{}, error) {
	t, err := parseDateLiteral(raw)
	if err != nil {
		return nil, err
	}
	return t, nil
}

func (c *Compiler) lowerOrdered(column string, node RuleNode, parse literalParser) (string, int, error) {
	switch node.Operator {
	case OpEquals, OpGreaterThan, OpLessThan:
		val, err := parse(node.Value)
		if err != nil {
			return "", 0, fmt.Errorf("field %q: invalid literal %q: %w", node.Field, node.Value, err)
		}
		op := map[Operator]string{OpEquals: "=", OpGreaterThan: ">", OpLessThan: "<"}[node.Operator]
		return fmt.Sprintf("%s %s %s", column, op, c.nextArg(val)), 1, nil

	case OpBetween:
		if len(node.Values) != 2 {
			return "", 0, fmt.Errorf("field %q has %d values: %w", node.Field, len(node.Values), ErrInvalidOperatorArity)
		}
		lo, err := parse(node.Values[0])
		if err != nil {
			return "", 0, fmt.Errorf("field %q: invalid lower bound %q: %w", node.Field, node.Values[0], err)
		}
		hi, err := parse(node.Values[1])
		if err != nil {
			return "", 0, fmt.Errorf("field %q: invalid upper bound %q: %w", node.Field, node.Values[1], err)
		}
		if !boundsOrdered(lo, hi) {
			return "", 0, fmt.Errorf("field %q bounds are not ordered: %w", node.Field, ErrInvalidOperatorArity)
		}
		return fmt.Sprintf("%s BETWEEN %s AND %s", column, c.nextArg(lo), c.nextArg(hi)), 2, nil

	default:
		return "", 0, fmt.Errorf("operator %q is not valid for ordered field %q", node.Operator, node.Field)
	}
}

func (c *Compiler) lowerEnum(column string, node RuleNode) (string, int, error) {
	if len(node.Values) == 0 {
		// An empty set matches nothing; its negation matches everything.
		if node.Operator == OpNotInSet {
			return "TRUE", 1, nil
		}
		return "FALSE", 1, nil
	}

	placeholders := make([]string, len(node.Values))
	for i, v := range node.Values {
		placeholders[i] = c.nextArg(v)
	}
	in := fmt.Sprintf("%s IN (%s)", column, strings.Join(placeholders, ", "))

	switch node.Operator {
	case OpInSet:
		return in, 1, nil
	case OpNotInSet:
		return "NOT (" + in + ")", 1, nil
	default:
		return "", 0, fmt.Errorf("operator %q is not valid for enum field %q", node.Operator, node.Field)
	}
}

func (c *Compiler) lowerTags(column string, node RuleNode) (string, int, error) {
	if len(node.Values) == 0 {
		if node.Operator == OpNotInSet {
			return "TRUE", 1, nil
		}
		return "FALSE", 1, nil
	}

	placeholders := make([]string, len(node.Values))
	for i, v := range node.Values {
		placeholders[i] = c.nextArg(v)
	}
	overlap := fmt.Sprintf("%s && ARRAY[%s]", column, strings.Join(placeholders, ", "))

	switch node.Operator {
	case OpInSet:
		return overlap, 2, nil
	case OpNotInSet:
		return "NOT (" + overlap + ")", 2, nil
	default:
		return "", 0, fmt.Errorf("operator %q is not valid for tags field %q", node.Operator, node.Field)
	}
}

// boundsOrdered reports whether lo <= hi for number and date bounds.
func boundsOrdered(lo, hi interface{}) bool {
	switch l := lo.(type) {
	case float64:
		h, ok := hi.(float64)
		return ok && l <= h
	case time.Time:
		h, ok := hi.(time.Time)
		return ok && !l.After(h)
	}
	return true
}
