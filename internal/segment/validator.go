package segment

import (
	"fmt"
	"strconv"
	"time"
)

// Validator statically checks a rule tree before any compilation or
// execution. Validate is a pure function: no I/O, deterministic, and it
// accumulates every error rather than short-circuiting on the first.
type Validator struct {
	limits Limits
	fields map[string]FieldSpec
}

// NewValidator creates a validator with the given limits and the standard
// field whitelist.
func NewValidator(limits Limits) *Validator {
	return &Validator{limits: limits, fields: fieldRegistry}
}

// Validate walks the tree computing depth and condition count and checking
// every leaf against the field/operator whitelist.
func (v *Validator) Validate(root RuleNode) ValidationResult {
	res := ValidationResult{}
	v.walk(root, 1, &res)

	if res.Depth > v.limits.MaxDepth {
		res.Errors = append(res.Errors, ValidationError{
			Code:    CodeTooDeep,
			Message: fmt.Sprintf("rule tree depth %d exceeds maximum %d", res.Depth, v.limits.MaxDepth),
		})
	}
	if res.ConditionCount > v.limits.MaxConditions {
		res.Errors = append(res.Errors, ValidationError{
			Code:    CodeTooComplex,
			Message: fmt.Sprintf("rule tree has %d conditions, maximum is %d", res.ConditionCount, v.limits.MaxConditions),
		})
	}

	res.IsValid = len(res.Errors) == 0
	return res
}

func (v *Validator) walk(node RuleNode, depth int, res *ValidationResult) {
	if depth > res.Depth {
		res.Depth = depth
	}

	if node.IsGroup() {
		if node.Combinator != CombinatorAnd && node.Combinator != CombinatorOr {
			res.Errors = append(res.Errors, ValidationError{
				Code:    CodeMalformedNode,
				Message: fmt.Sprintf("group combinator must be AND or OR, got %q", node.Combinator),
			})
		}
		if node.Field != "" || node.Operator != "" {
			res.Errors = append(res.Errors, ValidationError{
				Code:    CodeMalformedNode,
				Field:   node.Field,
				Message: "node cannot be both a group and a condition",
			})
		}
		for _, child := range node.Children {
			v.walk(child, depth+1, res)
		}
		return
	}

	res.ConditionCount++
	v.checkCondition(node, res)
}

func (v *Validator) checkCondition(node RuleNode, res *ValidationResult) {
	if node.Field == "" {
		res.Errors = append(res.Errors, ValidationError{
			Code:    CodeMalformedNode,
			Message: "condition is missing a field",
		})
		return
	}

	spec, ok := v.fields[node.Field]
	if !ok {
		res.Errors = append(res.Errors, ValidationError{
			Code:    CodeUnknownField,
			Field:   node.Field,
			Message: fmt.Sprintf("field %q is not filterable", node.Field),
		})
		return
	}

	if !operatorAllowed(spec.Type, node.Operator) {
		res.Errors = append(res.Errors, ValidationError{
			Code:    CodeUnsupportedOperator,
			Field:   node.Field,
			Message: fmt.Sprintf("operator %q is not valid for %s field %q", node.Operator, spec.Type, node.Field),
		})
		return
	}

	v.checkValueType(node, spec, res)
}

// checkValueType verifies that every literal carried by the condition parses
// as the field's declared type. Between-operator arity is deliberately left
// to the compiler, which reports it as ErrInvalidOperatorArity.
func (v *Validator) checkValueType(node RuleNode, spec FieldSpec, res *ValidationResult) {
	mismatch := func(msg string) {
		res.Errors = append(res.Errors, ValidationError{
			Code:    CodeTypeMismatch,
			Field:   node.Field,
			Message: msg,
		})
	}

	switch spec.Type {
	case FieldString:
		if node.Value == "" {
			mismatch(fmt.Sprintf("operator %q on field %q requires a string value", node.Operator, node.Field))
		}

	case FieldNumber:
		for _, raw := range conditionLiterals(node) {
			if _, err := strconv.ParseFloat(raw, 64); err != nil {
				mismatch(fmt.Sprintf("value %q for numeric field %q is not a number", raw, node.Field))
			}
		}
		if node.Operator != OpBetween && node.Value == "" {
			mismatch(fmt.Sprintf("operator %q on field %q requires a numeric value", node.Operator, node.Field))
		}

	case FieldDate:
		for _, raw := range conditionLiterals(node) {
			if _, err := parseDateLiteral(raw); err != nil {
				mismatch(fmt.Sprintf("value %q for date field %q is not a date", raw, node.Field))
			}
		}
		if node.Operator != OpBetween && node.Value == "" {
			mismatch(fmt.Sprintf("operator %q on field %q requires a date value", node.Operator, node.Field))
		}

	case FieldEnum, FieldTags:
		if len(node.Values) == 0 {
			mismatch(fmt.Sprintf("operator %q on field %q requires a non-empty value set", node.Operator, node.Field))
		}
	}
}

// conditionLiterals returns every literal the condition carries, so type
// checks cover the primary value and any between/set values uniformly.
func conditionLiterals(node RuleNode) []string {
	var out []string
	if node.Value != "" {
		out = append(out, node.Value)
	}
	out = append(out, node.Values...)
	return out
}

// parseDateLiteral accepts the two date formats the API produces.
func parseDateLiteral(raw string) (time.Time, error) {
	if t, err := time.Parse("2006-01-02", raw); err == nil {
		return t, nil
	}
	return time.Parse(time.RFC3339, raw)
}
