package segment

import (
	"strings"
	"testing"
)

func condition(field string, op Operator, value string) RuleNode {
	return RuleNode{Field: field, Operator: op, Value: value}
}

func group(comb Combinator, children ...RuleNode) RuleNode {
	return RuleNode{Combinator: comb, Children: children}
}

func TestValidate_ValidTree(t *testing.T) {
	v := NewValidator(DefaultLimits())

	root := group(CombinatorAnd,
		condition("city", OpEquals, "Seoul"),
		group(CombinatorOr,
			condition("activity_score", OpGreaterThan, "50"),
			RuleNode{Field: "tags", Operator: OpInSet, Values: []string{"vip"}},
		),
	)

	res := v.Validate(root)
	if !res.IsValid {
		t.Fatalf("expected valid tree, got errors: %v", res.Errors)
	}
	if res.Depth != 3 {
		t.Errorf("Depth = %d, want 3", res.Depth)
	}
	if res.ConditionCount != 3 {
		t.Errorf("ConditionCount = %d, want 3", res.ConditionCount)
	}
}

func TestValidate_AccumulatesAllErrors(t *testing.T) {
	v := NewValidator(DefaultLimits())

	// Three independent problems in one tree. All three must be reported.
	root := group(CombinatorAnd,
		condition("shoe_size", OpEquals, "42"),
		condition("email", OpGreaterThan, "x"),
		condition("activity_score", OpEquals, "not-a-number"),
	)

	res := v.Validate(root)
	if res.IsValid {
		t.Fatal("expected invalid tree")
	}
	if len(res.Errors) != 3 {
		t.Fatalf("got %d errors, want 3: %v", len(res.Errors), res.Errors)
	}

	codes := map[ErrorCode]bool{}
	for _, e := range res.Errors {
		codes[e.Code] = true
	}
	for _, want := range []ErrorCode{CodeUnknownField, CodeUnsupportedOperator, CodeTypeMismatch} {
		if !codes[want] {
			t.Errorf("missing error code %s in %v", want, res.Errors)
		}
	}
}

func TestValidate_DepthLimit(t *testing.T) {
	v := NewValidator(DefaultLimits())

	// Nest six groups; the leaf sits at depth 7, past the max of 5.
	root := condition("city", OpEquals, "Berlin")
	for i := 0; i < 6; i++ {
		root = group(CombinatorAnd, root)
	}

	res := v.Validate(root)
	if res.IsValid {
		t.Fatal("expected depth failure")
	}
	if res.Errors[len(res.Errors)-1].Code != CodeTooDeep {
		t.Errorf("want too_deep error, got %v", res.Errors)
	}
}

func TestValidate_ConditionCountLimit(t *testing.T) {
	v := NewValidator(Limits{MaxDepth: 5, MaxConditions: 3})

	root := group(CombinatorAnd,
		condition("city", OpEquals, "a"),
		condition("city", OpEquals, "b"),
		condition("city", OpEquals, "c"),
		condition("city", OpEquals, "d"),
	)

	res := v.Validate(root)
	if res.IsValid {
		t.Fatal("expected condition count failure")
	}
	found := false
	for _, e := range res.Errors {
		if e.Code == CodeTooComplex {
			found = true
		}
	}
	if !found {
		t.Errorf("want too_complex error, got %v", res.Errors)
	}
}

func TestValidate_MalformedNodes(t *testing.T) {
	v := NewValidator(DefaultLimits())

	tests := []struct {
		name string
		node RuleNode
	}{
		{
			name: "bad combinator",
			node: RuleNode{Combinator: "XOR", Children: []RuleNode{condition("city", OpEquals, "x")}},
		},
		{
			name: "group and condition at once",
			node: RuleNode{
				Combinator: CombinatorAnd,
				Children:   []RuleNode{condition("city", OpEquals, "x")},
				Field:      "email",
				Operator:   OpEquals,
			},
		},
		{
			name: "condition without field",
			node: RuleNode{Operator: OpEquals, Value: "x"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res := v.Validate(tt.node)
			if res.IsValid {
				t.Fatal("expected malformed_node error")
			}
			found := false
			for _, e := range res.Errors {
				if e.Code == CodeMalformedNode {
					found = true
				}
			}
			if !found {
				t.Errorf("want malformed_node, got %v", res.Errors)
			}
		})
	}
}

func TestValidate_DateLiterals(t *testing.T) {
	v := NewValidator(DefaultLimits())

	ok := v.Validate(condition("created_at", OpGreaterThan, "2025-06-01"))
	if !ok.IsValid {
		t.Errorf("plain date should validate: %v", ok.Errors)
	}

	ok = v.Validate(condition("created_at", OpGreaterThan, "2025-06-01T12:00:00Z"))
	if !ok.IsValid {
		t.Errorf("RFC3339 date should validate: %v", ok.Errors)
	}

	bad := v.Validate(condition("created_at", OpGreaterThan, "June 1st"))
	if bad.IsValid {
		t.Error("garbage date should not validate")
	}
}

func TestValidate_EmptyValueSet(t *testing.T) {
	v := NewValidator(DefaultLimits())

	res := v.Validate(RuleNode{Field: "status", Operator: OpInSet})
	if res.IsValid {
		t.Fatal("empty enum set should not validate")
	}
	if res.Errors[0].Code != CodeTypeMismatch {
		t.Errorf("want type_mismatch, got %s", res.Errors[0].Code)
	}
}

// A between condition with the wrong number of bounds passes validation;
// the arity check belongs to compilation.
func TestValidate_BetweenArityNotChecked(t *testing.T) {
	v := NewValidator(DefaultLimits())

	res := v.Validate(RuleNode{
		Field:    "activity_score",
		Operator: OpBetween,
		Values:   []string{"10"},
	})
	if !res.IsValid {
		t.Errorf("between arity should not be a validation error, got %v", res.Errors)
	}
}

func TestValidate_DeterministicOrder(t *testing.T) {
	v := NewValidator(DefaultLimits())
	root := group(CombinatorAnd,
		condition("nope", OpEquals, "x"),
		condition("also_nope", OpEquals, "y"),
	)

	first := v.Validate(root)
	for i := 0; i < 5; i++ {
		again := v.Validate(root)
		if len(again.Errors) != len(first.Errors) {
			t.Fatal("error count changed between runs")
		}
		for j := range again.Errors {
			if again.Errors[j] != first.Errors[j] {
				t.Fatalf("error order changed between runs: %v vs %v", again.Errors, first.Errors)
			}
		}
	}
}

func TestRuleNode_Clone(t *testing.T) {
	root := group(CombinatorAnd,
		RuleNode{Field: "tags", Operator: OpInSet, Values: []string{"vip", "beta"}},
	)

	clone := root.Clone()
	clone.Children[0].Values[0] = "mutated"

	if root.Children[0].Values[0] != "vip" {
		t.Error("Clone shares Values backing array with original")
	}
}

func TestOperatorsFor_CoversAllTypes(t *testing.T) {
	for _, ft := range []FieldType{FieldString, FieldNumber, FieldDate, FieldEnum, FieldTags} {
		if len(OperatorsFor(ft)) == 0 {
			t.Errorf("no operators registered for %s", ft)
		}
	}
}

func TestFields_ReturnsCopy(t *testing.T) {
	fields := Fields()
	fields["injected"] = FieldSpec{Column: "evil", Type: FieldString}

	v := NewValidator(DefaultLimits())
	res := v.Validate(condition("injected", OpEquals, "x"))
	if res.IsValid {
		t.Error("mutating Fields() result must not affect the registry")
	}
	if !strings.Contains(res.Errors[0].Message, "injected") {
		t.Errorf("unexpected error: %v", res.Errors[0])
	}
}
