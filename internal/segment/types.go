// Package segment implements dynamic audience segments: tree-structured
// filter rules validated and compiled into parameterized, tenant-scoped
// queries against the contact store.
package segment

import (
	"time"

	"github.com/google/uuid"
)

// ==========================================
// COMBINATORS & OPERATORS
// ==========================================

// Combinator joins the children of a rule group.
type Combinator string

const (
	CombinatorAnd Combinator = "AND"
	CombinatorOr  Combinator = "OR"
)

// Operator represents a comparison operator on a condition leaf.
type Operator string

const (
	// String operators (case-insensitive)
	OpEquals     Operator = "equals"
	OpContains   Operator = "contains"
	OpStartsWith Operator = "starts_with"

	// Numeric / date operators
	OpGreaterThan Operator = "greater_than"
	OpLessThan    Operator = "less_than"
	OpBetween     Operator = "between"

	// Enum / tag operators
	OpInSet    Operator = "in_set"
	OpNotInSet Operator = "not_in_set"
)

// ==========================================
// FIELD REGISTRY
// ==========================================

// FieldType represents the data type of a filterable field.
type FieldType string

const (
	FieldString FieldType = "string"
	FieldNumber FieldType = "number"
	FieldDate   FieldType = "date"
	FieldEnum   FieldType = "enum"
	FieldTags   FieldType = "tags"
)

// FieldSpec describes one whitelisted field: the column it maps to and its
// declared type. Only fields present in the registry can appear in rules.
type FieldSpec struct {
	Column string
	Type   FieldType
}

// fieldRegistry is the static field whitelist. Adding a field is a data
// change here, not a code change in the validator or compiler.
var fieldRegistry = map[string]FieldSpec{
	"email":           {Column: "c.email", Type: FieldString},
	"first_name":      {Column: "c.first_name", Type: FieldString},
	"last_name":       {Column: "c.last_name", Type: FieldString},
	"city":            {Column: "c.city", Type: FieldString},
	"country":         {Column: "c.country", Type: FieldString},
	"status":          {Column: "c.status", Type: FieldEnum},
	"tags":            {Column: "c.tags", Type: FieldTags},
	"activity_score":  {Column: "c.activity_score", Type: FieldNumber},
	"total_purchases": {Column: "c.total_purchases", Type: FieldNumber},
	"created_at":      {Column: "c.created_at", Type: FieldDate},
	"last_active_at":  {Column: "c.last_active_at", Type: FieldDate},
}

// operatorsByType maps each field type to the operators valid for it.
var operatorsByType = map[FieldType][]Operator{
	FieldString: {OpEquals, OpContains, OpStartsWith},
	FieldNumber: {OpEquals, OpGreaterThan, OpLessThan, OpBetween},
	FieldDate:   {OpEquals, OpGreaterThan, OpLessThan, OpBetween},
	FieldEnum:   {OpInSet, OpNotInSet},
	FieldTags:   {OpInSet, OpNotInSet},
}

// Fields returns a copy of the field whitelist for API discovery.
func Fields() map[string]FieldSpec {
	out := make(map[string]FieldSpec, len(fieldRegistry))
	for k, v := range fieldRegistry {
		out[k] = v
	}
	return out
}

// OperatorsFor returns the operators valid for a field type.
func OperatorsFor(ft FieldType) []Operator {
	ops := operatorsByType[ft]
	out := make([]Operator, len(ops))
	copy(out, ops)
	return out
}

func operatorAllowed(ft FieldType, op Operator) bool {
	for _, o := range operatorsByType[ft] {
		if o == op {
			return true
		}
	}
	return false
}

// ==========================================
// RULE TREE
// ==========================================

// RuleNode is a node in a segment's rule tree. A node is either a group
// (Combinator set, Children non-empty) or a condition leaf (Field and
// Operator set). The validator rejects nodes that are both or neither.
type RuleNode struct {
	// Group fields
	Combinator Combinator `json:"combinator,omitempty"`
	Children   []RuleNode `json:"children,omitempty"`

	// Condition fields
	Field    string   `json:"field,omitempty"`
	Operator Operator `json:"operator,omitempty"`
	Value    string   `json:"value,omitempty"`
	Values   []string `json:"values,omitempty"`
}

// IsGroup reports whether the node is a group rather than a condition leaf.
func (n RuleNode) IsGroup() bool {
	return n.Combinator != "" || len(n.Children) > 0
}

// Clone returns a deep copy of the rule tree.
func (n RuleNode) Clone() RuleNode {
	out := n
	if n.Values != nil {
		out.Values = make([]string, len(n.Values))
		copy(out.Values, n.Values)
	}
	if n.Children != nil {
		out.Children = make([]RuleNode, len(n.Children))
		for i, c := range n.Children {
			out.Children[i] = c.Clone()
		}
	}
	return out
}

// ==========================================
// SEGMENT ENTITIES
// ==========================================

// Segment is a named, tenant-owned saved filter over contacts. Segments are
// soft-deleted via IsActive and never hard-deleted while usage history
// references them.
type Segment struct {
	ID          uuid.UUID  `json:"id" db:"id"`
	TenantID    uuid.UUID  `json:"tenant_id" db:"tenant_id"`
	Name        string     `json:"name" db:"name"`
	Description string     `json:"description,omitempty" db:"description"`
	Rules       RuleNode   `json:"rules"`
	IsActive    bool       `json:"is_active" db:"is_active"`
	CreatedBy   *uuid.UUID `json:"created_by,omitempty" db:"created_by"`
	CreatedAt   time.Time  `json:"created_at" db:"created_at"`
	UpdatedAt   time.Time  `json:"updated_at" db:"updated_at"`
}

// UsageRecord is an append-only audit entry, one per segment evaluation or
// action. Records are never mutated after insert.
type UsageRecord struct {
	ID              uuid.UUID  `json:"id" db:"id"`
	SegmentID       uuid.UUID  `json:"segment_id" db:"segment_id"`
	UserID          *uuid.UUID `json:"user_id,omitempty" db:"user_id"`
	Action          string     `json:"action" db:"action"`
	Context         string     `json:"context,omitempty" db:"context"`
	ResultCount     int        `json:"result_count" db:"result_count"`
	ExecutionTimeMs int64      `json:"execution_time_ms" db:"execution_time_ms"`
	OccurredAt      time.Time  `json:"occurred_at" db:"occurred_at"`
}

// ==========================================
// VALIDATION & EVALUATION RESULTS
// ==========================================

// ErrorCode identifies a class of validation failure.
type ErrorCode string

const (
	CodeTooDeep             ErrorCode = "too_deep"
	CodeTooComplex          ErrorCode = "too_complex"
	CodeUnknownField        ErrorCode = "unknown_field"
	CodeUnsupportedOperator ErrorCode = "unsupported_operator"
	CodeTypeMismatch        ErrorCode = "type_mismatch"
	CodeMalformedNode       ErrorCode = "malformed_node"
)

// ValidationError describes a single problem found in a rule tree.
type ValidationError struct {
	Code    ErrorCode `json:"code"`
	Field   string    `json:"field,omitempty"`
	Message string    `json:"message"`
}

// ValidationResult is the outcome of validating a rule tree. Errors holds
// every problem found, not just the first.
type ValidationResult struct {
	IsValid        bool              `json:"is_valid"`
	Errors         []ValidationError `json:"errors,omitempty"`
	Depth          int               `json:"depth"`
	ConditionCount int               `json:"condition_count"`
}

// ContactPreview is a minimal contact projection returned in samples.
type ContactPreview struct {
	ID            uuid.UUID `json:"id"`
	Email         string    `json:"email"`
	FirstName     string    `json:"first_name,omitempty"`
	LastName      string    `json:"last_name,omitempty"`
	ActivityScore float64   `json:"activity_score"`
}

// EvaluationResult is the outcome of a full segment evaluation.
type EvaluationResult struct {
	TotalCount      int              `json:"total_count"`
	Sample          []ContactPreview `json:"sample,omitempty"`
	ExecutionTimeMs int64            `json:"execution_time_ms"`
	GeneratedQuery  string           `json:"generated_query,omitempty"`
	EvaluatedAt     time.Time        `json:"evaluated_at"`
}

// ==========================================
// LIMITS
// ==========================================

// Limits bounds rule complexity and evaluation cost.
type Limits struct {
	MaxDepth      int
	MaxConditions int
	SampleCap     int
	IDListCap     int
	QueryTimeout  time.Duration
}

// DefaultLimits returns the system-wide default limits.
func DefaultLimits() Limits {
	return Limits{
		MaxDepth:      5,
		MaxConditions: 50,
		SampleCap:     100,
		IDListCap:     10000,
		QueryTimeout:  30 * time.Second,
	}
}
