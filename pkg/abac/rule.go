package abac

import (
	"encoding/json"
	"errors"
	"fmt"
)

// Op is a rule operator. Rules are stored as structured JSON and interpreted
// at evaluation time; tenant-supplied rules never reach a code-execution path.
type Op string

const (
	OpEq  Op = "eq"
	OpNeq Op = "neq"
	OpIn  Op = "in"
	OpAnd Op = "and"
	OpOr  Op = "or"
	OpNot Op = "not"
)

// Decode limits for tenant-supplied rules.
const (
	MaxDepth = 16
	MaxNodes = 128
)

var (
	// ErrMissingAttribute is returned when a rule references a context
	// attribute the caller did not supply. Callers treat it as deny.
	ErrMissingAttribute = errors.New("missing context attribute")

	// ErrInvalidRule is returned when a stored rule fails validation.
	ErrInvalidRule = errors.New("invalid rule")
)

// Rule is one node of a boolean expression tree over request context
// attributes.
//
// Comparison nodes (eq, neq, in) name an attribute and compare it against a
// literal value. A string value prefixed with "$" is an attribute reference
// instead of a literal, so {"op":"eq","attribute":"resource.owner_id",
// "value":"$subject.user_id"} compares two context attributes.
type Rule struct {
	Op        Op      `json:"op"`
	Attribute string  `json:"attribute,omitempty"`
	Value     any     `json:"value,omitempty"`
	Values    []any   `json:"values,omitempty"`
	Rules     []*Rule `json:"rules,omitempty"`
	Rule      *Rule   `json:"rule,omitempty"`
}

// Parse decodes and validates a stored rule.
func Parse(data []byte) (*Rule, error) {
	var r Rule
	if err := json.Unmarshal(data, &r); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidRule, err)
	}
	if err := r.Validate(); err != nil {
		return nil, err
	}
	return &r, nil
}

// Marshal serializes a rule to its stored JSON form.
func (r *Rule) Marshal() ([]byte, error) {
	return json.Marshal(r)
}

// Validate checks operator shape, depth, and node-count limits.
func (r *Rule) Validate() error {
	nodes := 0
	return r.validate(1, &nodes)
}

func (r *Rule) validate(depth int, nodes *int) error {
	if r == nil {
		return fmt.Errorf("%w: nil node", ErrInvalidRule)
	}
	if depth > MaxDepth {
		return fmt.Errorf("%w: exceeds max depth %d", ErrInvalidRule, MaxDepth)
	}
	*nodes++
	if *nodes > MaxNodes {
		return fmt.Errorf("%w: exceeds max nodes %d", ErrInvalidRule, MaxNodes)
	}

	switch r.Op {
	case OpEq, OpNeq:
		if r.Attribute == "" {
			return fmt.Errorf("%w: %s requires an attribute", ErrInvalidRule, r.Op)
		}
		if r.Value == nil {
			return fmt.Errorf("%w: %s requires a value", ErrInvalidRule, r.Op)
		}
		if !scalarLiteral(r.Value) {
			return fmt.Errorf("%w: %s value must be a scalar", ErrInvalidRule, r.Op)
		}
	case OpIn:
		if r.Attribute == "" {
			return fmt.Errorf("%w: in requires an attribute", ErrInvalidRule)
		}
		if len(r.Values) == 0 {
			return fmt.Errorf("%w: in requires a non-empty values list", ErrInvalidRule)
		}
		for _, v := range r.Values {
			if v == nil || !scalarLiteral(v) {
				return fmt.Errorf("%w: in values must be scalars", ErrInvalidRule)
			}
		}
	case OpAnd, OpOr:
		if len(r.Rules) == 0 {
			return fmt.Errorf("%w: %s requires child rules", ErrInvalidRule, r.Op)
		}
		for _, child := range r.Rules {
			if err := child.validate(depth+1, nodes); err != nil {
				return err
			}
		}
	case OpNot:
		if r.Rule == nil {
			return fmt.Errorf("%w: not requires a child rule", ErrInvalidRule)
		}
		if err := r.Rule.validate(depth+1, nodes); err != nil {
			return err
		}
	default:
		return fmt.Errorf("%w: unknown operator %q", ErrInvalidRule, r.Op)
	}
	return nil
}

// scalarLiteral reports whether a decoded JSON literal is a string, number,
// or bool. Arrays and objects are rejected at validation so comparison nodes
// only ever hold single values.
func scalarLiteral(v any) bool {
	switch v.(type) {
	case string, bool, float64, int, int32, int64, uint64, float32:
		return true
	default:
		return false
	}
}
