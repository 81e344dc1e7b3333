package abac

import (
	"fmt"
	"reflect"
	"strings"
)

// Evaluate interprets a rule against request context attributes. A nil rule
// evaluates to true (plain RBAC). A referenced attribute missing from attrs
// returns ErrMissingAttribute; callers must treat any error as deny.
func Evaluate(rule *Rule, attrs map[string]any) (bool, error) {
	if rule == nil {
		return true, nil
	}

	switch rule.Op {
	case OpEq:
		left, right, err := operands(rule, attrs)
		if err != nil {
			return false, err
		}
		return valuesEqual(left, right), nil

	case OpNeq:
		left, right, err := operands(rule, attrs)
		if err != nil {
			return false, err
		}
		return !valuesEqual(left, right), nil

	case OpIn:
		left, ok := attrs[rule.Attribute]
		if !ok {
			return false, fmt.Errorf("%w: %s", ErrMissingAttribute, rule.Attribute)
		}
		for _, candidate := range rule.Values {
			resolved, err := resolveValue(candidate, attrs)
			if err != nil {
				return false, err
			}
			if valuesEqual(left, resolved) {
				return true, nil
			}
		}
		return false, nil

	case OpAnd:
		for _, child := range rule.Rules {
			ok, err := Evaluate(child, attrs)
			if err != nil {
				return false, err
			}
			if !ok {
				return false, nil
			}
		}
		return true, nil

	case OpOr:
		// A missing attribute fails the whole disjunction rather than being
		// skipped: an unevaluable branch must not grant by accident.
		result := false
		for _, child := range rule.Rules {
			ok, err := Evaluate(child, attrs)
			if err != nil {
				return false, err
			}
			result = result || ok
		}
		return result, nil

	case OpNot:
		ok, err := Evaluate(rule.Rule, attrs)
		if err != nil {
			return false, err
		}
		return !ok, nil

	default:
		return false, fmt.Errorf("%w: unknown operator %q", ErrInvalidRule, rule.Op)
	}
}

// operands resolves the attribute and value sides of a comparison node.
func operands(rule *Rule, attrs map[string]any) (any, any, error) {
	left, ok := attrs[rule.Attribute]
	if !ok {
		return nil, nil, fmt.Errorf("%w: %s", ErrMissingAttribute, rule.Attribute)
	}
	right, err := resolveValue(rule.Value, attrs)
	if err != nil {
		return nil, nil, err
	}
	return left, right, nil
}

// resolveValue returns the literal, or the referenced attribute's value when
// the literal is a "$"-prefixed string.
func resolveValue(v any, attrs map[string]any) (any, error) {
	s, isString := v.(string)
	if !isString || !strings.HasPrefix(s, "$") {
		return v, nil
	}
	ref := strings.TrimPrefix(s, "$")
	resolved, ok := attrs[ref]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrMissingAttribute, ref)
	}
	return resolved, nil
}

// valuesEqual compares attribute values with numeric normalization: stored
// rules pass through JSON, so 42 may arrive as float64 on one side and int64
// on the other. Composite values (slices, maps) can reach here through "$"
// references even though literals are validated scalar, and == would panic on
// a matching uncomparable pair, so those go through reflect.DeepEqual.
func valuesEqual(a, b any) bool {
	if af, aok := asFloat(a); aok {
		if bf, bok := asFloat(b); bok {
			return af == bf
		}
		return false
	}
	if _, bok := asFloat(b); bok {
		return false
	}
	if !isComparable(a) || !isComparable(b) {
		return reflect.DeepEqual(a, b)
	}
	return a == b
}

func isComparable(v any) bool {
	if v == nil {
		return true
	}
	return reflect.TypeOf(v).Comparable()
}

func asFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case int:
		return float64(n), true
	case int32:
		return float64(n), true
	case int64:
		return float64(n), true
	case uint64:
		return float64(n), true
	case float32:
		return float64(n), true
	case float64:
		return n, true
	default:
		return 0, false
	}
}
