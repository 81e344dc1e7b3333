package abac

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEvaluate_NilRuleAllows(t *testing.T) {
	ok, err := Evaluate(nil, nil)
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestEvaluate_Eq(t *testing.T) {
	rule := &Rule{Op: OpEq, Attribute: "resource.status", Value: "draft"}

	ok, err := Evaluate(rule, map[string]any{"resource.status": "draft"})
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = Evaluate(rule, map[string]any{"resource.status": "published"})
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestEvaluate_EqAttributeReference(t *testing.T) {
	// resource.owner_id == subject.user_id, the canonical ownership rule.
	rule := &Rule{Op: OpEq, Attribute: "resource.owner_id", Value: "$subject.user_id"}

	ok, err := Evaluate(rule, map[string]any{
		"resource.owner_id": int64(42),
		"subject.user_id":   int64(42),
	})
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = Evaluate(rule, map[string]any{
		"resource.owner_id": int64(42),
		"subject.user_id":   int64(7),
	})
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestEvaluate_NumericNormalization(t *testing.T) {
	// JSON decoding turns numbers into float64; the stored literal and the
	// runtime attribute still have to compare equal.
	rule := &Rule{Op: OpEq, Attribute: "resource.company_id", Value: float64(3)}

	ok, err := Evaluate(rule, map[string]any{"resource.company_id": int64(3)})
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestEvaluate_Neq(t *testing.T) {
	rule := &Rule{Op: OpNeq, Attribute: "resource.status", Value: "archived"}

	ok, err := Evaluate(rule, map[string]any{"resource.status": "active"})
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = Evaluate(rule, map[string]any{"resource.status": "archived"})
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestEvaluate_In(t *testing.T) {
	rule := &Rule{Op: OpIn, Attribute: "resource.phase", Values: []any{"framing", "drywall"}}

	ok, err := Evaluate(rule, map[string]any{"resource.phase": "framing"})
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = Evaluate(rule, map[string]any{"resource.phase": "roofing"})
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestEvaluate_AndOrNot(t *testing.T) {
	rule := &Rule{
		Op: OpAnd,
		Rules: []*Rule{
			{Op: OpEq, Attribute: "resource.owner_id", Value: "$subject.user_id"},
			{Op: OpNot, Rule: &Rule{Op: OpEq, Attribute: "resource.status", Value: "locked"}},
		},
	}

	attrs := map[string]any{
		"resource.owner_id": int64(1),
		"subject.user_id":   int64(1),
		"resource.status":   "open",
	}
	ok, err := Evaluate(rule, attrs)
	require.NoError(t, err)
	assert.True(t, ok)

	attrs["resource.status"] = "locked"
	ok, err = Evaluate(rule, attrs)
	require.NoError(t, err)
	assert.False(t, ok)

	orRule := &Rule{
		Op: OpOr,
		Rules: []*Rule{
			{Op: OpEq, Attribute: "resource.status", Value: "locked"},
			{Op: OpEq, Attribute: "resource.owner_id", Value: "$subject.user_id"},
		},
	}
	ok, err = Evaluate(orRule, attrs)
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestEvaluate_MissingAttributeFailsClosed(t *testing.T) {
	rule := &Rule{Op: OpEq, Attribute: "resource.owner_id", Value: "$subject.user_id"}

	// Attribute side missing.
	ok, err := Evaluate(rule, map[string]any{"subject.user_id": int64(1)})
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrMissingAttribute))
	assert.False(t, ok)

	// Reference side missing.
	ok, err = Evaluate(rule, map[string]any{"resource.owner_id": int64(1)})
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrMissingAttribute))
	assert.False(t, ok)

	// A missing attribute inside an or must not be skipped.
	orRule := &Rule{
		Op: OpOr,
		Rules: []*Rule{
			{Op: OpEq, Attribute: "resource.status", Value: "open"},
			{Op: OpEq, Attribute: "resource.missing", Value: "x"},
		},
	}
	ok, err = Evaluate(orRule, map[string]any{"resource.status": "open"})
	require.Error(t, err)
	assert.False(t, ok)
}

func TestEvaluate_CompositeAttributes(t *testing.T) {
	// Both sides of an attribute-to-attribute comparison can carry slice or
	// map values. == on a matching uncomparable pair panics, so the evaluator
	// has to fall back to deep equality.
	rule := &Rule{Op: OpEq, Attribute: "resource.tags", Value: "$subject.tags"}

	ok, err := Evaluate(rule, map[string]any{
		"resource.tags": []any{"a", "b"},
		"subject.tags":  []any{"a", "b"},
	})
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = Evaluate(rule, map[string]any{
		"resource.tags": []any{"a"},
		"subject.tags":  []any{"b"},
	})
	require.NoError(t, err)
	assert.False(t, ok)

	// Slice against scalar is a mismatch, not a panic.
	ok, err = Evaluate(rule, map[string]any{
		"resource.tags": []any{"a"},
		"subject.tags":  "a",
	})
	require.NoError(t, err)
	assert.False(t, ok)

	mapRule := &Rule{Op: OpNeq, Attribute: "resource.meta", Value: "$subject.meta"}
	ok, err = Evaluate(mapRule, map[string]any{
		"resource.meta": map[string]any{"k": "v"},
		"subject.meta":  map[string]any{"k": "v"},
	})
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestParse_RoundTrip(t *testing.T) {
	raw := []byte(`{
		"op": "and",
		"rules": [
			{"op": "eq", "attribute": "resource.owner_id", "value": "$subject.user_id"},
			{"op": "in", "attribute": "resource.phase", "values": ["framing", "drywall"]}
		]
	}`)

	rule, err := Parse(raw)
	require.NoError(t, err)
	require.Len(t, rule.Rules, 2)
	assert.Equal(t, OpEq, rule.Rules[0].Op)

	out, err := rule.Marshal()
	require.NoError(t, err)

	again, err := Parse(out)
	require.NoError(t, err)
	assert.Equal(t, rule, again)
}

func TestParse_Invalid(t *testing.T) {
	cases := map[string]string{
		"unknown op":    `{"op": "matches", "attribute": "a", "value": "b"}`,
		"missing attr":  `{"op": "eq", "value": "b"}`,
		"missing value": `{"op": "eq", "attribute": "a"}`,
		"empty in":      `{"op": "in", "attribute": "a", "values": []}`,
		"array value":   `{"op": "eq", "attribute": "tags", "value": ["a"]}`,
		"object value":  `{"op": "neq", "attribute": "meta", "value": {"k": "v"}}`,
		"array in":      `{"op": "in", "attribute": "a", "values": [["x"]]}`,
		"null in":       `{"op": "in", "attribute": "a", "values": [null]}`,
		"empty and":     `{"op": "and"}`,
		"bare not":      `{"op": "not"}`,
		"not json":      `{{`,
	}

	for name, raw := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := Parse([]byte(raw))
			require.Error(t, err)
		})
	}
}

func TestValidate_DepthLimit(t *testing.T) {
	rule := &Rule{Op: OpEq, Attribute: "a", Value: "b"}
	for i := 0; i < MaxDepth+1; i++ {
		rule = &Rule{Op: OpNot, Rule: rule}
	}
	err := rule.Validate()
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrInvalidRule))
}

func TestValidate_NodeLimit(t *testing.T) {
	children := make([]*Rule, MaxNodes)
	for i := range children {
		children[i] = &Rule{Op: OpEq, Attribute: "a", Value: "b"}
	}
	rule := &Rule{Op: OpAnd, Rules: children}
	err := rule.Validate()
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrInvalidRule))
}
