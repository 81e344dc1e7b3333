// Package abac implements the attribute-based rule evaluator that narrows
// otherwise-granted permissions.
//
// A rule is a boolean expression tree over request context attributes, built
// from a fixed operator set (eq, neq, in, and, or, not) and stored as JSON.
// Rules are interpreted recursively at evaluation time; there is deliberately
// no dynamic code execution path for tenant-supplied rules, and decode
// enforces depth and node-count limits.
//
// Evaluation fails closed: any error, including a rule referencing a context
// attribute the request did not supply, must be treated as deny by the
// caller.
package abac
