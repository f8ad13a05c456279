// Package query assembles GraphQL documents from structured selection trees.
//
// The SDK builds queries dynamically from schema descriptors, so documents are
// represented as ordered field trees rather than Go types: a Field names one
// selection, optionally carrying arguments, child fields, and inline fragments
// for generic kinds. Query and Mutation wrap a field tree into a full
// operation and render it as text.
//
// Rendering is deterministic: child fields keep their declaration order and
// arguments are rendered in sorted key order, so two identical trees always
// produce byte-identical documents. Tests rely on this to compare rendered
// output against golden strings.
package query
