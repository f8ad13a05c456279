// Package schema describes the node kinds exposed by an Infrahub instance.
//
// A schema is fetched from the server once per branch and describes, for every
// kind, its attributes, its relationships to peer kinds, and the metadata the
// SDK needs to build queries against it: the default filter attribute, the
// human-friendly ID components, and for generic kinds the list of concrete
// kinds implementing them.
//
// Schema descriptors are plain data. They carry no client reference and are
// safe to share between goroutines once fetched; the SDK caches them per
// (branch, kind) and never mutates a descriptor after decoding it.
//
// # Core Types
//
//   - NodeSchema: a single kind with its attributes and relationships
//   - AttributeSchema: one attribute (name, kind, optional/unique flags)
//   - RelationshipSchema: one relationship (peer kind, cardinality, identifier)
//   - Root: the full schema payload returned by the server for a branch
package schema
