package schema

import (
	"errors"
	"fmt"
)

// RelationshipCardinality describes how many peers a relationship can hold.
type RelationshipCardinality string

const (
	// CardinalityOne means the relationship points to at most one peer node.
	CardinalityOne RelationshipCardinality = "one"

	// CardinalityMany means the relationship holds an ordered set of peers.
	CardinalityMany RelationshipCardinality = "many"
)

// Sentinel errors for schema lookups.
var (
	// ErrAttributeNotFound indicates the named attribute is not part of the schema.
	ErrAttributeNotFound = errors.New("attribute not found in schema")

	// ErrRelationshipNotFound indicates the named relationship is not part of the schema.
	ErrRelationshipNotFound = errors.New("relationship not found in schema")
)

// AttributeSchema describes a single attribute of a kind.
type AttributeSchema struct {
	ID          string `json:"id,omitempty"`
	Name        string `json:"name"`
	Kind        string `json:"kind"`
	Label       string `json:"label,omitempty"`
	Description string `json:"description,omitempty"`
	Optional    bool   `json:"optional"`
	Unique      bool   `json:"unique"`
	ReadOnly    bool   `json:"read_only"`

	// DefaultValue is the server-side default. An attribute with a default
	// is never considered mandatory even when Optional is false.
	DefaultValue any `json:"default_value,omitempty"`

	Enum []any `json:"enum,omitempty"`
}

// RelationshipSchema describes a single relationship of a kind.
type RelationshipSchema struct {
	ID          string                  `json:"id,omitempty"`
	Name        string                  `json:"name"`
	Peer        string                  `json:"peer"`
	Kind        string                  `json:"kind,omitempty"`
	Label       string                  `json:"label,omitempty"`
	Description string                  `json:"description,omitempty"`
	Identifier  string                  `json:"identifier,omitempty"`
	Cardinality RelationshipCardinality `json:"cardinality"`
	Optional    bool                    `json:"optional"`
}

// NodeSchema describes one kind: its identity, attributes, and relationships.
//
// Generic kinds (interfaces implemented by several concrete kinds) are
// represented by the same type with Generic set and UsedBy listing the
// implementing kinds; queries against them can request inline fragments
// per concrete kind.
type NodeSchema struct {
	ID          string `json:"id,omitempty"`
	Name        string `json:"name"`
	Namespace   string `json:"namespace"`
	Label       string `json:"label,omitempty"`
	Description string `json:"description,omitempty"`

	// DefaultFilter is the filter key used when looking a node up by a
	// non-UUID identifier, e.g. "name__value".
	DefaultFilter string `json:"default_filter,omitempty"`

	// HumanFriendlyID lists the attribute paths composing the kind's
	// human-friendly ID, e.g. ["name__value"].
	HumanFriendlyID []string `json:"human_friendly_id,omitempty"`

	Attributes    []AttributeSchema    `json:"attributes,omitempty"`
	Relationships []RelationshipSchema `json:"relationships,omitempty"`

	InheritFrom []string `json:"inherit_from,omitempty"`

	// Generic marks schemas decoded from the server's generics list.
	Generic bool `json:"-"`

	// UsedBy lists the concrete kinds implementing a generic kind.
	UsedBy []string `json:"used_by,omitempty"`
}

// Root is the full schema payload returned by the server for one branch.
type Root struct {
	Version  string       `json:"version,omitempty"`
	Nodes    []NodeSchema `json:"nodes"`
	Generics []NodeSchema `json:"generics,omitempty"`
}

// Kind returns the fully qualified kind name, e.g. "BuiltinLocation".
func (s *NodeSchema) Kind() string {
	return s.Namespace + s.Name
}

// AttributeNames returns the attribute names in declaration order.
func (s *NodeSchema) AttributeNames() []string {
	names := make([]string, len(s.Attributes))
	for i, attr := range s.Attributes {
		names[i] = attr.Name
	}
	return names
}

// RelationshipNames returns the relationship names in declaration order.
func (s *NodeSchema) RelationshipNames() []string {
	names := make([]string, len(s.Relationships))
	for i, rel := range s.Relationships {
		names[i] = rel.Name
	}
	return names
}

// MandatoryAttributeNames returns the attributes that must be provided when
// creating a node: non-optional attributes without a server-side default.
func (s *NodeSchema) MandatoryAttributeNames() []string {
	var names []string
	for _, attr := range s.Attributes {
		if !attr.Optional && attr.DefaultValue == nil {
			names = append(names, attr.Name)
		}
	}
	return names
}

// MandatoryRelationshipNames returns the non-optional relationship names.
func (s *NodeSchema) MandatoryRelationshipNames() []string {
	var names []string
	for _, rel := range s.Relationships {
		if !rel.Optional {
			names = append(names, rel.Name)
		}
	}
	return names
}

// MandatoryFieldNames returns the mandatory attribute names followed by the
// mandatory relationship names.
func (s *NodeSchema) MandatoryFieldNames() []string {
	return append(s.MandatoryAttributeNames(), s.MandatoryRelationshipNames()...)
}

// GetAttribute returns the attribute with the given name.
func (s *NodeSchema) GetAttribute(name string) (*AttributeSchema, error) {
	for i := range s.Attributes {
		if s.Attributes[i].Name == name {
			return &s.Attributes[i], nil
		}
	}
	return nil, fmt.Errorf("%w: %s on %s", ErrAttributeNotFound, name, s.Kind())
}

// GetRelationship returns the relationship with the given name.
func (s *NodeSchema) GetRelationship(name string) (*RelationshipSchema, error) {
	for i := range s.Relationships {
		if s.Relationships[i].Name == name {
			return &s.Relationships[i], nil
		}
	}
	return nil, fmt.Errorf("%w: %s on %s", ErrRelationshipNotFound, name, s.Kind())
}

// GetRelationshipByIdentifier returns the relationship carrying the given
// identifier, or nil when no relationship matches. Relationship identifiers
// pair the two ends of a relationship across peer schemas, so a missing
// reverse entry is an expected condition rather than an error.
func (s *NodeSchema) GetRelationshipByIdentifier(id string) *RelationshipSchema {
	if id == "" {
		return nil
	}
	for i := range s.Relationships {
		if s.Relationships[i].Identifier == id {
			return &s.Relationships[i]
		}
	}
	return nil
}

// HasAttribute reports whether the schema declares the named attribute.
func (s *NodeSchema) HasAttribute(name string) bool {
	_, err := s.GetAttribute(name)
	return err == nil
}

// HasRelationship reports whether the schema declares the named relationship.
func (s *NodeSchema) HasRelationship(name string) bool {
	_, err := s.GetRelationship(name)
	return err == nil
}

// IsValidField reports whether name is either an attribute or a relationship.
func (s *NodeSchema) IsValidField(name string) bool {
	return s.HasAttribute(name) || s.HasRelationship(name)
}
