package infrahub

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/opsmill/infrahub-sdk-go/query"
	"github.com/opsmill/infrahub-sdk-go/schema"
)

// NodeReference identifies a node referenced from an attribute property,
// such as the source or owner of a value.
type NodeReference struct {
	ID      string
	Kind    string
	Display string
}

// Attribute is one attribute of a node: its value plus the metadata flags
// reported by the server.
type Attribute struct {
	// Name is the attribute name as defined by the schema.
	Name string

	// Value is the attribute value. A nil value means the attribute is
	// unset.
	Value any

	// IsDefault reports whether the value comes from the schema default
	// rather than an explicit write.
	IsDefault bool

	// IsProtected and IsVisible mirror the server-side value metadata.
	IsProtected bool
	IsVisible   bool

	// Source and Owner identify where the value came from, when the query
	// requested properties.
	Source *NodeReference
	Owner  *NodeReference

	schema *schema.AttributeSchema
}

// SetValue replaces the attribute value and clears the default flag so the
// new value is included in the next save.
func (a *Attribute) SetValue(value any) {
	a.Value = value
	a.IsDefault = false
}

// RelatedNode is a peer reference held by a relationship. Either ID or HFID
// identifies the peer; Peer is filled in when relationships are prefetched.
type RelatedNode struct {
	ID      string
	Kind    string
	Display string
	HFID    []string

	// Peer is the hydrated peer node, set when the query prefetched
	// relationships.
	Peer *Node
}

// RelationshipManager holds the peers of a many-cardinality relationship.
type RelationshipManager struct {
	// Name is the relationship name as defined by the schema.
	Name string

	// Count is the peer count reported by the server, which may exceed
	// len(Peers) when the query did not fetch every edge.
	Count int

	// Peers holds the fetched peer references.
	Peers []*RelatedNode

	loaded bool
}

// Add appends a peer and marks the relationship for inclusion in the next
// save.
func (r *RelationshipManager) Add(peers ...*RelatedNode) {
	r.Peers = append(r.Peers, peers...)
	r.loaded = true
}

// PeerIDs returns the ids of all fetched peers, skipping peers referenced
// only by human friendly id.
func (r *RelationshipManager) PeerIDs() []string {
	ids := make([]string, 0, len(r.Peers))
	for _, peer := range r.Peers {
		if peer.ID != "" {
			ids = append(ids, peer.ID)
		}
	}
	return ids
}

// Node is a node bound to its schema. Nodes are created locally through
// Client.Create or hydrated from query responses; either way they stay
// attached to the client that produced them so Save and Delete can reach
// the server.
type Node struct {
	client *Client
	schema *schema.NodeSchema

	branch   string
	id       string
	kind     string
	display  string
	hfid     []string
	existing bool

	attributes    map[string]*Attribute
	related       map[string]*RelatedNode
	relationships map[string]*RelationshipManager
}

// newNode builds a local node of the given schema from a field-value map.
// Attribute values may be scalars or {"value": ...} maps; relationship
// values may be peer ids, {"id"/"hfid": ...} maps, or lists of either for
// many-cardinality relationships. Unknown fields and shape mismatches are
// validation errors.
func newNode(client *Client, sch *schema.NodeSchema, branch string, data map[string]any) (*Node, error) {
	n := &Node{
		client:        client,
		schema:        sch,
		branch:        branch,
		kind:          sch.Kind(),
		attributes:    make(map[string]*Attribute),
		related:       make(map[string]*RelatedNode),
		relationships: make(map[string]*RelationshipManager),
	}

	if id, ok := data["id"].(string); ok {
		n.id = id
	}

	seen := map[string]bool{"id": true}

	for i := range sch.Attributes {
		attrSchema := &sch.Attributes[i]
		attr := &Attribute{Name: attrSchema.Name, IsVisible: true, schema: attrSchema}

		if raw, ok := data[attrSchema.Name]; ok {
			seen[attrSchema.Name] = true
			applyAttributeInput(attr, raw)
		} else if attrSchema.DefaultValue != nil {
			attr.Value = attrSchema.DefaultValue
			attr.IsDefault = true
		}

		n.attributes[attrSchema.Name] = attr
	}

	for i := range sch.Relationships {
		relSchema := &sch.Relationships[i]
		raw, ok := data[relSchema.Name]
		if !ok {
			continue
		}
		seen[relSchema.Name] = true

		switch relSchema.Cardinality {
		case schema.CardinalityOne:
			peer, err := decodePeerInput(raw)
			if err != nil {
				return nil, NewValidationError("Node", fmt.Errorf("relationship %s of %s: %w", relSchema.Name, sch.Kind(), err))
			}
			n.related[relSchema.Name] = peer
		case schema.CardinalityMany:
			items, ok := raw.([]any)
			if !ok {
				return nil, NewValidationError("Node", fmt.Errorf("relationship %s of %s expects a list, got %T", relSchema.Name, sch.Kind(), raw))
			}
			manager := &RelationshipManager{Name: relSchema.Name, loaded: true}
			for _, item := range items {
				peer, err := decodePeerInput(item)
				if err != nil {
					return nil, NewValidationError("Node", fmt.Errorf("relationship %s of %s: %w", relSchema.Name, sch.Kind(), err))
				}
				manager.Peers = append(manager.Peers, peer)
			}
			manager.Count = len(manager.Peers)
			n.relationships[relSchema.Name] = manager
		}
	}

	for key := range data {
		if !seen[key] {
			return nil, NewValidationError("Node", fmt.Errorf("%s has no field named %q", sch.Kind(), key))
		}
	}

	return n, nil
}

// Create builds a local node of the given kind on the default branch. The
// node is not written to the server until Save or Create is called on it.
func (c *Client) Create(ctx context.Context, kind string, data map[string]any) (*Node, error) {
	return c.CreateOnBranch(ctx, kind, "", data)
}

// CreateOnBranch builds a local node of the given kind bound to a branch.
func (c *Client) CreateOnBranch(ctx context.Context, kind, branch string, data map[string]any) (*Node, error) {
	branch = c.branchOrDefault(branch)
	sch, err := c.schemas.Get(ctx, kind, branch)
	if err != nil {
		return nil, err
	}
	return newNode(c, sch, branch, data)
}

// newNodeFromGraphQL hydrates a node from a GraphQL edges.node object.
func newNodeFromGraphQL(client *Client, sch *schema.NodeSchema, branch string, data map[string]any) (*Node, error) {
	n := &Node{
		client:        client,
		schema:        sch,
		branch:        branch,
		kind:          sch.Kind(),
		existing:      true,
		attributes:    make(map[string]*Attribute),
		related:       make(map[string]*RelatedNode),
		relationships: make(map[string]*RelationshipManager),
	}

	id, ok := data["id"].(string)
	if !ok || id == "" {
		return nil, NewInternalError("Node", fmt.Errorf("response node of kind %s has no id", sch.Kind()))
	}
	n.id = id

	if display, ok := data["display_label"].(string); ok {
		n.display = display
	}
	if typename, ok := data["__typename"].(string); ok && typename != "" {
		n.kind = typename
	}
	if rawHFID, ok := data["hfid"].([]any); ok {
		for _, item := range rawHFID {
			n.hfid = append(n.hfid, fmt.Sprintf("%v", item))
		}
	}

	for i := range sch.Attributes {
		attrSchema := &sch.Attributes[i]
		attr := &Attribute{Name: attrSchema.Name, IsVisible: true, schema: attrSchema}

		if raw, ok := data[attrSchema.Name].(map[string]any); ok {
			attr.Value = raw["value"]
			if v, ok := raw["is_default"].(bool); ok {
				attr.IsDefault = v
			}
			if v, ok := raw["is_protected"].(bool); ok {
				attr.IsProtected = v
			}
			if v, ok := raw["is_visible"].(bool); ok {
				attr.IsVisible = v
			}
			attr.Source = decodeReference(raw["source"])
			attr.Owner = decodeReference(raw["owner"])
		}

		n.attributes[attrSchema.Name] = attr
	}

	for i := range sch.Relationships {
		relSchema := &sch.Relationships[i]
		raw, ok := data[relSchema.Name].(map[string]any)
		if !ok {
			continue
		}

		switch relSchema.Cardinality {
		case schema.CardinalityOne:
			n.related[relSchema.Name] = decodeRelationEdge(raw)
		case schema.CardinalityMany:
			manager := &RelationshipManager{Name: relSchema.Name, loaded: true}
			if count, ok := raw["count"].(float64); ok {
				manager.Count = int(count)
			}
			if edges, ok := raw["edges"].([]any); ok {
				for _, edge := range edges {
					edgeMap, ok := edge.(map[string]any)
					if !ok {
						continue
					}
					if peer := decodeRelationEdge(edgeMap); peer != nil {
						manager.Peers = append(manager.Peers, peer)
					}
				}
			}
			n.relationships[relSchema.Name] = manager
		}
	}

	return n, nil
}

// applyAttributeInput fills an attribute from caller-provided data, which
// may be a bare value or a {"value": ...} map with optional metadata.
func applyAttributeInput(attr *Attribute, raw any) {
	m, ok := raw.(map[string]any)
	if !ok {
		attr.Value = raw
		return
	}
	if _, hasValue := m["value"]; !hasValue {
		attr.Value = raw
		return
	}

	attr.Value = m["value"]
	if v, ok := m["is_protected"].(bool); ok {
		attr.IsProtected = v
	}
	if v, ok := m["is_visible"].(bool); ok {
		attr.IsVisible = v
	}
}

// decodePeerInput converts caller-provided relationship data into a peer
// reference. Accepted forms: a peer id string, {"id": ...}, or
// {"hfid": [...]}.
func decodePeerInput(raw any) (*RelatedNode, error) {
	switch v := raw.(type) {
	case string:
		return &RelatedNode{ID: v}, nil
	case *RelatedNode:
		return v, nil
	case *Node:
		return &RelatedNode{ID: v.ID(), Kind: v.Kind(), HFID: v.HFID()}, nil
	case map[string]any:
		peer := &RelatedNode{}
		if id, ok := v["id"].(string); ok {
			peer.ID = id
		}
		if kind, ok := v["kind"].(string); ok {
			peer.Kind = kind
		}
		if hfid, ok := v["hfid"].([]any); ok {
			for _, item := range hfid {
				peer.HFID = append(peer.HFID, fmt.Sprintf("%v", item))
			}
		}
		if hfid, ok := v["hfid"].([]string); ok {
			peer.HFID = hfid
		}
		if peer.ID == "" && len(peer.HFID) == 0 {
			return nil, fmt.Errorf("peer reference needs an id or hfid, got %v", v)
		}
		return peer, nil
	default:
		return nil, fmt.Errorf("unsupported peer reference type %T", raw)
	}
}

// decodeRelationEdge converts a GraphQL relationship edge into a peer
// reference. Returns nil when the edge carries no node.
func decodeRelationEdge(edge map[string]any) *RelatedNode {
	nodeData, ok := edge["node"].(map[string]any)
	if !ok {
		return nil
	}

	peer := &RelatedNode{}
	if id, ok := nodeData["id"].(string); ok {
		peer.ID = id
	}
	if display, ok := nodeData["display_label"].(string); ok {
		peer.Display = display
	}
	if typename, ok := nodeData["__typename"].(string); ok {
		peer.Kind = typename
	}
	if peer.ID == "" {
		return nil
	}
	return peer
}

// decodeReference converts a {"id", "display_label", "__typename"} map into
// a NodeReference.
func decodeReference(raw any) *NodeReference {
	m, ok := raw.(map[string]any)
	if !ok {
		return nil
	}
	ref := &NodeReference{}
	if id, ok := m["id"].(string); ok {
		ref.ID = id
	}
	if display, ok := m["display_label"].(string); ok {
		ref.Display = display
	}
	if typename, ok := m["__typename"].(string); ok {
		ref.Kind = typename
	}
	if ref.ID == "" {
		return nil
	}
	return ref
}

// ID returns the node id, or an empty string for a node not yet saved.
func (n *Node) ID() string { return n.id }

// Kind returns the concrete node kind. For nodes fetched through a generic
// this is the concrete subtype, not the generic kind.
func (n *Node) Kind() string { return n.kind }

// Branch returns the branch the node was fetched from or will be saved to.
func (n *Node) Branch() string { return n.branch }

// DisplayLabel returns the server-rendered display label.
func (n *Node) DisplayLabel() string { return n.display }

// Schema returns the schema the node is bound to.
func (n *Node) Schema() *schema.NodeSchema { return n.schema }

// HFID returns the node's human friendly id. The server-provided value is
// preferred; otherwise it is derived from the schema's human friendly id
// attributes.
func (n *Node) HFID() []string {
	if len(n.hfid) > 0 {
		return n.hfid
	}

	if len(n.schema.HumanFriendlyID) == 0 {
		return nil
	}

	hfid := make([]string, 0, len(n.schema.HumanFriendlyID))
	for _, item := range n.schema.HumanFriendlyID {
		attrName := strings.SplitN(item, "__", 2)[0]
		attr, ok := n.attributes[attrName]
		if !ok || attr.Value == nil {
			return nil
		}
		hfid = append(hfid, fmt.Sprintf("%v", attr.Value))
	}
	return hfid
}

// HFIDKey returns the human friendly id joined into a single store key, or
// an empty string when the node has none.
func (n *Node) HFIDKey() string {
	hfid := n.HFID()
	if len(hfid) == 0 {
		return ""
	}
	return strings.Join(hfid, "__")
}

// Attribute returns the named attribute.
// Returns schema.ErrAttributeNotFound if the schema has no such attribute.
func (n *Node) Attribute(name string) (*Attribute, error) {
	attr, ok := n.attributes[name]
	if !ok {
		return nil, fmt.Errorf("%w: %s on %s", schema.ErrAttributeNotFound, name, n.kind)
	}
	return attr, nil
}

// Related returns the peer of a one-cardinality relationship, or nil when
// the relationship is unset.
// Returns schema.ErrRelationshipNotFound for an unknown or many-cardinality
// relationship.
func (n *Node) Related(name string) (*RelatedNode, error) {
	rel, err := n.schema.GetRelationship(name)
	if err != nil {
		return nil, fmt.Errorf("%w on %s", err, n.kind)
	}
	if rel.Cardinality != schema.CardinalityOne {
		return nil, fmt.Errorf("%w: %s on %s is not of cardinality one", schema.ErrRelationshipNotFound, name, n.kind)
	}
	return n.related[name], nil
}

// SetRelated sets the peer of a one-cardinality relationship.
func (n *Node) SetRelated(name string, peer *RelatedNode) error {
	rel, err := n.schema.GetRelationship(name)
	if err != nil {
		return fmt.Errorf("%w on %s", err, n.kind)
	}
	if rel.Cardinality != schema.CardinalityOne {
		return fmt.Errorf("%w: %s on %s is not of cardinality one", schema.ErrRelationshipNotFound, name, n.kind)
	}
	n.related[name] = peer
	return nil
}

// Relationship returns the manager of a many-cardinality relationship,
// creating an empty one if the relationship has not been loaded.
// Returns schema.ErrRelationshipNotFound for an unknown or one-cardinality
// relationship.
func (n *Node) Relationship(name string) (*RelationshipManager, error) {
	rel, err := n.schema.GetRelationship(name)
	if err != nil {
		return nil, fmt.Errorf("%w on %s", err, n.kind)
	}
	if rel.Cardinality != schema.CardinalityMany {
		return nil, fmt.Errorf("%w: %s on %s is not of cardinality many", schema.ErrRelationshipNotFound, name, n.kind)
	}

	manager, ok := n.relationships[name]
	if !ok {
		manager = &RelationshipManager{Name: name}
		n.relationships[name] = manager
	}
	return manager, nil
}

// MarshalPayload serializes the node identity and attribute values for
// persistent stores.
func (n *Node) MarshalPayload() ([]byte, error) {
	values := make(map[string]any, len(n.attributes))
	for name, attr := range n.attributes {
		if attr.Value != nil {
			values[name] = attr.Value
		}
	}

	return json.Marshal(map[string]any{
		"id":            n.id,
		"kind":          n.kind,
		"display_label": n.display,
		"attributes":    values,
	})
}

// mutationInput builds the data payload for create, update, and upsert
// mutations: the node id when known, every explicitly-set attribute, and
// every loaded relationship.
func (n *Node) mutationInput() map[string]any {
	data := make(map[string]any)

	if n.id != "" {
		data["id"] = n.id
	}

	for i := range n.schema.Attributes {
		name := n.schema.Attributes[i].Name
		attr := n.attributes[name]
		if attr == nil || attr.Value == nil || attr.IsDefault {
			continue
		}
		data[name] = map[string]any{"value": attr.Value}
	}

	for i := range n.schema.Relationships {
		relSchema := &n.schema.Relationships[i]
		switch relSchema.Cardinality {
		case schema.CardinalityOne:
			peer := n.related[relSchema.Name]
			if peer == nil {
				continue
			}
			data[relSchema.Name] = peerInput(peer)
		case schema.CardinalityMany:
			manager := n.relationships[relSchema.Name]
			if manager == nil || !manager.loaded {
				continue
			}
			peers := make([]any, 0, len(manager.Peers))
			for _, peer := range manager.Peers {
				peers = append(peers, peerInput(peer))
			}
			data[relSchema.Name] = peers
		}
	}

	return data
}

// peerInput renders a peer reference for a mutation payload.
func peerInput(peer *RelatedNode) map[string]any {
	if peer.ID != "" {
		return map[string]any{"id": peer.ID}
	}
	return map[string]any{"hfid": peer.HFID}
}

// Create saves the node as a new object on the server and records the
// assigned id.
func (n *Node) Create(ctx context.Context) error {
	return n.runMutation(ctx, "Create")
}

// Update writes the node's explicitly-set fields back to the server.
func (n *Node) Update(ctx context.Context) error {
	if n.id == "" {
		return NewValidationError("Node.Update", fmt.Errorf("node of kind %s has no id", n.kind))
	}
	return n.runMutation(ctx, "Update")
}

// Save persists the node: an update for a node fetched from the server, a
// create otherwise. With allowUpsert, new nodes are saved with an upsert
// mutation so an existing object with the same id or human friendly id is
// updated instead of duplicated.
func (n *Node) Save(ctx context.Context, allowUpsert bool) error {
	if n.existing {
		return n.Update(ctx)
	}
	if allowUpsert {
		return n.runMutation(ctx, "Upsert")
	}
	return n.Create(ctx)
}

// Delete removes the node on the server.
func (n *Node) Delete(ctx context.Context) error {
	if n.id == "" {
		return NewValidationError("Node.Delete", fmt.Errorf("node of kind %s has no id", n.kind))
	}

	m := query.Mutation{
		Mutation: n.kind + "Delete",
		Input:    map[string]any{"data": map[string]any{"id": n.id}},
		Fields:   []query.Field{query.Leaf("ok")},
	}

	_, err := n.execMutation(ctx, m, "delete")
	return err
}

// runMutation executes a {Kind}{action} mutation built from the node's
// current field values and records the returned object id.
func (n *Node) runMutation(ctx context.Context, action string) error {
	m := query.Mutation{
		Mutation: n.kind + action,
		Input:    map[string]any{"data": n.mutationInput()},
		Fields: []query.Field{
			query.Leaf("ok"),
			{Name: "object", Fields: []query.Field{query.Leaf("id")}},
		},
	}

	data, err := n.execMutation(ctx, m, strings.ToLower(action))
	if err != nil {
		return err
	}

	if result, ok := data[m.Mutation].(map[string]any); ok {
		if object, ok := result["object"].(map[string]any); ok {
			if id, ok := object["id"].(string); ok && id != "" {
				n.id = id
			}
		}
	}
	n.existing = true

	if tracking := n.client.trackingContext(); tracking != nil {
		tracking.addMember(n)
	}

	return nil
}

// execMutation renders and executes a mutation on the node's branch.
func (n *Node) execMutation(ctx context.Context, m query.Mutation, action string) (map[string]any, error) {
	if n.client == nil {
		return nil, NewInternalError("Node", fmt.Errorf("node of kind %s is not attached to a client", n.kind))
	}
	if err := m.Validate(); err != nil {
		return nil, NewValidationError("Node", err)
	}

	tracker := fmt.Sprintf("mutation-%s-%s", strings.ToLower(n.kind), action)
	return n.client.ExecuteGraphQL(ctx, m.Render(), nil, &RequestOptions{
		Branch:  n.branch,
		Tracker: tracker,
	})
}

// nodeSelection builds the GraphQL selection for one node of the given
// schema: id, display label, typename, the non-excluded attributes, the
// requested relationships, and one inline fragment per concrete subtype
// when querying a generic kind.
func nodeSelection(sch *schema.NodeSchema, include, exclude []string, includeProperties, allRelationships bool, children []*schema.NodeSchema) ([]query.Field, []query.Fragment) {
	included := make(map[string]bool, len(include))
	for _, name := range include {
		included[name] = true
	}
	excluded := make(map[string]bool, len(exclude))
	for _, name := range exclude {
		excluded[name] = true
	}

	fields := []query.Field{query.Leaf("id")}
	if len(sch.HumanFriendlyID) > 0 {
		fields = append(fields, query.Leaf("hfid"))
	}
	fields = append(fields, query.Leaf("display_label"), query.Leaf("__typename"))

	for i := range sch.Attributes {
		name := sch.Attributes[i].Name
		if excluded[name] {
			continue
		}
		fields = append(fields, query.Field{
			Name:   name,
			Fields: attributeSelection(includeProperties),
		})
	}

	for i := range sch.Relationships {
		relSchema := &sch.Relationships[i]
		if excluded[relSchema.Name] {
			continue
		}
		if !allRelationships && !included[relSchema.Name] {
			continue
		}
		fields = append(fields, relationshipSelection(relSchema, includeProperties))
	}

	var fragments []query.Fragment
	if sch.Generic {
		generic := make(map[string]bool, len(sch.Attributes)+len(sch.Relationships))
		for i := range sch.Attributes {
			generic[sch.Attributes[i].Name] = true
		}
		for i := range sch.Relationships {
			generic[sch.Relationships[i].Name] = true
		}

		for _, child := range children {
			var childFields []query.Field
			for i := range child.Attributes {
				name := child.Attributes[i].Name
				if generic[name] || excluded[name] {
					continue
				}
				childFields = append(childFields, query.Field{
					Name:   name,
					Fields: attributeSelection(includeProperties),
				})
			}
			if len(childFields) > 0 {
				fragments = append(fragments, query.Fragment{On: child.Kind(), Fields: childFields})
			}
		}
	}

	return fields, fragments
}

// attributeSelection builds the value-wrapper selection of one attribute.
func attributeSelection(includeProperties bool) []query.Field {
	fields := []query.Field{query.Leaf("value"), query.Leaf("is_default")}
	if includeProperties {
		fields = append(fields,
			query.Leaf("is_protected"),
			query.Leaf("is_visible"),
			query.Field{Name: "source", Fields: referenceSelection()},
			query.Field{Name: "owner", Fields: referenceSelection()},
		)
	}
	return fields
}

// relationshipSelection builds the selection of one relationship, shaped by
// its cardinality.
func relationshipSelection(rel *schema.RelationshipSchema, includeProperties bool) query.Field {
	peer := query.Field{Name: "node", Fields: referenceSelection()}

	if rel.Cardinality == schema.CardinalityOne {
		fields := []query.Field{peer}
		if includeProperties {
			fields = append(fields, relationPropertiesSelection())
		}
		return query.Field{Name: rel.Name, Fields: fields}
	}

	edge := []query.Field{peer}
	if includeProperties {
		edge = append(edge, relationPropertiesSelection())
	}
	return query.Field{
		Name: rel.Name,
		Fields: []query.Field{
			query.Leaf("count"),
			{Name: "edges", Fields: edge},
		},
	}
}

func referenceSelection() []query.Field {
	return []query.Field{
		query.Leaf("id"),
		query.Leaf("display_label"),
		query.Leaf("__typename"),
	}
}

func relationPropertiesSelection() query.Field {
	return query.Field{
		Name:   "properties",
		Fields: []query.Field{query.Leaf("is_protected"), query.Leaf("is_visible")},
	}
}
