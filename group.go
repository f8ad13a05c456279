package infrahub

import (
	"context"
	"crypto/sha256"
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/opsmill/infrahub-sdk-go/query"
)

// GroupContext is a tracking session. While it is active, every node saved
// through the client is recorded; Close upserts a CoreStandardGroup holding
// the recorded nodes as members, so successive runs of the same workload
// can be compared and cleaned up server-side.
type GroupContext struct {
	client *Client

	identifier   string
	params       map[string]any
	branch       string
	deleteUnused bool

	mu      sync.Mutex
	seen    map[string]bool
	members []NodeReference
}

// StartTracking opens a tracking session on the default branch. identifier
// names the group; it falls back to the client's tracker identifier. With
// deleteUnused, nodes that were members of the group on a previous run but
// were not saved in this one are deleted when the session closes.
//
// Only one session is active at a time; starting a new one replaces the
// previous session without closing it.
func (c *Client) StartTracking(identifier string, params map[string]any, deleteUnused bool) *GroupContext {
	g := &GroupContext{
		client:       c,
		identifier:   identifier,
		params:       params,
		branch:       c.config.DefaultBranch,
		deleteUnused: deleteUnused,
	}
	if g.identifier == "" {
		g.identifier = c.config.Identifier
	}
	if g.identifier == "" {
		g.identifier = "go-sdk"
	}

	c.mu.Lock()
	c.tracking = g
	c.mu.Unlock()

	return g
}

// trackingContext returns the active tracking session, if any.
func (c *Client) trackingContext() *GroupContext {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.tracking
}

// addMember records a saved node as a member of the group. Nodes are
// de-duplicated by id.
func (g *GroupContext) addMember(node *Node) {
	if node.id == "" {
		return
	}

	g.mu.Lock()
	defer g.mu.Unlock()

	if g.seen == nil {
		g.seen = make(map[string]bool)
	}
	if g.seen[node.id] {
		return
	}
	g.seen[node.id] = true
	g.members = append(g.members, NodeReference{ID: node.id, Kind: node.kind, Display: node.display})
}

// Members returns the nodes recorded so far, in save order.
func (g *GroupContext) Members() []NodeReference {
	g.mu.Lock()
	defer g.mu.Unlock()

	out := make([]NodeReference, len(g.members))
	copy(out, g.members)
	return out
}

// Close ends the session: it detaches the session from the client and
// writes the group membership to the server. A session with no recorded
// members writes nothing.
func (g *GroupContext) Close(ctx context.Context) error {
	g.client.mu.Lock()
	if g.client.tracking == g {
		g.client.tracking = nil
	}
	g.client.mu.Unlock()

	members := g.Members()
	if len(members) == 0 {
		return nil
	}

	groupName := g.groupName()

	var previous []NodeReference
	if g.deleteUnused {
		var err error
		previous, err = g.previousMembers(ctx, groupName)
		if err != nil {
			return err
		}
	}

	refs := make([]any, 0, len(members))
	for _, member := range members {
		refs = append(refs, map[string]any{"id": member.ID})
	}

	mut := query.Mutation{
		Mutation: "CoreStandardGroupUpsert",
		Input: map[string]any{
			"data": map[string]any{
				"name":    map[string]any{"value": groupName},
				"members": refs,
			},
		},
		Fields: []query.Field{
			query.Leaf("ok"),
			{Name: "object", Fields: []query.Field{query.Leaf("id")}},
		},
	}
	if _, err := g.client.ExecuteGraphQL(ctx, mut.Render(), nil, &RequestOptions{
		Branch:  g.branch,
		Tracker: "mutation-corestandardgroup-upsert",
	}); err != nil {
		return err
	}

	if !g.deleteUnused {
		return nil
	}

	current := make(map[string]bool, len(members))
	for _, member := range members {
		current[member.ID] = true
	}

	for _, prev := range previous {
		if prev.ID == "" || prev.Kind == "" || current[prev.ID] {
			continue
		}

		del := query.Mutation{
			Mutation: prev.Kind + "Delete",
			Input:    map[string]any{"data": map[string]any{"id": prev.ID}},
			Fields:   []query.Field{query.Leaf("ok")},
		}
		if _, err := g.client.ExecuteGraphQL(ctx, del.Render(), nil, &RequestOptions{
			Branch:  g.branch,
			Tracker: fmt.Sprintf("mutation-%s-delete", strings.ToLower(prev.Kind)),
		}); err != nil {
			g.client.logger.Warn("failed to delete unused group member",
				"kind", prev.Kind,
				"id", prev.ID,
				"error", err)
		}
	}

	return nil
}

// groupName derives the server-side group name from the identifier and the
// session parameters, so distinct parameter sets map to distinct groups.
func (g *GroupContext) groupName() string {
	if len(g.params) == 0 {
		return g.identifier
	}

	keys := make([]string, 0, len(g.params))
	for k := range g.params {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	h := sha256.New()
	for _, k := range keys {
		fmt.Fprintf(h, "%s=%v;", k, g.params[k])
	}
	return fmt.Sprintf("%s-%x", g.identifier, h.Sum(nil)[:4])
}

// previousMembers returns the members the group held before this session.
// A group that does not exist yet has none.
func (g *GroupContext) previousMembers(ctx context.Context, groupName string) ([]NodeReference, error) {
	q := query.Query{
		Fields: []query.Field{{
			Name: "CoreStandardGroup",
			Args: map[string]any{"name__value": groupName},
			Fields: []query.Field{{
				Name: "edges",
				Fields: []query.Field{{
					Name: "node",
					Fields: []query.Field{
						query.Leaf("id"),
						{Name: "members", Fields: []query.Field{{
							Name: "edges",
							Fields: []query.Field{{
								Name: "node",
								Fields: []query.Field{
									query.Leaf("id"),
									query.Leaf("__typename"),
								},
							}},
						}}},
					},
				}},
			}},
		}},
	}

	data, err := g.client.ExecuteGraphQL(ctx, q.Render(), nil, &RequestOptions{
		Branch:  g.branch,
		Tracker: "query-corestandardgroup-members",
	})
	if err != nil {
		return nil, err
	}

	groups, ok := data["CoreStandardGroup"].(map[string]any)
	if !ok {
		return nil, nil
	}
	groupEdges, _ := groups["edges"].([]any)

	var members []NodeReference
	for _, rawEdge := range groupEdges {
		edge, ok := rawEdge.(map[string]any)
		if !ok {
			continue
		}
		node, ok := edge["node"].(map[string]any)
		if !ok {
			continue
		}
		memberSet, ok := node["members"].(map[string]any)
		if !ok {
			continue
		}
		memberEdges, _ := memberSet["edges"].([]any)
		for _, rawMember := range memberEdges {
			memberEdge, ok := rawMember.(map[string]any)
			if !ok {
				continue
			}
			member, ok := memberEdge["node"].(map[string]any)
			if !ok {
				continue
			}
			id, _ := member["id"].(string)
			kind, _ := member["__typename"].(string)
			members = append(members, NodeReference{ID: id, Kind: kind})
		}
	}

	return members, nil
}
