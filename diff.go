package infrahub

import (
	"context"
	"strings"

	"github.com/opsmill/infrahub-sdk-go/query"
)

// DiffElementType classifies one changed element of a node.
type DiffElementType string

const (
	// DiffElementAttribute marks an attribute change.
	DiffElementAttribute DiffElementType = "ATTRIBUTE"

	// DiffElementRelationshipOne marks a change on a cardinality-one
	// relationship.
	DiffElementRelationshipOne DiffElementType = "RELATIONSHIP_ONE"

	// DiffElementRelationshipMany marks a change on a cardinality-many
	// relationship.
	DiffElementRelationshipMany DiffElementType = "RELATIONSHIP_MANY"
)

// DiffPeer identifies the peer of one changed relationship element.
type DiffPeer struct {
	ID   string
	Kind string
}

// DiffSummary counts the changes beneath one element.
type DiffSummary struct {
	Added   int
	Updated int
	Removed int
}

// DiffElement is one changed attribute or relationship of a node.
type DiffElement struct {
	Type    DiffElementType
	Name    string
	Action  string
	Summary DiffSummary

	// Peers mirrors the relationship's changed elements one-for-one; only
	// populated for RELATIONSHIP_MANY elements.
	Peers []DiffPeer
}

// NodeDiff describes the changes one node received on a branch, relative to
// the branch it was created from.
type NodeDiff struct {
	Branch       string
	Kind         string
	ID           string
	Action       string
	DisplayLabel string
	Elements     []DiffElement
}

// GetDiffSummary returns a per-node summary of every change on a branch.
// Actions are lowercased ("added", "updated", "removed").
func (c *Client) GetDiffSummary(ctx context.Context, branch string) ([]NodeDiff, error) {
	branch = c.branchOrDefault(branch)

	q := query.Query{
		Name:      "GetDiffTree",
		Variables: map[string]string{"branch_name": "String!"},
		Fields: []query.Field{{
			Name: "DiffTree",
			Args: map[string]any{"branch": query.Raw("$branch_name")},
			Fields: []query.Field{{
				Name: "nodes",
				Fields: []query.Field{
					query.Leaf("uuid"),
					query.Leaf("kind"),
					query.Leaf("label"),
					query.Leaf("status"),
					{Name: "attributes", Fields: []query.Field{
						query.Leaf("name"),
						query.Leaf("status"),
						query.Leaf("num_added"),
						query.Leaf("num_updated"),
						query.Leaf("num_removed"),
					}},
					{Name: "relationships", Fields: []query.Field{
						query.Leaf("name"),
						query.Leaf("status"),
						query.Leaf("cardinality"),
						query.Leaf("num_added"),
						query.Leaf("num_updated"),
						query.Leaf("num_removed"),
						{Name: "elements", Fields: []query.Field{
							query.Leaf("status"),
							{Name: "peer", Fields: []query.Field{
								query.Leaf("uuid"),
								query.Leaf("kind"),
							}},
						}},
					}},
				},
			}},
		}},
	}

	data, err := c.ExecuteGraphQL(ctx, q.Render(), map[string]any{"branch_name": branch}, &RequestOptions{
		Branch:  branch,
		Tracker: "query-diff-tree",
	})
	if err != nil {
		return nil, err
	}

	tree, ok := data["DiffTree"].(map[string]any)
	if !ok {
		// A branch with no changes yields a null tree.
		return nil, nil
	}
	rawNodes, _ := tree["nodes"].([]any)

	diffs := make([]NodeDiff, 0, len(rawNodes))
	for _, rawNode := range rawNodes {
		nodeMap, ok := rawNode.(map[string]any)
		if !ok {
			continue
		}

		diff := NodeDiff{
			Branch:       branch,
			Kind:         diffString(nodeMap, "kind"),
			ID:           diffString(nodeMap, "uuid"),
			Action:       strings.ToLower(diffString(nodeMap, "status")),
			DisplayLabel: diffString(nodeMap, "label"),
		}

		if attrs, ok := nodeMap["attributes"].([]any); ok {
			for _, rawAttr := range attrs {
				attrMap, ok := rawAttr.(map[string]any)
				if !ok {
					continue
				}
				diff.Elements = append(diff.Elements, DiffElement{
					Type:    DiffElementAttribute,
					Name:    diffString(attrMap, "name"),
					Action:  strings.ToLower(diffString(attrMap, "status")),
					Summary: diffCounters(attrMap),
				})
			}
		}

		if rels, ok := nodeMap["relationships"].([]any); ok {
			for _, rawRel := range rels {
				relMap, ok := rawRel.(map[string]any)
				if !ok {
					continue
				}

				element := DiffElement{
					Name:    diffString(relMap, "name"),
					Action:  strings.ToLower(diffString(relMap, "status")),
					Summary: diffCounters(relMap),
				}

				if strings.EqualFold(diffString(relMap, "cardinality"), "one") {
					element.Type = DiffElementRelationshipOne
				} else {
					element.Type = DiffElementRelationshipMany
					if rawElements, ok := relMap["elements"].([]any); ok {
						for _, rawElement := range rawElements {
							elementMap, ok := rawElement.(map[string]any)
							if !ok {
								continue
							}
							var peer DiffPeer
							if peerMap, ok := elementMap["peer"].(map[string]any); ok {
								peer.ID = diffString(peerMap, "uuid")
								peer.Kind = diffString(peerMap, "kind")
							}
							element.Peers = append(element.Peers, peer)
						}
					}
				}

				diff.Elements = append(diff.Elements, element)
			}
		}

		diffs = append(diffs, diff)
	}

	return diffs, nil
}

func diffString(m map[string]any, key string) string {
	s, _ := m[key].(string)
	return s
}

func diffCounters(m map[string]any) DiffSummary {
	return DiffSummary{
		Added:   diffInt(m, "num_added"),
		Updated: diffInt(m, "num_updated"),
		Removed: diffInt(m, "num_removed"),
	}
}

func diffInt(m map[string]any, key string) int {
	f, _ := m[key].(float64)
	return int(f)
}
