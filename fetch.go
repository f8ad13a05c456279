package infrahub

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/opsmill/infrahub-sdk-go/query"
	"github.com/opsmill/infrahub-sdk-go/schema"
	"golang.org/x/sync/errgroup"
)

// Int returns a pointer to v, for the explicit Offset and Limit fields of
// QueryParams.
func Int(v int) *int { return &v }

// QueryParams tunes All and Filters queries.
type QueryParams struct {
	// Filters restricts the result set, e.g. {"name__value": "John"}.
	// Filter keys are not validated client-side; unknown keys are rejected
	// by the server.
	Filters map[string]any

	// Branch overrides the configured default branch.
	Branch string

	// At queries the state of the graph at a point in time.
	At Timestamp

	// Offset and Limit request one explicit page window. Setting either
	// disables pagination: exactly one page is fetched even if the server
	// reports more items.
	Offset *int
	Limit  *int

	// Include adds relationship or attribute names to the selection;
	// Exclude removes attribute or relationship names from it. Unknown
	// names are validation errors.
	Include []string
	Exclude []string

	// IncludeProperties adds the value metadata (protection flags, source,
	// owner) to every attribute selection.
	IncludeProperties bool

	// Fragment adds one inline fragment per concrete subtype when querying
	// a generic kind, pulling in the subtype-specific attributes.
	Fragment bool

	// PartialMatch asks the server to match string filters as substrings.
	PartialMatch bool

	// PopulateStore writes every fetched node, and every referenced peer,
	// to the client's node store.
	PopulateStore bool

	// PrefetchRelationships fetches all first-level relationships and
	// attaches the hydrated peers to the returned nodes.
	PrefetchRelationships bool

	// Parallel fetches the remaining pages concurrently once the first
	// page has reported the total count, bounded by the configured
	// maximum concurrent execution.
	Parallel bool

	// Timeout overrides the configured per-request timeout.
	Timeout time.Duration
}

// GetParams tunes a single-node lookup.
type GetParams struct {
	// ID looks the node up by id. A valid UUID queries the ids filter;
	// any other value is matched against the schema's default filter.
	ID string

	// HFID looks the node up by human friendly id. The kind must define
	// one.
	HFID []string

	// Filters adds further filters to the lookup.
	Filters map[string]any

	Branch string
	At     Timestamp

	Include           []string
	Exclude           []string
	IncludeProperties bool

	PrefetchRelationships bool
	PopulateStore         bool

	// AllowMissing makes a zero-match lookup return (nil, nil) instead of
	// ErrNodeNotFound. More than one match is always an error.
	AllowMissing bool
}

// All fetches every node of a kind, paginating until the server-reported
// count is exhausted.
func (c *Client) All(ctx context.Context, kind string, params QueryParams) ([]*Node, error) {
	params.Filters = nil
	return c.Filters(ctx, kind, params)
}

// Filters fetches the nodes of a kind matching the given filters.
//
// Without an explicit Offset or Limit the query is paginated with the
// configured page size until the server-reported count is exhausted; with
// either set, exactly one page is fetched. Nodes are returned in server
// order.
func (c *Client) Filters(ctx context.Context, kind string, params QueryParams) ([]*Node, error) {
	const op = "Client.Filters"

	branch := c.branchOrDefault(params.Branch)
	sch, err := c.schemas.Get(ctx, kind, branch)
	if err != nil {
		return nil, err
	}

	if err := validateFieldNames(sch, params.Include); err != nil {
		return nil, NewValidationError(op, err)
	}
	if err := validateFieldNames(sch, params.Exclude); err != nil {
		return nil, NewValidationError(op, err)
	}

	var children []*schema.NodeSchema
	if params.Fragment && sch.Generic {
		for _, childKind := range sch.UsedBy {
			child, err := c.schemas.Get(ctx, childKind, branch)
			if err != nil {
				return nil, err
			}
			children = append(children, child)
		}
	}

	singlePage := params.Offset != nil || params.Limit != nil

	pageSize := c.config.PaginationSize
	if params.Limit != nil {
		pageSize = *params.Limit
	}

	var nodes []*Node

	if singlePage {
		pageOffset := 0
		if params.Offset != nil {
			pageOffset = *params.Offset
		}
		_, nodes, err = c.fetchPage(ctx, sch, children, branch, params, 1, pageOffset, pageSize)
		if err != nil {
			return nil, err
		}
	} else {
		nodes, err = c.fetchAllPages(ctx, sch, children, branch, params, pageSize)
		if err != nil {
			return nil, err
		}
	}

	if params.PrefetchRelationships {
		if err := c.prefetchRelated(ctx, nodes, branch, params.At, params.PopulateStore); err != nil {
			return nil, err
		}
	}

	if params.PopulateStore {
		c.populateStore(ctx, branch, nodes)
	}

	return nodes, nil
}

// fetchAllPages pages through a query until the server-reported count is
// exhausted, sequentially or concurrently per the Parallel flag.
func (c *Client) fetchAllPages(ctx context.Context, sch *schema.NodeSchema, children []*schema.NodeSchema, branch string, params QueryParams, pageSize int) ([]*Node, error) {
	count, nodes, err := c.fetchPage(ctx, sch, children, branch, params, 1, 0, pageSize)
	if err != nil {
		return nil, err
	}

	if count-pageSize <= 0 {
		return nodes, nil
	}

	totalPages := (count + pageSize - 1) / pageSize

	if params.Parallel {
		results := make([][]*Node, totalPages+1)

		g, gctx := errgroup.WithContext(ctx)
		g.SetLimit(c.config.MaxConcurrentExecution)
		for page := 2; page <= totalPages; page++ {
			page := page
			g.Go(func() error {
				_, pageNodes, err := c.fetchPage(gctx, sch, children, branch, params, page, (page-1)*pageSize, pageSize)
				if err != nil {
					return err
				}
				results[page] = pageNodes
				return nil
			})
		}
		if err := g.Wait(); err != nil {
			return nil, err
		}

		for page := 2; page <= totalPages; page++ {
			nodes = append(nodes, results[page]...)
		}
		return nodes, nil
	}

	for page := 2; ; page++ {
		pageOffset := (page - 1) * pageSize

		_, pageNodes, err := c.fetchPage(ctx, sch, children, branch, params, page, pageOffset, pageSize)
		if err != nil {
			return nil, err
		}
		nodes = append(nodes, pageNodes...)

		if count-(pageOffset+pageSize) <= 0 {
			return nodes, nil
		}
	}
}

// fetchPage runs one page query and hydrates the returned edges.
func (c *Client) fetchPage(ctx context.Context, sch *schema.NodeSchema, children []*schema.NodeSchema, branch string, params QueryParams, page, pageOffset, pageSize int) (int, []*Node, error) {
	const op = "Client.Filters"

	kind := sch.Kind()

	args := make(map[string]any, len(params.Filters)+3)
	for key, value := range params.Filters {
		args[key] = value
	}
	args["offset"] = pageOffset
	args["limit"] = pageSize
	if params.PartialMatch {
		args["partial_match"] = true
	}

	fields, fragments := nodeSelection(sch, params.Include, params.Exclude, params.IncludeProperties, params.PrefetchRelationships, children)
	q := query.Query{
		Fields: []query.Field{
			{
				Name: kind,
				Args: args,
				Fields: []query.Field{
					query.Leaf("count"),
					{Name: "edges", Fields: []query.Field{{Name: "node", Fields: fields, Fragments: fragments}}},
				},
			},
		},
	}

	tracker := fmt.Sprintf("query-%s-page%d", strings.ToLower(kind), page)
	data, err := c.ExecuteGraphQL(ctx, q.Render(), nil, &RequestOptions{
		Branch:  branch,
		At:      params.At,
		Timeout: params.Timeout,
		Tracker: tracker,
	})
	if err != nil {
		return 0, nil, err
	}

	raw, ok := data[kind].(map[string]any)
	if !ok {
		return 0, nil, NewInternalError(op, fmt.Errorf("response has no %s object", kind))
	}

	edges, _ := raw["edges"].([]any)

	count := pageOffset + len(edges)
	if reported, ok := raw["count"].(float64); ok {
		count = int(reported)
	}

	nodes := make([]*Node, 0, len(edges))
	for _, edge := range edges {
		edgeMap, ok := edge.(map[string]any)
		if !ok {
			continue
		}
		nodeData, ok := edgeMap["node"].(map[string]any)
		if !ok {
			continue
		}

		nodeSchema := sch
		if typename, ok := nodeData["__typename"].(string); ok && typename != "" && typename != kind {
			nodeSchema, err = c.schemas.Get(ctx, typename, branch)
			if err != nil {
				return 0, nil, err
			}
		}

		node, err := newNodeFromGraphQL(c, nodeSchema, branch, nodeData)
		if err != nil {
			return 0, nil, err
		}
		nodes = append(nodes, node)
	}

	return count, nodes, nil
}

// Get fetches exactly one node of a kind.
//
// The lookup filters are merged from the id (UUID or default-filter value),
// the human friendly id, and any extra filters; an empty merged filter set
// is a validation error and no request is sent. Zero matches return
// ErrNodeNotFound unless AllowMissing is set; more than one match returns
// ErrAmbiguousResult.
func (c *Client) Get(ctx context.Context, kind string, params GetParams) (*Node, error) {
	const op = "Client.Get"

	branch := c.branchOrDefault(params.Branch)
	sch, err := c.schemas.Get(ctx, kind, branch)
	if err != nil {
		return nil, err
	}

	filters := make(map[string]any, len(params.Filters)+2)
	for key, value := range params.Filters {
		filters[key] = value
	}

	if params.ID != "" {
		if uuid.Validate(params.ID) == nil {
			filters["ids"] = []string{params.ID}
		} else if sch.DefaultFilter != "" {
			filters[sch.DefaultFilter] = params.ID
		} else {
			return nil, NewValidationError(op,
				fmt.Errorf("%q is not a valid id and %s has no default filter", params.ID, kind))
		}
	}

	if len(params.HFID) > 0 {
		if len(sch.HumanFriendlyID) == 0 {
			return nil, NewValidationError(op,
				fmt.Errorf("%s has no human friendly id", kind))
		}
		filters["hfid"] = params.HFID
	}

	if len(filters) == 0 {
		return nil, NewValidationError(op,
			fmt.Errorf("%w: at least one filter is required", ErrInvalidFilters))
	}

	nodes, err := c.Filters(ctx, kind, QueryParams{
		Filters:               filters,
		Branch:                branch,
		At:                    params.At,
		Include:               params.Include,
		Exclude:               params.Exclude,
		IncludeProperties:     params.IncludeProperties,
		PrefetchRelationships: params.PrefetchRelationships,
		PopulateStore:         params.PopulateStore,
	})
	if err != nil {
		return nil, err
	}

	switch len(nodes) {
	case 0:
		if params.AllowMissing {
			return nil, nil
		}
		return nil, NewNotFoundError(op,
			fmt.Errorf("%w: %s matching %v on branch %s", ErrNodeNotFound, kind, filters, branch))
	case 1:
		return nodes[0], nil
	default:
		return nil, NewValidationError(op,
			fmt.Errorf("%w: %d nodes of %s match %v", ErrAmbiguousResult, len(nodes), kind, filters))
	}
}

// Count returns the number of nodes of a kind matching the given filters,
// without fetching any node.
func (c *Client) Count(ctx context.Context, kind string, params QueryParams) (int, error) {
	const op = "Client.Count"

	branch := c.branchOrDefault(params.Branch)
	if _, err := c.schemas.Get(ctx, kind, branch); err != nil {
		return 0, err
	}

	args := make(map[string]any, len(params.Filters)+1)
	for key, value := range params.Filters {
		args[key] = value
	}
	if params.PartialMatch {
		args["partial_match"] = true
	}

	q := query.Query{
		Fields: []query.Field{
			{Name: kind, Args: args, Fields: []query.Field{query.Leaf("count")}},
		},
	}

	tracker := fmt.Sprintf("query-%s-count", strings.ToLower(kind))
	data, err := c.ExecuteGraphQL(ctx, q.Render(), nil, &RequestOptions{
		Branch:  branch,
		At:      params.At,
		Timeout: params.Timeout,
		Tracker: tracker,
	})
	if err != nil {
		return 0, err
	}

	raw, ok := data[kind].(map[string]any)
	if !ok {
		return 0, NewInternalError(op, fmt.Errorf("response has no %s object", kind))
	}
	count, ok := raw["count"].(float64)
	if !ok {
		return 0, NewInternalError(op, fmt.Errorf("response has no count for %s", kind))
	}

	return int(count), nil
}

// validateFieldNames checks include/exclude names against the schema.
func validateFieldNames(sch *schema.NodeSchema, names []string) error {
	for _, name := range names {
		if !sch.IsValidField(name) {
			return fmt.Errorf("%s has no field named %q", sch.Kind(), name)
		}
	}
	return nil
}

// collectPeers walks all relationship entries of the given nodes and
// returns the referenced peers, de-duplicated by id with the last
// occurrence winning.
func collectPeers(nodes []*Node) map[string][]*RelatedNode {
	peers := make(map[string][]*RelatedNode)
	for _, node := range nodes {
		for _, peer := range node.related {
			if peer != nil && peer.ID != "" {
				peers[peer.ID] = append(peers[peer.ID], peer)
			}
		}
		for _, manager := range node.relationships {
			for _, peer := range manager.Peers {
				if peer != nil && peer.ID != "" {
					peers[peer.ID] = append(peers[peer.ID], peer)
				}
			}
		}
	}
	return peers
}

// populateStore writes the fetched nodes and their referenced peers to the
// client store. Peers not fetched in full are stored as identity stubs.
// Store failures are logged and do not fail the query.
func (c *Client) populateStore(ctx context.Context, branch string, nodes []*Node) {
	for _, node := range nodes {
		if err := c.store.Set(ctx, node); err != nil {
			c.logger.Warn("failed to store node",
				"kind", node.Kind(),
				"id", node.ID(),
				"error", err)
		}
	}

	stored := make(map[string]bool, len(nodes))
	for _, node := range nodes {
		stored[node.ID()] = true
	}

	for id, refs := range collectPeers(nodes) {
		if stored[id] {
			continue
		}

		// The last reference wins, mirroring the upsert semantics of the
		// store itself.
		peer := refs[len(refs)-1]

		var peerNode *Node
		if peer.Peer != nil {
			peerNode = peer.Peer
		} else {
			peerSchema, err := c.schemas.Get(ctx, peer.Kind, branch)
			if err != nil {
				c.logger.Warn("failed to resolve peer schema",
					"kind", peer.Kind,
					"id", id,
					"error", err)
				continue
			}
			peerNode, err = newNodeFromGraphQL(c, peerSchema, branch, map[string]any{
				"id":            peer.ID,
				"display_label": peer.Display,
				"__typename":    peer.Kind,
			})
			if err != nil {
				continue
			}
		}

		if err := c.store.Set(ctx, peerNode); err != nil {
			c.logger.Warn("failed to store peer node",
				"kind", peer.Kind,
				"id", id,
				"error", err)
		}
	}
}

// prefetchRelated fetches the peers referenced by the given nodes, one
// query per peer kind, and attaches the hydrated nodes to their references.
func (c *Client) prefetchRelated(ctx context.Context, nodes []*Node, branch string, at Timestamp, populate bool) error {
	peers := collectPeers(nodes)
	if len(peers) == 0 {
		return nil
	}

	idsByKind := make(map[string][]string)
	for id, refs := range peers {
		kind := refs[len(refs)-1].Kind
		if kind == "" {
			continue
		}
		idsByKind[kind] = append(idsByKind[kind], id)
	}

	for kind, ids := range idsByKind {
		fetched, err := c.Filters(ctx, kind, QueryParams{
			Filters:       map[string]any{"ids": ids},
			Branch:        branch,
			At:            at,
			PopulateStore: populate,
		})
		if err != nil {
			return err
		}

		for _, peerNode := range fetched {
			for _, ref := range peers[peerNode.ID()] {
				ref.Peer = peerNode
				if ref.Display == "" {
					ref.Display = peerNode.DisplayLabel()
				}
			}
		}
	}

	return nil
}
