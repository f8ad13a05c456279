package infrahub

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/opsmill/infrahub-sdk-go/query"
)

// PoolAllocationParams tunes a resource pool allocation.
type PoolAllocationParams struct {
	// Identifier makes the allocation idempotent: allocating twice with
	// the same identifier returns the same resource.
	Identifier string

	// PrefixLength overrides the pool's default prefix length.
	PrefixLength int

	// AddressType and PrefixType select the kind of node to create when
	// the pool serves several kinds.
	AddressType string
	PrefixType  string

	// Data carries extra attribute values for the allocated resource.
	Data map[string]any

	// Branch overrides the branch the pool node was fetched from.
	Branch string
}

// AllocateNextIPAddress reserves the next address from an IP address pool
// and returns the allocated node.
func (c *Client) AllocateNextIPAddress(ctx context.Context, pool *Node, params PoolAllocationParams) (*Node, error) {
	return c.allocateFromPool(ctx, "Client.AllocateNextIPAddress", "IPAddressPoolGetResource", pool, params)
}

// AllocateNextIPPrefix reserves the next prefix from an IP prefix pool and
// returns the allocated node.
func (c *Client) AllocateNextIPPrefix(ctx context.Context, pool *Node, params PoolAllocationParams) (*Node, error) {
	return c.allocateFromPool(ctx, "Client.AllocateNextIPPrefix", "IPPrefixPoolGetResource", pool, params)
}

func (c *Client) allocateFromPool(ctx context.Context, op, mutation string, pool *Node, params PoolAllocationParams) (*Node, error) {
	if pool == nil || pool.ID() == "" {
		return nil, NewValidationError(op, errors.New("resource pool node with an id is required"))
	}

	branch := params.Branch
	if branch == "" {
		branch = pool.Branch()
	}
	branch = c.branchOrDefault(branch)

	data := map[string]any{"id": pool.ID()}
	if params.Identifier != "" {
		data["identifier"] = params.Identifier
	}
	if params.PrefixLength > 0 {
		data["prefix_length"] = params.PrefixLength
	}
	if params.AddressType != "" {
		data["address_type"] = params.AddressType
	}
	if params.PrefixType != "" {
		data["prefix_type"] = params.PrefixType
	}
	if len(params.Data) > 0 {
		data["data"] = params.Data
	}

	mut := query.Mutation{
		Mutation: mutation,
		Input:    map[string]any{"data": data},
		Fields: []query.Field{
			query.Leaf("ok"),
			{Name: "node", Fields: []query.Field{
				query.Leaf("id"),
				query.Leaf("kind"),
				query.Leaf("identifier"),
				query.Leaf("display_label"),
			}},
		},
	}

	tracker := "mutation-" + strings.ToLower(mutation)
	resp, err := c.ExecuteGraphQL(ctx, mut.Render(), nil, &RequestOptions{Branch: branch, Tracker: tracker})
	if err != nil {
		return nil, err
	}

	payload, ok := resp[mutation].(map[string]any)
	if !ok {
		return nil, NewInternalError(op, fmt.Errorf("response has no %s object", mutation))
	}
	nodeInfo, ok := payload["node"].(map[string]any)
	if !ok {
		return nil, NewInternalError(op, fmt.Errorf("%s returned no node", mutation))
	}

	id, _ := nodeInfo["id"].(string)
	kind, _ := nodeInfo["kind"].(string)
	if id == "" || kind == "" {
		return nil, NewInternalError(op, fmt.Errorf("%s returned an incomplete node", mutation))
	}

	// The allocation response only identifies the resource; fetch it in
	// full so attributes are usable.
	return c.Get(ctx, kind, GetParams{ID: id, Branch: branch})
}
