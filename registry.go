package infrahub

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"sync"

	"github.com/opsmill/infrahub-sdk-go/schema"
)

// SchemaManager fetches node schemas from the server and caches them per
// branch. Generic kinds are cached alongside concrete ones with their
// Generic flag set.
type SchemaManager struct {
	client *Client

	mu    sync.RWMutex
	cache map[string]map[string]*schema.NodeSchema
}

func newSchemaManager(client *Client) *SchemaManager {
	return &SchemaManager{
		client: client,
		cache:  make(map[string]map[string]*schema.NodeSchema),
	}
}

// Get returns the schema of a kind on a branch, fetching the branch schema
// on first use. An empty branch means the configured default.
// Returns ErrSchemaNotFound if the branch schema has no such kind.
func (m *SchemaManager) Get(ctx context.Context, kind, branch string) (*schema.NodeSchema, error) {
	branch = m.client.branchOrDefault(branch)

	m.mu.RLock()
	branchCache, ok := m.cache[branch]
	m.mu.RUnlock()

	if !ok {
		var err error
		branchCache, err = m.Fetch(ctx, branch)
		if err != nil {
			return nil, err
		}
	}

	sch, ok := branchCache[kind]
	if !ok {
		return nil, NewNotFoundError("SchemaManager.Get",
			fmt.Errorf("%w: %s on branch %s", ErrSchemaNotFound, kind, branch))
	}
	return sch, nil
}

// All returns every schema known on a branch, fetching the branch schema on
// first use. The returned map is a copy and safe to modify.
func (m *SchemaManager) All(ctx context.Context, branch string) (map[string]*schema.NodeSchema, error) {
	branch = m.client.branchOrDefault(branch)

	m.mu.RLock()
	branchCache, ok := m.cache[branch]
	m.mu.RUnlock()

	if !ok {
		var err error
		branchCache, err = m.Fetch(ctx, branch)
		if err != nil {
			return nil, err
		}
	}

	out := make(map[string]*schema.NodeSchema, len(branchCache))
	for kind, sch := range branchCache {
		out[kind] = sch
	}
	return out, nil
}

// Fetch downloads the schema of a branch from the server and replaces the
// cached version.
func (m *SchemaManager) Fetch(ctx context.Context, branch string) (map[string]*schema.NodeSchema, error) {
	const op = "SchemaManager.Fetch"

	branch = m.client.branchOrDefault(branch)
	endpoint := fmt.Sprintf("%s/api/schema?branch=%s", m.client.config.Address, url.QueryEscape(branch))

	body, err := m.client.restGet(ctx, endpoint, 0)
	if err != nil {
		return nil, err
	}

	var root schema.Root
	if err := json.Unmarshal(body, &root); err != nil {
		return nil, NewInternalError(op, fmt.Errorf("invalid schema response: %w", err))
	}

	branchCache := make(map[string]*schema.NodeSchema, len(root.Nodes)+len(root.Generics))
	for i := range root.Nodes {
		sch := &root.Nodes[i]
		branchCache[sch.Kind()] = sch
	}
	for i := range root.Generics {
		sch := &root.Generics[i]
		sch.Generic = true
		branchCache[sch.Kind()] = sch
	}

	m.mu.Lock()
	m.cache[branch] = branchCache
	m.mu.Unlock()

	m.client.logger.Debug("fetched schema",
		"branch", branch,
		"kinds", len(branchCache))

	return branchCache, nil
}
