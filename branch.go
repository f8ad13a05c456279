package infrahub

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/opsmill/infrahub-sdk-go/query"
)

// Branch is one branch of the graph.
type Branch struct {
	ID               string `json:"id"`
	Name             string `json:"name"`
	Description      string `json:"description,omitempty"`
	OriginBranch     string `json:"origin_branch,omitempty"`
	BranchedFrom     string `json:"branched_from,omitempty"`
	SyncWithGit      bool   `json:"sync_with_git"`
	IsDefault        bool   `json:"is_default"`
	HasSchemaChanges bool   `json:"has_schema_changes"`
}

// BranchCreateParams describes a branch to create.
type BranchCreateParams struct {
	Name        string
	Description string

	// SyncWithGit also replicates the branch to the git repositories
	// connected to the server.
	SyncWithGit bool

	// BackgroundExecution returns as soon as the server has accepted the
	// request instead of waiting for the branch to be usable.
	BackgroundExecution bool
}

// BranchManager exposes branch-level operations. Obtain one from
// Client.Branches.
type BranchManager struct {
	client *Client
}

// Branches returns the branch manager for this client.
func (c *Client) Branches() *BranchManager {
	return &BranchManager{client: c}
}

func branchSelection() []query.Field {
	return []query.Field{
		query.Leaf("id"),
		query.Leaf("name"),
		query.Leaf("description"),
		query.Leaf("origin_branch"),
		query.Leaf("branched_from"),
		query.Leaf("sync_with_git"),
		query.Leaf("is_default"),
		query.Leaf("has_schema_changes"),
	}
}

// All returns every branch known to the server.
func (m *BranchManager) All(ctx context.Context) ([]Branch, error) {
	const op = "BranchManager.All"

	q := query.Query{
		Fields: []query.Field{{Name: "Branch", Fields: branchSelection()}},
	}
	data, err := m.client.ExecuteGraphQL(ctx, q.Render(), nil, &RequestOptions{Tracker: "query-branch-all"})
	if err != nil {
		return nil, err
	}
	return decodeBranches(op, data)
}

// Get returns the branch with the given name, or ErrBranchNotFound.
func (m *BranchManager) Get(ctx context.Context, name string) (*Branch, error) {
	const op = "BranchManager.Get"

	q := query.Query{
		Fields: []query.Field{{
			Name:   "Branch",
			Args:   map[string]any{"name": name},
			Fields: branchSelection(),
		}},
	}
	data, err := m.client.ExecuteGraphQL(ctx, q.Render(), nil, &RequestOptions{Tracker: "query-branch"})
	if err != nil {
		return nil, err
	}

	branches, err := decodeBranches(op, data)
	if err != nil {
		return nil, err
	}
	if len(branches) == 0 {
		return nil, NewNotFoundError(op, fmt.Errorf("%w: %s", ErrBranchNotFound, name))
	}
	return &branches[0], nil
}

// Create creates a branch and returns it.
func (m *BranchManager) Create(ctx context.Context, params BranchCreateParams) (*Branch, error) {
	const op = "BranchManager.Create"

	if params.Name == "" {
		return nil, NewValidationError(op, errors.New("branch name is required"))
	}

	mut := query.Mutation{
		Mutation: "BranchCreate",
		Input: map[string]any{
			"background_execution": params.BackgroundExecution,
			"data": map[string]any{
				"name":          params.Name,
				"description":   params.Description,
				"sync_with_git": params.SyncWithGit,
			},
		},
		Fields: []query.Field{
			query.Leaf("ok"),
			{Name: "object", Fields: branchSelection()},
		},
	}
	data, err := m.client.ExecuteGraphQL(ctx, mut.Render(), nil, &RequestOptions{Tracker: "mutation-branch-create"})
	if err != nil {
		return nil, err
	}
	return decodeBranchObject(op, data, "BranchCreate")
}

// Delete deletes the branch with the given name.
func (m *BranchManager) Delete(ctx context.Context, name string) error {
	return m.run(ctx, "BranchDelete", name)
}

// Rebase rebases the branch onto the current state of the default branch.
func (m *BranchManager) Rebase(ctx context.Context, name string) error {
	return m.run(ctx, "BranchRebase", name)
}

// Merge merges the branch into the default branch.
func (m *BranchManager) Merge(ctx context.Context, name string) error {
	return m.run(ctx, "BranchMerge", name)
}

// Validate asks the server to check whether the branch can be merged
// without conflicts.
func (m *BranchManager) Validate(ctx context.Context, name string) error {
	return m.run(ctx, "BranchValidate", name)
}

func (m *BranchManager) run(ctx context.Context, mutation, name string) error {
	mut := query.Mutation{
		Mutation: mutation,
		Input:    map[string]any{"data": map[string]any{"name": name}},
		Fields:   []query.Field{query.Leaf("ok")},
	}

	tracker := "mutation-branch-" + strings.ToLower(strings.TrimPrefix(mutation, "Branch"))
	_, err := m.client.ExecuteGraphQL(ctx, mut.Render(), nil, &RequestOptions{Tracker: tracker})
	return err
}

func decodeBranches(op string, data map[string]any) ([]Branch, error) {
	raw, ok := data["Branch"]
	if !ok {
		return nil, NewInternalError(op, errors.New("response has no Branch object"))
	}
	encoded, err := json.Marshal(raw)
	if err != nil {
		return nil, NewInternalError(op, err)
	}
	var branches []Branch
	if err := json.Unmarshal(encoded, &branches); err != nil {
		return nil, NewInternalError(op, err)
	}
	return branches, nil
}

func decodeBranchObject(op string, data map[string]any, mutation string) (*Branch, error) {
	payload, ok := data[mutation].(map[string]any)
	if !ok {
		return nil, NewInternalError(op, fmt.Errorf("response has no %s object", mutation))
	}
	encoded, err := json.Marshal(payload["object"])
	if err != nil {
		return nil, NewInternalError(op, err)
	}
	var branch Branch
	if err := json.Unmarshal(encoded, &branch); err != nil {
		return nil, NewInternalError(op, err)
	}
	return &branch, nil
}
