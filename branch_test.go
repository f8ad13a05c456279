package infrahub

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// branchBackend serves a fixed branch list for queries and acknowledges
// branch mutations, echoing the first fixture branch as the created object.
type branchBackend struct {
	queryLog
	branches []map[string]any
}

func (b *branchBackend) handle(w http.ResponseWriter, r *http.Request) {
	var payload struct {
		Query string `json:"query"`
	}
	_ = json.NewDecoder(r.Body).Decode(&payload)
	b.record(payload.Query)

	w.Header().Set("Content-Type", "application/json")

	if strings.HasPrefix(payload.Query, "mutation") {
		name := ""
		if m := mutationNamePattern.FindStringSubmatch(payload.Query); m != nil {
			name = m[1]
		}
		var object map[string]any
		if len(b.branches) > 0 {
			object = b.branches[0]
		}
		_ = json.NewEncoder(w).Encode(map[string]any{
			"data": map[string]any{name: map[string]any{"ok": true, "object": object}},
		})
		return
	}

	branches := b.branches
	if branches == nil {
		branches = []map[string]any{}
	}
	_ = json.NewEncoder(w).Encode(map[string]any{
		"data": map[string]any{"Branch": branches},
	})
}

func branchFixture(name string, isDefault bool) map[string]any {
	return map[string]any{
		"id":                 "b-" + name,
		"name":               name,
		"description":        "test branch",
		"origin_branch":      "main",
		"branched_from":      "2024-01-15T10:00:00Z",
		"sync_with_git":      true,
		"is_default":         isDefault,
		"has_schema_changes": false,
	}
}

func TestBranches(t *testing.T) {
	ctx := context.Background()

	t.Run("all", func(t *testing.T) {
		backend := &branchBackend{branches: []map[string]any{
			branchFixture("main", true),
			branchFixture("feature-1", false),
		}}
		client := newGraphClient(t, backend.handle)

		branches, err := client.Branches().All(ctx)
		require.NoError(t, err)
		require.Len(t, branches, 2)
		assert.Equal(t, "main", branches[0].Name)
		assert.True(t, branches[0].IsDefault)
		assert.Equal(t, "feature-1", branches[1].Name)
		assert.True(t, branches[1].SyncWithGit)
		assert.False(t, branches[1].IsDefault)
	})

	t.Run("get", func(t *testing.T) {
		backend := &branchBackend{branches: []map[string]any{branchFixture("feature-1", false)}}
		client := newGraphClient(t, backend.handle)

		branch, err := client.Branches().Get(ctx, "feature-1")
		require.NoError(t, err)
		assert.Equal(t, "feature-1", branch.Name)
		assert.Equal(t, "b-feature-1", branch.ID)

		queries := backend.recorded()
		require.Len(t, queries, 1)
		assert.Contains(t, queries[0], `Branch(name: "feature-1")`)
	})

	t.Run("get missing", func(t *testing.T) {
		backend := &branchBackend{}
		client := newGraphClient(t, backend.handle)

		_, err := client.Branches().Get(ctx, "nope")
		require.Error(t, err)
		assert.True(t, errors.Is(err, ErrBranchNotFound))
	})

	t.Run("create", func(t *testing.T) {
		backend := &branchBackend{branches: []map[string]any{branchFixture("feature-2", false)}}
		client := newGraphClient(t, backend.handle)

		branch, err := client.Branches().Create(ctx, BranchCreateParams{
			Name:                "feature-2",
			Description:         "test branch",
			SyncWithGit:         true,
			BackgroundExecution: true,
		})
		require.NoError(t, err)
		assert.Equal(t, "feature-2", branch.Name)

		queries := backend.recorded()
		require.Len(t, queries, 1)
		assert.Contains(t, queries[0], "BranchCreate(")
		assert.Contains(t, queries[0], "background_execution: true")
		assert.Contains(t, queries[0], `name: "feature-2"`)
		assert.Contains(t, queries[0], "sync_with_git: true")
	})

	t.Run("create requires a name", func(t *testing.T) {
		backend := &branchBackend{}
		client := newGraphClient(t, backend.handle)

		_, err := client.Branches().Create(ctx, BranchCreateParams{})
		require.Error(t, err)

		var clientErr *Error
		require.True(t, errors.As(err, &clientErr))
		assert.Equal(t, KindValidation, clientErr.Kind)
		assert.Empty(t, backend.recorded())
	})

	t.Run("lifecycle mutations", func(t *testing.T) {
		backend := &branchBackend{}
		client := newGraphClient(t, backend.handle)

		require.NoError(t, client.Branches().Delete(ctx, "feature-1"))
		require.NoError(t, client.Branches().Rebase(ctx, "feature-1"))
		require.NoError(t, client.Branches().Merge(ctx, "feature-1"))
		require.NoError(t, client.Branches().Validate(ctx, "feature-1"))

		queries := backend.recorded()
		require.Len(t, queries, 4)
		assert.Contains(t, queries[0], "BranchDelete(")
		assert.Contains(t, queries[1], "BranchRebase(")
		assert.Contains(t, queries[2], "BranchMerge(")
		assert.Contains(t, queries[3], "BranchValidate(")
		for _, q := range queries {
			assert.Contains(t, q, `name: "feature-1"`)
		}
	})
}
