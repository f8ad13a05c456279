package infrahub

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const (
	testPoolID      = "3f1d2c4b-9a8e-4d7c-b6a5-0e1f2a3b4c5d"
	testAllocatedID = "8d0f64f0-3c5e-4f3a-9e0a-1b2c3d4e5f60"
)

// poolBackend serves the pool node, answers pool allocation mutations, and
// serves the allocated node for the follow-up fetch.
type poolBackend struct {
	queryLog
}

func (b *poolBackend) handle(w http.ResponseWriter, r *http.Request) {
	var payload struct {
		Query string `json:"query"`
	}
	_ = json.NewDecoder(r.Body).Decode(&payload)
	b.record(payload.Query)

	w.Header().Set("Content-Type", "application/json")

	writeNode := func(id, name string) {
		_ = json.NewEncoder(w).Encode(map[string]any{
			"data": map[string]any{"TestingWidget": map[string]any{
				"count": 1,
				"edges": []map[string]any{{
					"node": map[string]any{
						"id":            id,
						"display_label": name,
						"__typename":    "TestingWidget",
						"name":          map[string]any{"value": name},
					},
				}},
			}},
		})
	}

	switch {
	case strings.Contains(payload.Query, "PoolGetResource("):
		name := ""
		if m := mutationNamePattern.FindStringSubmatch(payload.Query); m != nil {
			name = m[1]
		}
		_ = json.NewEncoder(w).Encode(map[string]any{
			"data": map[string]any{name: map[string]any{
				"ok": true,
				"node": map[string]any{
					"id":            testAllocatedID,
					"kind":          "TestingWidget",
					"identifier":    "server-a",
					"display_label": "10.0.0.1/32",
				},
			}},
		})
	case strings.Contains(payload.Query, testAllocatedID):
		writeNode(testAllocatedID, "10.0.0.1/32")
	default:
		writeNode(testPoolID, "ip-pool")
	}
}

func TestAllocateNextIPAddress(t *testing.T) {
	ctx := context.Background()
	backend := &poolBackend{}
	client := newGraphClient(t, backend.handle)

	pool, err := client.Get(ctx, "TestingWidget", GetParams{ID: testPoolID})
	require.NoError(t, err)
	require.Equal(t, testPoolID, pool.ID())

	node, err := client.AllocateNextIPAddress(ctx, pool, PoolAllocationParams{Identifier: "server-a"})
	require.NoError(t, err)
	assert.Equal(t, testAllocatedID, node.ID())
	assert.Equal(t, "TestingWidget", node.Kind())

	queries := backend.recorded()
	require.Len(t, queries, 3)
	assert.Contains(t, queries[1], "IPAddressPoolGetResource(")
	assert.Contains(t, queries[1], fmt.Sprintf("id: %q", testPoolID))
	assert.Contains(t, queries[1], `identifier: "server-a"`)
	assert.NotContains(t, queries[1], "prefix_length")

	// The allocation response only names the resource; the node comes from a
	// full fetch.
	assert.Contains(t, queries[2], fmt.Sprintf("ids: [%q]", testAllocatedID))
}

func TestAllocateNextIPPrefix(t *testing.T) {
	ctx := context.Background()
	backend := &poolBackend{}
	client := newGraphClient(t, backend.handle)

	pool, err := client.Get(ctx, "TestingWidget", GetParams{ID: testPoolID})
	require.NoError(t, err)

	node, err := client.AllocateNextIPPrefix(ctx, pool, PoolAllocationParams{
		PrefixLength: 56,
		PrefixType:   "IpamIPPrefix",
	})
	require.NoError(t, err)
	assert.Equal(t, testAllocatedID, node.ID())

	queries := backend.recorded()
	require.Len(t, queries, 3)
	assert.Contains(t, queries[1], "IPPrefixPoolGetResource(")
	assert.Contains(t, queries[1], "prefix_length: 56")
	assert.Contains(t, queries[1], `prefix_type: "IpamIPPrefix"`)
}

func TestAllocateRequiresPool(t *testing.T) {
	backend := &poolBackend{}
	client := newGraphClient(t, backend.handle)

	_, err := client.AllocateNextIPAddress(context.Background(), nil, PoolAllocationParams{})
	require.Error(t, err)

	var clientErr *Error
	require.True(t, errors.As(err, &clientErr))
	assert.Equal(t, KindValidation, clientErr.Kind)
	assert.Empty(t, backend.recorded())
}
