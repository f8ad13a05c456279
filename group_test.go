package infrahub

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"regexp"
	"strings"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var mutationIDPattern = regexp.MustCompile(`\bid: "([^"]+)"`)

// groupBackend acknowledges mutations and serves a fixed membership for
// CoreStandardGroup queries. Mutations that carry an id echo it back, the
// rest get a generated one.
type groupBackend struct {
	queryLog
	ids      atomic.Int32
	previous []map[string]any
}

func (b *groupBackend) handle(w http.ResponseWriter, r *http.Request) {
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
		id := ""
		if m := mutationIDPattern.FindStringSubmatch(payload.Query); m != nil {
			id = m[1]
		}
		if id == "" {
			id = fmt.Sprintf("obj-%d", b.ids.Add(1))
		}
		_ = json.NewEncoder(w).Encode(map[string]any{
			"data": map[string]any{name: map[string]any{
				"ok":     true,
				"object": map[string]any{"id": id},
			}},
		})
		return
	}

	memberEdges := make([]map[string]any, 0, len(b.previous))
	for _, member := range b.previous {
		memberEdges = append(memberEdges, map[string]any{"node": member})
	}
	_ = json.NewEncoder(w).Encode(map[string]any{
		"data": map[string]any{"CoreStandardGroup": map[string]any{
			"edges": []map[string]any{{
				"node": map[string]any{
					"id":      "grp-1",
					"members": map[string]any{"edges": memberEdges},
				},
			}},
		}},
	})
}

func TestGroupTracking(t *testing.T) {
	ctx := context.Background()
	backend := &groupBackend{}
	client := newGraphClient(t, backend.handle)

	group := client.StartTracking("deploy", nil, false)

	var saved []*Node
	for i := 1; i <= 2; i++ {
		node, err := client.Create(ctx, "TestingWidget", map[string]any{
			"name": fmt.Sprintf("widget-%03d", i),
		})
		require.NoError(t, err)
		require.NoError(t, node.Save(ctx, false))
		saved = append(saved, node)
	}

	// Saving the same node again must not add another member.
	require.NoError(t, saved[0].Save(ctx, false))

	members := group.Members()
	require.Len(t, members, 2)
	assert.Equal(t, "obj-1", members[0].ID)
	assert.Equal(t, "TestingWidget", members[0].Kind)
	assert.Equal(t, "obj-2", members[1].ID)

	require.NoError(t, group.Close(ctx))
	assert.Nil(t, client.trackingContext(), "closing detaches the session")

	queries := backend.recorded()
	require.Len(t, queries, 4)
	closeQuery := queries[3]
	assert.Contains(t, closeQuery, "CoreStandardGroupUpsert(")
	assert.Contains(t, closeQuery, `name: {value: "deploy"}`)
	assert.Contains(t, closeQuery, `members: [{id: "obj-1"}, {id: "obj-2"}]`)
}

func TestGroupCloseEmpty(t *testing.T) {
	backend := &groupBackend{}
	client := newGraphClient(t, backend.handle)

	group := client.StartTracking("", nil, false)
	assert.Equal(t, "go-sdk", group.groupName())
	require.NoError(t, group.Close(context.Background()))
	assert.Empty(t, backend.recorded(), "an empty session writes nothing")
}

func TestGroupIdentifierFallback(t *testing.T) {
	client := newTestClient(t, http.NotFoundHandler(), WithAPIToken("token"), WithTracker("ctl"))

	group := client.StartTracking("", nil, false)
	assert.Equal(t, "ctl", group.groupName())
}

func TestGroupNameParams(t *testing.T) {
	client := newTestClient(t, http.NotFoundHandler(), WithAPIToken("token"))

	group := client.StartTracking("deploy", map[string]any{"site": "atl1", "role": "leaf"}, false)
	name := group.groupName()
	assert.True(t, strings.HasPrefix(name, "deploy-"))
	assert.Len(t, name, len("deploy-")+8)

	// Parameter order must not matter.
	again := client.StartTracking("deploy", map[string]any{"role": "leaf", "site": "atl1"}, false)
	assert.Equal(t, name, again.groupName())

	other := client.StartTracking("deploy", map[string]any{"site": "dfw2", "role": "leaf"}, false)
	assert.NotEqual(t, name, other.groupName())
}

func TestGroupDeleteUnused(t *testing.T) {
	ctx := context.Background()
	backend := &groupBackend{previous: []map[string]any{
		{"id": "obj-1", "__typename": "TestingWidget"},
		{"id": "stale-1", "__typename": "TestingWidget"},
		{"id": "stale-2", "__typename": "TestingSite"},
	}}
	client := newGraphClient(t, backend.handle)

	group := client.StartTracking("deploy", nil, true)

	node, err := client.Create(ctx, "TestingWidget", map[string]any{"name": "widget-001"})
	require.NoError(t, err)
	require.NoError(t, node.Save(ctx, false))

	require.NoError(t, group.Close(ctx))

	queries := backend.recorded()
	require.Len(t, queries, 5)
	assert.Contains(t, queries[1], "CoreStandardGroup(")
	assert.Contains(t, queries[1], `name__value: "deploy"`)
	assert.Contains(t, queries[2], "CoreStandardGroupUpsert(")

	assert.Contains(t, queries[3], "TestingWidgetDelete(")
	assert.Contains(t, queries[3], `id: "stale-1"`)
	assert.Contains(t, queries[4], "TestingSiteDelete(")
	assert.Contains(t, queries[4], `id: "stale-2"`)
	for _, q := range queries[3:] {
		assert.NotContains(t, q, `"obj-1"`, "current members are kept")
	}
}
