package objectfile

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"regexp"
	"sync"
	"testing"

	infrahub "github.com/opsmill/infrahub-sdk-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const loaderSchema = `{
    "nodes": [
        {
            "name": "Rack",
            "namespace": "Testing",
            "default_filter": "name__value",
            "attributes": [
                {"name": "name", "kind": "Text", "optional": false},
                {"name": "height", "kind": "Number", "optional": true}
            ],
            "relationships": [
                {"name": "devices", "peer": "TestingDevice", "cardinality": "many", "optional": true, "identifier": "rack__device"},
                {"name": "site", "peer": "TestingSite", "cardinality": "one", "optional": true, "identifier": "site__rack"}
            ]
        },
        {
            "name": "Device",
            "namespace": "Testing",
            "attributes": [
                {"name": "name", "kind": "Text", "optional": false}
            ],
            "relationships": [
                {"name": "rack", "peer": "TestingRack", "cardinality": "one", "optional": false, "identifier": "rack__device"}
            ]
        },
        {
            "name": "Site",
            "namespace": "Testing",
            "attributes": [
                {"name": "name", "kind": "Text", "optional": false}
            ]
        },
        {
            "name": "MenuItem",
            "namespace": "Core",
            "attributes": [
                {"name": "name", "kind": "Text", "optional": false},
                {"name": "label", "kind": "Text", "optional": true},
                {"name": "path", "kind": "Text", "optional": true},
                {"name": "order_weight", "kind": "Number", "optional": true}
            ],
            "relationships": [
                {"name": "parent", "peer": "CoreMenuItem", "cardinality": "one", "optional": true, "identifier": "menuitem__child"},
                {"name": "children", "peer": "CoreMenuItem", "cardinality": "many", "optional": true, "identifier": "menuitem__child"}
            ]
        }
    ]
}`

var mutationNameRe = regexp.MustCompile(`(?m)^ {4}(\w+)\(`)

// graphqlLog records every GraphQL call the server receives and hands out
// sequential object ids.
type graphqlLog struct {
	mu      sync.Mutex
	queries []string
	names   []string
}

func (l *graphqlLog) record(query string) (id, name string) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if m := mutationNameRe.FindStringSubmatch(query); m != nil {
		name = m[1]
	}
	l.queries = append(l.queries, query)
	l.names = append(l.names, name)
	return fmt.Sprintf("obj-%d", len(l.queries)), name
}

func (l *graphqlLog) mutationNames() []string {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]string(nil), l.names...)
}

func (l *graphqlLog) query(i int) string {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.queries[i]
}

func (l *graphqlLog) count() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.queries)
}

func setupLoaderTest(t *testing.T) (*Loader, *graphqlLog) {
	t.Helper()

	log := &graphqlLog{}

	mux := http.NewServeMux()
	mux.HandleFunc("/api/schema", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(loaderSchema))
	})
	mux.HandleFunc("/graphql/main", func(w http.ResponseWriter, r *http.Request) {
		var payload struct {
			Query string `json:"query"`
		}
		require.NoError(t, json.NewDecoder(r.Body).Decode(&payload))

		id, name := log.record(payload.Query)

		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]any{
			"data": map[string]any{
				name: map[string]any{
					"ok":     true,
					"object": map[string]any{"id": id},
				},
			},
		})
	})

	server := httptest.NewServer(mux)
	t.Cleanup(server.Close)

	client, err := infrahub.NewClient(
		infrahub.WithAddress(server.URL),
		infrahub.WithAPIToken("test-token"),
	)
	require.NoError(t, err)

	return NewLoader(client), log
}

func writeFile(t *testing.T, dir, name, content string) {
	t.Helper()
	require.NoError(t, os.WriteFile(filepath.Join(dir, name), []byte(content), 0o600))
}

func TestLoaderApply(t *testing.T) {
	loader, log := setupLoaderTest(t)

	file := &File{
		APIVersion: APIVersion,
		Kind:       KindObject,
		Spec: Spec{
			Kind: "TestingRack",
			Data: []map[string]any{{
				"name":   "rack-01",
				"height": 42,
				"devices": map[string]any{
					"data": []any{
						map[string]any{"name": "dev-01"},
						map[string]any{"name": "dev-02"},
						map[string]any{"name": "dev-03"},
					},
				},
			}},
		},
	}

	nodes, err := loader.Apply(context.Background(), file)
	require.NoError(t, err)
	require.Len(t, nodes, 4)

	assert.Equal(t, "TestingRack", nodes[0].Kind())
	assert.Equal(t, "obj-1", nodes[0].ID())

	require.Equal(t, []string{
		"TestingRackUpsert",
		"TestingDeviceUpsert",
		"TestingDeviceUpsert",
		"TestingDeviceUpsert",
	}, log.mutationNames())

	// Every child points back at the rack it was nested under.
	for i := 1; i <= 3; i++ {
		assert.Contains(t, log.query(i), `rack: {id: "obj-1"}`)
	}
	assert.Contains(t, log.query(1), `name: {value: "dev-01"}`)
}

func TestLoaderApplyMissingMandatory(t *testing.T) {
	loader, log := setupLoaderTest(t)

	file := &File{
		APIVersion: APIVersion,
		Kind:       KindObject,
		Spec: Spec{
			Kind: "TestingRack",
			Data: []map[string]any{{"height": 42}},
		},
	}

	_, err := loader.Apply(context.Background(), file)
	require.Error(t, err)

	var verr *infrahub.Error
	require.ErrorAs(t, err, &verr)
	assert.Equal(t, infrahub.KindValidation, verr.Kind)
	assert.Contains(t, err.Error(), "name")

	assert.Zero(t, log.count(), "no create may be attempted for an invalid record")
}

func TestLoaderApplyShapeMismatch(t *testing.T) {
	t.Run("many relationship given an object", func(t *testing.T) {
		loader, log := setupLoaderTest(t)

		file := &File{
			APIVersion: APIVersion,
			Kind:       KindObject,
			Spec: Spec{
				Kind: "TestingRack",
				Data: []map[string]any{{
					"name":    "rack-01",
					"devices": map[string]any{"name": "dev-01"},
				}},
			},
		}

		_, err := loader.Apply(context.Background(), file)
		require.Error(t, err)

		var verr *infrahub.Error
		require.ErrorAs(t, err, &verr)
		assert.Equal(t, infrahub.KindValidation, verr.Kind)
		assert.Zero(t, log.count())
	})

	t.Run("nested many given a single object", func(t *testing.T) {
		loader, log := setupLoaderTest(t)

		file := &File{
			APIVersion: APIVersion,
			Kind:       KindObject,
			Spec: Spec{
				Kind: "TestingRack",
				Data: []map[string]any{{
					"name": "rack-01",
					"devices": map[string]any{
						"data": map[string]any{"name": "dev-01"},
					},
				}},
			},
		}

		nodes, err := loader.Apply(context.Background(), file)
		require.Error(t, err)

		// The parent was already created when the shape error surfaced.
		assert.Len(t, nodes, 1)
		assert.Equal(t, 1, log.count())
	})

	t.Run("missing reverse identifier", func(t *testing.T) {
		loader, log := setupLoaderTest(t)

		file := &File{
			APIVersion: APIVersion,
			Kind:       KindObject,
			Spec: Spec{
				Kind: "TestingRack",
				Data: []map[string]any{{
					"name": "rack-01",
					"site": map[string]any{
						"data": map[string]any{"name": "atl"},
					},
				}},
			},
		}

		_, err := loader.Apply(context.Background(), file)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "site__rack")
		assert.Equal(t, 1, log.count())
	})
}

func TestLoaderApplyScalarReferences(t *testing.T) {
	loader, log := setupLoaderTest(t)

	file := &File{
		APIVersion: APIVersion,
		Kind:       KindObject,
		Spec: Spec{
			Kind: "TestingRack",
			Data: []map[string]any{{
				"name":    "rack-01",
				"site":    "site-id-1",
				"devices": "dev-id-9",
			}},
		},
	}

	nodes, err := loader.Apply(context.Background(), file)
	require.NoError(t, err)
	require.Len(t, nodes, 1)
	require.Equal(t, 1, log.count())

	q := log.query(0)
	assert.Contains(t, q, `site: {id: "site-id-1"}`)
	assert.Contains(t, q, `devices: [{id: "dev-id-9"}]`)
}

func TestLoaderApplyMenu(t *testing.T) {
	loader, log := setupLoaderTest(t)

	file := &File{
		APIVersion: APIVersion,
		Kind:       KindMenu,
		Spec: Spec{
			Kind: "CoreMenuItem",
			Data: []map[string]any{{
				"name": "objects",
				"children": map[string]any{
					"data": []any{
						map[string]any{"name": "tags", "kind": "BuiltinTag"},
						map[string]any{"name": "sites", "path": "/objects/TestingSite"},
					},
				},
			}},
		},
	}

	nodes, err := loader.Apply(context.Background(), file)
	require.NoError(t, err)
	require.Len(t, nodes, 3)

	require.Equal(t, []string{
		"CoreMenuItemUpsert",
		"CoreMenuItemUpsert",
		"CoreMenuItemUpsert",
	}, log.mutationNames())

	assert.Contains(t, log.query(0), `order_weight: {value: 1000}`)

	first := log.query(1)
	assert.Contains(t, first, `order_weight: {value: 1000}`)
	assert.Contains(t, first, `path: {value: "/objects/BuiltinTag"}`)
	assert.Contains(t, first, `parent: {id: "obj-1"}`)

	second := log.query(2)
	assert.Contains(t, second, `order_weight: {value: 2000}`)
	assert.Contains(t, second, `path: {value: "/objects/TestingSite"}`)
}
