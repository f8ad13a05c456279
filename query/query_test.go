package query

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestQueryRender(t *testing.T) {
	q := Query{
		Fields: []Field{
			{
				Name: "TestPerson",
				Args: map[string]any{
					"name__value": "John",
					"offset":      0,
					"limit":       50,
				},
				Fields: []Field{
					Leaf("count"),
					{
						Name: "edges",
						Fields: []Field{
							{
								Name:   "node",
								Fields: []Field{Leaf("id"), Leaf("display_label")},
							},
						},
					},
				},
			},
		},
	}

	require.NoError(t, q.Validate())

	want := `query {
    TestPerson(limit: 50, name__value: "John", offset: 0) {
        count
        edges {
            node {
                id
                display_label
            }
        }
    }
}`
	assert.Equal(t, want, q.Render())
}

func TestQueryRenderVariables(t *testing.T) {
	q := Query{
		Name: "GetDiffTree",
		Variables: map[string]string{
			"branch_name": "String!",
		},
		Fields: []Field{
			{
				Name: "DiffTree",
				Args: map[string]any{"branch": Raw("$branch_name")},
				Fields: []Field{
					{Name: "nodes", Fields: []Field{Leaf("uuid")}},
				},
			},
		},
	}

	want := `query GetDiffTree($branch_name: String!) {
    DiffTree(branch: $branch_name) {
        nodes {
            uuid
        }
    }
}`
	assert.Equal(t, want, q.Render())
}

func TestQueryRenderFragments(t *testing.T) {
	q := Query{
		Fields: []Field{
			{
				Name: "CoreGroup",
				Fields: []Field{
					{
						Name: "edges",
						Fields: []Field{
							{
								Name:   "node",
								Fields: []Field{Leaf("id")},
								Fragments: []Fragment{
									{
										On: "BuiltinTag",
										Fields: []Field{
											{Name: "name", Fields: []Field{Leaf("value")}},
										},
									},
								},
							},
						},
					},
				},
			},
		},
	}

	want := `query {
    CoreGroup {
        edges {
            node {
                id
                ... on BuiltinTag {
                    name {
                        value
                    }
                }
            }
        }
    }
}`
	assert.Equal(t, want, q.Render())
}

func TestQueryRenderAlias(t *testing.T) {
	q := Query{
		Fields: []Field{
			{
				Name:   "BuiltinTag",
				Alias:  "tags",
				Fields: []Field{Leaf("count")},
			},
		},
	}

	want := `query {
    tags: BuiltinTag {
        count
    }
}`
	assert.Equal(t, want, q.Render())
}

func TestQueryValidate(t *testing.T) {
	q := Query{}
	require.ErrorIs(t, q.Validate(), ErrEmptySelection)
}

func TestMutationRender(t *testing.T) {
	m := Mutation{
		Mutation: "TestPersonCreate",
		Input: map[string]any{
			"data": map[string]any{
				"name": map[string]any{"value": "John"},
			},
		},
		Fields: []Field{
			Leaf("ok"),
			{Name: "object", Fields: []Field{Leaf("id")}},
		},
	}

	require.NoError(t, m.Validate())

	want := `mutation {
    TestPersonCreate(data: {name: {value: "John"}}) {
        ok
        object {
            id
        }
    }
}`
	assert.Equal(t, want, m.Render())
}

func TestMutationValidate(t *testing.T) {
	m := Mutation{Fields: []Field{Leaf("ok")}}
	require.ErrorIs(t, m.Validate(), ErrMissingMutation)

	m = Mutation{Mutation: "TestPersonCreate"}
	require.ErrorIs(t, m.Validate(), ErrEmptySelection)
}

func TestRenderValue(t *testing.T) {
	tests := []struct {
		name  string
		value any
		want  string
	}{
		{name: "string", value: "John", want: `"John"`},
		{name: "string with quotes", value: `say "hi"`, want: `"say \"hi\""`},
		{name: "bool", value: true, want: "true"},
		{name: "int", value: 42, want: "42"},
		{name: "float", value: 3.14, want: "3.14"},
		{name: "nil", value: nil, want: "null"},
		{name: "raw", value: Raw("$branch"), want: "$branch"},
		{name: "string list", value: []string{"a", "b"}, want: `["a", "b"]`},
		{name: "mixed list", value: []any{"a", 1, true}, want: `["a", 1, true]`},
		{
			name:  "nested map",
			value: map[string]any{"b": 1, "a": map[string]any{"value": "x"}},
			want:  `{a: {value: "x"}, b: 1}`,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, renderValue(tt.value))
		})
	}
}
