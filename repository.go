package infrahub

import (
	"context"
	"errors"

	"github.com/opsmill/infrahub-sdk-go/query"
)

// RepositoryUpdateCommit records the current commit of a git repository
// node. The commit value is written protected, with the repository itself
// as its source, so only the repository sync can change it again.
func (c *Client) RepositoryUpdateCommit(ctx context.Context, branch, repositoryID, commit string, readOnly bool) error {
	const op = "Client.RepositoryUpdateCommit"

	if repositoryID == "" || commit == "" {
		return NewValidationError(op, errors.New("repository id and commit are required"))
	}

	mutation := "CoreRepositoryUpdate"
	if readOnly {
		mutation = "CoreReadOnlyRepositoryUpdate"
	}

	mut := query.Mutation{
		Name:      "CommitUpdate",
		Variables: map[string]string{"repository_id": "String!", "commit": "String!"},
		Mutation:  mutation,
		Input: map[string]any{
			"data": map[string]any{
				"id": query.Raw("$repository_id"),
				"commit": map[string]any{
					"is_protected": true,
					"source":       query.Raw("$repository_id"),
					"value":        query.Raw("$commit"),
				},
			},
		},
		Fields: []query.Field{
			query.Leaf("ok"),
			{Name: "object", Fields: []query.Field{
				{Name: "commit", Fields: []query.Field{query.Leaf("value")}},
			}},
		},
	}

	_, err := c.ExecuteGraphQL(ctx, mut.Render(), map[string]any{
		"repository_id": repositoryID,
		"commit":        commit,
	}, &RequestOptions{Branch: branch, Tracker: "mutation-repository-update-commit"})
	return err
}
