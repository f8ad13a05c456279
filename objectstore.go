package infrahub

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
)

// UploadResponse identifies an object stored through the object store.
type UploadResponse struct {
	Identifier string `json:"identifier"`
	Checksum   string `json:"checksum"`
}

// ObjectStore exposes the server's file storage endpoints. Obtain one from
// Client.ObjectStore.
type ObjectStore struct {
	client *Client
}

// ObjectStore returns the object store accessor for this client.
func (c *Client) ObjectStore() *ObjectStore {
	return &ObjectStore{client: c}
}

// Get returns the content of a stored object by identifier.
func (s *ObjectStore) Get(ctx context.Context, identifier string) (string, error) {
	endpoint := fmt.Sprintf("%s/api/storage/object/%s", s.client.config.Address, url.PathEscape(identifier))
	body, err := s.client.restGet(ctx, endpoint, 0)
	if err != nil {
		return "", err
	}
	return string(body), nil
}

// Upload stores content and returns its identifier and checksum.
func (s *ObjectStore) Upload(ctx context.Context, content string) (*UploadResponse, error) {
	const op = "ObjectStore.Upload"

	endpoint := s.client.config.Address + "/api/storage/upload/content"
	body, err := s.client.restPost(ctx, endpoint, map[string]string{"content": content}, 0)
	if err != nil {
		return nil, err
	}

	var resp UploadResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, NewInternalError(op, err)
	}
	return &resp, nil
}
