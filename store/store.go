package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"sync"
)

// Common errors returned by store operations.
var (
	// ErrNotFound is returned when no node matches the requested key.
	ErrNotFound = errors.New("store: node not found")

	// ErrInvalidNode is returned when a node cannot be indexed, typically
	// because it has no id yet.
	ErrInvalidNode = errors.New("store: node has no id")
)

// Node is the subset of node behavior a store needs to index an object.
type Node interface {
	// ID returns the node id.
	ID() string

	// Kind returns the node kind, e.g. "TestPerson".
	Kind() string

	// HFIDKey returns the human friendly id joined into a single key, or
	// an empty string when the node has none.
	HFIDKey() string
}

// PayloadMarshaler is implemented by nodes that can serialize their field
// values for persistent stores. Stores keeping nodes in process memory
// ignore it.
type PayloadMarshaler interface {
	MarshalPayload() ([]byte, error)
}

// Record is a node reconstructed from a persistent store. It implements
// Node and carries the raw payload written at Set time.
type Record struct {
	NodeID   string          `json:"id"`
	NodeKind string          `json:"kind"`
	HFID     string          `json:"hfid,omitempty"`
	Payload  json.RawMessage `json:"payload,omitempty"`
}

// ID returns the node id.
func (r *Record) ID() string { return r.NodeID }

// Kind returns the node kind.
func (r *Record) Kind() string { return r.NodeKind }

// HFIDKey returns the human friendly id key.
func (r *Record) HFIDKey() string { return r.HFID }

// Store indexes nodes by id, kind, and human friendly id.
//
// Get and Delete accept either a node id or a human friendly id as key;
// human friendly id lookups require a kind. An empty kind restricts lookups
// to ids.
type Store interface {
	// Set indexes the node, replacing any previous node with the same id.
	// Returns ErrInvalidNode if the node has no id.
	Set(ctx context.Context, node Node) error

	// Get returns the node for the given kind and key.
	// Returns ErrNotFound if no node matches.
	Get(ctx context.Context, kind, key string) (Node, error)

	// All returns the nodes of the given kind, ordered by id. An empty
	// kind returns every node in the store.
	All(ctx context.Context, kind string) ([]Node, error)

	// Count returns the number of nodes of the given kind. An empty kind
	// counts every node in the store.
	Count(ctx context.Context, kind string) (int, error)

	// Delete removes the node for the given kind and key.
	// Returns ErrNotFound if no node matches.
	Delete(ctx context.Context, kind, key string) error

	// Clear removes all nodes from the store.
	Clear(ctx context.Context) error
}

// MemoryStore is an in-process Store holding live node objects.
// The zero value is not usable; use NewMemoryStore.
type MemoryStore struct {
	mu     sync.RWMutex
	byID   map[string]Node
	byKind map[string]map[string]Node
	byHFID map[string]Node
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		byID:   make(map[string]Node),
		byKind: make(map[string]map[string]Node),
		byHFID: make(map[string]Node),
	}
}

// Set indexes the node, replacing any previous node with the same id.
func (s *MemoryStore) Set(_ context.Context, node Node) error {
	if node == nil || node.ID() == "" {
		return ErrInvalidNode
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	id := node.ID()
	kind := node.Kind()

	// Drop the stale kind index entry when a node changes kind.
	if prev, ok := s.byID[id]; ok && prev.Kind() != kind {
		delete(s.byKind[prev.Kind()], id)
	}

	s.byID[id] = node
	if s.byKind[kind] == nil {
		s.byKind[kind] = make(map[string]Node)
	}
	s.byKind[kind][id] = node

	if hfid := node.HFIDKey(); hfid != "" {
		s.byHFID[hfidKey(kind, hfid)] = node
	}

	return nil
}

// Get returns the node for the given kind and key, where key is a node id
// or a human friendly id.
func (s *MemoryStore) Get(_ context.Context, kind, key string) (Node, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if kind == "" {
		if node, ok := s.byID[key]; ok {
			return node, nil
		}
		return nil, fmt.Errorf("%w: %q", ErrNotFound, key)
	}

	if node, ok := s.byKind[kind][key]; ok {
		return node, nil
	}
	if node, ok := s.byHFID[hfidKey(kind, key)]; ok {
		return node, nil
	}

	return nil, fmt.Errorf("%w: %s %q", ErrNotFound, kind, key)
}

// All returns the nodes of the given kind, ordered by id.
func (s *MemoryStore) All(_ context.Context, kind string) ([]Node, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var nodes []Node
	if kind == "" {
		for _, node := range s.byID {
			nodes = append(nodes, node)
		}
	} else {
		for _, node := range s.byKind[kind] {
			nodes = append(nodes, node)
		}
	}

	sort.Slice(nodes, func(i, j int) bool { return nodes[i].ID() < nodes[j].ID() })
	return nodes, nil
}

// Count returns the number of nodes of the given kind.
func (s *MemoryStore) Count(_ context.Context, kind string) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if kind == "" {
		return len(s.byID), nil
	}
	return len(s.byKind[kind]), nil
}

// Delete removes the node for the given kind and key.
func (s *MemoryStore) Delete(ctx context.Context, kind, key string) error {
	node, err := s.Get(ctx, kind, key)
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	delete(s.byID, node.ID())
	delete(s.byKind[node.Kind()], node.ID())
	if hfid := node.HFIDKey(); hfid != "" {
		delete(s.byHFID, hfidKey(node.Kind(), hfid))
	}

	return nil
}

// Clear removes all nodes from the store.
func (s *MemoryStore) Clear(_ context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.byID = make(map[string]Node)
	s.byKind = make(map[string]map[string]Node)
	s.byHFID = make(map[string]Node)

	return nil
}

// hfidKey builds the lookup key for a human friendly id within a kind.
func hfidKey(kind, hfid string) string {
	return kind + "__" + hfid
}
