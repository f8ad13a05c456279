package store

import (
	"context"
	"crypto/tls"
	"encoding/json"
	"fmt"
	"sort"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisOptions configures the Redis connection.
type RedisOptions struct {
	// URL is the Redis connection string (e.g., "redis://localhost:6379")
	URL string

	// TLS configuration for secure connections
	TLS *tls.Config

	// Namespace prefixes every key written by the store. Defaults to
	// "infrahub".
	Namespace string

	// TTL expires stored nodes after the given duration. Zero keeps them
	// until deleted. Kind indexes are not expired; All skips entries whose
	// node has lapsed.
	TTL time.Duration

	// ConnectTimeout is the maximum time to wait for connection establishment
	ConnectTimeout time.Duration

	// ReadTimeout is the maximum time to wait for read operations
	ReadTimeout time.Duration

	// WriteTimeout is the maximum time to wait for write operations
	WriteTimeout time.Duration
}

// RedisStore implements the Store interface on top of go-redis/v9.
//
// Nodes are persisted as Record envelopes; a node implementing
// PayloadMarshaler has its payload stored alongside its identity. Get
// returns *Record values.
type RedisStore struct {
	client *redis.Client
	ns     string
	ttl    time.Duration
}

// NewRedisStore creates a Redis-backed node store with the given options.
func NewRedisStore(opts RedisOptions) (*RedisStore, error) {
	if opts.URL == "" {
		opts.URL = "redis://localhost:6379"
	}

	if opts.Namespace == "" {
		opts.Namespace = "infrahub"
	}

	if opts.ConnectTimeout == 0 {
		opts.ConnectTimeout = 5 * time.Second
	}

	if opts.ReadTimeout == 0 {
		opts.ReadTimeout = 30 * time.Second
	}

	if opts.WriteTimeout == 0 {
		opts.WriteTimeout = 5 * time.Second
	}

	redisOpts, err := redis.ParseURL(opts.URL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse Redis URL: %w", err)
	}

	redisOpts.TLSConfig = opts.TLS
	redisOpts.DialTimeout = opts.ConnectTimeout
	redisOpts.ReadTimeout = opts.ReadTimeout
	redisOpts.WriteTimeout = opts.WriteTimeout

	client := redis.NewClient(redisOpts)

	// Test connection
	ctx, cancel := context.WithTimeout(context.Background(), opts.ConnectTimeout)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}

	return &RedisStore{client: client, ns: opts.Namespace, ttl: opts.TTL}, nil
}

// Set indexes the node, replacing any previous node with the same id.
func (s *RedisStore) Set(ctx context.Context, node Node) error {
	if node == nil || node.ID() == "" {
		return ErrInvalidNode
	}

	rec := Record{
		NodeID:   node.ID(),
		NodeKind: node.Kind(),
		HFID:     node.HFIDKey(),
	}
	if pm, ok := node.(PayloadMarshaler); ok {
		payload, err := pm.MarshalPayload()
		if err != nil {
			return fmt.Errorf("failed to marshal node payload: %w", err)
		}
		rec.Payload = payload
	}

	data, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("failed to marshal node record: %w", err)
	}

	if err := s.client.Set(ctx, s.nodeKey(rec.NodeID), data, s.ttl).Err(); err != nil {
		return fmt.Errorf("failed to store node %s: %w", rec.NodeID, err)
	}
	if err := s.client.SAdd(ctx, s.kindKey(rec.NodeKind), rec.NodeID).Err(); err != nil {
		return fmt.Errorf("failed to index node %s by kind: %w", rec.NodeID, err)
	}
	if err := s.client.SAdd(ctx, s.kindsKey(), rec.NodeKind).Err(); err != nil {
		return fmt.Errorf("failed to register kind %s: %w", rec.NodeKind, err)
	}
	if rec.HFID != "" {
		if err := s.client.Set(ctx, s.hfidIndexKey(rec.NodeKind, rec.HFID), rec.NodeID, s.ttl).Err(); err != nil {
			return fmt.Errorf("failed to index node %s by hfid: %w", rec.NodeID, err)
		}
	}

	return nil
}

// Get returns the node for the given kind and key, where key is a node id
// or a human friendly id.
func (s *RedisStore) Get(ctx context.Context, kind, key string) (Node, error) {
	rec, err := s.fetch(ctx, kind, key)
	if err != nil {
		return nil, err
	}
	return rec, nil
}

// fetch resolves a kind/key pair to its stored Record.
func (s *RedisStore) fetch(ctx context.Context, kind, key string) (*Record, error) {
	data, err := s.client.Get(ctx, s.nodeKey(key)).Result()
	if err == redis.Nil {
		if kind == "" {
			return nil, fmt.Errorf("%w: %q", ErrNotFound, key)
		}

		// Fall back to the human friendly id index.
		id, err := s.client.Get(ctx, s.hfidIndexKey(kind, key)).Result()
		if err == redis.Nil {
			return nil, fmt.Errorf("%w: %s %q", ErrNotFound, kind, key)
		}
		if err != nil {
			return nil, fmt.Errorf("failed to resolve hfid %q: %w", key, err)
		}

		data, err = s.client.Get(ctx, s.nodeKey(id)).Result()
		if err == redis.Nil {
			return nil, fmt.Errorf("%w: %s %q", ErrNotFound, kind, key)
		}
		if err != nil {
			return nil, fmt.Errorf("failed to get node %s: %w", id, err)
		}
	} else if err != nil {
		return nil, fmt.Errorf("failed to get node %q: %w", key, err)
	}

	var rec Record
	if err := json.Unmarshal([]byte(data), &rec); err != nil {
		return nil, fmt.Errorf("failed to unmarshal node record: %w", err)
	}

	if kind != "" && rec.NodeKind != kind {
		return nil, fmt.Errorf("%w: %s %q", ErrNotFound, kind, key)
	}

	return &rec, nil
}

// All returns the nodes of the given kind, ordered by id.
func (s *RedisStore) All(ctx context.Context, kind string) ([]Node, error) {
	kinds := []string{kind}
	if kind == "" {
		members, err := s.client.SMembers(ctx, s.kindsKey()).Result()
		if err != nil {
			return nil, fmt.Errorf("failed to list kinds: %w", err)
		}
		kinds = members
		sort.Strings(kinds)
	}

	var nodes []Node
	for _, k := range kinds {
		ids, err := s.client.SMembers(ctx, s.kindKey(k)).Result()
		if err != nil {
			return nil, fmt.Errorf("failed to list nodes of kind %s: %w", k, err)
		}
		sort.Strings(ids)

		for _, id := range ids {
			data, err := s.client.Get(ctx, s.nodeKey(id)).Result()
			if err == redis.Nil {
				// Stale index entry.
				continue
			}
			if err != nil {
				return nil, fmt.Errorf("failed to get node %s: %w", id, err)
			}

			var rec Record
			if err := json.Unmarshal([]byte(data), &rec); err != nil {
				return nil, fmt.Errorf("failed to unmarshal node record: %w", err)
			}
			nodes = append(nodes, &rec)
		}
	}

	if kind == "" {
		sort.Slice(nodes, func(i, j int) bool { return nodes[i].ID() < nodes[j].ID() })
	}
	return nodes, nil
}

// Count returns the number of nodes of the given kind.
func (s *RedisStore) Count(ctx context.Context, kind string) (int, error) {
	if kind != "" {
		n, err := s.client.SCard(ctx, s.kindKey(kind)).Result()
		if err != nil {
			return 0, fmt.Errorf("failed to count nodes of kind %s: %w", kind, err)
		}
		return int(n), nil
	}

	kinds, err := s.client.SMembers(ctx, s.kindsKey()).Result()
	if err != nil {
		return 0, fmt.Errorf("failed to list kinds: %w", err)
	}

	total := 0
	for _, k := range kinds {
		n, err := s.client.SCard(ctx, s.kindKey(k)).Result()
		if err != nil {
			return 0, fmt.Errorf("failed to count nodes of kind %s: %w", k, err)
		}
		total += int(n)
	}
	return total, nil
}

// Delete removes the node for the given kind and key.
func (s *RedisStore) Delete(ctx context.Context, kind, key string) error {
	rec, err := s.fetch(ctx, kind, key)
	if err != nil {
		return err
	}

	if err := s.client.Del(ctx, s.nodeKey(rec.NodeID)).Err(); err != nil {
		return fmt.Errorf("failed to delete node %s: %w", rec.NodeID, err)
	}
	if err := s.client.SRem(ctx, s.kindKey(rec.NodeKind), rec.NodeID).Err(); err != nil {
		return fmt.Errorf("failed to unindex node %s: %w", rec.NodeID, err)
	}
	if rec.HFID != "" {
		if err := s.client.Del(ctx, s.hfidIndexKey(rec.NodeKind, rec.HFID)).Err(); err != nil {
			return fmt.Errorf("failed to unindex node %s by hfid: %w", rec.NodeID, err)
		}
	}

	return nil
}

// Clear removes all keys written by this store's namespace.
func (s *RedisStore) Clear(ctx context.Context) error {
	iter := s.client.Scan(ctx, 0, s.ns+":*", 0).Iterator()

	var keys []string
	for iter.Next(ctx) {
		keys = append(keys, iter.Val())
	}
	if err := iter.Err(); err != nil {
		return fmt.Errorf("failed to scan store keys: %w", err)
	}

	if len(keys) > 0 {
		if err := s.client.Del(ctx, keys...).Err(); err != nil {
			return fmt.Errorf("failed to delete store keys: %w", err)
		}
	}

	return nil
}

// Close closes the Redis connection.
func (s *RedisStore) Close() error {
	return s.client.Close()
}

func (s *RedisStore) nodeKey(id string) string {
	return fmt.Sprintf("%s:node:%s", s.ns, id)
}

func (s *RedisStore) kindKey(kind string) string {
	return fmt.Sprintf("%s:kind:%s", s.ns, kind)
}

func (s *RedisStore) hfidIndexKey(kind, hfid string) string {
	return fmt.Sprintf("%s:hfid:%s__%s", s.ns, kind, hfid)
}

func (s *RedisStore) kindsKey() string {
	return s.ns + ":kinds"
}
