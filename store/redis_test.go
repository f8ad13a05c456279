package store

import (
	"context"
	"encoding/json"
	"fmt"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// setupTestStore creates a miniredis instance and returns a connected RedisStore.
func setupTestStore(t *testing.T) (*RedisStore, *miniredis.Miniredis) {
	t.Helper()

	mr := miniredis.RunT(t)
	s, err := NewRedisStore(RedisOptions{
		URL:            fmt.Sprintf("redis://%s", mr.Addr()),
		ConnectTimeout: 5 * time.Second,
		ReadTimeout:    5 * time.Second,
		WriteTimeout:   5 * time.Second,
	})
	require.NoError(t, err)

	t.Cleanup(func() {
		_ = s.Close()
		mr.Close()
	})

	return s, mr
}

func TestNewRedisStore(t *testing.T) {
	t.Run("successful connection", func(t *testing.T) {
		mr := miniredis.RunT(t)
		defer mr.Close()

		s, err := NewRedisStore(RedisOptions{
			URL: fmt.Sprintf("redis://%s", mr.Addr()),
		})
		require.NoError(t, err)
		require.NotNil(t, s)
		defer s.Close()
	})

	t.Run("connection failure", func(t *testing.T) {
		_, err := NewRedisStore(RedisOptions{
			URL:            "redis://localhost:99999",
			ConnectTimeout: 100 * time.Millisecond,
		})
		require.Error(t, err)
		assert.Contains(t, err.Error(), "failed to connect to Redis")
	})

	t.Run("invalid URL", func(t *testing.T) {
		_, err := NewRedisStore(RedisOptions{
			URL: "invalid://url",
		})
		require.Error(t, err)
		assert.Contains(t, err.Error(), "failed to parse Redis URL")
	})
}

func TestRedisStoreSetGet(t *testing.T) {
	s, _ := setupTestStore(t)
	ctx := context.Background()

	john := &testNode{
		id:      "person-1",
		kind:    "TestPerson",
		hfid:    "John",
		payload: map[string]any{"name": "John", "height": float64(180)},
	}
	require.NoError(t, s.Set(ctx, john))

	t.Run("by id", func(t *testing.T) {
		got, err := s.Get(ctx, "", "person-1")
		require.NoError(t, err)
		assert.Equal(t, "person-1", got.ID())
		assert.Equal(t, "TestPerson", got.Kind())
		assert.Equal(t, "John", got.HFIDKey())
	})

	t.Run("payload round trip", func(t *testing.T) {
		got, err := s.Get(ctx, "TestPerson", "person-1")
		require.NoError(t, err)

		rec, ok := got.(*Record)
		require.True(t, ok)

		var payload map[string]any
		require.NoError(t, json.Unmarshal(rec.Payload, &payload))
		assert.Equal(t, john.payload, payload)
	})

	t.Run("by hfid", func(t *testing.T) {
		got, err := s.Get(ctx, "TestPerson", "John")
		require.NoError(t, err)
		assert.Equal(t, "person-1", got.ID())
	})

	t.Run("missing key", func(t *testing.T) {
		_, err := s.Get(ctx, "TestPerson", "Jane")
		require.ErrorIs(t, err, ErrNotFound)
	})

	t.Run("wrong kind", func(t *testing.T) {
		_, err := s.Get(ctx, "TestCar", "person-1")
		require.ErrorIs(t, err, ErrNotFound)
	})

	t.Run("invalid node", func(t *testing.T) {
		require.ErrorIs(t, s.Set(ctx, &testNode{kind: "TestPerson"}), ErrInvalidNode)
	})

	t.Run("duplicate id keeps latest", func(t *testing.T) {
		update := &testNode{
			id:      "person-1",
			kind:    "TestPerson",
			hfid:    "John",
			payload: map[string]any{"name": "John", "height": float64(185)},
		}
		require.NoError(t, s.Set(ctx, update))

		count, err := s.Count(ctx, "TestPerson")
		require.NoError(t, err)
		assert.Equal(t, 1, count)

		got, err := s.Get(ctx, "", "person-1")
		require.NoError(t, err)

		rec, ok := got.(*Record)
		require.True(t, ok)

		var payload map[string]any
		require.NoError(t, json.Unmarshal(rec.Payload, &payload))
		assert.Equal(t, float64(185), payload["height"])
	})
}

func TestRedisStoreAllAndCount(t *testing.T) {
	s, _ := setupTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.Set(ctx, &testNode{id: "person-2", kind: "TestPerson"}))
	require.NoError(t, s.Set(ctx, &testNode{id: "person-1", kind: "TestPerson"}))
	require.NoError(t, s.Set(ctx, &testNode{id: "car-1", kind: "TestCar"}))

	people, err := s.All(ctx, "TestPerson")
	require.NoError(t, err)
	require.Len(t, people, 2)
	assert.Equal(t, "person-1", people[0].ID())
	assert.Equal(t, "person-2", people[1].ID())

	all, err := s.All(ctx, "")
	require.NoError(t, err)
	require.Len(t, all, 3)
	assert.Equal(t, "car-1", all[0].ID())

	count, err := s.Count(ctx, "TestPerson")
	require.NoError(t, err)
	assert.Equal(t, 2, count)

	count, err = s.Count(ctx, "")
	require.NoError(t, err)
	assert.Equal(t, 3, count)
}

func TestRedisStoreDelete(t *testing.T) {
	s, _ := setupTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.Set(ctx, &testNode{id: "person-1", kind: "TestPerson", hfid: "John"}))

	require.NoError(t, s.Delete(ctx, "TestPerson", "John"))

	_, err := s.Get(ctx, "", "person-1")
	require.ErrorIs(t, err, ErrNotFound)

	count, err := s.Count(ctx, "TestPerson")
	require.NoError(t, err)
	assert.Zero(t, count)

	require.ErrorIs(t, s.Delete(ctx, "TestPerson", "John"), ErrNotFound)
}

func TestRedisStoreTTL(t *testing.T) {
	mr := miniredis.RunT(t)
	s, err := NewRedisStore(RedisOptions{
		URL: fmt.Sprintf("redis://%s", mr.Addr()),
		TTL: time.Minute,
	})
	require.NoError(t, err)
	t.Cleanup(func() {
		_ = s.Close()
		mr.Close()
	})

	ctx := context.Background()
	require.NoError(t, s.Set(ctx, &testNode{id: "person-1", kind: "TestPerson", hfid: "John"}))

	mr.FastForward(2 * time.Minute)

	_, err = s.Get(ctx, "TestPerson", "person-1")
	require.ErrorIs(t, err, ErrNotFound)

	_, err = s.Get(ctx, "TestPerson", "John")
	require.ErrorIs(t, err, ErrNotFound)

	nodes, err := s.All(ctx, "TestPerson")
	require.NoError(t, err)
	assert.Empty(t, nodes)
}

func TestRedisStoreClear(t *testing.T) {
	s, mr := setupTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.Set(ctx, &testNode{id: "person-1", kind: "TestPerson", hfid: "John"}))
	require.NoError(t, s.Set(ctx, &testNode{id: "car-1", kind: "TestCar"}))

	require.NoError(t, s.Clear(ctx))

	count, err := s.Count(ctx, "")
	require.NoError(t, err)
	assert.Zero(t, count)

	assert.Empty(t, mr.Keys())
}
