// Package store provides client-side node stores used to keep nodes fetched
// from the server addressable by id, kind, or human friendly id.
//
// Two implementations are provided:
//
//   - MemoryStore: an in-process store holding live node objects. This is
//     the default store of a client and what query operations populate.
//   - RedisStore: a Redis-backed store persisting node identity and an
//     optional payload, for sharing lookups between processes.
//
// Both implement the Store interface and are safe for concurrent use. A
// store write is a plain upsert: writing the same id twice keeps the last
// value, with no isolation guarantee beyond the atomicity of a single key.
//
// Example usage:
//
//	s := store.NewMemoryStore()
//	if err := s.Set(ctx, node); err != nil {
//	    return err
//	}
//
//	// Look up by id or by human friendly id.
//	n, err := s.Get(ctx, "TestPerson", "John")
//	if errors.Is(err, store.ErrNotFound) {
//	    // not cached
//	}
package store
