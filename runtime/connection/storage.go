package connection

import (
	"context"
	"fmt"
	"sort"

	"goa.design/agentswarm/runtime/config"
	"goa.design/agentswarm/runtime/schema"
)

// StorageRecord is one entry of a named storage collection (spec §3's
// StorageSchema-backed append/search/remove list). Embedding is populated
// only for records added through a storage whose schema names an
// EmbeddingName, enabling Take's similarity search.
type StorageRecord struct {
	ID        string    `json:"id"`
	Content   string    `json:"content"`
	Data      any       `json:"data,omitempty"`
	Embedding []float32 `json:"embedding,omitempty"`
}

// Storage is the connection-layer handle over one named storage collection,
// scoped either to one client or shared across the whole swarm per its
// schema's Shared flag.
type Storage struct {
	name      string
	key       string
	list      schemaListAdapter
	embedding schema.EmbeddingClient
}

// schemaListAdapter is the persist.List subset Storage needs; declared
// locally so this file only depends on the method shape, not the package.
type schemaListAdapter interface {
	Push(ctx context.Context, key string, item any) error
	Pop(ctx context.Context, key string, dst any) (bool, error)
	All(ctx context.Context, key string, dstSlice any) error
	Clear(ctx context.Context, key string) error
}

func storageScopeKey(storageName, clientID string, shared bool) string {
	if shared {
		return "_storage/" + storageName
	}
	return "_storage/" + storageName + "/" + clientID
}

// GetStorage implements the storage half of spec §4.9's connection
// services: resolve the named storage's schema (and, if configured, its
// embedding backend), and return a memoized handle scoped per its Shared
// flag.
func (s *Services) GetStorage(clientID, storageName string) (*Storage, error) {
	memoKey := clientID + "-" + storageName
	return s.storages.getOrCreate(memoKey, func() (*Storage, error) {
		st, ok := s.registries.Storages.Get(storageName)
		if !ok {
			return nil, fmt.Errorf("connection: storage %q not registered", storageName)
		}
		if st.Adapter == nil {
			return nil, fmt.Errorf("connection: storage %q has no persist.List adapter configured", storageName)
		}
		var emb schema.EmbeddingClient
		if st.Embedding != "" {
			e, ok := s.registries.Embeddings.Get(st.Embedding)
			if !ok {
				return nil, fmt.Errorf("connection: storage %q: embedding %q not registered", storageName, st.Embedding)
			}
			emb = e.Client
		}
		if s.sessions != nil {
			s.sessions.UseStorage(clientID, storageName)
		}
		return &Storage{
			name:      storageName,
			key:       storageScopeKey(storageName, clientID, st.Shared),
			list:      st.Adapter,
			embedding: emb,
		}, nil
	})
}

func (st *Storage) all(ctx context.Context) ([]StorageRecord, error) {
	var recs []StorageRecord
	if err := st.list.All(ctx, st.key, &recs); err != nil {
		return nil, err
	}
	return recs, nil
}

func (st *Storage) rewrite(ctx context.Context, recs []StorageRecord) error {
	if err := st.list.Clear(ctx, st.key); err != nil {
		return err
	}
	for _, r := range recs {
		if err := st.list.Push(ctx, st.key, r); err != nil {
			return err
		}
	}
	return nil
}

// List returns every record currently held, in insertion order.
func (st *Storage) List(ctx context.Context) ([]StorageRecord, error) { return st.all(ctx) }

// Get returns the record with id, or ok=false if none exists.
func (st *Storage) Get(ctx context.Context, id string) (StorageRecord, bool, error) {
	recs, err := st.all(ctx)
	if err != nil {
		return StorageRecord{}, false, err
	}
	for _, r := range recs {
		if r.ID == id {
			return r, true, nil
		}
	}
	return StorageRecord{}, false, nil
}

// Upsert inserts rec, or replaces the existing record sharing its ID.
func (st *Storage) Upsert(ctx context.Context, rec StorageRecord) error {
	if st.embedding != nil && len(rec.Embedding) == 0 {
		vec, err := st.embedding.Embed(ctx, rec.Content)
		if err != nil {
			return err
		}
		rec.Embedding = vec
	}
	recs, err := st.all(ctx)
	if err != nil {
		return err
	}
	for i, r := range recs {
		if r.ID == rec.ID {
			recs[i] = rec
			return st.rewrite(ctx, recs)
		}
	}
	return st.list.Push(ctx, st.key, rec)
}

// Remove deletes the record with id, if any.
func (st *Storage) Remove(ctx context.Context, id string) error {
	recs, err := st.all(ctx)
	if err != nil {
		return err
	}
	out := recs[:0]
	for _, r := range recs {
		if r.ID != id {
			out = append(out, r)
		}
	}
	return st.rewrite(ctx, out)
}

// Clear removes every record.
func (st *Storage) Clear(ctx context.Context) error { return st.list.Clear(ctx, st.key) }

// Take runs an embedding-similarity search over query, returning up to
// count records meeting config.Config.StorageSearchSimilarity, ranked
// highest-first. It bounds the number of candidates it scores to
// config.Config.StorageSearchPool.
func (st *Storage) Take(ctx context.Context, query string, count int) ([]StorageRecord, error) {
	if st.embedding == nil {
		return nil, fmt.Errorf("connection: storage %q has no embedding backend for similarity search", st.name)
	}
	recs, err := st.all(ctx)
	if err != nil {
		return nil, err
	}
	qvec, err := st.embedding.Embed(ctx, query)
	if err != nil {
		return nil, err
	}

	cfg := config.Get()
	pool := recs
	if cfg.StorageSearchPool > 0 && len(pool) > cfg.StorageSearchPool {
		pool = pool[:cfg.StorageSearchPool]
	}

	type scored struct {
		rec   StorageRecord
		score float32
	}
	candidates := make([]scored, 0, len(pool))
	for _, r := range pool {
		if len(r.Embedding) == 0 {
			continue
		}
		if score := st.embedding.Similarity(qvec, r.Embedding); score >= cfg.StorageSearchSimilarity {
			candidates = append(candidates, scored{rec: r, score: score})
		}
	}
	sort.Slice(candidates, func(i, j int) bool { return candidates[i].score > candidates[j].score })
	if count > 0 && len(candidates) > count {
		candidates = candidates[:count]
	}
	out := make([]StorageRecord, len(candidates))
	for i, c := range candidates {
		out[i] = c.rec
	}
	return out, nil
}
