package docstore

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
)

type memCollection struct {
	docs  map[string][]byte
	order []string
}

func (c *memCollection) clone() *memCollection {
	out := &memCollection{
		docs:  make(map[string][]byte, len(c.docs)),
		order: append([]string(nil), c.order...),
	}
	for id, data := range c.docs {
		out.docs[id] = data
	}
	return out
}

func (c *memCollection) put(id string, data []byte) {
	if _, exists := c.docs[id]; !exists {
		c.order = append(c.order, id)
	}
	c.docs[id] = data
}

func (c *memCollection) remove(id string) {
	if _, exists := c.docs[id]; !exists {
		return
	}
	delete(c.docs, id)
	for i, existing := range c.order {
		if existing == id {
			c.order = append(c.order[:i], c.order[i+1:]...)
			break
		}
	}
}

// MemoryStore keeps documents in process memory. Stored bytes are never
// mutated in place, so readers can share them.
type MemoryStore struct {
	mu          sync.RWMutex
	collections map[string]*memCollection
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{collections: make(map[string]*memCollection)}
}

func (s *MemoryStore) Mode() string { return "memory" }

func (s *MemoryStore) Close() error { return nil }

func (s *MemoryStore) Get(ctx context.Context, collection, id string, out any) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.RLock()
	var data []byte
	if c := s.collections[collection]; c != nil {
		data = c.docs[id]
	}
	s.mu.RUnlock()
	if data == nil {
		return ErrNotFound
	}
	if err := json.Unmarshal(data, out); err != nil {
		return fmt.Errorf("decode document %q: %w", id, err)
	}
	return nil
}

func (s *MemoryStore) Set(ctx context.Context, collection, id string, doc any) error {
	return s.Batch(ctx, []Mutation{SetDoc(collection, id, doc)})
}

func (s *MemoryStore) Update(ctx context.Context, collection, id string, fields map[string]any) error {
	return s.Batch(ctx, []Mutation{UpdateDoc(collection, id, fields)})
}

func (s *MemoryStore) Delete(ctx context.Context, collection, id string) error {
	return s.Batch(ctx, []Mutation{DeleteDoc(collection, id)})
}

func (s *MemoryStore) List(ctx context.Context, collection string, q Query) ([]Document, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	filters, err := normalizeFilters(q.Filters)
	if err != nil {
		return nil, err
	}
	limit := effectiveLimit(q.Limit)

	s.mu.RLock()
	defer s.mu.RUnlock()

	c := s.collections[collection]
	if c == nil {
		return nil, nil
	}
	out := make([]Document, 0)
	for _, id := range c.order {
		data := c.docs[id]
		if len(filters) > 0 {
			var decoded map[string]any
			if err := json.Unmarshal(data, &decoded); err != nil {
				return nil, fmt.Errorf("decode document %q: %w", id, err)
			}
			if !matches(decoded, filters) {
				continue
			}
		}
		out = append(out, Document{ID: id, Data: append(json.RawMessage(nil), data...)})
		if len(out) >= limit {
			break
		}
	}
	return out, nil
}

// Batch stages every mutation on copies of the touched collections and swaps
// them in only when all mutations succeed.
func (s *MemoryStore) Batch(ctx context.Context, mutations []Mutation) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if len(mutations) == 0 {
		return nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	staged := make(map[string]*memCollection)
	stage := func(name string) *memCollection {
		if c, ok := staged[name]; ok {
			return c
		}
		var c *memCollection
		if existing := s.collections[name]; existing != nil {
			c = existing.clone()
		} else {
			c = &memCollection{docs: make(map[string][]byte)}
		}
		staged[name] = c
		return c
	}

	for _, m := range mutations {
		c := stage(m.Collection)
		switch m.Kind {
		case MutationSet:
			data, err := encodeObject(m.Doc)
			if err != nil {
				return err
			}
			c.put(m.ID, data)
		case MutationUpdate:
			current, ok := c.docs[m.ID]
			if !ok {
				return fmt.Errorf("update %s/%s: %w", m.Collection, m.ID, ErrNotFound)
			}
			merged, err := mergeFields(current, m.Fields)
			if err != nil {
				return err
			}
			c.put(m.ID, merged)
		case MutationDelete:
			c.remove(m.ID)
		default:
			return fmt.Errorf("unsupported mutation kind %q", m.Kind)
		}
	}

	for name, c := range staged {
		if len(c.docs) == 0 {
			delete(s.collections, name)
			continue
		}
		s.collections[name] = c
	}
	return nil
}
