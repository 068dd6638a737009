package objectstore

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"
)

// MemoryStore is a concurrency-safe in-memory implementation of Store.
type MemoryStore struct {
	mu      sync.RWMutex
	objects map[string]*Object
	now     func() time.Time
}

// NewMemoryStore returns a new empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		objects: make(map[string]*Object),
		now:     time.Now,
	}
}

// Put implements Store.Put.
func (s *MemoryStore) Put(ctx context.Context, key string, data []byte, contentType string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	body := make([]byte, len(data))
	copy(body, data)

	s.mu.Lock()
	defer s.mu.Unlock()
	s.objects[key] = &Object{
		Info: Info{
			Key:          key,
			Size:         int64(len(body)),
			ContentType:  contentType,
			LastModified: s.now().UTC(),
		},
		Data: body,
	}
	return nil
}

// Get implements Store.Get. The returned object is a copy.
func (s *MemoryStore) Get(ctx context.Context, key string) (*Object, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	obj, ok := s.objects[key]
	if !ok {
		return nil, ErrNotFound
	}
	out := &Object{Info: obj.Info, Data: make([]byte, len(obj.Data))}
	copy(out.Data, obj.Data)
	return out, nil
}

// Head implements Store.Head.
func (s *MemoryStore) Head(ctx context.Context, key string) (Info, error) {
	if err := ctx.Err(); err != nil {
		return Info{}, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	obj, ok := s.objects[key]
	if !ok {
		return Info{}, ErrNotFound
	}
	return obj.Info, nil
}

// Delete implements Store.Delete.
func (s *MemoryStore) Delete(ctx context.Context, key string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.objects[key]; !ok {
		return ErrNotFound
	}
	delete(s.objects, key)
	return nil
}

// List implements Store.List.
func (s *MemoryStore) List(ctx context.Context, prefix string) ([]Info, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]Info, 0)
	for key, obj := range s.objects {
		if strings.HasPrefix(key, prefix) {
			out = append(out, obj.Info)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Key < out[j].Key })
	return out, nil
}

// Close implements Store.Close. It is a no-op.
func (s *MemoryStore) Close() error { return nil }
