package docstore

import (
	"context"
	"sync"

	"github.com/RoyceAzure/lab/rj_indexer/internal/model"
)

// MemoryStore keeps documents in process memory.
type MemoryStore struct {
	mu   sync.RWMutex
	docs map[int]model.Product
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{docs: make(map[int]model.Product)}
}

func (s *MemoryStore) Get(ctx context.Context, id int) (model.Product, error) {
	if err := ctx.Err(); err != nil {
		return model.Product{}, Unavailable("get", id, err)
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	doc, ok := s.docs[id]
	if !ok {
		return model.Product{}, ErrNotFound
	}
	return doc.Clone(), nil
}

func (s *MemoryStore) Put(ctx context.Context, product model.Product) error {
	if err := ctx.Err(); err != nil {
		return Unavailable("put", product.ID, err)
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	s.docs[product.ID] = product.Clone()
	return nil
}

func (s *MemoryStore) Delete(ctx context.Context, id int) error {
	if err := ctx.Err(); err != nil {
		return Unavailable("delete", id, err)
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	delete(s.docs, id)
	return nil
}

// Len 目前文件數量
func (s *MemoryStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.docs)
}

var _ Store = (*MemoryStore)(nil)
