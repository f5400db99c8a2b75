package docstore

import (
	"context"

	"github.com/RoyceAzure/lab/rj_indexer/internal/model"
)

type Limiter interface {
	Wait(ctx context.Context) error
}

// ThrottledStore 限制寫入速率，讀取不限
// 等待逾時視為儲存層不可用，訊息會被重送
type ThrottledStore struct {
	Store
	limiter Limiter
}

func NewThrottledStore(store Store, limiter Limiter) *ThrottledStore {
	return &ThrottledStore{Store: store, limiter: limiter}
}

func (s *ThrottledStore) Put(ctx context.Context, product model.Product) error {
	if err := s.limiter.Wait(ctx); err != nil {
		return Unavailable("put", product.ID, err)
	}
	return s.Store.Put(ctx, product)
}

func (s *ThrottledStore) Delete(ctx context.Context, id int) error {
	if err := s.limiter.Wait(ctx); err != nil {
		return Unavailable("delete", id, err)
	}
	return s.Store.Delete(ctx, id)
}

var _ Store = (*ThrottledStore)(nil)
