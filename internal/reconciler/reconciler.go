package reconciler

import (
	"context"
	"errors"

	"github.com/RoyceAzure/lab/rj_indexer/internal/infra/docstore"
	"github.com/RoyceAzure/lab/rj_indexer/internal/model"
	"github.com/rs/zerolog"
)

type Outcome int

const (
	OutcomeUnknown Outcome = iota
	Inserted
	Updated
	Stale
	Deleted
)

func (o Outcome) String() string {
	switch o {
	case Inserted:
		return "inserted"
	case Updated:
		return "updated"
	case Stale:
		return "stale"
	case Deleted:
		return "deleted"
	}
	return "unknown"
}

/*
Reconciler 將事件套用到文件儲存，last-write-wins 以 CreatedAt 判斷

已知限制:
  - get -> 比較 -> put 不是原子操作，同一商品的兩個併發更新之間有 race window
  - 依賴上游各 producer 的時鐘一致
*/
type Reconciler struct {
	store  docstore.Store
	logger *zerolog.Logger
}

func NewReconciler(store docstore.Store, logger *zerolog.Logger) *Reconciler {
	if store == nil {
		panic("reconciler dependency store is nil")
	}
	if logger == nil {
		nop := zerolog.Nop()
		logger = &nop
	}
	l := logger.With().Str("component", "reconciler").Logger()
	return &Reconciler{store: store, logger: &l}
}

// ApplyUpdate inserts, overwrites or discards incoming depending on the stored document.
// 錯誤:
//   - docstore.ErrStoreUnavailable: 儲存層錯誤，不在此重試
func (r *Reconciler) ApplyUpdate(ctx context.Context, incoming model.Product) (Outcome, error) {
	stored, err := r.store.Get(ctx, incoming.ID)
	if err != nil {
		if !errors.Is(err, docstore.ErrNotFound) {
			return OutcomeUnknown, docstore.Unavailable("get", incoming.ID, err)
		}

		if err := r.store.Put(ctx, incoming); err != nil {
			return OutcomeUnknown, docstore.Unavailable("insert", incoming.ID, err)
		}
		r.logger.Info().Int("product_id", incoming.ID).Stringer("outcome", Inserted).Msg("product indexed")
		return Inserted, nil
	}

	if !incoming.IsNewerThan(stored) {
		r.logger.Info().
			Int("product_id", incoming.ID).
			Time("incoming_created_at", incoming.CreatedAt).
			Time("stored_created_at", stored.CreatedAt).
			Stringer("outcome", Stale).
			Msg("existing product is newer, update discarded")
		return Stale, nil
	}

	// 整份覆蓋，不做欄位合併
	if err := r.store.Put(ctx, incoming); err != nil {
		return OutcomeUnknown, docstore.Unavailable("update", incoming.ID, err)
	}
	r.logger.Info().Int("product_id", incoming.ID).Stringer("outcome", Updated).Msg("product updated")
	return Updated, nil
}

// ApplyDelete is idempotent: deleting a missing id still reports Deleted.
func (r *Reconciler) ApplyDelete(ctx context.Context, id int) (Outcome, error) {
	if err := r.store.Delete(ctx, id); err != nil && !errors.Is(err, docstore.ErrNotFound) {
		return OutcomeUnknown, docstore.Unavailable("delete", id, err)
	}
	r.logger.Info().Int("product_id", id).Stringer("outcome", Deleted).Msg("product deleted")
	return Deleted, nil
}
