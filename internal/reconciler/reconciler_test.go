package reconciler

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/RoyceAzure/lab/rj_indexer/internal/infra/docstore"
	mock_docstore "github.com/RoyceAzure/lab/rj_indexer/internal/infra/docstore/mock"
	"github.com/RoyceAzure/lab/rj_indexer/internal/model"
	"github.com/golang/mock/gomock"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var (
	t0 = time.Date(2024, 1, 1, 8, 0, 0, 0, time.UTC)
	t1 = t0.Add(time.Hour)
	t2 = t1.Add(time.Hour)
)

func newProduct(id int, name string, createdAt time.Time) model.Product {
	return model.Product{
		ID:         id,
		Name:       name,
		CreatedAt:  createdAt,
		Images:     []model.Image{},
		Categories: []model.Category{},
	}
}

func TestApplyUpdateInsertsWhenAbsent(t *testing.T) {
	ctx := context.Background()
	store := docstore.NewMemoryStore()
	r := NewReconciler(store, nil)

	p := newProduct(2, "C", t1)
	outcome, err := r.ApplyUpdate(ctx, p)
	require.NoError(t, err)
	require.Equal(t, Inserted, outcome)

	got, err := store.Get(ctx, 2)
	require.NoError(t, err)
	require.Equal(t, p, got)
}

func TestApplyUpdateStale(t *testing.T) {
	testCases := []struct {
		name      string
		createdAt time.Time
	}{
		{name: "older", createdAt: t0},
		{name: "equal", createdAt: t1},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			ctx := context.Background()
			store := docstore.NewMemoryStore()
			stored := newProduct(1, "A", t1)
			require.NoError(t, store.Put(ctx, stored))

			r := NewReconciler(store, nil)
			outcome, err := r.ApplyUpdate(ctx, newProduct(1, "B", tc.createdAt))
			require.NoError(t, err)
			require.Equal(t, Stale, outcome)

			got, err := store.Get(ctx, 1)
			require.NoError(t, err)
			require.Equal(t, stored, got)
		})
	}
}

func TestApplyUpdateOverwritesWithoutMerge(t *testing.T) {
	ctx := context.Background()
	store := docstore.NewMemoryStore()
	price := decimal.RequireFromString("10")
	stored := newProduct(1, "A", t0)
	stored.Description = "old description"
	stored.Price = &price
	stored.Stock = 5
	stored.Images = []model.Image{{ID: 1, URL: "old.png"}}
	require.NoError(t, store.Put(ctx, stored))

	r := NewReconciler(store, nil)
	incoming := newProduct(1, "B", t1)
	outcome, err := r.ApplyUpdate(ctx, incoming)
	require.NoError(t, err)
	require.Equal(t, Updated, outcome)

	got, err := store.Get(ctx, 1)
	require.NoError(t, err)
	require.Equal(t, incoming, got)
	require.Nil(t, got.Price)
	require.Empty(t, got.Description)
	require.Empty(t, got.Images)
}

func TestApplyUpdateOutOfOrder(t *testing.T) {
	ctx := context.Background()
	store := docstore.NewMemoryStore()
	r := NewReconciler(store, nil)

	outcome, err := r.ApplyUpdate(ctx, newProduct(7, "newer", t2))
	require.NoError(t, err)
	require.Equal(t, Inserted, outcome)

	outcome, err = r.ApplyUpdate(ctx, newProduct(7, "older", t1))
	require.NoError(t, err)
	require.Equal(t, Stale, outcome)

	got, err := store.Get(ctx, 7)
	require.NoError(t, err)
	require.True(t, got.CreatedAt.Equal(t2))
	require.Equal(t, "newer", got.Name)
}

func TestApplyUpdateDuplicateDelivery(t *testing.T) {
	ctx := context.Background()
	store := docstore.NewMemoryStore()
	r := NewReconciler(store, nil)
	p := newProduct(9, "dup", t1)

	outcomes := make([]Outcome, 0, 3)
	for i := 0; i < 3; i++ {
		outcome, err := r.ApplyUpdate(ctx, p)
		require.NoError(t, err)
		outcomes = append(outcomes, outcome)
	}
	require.Equal(t, []Outcome{Inserted, Stale, Stale}, outcomes)
}

func TestApplyUpdateConcurrentDistinctIDs(t *testing.T) {
	ctx := context.Background()
	store := docstore.NewMemoryStore()
	r := NewReconciler(store, nil)

	const n = 100
	var wg sync.WaitGroup
	for i := 1; i <= n; i++ {
		wg.Add(1)
		go func(id int) {
			defer wg.Done()
			_, err := r.ApplyUpdate(ctx, newProduct(id, "p", t1))
			assert.NoError(t, err)
		}(i)
	}
	wg.Wait()
	require.Equal(t, n, store.Len())
}

func TestApplyDeleteIdempotent(t *testing.T) {
	ctx := context.Background()
	store := docstore.NewMemoryStore()
	require.NoError(t, store.Put(ctx, newProduct(5, "E", t1)))
	r := NewReconciler(store, nil)

	for i := 0; i < 2; i++ {
		outcome, err := r.ApplyDelete(ctx, 5)
		require.NoError(t, err)
		require.Equal(t, Deleted, outcome)
	}

	_, err := store.Get(ctx, 5)
	require.ErrorIs(t, err, docstore.ErrNotFound)

	outcome, err := r.ApplyDelete(ctx, 404)
	require.NoError(t, err)
	require.Equal(t, Deleted, outcome)
}

func TestStoreFailures(t *testing.T) {
	boom := errors.New("connection refused")
	p := newProduct(1, "A", t1)

	testCases := []struct {
		name      string
		setUpMock func(m *mock_docstore.MockStore)
		run       func(r *Reconciler) (Outcome, error)
	}{
		{
			name: "get fails",
			setUpMock: func(m *mock_docstore.MockStore) {
				m.EXPECT().Get(gomock.Any(), 1).Return(model.Product{}, boom)
				m.EXPECT().Put(gomock.Any(), gomock.Any()).Times(0)
			},
			run: func(r *Reconciler) (Outcome, error) { return r.ApplyUpdate(context.Background(), p) },
		},
		{
			name: "insert fails",
			setUpMock: func(m *mock_docstore.MockStore) {
				m.EXPECT().Get(gomock.Any(), 1).Return(model.Product{}, docstore.ErrNotFound)
				m.EXPECT().Put(gomock.Any(), p).Return(boom)
			},
			run: func(r *Reconciler) (Outcome, error) { return r.ApplyUpdate(context.Background(), p) },
		},
		{
			name: "update fails",
			setUpMock: func(m *mock_docstore.MockStore) {
				m.EXPECT().Get(gomock.Any(), 1).Return(newProduct(1, "A", t0), nil)
				m.EXPECT().Put(gomock.Any(), p).Return(boom)
			},
			run: func(r *Reconciler) (Outcome, error) { return r.ApplyUpdate(context.Background(), p) },
		},
		{
			name: "delete fails",
			setUpMock: func(m *mock_docstore.MockStore) {
				m.EXPECT().Delete(gomock.Any(), 1).Return(boom)
			},
			run: func(r *Reconciler) (Outcome, error) { return r.ApplyDelete(context.Background(), 1) },
		},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			ctrl := gomock.NewController(t)
			defer ctrl.Finish()

			mockStore := mock_docstore.NewMockStore(ctrl)
			tc.setUpMock(mockStore)

			outcome, err := tc.run(NewReconciler(mockStore, nil))
			require.ErrorIs(t, err, docstore.ErrStoreUnavailable)
			require.ErrorIs(t, err, boom)
			require.Equal(t, OutcomeUnknown, outcome)
		})
	}
}

func TestOutcomeString(t *testing.T) {
	require.Equal(t, "inserted", Inserted.String())
	require.Equal(t, "updated", Updated.String())
	require.Equal(t, "stale", Stale.String())
	require.Equal(t, "deleted", Deleted.String())
	require.Equal(t, "unknown", OutcomeUnknown.String())
}
