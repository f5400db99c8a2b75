package docstore

import (
	"context"
	"errors"
	"fmt"

	"github.com/RoyceAzure/lab/rj_indexer/internal/model"
)

var (
	// ErrNotFound 文件不存在
	ErrNotFound = errors.New("document not found")
	// ErrStoreUnavailable 儲存層連線失敗或拒絕寫入，屬於暫時性錯誤
	ErrStoreUnavailable = errors.New("document store unavailable")
)

// Store is a document store addressed by product id.
// Implementations must be safe for concurrent use.
//
// 錯誤:
//   - ErrNotFound: Get 的文件不存在
//   - ErrStoreUnavailable: 其他所有錯誤
type Store interface {
	Get(ctx context.Context, id int) (model.Product, error)
	Put(ctx context.Context, product model.Product) error
	// Delete 刪除不存在的 id 不算錯誤
	Delete(ctx context.Context, id int) error
}

// Unavailable wraps err with ErrStoreUnavailable unless it already carries it.
func Unavailable(op string, id int, err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, ErrStoreUnavailable) {
		return err
	}
	return fmt.Errorf("%w: %s product %d: %w", ErrStoreUnavailable, op, id, err)
}
