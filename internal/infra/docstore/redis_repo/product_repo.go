package redis_repo

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/RoyceAzure/lab/rj_indexer/internal/infra/docstore"
	"github.com/RoyceAzure/lab/rj_indexer/internal/model"
	"github.com/redis/go-redis/v9"
)

const DefaultPrefix = "product"

// ProductRepo keeps each product as a JSON string under {prefix}:{id}:doc.
type ProductRepo struct {
	client *redis.Client
	prefix string
}

func NewProductRepo(client *redis.Client, prefix string) *ProductRepo {
	if prefix == "" {
		prefix = DefaultPrefix
	}
	return &ProductRepo{client: client, prefix: prefix}
}

func (r *ProductRepo) docKey(id int) string {
	idStr := strconv.Itoa(id)
	var builder strings.Builder
	builder.Grow(len(r.prefix) + len(idStr) + 6)
	builder.WriteString(r.prefix)
	builder.WriteString(":")
	builder.WriteString(idStr)
	builder.WriteString(":doc")
	return builder.String()
}

func (r *ProductRepo) Get(ctx context.Context, id int) (model.Product, error) {
	raw, err := r.client.Get(ctx, r.docKey(id)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return model.Product{}, docstore.ErrNotFound
		}
		return model.Product{}, docstore.Unavailable("get", id, err)
	}

	var p model.Product
	if err := json.Unmarshal(raw, &p); err != nil {
		return model.Product{}, docstore.Unavailable("get", id, fmt.Errorf("decode document: %w", err))
	}
	return p, nil
}

// Put 不設 TTL
func (r *ProductRepo) Put(ctx context.Context, product model.Product) error {
	raw, err := json.Marshal(product)
	if err != nil {
		return fmt.Errorf("encode product %d: %w", product.ID, err)
	}
	if err := r.client.Set(ctx, r.docKey(product.ID), raw, 0).Err(); err != nil {
		return docstore.Unavailable("put", product.ID, err)
	}
	return nil
}

func (r *ProductRepo) Delete(ctx context.Context, id int) error {
	if err := r.client.Del(ctx, r.docKey(id)).Err(); err != nil {
		return docstore.Unavailable("delete", id, err)
	}
	return nil
}

var _ docstore.Store = (*ProductRepo)(nil)
