package elsearch

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"github.com/RoyceAzure/lab/rj_indexer/internal/infra/docstore"
	"github.com/RoyceAzure/lab/rj_indexer/internal/model"
	"github.com/olivere/elastic/v7"
)

const DefaultIndex = "products"

// price 用 scaled_float 保留兩位小數
const productMapping = `{
	"mappings": {
		"properties": {
			"id":          {"type": "integer"},
			"name":        {"type": "text", "fields": {"keyword": {"type": "keyword", "ignore_above": 256}}},
			"description": {"type": "text"},
			"price":       {"type": "scaled_float", "scaling_factor": 100},
			"stock":       {"type": "integer"},
			"sold":        {"type": "integer"},
			"createdAt":   {"type": "date"},
			"updatedAt":   {"type": "date"},
			"disabled":    {"type": "boolean"},
			"images": {
				"properties": {
					"id":  {"type": "integer"},
					"url": {"type": "keyword"},
					"alt": {"type": "text"}
				}
			},
			"categories": {
				"properties": {
					"id":   {"type": "integer"},
					"name": {"type": "keyword"}
				}
			}
		}
	}
}`

type Config struct {
	URI      string
	User     string
	Password string
	Index    string
	Timeout  time.Duration
}

func NewClient(cfg Config) (*elastic.Client, error) {
	opts := []elastic.ClientOptionFunc{
		elastic.SetURL(cfg.URI),
		elastic.SetSniff(false),
	}
	if cfg.User != "" {
		opts = append(opts, elastic.SetBasicAuth(cfg.User, cfg.Password))
	}
	if cfg.Timeout > 0 {
		opts = append(opts, elastic.SetHealthcheckTimeoutStartup(cfg.Timeout))
	}

	client, err := elastic.NewClient(opts...)
	if err != nil {
		return nil, fmt.Errorf("%w: connect elasticsearch %s: %w", docstore.ErrStoreUnavailable, cfg.URI, err)
	}
	return client, nil
}

// ProductDao stores one product document per id, using the id as the document _id.
type ProductDao struct {
	client *elastic.Client
	index  string
}

func NewProductDao(client *elastic.Client, index string) *ProductDao {
	if index == "" {
		index = DefaultIndex
	}
	return &ProductDao{client: client, index: index}
}

// EnsureIndex 不存在時建立 index
func (d *ProductDao) EnsureIndex(ctx context.Context) error {
	exists, err := d.client.IndexExists(d.index).Do(ctx)
	if err != nil {
		return fmt.Errorf("%w: check index %s: %w", docstore.ErrStoreUnavailable, d.index, err)
	}
	if exists {
		return nil
	}

	res, err := d.client.CreateIndex(d.index).BodyString(productMapping).Do(ctx)
	if err != nil {
		// 其他 instance 同時建立
		if e, ok := err.(*elastic.Error); ok && e.Details != nil && e.Details.Type == "resource_already_exists_exception" {
			return nil
		}
		return fmt.Errorf("%w: create index %s: %w", docstore.ErrStoreUnavailable, d.index, err)
	}
	if !res.Acknowledged {
		return fmt.Errorf("%w: create index %s not acknowledged", docstore.ErrStoreUnavailable, d.index)
	}
	return nil
}

func (d *ProductDao) Get(ctx context.Context, id int) (model.Product, error) {
	res, err := d.client.Get().Index(d.index).Id(strconv.Itoa(id)).Do(ctx)
	if err != nil {
		if elastic.IsNotFound(err) {
			return model.Product{}, docstore.ErrNotFound
		}
		return model.Product{}, docstore.Unavailable("get", id, err)
	}
	if !res.Found || res.Source == nil {
		return model.Product{}, docstore.ErrNotFound
	}

	var p model.Product
	if err := json.Unmarshal(res.Source, &p); err != nil {
		return model.Product{}, docstore.Unavailable("get", id, fmt.Errorf("decode document: %w", err))
	}
	return p, nil
}

func (d *ProductDao) Put(ctx context.Context, product model.Product) error {
	_, err := d.client.Index().
		Index(d.index).
		Id(strconv.Itoa(product.ID)).
		BodyJson(product).
		Do(ctx)
	if err != nil {
		return docstore.Unavailable("put", product.ID, err)
	}
	return nil
}

func (d *ProductDao) Delete(ctx context.Context, id int) error {
	_, err := d.client.Delete().Index(d.index).Id(strconv.Itoa(id)).Do(ctx)
	if err != nil && !elastic.IsNotFound(err) {
		return docstore.Unavailable("delete", id, err)
	}
	return nil
}

var _ docstore.Store = (*ProductDao)(nil)
