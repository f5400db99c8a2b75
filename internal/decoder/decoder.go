package decoder

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/RoyceAzure/lab/rj_indexer/internal/model"
	"github.com/shopspring/decimal"
)

// ErrMalformedPayload 訊息無法解析，不可重試
var ErrMalformedPayload = errors.New("malformed payload")

type Kind string

const (
	KindUpdate Kind = "update"
	KindDelete Kind = "delete"
)

// Event is a decoded queue message. Product is set for KindUpdate, ID for both.
type Event struct {
	Kind    Kind
	ID      int
	Product model.Product
}

// 欄位使用指標，才能區分缺少欄位與零值
type productPayload struct {
	ID          *int             `json:"id"`
	Name        *string          `json:"name"`
	Description *string          `json:"description"`
	Price       *decimal.Decimal `json:"price"`
	Stock       *int             `json:"stock"`
	Sold        *int             `json:"sold"`
	CreatedAt   *time.Time       `json:"createdAt"`
	UpdatedAt   *time.Time       `json:"updatedAt"`
	Disabled    bool             `json:"disabled"`
	Images      []model.Image    `json:"images"`
	Categories  []model.Category `json:"categories"`
}

func Decode(kind Kind, payload []byte) (Event, error) {
	switch kind {
	case KindUpdate:
		p, err := DecodeProduct(payload)
		if err != nil {
			return Event{}, err
		}
		return Event{Kind: kind, ID: p.ID, Product: p}, nil
	case KindDelete:
		id, err := DecodeDeleteID(payload)
		if err != nil {
			return Event{}, err
		}
		return Event{Kind: kind, ID: id}, nil
	}
	return Event{}, fmt.Errorf("unknown message kind %q", kind)
}

// DecodeProduct parses an update payload. Field names match case-insensitively.
func DecodeProduct(payload []byte) (model.Product, error) {
	if len(bytes.TrimSpace(payload)) == 0 {
		return model.Product{}, malformed("empty payload")
	}

	var in productPayload
	if err := json.Unmarshal(payload, &in); err != nil {
		return model.Product{}, malformed(err.Error())
	}

	switch {
	case in.ID == nil:
		return model.Product{}, malformed("missing id")
	case *in.ID <= 0:
		return model.Product{}, malformed(fmt.Sprintf("invalid id %d", *in.ID))
	case in.Name == nil || strings.TrimSpace(*in.Name) == "":
		return model.Product{}, malformed("missing name")
	case in.CreatedAt == nil:
		return model.Product{}, malformed("missing createdAt")
	case in.Price != nil && in.Price.IsNegative():
		return model.Product{}, malformed("negative price")
	case in.Stock != nil && *in.Stock < 0:
		return model.Product{}, malformed("negative stock")
	case in.Sold != nil && *in.Sold < 0:
		return model.Product{}, malformed("negative sold")
	}

	p := model.Product{
		ID:         *in.ID,
		Name:       *in.Name,
		Price:      in.Price,
		CreatedAt:  *in.CreatedAt,
		Disabled:   in.Disabled,
		Images:     in.Images,
		Categories: in.Categories,
	}
	if in.Description != nil {
		p.Description = *in.Description
	}
	if in.Stock != nil {
		p.Stock = *in.Stock
	}
	if in.Sold != nil {
		p.Sold = *in.Sold
	}
	if in.UpdatedAt != nil {
		p.UpdatedAt = *in.UpdatedAt
	}
	if p.Images == nil {
		p.Images = []model.Image{}
	}
	if p.Categories == nil {
		p.Categories = []model.Category{}
	}
	return p, nil
}

// DecodeDeleteID parses the textual product id of a delete payload.
// 也接受 JSON 字串形式，例如 "5"
func DecodeDeleteID(payload []byte) (int, error) {
	raw := strings.TrimSpace(string(payload))
	if len(raw) >= 2 && raw[0] == '"' && raw[len(raw)-1] == '"' {
		raw = strings.TrimSpace(raw[1 : len(raw)-1])
	}
	if raw == "" {
		return 0, malformed("empty id")
	}

	id, err := strconv.Atoi(raw)
	if err != nil {
		return 0, malformed(fmt.Sprintf("invalid id %q", raw))
	}
	if id <= 0 {
		return 0, malformed(fmt.Sprintf("invalid id %d", id))
	}
	return id, nil
}

func malformed(reason string) error {
	return fmt.Errorf("%w: %s", ErrMalformedPayload, reason)
}
