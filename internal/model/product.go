package model

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

// Product 是索引到文件儲存的商品文件
// 文件 key 必須等於 ID
type Product struct {
	ID          int              `json:"id"`
	Name        string           `json:"name"`
	Description string           `json:"description"`
	Price       *decimal.Decimal `json:"price"`
	Stock       int              `json:"stock"`
	Sold        int              `json:"sold"`
	CreatedAt   time.Time        `json:"createdAt"` // 衝突判斷唯一依據
	UpdatedAt   time.Time        `json:"updatedAt"`
	Disabled    bool             `json:"disabled"`
	Images      []Image          `json:"images"`
	Categories  []Category       `json:"categories"`
}

type Image struct {
	ID  int    `json:"id"`
	URL string `json:"url"`
	Alt string `json:"alt"`
}

type Category struct {
	ID   int    `json:"id"`
	Name string `json:"name"`
}

// Clone returns a deep copy so stored documents never share slices with callers.
func (p Product) Clone() Product {
	c := p
	if p.Price != nil {
		price := *p.Price
		c.Price = &price
	}
	if p.Images != nil {
		c.Images = append(make([]Image, 0, len(p.Images)), p.Images...)
	}
	if p.Categories != nil {
		c.Categories = append(make([]Category, 0, len(p.Categories)), p.Categories...)
	}
	return c
}

// IsNewerThan 只比較 CreatedAt
func (p Product) IsNewerThan(other Product) bool {
	return p.CreatedAt.After(other.CreatedAt)
}

func (p Product) String() string {
	price := "<nil>"
	if p.Price != nil {
		price = p.Price.String()
	}
	return fmt.Sprintf("%d, %s, %s, %s, %d, %d, %s, %t",
		p.ID, p.Name, p.Description, price, p.Stock, p.Sold, p.CreatedAt.Format(time.RFC3339Nano), p.Disabled)
}
