package httpapi

import (
	"time"

	"github.com/shopspring/decimal"

	"acmeshop/internal/domain"
)

// деньги отдаются строкой с двумя знаками: "30.00"
func money(d decimal.Decimal) string { return d.StringFixed(domain.MoneyPlaces) }

type productResp struct {
	ID        int64     `json:"id"`
	SKU       string    `json:"sku"`
	Name      string    `json:"name"`
	Price     string    `json:"price" example:"10.00"`
	Stock     int64     `json:"stock"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

func toProductResp(p domain.Product) productResp {
	return productResp{
		ID:        p.ID,
		SKU:       p.SKU,
		Name:      p.Name,
		Price:     money(p.Price),
		Stock:     p.Stock,
		CreatedAt: p.CreatedAt,
		UpdatedAt: p.UpdatedAt,
	}
}

type orderItemResp struct {
	ProductID int64  `json:"product_id"`
	SKU       string `json:"sku"`
	Name      string `json:"name"`
	UnitPrice string `json:"unit_price" example:"10.00"`
	Quantity  int64  `json:"quantity"`
	LineTotal string `json:"line_total" example:"30.00"`
}

type orderResp struct {
	ID        int64           `json:"id"`
	Items     []orderItemResp `json:"items"`
	Total     string          `json:"total" example:"30.00"`
	CreatedAt time.Time       `json:"created_at"`
}

func toOrderResp(o domain.Order) orderResp {
	items := make([]orderItemResp, 0, len(o.Items))
	for _, it := range o.Items {
		items = append(items, orderItemResp{
			ProductID: it.ProductID,
			SKU:       it.SKU,
			Name:      it.Name,
			UnitPrice: money(it.UnitPrice),
			Quantity:  it.Quantity,
			LineTotal: money(it.LineTotal()),
		})
	}
	return orderResp{ID: o.ID, Items: items, Total: money(o.Total()), CreatedAt: o.CreatedAt}
}

type orderSummaryResp struct {
	ID         int64  `json:"id"`
	ItemsCount int    `json:"items_count"`
	Total      string `json:"total" example:"30.00"`
}
