package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// MoneyPlaces точность денежных сумм
const MoneyPlaces = 2

// OrderItem позиция заказа. Поля товара копируются в момент заказа
// и дальше от товара не зависят.
type OrderItem struct {
	ProductID int64           `json:"product_id"`
	SKU       string          `json:"sku"`
	Name      string          `json:"name"`
	UnitPrice decimal.Decimal `json:"unit_price"`
	Quantity  int64           `json:"quantity"`
}

// LineTotal unit_price * quantity, округлённое до копеек (half-up)
func (i OrderItem) LineTotal() decimal.Decimal {
	return i.UnitPrice.Mul(decimal.NewFromInt(i.Quantity)).Round(MoneyPlaces)
}

// Order заказ; порядок Items = порядок добавления
type Order struct {
	ID        int64       `json:"id"`
	Items     []OrderItem `json:"items"`
	CreatedAt time.Time   `json:"created_at"`
}

// AddItem добавляет позицию; quantity <= 0 отклоняется до добавления
func (o *Order) AddItem(productID int64, sku, name string, unitPrice decimal.Decimal, qty int64) error {
	if qty <= 0 {
		return Validationf("quantity must be >= 1")
	}
	o.Items = append(o.Items, OrderItem{
		ProductID: productID,
		SKU:       sku,
		Name:      name,
		UnitPrice: unitPrice,
		Quantity:  qty,
	})
	return nil
}

// Total сумма line_total всех позиций, считается при каждом вызове
func (o *Order) Total() decimal.Decimal {
	total := decimal.Zero
	for _, it := range o.Items {
		total = total.Add(it.LineTotal())
	}
	return total.Round(MoneyPlaces)
}

// Validate заказ без позиций не сохраняется
func (o *Order) Validate() error {
	if len(o.Items) == 0 {
		return Validationf("order needs at least one item")
	}
	return nil
}
