package domain

import (
	"math"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/shopspring/decimal"
)

// Ограничения совпадают со схемой хранения: VARCHAR(50), VARCHAR(200), NUMERIC(10,2), INTEGER
const (
	MaxSKULength   = 50
	MaxNameLength  = 200
	MaxPriceDigits = 10
	MaxStock       = math.MaxInt32
)

// maxPrice первая цена, не помещающаяся в NUMERIC(10,2)
var maxPrice = decimal.New(1, MaxPriceDigits-MoneyPlaces)

// Product товар каталога с остатком на складе
type Product struct {
	ID        int64           `json:"id"`
	SKU       string          `json:"sku"`
	Name      string          `json:"name"`
	Price     decimal.Decimal `json:"price"`
	Stock     int64           `json:"stock"`
	CreatedAt time.Time       `json:"created_at"`
	UpdatedAt time.Time       `json:"updated_at"`
}

// NewProduct создаёт товар без проверки. Перед сохранением вызвать Validate.
func NewProduct(sku, name string, price decimal.Decimal, stock int64) *Product {
	return &Product{SKU: sku, Name: name, Price: price, Stock: stock}
}

// Validate проверяет инварианты товара
func (p *Product) Validate() error {
	if p.Price.IsNegative() {
		return Validationf("price cannot be negative")
	}
	if p.Price.GreaterThanOrEqual(maxPrice) {
		return Validationf("price must have at most %d digits", MaxPriceDigits)
	}
	if p.Stock < 0 {
		return Validationf("stock cannot be negative")
	}
	if p.Stock > MaxStock {
		return Validationf("stock cannot exceed %d", MaxStock)
	}
	if strings.TrimSpace(p.SKU) == "" || strings.TrimSpace(p.Name) == "" {
		return Validationf("sku and name are required")
	}
	if utf8.RuneCountInString(p.SKU) > MaxSKULength {
		return Validationf("sku must be at most %d characters", MaxSKULength)
	}
	if utf8.RuneCountInString(p.Name) > MaxNameLength {
		return Validationf("name must be at most %d characters", MaxNameLength)
	}
	return nil
}

// Reserve списывает qty со склада. При ошибке остаток не меняется.
func (p *Product) Reserve(qty int64) error {
	if qty <= 0 {
		return Validationf("quantity must be >= 1")
	}
	if qty > p.Stock {
		return OutOfStockf("not enough stock for %s: requested %d, available %d", p.SKU, qty, p.Stock)
	}
	p.Stock -= qty
	return nil
}
