package repository

import (
	"context"
	"errors"

	"acmeshop/internal/domain"
)

var (
	// ErrNotFound возвращается, когда сущность не найдена
	ErrNotFound = errors.New("not found")
	// ErrDuplicate нарушение уникальности (sku)
	ErrDuplicate = errors.New("already exists")
)

// ProductRepository интерфейс репозитория товаров. List упорядочен по id.
type ProductRepository interface {
	Add(ctx context.Context, p *domain.Product) (*domain.Product, error)
	Update(ctx context.Context, p *domain.Product) error
	GetByID(ctx context.Context, id int64) (*domain.Product, error)
	GetBySKU(ctx context.Context, sku string) (*domain.Product, error)
	List(ctx context.Context) ([]domain.Product, error)
}

// OrderRepository интерфейс репозитория заказов. Add сохраняет заказ вместе с позициями.
type OrderRepository interface {
	Add(ctx context.Context, o *domain.Order) (*domain.Order, error)
	GetByID(ctx context.Context, id int64) (*domain.Order, error)
	List(ctx context.Context) ([]domain.Order, error)
}

// Tx репозитории, привязанные к одной транзакции.
// Commit только ставит флаг; запись происходит при выходе из WithTransaction.
type Tx interface {
	Products() ProductRepository
	Orders() OrderRepository
	Commit()
}

// UnitOfWork открывает новую транзакцию на каждый вызов WithTransaction.
// Если fn вернула ошибку, запаниковала или не вызвала Commit, все изменения откатываются.
type UnitOfWork interface {
	WithTransaction(ctx context.Context, fn func(ctx context.Context, tx Tx) error) error
}

// commitFlag общая часть реализаций Tx
type commitFlag struct{ committed bool }

func (c *commitFlag) Commit() { c.committed = true }
