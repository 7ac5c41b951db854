package repository

import (
	"context"
	"errors"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"acmeshop/internal/domain"
)

// runContract гоняет общий набор проверок на любой реализации UnitOfWork
func runContract(t *testing.T, newUoW func(t *testing.T) UnitOfWork) {
	t.Run("ProductCRUD", func(t *testing.T) { testProductCRUD(t, newUoW(t)) })
	t.Run("DuplicateSKU", func(t *testing.T) { testDuplicateSKU(t, newUoW(t)) })
	t.Run("OrderWithItems", func(t *testing.T) { testOrderWithItems(t, newUoW(t)) })
	t.Run("NoCommitRollsBack", func(t *testing.T) { testNoCommitRollsBack(t, newUoW(t)) })
	t.Run("ErrorRollsBack", func(t *testing.T) { testErrorRollsBack(t, newUoW(t)) })
	t.Run("PanicRollsBack", func(t *testing.T) { testPanicRollsBack(t, newUoW(t)) })
}

func seedProduct(t *testing.T, uow UnitOfWork, sku string, price string, stock int64) *domain.Product {
	t.Helper()
	var out *domain.Product
	err := uow.WithTransaction(context.Background(), func(ctx context.Context, tx Tx) error {
		p, err := tx.Products().Add(ctx, domain.NewProduct(sku, "Item "+sku, decimal.RequireFromString(price), stock))
		if err != nil {
			return err
		}
		out = p
		tx.Commit()
		return nil
	})
	require.NoError(t, err)
	return out
}

func getProduct(t *testing.T, uow UnitOfWork, id int64) *domain.Product {
	t.Helper()
	var out *domain.Product
	err := uow.WithTransaction(context.Background(), func(ctx context.Context, tx Tx) error {
		var err error
		out, err = tx.Products().GetByID(ctx, id)
		return err
	})
	require.NoError(t, err)
	return out
}

func testProductCRUD(t *testing.T, uow UnitOfWork) {
	ctx := context.Background()
	a := seedProduct(t, uow, "S1", "10.00", 5)
	b := seedProduct(t, uow, "S2", "2.50", 1)
	require.NotZero(t, a.ID)
	assert.Greater(t, b.ID, a.ID)
	assert.False(t, a.CreatedAt.IsZero())

	err := uow.WithTransaction(ctx, func(ctx context.Context, tx Tx) error {
		p, err := tx.Products().GetBySKU(ctx, "S1")
		require.NoError(t, err)
		assert.Equal(t, a.ID, p.ID)
		assert.True(t, p.Price.Equal(decimal.RequireFromString("10")))

		p.Price = decimal.RequireFromString("12.34")
		p.Stock = 7
		require.NoError(t, tx.Products().Update(ctx, p))

		_, err = tx.Products().GetByID(ctx, 999)
		assert.ErrorIs(t, err, ErrNotFound)
		_, err = tx.Products().GetBySKU(ctx, "nope")
		assert.ErrorIs(t, err, ErrNotFound)
		assert.ErrorIs(t, tx.Products().Update(ctx, &domain.Product{ID: 999, SKU: "X", Name: "X"}), ErrNotFound)

		tx.Commit()
		return nil
	})
	require.NoError(t, err)

	got := getProduct(t, uow, a.ID)
	assert.Equal(t, "12.34", got.Price.StringFixed(2))
	assert.Equal(t, int64(7), got.Stock)

	err = uow.WithTransaction(ctx, func(ctx context.Context, tx Tx) error {
		list, err := tx.Products().List(ctx)
		require.NoError(t, err)
		require.Len(t, list, 2)
		assert.Equal(t, a.ID, list[0].ID)
		assert.Equal(t, b.ID, list[1].ID)
		return nil
	})
	require.NoError(t, err)
}

func testDuplicateSKU(t *testing.T, uow UnitOfWork) {
	seedProduct(t, uow, "S1", "1.00", 1)
	other := seedProduct(t, uow, "S2", "1.00", 1)

	err := uow.WithTransaction(context.Background(), func(ctx context.Context, tx Tx) error {
		_, err := tx.Products().Add(ctx, domain.NewProduct("S1", "dup", decimal.Zero, 0))
		return err
	})
	assert.ErrorIs(t, err, ErrDuplicate)

	err = uow.WithTransaction(context.Background(), func(ctx context.Context, tx Tx) error {
		other.SKU = "S1"
		return tx.Products().Update(ctx, other)
	})
	assert.ErrorIs(t, err, ErrDuplicate)
}

func testOrderWithItems(t *testing.T, uow UnitOfWork) {
	ctx := context.Background()
	a := seedProduct(t, uow, "A", "5.555", 10)
	b := seedProduct(t, uow, "B", "1.00", 10)

	var created *domain.Order
	err := uow.WithTransaction(ctx, func(ctx context.Context, tx Tx) error {
		o := &domain.Order{}
		require.NoError(t, o.AddItem(b.ID, b.SKU, b.Name, b.Price, 1))
		require.NoError(t, o.AddItem(a.ID, a.SKU, a.Name, decimal.RequireFromString("5.55"), 2))
		var err error
		created, err = tx.Orders().Add(ctx, o)
		if err != nil {
			return err
		}
		tx.Commit()
		return nil
	})
	require.NoError(t, err)
	require.NotZero(t, created.ID)
	require.Len(t, created.Items, 2)
	assert.False(t, created.CreatedAt.IsZero())

	err = uow.WithTransaction(ctx, func(ctx context.Context, tx Tx) error {
		o, err := tx.Orders().GetByID(ctx, created.ID)
		require.NoError(t, err)
		require.Len(t, o.Items, 2)
		assert.Equal(t, "B", o.Items[0].SKU)
		assert.Equal(t, "A", o.Items[1].SKU)
		assert.Equal(t, int64(2), o.Items[1].Quantity)
		assert.Equal(t, "12.10", o.Total().StringFixed(2))

		_, err = tx.Orders().GetByID(ctx, created.ID+100)
		assert.ErrorIs(t, err, ErrNotFound)

		list, err := tx.Orders().List(ctx)
		require.NoError(t, err)
		require.Len(t, list, 1)
		assert.Len(t, list[0].Items, 2)
		return nil
	})
	require.NoError(t, err)
}

func testNoCommitRollsBack(t *testing.T, uow UnitOfWork) {
	p := seedProduct(t, uow, "A", "1.00", 5)

	err := uow.WithTransaction(context.Background(), func(ctx context.Context, tx Tx) error {
		pp, err := tx.Products().GetByID(ctx, p.ID)
		if err != nil {
			return err
		}
		pp.Stock = 0
		if err := tx.Products().Update(ctx, pp); err != nil {
			return err
		}
		_, err = tx.Orders().Add(ctx, &domain.Order{Items: []domain.OrderItem{{ProductID: p.ID, SKU: "A", Name: "A", UnitPrice: decimal.NewFromInt(1), Quantity: 5}}})
		return err
	})
	require.NoError(t, err)

	assert.Equal(t, int64(5), getProduct(t, uow, p.ID).Stock)
	assertNoOrders(t, uow)
}

func testErrorRollsBack(t *testing.T, uow UnitOfWork) {
	p := seedProduct(t, uow, "A", "1.00", 5)
	boom := errors.New("boom")

	err := uow.WithTransaction(context.Background(), func(ctx context.Context, tx Tx) error {
		pp, err := tx.Products().GetByID(ctx, p.ID)
		if err != nil {
			return err
		}
		pp.Stock = 1
		if err := tx.Products().Update(ctx, pp); err != nil {
			return err
		}
		tx.Commit()
		return boom
	})
	assert.ErrorIs(t, err, boom)
	assert.Equal(t, int64(5), getProduct(t, uow, p.ID).Stock)
}

func testPanicRollsBack(t *testing.T, uow UnitOfWork) {
	p := seedProduct(t, uow, "A", "1.00", 5)

	assert.Panics(t, func() {
		_ = uow.WithTransaction(context.Background(), func(ctx context.Context, tx Tx) error {
			pp, err := tx.Products().GetByID(ctx, p.ID)
			if err != nil {
				return err
			}
			pp.Stock = 2
			_ = tx.Products().Update(ctx, pp)
			tx.Commit()
			panic("boom")
		})
	})
	assert.Equal(t, int64(5), getProduct(t, uow, p.ID).Stock)
}

func assertNoOrders(t *testing.T, uow UnitOfWork) {
	t.Helper()
	err := uow.WithTransaction(context.Background(), func(ctx context.Context, tx Tx) error {
		list, err := tx.Orders().List(ctx)
		require.NoError(t, err)
		assert.Empty(t, list)
		return nil
	})
	require.NoError(t, err)
}
