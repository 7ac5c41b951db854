package service

import (
	"context"
	"errors"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"acmeshop/internal/domain"
	"acmeshop/internal/repository"
)

func TestPlaceOrder_DecreasesStockAndComputesTotal(t *testing.T) {
	forEachBackend(t, func(t *testing.T, uow repository.UnitOfWork) {
		ctx := context.Background()
		ps, os, pub := setup(t, uow)
		p := mustCreate(t, ps, "A", "10.00", 5)
		require.Equal(t, int64(1), p.ID)

		o, err := os.PlaceOrder(ctx, []OrderLine{{ProductID: 1, Quantity: 3}})
		require.NoError(t, err)
		assert.NotZero(t, o.ID)
		assert.True(t, o.Total().Equal(decimal.RequireFromString("30.00")))
		require.Len(t, o.Items, 1)
		assert.Equal(t, "A", o.Items[0].SKU)
		assert.Equal(t, "Item A", o.Items[0].Name)
		assert.Equal(t, int64(3), o.Items[0].Quantity)

		assert.Equal(t, int64(2), stockOf(t, ps, p.ID))
		assert.Equal(t, []int64{o.ID}, pub.orders)
	})
}

func TestPlaceOrder_MultipleLines(t *testing.T) {
	forEachBackend(t, func(t *testing.T, uow repository.UnitOfWork) {
		ctx := context.Background()
		ps, os, _ := setup(t, uow)
		p1 := mustCreate(t, ps, "SKU1", "10", 5)
		p2 := mustCreate(t, ps, "SKU2", "20.50", 2)

		o, err := os.PlaceOrder(ctx, []OrderLine{{ProductID: p1.ID, Quantity: 3}, {ProductID: p2.ID, Quantity: 2}})
		require.NoError(t, err)
		assert.Equal(t, "71.00", o.Total().StringFixed(2))
		assert.Equal(t, int64(2), stockOf(t, ps, p1.ID))
		assert.Equal(t, int64(0), stockOf(t, ps, p2.ID))

		got, err := os.GetOrder(ctx, o.ID)
		require.NoError(t, err)
		require.Len(t, got.Items, 2)
		assert.Equal(t, p1.ID, got.Items[0].ProductID)
		assert.Equal(t, p2.ID, got.Items[1].ProductID)
		assert.True(t, got.Total().Equal(o.Total()))
	})
}

func TestPlaceOrder_SameProductTwice(t *testing.T) {
	forEachBackend(t, func(t *testing.T, uow repository.UnitOfWork) {
		ctx := context.Background()
		ps, os, _ := setup(t, uow)
		p := mustCreate(t, ps, "A", "1.00", 3)

		_, err := os.PlaceOrder(ctx, []OrderLine{{ProductID: p.ID, Quantity: 2}, {ProductID: p.ID, Quantity: 2}})
		assert.ErrorIs(t, err, domain.ErrOutOfStock)
		assert.Equal(t, int64(3), stockOf(t, ps, p.ID))

		o, err := os.PlaceOrder(ctx, []OrderLine{{ProductID: p.ID, Quantity: 1}, {ProductID: p.ID, Quantity: 2}})
		require.NoError(t, err)
		assert.Len(t, o.Items, 2)
		assert.Equal(t, int64(0), stockOf(t, ps, p.ID))
	})
}

func TestPlaceOrder_Empty(t *testing.T) {
	forEachBackend(t, func(t *testing.T, uow repository.UnitOfWork) {
		ctx := context.Background()
		_, os, pub := setup(t, uow)

		_, err := os.PlaceOrder(ctx, nil)
		assert.ErrorIs(t, err, domain.ErrValidation)
		_, err = os.PlaceOrder(ctx, []OrderLine{})
		assert.ErrorIs(t, err, domain.ErrValidation)

		list, err := os.ListOrders(ctx)
		require.NoError(t, err)
		assert.Empty(t, list)
		assert.Empty(t, pub.orders)
	})
}

func TestPlaceOrder_MissingProductRollsBackEarlierLines(t *testing.T) {
	forEachBackend(t, func(t *testing.T, uow repository.UnitOfWork) {
		ctx := context.Background()
		ps, os, pub := setup(t, uow)
		p := mustCreate(t, ps, "A", "10.00", 5)

		_, err := os.PlaceOrder(ctx, []OrderLine{{ProductID: p.ID, Quantity: 2}, {ProductID: 999, Quantity: 1}})
		require.Error(t, err)
		assert.ErrorIs(t, err, domain.ErrValidation)
		assert.Contains(t, err.Error(), "999")

		assert.Equal(t, int64(5), stockOf(t, ps, p.ID))
		list, err := os.ListOrders(ctx)
		require.NoError(t, err)
		assert.Empty(t, list)
		assert.Empty(t, pub.orders)
	})
}

func TestPlaceOrder_OutOfStockRollsBack(t *testing.T) {
	forEachBackend(t, func(t *testing.T, uow repository.UnitOfWork) {
		ctx := context.Background()
		ps, os, _ := setup(t, uow)
		p1 := mustCreate(t, ps, "A", "10.00", 5)
		p2 := mustCreate(t, ps, "B", "1.00", 1)

		_, err := os.PlaceOrder(ctx, []OrderLine{{ProductID: p1.ID, Quantity: 5}, {ProductID: p2.ID, Quantity: 2}})
		assert.ErrorIs(t, err, domain.ErrOutOfStock)
		assert.False(t, errors.Is(err, domain.ErrValidation))
		assert.Equal(t, int64(5), stockOf(t, ps, p1.ID))
		assert.Equal(t, int64(1), stockOf(t, ps, p2.ID))
	})
}

func TestPlaceOrder_InvalidQuantity(t *testing.T) {
	forEachBackend(t, func(t *testing.T, uow repository.UnitOfWork) {
		ctx := context.Background()
		ps, os, _ := setup(t, uow)
		p := mustCreate(t, ps, "A", "10.00", 5)

		_, err := os.PlaceOrder(ctx, []OrderLine{{ProductID: p.ID, Quantity: 1}, {ProductID: p.ID, Quantity: 0}})
		assert.ErrorIs(t, err, domain.ErrValidation)
		assert.Equal(t, int64(5), stockOf(t, ps, p.ID))
	})
}

func TestPlaceOrder_SnapshotSurvivesPriceChange(t *testing.T) {
	forEachBackend(t, func(t *testing.T, uow repository.UnitOfWork) {
		ctx := context.Background()
		ps, os, _ := setup(t, uow)
		p := mustCreate(t, ps, "A", "10.00", 5)

		o, err := os.PlaceOrder(ctx, []OrderLine{{ProductID: p.ID, Quantity: 1}})
		require.NoError(t, err)

		_, err = ps.Update(ctx, p.ID, ProductInput{SKU: "A2", Name: "Renamed", Price: "99.99", Stock: 4})
		require.NoError(t, err)

		got, err := os.GetOrder(ctx, o.ID)
		require.NoError(t, err)
		assert.Equal(t, "A", got.Items[0].SKU)
		assert.Equal(t, "Item A", got.Items[0].Name)
		assert.Equal(t, "10.00", got.Total().StringFixed(2))
	})
}

func TestPlaceOrder_PublishFailureKeepsOrder(t *testing.T) {
	ctx := context.Background()
	uow := repository.NewMemoryStore()
	ps, os, pub := setup(t, uow)
	pub.err = errors.New("broker down")
	p := mustCreate(t, ps, "A", "1.00", 5)

	o, err := os.PlaceOrder(ctx, []OrderLine{{ProductID: p.ID, Quantity: 1}})
	require.NoError(t, err)
	_, err = os.GetOrder(ctx, o.ID)
	assert.NoError(t, err)
}

func TestGetOrder_NotFound(t *testing.T) {
	forEachBackend(t, func(t *testing.T, uow repository.UnitOfWork) {
		_, os, _ := setup(t, uow)
		_, err := os.GetOrder(context.Background(), 42)
		assert.ErrorIs(t, err, domain.ErrNotFound)
		assert.True(t, domain.IsDomainError(err))
	})
}

func TestListOrders_StableOrder(t *testing.T) {
	forEachBackend(t, func(t *testing.T, uow repository.UnitOfWork) {
		ctx := context.Background()
		ps, os, _ := setup(t, uow)
		p := mustCreate(t, ps, "A", "1.00", 10)

		var ids []int64
		for i := 0; i < 3; i++ {
			o, err := os.PlaceOrder(ctx, []OrderLine{{ProductID: p.ID, Quantity: 1}})
			require.NoError(t, err)
			ids = append(ids, o.ID)
		}
		list, err := os.ListOrders(ctx)
		require.NoError(t, err)
		require.Len(t, list, 3)
		for i, o := range list {
			assert.Equal(t, ids[i], o.ID)
			assert.Len(t, o.Items, 1)
		}
	})
}

// failingUoW транзакция, которая не открывается
type failingUoW struct{ err error }

func (f failingUoW) WithTransaction(context.Context, func(context.Context, repository.Tx) error) error {
	return f.err
}

func TestPlaceOrder_StorageErrorPropagates(t *testing.T) {
	boom := errors.New("connection refused")
	os := NewOrderService(failingUoW{err: boom}, nil, nil)

	_, err := os.PlaceOrder(context.Background(), []OrderLine{{ProductID: 1, Quantity: 1}})
	assert.ErrorIs(t, err, boom)
	assert.False(t, domain.IsDomainError(err))
}
