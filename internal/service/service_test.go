package service

import (
	"context"
	"path/filepath"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"

	"acmeshop/internal/domain"
	"acmeshop/internal/repository"
)

// backends реализации UnitOfWork, на которых гоняются тесты сервисов
var backends = map[string]func(t *testing.T) repository.UnitOfWork{
	"memory": func(t *testing.T) repository.UnitOfWork { return repository.NewMemoryStore() },
	"sqlite": func(t *testing.T) repository.UnitOfWork {
		store, err := repository.NewSQLiteStore(context.Background(), filepath.Join(t.TempDir(), "svc.db"))
		require.NoError(t, err)
		t.Cleanup(func() { _ = store.Close() })
		return store
	},
}

func forEachBackend(t *testing.T, fn func(t *testing.T, uow repository.UnitOfWork)) {
	for name, newUoW := range backends {
		t.Run(name, func(t *testing.T) { fn(t, newUoW(t)) })
	}
}

type recordingPublisher struct {
	mu     sync.Mutex
	orders []int64
	err    error
}

func (p *recordingPublisher) PublishOrderPlaced(_ context.Context, o *domain.Order) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.orders = append(p.orders, o.ID)
	return p.err
}

func setup(t *testing.T, uow repository.UnitOfWork) (*ProductService, *OrderService, *recordingPublisher) {
	t.Helper()
	pub := &recordingPublisher{}
	return NewProductService(uow, nil), NewOrderService(uow, pub, nil), pub
}

func mustCreate(t *testing.T, ps *ProductService, sku, price string, stock int64) *domain.Product {
	t.Helper()
	p, err := ps.Create(context.Background(), ProductInput{SKU: sku, Name: "Item " + sku, Price: price, Stock: stock})
	require.NoError(t, err)
	return p
}

func stockOf(t *testing.T, ps *ProductService, id int64) int64 {
	t.Helper()
	p, err := ps.Get(context.Background(), id)
	require.NoError(t, err)
	return p.Stock
}
