package repository

import (
	"cmp"
	"context"
	"slices"
	"sync"
	"time"

	"acmeshop/internal/domain"
)

// memoryState снимок данных; транзакция работает с копией
type memoryState struct {
	nextProdID   int64
	nextOrderID  int64
	productsByID map[int64]domain.Product
	ordersByID   map[int64]domain.Order
}

func (s *memoryState) clone() *memoryState {
	cp := &memoryState{
		nextProdID:   s.nextProdID,
		nextOrderID:  s.nextOrderID,
		productsByID: make(map[int64]domain.Product, len(s.productsByID)),
		ordersByID:   make(map[int64]domain.Order, len(s.ordersByID)),
	}
	for id, p := range s.productsByID {
		cp.productsByID[id] = p
	}
	for id, o := range s.ordersByID {
		o.Items = slices.Clone(o.Items)
		cp.ordersByID[id] = o
	}
	return cp
}

// MemoryStore in-memory хранилище и генератор ID.
// Транзакции сериализуются через mu.
type MemoryStore struct {
	mu    sync.Mutex
	state *memoryState
	now   func() time.Time
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		state: &memoryState{
			nextProdID:   1,
			nextOrderID:  1,
			productsByID: make(map[int64]domain.Product),
			ordersByID:   make(map[int64]domain.Order),
		},
		now: func() time.Time { return time.Now().UTC() },
	}
}

var _ UnitOfWork = (*MemoryStore)(nil)

// WithTransaction держит блокировку на всю транзакцию, изменения видны только после Commit
func (m *MemoryStore) WithTransaction(ctx context.Context, fn func(ctx context.Context, tx Tx) error) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	tx := &memoryTx{state: m.state.clone(), now: m.now}
	if err := fn(ctx, tx); err != nil {
		return err
	}
	if tx.committed {
		m.state = tx.state
	}
	return nil
}

// Ping для health check
func (m *MemoryStore) Ping(context.Context) error { return nil }

type memoryTx struct {
	commitFlag
	state *memoryState
	now   func() time.Time
}

func (tx *memoryTx) Products() ProductRepository { return memoryProducts{tx} }
func (tx *memoryTx) Orders() OrderRepository     { return memoryOrders{tx} }

type memoryProducts struct{ tx *memoryTx }

var _ ProductRepository = memoryProducts{}

// skuTaken эмулирует UNIQUE(sku) из SQL схем
func (r memoryProducts) skuTaken(sku string, exceptID int64) bool {
	for id, p := range r.tx.state.productsByID {
		if id != exceptID && p.SKU == sku {
			return true
		}
	}
	return false
}

func (r memoryProducts) Add(_ context.Context, p *domain.Product) (*domain.Product, error) {
	s := r.tx.state
	if r.skuTaken(p.SKU, 0) {
		return nil, ErrDuplicate
	}
	cp := *p
	cp.ID = s.nextProdID
	s.nextProdID++
	cp.CreatedAt = r.tx.now()
	cp.UpdatedAt = cp.CreatedAt
	s.productsByID[cp.ID] = cp
	return &cp, nil
}

func (r memoryProducts) Update(_ context.Context, p *domain.Product) error {
	s := r.tx.state
	old, ok := s.productsByID[p.ID]
	if !ok {
		return ErrNotFound
	}
	if r.skuTaken(p.SKU, p.ID) {
		return ErrDuplicate
	}
	p.CreatedAt = old.CreatedAt
	p.UpdatedAt = r.tx.now()
	s.productsByID[p.ID] = *p
	return nil
}

func (r memoryProducts) GetByID(_ context.Context, id int64) (*domain.Product, error) {
	p, ok := r.tx.state.productsByID[id]
	if !ok {
		return nil, ErrNotFound
	}
	// return copy
	return &p, nil
}

func (r memoryProducts) GetBySKU(_ context.Context, sku string) (*domain.Product, error) {
	for _, p := range r.tx.state.productsByID {
		if p.SKU == sku {
			return &p, nil
		}
	}
	return nil, ErrNotFound
}

func (r memoryProducts) List(context.Context) ([]domain.Product, error) {
	out := make([]domain.Product, 0, len(r.tx.state.productsByID))
	for _, p := range r.tx.state.productsByID {
		out = append(out, p)
	}
	slices.SortFunc(out, func(a, b domain.Product) int { return cmp.Compare(a.ID, b.ID) })
	return out, nil
}

type memoryOrders struct{ tx *memoryTx }

var _ OrderRepository = memoryOrders{}

func (r memoryOrders) Add(_ context.Context, o *domain.Order) (*domain.Order, error) {
	s := r.tx.state
	cp := *o
	cp.ID = s.nextOrderID
	s.nextOrderID++
	cp.CreatedAt = r.tx.now()
	cp.Items = slices.Clone(o.Items)
	s.ordersByID[cp.ID] = cp
	out := cp
	out.Items = slices.Clone(cp.Items)
	return &out, nil
}

func (r memoryOrders) GetByID(_ context.Context, id int64) (*domain.Order, error) {
	o, ok := r.tx.state.ordersByID[id]
	if !ok {
		return nil, ErrNotFound
	}
	o.Items = slices.Clone(o.Items)
	return &o, nil
}

func (r memoryOrders) List(context.Context) ([]domain.Order, error) {
	out := make([]domain.Order, 0, len(r.tx.state.ordersByID))
	for _, o := range r.tx.state.ordersByID {
		o.Items = slices.Clone(o.Items)
		out = append(out, o)
	}
	slices.SortFunc(out, func(a, b domain.Order) int { return cmp.Compare(a.ID, b.ID) })
	return out, nil
}
