package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"acmeshop/internal/domain"
)

const pgUniqueViolation = "23505"

// PostgresStore UnitOfWork поверх PostgreSQL.
// Товар читается внутри транзакции с FOR UPDATE: два параллельных заказа
// на один товар выполняют проверку остатка и списание по очереди.
type PostgresStore struct {
	pool *pgxpool.Pool
}

var _ UnitOfWork = (*PostgresStore)(nil)

// ConnectPostgres открывает пул, проверяет соединение и применяет миграции
func ConnectPostgres(ctx context.Context, dsn string) (*PostgresStore, error) {
	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, err
	}
	cfg.MaxConns = 8
	cfg.MinConns = 1
	cfg.HealthCheckPeriod = 30 * time.Second
	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, err
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, err
	}
	if err := ApplyPostgresMigrations(ctx, pool); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to apply migrations: %w", err)
	}
	return &PostgresStore{pool: pool}, nil
}

func (s *PostgresStore) Close() { s.pool.Close() }

func (s *PostgresStore) Ping(ctx context.Context) error { return s.pool.Ping(ctx) }

func (s *PostgresStore) WithTransaction(ctx context.Context, fn func(ctx context.Context, tx Tx) error) error {
	pgTx, err := s.pool.BeginTx(ctx, pgx.TxOptions{IsoLevel: pgx.ReadCommitted})
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer func() { _ = pgTx.Rollback(ctx) }()

	tx := &pgTxUnit{tx: pgTx}
	if err := fn(ctx, tx); err != nil {
		return err
	}
	if !tx.committed {
		return nil
	}
	if err := pgTx.Commit(ctx); err != nil {
		return fmt.Errorf("commit transaction: %w", err)
	}
	return nil
}

type pgTxUnit struct {
	commitFlag
	tx pgx.Tx
}

func (t *pgTxUnit) Products() ProductRepository { return pgProducts{t.tx} }
func (t *pgTxUnit) Orders() OrderRepository     { return pgOrders{t.tx} }

func isPgUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == pgUniqueViolation
}

const pgProductColumns = `id, sku, name, price::text, stock, created_at, updated_at`

func scanPgProduct(row pgx.Row) (*domain.Product, error) {
	var (
		p     domain.Product
		price string
	)
	if err := row.Scan(&p.ID, &p.SKU, &p.Name, &price, &p.Stock, &p.CreatedAt, &p.UpdatedAt); err != nil {
		return nil, err
	}
	var err error
	if p.Price, err = decimal.NewFromString(price); err != nil {
		return nil, fmt.Errorf("product %d: bad price %q: %w", p.ID, price, err)
	}
	return &p, nil
}

type pgProducts struct{ tx pgx.Tx }

var _ ProductRepository = pgProducts{}

func (r pgProducts) Add(ctx context.Context, p *domain.Product) (*domain.Product, error) {
	row := r.tx.QueryRow(ctx, `
		INSERT INTO products (sku, name, price, stock)
		VALUES ($1, $2, $3::numeric, $4)
		RETURNING `+pgProductColumns,
		p.SKU, p.Name, p.Price.String(), p.Stock)
	out, err := scanPgProduct(row)
	if err != nil {
		if isPgUniqueViolation(err) {
			return nil, ErrDuplicate
		}
		return nil, fmt.Errorf("failed to insert product: %w", err)
	}
	return out, nil
}

func (r pgProducts) Update(ctx context.Context, p *domain.Product) error {
	ct, err := r.tx.Exec(ctx, `
		UPDATE products SET sku = $2, name = $3, price = $4::numeric, stock = $5, updated_at = now()
		WHERE id = $1`,
		p.ID, p.SKU, p.Name, p.Price.String(), p.Stock)
	if err != nil {
		if isPgUniqueViolation(err) {
			return ErrDuplicate
		}
		return fmt.Errorf("failed to update product %d: %w", p.ID, err)
	}
	if ct.RowsAffected() != 1 {
		return ErrNotFound
	}
	return nil
}

// GetByID блокирует строку до конца транзакции
func (r pgProducts) GetByID(ctx context.Context, id int64) (*domain.Product, error) {
	p, err := scanPgProduct(r.tx.QueryRow(ctx, `SELECT `+pgProductColumns+` FROM products WHERE id = $1 FOR UPDATE`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	return p, err
}

func (r pgProducts) GetBySKU(ctx context.Context, sku string) (*domain.Product, error) {
	p, err := scanPgProduct(r.tx.QueryRow(ctx, `SELECT `+pgProductColumns+` FROM products WHERE sku = $1`, sku))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	return p, err
}

func (r pgProducts) List(ctx context.Context) ([]domain.Product, error) {
	rows, err := r.tx.Query(ctx, `SELECT `+pgProductColumns+` FROM products ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("failed to list products: %w", err)
	}
	defer rows.Close()

	out := make([]domain.Product, 0)
	for rows.Next() {
		p, err := scanPgProduct(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *p)
	}
	return out, rows.Err()
}

type pgOrders struct{ tx pgx.Tx }

var _ OrderRepository = pgOrders{}

func (r pgOrders) Add(ctx context.Context, o *domain.Order) (*domain.Order, error) {
	out := domain.Order{}
	if err := r.tx.QueryRow(ctx, `INSERT INTO orders DEFAULT VALUES RETURNING id, created_at`).
		Scan(&out.ID, &out.CreatedAt); err != nil {
		return nil, fmt.Errorf("failed to insert order: %w", err)
	}

	batch := &pgx.Batch{}
	for _, it := range o.Items {
		batch.Queue(`INSERT INTO order_items (order_id, product_id, sku, name, unit_price, quantity)
			VALUES ($1, $2, $3, $4, $5::numeric, $6)`,
			out.ID, it.ProductID, it.SKU, it.Name, it.UnitPrice.String(), it.Quantity)
	}
	if err := r.tx.SendBatch(ctx, batch).Close(); err != nil {
		return nil, fmt.Errorf("failed to insert order items: %w", err)
	}
	// reload with items
	return r.GetByID(ctx, out.ID)
}

func (r pgOrders) GetByID(ctx context.Context, id int64) (*domain.Order, error) {
	var o domain.Order
	err := r.tx.QueryRow(ctx, `SELECT id, created_at FROM orders WHERE id = $1`, id).Scan(&o.ID, &o.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get order %d: %w", id, err)
	}
	items, err := r.items(ctx, `WHERE order_id = $1`, id)
	if err != nil {
		return nil, err
	}
	o.Items = items[o.ID]
	return &o, nil
}

func (r pgOrders) List(ctx context.Context) ([]domain.Order, error) {
	rows, err := r.tx.Query(ctx, `SELECT id, created_at FROM orders ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("failed to list orders: %w", err)
	}
	out, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (domain.Order, error) {
		var o domain.Order
		err := row.Scan(&o.ID, &o.CreatedAt)
		return o, err
	})
	if err != nil {
		return nil, err
	}

	items, err := r.items(ctx, "")
	if err != nil {
		return nil, err
	}
	for i := range out {
		out[i].Items = items[out[i].ID]
	}
	return out, nil
}

func (r pgOrders) items(ctx context.Context, where string, args ...any) (map[int64][]domain.OrderItem, error) {
	rows, err := r.tx.Query(ctx,
		`SELECT order_id, product_id, sku, name, unit_price::text, quantity FROM order_items `+where+` ORDER BY order_id, id`, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to load order items: %w", err)
	}
	defer rows.Close()

	out := make(map[int64][]domain.OrderItem)
	for rows.Next() {
		var (
			orderID int64
			it      domain.OrderItem
			price   string
		)
		if err := rows.Scan(&orderID, &it.ProductID, &it.SKU, &it.Name, &price, &it.Quantity); err != nil {
			return nil, err
		}
		if it.UnitPrice, err = decimal.NewFromString(price); err != nil {
			return nil, fmt.Errorf("order %d: bad unit price %q: %w", orderID, price, err)
		}
		out[orderID] = append(out[orderID], it)
	}
	return out, rows.Err()
}
