package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"acmeshop/internal/domain"
)

const timeLayout = time.RFC3339Nano

// SQLiteStore UnitOfWork поверх SQLite.
// Один коннект на пул: транзакции выполняются строго по очереди,
// поэтому проверка остатка и списание не пересекаются.
type SQLiteStore struct {
	db  *sql.DB
	now func() time.Time
}

var _ UnitOfWork = (*SQLiteStore)(nil)

func openSQLite(path string) (*sql.DB, error) {
	db, err := sql.Open(SQLiteDriverName, path)
	if err != nil {
		return nil, err
	}

	// single writer; also keeps ":memory:" alive on one connection
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)
	db.SetConnMaxIdleTime(0)

	if path != ":memory:" {
		if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("failed to enable WAL mode: %w", err)
		}
	}
	if _, err := db.Exec("PRAGMA foreign_keys=ON"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to enable foreign keys: %w", err)
	}
	if _, err := db.Exec("PRAGMA busy_timeout=5000"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to set busy timeout: %w", err)
	}
	return db, nil
}

// NewSQLiteStore открывает базу и применяет миграции
func NewSQLiteStore(ctx context.Context, path string) (*SQLiteStore, error) {
	db, err := openSQLite(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	if err := ApplySQLiteMigrations(ctx, db); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to apply migrations: %w", err)
	}
	return &SQLiteStore{db: db, now: func() time.Time { return time.Now().UTC() }}, nil
}

func (s *SQLiteStore) Close() error { return s.db.Close() }

func (s *SQLiteStore) Ping(ctx context.Context) error { return s.db.PingContext(ctx) }

func (s *SQLiteStore) WithTransaction(ctx context.Context, fn func(ctx context.Context, tx Tx) error) error {
	sqlTx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	// no-op after a successful commit
	defer func() { _ = sqlTx.Rollback() }()

	tx := &sqliteTx{tx: sqlTx, now: s.now}
	if err := fn(ctx, tx); err != nil {
		return err
	}
	if !tx.committed {
		return nil
	}
	if err := sqlTx.Commit(); err != nil {
		return fmt.Errorf("commit transaction: %w", err)
	}
	return nil
}

type sqliteTx struct {
	commitFlag
	tx  *sql.Tx
	now func() time.Time
}

func (t *sqliteTx) Products() ProductRepository { return sqliteProducts{t} }
func (t *sqliteTx) Orders() OrderRepository     { return sqliteOrders{t} }

func isUniqueViolation(err error) bool {
	return err != nil && strings.Contains(err.Error(), "UNIQUE constraint failed")
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanSQLiteProduct(row rowScanner) (*domain.Product, error) {
	var (
		p                domain.Product
		price            string
		created, updated string
	)
	if err := row.Scan(&p.ID, &p.SKU, &p.Name, &price, &p.Stock, &created, &updated); err != nil {
		return nil, err
	}
	var err error
	if p.Price, err = decimal.NewFromString(price); err != nil {
		return nil, fmt.Errorf("product %d: bad price %q: %w", p.ID, price, err)
	}
	if p.CreatedAt, err = time.Parse(timeLayout, created); err != nil {
		return nil, err
	}
	if p.UpdatedAt, err = time.Parse(timeLayout, updated); err != nil {
		return nil, err
	}
	return &p, nil
}

const sqliteProductColumns = `id, sku, name, price, stock, created_at, updated_at`

type sqliteProducts struct{ t *sqliteTx }

var _ ProductRepository = sqliteProducts{}

func (r sqliteProducts) Add(ctx context.Context, p *domain.Product) (*domain.Product, error) {
	now := r.t.now()
	res, err := r.t.tx.ExecContext(ctx,
		`INSERT INTO products (sku, name, price, stock, created_at, updated_at) VALUES (?, ?, ?, ?, ?, ?)`,
		p.SKU, p.Name, p.Price.String(), p.Stock, now.Format(timeLayout), now.Format(timeLayout))
	if err != nil {
		if isUniqueViolation(err) {
			return nil, ErrDuplicate
		}
		return nil, fmt.Errorf("failed to insert product: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return nil, err
	}
	cp := *p
	cp.ID = id
	cp.CreatedAt = now
	cp.UpdatedAt = now
	return &cp, nil
}

func (r sqliteProducts) Update(ctx context.Context, p *domain.Product) error {
	now := r.t.now()
	res, err := r.t.tx.ExecContext(ctx,
		`UPDATE products SET sku = ?, name = ?, price = ?, stock = ?, updated_at = ? WHERE id = ?`,
		p.SKU, p.Name, p.Price.String(), p.Stock, now.Format(timeLayout), p.ID)
	if err != nil {
		if isUniqueViolation(err) {
			return ErrDuplicate
		}
		return fmt.Errorf("failed to update product %d: %w", p.ID, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	p.UpdatedAt = now
	return nil
}

func (r sqliteProducts) GetByID(ctx context.Context, id int64) (*domain.Product, error) {
	row := r.t.tx.QueryRowContext(ctx, `SELECT `+sqliteProductColumns+` FROM products WHERE id = ?`, id)
	p, err := scanSQLiteProduct(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	return p, err
}

func (r sqliteProducts) GetBySKU(ctx context.Context, sku string) (*domain.Product, error) {
	row := r.t.tx.QueryRowContext(ctx, `SELECT `+sqliteProductColumns+` FROM products WHERE sku = ?`, sku)
	p, err := scanSQLiteProduct(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	return p, err
}

func (r sqliteProducts) List(ctx context.Context) ([]domain.Product, error) {
	rows, err := r.t.tx.QueryContext(ctx, `SELECT `+sqliteProductColumns+` FROM products ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("failed to list products: %w", err)
	}
	defer rows.Close()

	out := make([]domain.Product, 0)
	for rows.Next() {
		p, err := scanSQLiteProduct(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *p)
	}
	return out, rows.Err()
}

type sqliteOrders struct{ t *sqliteTx }

var _ OrderRepository = sqliteOrders{}

func (r sqliteOrders) Add(ctx context.Context, o *domain.Order) (*domain.Order, error) {
	now := r.t.now()
	res, err := r.t.tx.ExecContext(ctx, `INSERT INTO orders (created_at) VALUES (?)`, now.Format(timeLayout))
	if err != nil {
		return nil, fmt.Errorf("failed to insert order: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return nil, err
	}
	for _, it := range o.Items {
		if _, err := r.t.tx.ExecContext(ctx,
			`INSERT INTO order_items (order_id, product_id, sku, name, unit_price, quantity) VALUES (?, ?, ?, ?, ?, ?)`,
			id, it.ProductID, it.SKU, it.Name, it.UnitPrice.String(), it.Quantity); err != nil {
			return nil, fmt.Errorf("failed to insert order item: %w", err)
		}
	}
	// reload with items
	return r.GetByID(ctx, id)
}

func (r sqliteOrders) GetByID(ctx context.Context, id int64) (*domain.Order, error) {
	var (
		o       domain.Order
		created string
	)
	err := r.t.tx.QueryRowContext(ctx, `SELECT id, created_at FROM orders WHERE id = ?`, id).Scan(&o.ID, &created)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get order %d: %w", id, err)
	}
	if o.CreatedAt, err = time.Parse(timeLayout, created); err != nil {
		return nil, err
	}
	items, err := r.items(ctx, `WHERE order_id = ?`, id)
	if err != nil {
		return nil, err
	}
	o.Items = items[o.ID]
	return &o, nil
}

func (r sqliteOrders) List(ctx context.Context) ([]domain.Order, error) {
	rows, err := r.t.tx.QueryContext(ctx, `SELECT id, created_at FROM orders ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("failed to list orders: %w", err)
	}
	out := make([]domain.Order, 0)
	for rows.Next() {
		var (
			o       domain.Order
			created string
		)
		if err := rows.Scan(&o.ID, &created); err != nil {
			_ = rows.Close()
			return nil, err
		}
		if o.CreatedAt, err = time.Parse(timeLayout, created); err != nil {
			_ = rows.Close()
			return nil, err
		}
		out = append(out, o)
	}
	_ = rows.Close()
	if err := rows.Err(); err != nil {
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

// items позиции, сгруппированные по order_id, в порядке вставки
func (r sqliteOrders) items(ctx context.Context, where string, args ...any) (map[int64][]domain.OrderItem, error) {
	rows, err := r.t.tx.QueryContext(ctx,
		`SELECT order_id, product_id, sku, name, unit_price, quantity FROM order_items `+where+` ORDER BY order_id, id`, args...)
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
