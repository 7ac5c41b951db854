package service

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/shopspring/decimal"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"acmeshop/internal/domain"
	"acmeshop/internal/repository"
)

// ProductInput данные для создания и обновления товара
type ProductInput struct {
	SKU   string
	Name  string
	Price string
	Stock int64
}

// ProductService инкапсулирует бизнес-логику вокруг товаров
type ProductService struct {
	uow    repository.UnitOfWork
	log    *zap.Logger
	tracer trace.Tracer
}

func NewProductService(uow repository.UnitOfWork, log *zap.Logger) *ProductService {
	if log == nil {
		log = zap.NewNop()
	}
	return &ProductService{uow: uow, log: log, tracer: otel.Tracer(tracerName)}
}

func parsePrice(s string) (decimal.Decimal, error) {
	price, err := decimal.NewFromString(strings.TrimSpace(s))
	if err != nil {
		return decimal.Zero, domain.Validationf("invalid price %q", s)
	}
	if !price.Equal(price.Round(domain.MoneyPlaces)) {
		return decimal.Zero, domain.Validationf("price %q has more than %d decimal places", s, domain.MoneyPlaces)
	}
	return price, nil
}

// Create проверяет товар и уникальность sku, затем сохраняет. Проверка и вставка в одной транзакции.
func (s *ProductService) Create(ctx context.Context, in ProductInput) (*domain.Product, error) {
	ctx, span := s.tracer.Start(ctx, "ProductService.Create")
	defer span.End()

	price, err := parsePrice(in.Price)
	if err != nil {
		recordError(span, err)
		return nil, err
	}
	p := domain.NewProduct(strings.TrimSpace(in.SKU), strings.TrimSpace(in.Name), price, in.Stock)
	if err := p.Validate(); err != nil {
		recordError(span, err)
		return nil, err
	}
	span.SetAttributes(attribute.String("product.sku", p.SKU))

	var created *domain.Product
	err = s.uow.WithTransaction(ctx, func(ctx context.Context, tx repository.Tx) error {
		if err := ensureSKUFree(ctx, tx, p.SKU); err != nil {
			return err
		}
		saved, err := tx.Products().Add(ctx, p)
		if errors.Is(err, repository.ErrDuplicate) {
			return domain.Validationf("sku %s already exists", p.SKU)
		}
		if err != nil {
			return fmt.Errorf("save product: %w", err)
		}
		tx.Commit()
		created = saved
		return nil
	})
	if err != nil {
		recordError(span, err)
		return nil, err
	}
	s.log.Info("product created", zap.Int64("product_id", created.ID), zap.String("sku", created.SKU))
	return created, nil
}

// Update перезаписывает все поля товара
func (s *ProductService) Update(ctx context.Context, id int64, in ProductInput) (*domain.Product, error) {
	ctx, span := s.tracer.Start(ctx, "ProductService.Update")
	defer span.End()
	span.SetAttributes(attribute.Int64("product.id", id))

	price, err := parsePrice(in.Price)
	if err != nil {
		recordError(span, err)
		return nil, err
	}

	var updated *domain.Product
	err = s.uow.WithTransaction(ctx, func(ctx context.Context, tx repository.Tx) error {
		existing, err := tx.Products().GetByID(ctx, id)
		if errors.Is(err, repository.ErrNotFound) {
			return domain.Validationf("product %d not found", id)
		}
		if err != nil {
			return fmt.Errorf("load product %d: %w", id, err)
		}

		newSKU := strings.TrimSpace(in.SKU)
		if newSKU != existing.SKU {
			if err := ensureSKUFree(ctx, tx, newSKU); err != nil {
				return err
			}
		}
		existing.SKU = newSKU
		existing.Name = strings.TrimSpace(in.Name)
		existing.Price = price
		existing.Stock = in.Stock
		if err := existing.Validate(); err != nil {
			return err
		}

		err = tx.Products().Update(ctx, existing)
		if errors.Is(err, repository.ErrDuplicate) {
			return domain.Validationf("sku %s already exists", newSKU)
		}
		if err != nil {
			return fmt.Errorf("update product %d: %w", id, err)
		}
		tx.Commit()
		updated = existing
		return nil
	})
	if err != nil {
		recordError(span, err)
		return nil, err
	}
	s.log.Info("product updated", zap.Int64("product_id", updated.ID), zap.String("sku", updated.SKU))
	return updated, nil
}

// Get возвращает товар по id
func (s *ProductService) Get(ctx context.Context, id int64) (*domain.Product, error) {
	var out *domain.Product
	err := s.uow.WithTransaction(ctx, func(ctx context.Context, tx repository.Tx) error {
		p, err := tx.Products().GetByID(ctx, id)
		if errors.Is(err, repository.ErrNotFound) {
			return domain.NotFoundf("product %d not found", id)
		}
		if err != nil {
			return fmt.Errorf("load product %d: %w", id, err)
		}
		out = p
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// List все товары по возрастанию id
func (s *ProductService) List(ctx context.Context) ([]domain.Product, error) {
	var out []domain.Product
	err := s.uow.WithTransaction(ctx, func(ctx context.Context, tx repository.Tx) error {
		var err error
		out, err = tx.Products().List(ctx)
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("list products: %w", err)
	}
	return out, nil
}

func ensureSKUFree(ctx context.Context, tx repository.Tx, sku string) error {
	_, err := tx.Products().GetBySKU(ctx, sku)
	switch {
	case err == nil:
		return domain.Validationf("sku %s already exists", sku)
	case errors.Is(err, repository.ErrNotFound):
		return nil
	default:
		return fmt.Errorf("check sku %s: %w", sku, err)
	}
}
