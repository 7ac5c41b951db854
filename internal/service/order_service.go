package service

import (
	"context"
	"errors"
	"fmt"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"acmeshop/internal/domain"
	"acmeshop/internal/events"
	"acmeshop/internal/repository"
)

const tracerName = "acmeshop/internal/service"

// OrderLine строка запроса на заказ
type OrderLine struct {
	ProductID int64 `json:"product_id"`
	Quantity  int64 `json:"quantity"`
}

// OrderService оформление заказов: резерв остатков и сохранение заказа в одной транзакции
type OrderService struct {
	uow       repository.UnitOfWork
	publisher events.Publisher
	log       *zap.Logger
	tracer    trace.Tracer
}

func NewOrderService(uow repository.UnitOfWork, publisher events.Publisher, log *zap.Logger) *OrderService {
	if publisher == nil {
		publisher = events.NopPublisher{}
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &OrderService{uow: uow, publisher: publisher, log: log, tracer: otel.Tracer(tracerName)}
}

// PlaceOrder резервирует товар по каждой строке и сохраняет заказ.
// Любая ошибка откатывает всю транзакцию: ни заказа, ни списаний.
func (s *OrderService) PlaceOrder(ctx context.Context, lines []OrderLine) (*domain.Order, error) {
	ctx, span := s.tracer.Start(ctx, "OrderService.PlaceOrder")
	defer span.End()
	span.SetAttributes(attribute.Int("order.lines", len(lines)))

	if len(lines) == 0 {
		err := domain.Validationf("order needs at least one item")
		recordError(span, err)
		return nil, err
	}

	var placed *domain.Order
	err := s.uow.WithTransaction(ctx, func(ctx context.Context, tx repository.Tx) error {
		order := &domain.Order{}
		for _, line := range lines {
			p, err := tx.Products().GetByID(ctx, line.ProductID)
			if errors.Is(err, repository.ErrNotFound) {
				return domain.Validationf("product %d not found", line.ProductID)
			}
			if err != nil {
				return fmt.Errorf("load product %d: %w", line.ProductID, err)
			}
			if err := p.Reserve(line.Quantity); err != nil {
				return err
			}
			if err := tx.Products().Update(ctx, p); err != nil {
				return fmt.Errorf("update product %d: %w", p.ID, err)
			}
			if err := order.AddItem(p.ID, p.SKU, p.Name, p.Price, line.Quantity); err != nil {
				return err
			}
		}

		if err := order.Validate(); err != nil {
			return err
		}
		saved, err := tx.Orders().Add(ctx, order)
		if err != nil {
			return fmt.Errorf("save order: %w", err)
		}
		tx.Commit()
		placed = saved
		return nil
	})
	if err != nil {
		recordError(span, err)
		s.log.Warn("order rolled back", zap.Int("lines", len(lines)), zap.Error(err))
		return nil, err
	}

	total := placed.Total().StringFixed(domain.MoneyPlaces)
	span.SetAttributes(attribute.Int64("order.id", placed.ID), attribute.String("order.total", total))
	s.log.Info("order placed",
		zap.Int64("order_id", placed.ID),
		zap.String("total", total),
		zap.Int("items", len(placed.Items)),
	)

	// the order is committed; a lost event must not fail the request
	if err := s.publisher.PublishOrderPlaced(ctx, placed); err != nil {
		s.log.Error("order event not published", zap.Int64("order_id", placed.ID), zap.Error(err))
	}
	return placed, nil
}

// GetOrder возвращает заказ по id
func (s *OrderService) GetOrder(ctx context.Context, id int64) (*domain.Order, error) {
	var out *domain.Order
	err := s.uow.WithTransaction(ctx, func(ctx context.Context, tx repository.Tx) error {
		o, err := tx.Orders().GetByID(ctx, id)
		if errors.Is(err, repository.ErrNotFound) {
			return domain.NotFoundf("order %d not found", id)
		}
		if err != nil {
			return fmt.Errorf("load order %d: %w", id, err)
		}
		out = o
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// ListOrders все заказы по возрастанию id
func (s *OrderService) ListOrders(ctx context.Context) ([]domain.Order, error) {
	var out []domain.Order
	err := s.uow.WithTransaction(ctx, func(ctx context.Context, tx repository.Tx) error {
		var err error
		out, err = tx.Orders().List(ctx)
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("list orders: %w", err)
	}
	return out, nil
}

func recordError(span trace.Span, err error) {
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
}
