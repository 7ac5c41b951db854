package events

import (
	"context"
	"encoding/json"
	"strconv"
	"time"

	"github.com/google/uuid"

	"acmeshop/internal/domain"
)

const (
	EventOrderPlaced = "OrderPlaced"
	eventVersion     = 1
)

// Envelope общий конверт события
type Envelope struct {
	EventID       string          `json:"event_id"`
	EventType     string          `json:"event_type"`
	EventVersion  int             `json:"event_version"`
	OccurredAt    time.Time       `json:"occurred_at"`
	Producer      string          `json:"producer"`
	CorrelationID string          `json:"correlation_id,omitempty"`
	Payload       json.RawMessage `json:"payload"`
}

type OrderPlacedItem struct {
	ProductID int64  `json:"product_id"`
	SKU       string `json:"sku"`
	Quantity  int64  `json:"quantity"`
	UnitPrice string `json:"unit_price"`
	LineTotal string `json:"line_total"`
}

type OrderPlacedPayload struct {
	OrderID int64             `json:"order_id"`
	Items   []OrderPlacedItem `json:"items"`
	Total   string            `json:"total"`
}

// Publisher получает заказ уже после commit
type Publisher interface {
	PublishOrderPlaced(ctx context.Context, o *domain.Order) error
}

// NopPublisher ничего не публикует
type NopPublisher struct{}

func (NopPublisher) PublishOrderPlaced(context.Context, *domain.Order) error { return nil }

// NewOrderPlacedEnvelope собирает событие OrderPlaced
func NewOrderPlacedEnvelope(producer string, o *domain.Order) (Envelope, error) {
	payload := OrderPlacedPayload{
		OrderID: o.ID,
		Items:   make([]OrderPlacedItem, 0, len(o.Items)),
		Total:   o.Total().StringFixed(domain.MoneyPlaces),
	}
	for _, it := range o.Items {
		payload.Items = append(payload.Items, OrderPlacedItem{
			ProductID: it.ProductID,
			SKU:       it.SKU,
			Quantity:  it.Quantity,
			UnitPrice: it.UnitPrice.StringFixed(domain.MoneyPlaces),
			LineTotal: it.LineTotal().StringFixed(domain.MoneyPlaces),
		})
	}
	raw, err := json.Marshal(payload)
	if err != nil {
		return Envelope{}, err
	}
	return Envelope{
		EventID:       uuid.NewString(),
		EventType:     EventOrderPlaced,
		EventVersion:  eventVersion,
		OccurredAt:    time.Now().UTC(),
		Producer:      producer,
		CorrelationID: strconv.FormatInt(o.ID, 10),
		Payload:       raw,
	}, nil
}
