package events

import (
	"context"
	"encoding/json"
	"errors"
	"strconv"
	"sync"
	"time"

	"github.com/segmentio/kafka-go"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/propagation"
	"go.uber.org/zap"

	"acmeshop/internal/domain"
)

// ErrPublisherClosed публикация после Close
var ErrPublisherClosed = errors.New("publisher closed")

// ErrBufferFull очередь публикатора переполнена
var ErrBufferFull = errors.New("publisher buffer full")

// MessageWriter часть kafka.Writer, нужная публикатору
type MessageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

func NewKafkaWriter(brokers []string, topic string) *kafka.Writer {
	return &kafka.Writer{
		Addr:         kafka.TCP(brokers...),
		Topic:        topic,
		Balancer:     &kafka.Hash{},
		RequiredAcks: kafka.RequireAll,

		// топик создаётся при первой записи, если брокер это разрешает
		AllowAutoTopicCreation: true,
	}
}

// KafkaPublisher пишет события из буфера в фоне; Run останавливается по ctx
// и дописывает то, что осталось в буфере.
type KafkaPublisher struct {
	w        MessageWriter
	producer string
	log      *zap.Logger
	inbox    chan kafka.Message

	// mu защищает closed; отправка в inbox идёт под RLock, поэтому после
	// установки closed в буфер больше ничего не попадёт
	mu     sync.RWMutex
	closed bool
}

func NewKafkaPublisher(w MessageWriter, producer string, buf int, log *zap.Logger) *KafkaPublisher {
	if log == nil {
		log = zap.NewNop()
	}
	return &KafkaPublisher{
		w:        w,
		producer: producer,
		log:      log,
		inbox:    make(chan kafka.Message, buf),
	}
}

var _ Publisher = (*KafkaPublisher)(nil)

// PublishOrderPlaced ставит событие в очередь; не блокирует на полном буфере
func (p *KafkaPublisher) PublishOrderPlaced(ctx context.Context, o *domain.Order) error {
	env, err := NewOrderPlacedEnvelope(p.producer, o)
	if err != nil {
		return err
	}
	value, err := json.Marshal(env)
	if err != nil {
		return err
	}
	msg := kafka.Message{
		Key:   []byte(strconv.FormatInt(o.ID, 10)),
		Value: value,
		Time:  time.Now(),
		Headers: injectTraceHeaders(ctx, []kafka.Header{
			{Key: "x-event-type", Value: []byte(env.EventType)},
			{Key: "x-event-version", Value: []byte(strconv.Itoa(env.EventVersion))},
		}),
	}

	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.closed {
		return ErrPublisherClosed
	}
	select {
	case p.inbox <- msg:
		return nil
	default:
		return ErrBufferFull
	}
}

// Run пишет сообщения до отмены ctx, затем сбрасывает буфер и закрывает writer
func (p *KafkaPublisher) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			p.mu.Lock()
			p.closed = true
			p.mu.Unlock()
			p.drain()
			return p.w.Close()
		case m := <-p.inbox:
			p.write(context.Background(), m)
		}
	}
}

func (p *KafkaPublisher) drain() {
	for {
		select {
		case m := <-p.inbox:
			p.write(context.Background(), m)
		default:
			return
		}
	}
}

func (p *KafkaPublisher) write(ctx context.Context, m kafka.Message) {
	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	if err := p.w.WriteMessages(ctx, m); err != nil {
		p.log.Error("event publish failed", zap.ByteString("key", m.Key), zap.Error(err))
		return
	}
	p.log.Debug("event published", zap.ByteString("key", m.Key))
}

func injectTraceHeaders(ctx context.Context, headers []kafka.Header) []kafka.Header {
	carrier := propagation.MapCarrier{}
	otel.GetTextMapPropagator().Inject(ctx, carrier)
	for k, v := range carrier {
		headers = append(headers, kafka.Header{Key: k, Value: []byte(v)})
	}
	return headers
}
