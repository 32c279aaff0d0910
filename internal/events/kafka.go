package events

import (
	"context"
	"strings"
	"time"

	"github.com/go-faster/errors"
	"github.com/segmentio/kafka-go"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/trace"

	"github.com/xenking/storefront-checkout/internal/domain/order"
)

// messageWriter is the subset of *kafka.Writer used by KafkaPublisher.
type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

var _ order.Publisher = (*KafkaPublisher)(nil)

// KafkaPublisher writes order events to a Kafka topic, keyed by order id so
// that all events of one order land on the same partition.
type KafkaPublisher struct {
	writer     messageWriter
	brokers    []string
	topic      string
	timeout    time.Duration
	tracer     trace.Tracer
	propagator propagation.TextMapPropagator
	now        func() time.Time
}

// defaultPublishTimeout bounds a single publish when KafkaConfig leaves it
// unset.
const defaultPublishTimeout = 2 * time.Second

// KafkaConfig configures the Kafka writer. PublishTimeout caps one publish,
// writer retries included.
type KafkaConfig struct {
	Brokers        []string
	Topic          string
	PublishTimeout time.Duration
}

// NewKafkaPublisher creates a publisher with a kafka-go writer.
func NewKafkaPublisher(cfg KafkaConfig, tp trace.TracerProvider) (*KafkaPublisher, error) {
	if len(cfg.Brokers) == 0 {
		return nil, errors.New("kafka brokers required")
	}
	if strings.TrimSpace(cfg.Topic) == "" {
		return nil, errors.New("kafka topic required")
	}
	timeout := cfg.PublishTimeout
	if timeout <= 0 {
		timeout = defaultPublishTimeout
	}
	w := &kafka.Writer{
		Addr:                   kafka.TCP(cfg.Brokers...),
		Topic:                  cfg.Topic,
		Balancer:               &kafka.Hash{},
		AllowAutoTopicCreation: true,
		BatchTimeout:           50 * time.Millisecond,
		RequiredAcks:           kafka.RequireAll,
		MaxAttempts:            3,
		WriteTimeout:           timeout,
	}
	p := newKafkaPublisher(w, cfg.Topic, tp)
	p.brokers = cfg.Brokers
	p.timeout = timeout
	return p, nil
}

func newKafkaPublisher(w messageWriter, topic string, tp trace.TracerProvider) *KafkaPublisher {
	if tp == nil {
		tp = otel.GetTracerProvider()
	}
	return &KafkaPublisher{
		writer:     w,
		topic:      topic,
		timeout:    defaultPublishTimeout,
		tracer:     tp.Tracer("github.com/xenking/storefront-checkout/internal/events"),
		propagator: otel.GetTextMapPropagator(),
		now:        time.Now,
	}
}

// OrderPlaced publishes an order.placed event.
func (p *KafkaPublisher) OrderPlaced(ctx context.Context, o *order.Order) error {
	return p.publish(ctx, TypeOrderPlaced, o.ID, encodePlaced(o, p.now()))
}

// StatusChanged publishes an order.status_changed event.
func (p *KafkaPublisher) StatusChanged(ctx context.Context, o *order.Order, from order.Status) error {
	return p.publish(ctx, TypeStatusChanged, o.ID, encodeStatusChanged(o, from, p.now()))
}

// publish runs after the order is committed, so it must neither follow the
// caller's cancellation nor hold the response longer than timeout.
func (p *KafkaPublisher) publish(ctx context.Context, typ, key string, payload []byte) error {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), p.timeout)
	defer cancel()

	ctx, span := p.tracer.Start(ctx, "send "+p.topic,
		trace.WithSpanKind(trace.SpanKindProducer),
		trace.WithAttributes(
			attribute.String("messaging.system", "kafka"),
			attribute.String("messaging.operation.name", "send"),
			attribute.String("messaging.destination.name", p.topic),
			attribute.String("messaging.kafka.message.key", key),
			attribute.String("shop.event.type", typ),
		),
	)
	defer span.End()

	msg := kafka.Message{
		Key:   []byte(key),
		Value: payload,
		Headers: []kafka.Header{
			{Key: "event-type", Value: []byte(typ)},
		},
	}
	p.propagator.Inject(ctx, headerCarrier{msg: &msg})

	if err := p.writer.WriteMessages(ctx, msg); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return errors.Wrapf(err, "write %s", typ)
	}
	return nil
}

// Ping dials the configured brokers and succeeds if any of them answers.
func (p *KafkaPublisher) Ping(ctx context.Context) error {
	var last error
	for _, addr := range p.brokers {
		conn, err := kafka.DialContext(ctx, "tcp", addr)
		if err != nil {
			last = err
			continue
		}
		return conn.Close()
	}
	if last == nil {
		return errors.New("no kafka brokers")
	}
	return errors.Wrap(last, "dial kafka")
}

// Close flushes pending messages.
func (p *KafkaPublisher) Close() error {
	return p.writer.Close()
}

// headerCarrier adapts kafka message headers to a propagation.TextMapCarrier.
type headerCarrier struct {
	msg *kafka.Message
}

var _ propagation.TextMapCarrier = headerCarrier{}

func (c headerCarrier) Get(key string) string {
	for _, h := range c.msg.Headers {
		if h.Key == key {
			return string(h.Value)
		}
	}
	return ""
}

func (c headerCarrier) Set(key, value string) {
	for i, h := range c.msg.Headers {
		if h.Key == key {
			c.msg.Headers[i].Value = []byte(value)
			return
		}
	}
	c.msg.Headers = append(c.msg.Headers, kafka.Header{Key: key, Value: []byte(value)})
}

func (c headerCarrier) Keys() []string {
	keys := make([]string, len(c.msg.Headers))
	for i, h := range c.msg.Headers {
		keys[i] = h.Key
	}
	return keys
}
