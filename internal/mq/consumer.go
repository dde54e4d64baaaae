package mq

import (
	"context"
	"errors"
	"fmt"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
	"go.uber.org/zap"
)

// MessageHandler is a function that processes a message
type MessageHandler func(ctx context.Context, body []byte) error

// DefaultMaxRedeliveries bounds requeues of a delivery that keeps failing
// with a transient error.
const DefaultMaxRedeliveries = 5

// deliveryCountHeader is maintained by RabbitMQ on quorum queues
const deliveryCountHeader = "x-delivery-count"

// Consumer feeds queued telemetry from field gateways into a MessageHandler.
// Transient handler errors (see Retryable) requeue the delivery up to
// maxRedeliveries times; every other error NACKs it to the DLQ.
type Consumer struct {
	channel         *amqp.Channel
	queue           string
	prefetchCount   int
	handlerTimeout  time.Duration
	maxRedeliveries int
	logger          *zap.Logger
	handle          MessageHandler
}

// ConsumerConfig holds consumer configuration. A zero MaxRedeliveries means
// DefaultMaxRedeliveries.
type ConsumerConfig struct {
	Connection      *Connection
	Queue           string
	DLQQueue        string
	Exchange        string
	RoutingKey      string
	PrefetchCount   int
	HandlerTimeout  time.Duration
	MaxRedeliveries int
	Logger          *zap.Logger
	Handler         MessageHandler
}

// NewConsumer opens a channel and declares the ingest exchange, queue and DLQ
func NewConsumer(cfg ConsumerConfig) (*Consumer, error) {
	ch, err := cfg.Connection.Channel()
	if err != nil {
		return nil, fmt.Errorf("failed to create channel: %w", err)
	}

	if err := ch.Qos(cfg.PrefetchCount, 0, false); err != nil {
		ch.Close()
		return nil, fmt.Errorf("failed to set QoS: %w", err)
	}

	if err := declareIngestTopology(ch, cfg); err != nil {
		ch.Close()
		return nil, err
	}

	maxRedeliveries := cfg.MaxRedeliveries
	if maxRedeliveries <= 0 {
		maxRedeliveries = DefaultMaxRedeliveries
	}

	return &Consumer{
		channel:         ch,
		queue:           cfg.Queue,
		prefetchCount:   cfg.PrefetchCount,
		handlerTimeout:  cfg.HandlerTimeout,
		maxRedeliveries: maxRedeliveries,
		logger:          cfg.Logger,
		handle:          cfg.Handler,
	}, nil
}

func declareIngestTopology(ch *amqp.Channel, cfg ConsumerConfig) error {
	err := ch.ExchangeDeclare(
		cfg.Exchange,
		"topic",
		true,  // durable
		false, // auto-deleted
		false, // internal
		false, // no-wait
		nil,   // arguments
	)
	if err != nil {
		return fmt.Errorf("failed to declare exchange: %w", err)
	}

	// DLQ first so the dead-letter route exists before the main queue uses it
	_, err = ch.QueueDeclare(cfg.DLQQueue, true, false, false, false, nil)
	if err != nil {
		return fmt.Errorf("failed to declare DLQ: %w", err)
	}

	// quorum queues track x-delivery-count, which bounds transient requeues
	args := amqp.Table{
		"x-queue-type":              "quorum",
		"x-dead-letter-exchange":    "",
		"x-dead-letter-routing-key": cfg.DLQQueue,
	}
	_, err = ch.QueueDeclare(
		cfg.Queue,
		true,  // durable
		false, // delete when unused
		false, // exclusive
		false, // no-wait
		args,
	)
	if err != nil {
		return fmt.Errorf("failed to declare queue: %w", err)
	}

	if err := ch.QueueBind(cfg.Queue, cfg.RoutingKey, cfg.Exchange, false, nil); err != nil {
		return fmt.Errorf("failed to bind queue: %w", err)
	}
	return nil
}

// Start starts consuming messages until ctx is cancelled
func (c *Consumer) Start(ctx context.Context) error {
	msgs, err := c.channel.Consume(
		c.queue,
		"",    // consumer tag
		false, // auto-ack
		false, // exclusive
		false, // no-local
		false, // no-wait
		nil,   // args
	)
	if err != nil {
		return fmt.Errorf("failed to start consuming: %w", err)
	}

	c.logger.Info("consumer started",
		zap.String("queue", c.queue),
		zap.Int("prefetch", c.prefetchCount),
	)

	go func() {
		for {
			select {
			case <-ctx.Done():
				c.logger.Info("consumer context cancelled, stopping")
				return
			case msg, ok := <-msgs:
				if !ok {
					c.logger.Warn("message channel closed")
					return
				}
				c.processMessage(ctx, msg)
			}
		}
	}()

	return nil
}

func (c *Consumer) processMessage(ctx context.Context, msg amqp.Delivery) {
	if c.handlerTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.handlerTimeout)
		defer cancel()
	}

	if err := c.handle(ctx, msg.Body); err != nil {
		requeue := Retryable(err) && deliveryCount(msg) < c.maxRedeliveries
		fields := []zap.Field{
			zap.Error(err),
			zap.String("routing_key", msg.RoutingKey),
			zap.String("message_id", msg.MessageId),
			zap.Int("delivery_count", deliveryCount(msg)),
		}
		if requeue {
			c.logger.Warn("transient failure processing queued reading, requeueing", fields...)
		} else {
			c.logger.Warn("failed to process queued reading, dead-lettering", fields...)
		}
		if nackErr := msg.Nack(false, requeue); nackErr != nil {
			c.logger.Error("failed to NACK message", zap.Error(nackErr))
		}
		return
	}

	if ackErr := msg.Ack(false); ackErr != nil {
		c.logger.Error("failed to ACK message", zap.Error(ackErr))
	}
}

// Retryable reports whether a handler error may succeed on redelivery.
func Retryable(err error) bool {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var temporary interface{ Temporary() bool }
	return errors.As(err, &temporary) && temporary.Temporary()
}

func deliveryCount(msg amqp.Delivery) int {
	switch v := msg.Headers[deliveryCountHeader].(type) {
	case int64:
		return int(v)
	case int32:
		return int(v)
	case int16:
		return int(v)
	case int:
		return v
	default:
		return 0
	}
}

// Close closes the consumer channel
func (c *Consumer) Close() error {
	if c.channel != nil {
		return c.channel.Close()
	}
	return nil
}
