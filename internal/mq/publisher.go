package mq

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
	"go.uber.org/zap"

	"github.com/septivank/fleet-telemetry-ingest/internal/anomaly"
)

// publishChannel is the subset of *amqp.Channel the publisher uses
type publishChannel interface {
	PublishWithContext(ctx context.Context, exchange, key string, mandatory, immediate bool, msg amqp.Publishing) error
	Close() error
}

// Publisher publishes fuel anomaly notifications to RabbitMQ
type Publisher struct {
	channel    publishChannel
	exchange   string
	routingKey string
	logger     *zap.Logger
}

// NewPublisher creates a new RabbitMQ publisher and declares its exchange
func NewPublisher(conn *Connection, exchange, routingKey string, logger *zap.Logger) (*Publisher, error) {
	ch, err := conn.Channel()
	if err != nil {
		return nil, fmt.Errorf("failed to create channel: %w", err)
	}

	err = ch.ExchangeDeclare(
		exchange,
		"topic",
		true,  // durable
		false, // auto-deleted
		false, // internal
		false, // no-wait
		nil,   // arguments
	)
	if err != nil {
		ch.Close()
		return nil, fmt.Errorf("failed to declare exchange: %w", err)
	}

	return newPublisher(ch, exchange, routingKey, logger), nil
}

func newPublisher(ch publishChannel, exchange, routingKey string, logger *zap.Logger) *Publisher {
	return &Publisher{
		channel:    ch,
		exchange:   exchange,
		routingKey: routingKey,
		logger:     logger,
	}
}

// AnomalyMessage is the notification body published for each detected anomaly
type AnomalyMessage struct {
	AlertID             string  `json:"alert_id"`
	Type                string  `json:"type"`
	Severity            string  `json:"severity"`
	DeviceID            string  `json:"device_id"`
	AssetID             string  `json:"asset_id"`
	ReadingTimestamp    string  `json:"reading_timestamp"`
	PreviousFuelPercent float64 `json:"previous_fuel_percent"`
	CurrentFuelPercent  float64 `json:"current_fuel_percent"`
	FuelDropPercent     float64 `json:"fuel_drop_percent"`
	ElapsedSeconds      float64 `json:"elapsed_seconds"`
	DetectionMode       string  `json:"detection_mode"`
	DetectedAt          string  `json:"detected_at"`
	Message             string  `json:"message"`
}

func newAnomalyMessage(event *anomaly.Event) AnomalyMessage {
	return AnomalyMessage{
		AlertID:             event.ID.String(),
		Type:                "fuel_theft",
		Severity:            "high",
		DeviceID:            event.DeviceID.String(),
		AssetID:             event.AssetID.String(),
		ReadingTimestamp:    event.ReadingTimestamp.Format(time.RFC3339),
		PreviousFuelPercent: event.PreviousFuelPercent,
		CurrentFuelPercent:  event.CurrentFuelPercent,
		FuelDropPercent:     event.FuelDropPercent,
		ElapsedSeconds:      event.Elapsed.Seconds(),
		DetectionMode:       string(event.Mode),
		DetectedAt:          event.DetectedAt.Format(time.RFC3339),
		Message:             event.Description(),
	}
}

// Emit publishes a fuel anomaly notification
func (p *Publisher) Emit(ctx context.Context, event *anomaly.Event) error {
	body, err := json.Marshal(newAnomalyMessage(event))
	if err != nil {
		return fmt.Errorf("failed to marshal event: %w", err)
	}

	err = p.channel.PublishWithContext(
		ctx,
		p.exchange,
		p.routingKey,
		false, // mandatory
		false, // immediate
		amqp.Publishing{
			ContentType:  "application/json",
			Body:         body,
			DeliveryMode: amqp.Persistent,
			MessageId:    event.ID.String(),
			Timestamp:    event.DetectedAt,
		},
	)
	if err != nil {
		return fmt.Errorf("failed to publish event: %w", err)
	}

	p.logger.Debug("published anomaly event",
		zap.String("routing_key", p.routingKey),
		zap.String("alert_id", event.ID.String()),
		zap.String("device_id", event.DeviceID.String()),
	)

	return nil
}

// Close closes the publisher channel
func (p *Publisher) Close() error {
	if p.channel != nil {
		return p.channel.Close()
	}
	return nil
}
