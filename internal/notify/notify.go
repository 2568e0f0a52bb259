package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
	"github.com/streadway/amqp"

	"github.com/gvmbt/pvndora-shop/internal/metrics"
)

// Template kinds understood by the (external) delivery worker.
const (
	KindOrderCreated   = "order_created"
	KindOrderPaid      = "order_paid"
	KindOrderDelivered = "order_delivered"
	KindOrderExpired   = "order_expired"
	KindCommission     = "commission_credited"
)

// Notifier is the best-effort notification capability. Implementations must
// never let a delivery failure escape to the caller: order mutation cannot be
// blocked by a push message.
type Notifier interface {
	Notify(ctx context.Context, userID int64, kind string, params map[string]string)
}

// Event is the JSON envelope published to the bus.
type Event struct {
	EventID   string            `json:"eventId"`
	UserID    int64             `json:"userId"`
	Kind      string            `json:"kind"`
	Params    map[string]string `json:"params"`
	Timestamp time.Time         `json:"timestamp"`
}

// AMQPNotifier publishes notification events to a durable exchange; a
// delivery worker elsewhere turns them into push messages.
type AMQPNotifier struct {
	channel    *amqp.Channel
	connection *amqp.Connection
	exchange   string
	routingKey string
	metrics    *metrics.Commerce
}

func NewAMQPNotifier(url, exchange, routingKey string, m *metrics.Commerce) (*AMQPNotifier, error) {
	conn, err := amqp.Dial(url)
	if err != nil {
		return nil, fmt.Errorf("notify: dial RabbitMQ: %w", err)
	}
	ch, err := conn.Channel()
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("notify: open channel: %w", err)
	}
	if err := ch.ExchangeDeclare(
		exchange, // name
		"topic",  // type
		true,     // durable
		false,    // auto-deleted
		false,    // internal
		false,    // no-wait
		nil,      // arguments
	); err != nil {
		conn.Close()
		return nil, fmt.Errorf("notify: declare exchange %s: %w", exchange, err)
	}

	log.Info().Str("exchange", exchange).Msg("Notification publisher connected")
	return &AMQPNotifier{
		channel:    ch,
		connection: conn,
		exchange:   exchange,
		routingKey: routingKey,
		metrics:    m,
	}, nil
}

// Notify publishes the event. Failures are logged and counted, never
// returned.
func (n *AMQPNotifier) Notify(ctx context.Context, userID int64, kind string, params map[string]string) {
	event := Event{
		EventID:   uuid.New().String(),
		UserID:    userID,
		Kind:      kind,
		Params:    params,
		Timestamp: time.Now(),
	}
	body, err := json.Marshal(event)
	if err != nil {
		n.dropped(userID, kind, err)
		return
	}

	err = n.channel.Publish(
		n.exchange,
		n.routingKey,
		false, // mandatory
		false, // immediate
		amqp.Publishing{
			ContentType:  "application/json",
			DeliveryMode: amqp.Persistent,
			MessageId:    event.EventID,
			Timestamp:    event.Timestamp,
			Body:         body,
		})
	if err != nil {
		n.dropped(userID, kind, err)
		return
	}

	log.Debug().Int64("userId", userID).Str("kind", kind).Str("eventId", event.EventID).
		Msg("Notification published")
}

func (n *AMQPNotifier) dropped(userID int64, kind string, err error) {
	n.metrics.NotifyFailures.Inc()
	log.Warn().Err(err).Int64("userId", userID).Str("kind", kind).
		Msg("Dropped best-effort notification")
}

func (n *AMQPNotifier) Close() {
	if n.channel != nil {
		n.channel.Close()
	}
	if n.connection != nil {
		n.connection.Close()
	}
}

// LogNotifier is the stand-in used when the bus is disabled: events go to the
// log only. Useful for local runs and tests.
type LogNotifier struct{}

func (LogNotifier) Notify(_ context.Context, userID int64, kind string, params map[string]string) {
	log.Info().Int64("userId", userID).Str("kind", kind).Interface("params", params).
		Msg("Notification (log only)")
}
