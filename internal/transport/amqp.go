package transport

import (
	"context"
	"encoding/json"
	"sync"
	"sync/atomic"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/rs/zerolog"

	"coach-messaging/internal/models"
)

// AMQPChannel is a push channel consuming platform events from a RabbitMQ
// topic exchange. Used in deployments that fan events through the broker
// instead of exposing a websocket endpoint.
type AMQPChannel struct {
	url       string
	exchange  string
	userID    string
	reconnect time.Duration
	log       zerolog.Logger

	events    chan models.Event
	connected atomic.Bool
	startOnce sync.Once
}

// NewAMQPChannel builds an AMQPChannel bound to the per-user routing key.
func NewAMQPChannel(url, exchange, userID string, reconnect time.Duration, log zerolog.Logger) *AMQPChannel {
	if reconnect <= 0 {
		reconnect = 5 * time.Second
	}
	return &AMQPChannel{
		url:       url,
		exchange:  exchange,
		userID:    userID,
		reconnect: reconnect,
		log:       log.With().Str("component", "amqp").Logger(),
		events:    make(chan models.Event, 64),
	}
}

// Start begins the consume loop. Subsequent calls are no-ops.
func (a *AMQPChannel) Start(ctx context.Context) {
	a.startOnce.Do(func() {
		go a.run(ctx)
	})
}

// Events returns the channel events are delivered on.
func (a *AMQPChannel) Events() <-chan models.Event {
	return a.events
}

// Connected reports whether a consumer is currently established.
func (a *AMQPChannel) Connected() bool {
	return a.connected.Load()
}

func (a *AMQPChannel) run(ctx context.Context) {
	defer close(a.events)

	for {
		if err := a.consume(ctx); err != nil {
			a.log.Debug().Err(err).Msg("amqp consume failed, falling back to polling")
		}
		a.connected.Store(false)

		select {
		case <-ctx.Done():
			return
		case <-time.After(a.reconnect):
		}
	}
}

func (a *AMQPChannel) consume(ctx context.Context) error {
	conn, err := amqp.Dial(a.url)
	if err != nil {
		return err
	}
	defer conn.Close()

	ch, err := conn.Channel()
	if err != nil {
		return err
	}
	defer ch.Close()

	if err := ch.ExchangeDeclare(a.exchange, "topic", true, false, false, false, nil); err != nil {
		return err
	}

	queue, err := ch.QueueDeclare("", false, true, true, false, nil)
	if err != nil {
		return err
	}
	routingKey := "messaging.events." + a.userID
	if err := ch.QueueBind(queue.Name, routingKey, a.exchange, false, nil); err != nil {
		return err
	}

	deliveries, err := ch.Consume(queue.Name, "", true, true, false, false, nil)
	if err != nil {
		return err
	}

	a.connected.Store(true)
	a.log.Info().Str("exchange", a.exchange).Str("routing_key", routingKey).Msg("amqp push channel connected")

	for {
		select {
		case <-ctx.Done():
			return nil
		case delivery, ok := <-deliveries:
			if !ok {
				return nil
			}
			var ev models.Event
			if err := json.Unmarshal(delivery.Body, &ev); err != nil {
				a.log.Debug().Err(err).Msg("dropping malformed amqp event")
				continue
			}
			select {
			case <-ctx.Done():
				return nil
			case a.events <- ev:
			}
		}
	}
}
