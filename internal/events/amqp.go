package events

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/rabbitmq/amqp091-go"
)

const producer = "social-publisher"

type channel interface {
	PublishWithContext(ctx context.Context, exchange, key string, mandatory, immediate bool, msg amqp091.Publishing) error
	Close() error
}

// AMQPPublisher sends one persistent message per publish run to a topic
// exchange, routed by event type.
type AMQPPublisher struct {
	open     func() (channel, error)
	close    func() error
	exchange string
	log      *slog.Logger
	now      func() time.Time
}

func NewAMQPPublisher(url, exchange string, logger *slog.Logger) (*AMQPPublisher, error) {
	if logger == nil {
		logger = slog.Default()
	}
	conn, err := amqp091.Dial(url)
	if err != nil {
		return nil, fmt.Errorf("dial amqp: %w", err)
	}
	ch, err := conn.Channel()
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("open channel: %w", err)
	}
	defer ch.Close()
	if err := ch.ExchangeDeclare(exchange, "topic", true, false, false, false, nil); err != nil {
		conn.Close()
		return nil, fmt.Errorf("declare exchange %s: %w", exchange, err)
	}

	return &AMQPPublisher{
		open: func() (channel, error) {
			return conn.Channel()
		},
		close:    conn.Close,
		exchange: exchange,
		log:      logger,
		now:      time.Now,
	}, nil
}

func (p *AMQPPublisher) PublishResult(ctx context.Context, runID string, res ContentResult) error {
	eventType := EventType(res.Status)
	prod := producer
	env := Envelope{
		Meta: Meta{
			ID:       uuid.NewString(),
			Type:     eventType,
			Time:     p.now().UTC(),
			Producer: &prod,
		},
		Data: res,
	}
	if runID != "" {
		env.Meta.CorrelationID = &runID
	}

	body, err := json.Marshal(env)
	if err != nil {
		return err
	}

	ch, err := p.open()
	if err != nil {
		return fmt.Errorf("open channel: %w", err)
	}
	defer ch.Close()

	err = ch.PublishWithContext(ctx, p.exchange, eventType, false, false, amqp091.Publishing{
		ContentType:   "application/json",
		DeliveryMode:  amqp091.Persistent,
		MessageId:     env.Meta.ID,
		CorrelationId: runID,
		Timestamp:     env.Meta.Time,
		Type:          eventType,
		Body:          body,
	})
	if err != nil {
		return fmt.Errorf("publish %s: %w", eventType, err)
	}
	p.log.Info("event published", "exchange", p.exchange, "key", eventType, "content_id", res.ContentID)
	return nil
}

func (p *AMQPPublisher) Close() error {
	if p.close == nil {
		return nil
	}
	return p.close()
}
