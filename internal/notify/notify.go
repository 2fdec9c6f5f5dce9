// Package notify publishes operator-facing events to a RabbitMQ topic
// exchange so human agents learn about handoffs outside the dashboard.
package notify

import (
	"context"
	"encoding/json"
	"log"
	"time"

	"github.com/google/uuid"
	"github.com/rabbitmq/amqp091-go"
)

const (
	producerName      = "inbox-gateway"
	handoffRoutingKey = "conversation.handoff.v1"
)

// Notifier is what the AI orchestrator calls when a conversation needs a
// human.
type Notifier interface {
	NotifyHandoff(ctx context.Context, conversationID, trigger, reason string) error
}

// Envelope wraps every published event.
type Envelope struct {
	Meta Meta `json:"meta"`
	Data any  `json:"data"`
}

type Meta struct {
	ID       string    `json:"id"`
	Type     string    `json:"type"`
	Producer string    `json:"producer"`
	Time     time.Time `json:"time"`
}

// HandoffEvent is the payload for conversation.handoff.v1.
type HandoffEvent struct {
	ConversationID string `json:"conversation_id"`
	Trigger        string `json:"trigger"`
	Reason         string `json:"reason"`
}

// RabbitNotifier publishes to a durable topic exchange.
type RabbitNotifier struct {
	conn     *amqp091.Connection
	exchange string
}

func NewRabbitNotifier(url, exchange string) (*RabbitNotifier, error) {
	conn, err := amqp091.Dial(url)
	if err != nil {
		return nil, err
	}
	ch, err := conn.Channel()
	if err != nil {
		conn.Close()
		return nil, err
	}
	defer ch.Close()
	if err := ch.ExchangeDeclare(exchange, "topic", true, false, false, false, nil); err != nil {
		conn.Close()
		return nil, err
	}
	return &RabbitNotifier{conn: conn, exchange: exchange}, nil
}

func (n *RabbitNotifier) NotifyHandoff(ctx context.Context, conversationID, trigger, reason string) error {
	return n.publish(ctx, handoffRoutingKey, HandoffEvent{
		ConversationID: conversationID,
		Trigger:        trigger,
		Reason:         reason,
	})
}

func (n *RabbitNotifier) publish(ctx context.Context, key string, data any) error {
	ch, err := n.conn.Channel()
	if err != nil {
		return err
	}
	defer ch.Close()

	envelope := Envelope{
		Meta: Meta{
			ID:       uuid.NewString(),
			Type:     key,
			Producer: producerName,
			Time:     time.Now().UTC(),
		},
		Data: data,
	}
	body, err := json.Marshal(envelope)
	if err != nil {
		return err
	}

	return ch.PublishWithContext(ctx, n.exchange, key, false, false, amqp091.Publishing{
		ContentType: "application/json",
		MessageId:   envelope.Meta.ID,
		Timestamp:   envelope.Meta.Time,
		Body:        body,
	})
}

func (n *RabbitNotifier) Close() error {
	return n.conn.Close()
}

// NopNotifier is used when no broker is configured; handoffs still reach the
// dashboard through the websocket hub.
type NopNotifier struct{}

func (NopNotifier) NotifyHandoff(ctx context.Context, conversationID, trigger, reason string) error {
	log.Printf("Handoff requested for conversation %s (%s): %s", conversationID, trigger, reason)
	return nil
}
