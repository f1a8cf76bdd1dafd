// Package events publishes relay side effects to kafka for downstream
// consumers (notification fan-out, search indexing).
package events

import (
	"context"
	"encoding/json"
	"time"

	kafkago "github.com/segmentio/kafka-go"
)

type MessagePersisted struct {
	MessageID string `json:"message_id"`
	ChatID    string `json:"chat_id"`
	SenderID  int64  `json:"sender_id"`
	Content   string `json:"content"`
	SentAt    string `json:"sent_at"`
}

type ChatLifecycle struct {
	Kind     string `json:"kind"` // "created" or "removed"
	ChatID   string `json:"chat_id"`
	ActorID  int64  `json:"actor_id"`
	Occurred string `json:"occurred"`
}

// Producer writes asynchronously so a slow broker never stalls the room hub's
// sequential loop. A nil Producer is valid and publishes nothing.
type Producer struct {
	messages  *kafkago.Writer
	lifecycle *kafkago.Writer
}

func NewProducer(brokers []string, messageTopic, lifecycleTopic string) *Producer {
	newWriter := func(topic string) *kafkago.Writer {
		return &kafkago.Writer{
			Addr:         kafkago.TCP(brokers...),
			Topic:        topic,
			Balancer:     &kafkago.LeastBytes{},
			RequiredAcks: kafkago.RequireOne,
			Async:        true,
		}
	}
	return &Producer{
		messages:  newWriter(messageTopic),
		lifecycle: newWriter(lifecycleTopic),
	}
}

func (p *Producer) MessagePersisted(ctx context.Context, ev MessagePersisted) error {
	if p == nil {
		return nil
	}
	return p.publish(ctx, p.messages, ev.ChatID, ev)
}

func (p *Producer) ChatCreated(ctx context.Context, chatID string, actorID int64) error {
	if p == nil {
		return nil
	}
	return p.publish(ctx, p.lifecycle, chatID, ChatLifecycle{
		Kind: "created", ChatID: chatID, ActorID: actorID, Occurred: time.Now().UTC().Format(time.RFC3339),
	})
}

func (p *Producer) ChatRemoved(ctx context.Context, chatID string, actorID int64) error {
	if p == nil {
		return nil
	}
	return p.publish(ctx, p.lifecycle, chatID, ChatLifecycle{
		Kind: "removed", ChatID: chatID, ActorID: actorID, Occurred: time.Now().UTC().Format(time.RFC3339),
	})
}

func (p *Producer) publish(ctx context.Context, w *kafkago.Writer, key string, payload any) error {
	b, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	return w.WriteMessages(ctx, kafkago.Message{
		Key:   []byte(key),
		Value: b,
		Time:  time.Now(),
	})
}

func (p *Producer) Close() error {
	if p == nil {
		return nil
	}
	if err := p.messages.Close(); err != nil {
		return err
	}
	return p.lifecycle.Close()
}
