// Package store is the durable chat/message gateway consumed by the hubs and
// the HTTP layer.
package store

import (
	"context"
	"errors"
	"time"
)

var (
	// ErrNotFound is returned when a chat or message does not exist.
	ErrNotFound = errors.New("not found")
	// ErrConstraint is returned when an insert references a chat or user that
	// no longer exists. The room hub's CHAT_DELETED fallback keys off it.
	ErrConstraint = errors.New("constraint violation")
)

// HistoryPageSize bounds a single page of message history.
const HistoryPageSize = 10

type Chat struct {
	ID          string    `bson:"_id" json:"chat_id"`
	Name        string    `bson:"name" json:"chat_name"`
	Description string    `bson:"description,omitempty" json:"chat_desc"`
	CreatorID   int64     `bson:"creator_id" json:"creator_id"`
	CreatedAt   time.Time `bson:"created_at" json:"date_created"`
}

type Message struct {
	ID        string    `bson:"_id,omitempty" json:"id"`
	ChatID    string    `bson:"chat_id" json:"chat_id"`
	SenderID  int64     `bson:"sender_id" json:"user_id"`
	Content   string    `bson:"content" json:"message"`
	CreatedAt time.Time `bson:"created_at" json:"date_created"`
}

// Store is the persistence gateway. Implementations must be safe for
// concurrent use; the hubs and the HTTP handlers share one instance.
type Store interface {
	InsertMessage(ctx context.Context, m *Message) (string, error)
	GetMessages(ctx context.Context, chatID string, offset int) ([]*Message, error)

	CreateChat(ctx context.Context, c *Chat) error
	GetChat(ctx context.Context, chatID string) (*Chat, error)
	GetChats(ctx context.Context) ([]*Chat, error)
	ChatExists(ctx context.Context, chatID string) (bool, error)
	RemoveChat(ctx context.Context, chatID string) error
}
