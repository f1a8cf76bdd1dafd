package store

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

type mongoStore struct {
	chats    *mongo.Collection
	messages *mongo.Collection
}

// NewMongoStore builds a Store over the chats and messages collections of db.
func NewMongoStore(db *mongo.Database) Store {
	messages := db.Collection("messages")
	idx := mongo.IndexModel{
		Keys:    bson.D{{Key: "chat_id", Value: 1}, {Key: "created_at", Value: -1}},
		Options: options.Index().SetName("chat_created_idx"),
	}
	_, _ = messages.Indexes().CreateOne(context.Background(), idx)
	return &mongoStore{
		chats:    db.Collection("chats"),
		messages: messages,
	}
}

func (s *mongoStore) InsertMessage(ctx context.Context, m *Message) (string, error) {
	// Mongo has no foreign keys; verify the referenced chat still exists so a
	// write into a deleted chat surfaces as ErrConstraint, not as a silent insert.
	exists, err := s.ChatExists(ctx, m.ChatID)
	if err != nil {
		return "", err
	}
	if !exists {
		return "", fmt.Errorf("insert message into chat %s: %w", m.ChatID, ErrConstraint)
	}

	m.ID = uuid.New().String()
	m.CreatedAt = time.Now().UTC()
	if _, err := s.messages.InsertOne(ctx, m); err != nil {
		return "", fmt.Errorf("insert message: %w", err)
	}
	return m.ID, nil
}

func (s *mongoStore) GetMessages(ctx context.Context, chatID string, offset int) ([]*Message, error) {
	opts := options.Find().
		SetSort(bson.D{{Key: "created_at", Value: -1}}).
		SetSkip(int64(offset)).
		SetLimit(int64(HistoryPageSize))
	cur, err := s.messages.Find(ctx, bson.M{"chat_id": chatID}, opts)
	if err != nil {
		return nil, fmt.Errorf("find messages: %w", err)
	}
	defer cur.Close(ctx)

	var out []*Message
	for cur.Next(ctx) {
		var m Message
		if err := cur.Decode(&m); err != nil {
			return nil, fmt.Errorf("decode message: %w", err)
		}
		out = append(out, &m)
	}
	if err := cur.Err(); err != nil {
		return nil, err
	}
	// newest page first from mongo, chronological order for the client
	for i, j := 0, len(out)-1; i < j; i, j = i+1, j-1 {
		out[i], out[j] = out[j], out[i]
	}
	return out, nil
}

func (s *mongoStore) CreateChat(ctx context.Context, c *Chat) error {
	if c.ID == "" {
		c.ID = uuid.New().String()
	}
	c.CreatedAt = time.Now().UTC()
	if _, err := s.chats.InsertOne(ctx, c); err != nil {
		return fmt.Errorf("insert chat: %w", err)
	}
	return nil
}

func (s *mongoStore) GetChat(ctx context.Context, chatID string) (*Chat, error) {
	var c Chat
	if err := s.chats.FindOne(ctx, bson.M{"_id": chatID}).Decode(&c); err != nil {
		if err == mongo.ErrNoDocuments {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("find chat: %w", err)
	}
	return &c, nil
}

func (s *mongoStore) GetChats(ctx context.Context) ([]*Chat, error) {
	opts := options.Find().SetSort(bson.D{{Key: "created_at", Value: -1}})
	cur, err := s.chats.Find(ctx, bson.M{}, opts)
	if err != nil {
		return nil, fmt.Errorf("find chats: %w", err)
	}
	defer cur.Close(ctx)

	var out []*Chat
	for cur.Next(ctx) {
		var c Chat
		if err := cur.Decode(&c); err != nil {
			return nil, fmt.Errorf("decode chat: %w", err)
		}
		out = append(out, &c)
	}
	return out, cur.Err()
}

func (s *mongoStore) ChatExists(ctx context.Context, chatID string) (bool, error) {
	err := s.chats.FindOne(ctx, bson.M{"_id": chatID}).Err()
	if err == mongo.ErrNoDocuments {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("find chat: %w", err)
	}
	return true, nil
}

func (s *mongoStore) RemoveChat(ctx context.Context, chatID string) error {
	res, err := s.chats.DeleteOne(ctx, bson.M{"_id": chatID})
	if err != nil {
		return fmt.Errorf("delete chat: %w", err)
	}
	if res.DeletedCount == 0 {
		return ErrNotFound
	}
	_, _ = s.messages.DeleteMany(ctx, bson.M{"chat_id": chatID})
	return nil
}
