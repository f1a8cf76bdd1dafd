// Package presence keeps connection metadata and online status in redis so
// that other instances and services can see who is reachable.
//
// Keys:
//
//	<prefix>:conn:<userID>      set of connection meta JSON
//	<prefix>:presence:<userID>  json {status,last_seen}
package presence

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

type ConnMeta struct {
	ChatID      string `json:"chat_id,omitempty"`
	SocketID    string `json:"socket_id"`
	ConnectedAt int64  `json:"connected_at"`
}

type Status struct {
	Status   string `json:"status"`
	LastSeen int64  `json:"last_seen"`
}

// Store is nil-safe: a nil *Store records nothing, so presence stays optional
// when redis is not configured.
type Store struct {
	client *redis.Client
	prefix string
	ttl    time.Duration
}

func NewStore(client *redis.Client, prefix string, ttl time.Duration) *Store {
	return &Store{client: client, prefix: prefix, ttl: ttl}
}

func (s *Store) connKey(userID int64) string {
	return fmt.Sprintf("%s:conn:%d", s.prefix, userID)
}

func (s *Store) presenceKey(userID int64) string {
	return fmt.Sprintf("%s:presence:%d", s.prefix, userID)
}

// AddConnection registers a live socket for userID and marks the user online.
func (s *Store) AddConnection(ctx context.Context, userID int64, socketID, chatID string) error {
	if s == nil {
		return nil
	}
	meta, _ := json.Marshal(ConnMeta{ChatID: chatID, SocketID: socketID, ConnectedAt: time.Now().Unix()})
	if err := s.client.SAdd(ctx, s.connKey(userID), meta).Err(); err != nil {
		return err
	}
	_ = s.client.Expire(ctx, s.connKey(userID), s.ttl).Err()
	return s.setStatus(ctx, userID, "online")
}

// RemoveConnection drops one socket; the user goes offline when the last one
// is gone.
func (s *Store) RemoveConnection(ctx context.Context, userID int64, socketID string) error {
	if s == nil {
		return nil
	}
	key := s.connKey(userID)
	members, err := s.client.SMembers(ctx, key).Result()
	if err != nil {
		return err
	}
	for _, m := range members {
		var cm ConnMeta
		if json.Unmarshal([]byte(m), &cm) == nil && cm.SocketID == socketID {
			_ = s.client.SRem(ctx, key, m).Err()
		}
	}
	cnt, err := s.client.SCard(ctx, key).Result()
	if err != nil {
		return err
	}
	if cnt == 0 {
		return s.setStatus(ctx, userID, "offline")
	}
	return nil
}

func (s *Store) setStatus(ctx context.Context, userID int64, status string) error {
	b, _ := json.Marshal(Status{Status: status, LastSeen: time.Now().Unix()})
	return s.client.Set(ctx, s.presenceKey(userID), b, s.ttl).Err()
}

// GetStatus returns the stored presence for userID, defaulting to offline.
func (s *Store) GetStatus(ctx context.Context, userID int64) (Status, error) {
	if s == nil {
		return Status{Status: "offline"}, nil
	}
	b, err := s.client.Get(ctx, s.presenceKey(userID)).Bytes()
	if err == redis.Nil {
		return Status{Status: "offline"}, nil
	}
	if err != nil {
		return Status{}, err
	}
	var st Status
	if err := json.Unmarshal(b, &st); err != nil {
		return Status{}, err
	}
	return st, nil
}
