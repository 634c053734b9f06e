// Package notify delivers in-app notifications to users over Redis.
//
// Each notification is published on the user's channel for live
// subscribers and pushed onto a capped per-user list so clients that
// connect later can catch up.
package notify

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/ignite/leadflow/internal/automation"
	"github.com/redis/go-redis/v9"
)

// DefaultHistory is how many notifications are kept per user.
const DefaultHistory = 50

// Channel is the pub/sub channel of one user.
func Channel(userID uuid.UUID) string {
	return "notifications:" + userID.String()
}

func historyKey(userID uuid.UUID) string {
	return "notifications:" + userID.String() + ":recent"
}

// RedisNotifier implements automation.NotificationSender.
type RedisNotifier struct {
	client  *redis.Client
	history int64
	now     func() time.Time
}

// NewRedisNotifier creates a notifier keeping the last history
// notifications per user (DefaultHistory when <= 0).
func NewRedisNotifier(client *redis.Client, history int) *RedisNotifier {
	if history <= 0 {
		history = DefaultHistory
	}
	return &RedisNotifier{client: client, history: int64(history), now: time.Now}
}

func (n *RedisNotifier) Notify(ctx context.Context, note automation.Notification) error {
	if note.UserID == uuid.Nil {
		return errors.New("notification has no user")
	}
	if note.CreatedAt.IsZero() {
		note.CreatedAt = n.now().UTC()
	}
	payload, err := json.Marshal(note)
	if err != nil {
		return fmt.Errorf("encode notification: %w", err)
	}

	key := historyKey(note.UserID)
	pipe := n.client.TxPipeline()
	pipe.LPush(ctx, key, payload)
	pipe.LTrim(ctx, key, 0, n.history-1)
	pipe.Publish(ctx, Channel(note.UserID), payload)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("publish notification: %w", err)
	}
	return nil
}

// Recent returns the newest notifications of a user, newest first.
func (n *RedisNotifier) Recent(ctx context.Context, userID uuid.UUID, limit int) ([]automation.Notification, error) {
	if limit <= 0 || int64(limit) > n.history {
		limit = int(n.history)
	}
	raw, err := n.client.LRange(ctx, historyKey(userID), 0, int64(limit-1)).Result()
	if err != nil {
		return nil, fmt.Errorf("read notifications: %w", err)
	}
	out := make([]automation.Notification, 0, len(raw))
	for _, r := range raw {
		var note automation.Notification
		if err := json.Unmarshal([]byte(r), &note); err != nil {
			continue
		}
		out = append(out, note)
	}
	return out, nil
}

// Subscribe streams a user's notifications until ctx is done.
func (n *RedisNotifier) Subscribe(ctx context.Context, userID uuid.UUID) (<-chan automation.Notification, error) {
	sub := n.client.Subscribe(ctx, Channel(userID))
	if _, err := sub.Receive(ctx); err != nil {
		sub.Close()
		return nil, fmt.Errorf("subscribe: %w", err)
	}

	out := make(chan automation.Notification)
	go func() {
		defer close(out)
		defer sub.Close()
		msgs := sub.Channel()
		for {
			select {
			case <-ctx.Done():
				return
			case m, ok := <-msgs:
				if !ok {
					return
				}
				var note automation.Notification
				if err := json.Unmarshal([]byte(m.Payload), &note); err != nil {
					continue
				}
				select {
				case out <- note:
				case <-ctx.Done():
					return
				}
			}
		}
	}()
	return out, nil
}
