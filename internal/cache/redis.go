// Package cache keeps hot presence and recency state in redis so it is
// shared across instances and survives a process restart, unlike the hub's
// in-memory channel registry.
package cache

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

const (
	onlineSetKey     = "presence:online"
	recentKeyPrefix  = "recent:"
	recentListLength = 50
)

type Redis struct {
	rdb *redis.Client
}

func New(addr, password string) *Redis {
	return &Redis{rdb: redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
	})}
}

func (c *Redis) Ping(ctx context.Context) error {
	if err := c.rdb.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("cache: ping redis: %w", err)
	}
	return nil
}

func (c *Redis) Close() error {
	return c.rdb.Close()
}

// SetOnline adds the user to the shared online roster.
func (c *Redis) SetOnline(ctx context.Context, userID string) error {
	return c.rdb.SAdd(ctx, onlineSetKey, userID).Err()
}

// SetOffline removes the user from the roster. A user with several live
// channels flips offline only when the last one leaves; the hub handles
// that by replacing rather than stacking channels per conversation.
func (c *Redis) SetOffline(ctx context.Context, userID string) error {
	return c.rdb.SRem(ctx, onlineSetKey, userID).Err()
}

func (c *Redis) IsOnline(ctx context.Context, userID string) (bool, error) {
	return c.rdb.SIsMember(ctx, onlineSetKey, userID).Result()
}

// OnlineAmong filters userIDs down to the currently online ones, preserving
// input order.
func (c *Redis) OnlineAmong(ctx context.Context, userIDs []string) ([]string, error) {
	if len(userIDs) == 0 {
		return nil, nil
	}
	members := make([]any, len(userIDs))
	for i, id := range userIDs {
		members[i] = id
	}
	flags, err := c.rdb.SMIsMember(ctx, onlineSetKey, members...).Result()
	if err != nil {
		return nil, err
	}
	online := make([]string, 0, len(userIDs))
	for i, ok := range flags {
		if ok {
			online = append(online, userIDs[i])
		}
	}
	return online, nil
}

// TouchConversation moves the conversation to the front of the user's
// recency list and caps the list length.
func (c *Redis) TouchConversation(ctx context.Context, userID, conversationID string) error {
	key := recentKeyPrefix + userID
	pipe := c.rdb.TxPipeline()
	pipe.LRem(ctx, key, 0, conversationID)
	pipe.LPush(ctx, key, conversationID)
	pipe.LTrim(ctx, key, 0, recentListLength-1)
	pipe.Expire(ctx, key, 30*24*time.Hour)
	_, err := pipe.Exec(ctx)
	return err
}

// RecentConversations returns the user's conversations in most recently
// touched order. Conversations never touched on this cache are absent;
// callers merge with the durable listing.
func (c *Redis) RecentConversations(ctx context.Context, userID string, limit int) ([]string, error) {
	if limit <= 0 {
		limit = recentListLength
	}
	return c.rdb.LRange(ctx, recentKeyPrefix+userID, 0, int64(limit-1)).Result()
}
