package redis

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
)

type Client struct {
	cli *redis.Client
	ttl time.Duration
}

func New(ctx context.Context, url string, ttl time.Duration) (*Client, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("redis parse url: %w", err)
	}
	cli := redis.NewClient(opts)
	if err := cli.Ping(ctx).Err(); err != nil {
		if closeErr := cli.Close(); closeErr != nil {
			return nil, fmt.Errorf("redis ping: %w (close: %v)", err, closeErr)
		}
		return nil, fmt.Errorf("redis ping: %w", err)
	}
	return &Client{cli: cli, ttl: ttl}, nil
}

func (c *Client) Close() error {
	return c.cli.Close()
}

func key(roomID, userID string) string {
	return "typing:" + roomID + ":" + userID
}

// Set ставит ключ typing:{room}:{user} с TTL либо удаляет его.
// Повторный Set(true) продлевает TTL.
func (c *Client) Set(ctx context.Context, roomID, userID string, typing bool) error {
	if !typing {
		return c.cli.Del(ctx, key(roomID, userID)).Err()
	}
	return c.cli.Set(ctx, key(roomID, userID), "1", c.ttl).Err()
}

// List возвращает печатающих в комнате по маске typing:{room}:*.
// Комнат с активным набором единицы, SCAN здесь дешёвый.
func (c *Client) List(ctx context.Context, roomID string) ([]string, error) {
	prefix := "typing:" + roomID + ":"
	var users []string
	iter := c.cli.Scan(ctx, 0, prefix+"*", 100).Iterator()
	for iter.Next(ctx) {
		users = append(users, strings.TrimPrefix(iter.Val(), prefix))
	}
	if err := iter.Err(); err != nil {
		return nil, fmt.Errorf("redis scan typing: %w", err)
	}
	return users, nil
}
