package memory

import (
	"context"
	"sync"
	"time"
)

type Client struct {
	mu  sync.RWMutex
	ttl time.Duration
	// roomID -> userID -> истечение флага
	rooms map[string]map[string]time.Time
}

func New(ttl time.Duration) *Client {
	return &Client{ttl: ttl, rooms: make(map[string]map[string]time.Time)}
}

func (c *Client) Close() error { return nil }

func (c *Client) Set(ctx context.Context, roomID, userID string, typing bool) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	room, ok := c.rooms[roomID]
	if !typing {
		if ok {
			delete(room, userID)
			if len(room) == 0 {
				delete(c.rooms, roomID)
			}
		}
		return nil
	}
	if !ok {
		room = make(map[string]time.Time)
		c.rooms[roomID] = room
	}
	room[userID] = time.Now().Add(c.ttl)
	return nil
}

func (c *Client) List(ctx context.Context, roomID string) ([]string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	room, ok := c.rooms[roomID]
	if !ok {
		return nil, nil
	}
	now := time.Now()
	var users []string
	for userID, exp := range room {
		if now.After(exp) {
			delete(room, userID)
			continue
		}
		users = append(users, userID)
	}
	if len(room) == 0 {
		delete(c.rooms, roomID)
	}
	return users, nil
}
