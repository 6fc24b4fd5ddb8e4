package feed

import (
	"context"
	"sync"
	"time"

	"github.com/obcare/backend/internal/logger"
	"github.com/obcare/backend/internal/typing"
)

// typingDebounce — минимальный интервал между продлениями флага в хранилище.
// Клиент шлёт typing на каждое нажатие; чаще раза в 2 секунды писать незачем.
const typingDebounce = 2 * time.Second

// RoomAccess answers whether a user belongs to a room. Implemented by
// repository.RoomRepository.
type RoomAccess interface {
	IsParticipant(ctx context.Context, roomID, userID string) (bool, error)
}

// PresenceStore records online/offline flips. Implemented by
// repository.UserRepository.
type PresenceStore interface {
	SetOnline(ctx context.Context, userID string, online bool) error
}

// Hub owns every feed connection. Clients subscribe to rooms they belong to;
// REST handlers push change events through BroadcastRoom/SendToUser after
// each successful write, so the socket carries only confirmed state.
type Hub struct {
	mu      sync.RWMutex
	clients map[string]map[*Client]struct{}
	// rooms maps roomID to the clients currently subscribed to it.
	rooms    map[string]map[*Client]struct{}
	total    int
	maxConns int

	access   RoomAccess
	presence PresenceStore
	typing   typing.Store

	// lastTyping throttles store writes per room:user.
	typingMu   sync.Mutex
	lastTyping map[string]time.Time

	register   chan *Client
	unregister chan *Client
	done       chan struct{}
}

func NewHub(access RoomAccess, presence PresenceStore, typingStore typing.Store, maxConns int) *Hub {
	if maxConns <= 0 {
		maxConns = 10000
	}
	return &Hub{
		clients:    make(map[string]map[*Client]struct{}),
		rooms:      make(map[string]map[*Client]struct{}),
		maxConns:   maxConns,
		access:     access,
		presence:   presence,
		typing:     typingStore,
		lastTyping: make(map[string]time.Time),
		register:   make(chan *Client, 64),
		unregister: make(chan *Client, 64),
		done:       make(chan struct{}),
	}
}

func (h *Hub) Run(ctx context.Context) {
	defer close(h.done)
	for {
		select {
		case <-ctx.Done():
			h.shutdown()
			return
		case client := <-h.register:
			h.addClient(client)
		case client := <-h.unregister:
			h.removeClient(client)
		}
	}
}

func (h *Hub) shutdown() {
	// Collect all clients under the lock, do NOT perform I/O under mutex.
	h.mu.Lock()
	allClients := make([]*Client, 0, h.total)
	for _, clients := range h.clients {
		for c := range clients {
			allClients = append(allClients, c)
		}
	}
	h.clients = make(map[string]map[*Client]struct{})
	h.rooms = make(map[string]map[*Client]struct{})
	h.total = 0
	h.mu.Unlock()

	// Close connections outside the lock (network I/O).
	for _, c := range allClients {
		c.Close()
	}
	for _, c := range allClients {
		c.Wait()
	}
}

func (h *Hub) addClient(c *Client) {
	h.mu.Lock()
	if h.total >= h.maxConns {
		h.mu.Unlock()
		logger.Errorf("feed connection limit reached (%d), rejecting user=%s", h.maxConns, c.userID)
		c.Close()
		return
	}
	if _, ok := h.clients[c.userID]; !ok {
		h.clients[c.userID] = make(map[*Client]struct{})
	}
	h.clients[c.userID][c] = struct{}{}
	h.total++
	h.mu.Unlock()

	if h.presence != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := h.presence.SetOnline(ctx, c.userID, true); err != nil {
			logger.Errorf("feed set online user=%s: %v", c.userID, err)
		}
	}
}

func (h *Hub) removeClient(c *Client) {
	h.mu.Lock()
	clients, ok := h.clients[c.userID]
	if !ok {
		h.mu.Unlock()
		return
	}
	if _, exists := clients[c]; !exists {
		h.mu.Unlock()
		return
	}
	delete(clients, c)
	h.total--
	lastClient := len(clients) == 0
	if lastClient {
		delete(h.clients, c.userID)
	}
	for roomID := range c.subs {
		h.detachFromRoomLocked(roomID, c)
	}
	h.mu.Unlock()

	// Network I/O outside the lock.
	c.Close()

	if lastClient && h.presence != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := h.presence.SetOnline(ctx, c.userID, false); err != nil {
			logger.Errorf("feed set offline user=%s: %v", c.userID, err)
		}
	}
}

// detachFromRoomLocked removes c from a room set. Caller holds h.mu.
func (h *Hub) detachFromRoomLocked(roomID string, c *Client) {
	room, ok := h.rooms[roomID]
	if !ok {
		return
	}
	delete(room, c)
	if len(room) == 0 {
		delete(h.rooms, roomID)
	}
}

// HandleMessage dispatches incoming feed frames.
func (h *Hub) HandleMessage(ctx context.Context, c *Client, msg Incoming) {
	switch msg.Type {
	case EventSubscribe:
		h.handleSubscribe(ctx, c, msg)
	case EventUnsubscribe:
		h.handleUnsubscribe(c, msg)
	case EventTyping:
		h.handleTyping(ctx, c, msg)
	default:
		h.sendToClient(c, Outgoing{Type: EventError, Payload: "unknown event type"})
	}
}

func (h *Hub) handleSubscribe(ctx context.Context, c *Client, msg Incoming) {
	defer logger.DeferLogDuration("feed.handleSubscribe", time.Now())()
	if msg.RoomID == "" {
		h.sendToClient(c, Outgoing{Type: EventError, Payload: "room_id required"})
		return
	}

	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	ok, err := h.access.IsParticipant(ctx, msg.RoomID, c.userID)
	if err != nil {
		logger.Errorf("feed check access room=%s user=%s: %v", msg.RoomID, c.userID, err)
		h.sendToClient(c, Outgoing{Type: EventError, Payload: "internal error"})
		return
	}
	if !ok {
		h.sendToClient(c, Outgoing{Type: EventError, Payload: "not a room participant"})
		return
	}

	h.mu.Lock()
	if _, ok := h.rooms[msg.RoomID]; !ok {
		h.rooms[msg.RoomID] = make(map[*Client]struct{})
	}
	h.rooms[msg.RoomID][c] = struct{}{}
	c.subs[msg.RoomID] = struct{}{}
	h.mu.Unlock()

	var active []string
	if h.typing != nil {
		if active, err = h.typing.List(ctx, msg.RoomID); err != nil {
			logger.Errorf("feed list typing room=%s: %v", msg.RoomID, err)
		}
	}
	h.sendToClient(c, Outgoing{Type: EventSubscribed, Payload: SubscribedPayload{RoomID: msg.RoomID, Typing: active}})
}

func (h *Hub) handleUnsubscribe(c *Client, msg Incoming) {
	if msg.RoomID == "" {
		return
	}
	h.mu.Lock()
	h.detachFromRoomLocked(msg.RoomID, c)
	delete(c.subs, msg.RoomID)
	h.mu.Unlock()
}

func (h *Hub) handleTyping(ctx context.Context, c *Client, msg Incoming) {
	if msg.RoomID == "" {
		return
	}
	h.mu.RLock()
	_, subscribed := c.subs[msg.RoomID]
	h.mu.RUnlock()
	if !subscribed {
		return
	}

	if h.typing != nil && h.shouldWriteTyping(msg.RoomID, c.userID, msg.IsTyping) {
		ctx, cancel := context.WithTimeout(ctx, 3*time.Second)
		defer cancel()
		if err := h.typing.Set(ctx, msg.RoomID, c.userID, msg.IsTyping); err != nil {
			logger.Errorf("feed set typing room=%s user=%s: %v", msg.RoomID, c.userID, err)
		}
	}

	out := Outgoing{Type: EventTyping, Payload: TypingPayload{
		RoomID:   msg.RoomID,
		UserID:   c.userID,
		IsTyping: msg.IsTyping,
	}}
	h.broadcastRoomExcept(msg.RoomID, c.userID, out)
}

// shouldWriteTyping throttles TTL refreshes. Flag clears (is_typing=false)
// always go through so blur removes the indicator immediately.
func (h *Hub) shouldWriteTyping(roomID, userID string, isTyping bool) bool {
	key := roomID + ":" + userID
	h.typingMu.Lock()
	defer h.typingMu.Unlock()
	if !isTyping {
		delete(h.lastTyping, key)
		return true
	}
	now := time.Now()
	if last, ok := h.lastTyping[key]; ok && now.Sub(last) < typingDebounce {
		return false
	}
	h.lastTyping[key] = now
	return true
}

// BroadcastRoom delivers an event to every client subscribed to the room,
// the originator included.
func (h *Hub) BroadcastRoom(roomID string, msg Outgoing) {
	h.mu.RLock()
	room, ok := h.rooms[roomID]
	if !ok {
		h.mu.RUnlock()
		return
	}
	targets := make([]*Client, 0, len(room))
	for c := range room {
		targets = append(targets, c)
	}
	h.mu.RUnlock()

	for _, c := range targets {
		h.sendToClient(c, msg)
	}
}

func (h *Hub) broadcastRoomExcept(roomID, exceptUserID string, msg Outgoing) {
	h.mu.RLock()
	room, ok := h.rooms[roomID]
	if !ok {
		h.mu.RUnlock()
		return
	}
	targets := make([]*Client, 0, len(room))
	for c := range room {
		if c.userID != exceptUserID {
			targets = append(targets, c)
		}
	}
	h.mu.RUnlock()

	for _, c := range targets {
		h.sendToClient(c, msg)
	}
}

// SendToUser delivers an event to every connection of one user, subscribed
// or not. Call ringing must reach the callee even with the room closed.
func (h *Hub) SendToUser(userID string, msg Outgoing) {
	h.mu.RLock()
	clients, ok := h.clients[userID]
	if !ok {
		h.mu.RUnlock()
		return
	}
	targets := make([]*Client, 0, len(clients))
	for c := range clients {
		targets = append(targets, c)
	}
	h.mu.RUnlock()

	for _, c := range targets {
		h.sendToClient(c, msg)
	}
}

// IsUserConnected reports whether the user has at least one live feed
// connection. Push notifications are skipped for connected users.
func (h *Hub) IsUserConnected(userID string) bool {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients[userID]) > 0
}

func (h *Hub) sendToClient(c *Client, msg Outgoing) {
	select {
	case c.send <- msg:
	case <-c.done:
	default:
		// Backpressure: send buffer full, close slow client.
		logger.Errorf("feed send buffer full, closing slow client user=%s", c.userID)
		c.Close()
	}
}

func (h *Hub) Register(c *Client) {
	select {
	case h.register <- c:
	case <-h.done:
		c.Close()
	}
}

func (h *Hub) Unregister(c *Client) {
	select {
	case h.unregister <- c:
	case <-h.done:
	}
}
