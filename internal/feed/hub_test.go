package feed

import (
	"context"
	"testing"
	"time"

	"github.com/obcare/backend/internal/typing/memory"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeAccess struct {
	rooms map[string][]string
}

func (f *fakeAccess) IsParticipant(_ context.Context, roomID, userID string) (bool, error) {
	for _, u := range f.rooms[roomID] {
		if u == userID {
			return true, nil
		}
	}
	return false, nil
}

func newTestClient(h *Hub, userID string) *Client {
	return &Client{
		hub:    h,
		send:   make(chan Outgoing, sendBufSize),
		userID: userID,
		subs:   make(map[string]struct{}),
		done:   make(chan struct{}),
	}
}

func attach(h *Hub, c *Client) {
	h.mu.Lock()
	if _, ok := h.clients[c.userID]; !ok {
		h.clients[c.userID] = make(map[*Client]struct{})
	}
	h.clients[c.userID][c] = struct{}{}
	h.total++
	h.mu.Unlock()
}

func recvEvent(t *testing.T, c *Client) Outgoing {
	t.Helper()
	select {
	case msg := <-c.send:
		return msg
	default:
		t.Fatal("expected an event in the send buffer")
		return Outgoing{}
	}
}

func TestSubscribeRequiresMembership(t *testing.T) {
	access := &fakeAccess{rooms: map[string][]string{"room1": {"patient", "doctor"}}}
	h := NewHub(access, nil, memory.New(time.Second), 100)

	member := newTestClient(h, "patient")
	stranger := newTestClient(h, "stranger")
	attach(h, member)
	attach(h, stranger)

	h.HandleMessage(context.Background(), member, Incoming{Type: EventSubscribe, RoomID: "room1"})
	out := recvEvent(t, member)
	assert.Equal(t, EventSubscribed, out.Type)
	assert.Equal(t, "room1", out.Payload.(SubscribedPayload).RoomID)

	h.HandleMessage(context.Background(), stranger, Incoming{Type: EventSubscribe, RoomID: "room1"})
	out = recvEvent(t, stranger)
	assert.Equal(t, EventError, out.Type)

	h.mu.RLock()
	_, memberIn := h.rooms["room1"][member]
	_, strangerIn := h.rooms["room1"][stranger]
	h.mu.RUnlock()
	assert.True(t, memberIn)
	assert.False(t, strangerIn)
}

func TestBroadcastRoomIncludesOriginator(t *testing.T) {
	access := &fakeAccess{rooms: map[string][]string{"room1": {"patient", "doctor"}}}
	h := NewHub(access, nil, nil, 100)

	patient := newTestClient(h, "patient")
	doctor := newTestClient(h, "doctor")
	attach(h, patient)
	attach(h, doctor)
	for _, c := range []*Client{patient, doctor} {
		h.HandleMessage(context.Background(), c, Incoming{Type: EventSubscribe, RoomID: "room1"})
		recvEvent(t, c) // subscribed ack
	}

	h.BroadcastRoom("room1", Outgoing{Type: EventMessageInserted, Payload: "m"})

	// Отправитель тоже получает событие: его клиент сверяет optimistic-строку
	assert.Equal(t, EventMessageInserted, recvEvent(t, patient).Type)
	assert.Equal(t, EventMessageInserted, recvEvent(t, doctor).Type)
}

func TestTypingFanoutSkipsSender(t *testing.T) {
	access := &fakeAccess{rooms: map[string][]string{"room1": {"patient", "doctor"}}}
	store := memory.New(time.Second)
	h := NewHub(access, nil, store, 100)

	patient := newTestClient(h, "patient")
	doctor := newTestClient(h, "doctor")
	attach(h, patient)
	attach(h, doctor)
	for _, c := range []*Client{patient, doctor} {
		h.HandleMessage(context.Background(), c, Incoming{Type: EventSubscribe, RoomID: "room1"})
		recvEvent(t, c)
	}

	h.HandleMessage(context.Background(), patient, Incoming{Type: EventTyping, RoomID: "room1", IsTyping: true})

	out := recvEvent(t, doctor)
	require.Equal(t, EventTyping, out.Type)
	p := out.Payload.(TypingPayload)
	assert.Equal(t, "patient", p.UserID)
	assert.True(t, p.IsTyping)
	assert.Empty(t, patient.send, "sender does not see their own typing event")

	users, err := store.List(context.Background(), "room1")
	require.NoError(t, err)
	assert.Equal(t, []string{"patient"}, users)

	// blur снимает флаг в хранилище сразу
	h.HandleMessage(context.Background(), patient, Incoming{Type: EventTyping, RoomID: "room1", IsTyping: false})
	recvEvent(t, doctor)
	users, err = store.List(context.Background(), "room1")
	require.NoError(t, err)
	assert.Empty(t, users)
}

func TestTypingDebounce(t *testing.T) {
	h := NewHub(&fakeAccess{}, nil, nil, 100)

	assert.True(t, h.shouldWriteTyping("room1", "u1", true))
	assert.False(t, h.shouldWriteTyping("room1", "u1", true), "repeat within window is throttled")
	assert.True(t, h.shouldWriteTyping("room1", "u2", true), "other users are not affected")
	assert.True(t, h.shouldWriteTyping("room1", "u1", false), "clears always pass")
	assert.True(t, h.shouldWriteTyping("room1", "u1", true), "clear resets the window")
}

func TestUnsubscribeStopsDelivery(t *testing.T) {
	access := &fakeAccess{rooms: map[string][]string{"room1": {"patient", "doctor"}}}
	h := NewHub(access, nil, nil, 100)

	patient := newTestClient(h, "patient")
	attach(h, patient)
	h.HandleMessage(context.Background(), patient, Incoming{Type: EventSubscribe, RoomID: "room1"})
	recvEvent(t, patient)

	h.HandleMessage(context.Background(), patient, Incoming{Type: EventUnsubscribe, RoomID: "room1"})
	h.BroadcastRoom("room1", Outgoing{Type: EventMessageInserted})
	assert.Empty(t, patient.send)
}

func TestSendToUserReachesUnsubscribed(t *testing.T) {
	h := NewHub(&fakeAccess{}, nil, nil, 100)
	callee := newTestClient(h, "doctor")
	attach(h, callee)

	h.SendToUser("doctor", Outgoing{Type: EventCallRinging})
	assert.Equal(t, EventCallRinging, recvEvent(t, callee).Type)
	assert.True(t, h.IsUserConnected("doctor"))
	assert.False(t, h.IsUserConnected("patient"))
}
