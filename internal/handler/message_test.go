package handler

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/obcare/backend/internal/feed"
	"github.com/obcare/backend/internal/middleware"
	"github.com/obcare/backend/internal/model"
	"github.com/obcare/backend/internal/push"
	"github.com/obcare/backend/internal/repository"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeMessageStore struct {
	byRef  map[string]*model.Message
	nextID int
	// unseen — id, которые перевернёт первый MarkSeen; второй вернёт пусто
	unseen []string
}

func newFakeMessageStore() *fakeMessageStore {
	return &fakeMessageStore{byRef: make(map[string]*model.Message)}
}

func (f *fakeMessageStore) Create(_ context.Context, m *model.Message) error {
	if _, ok := f.byRef[m.ClientRef]; ok {
		return repository.ErrDuplicate
	}
	f.nextID++
	m.ID = fmt.Sprintf("m%d", f.nextID)
	m.Status = model.MessageStatusActive
	m.CreatedAt = time.Now()
	cp := *m
	f.byRef[m.ClientRef] = &cp
	return nil
}

func (f *fakeMessageStore) GetByID(_ context.Context, id string) (*model.Message, error) {
	for _, m := range f.byRef {
		if m.ID == id {
			cp := *m
			return &cp, nil
		}
	}
	return nil, repository.ErrNotFound
}

func (f *fakeMessageStore) GetByClientRef(_ context.Context, roomID, clientRef string) (*model.Message, error) {
	m, ok := f.byRef[clientRef]
	if !ok || m.RoomID != roomID {
		return nil, repository.ErrNotFound
	}
	cp := *m
	return &cp, nil
}

func (f *fakeMessageStore) ListByRoom(_ context.Context, _ string, _, _ int) ([]model.Message, error) {
	return nil, nil
}

func (f *fakeMessageStore) MarkUnsent(_ context.Context, _, _ string) (*model.Message, error) {
	return nil, repository.ErrNotFound
}

func (f *fakeMessageStore) MarkSeen(_ context.Context, _, _ string) ([]string, error) {
	ids := f.unseen
	f.unseen = nil
	return ids, nil
}

type fakeRoomStore struct{ room model.Room }

func (f *fakeRoomStore) GetByID(_ context.Context, id string) (*model.Room, error) {
	if id != f.room.ID {
		return nil, repository.ErrNotFound
	}
	cp := f.room
	return &cp, nil
}

func (f *fakeRoomStore) IsParticipant(_ context.Context, roomID, userID string) (bool, error) {
	return roomID == f.room.ID && f.room.HasParticipant(userID), nil
}

type fakeApptSource struct{ appt *model.Appointment }

func (f *fakeApptSource) LatestApprovedForRoom(_ context.Context, _, _ string) (*model.Appointment, error) {
	if f.appt == nil {
		return nil, repository.ErrNotFound
	}
	cp := *f.appt
	return &cp, nil
}

type feedRecorder struct{ events []feed.Outgoing }

func (f *feedRecorder) BroadcastRoom(_ string, msg feed.Outgoing) { f.events = append(f.events, msg) }
func (f *feedRecorder) IsUserConnected(_ string) bool             { return true }

func newTestMessageHandler(store *fakeMessageStore) (*MessageHandler, *feedRecorder) {
	rooms := &fakeRoomStore{room: model.Room{ID: "room1", PatientID: "patient", DoctorID: "doctor"}}
	appts := &fakeApptSource{appt: &model.Appointment{
		ID: "a1", PatientID: "patient", DoctorID: "doctor", Status: model.AppointmentApproved,
		ChatMessagesLimit: 200,
	}}
	rec := &feedRecorder{}
	return NewMessageHandler(store, rooms, appts, rec, push.NewClient("")), rec
}

func doRoomRequest(h *MessageHandler, method, target, userID string, body []byte) *httptest.ResponseRecorder {
	r := chi.NewRouter()
	r.Post("/api/rooms/{roomID}/messages", h.Send)
	r.Post("/api/rooms/{roomID}/seen", h.MarkSeen)
	req := httptest.NewRequest(method, target, bytes.NewReader(body))
	req = req.WithContext(context.WithValue(req.Context(), middleware.UserIDKey, userID))
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func TestMarkSeenFansOutOnlyFlippedIDs(t *testing.T) {
	store := newFakeMessageStore()
	store.unseen = []string{"m1", "m2"}
	h, rec := newTestMessageHandler(store)

	w := doRoomRequest(h, http.MethodPost, "/api/rooms/room1/seen", "patient", nil)
	require.Equal(t, http.StatusOK, w.Code)
	var resp struct {
		SeenIDs []string `json:"seen_ids"`
	}
	require.NoError(t, json.NewDecoder(w.Body).Decode(&resp))
	assert.Equal(t, []string{"m1", "m2"}, resp.SeenIDs)

	require.Len(t, rec.events, 1)
	assert.Equal(t, feed.EventMessagesSeen, rec.events[0].Type)
	payload, ok := rec.events[0].Payload.(feed.SeenPayload)
	require.True(t, ok)
	assert.Equal(t, []string{"m1", "m2"}, payload.MessageIDs)
	assert.Equal(t, "patient", payload.ViewerID)

	// Повторный вызов ничего не переворачивает: ответ пустой, события нет
	w = doRoomRequest(h, http.MethodPost, "/api/rooms/room1/seen", "patient", nil)
	require.Equal(t, http.StatusOK, w.Code)
	resp.SeenIDs = nil
	require.NoError(t, json.NewDecoder(w.Body).Decode(&resp))
	assert.Empty(t, resp.SeenIDs)
	assert.Len(t, rec.events, 1, "no messages_seen fanout when nothing flipped")
}

func TestMarkSeenForbiddenForStranger(t *testing.T) {
	h, rec := newTestMessageHandler(newFakeMessageStore())

	w := doRoomRequest(h, http.MethodPost, "/api/rooms/room1/seen", "stranger", nil)
	assert.Equal(t, http.StatusForbidden, w.Code)
	assert.Empty(t, rec.events)
}

func TestSendBroadcastsInsert(t *testing.T) {
	h, rec := newTestMessageHandler(newFakeMessageStore())

	body := []byte(`{"client_ref":"ref1","body":"hello","kind":"text"}`)
	w := doRoomRequest(h, http.MethodPost, "/api/rooms/room1/messages", "patient", body)
	require.Equal(t, http.StatusCreated, w.Code)

	var msg model.Message
	require.NoError(t, json.NewDecoder(w.Body).Decode(&msg))
	assert.Equal(t, "ref1", msg.ClientRef)
	assert.NotEmpty(t, msg.ID)

	require.Len(t, rec.events, 1)
	assert.Equal(t, feed.EventMessageInserted, rec.events[0].Type)
}

func TestSendDuplicateReturnsExistingRow(t *testing.T) {
	store := newFakeMessageStore()
	h, rec := newTestMessageHandler(store)

	body := []byte(`{"client_ref":"ref1","body":"hello","kind":"text"}`)
	w := doRoomRequest(h, http.MethodPost, "/api/rooms/room1/messages", "patient", body)
	require.Equal(t, http.StatusCreated, w.Code)
	var first model.Message
	require.NoError(t, json.NewDecoder(w.Body).Decode(&first))

	// Ретрай после таймаута: тот же client_ref возвращает ту же строку, 200
	w = doRoomRequest(h, http.MethodPost, "/api/rooms/room1/messages", "patient", body)
	require.Equal(t, http.StatusOK, w.Code)
	var second model.Message
	require.NoError(t, json.NewDecoder(w.Body).Decode(&second))
	assert.Equal(t, first.ID, second.ID)

	assert.Len(t, rec.events, 1, "the duplicate is not re-broadcast")
}
