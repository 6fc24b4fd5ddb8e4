package chatview

import (
	"testing"
	"time"

	"github.com/obcare/backend/internal/model"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func serverMsg(id, roomID, senderID, ref, body string) model.Message {
	return model.Message{
		ID:        id,
		RoomID:    roomID,
		SenderID:  senderID,
		ClientRef: ref,
		Body:      body,
		Kind:      model.MessageKindText,
		Status:    model.MessageStatusActive,
		CreatedAt: time.Now(),
	}
}

func TestOptimisticSendThenAck(t *testing.T) {
	s := NewSession()
	gen := s.SwitchRoom("room1")

	ref := s.Send("patient", "Hello", model.MessageKindText)
	entries := s.Messages()
	require.Len(t, entries, 1)
	assert.True(t, entries[0].Pending)
	assert.Equal(t, PendingIDPrefix+ref, entries[0].Message.ID)

	// REST ack приходит первым, затем то же сообщение из ленты
	s.Confirm(ref, serverMsg("m1", "room1", "patient", ref, "Hello"))
	entries = s.Messages()
	require.Len(t, entries, 1)
	assert.False(t, entries[0].Pending)
	assert.Equal(t, "m1", entries[0].Message.ID)

	s.ApplyInsert(gen, serverMsg("m1", "room1", "patient", ref, "Hello"))
	assert.Len(t, s.Messages(), 1, "feed echo after ack must not duplicate the row")
}

func TestFeedInsertBeforeAck(t *testing.T) {
	s := NewSession()
	gen := s.SwitchRoom("room1")

	ref := s.Send("patient", "Hello", model.MessageKindText)

	// Лента обогнала REST-ответ
	s.ApplyInsert(gen, serverMsg("m1", "room1", "patient", ref, "Hello"))
	entries := s.Messages()
	require.Len(t, entries, 1)
	assert.False(t, entries[0].Pending)
	assert.Equal(t, "m1", entries[0].Message.ID)

	// Запоздавший ack ничего не меняет
	s.Confirm(ref, serverMsg("m1", "room1", "patient", ref, "Hello"))
	assert.Len(t, s.Messages(), 1)
}

func TestHeuristicAdoptionWithoutRef(t *testing.T) {
	s := NewSession()
	gen := s.SwitchRoom("room1")

	s.Send("patient", "Hello", model.MessageKindText)

	// Сервер не вернул client_ref (старый клиент, прокси срезал поле) —
	// совпадение по отправителю и тексту в пределах окна усыновляет строку
	s.ApplyInsert(gen, serverMsg("m1", "room1", "patient", "", "Hello"))
	entries := s.Messages()
	require.Len(t, entries, 1)
	assert.False(t, entries[0].Pending)
	assert.Equal(t, "m1", entries[0].Message.ID)
}

func TestIncomingFromOtherPartyAppends(t *testing.T) {
	s := NewSession()
	gen := s.SwitchRoom("room1")

	s.Send("patient", "Hello", model.MessageKindText)
	s.ApplyInsert(gen, serverMsg("m2", "room1", "doctor", "ref-d", "Hi there"))

	entries := s.Messages()
	require.Len(t, entries, 2)
	assert.Equal(t, "doctor", entries[1].Message.SenderID)
	assert.True(t, entries[0].Pending, "doctor's message must not adopt the patient's pending row")
}

func TestDuplicateInsertDropped(t *testing.T) {
	s := NewSession()
	gen := s.SwitchRoom("room1")

	s.ApplyInsert(gen, serverMsg("m1", "room1", "doctor", "ref1", "Hello"))
	s.ApplyInsert(gen, serverMsg("m1", "room1", "doctor", "ref1", "Hello"))
	assert.Len(t, s.Messages(), 1, "same server id is never shown twice")

	// Тот же отправитель и текст в пределах окна, другой id — ретрансляция
	s.ApplyInsert(gen, serverMsg("m1-retry", "room1", "doctor", "", "Hello"))
	assert.Len(t, s.Messages(), 1)
}

func TestStaleGenerationDiscarded(t *testing.T) {
	s := NewSession()
	oldGen := s.SwitchRoom("room1")
	s.SwitchRoom("room2")

	s.ApplyInsert(oldGen, serverMsg("m1", "room1", "doctor", "ref1", "from old room"))
	assert.Empty(t, s.Messages(), "events from a previous room generation are dropped")

	s.ApplyList(oldGen, []model.Message{serverMsg("m2", "room1", "doctor", "ref2", "old fetch")})
	assert.Empty(t, s.Messages(), "a fetch started before the switch must not install")
}

func TestApplyListKeepsPending(t *testing.T) {
	s := NewSession()
	gen := s.SwitchRoom("room1")

	ref := s.Send("patient", "unacked", model.MessageKindText)
	history := []model.Message{
		serverMsg("m1", "room1", "doctor", "r1", "first"),
		serverMsg("m2", "room1", "patient", "r2", "second"),
	}
	s.ApplyList(gen, history)

	entries := s.Messages()
	require.Len(t, entries, 3)
	assert.Equal(t, "m1", entries[0].Message.ID)
	assert.Equal(t, "m2", entries[1].Message.ID)
	assert.True(t, entries[2].Pending)
	assert.Equal(t, ref, entries[2].Message.ClientRef)
}

func TestApplyListAbsorbsPendingAlreadyOnServer(t *testing.T) {
	s := NewSession()
	gen := s.SwitchRoom("room1")

	ref := s.Send("patient", "made it", model.MessageKindText)
	s.ApplyList(gen, []model.Message{serverMsg("m1", "room1", "patient", ref, "made it")})

	entries := s.Messages()
	require.Len(t, entries, 1)
	assert.False(t, entries[0].Pending)
	assert.Equal(t, "m1", entries[0].Message.ID)
}

func TestFailRollsBackOptimisticRow(t *testing.T) {
	s := NewSession()
	gen := s.SwitchRoom("room1")

	s.ApplyInsert(gen, serverMsg("m1", "room1", "doctor", "r1", "earlier"))
	ref := s.Send("patient", "over quota", model.MessageKindText)
	require.Len(t, s.Messages(), 2)

	s.Fail(ref)
	entries := s.Messages()
	require.Len(t, entries, 1, "a rejected send leaves no row behind")
	assert.Equal(t, "m1", entries[0].Message.ID)

	// Повторный Fail по тому же ref безвреден
	s.Fail(ref)
	assert.Len(t, s.Messages(), 1)

	// Fail не трогает строку, уже усыновлённую сервером
	ref2 := s.Send("patient", "made it", model.MessageKindText)
	s.ApplyInsert(gen, serverMsg("m2", "room1", "patient", ref2, "made it"))
	s.Fail(ref2)
	assert.Len(t, s.Messages(), 2)
}

func TestApplyUpdateUnsend(t *testing.T) {
	s := NewSession()
	gen := s.SwitchRoom("room1")

	m := serverMsg("m1", "room1", "doctor", "r1", "typo")
	s.ApplyInsert(gen, m)

	m.Status = model.MessageStatusUnsent
	m.Body = ""
	s.ApplyUpdate(gen, m)

	entries := s.Messages()
	require.Len(t, entries, 1)
	assert.Equal(t, model.MessageStatusUnsent, entries[0].Message.Status)
	assert.Empty(t, entries[0].Message.Body)
}

func TestApplySeen(t *testing.T) {
	s := NewSession()
	gen := s.SwitchRoom("room1")

	s.ApplyInsert(gen, serverMsg("m1", "room1", "patient", "r1", "one"))
	s.ApplyInsert(gen, serverMsg("m2", "room1", "patient", "r2", "two"))

	seenAt := time.Now()
	s.ApplySeen(gen, []string{"m1", "m2", "unknown"}, seenAt)

	for _, e := range s.Messages() {
		assert.True(t, e.Message.Seen)
		require.NotNil(t, e.Message.SeenAt)
	}
}
