// Package chatview maintains a client-side view of one room's message list:
// optimistic local rows, reconciliation against the realtime change feed and
// against REST acknowledgements. The server stays authoritative; everything
// here exists so the UI can show a sent message instantly and later converge
// on the stored row without ever showing it twice.
package chatview

import (
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/obcare/backend/internal/model"
)

const (
	// PendingIDPrefix marks locally created rows that have no server id yet.
	PendingIDPrefix = "pending-"

	// reconcileWindow bounds the heuristic match: a feed insert from this
	// sender with this body adopts a pending row only if the row is younger
	// than the window. Older pendings are considered a different message.
	reconcileWindow = 10 * time.Second

	// duplicateWindow bounds duplicate suppression for confirmed rows: an
	// insert that matches an already confirmed row (same server id, or same
	// sender+body within the window) is dropped instead of appended.
	duplicateWindow = 5 * time.Second
)

// Entry is one row of the view: a message plus its local delivery state.
type Entry struct {
	Message model.Message
	// Pending is true until the row is adopted by a server id.
	Pending bool
	// sentAt is the local creation time of a pending row, for the
	// reconcile window. Zero for rows that arrived from the server.
	sentAt time.Time
}

// Session is the per-room view state. One Session outlives room switches:
// SwitchRoom bumps the generation and feed events carrying a stale
// generation are discarded, so a slow event from the previous room can
// never leak into the new one.
type Session struct {
	mu     sync.Mutex
	roomID string
	gen    uint64
	// entries in display order (created_at ascending, pendings last-in at the tail).
	entries []Entry
	// byID indexes confirmed rows by server id.
	byID map[string]int
	// byRef indexes every row by client_ref.
	byRef map[string]int
}

func NewSession() *Session {
	return &Session{
		byID:  make(map[string]int),
		byRef: make(map[string]int),
	}
}

// SwitchRoom points the session at a new room, drops all rows and returns
// the new generation. Events stamped with an older generation are ignored.
func (s *Session) SwitchRoom(roomID string) uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.roomID = roomID
	s.gen++
	s.reset()
	return s.gen
}

// Generation returns the current generation, for stamping fetches.
func (s *Session) Generation() uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.gen
}

func (s *Session) reset() {
	s.entries = s.entries[:0]
	s.byID = make(map[string]int)
	s.byRef = make(map[string]int)
}

// Send appends an optimistic row and returns its client_ref. The ref travels
// with the REST request; the server stores it and echoes it in both the ack
// and the feed insert, which is how the row later finds its real identity.
func (s *Session) Send(senderID, body string, kind model.MessageKind) string {
	s.mu.Lock()
	defer s.mu.Unlock()
	ref := uuid.New().String()
	e := Entry{
		Message: model.Message{
			ID:        PendingIDPrefix + ref,
			RoomID:    s.roomID,
			SenderID:  senderID,
			ClientRef: ref,
			Body:      body,
			Kind:      kind,
			Status:    model.MessageStatusActive,
			CreatedAt: time.Now(),
		},
		Pending: true,
		sentAt:  time.Now(),
	}
	s.byRef[ref] = len(s.entries)
	s.entries = append(s.entries, e)
	return ref
}

// Confirm adopts the server row for a pending send (the REST ack path).
// No-op if the feed insert already got there first.
func (s *Session) Confirm(clientRef string, m model.Message) {
	s.mu.Lock()
	defer s.mu.Unlock()
	idx, ok := s.byRef[clientRef]
	if !ok || !s.entries[idx].Pending {
		return
	}
	s.adopt(idx, m)
}

// Fail rolls back a rejected send: the optimistic row is removed and the view
// converges back onto the server state. A retry is a fresh Send with a new
// ref; the caller keeps the body for its retry affordance, not the session.
// No-op for unknown refs and for rows already adopted by the server.
func (s *Session) Fail(clientRef string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	idx, ok := s.byRef[clientRef]
	if !ok || !s.entries[idx].Pending {
		return
	}
	s.removeAt(idx)
}

// ApplyInsert processes a message_inserted feed event.
//
// Order of precedence:
//  1. stale generation: discard, the event belongs to a previous room;
//  2. exact client_ref match against a pending row: adopt it;
//  3. heuristic match (same sender, same body, pending younger than the
//     reconcile window): adopt — covers acks lost on a flaky connection
//     where the ref never came back;
//  4. duplicate of a confirmed row (same id, or same sender+body within
//     the duplicate window): drop;
//  5. otherwise append as a new row.
func (s *Session) ApplyInsert(gen uint64, m model.Message) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if gen != s.gen || m.RoomID != s.roomID {
		return
	}

	if idx, ok := s.byRef[m.ClientRef]; ok && m.ClientRef != "" {
		if s.entries[idx].Pending {
			s.adopt(idx, m)
		}
		// Confirmed row with the same ref: the REST ack won the race, drop.
		return
	}

	if idx, ok := s.heuristicPending(m); ok {
		s.adopt(idx, m)
		return
	}

	if s.isDuplicate(m) {
		return
	}

	s.byID[m.ID] = len(s.entries)
	if m.ClientRef != "" {
		s.byRef[m.ClientRef] = len(s.entries)
	}
	s.entries = append(s.entries, Entry{Message: m})
	s.sortLocked()
}

// heuristicPending finds the oldest pending row from the same sender with
// the same body inside the reconcile window.
func (s *Session) heuristicPending(m model.Message) (int, bool) {
	now := time.Now()
	for i, e := range s.entries {
		if !e.Pending {
			continue
		}
		if e.Message.SenderID != m.SenderID {
			continue
		}
		if !strings.EqualFold(strings.TrimSpace(e.Message.Body), strings.TrimSpace(m.Body)) {
			continue
		}
		if now.Sub(e.sentAt) > reconcileWindow {
			continue
		}
		return i, true
	}
	return 0, false
}

func (s *Session) isDuplicate(m model.Message) bool {
	if _, ok := s.byID[m.ID]; ok {
		return true
	}
	for _, e := range s.entries {
		if e.Pending {
			continue
		}
		if e.Message.SenderID == m.SenderID &&
			e.Message.Body == m.Body &&
			absDuration(m.CreatedAt.Sub(e.Message.CreatedAt)) <= duplicateWindow {
			return true
		}
	}
	return false
}

// adopt replaces a pending row with its server identity, preserving order.
func (s *Session) adopt(idx int, m model.Message) {
	old := s.entries[idx]
	delete(s.byRef, old.Message.ClientRef)
	s.entries[idx] = Entry{Message: m}
	s.byID[m.ID] = idx
	if m.ClientRef != "" {
		s.byRef[m.ClientRef] = idx
	}
	s.sortLocked()
}

// ApplyUpdate processes message_updated events (unsend, seen flips carried
// as full rows). Unknown ids are ignored: the row may be outside the loaded
// window.
func (s *Session) ApplyUpdate(gen uint64, m model.Message) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if gen != s.gen || m.RoomID != s.roomID {
		return
	}
	idx, ok := s.byID[m.ID]
	if !ok {
		return
	}
	s.entries[idx].Message = m
}

// ApplySeen flips the seen flag on the listed rows.
func (s *Session) ApplySeen(gen uint64, messageIDs []string, seenAt time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if gen != s.gen {
		return
	}
	for _, id := range messageIDs {
		if idx, ok := s.byID[id]; ok {
			s.entries[idx].Message.Seen = true
			t := seenAt
			s.entries[idx].Message.SeenAt = &t
		}
	}
}

// ApplyList installs a fetched history page. Stale generations are dropped:
// a fetch started before a room switch must not clobber the new room.
// Pending rows survive the install; fetched rows matching a pending ref
// adopt it in place.
func (s *Session) ApplyList(gen uint64, msgs []model.Message) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if gen != s.gen {
		return
	}

	pendings := make([]Entry, 0, 2)
	fetchedRefs := make(map[string]struct{}, len(msgs))
	for _, m := range msgs {
		if m.ClientRef != "" {
			fetchedRefs[m.ClientRef] = struct{}{}
		}
	}
	for _, e := range s.entries {
		if e.Pending {
			if _, ok := fetchedRefs[e.Message.ClientRef]; ok {
				continue // уже на сервере, придёт в списке
			}
			pendings = append(pendings, e)
		}
	}

	s.reset()
	for _, m := range msgs {
		s.byID[m.ID] = len(s.entries)
		if m.ClientRef != "" {
			s.byRef[m.ClientRef] = len(s.entries)
		}
		s.entries = append(s.entries, Entry{Message: m})
	}
	for _, e := range pendings {
		s.byRef[e.Message.ClientRef] = len(s.entries)
		s.entries = append(s.entries, e)
	}
	s.sortLocked()
}

// Messages returns a snapshot of the view in display order.
func (s *Session) Messages() []Entry {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Entry, len(s.entries))
	copy(out, s.entries)
	return out
}

func (s *Session) removeAt(idx int) {
	e := s.entries[idx]
	delete(s.byRef, e.Message.ClientRef)
	delete(s.byID, e.Message.ID)
	s.entries = append(s.entries[:idx], s.entries[idx+1:]...)
	s.reindex()
}

func (s *Session) sortLocked() {
	sort.SliceStable(s.entries, func(i, j int) bool {
		return s.entries[i].Message.CreatedAt.Before(s.entries[j].Message.CreatedAt)
	})
	s.reindex()
}

func (s *Session) reindex() {
	for i, e := range s.entries {
		if !e.Pending {
			s.byID[e.Message.ID] = i
		}
		if e.Message.ClientRef != "" {
			s.byRef[e.Message.ClientRef] = i
		}
	}
}

func absDuration(d time.Duration) time.Duration {
	if d < 0 {
		return -d
	}
	return d
}
