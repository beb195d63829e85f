package app

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/Swaymbhu-git/SlateAssist/internal/core"
	"github.com/Swaymbhu-git/SlateAssist/internal/domain"
)

// Session is the live in-memory state of one active room: the code
// buffer with its revision, the last run snapshot and the connected
// participants. Distinct from the persisted MembershipRecord.
//
// The session mutex is the room's serialization point: every mutation
// and its fan-out happen while it is held. Fan-out only uses
// non-blocking TrySend, so nothing suspends inside the critical
// section. No operation ever takes two sessions' locks.
type Session struct {
	roomID domain.RoomID

	mu           sync.Mutex
	dead         bool
	buffer       string
	revision     uint64
	lastRun      *core.Execution
	participants map[domain.UserID]*domain.Participant
}

// SessionState is a read-only snapshot handed to late joiners.
type SessionState struct {
	Buffer       string          `json:"buffer"`
	Revision     uint64          `json:"revision"`
	Participants []domain.User   `json:"participants"`
	LastRun      *core.Execution `json:"last_run,omitempty"`
}

// Sessions owns every active Session. Sessions are created lazily on
// first join and torn down, with a snapshot flush, when the last
// participant leaves.
type Sessions struct {
	mu    sync.RWMutex
	rooms map[domain.RoomID]*Session

	store        core.SnapshotStore
	flushRetries int
	flushBackoff time.Duration
}

func NewSessions(store core.SnapshotStore, flushRetries int, flushBackoff time.Duration) *Sessions {
	return &Sessions{
		rooms:        make(map[domain.RoomID]*Session),
		store:        store,
		flushRetries: flushRetries,
		flushBackoff: flushBackoff,
	}
}

// GetOrCreate returns the session for the room, creating an empty one
// (empty buffer, revision 0) on first use. Not an error path.
func (m *Sessions) GetOrCreate(roomID domain.RoomID) *Session {
	m.mu.RLock()
	s, ok := m.rooms[roomID]
	m.mu.RUnlock()
	if ok {
		return s
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if s, ok = m.rooms[roomID]; ok {
		return s
	}
	s = &Session{
		roomID:       roomID,
		participants: make(map[domain.UserID]*domain.Participant),
	}
	m.rooms[roomID] = s
	log.Info().Str("module", "app.sessions").Str("room", string(roomID)).Msg("session created")
	return s
}

func (m *Sessions) get(roomID domain.RoomID) (*Session, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	s, ok := m.rooms[roomID]
	return s, ok
}

// AddParticipant joins the user to the live session and returns the
// state snapshot for catch-up. emit, if non-nil, runs at the room's
// serialization point so the join event cannot reorder with edits.
// A session caught between fetch and lock by a last-leave teardown is
// dead by the time the lock is won; retry against a fresh one.
func (m *Sessions) AddParticipant(roomID domain.RoomID, user *domain.User, emit func()) SessionState {
	for {
		s := m.GetOrCreate(roomID)
		s.mu.Lock()
		if s.dead {
			s.mu.Unlock()
			continue
		}
		if _, ok := s.participants[user.ID]; !ok {
			s.participants[user.ID] = domain.NewParticipant(user)
			log.Info().Str("module", "app.sessions").Str("room", string(roomID)).Str("user", string(user.ID)).Msg("participant added")
		}
		if emit != nil {
			emit()
		}
		state := s.stateLocked()
		s.mu.Unlock()
		return state
	}
}

// RemoveParticipant drops the user from the connected set. When the set
// empties the session is torn down and its buffer flushed to storage.
// Safe to call for users or rooms that were never added. Returns true
// if the user was actually removed.
func (m *Sessions) RemoveParticipant(roomID domain.RoomID, userID domain.UserID, emit func()) bool {
	m.mu.Lock()
	s, ok := m.rooms[roomID]
	if !ok {
		m.mu.Unlock()
		return false
	}
	s.mu.Lock()
	_, present := s.participants[userID]
	delete(s.participants, userID)
	empty := len(s.participants) == 0
	buffer, revision := s.buffer, s.revision
	if present && emit != nil {
		emit()
	}
	// Mark before unlocking so a join that already fetched this session
	// sees the teardown and retries instead of landing in a dropped map
	// entry.
	if empty {
		s.dead = true
	}
	s.mu.Unlock()
	if empty {
		delete(m.rooms, roomID)
		log.Info().Str("module", "app.sessions").Str("room", string(roomID)).Uint64("revision", revision).Msg("session torn down")
	}
	m.mu.Unlock()

	if present {
		log.Info().Str("module", "app.sessions").Str("room", string(roomID)).Str("user", string(userID)).Msg("participant removed")
	}
	if empty && revision > 0 {
		m.flush(roomID, buffer, revision)
	}
	return present
}

// IsParticipant reports whether the user is in the connected set.
func (m *Sessions) IsParticipant(roomID domain.RoomID, userID domain.UserID) bool {
	s, ok := m.get(roomID)
	if !ok {
		return false
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok = s.participants[userID]
	return ok
}

// ApplyEdit accepts the edit only when baseRevision matches the
// session head (optimistic concurrency). On acceptance the buffer is
// replaced, the revision incremented, and emit runs before the lock is
// released so delivery order equals acceptance order. On mismatch a
// StaleRevisionError carries the authoritative state back to the
// caller for a rebase.
func (m *Sessions) ApplyEdit(roomID domain.RoomID, userID domain.UserID, payload string, baseRevision uint64, emit func(revision uint64)) (uint64, error) {
	s, ok := m.get(roomID)
	if !ok {
		return 0, domain.ErrNotAMember
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.participants[userID]; !ok {
		return 0, domain.ErrNotAMember
	}
	if baseRevision != s.revision {
		return 0, &domain.StaleRevisionError{CurrentRevision: s.revision, CurrentBuffer: s.buffer}
	}
	s.buffer = payload
	s.revision++
	if emit != nil {
		emit(s.revision)
	}
	log.Debug().Str("module", "app.sessions").Str("room", string(roomID)).Str("user", string(userID)).Uint64("revision", s.revision).Msg("edit applied")
	return s.revision, nil
}

// RecordExecution stores the latest run snapshot. No revision check:
// execution results are advisory, not part of the edit stream.
func (m *Sessions) RecordExecution(roomID domain.RoomID, userID domain.UserID, run *core.Execution, emit func()) error {
	s, ok := m.get(roomID)
	if !ok {
		return domain.ErrNotAMember
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.participants[userID]; !ok {
		return domain.ErrNotAMember
	}
	s.lastRun = run
	if emit != nil {
		emit()
	}
	return nil
}

// State returns a catch-up snapshot, or false if the room has no live session.
func (m *Sessions) State(roomID domain.RoomID) (SessionState, bool) {
	s, ok := m.get(roomID)
	if !ok {
		return SessionState{}, false
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.stateLocked(), true
}

func (s *Session) stateLocked() SessionState {
	users := make([]domain.User, 0, len(s.participants))
	for _, p := range s.participants {
		users = append(users, *p.User)
	}
	return SessionState{
		Buffer:       s.buffer,
		Revision:     s.revision,
		Participants: users,
		LastRun:      s.lastRun,
	}
}

// flush persists the final buffer off the critical path. Transient
// storage failures are retried with backoff up to a bounded count;
// after that the loss risk is logged and the in-memory state is gone.
func (m *Sessions) flush(roomID domain.RoomID, buffer string, revision uint64) {
	if m.store == nil {
		return
	}
	go func() {
		backoff := m.flushBackoff
		for attempt := 0; ; attempt++ {
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			err := m.store.SaveSnapshot(ctx, roomID, buffer, revision)
			cancel()
			if err == nil {
				log.Info().Str("module", "app.sessions").Str("room", string(roomID)).Uint64("revision", revision).Msg("snapshot flushed")
				return
			}
			if attempt >= m.flushRetries {
				log.Error().Err(err).Str("module", "app.sessions").Str("room", string(roomID)).Uint64("revision", revision).Msg("snapshot flush failed, data-loss risk")
				return
			}
			log.Warn().Err(err).Str("module", "app.sessions").Str("room", string(roomID)).Int("attempt", attempt+1).Msg("snapshot flush retry")
			time.Sleep(backoff)
			backoff *= 2
		}
	}()
}
