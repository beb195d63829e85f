package app_test

import (
	"context"
	"errors"
	"sync"

	"github.com/Swaymbhu-git/SlateAssist/internal/core"
	"github.com/Swaymbhu-git/SlateAssist/internal/domain"
)

// fakeConn records everything sent to it.
type fakeConn struct {
	mu     sync.Mutex
	frames [][]byte
	closed bool
	full   bool
}

func (c *fakeConn) TrySend(f core.Frame) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return errors.New("closed")
	}
	if c.full {
		return errors.New("backpressure")
	}
	buf := make([]byte, len(f))
	copy(buf, f)
	c.frames = append(c.frames, buf)
	return nil
}

func (c *fakeConn) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closed = true
}

func (c *fakeConn) isClosed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}

func (c *fakeConn) sent() [][]byte {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([][]byte, len(c.frames))
	copy(out, c.frames)
	return out
}

// memberStore is an in-memory authoritative membership record.
type memberStore struct {
	mu   sync.Mutex
	recs map[domain.RoomID]*domain.MembershipRecord
}

func newMemberStore() *memberStore {
	return &memberStore{recs: make(map[domain.RoomID]*domain.MembershipRecord)}
}

func (s *memberStore) put(rec *domain.MembershipRecord) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.recs[rec.RoomID] = rec
}

func (s *memberStore) GetRoom(_ context.Context, roomID domain.RoomID) (*domain.MembershipRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.recs[roomID]
	if !ok {
		return nil, domain.ErrRoomNotFound
	}
	cp := *rec
	cp.Members = append([]domain.UserID(nil), rec.Members...)
	return &cp, nil
}

// snapStore counts snapshot flushes.
type snapStore struct {
	mu    sync.Mutex
	saves []snapSave
	fail  int
}

type snapSave struct {
	roomID   domain.RoomID
	buffer   string
	revision uint64
}

func (s *snapStore) SaveSnapshot(_ context.Context, roomID domain.RoomID, buffer string, revision uint64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.fail > 0 {
		s.fail--
		return errors.New("transient storage failure")
	}
	s.saves = append(s.saves, snapSave{roomID: roomID, buffer: buffer, revision: revision})
	return nil
}

func (s *snapStore) saved() []snapSave {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]snapSave, len(s.saves))
	copy(out, s.saves)
	return out
}
