package app_test

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Swaymbhu-git/SlateAssist/internal/app"
	"github.com/Swaymbhu-git/SlateAssist/internal/core"
	"github.com/Swaymbhu-git/SlateAssist/internal/domain"
)

type wireEvent struct {
	Type     string      `json:"type"`
	Revision uint64      `json:"revision"`
	Payload  string      `json:"payload"`
	Author   string      `json:"author"`
	User     domain.User `json:"user"`
}

func decodeEvents(t *testing.T, frames [][]byte) []wireEvent {
	t.Helper()
	out := make([]wireEvent, 0, len(frames))
	for _, f := range frames {
		var e wireEvent
		require.NoError(t, json.Unmarshal(f, &e))
		out = append(out, e)
	}
	return out
}

type fixture struct {
	registry *app.Registry
	sessions *app.Sessions
	members  *memberStore
	snaps    *snapStore
	router   *app.Router
}

func newFixture() *fixture {
	members := newMemberStore()
	snaps := &snapStore{}
	registry := app.NewRegistry()
	sessions := app.NewSessions(snaps, 3, time.Millisecond)
	router := app.NewRouter(registry, sessions, members, app.SimplePolicy{})
	return &fixture{
		registry: registry,
		sessions: sessions,
		members:  members,
		snaps:    snaps,
		router:   router,
	}
}

func (f *fixture) allow(roomID domain.RoomID, owner domain.UserID, members ...domain.UserID) {
	f.members.put(&domain.MembershipRecord{
		RoomID:  roomID,
		Owner:   owner,
		Members: append([]domain.UserID{owner}, members...),
	})
}

func (f *fixture) join(t *testing.T, connID core.ConnID, roomID domain.RoomID, uid string) *fakeConn {
	t.Helper()
	conn := &fakeConn{}
	_, err := f.router.Join(context.Background(), connID, roomID, user(uid), conn)
	require.NoError(t, err)
	return conn
}

func TestRouterJoinDenied(t *testing.T) {
	f := newFixture()
	f.allow("r1", "alice")

	conn := &fakeConn{}
	_, err := f.router.Join(context.Background(), "c1", "r1", user("mallory"), conn)
	require.ErrorIs(t, err, domain.ErrAccessDenied)
	assert.Empty(t, f.registry.RoomConnections("r1"))

	_, err = f.router.Join(context.Background(), "c1", "nowhere", user("alice"), conn)
	require.ErrorIs(t, err, domain.ErrAccessDenied)
}

func TestRouterJoinBroadcastsToOthers(t *testing.T) {
	f := newFixture()
	f.allow("r1", "alice", "bob")

	aliceConn := f.join(t, "a1", "r1", "alice")
	bobConn := f.join(t, "b1", "r1", "bob")

	events := decodeEvents(t, aliceConn.sent())
	require.Len(t, events, 1)
	assert.Equal(t, app.EventParticipantJoined, events[0].Type)
	assert.Equal(t, domain.UserID("bob"), events[0].User.ID)

	// The joiner itself gets the catch-up state, not its own join event.
	assert.Empty(t, bobConn.sent())
}

func TestRouterJoinReturnsCatchUpState(t *testing.T) {
	f := newFixture()
	f.allow("r1", "alice", "bob")

	f.join(t, "a1", "r1", "alice")
	_, err := f.router.Edit("a1", "r1", "alice", "hello", 0)
	require.NoError(t, err)

	state, err := f.router.Join(context.Background(), "b1", "r1", user("bob"), &fakeConn{})
	require.NoError(t, err)
	assert.Equal(t, uint64(1), state.Revision)
	assert.Equal(t, "hello", state.Buffer)
	assert.Len(t, state.Participants, 2)
}

func TestRouterEditFanout(t *testing.T) {
	f := newFixture()
	f.allow("r1", "alice", "bob")

	aliceConn := f.join(t, "a1", "r1", "alice")
	aliceTab := f.join(t, "a2", "r1", "alice")
	bobConn := f.join(t, "b1", "r1", "bob")

	rev, err := f.router.Edit("a1", "r1", "alice", "package main", 0)
	require.NoError(t, err)
	assert.Equal(t, uint64(1), rev)

	bobEvents := decodeEvents(t, bobConn.sent())
	require.NotEmpty(t, bobEvents)
	last := bobEvents[len(bobEvents)-1]
	assert.Equal(t, app.EventEditApplied, last.Type)
	assert.Equal(t, uint64(1), last.Revision)
	assert.Equal(t, "package main", last.Payload)
	assert.Equal(t, "alice", last.Author)

	// Echo suppressed on the originating connection only; the user's
	// other tab still hears about it.
	for _, e := range decodeEvents(t, aliceConn.sent()) {
		assert.NotEqual(t, app.EventEditApplied, e.Type)
	}
	tabEvents := decodeEvents(t, aliceTab.sent())
	assert.Equal(t, app.EventEditApplied, tabEvents[len(tabEvents)-1].Type)
}

func TestRouterEditStaleNotBroadcast(t *testing.T) {
	f := newFixture()
	f.allow("r1", "alice", "bob")

	f.join(t, "a1", "r1", "alice")
	bobConn := f.join(t, "b1", "r1", "bob")

	_, err := f.router.Edit("a1", "r1", "alice", "one", 0)
	require.NoError(t, err)
	before := len(bobConn.sent())

	_, err = f.router.Edit("a1", "r1", "alice", "conflict", 0)
	var stale *domain.StaleRevisionError
	require.ErrorAs(t, err, &stale)
	assert.Equal(t, uint64(1), stale.CurrentRevision)
	assert.Equal(t, "one", stale.CurrentBuffer)

	assert.Len(t, bobConn.sent(), before, "a rejected edit must not broadcast")
}

func TestRouterExecuteEchoesToAll(t *testing.T) {
	f := newFixture()
	f.allow("r1", "alice", "bob")

	aliceConn := f.join(t, "a1", "r1", "alice")
	bobConn := f.join(t, "b1", "r1", "bob")

	run := &core.Execution{Input: []byte(`{"src":"x"}`), Output: []byte(`{"out":"y"}`)}
	require.NoError(t, f.router.Execute("r1", "alice", run))

	for _, conn := range []*fakeConn{aliceConn, bobConn} {
		events := decodeEvents(t, conn.sent())
		require.NotEmpty(t, events)
		assert.Equal(t, app.EventRunResult, events[len(events)-1].Type)
	}
}

func TestRouterLeaveLastConnectionDropsParticipant(t *testing.T) {
	f := newFixture()
	f.allow("r1", "alice", "bob")

	f.join(t, "a1", "r1", "alice")
	f.join(t, "a2", "r1", "alice")
	bobConn := f.join(t, "b1", "r1", "bob")

	f.router.Leave("a1")
	assert.True(t, f.sessions.IsParticipant("r1", "alice"), "still has a live tab")

	f.router.Leave("a2")
	assert.False(t, f.sessions.IsParticipant("r1", "alice"))

	events := decodeEvents(t, bobConn.sent())
	last := events[len(events)-1]
	assert.Equal(t, app.EventParticipantLeft, last.Type)
	assert.Equal(t, domain.UserID("alice"), last.User.ID)

	// Unknown connections are a no-op.
	f.router.Leave("never-registered")
}

func TestRouterLastLeaveFlushesSnapshot(t *testing.T) {
	f := newFixture()
	f.allow("r1", "alice")

	f.join(t, "a1", "r1", "alice")
	_, err := f.router.Edit("a1", "r1", "alice", "keep me", 0)
	require.NoError(t, err)

	f.router.Leave("a1")
	require.Eventually(t, func() bool {
		return len(f.snaps.saved()) == 1
	}, time.Second, 5*time.Millisecond)
	assert.Equal(t, "keep me", f.snaps.saved()[0].buffer)
}

// Concurrent rebase loop: every recipient must observe revisions in
// strictly increasing order with no gaps, i.e. delivery order equals
// acceptance order.
func TestRouterBroadcastOrderMatchesAcceptance(t *testing.T) {
	f := newFixture()
	f.allow("r1", "alice", "bob", "carol")

	f.join(t, "a1", "r1", "alice")
	f.join(t, "b1", "r1", "bob")
	watcher := f.join(t, "w1", "r1", "carol")

	const editsPerUser = 50
	var wg sync.WaitGroup
	for _, sender := range []struct {
		connID core.ConnID
		userID domain.UserID
	}{{"a1", "alice"}, {"b1", "bob"}} {
		wg.Add(1)
		go func(connID core.ConnID, userID domain.UserID) {
			defer wg.Done()
			base := uint64(0)
			for done := 0; done < editsPerUser; {
				rev, err := f.router.Edit(connID, "r1", userID, string(userID), base)
				if err == nil {
					base = rev
					done++
					continue
				}
				var stale *domain.StaleRevisionError
				if !errors.As(err, &stale) {
					t.Errorf("unexpected edit error: %v", err)
					return
				}
				base = stale.CurrentRevision
			}
		}(sender.connID, sender.userID)
	}
	wg.Wait()

	events := decodeEvents(t, watcher.sent())
	var revisions []uint64
	for _, e := range events {
		if e.Type == app.EventEditApplied {
			revisions = append(revisions, e.Revision)
		}
	}
	require.Len(t, revisions, 2*editsPerUser)
	for i, rev := range revisions {
		assert.Equal(t, uint64(i+1), rev, "delivery order must match acceptance order")
	}
}
