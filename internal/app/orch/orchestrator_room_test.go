package orch

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"testing"
	"time"

	"github.com/dkeye/Boardly/internal/app"
	"github.com/dkeye/Boardly/internal/domain"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestConnect_Greets(t *testing.T) {
	h := newHarness(t, nil)
	c := h.connect("c1", "ua")

	msg := c.last(MsgConnected)
	require.NotNil(t, msg)
	assert.Equal(t, "c1", msg["socketId"])
	assert.Equal(t, []any{}, msg["iceServers"])
	assert.Equal(t, 1.0, testutil.ToFloat64(h.m.Connections))
}

func TestJoin_StatsCountDistinctUsers(t *testing.T) {
	h := newHarness(t, nil)
	c1 := h.connect("c1", "ua1")
	c2 := h.connect("c2", "ua2")
	c3 := h.connect("c3", "ua3")

	h.join(c1, "R1", tutor("t1"))
	h.join(c2, "R1", student("s1"))
	h.join(c3, "R1", student("s2"))

	st := h.o.Stats("R1")
	assert.Equal(t, 3, st.TotalUsers)
	assert.Equal(t, 2, st.Students)
	assert.Equal(t, 1, st.Tutors)
	require.Len(t, st.UserList, 3)

	last := c1.last(MsgRoomStats)
	require.NotNil(t, last)
	assert.Equal(t, 3.0, last["totalUsers"])
	assert.Equal(t, 3, c1.count(MsgRoomStats))
	assert.Equal(t, 1, c3.count(MsgRoomStats))

	joined := c2.last(MsgRoomJoined)
	require.NotNil(t, joined)
	assert.Equal(t, "R1", joined["roomId"])
	assert.Equal(t, "c2", joined["socketId"])
}

func TestJoin_DuplicateRequestIsNoop(t *testing.T) {
	h := newHarness(t, nil)
	c := h.connect("c1", "ua")
	h.join(c, "R1", student("s1"))
	h.clock.Advance(time.Minute)
	h.join(c, "R1", student("s1"))

	assert.Equal(t, 1, c.count(MsgRoomJoined))
	assert.Equal(t, 1, c.count(MsgRoomStats))
	rec, ok := h.o.SessionOf("R1", "s1")
	require.True(t, ok)
	assert.Equal(t, h.clock.Now(), rec.LastSeen)
}

func TestJoin_Rejections(t *testing.T) {
	tests := []struct {
		name string
		room domain.RoomID
		user domain.User
		code string
	}{
		{"missing room", "", student("s1"), app.CodeBadPayload},
		{"missing user id", "R1", domain.User{Name: "nobody"}, app.CodeBadPayload},
		{"user id too long", "R1", student(string(make([]byte, domain.MaxUserIDLen+1))), app.CodeBadPayload},
		{"unknown room", "NOPE", student("s1"), app.CodeRoomNotFound},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newHarness(t, func(_ *Config, d *Deps) {
				d.Rooms = &fakeLookup{rooms: map[domain.RoomID]domain.Room{"R1": {ID: "R1"}}}
			})
			c := h.connect("c1", "ua")
			err := h.o.Join(context.Background(), c.id, tt.room, tt.user)
			requireCode(t, err, tt.code)
			assert.Empty(t, h.o.Rooms())
			assert.Zero(t, c.count(MsgRoomJoined))
		})
	}
}

func TestJoin_UnknownConnection(t *testing.T) {
	h := newHarness(t, nil)
	err := h.o.Join(context.Background(), "ghost", "R1", student("s1"))
	requireCode(t, err, app.CodeUnknownConn)
}

func TestJoin_ViewSync(t *testing.T) {
	t.Run("current view is pushed", func(t *testing.T) {
		h := newHarness(t, func(_ *Config, d *Deps) {
			d.Rooms = &fakeLookup{rooms: map[domain.RoomID]domain.Room{"R1": {ID: "R1", CurrentView: "pdf"}}}
		})
		c := h.connect("c1", "ua")
		h.join(c, "R1", student("s1"))
		msg := c.last(MsgChangeView)
		require.NotNil(t, msg)
		assert.Equal(t, "pdf", msg["view"])
	})
	t.Run("store failure still admits", func(t *testing.T) {
		h := newHarness(t, func(_ *Config, d *Deps) {
			d.Rooms = &fakeLookup{err: errors.New("connection refused")}
		})
		c := h.connect("c1", "ua")
		h.join(c, "R1", student("s1"))
		assert.Zero(t, c.count(MsgChangeView))
		assert.Equal(t, 1, h.o.Stats("R1").TotalUsers)
	})
	t.Run("hung store times out and still admits", func(t *testing.T) {
		h := newHarness(t, func(cfg *Config, d *Deps) {
			cfg.LookupTimeout = 20 * time.Millisecond
			d.Rooms = &fakeLookup{hang: true}
		})
		c := h.connect("c1", "ua")
		done := make(chan error, 1)
		go func() { done <- h.o.Join(context.Background(), c.id, "R1", student("s1")) }()
		select {
		case err := <-done:
			require.NoError(t, err)
		case <-time.After(2 * time.Second):
			t.Fatal("join blocked on the room store")
		}
		assert.Zero(t, c.count(MsgChangeView))
		assert.Equal(t, 1, h.o.Stats("R1").TotalUsers)
	})
}

func TestJoin_RateLimited(t *testing.T) {
	h := newHarness(t, func(_ *Config, d *Deps) {
		d.Limiter = app.NewRoomRateLimiter(2, time.Minute)
	})
	c := h.connect("c1", "ua")
	h.join(c, "R1", student("s1"))
	h.join(c, "R2", student("s1"))
	err := h.o.Join(context.Background(), c.id, "R3", student("s1"))
	requireCode(t, err, app.CodeRateLimited)
	assert.Equal(t, 1, h.o.Stats("R2").TotalUsers)
}

func TestJoin_SwitchingRoomsLeavesThePreviousOne(t *testing.T) {
	h := newHarness(t, nil)
	c1 := h.connect("c1", "ua1")
	c2 := h.connect("c2", "ua2")
	h.join(c1, "R1", student("s1"))
	h.join(c2, "R1", student("s2"))

	h.join(c1, "R2", student("s1"))

	assert.Equal(t, 1, h.o.Stats("R1").TotalUsers)
	assert.Equal(t, 1, h.o.Stats("R2").TotalUsers)
	assert.Equal(t, 1.0, c2.last(MsgRoomStats)["totalUsers"])
	_, ok := h.o.SessionOf("R1", "s1")
	assert.False(t, ok)
}

// A joins R1 from fp1, then from fp2; fp1 is evicted; the stale disconnect
// of fp1 changes nothing; fp2 leaving empties the room.
func TestMultiDeviceScenario(t *testing.T) {
	h := newHarness(t, nil)
	observer := h.connect("obs", "observer")
	h.join(observer, "R1", tutor("t1"))

	fp1 := h.connect("a-fp1", "fp1")
	h.join(fp1, "R1", student("A"))
	assert.Equal(t, 2, h.o.Stats("R1").TotalUsers)

	fp2 := h.connect("a-fp2", "fp2")
	h.join(fp2, "R1", student("A"))

	forced := fp1.messages(MsgForceDisconnect)
	require.Len(t, forced, 1)
	assert.Equal(t, CodeMultiDevice, forced[0]["code"])
	assert.True(t, fp1.isClosed())
	assert.Zero(t, fp2.count(MsgForceDisconnect))
	assert.Equal(t, 2, h.o.Stats("R1").TotalUsers)
	assert.Equal(t, 1.0, testutil.ToFloat64(h.m.Evictions))

	h.o.Disconnect(fp1.id)
	rec, ok := h.o.SessionOf("R1", "A")
	require.True(t, ok)
	assert.Equal(t, fp2.id, rec.Conn)
	assert.Equal(t, 2, h.o.Stats("R1").TotalUsers)

	h.o.Leave(fp2.id, "R1")
	assert.Equal(t, 1, h.o.Stats("R1").TotalUsers)
	assert.Equal(t, 1.0, observer.last(MsgRoomStats)["totalUsers"])
}

func TestMultiDevice_ExactlyOneLoserInEitherOrder(t *testing.T) {
	for _, order := range [][2]string{{"fp1", "fp2"}, {"fp2", "fp1"}} {
		t.Run(order[0]+"-first", func(t *testing.T) {
			h := newHarness(t, nil)
			first := h.connect("first", order[0])
			second := h.connect("second", order[1])
			h.join(first, "R1", student("A"))
			h.join(second, "R1", student("A"))

			assert.Equal(t, 1, first.count(MsgForceDisconnect)+second.count(MsgForceDisconnect))
			rec, ok := h.o.SessionOf("R1", "A")
			require.True(t, ok)
			assert.Equal(t, second.id, rec.Conn)
			assert.Equal(t, 1, h.o.Stats("R1").TotalUsers)
		})
	}
}

func TestMultiDevice_EvictedConnectionCannotRejoin(t *testing.T) {
	h := newHarness(t, nil)
	old := h.connect("old", "fp1")
	h.join(old, "R1", student("A"))
	h.join(h.connect("new", "fp2"), "R1", student("A"))

	require.NoError(t, h.o.Join(context.Background(), old.id, "R1", student("A")))
	rec, _ := h.o.SessionOf("R1", "A")
	assert.Equal(t, "new", string(rec.Conn))
	assert.Equal(t, 1, old.count(MsgForceDisconnect))
}

func TestSameDeviceTakeover(t *testing.T) {
	h := newHarness(t, nil)
	viewer := h.connect("viewer", "other")
	old := h.connect("old", "laptop")
	h.join(old, "R1", tutor("T"))
	h.join(viewer, "R1", student("s1"))
	require.NoError(t, h.o.StartBroadcast(old.id, "R1"))

	fresh := h.connect("fresh", "laptop")
	h.join(fresh, "R1", tutor("T"))

	assert.Zero(t, old.count(MsgForceDisconnect))
	assert.False(t, old.isClosed())
	rec, _ := h.o.SessionOf("R1", "T")
	assert.Equal(t, fresh.id, rec.Conn)

	// The old socket going away must not end the broadcast it handed over.
	h.o.Disconnect(old.id)
	assert.Equal(t, app.BroadcastActive, h.o.BroadcastPhase("R1"))
	assert.Zero(t, viewer.count(MsgBroadcastEnded))

	require.NoError(t, h.o.RelayAnswer(viewer.id, "R1", answer()))
	assert.Equal(t, 1, fresh.count(MsgAnswer))
}

func TestEvictionGraceHoldsTheNewConnection(t *testing.T) {
	h := newHarness(t, func(c *Config, _ *Deps) { c.EvictionGrace = 30 * time.Millisecond })
	peer := h.connect("peer", "peer")
	h.join(peer, "R1", student("s9"))
	h.join(h.connect("old", "fp1"), "R1", student("A"))
	fresh := h.connect("new", "fp2")
	peer.reset()

	h.join(fresh, "R1", student("A"))
	assert.Equal(t, 1, fresh.count(MsgRoomJoined))
	requireCode(t, h.o.RelayCandidate(fresh.id, "R1", candidate()), app.CodeNotInRoom)
	assert.Zero(t, peer.count(MsgRoomStats))

	require.Eventually(t, func() bool {
		return h.o.RelayCandidate(fresh.id, "R1", candidate()) == nil
	}, time.Second, 5*time.Millisecond)
	assert.Equal(t, 1, peer.count(MsgRoomStats))
	assert.Equal(t, 2, h.o.Stats("R1").TotalUsers)
}

func TestHeartbeat(t *testing.T) {
	h := newHarness(t, nil)
	old := h.connect("old", "laptop")
	h.join(old, "R1", student("A"))
	fresh := h.connect("fresh", "laptop")
	h.join(fresh, "R1", student("A"))
	joinedAt := h.clock.Now()

	h.clock.Advance(10 * time.Minute)
	h.o.Heartbeat(old.id, "A", "R1")
	rec, _ := h.o.SessionOf("R1", "A")
	assert.Equal(t, joinedAt, rec.LastSeen, "a replaced connection must not refresh the session")

	h.o.Heartbeat(fresh.id, "A", "")
	rec, _ = h.o.SessionOf("R1", "A")
	assert.Equal(t, h.clock.Now(), rec.LastSeen)
}

func TestLeave(t *testing.T) {
	h := newHarness(t, nil)
	c := h.connect("c1", "ua")
	h.join(c, "R1", student("s1"))

	h.o.Leave(c.id, "OTHER")
	assert.Equal(t, 1, h.o.Stats("R1").TotalUsers)

	h.o.Leave(c.id, "R1")
	h.o.Leave(c.id, "R1")
	h.o.Disconnect(c.id)
	h.o.Disconnect(c.id)
	assert.Zero(t, h.o.Stats("R1").TotalUsers)
	assert.Empty(t, h.o.Rooms())
	assert.Equal(t, 0.0, testutil.ToFloat64(h.m.Connections))
}

func TestJoinsMinusLeaves(t *testing.T) {
	h := newHarness(t, nil)
	const n, m = 8, 3
	conns := make([]*fakeConn, n)
	for i := range conns {
		conns[i] = h.connect(fmt.Sprintf("c%d", i), fmt.Sprintf("ua%d", i))
		h.join(conns[i], "R1", student(fmt.Sprintf("u%d", i)))
	}
	for i := 0; i < m; i++ {
		if i%2 == 0 {
			h.o.Leave(conns[i].id, "R1")
		} else {
			h.o.Disconnect(conns[i].id)
		}
	}
	assert.Equal(t, n-m, h.o.Stats("R1").TotalUsers)
}

// Random joins, leaves and reconnects must keep one session per distinct
// member user.
func TestSessionTableMatchesMembers(t *testing.T) {
	h := newHarness(t, nil)
	rng := rand.New(rand.NewSource(7))
	devices := []string{"d0", "d1", "d2", "d3"}
	users := []domain.User{student("u0"), student("u1"), tutor("u2")}
	rooms := []domain.RoomID{"R1", "R2"}
	conns := make([]*fakeConn, len(devices))
	for i, d := range devices {
		conns[i] = h.connect(fmt.Sprintf("c%d", i), d)
	}

	for step := 0; step < 400; step++ {
		i := rng.Intn(len(conns))
		switch rng.Intn(4) {
		case 0, 1:
			_ = h.o.Join(context.Background(), conns[i].id, rooms[rng.Intn(len(rooms))], users[rng.Intn(len(users))])
		case 2:
			h.o.Leave(conns[i].id, "")
		case 3:
			h.o.Disconnect(conns[i].id)
			conns[i] = h.connect(fmt.Sprintf("c%d-%d", i, step), devices[i])
		}
		for _, room := range rooms {
			requireSessionsMatchMembers(t, h.o, room)
		}
	}
}

func requireSessionsMatchMembers(t *testing.T, o *Orchestrator, roomID domain.RoomID) {
	t.Helper()
	o.mu.Lock()
	defer o.mu.Unlock()
	r, ok := o.rooms.Get(roomID)
	if !ok {
		return
	}
	users := make(map[domain.UserID]struct{})
	for _, m := range r.Members() {
		users[m.User.ID] = struct{}{}
		rec, ok := r.Session(m.User.ID)
		require.True(t, ok, "member %s has no session", m.Conn)
		require.Equal(t, m.Conn, rec.Conn)
	}
	require.Equal(t, len(users), r.SessionCount())
}

func TestBackpressureDropsSlowConnection(t *testing.T) {
	h := newHarness(t, nil)
	slow := h.connect("slow", "ua1")
	h.join(slow, "R1", student("s1"))
	slow.setFull(true)

	h.join(h.connect("c2", "ua2"), "R1", student("s2"))

	assert.True(t, slow.isClosed())
	assert.Equal(t, 1.0, testutil.ToFloat64(h.m.Backpressure))
	requireCode(t, h.o.RelayCandidate(slow.id, "R1", candidate()), app.CodeUnknownConn)
}

func TestLenientPolicyKeepsSlowConnection(t *testing.T) {
	h := newHarness(t, func(_ *Config, d *Deps) { d.Policy = app.LenientPolicy{} })
	slow := h.connect("slow", "ua1")
	h.join(slow, "R1", student("s1"))
	slow.setFull(true)

	h.join(h.connect("c2", "ua2"), "R1", student("s2"))

	assert.False(t, slow.isClosed())
	assert.Equal(t, 1.0, testutil.ToFloat64(h.m.Backpressure))
	require.NoError(t, h.o.RelayCandidate(slow.id, "R1", candidate()))
}

func TestReject(t *testing.T) {
	h := newHarness(t, nil)
	c := h.connect("c1", "ua")
	h.o.Reject(c.id, app.Errorf(app.CodeNotInRoom, "not a member of room %s", "R1"))
	h.o.Reject(c.id, errors.New("unexpected end of JSON input"))

	errs := c.messages("error")
	require.Len(t, errs, 2)
	assert.Equal(t, app.CodeNotInRoom, errs[0]["code"])
	assert.Equal(t, app.CodeBadPayload, errs[1]["code"])
	assert.Equal(t, 1.0, testutil.ToFloat64(h.m.ProtocolErrors.WithLabelValues(app.CodeNotInRoom)))
}

func TestRoomsListing(t *testing.T) {
	h := newHarness(t, nil)
	c1 := h.connect("c1", "ua1")
	h.join(c1, "B", tutor("t1"))
	h.join(h.connect("c2", "ua2"), "A", student("s1"))
	require.NoError(t, h.o.StartBroadcast(c1.id, "B"))

	rooms := h.o.Rooms()
	require.Len(t, rooms, 2)
	assert.Equal(t, domain.RoomID("A"), rooms[0].ID)
	assert.Equal(t, "idle", rooms[0].Broadcast)
	assert.Equal(t, "broadcasting", rooms[1].Broadcast)
	assert.Equal(t, "closed", rooms[1].Transcription)
}
