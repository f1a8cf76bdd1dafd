package hub

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/luis10barbo/chatapp/internal/store"
	"github.com/luis10barbo/chatapp/internal/wire"
)

const (
	recvTimeout  = 2 * time.Second
	quietTimeout = 100 * time.Millisecond
)

func startRoomHub(t *testing.T, db store.Store, policy DuplicateSessionPolicy) *RoomHub {
	t.Helper()
	h := NewRoomHub(db, nil, policy, zap.NewNop().Sugar())
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	go h.Run(ctx)
	return h
}

func newChannel() chan wire.Event {
	return make(chan wire.Event, 16)
}

func recv(t *testing.T, ch <-chan wire.Event) wire.Event {
	t.Helper()
	select {
	case ev := <-ch:
		return ev
	case <-time.After(recvTimeout):
		t.Fatal("timed out waiting for event")
		return wire.Event{}
	}
}

func expectQuiet(t *testing.T, ch <-chan wire.Event) {
	t.Helper()
	select {
	case ev := <-ch:
		t.Fatalf("unexpected event %s %q", ev.Type, ev.Body)
	case <-time.After(quietTimeout):
	}
}

func chatStore(t *testing.T, chatID string) *store.MemoryStore {
	t.Helper()
	s := store.NewMemoryStore()
	require.NoError(t, s.CreateChat(context.Background(), &store.Chat{ID: chatID, Name: chatID}))
	return s
}

func connect(t *testing.T, h *RoomHub, chatID string, userID int64) chan wire.Event {
	t.Helper()
	ch := newChannel()
	require.NoError(t, h.Connect(context.Background(), chatID, userID, ch))
	return ch
}

func TestConnectFirstMemberGetsInit(t *testing.T) {
	h := startRoomHub(t, chatStore(t, "r1"), EvictDuplicate)

	ch := connect(t, h, "r1", 1)

	init := recv(t, ch)
	assert.Equal(t, wire.KindInit, init.Type)
	assert.Equal(t, "[1]", init.Body)
	require.NotNil(t, init.Origin)
	assert.Equal(t, int64(1), *init.Origin)
	expectQuiet(t, ch)

	members, err := h.Members(context.Background(), "r1")
	require.NoError(t, err)
	assert.Equal(t, []int64{1}, members)
}

func TestConnectBroadcastsJoinToOthersOnly(t *testing.T) {
	h := startRoomHub(t, chatStore(t, "r1"), EvictDuplicate)

	ch1 := connect(t, h, "r1", 1)
	recv(t, ch1) // own INIT

	ch2 := connect(t, h, "r1", 2)

	join := recv(t, ch1)
	assert.Equal(t, wire.KindJoin, join.Type)
	assert.Equal(t, "2", join.Body)
	require.NotNil(t, join.Origin)
	assert.Equal(t, int64(2), *join.Origin)

	init := recv(t, ch2)
	assert.Equal(t, wire.KindInit, init.Type)
	assert.Equal(t, "[1,2]", init.Body)
	expectQuiet(t, ch2) // the joiner never receives its own JOIN
}

func TestClientMessagePersistsThenBroadcasts(t *testing.T) {
	db := chatStore(t, "r1")
	h := startRoomHub(t, db, EvictDuplicate)

	ch1 := connect(t, h, "r1", 1)
	ch2 := connect(t, h, "r1", 2)
	ch3 := connect(t, h, "r1", 3)
	recv(t, ch1) // INIT
	recv(t, ch1) // JOIN 2
	recv(t, ch1) // JOIN 3
	recv(t, ch2) // INIT
	recv(t, ch2) // JOIN 3
	recv(t, ch3) // INIT

	h.ClientMessage("r1", 1, "hi")

	for _, ch := range []chan wire.Event{ch2, ch3} {
		text := recv(t, ch)
		assert.Equal(t, wire.KindText, text.Type)
		assert.Equal(t, "hi", text.Body)
		require.NotNil(t, text.Origin)
		assert.Equal(t, int64(1), *text.Origin)

		// the write completed before the broadcast was emitted
		msgs, err := db.GetMessages(context.Background(), "r1", 0)
		require.NoError(t, err)
		require.Len(t, msgs, 1)
		assert.Equal(t, "hi", msgs[0].Content)
	}
	expectQuiet(t, ch1) // sender never receives its own TEXT
}

type failingStore struct {
	store.Store
	err error
}

func (s *failingStore) InsertMessage(context.Context, *store.Message) (string, error) {
	return "", s.err
}

func TestClientMessageConstraintFailure(t *testing.T) {
	db := &failingStore{
		Store: chatStore(t, "r1"),
		err:   fmt.Errorf("insert: %w", store.ErrConstraint),
	}
	h := startRoomHub(t, db, EvictDuplicate)

	ch1 := connect(t, h, "r1", 1)
	ch2 := connect(t, h, "r1", 2)
	recv(t, ch1) // INIT
	recv(t, ch1) // JOIN 2
	recv(t, ch2) // INIT

	h.ClientMessage("r1", 1, "hi")

	notice := recv(t, ch1)
	assert.Equal(t, wire.KindChatDeleted, notice.Type)
	assert.Nil(t, notice.Origin)
	expectQuiet(t, ch1) // exactly one notice
	expectQuiet(t, ch2) // no TEXT reaches anyone

	// membership is untouched by a failed write
	members, err := h.Members(context.Background(), "r1")
	require.NoError(t, err)
	assert.Equal(t, []int64{1, 2}, members)
}

func TestClientMessageGenericFailureIsSilent(t *testing.T) {
	db := &failingStore{Store: chatStore(t, "r1"), err: errors.New("io timeout")}
	h := startRoomHub(t, db, EvictDuplicate)

	ch1 := connect(t, h, "r1", 1)
	ch2 := connect(t, h, "r1", 2)
	recv(t, ch1)
	recv(t, ch1)
	recv(t, ch2)

	h.ClientMessage("r1", 1, "hi")

	expectQuiet(t, ch1)
	expectQuiet(t, ch2)
}

func TestDisconnectScenario(t *testing.T) {
	h := startRoomHub(t, chatStore(t, "r1"), EvictDuplicate)
	ctx := context.Background()

	ch1 := connect(t, h, "r1", 1)
	ch2 := connect(t, h, "r1", 2)
	recv(t, ch1) // INIT
	recv(t, ch1) // JOIN 2
	recv(t, ch2) // INIT

	h.Disconnect("r1", 1, ch1)

	leave := recv(t, ch2)
	assert.Equal(t, wire.KindLeave, leave.Type)
	assert.Equal(t, "1", leave.Body)
	require.NotNil(t, leave.Origin)
	assert.Equal(t, int64(1), *leave.Origin)

	members, err := h.Members(ctx, "r1")
	require.NoError(t, err)
	assert.Equal(t, []int64{2}, members)

	h.Disconnect("r1", 2, ch2)
	members, err = h.Members(ctx, "r1")
	require.NoError(t, err)
	assert.Empty(t, members)

	// the room is forgotten: a fresh connect starts from scratch
	ch3 := connect(t, h, "r1", 3)
	init := recv(t, ch3)
	assert.Equal(t, "[3]", init.Body)
}

func TestDisconnectIsIdempotent(t *testing.T) {
	h := startRoomHub(t, chatStore(t, "r1"), EvictDuplicate)

	ch1 := connect(t, h, "r1", 1)
	ch2 := connect(t, h, "r1", 2)
	recv(t, ch1)
	recv(t, ch1)
	recv(t, ch2)

	h.Disconnect("r1", 1, ch1)
	recv(t, ch2) // LEAVE
	h.Disconnect("r1", 1, ch1)
	expectQuiet(t, ch2) // no second LEAVE

	members, err := h.Members(context.Background(), "r1")
	require.NoError(t, err)
	assert.Equal(t, []int64{2}, members)
}

func TestDuplicateSessionEviction(t *testing.T) {
	h := startRoomHub(t, chatStore(t, "r1"), EvictDuplicate)

	chOld := connect(t, h, "r1", 1)
	recv(t, chOld) // INIT

	chPeer := connect(t, h, "r1", 2)
	recv(t, chOld)  // JOIN 2
	recv(t, chPeer) // INIT

	chNew := connect(t, h, "r1", 1)

	notice := recv(t, chOld)
	assert.Equal(t, wire.KindDisconnected, notice.Type)
	expectQuiet(t, chOld) // at most one terminal notice

	init := recv(t, chNew)
	assert.Equal(t, wire.KindInit, init.Type)
	assert.Equal(t, "[1,2]", init.Body)

	// traffic now reaches the new channel only
	h.ClientMessage("r1", 2, "after-eviction")
	text := recv(t, chNew)
	assert.Equal(t, wire.KindText, text.Type)
	assert.Equal(t, "after-eviction", text.Body)
	expectQuiet(t, chOld)
}

func TestDuplicateSessionIgnorePolicy(t *testing.T) {
	h := startRoomHub(t, chatStore(t, "r1"), IgnoreDuplicate)

	chOld := connect(t, h, "r1", 1)
	recv(t, chOld) // INIT

	chNew := connect(t, h, "r1", 1)

	// the original session stays registered and receives the second INIT
	init := recv(t, chOld)
	assert.Equal(t, wire.KindInit, init.Type)
	expectQuiet(t, chNew)

	h.ClientMessage("r1", 1, "noop")
	expectQuiet(t, chNew)
}

func TestEvictedSessionTeardownLeavesSuccessorAlone(t *testing.T) {
	h := startRoomHub(t, chatStore(t, "r1"), EvictDuplicate)

	chOld := connect(t, h, "r1", 1)
	recv(t, chOld) // INIT

	chPeer := connect(t, h, "r1", 2)
	recv(t, chOld)  // JOIN 2
	recv(t, chPeer) // INIT

	chNew := connect(t, h, "r1", 1)
	recv(t, chOld)  // DISCONNECTED
	recv(t, chNew)  // INIT
	recv(t, chPeer) // JOIN 1, the reconnect announces itself

	// the evicted actor's teardown arrives after the replacement registered
	h.Disconnect("r1", 1, chOld)
	expectQuiet(t, chPeer) // no LEAVE: the user is still connected

	members, err := h.Members(context.Background(), "r1")
	require.NoError(t, err)
	assert.Equal(t, []int64{1, 2}, members)

	h.ClientMessage("r1", 2, "still here")
	text := recv(t, chNew)
	assert.Equal(t, wire.KindText, text.Type)
	assert.Equal(t, "still here", text.Body)
}

func TestEvictionAcrossRoomsLeavesOldRoom(t *testing.T) {
	db := chatStore(t, "r1")
	require.NoError(t, db.CreateChat(context.Background(), &store.Chat{ID: "r2", Name: "r2"}))
	h := startRoomHub(t, db, EvictDuplicate)

	chOld := connect(t, h, "r1", 1)
	recv(t, chOld) // INIT
	chPeer := connect(t, h, "r1", 2)
	recv(t, chOld)  // JOIN 2
	recv(t, chPeer) // INIT

	chNew := connect(t, h, "r2", 1)
	recv(t, chOld) // DISCONNECTED

	leave := recv(t, chPeer)
	assert.Equal(t, wire.KindLeave, leave.Type)
	assert.Equal(t, "1", leave.Body)

	init := recv(t, chNew)
	assert.Equal(t, wire.KindInit, init.Type)
	assert.Equal(t, "[1]", init.Body)

	ctx := context.Background()
	members, err := h.Members(ctx, "r1")
	require.NoError(t, err)
	assert.Equal(t, []int64{2}, members)
	members, err = h.Members(ctx, "r2")
	require.NoError(t, err)
	assert.Equal(t, []int64{1}, members)
}

func TestIgnoredSessionTeardownKeepsOriginal(t *testing.T) {
	h := startRoomHub(t, chatStore(t, "r1"), IgnoreDuplicate)

	chOld := connect(t, h, "r1", 1)
	recv(t, chOld) // INIT

	chNew := connect(t, h, "r1", 1)
	recv(t, chOld) // second INIT routed to the surviving session

	// the unregistered actor dies; the original session must survive
	h.Disconnect("r1", 1, chNew)

	members, err := h.Members(context.Background(), "r1")
	require.NoError(t, err)
	assert.Equal(t, []int64{1}, members)

	ch2 := connect(t, h, "r1", 2)
	join := recv(t, chOld)
	assert.Equal(t, wire.KindJoin, join.Type)
	recv(t, ch2) // INIT
}

func TestClientMessageAfterRoomDeleted(t *testing.T) {
	db := chatStore(t, "r1")
	h := startRoomHub(t, db, EvictDuplicate)
	ctx := context.Background()

	ch1 := connect(t, h, "r1", 1)
	recv(t, ch1) // INIT

	require.NoError(t, db.RemoveChat(ctx, "r1"))
	h.RoomDeleted("r1")
	notice := recv(t, ch1)
	assert.Equal(t, wire.KindChatDeleted, notice.Type)

	// a message racing the deletion still goes through the store and the
	// missing chat surfaces as a notice to the sender
	h.ClientMessage("r1", 1, "too late")
	notice = recv(t, ch1)
	assert.Equal(t, wire.KindChatDeleted, notice.Type)
	assert.Nil(t, notice.Origin)
	expectQuiet(t, ch1)
}

func TestRoomDeletedNotifiesEveryMember(t *testing.T) {
	h := startRoomHub(t, chatStore(t, "r1"), EvictDuplicate)

	ch1 := connect(t, h, "r1", 1)
	ch2 := connect(t, h, "r1", 2)
	recv(t, ch1)
	recv(t, ch1)
	recv(t, ch2)

	h.RoomDeleted("r1")

	for _, ch := range []chan wire.Event{ch1, ch2} {
		notice := recv(t, ch)
		assert.Equal(t, wire.KindChatDeleted, notice.Type)
		assert.Nil(t, notice.Origin)
	}

	members, err := h.Members(context.Background(), "r1")
	require.NoError(t, err)
	assert.Empty(t, members)

	// deleting an unknown room is harmless
	h.RoomDeleted("r1")
	expectQuiet(t, ch1)
}

func TestConnectAfterStop(t *testing.T) {
	h := NewRoomHub(store.NewMemoryStore(), nil, EvictDuplicate, zap.NewNop().Sugar())
	ctx, cancel := context.WithCancel(context.Background())
	go h.Run(ctx)
	cancel()
	<-h.quit

	err := h.Connect(context.Background(), "r1", 1, newChannel())
	assert.ErrorIs(t, err, ErrStopped)
}
