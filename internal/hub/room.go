// Package hub contains the relay's sequential message processors. Each hub is
// a single goroutine that owns its maps outright; every mutation arrives
// through the command mailbox, so no locking is needed around hub state.
package hub

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strconv"

	"go.uber.org/zap"

	"github.com/luis10barbo/chatapp/internal/events"
	"github.com/luis10barbo/chatapp/internal/store"
	"github.com/luis10barbo/chatapp/internal/wire"
)

// ErrStopped is returned when a hub is no longer accepting registrations.
var ErrStopped = errors.New("hub stopped")

// DuplicateSessionPolicy decides what happens when a user connects while
// already holding a live session.
type DuplicateSessionPolicy string

const (
	// EvictDuplicate sends a DISCONNECTED notice to the old channel and
	// registers the new one.
	EvictDuplicate DuplicateSessionPolicy = "evict"
	// IgnoreDuplicate keeps the old session; the new channel is never
	// registered and receives nothing.
	IgnoreDuplicate DuplicateSessionPolicy = "ignore"
)

// ParsePolicy maps a config string to a policy, defaulting to eviction.
func ParsePolicy(s string) DuplicateSessionPolicy {
	if s == string(IgnoreDuplicate) {
		return IgnoreDuplicate
	}
	return EvictDuplicate
}

type roomCommand interface{}

type connectCmd struct {
	chatID string
	userID int64
	ch     chan<- wire.Event
	done   chan struct{}
}

type disconnectCmd struct {
	chatID string
	userID int64
	ch     chan<- wire.Event
}

type clientMessageCmd struct {
	chatID string
	userID int64
	text   string
}

type roomDeletedCmd struct {
	chatID string
}

type membersCmd struct {
	chatID string
	reply  chan []int64
}

// RoomHub tracks which users are connected to which chat room and fans chat
// traffic out between them. Message persistence happens inside the hub loop,
// before the corresponding broadcast.
type RoomHub struct {
	commands chan roomCommand
	quit     chan struct{}

	sessions    map[int64]chan<- wire.Event
	sessionRoom map[int64]string
	rooms       map[string]map[int64]struct{}

	db       store.Store
	producer *events.Producer
	policy   DuplicateSessionPolicy
	log      *zap.SugaredLogger
}

func NewRoomHub(db store.Store, producer *events.Producer, policy DuplicateSessionPolicy, log *zap.SugaredLogger) *RoomHub {
	return &RoomHub{
		commands:    make(chan roomCommand, 64),
		quit:        make(chan struct{}),
		sessions:    make(map[int64]chan<- wire.Event),
		sessionRoom: make(map[int64]string),
		rooms:       make(map[string]map[int64]struct{}),
		db:          db,
		producer:    producer,
		policy:      policy,
		log:         log,
	}
}

// Run processes commands until ctx is cancelled. It must be running before
// any other method is called.
func (h *RoomHub) Run(ctx context.Context) {
	defer close(h.quit)
	for {
		select {
		case <-ctx.Done():
			return
		case cmd := <-h.commands:
			switch c := cmd.(type) {
			case connectCmd:
				h.handleConnect(c)
			case disconnectCmd:
				h.handleDisconnect(c)
			case clientMessageCmd:
				h.handleClientMessage(ctx, c)
			case roomDeletedCmd:
				h.handleRoomDeleted(c)
			case membersCmd:
				h.handleMembers(c)
			}
		}
	}
}

// Connect registers ch as userID's session in chatID and blocks until the hub
// acknowledged the registration.
func (h *RoomHub) Connect(ctx context.Context, chatID string, userID int64, ch chan<- wire.Event) error {
	done := make(chan struct{})
	select {
	case h.commands <- connectCmd{chatID: chatID, userID: userID, ch: ch, done: done}:
	case <-h.quit:
		return ErrStopped
	case <-ctx.Done():
		return ctx.Err()
	}
	select {
	case <-done:
		return nil
	case <-h.quit:
		return ErrStopped
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Disconnect removes userID's session and room membership. ch identifies the
// session being torn down: when the registered session is a different channel
// the call is a no-op, so a replaced actor's teardown cannot evict its
// successor. A nil ch matches any session. Safe to call more than once per
// connection.
func (h *RoomHub) Disconnect(chatID string, userID int64, ch chan<- wire.Event) {
	h.post(disconnectCmd{chatID: chatID, userID: userID, ch: ch})
}

// ClientMessage persists text and broadcasts it to the other members of
// chatID.
func (h *RoomHub) ClientMessage(chatID string, userID int64, text string) {
	h.post(clientMessageCmd{chatID: chatID, userID: userID, text: text})
}

// RoomDeleted tells every connected member the chat is gone and forgets the
// room. Invoked by the chat deletion path, never by clients.
func (h *RoomHub) RoomDeleted(chatID string) {
	h.post(roomDeletedCmd{chatID: chatID})
}

// Members reports the users currently connected to chatID.
func (h *RoomHub) Members(ctx context.Context, chatID string) ([]int64, error) {
	reply := make(chan []int64, 1)
	select {
	case h.commands <- membersCmd{chatID: chatID, reply: reply}:
	case <-h.quit:
		return nil, ErrStopped
	case <-ctx.Done():
		return nil, ctx.Err()
	}
	select {
	case ids := <-reply:
		return ids, nil
	case <-h.quit:
		return nil, ErrStopped
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (h *RoomHub) post(cmd roomCommand) {
	select {
	case h.commands <- cmd:
	case <-h.quit:
	}
}

func (h *RoomHub) handleConnect(c connectCmd) {
	defer close(c.done)

	members, ok := h.rooms[c.chatID]
	if !ok {
		members = make(map[int64]struct{})
		h.rooms[c.chatID] = members
	}
	members[c.userID] = struct{}{}

	h.broadcast(c.chatID, wire.From(wire.KindJoin, strconv.FormatInt(c.userID, 10), c.userID), c.userID)

	if _, live := h.sessions[c.userID]; live && h.policy == IgnoreDuplicate {
		h.log.Infow("duplicate session ignored", "user", c.userID, "chat", c.chatID)
	} else {
		if old, live := h.sessions[c.userID]; live {
			h.log.Infow("evicting previous session", "user", c.userID)
			h.push(old, c.userID, wire.From(wire.KindDisconnected, "logged in from another location", c.userID))
			if prev := h.sessionRoom[c.userID]; prev != "" && prev != c.chatID {
				h.removeFromRoom(prev, c.userID)
			}
		}
		h.sessions[c.userID] = c.ch
		h.sessionRoom[c.userID] = c.chatID
	}

	ids := memberIDs(members)
	body, err := json.Marshal(ids)
	if err != nil {
		h.log.Errorw("encode member list", "chat", c.chatID, "err", err)
		return
	}
	h.sendTo(c.userID, wire.From(wire.KindInit, string(body), c.userID))
}

func (h *RoomHub) handleDisconnect(c disconnectCmd) {
	cur, ok := h.sessions[c.userID]
	if !ok {
		return
	}
	if c.ch != nil && cur != c.ch {
		h.log.Debugw("stale disconnect ignored", "chat", c.chatID, "user", c.userID)
		return
	}
	delete(h.sessions, c.userID)
	delete(h.sessionRoom, c.userID)
	h.removeFromRoom(c.chatID, c.userID)
}

// removeFromRoom broadcasts LEAVE and drops userID from chatID, forgetting the
// room once its member set empties.
func (h *RoomHub) removeFromRoom(chatID string, userID int64) {
	members, ok := h.rooms[chatID]
	if !ok {
		h.log.Debugw("leave from unknown room", "chat", chatID, "user", userID)
		return
	}
	h.broadcast(chatID, wire.From(wire.KindLeave, strconv.FormatInt(userID, 10), userID), userID)

	delete(members, userID)
	if len(members) == 0 {
		delete(h.rooms, chatID)
	}
}

func (h *RoomHub) handleClientMessage(ctx context.Context, c clientMessageCmd) {
	// no membership guard: persistence decides. A message for a room the hub
	// already forgot hits the missing-chat constraint and the sender gets the
	// CHAT_DELETED notice; the broadcast below is a no-op for unknown rooms.
	msg := &store.Message{ChatID: c.chatID, SenderID: c.userID, Content: c.text}
	msgID, err := h.db.InsertMessage(ctx, msg)
	if err != nil {
		h.log.Errorw("persist message", "chat", c.chatID, "user", c.userID, "err", err)
		if errors.Is(err, store.ErrConstraint) {
			h.sendTo(c.userID, wire.New(wire.KindChatDeleted, fmt.Sprintf("Chat %q was deleted.", c.chatID), nil))
		}
		return
	}

	if err := h.producer.MessagePersisted(ctx, events.MessagePersisted{
		MessageID: msgID,
		ChatID:    c.chatID,
		SenderID:  c.userID,
		Content:   c.text,
		SentAt:    wire.FormatDate(msg.CreatedAt),
	}); err != nil {
		h.log.Warnw("publish message event", "chat", c.chatID, "err", err)
	}

	h.broadcast(c.chatID, wire.From(wire.KindText, c.text, c.userID), c.userID)
}

func (h *RoomHub) handleRoomDeleted(c roomDeletedCmd) {
	members, ok := h.rooms[c.chatID]
	if !ok {
		h.log.Debugw("deleted room had no live members", "chat", c.chatID)
		return
	}
	notice := wire.New(wire.KindChatDeleted, fmt.Sprintf("Chat %q was deleted.", c.chatID), nil)
	for id := range members {
		h.sendTo(id, notice)
	}
	delete(h.rooms, c.chatID)
}

func (h *RoomHub) handleMembers(c membersCmd) {
	c.reply <- memberIDs(h.rooms[c.chatID])
}

// broadcast delivers ev to every member of chatID except exclude.
func (h *RoomHub) broadcast(chatID string, ev wire.Event, exclude int64) {
	for id := range h.rooms[chatID] {
		if id == exclude {
			continue
		}
		h.sendTo(id, ev)
	}
}

// sendTo routes ev to userID's registered session. A missing session is not
// an error: the user may be mid-disconnect.
func (h *RoomHub) sendTo(userID int64, ev wire.Event) {
	ch, ok := h.sessions[userID]
	if !ok {
		h.log.Warnw("no session for user", "user", userID, "kind", ev.Type)
		return
	}
	h.push(ch, userID, ev)
}

// push never blocks the hub loop; a full outbound buffer means the client is
// too slow and the event is dropped.
func (h *RoomHub) push(ch chan<- wire.Event, userID int64, ev wire.Event) {
	select {
	case ch <- ev:
	default:
		h.log.Warnw("outbound buffer full, dropping event", "user", userID, "kind", ev.Type)
	}
}

func memberIDs(members map[int64]struct{}) []int64 {
	ids := make([]int64, 0, len(members))
	for id := range members {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}
