package hub

import (
	"context"

	"go.uber.org/zap"

	"github.com/luis10barbo/chatapp/internal/wire"
)

type notifyCommand interface{}

type notifyConnectCmd struct {
	userID int64
	ch     chan<- wire.Event
	done   chan struct{}
}

type notifyDisconnectCmd struct {
	userID int64
	ch     chan<- wire.Event
}

type chatLifecycleCmd struct {
	kind    wire.Kind // KindChatCreated or KindChatRemoved
	chatID  string
	actorID int64
}

type onlineCmd struct {
	reply chan int
}

// NotifyHub is the room-agnostic companion hub. It only keeps a user→channel
// session map and fans account-wide events out to everyone but the
// originator. Duplicate connects are last-write-wins.
type NotifyHub struct {
	commands chan notifyCommand
	quit     chan struct{}

	sessions map[int64]chan<- wire.Event
	log      *zap.SugaredLogger
}

func NewNotifyHub(log *zap.SugaredLogger) *NotifyHub {
	return &NotifyHub{
		commands: make(chan notifyCommand, 64),
		quit:     make(chan struct{}),
		sessions: make(map[int64]chan<- wire.Event),
		log:      log,
	}
}

func (h *NotifyHub) Run(ctx context.Context) {
	defer close(h.quit)
	for {
		select {
		case <-ctx.Done():
			return
		case cmd := <-h.commands:
			switch c := cmd.(type) {
			case notifyConnectCmd:
				h.sessions[c.userID] = c.ch
				close(c.done)
			case notifyDisconnectCmd:
				if cur, ok := h.sessions[c.userID]; ok && (c.ch == nil || cur == c.ch) {
					delete(h.sessions, c.userID)
				}
			case chatLifecycleCmd:
				h.handleLifecycle(c)
			case onlineCmd:
				c.reply <- len(h.sessions)
			}
		}
	}
}

// Connect registers ch for userID and blocks until the hub acknowledged it.
func (h *NotifyHub) Connect(ctx context.Context, userID int64, ch chan<- wire.Event) error {
	done := make(chan struct{})
	select {
	case h.commands <- notifyConnectCmd{userID: userID, ch: ch, done: done}:
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

// Disconnect drops userID's session when ch is the registered channel (nil
// matches any), so a superseded actor's teardown leaves its replacement alone.
func (h *NotifyHub) Disconnect(userID int64, ch chan<- wire.Event) {
	h.post(notifyDisconnectCmd{userID: userID, ch: ch})
}

// ChatCreated informs every other connected user that chatID appeared.
func (h *NotifyHub) ChatCreated(chatID string, actorID int64) {
	h.post(chatLifecycleCmd{kind: wire.KindChatCreated, chatID: chatID, actorID: actorID})
}

// ChatRemoved informs every other connected user that chatID disappeared.
func (h *NotifyHub) ChatRemoved(chatID string, actorID int64) {
	h.post(chatLifecycleCmd{kind: wire.KindChatRemoved, chatID: chatID, actorID: actorID})
}

// Online reports how many users currently hold a notification session.
func (h *NotifyHub) Online(ctx context.Context) (int, error) {
	reply := make(chan int, 1)
	select {
	case h.commands <- onlineCmd{reply: reply}:
	case <-h.quit:
		return 0, ErrStopped
	case <-ctx.Done():
		return 0, ctx.Err()
	}
	select {
	case n := <-reply:
		return n, nil
	case <-h.quit:
		return 0, ErrStopped
	case <-ctx.Done():
		return 0, ctx.Err()
	}
}

func (h *NotifyHub) post(cmd notifyCommand) {
	select {
	case h.commands <- cmd:
	case <-h.quit:
	}
}

func (h *NotifyHub) handleLifecycle(c chatLifecycleCmd) {
	ev := wire.New(c.kind, c.chatID, nil)
	for userID, ch := range h.sessions {
		if userID == c.actorID {
			continue
		}
		select {
		case ch <- ev:
		default:
			h.log.Warnw("outbound buffer full, dropping event", "user", userID, "kind", ev.Type)
		}
	}
}
