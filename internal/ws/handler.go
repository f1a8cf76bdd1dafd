package ws

import (
	"context"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/websocket/v2"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/luis10barbo/chatapp/internal/auth"
	"github.com/luis10barbo/chatapp/internal/config"
	"github.com/luis10barbo/chatapp/internal/hub"
	"github.com/luis10barbo/chatapp/internal/presence"
	"github.com/luis10barbo/chatapp/internal/wire"
)

const connectTimeout = 5 * time.Second

// Handler upgrades authenticated requests into connection actors bound to the
// room hub or the notification hub.
type Handler struct {
	rooms    *hub.RoomHub
	info     *hub.NotifyHub
	presence *presence.Store
	cfg      *config.Config
	log      *zap.SugaredLogger
}

func NewHandler(rooms *hub.RoomHub, info *hub.NotifyHub, pres *presence.Store, cfg *config.Config, log *zap.SugaredLogger) *Handler {
	return &Handler{rooms: rooms, info: info, presence: pres, cfg: cfg, log: log}
}

// Upgrade gates a route so only websocket upgrade requests pass through.
func Upgrade(c *fiber.Ctx) error {
	if websocket.IsWebSocketUpgrade(c) {
		return c.Next()
	}
	return fiber.ErrUpgradeRequired
}

// Chat serves the room-scoped endpoint /ws/chats/:chat_id.
func (h *Handler) Chat() fiber.Handler {
	return websocket.New(func(conn *websocket.Conn) {
		userID, _ := conn.Locals(auth.LocalsUserID).(int64)
		chatID := conn.Params("chat_id")
		if userID == 0 || chatID == "" {
			_ = conn.Close()
			return
		}

		client := h.newClient(conn, userID)
		ctx, cancel := context.WithTimeout(context.Background(), connectTimeout)
		err := h.rooms.Connect(ctx, chatID, userID, client.outbound())
		cancel()
		if err != nil {
			h.log.Errorw("chat connect rejected", "user", userID, "chat", chatID, "err", err)
			_ = conn.Close()
			return
		}

		socketID := uuid.New().String()
		if err := h.presence.AddConnection(context.Background(), userID, socketID, chatID); err != nil {
			h.log.Warnw("presence add", "user", userID, "err", err)
		}
		defer func() {
			// runs on every exit path so membership accounting stays correct
			h.rooms.Disconnect(chatID, userID, client.outbound())
			if err := h.presence.RemoveConnection(context.Background(), userID, socketID); err != nil {
				h.log.Warnw("presence remove", "user", userID, "err", err)
			}
		}()

		h.log.Infow("chat socket open", "user", userID, "chat", chatID)
		go client.writePump()
		client.readPump(func(text string) {
			ev := wire.ParseText([]byte(text))
			h.rooms.ClientMessage(chatID, userID, ev.Body)
		})
		h.log.Infow("chat socket closed", "user", userID, "chat", chatID)
	})
}

// Info serves the room-agnostic notification endpoint /ws/info.
func (h *Handler) Info() fiber.Handler {
	return websocket.New(func(conn *websocket.Conn) {
		userID, _ := conn.Locals(auth.LocalsUserID).(int64)
		if userID == 0 {
			_ = conn.Close()
			return
		}

		client := h.newClient(conn, userID)
		ctx, cancel := context.WithTimeout(context.Background(), connectTimeout)
		err := h.info.Connect(ctx, userID, client.outbound())
		cancel()
		if err != nil {
			h.log.Errorw("info connect rejected", "user", userID, "err", err)
			_ = conn.Close()
			return
		}

		socketID := uuid.New().String()
		if err := h.presence.AddConnection(context.Background(), userID, socketID, ""); err != nil {
			h.log.Warnw("presence add", "user", userID, "err", err)
		}
		defer func() {
			h.info.Disconnect(userID, client.outbound())
			if err := h.presence.RemoveConnection(context.Background(), userID, socketID); err != nil {
				h.log.Warnw("presence remove", "user", userID, "err", err)
			}
		}()

		h.log.Infow("info socket open", "user", userID)
		go client.writePump()
		// inbound text is ignored on the notification socket
		client.readPump(nil)
		h.log.Infow("info socket closed", "user", userID)
	})
}

func (h *Handler) newClient(conn *websocket.Conn, userID int64) *Client {
	return newClient(conn, userID, h.cfg.PingInterval, h.cfg.PongTimeout, h.cfg.WS.MaxMessageSizeBytes, h.log)
}
