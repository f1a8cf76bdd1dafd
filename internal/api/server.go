// Package api exposes the HTTP collaborators around the relay: chat CRUD,
// message history, health/metrics and the websocket upgrade routes.
package api

import (
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/adaptor"
	"github.com/gofiber/fiber/v2/middleware/logger"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/luis10barbo/chatapp/internal/auth"
	"github.com/luis10barbo/chatapp/internal/config"
	"github.com/luis10barbo/chatapp/internal/events"
	"github.com/luis10barbo/chatapp/internal/hub"
	"github.com/luis10barbo/chatapp/internal/presence"
	"github.com/luis10barbo/chatapp/internal/store"
	"github.com/luis10barbo/chatapp/internal/ws"
)

type Server struct {
	cfg      *config.Config
	db       store.Store
	rooms    *hub.RoomHub
	info     *hub.NotifyHub
	auth     *auth.Authenticator
	presence *presence.Store
	producer *events.Producer
	log      *zap.SugaredLogger
}

// New assembles the fiber application. rdb may be nil; the rate limiter is
// then disabled.
func New(
	cfg *config.Config,
	db store.Store,
	rooms *hub.RoomHub,
	info *hub.NotifyHub,
	authn *auth.Authenticator,
	pres *presence.Store,
	producer *events.Producer,
	rdb *redis.Client,
	log *zap.SugaredLogger,
) *fiber.App {
	s := &Server{
		cfg: cfg, db: db, rooms: rooms, info: info,
		auth: authn, presence: pres, producer: producer, log: log,
	}

	app := fiber.New(fiber.Config{DisableStartupMessage: true})
	app.Use(recover.New())
	app.Use(logger.New())

	app.Get("/metrics", adaptor.HTTPHandler(promhttp.Handler()))

	v1 := app.Group("/v1")
	v1.Get("/health", s.health)
	if cfg.Development() {
		v1.Post("/token", s.devToken)
	}

	authed := v1.Group("", authn.Middleware())
	if rdb != nil {
		limiter := NewRateLimiter(rdb, cfg.Redis.Prefix+":rl", cfg.RateLimit.Requests, cfg.RateLimitWindow)
		authed.Use(limiter.MiddlewareByKey(func(c *fiber.Ctx) string { return c.IP() }))
	}

	authed.Get("/chats", s.listChats)
	authed.Post("/chats", s.createChat)
	authed.Get("/chats/:chat_id", s.getChat)
	authed.Delete("/chats/:chat_id", s.deleteChat)
	authed.Get("/chats/:chat_id/messages", s.getMessages)
	authed.Get("/chats/:chat_id/online", s.getOnlineMembers)
	authed.Get("/users/:user_id/presence", s.getPresence)

	wsh := ws.NewHandler(rooms, info, pres, cfg, log)
	app.Get("/ws/chats/:chat_id", ws.Upgrade, authn.Middleware(), s.requireChat, wsh.Chat())
	app.Get("/ws/info", ws.Upgrade, authn.Middleware(), wsh.Info())

	return app
}

func (s *Server) health(c *fiber.Ctx) error {
	online, err := s.info.Online(c.Context())
	if err != nil {
		online = 0
	}
	return c.JSON(fiber.Map{"status": "ok", "online": online})
}

// requireChat rejects upgrades for rooms that do not exist durably; live
// membership stays the hub's business.
func (s *Server) requireChat(c *fiber.Ctx) error {
	exists, err := s.db.ChatExists(c.Context(), c.Params("chat_id"))
	if err != nil {
		s.log.Errorw("chat lookup", "chat", c.Params("chat_id"), "err", err)
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "chat lookup failed"})
	}
	if !exists {
		return c.Status(fiber.StatusNotFound).JSON(fiber.Map{"error": "chat not found"})
	}
	return c.Next()
}

type devTokenRequest struct {
	UserID int64 `json:"user_id"`
}

// devToken issues a signed token without credential checks. Development only.
func (s *Server) devToken(c *fiber.Ctx) error {
	var req devTokenRequest
	if err := c.BodyParser(&req); err != nil || req.UserID == 0 {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "user_id required"})
	}
	token, err := s.auth.Sign(req.UserID, devTokenTTL)
	if err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "token signing failed"})
	}
	return c.JSON(fiber.Map{"token": token})
}
