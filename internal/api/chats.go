package api

import (
	"errors"
	"strconv"
	"time"

	"github.com/gofiber/fiber/v2"

	"github.com/luis10barbo/chatapp/internal/auth"
	"github.com/luis10barbo/chatapp/internal/store"
)

const devTokenTTL = 24 * time.Hour

type createChatRequest struct {
	Name        string `json:"chat_name"`
	Description string `json:"chat_desc"`
}

func (s *Server) createChat(c *fiber.Ctx) error {
	userID := auth.UserID(c)

	var req createChatRequest
	if err := c.BodyParser(&req); err != nil || req.Name == "" {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "chat_name required"})
	}

	chat := &store.Chat{Name: req.Name, Description: req.Description, CreatorID: userID}
	if err := s.db.CreateChat(c.Context(), chat); err != nil {
		s.log.Errorw("create chat", "user", userID, "err", err)
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "create failed"})
	}

	s.info.ChatCreated(chat.ID, userID)
	if err := s.producer.ChatCreated(c.Context(), chat.ID, userID); err != nil {
		s.log.Warnw("publish chat created", "chat", chat.ID, "err", err)
	}
	return c.Status(fiber.StatusCreated).JSON(chat)
}

func (s *Server) listChats(c *fiber.Ctx) error {
	chats, err := s.db.GetChats(c.Context())
	if err != nil {
		s.log.Errorw("list chats", "err", err)
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "list failed"})
	}
	return c.JSON(fiber.Map{"chats": chats})
}

func (s *Server) getChat(c *fiber.Ctx) error {
	chat, err := s.db.GetChat(c.Context(), c.Params("chat_id"))
	if errors.Is(err, store.ErrNotFound) {
		return c.Status(fiber.StatusNotFound).JSON(fiber.Map{"error": "chat not found"})
	}
	if err != nil {
		s.log.Errorw("get chat", "chat", c.Params("chat_id"), "err", err)
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "lookup failed"})
	}
	return c.JSON(chat)
}

func (s *Server) deleteChat(c *fiber.Ctx) error {
	userID := auth.UserID(c)
	chatID := c.Params("chat_id")

	if err := s.db.RemoveChat(c.Context(), chatID); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return c.Status(fiber.StatusNotFound).JSON(fiber.Map{"error": "chat not found"})
		}
		s.log.Errorw("remove chat", "chat", chatID, "err", err)
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "delete failed"})
	}

	// live members learn first, then everyone else online
	s.rooms.RoomDeleted(chatID)
	s.info.ChatRemoved(chatID, userID)
	if err := s.producer.ChatRemoved(c.Context(), chatID, userID); err != nil {
		s.log.Warnw("publish chat removed", "chat", chatID, "err", err)
	}
	return c.JSON(fiber.Map{"status": "deleted"})
}

func (s *Server) getMessages(c *fiber.Ctx) error {
	chatID := c.Params("chat_id")
	offset, _ := strconv.Atoi(c.Query("offset", "0"))
	if offset < 0 {
		offset = 0
	}

	msgs, err := s.db.GetMessages(c.Context(), chatID, offset)
	if err != nil {
		s.log.Errorw("get messages", "chat", chatID, "err", err)
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "history failed"})
	}
	return c.JSON(fiber.Map{"messages": msgs})
}

func (s *Server) getOnlineMembers(c *fiber.Ctx) error {
	members, err := s.rooms.Members(c.Context(), c.Params("chat_id"))
	if err != nil {
		return c.Status(fiber.StatusServiceUnavailable).JSON(fiber.Map{"error": "hub unavailable"})
	}
	return c.JSON(fiber.Map{"online": members})
}

func (s *Server) getPresence(c *fiber.Ctx) error {
	userID, err := strconv.ParseInt(c.Params("user_id"), 10, 64)
	if err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "invalid user id"})
	}
	st, err := s.presence.GetStatus(c.Context(), userID)
	if err != nil {
		s.log.Errorw("presence lookup", "user", userID, "err", err)
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "presence failed"})
	}
	return c.JSON(st)
}
