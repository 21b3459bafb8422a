package api

import (
	"strings"

	"github.com/gofiber/fiber/v2"
)

func (s *Server) listConversations(c *fiber.Ctx) error {
	list, err := s.conv.List(c.UserContext(), identityOf(c))
	if err != nil {
		return err
	}
	return c.JSON(list)
}

type openConversationReq struct {
	Participants []string `json:"participants"`
}

func (s *Server) openConversation(c *fiber.Ctx) error {
	var req openConversationReq
	if err := c.BodyParser(&req); err != nil {
		return fiber.NewError(fiber.StatusBadRequest, "invalid payload")
	}
	conv, err := s.conv.Open(c.UserContext(), identityOf(c), req.Participants)
	if err != nil {
		return err
	}
	return c.JSON(conv)
}

func (s *Server) listMessages(c *fiber.Ctx) error {
	id := strings.TrimSpace(c.Params("conversationId"))
	if id == "" {
		return fiber.NewError(fiber.StatusBadRequest, "missing conversationId")
	}
	msgs, err := s.conv.Messages(c.UserContext(), identityOf(c), id)
	if err != nil {
		return err
	}
	return c.JSON(msgs)
}

func (s *Server) onlineUsers(c *fiber.Ctx) error {
	return c.JSON(s.gw.OnlineUsers())
}

// presenceOf answers from the redis mirror when configured, otherwise from
// this process's registry.
func (s *Server) presenceOf(c *fiber.Ctx) error {
	identity := c.Params("identity")
	if s.presence != nil {
		st, err := s.presence.Get(c.UserContext(), identity)
		if err == nil {
			return c.JSON(fiber.Map{"identity": identity, "status": st.Status, "last_seen": st.LastSeen})
		}
		s.log.Warnw("presence mirror read failed", "identity", identity, "err", err)
	}
	status := "offline"
	if s.gw.IsOnline(identity) {
		status = "online"
	}
	return c.JSON(fiber.Map{"identity": identity, "status": status})
}
