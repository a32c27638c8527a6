package httpapi

import (
	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"
)

func (s *Server) createPaymentIntent(c *fiber.Ctx) error {
	key := c.Get(IdempotencyKeyHeader)

	response, err := s.payments.Create(c.UserContext(), key, c.Body())
	if err != nil {
		return err
	}

	c.Set(fiber.HeaderContentType, fiber.MIMEApplicationJSON)

	return c.Status(fiber.StatusCreated).Send(response)
}

func (s *Server) getPaymentIntent(c *fiber.Ctx) error {
	id, err := parseID(c)
	if err != nil {
		return err
	}

	intent, err := s.payments.Get(c.UserContext(), id)
	if err != nil {
		return err
	}

	return c.JSON(intent)
}

func (s *Server) confirmPaymentIntent(c *fiber.Ctx) error {
	id, err := parseID(c)
	if err != nil {
		return err
	}

	intent, err := s.payments.Confirm(c.UserContext(), id)
	if err != nil {
		return err
	}

	return c.JSON(intent)
}

func parseID(c *fiber.Ctx) (uuid.UUID, error) {
	id, err := uuid.Parse(c.Params("id"))
	if err != nil {
		return uuid.Nil, fiber.NewError(fiber.StatusBadRequest, "id must be a UUID")
	}

	return id, nil
}
