package httpapi

import (
	"errors"
	"strings"

	"github.com/gofiber/fiber/v2"

	"github.com/karpay/payments/internal/webhook"
)

var errURLRequired = errors.New("url is required")

type createEndpointRequest struct {
	URL string `json:"url"`
}

// createdEndpointResponse carries the signing secret. It is returned exactly
// once, on creation; list responses never include it.
type createdEndpointResponse struct {
	webhook.Endpoint
	Secret string `json:"secret"`
}

func (s *Server) createWebhookEndpoint(c *fiber.Ctx) error {
	var req createEndpointRequest
	if err := c.BodyParser(&req); err != nil {
		return fiber.NewError(fiber.StatusBadRequest, "request body is not valid JSON")
	}

	req.URL = strings.TrimSpace(req.URL)
	if req.URL == "" {
		return errURLRequired
	}

	endpoint, err := webhook.NewEndpoint(req.URL)
	if err != nil {
		return err
	}

	created, err := s.endpoints.Create(c.UserContext(), endpoint)
	if err != nil {
		return err
	}

	return c.Status(fiber.StatusCreated).JSON(createdEndpointResponse{
		Endpoint: created,
		Secret:   created.Secret,
	})
}

func (s *Server) listWebhookEndpoints(c *fiber.Ctx) error {
	endpoints, err := s.endpoints.List(c.UserContext())
	if err != nil {
		return err
	}

	if endpoints == nil {
		endpoints = []webhook.Endpoint{}
	}

	return c.JSON(endpoints)
}

func (s *Server) setWebhookEndpointEnabled(enabled bool) fiber.Handler {
	return func(c *fiber.Ctx) error {
		id, err := parseID(c)
		if err != nil {
			return err
		}

		endpoint, err := s.endpoints.SetEnabled(c.UserContext(), id, enabled)
		if err != nil {
			return err
		}

		return c.JSON(endpoint)
	}
}
