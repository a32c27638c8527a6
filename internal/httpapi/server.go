// Package httpapi exposes the payments API over HTTP: payment intents,
// webhook endpoint administration, and health.
package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/karpay/payments/internal/idempotency"
	"github.com/karpay/payments/internal/payment"
	"github.com/karpay/payments/internal/webhook"
)

// IdempotencyKeyHeader carries the client's deduplication key on mutating
// requests. Requests without it are executed unconditionally.
const IdempotencyKeyHeader = "Idempotency-Key"

const shutdownTimeout = 10 * time.Second

// PaymentService is what the handlers need from the payment domain.
type PaymentService interface {
	Create(ctx context.Context, idempotencyKey string, body []byte) (json.RawMessage, error)
	Get(ctx context.Context, id uuid.UUID) (payment.Intent, error)
	Confirm(ctx context.Context, id uuid.UUID) (payment.Intent, error)
}

// EndpointStore is what the handlers need for webhook endpoint admin.
type EndpointStore interface {
	Create(ctx context.Context, endpoint webhook.Endpoint) (webhook.Endpoint, error)
	List(ctx context.Context) ([]webhook.Endpoint, error)
	SetEnabled(ctx context.Context, id uuid.UUID, enabled bool) (webhook.Endpoint, error)
}

// Server is the HTTP front of the payments service.
type Server struct {
	app       *fiber.App
	payments  PaymentService
	endpoints EndpointStore
	logger    zerolog.Logger
}

// NewServer builds the fiber application with all routes registered.
func NewServer(payments PaymentService, endpoints EndpointStore, logger zerolog.Logger) *Server {
	s := &Server{
		payments:  payments,
		endpoints: endpoints,
		logger:    logger,
	}

	s.app = fiber.New(fiber.Config{
		DisableStartupMessage: true,
		ErrorHandler:          s.handleError,
	})
	s.routes()

	return s
}

func (s *Server) routes() {
	s.app.Get("/health", func(c *fiber.Ctx) error {
		return c.SendString("ok")
	})

	v1 := s.app.Group("/v1")
	v1.Post("/payment_intents", s.createPaymentIntent)
	v1.Get("/payment_intents/:id", s.getPaymentIntent)
	v1.Post("/payment_intents/:id/confirm", s.confirmPaymentIntent)

	v1.Post("/webhook_endpoints", s.createWebhookEndpoint)
	v1.Get("/webhook_endpoints", s.listWebhookEndpoints)
	v1.Post("/webhook_endpoints/:id/enable", s.setWebhookEndpointEnabled(true))
	v1.Post("/webhook_endpoints/:id/disable", s.setWebhookEndpointEnabled(false))
}

// Listen serves until the listener fails or Shutdown is called.
func (s *Server) Listen(addr string) error {
	s.logger.Info().Str("addr", addr).Msg("http api listening")

	return s.app.Listen(addr)
}

// Shutdown drains in-flight requests and stops the listener.
func (s *Server) Shutdown() error {
	return s.app.ShutdownWithTimeout(shutdownTimeout)
}

// errorResponse is the JSON error envelope for every non-2xx response.
type errorResponse struct {
	Error struct {
		Message string `json:"message"`
	} `json:"error"`
}

func (s *Server) handleError(c *fiber.Ctx, err error) error {
	status := errorStatus(err)
	if status == fiber.StatusInternalServerError {
		s.logger.Error().Err(err).
			Str("method", c.Method()).
			Str("path", c.Path()).
			Msg("request failed")
	}

	var body errorResponse
	body.Error.Message = publicMessage(err, status)

	return c.Status(status).JSON(body)
}

func errorStatus(err error) int {
	var fiberErr *fiber.Error
	switch {
	case errors.As(err, &fiberErr):
		return fiberErr.Code
	case errors.Is(err, payment.ErrMalformedBody),
		errors.Is(err, payment.ErrAmountInvalid),
		errors.Is(err, payment.ErrCurrencyRequired),
		errors.Is(err, errURLRequired):
		return fiber.StatusBadRequest
	case errors.Is(err, payment.ErrNotFound),
		errors.Is(err, webhook.ErrEndpointNotFound):
		return fiber.StatusNotFound
	case errors.Is(err, payment.ErrNotConfirmable),
		errors.Is(err, idempotency.ErrKeyConflict):
		return fiber.StatusConflict
	case errors.Is(err, idempotency.ErrTransient):
		return fiber.StatusServiceUnavailable
	default:
		return fiber.StatusInternalServerError
	}
}

// publicMessage hides internal detail on 5xx responses.
func publicMessage(err error, status int) string {
	if status == fiber.StatusInternalServerError {
		return "internal error"
	}

	return err.Error()
}
