package http

import (
	"strconv"
	"time"

	"booking_server/core/domain"
	"booking_server/core/port/in"
	"booking_server/pkg/apperr"

	"github.com/gofiber/fiber/v2"
)

// ConnectionHandler manages the authenticated host's calendar connections.
type ConnectionHandler struct {
	connections in.ConnectionService
}

func NewConnectionHandler(connections in.ConnectionService) *ConnectionHandler {
	return &ConnectionHandler{connections: connections}
}

func (h *ConnectionHandler) Register(router fiber.Router) {
	router.Get("/connections", h.List)
	router.Post("/connections", h.Link)
	router.Patch("/connections/:id", h.UpdateSettings)
	router.Delete("/connections/:id", h.Disconnect)
}

// List returns the host's calendar connections, primary first. Tokens never
// appear in the response.
func (h *ConnectionHandler) List(c *fiber.Ctx) error {
	hostID, err := MustGetHostID(c)
	if err != nil {
		return err
	}

	conns, err := h.connections.List(c.Context(), hostID)
	if err != nil {
		return AppErrorResponse(c, err)
	}
	return SuccessResponse(c, conns)
}

type linkConnectionRequest struct {
	Provider     string     `json:"provider"`
	Email        string     `json:"email"`
	AccessToken  string     `json:"access_token"`
	RefreshToken *string    `json:"refresh_token"`
	ExpiresAt    *time.Time `json:"expires_at"`
	Label        *string    `json:"label"`
	IsPrimary    bool       `json:"is_primary"`
}

// Link attaches a calendar account after the frontend completes the OAuth
// exchange. Re-linking the same account refreshes its stored tokens.
func (h *ConnectionHandler) Link(c *fiber.Ctx) error {
	hostID, err := MustGetHostID(c)
	if err != nil {
		return err
	}

	var req linkConnectionRequest
	if err := c.BodyParser(&req); err != nil {
		return AppErrorResponse(c, apperr.BadRequest("invalid request body"))
	}

	provider := domain.CalendarProvider(req.Provider)
	if provider != domain.ProviderGoogle && provider != domain.ProviderOutlook {
		return AppErrorResponse(c, apperr.InvalidInput("provider", "must be GOOGLE or OUTLOOK"))
	}
	if req.Email == "" {
		return AppErrorResponse(c, apperr.InvalidInput("email", "is required"))
	}
	if req.AccessToken == "" {
		return AppErrorResponse(c, apperr.InvalidInput("access_token", "is required"))
	}

	conn := &domain.CalendarConnection{
		HostID:         hostID,
		Provider:       provider,
		Email:          req.Email,
		AccessToken:    req.AccessToken,
		RefreshToken:   req.RefreshToken,
		ExpiresAt:      req.ExpiresAt,
		IsPrimary:      req.IsPrimary,
		CheckConflicts: true,
		Label:          req.Label,
	}

	if err := h.connections.Link(c.Context(), conn); err != nil {
		return AppErrorResponse(c, err)
	}
	return c.Status(fiber.StatusCreated).JSON(APIResponse{
		Success:   true,
		Data:      conn,
		Timestamp: time.Now().UTC().Format(time.RFC3339),
	})
}

// UpdateSettings applies a partial settings change to one connection.
func (h *ConnectionHandler) UpdateSettings(c *fiber.Ctx) error {
	hostID, err := MustGetHostID(c)
	if err != nil {
		return err
	}

	id, err := strconv.ParseInt(c.Params("id"), 10, 64)
	if err != nil {
		return AppErrorResponse(c, apperr.InvalidInput("id", "must be an integer"))
	}

	var update domain.ConnectionSettingsUpdate
	if err := c.BodyParser(&update); err != nil {
		return AppErrorResponse(c, apperr.BadRequest("invalid request body"))
	}

	conn, err := h.connections.UpdateSettings(c.Context(), hostID, id, update)
	if err != nil {
		return AppErrorResponse(c, err)
	}
	return SuccessResponse(c, conn)
}

// Disconnect removes one connection.
func (h *ConnectionHandler) Disconnect(c *fiber.Ctx) error {
	hostID, err := MustGetHostID(c)
	if err != nil {
		return err
	}

	id, err := strconv.ParseInt(c.Params("id"), 10, 64)
	if err != nil {
		return AppErrorResponse(c, apperr.InvalidInput("id", "must be an integer"))
	}

	if err := h.connections.Disconnect(c.Context(), hostID, id); err != nil {
		return AppErrorResponse(c, err)
	}
	return SuccessResponse(c, fiber.Map{"deleted": true})
}
