// Package http contains the inbound HTTP handlers.
package http

import (
	"errors"
	"time"

	"booking_server/pkg/apperr"

	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"
)

var ErrUnauthorized = errors.New("unauthorized")

// GetHostID extracts the authenticated host ID set by the JWT middleware.
func GetHostID(c *fiber.Ctx) (uuid.UUID, error) {
	hostIDVal := c.Locals("host_id")
	if hostIDVal == nil {
		return uuid.Nil, ErrUnauthorized
	}
	hostID, ok := hostIDVal.(uuid.UUID)
	if !ok {
		return uuid.Nil, ErrUnauthorized
	}
	return hostID, nil
}

// MustGetHostID extracts host_id and writes a 401 if missing.
func MustGetHostID(c *fiber.Ctx) (uuid.UUID, error) {
	hostID, err := GetHostID(c)
	if err != nil {
		return uuid.Nil, c.Status(401).JSON(fiber.Map{"error": "unauthorized"})
	}
	return hostID, nil
}

// APIResponse represents a standard API response
type APIResponse struct {
	Success   bool        `json:"success"`
	Data      interface{} `json:"data,omitempty"`
	Error     *APIError   `json:"error,omitempty"`
	RequestID string      `json:"request_id,omitempty"`
	Timestamp string      `json:"timestamp"`
}

// APIError represents a standard API error
type APIError struct {
	Code    string                 `json:"code"`
	Message string                 `json:"message"`
	Details map[string]interface{} `json:"details,omitempty"`
}

// SuccessResponse sends a standardized JSON success response
func SuccessResponse(c *fiber.Ctx, data any) error {
	requestID, _ := c.Locals("request_id").(string)
	return c.JSON(APIResponse{
		Success:   true,
		Data:      data,
		RequestID: requestID,
		Timestamp: time.Now().UTC().Format(time.RFC3339),
	})
}

// ErrorResponse sends a standardized JSON error response
func ErrorResponse(c *fiber.Ctx, status int, code, message string) error {
	requestID, _ := c.Locals("request_id").(string)
	return c.Status(status).JSON(APIResponse{
		Success:   false,
		Error:     &APIError{Code: code, Message: message},
		RequestID: requestID,
		Timestamp: time.Now().UTC().Format(time.RFC3339),
	})
}

// AppErrorResponse handles apperr.AppError and returns the mapped response
func AppErrorResponse(c *fiber.Ctx, err error) error {
	appErr := apperr.AsAppError(err)
	requestID, _ := c.Locals("request_id").(string)
	return c.Status(appErr.Status).JSON(APIResponse{
		Success:   false,
		Error:     &APIError{Code: appErr.Code, Message: appErr.Message, Details: appErr.Details},
		RequestID: requestID,
		Timestamp: time.Now().UTC().Format(time.RFC3339),
	})
}

// parseTimeWindow reads the query window shared by the slots and conflicts
// endpoints. Full control comes from start/end (RFC 3339); booking pages may
// instead pass the date (YYYY-MM-DD) or month (YYYY-MM) shorthands, which
// expand to the whole UTC day or month.
func parseTimeWindow(c *fiber.Ctx) (time.Time, time.Time, error) {
	startStr := c.Query("start")
	endStr := c.Query("end")
	if startStr == "" && endStr == "" {
		if dateStr := c.Query("date"); dateStr != "" {
			day, err := time.Parse("2006-01-02", dateStr)
			if err != nil {
				return time.Time{}, time.Time{}, apperr.InvalidInput("date", "must be YYYY-MM-DD")
			}
			return day, day.AddDate(0, 0, 1), nil
		}
		if monthStr := c.Query("month"); monthStr != "" {
			month, err := time.Parse("2006-01", monthStr)
			if err != nil {
				return time.Time{}, time.Time{}, apperr.InvalidInput("month", "must be YYYY-MM")
			}
			return month, month.AddDate(0, 1, 0), nil
		}
	}
	if startStr == "" || endStr == "" {
		return time.Time{}, time.Time{}, apperr.BadRequest("start and end query parameters are required")
	}

	start, err := time.Parse(time.RFC3339, startStr)
	if err != nil {
		return time.Time{}, time.Time{}, apperr.InvalidInput("start", "must be RFC 3339")
	}
	end, err := time.Parse(time.RFC3339, endStr)
	if err != nil {
		return time.Time{}, time.Time{}, apperr.InvalidInput("end", "must be RFC 3339")
	}
	if !end.After(start) {
		return time.Time{}, time.Time{}, apperr.BadRequest("end must be after start")
	}
	return start, end, nil
}
