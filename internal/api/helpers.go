package api

import (
	"fmt"
	"io"
	"net/http"

	"github.com/goccy/go-json"
	"github.com/google/uuid"
	"github.com/labstack/echo/v5"
)

const headerRequestID = "X-Request-Id"

func writeBadRequest(c *echo.Context, msg, param string) error {
	return writeError(c, http.StatusBadRequest, "invalid_request_error", msg, param, "")
}

func writeNotFound(c *echo.Context, msg string) error {
	return writeError(c, http.StatusNotFound, "not_found_error", msg, "", "")
}

func writeError(c *echo.Context, status int, errType, msg, param, code string) error {
	return c.JSON(status, map[string]any{
		"error": ResponseError{
			Message: msg,
			Type:    errType,
			Code:    code,
			Param:   param,
		},
	})
}

func decodeJSON[T any](r io.Reader) (T, error) {
	var out T
	dec := json.NewDecoder(r)
	if err := dec.Decode(&out); err != nil {
		return out, fmt.Errorf("decode request: %w", err)
	}
	return out, nil
}

// newResultID mints the key a result set is stored under.
func newResultID() string {
	return "res_" + uuid.NewString()
}

// requestID returns the client supplied request id, or fallback when the
// client sent none. It is only echoed back, never used as a store key.
func requestID(c *echo.Context, fallback string) string {
	if id := c.Request().Header.Get(headerRequestID); id != "" {
		return id
	}
	return fallback
}
