package handler

import (
	"errors"
	"net/http"

	"github.com/abdusco/shortly/internal"
	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

type errorResponse struct {
	Error  string            `json:"error"`
	Fields map[string]string `json:"fields,omitempty"`
}

// ErrorHandler renders domain and echo errors as JSON.
func ErrorHandler(err error, c echo.Context) {
	code, body := mapError(err)

	level := zerolog.DebugLevel
	if code >= http.StatusInternalServerError {
		level = zerolog.ErrorLevel
	}
	log.WithLevel(level).
		Int("code", code).
		Str("method", c.Request().Method).
		Str("path", c.Request().URL.Path).
		Err(err).
		Msg("http error")

	if c.Response().Committed {
		return
	}

	if c.Request().Method == http.MethodHead {
		err = c.NoContent(code)
	} else {
		err = c.JSON(code, body)
	}
	if err != nil {
		log.Error().Err(err).Msg("failed to write error response")
	}
}

func mapError(err error) (int, errorResponse) {
	var verr *internal.ValidationError
	var httpErr *echo.HTTPError

	switch {
	case errors.As(err, &verr):
		return http.StatusBadRequest, errorResponse{Error: "validation failed", Fields: verr.Fields}
	case errors.Is(err, internal.ErrCodeTaken):
		return http.StatusConflict, errorResponse{
			Error:  "short code is already taken",
			Fields: map[string]string{"custom_code": "is already taken"},
		}
	case errors.Is(err, internal.ErrUserExists):
		return http.StatusConflict, errorResponse{
			Error:  "username is already taken",
			Fields: map[string]string{"username": "is already taken"},
		}
	case errors.Is(err, internal.ErrForbidden):
		return http.StatusForbidden, errorResponse{Error: "forbidden"}
	case errors.Is(err, internal.ErrNotFound), errors.Is(err, internal.ErrLinkNotFound):
		return http.StatusNotFound, errorResponse{Error: internal.ErrNotFound.Error()}
	case errors.As(err, &httpErr):
		msg, ok := httpErr.Message.(string)
		if !ok {
			msg = http.StatusText(httpErr.Code)
		}
		return httpErr.Code, errorResponse{Error: msg}
	default:
		return http.StatusInternalServerError, errorResponse{Error: "internal server error"}
	}
}
