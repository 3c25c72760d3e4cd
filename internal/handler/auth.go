package handler

import (
	"errors"
	"net/http"

	"github.com/abdusco/shortly/internal/auth"
	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog/log"
)

type AuthHandler struct {
	auther *auth.Authenticator
}

func NewAuthHandler(auther *auth.Authenticator) *AuthHandler {
	return &AuthHandler{auther: auther}
}

type UserResponse struct {
	ID       int64  `json:"id"`
	Username string `json:"username"`
}

// Register handles POST /register - creates an account and logs it in
func (h *AuthHandler) Register(c echo.Context) error {
	var req auth.Credentials
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request")
	}

	user, cookie, err := h.auther.Register(c.Request().Context(), req)
	if err != nil {
		return err
	}
	cookie.Secure = c.IsTLS()
	c.SetCookie(cookie)

	log.Info().Int64("user_id", user.ID).Str("username", user.Username).Msg("user registered")
	return c.JSON(http.StatusCreated, UserResponse{ID: user.ID, Username: user.Username})
}

// Login handles POST /login - validates credentials and sets JWT cookie
func (h *AuthHandler) Login(c echo.Context) error {
	var req auth.Credentials
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request")
	}

	user, cookie, err := h.auther.Authenticate(c.Request().Context(), req)
	if errors.Is(err, auth.ErrUnauthorized) {
		return echo.NewHTTPError(http.StatusUnauthorized, "invalid credentials")
	}
	if err != nil {
		return err
	}
	cookie.Secure = c.IsTLS()
	c.SetCookie(cookie)

	return c.JSON(http.StatusOK, UserResponse{ID: user.ID, Username: user.Username})
}

// Logout handles GET /logout - clears the JWT cookie
func (h *AuthHandler) Logout(c echo.Context) error {
	c.SetCookie(auth.ExpireCookie())
	return c.JSON(http.StatusOK, map[string]string{"status": "ok"})
}

// Me returns the authenticated user.
func (h *AuthHandler) Me(c echo.Context) error {
	user, err := currentUser(c)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, UserResponse{ID: user.ID, Username: user.Username})
}
