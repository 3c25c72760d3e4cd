package handler

import (
	"context"
	"net/http"
	"strconv"
	"time"

	"github.com/abdusco/shortly/internal"
	"github.com/abdusco/shortly/internal/auth"
	"github.com/abdusco/shortly/internal/qr"
	"github.com/abdusco/shortly/internal/shortener"
	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog/log"
	"github.com/samber/lo"
)

// ClickRecorder stores the analytics event for a followed link.
type ClickRecorder interface {
	Create(ctx context.Context, linkID int64, userAgent, ipAddress string) error
}

type LinkHandler struct {
	links    *shortener.Service
	resolver *shortener.Resolver
	clicks   ClickRecorder
	baseURL  string
}

func NewLinkHandler(links *shortener.Service, resolver *shortener.Resolver, clicks ClickRecorder, baseURL string) *LinkHandler {
	return &LinkHandler{
		links:    links,
		resolver: resolver,
		clicks:   clicks,
		baseURL:  baseURL,
	}
}

type QRResponse struct {
	URL         string    `json:"url"`
	GeneratedAt time.Time `json:"generated_at"`
}

type LinkResponse struct {
	ID            int64       `json:"id"`
	ShortCode     string      `json:"short_code"`
	ShortURL      string      `json:"short_url"`
	TargetURL     string      `json:"target_url"`
	ClickCount    int64       `json:"click_count"`
	CreatedAt     time.Time   `json:"created_at"`
	ExpiresAt     *time.Time  `json:"expires_at"`
	IsActive      bool        `json:"is_active"`
	Expired       bool        `json:"expired"`
	LastClickedAt *time.Time  `json:"last_clicked_at"`
	QR            *QRResponse `json:"qr"`
}

type CreateLinkResponse struct {
	Link LinkResponse `json:"link"`
}

type ListLinksResponse struct {
	Links []LinkResponse `json:"links"`
}

func (h *LinkHandler) toResponse(link *internal.Link) LinkResponse {
	resp := LinkResponse{
		ID:            link.ID,
		ShortCode:     link.ShortCode,
		ShortURL:      qr.FullShortURL(h.baseURL, link.ShortCode),
		TargetURL:     link.TargetURL,
		ClickCount:    link.ClickCount,
		CreatedAt:     link.CreatedAt,
		ExpiresAt:     link.ExpiresAt,
		IsActive:      link.IsActive,
		Expired:       link.ExpiresAt != nil && !link.ExpiresAt.After(time.Now()),
		LastClickedAt: link.LastClickedAt,
	}
	if link.QR != nil {
		resp.QR = &QRResponse{
			URL:         "/api/links/" + strconv.FormatInt(link.ID, 10) + "/qr",
			GeneratedAt: link.QR.GeneratedAt,
		}
	}
	return resp
}

func (h *LinkHandler) CreateLink(c echo.Context) error {
	user, err := currentUser(c)
	if err != nil {
		return err
	}

	var req shortener.CreateInput
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request")
	}

	link, err := h.links.Create(c.Request().Context(), user.ID, req)
	if err != nil {
		return err
	}

	return c.JSON(http.StatusCreated, CreateLinkResponse{Link: h.toResponse(link)})
}

func (h *LinkHandler) ListLinks(c echo.Context) error {
	user, err := currentUser(c)
	if err != nil {
		return err
	}

	links, err := h.links.List(c.Request().Context(), user.ID)
	if err != nil {
		log.Error().Err(err).Int64("user_id", user.ID).Msg("failed to list links")
		return err
	}

	resp := lo.Map(links, func(link *internal.Link, _ int) LinkResponse {
		return h.toResponse(link)
	})
	return c.JSON(http.StatusOK, ListLinksResponse{Links: resp})
}

func (h *LinkHandler) GetLink(c echo.Context) error {
	user, id, err := userAndID(c)
	if err != nil {
		return err
	}

	link, err := h.links.Get(c.Request().Context(), user.ID, id)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, CreateLinkResponse{Link: h.toResponse(link)})
}

func (h *LinkHandler) UpdateLink(c echo.Context) error {
	user, id, err := userAndID(c)
	if err != nil {
		return err
	}

	var req shortener.UpdateInput
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request")
	}

	link, err := h.links.Update(c.Request().Context(), user.ID, id, req)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, CreateLinkResponse{Link: h.toResponse(link)})
}

func (h *LinkHandler) DeleteLink(c echo.Context) error {
	user, id, err := userAndID(c)
	if err != nil {
		return err
	}

	if err := h.links.Delete(c.Request().Context(), user.ID, id); err != nil {
		return err
	}
	return c.NoContent(http.StatusNoContent)
}

func (h *LinkHandler) Redirect(c echo.Context) error {
	ctx := c.Request().Context()
	code := c.Param("code")

	log.Debug().Str("code", code).Msg("redirect request")

	link, err := h.resolver.Resolve(ctx, code)
	if err != nil {
		return err
	}

	userAgent := c.Request().UserAgent()
	ipAddress := c.RealIP()

	log.Info().Str("code", code).Str("ip", ipAddress).Msg("redirecting link")

	if err := h.clicks.Create(ctx, link.ID, userAgent, ipAddress); err != nil {
		log.Error().Err(err).Str("code", code).Msg("failed to record click")
	}

	return c.Redirect(http.StatusFound, link.TargetURL)
}

func currentUser(c echo.Context) (*auth.Identity, error) {
	user, ok := auth.CurrentUser(c)
	if !ok {
		return nil, echo.ErrUnauthorized
	}
	return user, nil
}

func userAndID(c echo.Context) (*auth.Identity, int64, error) {
	user, err := currentUser(c)
	if err != nil {
		return nil, 0, err
	}
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil || id <= 0 {
		return nil, 0, echo.NewHTTPError(http.StatusBadRequest, "invalid link id")
	}
	return user, id, nil
}
