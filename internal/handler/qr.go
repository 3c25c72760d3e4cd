package handler

import (
	"net/http"

	"github.com/labstack/echo/v4"
)

func (h *LinkHandler) GenerateQR(c echo.Context) error {
	user, id, err := userAndID(c)
	if err != nil {
		return err
	}

	link, err := h.links.GenerateQR(c.Request().Context(), user.ID, id)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusCreated, CreateLinkResponse{Link: h.toResponse(link)})
}

func (h *LinkHandler) RegenerateQR(c echo.Context) error {
	user, id, err := userAndID(c)
	if err != nil {
		return err
	}

	link, err := h.links.RegenerateQR(c.Request().Context(), user.ID, id)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, CreateLinkResponse{Link: h.toResponse(link)})
}

func (h *LinkHandler) DeleteQR(c echo.Context) error {
	user, id, err := userAndID(c)
	if err != nil {
		return err
	}

	link, err := h.links.DeleteQR(c.Request().Context(), user.ID, id)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, CreateLinkResponse{Link: h.toResponse(link)})
}

// ServeQR streams the PNG image. A link whose file was removed from disk
// reads as having no QR code.
func (h *LinkHandler) ServeQR(c echo.Context) error {
	user, id, err := userAndID(c)
	if err != nil {
		return err
	}

	path, err := h.links.QRFile(c.Request().Context(), user.ID, id)
	if err != nil {
		return err
	}
	c.Response().Header().Set(echo.HeaderContentType, "image/png")
	return c.File(path)
}
