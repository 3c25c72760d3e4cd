package handler

import (
	"net/http"

	"github.com/labstack/echo/v4"
)

// ConfigureEcho installs the JSON error handler. Client addresses come from
// X-Forwarded-For only for hops appended by loopback or private-network
// proxies; otherwise the peer address is used.
func ConfigureEcho(e *echo.Echo) {
	e.HTTPErrorHandler = ErrorHandler
	e.IPExtractor = echo.ExtractIPFromXFFHeader()
}

// RegisterRoutes mounts the public, auth and API routes. The redirect routes
// are parameterised on the root and go last.
func RegisterRoutes(e *echo.Echo, links *LinkHandler, authHandler *AuthHandler, authMiddleware echo.MiddlewareFunc) {
	e.GET("/health", func(c echo.Context) error {
		return c.JSON(http.StatusOK, map[string]string{"status": "ok"})
	})

	e.POST("/register", authHandler.Register)
	e.POST("/login", authHandler.Login)
	e.GET("/logout", authHandler.Logout)

	api := e.Group("/api", authMiddleware)
	api.GET("/me", authHandler.Me)
	api.POST("/links", links.CreateLink)
	api.GET("/links", links.ListLinks)
	api.GET("/links/:id", links.GetLink)
	api.PUT("/links/:id", links.UpdateLink)
	api.DELETE("/links/:id", links.DeleteLink)
	api.POST("/links/:id/qr", links.GenerateQR)
	api.PUT("/links/:id/qr", links.RegenerateQR)
	api.DELETE("/links/:id/qr", links.DeleteQR)
	api.GET("/links/:id/qr", links.ServeQR)

	e.GET("/:code", links.Redirect)
	e.GET("/:code/", links.Redirect)
}
