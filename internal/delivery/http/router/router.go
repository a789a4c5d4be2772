// Package router contains routing and server setup for the HTTP delivery.
package router

import (
	"signage/internal/delivery/http/router/handler"
	"signage/internal/delivery/middleware"

	"github.com/labstack/echo/v4"
	"go.uber.org/fx"
)

type RouterParams struct {
	fx.In

	PlayerHandler       *handler.PlayerHandler
	RequestIDMiddleware *middleware.RequestIDMiddleware
}

// router holds all the handlers that need to be registered.
type router struct {
	playerHandler       *handler.PlayerHandler
	requestIDMiddleware *middleware.RequestIDMiddleware
}

// NewRouter is the constructor for the Router.
// Fx will inject the required handlers here.
func NewRouter(params RouterParams) *router {
	return &router{
		playerHandler:       params.PlayerHandler,
		requestIDMiddleware: params.RequestIDMiddleware,
	}
}

// RegisterRoutes sets up all the API routes for the application.
func (r *router) RegisterRoutes(e *echo.Echo) {
	e.Use(r.requestIDMiddleware.Process)

	// Health check endpoint
	e.GET("/health", handler.HealthCheck)

	api := e.Group("/api")
	{
		api.GET("/status", r.playerHandler.Status)
		api.GET("/registration/qr", r.playerHandler.RegistrationQR)
		api.POST("/register", r.playerHandler.Register)
		api.DELETE("/deregister", r.playerHandler.Deregister)
		api.GET("/command", r.playerHandler.Command)
		api.POST("/playback-error", r.playerHandler.ReportPlaybackError)
		api.DELETE("/playback-error", r.playerHandler.ClearPlaybackError)
	}
}
