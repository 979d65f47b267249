package handler

import (
	"github.com/gofiber/fiber/v2"

	"github.com/wardenlabs/warden/pkg/constant"
)

func RegisterRoutes(app *fiber.App, h *AuthHandler, gw *Gateway) {
	app.Use(gw.RateLimit())

	app.Post("/api/v1/register", h.Register)
	app.Post("/api/v1/login", h.Login)
	app.Post("/api/v1/refresh", h.Refresh)

	// Everything below requires an authenticated principal.
	authed := app.Group("/api/v1", gw.Authenticate(), gw.Authorize())
	authed.Delete("/session", h.Logout)
	authed.Get("/sessions", h.GetSessions)
	authed.Put("/password", h.UpdatePassword)
	authed.Post("/mfa/setup", h.MfaSetup)
	authed.Post("/mfa/verify", h.MfaVerifySetup)

	// Admin-only endpoints
	admin := app.Group("/api/v1/admin", gw.Authenticate(), gw.RequireRole(constant.RoleAdmin))
	admin.Delete("/user/:id/sessions", h.ForceLogout)
	admin.Get("/users", h.GetAllUsers)
	admin.Patch("/user/:id/role", h.UpdateUserRole)
	admin.Get("/user/:id/sessions", h.GetUserSessions)
}
