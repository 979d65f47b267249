package handler

import (
	"log/slog"
	"strings"
	"time"

	"github.com/gofiber/fiber/v2"

	"github.com/wardenlabs/warden/internal/auth/dto"
	"github.com/wardenlabs/warden/internal/auth/service"
	autherror "github.com/wardenlabs/warden/internal/errors"
)

type AuthHandler struct {
	userService *service.UserService
	mfaProvider *service.MfaProvider
	sessions    *service.SessionManager
	tokens      service.TokenGenerator
	logger      *slog.Logger
}

func NewAuthHandler(userService *service.UserService, mfaProvider *service.MfaProvider, sessions *service.SessionManager, tokens service.TokenGenerator, logger *slog.Logger) *AuthHandler {
	return &AuthHandler{
		userService: userService,
		mfaProvider: mfaProvider,
		sessions:    sessions,
		tokens:      tokens,
		logger:      logger,
	}
}

func (h *AuthHandler) Register(c *fiber.Ctx) error {
	var input dto.RegisterInput
	if err := c.BodyParser(&input); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "invalid input",
		})
	}

	user, err := h.userService.Register(c.UserContext(), input)
	if err != nil {
		if ve, ok := err.(*autherror.ValidationError); ok {
			return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
				"error":      "validation failed",
				"violations": ve.Violations,
			})
		}
		if err == autherror.ErrEmailAlreadyInUse {
			return c.Status(fiber.StatusConflict).JSON(fiber.Map{
				"error": err.Error(),
			})
		}
		h.logger.Error("registration failed", "error", err)
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "registration failed",
		})
	}

	return c.Status(fiber.StatusCreated).JSON(fiber.Map{
		"id":    user.ID,
		"email": user.Email,
	})
}

func (h *AuthHandler) Login(c *fiber.Ctx) error {
	var input dto.LoginInput
	if err := c.BodyParser(&input); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "invalid input"})
	}
	input.Context = RequestContext(c)

	result, err := h.userService.Login(c.UserContext(), input)
	if err != nil {
		return h.loginError(c, err)
	}

	setSessionCookie(c, result.Session.ID, result.Session.ExpiresAt)

	resp := fiber.Map{
		"access_token":  result.Tokens.AccessToken,
		"refresh_token": result.Tokens.RefreshToken,
		"token_type":    result.Tokens.TokenType,
		"expires_in":    result.Tokens.ExpiresIn,
		"session_id":    result.Tokens.SessionID,
	}
	// Present once: a backup-code batch regenerated during this login.
	if len(result.NewBackupCodes) > 0 {
		resp["backup_codes"] = result.NewBackupCodes
	}
	return c.Status(fiber.StatusOK).JSON(resp)
}

// loginError maps service failures to responses without leaking which check
// failed. Lockout gets its own status so clients can back off.
func (h *AuthHandler) loginError(c *fiber.Ctx, err error) error {
	if le, ok := lockoutError(err); ok {
		return c.Status(fiber.StatusTooManyRequests).JSON(fiber.Map{
			"error":       "too many failed attempts",
			"retry_after": le.RetryAfter.UTC().Format(time.RFC3339),
		})
	}
	if me, ok := err.(*autherror.MfaError); ok && strings.Contains(me.Reason, "required") {
		return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{
			"error": "mfa code required",
			"code":  "MFA_REQUIRED",
		})
	}
	h.logger.Info("login rejected", "error", err)
	return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{
		"error": "invalid credentials",
	})
}

func (h *AuthHandler) Refresh(c *fiber.Ctx) error {
	var input dto.RefreshInput
	if err := c.BodyParser(&input); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "invalid input"})
	}
	input.Context = RequestContext(c)
	fingerprint := h.sessions.Fingerprint(input.Context)

	tokens, err := h.userService.Refresh(c.UserContext(), input, fingerprint)
	if err != nil {
		h.logger.Info("refresh rejected", "error", err)
		return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{"error": "invalid refresh token"})
	}

	return c.Status(fiber.StatusOK).JSON(tokens)
}

// Logout invalidates the current session and revokes the presented bearer
// token. Idempotent by design.
func (h *AuthHandler) Logout(c *fiber.Ctx) error {
	principal := PrincipalFrom(c)
	if principal != nil && principal.SessionID != "" {
		if err := h.sessions.Invalidate(c.UserContext(), principal.SessionID); err != nil {
			h.logger.Error("session invalidation failed", "error", err)
		}
	}
	if auth := c.Get(fiber.HeaderAuthorization); strings.HasPrefix(auth, "Bearer ") {
		if err := h.tokens.Revoke(strings.TrimPrefix(auth, "Bearer ")); err != nil {
			h.logger.Info("token revocation skipped", "error", err)
		}
	}
	clearSessionCookie(c)
	return c.SendStatus(fiber.StatusNoContent)
}

func (h *AuthHandler) MfaSetup(c *fiber.Ctx) error {
	principal := PrincipalFrom(c)
	if principal == nil {
		return unauthorized(c)
	}

	email := c.Get("X-Account-Email") // display hint for the provisioning URI
	if email == "" {
		email = principal.ID
	}
	resp, err := h.mfaProvider.Setup(c.UserContext(), principal.ID, email)
	if err != nil {
		if err == autherror.ErrMfaAlreadyEnabled {
			return c.Status(fiber.StatusConflict).JSON(fiber.Map{"error": err.Error()})
		}
		h.logger.Error("mfa setup failed", "user_id", principal.ID, "error", err)
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "mfa setup failed"})
	}
	return c.Status(fiber.StatusOK).JSON(resp)
}

func (h *AuthHandler) MfaVerifySetup(c *fiber.Ctx) error {
	principal := PrincipalFrom(c)
	if principal == nil {
		return unauthorized(c)
	}

	var input dto.MfaVerifyInput
	if err := c.BodyParser(&input); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "invalid input"})
	}
	if err := h.mfaProvider.VerifySetup(c.UserContext(), principal.ID, input.Code); err != nil {
		return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{"error": "invalid code"})
	}
	return c.Status(fiber.StatusOK).JSON(fiber.Map{"enabled": true})
}

func (h *AuthHandler) UpdatePassword(c *fiber.Ctx) error {
	principal := PrincipalFrom(c)
	if principal == nil {
		return unauthorized(c)
	}
	// Fingerprint drift demands fresh credentials for sensitive operations.
	if principal.RequiresReauth {
		return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{
			"error": "re-authentication required",
			"code":  "REAUTH_REQUIRED",
		})
	}

	var input dto.UpdatePasswordInput
	if err := c.BodyParser(&input); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "invalid input"})
	}
	err := h.userService.UpdatePassword(c.UserContext(), principal.ID, input.CurrentPassword, input.NewPassword)
	if err != nil {
		if ve, ok := err.(*autherror.ValidationError); ok {
			return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
				"error":      "validation failed",
				"violations": ve.Violations,
			})
		}
		return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{"error": "invalid credentials"})
	}
	return c.Status(fiber.StatusOK).JSON(fiber.Map{"updated": true})
}

func (h *AuthHandler) GetSessions(c *fiber.Ctx) error {
	principal := PrincipalFrom(c)
	if principal == nil {
		return unauthorized(c)
	}
	return h.listSessions(c, principal.ID)
}

// --- admin surface ---

func (h *AuthHandler) GetAllUsers(c *fiber.Ctx) error {
	users, err := h.userService.GetAllUsers(c.UserContext())
	if err != nil {
		h.logger.Error("list users failed", "error", err)
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "failed to list users"})
	}

	out := make([]dto.UserOutput, 0, len(users))
	for _, u := range users {
		out = append(out, dto.UserOutput{
			ID:          u.ID,
			Email:       u.Email,
			DisplayName: u.DisplayName,
			Role:        u.Role,
			Active:      u.Active,
			CreatedAt:   u.CreatedAt,
			UpdatedAt:   u.UpdatedAt,
		})
	}
	return c.Status(fiber.StatusOK).JSON(out)
}

func (h *AuthHandler) UpdateUserRole(c *fiber.Ctx) error {
	var input dto.UpdateRoleInput
	if err := c.BodyParser(&input); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "invalid input"})
	}
	if err := h.userService.UpdateUserRole(c.UserContext(), c.Params("id"), input.Role); err != nil {
		if autherror.IsValidation(err) {
			return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": err.Error()})
		}
		return c.Status(fiber.StatusNotFound).JSON(fiber.Map{"error": "user not found"})
	}
	return c.Status(fiber.StatusOK).JSON(fiber.Map{"updated": true})
}

func (h *AuthHandler) GetUserSessions(c *fiber.Ctx) error {
	return h.listSessions(c, c.Params("id"))
}

// ForceLogout terminates every active session the target user holds.
func (h *AuthHandler) ForceLogout(c *fiber.Ctx) error {
	count, err := h.sessions.InvalidateAllForUser(c.UserContext(), c.Params("id"))
	if err != nil {
		h.logger.Error("force logout failed", "user_id", c.Params("id"), "error", err)
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "force logout failed"})
	}
	return c.Status(fiber.StatusOK).JSON(fiber.Map{"invalidated": count})
}

func (h *AuthHandler) listSessions(c *fiber.Ctx, userID string) error {
	sessions, err := h.sessions.ListForUser(c.UserContext(), userID)
	if err != nil {
		h.logger.Error("list sessions failed", "user_id", userID, "error", err)
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "failed to list sessions"})
	}

	out := make([]dto.SessionOutput, 0, len(sessions))
	for _, s := range sessions {
		out = append(out, dto.SessionOutput{
			ID:                s.ID,
			DeviceFingerprint: s.DeviceFingerprint,
			IPAddress:         s.IPAddress,
			UserAgent:         s.UserAgent,
			CreatedAt:         s.CreatedAt,
			LastActivity:      s.LastActivity,
			ExpiresAt:         s.ExpiresAt,
			RotationCount:     s.RotationCount,
			AnomalyScore:      s.AnomalyScore,
		})
	}
	return c.Status(fiber.StatusOK).JSON(out)
}

func lockoutError(err error) (*autherror.LockoutError, bool) {
	le, ok := err.(*autherror.LockoutError)
	return le, ok
}
