package handler

import (
	"log/slog"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/gofiber/fiber/v2"
	"golang.org/x/time/rate"

	"github.com/wardenlabs/warden/config"
	"github.com/wardenlabs/warden/internal/auth/domain"
	"github.com/wardenlabs/warden/internal/auth/dto"
	"github.com/wardenlabs/warden/internal/auth/service"
	"github.com/wardenlabs/warden/pkg/constant"
)

const principalKey = "warden_principal"

// Gateway is the authentication façade the request pipeline runs through.
// It extracts a bearer token or session cookie (in that priority order),
// validates it, attaches a principal, and applies the authorization decision.
type Gateway struct {
	tokens   service.TokenGenerator
	sessions *service.SessionManager
	authz    *service.AuthorizationEngine
	policy   config.AnomalyPolicy
	logger   *slog.Logger

	mu       sync.Mutex
	limiters map[string]*rate.Limiter
}

func NewGateway(tokens service.TokenGenerator, sessions *service.SessionManager, authz *service.AuthorizationEngine, policy config.AnomalyPolicy, logger *slog.Logger) *Gateway {
	return &Gateway{
		tokens:   tokens,
		sessions: sessions,
		authz:    authz,
		policy:   policy,
		logger:   logger,
		limiters: make(map[string]*rate.Limiter),
	}
}

// RequestContext assembles the anomaly-detection signals from the request.
func RequestContext(c *fiber.Ctx) dto.RequestContext {
	rc := dto.RequestContext{
		IPAddress:      c.IP(),
		UserAgent:      string(c.Request().Header.UserAgent()),
		AcceptLanguage: c.Get(fiber.HeaderAcceptLanguage),
		AcceptEncoding: c.Get(fiber.HeaderAcceptEncoding),
		Platform:       c.Get("X-Client-Platform"),
		Timezone:       c.Get("X-Client-Timezone"),
		ScreenMetrics:  c.Get("X-Client-Screen"),
	}
	lat, errLat := strconv.ParseFloat(c.Get("X-Geo-Lat"), 64)
	lon, errLon := strconv.ParseFloat(c.Get("X-Geo-Lon"), 64)
	if errLat == nil && errLon == nil {
		rc.Latitude = lat
		rc.Longitude = lon
		rc.HasGeo = true
	}
	return rc
}

// RateLimit applies a per-IP token bucket ahead of authentication.
func (g *Gateway) RateLimit() fiber.Handler {
	return func(c *fiber.Ctx) error {
		g.mu.Lock()
		lim, ok := g.limiters[c.IP()]
		if !ok {
			lim = rate.NewLimiter(rate.Limit(g.policy.GatewayRatePerSec), g.policy.GatewayRateBurst)
			g.limiters[c.IP()] = lim
		}
		g.mu.Unlock()

		if !lim.Allow() {
			return c.Status(fiber.StatusTooManyRequests).JSON(fiber.Map{
				"error": fiber.Map{
					"code":      "RATE_LIMITED",
					"timestamp": time.Now().UTC().Format(time.RFC3339),
				},
			})
		}
		return c.Next()
	}
}

// Authenticate resolves the request credential into a principal stored in
// request locals. Specific failure causes are logged, never echoed, to avoid
// account enumeration.
func (g *Gateway) Authenticate() fiber.Handler {
	return func(c *fiber.Ctx) error {
		rc := RequestContext(c)

		if auth := c.Get(fiber.HeaderAuthorization); strings.HasPrefix(auth, "Bearer ") {
			token := strings.TrimPrefix(auth, "Bearer ")
			principal, err := g.tokens.VerifyAccessToken(c.UserContext(), token)
			if err != nil {
				g.logger.Info("bearer token rejected", "ip", rc.IPAddress, "error", err)
				return unauthorized(c)
			}
			c.Locals(principalKey, principal)
			return c.Next()
		}

		if sessionID := c.Cookies(constant.SessionCookieName); sessionID != "" {
			result, err := g.sessions.Validate(c.UserContext(), sessionID, rc)
			if err != nil {
				g.logger.Info("session rejected", "ip", rc.IPAddress, "error", err)
				clearSessionCookie(c)
				return unauthorized(c)
			}
			if result.Rotated {
				setSessionCookie(c, result.Session.ID, result.Session.ExpiresAt)
			}
			principal := &domain.Principal{
				ID:             result.Session.UserID,
				Role:           result.Session.Role,
				Permissions:    g.authz.PermissionsForRole(result.Session.Role),
				Authenticated:  true,
				SessionID:      result.Session.ID,
				RequiresReauth: result.RequiresReauth,
				AnomalyScore:   result.AnomalyScore,
				AnomalyReasons: result.AnomalyReasons,
			}
			c.Locals(principalKey, principal)
			return c.Next()
		}

		return unauthorized(c)
	}
}

// Authorize applies the role/permission decision for the resolved principal.
func (g *Gateway) Authorize() fiber.Handler {
	return func(c *fiber.Ctx) error {
		principal := PrincipalFrom(c)
		if principal == nil {
			return unauthorized(c)
		}
		if !g.authz.CheckAccess(principal, c.Path(), c.Method()) {
			return forbidden(c)
		}
		return c.Next()
	}
}

// RequireRole short-circuits routes reserved for a single role.
func (g *Gateway) RequireRole(role string) fiber.Handler {
	return func(c *fiber.Ctx) error {
		principal := PrincipalFrom(c)
		if principal == nil {
			return unauthorized(c)
		}
		if principal.Role != role && !principal.HasPermission(constant.PermissionAll) {
			return forbidden(c)
		}
		return c.Next()
	}
}

// PrincipalFrom returns the principal attached by Authenticate, or nil.
func PrincipalFrom(c *fiber.Ctx) *domain.Principal {
	principal, _ := c.Locals(principalKey).(*domain.Principal)
	return principal
}

func unauthorized(c *fiber.Ctx) error {
	return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{
		"error": fiber.Map{
			"code":      "UNAUTHORIZED",
			"timestamp": time.Now().UTC().Format(time.RFC3339),
		},
	})
}

func forbidden(c *fiber.Ctx) error {
	return c.Status(fiber.StatusForbidden).JSON(fiber.Map{
		"error": fiber.Map{
			"code":      "FORBIDDEN",
			"timestamp": time.Now().UTC().Format(time.RFC3339),
		},
	})
}

func setSessionCookie(c *fiber.Ctx, sessionID string, expires time.Time) {
	c.Cookie(&fiber.Cookie{
		Name:     constant.SessionCookieName,
		Value:    sessionID,
		Expires:  expires,
		HTTPOnly: true,
		SameSite: fiber.CookieSameSiteStrictMode,
		Path:     "/",
	})
}

func clearSessionCookie(c *fiber.Ctx) {
	c.Cookie(&fiber.Cookie{
		Name:     constant.SessionCookieName,
		Value:    "",
		Expires:  time.Unix(0, 0),
		HTTPOnly: true,
		SameSite: fiber.CookieSameSiteStrictMode,
		Path:     "/",
	})
}
