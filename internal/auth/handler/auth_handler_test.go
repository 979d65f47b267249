package handler

import (
	"testing"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/pquerna/otp/totp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRegister_CreatesUser(t *testing.T) {
	ta := newTestApp(t)

	resp, err := ta.app.Test(jsonRequest(fiber.MethodPost, "/api/v1/register", fiber.Map{
		"email":        "alice@example.com",
		"display_name": "Alice",
		"password":     strongPassword,
	}))
	require.NoError(t, err)
	assert.Equal(t, fiber.StatusCreated, resp.StatusCode)

	body := decodeBody(t, resp)
	assert.Equal(t, "alice@example.com", body["email"])
	assert.NotEmpty(t, body["id"])
}

func TestRegister_DuplicateEmailConflicts(t *testing.T) {
	ta := newTestApp(t)
	ta.register(t, "alice@example.com", strongPassword)

	resp, err := ta.app.Test(jsonRequest(fiber.MethodPost, "/api/v1/register", fiber.Map{
		"email":        "alice@example.com",
		"display_name": "Alice Again",
		"password":     strongPassword,
	}))
	require.NoError(t, err)
	assert.Equal(t, fiber.StatusConflict, resp.StatusCode)
}

func TestRegister_WeakPasswordListsViolations(t *testing.T) {
	ta := newTestApp(t)

	resp, err := ta.app.Test(jsonRequest(fiber.MethodPost, "/api/v1/register", fiber.Map{
		"email":        "alice@example.com",
		"display_name": "Alice",
		"password":     "weak",
	}))
	require.NoError(t, err)
	assert.Equal(t, fiber.StatusBadRequest, resp.StatusCode)

	body := decodeBody(t, resp)
	violations, ok := body["violations"].([]any)
	require.True(t, ok, "response must list each violated rule")
	assert.GreaterOrEqual(t, len(violations), 3)
}

func TestLogin_ReturnsTokenPairAndCookie(t *testing.T) {
	ta := newTestApp(t)
	ta.register(t, "alice@example.com", strongPassword)

	body, cookies := ta.login(t, "alice@example.com", strongPassword)

	assert.NotEmpty(t, body["access_token"])
	assert.NotEmpty(t, body["refresh_token"])
	assert.Equal(t, "Bearer", body["token_type"])
	assert.NotEmpty(t, body["session_id"])

	var found bool
	for _, c := range cookies {
		if c.Name == "warden_session" {
			found = true
			assert.True(t, c.HttpOnly)
			assert.Equal(t, body["session_id"], c.Value)
		}
	}
	assert.True(t, found, "login must set the session cookie")
}

func TestLogin_WrongPasswordIsGeneric(t *testing.T) {
	ta := newTestApp(t)
	ta.register(t, "alice@example.com", strongPassword)

	resp, err := ta.app.Test(jsonRequest(fiber.MethodPost, "/api/v1/login", fiber.Map{
		"email":    "alice@example.com",
		"password": "not-the-password",
	}))
	require.NoError(t, err)
	assert.Equal(t, fiber.StatusUnauthorized, resp.StatusCode)
	assert.Equal(t, "invalid credentials", decodeBody(t, resp)["error"])
}

func TestLogin_UnknownAccountMatchesWrongPassword(t *testing.T) {
	ta := newTestApp(t)
	ta.register(t, "alice@example.com", strongPassword)

	known, err := ta.app.Test(jsonRequest(fiber.MethodPost, "/api/v1/login", fiber.Map{
		"email":    "alice@example.com",
		"password": "not-the-password",
	}))
	require.NoError(t, err)
	unknown, err := ta.app.Test(jsonRequest(fiber.MethodPost, "/api/v1/login", fiber.Map{
		"email":    "nobody@example.com",
		"password": "not-the-password",
	}))
	require.NoError(t, err)

	assert.Equal(t, known.StatusCode, unknown.StatusCode)
	assert.Equal(t, decodeBody(t, known)["error"], decodeBody(t, unknown)["error"],
		"responses must not reveal whether the account exists")
}

func TestLogin_LockoutReturnsRetryAfter(t *testing.T) {
	ta := newTestApp(t)
	ta.register(t, "alice@example.com", strongPassword)

	for i := 0; i < 5; i++ {
		resp, err := ta.app.Test(jsonRequest(fiber.MethodPost, "/api/v1/login", fiber.Map{
			"email":    "alice@example.com",
			"password": "not-the-password",
		}))
		require.NoError(t, err)
		require.Equal(t, fiber.StatusUnauthorized, resp.StatusCode)
	}

	// Locked now: even the correct password is refused.
	resp, err := ta.app.Test(jsonRequest(fiber.MethodPost, "/api/v1/login", fiber.Map{
		"email":    "alice@example.com",
		"password": strongPassword,
	}))
	require.NoError(t, err)
	assert.Equal(t, fiber.StatusTooManyRequests, resp.StatusCode)

	body := decodeBody(t, resp)
	retryAfter, err := time.Parse(time.RFC3339, body["retry_after"].(string))
	require.NoError(t, err)
	assert.True(t, retryAfter.After(time.Now()))
}

func TestRefresh_RotatesTokens(t *testing.T) {
	ta := newTestApp(t)
	ta.register(t, "alice@example.com", strongPassword)
	body, _ := ta.login(t, "alice@example.com", strongPassword)
	oldRefresh := body["refresh_token"].(string)

	resp, err := ta.app.Test(jsonRequest(fiber.MethodPost, "/api/v1/refresh", fiber.Map{
		"refresh_token": oldRefresh,
	}))
	require.NoError(t, err)
	require.Equal(t, fiber.StatusOK, resp.StatusCode)

	refreshed := decodeBody(t, resp)
	assert.NotEmpty(t, refreshed["access_token"])
	assert.NotEqual(t, oldRefresh, refreshed["refresh_token"])

	// The consumed token is dead.
	resp, err = ta.app.Test(jsonRequest(fiber.MethodPost, "/api/v1/refresh", fiber.Map{
		"refresh_token": oldRefresh,
	}))
	require.NoError(t, err)
	assert.Equal(t, fiber.StatusUnauthorized, resp.StatusCode)
}

func TestRefresh_RejectsDifferentDevice(t *testing.T) {
	ta := newTestApp(t)
	ta.register(t, "alice@example.com", strongPassword)
	body, _ := ta.login(t, "alice@example.com", strongPassword)

	req := jsonRequest(fiber.MethodPost, "/api/v1/refresh", fiber.Map{
		"refresh_token": body["refresh_token"].(string),
	})
	req.Header.Set("User-Agent", "curl/8.5.0")
	resp, err := ta.app.Test(req)
	require.NoError(t, err)
	assert.Equal(t, fiber.StatusUnauthorized, resp.StatusCode)
}

func TestLogout_ClearsCookieAndSession(t *testing.T) {
	ta := newTestApp(t)
	ta.register(t, "alice@example.com", strongPassword)
	_, cookies := ta.login(t, "alice@example.com", strongPassword)

	req := jsonRequest(fiber.MethodDelete, "/api/v1/session", nil)
	for _, c := range cookies {
		req.AddCookie(c)
	}
	resp, err := ta.app.Test(req)
	require.NoError(t, err)
	assert.Equal(t, fiber.StatusNoContent, resp.StatusCode)

	// The session no longer authenticates.
	req = jsonRequest(fiber.MethodGet, "/api/v1/sessions", nil)
	for _, c := range cookies {
		req.AddCookie(c)
	}
	resp, err = ta.app.Test(req)
	require.NoError(t, err)
	assert.Equal(t, fiber.StatusUnauthorized, resp.StatusCode)
}

func TestUpdatePassword_Flow(t *testing.T) {
	ta := newTestApp(t)
	ta.register(t, "alice@example.com", strongPassword)
	body, _ := ta.login(t, "alice@example.com", strongPassword)
	token := body["access_token"].(string)

	req := jsonRequest(fiber.MethodPut, "/api/v1/password", fiber.Map{
		"current_password": strongPassword,
		"new_password":     "Brand-New-Passw0rd!",
	})
	req.Header.Set("Authorization", "Bearer "+token)
	resp, err := ta.app.Test(req)
	require.NoError(t, err)
	assert.Equal(t, fiber.StatusOK, resp.StatusCode)

	// Old credentials no longer log in; the new ones do.
	resp, err = ta.app.Test(jsonRequest(fiber.MethodPost, "/api/v1/login", fiber.Map{
		"email":    "alice@example.com",
		"password": strongPassword,
	}))
	require.NoError(t, err)
	assert.Equal(t, fiber.StatusUnauthorized, resp.StatusCode)

	ta.login(t, "alice@example.com", "Brand-New-Passw0rd!")
}

func TestUpdatePassword_RejectsReuse(t *testing.T) {
	ta := newTestApp(t)
	ta.register(t, "alice@example.com", strongPassword)
	body, _ := ta.login(t, "alice@example.com", strongPassword)

	req := jsonRequest(fiber.MethodPut, "/api/v1/password", fiber.Map{
		"current_password": strongPassword,
		"new_password":     strongPassword,
	})
	req.Header.Set("Authorization", "Bearer "+body["access_token"].(string))
	resp, err := ta.app.Test(req)
	require.NoError(t, err)
	assert.Equal(t, fiber.StatusBadRequest, resp.StatusCode)
}

func TestMfa_EndToEnd(t *testing.T) {
	ta := newTestApp(t)
	ta.register(t, "alice@example.com", strongPassword)
	body, _ := ta.login(t, "alice@example.com", strongPassword)
	token := body["access_token"].(string)

	// Enroll.
	req := jsonRequest(fiber.MethodPost, "/api/v1/mfa/setup", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	resp, err := ta.app.Test(req)
	require.NoError(t, err)
	require.Equal(t, fiber.StatusOK, resp.StatusCode)

	setup := decodeBody(t, resp)
	secret := setup["secret"].(string)
	require.NotEmpty(t, secret)
	require.NotEmpty(t, setup["provisioning_uri"])
	require.Len(t, setup["backup_codes"].([]any), 5)

	// Confirm the authenticator.
	code, err := totp.GenerateCode(secret, time.Now())
	require.NoError(t, err)
	req = jsonRequest(fiber.MethodPost, "/api/v1/mfa/verify", fiber.Map{"code": code})
	req.Header.Set("Authorization", "Bearer "+token)
	resp, err = ta.app.Test(req)
	require.NoError(t, err)
	require.Equal(t, fiber.StatusOK, resp.StatusCode)

	// Password alone is no longer enough.
	resp, err = ta.app.Test(jsonRequest(fiber.MethodPost, "/api/v1/login", fiber.Map{
		"email":    "alice@example.com",
		"password": strongPassword,
	}))
	require.NoError(t, err)
	assert.Equal(t, fiber.StatusUnauthorized, resp.StatusCode)
	assert.Equal(t, "MFA_REQUIRED", decodeBody(t, resp)["code"])

	// Password plus a current code is.
	code, err = totp.GenerateCode(secret, time.Now())
	require.NoError(t, err)
	resp, err = ta.app.Test(jsonRequest(fiber.MethodPost, "/api/v1/login", fiber.Map{
		"email":    "alice@example.com",
		"password": strongPassword,
		"mfa_code": code,
	}))
	require.NoError(t, err)
	assert.Equal(t, fiber.StatusOK, resp.StatusCode)
}

func TestAdmin_ForceLogoutTerminatesSessions(t *testing.T) {
	ta := newTestApp(t)
	ta.register(t, "alice@example.com", strongPassword)
	ta.register(t, "root@example.com", strongPassword)
	promoteToAdmin(t, ta, "root@example.com")

	_, userCookies := ta.login(t, "alice@example.com", strongPassword)
	adminBody, _ := ta.login(t, "root@example.com", strongPassword)

	// Find the target user's ID through the admin listing.
	req := jsonRequest(fiber.MethodGet, "/api/v1/admin/users", nil)
	req.Header.Set("Authorization", "Bearer "+adminBody["access_token"].(string))
	resp, err := ta.app.Test(req)
	require.NoError(t, err)
	require.Equal(t, fiber.StatusOK, resp.StatusCode)

	var targetID string
	users := decodeList(t, resp)
	for _, u := range users {
		if u["email"] == "alice@example.com" {
			targetID = u["id"].(string)
		}
	}
	require.NotEmpty(t, targetID)

	req = jsonRequest(fiber.MethodDelete, "/api/v1/admin/user/"+targetID+"/sessions", nil)
	req.Header.Set("Authorization", "Bearer "+adminBody["access_token"].(string))
	resp, err = ta.app.Test(req)
	require.NoError(t, err)
	require.Equal(t, fiber.StatusOK, resp.StatusCode)

	// The user's cookie session is gone.
	req = jsonRequest(fiber.MethodGet, "/api/v1/sessions", nil)
	for _, c := range userCookies {
		req.AddCookie(c)
	}
	resp, err = ta.app.Test(req)
	require.NoError(t, err)
	assert.Equal(t, fiber.StatusUnauthorized, resp.StatusCode)
}
