package dto

type LoginInput struct {
	Email    string `json:"email"`
	Password string `json:"password"`
	MfaCode  string `json:"mfa_code,omitempty"`

	// Request metadata, captured by the handler.
	Context RequestContext `json:"-"`
}

type TokenResponse struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token"`
	TokenType    string `json:"token_type"`
	ExpiresIn    int    `json:"expires_in"`
	SessionID    string `json:"session_id"`
}
