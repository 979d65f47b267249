package dto

type RefreshInput struct {
	RefreshToken string `json:"refresh_token"`

	Context RequestContext `json:"-"`
}
