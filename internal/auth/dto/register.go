package dto

type RegisterInput struct {
	Email       string `json:"email"`
	DisplayName string `json:"display_name"`
	BirthYear   int    `json:"birth_year,omitempty"`
	Password    string `json:"password"`
}
